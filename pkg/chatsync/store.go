package chatsync

import "sync"

// Store is the append-only, id-deduplicated message log for one order.
// Iteration order is insertion order; merged messages are appended, never
// reordered. The cursor (LastSeenID) only ever advances while an order is
// open and resets to 0 on Replace.
type Store struct {
	mu       sync.RWMutex
	messages []Message
	seen     map[int64]struct{}
	lastSeen int64
}

func NewStore() *Store {
	return &Store{seen: make(map[int64]struct{})}
}

// Replace throws away the current log and seeds it from a full history
// fetch. The cursor becomes the max id in msgs, or 0 when empty.
func (s *Store) Replace(msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = s.messages[:0]
	s.seen = make(map[int64]struct{}, len(msgs))
	s.lastSeen = 0
	for _, m := range msgs {
		if _, dup := s.seen[m.ID]; dup {
			continue
		}
		s.messages = append(s.messages, m)
		s.seen[m.ID] = struct{}{}
		if m.ID > s.lastSeen {
			s.lastSeen = m.ID
		}
	}
}

// Merge appends incrementally fetched messages. The id filter is applied
// here again even though the server already got the cursor: a record at or
// below the cursor, or one whose id is already present (an optimistic send
// coming back around), is dropped. Returns the messages actually appended.
func (s *Store) Merge(msgs []Message) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var added []Message
	for _, m := range msgs {
		if m.ID <= s.lastSeen {
			continue
		}
		if _, dup := s.seen[m.ID]; dup {
			continue
		}
		s.messages = append(s.messages, m)
		s.seen[m.ID] = struct{}{}
		added = append(added, m)
	}
	for _, m := range added {
		if m.ID > s.lastSeen {
			s.lastSeen = m.ID
		}
	}
	return added
}

// Append inserts a single locally-originated message (the optimistic path
// after a send was acknowledged) and advances the cursor to its id.
func (s *Store) Append(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.seen[m.ID]; dup {
		return false
	}
	s.messages = append(s.messages, m)
	s.seen[m.ID] = struct{}{}
	if m.ID > s.lastSeen {
		s.lastSeen = m.ID
	}
	return true
}

// Messages returns a copy of the log in insertion order.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// LastSeenID is the conversation cursor: the highest message id merged so
// far for the current order.
func (s *Store) LastSeenID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}
