package chatsync

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

const (
	defaultPollInterval = 3 * time.Second
	defaultPokeDelay    = 500 * time.Millisecond
)

// Options configures a Session.
type Options struct {
	Client   *Client
	Resolver Resolver

	// PollInterval is the period of the incremental fetch loop.
	// Defaults to 3s.
	PollInterval time.Duration
	// PokeDelay is how long an out-of-cycle poll waits after a send or a
	// finished upload before firing. Defaults to 500ms.
	PokeDelay time.Duration
}

// Session owns the message store, the poll loop and the upload queue for
// one order at a time. Start switches orders (tearing down the previous
// loop first), Dispose ends the session. The renderer consumes Events.
//
// A response that comes back after the order was switched lands in the
// previous order's store, which nothing references anymore; the new
// order's log can never see it.
type Session struct {
	client       *Client
	resolver     Resolver
	pollInterval time.Duration
	pokeDelay    time.Duration

	events chan Event
	poke   chan struct{}

	mu       sync.Mutex
	identity *Identity
	orderID  string
	store    *Store
	cancel   context.CancelFunc
	loopDone chan struct{}
	closed   bool

	connMu    sync.Mutex
	connected bool
	invalid   bool

	uploads *uploader
}

func NewSession(opts Options) *Session {
	s := &Session{
		client:       opts.Client,
		resolver:     opts.Resolver,
		pollInterval: opts.PollInterval,
		pokeDelay:    opts.PokeDelay,
		events:       make(chan Event, 64),
		poke:         make(chan struct{}, 1),
		store:        NewStore(),
		connected:    true,
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}
	if s.pokeDelay <= 0 {
		s.pokeDelay = defaultPokeDelay
	}
	s.uploads = newUploader(s)
	return s
}

// Events is the session's notification feed. It is closed by Dispose.
func (s *Session) Events() <-chan Event { return s.events }

// Identity returns the identity resolved at the last Start, or nil when
// the session runs read-only.
func (s *Session) Identity() *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Messages returns the current order's log in insertion order.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	st := s.store
	s.mu.Unlock()
	return st.Messages()
}

// Len returns the size of the current order's log.
func (s *Session) Len() int {
	s.mu.Lock()
	st := s.store
	s.mu.Unlock()
	return st.Len()
}

// LastSeenID returns the current order's conversation cursor.
func (s *Session) LastSeenID() int64 {
	s.mu.Lock()
	st := s.store
	s.mu.Unlock()
	return st.LastSeenID()
}

// Connected reports whether the last poll round-trip succeeded.
func (s *Session) Connected() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.connected
}

// Start opens orderID: it cancels any previous poll loop, resets the store
// and cursor, loads history once and then polls on the configured interval.
// An empty orderID just tears the previous order down.
func (s *Session) Start(orderID string) {
	s.stopLoop()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	var id *Identity
	if s.resolver != nil {
		// resolver errors degrade to "no session": sends are refused,
		// polling still runs
		id, _ = s.resolver.Resolve()
	}
	s.identity = id
	s.orderID = orderID
	s.store = NewStore()
	store := s.store

	if orderID == "" {
		s.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.loopDone = done
	s.mu.Unlock()

	go s.run(ctx, done, orderID, store)
}

// Dispose tears down the poll loop and the upload queue and closes the
// event channel. The session cannot be restarted afterwards.
func (s *Session) Dispose() {
	s.stopLoop()
	s.uploads.stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

// Poke schedules one out-of-cycle poll after the configured delay. It does
// not disturb the periodic timer.
func (s *Session) Poke() {
	delay := s.pokeDelay
	time.AfterFunc(delay, func() {
		select {
		case s.poke <- struct{}{}:
		default:
		}
	})
}

func (s *Session) stopLoop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.loopDone
	s.cancel = nil
	s.loopDone = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Session) run(ctx context.Context, done chan struct{}, orderID string, store *Store) {
	defer close(done)

	token := s.token()

	// One-shot history load. A failure is "no history available": start
	// empty and let polling take over.
	history, err := s.client.History(ctx, token, orderID)
	if err == nil {
		store.Replace(history)
		if len(history) > 0 {
			s.emit(Event{Type: EventMessages, Messages: store.Messages()})
		}
		s.setConnected(true)
	} else {
		if ctx.Err() != nil {
			return
		}
		if s.fatal(err) {
			return
		}
		s.setConnected(false)
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.poke:
		}
		if stop := s.pollOnce(ctx, token, orderID, store); stop {
			return
		}
	}
}

func (s *Session) pollOnce(ctx context.Context, token, orderID string, store *Store) (stop bool) {
	msgs, err := s.client.Since(ctx, token, orderID, store.LastSeenID())
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		if s.fatal(err) {
			return true
		}
		s.setConnected(false)
		return false
	}
	s.setConnected(true)

	if ctx.Err() != nil {
		// order switched while the request was in flight
		return true
	}
	if added := store.Merge(msgs); len(added) > 0 {
		s.emit(Event{Type: EventMessages, Messages: added})
	}
	return false
}

// Send dispatches a typed text message for the current order, appends it
// optimistically with the server-assigned id and pokes the poller so
// interleaved messages from other participants show up quickly.
func (s *Session) Send(ctx context.Context, text string) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	id := s.identity
	orderID := s.orderID
	store := s.store
	s.mu.Unlock()

	if orderID == "" {
		return nil, ErrNoOrder
	}
	if id == nil {
		return nil, ErrNoSession
	}

	msgID, err := s.client.Send(ctx, id.Token, orderID, id.Role, text)
	if err != nil {
		s.fatal(err)
		return nil, err
	}

	// The local timestamp stays even once the poller could hand us the
	// server's; patching it would make the message visibly jump.
	m := Message{
		ID:         msgID,
		OrderID:    orderID,
		SenderRole: id.Role,
		SenderName: id.DisplayName,
		Body:       text,
		SentAt:     time.Now(),
	}
	if store.Append(m) {
		s.emit(Event{Type: EventMessages, Messages: []Message{m}})
	}
	s.Poke()
	return &m, nil
}

// Upload queues files for sequential attachment upload. Each file gets its
// own ticket; one failing does not stop the rest. The returned tickets are
// snapshots taken at enqueue time; Tickets reports later progress.
func (s *Session) Upload(files ...UploadFile) ([]Ticket, error) {
	s.mu.Lock()
	id := s.identity
	orderID := s.orderID
	s.mu.Unlock()

	if orderID == "" {
		return nil, ErrNoOrder
	}
	if id == nil {
		return nil, ErrNoSession
	}
	return s.uploads.enqueue(id.Token, orderID, files), nil
}

// Tickets returns a snapshot of all upload tickets, oldest first.
func (s *Session) Tickets() []Ticket { return s.uploads.snapshot() }

func (s *Session) token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return ""
	}
	return s.identity.Token
}

// fatal handles the one error class that ends the session: a rejected
// token. Exactly one EventSessionInvalid is emitted per session lifetime.
func (s *Session) fatal(err error) bool {
	if !errors.Is(err, ErrSessionInvalid) {
		return false
	}
	s.connMu.Lock()
	already := s.invalid
	s.invalid = true
	s.connMu.Unlock()
	if !already {
		s.emit(Event{Type: EventSessionInvalid})
	}
	return true
}

func (s *Session) setConnected(up bool) {
	s.connMu.Lock()
	changed := s.connected != up
	s.connected = up
	s.connMu.Unlock()
	if changed {
		s.emit(Event{Type: EventConnectivity, Connected: up})
	}
}

// emit never blocks the poll loop; a full channel drops the event. The
// renderer reads the store, events are only a wakeup.
func (s *Session) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}
