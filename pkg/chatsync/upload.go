package chatsync

import (
	"context"
	"io"
	"sync"
	"time"
)

// TicketStatus is the lifecycle of one attachment upload.
type TicketStatus string

const (
	TicketPending   TicketStatus = "pending"
	TicketUploading TicketStatus = "uploading"
	TicketSuccess   TicketStatus = "success"
	TicketFailed    TicketStatus = "failed"
)

// Ticket tracks a single file through the upload queue. Tickets are
// ephemeral bookkeeping, not part of the message log: the attachment
// message itself arrives through polling once the server recorded it.
type Ticket struct {
	FileName string
	Status   TicketStatus
	Error    string
}

// UploadFile is one file handed to Session.Upload.
type UploadFile struct {
	Name   string
	Reader io.Reader
}

// markerTTL is how long a just-dispatched file name suppresses an
// identical re-submission.
const markerTTL = 3 * time.Second

type uploadItem struct {
	ticket  *Ticket
	token   string
	orderID string
	file    UploadFile
}

// uploader runs one worker goroutine that uploads queued files one at a
// time. Per-file tickets are independent: a failure marks its own ticket
// and the queue moves on.
type uploader struct {
	session *Session
	queue   chan *uploadItem
	done    chan struct{}

	mu      sync.Mutex
	tickets []*Ticket
	recent  map[string]time.Time
	stopped bool
}

func newUploader(s *Session) *uploader {
	u := &uploader{
		session: s,
		queue:   make(chan *uploadItem, 64),
		done:    make(chan struct{}),
		recent:  make(map[string]time.Time),
	}
	go u.work()
	return u
}

// enqueue returns value snapshots of the new tickets, taken before the
// worker can touch them; Tickets reports later progress.
func (u *uploader) enqueue(token, orderID string, files []UploadFile) []Ticket {
	u.mu.Lock()
	defer u.mu.Unlock()

	now := time.Now()
	var added []*Ticket
	for _, f := range files {
		if exp, ok := u.recent[f.Name]; ok && now.Before(exp) {
			// same file name dispatched moments ago; drop the re-send
			continue
		}
		u.recent[f.Name] = now.Add(markerTTL)

		t := &Ticket{FileName: f.Name, Status: TicketPending}
		u.tickets = append(u.tickets, t)
		added = append(added, t)

		if u.stopped {
			t.Status = TicketFailed
			t.Error = "session disposed"
			continue
		}
		select {
		case u.queue <- &uploadItem{ticket: t, token: token, orderID: orderID, file: f}:
		default:
			t.Status = TicketFailed
			t.Error = "upload queue full"
		}
	}

	out := make([]Ticket, 0, len(added))
	for _, t := range added {
		out = append(out, *t)
	}
	return out
}

func (u *uploader) work() {
	for {
		select {
		case <-u.done:
			return
		case item := <-u.queue:
			u.process(item)
		}
	}
}

func (u *uploader) process(item *uploadItem) {
	if c, ok := item.file.Reader.(io.Closer); ok {
		defer c.Close()
	}
	u.setStatus(item.ticket, TicketUploading, "")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := u.session.client.Upload(ctx, item.token, item.orderID, item.file.Name, item.file.Reader)
	if err != nil {
		u.session.fatal(err)
		u.setStatus(item.ticket, TicketFailed, err.Error())
		return
	}

	u.setStatus(item.ticket, TicketSuccess, "")
	// the attachment message is the server's to create; pull it in
	u.session.Poke()
}

func (u *uploader) setStatus(t *Ticket, status TicketStatus, errMsg string) {
	u.mu.Lock()
	t.Status = status
	t.Error = errMsg
	snapshot := *t
	u.mu.Unlock()
	u.session.emit(Event{Type: EventUpload, Ticket: snapshot})
}

func (u *uploader) snapshot() []Ticket {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]Ticket, 0, len(u.tickets))
	for _, t := range u.tickets {
		out = append(out, *t)
	}
	return out
}

func (u *uploader) stop() {
	u.mu.Lock()
	if u.stopped {
		u.mu.Unlock()
		return
	}
	u.stopped = true
	u.mu.Unlock()
	close(u.done)
}
