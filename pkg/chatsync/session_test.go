package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeServer speaks just enough of the portal chat API for session tests.
type fakeServer struct {
	mu        sync.Mutex
	nextID    int64
	msgs      map[string][]wireMessage
	sinceSeen map[string][]int64
	histDelay map[string]time.Duration
	reject    bool
	failing   bool

	// when set, a completed upload immediately records the attachment
	// message (standing in for the server-side worker)
	uploadsMakeMessages bool

	lastUpload []byte

	srv *httptest.Server
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{
		msgs:      make(map[string][]wireMessage),
		sinceSeen: make(map[string][]int64),
		histDelay: make(map[string]time.Duration),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	reject, failing := f.reject, f.failing
	f.mu.Unlock()

	if reject {
		writeEnvelope(w, http.StatusUnauthorized, 40102, "token expired", nil)
		return
	}
	if failing {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	// api/orders/<id>/messages | api/orders/<id>/attachments
	if len(parts) != 4 || parts[0] != "api" || parts[1] != "orders" {
		writeEnvelope(w, http.StatusNotFound, 40400, "route not found", nil)
		return
	}
	orderID := parts[2]

	switch {
	case parts[3] == "messages" && r.Method == http.MethodGet:
		f.handleList(w, r, orderID)
	case parts[3] == "messages" && r.Method == http.MethodPost:
		f.handleSend(w, r, orderID)
	case parts[3] == "attachments" && r.Method == http.MethodPost:
		f.handleUpload(w, r, orderID)
	default:
		writeEnvelope(w, http.StatusNotFound, 40400, "route not found", nil)
	}
}

func (f *fakeServer) handleList(w http.ResponseWriter, r *http.Request, orderID string) {
	var lastID int64
	if v := r.URL.Query().Get("last_id"); v != "" {
		lastID, _ = strconv.ParseInt(v, 10, 64)
	}

	f.mu.Lock()
	delay := f.histDelay[orderID]
	f.mu.Unlock()
	if lastID == 0 && delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	if lastID > 0 {
		f.sinceSeen[orderID] = append(f.sinceSeen[orderID], lastID)
	}
	out := []wireMessage{}
	for _, m := range f.msgs[orderID] {
		if m.ID > lastID {
			out = append(out, m)
		}
	}
	f.mu.Unlock()

	writeEnvelope(w, http.StatusOK, 0, "", out)
}

func (f *fakeServer) handleSend(w http.ResponseWriter, r *http.Request, orderID string) {
	var req struct {
		Message  string `json:"message"`
		UserType string `json:"user_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, 10001, "invalid json", nil)
		return
	}
	id := f.record(orderID, req.UserType, req.Message, "", "")
	writeEnvelope(w, http.StatusOK, 0, "", map[string]int64{"id": id})
}

func (f *fakeServer) handleUpload(w http.ResponseWriter, r *http.Request, orderID string) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, 10003, "file required", nil)
		return
	}
	body, _ := io.ReadAll(file)
	file.Close()

	path := "/u/" + header.Filename
	f.mu.Lock()
	f.lastUpload = body
	makeMsg := f.uploadsMakeMessages
	f.mu.Unlock()
	if makeMsg {
		f.record(orderID, "designer", "", path, header.Filename)
	}
	writeEnvelope(w, http.StatusOK, 0, "", map[string]any{
		"file_path": path,
		"filename":  header.Filename,
		"file_size": header.Size,
	})
}

// record appends a message server-side and returns its id.
func (f *fakeServer) record(orderID, userType, body, filePath, fileName string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	m := wireMessage{
		ID:          f.nextID,
		OrderID:     orderID,
		UserType:    userType,
		Message:     body,
		MessageDate: time.Now().Format(wireTimeLayout),
		FilePath:    filePath,
		FileName:    fileName,
	}
	f.msgs[orderID] = append(f.msgs[orderID], m)
	return f.nextID
}

// seed installs history with explicit ids.
func (f *fakeServer) seed(orderID string, ids ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.msgs[orderID] = append(f.msgs[orderID], wireMessage{
			ID:          id,
			OrderID:     orderID,
			UserType:    "client",
			Message:     fmt.Sprintf("seed-%d", id),
			MessageDate: time.Now().Format(wireTimeLayout),
		})
		if id > f.nextID {
			f.nextID = id
		}
	}
}

func (f *fakeServer) sawSince(orderID string, lastID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.sinceSeen[orderID] {
		if v == lastID {
			return true
		}
	}
	return false
}

func writeEnvelope(w http.ResponseWriter, status, code int, msg string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	env := map[string]any{"data": data}
	if status >= 200 && status <= 299 {
		env["status"] = "success"
	} else {
		env["status"] = "error"
		env["code"] = code
		env["message"] = msg
	}
	_ = json.NewEncoder(w).Encode(env)
}

func newTestSession(f *fakeServer, r Resolver) *Session {
	return NewSession(Options{
		Client:       NewClient(f.srv.URL, "test-tenant"),
		Resolver:     r,
		PollInterval: 25 * time.Millisecond,
		PokeDelay:    5 * time.Millisecond,
	})
}

var testIdentity = Static{Role: RoleClient, DisplayName: "Pat", Token: "tok"}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEmptyOrderStartsPolling(t *testing.T) {
	f := newFakeServer(t)
	s := newTestSession(f, testIdentity)
	defer s.Dispose()

	s.Start("500")

	if n := s.LastSeenID(); n != 0 {
		t.Fatalf("expected cursor 0 for empty order, got %d", n)
	}
	if n := len(s.Messages()); n != 0 {
		t.Fatalf("expected empty store, got %d messages", n)
	}

	// the poller must be running: a message recorded server-side shows up
	f.record("500", "designer", "crown ready", "", "")
	waitFor(t, "polled message", func() bool { return s.LastSeenID() > 0 })
}

func TestHistorySeedsCursorThenIncrementalFetch(t *testing.T) {
	f := newFakeServer(t)
	f.seed("500", 5, 6, 7)

	s := newTestSession(f, testIdentity)
	defer s.Dispose()
	s.Start("500")

	waitFor(t, "history", func() bool { return s.Len() == 3 })
	if s.LastSeenID() != 7 {
		t.Fatalf("expected cursor 7 after history, got %d", s.LastSeenID())
	}

	f.record("500", "designer", "shade confirmed", "", "")
	waitFor(t, "incremental message", func() bool { return s.Len() == 4 })
	if s.LastSeenID() != 8 {
		t.Fatalf("expected cursor 8, got %d", s.LastSeenID())
	}
	if !f.sawSince("500", 7) {
		t.Fatalf("poller never asked for messages since 7")
	}
}

func TestSendOptimisticNoDuplicate(t *testing.T) {
	f := newFakeServer(t)
	s := newTestSession(f, testIdentity)
	defer s.Dispose()
	s.Start("500")

	m, err := s.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if m.ID == 0 {
		t.Fatalf("expected server-assigned id")
	}

	// appears immediately, before any poll cycle
	count := func() int {
		n := 0
		for _, msg := range s.Messages() {
			if msg.Body == "hello" {
				n++
			}
		}
		return n
	}
	if count() != 1 {
		t.Fatalf("expected the sent message in the store immediately, got %d copies", count())
	}

	// several poll cycles later it still exists exactly once
	time.Sleep(150 * time.Millisecond)
	if count() != 1 {
		t.Fatalf("expected exactly one copy after polling, got %d", count())
	}
	if m.SenderRole != RoleClient || m.SenderName != "Pat" {
		t.Fatalf("sender identity not applied: %+v", m)
	}
}

func TestUploadBecomesAttachmentMessage(t *testing.T) {
	f := newFakeServer(t)
	f.uploadsMakeMessages = true

	s := newTestSession(f, testIdentity)
	defer s.Dispose()
	s.Start("500")

	tickets, err := s.Upload(UploadFile{Name: "report.pdf", Reader: strings.NewReader("%PDF-1.4")})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(tickets) != 1 {
		t.Fatalf("expected 1 ticket, got %d", len(tickets))
	}

	waitFor(t, "ticket success", func() bool {
		ts := s.Tickets()
		return len(ts) == 1 && ts[0].Status == TicketSuccess
	})

	waitFor(t, "attachment message", func() bool {
		for _, m := range s.Messages() {
			if m.Attachment != nil && m.Attachment.FileName == "report.pdf" {
				return m.Attachment.Path == "/u/report.pdf"
			}
		}
		return false
	})
}

func TestUploadTicketsAreSnapshots(t *testing.T) {
	f := newFakeServer(t)
	s := newTestSession(f, testIdentity)
	defer s.Dispose()
	s.Start("500")

	tickets, err := s.Upload(UploadFile{Name: "model.stl", Reader: strings.NewReader("solid")})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(tickets) != 1 || tickets[0].Status != TicketPending {
		t.Fatalf("expected one pending ticket at enqueue time, got %+v", tickets)
	}

	waitFor(t, "ticket success", func() bool {
		ts := s.Tickets()
		return len(ts) == 1 && ts[0].Status == TicketSuccess
	})

	// the returned tickets are detached copies, untouched by the worker
	if tickets[0].Status != TicketPending {
		t.Fatalf("returned ticket mutated to %s", tickets[0].Status)
	}
}

// opaqueReader hides any Len or Seek the wrapped reader may offer.
type opaqueReader struct{ io.Reader }

func TestUploadDeliversFileBytes(t *testing.T) {
	f := newFakeServer(t)
	s := newTestSession(f, testIdentity)
	defer s.Dispose()
	s.Start("500")

	payload := strings.Repeat("v 0.1 0.2 0.3\n", 2048)
	if _, err := s.Upload(UploadFile{Name: "scan.obj", Reader: opaqueReader{strings.NewReader(payload)}}); err != nil {
		t.Fatalf("upload: %v", err)
	}

	waitFor(t, "upload body", func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return string(f.lastUpload) == payload
	})
}

func TestUploadDedupeMarker(t *testing.T) {
	f := newFakeServer(t)
	s := newTestSession(f, testIdentity)
	defer s.Dispose()
	s.Start("500")

	first, err := s.Upload(UploadFile{Name: "scan.stl", Reader: strings.NewReader("a")})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	// immediate re-send of the same file name is suppressed
	second, err := s.Upload(UploadFile{Name: "scan.stl", Reader: strings.NewReader("a")})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(first) != 1 || len(second) != 0 {
		t.Fatalf("expected dedupe marker to drop the re-send, got %d then %d tickets", len(first), len(second))
	}
}

func TestOrderSwitchIsolation(t *testing.T) {
	f := newFakeServer(t)
	f.seed("A", 1)
	f.seed("B", 2)
	f.histDelay["A"] = 250 * time.Millisecond

	s := newTestSession(f, testIdentity)
	defer s.Dispose()

	s.Start("A")
	time.Sleep(20 * time.Millisecond)
	s.Start("B") // switch while A's history request is still in flight

	waitFor(t, "order B history", func() bool { return s.Len() == 1 })
	time.Sleep(350 * time.Millisecond) // let A's response come and go

	for _, m := range s.Messages() {
		if m.OrderID != "B" {
			t.Fatalf("stale order %s message leaked into the store", m.OrderID)
		}
	}
	if s.Len() != 1 {
		t.Fatalf("expected only order B's message, got %d", s.Len())
	}
}

func TestPollFailureFlipsConnectivityAndRecovers(t *testing.T) {
	f := newFakeServer(t)
	s := newTestSession(f, testIdentity)
	defer s.Dispose()
	s.Start("500")

	waitFor(t, "initial connectivity", func() bool { return s.Connected() })

	f.mu.Lock()
	f.failing = true
	f.mu.Unlock()
	waitFor(t, "disconnect", func() bool { return !s.Connected() })

	// store survives the outage
	if s.Messages() == nil && s.Len() != 0 {
		t.Fatalf("store must not be cleared on poll failure")
	}

	f.mu.Lock()
	f.failing = false
	f.mu.Unlock()
	waitFor(t, "reconnect", func() bool { return s.Connected() })
}

func TestSessionInvalidEmittedOnce(t *testing.T) {
	f := newFakeServer(t)
	f.reject = true

	s := newTestSession(f, testIdentity)
	defer s.Dispose()
	s.Start("500")

	waitFor(t, "session invalid event", func() bool {
		select {
		case ev := <-s.Events():
			return ev.Type == EventSessionInvalid
		default:
			return false
		}
	})

	// a follow-up send fails with the same error but emits nothing new
	if _, err := s.Send(context.Background(), "hi"); err != ErrSessionInvalid {
		t.Fatalf("expected ErrSessionInvalid, got %v", err)
	}
	select {
	case ev := <-s.Events():
		if ev.Type == EventSessionInvalid {
			t.Fatalf("session invalid raised twice")
		}
	default:
	}
}

func TestSendGuards(t *testing.T) {
	f := newFakeServer(t)

	// no identity: read-only mode
	s := newTestSession(f, nil)
	defer s.Dispose()
	s.Start("500")
	if _, err := s.Send(context.Background(), "hi"); err != ErrNoSession {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if _, err := s.Upload(UploadFile{Name: "a.pdf", Reader: strings.NewReader("x")}); err != ErrNoSession {
		t.Fatalf("expected ErrNoSession for upload, got %v", err)
	}

	// identity but nothing selected
	s2 := newTestSession(f, testIdentity)
	defer s2.Dispose()
	if _, err := s2.Send(context.Background(), "hi"); err != ErrNoOrder {
		t.Fatalf("expected ErrNoOrder, got %v", err)
	}

	// whitespace-only text
	s2.Start("500")
	if _, err := s2.Send(context.Background(), "   "); err != ErrEmptyMessage {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestReadOnlyModeStillPolls(t *testing.T) {
	f := newFakeServer(t)
	f.seed("500", 1, 2)

	s := newTestSession(f, nil)
	defer s.Dispose()
	s.Start("500")

	waitFor(t, "read-only history", func() bool { return s.Len() == 2 })
	if s.Identity() != nil {
		t.Fatalf("expected no identity")
	}
}
