package chat

import (
	"context"
	"errors"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Message{}, &UploadJob{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestPostAndHistory(t *testing.T) {
	const orderID = "order-hist"
	db := openTestDB(t)
	svc := NewService(NewRepo(db), nil)

	m1, err := svc.Post(context.Background(), "t1", orderID, "client", "Pat", "hello")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	m2, err := svc.Post(context.Background(), "t1", orderID, "designer", "Dana", "hi there")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if m2.ID <= m1.ID {
		t.Fatalf("ids must increase: %d then %d", m1.ID, m2.ID)
	}

	msgs, err := svc.History(context.Background(), "t1", orderID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].ID != m1.ID || msgs[1].ID != m2.ID {
		t.Fatalf("history not in ASC id order: %d, %d", msgs[0].ID, msgs[1].ID)
	}
}

func TestPostRejectsEmptyBody(t *testing.T) {
	const orderID = "order-empty"
	db := openTestDB(t)
	svc := NewService(NewRepo(db), nil)

	if _, err := svc.Post(context.Background(), "t1", orderID, "client", "Pat", "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := svc.Post(context.Background(), "t1", "", "client", "Pat", "hi"); !errors.Is(err, ErrNoOrder) {
		t.Fatalf("expected ErrNoOrder, got %v", err)
	}
}

func TestSinceReturnsOnlyNewer(t *testing.T) {
	const orderID = "order-since"
	db := openTestDB(t)
	svc := NewService(NewRepo(db), nil)

	var last uint64
	for _, body := range []string{"a", "b", "c"} {
		m, err := svc.Post(context.Background(), "t1", orderID, "client", "Pat", body)
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		last = m.ID
	}

	msgs, err := svc.Since(context.Background(), "t1", orderID, last-1)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != last {
		t.Fatalf("expected only the newest message, got %d records", len(msgs))
	}

	msgs, err = svc.Since(context.Background(), "t1", orderID, last)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected nothing past the newest id, got %d", len(msgs))
	}
}

// stuckCache reports a fixed ceiling no matter what was inserted since,
// the state left behind when an advance against redis fails.
type stuckCache struct {
	max      uint64
	advanced []uint64
}

func (c *stuckCache) GetMaxMessageID(ctx context.Context, tenant, orderID string) (uint64, bool) {
	return c.max, true
}

func (c *stuckCache) AdvanceMaxMessageID(ctx context.Context, tenant, orderID string, id uint64) {
	c.advanced = append(c.advanced, id)
}

func TestSinceSurvivesStaleCacheCeiling(t *testing.T) {
	const orderID = "order-stale-cache"
	db := openTestDB(t)
	svc := NewService(NewRepo(db), nil)

	m1, err := svc.Post(context.Background(), "t1", orderID, "client", "Pat", "first")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	m2, err := svc.Post(context.Background(), "t1", orderID, "designer", "Dana", "second")
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	// the ceiling never learned about m2
	cache := &stuckCache{max: m1.ID}
	svc.cache = cache

	msgs, err := svc.Since(context.Background(), "t1", orderID, m1.ID)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != m2.ID {
		t.Fatalf("stale ceiling hid message %d, got %d records", m2.ID, len(msgs))
	}

	// the fetch repairs the ceiling
	repaired := false
	for _, id := range cache.advanced {
		if id == m2.ID {
			repaired = true
		}
	}
	if !repaired {
		t.Fatalf("ceiling not advanced to %d after the fetch, got %v", m2.ID, cache.advanced)
	}
}

func TestTenantsAreIsolated(t *testing.T) {
	const orderID = "order-tenant"
	db := openTestDB(t)
	svc := NewService(NewRepo(db), nil)

	if _, err := svc.Post(context.Background(), "t1", orderID, "client", "Pat", "hello"); err != nil {
		t.Fatalf("post: %v", err)
	}

	msgs, err := svc.History(context.Background(), "t2", orderID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("tenant t2 must not see t1's messages, got %d", len(msgs))
	}
}

func TestCompleteUploadCreatesAttachmentMessage(t *testing.T) {
	const orderID = "order-upload"
	db := openTestDB(t)
	repo := NewRepo(db)
	svc := NewService(repo, nil)

	job := &UploadJob{
		ID:           "01TESTUPLOADJOB00000000000",
		Tenant:       "t1",
		OrderID:      orderID,
		ObjectPath:   "500/abc_report.pdf",
		FileName:     "report.pdf",
		FileSize:     1024,
		UploaderRole: "designer",
		UploaderName: "Dana",
		Status:       JobQueued,
	}
	if err := svc.CreateUploadJob(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	m, err := svc.CompleteUpload(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("complete upload: %v", err)
	}
	if m.FilePath != job.ObjectPath || m.FileName != "report.pdf" {
		t.Fatalf("attachment fields not carried over: %+v", m)
	}
	if m.Body != "" {
		t.Fatalf("attachment message must have an empty body, got %q", m.Body)
	}
	if m.UserType != "designer" || m.UserName != "Dana" {
		t.Fatalf("uploader identity not carried over: %+v", m)
	}

	j, err := svc.GetUploadJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if j.Status != JobSucceeded {
		t.Fatalf("expected succeeded, got %s", j.Status)
	}
	if j.ResultMessageID == nil || *j.ResultMessageID != m.ID {
		t.Fatalf("result message id not recorded")
	}

	// the attachment message flows through the incremental fetch path
	msgs, err := svc.Since(context.Background(), "t1", orderID, 0)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(msgs) != 1 || msgs[0].FilePath == "" {
		t.Fatalf("attachment message not visible to polling")
	}
}

func TestFailUpload(t *testing.T) {
	const orderID = "order-fail"
	db := openTestDB(t)
	svc := NewService(NewRepo(db), nil)

	job := &UploadJob{
		ID:           "01TESTUPLOADJOB00000000001",
		Tenant:       "t1",
		OrderID:      orderID,
		ObjectPath:   "500/x",
		FileName:     "x.bin",
		UploaderRole: "client",
		Status:       JobQueued,
	}
	if err := svc.CreateUploadJob(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := svc.FailUpload(context.Background(), job.ID, "storage gone"); err != nil {
		t.Fatalf("fail upload: %v", err)
	}

	j, err := svc.GetUploadJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if j.Status != JobFailed || j.Error == nil || *j.Error != "storage gone" {
		t.Fatalf("failure not recorded: %+v", j)
	}
}

func TestWireShape(t *testing.T) {
	const orderID = "order-wire"
	db := openTestDB(t)
	svc := NewService(NewRepo(db), nil)

	m, err := svc.Post(context.Background(), "t1", orderID, "client", "Pat", "hello")
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	w := m.Wire()
	if w.OrderID != orderID || w.UserType != "client" || w.Message != "hello" {
		t.Fatalf("unexpected wire record: %+v", w)
	}
	if w.MessageDate == "" {
		t.Fatalf("message_date must be set")
	}
}
