package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dentora/orderchat/internal/store/redisstore"
)

var (
	ErrEmptyMessage = errors.New("empty message")
	ErrNoOrder      = errors.New("order id required")
)

// maxIDTrustWindow bounds how long polls may be answered from the cached
// ceiling alone. A failed advance can leave the ceiling below the real max
// id; re-checking the DB at this cadence caps how long such a row can stay
// hidden from pollers.
const maxIDTrustWindow = 10 * time.Second

// MessageIDCache is the per-(tenant,order) max-message-id cache consulted
// by the incremental fetch path.
type MessageIDCache interface {
	GetMaxMessageID(ctx context.Context, tenant, orderID string) (uint64, bool)
	AdvanceMaxMessageID(ctx context.Context, tenant, orderID string, id uint64)
}

type Service struct {
	repo  *Repo
	cache MessageIDCache

	mu       sync.Mutex
	verified map[string]time.Time
}

// NewService wires the chat domain. cache may be nil; every cached path
// falls back to the DB.
func NewService(repo *Repo, cache *redisstore.Store) *Service {
	s := &Service{repo: repo, verified: make(map[string]time.Time)}
	if cache != nil {
		s.cache = cache
	}
	return s
}

// History returns an order's full log, oldest first.
func (s *Service) History(ctx context.Context, tenant, orderID string) ([]Message, error) {
	if orderID == "" {
		return nil, ErrNoOrder
	}
	return s.repo.ListMessages(ctx, tenant, orderID)
}

// Since returns messages with id strictly above lastID. The cached max id
// short-circuits the common case where a poll has nothing to pick up, but
// only while the cached ceiling was verified against the DB recently: the
// cache is best-effort and a stale-low value must never hide a row for
// longer than the trust window.
func (s *Service) Since(ctx context.Context, tenant, orderID string, lastID uint64) ([]Message, error) {
	if orderID == "" {
		return nil, ErrNoOrder
	}
	if s.cache != nil {
		if max, ok := s.cache.GetMaxMessageID(ctx, tenant, orderID); ok && max <= lastID && s.recentlyVerified(tenant, orderID) {
			return []Message{}, nil
		}
	}

	msgs, err := s.repo.ListMessagesSince(ctx, tenant, orderID, lastID)
	if err != nil {
		return nil, err
	}
	s.markVerified(tenant, orderID)

	if s.cache != nil {
		if len(msgs) > 0 {
			s.cache.AdvanceMaxMessageID(ctx, tenant, orderID, msgs[len(msgs)-1].ID)
		} else if max, err := s.repo.MaxMessageID(ctx, tenant, orderID); err == nil {
			// warm the ceiling so idle polls stop hitting the messages table
			s.cache.AdvanceMaxMessageID(ctx, tenant, orderID, max)
		}
	}
	return msgs, nil
}

func (s *Service) recentlyVerified(tenant, orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.verified[tenant+":"+orderID]) < maxIDTrustWindow
}

func (s *Service) markVerified(tenant, orderID string) {
	s.mu.Lock()
	s.verified[tenant+":"+orderID] = time.Now()
	s.mu.Unlock()
}

// Post stores a text message and returns it with the assigned id.
func (s *Service) Post(ctx context.Context, tenant, orderID, userType, userName, body string) (*Message, error) {
	if orderID == "" {
		return nil, ErrNoOrder
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyMessage
	}

	m := &Message{
		Tenant:   tenant,
		OrderID:  orderID,
		UserType: userType,
		UserName: userName,
		Body:     body,
	}
	if err := s.repo.InsertMessage(ctx, m); err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.AdvanceMaxMessageID(ctx, tenant, orderID, m.ID)
	}
	return m, nil
}

func (s *Service) CreateUploadJob(ctx context.Context, job *UploadJob) error {
	return s.repo.CreateUploadJob(ctx, job)
}

func (s *Service) GetUploadJob(ctx context.Context, jobID string) (*UploadJob, error) {
	return s.repo.GetUploadJobByID(ctx, jobID)
}

// CompleteUpload turns a stored upload into an attachment message. This is
// the worker's half of the portal's upload flow: the client never inserts
// an attachment message locally, it polls the result in.
func (s *Service) CompleteUpload(ctx context.Context, jobID string) (*Message, error) {
	_ = s.repo.UpdateJobStatusRunning(ctx, jobID)

	job, err := s.repo.GetUploadJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	m := &Message{
		Tenant:   job.Tenant,
		OrderID:  job.OrderID,
		UserType: job.UploaderRole,
		UserName: job.UploaderName,
		FilePath: job.ObjectPath,
		FileName: job.FileName,
	}
	if err := s.repo.InsertMessage(ctx, m); err != nil {
		_ = s.repo.MarkJobFailed(ctx, jobID, err.Error())
		return nil, err
	}
	if err := s.repo.MarkJobSucceeded(ctx, jobID, m.ID); err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.AdvanceMaxMessageID(ctx, job.Tenant, job.OrderID, m.ID)
	}
	return m, nil
}

func (s *Service) FailUpload(ctx context.Context, jobID, errMsg string) error {
	return s.repo.MarkJobFailed(ctx, jobID, errMsg)
}
