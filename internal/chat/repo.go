package chat

import (
	"context"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// ListMessages returns an order's full log in ASC id order (oldest first).
func (r *Repo) ListMessages(ctx context.Context, tenant, orderID string) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("tenant = ? AND order_id = ?", tenant, orderID).
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListMessagesSince returns messages with id strictly above lastID, ASC.
func (r *Repo) ListMessagesSince(ctx context.Context, tenant, orderID string, lastID uint64) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("tenant = ? AND order_id = ? AND id > ?", tenant, orderID, lastID).
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *Repo) MaxMessageID(ctx context.Context, tenant, orderID string) (uint64, error) {
	var max uint64
	err := r.db.WithContext(ctx).Model(&Message{}).
		Where("tenant = ? AND order_id = ?", tenant, orderID).
		Select("COALESCE(MAX(id), 0)").
		Scan(&max).Error
	return max, err
}

// Job CRUD
func (r *Repo) CreateUploadJob(ctx context.Context, job *UploadJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetUploadJobByID(ctx context.Context, id string) (*UploadJob, error) {
	var j UploadJob
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) UpdateJobStatusRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&UploadJob{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning).Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string, messageID uint64) error {
	return r.db.WithContext(ctx).Model(&UploadJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            JobSucceeded,
			"result_message_id": messageID,
			"error":             nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&UploadJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            JobFailed,
			"error":             errMsg,
			"result_message_id": nil,
		}).Error
}
