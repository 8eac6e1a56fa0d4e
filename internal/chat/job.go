package chat

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// UploadJob tracks a stored attachment on its way to becoming a chat
// message. The upload handler stores the object and queues the job; the
// worker inserts the message row. Clients never see jobs, only the
// resulting message once polling picks it up.
type UploadJob struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	Tenant  string `gorm:"type:varchar(64);index;not null"`
	OrderID string `gorm:"type:varchar(64);index;not null"`

	ObjectPath string `gorm:"type:varchar(512);not null"`
	FileName   string `gorm:"type:varchar(255);not null"`
	FileSize   int64

	UploaderRole string `gorm:"type:varchar(16);not null"`
	UploaderName string `gorm:"type:varchar(128)"`

	Status JobStatus `gorm:"type:varchar(16);index;not null"`

	// Filled when succeeded
	ResultMessageID *uint64 `gorm:"index"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (UploadJob) TableName() string { return "upload_jobs" }
