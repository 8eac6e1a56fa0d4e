package handlers

import (
	"context"

	"gorm.io/gorm"

	"github.com/dentora/orderchat/internal/chat"
	"github.com/dentora/orderchat/internal/config"
	"github.com/dentora/orderchat/internal/storage"
	"github.com/dentora/orderchat/internal/store/redisstore"
)

// JobPublisher hands stored uploads to the attachment worker.
type JobPublisher interface {
	PublishUploadJob(ctx context.Context, job *chat.UploadJob) error
}

type Handler struct {
	DB      *gorm.DB
	Cfg     config.Config
	ChatSvc *chat.Service
	Storage storage.Store
	Jobs    JobPublisher
}

func NewHandler(db *gorm.DB, cfg config.Config, cache *redisstore.Store, st storage.Store, jobs JobPublisher) *Handler {
	repo := chat.NewRepo(db)
	return &Handler{
		DB:      db,
		Cfg:     cfg,
		ChatSvc: chat.NewService(repo, cache),
		Storage: st,
		Jobs:    jobs,
	}
}
