package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/dentora/orderchat/internal/common"
	"github.com/dentora/orderchat/internal/config"
	"github.com/dentora/orderchat/internal/httpapi/handlers"
	"github.com/dentora/orderchat/internal/httpapi/middleware"
	"github.com/dentora/orderchat/internal/storage"
	"github.com/dentora/orderchat/internal/store/redisstore"
)

func NewRouter(db *gorm.DB, cfg config.Config, rds *redisstore.Store, st storage.Store, jobs handlers.JobPublisher) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(db, cfg, rds, st, jobs)

	r.GET("/ping", h.Ping)

	// auth
	r.POST("/api/login", h.Login)

	// downloads go through a plain browser navigation, no bearer header
	r.GET("/api/files/*path", h.DownloadFile)

	// chat (JWT + tenant required)
	authGroup := r.Group("/api")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.Use(middleware.TenantRequired())
	authGroup.GET("/orders/:order_id/messages", h.ListOrderMessages)
	authGroup.POST("/orders/:order_id/messages", h.SendOrderMessage)
	authGroup.POST("/orders/:order_id/attachments", h.UploadOrderAttachment)

	return r
}
