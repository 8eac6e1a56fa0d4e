package handlers

import (
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dentora/orderchat/internal/chat"
	"github.com/dentora/orderchat/internal/common"
	"github.com/dentora/orderchat/internal/httpapi/middleware"
)

func identityFromContext(c *gin.Context) (role, name string, ok bool) {
	r, okr := c.Get(middleware.RoleKey)
	n, _ := c.Get(middleware.NameKey)
	if !okr {
		return "", "", false
	}
	role, ok = r.(string)
	name, _ = n.(string)
	return role, name, ok
}

func tenantFromContext(c *gin.Context) string {
	v, _ := c.Get(middleware.TenantKey)
	t, _ := v.(string)
	return t
}

// ListOrderMessages serves both the one-shot history load (no last_id)
// and the incremental poll (last_id set). Results are ASC by id either
// way; clients re-filter defensively but should not have to.
func (h *Handler) ListOrderMessages(c *gin.Context) {
	orderID := c.Param("order_id")
	tenant := tenantFromContext(c)

	var lastID uint64
	if v := c.Query("last_id"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			lastID = n
		}
	}

	var (
		msgs []chat.Message
		err  error
	)
	if lastID > 0 {
		msgs, err = h.ChatSvc.Since(c.Request.Context(), tenant, orderID, lastID)
	} else {
		msgs, err = h.ChatSvc.History(c.Request.Context(), tenant, orderID)
	}
	if err != nil {
		if errors.Is(err, chat.ErrNoOrder) {
			common.Fail(c, http.StatusBadRequest, 10002, "order id required")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list messages")
		return
	}

	out := make([]chat.WireMessage, 0, len(msgs))
	for i := range msgs {
		out = append(out, msgs[i].Wire())
	}
	common.OK(c, out)
}

type sendMessageReq struct {
	Message  string `json:"message" binding:"required"`
	UserType string `json:"user_type"`
}

// SendOrderMessage stores a text message. The sender role comes from the
// token, not from the body; the body field is kept for wire compatibility.
func (h *Handler) SendOrderMessage(c *gin.Context) {
	role, name, okk := identityFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	m, err := h.ChatSvc.Post(c.Request.Context(), tenantFromContext(c), c.Param("order_id"), role, name, req.Message)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) || errors.Is(err, chat.ErrNoOrder) {
			common.Fail(c, http.StatusBadRequest, 10002, "message and order id required")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to send message")
		return
	}

	common.OK(c, gin.H{"id": m.ID})
}

// UploadOrderAttachment stores the file and queues the job that turns it
// into an attachment message. The response only acknowledges storage; the
// message reaches clients through polling once the worker has run.
func (h *Handler) UploadOrderAttachment(c *gin.Context) {
	role, name, okk := identityFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	orderID := c.Param("order_id")
	tenant := tenantFromContext(c)

	fh, err := c.FormFile("file")
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10003, "file required")
		return
	}

	f, err := fh.Open()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to read upload")
		return
	}
	defer f.Close()

	base := filepath.Base(fh.Filename)
	objectName := fmt.Sprintf("%s/%s_%s", orderID, uuid.NewString(), base)
	contentType := mime.TypeByExtension(filepath.Ext(base))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	storedPath, err := h.Storage.Save(c.Request.Context(), objectName, f, fh.Size, contentType)
	if err != nil {
		log.Printf("[UploadOrderAttachment] save failed order=%s file=%s err=%v", orderID, base, err)
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to store file")
		return
	}

	jobID, err := common.NewULID()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	j := &chat.UploadJob{
		ID:           jobID,
		Tenant:       tenant,
		OrderID:      orderID,
		ObjectPath:   storedPath,
		FileName:     base,
		FileSize:     fh.Size,
		UploaderRole: role,
		UploaderName: name,
		Status:       chat.JobQueued,
	}
	if err := h.ChatSvc.CreateUploadJob(c.Request.Context(), j); err != nil {
		log.Printf("[UploadOrderAttachment] create job failed order=%s job=%s err=%v", orderID, jobID, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	if err := h.Jobs.PublishUploadJob(c.Request.Context(), j); err != nil {
		log.Printf("[UploadOrderAttachment] publish failed order=%s job=%s err=%v", orderID, jobID, err)
		_ = h.ChatSvc.FailUpload(c.Request.Context(), jobID, "enqueue failed")
		common.Fail(c, http.StatusInternalServerError, 50004, "enqueue failed")
		return
	}

	common.OK(c, gin.H{
		"file_path": storedPath,
		"filename":  base,
		"file_size": fh.Size,
	})
}

// DownloadFile streams a stored attachment. It is reached by a plain
// browser navigation (synthetic anchor click), so it sits outside the
// bearer-token group.
func (h *Handler) DownloadFile(c *gin.Context) {
	objectName := c.Param("path")
	if len(objectName) > 0 && objectName[0] == '/' {
		objectName = objectName[1:]
	}
	if objectName == "" {
		common.Fail(c, http.StatusBadRequest, 10004, "path required")
		return
	}

	rc, err := h.Storage.Open(c.Request.Context(), objectName)
	if err != nil {
		common.Fail(c, http.StatusNotFound, 40403, "file not found")
		return
	}
	defer rc.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(objectName)))
	c.Header("Content-Type", "application/octet-stream")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		log.Printf("[DownloadFile] stream failed path=%s err=%v", objectName, err)
	}
}
