package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"boxes-go/internal/backup"

	"github.com/gin-gonic/gin"
)

const manualCheckWarning = "The restore failed after live data was modified. Verify the data directory manually and restart the server before making changes."

// handleBackup streams a fresh archive. Errors before the first byte get a
// JSON response; errors during streaming abort the connection so the client
// never sees a complete-looking archive.
func (h *httpHandler) handleBackup(c *gin.Context) {
	ctx := c.Request.Context()

	snap, err := h.builder.Prepare(ctx)
	if err != nil {
		h.logger.Error("backup failed", "error", err)
		code := "backup_failed"
		if errors.Is(err, backup.ErrMissingStore) {
			code = "missing_store"
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": code, "message": err.Error()})
		return
	}
	defer snap.Close()

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", snap.Filename()))
	c.Header("Cache-Control", "no-store")
	c.Status(http.StatusOK)

	m, err := snap.Stream(ctx, c.Writer)
	if err != nil {
		h.logger.Error("backup stream aborted", "error", err)
		abortStream(c)
		return
	}
	h.logger.Info("backup downloaded", "filename", snap.Filename(), "attachments", m.Attachments)
}

// abortStream drops the connection under a response that has already
// started.
func abortStream(c *gin.Context) {
	if c.Request.ProtoMajor == 1 {
		if conn, _, err := c.Writer.Hijack(); err == nil {
			conn.Close()
			return
		}
	}
	panic(http.ErrAbortHandler)
}

type restoreResponse struct {
	Restored   bool             `json:"restored"`
	Manifest   *backup.Manifest `json:"manifest,omitempty"`
	DurationMS int64            `json:"durationMs"`
}

// handleRestore replaces the live data with an uploaded archive sent as the
// multipart field "backup".
func (h *httpHandler) handleRestore(c *gin.Context) {
	if h.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize+multipartOverhead)
	}

	fh, err := c.FormFile("backup")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload_too_large", "changed": false})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "multipart field \"backup\" is required", "changed": false})
		return
	}
	defer func() {
		if c.Request.MultipartForm != nil {
			c.Request.MultipartForm.RemoveAll()
		}
	}()

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "unreadable upload", "changed": false})
		return
	}
	defer f.Close()

	ctx := c.Request.Context()
	res, err := h.restorer.Restore(ctx, f, fh.Size)
	if err != nil {
		h.writeRestoreError(c, res, err)
		return
	}

	h.inventory.RecordRestore(ctx, fh.Filename)
	c.JSON(http.StatusOK, restoreResponse{
		Restored:   true,
		Manifest:   res.Manifest,
		DurationMS: res.Duration.Milliseconds(),
	})
}

func (h *httpHandler) writeRestoreError(c *gin.Context, res *backup.Result, err error) {
	switch {
	case errors.Is(err, backup.ErrUploadTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload_too_large", "message": err.Error(), "changed": false})
	case errors.Is(err, backup.ErrInvalidFormat):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_format", "message": err.Error(), "changed": false})
	case errors.Is(err, backup.ErrCorruptArchive):
		c.JSON(http.StatusBadRequest, gin.H{"error": "corrupt_archive", "message": err.Error(), "changed": false})
	case errors.Is(err, backup.ErrMissingStoreInArchive):
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_store", "message": err.Error(), "changed": false})
	case errors.Is(err, backup.ErrRestoreInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "restore_in_progress", "message": err.Error(), "changed": false})
	case errors.Is(err, backup.ErrRestartRequired):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "restart_required", "message": err.Error(), "severity": "critical", "changed": false})
	case backup.LiveStateChanged(err) && res != nil && res.RolledBack:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "restore_failed", "message": err.Error(), "rolledBack": true, "changed": false})
	case backup.LiveStateChanged(err):
		body := gin.H{
			"error":    "restore_failed",
			"message":  err.Error(),
			"severity": "critical",
			"warning":  manualCheckWarning,
			"changed":  true,
		}
		if res != nil && res.RollbackDir != "" {
			body["rollbackDir"] = res.RollbackDir
		}
		c.JSON(http.StatusInternalServerError, body)
	default:
		h.logger.Error("restore failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "restore_failed", "message": err.Error(), "changed": false})
	}
}

func (h *httpHandler) handleRestoreStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.restorer.Status())
}
