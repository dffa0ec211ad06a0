package main

import (
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lgulliver/cliniprompt/internal/common"
	"github.com/lgulliver/cliniprompt/internal/session"
	"github.com/lgulliver/cliniprompt/pkg/types"
)

// audioFormField is the multipart field carrying an upload
const audioFormField = "audio_file"

type handlers struct {
	sessions  *session.Manager
	version   string
	startTime time.Time
}

// statusClientClosedRequest is the de facto status for a request the client abandoned
const statusClientClosedRequest = 499

// statusFor maps an error kind onto an HTTP status

func statusFor(err error) int {
	switch common.KindOf(err) {
	case common.ErrCanceled:
		return statusClientClosedRequest
	case common.ErrSessionNotFound:
		return http.StatusNotFound
	case common.ErrConcurrencyLimit:
		return http.StatusTooManyRequests
	case common.ErrQuotaExceeded:
		return http.StatusRequestEntityTooLarge
	case common.ErrLockTimeout:
		return http.StatusServiceUnavailable
	case common.ErrInvalidTransition:
		return http.StatusConflict
	case common.ErrInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err in the error envelope
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == statusClientClosedRequest {
		log.Debug().Err(err).Str("path", c.FullPath()).Msg("request canceled by client")
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		message = "internal server error"
	}
	if common.IsRetryable(err) {
		c.Header("Retry-After", "5")
	}
	c.JSON(status, types.ErrorResponse{Error: types.ErrorDetail{
		Code:      common.Code(err),
		Message:   message,
		Timestamp: time.Now().UTC(),
	}})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: types.ErrorDetail{
		Code:      "INVALID_INPUT",
		Message:   message,
		Timestamp: time.Now().UTC(),
	}})
}

func (h *handlers) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, types.HealthResponse{
		Status:         "healthy",
		Timestamp:      time.Now().UTC(),
		Version:        h.version,
		UptimeSeconds:  time.Since(h.startTime).Seconds(),
		ActiveSessions: h.sessions.ActiveSessions(),
	})
}

func (h *handlers) handleCreateSession(c *gin.Context) {
	var req types.CreateSessionRequest
	// an empty body selects the default preferences
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "Invalid request format")
		return
	}

	s, err := h.sessions.Create(c.Request.Context(), req.UserPreferences, c.Request.UserAgent())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, types.NewSessionResponse(s))
}

func (h *handlers) handleGetSession(c *gin.Context) {
	s, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.NewSessionResponse(s))
}

func (h *handlers) handleDeleteSession(c *gin.Context) {
	if err := h.sessions.End(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) handleUploadAudio(c *gin.Context) {
	sessionID := c.Param("id")

	fileHeader, err := c.FormFile(audioFormField)
	if err != nil {
		badRequest(c, "Missing "+audioFormField+" form file")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		badRequest(c, "Unreadable "+audioFormField+" form file")
		return
	}
	defer file.Close()

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	rec, err := h.sessions.UploadAudio(c.Request.Context(), sessionID, fileHeader.Filename, mimeType, file, fileHeader.Size)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, types.AudioUploadResponse{
		SessionID: sessionID,
		FileName:  rec.FileName,
		SizeMB:    rec.FileSizeMB(),
		MimeType:  rec.MimeType,
		Recording: *rec,
	})
}

func (h *handlers) handleStartProcessing(c *gin.Context) {
	sessionID := c.Param("id")

	var req types.ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "Invalid request format")
		return
	}

	status, err := h.sessions.StartProcessing(c.Request.Context(), sessionID, "Starting processing...")
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, types.ProcessResponse{
		TaskID:    status.TaskID,
		SessionID: sessionID,
		Status:    status.Status,
		Message:   "Processing started",
	})
}

func (h *handlers) handleGetStatus(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")

	s, err := h.sessions.Get(ctx, sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	data, err := h.sessions.Data(ctx, sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.StatusResponse{SessionID: s.ID, State: s.State, Data: data})
}

func (h *handlers) handleGetUsage(c *gin.Context) {
	usage, err := h.sessions.Usage(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}

// handleDownloadFile streams files/<path> chunk by chunk
func (h *handlers) handleDownloadFile(c *gin.Context) {
	sessionID := c.Param("id")
	relPath := strings.TrimPrefix(c.Param("path"), "/")

	stream, err := h.sessions.OpenFileStream(c.Request.Context(), sessionID, relPath)
	if errors.Is(err, fs.ErrNotExist) {
		c.JSON(http.StatusNotFound, types.ErrorResponse{Error: types.ErrorDetail{
			Code:      "FILE_NOT_FOUND",
			Message:   "file not found: " + relPath,
			Timestamp: time.Now().UTC(),
		}})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	defer stream.Close()

	c.Header("Content-Type", "application/octet-stream")
	c.Status(http.StatusOK)
	for chunk, err := range stream.All() {
		if err != nil {
			log.Error().Err(err).Str("session_id", sessionID).Str("path", relPath).Msg("file stream failed")
			return
		}
		if _, err := c.Writer.Write(chunk); err != nil {
			log.Debug().Err(err).Str("session_id", sessionID).Msg("client went away during download")
			return
		}
		c.Writer.Flush()
	}
}
