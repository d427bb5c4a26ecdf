package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xaenox/legalsathi/internal/chat"
	"github.com/xaenox/legalsathi/internal/extract"
	"github.com/xaenox/legalsathi/internal/gst"
	"github.com/xaenox/legalsathi/internal/models"
	"github.com/xaenox/legalsathi/internal/pdf"
	"github.com/xaenox/legalsathi/internal/stream"
	"go.uber.org/zap"
)

// fail maps service errors to status codes. Internal errors are logged and not echoed.
func (s *Server) fail(c *gin.Context, err error) {
	var (
		status = http.StatusInternalServerError
		msg    = "internal server error"
		tooBig *http.MaxBytesError
	)
	switch {
	case errors.Is(err, chat.ErrInvalidRequest), errors.Is(err, extract.ErrUnsupported),
		errors.Is(err, gst.ErrInvalidRate), errors.Is(err, gst.ErrNegativeAmount):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, chat.ErrNotFound):
		status, msg = http.StatusNotFound, "conversation not found"
	case errors.Is(err, chat.ErrConflict):
		status, msg = http.StatusConflict, "conversation has a newer message, reload and try again"
	case errors.As(err, &tooBig):
		status, msg = http.StatusRequestEntityTooLarge, "file too large"
	case errors.Is(err, chat.ErrUpstream):
		status, msg = http.StatusBadGateway, "the AI service is unavailable, please try again"
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.Error(err),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString(requestIDKey)))
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func (s *Server) health(c *gin.Context) {
	if err := s.chat.Ping(c.Request.Context()); err != nil {
		s.logger.Warn("Storage ping failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "storage unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "model": s.chat.Model()})
}

func (s *Server) history(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	entries, err := s.chat.History(c.Request.Context(), c.Param("uid"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) library(c *gin.Context) {
	uploads, err := s.chat.Library(c.Request.Context(), c.Param("uid"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, uploads)
}

func (s *Server) conversations(c *gin.Context) {
	convs, err := s.chat.Conversations(c.Request.Context(), c.Param("uid"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, convs)
}

func (s *Server) conversation(c *gin.Context) {
	conv, err := s.chat.Conversation(c.Request.Context(), c.Param("id"), c.Query("uid"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if conv.Messages == nil {
		conv.Messages = []models.Message{}
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) deleteConversation(c *gin.Context) {
	if err := s.chat.Delete(c.Request.Context(), c.Param("id"), c.Query("uid")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) regenerate(c *gin.Context) {
	uid := c.Query("uid")
	if !s.allow(c, uid) {
		return
	}
	reply, err := s.chat.Regenerate(c.Request.Context(), c.Param("id"), uid)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (s *Server) newChat(c *gin.Context) {
	conv, err := s.chat.NewConversation(c.Request.Context(), c.Param("uid"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "conv_id": conv.ID})
}

func bindChat(c *gin.Context) (chat.Request, bool) {
	var req chat.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return req, false
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Message) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Missing user_id or message"})
		return req, false
	}
	return req, true
}

func (s *Server) sendChat(c *gin.Context) {
	req, ok := bindChat(c)
	if !ok || !s.allow(c, req.UserID) {
		return
	}

	reply, err := s.chat.Send(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

// streamChat relays the reply as server-sent events: chunk frames, then done or error.
// Errors found before the first frame are answered as plain JSON.
func (s *Server) streamChat(c *gin.Context) {
	req, ok := bindChat(c)
	if !ok || !s.allow(c, req.UserID) {
		return
	}

	started := false
	begin := func() {
		if started {
			return
		}
		started = true
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
	}
	emit := func(event string, frame stream.Frame) error {
		begin()
		c.SSEvent(event, frame)
		if c.IsAborted() {
			return errClientGone
		}
		c.Writer.Flush()
		return nil
	}

	reply, err := s.chat.Stream(c.Request.Context(), req, func(chunk string) error {
		return emit(stream.EventChunk, stream.Frame{Chunk: chunk})
	})

	var se *stream.Error
	switch {
	case err == nil:
		_ = emit(stream.EventDone, stream.Frame{Done: true, ConvID: reply.ConversationID, PDFURL: reply.PDFURL})
	case c.Request.Context().Err() != nil || errors.Is(err, errClientGone):
		s.logger.Info("Client left during stream",
			zap.String("user_id", req.UserID),
			zap.String("request_id", c.GetString(requestIDKey)))
	case errors.As(err, &se):
		s.logger.Warn("Stream failed",
			zap.Error(err),
			zap.String("user_id", req.UserID))
		_ = emit(stream.EventError, stream.Frame{
			Error:     "the AI service stopped responding, please retry",
			Retryable: se.Retryable,
		})
	case !started:
		s.fail(c, err)
	default:
		s.logger.Error("Stream failed after first chunk", zap.Error(err))
		_ = emit(stream.EventError, stream.Frame{Error: "internal server error"})
	}
}

var errClientGone = errors.New("client connection closed")

func (s *Server) upload(c *gin.Context) {
	if c.Request.ContentLength > s.cfg.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)

	// FormFile parses the whole form, so it has to run before PostForm
	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing user_id or file"})
		return
	}
	userID := strings.TrimSpace(c.PostForm("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing user_id or file"})
		return
	}
	if !s.allow(c, userID) {
		return
	}

	f, err := fh.Open()
	if err != nil {
		s.fail(c, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		s.fail(c, err)
		return
	}

	reply, err := s.chat.Upload(c.Request.Context(), chat.UploadRequest{
		UserID:         userID,
		ConversationID: c.PostForm("conv_id"),
		FileName:       fh.Filename,
		Task:           models.Task(c.DefaultPostForm("task", string(models.TaskSummarize))),
		Data:           data,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (s *Server) gstCalc(c *gin.Context) {
	var in gst.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	out, err := gst.Calculate(in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) gstTips(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tips": gst.Tips()})
}

func (s *Server) download(c *gin.Context) {
	name := c.Param("filename")
	f, err := s.pdfs.Open(name)
	switch {
	case errors.Is(err, pdf.ErrInvalidName):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file name"})
		return
	case errors.Is(err, pdf.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	case err != nil:
		s.fail(c, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeContent(c.Writer, c.Request, name, info.ModTime(), f)
}
