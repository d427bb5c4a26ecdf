package chat

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xaenox/legalsathi/internal/extract"
	"github.com/xaenox/legalsathi/internal/models"
	"go.uber.org/zap"
)

type UploadRequest struct {
	UserID         string
	ConversationID string
	FileName       string
	Task           models.Task
	Data           []byte
}

type UploadReply struct {
	Reply          string `json:"reply"`
	PDFURL         string `json:"pdf_url,omitempty"`
	ConversationID string `json:"conv_id"`
	FileName       string `json:"file_name"`
}

// Upload analyses a document with the requested task. The analysis is added
// to the conversation as a turn and recorded in the user's library.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*UploadReply, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.FileName = filepath.Base(strings.TrimSpace(req.FileName))
	if req.UserID == "" {
		return nil, invalid("user_id is required")
	}
	if req.FileName == "" || req.FileName == "." || len(req.Data) == 0 {
		return nil, invalid("file is required")
	}
	if req.Task == "" {
		req.Task = models.TaskSummarize
	}
	if !validTask(req.Task) {
		return nil, invalid("unknown task %q", req.Task)
	}

	text, err := extract.Text(req.FileName, req.Data)
	if err != nil {
		s.logger.Warn("Failed to extract upload text",
			zap.Error(err),
			zap.String("user_id", req.UserID),
			zap.String("file", req.FileName))
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, invalid("no readable text in %s", req.FileName)
	}
	text = truncateRunes(text, s.cfg.MaxUploadChars)

	conv, isNew, err := s.resolve(ctx, req.UserID, req.ConversationID)
	if err != nil {
		return nil, err
	}

	asked := s.now()
	reply, err := s.complete(ctx, s.prompt(conv, text, req.Task))
	if err != nil {
		s.logger.Error("Failed to analyse upload",
			zap.Error(err),
			zap.String("user_id", req.UserID),
			zap.String("file", req.FileName))
		return nil, err
	}

	pdf := s.renderPDF(conv.ID, reply)
	user := question(fmt.Sprintf("Uploaded %s (%s)", req.FileName, req.Task), req.Task, asked)
	user.FileName = req.FileName
	user.Attachment = text
	if err := s.persistTurn(ctx, conv, isNew, s.newTurn(user, reply, pdf, models.StatusComplete)); err != nil {
		return nil, err
	}

	upload := &models.Upload{
		ID:             s.newID(),
		UserID:         req.UserID,
		ConversationID: conv.ID,
		FileName:       req.FileName,
		Task:           req.Task,
		Reply:          reply,
		PDF:            pdf,
	}
	// the turn is already stored; a missing library entry must not make the client retry
	if err := s.store.SaveUpload(ctx, upload); err != nil {
		s.logger.Error("Failed to record upload in library",
			zap.Error(err),
			zap.String("user_id", req.UserID),
			zap.String("conversation_id", conv.ID),
			zap.String("file", req.FileName))
	}

	s.logger.Info("Upload analysed",
		zap.String("user_id", req.UserID),
		zap.String("conversation_id", conv.ID),
		zap.String("file", req.FileName),
		zap.String("task", string(req.Task)),
		zap.Int("chars", len(text)))
	return &UploadReply{
		Reply:          reply,
		PDFURL:         pdfURL(pdf),
		ConversationID: conv.ID,
		FileName:       req.FileName,
	}, nil
}
