package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/xaenox/legalsathi/internal/classifier"
	"github.com/xaenox/legalsathi/internal/llm"
	"github.com/xaenox/legalsathi/internal/metrics"
	"github.com/xaenox/legalsathi/internal/models"
	"github.com/xaenox/legalsathi/internal/storage"
	"github.com/xaenox/legalsathi/internal/stream"
	"go.uber.org/zap"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
	ErrUpstream       = errors.New("language model unavailable")
	ErrConflict       = errors.New("conversation changed")
)

const (
	DefaultHistoryTurns   = 6
	DefaultMaxUploadChars = 8000
	DownloadPrefix        = "/download/"
)

type Config struct {
	// HistoryTurns is how many earlier turns go into the prompt
	HistoryTurns   int
	MaxUploadChars int
}

// PDFSaver renders a reply and returns the stored file name
type PDFSaver interface {
	Save(text string) (string, error)
}

type Request struct {
	UserID         string      `json:"user_id"`
	Message        string      `json:"message"`
	ConversationID string      `json:"conv_id,omitempty"`
	Task           models.Task `json:"task,omitempty"`
}

type Reply struct {
	ConversationID string `json:"conv_id"`
	Reply          string `json:"reply"`
	PDFURL         string `json:"pdf_url,omitempty"`
}

// Service owns conversation state: every reply the API or bot hands out goes through it
type Service struct {
	store      storage.Storage
	llm        llm.Provider
	classifier classifier.Classifier
	pdfs       PDFSaver
	metrics    *metrics.Metrics
	cfg        Config
	logger     *zap.Logger

	newID func() string
	now   func() time.Time
}

// NewService wires the chat service. pdfs may be nil, in which case replies carry no PDF.
func NewService(store storage.Storage, provider llm.Provider, cls classifier.Classifier, pdfs PDFSaver, m *metrics.Metrics, cfg Config, logger *zap.Logger) *Service {
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = DefaultHistoryTurns
	}
	if cfg.MaxUploadChars <= 0 {
		cfg.MaxUploadChars = DefaultMaxUploadChars
	}
	if m == nil {
		m = metrics.New()
	}
	return &Service{
		store:      store,
		llm:        provider,
		classifier: cls,
		pdfs:       pdfs,
		metrics:    m,
		cfg:        cfg,
		logger:     logger,
		newID:      uuid.NewString,
		now:        time.Now,
	}
}

// Model names the language model replies come from
func (s *Service) Model() string {
	return s.llm.Model()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func (r *Request) normalize() error {
	r.UserID = strings.TrimSpace(r.UserID)
	if r.UserID == "" {
		return invalid("user_id is required")
	}
	if strings.TrimSpace(r.Message) == "" {
		return invalid("message is required")
	}
	if r.Task != "" && !validTask(r.Task) {
		return invalid("unknown task %q", r.Task)
	}
	return nil
}

func validTask(t models.Task) bool {
	switch t {
	case models.TaskSummarize, models.TaskExplain, models.TaskDraft, models.TaskReview:
		return true
	}
	return false
}

// owned loads a conversation and hides it from anyone but its owner.
// An empty userID skips the owner check.
func (s *Service) owned(ctx context.Context, id, userID string) (*models.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if userID != "" && conv.UserID != userID {
		return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, id)
	}
	return conv, nil
}

// resolve returns the target conversation. Without an id a fresh conversation
// is returned unsaved; persistTurn creates it together with its first turn.
func (s *Service) resolve(ctx context.Context, userID, convID string) (conv *models.Conversation, isNew bool, err error) {
	if convID == "" {
		return &models.Conversation{ID: s.newID(), UserID: userID}, true, nil
	}
	conv, err = s.owned(ctx, convID, userID)
	return conv, false, err
}

// history converts the last HistoryTurns turns into prompt messages
func (s *Service) history(turns []models.Turn) []llm.Message {
	if len(turns) > s.cfg.HistoryTurns {
		turns = turns[len(turns)-s.cfg.HistoryTurns:]
	}
	msgs := make([]llm.Message, 0, 2*len(turns))
	for _, t := range turns {
		msgs = append(msgs,
			llm.Message{Role: llm.RoleUser, Content: t.User.Content},
			llm.Message{Role: llm.RoleAssistant, Content: t.Assistant.Content})
	}
	return msgs
}

func (s *Service) prompt(conv *models.Conversation, content string, task models.Task) []llm.Message {
	cls := s.classifier.Classify(content, task)
	s.logger.Debug("Message classified",
		zap.String("conversation_id", conv.ID),
		zap.String("intent", string(cls.Intent)),
		zap.String("jurisdiction", cls.Jurisdiction),
		zap.String("style", cls.Style))
	return classifier.BuildPrompt(cls, s.history(conv.Turns()), content)
}

func (s *Service) complete(ctx context.Context, msgs []llm.Message) (string, error) {
	start := time.Now()
	reply, err := s.llm.Complete(ctx, msgs)
	s.metrics.LLMDuration.WithLabelValues("complete").Observe(time.Since(start).Seconds())
	if err == nil && strings.TrimSpace(reply) == "" {
		err = llm.ErrEmptyResponse
	}
	if err != nil {
		s.metrics.LLMRequestsTotal.WithLabelValues("complete", "error").Inc()
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	s.metrics.LLMRequestsTotal.WithLabelValues("complete", "ok").Inc()
	return reply, nil
}

// renderPDF is best effort: a failed render leaves the reply without a download
func (s *Service) renderPDF(convID, reply string) string {
	if s.pdfs == nil || strings.TrimSpace(reply) == "" {
		return ""
	}
	name, err := s.pdfs.Save(reply)
	if err != nil {
		s.logger.Warn("Failed to render PDF",
			zap.Error(err),
			zap.String("conversation_id", convID))
		return ""
	}
	return name
}

func question(content string, task models.Task, asked time.Time) models.Message {
	return models.Message{
		Role:      models.RoleUser,
		Content:   content,
		Task:      task,
		CreatedAt: asked,
	}
}

func (s *Service) newTurn(user models.Message, reply, pdf string, status models.MessageStatus) models.Turn {
	return models.Turn{
		User:      user,
		Assistant: models.Message{
			Role:      models.RoleAssistant,
			Content:   reply,
			Status:    status,
			PDF:       pdf,
			CreatedAt: s.now(),
		},
	}
}

func (s *Service) persistTurn(ctx context.Context, conv *models.Conversation, isNew bool, turn models.Turn) error {
	if isNew {
		if err := s.store.CreateConversation(ctx, conv); err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
	}
	if err := s.store.AppendTurn(ctx, conv.ID, turn); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	s.metrics.TurnsPersistedTotal.WithLabelValues(string(turn.Assistant.Status)).Inc()
	return nil
}

func pdfURL(name string) string {
	if name == "" {
		return ""
	}
	return DownloadPrefix + name
}

// Send answers one message and stores the question with its reply.
// If the model fails nothing is stored, so the caller can retry with the same input.
func (s *Service) Send(ctx context.Context, req Request) (*Reply, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	conv, isNew, err := s.resolve(ctx, req.UserID, req.ConversationID)
	if err != nil {
		return nil, err
	}

	asked := s.now()
	reply, err := s.complete(ctx, s.prompt(conv, req.Message, req.Task))
	if err != nil {
		s.logger.Error("Failed to get reply",
			zap.Error(err),
			zap.String("user_id", req.UserID),
			zap.String("conversation_id", conv.ID))
		return nil, err
	}

	pdf := s.renderPDF(conv.ID, reply)
	turn := s.newTurn(question(req.Message, req.Task, asked), reply, pdf, models.StatusComplete)
	if err := s.persistTurn(ctx, conv, isNew, turn); err != nil {
		s.logger.Error("Failed to save turn",
			zap.Error(err),
			zap.String("conversation_id", conv.ID))
		return nil, err
	}

	s.logger.Info("Reply sent",
		zap.String("user_id", req.UserID),
		zap.String("conversation_id", conv.ID),
		zap.Int("reply_len", len(reply)))
	return &Reply{ConversationID: conv.ID, Reply: reply, PDFURL: pdfURL(pdf)}, nil
}

// chunkError marks a failure of the caller's chunk callback, as opposed to the model's stream
type chunkError struct{ err error }

func (e *chunkError) Error() string { return e.err.Error() }
func (e *chunkError) Unwrap() error { return e.err }

// Stream answers like Send but hands every fragment to onChunk as it arrives.
//
// When the model finishes, the turn is stored and the reply returned. When ctx
// is cancelled or onChunk fails, the partial reply is stored as interrupted and
// the cause is returned. When the model stream breaks, nothing is stored and a
// retryable *stream.Error wrapping ErrUpstream is returned.
func (s *Service) Stream(ctx context.Context, req Request, onChunk func(string) error) (*Reply, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	conv, isNew, err := s.resolve(ctx, req.UserID, req.ConversationID)
	if err != nil {
		return nil, err
	}

	asked := s.now()
	acc := stream.NewAccumulator()
	start := time.Now()
	err = s.llm.Stream(ctx, s.prompt(conv, req.Message, req.Task), func(delta string) error {
		if err := acc.Append(delta); err != nil {
			return err
		}
		s.metrics.StreamChunksTotal.Inc()
		if err := onChunk(delta); err != nil {
			return &chunkError{err: err}
		}
		return nil
	})
	s.metrics.LLMDuration.WithLabelValues("stream").Observe(time.Since(start).Seconds())

	var ce *chunkError
	switch {
	case err == nil:
		reply := acc.Content()
		if strings.TrimSpace(reply) == "" {
			acc.Fail(llm.ErrEmptyResponse)
			s.metrics.LLMRequestsTotal.WithLabelValues("stream", "error").Inc()
			return nil, &stream.Error{Err: fmt.Errorf("%w: %v", ErrUpstream, llm.ErrEmptyResponse), Retryable: true}
		}
		s.metrics.LLMRequestsTotal.WithLabelValues("stream", "ok").Inc()

		pdf := s.renderPDF(conv.ID, reply)
		if err := s.persistTurn(ctx, conv, isNew, s.newTurn(question(req.Message, req.Task, asked), reply, pdf, models.StatusComplete)); err != nil {
			acc.Fail(err)
			s.logger.Error("Failed to save streamed turn",
				zap.Error(err),
				zap.String("conversation_id", conv.ID))
			return nil, err
		}
		if err := acc.Finish(conv.ID); err != nil {
			return nil, err
		}
		s.logger.Info("Streamed reply sent",
			zap.String("user_id", req.UserID),
			zap.String("conversation_id", conv.ID),
			zap.Int("reply_len", len(reply)))
		return &Reply{ConversationID: conv.ID, Reply: reply, PDFURL: pdfURL(pdf)}, nil

	case ctx.Err() != nil || errors.As(err, &ce):
		acc.Abort()
		s.metrics.LLMRequestsTotal.WithLabelValues("stream", "aborted").Inc()
		cause := err
		if ctx.Err() != nil {
			cause = ctx.Err()
		}

		// the request context is gone; keep its values but not its cancellation
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		turn := s.newTurn(question(req.Message, req.Task, asked), acc.Content(), "", models.StatusInterrupted)
		if perr := s.persistTurn(saveCtx, conv, isNew, turn); perr != nil {
			s.logger.Error("Failed to save interrupted turn",
				zap.Error(perr),
				zap.String("conversation_id", conv.ID))
			return nil, errors.Join(cause, perr)
		}
		s.logger.Info("Stream interrupted by client",
			zap.String("conversation_id", conv.ID),
			zap.Int("partial_len", len(acc.Content())))
		return &Reply{ConversationID: conv.ID, Reply: acc.Content()}, cause

	default:
		acc.Fail(err)
		s.metrics.LLMRequestsTotal.WithLabelValues("stream", "error").Inc()
		s.logger.Error("Completion stream failed",
			zap.Error(err),
			zap.String("conversation_id", conv.ID),
			zap.Int("partial_len", len(acc.Content())))
		return nil, &stream.Error{Err: fmt.Errorf("%w: %v", ErrUpstream, err), Retryable: true}
	}
}

// Regenerate asks the last question of a conversation again and replaces its reply.
// Upload turns are re-asked with the stored document text and task. If another
// turn lands while the model is answering, nothing is replaced and ErrConflict is returned.
func (s *Service) Regenerate(ctx context.Context, convID, userID string) (*Reply, error) {
	conv, err := s.owned(ctx, convID, userID)
	if err != nil {
		return nil, err
	}
	turns := conv.Turns()
	if len(turns) == 0 {
		return nil, invalid("conversation %s has no turns", convID)
	}
	last := turns[len(turns)-1]

	prior := *conv
	prior.Messages = conv.Messages[:2*(len(turns)-1)]
	reply, err := s.complete(ctx, s.prompt(&prior, last.User.Input(), last.User.Task))
	if err != nil {
		s.logger.Error("Failed to regenerate reply",
			zap.Error(err),
			zap.String("conversation_id", convID))
		return nil, err
	}

	pdf := s.renderPDF(conv.ID, reply)
	turn := s.newTurn(last.User, reply, pdf, models.StatusComplete)
	err = s.store.ReplaceLastTurn(ctx, conv.ID, len(turns), turn)
	switch {
	case errors.Is(err, storage.ErrNoTurns):
		return nil, invalid("conversation %s has no turns", convID)
	case errors.Is(err, storage.ErrConflict):
		s.logger.Warn("Conversation changed during regenerate", zap.String("conversation_id", convID))
		return nil, fmt.Errorf("%w: conversation %s has a newer turn", ErrConflict, convID)
	case errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, convID)
	case err != nil:
		return nil, fmt.Errorf("replace last turn: %w", err)
	}
	s.metrics.TurnsPersistedTotal.WithLabelValues(string(models.StatusComplete)).Inc()

	s.logger.Info("Reply regenerated", zap.String("conversation_id", conv.ID))
	return &Reply{ConversationID: conv.ID, Reply: reply, PDFURL: pdfURL(pdf)}, nil
}

// NewConversation creates an empty conversation for the user
func (s *Service) NewConversation(ctx context.Context, userID string) (*models.Conversation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalid("user_id is required")
	}
	conv := &models.Conversation{ID: s.newID(), UserID: userID}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func (s *Service) Conversation(ctx context.Context, id, userID string) (*models.Conversation, error) {
	return s.owned(ctx, id, userID)
}

func (s *Service) Conversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	convs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

func (s *Service) History(ctx context.Context, userID string, limit int) ([]models.HistoryEntry, error) {
	entries, err := s.store.UserHistory(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("user history: %w", err)
	}
	return entries, nil
}

// Library lists the documents a user has uploaded
func (s *Service) Library(ctx context.Context, userID string) ([]*models.Upload, error) {
	uploads, err := s.store.ListUploads(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	return uploads, nil
}

func (s *Service) Delete(ctx context.Context, id, userID string) error {
	if _, err := s.owned(ctx, id, userID); err != nil {
		return err
	}
	err := s.store.DeleteConversation(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: conversation %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	s.logger.Info("Conversation deleted", zap.String("conversation_id", id))
	return nil
}

// truncateRunes cuts s to at most n runes
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
