package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xaenox/legalsathi/internal/models"
)

type MemoryStorage struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	uploads       []*models.Upload
	now           func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		conversations: make(map[string]*models.Conversation),
		now:           time.Now,
	}
}

func (s *MemoryStorage) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}
	s.conversations[conv.ID] = cloneConversation(conv)
	return nil
}

func (s *MemoryStorage) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, exists := s.conversations[id]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneConversation(conv), nil
}

func (s *MemoryStorage) ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Conversation, 0)
	for _, conv := range s.conversations {
		if conv.UserID != userID {
			continue
		}
		summary := *conv
		summary.Messages = nil
		out = append(out, &summary)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStorage) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[id]; !exists {
		return ErrNotFound
	}
	delete(s.conversations, id)
	return nil
}

func (s *MemoryStorage) AppendTurn(ctx context.Context, conversationID string, turn models.Turn) error {
	if !turn.Valid() {
		return ErrInvalidTurn
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[conversationID]
	if !exists {
		return ErrNotFound
	}
	conv.Messages = append(conv.Messages, turn.User, turn.Assistant)
	if conv.Title == "" {
		conv.Title = models.NewTitle(turn.User.Content)
	}
	conv.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStorage) ReplaceLastTurn(ctx context.Context, conversationID string, expectedTurns int, turn models.Turn) error {
	if !turn.Valid() {
		return ErrInvalidTurn
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[conversationID]
	if !exists {
		return ErrNotFound
	}
	n := len(conv.Messages)
	if n < 2 {
		return ErrNoTurns
	}
	if n/2 != expectedTurns {
		return ErrConflict
	}
	conv.Messages[n-2] = turn.User
	conv.Messages[n-1] = turn.Assistant
	conv.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStorage) SaveUpload(ctx context.Context, upload *models.Upload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if upload.CreatedAt.IsZero() {
		upload.CreatedAt = s.now()
	}
	cp := *upload
	s.uploads = append(s.uploads, &cp)
	return nil
}

func (s *MemoryStorage) ListUploads(ctx context.Context, userID string) ([]*models.Upload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Upload, 0)
	for _, u := range s.uploads {
		if u.UserID == userID {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStorage) UserHistory(ctx context.Context, userID string, limit int) ([]models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]models.HistoryEntry, 0)
	for _, conv := range s.conversations {
		if conv.UserID == userID {
			entries = append(entries, models.ConversationHistory(conv)...)
		}
	}
	return models.SortHistory(entries, limit), nil
}

func (s *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

func cloneConversation(c *models.Conversation) *models.Conversation {
	cp := *c
	cp.Messages = append([]models.Message(nil), c.Messages...)
	return &cp
}
