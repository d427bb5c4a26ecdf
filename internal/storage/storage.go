package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaenox/legalsathi/internal/models"
	"go.uber.org/zap"
)

var (
	ErrNotFound    = errors.New("conversation not found")
	ErrNoTurns     = errors.New("conversation has no turns")
	ErrInvalidTurn = errors.New("turn must pair a non-empty user message with an assistant reply")
	ErrConflict    = errors.New("conversation changed concurrently")
)

// Storage persists conversations and upload artifacts.
// Turns are written atomically so a user message never exists without its reply.
type Storage interface {
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	// Embed TurnStorage interface
	TurnStorage

	SaveUpload(ctx context.Context, upload *models.Upload) error
	ListUploads(ctx context.Context, userID string) ([]*models.Upload, error)

	UserHistory(ctx context.Context, userID string, limit int) ([]models.HistoryEntry, error)

	Ping(ctx context.Context) error
	Close() error
}

type TurnStorage interface {
	// AppendTurn adds a turn, bumps updated_at and sets the title if it is still empty
	AppendTurn(ctx context.Context, conversationID string, turn models.Turn) error
	// ReplaceLastTurn swaps the final user/assistant pair. It returns ErrConflict
	// unless the conversation still holds exactly expectedTurns turns.
	ReplaceLastTurn(ctx context.Context, conversationID string, expectedTurns int, turn models.Turn) error
}

// DatabaseConfig selects and configures the backend
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MongoURI string
	MongoDB  string
}

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// New opens the backend named by config.Driver
func New(ctx context.Context, config DatabaseConfig, logger *zap.Logger) (Storage, error) {
	switch config.Driver {
	case DriverMemory, "":
		logger.Info("Using in-memory storage")
		return NewMemoryStorage(), nil
	case DriverPostgres:
		logger.Info("Using PostgreSQL storage")
		return NewPostgresStorage(ctx, config, logger)
	case DriverMongo:
		logger.Info("Using MongoDB storage")
		return NewMongoStorage(ctx, config, logger)
	default:
		return nil, fmt.Errorf("unknown database driver %q", config.Driver)
	}
}
