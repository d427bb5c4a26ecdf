package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/xaenox/legalsathi/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations.sql
var migrations embed.FS

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(ctx context.Context, config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db, logger: logger}

	// Initialize database schema
	if err := storage.initializeSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	logger.Info("Connected to PostgreSQL",
		zap.String("host", config.Host),
		zap.String("database", config.DBName))
	return storage, nil
}

func (s *PostgresStorage) initializeSchema(ctx context.Context) error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err = s.db.ExecContext(ctx, string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	return nil
}

func (s *PostgresStorage) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	query := `
		INSERT INTO conversations (id, user_id, title)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query, conv.ID, conv.UserID, conv.Title).
		Scan(&conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating conversation: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, created_at, updated_at
		FROM conversations
		WHERE id = $1`, id).
		Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying conversation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, status, pdf, task, file_name, attachment, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY turn, CASE role WHEN 'user' THEN 0 ELSE 1 END`, id)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg models.Message
		err := rows.Scan(&msg.Role, &msg.Content, &msg.Status, &msg.PDF,
			&msg.Task, &msg.FileName, &msg.Attachment, &msg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return conv, nil
}

func (s *PostgresStorage) ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, created_at, updated_at
		FROM conversations
		WHERE user_id = $1
		ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying conversations: %w", err)
	}
	defer rows.Close()

	convs := make([]*models.Conversation, 0)
	for rows.Next() {
		conv := &models.Conversation{}
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

func (s *PostgresStorage) DeleteConversation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error deleting conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStorage) AppendTurn(ctx context.Context, conversationID string, turn models.Turn) error {
	if !turn.Valid() {
		return ErrInvalidTurn
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockConversation(ctx, tx, conversationID); err != nil {
			return err
		}

		var next int
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(turn) + 1, 0) FROM messages WHERE conversation_id = $1`,
			conversationID).Scan(&next)
		if err != nil {
			return fmt.Errorf("error reading turn counter: %w", err)
		}

		insert := `
			INSERT INTO messages (conversation_id, turn, role, content, status, pdf, task, file_name, attachment, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
		for _, msg := range []models.Message{turn.User, turn.Assistant} {
			if _, err := tx.ExecContext(ctx, insert, conversationID, next,
				msg.Role, msg.Content, msg.Status, msg.PDF, msg.Task, msg.FileName, msg.Attachment, msg.CreatedAt); err != nil {
				return fmt.Errorf("error inserting %s message: %w", msg.Role, err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE conversations
			SET updated_at = NOW(),
			    title = CASE WHEN title = '' THEN $2 ELSE title END
			WHERE id = $1`, conversationID, models.NewTitle(turn.User.Content))
		if err != nil {
			return fmt.Errorf("error updating conversation: %w", err)
		}
		return nil
	})
}

func (s *PostgresStorage) ReplaceLastTurn(ctx context.Context, conversationID string, expectedTurns int, turn models.Turn) error {
	if !turn.Valid() {
		return ErrInvalidTurn
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockConversation(ctx, tx, conversationID); err != nil {
			return err
		}

		var last sql.NullInt64
		err := tx.QueryRowContext(ctx,
			`SELECT MAX(turn) FROM messages WHERE conversation_id = $1`,
			conversationID).Scan(&last)
		if err != nil {
			return fmt.Errorf("error reading turn counter: %w", err)
		}
		if !last.Valid {
			return ErrNoTurns
		}
		// turns are numbered from zero
		if last.Int64+1 != int64(expectedTurns) {
			return ErrConflict
		}

		update := `
			UPDATE messages
			SET content = $4, status = $5, pdf = $6, task = $7, file_name = $8, attachment = $9, created_at = $10
			WHERE conversation_id = $1 AND turn = $2 AND role = $3`
		for _, msg := range []models.Message{turn.User, turn.Assistant} {
			if _, err := tx.ExecContext(ctx, update, conversationID, last.Int64,
				msg.Role, msg.Content, msg.Status, msg.PDF, msg.Task, msg.FileName, msg.Attachment, msg.CreatedAt); err != nil {
				return fmt.Errorf("error replacing %s message: %w", msg.Role, err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = NOW() WHERE id = $1`, conversationID); err != nil {
			return fmt.Errorf("error updating conversation: %w", err)
		}
		return nil
	})
}

func (s *PostgresStorage) SaveUpload(ctx context.Context, upload *models.Upload) error {
	query := `
		INSERT INTO uploads (id, user_id, conversation_id, file_name, task, reply, pdf)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	err := s.db.QueryRowContext(ctx, query,
		upload.ID,
		upload.UserID,
		upload.ConversationID,
		upload.FileName,
		upload.Task,
		upload.Reply,
		upload.PDF,
	).Scan(&upload.CreatedAt)
	if err != nil {
		return fmt.Errorf("error saving upload: %w", err)
	}
	return nil
}

func (s *PostgresStorage) ListUploads(ctx context.Context, userID string) ([]*models.Upload, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, conversation_id, file_name, task, reply, pdf, created_at
		FROM uploads
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying uploads: %w", err)
	}
	defer rows.Close()

	uploads := make([]*models.Upload, 0)
	for rows.Next() {
		u := &models.Upload{}
		err := rows.Scan(
			&u.ID,
			&u.UserID,
			&u.ConversationID,
			&u.FileName,
			&u.Task,
			&u.Reply,
			&u.PDF,
			&u.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning upload: %w", err)
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

func (s *PostgresStorage) UserHistory(ctx context.Context, userID string, limit int) ([]models.HistoryEntry, error) {
	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT q.conversation_id, q.content, q.file_name, a.content, a.pdf, a.created_at
		FROM messages q
		JOIN messages a
		  ON a.conversation_id = q.conversation_id AND a.turn = q.turn AND a.role = 'assistant'
		JOIN conversations c ON c.id = q.conversation_id
		WHERE c.user_id = $1 AND q.role = 'user'
		ORDER BY a.created_at DESC
		LIMIT $2`, userID, lim)
	if err != nil {
		return nil, fmt.Errorf("error querying history: %w", err)
	}
	defer rows.Close()

	entries := make([]models.HistoryEntry, 0)
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.ConversationID, &e.Message, &e.FileName, &e.Reply, &e.PDF, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("error scanning history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func (s *PostgresStorage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}

func lockConversation(ctx context.Context, tx *sql.Tx, id string) error {
	var found string
	err := tx.QueryRowContext(ctx, `SELECT id FROM conversations WHERE id = $1 FOR UPDATE`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("error locking conversation: %w", err)
	}
	return nil
}
