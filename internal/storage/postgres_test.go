package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/legalsathi/internal/models"
	"go.uber.org/zap"
)

func newMockPostgres(t *testing.T) (*PostgresStorage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &PostgresStorage{db: db, logger: zap.NewNop()}, mock
}

var (
	lockQuery    = regexp.QuoteMeta(`SELECT id FROM conversations WHERE id = $1 FOR UPDATE`)
	nextQuery    = regexp.QuoteMeta(`SELECT COALESCE(MAX(turn) + 1, 0) FROM messages WHERE conversation_id = $1`)
	lastQuery    = regexp.QuoteMeta(`SELECT MAX(turn) FROM messages WHERE conversation_id = $1`)
	insertExec   = regexp.QuoteMeta(`INSERT INTO messages`)
	replaceExec  = regexp.QuoteMeta(`UPDATE messages`)
	touchExec    = regexp.QuoteMeta(`UPDATE conversations`)
	historyQuery = `(?s)SELECT q.conversation_id, q.content, q.file_name.*JOIN messages a.*LIMIT \$2`
)

func expectLock(mock sqlmock.Sqlmock, id string) {
	mock.ExpectQuery(lockQuery).WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id))
}

func TestPostgresStorage_AppendTurn(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

	t.Run("inserts both messages in one transaction", func(t *testing.T) {
		s, mock := newMockPostgres(t)
		tr := turn("Draft an NDA", "Here it is", at)
		tr.User.Task = models.TaskDraft

		mock.ExpectBegin()
		expectLock(mock, "c1")
		mock.ExpectQuery(nextQuery).WithArgs("c1").
			WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(int64(2)))
		mock.ExpectExec(insertExec).
			WithArgs("c1", int64(2), "user", "Draft an NDA", "", "", "draft", "", "", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(insertExec).
			WithArgs("c1", int64(2), "assistant", "Here it is", "complete", "", "", "", "", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectExec(touchExec).WithArgs("c1", "Draft an NDA").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, s.AppendTurn(ctx, "c1", tr))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when the reply insert fails", func(t *testing.T) {
		s, mock := newMockPostgres(t)

		mock.ExpectBegin()
		expectLock(mock, "c1")
		mock.ExpectQuery(nextQuery).WithArgs("c1").
			WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(int64(0)))
		mock.ExpectExec(insertExec).WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(insertExec).WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := s.AppendTurn(ctx, "c1", turn("q", "a", at))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown conversation", func(t *testing.T) {
		s, mock := newMockPostgres(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectRollback()

		assert.ErrorIs(t, s.AppendTurn(ctx, "missing", turn("q", "a", at)), ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid turn never reaches the database", func(t *testing.T) {
		s, mock := newMockPostgres(t)
		assert.ErrorIs(t, s.AppendTurn(ctx, "c1", turn(" ", "a", at)), ErrInvalidTurn)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStorage_ReplaceLastTurn(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

	t.Run("replaces the last pair", func(t *testing.T) {
		s, mock := newMockPostgres(t)

		mock.ExpectBegin()
		expectLock(mock, "c1")
		mock.ExpectQuery(lastQuery).WithArgs("c1").
			WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(1)))
		mock.ExpectExec(replaceExec).
			WithArgs("c1", int64(1), "user", "q2", "", "", "", "", "", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(replaceExec).
			WithArgs("c1", int64(1), "assistant", "a2 again", "complete", "", "", "", "", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(touchExec).WithArgs("c1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, s.ReplaceLastTurn(ctx, "c1", 2, turn("q2", "a2 again", at)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("conflict when a turn was added meanwhile", func(t *testing.T) {
		s, mock := newMockPostgres(t)

		mock.ExpectBegin()
		expectLock(mock, "c1")
		mock.ExpectQuery(lastQuery).WithArgs("c1").
			WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(2)))
		mock.ExpectRollback()

		assert.ErrorIs(t, s.ReplaceLastTurn(ctx, "c1", 2, turn("q2", "a2 again", at)), ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no turns", func(t *testing.T) {
		s, mock := newMockPostgres(t)

		mock.ExpectBegin()
		expectLock(mock, "c1")
		mock.ExpectQuery(lastQuery).WithArgs("c1").
			WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
		mock.ExpectRollback()

		assert.ErrorIs(t, s.ReplaceLastTurn(ctx, "c1", 1, turn("q", "a", at)), ErrNoTurns)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStorage_UserHistory(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	columns := []string{"conversation_id", "question", "file_name", "reply", "pdf", "created_at"}

	t.Run("no limit binds NULL", func(t *testing.T) {
		s, mock := newMockPostgres(t)
		mock.ExpectQuery(historyQuery).WithArgs("u1", nil).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow("c1", "Uploaded lease.txt (summarize)", "lease.txt", "summary", "ab12cd34.pdf", at).
				AddRow("c1", "What is RERA?", "", "RERA is...", "", at.Add(-time.Minute)))

		entries, err := s.UserHistory(ctx, "u1", 0)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "lease.txt", entries[0].FileName)
		assert.Equal(t, "ab12cd34.pdf", entries[0].PDF)
		assert.Equal(t, "What is RERA?", entries[1].Message)
		assert.Empty(t, entries[1].FileName)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("positive limit is bound", func(t *testing.T) {
		s, mock := newMockPostgres(t)
		mock.ExpectQuery(historyQuery).WithArgs("u1", int64(5)).
			WillReturnRows(sqlmock.NewRows(columns))

		entries, err := s.UserHistory(ctx, "u1", 5)
		require.NoError(t, err)
		assert.NotNil(t, entries)
		assert.Empty(t, entries)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
