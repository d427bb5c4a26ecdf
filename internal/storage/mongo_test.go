package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/legalsathi/internal/models"
	"go.uber.org/zap"
)

// newTestMongo connects to the server named by MONGODB_TEST_URI and drops its
// scratch database afterwards. Without the variable the test is skipped.
func newTestMongo(t *testing.T) *MongoStorage {
	t.Helper()
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	name := "legalsathi_test_" + uuid.NewString()[:8]
	s, err := NewMongoStorage(ctx, DatabaseConfig{MongoURI: uri, MongoDB: name}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.client.Database(name).Drop(context.Background())
		_ = s.Close()
	})
	return s
}

func TestMongoStorage_AppendTurn(t *testing.T) {
	s := newTestMongo(t)
	ctx := context.Background()
	at := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateConversation(ctx, &models.Conversation{ID: "c1", UserID: "u1"}))
	require.NoError(t, s.AppendTurn(ctx, "c1", turn("$where is the stamp duty?", "In Maharashtra it is...", at)))
	require.NoError(t, s.AppendTurn(ctx, "c1", turn("and in Goa?", "$ amounts differ", at.Add(time.Minute))))

	conv, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 4)
	assert.Equal(t, "$where is the stamp duty?", conv.Messages[0].Content)
	assert.Equal(t, "$ amounts differ", conv.Messages[3].Content)
	assert.Equal(t, "$where is the stamp duty?", conv.Title, "title comes from the first turn only")

	assert.ErrorIs(t, s.AppendTurn(ctx, "missing", turn("q", "a", at)), ErrNotFound)
}

func TestMongoStorage_ReplaceLastTurn(t *testing.T) {
	s := newTestMongo(t)
	ctx := context.Background()
	at := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateConversation(ctx, &models.Conversation{ID: "c1", UserID: "u1"}))
	assert.ErrorIs(t, s.ReplaceLastTurn(ctx, "c1", 0, turn("q", "a", at)), ErrNoTurns)
	assert.ErrorIs(t, s.ReplaceLastTurn(ctx, "missing", 1, turn("q", "a", at)), ErrNotFound)

	require.NoError(t, s.AppendTurn(ctx, "c1", turn("q1", "a1", at)))
	require.NoError(t, s.AppendTurn(ctx, "c1", turn("q2", "a2", at)))

	assert.ErrorIs(t, s.ReplaceLastTurn(ctx, "c1", 1, turn("q1", "a1 again", at)), ErrConflict)
	require.NoError(t, s.ReplaceLastTurn(ctx, "c1", 2, turn("q2", "a2 again", at)))

	conv, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 4)
	assert.Equal(t, "a1", conv.Messages[1].Content)
	assert.Equal(t, "q2", conv.Messages[2].Content)
	assert.Equal(t, "a2 again", conv.Messages[3].Content)
}

func TestMongoStorage_HistoryCarriesUploadFileName(t *testing.T) {
	s := newTestMongo(t)
	ctx := context.Background()
	at := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateConversation(ctx, &models.Conversation{ID: "c1", UserID: "u1"}))
	up := turn("Uploaded lease.txt (explain)", "explained", at.Add(time.Minute))
	up.User.FileName = "lease.txt"
	up.User.Attachment = "CLAUSE 7: tenant shall pay rent"
	require.NoError(t, s.AppendTurn(ctx, "c1", turn("hi", "hello", at)))
	require.NoError(t, s.AppendTurn(ctx, "c1", up))

	history, err := s.UserHistory(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "lease.txt", history[0].FileName)

	conv, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "CLAUSE 7: tenant shall pay rent", conv.Messages[2].Attachment)
}
