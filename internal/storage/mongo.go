package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/xaenox/legalsathi/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const (
	conversationsCollection = "conversations"
	uploadsCollection       = "uploads"
)

// MongoStorage keeps one document per conversation with its messages embedded
type MongoStorage struct {
	client        *mongo.Client
	conversations *mongo.Collection
	uploads       *mongo.Collection
	logger        *zap.Logger
}

func NewMongoStorage(ctx context.Context, config DatabaseConfig, logger *zap.Logger) (*MongoStorage, error) {
	opts := options.Client().
		ApplyURI(config.MongoURI).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("error pinging mongodb: %w", err)
	}

	db := client.Database(config.MongoDB)
	s := &MongoStorage{
		client:        client,
		conversations: db.Collection(conversationsCollection),
		uploads:       db.Collection(uploadsCollection),
		logger:        logger,
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logger.Info("Connected to MongoDB", zap.String("database", config.MongoDB))
	return s, nil
}

func (s *MongoStorage) ensureIndexes(ctx context.Context) error {
	userUpdated := mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "updated_at", Value: -1}},
	}
	if _, err := s.conversations.Indexes().CreateOne(ctx, userUpdated); err != nil {
		return fmt.Errorf("error creating conversation index: %w", err)
	}
	userCreated := mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
	}
	if _, err := s.uploads.Indexes().CreateOne(ctx, userCreated); err != nil {
		return fmt.Errorf("error creating upload index: %w", err)
	}
	return nil
}

func (s *MongoStorage) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}

	doc := *conv
	if doc.Messages == nil {
		// $push needs an array, not null
		doc.Messages = []models.Message{}
	}
	if _, err := s.conversations.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("error creating conversation: %w", err)
	}
	return nil
}

func (s *MongoStorage) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying conversation: %w", err)
	}
	return &conv, nil
}

func (s *MongoStorage) ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetProjection(bson.M{"messages": 0})

	cursor, err := s.conversations.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("error querying conversations: %w", err)
	}
	convs := make([]*models.Conversation, 0)
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, fmt.Errorf("error decoding conversations: %w", err)
	}
	return convs, nil
}

func (s *MongoStorage) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.conversations.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("error deleting conversation: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStorage) AppendTurn(ctx context.Context, conversationID string, turn models.Turn) error {
	if !turn.Valid() {
		return ErrInvalidTurn
	}

	// One pipeline update appends the pair and fills an empty title together.
	// Values are wrapped in $literal so user text starting with '$' is not read as a field path.
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "messages", Value: bson.D{{Key: "$concatArrays", Value: bson.A{
				bson.D{{Key: "$ifNull", Value: bson.A{"$messages", bson.A{}}}},
				bson.D{{Key: "$literal", Value: []models.Message{turn.User, turn.Assistant}}},
			}}}},
			{Key: "title", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$eq", Value: bson.A{bson.D{{Key: "$ifNull", Value: bson.A{"$title", ""}}}, ""}}},
				bson.D{{Key: "$literal", Value: models.NewTitle(turn.User.Content)}},
				"$title",
			}}}},
			{Key: "updated_at", Value: time.Now().UTC()},
		}}},
	}
	res, err := s.conversations.UpdateOne(ctx, bson.M{"_id": conversationID}, update)
	if err != nil {
		return fmt.Errorf("error appending turn: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStorage) ReplaceLastTurn(ctx context.Context, conversationID string, expectedTurns int, turn models.Turn) error {
	if !turn.Valid() {
		return ErrInvalidTurn
	}

	if expectedTurns > 0 {
		n := 2 * expectedTurns
		// Guard on the array length so a concurrent append is not overwritten
		filter := bson.M{
			"_id":                           conversationID,
			"messages." + strconv.Itoa(n-1): bson.M{"$exists": true},
			"messages." + strconv.Itoa(n):   bson.M{"$exists": false},
		}
		update := bson.M{"$set": bson.M{
			"messages." + strconv.Itoa(n-2): turn.User,
			"messages." + strconv.Itoa(n-1): turn.Assistant,
			"updated_at":                    time.Now().UTC(),
		}}
		res, err := s.conversations.UpdateOne(ctx, filter, update)
		if err != nil {
			return fmt.Errorf("error replacing turn: %w", err)
		}
		if res.MatchedCount == 1 {
			return nil
		}
	}

	// Nothing matched: report why
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if len(conv.Messages) < 2 {
		return ErrNoTurns
	}
	return ErrConflict
}

func (s *MongoStorage) SaveUpload(ctx context.Context, upload *models.Upload) error {
	if upload.CreatedAt.IsZero() {
		upload.CreatedAt = time.Now().UTC()
	}
	if _, err := s.uploads.InsertOne(ctx, upload); err != nil {
		return fmt.Errorf("error saving upload: %w", err)
	}
	return nil
}

func (s *MongoStorage) ListUploads(ctx context.Context, userID string) ([]*models.Upload, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := s.uploads.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("error querying uploads: %w", err)
	}
	uploads := make([]*models.Upload, 0)
	if err := cursor.All(ctx, &uploads); err != nil {
		return nil, fmt.Errorf("error decoding uploads: %w", err)
	}
	return uploads, nil
}

func (s *MongoStorage) UserHistory(ctx context.Context, userID string, limit int) ([]models.HistoryEntry, error) {
	cursor, err := s.conversations.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("error querying history: %w", err)
	}
	var convs []*models.Conversation
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, fmt.Errorf("error decoding history: %w", err)
	}

	entries := make([]models.HistoryEntry, 0)
	for _, conv := range convs {
		entries = append(entries, models.ConversationHistory(conv)...)
	}
	return models.SortHistory(entries, limit), nil
}

func (s *MongoStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
