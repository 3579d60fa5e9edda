package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xiaot623/teamdesk/internal/domain"
)

// MongoStore implements Store on MongoDB. Messages are embedded in the chat
// document and appended with $push.
type MongoStore struct {
	client *mongo.Client
	users  *mongo.Collection
	chats  *mongo.Collection
	tasks  *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore connects to uri, selects database and ensures indexes.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client: client,
		users:  db.Collection("users"),
		chats:  db.Collection("chats"),
		tasks:  db.Collection("tasks"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.chats.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "participantKey", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "updatedAt", Value: -1}}},
	})
	return err
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) UpsertUser(ctx context.Context, user *domain.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.users.ReplaceOne(ctx, bson.M{"_id": user.ID}, user, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var u domain.User
	if err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&u); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *MongoStore) GetUsers(ctx context.Context, userIDs []string) ([]domain.User, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	return s.findUsers(ctx, bson.M{"_id": bson.M{"$in": userIDs}})
}

func (s *MongoStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.findUsers(ctx, bson.M{})
}

func (s *MongoStore) findUsers(ctx context.Context, filter bson.M) ([]domain.User, error) {
	cur, err := s.users.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var users []domain.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *MongoStore) CreateChat(ctx context.Context, chat *domain.Chat) error {
	if chat.ParticipantKey == "" {
		chat.ParticipantKey = domain.ParticipantKey(chat.Participants)
	}
	if chat.Messages == nil {
		chat.Messages = []domain.Message{}
	}
	if _, err := s.chats.InsertOne(ctx, chat); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

func (s *MongoStore) GetChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	return s.findChat(ctx, bson.M{"_id": chatID})
}

func (s *MongoStore) FindChatByParticipantKey(ctx context.Context, key string) (*domain.Chat, error) {
	return s.findChat(ctx, bson.M{"participantKey": key})
}

func (s *MongoStore) findChat(ctx context.Context, filter bson.M) (*domain.Chat, error) {
	var chat domain.Chat
	if err := s.chats.FindOne(ctx, filter).Decode(&chat); err != nil {
		return nil, notFound(err)
	}
	return &chat, nil
}

func (s *MongoStore) ListChatsForUser(ctx context.Context, userID string) ([]domain.Chat, error) {
	cur, err := s.chats.Find(ctx, bson.M{"participants": userID},
		options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	var chats []domain.Chat
	if err := cur.All(ctx, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// AppendMessage pushes msg onto the chat's message array. A single-document
// update is atomic, so concurrent senders never lose each other's messages.
func (s *MongoStore) AppendMessage(ctx context.Context, chatID string, msg *domain.Message) error {
	res, err := s.chats.UpdateOne(ctx, bson.M{"_id": chatID}, bson.M{
		"$push": bson.M{"messages": msg},
		"$set":  bson.M{"updatedAt": msg.Timestamp},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *MongoStore) ListMessages(ctx context.Context, chatID string, limit, skip int) ([]domain.Message, int, error) {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return nil, 0, err
	}
	start, end := window(len(chat.Messages), limit, skip)
	return append([]domain.Message{}, chat.Messages[start:end]...), len(chat.Messages), nil
}

func (s *MongoStore) CreateTask(ctx context.Context, task *domain.Task) error {
	if _, err := s.tasks.InsertOne(ctx, task); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

func (s *MongoStore) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	var task domain.Task
	if err := s.tasks.FindOne(ctx, bson.M{"_id": taskID}).Decode(&task); err != nil {
		return nil, notFound(err)
	}
	if task.Assignees == nil {
		task.Assignees = []string{}
	}
	return &task, nil
}

func (s *MongoStore) UpdateTask(ctx context.Context, task *domain.Task) error {
	res, err := s.tasks.ReplaceOne(ctx, bson.M{"_id": task.ID}, task)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.ErrNotFound
	}
	return err
}
