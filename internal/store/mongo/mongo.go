// Package mongo implements the document store on MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-platform/internal/model"
	"github.com/capitalize-ai/chat-platform/internal/store"
	"github.com/capitalize-ai/chat-platform/pkg/logger"
)

const (
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
	usersCollection         = "users"
)

// Config holds MongoDB connection configuration.
type Config struct {
	URI      string
	Database string
}

// Store implements the conversation, message and user stores on MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *logger.Logger
	now    func() time.Time
}

// Connect opens a client, pings the server and ensures indexes.
func Connect(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &Store{
		client: client,
		db:     client.Database(cfg.Database),
		logger: logger.OrNop(log).Named("mongo"),
		now:    time.Now,
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// EnsureIndexes creates the indexes the service queries rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		conversationsCollection: {
			{Keys: bson.D{{Key: "members", Value: 1}}},
			{Keys: bson.D{{Key: "type", Value: 1}, {Key: "moderate", Value: 1}}},
			{Keys: bson.D{{Key: "last_message.date", Value: -1}}},
			{Keys: bson.D{{Key: "community", Value: 1}}, Options: options.Index().SetSparse(true)},
			{Keys: bson.D{{Key: "creator", Value: 1}}},
			{
				Keys: bson.D{{Key: "default_channel", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.M{"default_channel": bson.M{"$exists": true}}),
			},
		},
		messagesCollection: {
			{Keys: bson.D{{Key: "channel", Value: 1}, {Key: "timestamps.creation", Value: -1}}},
			{Keys: bson.D{{Key: "creator", Value: 1}}},
		},
	}
	for name, models := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes for %s: %w", name, err)
		}
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks the server connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) conversations() *mongo.Collection { return s.db.Collection(conversationsCollection) }
func (s *Store) messages() *mongo.Collection      { return s.db.Collection(messagesCollection) }
func (s *Store) users() *mongo.Collection         { return s.db.Collection(usersCollection) }

// InsertConversation stores a new conversation.
func (s *Store) InsertConversation(ctx context.Context, c *model.Conversation) error {
	doc, err := toConversationDoc(c)
	if err != nil {
		return fmt.Errorf("invalid conversation id %q: %w", c.ID, err)
	}
	if _, err := s.conversations().InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

// GetConversation returns the conversation with the given id.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, store.ErrNotFound
	}
	var doc conversationDoc
	if err := s.conversations().FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return doc.toModel(), nil
}

// FindConversations returns conversations matching f, most recent message first.
func (s *Store) FindConversations(ctx context.Context, f model.ConversationFilter) ([]*model.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_message.date", Value: -1}})
	cur, err := s.conversations().Find(ctx, conversationFilter(f), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find conversations: %w", err)
	}
	var docs []conversationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	out := make([]*model.Conversation, len(docs))
	for i, d := range docs {
		out[i] = d.toModel()
	}
	return out, nil
}

// ListConversations returns one page of conversations, newest first.
func (s *Store) ListConversations(ctx context.Context, opts model.ListOptions) ([]*model.Conversation, int64, error) {
	filter := bson.M{}
	if opts.Creator != "" {
		filter["creator"] = opts.Creator
	}
	total, err := s.conversations().CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "timestamps.creation", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(opts.Skip()))
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	cur, err := s.conversations().Find(ctx, filter, findOpts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list conversations: %w", err)
	}
	var docs []conversationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("failed to decode conversations: %w", err)
	}
	out := make([]*model.Conversation, len(docs))
	for i, d := range docs {
		out[i] = d.toModel()
	}
	return out, total, nil
}

// UpdateConversation applies u in one atomic document update and returns
// the updated document.
func (s *Store) UpdateConversation(ctx context.Context, id string, u store.ConversationUpdate) (*model.Conversation, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, store.ErrNotFound
	}
	filter := bson.M{"_id": oid}
	if u.ExpectVersion != nil {
		filter["version"] = *u.ExpectVersion
	}

	var doc conversationDoc
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err = s.conversations().FindOneAndUpdate(ctx, filter, conversationUpdate(u, s.now()), opts).Decode(&doc)
	if err == nil {
		return doc.toModel(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}
	if u.ExpectVersion != nil {
		n, countErr := s.conversations().CountDocuments(ctx, bson.M{"_id": oid})
		if countErr != nil {
			return nil, fmt.Errorf("failed to check conversation: %w", countErr)
		}
		if n > 0 {
			return nil, store.ErrVersionConflict
		}
	}
	return nil, store.ErrNotFound
}

// EnsureChannel returns the oldest open conversation with c's moderation
// flag, inserting c when there is none. Inserts are keyed on a unique
// default_channel marker so concurrent first calls converge on one channel.
func (s *Store) EnsureChannel(ctx context.Context, c *model.Conversation) (*model.Conversation, error) {
	doc, err := toConversationDoc(c)
	if err != nil {
		return nil, fmt.Errorf("invalid conversation id %q: %w", c.ID, err)
	}

	var out conversationDoc
	existing := bson.M{"type": string(model.TypeOpen), "moderate": c.Moderate}
	findOpts := options.FindOne().SetSort(bson.D{{Key: "timestamps.creation", Value: 1}})
	err = s.conversations().FindOne(ctx, existing, findOpts).Decode(&out)
	if err == nil {
		return out.toModel(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to find channel: %w", err)
	}

	filter, update := channelUpsert(doc)
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err = s.conversations().FindOneAndUpdate(ctx, filter, update, opts).Decode(&out)
	if mongo.IsDuplicateKeyError(err) {
		err = s.conversations().FindOne(ctx, filter).Decode(&out)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to ensure channel: %w", err)
	}
	return out.toModel(), nil
}

// DeleteConversation deletes the conversation only if memberID belongs to it.
func (s *Store) DeleteConversation(ctx context.Context, id, memberID string) (*model.Conversation, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, store.ErrNotFound
	}
	var doc conversationDoc
	err = s.conversations().FindOneAndDelete(ctx, bson.M{"_id": oid, "members": memberID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to delete conversation: %w", err)
	}
	return doc.toModel(), nil
}

// InsertMessage stores a new message.
func (s *Store) InsertMessage(ctx context.Context, m *model.Message) error {
	doc, err := toMessageDoc(m)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", m.ID, err)
	}
	if _, err := s.messages().InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// FindMessages returns messages of one conversation, newest first.
func (s *Store) FindMessages(ctx context.Context, f store.MessageFilter) ([]*model.Message, error) {
	filter := bson.M{"channel": f.Channel}
	if !f.IncludeModerated {
		filter["moderate"] = false
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamps.creation", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(f.Offset))
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	return s.findMessages(ctx, filter, opts)
}

// ListMessages returns one page of messages across conversations, newest first.
func (s *Store) ListMessages(ctx context.Context, opts model.ListOptions) ([]*model.Message, int64, error) {
	filter := bson.M{}
	if opts.Creator != "" {
		filter["creator"] = opts.Creator
	}
	total, err := s.messages().CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}
	findOpts := options.Find().
		SetSort(bson.D{{Key: "timestamps.creation", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(opts.Skip()))
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	list, err := s.findMessages(ctx, filter, findOpts)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (s *Store) findMessages(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]*model.Message, error) {
	cur, err := s.messages().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find messages: %w", err)
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	out := make([]*model.Message, len(docs))
	for i, d := range docs {
		out[i] = d.toModel()
	}
	return out, nil
}

// SetMessageModerate flips the moderation flag of one message.
func (s *Store) SetMessageModerate(ctx context.Context, id string, moderate bool) (*model.Message, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, store.ErrNotFound
	}
	var doc messageDoc
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err = s.messages().FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"moderate": moderate}}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to moderate message: %w", err)
	}
	return doc.toModel(), nil
}

// DeleteMessages removes every message of a conversation.
func (s *Store) DeleteMessages(ctx context.Context, channel string) (int64, error) {
	res, err := s.messages().DeleteMany(ctx, bson.M{"channel": channel})
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}
	s.logger.Debug("messages deleted",
		zap.String("conversation_id", channel),
		zap.Int64("count", res.DeletedCount))
	return res.DeletedCount, nil
}

// LookupUsers returns the known users among ids.
func (s *Store) LookupUsers(ctx context.Context, ids []string) (map[string]model.User, error) {
	oids := make(bson.A, 0, len(ids))
	for _, id := range ids {
		if oid, err := bson.ObjectIDFromHex(id); err == nil {
			oids = append(oids, oid)
		}
	}
	out := make(map[string]model.User, len(oids))
	if len(oids) == 0 {
		return out, nil
	}
	cur, err := s.users().Find(ctx, bson.M{"_id": bson.M{"$in": oids}})
	if err != nil {
		return nil, fmt.Errorf("failed to find users: %w", err)
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	for _, d := range docs {
		u := d.toModel()
		out[u.ID] = u
	}
	return out, nil
}
