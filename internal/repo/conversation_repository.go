package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradepost/internal/db"
	"tradepost/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type conversationRepository struct {
	mongoRepo *db.Repository[model.Conversation]
	logger    *zap.Logger
}

// ConversationRepository persists conversation documents and owns the
// per-conversation sequence counter.
type ConversationRepository interface {
	EnsureIndexes(ctx context.Context) error
	GetByID(ctx context.Context, conversationID string) (*model.Conversation, error)
	GetOrCreate(ctx context.Context, conv *model.Conversation) (*model.Conversation, bool, error)
	ListForUser(ctx context.Context, userID string) ([]model.Conversation, error)
	NextSeq(ctx context.Context, conversationID primitive.ObjectID) (int64, error)
	ReleaseSeq(ctx context.Context, conversationID primitive.ObjectID, seq int64) error
	SetLastMessage(ctx context.Context, conversationID primitive.ObjectID, last *model.LastMessage) error
	SetRiskText(ctx context.Context, conversationID primitive.ObjectID, riskText string) error
}

func NewConversationRepository(repo *db.Repository[model.Conversation], logger *zap.Logger) ConversationRepository {
	return &conversationRepository{
		mongoRepo: repo,
		logger:    logger,
	}
}

func (r *conversationRepository) EnsureIndexes(ctx context.Context) error {
	return r.mongoRepo.EnsureIndexes(ctx, []mongo.IndexModel{
		{
			Keys:    db.NewFilter().Eq("listing_id", 1).Eq("buyer_id", 1).Eq("seller_id", 1).Build(),
			Options: options.Index().SetUnique(true),
		},
		{Keys: db.NewFilter().Eq("buyer_id", 1).Build()},
		{Keys: db.NewFilter().Eq("seller_id", 1).Build()},
	})
}

// GetByID fetches a conversation document by its hex ID.
func (r *conversationRepository) GetByID(ctx context.Context, conversationID string) (*model.Conversation, error) {
	if conversationID == "" {
		return nil, ErrInvalidConvID
	}

	ctx, cancel := r.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	conv, err := r.mongoRepo.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) || errors.Is(err, primitive.ErrInvalidHex) {
			return nil, model.ErrNotFound
		}
		r.logger.Error("failed to fetch conversation",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("fetch conversation: %w", err)
	}

	return conv, nil
}

// GetOrCreate returns the thread for the (listing, buyer, seller) triple,
// creating it lazily on first contact. The unique triple index resolves a
// concurrent create: the loser re-reads the winner's document.
func (r *conversationRepository) GetOrCreate(ctx context.Context, conv *model.Conversation) (*model.Conversation, bool, error) {
	ctx, cancel := r.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := r.keyFilter(conv)

	existing, err := r.mongoRepo.FindOne(ctx, filter)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, fmt.Errorf("lookup conversation: %w", err)
	}

	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	conv.IsActive = true

	result, err := r.mongoRepo.Create(ctx, *conv)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			winner, ferr := r.mongoRepo.FindOne(ctx, filter)
			if ferr != nil {
				return nil, false, fmt.Errorf("refetch conversation after race: %w", ferr)
			}
			return winner, false, nil
		}
		r.logger.Error("failed to create conversation",
			zap.String("listing_id", conv.ListingID),
			zap.Error(err),
		)
		return nil, false, fmt.Errorf("create conversation: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		conv.ID = oid
	}

	r.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID.Hex()),
		zap.String("listing_id", conv.ListingID),
		zap.String("buyer_id", conv.BuyerID),
		zap.String("seller_id", conv.SellerID),
	)
	return conv, true, nil
}

// ListForUser returns the user's conversations, most recently active first.
func (r *conversationRepository) ListForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	ctx, cancel := r.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Or(
			db.NewFilter().Eq("buyer_id", userID).Build(),
			db.NewFilter().Eq("seller_id", userID).Build(),
		).
		Build()

	opts := options.Find().SetSort(db.NewFilter().Eq("updated_at", -1).Build())

	convs, err := r.mongoRepo.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("failed to list conversations", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	return convs, nil
}

// NextSeq atomically advances and returns the conversation's sequence
// counter. Called only while holding the conversation's writer lock.
func (r *conversationRepository) NextSeq(ctx context.Context, conversationID primitive.ObjectID) (int64, error) {
	ctx, cancel := r.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("_id", conversationID).Build()
	update := bson.M{
		"$inc": bson.M{"last_seq": 1},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}

	conv, err := r.mongoRepo.FindOneAndUpdate(ctx, filter, update)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, model.ErrNotFound
		}
		return 0, fmt.Errorf("advance sequence: %w", err)
	}

	return conv.LastSeq, nil
}

// ReleaseSeq hands an unused sequence slot back after a failed append, so the
// log stays gapless. The decrement is conditional on the counter still
// sitting at seq: when another writer advanced past us the slot stays burned
// rather than corrupting the counter.
func (r *conversationRepository) ReleaseSeq(ctx context.Context, conversationID primitive.ObjectID, seq int64) error {
	ctx, cancel := r.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("_id", conversationID).
		Eq("last_seq", seq).
		Build()
	update := bson.M{"$inc": bson.M{"last_seq": -1}}

	if _, err := r.mongoRepo.FindOneAndUpdate(ctx, filter, update); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			r.logger.Debug("sequence slot already overtaken, not released",
				zap.String("conversation_id", conversationID.Hex()),
				zap.Int64("seq", seq),
			)
			return nil
		}
		return fmt.Errorf("release sequence: %w", err)
	}
	return nil
}

func (r *conversationRepository) SetLastMessage(ctx context.Context, conversationID primitive.ObjectID, last *model.LastMessage) error {
	ctx, cancel := r.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("_id", conversationID).Build()
	update := db.NewFilter().
		Eq("last_message", last).
		Eq("updated_at", time.Now().UTC()).
		Build()

	if _, err := r.mongoRepo.Update(ctx, filter, update); err != nil {
		return fmt.Errorf("set last message: %w", err)
	}
	return nil
}

func (r *conversationRepository) SetRiskText(ctx context.Context, conversationID primitive.ObjectID, riskText string) error {
	ctx, cancel := r.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("_id", conversationID).Build()
	update := db.NewFilter().Eq("risk_text", riskText).Build()

	if _, err := r.mongoRepo.Update(ctx, filter, update); err != nil {
		return fmt.Errorf("set risk text: %w", err)
	}
	return nil
}

func (r *conversationRepository) keyFilter(conv *model.Conversation) bson.M {
	return db.NewFilter().
		Eq("listing_id", conv.ListingID).
		Eq("buyer_id", conv.BuyerID).
		Eq("seller_id", conv.SellerID).
		Build()
}

func (r *conversationRepository) ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
