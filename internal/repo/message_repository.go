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

var (
	ErrMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
	ErrInvalidMessage     = errors.New("invalid message: message cannot be nil")
	ErrInvalidConvID      = errors.New("invalid conversation ID: cannot be empty")
	ErrOperationTimeout   = errors.New("operation timeout exceeded")
)

const (
	// Timeouts
	defaultWriteTimeout = 5 * time.Second
	defaultReadTimeout  = 30 * time.Second

	// Retry configuration
	maxRetries     = 3
	baseRetryDelay = 100 * time.Millisecond
	maxRetryDelay  = 2 * time.Second

	defaultThreadPageSize = 50
	maxThreadPageSize     = 200
)

type messageRepository struct {
	mongoRepo *db.Repository[model.Message]
	logger    *zap.Logger
}

// MessageRepository is the durable, ordered message log. Append relies on the
// unique (conversation_id, seq) index: a concurrent append that already took
// the sequence slot surfaces as model.ErrConflict.
type MessageRepository interface {
	EnsureIndexes(ctx context.Context) error
	Append(ctx context.Context, msg *model.Message) (string, error)
	Thread(ctx context.Context, conversationID primitive.ObjectID, afterSeq int64, limit int64) ([]model.Message, error)
	LatestOffer(ctx context.Context, conversationID primitive.ObjectID) (*model.Message, error)
	LatestOfferByID(ctx context.Context, offerID string) (*model.Message, error)
	LatestDeal(ctx context.Context, conversationID primitive.ObjectID) (*model.Message, error)
	LatestDealByID(ctx context.Context, dealID string) (*model.Message, error)
	CountUnread(ctx context.Context, conversationID primitive.ObjectID, userID string) (int64, error)
	MarkRead(ctx context.Context, conversationID primitive.ObjectID, userID string) (int64, error)
}

func NewMessageRepository(repo *db.Repository[model.Message], logger *zap.Logger) MessageRepository {
	return &messageRepository{
		mongoRepo: repo,
		logger:    logger,
	}
}

func (m *messageRepository) EnsureIndexes(ctx context.Context) error {
	return m.mongoRepo.EnsureIndexes(ctx, []mongo.IndexModel{
		{
			Keys:    db.NewFilter().Eq("conversation_id", 1).Eq("seq", 1).Build(),
			Options: options.Index().SetUnique(true),
		},
		{Keys: db.NewFilter().Eq("offer.offer_id", 1).Eq("seq", 1).Build()},
		{Keys: db.NewFilter().Eq("escrow.deal_id", 1).Eq("seq", 1).Build()},
		{Keys: db.NewFilter().Eq("conversation_id", 1).Eq("receiver_id", 1).Eq("read", 1).Build()},
	})
}

// -----------------------------------------------------------------------------
// Append
// -----------------------------------------------------------------------------

func (m *messageRepository) Append(ctx context.Context, msg *model.Message) (string, error) {
	if err := m.validateMessage(msg); err != nil {
		return "", err
	}

	ctx, cancel := m.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := m.waitForRetry(ctx, attempt); err != nil {
				return "", err
			}
		}

		result, err := m.mongoRepo.Create(ctx, *msg)
		if err == nil {
			insertedID := ""
			if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
				insertedID = oid.Hex()
				msg.ID = oid
			}

			m.logger.Debug("message appended",
				zap.String("inserted_id", insertedID),
				zap.String("conversation_id", msg.ConversationID.Hex()),
				zap.Int64("seq", msg.Seq),
				zap.String("kind", msg.Kind),
			)
			return insertedID, nil
		}

		// A duplicate (conversation_id, seq) means a concurrent append won
		// the slot. Never retried here: the caller must re-read state.
		if mongo.IsDuplicateKeyError(err) {
			m.logger.Warn("append lost the sequence race",
				zap.String("conversation_id", msg.ConversationID.Hex()),
				zap.Int64("seq", msg.Seq),
			)
			return "", model.ErrConflict
		}

		lastErr = err
		if !m.isRetryableError(err) {
			break
		}

		m.logger.Warn("append attempt failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxRetries),
		)
	}

	m.logger.Error("failed to append message after all retries",
		zap.Error(lastErr),
		zap.String("conversation_id", msg.ConversationID.Hex()),
	)

	return "", fmt.Errorf("append message: %w", model.ErrUnavailable)
}

// -----------------------------------------------------------------------------
// Thread
// -----------------------------------------------------------------------------

// Thread returns messages with seq > afterSeq in ascending sequence order.
func (m *messageRepository) Thread(ctx context.Context, conversationID primitive.ObjectID, afterSeq int64, limit int64) ([]model.Message, error) {
	ctx, cancel := m.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	if limit < 1 {
		limit = defaultThreadPageSize
	}
	if limit > maxThreadPageSize {
		limit = maxThreadPageSize
	}

	filter := db.NewFilter().
		Eq("conversation_id", conversationID).
		Gt("seq", afterSeq).
		Build()

	opts := options.Find().
		SetSort(db.NewFilter().Eq("seq", 1).Build()).
		SetLimit(limit)

	msgs, err := m.mongoRepo.Find(ctx, filter, opts)
	if err != nil {
		return nil, m.handleReadError(err, conversationID.Hex())
	}

	return msgs, nil
}

// -----------------------------------------------------------------------------
// Materialized state lookups
// -----------------------------------------------------------------------------

// LatestOffer returns the most recent offer-carrying system message in the
// conversation, or nil when the conversation has never seen an offer.
func (m *messageRepository) LatestOffer(ctx context.Context, conversationID primitive.ObjectID) (*model.Message, error) {
	filter := db.NewFilter().
		Eq("conversation_id", conversationID).
		Eq("kind", model.KindSystem).
		Exists("offer", true).
		Build()
	return m.latest(ctx, filter)
}

func (m *messageRepository) LatestOfferByID(ctx context.Context, offerID string) (*model.Message, error) {
	filter := db.NewFilter().Eq("offer.offer_id", offerID).Build()
	return m.latest(ctx, filter)
}

// LatestDeal returns the most recent escrow-carrying system message in the
// conversation. One conversation maps to one (listing, buyer) pair, so this
// is also the latest state of that pair's deal.
func (m *messageRepository) LatestDeal(ctx context.Context, conversationID primitive.ObjectID) (*model.Message, error) {
	filter := db.NewFilter().
		Eq("conversation_id", conversationID).
		Eq("kind", model.KindSystem).
		Exists("escrow", true).
		Build()
	return m.latest(ctx, filter)
}

func (m *messageRepository) LatestDealByID(ctx context.Context, dealID string) (*model.Message, error) {
	filter := db.NewFilter().Eq("escrow.deal_id", dealID).Build()
	return m.latest(ctx, filter)
}

func (m *messageRepository) latest(ctx context.Context, filter bson.M) (*model.Message, error) {
	ctx, cancel := m.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	opts := options.FindOne().SetSort(db.NewFilter().Eq("seq", -1).Build())

	msg, err := m.mongoRepo.FindOne(ctx, filter, opts)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest system message: %w", err)
	}
	return msg, nil
}

// -----------------------------------------------------------------------------
// Read receipts
// -----------------------------------------------------------------------------

func (m *messageRepository) CountUnread(ctx context.Context, conversationID primitive.ObjectID, userID string) (int64, error) {
	ctx, cancel := m.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("conversation_id", conversationID).
		Eq("receiver_id", userID).
		Eq("read", false).
		Build()

	return m.mongoRepo.Count(ctx, filter)
}

func (m *messageRepository) MarkRead(ctx context.Context, conversationID primitive.ObjectID, userID string) (int64, error) {
	ctx, cancel := m.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("conversation_id", conversationID).
		Eq("receiver_id", userID).
		Eq("read", false).
		Build()

	result, err := m.mongoRepo.UpdateMany(ctx, filter, db.NewFilter().Eq("read", true).Build())
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}

	m.logger.Debug("messages marked read",
		zap.String("conversation_id", conversationID.Hex()),
		zap.String("user_id", userID),
		zap.Int64("count", result.ModifiedCount),
	)
	return result.ModifiedCount, nil
}

// -----------------------------------------------------------------------------
// Private Helper Methods
// -----------------------------------------------------------------------------

func (m *messageRepository) validateMessage(msg *model.Message) error {
	if msg == nil {
		return ErrInvalidMessage
	}
	if msg.ConversationID.IsZero() {
		return ErrInvalidConvID
	}
	return nil
}

func (m *messageRepository) ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (m *messageRepository) waitForRetry(ctx context.Context, attempt int) error {
	delay := time.Duration(1<<uint(attempt)) * baseRetryDelay
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (m *messageRepository) isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	return mongo.IsTimeout(err) || mongo.IsNetworkError(err)
}

func (m *messageRepository) handleReadError(err error, conversationID string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		m.logger.Error("read timeout", zap.String("conversation_id", conversationID))
		return ErrOperationTimeout
	}

	if errors.Is(err, context.Canceled) {
		m.logger.Debug("read cancelled", zap.String("conversation_id", conversationID))
		return err
	}

	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}

	m.logger.Error("read failed", zap.Error(err), zap.String("conversation_id", conversationID))
	return fmt.Errorf("fetch thread: %w", err)
}
