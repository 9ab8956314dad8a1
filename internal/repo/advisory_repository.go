package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradepost/internal/db"
	"tradepost/internal/model"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type advisoryRepository struct {
	mongoRepo *db.Repository[model.Advisory]
	logger    *zap.Logger
}

// AdvisoryRepository stores the latest evaluation result per conversation.
// The data is recomputable; failures here are logged and tolerated.
type AdvisoryRepository interface {
	Upsert(ctx context.Context, advisory *model.Advisory) error
	Get(ctx context.Context, conversationID primitive.ObjectID) (*model.Advisory, error)
}

func NewAdvisoryRepository(repo *db.Repository[model.Advisory], logger *zap.Logger) AdvisoryRepository {
	return &advisoryRepository{
		mongoRepo: repo,
		logger:    logger,
	}
}

func (r *advisoryRepository) Upsert(ctx context.Context, advisory *model.Advisory) error {
	ctx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	advisory.EvaluatedAt = time.Now().UTC()

	filter := db.NewFilter().Eq("conversation_id", advisory.ConversationID).Build()
	if _, err := r.mongoRepo.ReplaceUpsert(ctx, filter, *advisory); err != nil {
		r.logger.Warn("failed to store advisory",
			zap.String("conversation_id", advisory.ConversationID.Hex()),
			zap.Error(err),
		)
		return fmt.Errorf("store advisory: %w", err)
	}
	return nil
}

func (r *advisoryRepository) Get(ctx context.Context, conversationID primitive.ObjectID) (*model.Advisory, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("conversation_id", conversationID).Build()
	adv, err := r.mongoRepo.FindOne(ctx, filter)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch advisory: %w", err)
	}
	return adv, nil
}
