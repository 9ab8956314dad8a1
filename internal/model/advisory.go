package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Advisory is a derived, non-authoritative fraud-risk annotation for a
// conversation. An empty RiskText means no warning. Advisories may be
// recomputed or discarded at any time; they are never part of the
// transactional record.
type Advisory struct {
	ID               primitive.ObjectID `json:"-" bson:"_id,omitempty"`
	ConversationID   primitive.ObjectID `json:"conversationId" bson:"conversation_id"`
	RiskText         string             `json:"riskText" bson:"risk_text"`
	EvaluatedUpToSeq int64              `json:"evaluatedUpToSeq" bson:"evaluated_up_to_seq"`
	EvaluatedAt      time.Time          `json:"evaluatedAt" bson:"evaluated_at"`
}
