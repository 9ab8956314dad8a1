// Package advisory re-evaluates conversation transcripts for hallmark scam
// patterns and attaches a non-authoritative risk warning. It runs entirely
// off the message-append path: evaluations are queued, best-effort, and safe
// to drop.
package advisory

import (
	"context"

	"tradepost/internal/model"
)

// Transcript is a point-in-time snapshot handed to an evaluator.
type Transcript struct {
	Conversation model.Conversation
	Messages     []model.Message
}

// UpToSeq returns the sequence of the last message in the snapshot.
func (t Transcript) UpToSeq() int64 {
	if len(t.Messages) == 0 {
		return 0
	}
	return t.Messages[len(t.Messages)-1].Seq
}

// Evaluator produces a short human-readable risk warning for a transcript,
// or an empty string when nothing looks suspicious. Evaluations are
// recomputed from scratch each call.
type Evaluator interface {
	Evaluate(ctx context.Context, transcript Transcript) (string, error)
}
