package advisory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tradepost/internal/event"
	"tradepost/internal/model"
	"tradepost/internal/repo"

	"go.uber.org/zap"
)

const (
	defaultQueueSize    = 256
	defaultWorkers      = 2
	evaluationTimeout   = 30 * time.Second
	transcriptPageLimit = 200
)

// Publisher pushes advisory updates to connected participants.
type Publisher interface {
	PublishToUser(userID string, ev event.WsEvent)
}

// Advisor runs the asynchronous evaluation pipeline. Enqueue never blocks the
// caller: when the queue is full the evaluation is dropped and picked up by
// the next append in that conversation.
type Advisor struct {
	convRepo     repo.ConversationRepository
	msgRepo      repo.MessageRepository
	advisoryRepo repo.AdvisoryRepository
	evaluator    Evaluator
	publisher    Publisher
	logger       *zap.Logger

	queue  chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	evaluated atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

func NewAdvisor(
	convRepo repo.ConversationRepository,
	msgRepo repo.MessageRepository,
	advisoryRepo repo.AdvisoryRepository,
	evaluator Evaluator,
	publisher Publisher,
	queueSize int,
	workers int,
	logger *zap.Logger,
) *Advisor {
	if queueSize < 1 {
		queueSize = defaultQueueSize
	}
	if workers < 1 {
		workers = defaultWorkers
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Advisor{
		convRepo:     convRepo,
		msgRepo:      msgRepo,
		advisoryRepo: advisoryRepo,
		evaluator:    evaluator,
		publisher:    publisher,
		logger:       logger,
		queue:        make(chan string, queueSize),
		ctx:          ctx,
		cancel:       cancel,
	}

	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go a.worker()
	}

	return a
}

// Enqueue schedules a re-evaluation of the conversation. Fire-and-forget.
func (a *Advisor) Enqueue(conversationID string) {
	select {
	case a.queue <- conversationID:
	default:
		a.dropped.Add(1)
		a.logger.Debug("advisory queue full, evaluation dropped",
			zap.String("conversation_id", conversationID),
		)
	}
}

// Stats reports pipeline counters for the monitor endpoint.
func (a *Advisor) Stats() model.AdvisoryStats {
	return model.AdvisoryStats{
		QueueDepth: len(a.queue),
		Evaluated:  a.evaluated.Load(),
		Failed:     a.failed.Load(),
		Dropped:    a.dropped.Load(),
	}
}

func (a *Advisor) Stop() {
	a.cancel()
	a.wg.Wait()
}

func (a *Advisor) worker() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case conversationID := <-a.queue:
			a.evaluate(conversationID)
		}
	}
}

// evaluate recomputes the advisory from scratch. Every failure is swallowed:
// the advisory degrades to "no warning shown" and message delivery is never
// affected.
func (a *Advisor) evaluate(conversationID string) {
	ctx, cancel := context.WithTimeout(a.ctx, evaluationTimeout)
	defer cancel()

	conv, err := a.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		a.fail(conversationID, "load conversation", err)
		return
	}

	// Coalesce duplicate enqueues: the stored advisory already covers the
	// conversation's latest sequence position.
	if stored, err := a.advisoryRepo.Get(ctx, conv.ID); err == nil && stored != nil && stored.EvaluatedUpToSeq >= conv.LastSeq {
		a.logger.Debug("advisory already current",
			zap.String("conversation_id", conversationID),
			zap.Int64("evaluated_up_to_seq", stored.EvaluatedUpToSeq),
		)
		return
	}

	transcript, err := a.loadTranscript(ctx, conv)
	if err != nil {
		a.fail(conversationID, "load transcript", err)
		return
	}

	riskText, err := a.evaluator.Evaluate(ctx, transcript)
	if err != nil {
		a.fail(conversationID, "evaluate", err)
		return
	}

	adv := &model.Advisory{
		ConversationID:   conv.ID,
		RiskText:         riskText,
		EvaluatedUpToSeq: transcript.UpToSeq(),
	}
	if err := a.advisoryRepo.Upsert(ctx, adv); err != nil {
		a.fail(conversationID, "store advisory", err)
		return
	}

	a.evaluated.Add(1)

	if riskText == conv.RiskText {
		return
	}

	if err := a.convRepo.SetRiskText(ctx, conv.ID, riskText); err != nil {
		a.logger.Warn("failed to update conversation risk text",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}

	ev := event.New(event.EventAdvisoryUpdated, conversationID, event.AdvisoryPayload{
		ConversationID:   conversationID,
		RiskText:         riskText,
		EvaluatedUpToSeq: adv.EvaluatedUpToSeq,
	})
	a.publisher.PublishToUser(conv.BuyerID, ev)
	a.publisher.PublishToUser(conv.SellerID, ev)

	a.logger.Info("advisory updated",
		zap.String("conversation_id", conversationID),
		zap.Bool("risky", riskText != ""),
		zap.Int64("evaluated_up_to_seq", adv.EvaluatedUpToSeq),
	)
}

func (a *Advisor) loadTranscript(ctx context.Context, conv *model.Conversation) (Transcript, error) {
	transcript := Transcript{Conversation: *conv}

	var afterSeq int64
	for {
		page, err := a.msgRepo.Thread(ctx, conv.ID, afterSeq, transcriptPageLimit)
		if err != nil {
			return Transcript{}, err
		}
		transcript.Messages = append(transcript.Messages, page...)
		if len(page) < transcriptPageLimit {
			return transcript, nil
		}
		afterSeq = page[len(page)-1].Seq
	}
}

func (a *Advisor) fail(conversationID, stage string, err error) {
	a.failed.Add(1)
	a.logger.Warn("advisory evaluation skipped",
		zap.String("conversation_id", conversationID),
		zap.String("stage", stage),
		zap.Error(err),
	)
}
