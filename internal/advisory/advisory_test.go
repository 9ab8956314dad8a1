package advisory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tradepost/internal/event"
	"tradepost/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

func textMessage(seq int64, body string) model.Message {
	return model.Message{Seq: seq, Kind: model.KindText, Body: body}
}

func offerMessage(seq int64, price string) model.Message {
	return model.Message{
		Seq:  seq,
		Kind: model.KindSystem,
		Offer: &model.OfferPayload{
			OfferID: "offer-1",
			Price:   price,
			Status:  model.OfferPending,
		},
	}
}

func TestRuleEvaluator(t *testing.T) {
	conv := model.Conversation{ListingPrice: "1000"}

	tests := []struct {
		name     string
		messages []model.Message
		contains []string
		empty    bool
	}{
		{
			name:     "clean transcript",
			messages: []model.Message{textMessage(1, "is this still available?"), textMessage(2, "yes it is")},
			empty:    true,
		},
		{
			name:     "prepayment request",
			messages: []model.Message{textMessage(1, "Please Pay In Advance via wire transfer")},
			contains: []string{"Never pay in advance"},
		},
		{
			name:     "off-platform move",
			messages: []model.Message{textMessage(1, "message me on WhatsApp instead")},
			contains: []string{"Keep all communication here"},
		},
		{
			name:     "urgency pressure",
			messages: []model.Message{textMessage(1, "act now, someone else wants it")},
			contains: []string{"Take your time"},
		},
		{
			name:     "low offer against listing price",
			messages: []model.Message{offerMessage(1, "400")},
			contains: []string{"far below the listing price"},
		},
		{
			name:     "offer at exactly half is fine",
			messages: []model.Message{offerMessage(1, "500")},
			empty:    true,
		},
		{
			name: "repeated trigger warns once",
			messages: []model.Message{
				textMessage(1, "prepay please"),
				textMessage(2, "I said prepay via gift card"),
			},
			contains: []string{"Never pay in advance"},
		},
		{
			name: "multiple categories stack",
			messages: []model.Message{
				textMessage(1, "prepay and text me at 555-0100, urgent"),
			},
			contains: []string{"Never pay in advance", "Keep all communication here", "Take your time"},
		},
	}

	e := NewRuleEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			riskText, err := e.Evaluate(context.Background(), Transcript{Conversation: conv, Messages: tt.messages})
			require.NoError(t, err)
			if tt.empty {
				assert.Empty(t, riskText)
				return
			}
			for _, want := range tt.contains {
				assert.Contains(t, riskText, want)
			}
			if len(tt.contains) == 1 {
				assert.Equal(t, 1, strings.Count(riskText, tt.contains[0]))
			}
		})
	}
}

func TestRuleEvaluatorNoListingPriceSnapshot(t *testing.T) {
	e := NewRuleEvaluator()
	riskText, err := e.Evaluate(context.Background(), Transcript{
		Conversation: model.Conversation{ListingPrice: ""},
		Messages:     []model.Message{offerMessage(1, "1")},
	})
	require.NoError(t, err)
	assert.Empty(t, riskText)
}

// -----------------------------------------------------------------------------
// Advisor pipeline
// -----------------------------------------------------------------------------

type stubConvRepo struct {
	mu       sync.Mutex
	conv     *model.Conversation
	err      error
	riskText string
}

func (r *stubConvRepo) EnsureIndexes(ctx context.Context) error { return nil }

func (r *stubConvRepo) GetByID(ctx context.Context, conversationID string) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	copied := *r.conv
	copied.RiskText = r.riskText
	return &copied, nil
}

func (r *stubConvRepo) GetOrCreate(ctx context.Context, conv *model.Conversation) (*model.Conversation, bool, error) {
	return nil, false, errors.New("not implemented")
}

func (r *stubConvRepo) ListForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	return nil, errors.New("not implemented")
}

func (r *stubConvRepo) NextSeq(ctx context.Context, conversationID primitive.ObjectID) (int64, error) {
	return 0, errors.New("not implemented")
}

func (r *stubConvRepo) ReleaseSeq(ctx context.Context, conversationID primitive.ObjectID, seq int64) error {
	return nil
}

func (r *stubConvRepo) SetLastMessage(ctx context.Context, conversationID primitive.ObjectID, last *model.LastMessage) error {
	return nil
}

func (r *stubConvRepo) SetRiskText(ctx context.Context, conversationID primitive.ObjectID, riskText string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.riskText = riskText
	return nil
}

type stubMsgRepo struct {
	mu   sync.Mutex
	msgs []model.Message
}

func (r *stubMsgRepo) EnsureIndexes(ctx context.Context) error { return nil }

func (r *stubMsgRepo) Append(ctx context.Context, msg *model.Message) (string, error) {
	return "", errors.New("not implemented")
}

func (r *stubMsgRepo) Thread(ctx context.Context, conversationID primitive.ObjectID, afterSeq, limit int64) ([]model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Message
	for _, msg := range r.msgs {
		if msg.Seq > afterSeq {
			out = append(out, msg)
		}
	}
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *stubMsgRepo) LatestOffer(ctx context.Context, conversationID primitive.ObjectID) (*model.Message, error) {
	return nil, nil
}

func (r *stubMsgRepo) LatestOfferByID(ctx context.Context, offerID string) (*model.Message, error) {
	return nil, nil
}

func (r *stubMsgRepo) LatestDeal(ctx context.Context, conversationID primitive.ObjectID) (*model.Message, error) {
	return nil, nil
}

func (r *stubMsgRepo) LatestDealByID(ctx context.Context, dealID string) (*model.Message, error) {
	return nil, nil
}

func (r *stubMsgRepo) CountUnread(ctx context.Context, conversationID primitive.ObjectID, userID string) (int64, error) {
	return 0, nil
}

func (r *stubMsgRepo) MarkRead(ctx context.Context, conversationID primitive.ObjectID, userID string) (int64, error) {
	return 0, nil
}

type stubAdvisoryRepo struct {
	mu     sync.Mutex
	stored []*model.Advisory
	err    error
}

func (r *stubAdvisoryRepo) Upsert(ctx context.Context, advisory *model.Advisory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.stored = append(r.stored, advisory)
	return nil
}

func (r *stubAdvisoryRepo) Get(ctx context.Context, conversationID primitive.ObjectID) (*model.Advisory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.stored) == 0 {
		return nil, nil
	}
	return r.stored[len(r.stored)-1], nil
}

type stubPublisher struct {
	mu     sync.Mutex
	events map[string][]event.WsEvent
}

func newStubPublisher() *stubPublisher {
	return &stubPublisher{events: map[string][]event.WsEvent{}}
}

func (p *stubPublisher) PublishToUser(userID string, ev event.WsEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[userID] = append(p.events[userID], ev)
}

func (p *stubPublisher) countFor(userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events[userID])
}

type funcEvaluator struct {
	fn func(ctx context.Context, transcript Transcript) (string, error)
}

func (e *funcEvaluator) Evaluate(ctx context.Context, transcript Transcript) (string, error) {
	return e.fn(ctx, transcript)
}

func advisorFixture(t *testing.T, evaluator Evaluator, queueSize, workers int) (*Advisor, *stubConvRepo, *stubMsgRepo, *stubAdvisoryRepo, *stubPublisher) {
	t.Helper()
	convRepo := &stubConvRepo{conv: &model.Conversation{
		ID:           primitive.NewObjectID(),
		ListingPrice: "1000",
		BuyerID:      "buyer-1",
		SellerID:     "seller-1",
	}}
	msgRepo := &stubMsgRepo{}
	advRepo := &stubAdvisoryRepo{}
	publisher := newStubPublisher()
	advisor := NewAdvisor(convRepo, msgRepo, advRepo, evaluator, publisher, queueSize, workers, zap.NewNop())
	t.Cleanup(advisor.Stop)
	return advisor, convRepo, msgRepo, advRepo, publisher
}

func (r *stubMsgRepo) add(conv *stubConvRepo, msg model.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()

	conv.mu.Lock()
	if msg.Seq > conv.conv.LastSeq {
		conv.conv.LastSeq = msg.Seq
	}
	conv.mu.Unlock()
}

func TestAdvisorPublishesOnRiskChange(t *testing.T) {
	advisor, convRepo, msgRepo, advRepo, publisher := advisorFixture(t, NewRuleEvaluator(), 8, 1)

	msgRepo.add(convRepo, textMessage(1, "prepay via western union"))

	advisor.Enqueue(convRepo.conv.ID.Hex())

	require.Eventually(t, func() bool {
		return publisher.countFor("buyer-1") == 1 && publisher.countFor("seller-1") == 1
	}, time.Second, 10*time.Millisecond)

	advRepo.mu.Lock()
	require.NotEmpty(t, advRepo.stored)
	last := advRepo.stored[len(advRepo.stored)-1]
	advRepo.mu.Unlock()
	assert.Equal(t, int64(1), last.EvaluatedUpToSeq)
	assert.Contains(t, last.RiskText, "Never pay in advance")

	convRepo.mu.Lock()
	riskText := convRepo.riskText
	convRepo.mu.Unlock()
	assert.Contains(t, riskText, "Never pay in advance")

	// a new message with the same verdict re-evaluates without re-publishing
	msgRepo.add(convRepo, textMessage(2, "I said prepay"))
	advisor.Enqueue(convRepo.conv.ID.Hex())
	require.Eventually(t, func() bool { return advisor.Stats().Evaluated == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, publisher.countFor("buyer-1"))
}

// Duplicate enqueues with no new messages coalesce: the stored advisory
// already covers the latest sequence position.
func TestAdvisorCoalescesDuplicateEnqueues(t *testing.T) {
	advisor, convRepo, msgRepo, advRepo, _ := advisorFixture(t, NewRuleEvaluator(), 8, 1)

	msgRepo.add(convRepo, textMessage(1, "is it available?"))

	id := convRepo.conv.ID.Hex()
	advisor.Enqueue(id)
	require.Eventually(t, func() bool { return advisor.Stats().Evaluated == 1 }, time.Second, 10*time.Millisecond)

	advisor.Enqueue(id)
	advisor.Enqueue(id)
	require.Eventually(t, func() bool { return advisor.Stats().QueueDepth == 0 }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int64(1), advisor.Stats().Evaluated)
	advRepo.mu.Lock()
	assert.Len(t, advRepo.stored, 1)
	advRepo.mu.Unlock()

	// a genuinely new message re-triggers evaluation
	msgRepo.add(convRepo, textMessage(2, "yes, still here"))
	advisor.Enqueue(id)
	require.Eventually(t, func() bool { return advisor.Stats().Evaluated == 2 }, time.Second, 10*time.Millisecond)
}

func TestAdvisorSwallowsEvaluatorErrors(t *testing.T) {
	evaluator := &funcEvaluator{fn: func(ctx context.Context, transcript Transcript) (string, error) {
		return "", errors.New("model unavailable")
	}}
	advisor, convRepo, _, advRepo, publisher := advisorFixture(t, evaluator, 8, 1)

	advisor.Enqueue(convRepo.conv.ID.Hex())

	require.Eventually(t, func() bool { return advisor.Stats().Failed == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, publisher.countFor("buyer-1"))
	advRepo.mu.Lock()
	assert.Empty(t, advRepo.stored)
	advRepo.mu.Unlock()
}

func TestAdvisorSwallowsStoreErrors(t *testing.T) {
	advisor, convRepo, _, advRepo, publisher := advisorFixture(t, NewRuleEvaluator(), 8, 1)
	advRepo.err = errors.New("write failed")

	advisor.Enqueue(convRepo.conv.ID.Hex())

	require.Eventually(t, func() bool { return advisor.Stats().Failed == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, publisher.countFor("buyer-1"))
}

// Enqueue must return immediately even when every worker is wedged and the
// queue is full.
func TestAdvisorEnqueueNeverBlocks(t *testing.T) {
	release := make(chan struct{})
	evaluator := &funcEvaluator{fn: func(ctx context.Context, transcript Transcript) (string, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return "", nil
	}}
	advisor, convRepo, _, _, _ := advisorFixture(t, evaluator, 1, 1)
	defer close(release)

	id := convRepo.conv.ID.Hex()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			advisor.Enqueue(id)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Enqueue blocked the caller")
	}

	assert.Greater(t, advisor.Stats().Dropped, int64(0))
}
