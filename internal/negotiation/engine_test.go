package negotiation

import (
	"testing"
	"time"

	"tradepost/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const (
	buyerID  = "buyer-1"
	sellerID = "seller-1"
	otherID  = "stranger-9"
)

func testConversation() *model.Conversation {
	return &model.Conversation{
		ID:        primitive.NewObjectID(),
		ListingID: "listing-42",
		BuyerID:   buyerID,
		SellerID:  sellerID,
	}
}

func newTestEngine(ttl time.Duration) *Engine {
	return NewEngine(ttl, zap.NewNop())
}

func pendingOffer(at time.Time) *OfferSnapshot {
	return &OfferSnapshot{
		Payload: model.OfferPayload{
			OfferID:    "offer-1",
			Price:      "500",
			Status:     model.OfferPending,
			ProposerID: buyerID,
		},
		At: at,
	}
}

func acceptedOffer(at time.Time) *OfferSnapshot {
	return &OfferSnapshot{
		Payload: model.OfferPayload{
			OfferID:    "offer-1",
			Price:      "500",
			Status:     model.OfferAccepted,
			ProposerID: buyerID,
		},
		At: at,
	}
}

func dealAt(status string) *DealSnapshot {
	return &DealSnapshot{
		Payload: model.EscrowPayload{
			DealID:    "deal-1",
			ListingID: "listing-42",
			BuyerID:   buyerID,
			SellerID:  sellerID,
			Status:    status,
		},
		At: time.Now(),
	}
}

func TestPropose(t *testing.T) {
	tests := []struct {
		name    string
		caller  string
		price   string
		current *OfferSnapshot
		wantErr error
	}{
		{"buyer proposes first offer", buyerID, "500", nil, nil},
		{"seller may also propose", sellerID, "450", nil, nil},
		{"non-participant", otherID, "500", nil, model.ErrForbidden},
		{"zero price", buyerID, "0", nil, model.ErrInvalidArgument},
		{"negative price", buyerID, "-10", nil, model.ErrInvalidArgument},
		{"second offer while pending", buyerID, "450", pendingOffer(time.Now()), model.ErrInvalidState},
		{"offer while accepted stands", buyerID, "450", acceptedOffer(time.Now()), model.ErrInvalidState},
		{"new offer after decline", buyerID, "450", &OfferSnapshot{
			Payload: model.OfferPayload{OfferID: "offer-0", Price: "600", Status: model.OfferDeclined},
			At:      time.Now(),
		}, nil},
		{"new offer after expiry", buyerID, "450", &OfferSnapshot{
			Payload: model.OfferPayload{OfferID: "offer-0", Price: "600", Status: model.OfferExpired},
			At:      time.Now(),
		}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(0)
			payloads, err := e.Propose(testConversation(), tt.caller, decimal.RequireFromString(tt.price), tt.current)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			require.Len(t, payloads, 1)
			assert.Equal(t, model.OfferPending, payloads[0].Status)
			assert.Equal(t, tt.caller, payloads[0].ProposerID)
			assert.NotEmpty(t, payloads[0].OfferID)
		})
	}
}

func TestProposeExpiresStalePendingOffer(t *testing.T) {
	e := newTestEngine(time.Hour)
	stale := pendingOffer(time.Now().Add(-2 * time.Hour))

	payloads, err := e.Propose(testConversation(), buyerID, decimal.RequireFromString("450"), stale)
	require.NoError(t, err)
	require.Len(t, payloads, 2)

	assert.Equal(t, stale.Payload.OfferID, payloads[0].OfferID)
	assert.Equal(t, model.OfferExpired, payloads[0].Status)
	assert.Equal(t, model.OfferPending, payloads[1].Status)
	assert.NotEqual(t, payloads[0].OfferID, payloads[1].OfferID)
}

// An accepted offer the parties never settled eventually goes stale too,
// freeing the conversation for a new round.
func TestProposeExpiresStaleAcceptedOffer(t *testing.T) {
	e := newTestEngine(time.Hour)
	stale := acceptedOffer(time.Now().Add(-2 * time.Hour))

	payloads, err := e.Propose(testConversation(), buyerID, decimal.RequireFromString("450"), stale)
	require.NoError(t, err)
	require.Len(t, payloads, 2)

	assert.Equal(t, model.OfferExpired, payloads[0].Status)
	assert.Equal(t, model.OfferPending, payloads[1].Status)
}

func TestProposeFreshPendingOfferStillBlocks(t *testing.T) {
	e := newTestEngine(time.Hour)
	fresh := pendingOffer(time.Now().Add(-10 * time.Minute))

	_, err := e.Propose(testConversation(), buyerID, decimal.RequireFromString("450"), fresh)
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

func TestRespond(t *testing.T) {
	tests := []struct {
		name       string
		caller     string
		current    *OfferSnapshot
		action     string
		wantStatus string
		wantEffect SideEffect
		wantErr    error
	}{
		{"seller accepts", sellerID, pendingOffer(time.Now()), ActionAccept, model.OfferAccepted, SideEffectMarkReserved, nil},
		{"seller declines", sellerID, pendingOffer(time.Now()), ActionDecline, model.OfferDeclined, SideEffectNone, nil},
		{"buyer cannot respond", buyerID, pendingOffer(time.Now()), ActionAccept, "", SideEffectNone, model.ErrForbidden},
		{"non-participant cannot respond", otherID, pendingOffer(time.Now()), ActionAccept, "", SideEffectNone, model.ErrForbidden},
		{"no offer exists", sellerID, nil, ActionAccept, "", SideEffectNone, model.ErrNotFound},
		{"unknown action", sellerID, pendingOffer(time.Now()), "haggle", "", SideEffectNone, model.ErrInvalidArgument},
		{"already accepted", sellerID, &OfferSnapshot{
			Payload: model.OfferPayload{OfferID: "offer-1", Price: "500", Status: model.OfferAccepted},
			At:      time.Now(),
		}, ActionAccept, "", SideEffectNone, model.ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(0)
			payload, effect, err := e.Respond(testConversation(), tt.caller, tt.current, tt.action)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, payload.Status)
			assert.Equal(t, tt.wantEffect, effect)
			assert.Equal(t, tt.current.Payload.OfferID, payload.OfferID)
		})
	}
}

func TestRespondToExpiredPendingOffer(t *testing.T) {
	e := newTestEngine(time.Hour)
	stale := pendingOffer(time.Now().Add(-2 * time.Hour))

	_, _, err := e.Respond(testConversation(), sellerID, stale, ActionAccept)
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

func TestStartDeal(t *testing.T) {
	tests := []struct {
		name    string
		caller  string
		current *DealSnapshot
		wantErr error
	}{
		{"seller starts", sellerID, nil, nil},
		{"buyer starts", buyerID, nil, nil},
		{"non-participant", otherID, nil, model.ErrForbidden},
		{"active deal exists", sellerID, dealAt(model.DealPaymentPending), model.ErrInvalidState},
		{"mid-flight deal exists", sellerID, dealAt(model.DealShippingPending), model.ErrInvalidState},
		{"completed deal allows restart", sellerID, dealAt(model.DealCompleted), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(0)
			conv := testConversation()
			payload, err := e.Start(conv, tt.caller, tt.current)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, model.DealPaymentPending, payload.Status)
			assert.Equal(t, conv.ListingID, payload.ListingID)
			assert.Equal(t, buyerID, payload.BuyerID)
			assert.Equal(t, sellerID, payload.SellerID)
			assert.NotEmpty(t, payload.DealID)
		})
	}
}

func TestAdvanceDeal(t *testing.T) {
	tests := []struct {
		name       string
		caller     string
		current    *DealSnapshot
		action     string
		wantStatus string
		wantEffect SideEffect
		wantErr    error
	}{
		{"seller confirms payment", sellerID, dealAt(model.DealPaymentPending), ActionConfirm, model.DealShippingPending, SideEffectNone, nil},
		{"seller ships", sellerID, dealAt(model.DealShippingPending), ActionShip, model.DealDeliveryPending, SideEffectNone, nil},
		{"buyer receives", buyerID, dealAt(model.DealDeliveryPending), ActionReceive, model.DealCompleted, SideEffectMarkSold, nil},
		{"buyer cannot confirm", buyerID, dealAt(model.DealPaymentPending), ActionConfirm, "", SideEffectNone, model.ErrForbidden},
		{"buyer cannot ship", buyerID, dealAt(model.DealShippingPending), ActionShip, "", SideEffectNone, model.ErrForbidden},
		{"seller cannot receive", sellerID, dealAt(model.DealDeliveryPending), ActionReceive, "", SideEffectNone, model.ErrForbidden},
		{"role check precedes state check", buyerID, dealAt(model.DealDeliveryPending), ActionShip, "", SideEffectNone, model.ErrForbidden},
		{"confirm out of order", sellerID, dealAt(model.DealDeliveryPending), ActionConfirm, "", SideEffectNone, model.ErrInvalidState},
		{"duplicate receive", buyerID, dealAt(model.DealCompleted), ActionReceive, "", SideEffectNone, model.ErrInvalidState},
		{"unknown deal", sellerID, nil, ActionConfirm, "", SideEffectNone, model.ErrNotFound},
		{"unknown action", sellerID, dealAt(model.DealPaymentPending), "teleport", "", SideEffectNone, model.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(0)
			payload, effect, err := e.Advance(testConversation(), tt.caller, tt.current, tt.action)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, payload.Status)
			assert.Equal(t, tt.wantEffect, effect)
			assert.Equal(t, tt.current.Payload.DealID, payload.DealID)
		})
	}
}

// Escrow statuses only ever move forward through the protocol.
func TestDealStatusesAreMonotonic(t *testing.T) {
	e := newTestEngine(0)
	conv := testConversation()

	order := []string{
		model.DealPaymentPending,
		model.DealShippingPending,
		model.DealDeliveryPending,
		model.DealCompleted,
	}
	index := func(status string) int {
		for i, s := range order {
			if s == status {
				return i
			}
		}
		return -1
	}

	for _, caller := range []string{buyerID, sellerID} {
		for _, from := range order {
			for _, action := range []string{ActionConfirm, ActionShip, ActionReceive} {
				payload, _, err := e.Advance(conv, caller, dealAt(from), action)
				if err != nil {
					continue
				}
				assert.Equal(t, index(from)+1, index(payload.Status),
					"action %s from %s must advance exactly one step", action, from)
			}
		}
	}
}
