// Package negotiation holds the authoritative rule-set for offer and escrow
// transitions. The engine is pure: it validates a requested transition
// against the materialized state the caller read, and returns the payloads to
// append. Locking, persistence and collaborator side effects stay with the
// caller, which runs the engine under the conversation's writer lock.
package negotiation

import (
	"time"

	"tradepost/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SideEffect is a request to the listing collaborator emitted by a
// transition. Delivery is fire-and-forget; the transition stands even when
// the listing update fails.
type SideEffect int

const (
	SideEffectNone SideEffect = iota
	SideEffectMarkReserved
	SideEffectMarkSold
)

// Deal actions accepted by Advance.
const (
	ActionConfirm = "confirm"
	ActionShip    = "ship"
	ActionReceive = "receive"
)

// Offer response actions.
const (
	ActionAccept  = "accept"
	ActionDecline = "decline"
)

// OfferSnapshot is the materialized state of the conversation's latest offer:
// the payload of the most recent system message carrying its id, plus the
// append time of that message (used for TTL expiry).
type OfferSnapshot struct {
	Payload model.OfferPayload
	At      time.Time
}

// DealSnapshot is the materialized state of a deal, same construction.
type DealSnapshot struct {
	Payload model.EscrowPayload
	At      time.Time
}

type dealTransition struct {
	role   string // "buyer" or "seller"
	from   string
	to     string
	effect SideEffect
}

var dealTransitions = map[string]dealTransition{
	ActionConfirm: {role: "seller", from: model.DealPaymentPending, to: model.DealShippingPending},
	ActionShip:    {role: "seller", from: model.DealShippingPending, to: model.DealDeliveryPending},
	ActionReceive: {role: "buyer", from: model.DealDeliveryPending, to: model.DealCompleted, effect: SideEffectMarkSold},
}

type Engine struct {
	offerTTL time.Duration // 0 disables pending-offer expiry
	now      func() time.Time
	logger   *zap.Logger
}

func NewEngine(offerTTL time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		offerTTL: offerTTL,
		now:      time.Now,
		logger:   logger,
	}
}

// Propose validates a new price offer. While the conversation's latest offer
// is standing (pending or accepted) the proposal is rejected, unless that
// offer is older than the TTL: then an expired superseding payload for the
// stale offer is returned ahead of the new pending one, preserving
// append-and-supersede.
func (e *Engine) Propose(conv *model.Conversation, callerID string, price decimal.Decimal, current *OfferSnapshot) ([]model.OfferPayload, error) {
	if !conv.Participant(callerID) {
		return nil, model.ErrForbidden
	}
	if !price.IsPositive() {
		return nil, model.ErrInvalidArgument
	}

	var payloads []model.OfferPayload

	if current != nil && current.Payload.Standing() {
		if !e.expired(current.At) {
			return nil, model.ErrInvalidState
		}

		stale := current.Payload
		stale.Status = model.OfferExpired
		payloads = append(payloads, stale)

		e.logger.Info("standing offer expired by ttl",
			zap.String("offer_id", stale.OfferID),
			zap.String("status", current.Payload.Status),
			zap.String("conversation_id", conv.ID.Hex()),
		)
	}

	payloads = append(payloads, model.OfferPayload{
		OfferID:    uuid.New().String(),
		Price:      price.String(),
		Status:     model.OfferPending,
		ProposerID: callerID,
	})
	return payloads, nil
}

// Respond validates an accept/decline of the referenced offer. Only the
// seller may respond; the offer must still be pending and within its TTL.
// Accepting requests a mark_reserved side effect.
func (e *Engine) Respond(conv *model.Conversation, callerID string, current *OfferSnapshot, action string) (model.OfferPayload, SideEffect, error) {
	if current == nil {
		return model.OfferPayload{}, SideEffectNone, model.ErrNotFound
	}
	if callerID != conv.SellerID {
		return model.OfferPayload{}, SideEffectNone, model.ErrForbidden
	}
	if !current.Payload.Open() || e.expired(current.At) {
		return model.OfferPayload{}, SideEffectNone, model.ErrInvalidState
	}

	next := current.Payload
	switch action {
	case ActionAccept:
		next.Status = model.OfferAccepted
		return next, SideEffectMarkReserved, nil
	case ActionDecline:
		next.Status = model.OfferDeclined
		return next, SideEffectNone, nil
	default:
		return model.OfferPayload{}, SideEffectNone, model.ErrInvalidArgument
	}
}

// Start validates opening a secure deal for the conversation's (listing,
// buyer) pair. Either participant may start; at most one active deal may
// exist per pair.
func (e *Engine) Start(conv *model.Conversation, callerID string, current *DealSnapshot) (model.EscrowPayload, error) {
	if !conv.Participant(callerID) {
		return model.EscrowPayload{}, model.ErrForbidden
	}
	if current != nil && current.Payload.Active() {
		return model.EscrowPayload{}, model.ErrInvalidState
	}

	return model.EscrowPayload{
		DealID:    uuid.New().String(),
		ListingID: conv.ListingID,
		BuyerID:   conv.BuyerID,
		SellerID:  conv.SellerID,
		Status:    model.DealPaymentPending,
	}, nil
}

// Advance validates one step of the escrow protocol. Role is checked before
// status: the wrong party always gets Forbidden, even when the deal is also
// in an unexpected state.
func (e *Engine) Advance(conv *model.Conversation, callerID string, current *DealSnapshot, action string) (model.EscrowPayload, SideEffect, error) {
	if current == nil {
		return model.EscrowPayload{}, SideEffectNone, model.ErrNotFound
	}

	tr, ok := dealTransitions[action]
	if !ok {
		return model.EscrowPayload{}, SideEffectNone, model.ErrInvalidArgument
	}

	required := conv.SellerID
	if tr.role == "buyer" {
		required = conv.BuyerID
	}
	if callerID != required {
		return model.EscrowPayload{}, SideEffectNone, model.ErrForbidden
	}

	if current.Payload.Status != tr.from {
		return model.EscrowPayload{}, SideEffectNone, model.ErrInvalidState
	}

	next := current.Payload
	next.Status = tr.to
	return next, tr.effect, nil
}

func (e *Engine) expired(at time.Time) bool {
	return e.offerTTL > 0 && e.now().Sub(at) > e.offerTTL
}
