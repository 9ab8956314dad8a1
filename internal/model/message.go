package model

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message kinds. A message carries free-form chat (text/image) or a system
// payload; a system message holds exactly one of Offer or Escrow.
const (
	KindText   = "text"
	KindImage  = "image"
	KindSystem = "system"
)

// Offer statuses. Pending is the only open status; the rest are terminal.
const (
	OfferPending  = "pending"
	OfferAccepted = "accepted"
	OfferDeclined = "declined"
	OfferExpired  = "expired"
)

// Escrow deal statuses, in protocol order.
const (
	DealPaymentPending  = "payment_pending"
	DealShippingPending = "shipping_pending"
	DealDeliveryPending = "delivery_pending"
	DealCompleted       = "completed"
)

// Message is an immutable, append-only entry in a conversation. Seq is
// server-assigned and strictly increasing within a conversation; a unique
// index on (conversation_id, seq) is the store's conflict check.
type Message struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ConversationID primitive.ObjectID `json:"conversationId" bson:"conversation_id"`
	Seq            int64              `json:"seq" bson:"seq"`
	SenderID       string             `json:"senderId" bson:"sender_id"`
	ReceiverID     string             `json:"receiverId" bson:"receiver_id"`
	Kind           string             `json:"kind" bson:"kind"`
	Body           string             `json:"body,omitempty" bson:"body,omitempty"`
	ImageRef       string             `json:"imageRef,omitempty" bson:"image_ref,omitempty"`
	Offer          *OfferPayload      `json:"offer,omitempty" bson:"offer,omitempty"`
	Escrow         *EscrowPayload     `json:"escrow,omitempty" bson:"escrow,omitempty"`
	Read           bool               `json:"read" bson:"read"`
	CreatedAt      time.Time          `json:"createdAt" bson:"created_at"`
}

// OfferPayload is the system payload of a price-offer transition. The current
// status of an offer is the payload of the most recent system message carrying
// its OfferID (append-and-supersede, never rewritten in place).
type OfferPayload struct {
	OfferID    string `json:"offerId" bson:"offer_id"`
	Price      string `json:"price" bson:"price"`
	Status     string `json:"status" bson:"status"`
	ProposerID string `json:"proposerId" bson:"proposer_id"`
}

// PriceDecimal parses the stored price. Prices are validated on the way in,
// so a stored payload always parses.
func (p *OfferPayload) PriceDecimal() decimal.Decimal {
	d, _ := decimal.NewFromString(p.Price)
	return d
}

// Open reports whether the offer still awaits a seller response.
func (p *OfferPayload) Open() bool {
	return p.Status == OfferPending
}

// Standing reports whether the offer still binds the conversation. A pending
// offer awaits its response; an accepted offer holds the agreed price until
// it goes stale. Declined and expired offers free the conversation for a new
// proposal.
func (p *OfferPayload) Standing() bool {
	return p.Status == OfferPending || p.Status == OfferAccepted
}

// EscrowPayload is the system payload of a secure-deal transition, superseded
// the same way offers are.
type EscrowPayload struct {
	DealID    string `json:"dealId" bson:"deal_id"`
	ListingID string `json:"listingId" bson:"listing_id"`
	BuyerID   string `json:"buyerId" bson:"buyer_id"`
	SellerID  string `json:"sellerId" bson:"seller_id"`
	Status    string `json:"status" bson:"status"`
}

// Active reports whether the deal is still in flight.
func (p *EscrowPayload) Active() bool {
	return p.Status != DealCompleted
}

// Preview returns the short inbox preview text for the message.
func (m *Message) Preview() string {
	switch m.Kind {
	case KindImage:
		return "[image]"
	case KindSystem:
		if m.Offer != nil {
			return "[offer " + m.Offer.Status + "]"
		}
		if m.Escrow != nil {
			return "[deal " + m.Escrow.Status + "]"
		}
		return "[system]"
	default:
		if len(m.Body) > 80 {
			return m.Body[:80]
		}
		return m.Body
	}
}

// ErrorPayload represents an error response sent to a client via WebSocket.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
