package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Conversation represents a chat thread in MongoDB. A conversation is scoped
// to exactly one listing and its two participants; the (listing, buyer,
// seller) triple is unique.
type Conversation struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ListingID    string             `json:"listingId" bson:"listing_id"`
	BuyerID      string             `json:"buyerId" bson:"buyer_id"`
	SellerID     string             `json:"sellerId" bson:"seller_id"`
	ListingPrice string             `json:"listingPrice" bson:"listing_price"`
	LastSeq      int64              `json:"-" bson:"last_seq"`
	LastMessage  *LastMessage       `json:"lastMessage" bson:"last_message"`
	RiskText     string             `json:"riskText,omitempty" bson:"risk_text"`
	IsActive     bool               `json:"isActive" bson:"is_active"`
	CreatedAt    time.Time          `json:"createdAt" bson:"created_at"`
	UpdatedAt    time.Time          `json:"updatedAt" bson:"updated_at"`
}

// LastMessage stores the most recent message preview on the conversation
// document so listing a user's inbox needs no join against messages.
type LastMessage struct {
	MessageID string    `json:"messageId" bson:"message_id"`
	Seq       int64     `json:"seq" bson:"seq"`
	Kind      string    `json:"kind" bson:"kind"`
	Preview   string    `json:"preview" bson:"preview"`
	SenderID  string    `json:"senderId" bson:"sender_id"`
	SentAt    time.Time `json:"sentAt" bson:"sent_at"`
}

// ConversationSummary is one row of a user's inbox.
type ConversationSummary struct {
	Conversation Conversation `json:"conversation"`
	UnreadCount  int64        `json:"unreadCount"`
}

// Participant reports whether userID takes part in the conversation.
func (c *Conversation) Participant(userID string) bool {
	return userID == c.BuyerID || userID == c.SellerID
}

// Peer returns the other participant of the conversation.
func (c *Conversation) Peer(userID string) string {
	if userID == c.BuyerID {
		return c.SellerID
	}
	return c.BuyerID
}
