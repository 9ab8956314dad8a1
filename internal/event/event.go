package event

import "encoding/json"

// Server-pushed and client-sent socket event names.
const (
	EventServerMessage   = "server_message"   // new message appended to a thread
	EventAdvisoryUpdated = "advisory_updated" // risk warning produced or cleared
	EventTyping          = "typing"           // relayed to the peer, never persisted
	EventMarkRead        = "mark_read"        // client read-receipt
	EventError           = "error"
)

// WsEvent is the envelope for everything on the socket, both directions.
type WsEvent struct {
	Event          string          `json:"event"`
	ConversationID string          `json:"conversationId,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// TypingPayload signals the peer that the user is (or stopped) typing.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// MarkReadPayload asks the server to mark all messages addressed to the
// caller in the conversation as read.
type MarkReadPayload struct {
	ConversationID string `json:"conversationId"`
}

// AdvisoryPayload carries a new or cleared risk annotation.
type AdvisoryPayload struct {
	ConversationID   string `json:"conversationId"`
	RiskText         string `json:"riskText"`
	EvaluatedUpToSeq int64  `json:"evaluatedUpToSeq"`
}

// New wraps payload in a WsEvent envelope. A payload that fails to marshal is
// a programming error; the envelope is sent with an empty payload in that
// case rather than dropping the event.
func New(name, conversationID string, payload any) WsEvent {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = nil
	}
	return WsEvent{Event: name, ConversationID: conversationID, Payload: raw}
}
