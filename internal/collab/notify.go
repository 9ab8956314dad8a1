package collab

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// MessageAlert informs the notification collaborator about a message
// addressed to an offline user, for out-of-band alerting.
type MessageAlert struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	ReceiverID     string `json:"receiverId"`
	SenderID       string `json:"senderId"`
	Preview        string `json:"preview"`
}

// Notifier is the notification collaborator boundary. Fire-and-forget: a
// failed alert is logged and forgotten.
type Notifier interface {
	MessageReceived(ctx context.Context, alert MessageAlert)
}

type httpNotifier struct {
	client *resty.Client
	logger *zap.Logger
}

func NewNotifier(baseURL string, logger *zap.Logger) Notifier {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(2)

	return &httpNotifier{client: client, logger: logger}
}

func (n *httpNotifier) MessageReceived(ctx context.Context, alert MessageAlert) {
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(alert).
		Post("/internal/notifications/messages")
	if err != nil {
		n.logger.Warn("notification delivery failed",
			zap.String("receiver_id", alert.ReceiverID),
			zap.Error(err),
		)
		return
	}
	if resp.IsError() {
		n.logger.Warn("notification rejected",
			zap.String("receiver_id", alert.ReceiverID),
			zap.Int("status", resp.StatusCode()),
		)
	}
}

// NoopNotifier is used when no notification collaborator is configured.
type NoopNotifier struct{}

func (NoopNotifier) MessageReceived(context.Context, MessageAlert) {}
