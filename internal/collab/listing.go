// Package collab holds clients for the external collaborators the
// conversation core talks to: the listing service and the notification
// service. Both are best-effort; the chat record stays authoritative when a
// collaborator call fails.
package collab

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Listing actions emitted on offer acceptance and escrow completion.
const (
	ActionMarkReserved = "mark_reserved"
	ActionMarkSold     = "mark_sold"
)

// Listing is the collaborator's view of a listing, as much of it as the
// conversation core needs.
type Listing struct {
	ID       string `json:"id"`
	SellerID string `json:"sellerId"`
	Price    string `json:"price"`
	Status   string `json:"status"`
}

// ListingClient is the listing collaborator boundary.
type ListingClient interface {
	GetListing(ctx context.Context, listingID string) (*Listing, error)
	EmitAction(ctx context.Context, listingID string, action string) error
}

type listingEvent struct {
	ListingID string `json:"listingId"`
	Action    string `json:"action"`
}

type httpListingClient struct {
	client *resty.Client
	logger *zap.Logger
}

// NewListingClient builds an HTTP client for the listing collaborator. The
// collaborator expects at-least-once delivery of listing events, so outbound
// calls retry with backoff.
func NewListingClient(baseURL string, logger *zap.Logger) ListingClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second)

	return &httpListingClient{client: client, logger: logger}
}

func (c *httpListingClient) GetListing(ctx context.Context, listingID string) (*Listing, error) {
	var listing Listing

	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&listing).
		Get("/internal/listings/" + listingID)
	if err != nil {
		return nil, fmt.Errorf("fetch listing %s: %w", listingID, err)
	}
	if resp.StatusCode() == 404 {
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch listing %s: status %d", listingID, resp.StatusCode())
	}

	return &listing, nil
}

func (c *httpListingClient) EmitAction(ctx context.Context, listingID string, action string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(listingEvent{ListingID: listingID, Action: action}).
		Post("/internal/listings/events")
	if err != nil {
		return fmt.Errorf("emit %s for listing %s: %w", action, listingID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("emit %s for listing %s: status %d", action, listingID, resp.StatusCode())
	}

	c.logger.Info("listing event emitted",
		zap.String("listing_id", listingID),
		zap.String("action", action),
	)
	return nil
}

// NoopListingClient is used when no listing collaborator is configured.
type NoopListingClient struct{}

func (NoopListingClient) GetListing(context.Context, string) (*Listing, error) { return nil, nil }
func (NoopListingClient) EmitAction(context.Context, string, string) error     { return nil }
