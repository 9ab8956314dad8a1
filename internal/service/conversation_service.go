package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"tradepost/internal/collab"
	"tradepost/internal/event"
	"tradepost/internal/model"
	"tradepost/internal/negotiation"
	"tradepost/internal/repo"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const (
	sideEffectTimeout = 30 * time.Second
	maxBodyLength     = 4000
)

// Publisher is the dispatcher surface the service needs: best-effort push
// plus presence for the notification fallback.
type Publisher interface {
	PublishToUser(userID string, ev event.WsEvent)
	IsOnline(userID string) bool
}

// AdvisoryScheduler schedules an asynchronous transcript re-evaluation.
type AdvisoryScheduler interface {
	Enqueue(conversationID string)
}

// ConversationService is the boundary surface of the conversation core. Every
// mutating call returns the newly appended message with its materialized
// payload, or one of the model error sentinels.
type ConversationService interface {
	ListConversations(ctx context.Context, userID string) ([]model.ConversationSummary, error)
	OpenConversation(ctx context.Context, buyerID, listingID, sellerID string) (*model.Conversation, error)
	GetThread(ctx context.Context, userID, conversationID, cursor string, limit int64) ([]model.Message, string, error)
	SendMessage(ctx context.Context, userID, conversationID, kind, body, imageRef string) (*model.Message, error)
	ProposeOffer(ctx context.Context, userID, conversationID, price string) (*model.Message, error)
	RespondToOffer(ctx context.Context, userID, offerID, action string) (*model.Message, error)
	StartDeal(ctx context.Context, userID, conversationID string) (*model.Message, error)
	AdvanceDeal(ctx context.Context, userID, dealID, action string) (*model.Message, error)
	MarkRead(ctx context.Context, userID, conversationID string) error
	HandleSocketEvent(ctx context.Context, userID string, ev event.WsEvent)
}

type conversationService struct {
	convRepo repo.ConversationRepository
	msgRepo  repo.MessageRepository
	engine   *negotiation.Engine
	hub      Publisher
	advisor  AdvisoryScheduler
	listings collab.ListingClient
	notifier collab.Notifier
	locks    conversationLocks
	logger   *zap.Logger
}

func NewConversationService(
	convRepo repo.ConversationRepository,
	msgRepo repo.MessageRepository,
	engine *negotiation.Engine,
	hub Publisher,
	advisor AdvisoryScheduler,
	listings collab.ListingClient,
	notifier collab.Notifier,
	logger *zap.Logger,
) ConversationService {
	return &conversationService{
		convRepo: convRepo,
		msgRepo:  msgRepo,
		engine:   engine,
		hub:      hub,
		advisor:  advisor,
		listings: listings,
		notifier: notifier,
		logger:   logger,
	}
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

func (s *conversationService) ListConversations(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	convs, err := s.convRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]model.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		unread, err := s.msgRepo.CountUnread(ctx, conv.ID, userID)
		if err != nil {
			s.logger.Warn("unread count failed",
				zap.String("conversation_id", conv.ID.Hex()),
				zap.Error(err),
			)
			unread = 0
		}
		summaries = append(summaries, model.ConversationSummary{
			Conversation: conv,
			UnreadCount:  unread,
		})
	}
	return summaries, nil
}

func (s *conversationService) GetThread(ctx context.Context, userID, conversationID, cursor string, limit int64) ([]model.Message, string, error) {
	conv, err := s.authorized(ctx, userID, conversationID)
	if err != nil {
		return nil, "", err
	}

	afterSeq, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	msgs, err := s.msgRepo.Thread(ctx, conv.ID, afterSeq, limit)
	if err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(msgs) > 0 {
		nextCursor = encodeCursor(msgs[len(msgs)-1].Seq)
	}
	return msgs, nextCursor, nil
}

// -----------------------------------------------------------------------------
// Conversation lifecycle
// -----------------------------------------------------------------------------

// OpenConversation get-or-creates the thread between the buyer and the
// listing's seller. The listing collaborator, when configured, is the
// authority on who the seller is and what the listing costs.
func (s *conversationService) OpenConversation(ctx context.Context, buyerID, listingID, sellerID string) (*model.Conversation, error) {
	if listingID == "" {
		return nil, model.ErrInvalidArgument
	}

	listingPrice := ""
	listing, err := s.listings.GetListing(ctx, listingID)
	if err != nil {
		s.logger.Warn("listing lookup failed, trusting request",
			zap.String("listing_id", listingID),
			zap.Error(err),
		)
	}
	if listing != nil {
		sellerID = listing.SellerID
		listingPrice = listing.Price
	}

	if sellerID == "" || buyerID == sellerID {
		return nil, model.ErrInvalidArgument
	}

	conv, _, err := s.convRepo.GetOrCreate(ctx, &model.Conversation{
		ListingID:    listingID,
		BuyerID:      buyerID,
		SellerID:     sellerID,
		ListingPrice: listingPrice,
	})
	return conv, err
}

// -----------------------------------------------------------------------------
// Chat messages
// -----------------------------------------------------------------------------

func (s *conversationService) SendMessage(ctx context.Context, userID, conversationID, kind, body, imageRef string) (*model.Message, error) {
	conv, err := s.authorized(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	switch kind {
	case model.KindText:
		if body == "" || len(body) > maxBodyLength {
			return nil, model.ErrInvalidArgument
		}
	case model.KindImage:
		if imageRef == "" {
			return nil, model.ErrInvalidArgument
		}
	default:
		return nil, model.ErrInvalidArgument
	}

	msg := &model.Message{
		ConversationID: conv.ID,
		SenderID:       userID,
		ReceiverID:     conv.Peer(userID),
		Kind:           kind,
		Body:           body,
		ImageRef:       imageRef,
	}

	unlock := s.locks.lock(conv.ID.Hex())
	err = s.append(ctx, conv, msg)
	unlock()
	if err != nil {
		return nil, err
	}

	s.fanOut(conv, msg)
	s.advisor.Enqueue(conv.ID.Hex())

	return msg, nil
}

func (s *conversationService) MarkRead(ctx context.Context, userID, conversationID string) error {
	conv, err := s.authorized(ctx, userID, conversationID)
	if err != nil {
		return err
	}

	modified, err := s.msgRepo.MarkRead(ctx, conv.ID, userID)
	if err != nil {
		return err
	}

	if modified > 0 {
		// let the sender render read receipts
		s.hub.PublishToUser(conv.Peer(userID), event.New(event.EventMarkRead, conversationID, event.MarkReadPayload{
			ConversationID: conversationID,
		}))
	}
	return nil
}

// -----------------------------------------------------------------------------
// Offers
// -----------------------------------------------------------------------------

func (s *conversationService) ProposeOffer(ctx context.Context, userID, conversationID, price string) (*model.Message, error) {
	conv, err := s.authorized(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(price)
	if err != nil {
		return nil, model.ErrInvalidArgument
	}

	unlock := s.locks.lock(conv.ID.Hex())
	defer unlock()

	current, err := s.offerSnapshot(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	payloads, err := s.engine.Propose(conv, userID, amount, current)
	if err != nil {
		return nil, err
	}

	appended := make([]*model.Message, 0, len(payloads))
	for i := range payloads {
		msg := s.systemMessage(conv, userID)
		msg.Offer = &payloads[i]
		if err := s.appendSystem(ctx, conv, msg); err != nil {
			return nil, err
		}
		appended = append(appended, msg)
	}

	// TTL expiry appends a superseding message ahead of the new offer; live
	// clients get both so their materialized state stays consistent.
	for _, msg := range appended {
		s.fanOut(conv, msg)
	}
	return appended[len(appended)-1], nil
}

func (s *conversationService) RespondToOffer(ctx context.Context, userID, offerID, action string) (*model.Message, error) {
	located, err := s.msgRepo.LatestOfferByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if located == nil {
		return nil, model.ErrNotFound
	}

	conv, err := s.authorized(ctx, userID, located.ConversationID.Hex())
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(conv.ID.Hex())
	defer unlock()

	// Re-read under the lock: another responder may have landed first.
	located, err = s.msgRepo.LatestOfferByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if located == nil || located.Offer == nil {
		return nil, model.ErrNotFound
	}

	snapshot := &negotiation.OfferSnapshot{Payload: *located.Offer, At: located.CreatedAt}
	payload, effect, err := s.engine.Respond(conv, userID, snapshot, action)
	if err != nil {
		return nil, err
	}

	msg := s.systemMessage(conv, userID)
	msg.Offer = &payload
	if err := s.appendSystem(ctx, conv, msg); err != nil {
		return nil, err
	}

	s.fanOut(conv, msg)
	s.emitSideEffect(conv, effect)
	return msg, nil
}

// -----------------------------------------------------------------------------
// Escrow deals
// -----------------------------------------------------------------------------

func (s *conversationService) StartDeal(ctx context.Context, userID, conversationID string) (*model.Message, error) {
	conv, err := s.authorized(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(conv.ID.Hex())
	defer unlock()

	current, err := s.dealSnapshot(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	payload, err := s.engine.Start(conv, userID, current)
	if err != nil {
		return nil, err
	}

	msg := s.systemMessage(conv, userID)
	msg.Escrow = &payload
	if err := s.appendSystem(ctx, conv, msg); err != nil {
		return nil, err
	}

	s.fanOut(conv, msg)
	return msg, nil
}

func (s *conversationService) AdvanceDeal(ctx context.Context, userID, dealID, action string) (*model.Message, error) {
	located, err := s.msgRepo.LatestDealByID(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if located == nil {
		return nil, model.ErrNotFound
	}

	conv, err := s.authorized(ctx, userID, located.ConversationID.Hex())
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(conv.ID.Hex())
	defer unlock()

	// Re-read under the lock: the deal may already have advanced.
	located, err = s.msgRepo.LatestDealByID(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if located == nil || located.Escrow == nil {
		return nil, model.ErrNotFound
	}

	snapshot := &negotiation.DealSnapshot{Payload: *located.Escrow, At: located.CreatedAt}
	payload, effect, err := s.engine.Advance(conv, userID, snapshot, action)
	if err != nil {
		return nil, err
	}

	msg := s.systemMessage(conv, userID)
	msg.Escrow = &payload
	if err := s.appendSystem(ctx, conv, msg); err != nil {
		return nil, err
	}

	s.fanOut(conv, msg)
	s.emitSideEffect(conv, effect)
	return msg, nil
}

// -----------------------------------------------------------------------------
// Socket events
// -----------------------------------------------------------------------------

// HandleSocketEvent processes client-sent events from the dispatcher's
// inbound worker pool.
func (s *conversationService) HandleSocketEvent(ctx context.Context, userID string, ev event.WsEvent) {
	switch ev.Event {
	case event.EventTyping:
		var payload event.TypingPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			s.logger.Debug("malformed typing payload", zap.String("user_id", userID), zap.Error(err))
			return
		}
		conv, err := s.authorized(ctx, userID, ev.ConversationID)
		if err != nil {
			return
		}
		payload.UserID = userID
		payload.ConversationID = ev.ConversationID
		s.hub.PublishToUser(conv.Peer(userID), event.New(event.EventTyping, ev.ConversationID, payload))

	case event.EventMarkRead:
		if err := s.MarkRead(ctx, userID, ev.ConversationID); err != nil {
			s.logger.Debug("socket mark_read rejected",
				zap.String("user_id", userID),
				zap.String("conversation_id", ev.ConversationID),
				zap.Error(err),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Private helpers
// -----------------------------------------------------------------------------

func (s *conversationService) authorized(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.Participant(userID) {
		return nil, model.ErrForbidden
	}
	return conv, nil
}

func (s *conversationService) systemMessage(conv *model.Conversation, senderID string) *model.Message {
	return &model.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		ReceiverID:     conv.Peer(senderID),
		Kind:           model.KindSystem,
	}
}

// append assigns the next sequence position and persists the message. Caller
// holds the conversation lock.
func (s *conversationService) append(ctx context.Context, conv *model.Conversation, msg *model.Message) error {
	seq, err := s.convRepo.NextSeq(ctx, conv.ID)
	if err != nil {
		return err
	}

	msg.Seq = seq
	msg.CreatedAt = time.Now().UTC()

	if _, err := s.msgRepo.Append(ctx, msg); err != nil {
		// hand the slot back so the log stays gapless
		if rerr := s.convRepo.ReleaseSeq(ctx, conv.ID, seq); rerr != nil {
			s.logger.Warn("sequence slot not released after failed append",
				zap.String("conversation_id", conv.ID.Hex()),
				zap.Int64("seq", seq),
				zap.Error(rerr),
			)
		}
		return err
	}

	if err := s.convRepo.SetLastMessage(ctx, conv.ID, &model.LastMessage{
		MessageID: msg.ID.Hex(),
		Seq:       msg.Seq,
		Kind:      msg.Kind,
		Preview:   msg.Preview(),
		SenderID:  msg.SenderID,
		SentAt:    msg.CreatedAt,
	}); err != nil {
		// the message is durable; the stale preview self-heals on next append
		s.logger.Warn("last message preview not updated",
			zap.String("conversation_id", conv.ID.Hex()),
			zap.Error(err),
		)
	}
	return nil
}

// appendSystem converts a lost sequence race into InvalidState: the caller's
// view of the entity was stale by definition.
func (s *conversationService) appendSystem(ctx context.Context, conv *model.Conversation, msg *model.Message) error {
	if err := s.append(ctx, conv, msg); err != nil {
		if errors.Is(err, model.ErrConflict) {
			return model.ErrInvalidState
		}
		return err
	}
	return nil
}

// fanOut pushes the appended message to the receiver and falls back to the
// notification collaborator for offline users. Never blocks the request path.
func (s *conversationService) fanOut(conv *model.Conversation, msg *model.Message) {
	if msg == nil {
		return
	}

	receiver := msg.ReceiverID
	online := s.hub.IsOnline(receiver)

	go func() {
		s.hub.PublishToUser(receiver, event.New(event.EventServerMessage, conv.ID.Hex(), msg))

		if !online {
			ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
			defer cancel()
			s.notifier.MessageReceived(ctx, collab.MessageAlert{
				ConversationID: conv.ID.Hex(),
				MessageID:      msg.ID.Hex(),
				ReceiverID:     receiver,
				SenderID:       msg.SenderID,
				Preview:        msg.Preview(),
			})
		}
	}()
}

// emitSideEffect requests the listing collaborator action off the request
// path. The transition already stands; a failed listing update is logged and
// left to the collaborator's at-least-once contract.
func (s *conversationService) emitSideEffect(conv *model.Conversation, effect negotiation.SideEffect) {
	var action string
	switch effect {
	case negotiation.SideEffectMarkReserved:
		action = collab.ActionMarkReserved
	case negotiation.SideEffectMarkSold:
		action = collab.ActionMarkSold
	default:
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		if err := s.listings.EmitAction(ctx, conv.ListingID, action); err != nil {
			s.logger.Error("listing side effect failed",
				zap.String("listing_id", conv.ListingID),
				zap.String("action", action),
				zap.Error(err),
			)
		}
	}()
}

func (s *conversationService) offerSnapshot(ctx context.Context, conversationID primitive.ObjectID) (*negotiation.OfferSnapshot, error) {
	msg, err := s.msgRepo.LatestOffer(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if msg == nil || msg.Offer == nil {
		return nil, nil
	}
	return &negotiation.OfferSnapshot{Payload: *msg.Offer, At: msg.CreatedAt}, nil
}

func (s *conversationService) dealSnapshot(ctx context.Context, conversationID primitive.ObjectID) (*negotiation.DealSnapshot, error) {
	msg, err := s.msgRepo.LatestDeal(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if msg == nil || msg.Escrow == nil {
		return nil, nil
	}
	return &negotiation.DealSnapshot{Payload: *msg.Escrow, At: msg.CreatedAt}, nil
}
