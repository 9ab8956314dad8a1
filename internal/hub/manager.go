package hub

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"log"
	"net/http"
	"sync"

	"tradepost/internal/event"

	"github.com/gorilla/websocket"
)

const (
	shardCount = 64 // tune: 16/64/128 depending on load
)

type inboundMessage struct {
	event  event.WsEvent
	client *Client
}

type clientBucket struct {
	sync.RWMutex
	users map[string]map[string]*Client
}

// InboundHandler processes client-sent socket events (typing relays, read
// receipts). Set after construction; the hub logs and drops inbound events
// until then.
type InboundHandler interface {
	HandleSocketEvent(ctx context.Context, userID string, ev event.WsEvent)
}

// Hub binds authenticated users to their live connections and pushes newly
// appended messages to them. Delivery is best-effort: the durable store is
// the fallback path, so a dropped push is reconciled by the next fetch.
type Hub struct {
	shards     [shardCount]*clientBucket
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage
	handler    InboundHandler
	handlerMu  sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc

	allowedOrigins map[string]bool
}

func NewHub(allowedOrigins []string) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		register:       make(chan *Client, 1024),
		unregister:     make(chan *Client, 1024),
		inbound:        make(chan inboundMessage, 4096), // buffer for burst handling
		ctx:            ctx,
		cancel:         cancel,
		allowedOrigins: make(map[string]bool),
	}

	for _, origin := range allowedOrigins {
		h.allowedOrigins[origin] = true
	}

	for i := 0; i < shardCount; i++ {
		h.shards[i] = &clientBucket{
			users: make(map[string]map[string]*Client),
		}
	}

	// run manager loop
	go h.run()

	// start worker loop
	for i := 0; i < workerPoolSize; i++ {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			for {
				select {
				case <-h.ctx.Done():
					return
				case in := <-h.inbound:
					h.handleEvent(in.event, in.client)
				}
			}
		}()
	}

	return h
}

// SetHandler wires the inbound event handler. Must be called before clients
// connect.
func (h *Hub) SetHandler(handler InboundHandler) {
	h.handlerMu.Lock()
	defer h.handlerMu.Unlock()
	h.handler = handler
}

func (h *Hub) handleEvent(ev event.WsEvent, c *Client) {
	switch ev.Event {
	case event.EventTyping, event.EventMarkRead:
		h.handlerMu.RLock()
		handler := h.handler
		h.handlerMu.RUnlock()
		if handler == nil {
			log.Printf("no inbound handler wired, dropping %s from %s", ev.Event, c.ID)
			return
		}
		handler.HandleSocketEvent(h.ctx, c.userID, ev)
	default:
		log.Printf("unknown event type: %s", ev.Event)
	}
}

// PublishToUser delivers ev to every live connection of the user. Absent or
// slow connections never block the caller.
func (h *Hub) PublishToUser(userID string, ev event.WsEvent) {
	sh := getShard(userID)
	b := h.shards[sh]

	// collect clients while holding RLock
	b.RLock()
	conns, ok := b.users[userID]
	if !ok || len(conns) == 0 {
		b.RUnlock()
		return
	}

	clients := make([]*Client, 0, len(conns))
	for _, c := range conns {
		clients = append(clients, c)
	}
	b.RUnlock()

	// deliver to clients without holding lock
	for _, c := range clients {
		if !c.SafeSend(ev, sendTimeout) {
			// egress full -> apply policy
			log.Printf("egress full for client %s of user %s", c.ID, userID)
			if kickOnFull {
				// Unregister (safe async)
				h.unregister <- c
			}
		}
	}
}

// IsOnline reports whether the user has at least one live connection.
func (h *Hub) IsOnline(userID string) bool {
	sh := getShard(userID)
	b := h.shards[sh]
	b.RLock()
	defer b.RUnlock()

	return len(b.users[userID]) > 0
}

func getShard(userID string) uint32 {
	if userID == "" {
		return 0
	}

	h := sha1.Sum([]byte(userID))
	return binary.BigEndian.Uint32(h[:4]) % shardCount
}

func (h *Hub) addClient(c *Client) {
	sh := getShard(c.userID)
	b := h.shards[sh]
	b.Lock()
	defer b.Unlock()

	conns, ok := b.users[c.userID]
	if !ok {
		conns = make(map[string]*Client)
		b.users[c.userID] = conns
	}

	conns[c.ID] = c
	log.Printf("client %s registered for user %s (shard %d)", c.ID, c.userID, sh)
}

func (h *Hub) removeClient(c *Client) {
	sh := getShard(c.userID)
	b := h.shards[sh]
	b.Lock()
	defer b.Unlock()

	if conns, ok := b.users[c.userID]; ok {
		if _, exists := conns[c.ID]; exists {
			delete(conns, c.ID)
		}

		if len(conns) == 0 {
			delete(b.users, c.userID)
		}

		c.Close()
		log.Printf("client %s removed for user %s (shard %d)", c.ID, c.userID, sh)
	}
}

func (h *Hub) Stop() {
	h.cancel()

	// Close all client connections
	for _, shard := range h.shards {
		shard.RLock()
		for _, conns := range shard.users {
			for _, client := range conns {
				client.Close()
			}
		}
		shard.RUnlock()
	}

	// The inbound channel stays open: reader goroutines may still be
	// draining, and they exit on ctx cancellation.
	h.wg.Wait()
}

func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

func (h *Hub) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return h.allowedOrigins[origin]
}

// ServeWS upgrades the request and binds the connection to the already
// verified user identity. Token verification happens before this call.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	RegisterClient(userID, conn, h)
}
