package ws

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"callsignal-backend/internal/events"
	"callsignal-backend/internal/middleware"
	"callsignal-backend/pkg/constants"
	apperrors "callsignal-backend/pkg/errors"
	"callsignal-backend/pkg/jwt"
	"callsignal-backend/pkg/logger"
	"callsignal-backend/pkg/metrics"
	"callsignal-backend/pkg/response"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512
	sendBuffer     = 64
)

// HubConfig tunes the call event hub
type HubConfig struct {
	MaxConnections int
	AllowedOrigins []string
	PingInterval   time.Duration
	PongWait       time.Duration
}

// CallEventHub streams each user's call events to their websocket
// connections. One Redis subscription per user is shared by all of that
// user's connections on this instance.
type CallEventHub struct {
	redisClient *redis.Client
	jwtManager  *jwt.JWTManager
	revocation  middleware.RevocationChecker
	upgrader    websocket.Upgrader
	cfg         HubConfig

	// Registered clients per user
	users map[uuid.UUID]map[*EventClient]bool
	// Cancel functions for user subscriptions
	subscriptionCancels map[uuid.UUID]context.CancelFunc
	mu                  sync.RWMutex

	register   chan *EventClient
	unregister chan *EventClient
	deliver    chan *delivery

	semaphore chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// EventClient is one websocket connection of a user
type EventClient struct {
	hub    *CallEventHub
	conn   *websocket.Conn
	send   chan []byte
	userID uuid.UUID
}

type delivery struct {
	userID  uuid.UUID
	payload []byte
}

// NewCallEventHub creates the hub and starts its loop. revocation may be nil.
func NewCallEventHub(redisClient *redis.Client, jwtManager *jwt.JWTManager, revocation middleware.RevocationChecker, cfg HubConfig) *CallEventHub {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10000
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = constants.WebSocketPingInterval
	}
	if cfg.PongWait <= cfg.PingInterval {
		cfg.PongWait = constants.WebSocketPongWait
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &CallEventHub{
		redisClient: redisClient,
		jwtManager:  jwtManager,
		revocation:  revocation,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     middleware.OriginAllowed(cfg.AllowedOrigins),
		},
		cfg:                 cfg,
		users:               make(map[uuid.UUID]map[*EventClient]bool),
		subscriptionCancels: make(map[uuid.UUID]context.CancelFunc),
		register:            make(chan *EventClient),
		unregister:          make(chan *EventClient),
		deliver:             make(chan *delivery, 256),
		semaphore:           make(chan struct{}, cfg.MaxConnections),
		ctx:                 ctx,
		cancel:              cancel,
		done:                make(chan struct{}),
	}

	go h.run()
	return h
}

// Close stops the hub, its subscriptions and every connection
func (h *CallEventHub) Close() {
	h.cancel()
	<-h.done
}

// ConnectedUsers returns how many users have at least one open connection
func (h *CallEventHub) ConnectedUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users)
}

func (h *CallEventHub) connections(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

func (h *CallEventHub) run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for userID, clients := range h.users {
				for client := range clients {
					close(client.send)
					metrics.CallEventConnections.Dec()
				}
				h.dropSubscription(userID)
			}
			h.users = make(map[uuid.UUID]map[*EventClient]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.users[client.userID] == nil {
				h.users[client.userID] = make(map[*EventClient]bool)

				ctx, cancel := context.WithCancel(h.ctx)
				h.subscriptionCancels[client.userID] = cancel
				metrics.CallEventSubscriptions.Inc()
				go h.subscribeToUser(ctx, client.userID)
			}
			h.users[client.userID][client] = true
			h.mu.Unlock()
			metrics.CallEventConnections.Inc()

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case d := <-h.deliver:
			h.mu.Lock()
			for client := range h.users[d.userID] {
				select {
				case client.send <- d.payload:
				default:
					// a client this far behind is dropped rather than stalling the hub
					logger.Warn("Dropping slow call event client",
						zap.String("user_id", d.userID.String()))
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove unregisters client; callers hold mu
func (h *CallEventHub) remove(client *EventClient) {
	clients, ok := h.users[client.userID]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.send)
	metrics.CallEventConnections.Dec()

	if len(clients) == 0 {
		h.dropSubscription(client.userID)
		delete(h.users, client.userID)
	}
}

// dropSubscription cancels the Redis subscription of userID; callers hold mu
func (h *CallEventHub) dropSubscription(userID uuid.UUID) {
	if cancel, ok := h.subscriptionCancels[userID]; ok {
		cancel()
		delete(h.subscriptionCancels, userID)
		metrics.CallEventSubscriptions.Dec()
	}
}

// subscribeToUser forwards the user's Redis channel to the hub
func (h *CallEventHub) subscribeToUser(ctx context.Context, userID uuid.UUID) {
	pubsub := h.redisClient.Subscribe(ctx, events.UserChannel(userID))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() == nil {
			logger.Error("Failed to subscribe to call events",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
		return
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case h.deliver <- &delivery{userID: userID, payload: []byte(msg.Payload)}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// ServeWS upgrades an authenticated request to a call event stream.
// GET /v1/calls/events?token=<jwt>
func (h *CallEventHub) ServeWS(c *gin.Context) {
	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("Call event connection rejected: max connections reached",
			zap.Int("max_connections", h.cfg.MaxConnections))
		response.FromError(c, apperrors.ServiceUnavailableError("Server at capacity, please try again later"))
		return
	}

	// browsers cannot set headers on a websocket handshake, so the token may
	// come in the query string instead
	tokenString := c.Query("token")
	if tokenString == "" {
		tokenString = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	if tokenString == "" {
		<-h.semaphore
		response.FromError(c, apperrors.UnauthorizedError("Token required"))
		return
	}

	claims, err := middleware.Authenticate(c.Request.Context(), h.jwtManager, h.revocation, tokenString)
	if err != nil {
		<-h.semaphore
		response.FromError(c, middleware.AuthError(err))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-h.semaphore
		logger.Warn("WebSocket upgrade failed",
			zap.String("user_id", claims.UserID.String()),
			zap.Error(err))
		return
	}

	client := &EventClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		userID: claims.UserID,
	}

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		<-h.semaphore
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump only services control frames; clients do not send events
func (c *EventClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.conn.Close()
		<-c.hub.semaphore
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("Call event connection closed",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			return
		}
	}
}

func (c *EventClient) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
