package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"rolechat/internal/core/domain"
	"rolechat/internal/core/ports"
	"rolechat/internal/core/services"
	"rolechat/pkg/tracing"
	"rolechat/pkg/utils"
	"rolechat/pkg/validation"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Verifier turns a realtime credential into a typed grant.
type Verifier interface {
	Verify(token string) (*domain.RealtimeGrant, error)
}

type Options struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	HistoryLimit   int
	MaxMessageSize int64
	AllowedOrigins []string

	// Per-connection publish limit. Zero disables limiting.
	MessagesPerSecond float64
	Burst             int
}

func DefaultOptions() Options {
	return Options{
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		HistoryLimit:   100,
		MaxMessageSize: 64 * 1024,
		AllowedOrigins: []string{"*"},
	}
}

const sendBuffer = 64

// Gateway is the realtime websocket endpoint. It authenticates connections
// with a realtime credential and enforces the credential's capability on
// every attach, publish, history and presence request.
type Gateway struct {
	verifier Verifier
	log      ports.ChannelLog
	presence ports.PresenceRegistry
	bus      ports.MessageBus
	metrics  ports.MetricsRecorder
	opts     Options

	upgrader websocket.Upgrader

	mu          sync.RWMutex
	connections map[string]*connection
	subscribers map[string]map[string]*connection

	now    func() time.Time
	logger *zap.SugaredLogger
}

type connection struct {
	id      string
	grant   *domain.RealtimeGrant
	ws      *websocket.Conn
	send    chan Frame
	limiter *rate.Limiter

	mu       sync.Mutex
	attached map[string]bool
	entered  map[string]bool

	done      chan struct{}
	closeOnce sync.Once
}

func (c *connection) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// enqueue hands f to the connection's writer. A connection that cannot keep
// up is closed.
func (c *connection) enqueue(f Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- f:
		return true
	default:
		c.close()
		return false
	}
}

// NewGateway creates a gateway. bus may be nil when this instance runs alone.
func NewGateway(
	verifier Verifier,
	log ports.ChannelLog,
	presence ports.PresenceRegistry,
	bus ports.MessageBus,
	metrics ports.MetricsRecorder,
	opts Options,
	logger *zap.SugaredLogger,
) *Gateway {
	defaults := DefaultOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.PongTimeout <= opts.PingInterval {
		opts.PongTimeout = 2 * opts.PingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaults.HistoryLimit
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaults.MaxMessageSize
	}
	if metrics == nil {
		metrics = services.NopMetrics{}
	}

	g := &Gateway{
		verifier:    verifier,
		log:         log,
		presence:    presence,
		bus:         bus,
		metrics:     metrics,
		opts:        opts,
		connections: make(map[string]*connection),
		subscribers: make(map[string]map[string]*connection),
		now:         time.Now,
		logger:      logger,
	}
	g.upgrader = websocket.Upgrader{
		CheckOrigin:     g.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Run relays messages published on other instances to local subscribers
// until ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	if g.bus == nil {
		<-ctx.Done()
		return nil
	}
	err := g.bus.Subscribe(ctx, func(msg *domain.Message) error {
		g.deliver(msg)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func tokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func writeHTTPError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// ServeHTTP authenticates and upgrades a realtime connection.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := tokenFromRequest(r)
	if token == "" {
		g.metrics.RecordTokenRefused("missing")
		writeHTTPError(w, http.StatusUnauthorized, domain.ErrNoCredential.Error())
		return
	}
	grant, err := g.verifier.Verify(token)
	if err != nil {
		g.metrics.RecordTokenRefused("invalid")
		g.logger.Infow("Realtime credential rejected", "error", err)
		writeHTTPError(w, http.StatusUnauthorized, err.Error())
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	c := &connection{
		id:       utils.GenerateConnectionID(),
		grant:    grant,
		ws:       ws,
		send:     make(chan Frame, sendBuffer),
		attached: make(map[string]bool),
		entered:  make(map[string]bool),
		done:     make(chan struct{}),
	}
	if g.opts.MessagesPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(g.opts.MessagesPerSecond), g.opts.Burst)
	}

	g.mu.Lock()
	g.connections[c.id] = c
	g.mu.Unlock()
	g.metrics.RecordRealtimeConnection(1)

	g.logger.Infow("realtime client connected",
		"connection_id", c.id,
		"client_id", grant.ClientID,
		"is_mod", grant.Claim.IsMod,
	)

	g.serve(c)
}

func (g *Gateway) serve(c *connection) {
	defer g.cleanup(c)

	c.ws.SetReadLimit(g.opts.MaxMessageSize)
	c.ws.SetReadDeadline(g.now().Add(g.opts.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(g.now().Add(g.opts.PongTimeout))
		return nil
	})

	if err := g.write(c, Frame{Action: ActionConnected, ClientID: c.grant.ClientID}); err != nil {
		return
	}

	pingTicker := time.NewTicker(g.opts.PingInterval)
	defer pingTicker.Stop()

	incoming := make(chan Frame)
	readErr := make(chan error, 1)

	go func() {
		for {
			var f Frame
			if err := c.ws.ReadJSON(&f); err != nil {
				readErr <- err
				return
			}
			c.ws.SetReadDeadline(g.now().Add(g.opts.PongTimeout))
			select {
			case incoming <- f:
			case <-c.done:
				return
			}
		}
	}()

	for {
		select {
		case f := <-incoming:
			reply, err := g.handleFrame(context.Background(), c, f)
			if err != nil {
				g.logger.Debugw("realtime request failed",
					"connection_id", c.id,
					"action", f.Action,
					"channel", f.Channel,
					"error", err,
				)
				reply = Frame{Action: ActionError, ID: f.ID, Channel: f.Channel, Error: err.Error()}
			}
			if err := g.write(c, reply); err != nil {
				return
			}

		case f := <-c.send:
			if err := g.write(c, f); err != nil {
				return
			}

		case <-pingTicker.C:
			if c.grant.Expired(g.now()) {
				_ = g.write(c, Frame{Action: ActionError, Error: domain.ErrTokenExpired.Error()})
				return
			}
			c.ws.SetWriteDeadline(g.now().Add(g.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				g.logger.Infow("error sending ping", "connection_id", c.id, "error", err)
				return
			}

		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				g.logger.Infow("error reading realtime frame", "connection_id", c.id, "error", err)
			}
			return

		case <-c.done:
			g.logger.Warnw("closing slow realtime client", "connection_id", c.id, "client_id", c.grant.ClientID)
			return
		}
	}
}

func (g *Gateway) write(c *connection, f Frame) error {
	c.ws.SetWriteDeadline(g.now().Add(g.opts.WriteTimeout))
	return c.ws.WriteJSON(f)
}

func (g *Gateway) cleanup(c *connection) {
	c.close()

	g.mu.Lock()
	delete(g.connections, c.id)
	c.mu.Lock()
	for channel := range c.attached {
		g.unsubscribeLocked(channel, c.id)
	}
	entered := make([]string, 0, len(c.entered))
	for channel := range c.entered {
		entered = append(entered, channel)
	}
	c.mu.Unlock()
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), g.opts.WriteTimeout)
	defer cancel()
	for _, channel := range entered {
		if err := g.presence.Leave(ctx, channel, c.id); err != nil {
			g.logger.Warnw("failed to leave presence", "channel", channel, "connection_id", c.id, "error", err)
		}
	}

	_ = c.ws.Close()
	g.metrics.RecordRealtimeConnection(-1)
	g.logger.Infow("realtime client disconnected", "connection_id", c.id, "client_id", c.grant.ClientID)
}

func (g *Gateway) unsubscribeLocked(channel, connID string) {
	subs := g.subscribers[channel]
	delete(subs, connID)
	if len(subs) == 0 {
		delete(g.subscribers, channel)
	}
}

func (g *Gateway) handleFrame(ctx context.Context, c *connection, f Frame) (Frame, error) {
	ctx, span := tracing.TraceRealtimeFrame(ctx, f.Action, c.grant.ClientID, f.Channel)
	defer span.End()

	if f.Action == "" {
		return Frame{}, fmt.Errorf("%w: action is required", domain.ErrInvalidMessage)
	}
	if f.Channel == "" {
		return Frame{}, fmt.Errorf("%w: channel is required", domain.ErrInvalidMessage)
	}

	var (
		reply Frame
		err   error
	)
	switch f.Action {
	case ActionAttach:
		reply, err = g.handleAttach(c, f)
	case ActionDetach:
		reply, err = g.handleDetach(c, f)
	case ActionPublish:
		reply, err = g.handlePublish(ctx, c, f)
	case ActionHistory:
		reply, err = g.handleHistory(ctx, c, f)
	case ActionEnter:
		reply, err = g.handleEnter(ctx, c, f)
	case ActionLeave:
		reply, err = g.handleLeave(ctx, c, f)
	case ActionPresence:
		reply, err = g.handlePresence(ctx, c, f)
	default:
		err = fmt.Errorf("%w: unknown action %q", domain.ErrInvalidMessage, f.Action)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		return Frame{}, err
	}
	reply.ID = f.ID
	reply.Channel = f.Channel
	return reply, nil
}

func (g *Gateway) authorize(c *connection, channel string, action domain.Action) error {
	if !c.grant.Capability.Allows(channel, action) {
		return fmt.Errorf("%w: %s on %s", domain.ErrPermissionDenied, action, channel)
	}
	return nil
}

func (g *Gateway) handleAttach(c *connection, f Frame) (Frame, error) {
	if err := g.authorize(c, f.Channel, domain.ActionSubscribe); err != nil {
		return Frame{}, err
	}

	g.mu.Lock()
	subs, ok := g.subscribers[f.Channel]
	if !ok {
		subs = make(map[string]*connection)
		g.subscribers[f.Channel] = subs
	}
	subs[c.id] = c
	g.mu.Unlock()

	c.mu.Lock()
	c.attached[f.Channel] = true
	c.mu.Unlock()

	return Frame{Action: ActionAttached}, nil
}

func (g *Gateway) handleDetach(c *connection, f Frame) (Frame, error) {
	g.mu.Lock()
	g.unsubscribeLocked(f.Channel, c.id)
	g.mu.Unlock()

	c.mu.Lock()
	delete(c.attached, f.Channel)
	c.mu.Unlock()

	return Frame{Action: ActionDetached}, nil
}

func (g *Gateway) handlePublish(ctx context.Context, c *connection, f Frame) (Frame, error) {
	if err := g.authorize(c, f.Channel, domain.ActionPublish); err != nil {
		return Frame{}, err
	}
	if c.limiter != nil && !c.limiter.Allow() {
		return Frame{}, fmt.Errorf("rate limit exceeded")
	}

	msg, err := g.prepare(ctx, c, f)
	if err != nil {
		return Frame{}, err
	}

	stored, err := g.log.Append(ctx, msg)
	if err != nil {
		return Frame{}, fmt.Errorf("append message: %w", err)
	}
	g.metrics.RecordRealtimeMessage(string(stored.Name))

	g.deliver(stored)
	if g.bus != nil {
		if err := g.bus.Publish(ctx, stored); err != nil {
			g.logger.Warnw("failed to relay message", "channel", stored.Channel, "message_id", stored.ID, "error", err)
		}
	}

	return Frame{Action: ActionAck, Message: stored}, nil
}

// prepare assigns the server-owned fields of a published message. The
// sender identity always comes from the credential.
func (g *Gateway) prepare(ctx context.Context, c *connection, f Frame) (*domain.Message, error) {
	if f.Message == nil {
		return nil, fmt.Errorf("%w: message is required", domain.ErrInvalidMessage)
	}
	in := f.Message
	if !in.Name.Valid() {
		return nil, fmt.Errorf("%w: unknown message name %q", domain.ErrInvalidMessage, in.Name)
	}

	msg := &domain.Message{
		ID:        uuid.NewString(),
		Channel:   f.Channel,
		ClientID:  c.grant.ClientID,
		Name:      in.Name,
		Data:      in.Data,
		Timestamp: g.now().UnixMilli(),
	}

	switch in.Name {
	case domain.MessageAdd:
		if in.Data == nil {
			return nil, fmt.Errorf("%w: ADD requires data", domain.ErrInvalidMessage)
		}
		if err := validation.ValidateMessageText(in.Data.Text); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
		}
	case domain.MessageDelete:
		ref := in.Ref()
		if ref == nil || ref.ID == "" {
			return nil, fmt.Errorf("%w: DELETE requires extras.ref.id", domain.ErrInvalidMessage)
		}
		out := &domain.MessageRef{ID: ref.ID, Timeserial: ref.Timeserial}
		if original, err := g.log.FindByID(ctx, f.Channel, ref.ID); err == nil {
			out.Timeserial = original.Timeserial
		} else {
			g.logger.Debugw("delete references unknown message", "channel", f.Channel, "ref", ref.ID)
		}
		msg.Data = nil
		msg.Extras = &domain.MessageExtras{Ref: out}
	}
	return msg, nil
}

// deliver pushes msg to every local connection attached to its channel.
func (g *Gateway) deliver(msg *domain.Message) {
	g.mu.RLock()
	subs := make([]*connection, 0, len(g.subscribers[msg.Channel]))
	for _, c := range g.subscribers[msg.Channel] {
		subs = append(subs, c)
	}
	g.mu.RUnlock()

	for _, c := range subs {
		if !c.enqueue(Frame{Action: ActionMessage, Channel: msg.Channel, Message: msg}) {
			g.logger.Debugw("dropped message for closed connection", "connection_id", c.id, "message_id", msg.ID)
		}
	}
}

func (g *Gateway) handleHistory(ctx context.Context, c *connection, f Frame) (Frame, error) {
	if err := g.authorize(c, f.Channel, domain.ActionHistory); err != nil {
		return Frame{}, err
	}

	limit := f.Limit
	if limit <= 0 || limit > g.opts.HistoryLimit {
		limit = g.opts.HistoryLimit
	}
	direction := f.Direction
	if direction == "" {
		direction = domain.HistoryBackwards
	}
	if direction != domain.HistoryForwards && direction != domain.HistoryBackwards {
		return Frame{}, fmt.Errorf("%w: unknown direction %q", domain.ErrInvalidMessage, direction)
	}

	messages, err := g.log.History(ctx, f.Channel, domain.HistoryQuery{Limit: limit, Direction: direction})
	if err != nil {
		return Frame{}, fmt.Errorf("history: %w", err)
	}
	return Frame{Action: ActionHistory, Messages: messages, Direction: direction}, nil
}

func (g *Gateway) handleEnter(ctx context.Context, c *connection, f Frame) (Frame, error) {
	if err := g.authorize(c, f.Channel, domain.ActionPresence); err != nil {
		return Frame{}, err
	}
	if err := g.presence.Enter(ctx, f.Channel, c.grant.ClientID, c.id); err != nil {
		return Frame{}, fmt.Errorf("enter presence: %w", err)
	}
	c.mu.Lock()
	c.entered[f.Channel] = true
	c.mu.Unlock()
	return g.members(ctx, f.Channel)
}

func (g *Gateway) handleLeave(ctx context.Context, c *connection, f Frame) (Frame, error) {
	if err := g.presence.Leave(ctx, f.Channel, c.id); err != nil {
		return Frame{}, fmt.Errorf("leave presence: %w", err)
	}
	c.mu.Lock()
	delete(c.entered, f.Channel)
	c.mu.Unlock()
	return g.members(ctx, f.Channel)
}

func (g *Gateway) handlePresence(ctx context.Context, c *connection, f Frame) (Frame, error) {
	if err := g.authorize(c, f.Channel, domain.ActionSubscribe); err != nil {
		return Frame{}, err
	}
	return g.members(ctx, f.Channel)
}

func (g *Gateway) members(ctx context.Context, channel string) (Frame, error) {
	members, err := g.presence.Members(ctx, channel)
	if err != nil {
		return Frame{}, fmt.Errorf("presence: %w", err)
	}
	return Frame{Action: ActionPresence, Members: members}, nil
}

// ConnectionCount returns the number of open realtime connections.
func (g *Gateway) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.connections)
}

// ConnectedClients returns the client ids of open connections.
func (g *Gateway) ConnectedClients() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]bool, len(g.connections))
	clients := make([]string, 0, len(g.connections))
	for _, c := range g.connections {
		if !seen[c.grant.ClientID] {
			seen[c.grant.ClientID] = true
			clients = append(clients, c.grant.ClientID)
		}
	}
	return clients
}
