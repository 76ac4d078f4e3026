package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/EllectronChik/server7x/models"
	"github.com/EllectronChik/server7x/services"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// State is the lifecycle position of a Connection.
type State int32

const (
	StateConnecting State = iota
	StateAwaitingFirstMessage
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingFirstMessage:
		return "awaiting_first_message"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Close reasons, also used as handshake failure metric labels.
const (
	reasonTimeout       = "timeout"
	reasonMalformed     = "malformed"
	reasonUnknownAction = "unknown_action"
	reasonInvalidToken  = "invalid_token"
	reasonForbidden     = "forbidden"
	reasonSnapshot      = "snapshot"
	reasonPushOnly      = "push_only"
	reasonSlowConsumer  = "slow_consumer"
	ReasonShutdown      = "shutdown"
)

// Socket is the part of *websocket.Conn a Connection uses.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Connection is one subscriber socket. Inbound frames are handled one at a
// time on the goroutine running Serve; outbound frames go through a
// buffered queue drained by the write pump.
type Connection struct {
	id          string
	topic       Topic
	socket      Socket
	hub         *Hub
	resolver    services.CredentialResolver
	authTimeout time.Duration
	metrics     *Metrics
	logger      *slog.Logger

	state atomic.Int32

	mu        sync.Mutex
	authTimer *time.Timer
	binding   *Binding

	caller models.Identity

	send        chan []byte
	quit        chan struct{}
	closeOnce   sync.Once
	closeReason string
}

type ConnectionDeps struct {
	Hub         *Hub
	Resolver    services.CredentialResolver
	AuthTimeout time.Duration
	Metrics     *Metrics
	Logger      *slog.Logger
}

func NewConnection(socket Socket, topic Topic, deps ConnectionDeps) *Connection {
	id := uuid.NewString()
	return &Connection{
		id:          id,
		topic:       topic,
		socket:      socket,
		hub:         deps.Hub,
		resolver:    deps.Resolver,
		authTimeout: deps.AuthTimeout,
		metrics:     deps.Metrics,
		logger:      deps.Logger.With(slog.String("conn_id", id), slog.String("topic", topic.Name())),
		send:        make(chan []byte, sendBuffer),
		quit:        make(chan struct{}),
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) State() State { return State(c.state.Load()) }

// Send queues a frame. A connection whose queue is full is closed rather
// than allowed to hold up its groups.
func (c *Connection) Send(frame []byte) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	case <-c.quit:
		return false
	default:
		c.logger.Warn("send queue full, closing connection")
		c.Close(reasonSlowConsumer)
		return false
	}
}

// Close ends the connection. The first reason wins.
func (c *Connection) Close(reason string) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		c.mu.Lock()
		timer, binding := c.authTimer, c.binding
		c.mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		if binding != nil {
			c.hub.Unsubscribe(binding.Group, c)
		}
		c.closeReason = reason
		close(c.quit)
	})
}

// fail closes a connection that never got past the handshake.
func (c *Connection) fail(reason string, err error) {
	c.metrics.handshakeFailed(c.topic.Name(), reason)
	attrs := []any{slog.String("reason", reason)}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	c.logger.Info("handshake failed", attrs...)
	c.Close(reason)
}

// Serve runs the connection until it is closed.
func (c *Connection) Serve(ctx context.Context) {
	c.metrics.connectionOpened(c.topic.Name())
	defer c.metrics.connectionClosed(c.topic.Name())

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()

	c.Send(mustEncode(TypeAccept, acceptPayload{ConnID: c.id, Topic: c.topic.Name()}))

	c.state.Store(int32(StateAwaitingFirstMessage))
	if c.topic.Anonymous() {
		c.subscribe(ctx, models.Identity{}, uuid.NewString())
	} else {
		c.mu.Lock()
		c.authTimer = time.AfterFunc(c.authTimeout, func() {
			if c.State() == StateAwaitingFirstMessage {
				c.fail(reasonTimeout, nil)
			}
		})
		c.mu.Unlock()
	}

	c.readPump(ctx)
	c.Close("")
	<-done
	c.logger.Debug("connection closed", slog.String("reason", c.closeReason))
}

func (c *Connection) readPump(ctx context.Context) {
	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed", slog.Any("error", err))
			}
			return
		}

		switch c.State() {
		case StateAwaitingFirstMessage:
			// A fired timer owns the close; stopping it first settles the race.
			if c.authTimer == nil || !c.authTimer.Stop() {
				return
			}
			c.handshake(ctx, data)
		case StateAuthenticated:
			c.handle(ctx, data)
		default:
			return
		}
	}
}

func (c *Connection) handshake(ctx context.Context, data []byte) {
	msg, err := decodeHandshake(data)
	if err != nil {
		reason := reasonMalformed
		if errors.Is(err, ErrUnknownAction) {
			reason = reasonUnknownAction
		}
		c.fail(reason, err)
		return
	}

	caller, err := c.resolver.Resolve(ctx, msg.Token)
	if err != nil {
		c.fail(reasonInvalidToken, err)
		return
	}

	param, err := groupParam(msg.Group)
	if err != nil {
		c.fail(reasonForbidden, err)
		return
	}
	c.subscribe(ctx, caller, param)
}

func (c *Connection) subscribe(ctx context.Context, caller models.Identity, param string) {
	binding, err := c.topic.Bind(ctx, caller, param)
	if err != nil {
		c.fail(reasonForbidden, err)
		return
	}

	// binding is set before the state changes so Close always unsubscribes.
	c.caller = caller
	c.mu.Lock()
	c.binding = binding
	c.mu.Unlock()
	if err = c.hub.Subscribe(ctx, binding.Group, c, binding.Listener); err != nil {
		c.fail(reasonSnapshot, err)
		return
	}
	if !c.state.CompareAndSwap(int32(StateAwaitingFirstMessage), int32(StateAuthenticated)) {
		c.hub.Unsubscribe(binding.Group, c)
		return
	}
	c.logger.Info("subscribed", slog.String("group", binding.Group), slog.Int("user_id", caller.UserID))
}

func (c *Connection) handle(ctx context.Context, data []byte) {
	if c.topic.Anonymous() {
		c.Close(reasonPushOnly)
		return
	}
	msg, err := decodeMessage(data)
	if err != nil {
		c.Send(emptyReply)
		return
	}

	err = c.binding.Handle(ctx, c.caller, msg)
	switch {
	case err == nil:
		return
	case isClientError(err):
		c.logger.Debug("action rejected", slog.String("action", msg.Action), slog.Any("error", err))
		c.Send(mustEncode(TypeSend, errorPayload{Error: err.Error()}))
	default:
		c.logger.Error("action failed", slog.String("action", msg.Action), slog.Any("error", err))
		c.Send(mustEncode(TypeSend, errorPayload{Error: "internal error"}))
	}
}

func isClientError(err error) bool {
	return services.IsClientError(err) ||
		errors.Is(err, ErrMalformedMessage) ||
		errors.Is(err, ErrUnknownAction) ||
		errors.Is(err, ErrReadOnlyTopic)
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.socket.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.Close("")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close("")
				return
			}
		case <-c.quit:
			c.flush()
			_ = c.write(websocket.TextMessage, mustEncode(TypeClose, closePayload{Reason: c.closeReason}))
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes what is already queued so the close envelope comes last.
func (c *Connection) flush() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) write(messageType int, data []byte) error {
	_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
	return c.socket.WriteMessage(messageType, data)
}
