package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/iamasit07/broadside/internal/domain"
	store "github.com/iamasit07/broadside/internal/repository/redis"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

var (
	ErrConnectionClosed = errors.New("connection is closed")
	ErrSlowConsumer     = errors.New("send buffer full")
)

// Connection is one authenticated socket bound to a scope. Writes only
// happen on its write pump; Send never blocks.
type Connection struct {
	ID     uuid.UUID
	UserID string
	Scope  string

	ws   *websocket.Conn
	send chan []byte

	mu          sync.Mutex
	open        bool
	closeCode   int
	closeReason string
}

func NewConnection(ws *websocket.Conn, userID, scope string, buffer int) *Connection {
	return &Connection{
		ID:     uuid.New(),
		UserID: userID,
		Scope:  scope,
		ws:     ws,
		send:   make(chan []byte, buffer),
		open:   true,
	}
}

func (c *Connection) Send(msg domain.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.sendRaw(payload)
}

// sendRaw queues payload. A full buffer means the peer stopped reading, so
// the connection is dropped instead of stalling the sender.
func (c *Connection) sendRaw(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return ErrConnectionClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.closeLocked(domain.CloseTransportFault, "send buffer full")
		return ErrSlowConsumer
	}
}

func (c *Connection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Close flushes queued messages, then sends a close frame with code.
func (c *Connection) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked(code, reason)
}

func (c *Connection) closeLocked(code int, reason string) {
	if !c.open {
		return
	}
	c.open = false
	c.closeCode = code
	c.closeReason = reason
	close(c.send)
}

// writePump drains the send queue and pings the peer every interval.
func (c *Connection) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.mu.Lock()
				code, reason := c.closeCode, c.closeReason
				c.mu.Unlock()
				c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.Close(domain.CloseTransportFault, "write failed")
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(domain.CloseTransportFault, "ping failed")
				return
			}
		}
	}
}

// Bus carries envelopes between processes sharing one store.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handle func([]byte)) error
}

const (
	envelopeUser       = "user"
	envelopeScope      = "scope"
	envelopeCloseUser  = "close_user"
	envelopeCloseScope = "close_scope"
)

type envelope struct {
	Origin  string          `json:"origin"`
	Kind    string          `json:"kind"`
	User    string          `json:"user,omitempty"`
	Scope   string          `json:"scope"`
	Code    int             `json:"code,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Registry maps scope → user → live connections. Delivery to local
// connections is direct; with a Bus attached every delivery is also
// published so other processes reach their own connections.
type Registry struct {
	mu     sync.RWMutex
	scopes map[string]map[string]map[uuid.UUID]*Connection

	bus    Bus
	origin string
	log    *zap.Logger
}

func NewRegistry(bus Bus, log *zap.Logger) *Registry {
	return &Registry{
		scopes: make(map[string]map[string]map[uuid.UUID]*Connection),
		bus:    bus,
		origin: uuid.NewString(),
		log:    log.Named("registry"),
	}
}

func (r *Registry) Add(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, ok := r.scopes[c.Scope]
	if !ok {
		users = make(map[string]map[uuid.UUID]*Connection)
		r.scopes[c.Scope] = users
	}
	conns, ok := users[c.UserID]
	if !ok {
		conns = make(map[uuid.UUID]*Connection)
		users[c.UserID] = conns
	}
	conns[c.ID] = c
}

// CloseLocal closes every connection held by this process. Nothing is
// published to other processes.
func (r *Registry) CloseLocal(code int, reason string) {
	r.mu.RLock()
	var all []*Connection
	for _, users := range r.scopes {
		for _, conns := range users {
			for _, c := range conns {
				all = append(all, c)
			}
		}
	}
	r.mu.RUnlock()

	for _, c := range all {
		c.Close(code, reason)
	}
}

// Remove drops c and returns how many connections its user still holds in
// the same scope.
func (r *Registry) Remove(c *Connection) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := r.scopes[c.Scope]
	conns := users[c.UserID]
	delete(conns, c.ID)
	remaining := len(conns)
	if remaining == 0 {
		delete(users, c.UserID)
	}
	if len(users) == 0 {
		delete(r.scopes, c.Scope)
	}
	return remaining
}

func (r *Registry) Count(scope, user string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scopes[scope][user])
}

func (r *Registry) collect(scope, user string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Connection
	for u, conns := range r.scopes[scope] {
		if user != "" && u != user {
			continue
		}
		for _, c := range conns {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) SendTo(user, scope string, msg domain.ServerMessage) {
	r.dispatch(envelope{Kind: envelopeUser, User: user, Scope: scope}, msg)
}

func (r *Registry) Broadcast(scope string, msg domain.ServerMessage) {
	r.dispatch(envelope{Kind: envelopeScope, Scope: scope}, msg)
}

func (r *Registry) CloseUser(user, scope string, code int, reason string) {
	r.dispatch(envelope{Kind: envelopeCloseUser, User: user, Scope: scope, Code: code, Reason: reason}, nil)
}

func (r *Registry) CloseScope(scope string, code int, reason string) {
	r.dispatch(envelope{Kind: envelopeCloseScope, Scope: scope, Code: code, Reason: reason}, nil)
}

func (r *Registry) dispatch(env envelope, msg any) {
	if msg != nil {
		payload, err := json.Marshal(msg)
		if err != nil {
			r.log.Error("encoding message failed", zap.Error(err))
			return
		}
		env.Payload = payload
	}

	r.deliver(env)
	if r.bus == nil {
		return
	}

	env.Origin = r.origin
	raw, err := json.Marshal(env)
	if err != nil {
		r.log.Error("encoding envelope failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.bus.Publish(ctx, store.FanoutChannel, raw); err != nil {
		r.log.Warn("publishing envelope failed", zap.String("scope", env.Scope), zap.Error(err))
	}
}

// deliver applies env to local connections. A connection whose buffer is
// full is closed by its own Send and skipped.
func (r *Registry) deliver(env envelope) {
	for _, c := range r.collect(env.Scope, env.User) {
		switch env.Kind {
		case envelopeUser, envelopeScope:
			if err := c.sendRaw(env.Payload); errors.Is(err, ErrSlowConsumer) {
				r.log.Warn("dropped slow connection", zap.String("user", c.UserID), zap.String("scope", c.Scope))
			}
		case envelopeCloseUser, envelopeCloseScope:
			c.Close(env.Code, env.Reason)
		}
	}
}

// RunRelay delivers envelopes published by other processes until ctx ends.
func (r *Registry) RunRelay(ctx context.Context) error {
	if r.bus == nil {
		return nil
	}
	return r.bus.Subscribe(ctx, store.FanoutChannel, func(raw []byte) {
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			r.log.Warn("malformed envelope", zap.Error(err))
			return
		}
		if env.Origin == r.origin {
			return
		}
		r.deliver(env)
	})
}
