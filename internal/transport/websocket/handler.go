package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/iamasit07/broadside/internal/domain"
	"github.com/iamasit07/broadside/internal/service/game"
	"go.uber.org/zap"
)

type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

type Presence interface {
	Track(ctx context.Context, user, scope string) (bool, error)
	Heartbeat(ctx context.Context, user string) error
	Release(user, scope string, onGone func())
}

type Options struct {
	PresenceTTL       time.Duration
	HeartbeatInterval time.Duration
	SendBufferSize    int
	AllowedOrigins    []string
}

// Handler manages WebSocket dependencies
type Handler struct {
	Registry   *Registry
	Presence   Presence
	Dispatcher *Dispatcher
	Auth       Authenticator
	Upgrader   websocket.Upgrader
	opts       Options
	log        *zap.Logger

	mu       sync.Mutex
	draining bool
	active   sync.WaitGroup
}

var ErrDraining = errors.New("websocket handler is draining")

func NewHandler(registry *Registry, presence Presence, dispatcher *Dispatcher, auth Authenticator, opts Options, log *zap.Logger) *Handler {
	h := &Handler{
		Registry:   registry,
		Presence:   presence,
		Dispatcher: dispatcher,
		Auth:       auth,
		opts:       opts,
		log:        log.Named("ws"),
	}
	h.Upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// upgrade authenticates after the handshake so the client can read the
// close code; browsers hide HTTP status codes on failed upgrades.
func (h *Handler) upgrade(w http.ResponseWriter, r *http.Request, scope string) (*Connection, bool) {
	ws, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return nil, false
	}

	user, err := h.Auth.Authenticate(r)
	c := NewConnection(ws, user, scope, h.opts.SendBufferSize)
	go c.writePump(h.opts.HeartbeatInterval)

	if err != nil {
		h.log.Info("rejected unauthenticated socket", zap.String("scope", scope), zap.Error(err))
		c.Close(domain.CloseUnauthorized, "authentication failed")
		return nil, false
	}

	ws.SetReadLimit(maxMessageSize)
	return c, true
}

// ServeLobby is the /ws/lobby endpoint.
// enter registers a handler run; it fails once Drain has begun.
func (h *Handler) enter() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining {
		return false
	}
	h.active.Add(1)
	return true
}

// Drain refuses new sockets, closes every local connection and waits for
// their handlers to finish detaching. http.Server.Shutdown does not wait
// for hijacked connections, so this must run before the services the
// handlers call into are stopped.
func (h *Handler) Drain(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()

	h.Registry.CloseLocal(domain.CloseSessionEnded, "server shutting down")

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) ServeLobby(w http.ResponseWriter, r *http.Request) {
	if !h.enter() {
		http.Error(w, ErrDraining.Error(), http.StatusServiceUnavailable)
		return
	}
	defer h.active.Done()

	c, ok := h.upgrade(w, r, domain.ScopeLobby)
	if !ok {
		return
	}
	ctx := r.Context()
	user := c.UserID

	h.Registry.Add(c)
	if _, err := h.Presence.Track(ctx, user, domain.ScopeLobby); err != nil {
		h.log.Error("tracking presence failed", zap.String("user", user), zap.Error(err))
	}
	if err := h.Dispatcher.Lobby.Connect(ctx, user); err != nil {
		h.log.Error("lobby connect failed", zap.String("user", user), zap.Error(err))
	}
	h.log.Info("lobby connection opened", zap.String("user", user), zap.Stringer("conn", c.ID))

	code := h.readLoop(ctx, c)

	h.detach(c, code, func() {
		if err := h.Dispatcher.Lobby.Disconnect(context.Background(), user); err != nil {
			h.log.Warn("lobby disconnect failed", zap.String("user", user), zap.Error(err))
		}
	})
}

// ServeGame is the /ws/game/:id endpoint. Only players who have not left
// may attach; everyone else is closed with CloseSessionEnded.
func (h *Handler) ServeGame(w http.ResponseWriter, r *http.Request, gameID string) {
	if !h.enter() {
		http.Error(w, ErrDraining.Error(), http.StatusServiceUnavailable)
		return
	}
	defer h.active.Done()

	scope := domain.GameScope(gameID)
	c, ok := h.upgrade(w, r, scope)
	if !ok {
		return
	}
	ctx := r.Context()
	user := c.UserID

	session, err := h.Dispatcher.Sessions.Get(ctx, gameID)
	if err != nil {
		h.log.Info("game not joinable", zap.String("game", gameID), zap.String("user", user), zap.Error(err))
		c.Close(domain.CloseSessionEnded, err.Error())
		return
	}

	h.Registry.Add(c)
	if err := session.Attach(ctx, user); err != nil {
		h.Registry.Remove(c)
		h.log.Info("attach refused", zap.String("game", gameID), zap.String("user", user), zap.Error(err))
		c.Close(domain.CloseSessionEnded, err.Error())
		return
	}
	if _, err := h.Presence.Track(ctx, user, scope); err != nil {
		h.log.Error("tracking presence failed", zap.String("user", user), zap.Error(err))
	}

	history, err := h.Dispatcher.Chat.Join(ctx, user, session.Thread)
	if err != nil {
		h.log.Warn("loading game chat failed", zap.String("game", gameID), zap.Error(err))
	} else {
		c.Send(domain.ChatHistoryMessage(history))
	}
	h.log.Info("game connection opened", zap.String("user", user), zap.String("game", gameID), zap.Stringer("conn", c.ID))

	code := h.readLoop(ctx, c)

	h.detach(c, code, func() { h.leave(gameID, session, user) })
}

func (h *Handler) leave(gameID string, session *game.GameSession, user string) {
	if err := session.Leave(context.Background(), user); err != nil {
		h.log.Warn("leaving game failed", zap.String("game", gameID), zap.String("user", user), zap.Error(err))
	}
}

// readLoop runs until the peer goes away or stays silent past the presence
// TTL. Every frame, pongs included, counts as a heartbeat. It returns the
// close code the connection should end with.
func (h *Handler) readLoop(ctx context.Context, c *Connection) int {
	beat := func() {
		c.ws.SetReadDeadline(time.Now().Add(h.opts.PresenceTTL))
		if err := h.Presence.Heartbeat(ctx, c.UserID); err != nil {
			h.log.Warn("heartbeat failed", zap.String("user", c.UserID), zap.Error(err))
		}
	}

	c.ws.SetReadDeadline(time.Now().Add(h.opts.PresenceTTL))
	c.ws.SetPongHandler(func(string) error {
		beat()
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				return domain.CloseSessionEnded
			}
			h.log.Info("connection dropped", zap.String("user", c.UserID), zap.String("scope", c.Scope), zap.Error(err))
			return domain.CloseTransportFault
		}
		beat()
		h.Dispatcher.Dispatch(ctx, c, data)
	}
}

// detach unregisters c. The grace timer only starts once the user has no
// connection left in this scope. A connection the server already closed
// keeps its original code.
func (h *Handler) detach(c *Connection, code int, onGone func()) {
	reason := "connection closed"
	if code == domain.CloseTransportFault {
		reason = "transport fault"
	}
	c.Close(code, reason)
	if h.Registry.Remove(c) == 0 {
		h.Dispatcher.Chat.Part(c.UserID, c.Scope)
	}
	h.Presence.Release(c.UserID, c.Scope, onGone)
	h.log.Info("connection closed", zap.String("user", c.UserID), zap.String("scope", c.Scope), zap.Stringer("conn", c.ID))
}
