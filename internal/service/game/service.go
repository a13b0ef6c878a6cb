package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/iamasit07/broadside/internal/domain"
	"github.com/iamasit07/broadside/internal/service/chat"
	"github.com/iamasit07/broadside/pkg/uid"
	"go.uber.org/zap"
)

type Store interface {
	SaveGame(ctx context.Context, g *domain.Game, ttl time.Duration) error
	LoadGame(ctx context.Context, gameID string) (*domain.Game, error)
	TouchGame(ctx context.Context, gameID string, ttl time.Duration) (bool, error)
	DeleteGame(ctx context.Context, gameID string) error
}

type Broadcaster interface {
	SendTo(user, scope string, msg domain.ServerMessage)
	Broadcast(scope string, msg domain.ServerMessage)
	CloseUser(user, scope string, code int, reason string)
	CloseScope(scope string, code int, reason string)
}

type Chat interface {
	SendSystem(ctx context.Context, t chat.Thread, body, recipient string) error
	Delete(ctx context.Context, t chat.Thread) error
}

type Settings struct {
	SnapshotTTL    time.Duration
	DepartureGrace time.Duration
	RematchWindow  time.Duration
}

// SessionManager manages active game sessions
type SessionManager struct {
	Sessions map[string]*GameSession // gameID → GameSession
	mu       sync.RWMutex

	store     Store
	out       Broadcaster
	chat      Chat
	settings  Settings
	log       *zap.Logger
	pickFirst func() int
}

func NewSessionManager(store Store, out Broadcaster, chat Chat, settings Settings, log *zap.Logger) *SessionManager {
	return &SessionManager{
		Sessions:  make(map[string]*GameSession),
		store:     store,
		out:       out,
		chat:      chat,
		settings:  settings,
		log:       log.Named("game"),
		pickFirst: func() int { return rand.Intn(2) },
	}
}

// Open returns the game for the pair a, b. The id is derived from the
// sorted pair, so a repeated or racing open lands on the same session. A
// session that someone has left, or whose game ended without a rematch
// vote, is replaced by a fresh one.
func (sm *SessionManager) Open(ctx context.Context, a, b string) (string, error) {
	gameID := uid.GameID(a, b)

	sm.mu.RLock()
	old := sm.Sessions[gameID]
	sm.mu.RUnlock()
	if old != nil && old.replaceable() {
		old.Teardown(ctx, "replaced by a new game")
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if s, ok := sm.Sessions[gameID]; ok && !s.replaceable() {
		return gameID, nil
	}

	g, err := sm.store.LoadGame(ctx, gameID)
	switch {
	case err == nil && !g.AnyDeparted() && !g.Settled():
		sm.log.Info("reusing stored session", zap.String("game", gameID))
	case err == nil || errors.Is(err, domain.ErrSessionNotFound):
		g = domain.NewGame(gameID, uid.SortedPair(a, b))
		if err := sm.store.SaveGame(ctx, g, sm.settings.SnapshotTTL); err != nil {
			return "", fmt.Errorf("saving new game %s: %w", gameID, err)
		}
		sm.log.Info("created session", zap.String("game", gameID), zap.Strings("players", g.Players[:]))
	default:
		return "", fmt.Errorf("loading game %s: %w", gameID, err)
	}

	sm.Sessions[gameID] = sm.newSession(g)
	return gameID, nil
}

// Active reports the id of a session for the pair that is still worth
// rejoining, if any.
func (sm *SessionManager) Active(a, b string) (string, bool) {
	gameID := uid.GameID(a, b)

	sm.mu.RLock()
	defer sm.mu.RUnlock()

	s, ok := sm.Sessions[gameID]
	if !ok || s.replaceable() {
		return "", false
	}
	return gameID, true
}

// Get returns the live session for gameID, rehydrating it from its
// snapshot when this process has not seen it yet.
func (sm *SessionManager) Get(ctx context.Context, gameID string) (*GameSession, error) {
	sm.mu.RLock()
	s, ok := sm.Sessions[gameID]
	sm.mu.RUnlock()
	if ok {
		return s, nil
	}

	g, err := sm.store.LoadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if s, ok := sm.Sessions[gameID]; ok {
		return s, nil
	}
	s = sm.newSession(g)
	sm.Sessions[gameID] = s
	sm.log.Info("rehydrated session", zap.String("game", gameID))
	return s, nil
}

// remove drops s unless it has already been replaced.
func (sm *SessionManager) remove(gameID string, s *GameSession) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.Sessions[gameID] == s {
		delete(sm.Sessions, gameID)
	}
}

func (sm *SessionManager) snapshot() []*GameSession {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sessions := make([]*GameSession, 0, len(sm.Sessions))
	for _, s := range sm.Sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// CleanupStale tears down sessions nobody has acted on for the snapshot
// lifetime. It returns how many were removed.
func (sm *SessionManager) CleanupStale(ctx context.Context) int {
	now := time.Now()
	count := 0
	for _, s := range sm.snapshot() {
		if now.Sub(s.lastActivity()) <= sm.settings.SnapshotTTL {
			continue
		}
		s.Teardown(ctx, "session idle")
		count++
	}

	if count > 0 {
		sm.log.Info("removed stale game sessions", zap.Int("count", count))
	}
	return count
}

// Shutdown stops every session timer. Snapshots stay in the store so a
// restarted process can pick the games up again.
func (sm *SessionManager) Shutdown() {
	for _, s := range sm.snapshot() {
		s.stopTimers()
	}
}
