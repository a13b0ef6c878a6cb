package game

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iamasit07/broadside/internal/domain"
	"github.com/iamasit07/broadside/internal/service/chat"
	"go.uber.org/zap"
)

// GameSession serializes every action on one game. All fields below mu are
// guarded by it; closed is readable without the lock so the manager never
// has to take a session lock while holding its own.
type GameSession struct {
	GameID    string
	Game      *domain.Game
	Thread    chat.Thread

	mu             sync.Mutex
	lastAction     time.Time
	departureTimer *time.Timer
	rematchTimer   *time.Timer
	torn           bool
	closed         atomic.Bool
	manager        *SessionManager
}

func (sm *SessionManager) newSession(g *domain.Game) *GameSession {
	s := &GameSession{
		GameID:     g.ID,
		Game:       g,
		Thread:     chat.GameThread(g.ID, g.Players),
		lastAction: time.Now(),
		manager:    sm,
	}
	if g.AnyDeparted() {
		s.closed.Store(true)
		s.startDepartureTimer()
	}
	return s
}

func (s *GameSession) scope() string {
	return domain.GameScope(s.GameID)
}

func (s *GameSession) joinable() bool {
	return !s.closed.Load()
}

// replaceable reports whether a new open for the pair should start over:
// the session was left, or its game ended without a rematch vote.
func (s *GameSession) replaceable() bool {
	if !s.joinable() {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Game.Settled()
}

func (s *GameSession) lastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAction
}

// Attach checks that player may (re)enter the game and sends them the
// current view.
func (s *GameSession) Attach(ctx context.Context, player string) error {
	return s.run(ctx, player, func() error {
		s.sendView(player)
		return nil
	}, false)
}

func (s *GameSession) PlaceShip(ctx context.Context, player string, x, y, length int, orientation domain.Orientation) error {
	return s.run(ctx, player, func() error {
		ship, err := s.Game.PlaceShip(player, x, y, length, orientation)
		if err != nil {
			return err
		}
		s.manager.log.Debug("ship placed", zap.String("game", s.GameID), zap.String("player", player), zap.Int("length", ship.Length))
		return nil
	}, true)
}

func (s *GameSession) RemoveShip(ctx context.Context, player string, x, y int) error {
	return s.run(ctx, player, func() error {
		_, err := s.Game.RemoveShip(player, x, y)
		return err
	}, true)
}

func (s *GameSession) SetReady(ctx context.Context, player string) error {
	return s.run(ctx, player, func() error {
		started, err := s.Game.SetReady(player, s.manager.pickFirst)
		if err != nil {
			return err
		}
		if started {
			s.manager.log.Info("battle started", zap.String("game", s.GameID), zap.String("first", s.Game.Turn))
			s.public(ctx, fmt.Sprintf("BATTLE STARTED. %s FIRES FIRST", strings.ToUpper(s.Game.Turn)))
		}
		return nil
	}, true)
}

func (s *GameSession) MakeMove(ctx context.Context, player string, x, y int) error {
	return s.run(ctx, player, func() error {
		outcome, err := s.Game.MakeMove(player, x, y)
		if err != nil {
			return err
		}

		result := "MISS"
		if outcome.Result == domain.ShotHit {
			result = "HIT"
		}
		s.public(ctx, fmt.Sprintf("%s FIRED AT (%d, %d): %s", strings.ToUpper(player), x, y, result))
		if outcome.SunkLength > 0 {
			s.public(ctx, fmt.Sprintf("SUNK SHIP: %d", outcome.SunkLength))
		}
		if outcome.Winner != "" {
			s.manager.log.Info("game over", zap.String("game", s.GameID), zap.String("winner", outcome.Winner), zap.Int("moves", s.Game.MoveCount))
			s.public(ctx, fmt.Sprintf("%s HAS WON THE GAME", strings.ToUpper(outcome.Winner)))
		}
		return nil
	}, true)
}

// VoteRematch records player's vote; the second vote resets the game into
// a new placement round.
func (s *GameSession) VoteRematch(ctx context.Context, player string) error {
	return s.run(ctx, player, func() error {
		if s.Game.HasVoted(player) {
			return nil
		}
		reset, err := s.Game.VoteRematch(player)
		if err != nil {
			return err
		}

		if !reset {
			s.public(ctx, fmt.Sprintf("%s HAS VOTED FOR A REMATCH", strings.ToUpper(player)))
			s.startRematchTimer()
			return nil
		}

		s.stopRematchTimer()
		s.manager.log.Info("rematch started", zap.String("game", s.GameID), zap.Int("round", s.Game.Round))
		s.manager.out.Broadcast(s.scope(), domain.NewGameMessage(s.GameID))
		s.public(ctx, fmt.Sprintf("ROUND %d: PLACE YOUR SHIPS", s.Game.Round+1))
		return nil
	}, true)
}

// Leave marks player as gone for good. The opponent is told, and the
// session ends once both have left or the departure grace runs out.
func (s *GameSession) Leave(ctx context.Context, player string) error {
	s.mu.Lock()
	err := s.leaveLocked(ctx, player)
	torn := s.torn
	s.mu.Unlock()

	if torn {
		s.manager.remove(s.GameID, s)
	}
	return err
}

func (s *GameSession) leaveLocked(ctx context.Context, player string) error {
	if s.torn {
		return nil
	}
	if _, err := s.Game.Index(player); err != nil {
		return err
	}
	if s.Game.HasDeparted(player) {
		return nil
	}

	bothGone, err := s.Game.MarkDeparted(player)
	if err != nil {
		return err
	}
	s.closed.Store(true)
	s.lastAction = time.Now()
	s.stopRematchTimer()

	s.manager.log.Info("player left", zap.String("game", s.GameID), zap.String("player", player))
	s.manager.out.CloseUser(player, s.scope(), domain.CloseSessionEnded, "left game")

	if bothGone {
		s.teardownLocked(ctx, "both players left")
		return nil
	}

	opponent := s.Game.Opponent(player)
	s.public(ctx, fmt.Sprintf("%s HAS LEFT THE GAME", strings.ToUpper(player)))
	s.manager.out.SendTo(opponent, s.scope(), domain.OpponentLeftMessage(player))
	s.save(ctx)
	s.sendView(opponent)
	s.startDepartureTimer()
	return nil
}

// Teardown ends the session: timers stop, the snapshot and chat are
// dropped, and every game connection is closed.
func (s *GameSession) Teardown(ctx context.Context, reason string) {
	s.mu.Lock()
	s.teardownLocked(ctx, reason)
	s.mu.Unlock()

	s.manager.remove(s.GameID, s)
}

func (s *GameSession) teardownLocked(ctx context.Context, reason string) {
	if s.torn {
		return
	}
	s.torn = true
	s.closed.Store(true)
	s.stopTimersLocked()

	if err := s.manager.store.DeleteGame(ctx, s.GameID); err != nil {
		s.manager.log.Warn("deleting game snapshot failed", zap.String("game", s.GameID), zap.Error(err))
	}
	if err := s.manager.chat.Delete(ctx, s.Thread); err != nil {
		s.manager.log.Warn("deleting game chat failed", zap.String("game", s.GameID), zap.Error(err))
	}
	s.manager.out.CloseScope(s.scope(), domain.CloseSessionEnded, reason)
	s.manager.log.Info("session torn down", zap.String("game", s.GameID), zap.String("reason", reason))
}

// run is the single path every player action takes: the snapshot is
// refreshed first (a missing snapshot ends the game for both players),
// then apply runs, and on success the new state is saved and broadcast.
// Rejections go back to the actor only.
func (s *GameSession) run(ctx context.Context, player string, apply func() error, commit bool) error {
	s.mu.Lock()
	err := s.runLocked(ctx, player, apply, commit)
	torn := s.torn
	s.mu.Unlock()

	if torn {
		s.manager.remove(s.GameID, s)
	}
	return err
}

func (s *GameSession) runLocked(ctx context.Context, player string, apply func() error, commit bool) error {
	if s.torn {
		return domain.ErrSessionExpired
	}
	idx, err := s.Game.Index(player)
	if err != nil {
		return err
	}
	if s.Game.Departed[idx] {
		return domain.ErrPlayerDeparted
	}

	alive, err := s.manager.store.TouchGame(ctx, s.GameID, s.manager.settings.SnapshotTTL)
	if err != nil {
		return fmt.Errorf("refreshing game %s: %w", s.GameID, err)
	}
	if !alive {
		s.failLocked(ctx, domain.ErrSessionExpired)
		return domain.ErrSessionExpired
	}
	s.lastAction = time.Now()

	if err := apply(); err != nil {
		if kind := domain.KindOf(err); kind == domain.KindValidation || kind == domain.KindState {
			s.private(ctx, player, err.Error())
		}
		return err
	}
	if commit {
		s.save(ctx)
		for _, p := range s.Game.Players {
			s.sendView(p)
		}
	}
	return nil
}

// failLocked reports a resource error to both players and ends the game.
func (s *GameSession) failLocked(ctx context.Context, err error) {
	s.manager.log.Warn("session failed", zap.String("game", s.GameID), zap.Error(err))
	for _, p := range s.Game.Players {
		s.manager.out.SendTo(p, s.scope(), domain.ErrorMessage(err))
	}
	s.teardownLocked(ctx, err.Error())
}

func (s *GameSession) save(ctx context.Context) {
	if err := s.manager.store.SaveGame(ctx, s.Game, s.manager.settings.SnapshotTTL); err != nil {
		s.manager.log.Error("saving game snapshot failed", zap.String("game", s.GameID), zap.Error(err))
	}
}

func (s *GameSession) sendView(player string) {
	view, err := s.Game.View(player)
	if err != nil {
		return
	}
	s.manager.out.SendTo(player, s.scope(), domain.GameStateMessage(view))
}

func (s *GameSession) public(ctx context.Context, body string) {
	if err := s.manager.chat.SendSystem(ctx, s.Thread, body, ""); err != nil {
		s.manager.log.Warn("posting system line failed", zap.String("game", s.GameID), zap.Error(err))
	}
}

func (s *GameSession) private(ctx context.Context, player, body string) {
	if err := s.manager.chat.SendSystem(ctx, s.Thread, body, player); err != nil {
		s.manager.log.Warn("posting private line failed", zap.String("game", s.GameID), zap.Error(err))
	}
}

func (s *GameSession) startDepartureTimer() {
	if s.departureTimer != nil {
		return
	}
	s.departureTimer = time.AfterFunc(s.manager.settings.DepartureGrace, func() {
		s.Teardown(context.Background(), "opponent did not return")
	})
}

// startRematchTimer lets a lone vote lapse after the rematch window. A zero
// window keeps votes until the peer votes or someone leaves.
func (s *GameSession) startRematchTimer() {
	if s.manager.settings.RematchWindow <= 0 || s.rematchTimer != nil {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(s.manager.settings.RematchWindow, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.rematchTimer != timer || s.torn {
			return
		}
		s.rematchTimer = nil
		s.Game.ClearRematchVotes()
		s.save(context.Background())
		for _, p := range s.Game.Players {
			s.sendView(p)
		}
		s.public(context.Background(), "REMATCH VOTE EXPIRED")
	})
	s.rematchTimer = timer
}

func (s *GameSession) stopRematchTimer() {
	if s.rematchTimer != nil {
		s.rematchTimer.Stop()
		s.rematchTimer = nil
	}
}

func (s *GameSession) stopTimersLocked() {
	s.stopRematchTimer()
	if s.departureTimer != nil {
		s.departureTimer.Stop()
		s.departureTimer = nil
	}
}

func (s *GameSession) stopTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimersLocked()
}
