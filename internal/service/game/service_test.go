package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/iamasit07/broadside/internal/domain"
	store "github.com/iamasit07/broadside/internal/repository/redis"
	"github.com/iamasit07/broadside/internal/service/chat"
	"github.com/iamasit07/broadside/internal/service/presence"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type closeEvent struct {
	user  string
	scope string
	code  int
}

type fakeOut struct {
	mu     sync.Mutex
	sent   map[string][]domain.ServerMessage
	closed []closeEvent
}

func newFakeOut() *fakeOut {
	return &fakeOut{sent: make(map[string][]domain.ServerMessage)}
}

func (f *fakeOut) SendTo(user, _ string, msg domain.ServerMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[user] = append(f.sent[user], msg)
}

func (f *fakeOut) Broadcast(scope string, msg domain.ServerMessage) {
	f.SendTo(scope, scope, msg)
}

func (f *fakeOut) CloseUser(user, scope string, code int, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, closeEvent{user, scope, code})
}

func (f *fakeOut) CloseScope(scope string, code int, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, closeEvent{"", scope, code})
}

func (f *fakeOut) count(user, kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent[user] {
		if m.Type == kind {
			n++
		}
	}
	return n
}

func (f *fakeOut) lastView(user string) domain.PlayerView {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.sent[user]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type == domain.MsgGameState {
			return *msgs[i].State
		}
	}
	return domain.PlayerView{}
}

func (f *fakeOut) scopeClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.closed {
		if c.user == "" && c.code == domain.CloseSessionEnded {
			return true
		}
	}
	return false
}

type line struct {
	body      string
	recipient string
}

type fakeChat struct {
	mu      sync.Mutex
	lines   []line
	deleted int
}

func (f *fakeChat) SendSystem(_ context.Context, _ chat.Thread, body, recipient string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, line{body, recipient})
	return nil
}

func (f *fakeChat) Delete(context.Context, chat.Thread) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted++
	return nil
}

func (f *fakeChat) publicLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, l := range f.lines {
		if l.recipient == "" {
			out = append(out, l.body)
		}
	}
	return out
}

type fixture struct {
	sm    *SessionManager
	store *store.Store
	out   *fakeOut
	chat  *fakeChat
}

func newFixture(t *testing.T, settings Settings) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	s := store.NewStore(client)
	out := newFakeOut()
	fc := &fakeChat{}
	sm := NewSessionManager(s, out, fc, settings, zaptest.NewLogger(t))
	sm.pickFirst = func() int { return 0 }
	t.Cleanup(sm.Shutdown)
	return &fixture{sm: sm, store: s, out: out, chat: fc}
}

func defaultSettings() Settings {
	return Settings{SnapshotTTL: time.Hour, DepartureGrace: time.Minute}
}

// fleet lays ships along rows 0-4, all starting at x=0.
var fleet = []struct{ y, length int }{{0, 5}, {1, 4}, {2, 3}, {3, 3}, {4, 2}}

func placeFleet(t *testing.T, s *GameSession, player string) {
	t.Helper()
	ctx := context.Background()
	for _, f := range fleet {
		require.NoError(t, s.PlaceShip(ctx, player, 0, f.y, f.length, domain.Horizontal))
	}
}

func startBattle(t *testing.T, f *fixture) *GameSession {
	t.Helper()
	ctx := context.Background()
	id, err := f.sm.Open(ctx, "bob", "alice")
	require.NoError(t, err)
	s, err := f.sm.Get(ctx, id)
	require.NoError(t, err)

	placeFleet(t, s, "alice")
	placeFleet(t, s, "bob")
	require.NoError(t, s.SetReady(ctx, "alice"))
	assert.Equal(t, domain.PhaseAwaitingReady, s.Game.Phase)
	require.NoError(t, s.SetReady(ctx, "bob"))
	require.Equal(t, domain.PhaseBattle, s.Game.Phase)
	require.Equal(t, "alice", s.Game.Turn)
	return s
}

func TestOpenIsIdempotent(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()

	first, err := f.sm.Open(ctx, "alice", "bob")
	require.NoError(t, err)
	second, err := f.sm.Open(ctx, "bob", "alice")
	require.NoError(t, err)

	assert.Equal(t, "game-alice-bob", first)
	assert.Equal(t, first, second)
	assert.Len(t, f.sm.Sessions, 1)

	id, ok := f.sm.Active("bob", "alice")
	assert.True(t, ok)
	assert.Equal(t, first, id)
}

func TestTurnFlipsOnlyOnValidMoves(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()
	s := startBattle(t, f)
	before := len(f.chat.publicLines())

	require.NoError(t, s.MakeMove(ctx, "alice", 0, 9))
	assert.Equal(t, "bob", s.Game.Turn)

	assert.ErrorIs(t, s.MakeMove(ctx, "alice", 1, 9), domain.ErrNotYourTurn)
	assert.Equal(t, "bob", s.Game.Turn)

	require.NoError(t, s.MakeMove(ctx, "bob", 0, 0))
	assert.Equal(t, "alice", s.Game.Turn)

	assert.ErrorIs(t, s.MakeMove(ctx, "alice", 0, 9), domain.ErrAlreadyShot)
	assert.Equal(t, "alice", s.Game.Turn)

	lines := f.chat.publicLines()[before:]
	assert.Equal(t, []string{"ALICE FIRED AT (0, 9): MISS", "BOB FIRED AT (0, 0): HIT"}, lines)

	assert.Equal(t, "alice", f.out.lastView("bob").Turn)
	assert.Equal(t, domain.MarkHit, f.out.lastView("alice").OwnBoard[0][0])
}

func TestRejectionsStayWithTheActor(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()
	id, err := f.sm.Open(ctx, "alice", "bob")
	require.NoError(t, err)
	s, err := f.sm.Get(ctx, id)
	require.NoError(t, err)

	bobViews := f.out.count("bob", domain.MsgGameState)
	err = s.PlaceShip(ctx, "alice", 8, 0, 5, domain.Horizontal)
	assert.ErrorIs(t, err, domain.ErrOutOfBounds)

	assert.Equal(t, bobViews, f.out.count("bob", domain.MsgGameState))
	require.Len(t, f.chat.lines, 1)
	assert.Equal(t, line{string(domain.ErrOutOfBounds), "alice"}, f.chat.lines[0])
	assert.Empty(t, s.Game.Boards[0].Ships)

	assert.ErrorIs(t, s.MakeMove(ctx, "alice", 0, 0), domain.ErrWrongPhase)
	assert.ErrorIs(t, s.SetReady(ctx, "alice"), domain.ErrFleetIncomplete)
	assert.ErrorIs(t, s.PlaceShip(ctx, "mallory", 0, 0, 2, domain.Horizontal), domain.ErrNotAPlayer)
}

// playToVictory sinks bob's fleet while bob fires into empty water.
func playToVictory(t *testing.T, s *GameSession) {
	t.Helper()
	ctx := context.Background()

	var targets []domain.Point
	for _, sh := range fleet {
		for x := 0; x < sh.length; x++ {
			targets = append(targets, domain.Point{X: x, Y: sh.y})
		}
	}
	for i, p := range targets {
		require.NoError(t, s.MakeMove(ctx, "alice", p.X, p.Y))
		if i == len(targets)-1 {
			break
		}
		assert.Equal(t, domain.PhaseBattle, s.Game.Phase)
		require.NoError(t, s.MakeMove(ctx, "bob", i%domain.BoardSize, 5+i/domain.BoardSize))
	}
	require.Equal(t, domain.PhaseGameOver, s.Game.Phase)
}

func TestGameOverAndRematch(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()
	s := startBattle(t, f)

	playToVictory(t, s)
	require.NotNil(t, s.Game.Winner)
	assert.Equal(t, "alice", *s.Game.Winner)
	assert.Contains(t, f.chat.publicLines(), "ALICE HAS WON THE GAME")

	require.NoError(t, s.VoteRematch(ctx, "bob"))
	assert.Equal(t, domain.PhaseGameOver, s.Game.Phase)
	assert.Contains(t, f.chat.publicLines(), "BOB HAS VOTED FOR A REMATCH")

	require.NoError(t, s.VoteRematch(ctx, "alice"))
	assert.Equal(t, domain.PhasePlacement, s.Game.Phase)
	assert.Equal(t, 1, s.Game.Round)
	assert.Equal(t, 1, f.out.count(domain.GameScope(s.GameID), domain.MsgNewGame))
}

func TestLeaveNotifiesAndTearsDown(t *testing.T) {
	settings := defaultSettings()
	settings.DepartureGrace = 100 * time.Millisecond
	f := newFixture(t, settings)
	ctx := context.Background()
	s := startBattle(t, f)

	require.NoError(t, s.Leave(ctx, "alice"))
	assert.Equal(t, 1, f.out.count("bob", domain.MsgOpponentLeft))
	assert.True(t, f.out.lastView("bob").OpponentLeft)
	assert.Contains(t, f.chat.publicLines(), "ALICE HAS LEFT THE GAME")

	_, ok := f.sm.Active("alice", "bob")
	assert.False(t, ok)
	assert.ErrorIs(t, s.MakeMove(ctx, "alice", 0, 0), domain.ErrPlayerDeparted)
	assert.ErrorIs(t, s.VoteRematch(ctx, "bob"), domain.ErrWrongPhase)

	require.Eventually(t, f.out.scopeClosed, time.Second, 10*time.Millisecond)
	_, err := f.store.LoadGame(ctx, s.GameID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	require.Eventually(t, func() bool {
		f.sm.mu.RLock()
		defer f.sm.mu.RUnlock()
		return len(f.sm.Sessions) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestBothLeavingEndsImmediately(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()
	s := startBattle(t, f)

	require.NoError(t, s.Leave(ctx, "alice"))
	require.NoError(t, s.Leave(ctx, "bob"))

	assert.True(t, f.out.scopeClosed())
	assert.Equal(t, 1, f.chat.deleted)
	_, err := f.sm.Get(ctx, s.GameID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestMissingSnapshotEndsGameForBoth(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()
	s := startBattle(t, f)

	require.NoError(t, f.store.DeleteGame(ctx, s.GameID))

	err := s.MakeMove(ctx, "alice", 0, 9)
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
	assert.Equal(t, domain.KindResource, domain.KindOf(err))
	assert.Equal(t, 1, f.out.count("alice", domain.MsgError))
	assert.Equal(t, 1, f.out.count("bob", domain.MsgError))
	assert.True(t, f.out.scopeClosed())
}

func TestGetRehydratesFromSnapshot(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()
	s := startBattle(t, f)
	require.NoError(t, s.MakeMove(ctx, "alice", 2, 3))

	other := NewSessionManager(f.store, f.out, f.chat, defaultSettings(), zaptest.NewLogger(t))
	restored, err := other.Get(ctx, s.GameID)
	require.NoError(t, err)
	assert.Equal(t, "bob", restored.Game.Turn)
	assert.Equal(t, domain.ShotHit, restored.Game.Shots[0][3][2])

	_, err = other.Get(ctx, "game-nobody-else")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestReconnectWithinGraceKeepsGame(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()
	s := startBattle(t, f)

	reaper := presence.NewReaper(f.store, time.Minute, 40*time.Millisecond, zaptest.NewLogger(t))
	defer reaper.Stop()
	scope := domain.GameScope(s.GameID)
	onGone := func() { _ = s.Leave(context.Background(), "alice") }

	_, err := reaper.Track(ctx, "alice", scope)
	require.NoError(t, err)
	reaper.Release("alice", scope, onGone)

	reconnected, err := reaper.Track(ctx, "alice", scope)
	require.NoError(t, err)
	assert.True(t, reconnected)
	require.NoError(t, s.Attach(ctx, "alice"))

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, f.out.count("bob", domain.MsgOpponentLeft))

	reaper.Release("alice", scope, onGone)
	require.Eventually(t, func() bool {
		return f.out.count("bob", domain.MsgOpponentLeft) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestCleanupStale(t *testing.T) {
	settings := defaultSettings()
	settings.SnapshotTTL = 20 * time.Millisecond
	f := newFixture(t, settings)
	ctx := context.Background()

	_, err := f.sm.Open(ctx, "alice", "bob")
	require.NoError(t, err)

	assert.Zero(t, f.sm.CleanupStale(ctx))
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 1, f.sm.CleanupStale(ctx))
	_, ok := f.sm.Active("alice", "bob")
	assert.False(t, ok)
}

func TestRemoveShipReturnsItToTheFleet(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()
	id, err := f.sm.Open(ctx, "alice", "bob")
	require.NoError(t, err)
	s, err := f.sm.Get(ctx, id)
	require.NoError(t, err)

	require.NoError(t, s.PlaceShip(ctx, "alice", 3, 3, 4, domain.Vertical))
	assert.Equal(t, 0, f.out.lastView("alice").ShipsLeft[4])

	require.NoError(t, s.RemoveShip(ctx, "alice", 3, 5))
	view := f.out.lastView("alice")
	assert.Equal(t, 1, view.ShipsLeft[4])
	assert.Empty(t, view.Ships)

	assert.ErrorIs(t, s.RemoveShip(ctx, "alice", 3, 5), domain.ErrNoShipAt)

	stored, err := f.store.LoadGame(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, stored.Boards[0].Ships)
}

func TestOpenAfterFinishedGameStartsOver(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()
	s := startBattle(t, f)
	playToVictory(t, s)

	_, ok := f.sm.Active("alice", "bob")
	assert.False(t, ok)

	id, err := f.sm.Open(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, s.GameID, id)
	assert.True(t, f.out.scopeClosed())

	fresh, err := f.sm.Get(ctx, id)
	require.NoError(t, err)
	assert.NotSame(t, s, fresh)
	assert.Equal(t, domain.PhasePlacement, fresh.Game.Phase)
	assert.Equal(t, 0, fresh.Game.Round)
	assert.Nil(t, fresh.Game.Winner)

	stored, err := f.store.LoadGame(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PhasePlacement, stored.Phase)
}

func TestOpenKeepsFinishedGameWithRematchVote(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()
	s := startBattle(t, f)
	playToVictory(t, s)
	require.NoError(t, s.VoteRematch(ctx, "bob"))

	id, ok := f.sm.Active("alice", "bob")
	require.True(t, ok)

	reopened, err := f.sm.Open(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, id, reopened)
	assert.False(t, f.out.scopeClosed())

	same, err := f.sm.Get(ctx, id)
	require.NoError(t, err)
	assert.Same(t, s, same)
	assert.True(t, same.Game.RematchPending())
}
