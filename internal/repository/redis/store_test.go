package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/iamasit07/broadside/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(client), mr
}

func TestPresenceExpires(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.SetPresence(ctx, "alice", 30*time.Second, now))
	present, err := s.IsPresent(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, present)

	mr.FastForward(31 * time.Second)
	present, err = s.IsPresent(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, present)

	seen, err := s.LastSeen(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, now.UnixMilli(), seen.UnixMilli())

	never, err := s.LastSeen(ctx, "nobody")
	require.NoError(t, err)
	assert.True(t, never.IsZero())
}

func TestRosterPrunesAbsentUsers(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	for _, u := range []string{"carol", "alice", "bob"} {
		require.NoError(t, s.AddToRoster(ctx, u))
	}
	require.NoError(t, s.SetPresence(ctx, "alice", time.Minute, time.Now()))
	require.NoError(t, s.SetPresence(ctx, "carol", time.Minute, time.Now()))

	users, err := s.Roster(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "carol"}, users)

	members, err := mr.Members(rosterKey)
	require.NoError(t, err)
	assert.NotContains(t, members, "bob")
}

func TestInviteLifecycle(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	inv := domain.Invite{From: "alice", To: "bob", Status: domain.InvitePending, CreatedAt: time.Now()}
	require.NoError(t, s.PutInvite(ctx, inv, time.Minute))

	got, err := s.GetInvite(ctx, "alice", "bob")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.InvitePending, got.Status)

	bob, err := s.InviteState(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, bob.Incoming)

	alice, err := s.InviteState(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, alice.Outgoing)

	inv.Status = domain.InviteDeclined
	require.NoError(t, s.PutInvite(ctx, inv, 5*time.Second))
	alice, err = s.InviteState(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, alice.Outgoing)
	assert.Equal(t, []string{"bob"}, alice.Declined)

	bob, err = s.InviteState(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, bob.Incoming)

	mr.FastForward(6 * time.Second)
	alice, err = s.InviteState(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, alice.Declined)

	got, err = s.GetInvite(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestChatHistoryIsCapped(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		msg := domain.ChatMessage{Sender: "alice", Kind: domain.KindUser, Body: string(rune('a' + i)), Visibility: domain.Public}
		require.NoError(t, s.AppendChat(ctx, "alice_bob", msg, 3))
	}

	history, err := s.ChatHistory(ctx, "alice_bob")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "c", history[0].Body)
	assert.Equal(t, "e", history[2].Body)
}

func TestThreadMeta(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	last := time.UnixMilli(1700000000000)

	meta := domain.ThreadMeta{ID: "alice_bob", Scope: domain.ScopeLobby, Participants: []string{"alice", "bob"}, LastActivity: last}
	require.NoError(t, s.TouchThread(ctx, meta))

	metas, err := s.Threads(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, meta.Participants, metas[0].Participants)
	assert.True(t, last.Equal(metas[0].LastActivity))

	require.NoError(t, s.DeleteThread(ctx, "alice_bob"))
	metas, err = s.Threads(ctx)
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestGameSnapshot(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	g := domain.NewGame("game-alice-bob", [2]string{"alice", "bob"})
	_, err := g.PlaceShip("alice", 0, 0, 5, domain.Horizontal)
	require.NoError(t, err)
	require.NoError(t, s.SaveGame(ctx, g, time.Minute))

	loaded, err := s.LoadGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.Players, loaded.Players)
	assert.Equal(t, 0, loaded.Boards[0].Remaining[5])
	assert.NotNil(t, loaded.Boards[0].ShipAt(domain.Point{X: 4, Y: 0}))

	ok, err := s.TouchGame(ctx, g.ID, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = s.TouchGame(ctx, g.ID, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.LoadGame(ctx, g.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestPublishSubscribe(t *testing.T) {
	s, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.Subscribe(ctx, FanoutChannel, func(b []byte) { got <- string(b) })
	}()

	require.Eventually(t, func() bool {
		return s.Publish(ctx, FanoutChannel, []byte("hello")) == nil && len(got) > 0
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, "hello", <-got)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}
