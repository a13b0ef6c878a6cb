package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(ErrOverlap))
	assert.Equal(t, KindValidation, KindOf(fmt.Errorf("%w %q", ErrUnknownMessage, "x")))
	assert.Equal(t, KindState, KindOf(ErrNotYourTurn))
	assert.Equal(t, KindState, KindOf(ErrNoSuchInvite))
	assert.Equal(t, KindResource, KindOf(fmt.Errorf("loading: %w", ErrSessionNotFound)))
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.Equal(t, "resource", KindResource.String())
}

func TestGameScope(t *testing.T) {
	id, ok := GameIDFromScope(GameScope("game-alice-bob"))
	assert.True(t, ok)
	assert.Equal(t, "game-alice-bob", id)

	_, ok = GameIDFromScope(ScopeLobby)
	assert.False(t, ok)
	_, ok = GameIDFromScope("game:")
	assert.False(t, ok)
}

func TestParseInviteResponse(t *testing.T) {
	for status, want := range map[string]bool{"accepted": true, "accept": true, "declined": false, "decline": false} {
		got, err := ParseInviteResponse(status)
		require.NoError(t, err, status)
		assert.Equal(t, want, got, status)
	}
	_, err := ParseInviteResponse("maybe")
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestChatVisibility(t *testing.T) {
	public := ChatMessage{Sender: "alice", Kind: KindUser, Visibility: Public}
	private := ChatMessage{Sender: SenderSystem, Kind: KindSystem, Visibility: Private, Recipient: "bob"}

	assert.True(t, public.VisibleTo("bob"))
	assert.True(t, private.VisibleTo("bob"))
	assert.False(t, private.VisibleTo("alice"))

	got := FilterVisible([]ChatMessage{public, private}, "alice")
	assert.Equal(t, []ChatMessage{public}, got)
}

func TestServerMessageShape(t *testing.T) {
	raw, err := json.Marshal(UserListMessage(nil, "alice"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"user_list","users":[],"self":"alice"}`, string(raw))

	raw, err = json.Marshal(InviteStateMessage(InviteState{Incoming: []string{"bob"}}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"invite_state","incoming":["bob"],"outgoing":[],"declined":[]}`, string(raw))

	raw, err = json.Marshal(ErrorMessage(ErrNotYourTurn))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","message":"not your turn"}`, string(raw))
}
