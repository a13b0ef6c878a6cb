package uid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGameIDIsOrderIndependent(t *testing.T) {
	assert.Equal(t, GameID("alice", "bob"), GameID("bob", "alice"))
	assert.Equal(t, "game-alice-bob", GameID("bob", "alice"))
	assert.NotEqual(t, GameID("alice", "bob"), GameID("alice", "carol"))
}

func TestLobbyThreadID(t *testing.T) {
	assert.Equal(t, "alice_bob", LobbyThreadID("bob", "alice"))
	assert.Equal(t, LobbyThreadID("x", "y"), LobbyThreadID("y", "x"))
}

func TestGameThreadID(t *testing.T) {
	assert.Equal(t, "gamechat:game-a-b", GameThreadID(GameID("b", "a")))
}
