package uid

import (
	"sort"
	"strings"
)

// SortedPair orders two identities so either side computes the same pair.
func SortedPair(a, b string) [2]string {
	pair := []string{a, b}
	sort.Strings(pair)
	return [2]string{pair[0], pair[1]}
}

// GameID is derived from the sorted pair, so both players (and a replayed
// accept) land on the same session.
func GameID(a, b string) string {
	pair := SortedPair(a, b)
	return "game-" + pair[0] + "-" + pair[1]
}

// LobbyThreadID names the private lobby chat between two users.
func LobbyThreadID(a, b string) string {
	pair := SortedPair(a, b)
	return strings.Join(pair[:], "_")
}

func GameThreadID(gameID string) string {
	return "gamechat:" + gameID
}
