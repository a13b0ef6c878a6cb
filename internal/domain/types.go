package domain

import "errors"

const BoardSize = 10

// Fleet is the number of ships of each length a player has to place
// before the battle can start.
var Fleet = map[int]int{
	5: 1,
	4: 1,
	3: 2,
	2: 1,
}

// FleetCells is the total number of ship cells in a complete fleet.
func FleetCells() int {
	total := 0
	for length, count := range Fleet {
		total += length * count
	}
	return total
}

type Orientation string

const (
	Horizontal Orientation = "horizontal"
	Vertical   Orientation = "vertical"
)

// to represent where a game is in its lifecycle
type Phase string

const (
	PhasePlacement     Phase = "placement"
	PhaseAwaitingReady Phase = "awaiting_ready"
	PhaseBattle        Phase = "battle"
	PhaseGameOver      Phase = "game_over"
)

type ShotResult string

const (
	NotShot  ShotResult = ""
	ShotHit  ShotResult = "hit"
	ShotMiss ShotResult = "miss"
)

const (
	ScopeLobby      = "lobby"
	gameScopePrefix = "game:"
)

// GameScope is the connection scope of everyone attached to one game.
func GameScope(gameID string) string {
	return gameScopePrefix + gameID
}

// GameIDFromScope reports the game id carried by a game scope.
func GameIDFromScope(scope string) (string, bool) {
	if len(scope) <= len(gameScopePrefix) || scope[:len(gameScopePrefix)] != gameScopePrefix {
		return "", false
	}
	return scope[len(gameScopePrefix):], true
}

// basic error that can occur
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	// validation
	ErrOutOfBounds        Error = "ship out of bounds"
	ErrOverlap            Error = "ship overlaps with another"
	ErrFleetExceeded      Error = "no more ships of that length available"
	ErrInvalidLength      Error = "invalid ship length"
	ErrInvalidOrientation Error = "invalid orientation"
	ErrShotOutOfBounds    Error = "shot out of bounds"
	ErrAlreadyShot        Error = "cell already shot"
	ErrNoShipAt           Error = "no ship found at this position"
	ErrFleetIncomplete    Error = "you haven't placed all of the ships yet"
	ErrEmptyMessage       Error = "message body is empty"
	ErrInvalidResponse    Error = "invite response must be accepted or declined"
	ErrUnknownMessage     Error = "unknown message type"

	// state
	ErrWrongPhase      Error = "action not allowed in the current phase"
	ErrNotYourTurn     Error = "not your turn"
	ErrAlreadyReady    Error = "you are already ready"
	ErrNotAPlayer      Error = "you are not a player in this game"
	ErrPlayerDeparted  Error = "you have left this game"
	ErrInvalidTarget   Error = "invalid invite target"
	ErrDuplicateInvite Error = "invite already pending"
	ErrNoSuchInvite    Error = "no such invite"
	ErrNotParticipant  Error = "not a participant of this chat"

	// resource
	ErrSessionNotFound Error = "game session not found"
	ErrSessionExpired  Error = "game session expired"
)

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindState
	KindResource
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindResource:
		return "resource"
	}
	return "unknown"
}

// KindOf classifies err by the taxonomy the session engine reports with.
func KindOf(err error) ErrorKind {
	var de Error
	if !errors.As(err, &de) {
		return KindUnknown
	}

	switch de {
	case ErrOutOfBounds, ErrOverlap, ErrFleetExceeded, ErrInvalidLength, ErrInvalidOrientation,
		ErrShotOutOfBounds, ErrAlreadyShot, ErrNoShipAt, ErrFleetIncomplete, ErrEmptyMessage,
		ErrInvalidResponse, ErrUnknownMessage:
		return KindValidation
	case ErrWrongPhase, ErrNotYourTurn, ErrAlreadyReady, ErrNotAPlayer, ErrPlayerDeparted,
		ErrInvalidTarget, ErrDuplicateInvite, ErrNoSuchInvite, ErrNotParticipant:
		return KindState
	case ErrSessionNotFound, ErrSessionExpired:
		return KindResource
	}
	return KindUnknown
}

// websocket close codes
const (
	CloseSessionEnded   = 4000
	CloseTransportFault = 4001
	CloseUnauthorized   = 4401
)
