package domain

import "time"

// Game is the authoritative state of one two-player match. It carries no
// locking; the owning session serializes every call.
type Game struct {
	ID           string     `json:"id"`
	Players      [2]string  `json:"players"`
	Boards       [2]*Board  `json:"boards"`
	Shots        [2]ShotLog `json:"shots"`
	Ready        [2]bool    `json:"ready"`
	RematchVotes [2]bool    `json:"rematchVotes"`
	Departed     [2]bool    `json:"departed"`
	Phase        Phase      `json:"phase"`
	Turn         string     `json:"turn"`
	Winner       *string    `json:"winner"`
	MoveCount    int        `json:"moveCount"`
	Round        int        `json:"round"`
	CreatedAt    time.Time  `json:"createdAt"`
}

type MoveOutcome struct {
	Player     string     `json:"player"`
	Target     Point      `json:"target"`
	Result     ShotResult `json:"result"`
	SunkLength int        `json:"sunkLength,omitempty"`
	Winner     string     `json:"winner,omitempty"`
	NextTurn   string     `json:"nextTurn,omitempty"`
}

func NewGame(id string, players [2]string) *Game {
	g := &Game{
		ID:        id,
		Players:   players,
		CreatedAt: time.Now(),
	}
	g.reset()
	return g
}

func (g *Game) reset() {
	g.Boards = [2]*Board{NewBoard(), NewBoard()}
	g.Shots = [2]ShotLog{}
	g.Ready = [2]bool{}
	g.RematchVotes = [2]bool{}
	g.Phase = PhasePlacement
	g.Turn = ""
	g.Winner = nil
	g.MoveCount = 0
}

func (g *Game) Index(player string) (int, error) {
	for i, p := range g.Players {
		if p == player {
			return i, nil
		}
	}
	return -1, ErrNotAPlayer
}

func (g *Game) Opponent(player string) string {
	if g.Players[0] == player {
		return g.Players[1]
	}
	return g.Players[0]
}

func (g *Game) IsFinished() bool {
	return g.Phase == PhaseGameOver
}

func (g *Game) RematchPending() bool {
	return g.RematchVotes[0] || g.RematchVotes[1]
}

// Settled reports a finished game nobody has asked to replay.
func (g *Game) Settled() bool {
	return g.IsFinished() && !g.RematchPending()
}

func (g *Game) inPlacement() bool {
	return g.Phase == PhasePlacement || g.Phase == PhaseAwaitingReady
}

// placer resolves a player who may still change their own board.
func (g *Game) placer(player string) (int, error) {
	idx, err := g.Index(player)
	if err != nil {
		return -1, err
	}
	if !g.inPlacement() {
		return -1, ErrWrongPhase
	}
	if g.Ready[idx] {
		return -1, ErrAlreadyReady
	}
	return idx, nil
}

func (g *Game) PlaceShip(player string, x, y, length int, orientation Orientation) (*Ship, error) {
	idx, err := g.placer(player)
	if err != nil {
		return nil, err
	}
	return g.Boards[idx].Place(x, y, length, orientation)
}

func (g *Game) RemoveShip(player string, x, y int) (*Ship, error) {
	idx, err := g.placer(player)
	if err != nil {
		return nil, err
	}
	return g.Boards[idx].Remove(x, y)
}

// SetReady locks the player's fleet. Once both fleets are locked the battle
// starts and pickFirst chooses who shoots first (0 or 1).
func (g *Game) SetReady(player string, pickFirst func() int) (bool, error) {
	idx, err := g.placer(player)
	if err != nil {
		return false, err
	}
	if !g.Boards[idx].FleetPlaced() {
		return false, ErrFleetIncomplete
	}

	g.Ready[idx] = true
	if !g.Ready[0] || !g.Ready[1] {
		g.Phase = PhaseAwaitingReady
		return false, nil
	}

	g.Phase = PhaseBattle
	g.Turn = g.Players[pickFirst()&1]
	return true, nil
}

func (g *Game) MakeMove(player string, x, y int) (MoveOutcome, error) {
	idx, err := g.Index(player)
	if err != nil {
		return MoveOutcome{}, err
	}
	if g.Phase != PhaseBattle {
		return MoveOutcome{}, ErrWrongPhase
	}
	if g.Turn != player {
		return MoveOutcome{}, ErrNotYourTurn
	}

	target := Point{X: x, Y: y}
	if !target.InBounds() {
		return MoveOutcome{}, ErrShotOutOfBounds
	}
	if g.Shots[idx].At(target) != NotShot {
		return MoveOutcome{}, ErrAlreadyShot
	}

	enemy := 1 - idx
	outcome := MoveOutcome{Player: player, Target: target, Result: ShotMiss}

	if ship := g.Boards[enemy].ShipAt(target); ship != nil {
		g.Shots[idx][y][x] = ShotHit
		outcome.Result = ShotHit

		sunk := true
		for _, c := range ship.Coords {
			if g.Shots[idx].At(c) != ShotHit {
				sunk = false
				break
			}
		}
		if sunk {
			ship.Sunk = true
			outcome.SunkLength = ship.Length
		}
	} else {
		g.Shots[idx][y][x] = ShotMiss
	}
	g.MoveCount++

	if g.Boards[enemy].AllSunk() {
		winner := player
		g.Winner = &winner
		g.Phase = PhaseGameOver
		outcome.Winner = winner
		return outcome, nil
	}

	g.Turn = g.Players[enemy]
	outcome.NextTurn = g.Turn
	return outcome, nil
}

// VoteRematch records a vote and resets the match once both players have
// voted. It reports whether the reset happened.
func (g *Game) VoteRematch(player string) (bool, error) {
	idx, err := g.Index(player)
	if err != nil {
		return false, err
	}
	if g.Phase != PhaseBattle && g.Phase != PhaseGameOver {
		return false, ErrWrongPhase
	}
	if g.Departed[0] || g.Departed[1] {
		return false, ErrWrongPhase
	}

	g.RematchVotes[idx] = true
	if !g.RematchVotes[0] || !g.RematchVotes[1] {
		return false, nil
	}

	g.reset()
	g.Round++
	return true, nil
}

func (g *Game) ClearRematchVotes() {
	g.RematchVotes = [2]bool{}
}

func (g *Game) HasVoted(player string) bool {
	idx, err := g.Index(player)
	return err == nil && g.RematchVotes[idx]
}

// MarkDeparted reports whether both players are now gone.
func (g *Game) MarkDeparted(player string) (bool, error) {
	idx, err := g.Index(player)
	if err != nil {
		return false, err
	}
	g.Departed[idx] = true
	g.ClearRematchVotes()
	return g.Departed[0] && g.Departed[1], nil
}

func (g *Game) HasDeparted(player string) bool {
	idx, err := g.Index(player)
	return err == nil && g.Departed[idx]
}

func (g *Game) AnyDeparted() bool {
	return g.Departed[0] || g.Departed[1]
}
