package domain

// cell marks used in rendered boards
const (
	MarkEmpty = ""
	MarkShip  = "S"
	MarkHit   = "X"
	MarkMiss  = "O"
	MarkSunk  = "#"
)

// PlayerView is what one player is allowed to see of a game. The
// opponent's ships only appear once sunk.
type PlayerView struct {
	GameID        string      `json:"gameId"`
	Phase         Phase       `json:"phase"`
	Round         int         `json:"round"`
	Self          string      `json:"self"`
	Opponent      string      `json:"opponent"`
	OwnBoard      [][]string  `json:"ownBoard"`
	OpponentBoard [][]string  `json:"opponentBoard"`
	Ships         []Ship      `json:"ships"`
	OpponentSunk  []Ship      `json:"opponentSunk"`
	ShipsLeft     map[int]int `json:"shipsLeft"`
	Ready         bool        `json:"ready"`
	OpponentReady bool        `json:"opponentReady"`
	Turn          string      `json:"turn"`
	Winner        *string     `json:"winner"`
	RematchVotes  []string    `json:"rematchVotes"`
	OpponentLeft  bool        `json:"opponentLeft"`
}

func emptyGrid() [][]string {
	grid := make([][]string, BoardSize)
	for y := range grid {
		grid[y] = make([]string, BoardSize)
	}
	return grid
}

// View renders the game from player's side. It returns ErrNotAPlayer for
// anyone else.
func (g *Game) View(player string) (PlayerView, error) {
	idx, err := g.Index(player)
	if err != nil {
		return PlayerView{}, err
	}
	enemy := 1 - idx
	own, theirs := g.Boards[idx], g.Boards[enemy]

	ownGrid := emptyGrid()
	for y := 0; y < BoardSize; y++ {
		for x := 0; x < BoardSize; x++ {
			if own.Cells[y][x] {
				ownGrid[y][x] = MarkShip
			}
			switch g.Shots[enemy][y][x] {
			case ShotHit:
				ownGrid[y][x] = MarkHit
			case ShotMiss:
				ownGrid[y][x] = MarkMiss
			}
		}
	}

	sunk := make([]Ship, 0)
	sunkCells := make(map[Point]bool)
	for _, ship := range theirs.Ships {
		if !ship.Sunk {
			continue
		}
		sunk = append(sunk, *ship)
		for _, c := range ship.Coords {
			sunkCells[c] = true
		}
	}

	enemyGrid := emptyGrid()
	for y := 0; y < BoardSize; y++ {
		for x := 0; x < BoardSize; x++ {
			switch g.Shots[idx][y][x] {
			case ShotHit:
				enemyGrid[y][x] = MarkHit
				if sunkCells[Point{X: x, Y: y}] {
					enemyGrid[y][x] = MarkSunk
				}
			case ShotMiss:
				enemyGrid[y][x] = MarkMiss
			}
		}
	}

	ships := make([]Ship, 0, len(own.Ships))
	for _, ship := range own.Ships {
		ships = append(ships, *ship)
	}

	left := make(map[int]int, len(own.Remaining))
	for length, count := range own.Remaining {
		left[length] = count
	}

	votes := make([]string, 0, 2)
	for i, voted := range g.RematchVotes {
		if voted {
			votes = append(votes, g.Players[i])
		}
	}

	return PlayerView{
		GameID:        g.ID,
		Phase:         g.Phase,
		Round:         g.Round,
		Self:          player,
		Opponent:      g.Players[enemy],
		OwnBoard:      ownGrid,
		OpponentBoard: enemyGrid,
		Ships:         ships,
		OpponentSunk:  sunk,
		ShipsLeft:     left,
		Ready:         g.Ready[idx],
		OpponentReady: g.Ready[enemy],
		Turn:          g.Turn,
		Winner:        g.Winner,
		RematchVotes:  votes,
		OpponentLeft:  g.Departed[enemy],
	}, nil
}
