package domain

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) InBounds() bool {
	return p.X >= 0 && p.X < BoardSize && p.Y >= 0 && p.Y < BoardSize
}

type Ship struct {
	ID          int         `json:"id"`
	Length      int         `json:"length"`
	Coords      []Point     `json:"coords"`
	Orientation Orientation `json:"orientation"`
	Sunk        bool        `json:"sunk"`
}

func (s *Ship) Occupies(p Point) bool {
	for _, c := range s.Coords {
		if c == p {
			return true
		}
	}
	return false
}

// Board holds one player's fleet. Cells is indexed [y][x] and is true
// wherever a ship sits.
type Board struct {
	Cells      [BoardSize][BoardSize]bool `json:"cells"`
	Ships      []*Ship                    `json:"ships"`
	Remaining  map[int]int                `json:"remaining"`
	NextShipID int                        `json:"nextShipId"`
}

func NewBoard() *Board {
	remaining := make(map[int]int, len(Fleet))
	for length, count := range Fleet {
		remaining[length] = count
	}
	return &Board{Remaining: remaining, NextShipID: 1}
}

// ShipCoords lays out a ship of the given length from (x, y). Horizontal
// ships grow along x, vertical ones along y.
func ShipCoords(x, y, length int, orientation Orientation) ([]Point, error) {
	if orientation != Horizontal && orientation != Vertical {
		return nil, ErrInvalidOrientation
	}

	coords := make([]Point, 0, length)
	for i := 0; i < length; i++ {
		p := Point{X: x, Y: y + i}
		if orientation == Horizontal {
			p = Point{X: x + i, Y: y}
		}
		if !p.InBounds() {
			return nil, ErrOutOfBounds
		}
		coords = append(coords, p)
	}
	return coords, nil
}

// Place validates and commits a ship. Nothing changes on error.
func (b *Board) Place(x, y, length int, orientation Orientation) (*Ship, error) {
	if _, ok := Fleet[length]; !ok {
		return nil, ErrInvalidLength
	}

	coords, err := ShipCoords(x, y, length, orientation)
	if err != nil {
		return nil, err
	}

	for _, p := range coords {
		if b.Cells[p.Y][p.X] {
			return nil, ErrOverlap
		}
	}

	if b.Remaining[length] == 0 {
		return nil, ErrFleetExceeded
	}

	for _, p := range coords {
		b.Cells[p.Y][p.X] = true
	}
	ship := &Ship{
		ID:          b.NextShipID,
		Length:      length,
		Coords:      coords,
		Orientation: orientation,
	}
	b.NextShipID++
	b.Ships = append(b.Ships, ship)
	b.Remaining[length]--

	return ship, nil
}

// Remove takes the ship covering (x, y) off the board and gives its
// length back to the remaining fleet.
func (b *Board) Remove(x, y int) (*Ship, error) {
	p := Point{X: x, Y: y}
	if !p.InBounds() {
		return nil, ErrNoShipAt
	}

	for i, ship := range b.Ships {
		if !ship.Occupies(p) {
			continue
		}
		for _, c := range ship.Coords {
			b.Cells[c.Y][c.X] = false
		}
		b.Ships = append(b.Ships[:i], b.Ships[i+1:]...)
		b.Remaining[ship.Length]++
		return ship, nil
	}

	return nil, ErrNoShipAt
}

func (b *Board) ShipAt(p Point) *Ship {
	if !p.InBounds() || !b.Cells[p.Y][p.X] {
		return nil
	}
	for _, ship := range b.Ships {
		if ship.Occupies(p) {
			return ship
		}
	}
	return nil
}

func (b *Board) FleetPlaced() bool {
	for _, count := range b.Remaining {
		if count > 0 {
			return false
		}
	}
	return true
}

func (b *Board) AllSunk() bool {
	if len(b.Ships) == 0 {
		return false
	}
	for _, ship := range b.Ships {
		if !ship.Sunk {
			return false
		}
	}
	return true
}

// ShotLog records what one attacker has fired at, indexed [y][x].
type ShotLog [BoardSize][BoardSize]ShotResult

func (l *ShotLog) At(p Point) ShotResult {
	return l[p.Y][p.X]
}
