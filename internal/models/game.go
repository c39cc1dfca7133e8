package models

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type GameType string

const (
	GameTypeMines GameType = "mines"
)

type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusBusted    SessionStatus = "busted"
	StatusCashedOut SessionStatus = "cashed_out"
)

func (s SessionStatus) Terminal() bool {
	return s == StatusBusted || s == StatusCashedOut
}

// GameSession is one round. Mine positions and the server seed are stored
// here but must only leave the process through the response views, which
// hide them until the session is terminal.
type GameSession struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	UserName   string          `json:"user_name"`
	GameType   GameType        `json:"game_type"`
	BetAmount  decimal.Decimal `json:"bet_amount"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Payout     decimal.Decimal `json:"payout"`
	Status     SessionStatus   `json:"status"`
	Mines      *MinesGameData  `json:"mines"`

	ServerSeed     string `json:"server_seed"`
	ServerSeedHash string `json:"server_seed_hash"`
	ClientSeed     string `json:"client_seed"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (s *GameSession) IsActive() bool {
	return s.Status == StatusActive
}

// Validate checks the shape of a session read back from storage.
func (s *GameSession) Validate() error {
	if s.ID == "" || s.UserID == "" {
		return fmt.Errorf("session missing id or owner")
	}
	if !s.BetAmount.IsPositive() {
		return fmt.Errorf("session %s has non-positive bet %s", s.ID, s.BetAmount)
	}
	switch s.Status {
	case StatusActive:
		if s.CompletedAt != nil {
			return fmt.Errorf("active session %s has completed_at set", s.ID)
		}
	case StatusBusted, StatusCashedOut:
		if s.CompletedAt == nil {
			return fmt.Errorf("terminal session %s has no completed_at", s.ID)
		}
	default:
		return fmt.Errorf("session %s has unknown status %q", s.ID, s.Status)
	}

	switch s.GameType {
	case GameTypeMines:
		if s.Mines == nil {
			return fmt.Errorf("mines session %s has no game data", s.ID)
		}
		return s.Mines.Validate()
	default:
		return fmt.Errorf("session %s has unknown game type %q", s.ID, s.GameType)
	}
}

// MinesGameData is the mines variant of a session's game state.
type MinesGameData struct {
	BoardSize     int   `json:"board_size"`
	MineCount     int   `json:"mine_count"`
	MinePositions []int `json:"mine_positions"`
	RevealedCells []int `json:"revealed_cells"`
}

func (m *MinesGameData) Validate() error {
	if m.BoardSize < 2 {
		return fmt.Errorf("board size %d too small", m.BoardSize)
	}
	if m.MineCount < 1 || m.MineCount >= m.BoardSize {
		return fmt.Errorf("mine count %d out of range for board %d", m.MineCount, m.BoardSize)
	}
	if len(m.MinePositions) != m.MineCount {
		return fmt.Errorf("expected %d mine positions, got %d", m.MineCount, len(m.MinePositions))
	}
	if err := uniqueInRange(m.MinePositions, m.BoardSize); err != nil {
		return fmt.Errorf("mine positions: %w", err)
	}
	if err := uniqueInRange(m.RevealedCells, m.BoardSize); err != nil {
		return fmt.Errorf("revealed cells: %w", err)
	}
	return nil
}

func (m *MinesGameData) IsMine(cell int) bool {
	return slices.Contains(m.MinePositions, cell)
}

func (m *MinesGameData) IsRevealed(cell int) bool {
	return slices.Contains(m.RevealedCells, cell)
}

func (m *MinesGameData) SafeTotal() int {
	return m.BoardSize - m.MineCount
}

// SafeRevealed counts revealed cells that are not mines.
func (m *MinesGameData) SafeRevealed() int {
	n := 0
	for _, c := range m.RevealedCells {
		if !m.IsMine(c) {
			n++
		}
	}
	return n
}

func uniqueInRange(cells []int, size int) error {
	seen := make(map[int]struct{}, len(cells))
	for _, c := range cells {
		if c < 0 || c >= size {
			return fmt.Errorf("cell %d outside [0, %d)", c, size)
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("cell %d repeated", c)
		}
		seen[c] = struct{}{}
	}
	return nil
}
