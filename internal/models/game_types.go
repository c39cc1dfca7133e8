package models

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type CellType string

const (
	CellMine CellType = "mine"
	CellGem  CellType = "gem"
)

type StartRequest struct {
	BetAmount  decimal.Decimal `json:"bet_amount"`
	MineCount  int             `json:"mine_count" binding:"required"`
	ClientSeed string          `json:"client_seed" binding:"omitempty,max=64"`
}

type StartResponse struct {
	SessionID      string          `json:"session_id"`
	MineCount      int             `json:"mine_count"`
	SafeCount      int             `json:"safe_count"`
	BetAmount      decimal.Decimal `json:"bet_amount"`
	ServerSeedHash string          `json:"server_seed_hash"`
	ClientSeed     string          `json:"client_seed"`
}

type RevealRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	CellIndex *int   `json:"cell_index" binding:"required"`
}

type RevealResponse struct {
	SessionID     string          `json:"session_id"`
	CellIndex     int             `json:"cell_index"`
	CellType      CellType        `json:"cell_type"`
	GameOver      bool            `json:"game_over"`
	Multiplier    decimal.Decimal `json:"multiplier"`
	Payout        decimal.Decimal `json:"payout"`
	SafeRevealed  int             `json:"safe_revealed"`
	SafeTotal     int             `json:"safe_total"`
	MinePositions []int           `json:"mine_positions,omitempty"`
	ServerSeed    string          `json:"server_seed,omitempty"`
}

type CashoutRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

type CashoutResponse struct {
	SessionID     string          `json:"session_id"`
	Payout        decimal.Decimal `json:"payout"`
	Multiplier    decimal.Decimal `json:"multiplier"`
	MinePositions []int           `json:"mine_positions"`
	ServerSeed    string          `json:"server_seed"`
}

type VerifyRequest struct {
	ServerSeed     string `json:"server_seed" binding:"required"`
	ServerSeedHash string `json:"server_seed_hash" binding:"required"`
	ClientSeed     string `json:"client_seed" binding:"required"`
	MineCount      int    `json:"mine_count" binding:"required"`
}

type VerifyResponse struct {
	Valid         bool  `json:"valid"`
	MinePositions []int `json:"mine_positions,omitempty"`
}

type DepositRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	DisplayName string          `json:"display_name" binding:"omitempty,max=64"`
}

// SessionView is the client-safe projection of a GameSession.
type SessionView struct {
	ID             string          `json:"id"`
	GameType       GameType        `json:"game_type"`
	Status         SessionStatus   `json:"status"`
	BetAmount      decimal.Decimal `json:"bet_amount"`
	MineCount      int             `json:"mine_count"`
	SafeCount      int             `json:"safe_count"`
	RevealedCells  []int           `json:"revealed_cells"`
	Multiplier     decimal.Decimal `json:"multiplier"`
	Payout         decimal.Decimal `json:"payout"`
	ServerSeedHash string          `json:"server_seed_hash"`
	ClientSeed     string          `json:"client_seed"`
	MinePositions  []int           `json:"mine_positions,omitempty"`
	ServerSeed     string          `json:"server_seed,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

func (s *GameSession) View() SessionView {
	v := SessionView{
		ID:             s.ID,
		GameType:       s.GameType,
		Status:         s.Status,
		BetAmount:      s.BetAmount,
		Multiplier:     s.Multiplier,
		Payout:         s.Payout,
		ServerSeedHash: s.ServerSeedHash,
		ClientSeed:     s.ClientSeed,
		CreatedAt:      s.CreatedAt,
		CompletedAt:    s.CompletedAt,
	}
	if s.Mines != nil {
		v.MineCount = s.Mines.MineCount
		v.SafeCount = s.Mines.SafeTotal()
		v.RevealedCells = append([]int{}, s.Mines.RevealedCells...)
		if s.Status.Terminal() {
			v.MinePositions = slices.Clone(s.Mines.MinePositions)
		}
	}
	if s.Status.Terminal() {
		v.ServerSeed = s.ServerSeed
	}
	return v
}
