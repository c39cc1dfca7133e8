package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BigWin is a display-only copy of a large cashout.
type BigWin struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	UserName   string          `json:"user_name"`
	SessionID  string          `json:"session_id"`
	GameType   GameType        `json:"game_type"`
	BetAmount  decimal.Decimal `json:"bet_amount"`
	WinAmount  decimal.Decimal `json:"win_amount"`
	Multiplier decimal.Decimal `json:"multiplier"`
	CreatedAt  time.Time       `json:"created_at"`
}

type BigWinView struct {
	UserName   string          `json:"user_name"`
	GameType   GameType        `json:"game_type"`
	WinAmount  decimal.Decimal `json:"win_amount"`
	Multiplier decimal.Decimal `json:"multiplier"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (b *BigWin) View() BigWinView {
	return BigWinView{
		UserName:   b.UserName,
		GameType:   b.GameType,
		WinAmount:  b.WinAmount,
		Multiplier: b.Multiplier,
		CreatedAt:  b.CreatedAt,
	}
}
