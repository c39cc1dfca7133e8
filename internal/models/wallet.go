package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is the balance side of a user account. Balance never goes negative;
// the ledger refuses any debit that would make it so.
type Wallet struct {
	UserID       string          `json:"user_id"`
	DisplayName  string          `json:"display_name"`
	Balance      decimal.Decimal `json:"balance"`
	Currency     string          `json:"currency"`
	TotalWagered decimal.Decimal `json:"total_wagered"`
	TotalWon     decimal.Decimal `json:"total_won"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type BalanceResponse struct {
	Balance      decimal.Decimal `json:"balance"`
	Currency     string          `json:"currency"`
	TotalWagered decimal.Decimal `json:"total_wagered"`
	TotalWon     decimal.Decimal `json:"total_won"`
}
