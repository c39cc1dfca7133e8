package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeBet        TransactionType = "bet"
	TransactionTypeWin        TransactionType = "win"
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

// Transaction is an append-only ledger entry. Amount is always positive;
// Type carries the direction.
type Transaction struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	Type          TransactionType   `json:"type"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	Status        TransactionStatus `json:"status"`
	BalanceBefore decimal.Decimal   `json:"balance_before"`
	BalanceAfter  decimal.Decimal   `json:"balance_after"`
	GameSessionID string            `json:"game_session_id,omitempty"`
	Description   string            `json:"description"`
	CreatedAt     time.Time         `json:"created_at"`
}
