package store

import (
	"context"
	"time"

	"mines-backend/internal/models"
)

// Tx is one atomic unit of work. Reads inside a Tx are consistent with the
// writes it commits: if anything it read changed before commit, the unit is
// retried or fails with errs.ErrContention.
//
// The function passed to Store.Atomic may run more than once, so it must not
// have side effects outside the Tx.
type Tx interface {
	// Wallet returns errs.ErrAccountNotFound for unknown users.
	Wallet(ctx context.Context, userID string) (*models.Wallet, error)
	PutWallet(ctx context.Context, w *models.Wallet) error

	// Session returns errs.ErrSessionNotFound for unknown ids.
	Session(ctx context.Context, id string) (*models.GameSession, error)
	// ActiveSession returns nil when the user has no active session of that type.
	ActiveSession(ctx context.Context, userID string, gameType models.GameType) (*models.GameSession, error)
	PutSession(ctx context.Context, s *models.GameSession) error

	AppendTransaction(ctx context.Context, t *models.Transaction) error
}

// Store persists wallets, sessions, transactions and big wins.
type Store interface {
	Atomic(ctx context.Context, fn func(Tx) error) error

	GetWallet(ctx context.Context, userID string) (*models.Wallet, error)
	GetSession(ctx context.Context, id string) (*models.GameSession, error)
	GetActiveSession(ctx context.Context, userID string, gameType models.GameType) (*models.GameSession, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]*models.Transaction, error)
	// ListCompletedSessions returns settled sessions, most recently completed first.
	ListCompletedSessions(ctx context.Context, userID string, limit int) ([]*models.GameSession, error)

	AddBigWin(ctx context.Context, win *models.BigWin) error
	RecentBigWins(ctx context.Context, limit int) ([]*models.BigWin, error)

	Ping(ctx context.Context) error
	Close() error
}

// RateLimiter counts actions per user in fixed windows.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, userID, action string, limit int, window time.Duration) (bool, error)
}

const (
	DefaultTransactionLimit = 50
	MaxTransactionLimit     = 100
	bigWinRetention         = 100
)

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxTransactionLimit {
		return DefaultTransactionLimit
	}
	return limit
}
