package store

import "time"

const (
	KeyWallet             = "wallet:%s"
	KeyGameSession        = "game:session:%s"
	KeyUserActiveGame     = "user:%s:active:%s"
	KeyUserCompletedGames = "user:%s:completed_games"
	KeyTransaction        = "transaction:%s"
	KeyUserTransactions   = "user:%s:transactions"
	KeyUserTransactionSeq = "user:%s:transactions:seq"
	KeyBigWins            = "bigwins"
	KeyRateLimit          = "ratelimit:%s:%s"

	retryBaseDelay = 5 * time.Millisecond
)
