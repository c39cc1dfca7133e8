package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"mines-backend/internal/errs"
	"mines-backend/internal/models"
	"mines-backend/internal/store"
)

// AmountPlaces is the precision money is stored with.
const AmountPlaces = 8

type Options struct {
	Currency        string
	BigWinThreshold decimal.Decimal
	BigWinLimit     int
	Now             func() time.Time
}

// Coordinator moves money. Debit, Credit and Deposit run inside a caller's
// store.Tx so the balance change and its Transaction record commit together.
type Coordinator struct {
	store     store.Store
	currency  string
	threshold decimal.Decimal
	limit     int
	now       func() time.Time
}

func NewCoordinator(s store.Store, opts Options) *Coordinator {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.BigWinLimit <= 0 {
		opts.BigWinLimit = 10
	}
	return &Coordinator{
		store:     s,
		currency:  opts.Currency,
		threshold: opts.BigWinThreshold,
		limit:     opts.BigWinLimit,
		now:       opts.Now,
	}
}

// Entry describes one movement of funds.
type Entry struct {
	UserID      string
	Amount      decimal.Decimal
	SessionID   string
	Description string
}

// Debit takes a bet. A user without a wallet has a balance of zero, so the
// debit fails with ErrInsufficientBalance.
func (c *Coordinator) Debit(ctx context.Context, tx store.Tx, e Entry) (*models.Transaction, error) {
	if !e.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: debit amount must be positive", errs.ErrInvalidParameters)
	}

	wallet, err := tx.Wallet(ctx, e.UserID)
	if errors.Is(err, errs.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: have 0, need %s", errs.ErrInsufficientBalance, e.Amount)
	}
	if err != nil {
		return nil, err
	}
	if wallet.Balance.LessThan(e.Amount) {
		return nil, fmt.Errorf("%w: have %s, need %s", errs.ErrInsufficientBalance, wallet.Balance, e.Amount)
	}

	before := wallet.Balance
	wallet.Balance = wallet.Balance.Sub(e.Amount)
	wallet.TotalWagered = wallet.TotalWagered.Add(e.Amount)

	return c.apply(ctx, tx, wallet, before, models.TransactionTypeBet, e)
}

// Credit pays out a win to an existing wallet.
func (c *Coordinator) Credit(ctx context.Context, tx store.Tx, e Entry) (*models.Transaction, error) {
	if !e.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: credit amount must be positive", errs.ErrInvalidParameters)
	}

	wallet, err := tx.Wallet(ctx, e.UserID)
	if err != nil {
		return nil, err
	}

	before := wallet.Balance
	wallet.Balance = wallet.Balance.Add(e.Amount)
	wallet.TotalWon = wallet.TotalWon.Add(e.Amount)

	return c.apply(ctx, tx, wallet, before, models.TransactionTypeWin, e)
}

// Deposit funds an account on behalf of the account service, opening the
// wallet on first use.
func (c *Coordinator) Deposit(ctx context.Context, tx store.Tx, displayName string, e Entry) (*models.Transaction, error) {
	if !e.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: deposit amount must be positive", errs.ErrInvalidParameters)
	}

	wallet, err := tx.Wallet(ctx, e.UserID)
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrAccountNotFound):
		now := c.now()
		wallet = &models.Wallet{
			UserID:       e.UserID,
			Balance:      decimal.Zero,
			Currency:     c.currency,
			TotalWagered: decimal.Zero,
			TotalWon:     decimal.Zero,
			CreatedAt:    now,
		}
	default:
		return nil, err
	}
	if displayName != "" {
		wallet.DisplayName = displayName
	}

	before := wallet.Balance
	wallet.Balance = wallet.Balance.Add(e.Amount)

	return c.apply(ctx, tx, wallet, before, models.TransactionTypeDeposit, e)
}

func (c *Coordinator) apply(ctx context.Context, tx store.Tx, wallet *models.Wallet, before decimal.Decimal, typ models.TransactionType, e Entry) (*models.Transaction, error) {
	now := c.now()
	wallet.UpdatedAt = now

	record := &models.Transaction{
		ID:            models.GenerateTransactionID(),
		UserID:        e.UserID,
		Type:          typ,
		Amount:        e.Amount,
		Currency:      c.currency,
		Status:        models.TransactionCompleted,
		BalanceBefore: before,
		BalanceAfter:  wallet.Balance,
		GameSessionID: e.SessionID,
		Description:   e.Description,
		CreatedAt:     now,
	}

	if err := tx.PutWallet(ctx, wallet); err != nil {
		return nil, err
	}
	if err := tx.AppendTransaction(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// IsBigWin reports whether payout reaches the big-win threshold.
func (c *Coordinator) IsBigWin(payout decimal.Decimal) bool {
	return payout.IsPositive() && payout.GreaterThanOrEqual(c.threshold)
}

// RecordBigWin stores a display copy of a cashed-out session. It runs after
// the settlement has committed; a failure is logged and reported as nil.
func (c *Coordinator) RecordBigWin(ctx context.Context, session *models.GameSession) *models.BigWin {
	if session.Status != models.StatusCashedOut || !c.IsBigWin(session.Payout) {
		return nil
	}

	win := &models.BigWin{
		ID:         models.GenerateGameID(),
		UserID:     session.UserID,
		UserName:   session.UserName,
		SessionID:  session.ID,
		GameType:   session.GameType,
		BetAmount:  session.BetAmount,
		WinAmount:  session.Payout,
		Multiplier: session.Multiplier,
		CreatedAt:  c.now(),
	}

	if err := c.store.AddBigWin(ctx, win); err != nil {
		log.WithFields(log.Fields{
			"user_id":    session.UserID,
			"session_id": session.ID,
			"amount":     session.Payout.String(),
		}).WithError(err).Error("failed to record big win")
		return nil
	}
	return win
}

func (c *Coordinator) RecentBigWins(ctx context.Context) ([]*models.BigWin, error) {
	return c.store.RecentBigWins(ctx, c.limit)
}
