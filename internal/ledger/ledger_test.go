package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mines-backend/internal/errs"
	"mines-backend/internal/models"
	"mines-backend/internal/store"
)

type mockTx struct {
	wallets      map[string]*models.Wallet
	transactions []*models.Transaction
}

func newMockTx() *mockTx {
	return &mockTx{wallets: make(map[string]*models.Wallet)}
}

func (m *mockTx) Wallet(ctx context.Context, userID string) (*models.Wallet, error) {
	w, ok := m.wallets[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrAccountNotFound, userID)
	}
	cp := *w
	return &cp, nil
}

func (m *mockTx) PutWallet(ctx context.Context, w *models.Wallet) error {
	m.wallets[w.UserID] = w
	return nil
}

func (m *mockTx) Session(ctx context.Context, id string) (*models.GameSession, error) {
	return nil, errs.ErrSessionNotFound
}

func (m *mockTx) ActiveSession(ctx context.Context, userID string, gameType models.GameType) (*models.GameSession, error) {
	return nil, nil
}

func (m *mockTx) PutSession(ctx context.Context, s *models.GameSession) error {
	return nil
}

func (m *mockTx) AppendTransaction(ctx context.Context, t *models.Transaction) error {
	m.transactions = append(m.transactions, t)
	return nil
}

type mockStore struct {
	store.Store
	wins   []*models.BigWin
	addErr error
}

func (m *mockStore) AddBigWin(ctx context.Context, win *models.BigWin) error {
	if m.addErr != nil {
		return m.addErr
	}
	m.wins = append([]*models.BigWin{win}, m.wins...)
	return nil
}

func (m *mockStore) RecentBigWins(ctx context.Context, limit int) ([]*models.BigWin, error) {
	if len(m.wins) < limit {
		return m.wins, nil
	}
	return m.wins[:limit], nil
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newCoordinator(s store.Store) *Coordinator {
	return NewCoordinator(s, Options{
		Currency:        "USDT",
		BigWinThreshold: decimal.NewFromInt(100),
		BigWinLimit:     10,
		Now:             func() time.Time { return fixedNow },
	})
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDebit(t *testing.T) {
	c := newCoordinator(&mockStore{})
	ctx := context.Background()

	t.Run("records bet with balances", func(t *testing.T) {
		tx := newMockTx()
		tx.wallets["u1"] = &models.Wallet{UserID: "u1", Balance: dec("25")}

		record, err := c.Debit(ctx, tx, Entry{UserID: "u1", Amount: dec("10"), SessionID: "g1"})
		require.NoError(t, err)

		assert.Equal(t, models.TransactionTypeBet, record.Type)
		assert.True(t, record.BalanceBefore.Equal(dec("25")))
		assert.True(t, record.BalanceAfter.Equal(dec("15")))
		assert.Equal(t, "g1", record.GameSessionID)
		assert.Equal(t, "USDT", record.Currency)
		assert.True(t, tx.wallets["u1"].Balance.Equal(dec("15")))
		assert.True(t, tx.wallets["u1"].TotalWagered.Equal(dec("10")))
		assert.Len(t, tx.transactions, 1)
	})

	t.Run("exact balance allowed", func(t *testing.T) {
		tx := newMockTx()
		tx.wallets["u1"] = &models.Wallet{UserID: "u1", Balance: dec("10")}

		_, err := c.Debit(ctx, tx, Entry{UserID: "u1", Amount: dec("10")})
		require.NoError(t, err)
		assert.True(t, tx.wallets["u1"].Balance.IsZero())
	})

	t.Run("insufficient balance writes nothing", func(t *testing.T) {
		tx := newMockTx()
		tx.wallets["u1"] = &models.Wallet{UserID: "u1", Balance: dec("9.99")}

		_, err := c.Debit(ctx, tx, Entry{UserID: "u1", Amount: dec("10")})
		assert.ErrorIs(t, err, errs.ErrInsufficientBalance)
		assert.True(t, tx.wallets["u1"].Balance.Equal(dec("9.99")))
		assert.Empty(t, tx.transactions)
	})

	t.Run("unknown account has nothing to spend", func(t *testing.T) {
		tx := newMockTx()
		_, err := c.Debit(ctx, tx, Entry{UserID: "ghost", Amount: dec("1")})
		assert.ErrorIs(t, err, errs.ErrInsufficientBalance)
		assert.NotErrorIs(t, err, errs.ErrAccountNotFound)
		assert.Empty(t, tx.wallets)
		assert.Empty(t, tx.transactions)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		_, err := c.Debit(ctx, newMockTx(), Entry{UserID: "u1", Amount: decimal.Zero})
		assert.ErrorIs(t, err, errs.ErrInvalidParameters)
	})
}

func TestCredit(t *testing.T) {
	c := newCoordinator(&mockStore{})
	ctx := context.Background()

	tx := newMockTx()
	tx.wallets["u1"] = &models.Wallet{UserID: "u1", Balance: dec("0")}

	record, err := c.Credit(ctx, tx, Entry{UserID: "u1", Amount: dec("20.20"), SessionID: "g1"})
	require.NoError(t, err)
	assert.Equal(t, models.TransactionTypeWin, record.Type)
	assert.True(t, record.Amount.Equal(dec("20.2")))
	assert.True(t, tx.wallets["u1"].Balance.Equal(dec("20.2")))
	assert.True(t, tx.wallets["u1"].TotalWon.Equal(dec("20.2")))

	_, err = c.Credit(ctx, tx, Entry{UserID: "u1", Amount: dec("-1")})
	assert.ErrorIs(t, err, errs.ErrInvalidParameters)
}

func TestDepositOpensWallet(t *testing.T) {
	c := newCoordinator(&mockStore{})
	ctx := context.Background()
	tx := newMockTx()

	record, err := c.Deposit(ctx, tx, "alice", Entry{UserID: "u1", Amount: dec("50")})
	require.NoError(t, err)
	assert.Equal(t, models.TransactionTypeDeposit, record.Type)
	assert.True(t, record.BalanceBefore.IsZero())

	w := tx.wallets["u1"]
	require.NotNil(t, w)
	assert.Equal(t, "alice", w.DisplayName)
	assert.Equal(t, "USDT", w.Currency)
	assert.Equal(t, fixedNow, w.CreatedAt)

	_, err = c.Deposit(ctx, tx, "", Entry{UserID: "u1", Amount: dec("5")})
	require.NoError(t, err)
	assert.True(t, tx.wallets["u1"].Balance.Equal(dec("55")))
	assert.Equal(t, "alice", tx.wallets["u1"].DisplayName)
}

func TestRecordBigWin(t *testing.T) {
	ctx := context.Background()
	session := func(payout string) *models.GameSession {
		return &models.GameSession{
			ID:         "g1",
			UserID:     "u1",
			UserName:   "alice",
			GameType:   models.GameTypeMines,
			BetAmount:  dec("10"),
			Multiplier: dec("10"),
			Payout:     dec(payout),
			Status:     models.StatusCashedOut,
		}
	}

	tests := []struct {
		name   string
		payout string
		want   bool
	}{
		{"below threshold", "99.99", false},
		{"at threshold", "100", true},
		{"above threshold", "250.5", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &mockStore{}
			win := newCoordinator(s).RecordBigWin(ctx, session(tt.payout))
			assert.Equal(t, tt.want, win != nil)
			assert.Equal(t, tt.want, len(s.wins) == 1)
		})
	}

	t.Run("busted sessions never count", func(t *testing.T) {
		s := &mockStore{}
		busted := session("500")
		busted.Status = models.StatusBusted
		assert.Nil(t, newCoordinator(s).RecordBigWin(ctx, busted))
	})

	t.Run("store failure is swallowed", func(t *testing.T) {
		s := &mockStore{addErr: errors.New("redis down")}
		assert.Nil(t, newCoordinator(s).RecordBigWin(ctx, session("1000")))
	})
}
