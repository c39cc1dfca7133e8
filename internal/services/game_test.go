package services_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mines-backend/internal/config"
	"mines-backend/internal/errs"
	"mines-backend/internal/fairness"
	"mines-backend/internal/ledger"
	"mines-backend/internal/models"
	"mines-backend/internal/services"
	"mines-backend/internal/store"
)

// fixedLayout deals the same mines every round.
type fixedLayout struct {
	mines []int
}

func (f fixedLayout) NewLayout(clientSeed string, boardSize, mineCount int) (*fairness.Layout, error) {
	if len(f.mines) != mineCount {
		return nil, fmt.Errorf("%w: fixture has %d mines, asked for %d", errs.ErrInvalidParameters, len(f.mines), mineCount)
	}
	seed, err := fairness.NewSeed(clientSeed)
	if err != nil {
		return nil, err
	}
	return &fairness.Layout{Seed: seed, MinePositions: append([]int{}, f.mines...)}, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	settled []*models.GameSession
	bigWins []*models.BigWin
}

func (r *recordingNotifier) SessionSettled(ctx context.Context, session *models.GameSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settled = append(r.settled, session)
}

func (r *recordingNotifier) BigWin(ctx context.Context, win *models.BigWin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bigWins = append(r.bigWins, win)
}

type fixture struct {
	engine   *services.MinesEngine
	store    store.Store
	notifier *recordingNotifier
	alice    models.Player
	bob      models.Player
}

func newFixture(t *testing.T, mines ...int) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := store.NewRedisStoreFromClient(client, store.RedisOptions{Retries: 50, Timeout: 10 * time.Second})
	t.Cleanup(func() { s.Close() })

	rules := config.DefaultGame()
	coordinator := ledger.NewCoordinator(s, ledger.Options{
		Currency:        rules.Currency,
		BigWinThreshold: rules.BigWinThreshold,
		BigWinLimit:     rules.BigWinLimit,
	})
	notifier := &recordingNotifier{}
	engine := services.NewMinesEngine(s, coordinator, rules,
		services.WithGenerator(fixedLayout{mines: mines}),
		services.WithNotifier(notifier),
	)

	return &fixture{
		engine:   engine,
		store:    s,
		notifier: notifier,
		alice:    models.Player{ID: "u_alice", Name: "alice"},
		bob:      models.Player{ID: "u_bob", Name: "bob"},
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *fixture) fund(t *testing.T, p models.Player, amount string) {
	t.Helper()
	_, err := f.engine.Deposit(context.Background(), p.ID, &models.DepositRequest{Amount: dec(amount), DisplayName: p.Name})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, p models.Player) decimal.Decimal {
	t.Helper()
	b, err := f.engine.GetBalance(context.Background(), p)
	require.NoError(t, err)
	return b.Balance
}

func (f *fixture) start(t *testing.T, p models.Player, bet string, mines int) *models.StartResponse {
	t.Helper()
	resp, err := f.engine.StartGame(context.Background(), p, &models.StartRequest{BetAmount: dec(bet), MineCount: mines})
	require.NoError(t, err)
	return resp
}

func TestMinesEngine_RevealGemThenMine(t *testing.T) {
	f := newFixture(t, 0, 1, 2)
	ctx := context.Background()
	f.fund(t, f.alice, "100")

	started := f.start(t, f.alice, "10", 3)
	assert.Equal(t, 3, started.MineCount)
	assert.Equal(t, 22, started.SafeCount)
	assert.Len(t, started.ServerSeedHash, 64)
	assert.True(t, f.balance(t, f.alice).Equal(dec("90")))

	gem, err := f.engine.RevealCell(ctx, f.alice, started.SessionID, 12)
	require.NoError(t, err)
	assert.Equal(t, models.CellGem, gem.CellType)
	assert.False(t, gem.GameOver)
	assert.Equal(t, "1.14", gem.Multiplier.StringFixed(2))
	assert.True(t, gem.Payout.Equal(dec("11.40")), "payout %s", gem.Payout)
	assert.Nil(t, gem.MinePositions)
	assert.Empty(t, gem.ServerSeed)

	mine, err := f.engine.RevealCell(ctx, f.alice, started.SessionID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.CellMine, mine.CellType)
	assert.True(t, mine.GameOver)
	assert.True(t, mine.Payout.IsZero())
	assert.True(t, mine.Multiplier.IsZero())
	assert.Equal(t, []int{0, 1, 2}, mine.MinePositions)
	assert.Equal(t, started.ServerSeedHash, fairness.HashServerSeed(mine.ServerSeed))

	assert.True(t, f.balance(t, f.alice).Equal(dec("90")), "a bust moves no funds")

	session, err := f.store.GetSession(ctx, started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBusted, session.Status)
	require.NotNil(t, session.CompletedAt)
	assert.Equal(t, []int{12, 1}, session.Mines.RevealedCells)

	require.Len(t, f.notifier.settled, 1)
	assert.Empty(t, f.notifier.bigWins)
}

func TestMinesEngine_CashOutAfterFiveGems(t *testing.T) {
	f := newFixture(t, 0, 1, 2)
	ctx := context.Background()
	f.fund(t, f.alice, "100")

	started := f.start(t, f.alice, "10", 3)
	for _, cell := range []int{3, 4, 5, 6, 7} {
		_, err := f.engine.RevealCell(ctx, f.alice, started.SessionID, cell)
		require.NoError(t, err)
	}

	out, err := f.engine.CashOut(ctx, f.alice, started.SessionID)
	require.NoError(t, err)

	want, err := fairness.Multiplier(5, 3, 25)
	require.NoError(t, err)
	assert.True(t, out.Multiplier.Equal(want))
	assert.True(t, out.Payout.Equal(dec("10").Mul(want)), "payout %s", out.Payout)
	assert.Equal(t, []int{0, 1, 2}, out.MinePositions)

	assert.True(t, f.balance(t, f.alice).Equal(dec("100").Sub(dec("10")).Add(out.Payout)))

	txs, err := f.engine.ListTransactions(ctx, f.alice, 10)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, models.TransactionTypeWin, txs[0].Type)
	assert.True(t, txs[0].Amount.Equal(out.Payout))
	assert.Equal(t, started.SessionID, txs[0].GameSessionID)
	assert.Equal(t, models.TransactionTypeBet, txs[1].Type)
	assert.True(t, txs[1].Amount.Equal(dec("10")))
	assert.Equal(t, models.TransactionTypeDeposit, txs[2].Type)

	active, err := f.engine.GetActiveSession(ctx, f.alice)
	require.NoError(t, err)
	assert.Nil(t, active)

	assert.Empty(t, f.notifier.bigWins, "20.20 is below the big win threshold")
}

func TestMinesEngine_MaxMinesBigWin(t *testing.T) {
	mines := make([]int, 24)
	for i := range mines {
		mines[i] = i
	}
	f := newFixture(t, mines...)
	ctx := context.Background()
	f.fund(t, f.alice, "10")

	started := f.start(t, f.alice, "10", 24)
	assert.Equal(t, 1, started.SafeCount)

	gem, err := f.engine.RevealCell(ctx, f.alice, started.SessionID, 24)
	require.NoError(t, err)
	assert.True(t, gem.Multiplier.Equal(dec("25")))
	assert.Equal(t, "25.00", gem.Multiplier.StringFixed(2))
	assert.False(t, gem.GameOver, "clearing the board does not settle the round")

	out, err := f.engine.CashOut(ctx, f.alice, started.SessionID)
	require.NoError(t, err)
	assert.True(t, out.Payout.Equal(dec("250")))

	require.Len(t, f.notifier.bigWins, 1)

	first, err := f.engine.ListRecentBigWins(ctx)
	require.NoError(t, err)
	second, err := f.engine.ListRecentBigWins(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	require.Len(t, first, 1)
	assert.Equal(t, "alice", first[0].UserName)
	assert.True(t, first[0].WinAmount.Equal(dec("250")))
}

func TestMinesEngine_StartValidation(t *testing.T) {
	f := newFixture(t, 0, 1, 2)
	ctx := context.Background()
	f.fund(t, f.alice, "5")

	tests := []struct {
		name  string
		bet   string
		mines int
		want  error
	}{
		{"zero bet", "0", 3, errs.ErrInvalidParameters},
		{"negative bet", "-1", 3, errs.ErrInvalidParameters},
		{"bet below minimum", "0.001", 3, errs.ErrInvalidParameters},
		{"bet above maximum", "10000.01", 3, errs.ErrInvalidParameters},
		{"too many decimals", "1.000000001", 3, errs.ErrInvalidParameters},
		{"no mines", "1", 0, errs.ErrInvalidParameters},
		{"board full of mines", "1", 25, errs.ErrInvalidParameters},
		{"insufficient balance", "5.01", 3, errs.ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.StartGame(ctx, f.alice, &models.StartRequest{BetAmount: dec(tt.bet), MineCount: tt.mines})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.True(t, f.balance(t, f.alice).Equal(dec("5")), "failed starts move no funds")

	active, err := f.engine.GetActiveSession(ctx, f.alice)
	require.NoError(t, err)
	assert.Nil(t, active)

	bobBalance, err := f.engine.GetBalance(ctx, f.bob)
	require.NoError(t, err)
	assert.True(t, bobBalance.Balance.IsZero())

	_, err = f.engine.StartGame(ctx, f.bob, &models.StartRequest{BetAmount: dec("1"), MineCount: 3})
	assert.ErrorIs(t, err, errs.ErrInsufficientBalance)
}

func TestMinesEngine_OneActiveSessionPerUser(t *testing.T) {
	f := newFixture(t, 0, 1, 2)
	ctx := context.Background()
	f.fund(t, f.alice, "100")

	first := f.start(t, f.alice, "10", 3)

	_, err := f.engine.StartGame(ctx, f.alice, &models.StartRequest{BetAmount: dec("10"), MineCount: 3})
	assert.ErrorIs(t, err, errs.ErrSessionAlreadyActive)
	assert.True(t, f.balance(t, f.alice).Equal(dec("90")))

	_, err = f.engine.RevealCell(ctx, f.alice, first.SessionID, 0)
	require.NoError(t, err)

	f.start(t, f.alice, "10", 3)
}

func TestMinesEngine_ConcurrentStart(t *testing.T) {
	f := newFixture(t, 0, 1, 2)
	ctx := context.Background()
	f.fund(t, f.alice, "100")

	const callers = 2
	results := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.StartGame(ctx, f.alice, &models.StartRequest{BetAmount: dec("10"), MineCount: 3})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, rejected int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, errs.ErrSessionAlreadyActive):
			rejected++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)
	assert.True(t, f.balance(t, f.alice).Equal(dec("90")), "bet taken exactly once")
}

func TestMinesEngine_RevealErrors(t *testing.T) {
	f := newFixture(t, 0, 1, 2)
	ctx := context.Background()
	f.fund(t, f.alice, "100")
	f.fund(t, f.bob, "100")

	started := f.start(t, f.alice, "10", 3)

	_, err := f.engine.RevealCell(ctx, f.alice, started.SessionID, 10)
	require.NoError(t, err)

	t.Run("duplicate cell", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			_, err := f.engine.RevealCell(ctx, f.alice, started.SessionID, 10)
			assert.ErrorIs(t, err, errs.ErrCellAlreadyRevealed)
		}
		session, err := f.store.GetSession(ctx, started.SessionID)
		require.NoError(t, err)
		assert.Equal(t, []int{10}, session.Mines.RevealedCells)
		assert.Equal(t, "1.14", session.Multiplier.StringFixed(2))
	})

	t.Run("out of range", func(t *testing.T) {
		for _, cell := range []int{-1, 25, 100} {
			_, err := f.engine.RevealCell(ctx, f.alice, started.SessionID, cell)
			assert.ErrorIs(t, err, errs.ErrCellIndexOutOfRange)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		_, err := f.engine.RevealCell(ctx, f.alice, "missing", 3)
		assert.ErrorIs(t, err, errs.ErrSessionNotFound)
	})

	t.Run("someone else's session", func(t *testing.T) {
		_, err := f.engine.RevealCell(ctx, f.bob, started.SessionID, 3)
		assert.ErrorIs(t, err, errs.ErrSessionNotFound)
		_, err = f.engine.CashOut(ctx, f.bob, started.SessionID)
		assert.ErrorIs(t, err, errs.ErrSessionNotFound)
		_, err = f.engine.GetSession(ctx, f.bob, started.SessionID)
		assert.ErrorIs(t, err, errs.ErrSessionNotFound)
	})
}

func TestMinesEngine_NothingToCashOut(t *testing.T) {
	f := newFixture(t, 0, 1, 2)
	ctx := context.Background()
	f.fund(t, f.alice, "100")

	started := f.start(t, f.alice, "10", 3)

	_, err := f.engine.CashOut(ctx, f.alice, started.SessionID)
	assert.ErrorIs(t, err, errs.ErrNothingToCashOut)

	active, err := f.engine.GetActiveSession(ctx, f.alice)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, models.StatusActive, active.Status)
}

func TestMinesEngine_TerminalSessionsRejectEverything(t *testing.T) {
	f := newFixture(t, 0, 1, 2)
	ctx := context.Background()
	f.fund(t, f.alice, "100")

	busted := f.start(t, f.alice, "10", 3)
	_, err := f.engine.RevealCell(ctx, f.alice, busted.SessionID, 2)
	require.NoError(t, err)

	_, err = f.engine.RevealCell(ctx, f.alice, busted.SessionID, 3)
	assert.ErrorIs(t, err, errs.ErrSessionNotActive)
	_, err = f.engine.CashOut(ctx, f.alice, busted.SessionID)
	assert.ErrorIs(t, err, errs.ErrSessionNotActive)

	cashed := f.start(t, f.alice, "10", 3)
	_, err = f.engine.RevealCell(ctx, f.alice, cashed.SessionID, 3)
	require.NoError(t, err)
	_, err = f.engine.CashOut(ctx, f.alice, cashed.SessionID)
	require.NoError(t, err)

	balance := f.balance(t, f.alice)
	_, err = f.engine.CashOut(ctx, f.alice, cashed.SessionID)
	assert.ErrorIs(t, err, errs.ErrSessionNotActive)
	assert.True(t, f.balance(t, f.alice).Equal(balance), "no double payout")
}

func TestMinesEngine_MultiplierIgnoresRevealOrder(t *testing.T) {
	f := newFixture(t, 0, 1, 2)
	ctx := context.Background()
	f.fund(t, f.alice, "100")

	play := func(cells ...int) decimal.Decimal {
		started := f.start(t, f.alice, "1", 3)
		var last *models.RevealResponse
		for _, c := range cells {
			resp, err := f.engine.RevealCell(ctx, f.alice, started.SessionID, c)
			require.NoError(t, err)
			last = resp
		}
		_, err := f.engine.CashOut(ctx, f.alice, started.SessionID)
		require.NoError(t, err)
		return last.Multiplier
	}

	a := play(3, 9, 17, 24)
	b := play(24, 17, 3, 9)
	c := play(5, 6, 7, 8)
	assert.True(t, a.Equal(b))
	assert.True(t, a.Equal(c))
}

func TestMinesEngine_ClearedBoardStaysActive(t *testing.T) {
	f := newFixture(t, 0, 1, 2)
	ctx := context.Background()
	f.fund(t, f.alice, "1")

	started := f.start(t, f.alice, "1", 3)
	var last *models.RevealResponse
	for cell := 3; cell < 25; cell++ {
		resp, err := f.engine.RevealCell(ctx, f.alice, started.SessionID, cell)
		require.NoError(t, err)
		last = resp
	}
	assert.False(t, last.GameOver)
	assert.Equal(t, 22, last.SafeRevealed)

	want, err := fairness.Multiplier(22, 3, 25)
	require.NoError(t, err)
	assert.True(t, last.Multiplier.Equal(want))

	view, err := f.engine.GetSession(ctx, f.alice, started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, view.Status)
	assert.Nil(t, view.MinePositions, "layout stays hidden while active")
	assert.Empty(t, view.ServerSeed)

	_, err = f.engine.CashOut(ctx, f.alice, started.SessionID)
	require.NoError(t, err)

	view, err = f.engine.GetSession(ctx, f.alice, started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, view.MinePositions)
	assert.NotEmpty(t, view.ServerSeed)
}

func TestMinesEngine_ConcurrentRevealsSerialize(t *testing.T) {
	f := newFixture(t, 0, 1, 2)
	ctx := context.Background()
	f.fund(t, f.alice, "100")

	started := f.start(t, f.alice, "10", 3)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for cell := 3; cell < 13; cell++ {
		wg.Add(1)
		go func(cell int) {
			defer wg.Done()
			_, err := f.engine.RevealCell(ctx, f.alice, started.SessionID, cell)
			if err != nil {
				assert.ErrorIs(t, err, errs.ErrContention)
				return
			}
			mu.Lock()
			ok++
			mu.Unlock()
		}(cell)
	}
	wg.Wait()

	session, err := f.store.GetSession(ctx, started.SessionID)
	require.NoError(t, err)
	assert.Len(t, session.Mines.RevealedCells, ok, "every accepted reveal is recorded once")

	want, err := fairness.Multiplier(ok, 3, 25)
	require.NoError(t, err)
	assert.True(t, session.Multiplier.Equal(want))
}

func TestMinesEngine_BalanceForUnknownAccount(t *testing.T) {
	f := newFixture(t, 0, 1, 2)

	b, err := f.engine.GetBalance(context.Background(), f.bob)
	require.NoError(t, err)
	assert.True(t, b.Balance.IsZero())
	assert.Equal(t, "USDT", b.Currency)
}

func TestMinesEngine_Deposit(t *testing.T) {
	f := newFixture(t, 0, 1, 2)
	ctx := context.Background()

	_, err := f.engine.Deposit(ctx, f.alice.ID, &models.DepositRequest{Amount: dec("0")})
	assert.ErrorIs(t, err, errs.ErrInvalidParameters)
	_, err = f.engine.Deposit(ctx, "", &models.DepositRequest{Amount: dec("1")})
	assert.ErrorIs(t, err, errs.ErrInvalidParameters)

	record, err := f.engine.Deposit(ctx, f.alice.ID, &models.DepositRequest{Amount: dec("12.5"), DisplayName: "alice"})
	require.NoError(t, err)
	assert.Equal(t, models.TransactionTypeDeposit, record.Type)
	assert.True(t, record.BalanceAfter.Equal(dec("12.5")))

	wallet, err := f.store.GetWallet(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", wallet.DisplayName)
}

func TestMinesEngine_Verify(t *testing.T) {
	f := newFixture(t, 0, 1, 2)

	seed, err := fairness.NewSeed("player-seed")
	require.NoError(t, err)
	positions, err := fairness.Positions(seed.ServerSeed, seed.ClientSeed, 25, 5)
	require.NoError(t, err)

	resp, err := f.engine.Verify(&models.VerifyRequest{
		ServerSeed:     seed.ServerSeed,
		ServerSeedHash: seed.ServerSeedHash,
		ClientSeed:     seed.ClientSeed,
		MineCount:      5,
	})
	require.NoError(t, err)
	assert.True(t, resp.Valid)
	assert.Equal(t, positions, resp.MinePositions)

	resp, err = f.engine.Verify(&models.VerifyRequest{
		ServerSeed:     seed.ServerSeed,
		ServerSeedHash: fairness.HashServerSeed("other"),
		ClientSeed:     seed.ClientSeed,
		MineCount:      5,
	})
	require.NoError(t, err)
	assert.False(t, resp.Valid)

	_, err = f.engine.Verify(&models.VerifyRequest{ServerSeed: "a", ServerSeedHash: "b", ClientSeed: "c", MineCount: 30})
	assert.ErrorIs(t, err, errs.ErrInvalidParameters)
}

func TestMinesEngine_Multipliers(t *testing.T) {
	f := newFixture(t, 0, 1, 2)

	table, err := f.engine.Multipliers(3)
	require.NoError(t, err)
	require.Len(t, table, 23)
	assert.True(t, table[0].Equal(decimal.NewFromInt(1)))
	assert.Equal(t, "1.14", table[1].StringFixed(2))

	_, err = f.engine.Multipliers(0)
	assert.ErrorIs(t, err, errs.ErrInvalidParameters)
}

func TestMinesEngine_ListHistory(t *testing.T) {
	f := newFixture(t, 0, 1, 2)
	ctx := context.Background()
	f.fund(t, f.alice, "100")

	busted := f.start(t, f.alice, "10", 3)
	_, err := f.engine.RevealCell(ctx, f.alice, busted.SessionID, 0)
	require.NoError(t, err)

	cashed := f.start(t, f.alice, "10", 3)
	_, err = f.engine.RevealCell(ctx, f.alice, cashed.SessionID, 5)
	require.NoError(t, err)
	_, err = f.engine.CashOut(ctx, f.alice, cashed.SessionID)
	require.NoError(t, err)

	f.start(t, f.alice, "10", 3)

	history, err := f.engine.ListHistory(ctx, f.alice, 10)
	require.NoError(t, err)
	require.Len(t, history, 2, "the round in progress is not history")
	assert.Equal(t, cashed.SessionID, history[0].ID)
	assert.Equal(t, models.StatusCashedOut, history[0].Status)
	assert.Equal(t, busted.SessionID, history[1].ID)
	assert.Equal(t, models.StatusBusted, history[1].Status)
	assert.Equal(t, []int{0, 1, 2}, history[1].MinePositions)

	history, err = f.engine.ListHistory(ctx, f.alice, 1)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	history, err = f.engine.ListHistory(ctx, f.bob, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}
