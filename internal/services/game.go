package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"mines-backend/internal/config"
	"mines-backend/internal/errs"
	"mines-backend/internal/fairness"
	"mines-backend/internal/ledger"
	"mines-backend/internal/models"
	"mines-backend/internal/store"
)

type MinesEngine struct {
	store     store.Store
	ledger    *ledger.Coordinator
	generator fairness.Generator
	notifier  Notifier
	rules     config.Game
	now       func() time.Time
}

type EngineOption func(*MinesEngine)

func WithGenerator(g fairness.Generator) EngineOption {
	return func(e *MinesEngine) { e.generator = g }
}

func WithNotifier(n Notifier) EngineOption {
	return func(e *MinesEngine) { e.notifier = n }
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *MinesEngine) { e.now = now }
}

func NewMinesEngine(s store.Store, coordinator *ledger.Coordinator, rules config.Game, opts ...EngineOption) *MinesEngine {
	e := &MinesEngine{
		store:     s,
		ledger:    coordinator,
		generator: fairness.HMACGenerator{},
		notifier:  Notifiers{},
		rules:     rules,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *MinesEngine) Rules() config.Game {
	return e.rules
}

func (e *MinesEngine) validateBet(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: bet amount must be positive", errs.ErrInvalidParameters)
	}
	if !amount.Round(ledger.AmountPlaces).Equal(amount) {
		return fmt.Errorf("%w: bet amount has more than %d decimal places", errs.ErrInvalidParameters, ledger.AmountPlaces)
	}
	if amount.LessThan(e.rules.MinBet) || amount.GreaterThan(e.rules.MaxBet) {
		return fmt.Errorf("%w: bet amount must be between %s and %s", errs.ErrInvalidParameters, e.rules.MinBet, e.rules.MaxBet)
	}
	return nil
}

func (e *MinesEngine) validateMineCount(mineCount int) error {
	if mineCount < e.rules.MinMines || mineCount > e.rules.MaxMines || mineCount >= e.rules.BoardSize {
		return fmt.Errorf("%w: mine count must be between %d and %d", errs.ErrInvalidParameters, e.rules.MinMines, min(e.rules.MaxMines, e.rules.BoardSize-1))
	}
	return nil
}

// StartGame opens a new mines round for player and takes the bet.
func (e *MinesEngine) StartGame(ctx context.Context, player models.Player, req *models.StartRequest) (*models.StartResponse, error) {
	if err := e.validateBet(req.BetAmount); err != nil {
		return nil, err
	}
	if err := e.validateMineCount(req.MineCount); err != nil {
		return nil, err
	}

	layout, err := e.generator.NewLayout(req.ClientSeed, e.rules.BoardSize, req.MineCount)
	if err != nil {
		return nil, err
	}

	session := &models.GameSession{
		ID:         models.GenerateGameID(),
		UserID:     player.ID,
		UserName:   player.DisplayName(),
		GameType:   models.GameTypeMines,
		BetAmount:  req.BetAmount,
		Multiplier: decimal.NewFromInt(1),
		Payout:     decimal.Zero,
		Status:     models.StatusActive,
		Mines: &models.MinesGameData{
			BoardSize:     e.rules.BoardSize,
			MineCount:     req.MineCount,
			MinePositions: layout.MinePositions,
			RevealedCells: []int{},
		},
		ServerSeed:     layout.ServerSeed,
		ServerSeedHash: layout.ServerSeedHash,
		ClientSeed:     layout.ClientSeed,
		CreatedAt:      e.now(),
	}

	err = e.store.Atomic(ctx, func(tx store.Tx) error {
		active, err := tx.ActiveSession(ctx, player.ID, models.GameTypeMines)
		if err != nil {
			return err
		}
		if active != nil {
			return fmt.Errorf("%w: session %s", errs.ErrSessionAlreadyActive, active.ID)
		}

		if _, err := e.ledger.Debit(ctx, tx, ledger.Entry{
			UserID:      player.ID,
			Amount:      session.BetAmount,
			SessionID:   session.ID,
			Description: fmt.Sprintf("Placed bet on %s (%d mines)", session.GameType, req.MineCount),
		}); err != nil {
			return err
		}
		return tx.PutSession(ctx, session)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id":    player.ID,
		"session_id": session.ID,
		"amount":     session.BetAmount.String(),
		"mines":      req.MineCount,
	}).Info("mines game started")

	return &models.StartResponse{
		SessionID:      session.ID,
		MineCount:      session.Mines.MineCount,
		SafeCount:      session.Mines.SafeTotal(),
		BetAmount:      session.BetAmount,
		ServerSeedHash: session.ServerSeedHash,
		ClientSeed:     session.ClientSeed,
	}, nil
}

// ownedActive loads a session for a state transition. Sessions owned by
// someone else are reported as missing.
func ownedActive(ctx context.Context, tx store.Tx, userID, sessionID string) (*models.GameSession, error) {
	session, err := tx.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, fmt.Errorf("%w: %s", errs.ErrSessionNotFound, sessionID)
	}
	if !session.IsActive() {
		return nil, fmt.Errorf("%w: session is %s", errs.ErrSessionNotActive, session.Status)
	}
	if session.GameType != models.GameTypeMines {
		return nil, fmt.Errorf("%w: not a mines session", errs.ErrInvalidParameters)
	}
	return session, nil
}

// RevealCell opens one cell. Hitting a mine ends the round with nothing to
// settle since the bet was taken at start.
func (e *MinesEngine) RevealCell(ctx context.Context, player models.Player, sessionID string, cellIndex int) (*models.RevealResponse, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", errs.ErrInvalidParameters)
	}

	var session *models.GameSession
	var hitMine bool

	err := e.store.Atomic(ctx, func(tx store.Tx) error {
		s, err := ownedActive(ctx, tx, player.ID, sessionID)
		if err != nil {
			return err
		}
		mines := s.Mines

		if cellIndex < 0 || cellIndex >= mines.BoardSize {
			return fmt.Errorf("%w: cell %d outside [0, %d)", errs.ErrCellIndexOutOfRange, cellIndex, mines.BoardSize)
		}
		if mines.IsRevealed(cellIndex) {
			return fmt.Errorf("%w: cell %d", errs.ErrCellAlreadyRevealed, cellIndex)
		}

		mines.RevealedCells = append(mines.RevealedCells, cellIndex)
		hitMine = mines.IsMine(cellIndex)

		if hitMine {
			now := e.now()
			s.Status = models.StatusBusted
			s.Multiplier = decimal.Zero
			s.Payout = decimal.Zero
			s.CompletedAt = &now
		} else {
			multiplier, err := fairness.Multiplier(mines.SafeRevealed(), mines.MineCount, mines.BoardSize)
			if err != nil {
				return errs.Persistence("multiplier for stored session", err)
			}
			s.Multiplier = multiplier
			s.Payout = s.BetAmount.Mul(multiplier).Round(ledger.AmountPlaces)
		}

		if err := tx.PutSession(ctx, s); err != nil {
			return err
		}
		session = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp := &models.RevealResponse{
		SessionID:    session.ID,
		CellIndex:    cellIndex,
		CellType:     models.CellGem,
		GameOver:     hitMine,
		Multiplier:   session.Multiplier,
		Payout:       session.Payout,
		SafeRevealed: session.Mines.SafeRevealed(),
		SafeTotal:    session.Mines.SafeTotal(),
	}

	if hitMine {
		resp.CellType = models.CellMine
		resp.MinePositions = session.Mines.MinePositions
		resp.ServerSeed = session.ServerSeed

		log.WithFields(log.Fields{
			"user_id":    player.ID,
			"session_id": session.ID,
			"amount":     session.BetAmount.String(),
		}).Info("mines game busted")
		e.notifier.SessionSettled(context.WithoutCancel(ctx), session)
	}

	return resp, nil
}

// CashOut settles an active round at its current payout.
func (e *MinesEngine) CashOut(ctx context.Context, player models.Player, sessionID string) (*models.CashoutResponse, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", errs.ErrInvalidParameters)
	}

	var session *models.GameSession

	err := e.store.Atomic(ctx, func(tx store.Tx) error {
		s, err := ownedActive(ctx, tx, player.ID, sessionID)
		if err != nil {
			return err
		}
		if !s.Payout.IsPositive() {
			return errs.ErrNothingToCashOut
		}

		now := e.now()
		s.Status = models.StatusCashedOut
		s.CompletedAt = &now

		if _, err := e.ledger.Credit(ctx, tx, ledger.Entry{
			UserID:      s.UserID,
			Amount:      s.Payout,
			SessionID:   s.ID,
			Description: fmt.Sprintf("Won %s on %s (%sx)", s.Payout.StringFixed(2), s.GameType, s.Multiplier.StringFixed(2)),
		}); err != nil {
			return err
		}
		if err := tx.PutSession(ctx, s); err != nil {
			return err
		}
		session = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id":    player.ID,
		"session_id": session.ID,
		"amount":     session.Payout.String(),
		"multiplier": session.Multiplier.String(),
	}).Info("mines game cashed out")

	// settlement has committed; nothing below may fail the request
	bg := context.WithoutCancel(ctx)
	if win := e.ledger.RecordBigWin(bg, session); win != nil {
		e.notifier.BigWin(bg, win)
	}
	e.notifier.SessionSettled(bg, session)

	return &models.CashoutResponse{
		SessionID:     session.ID,
		Payout:        session.Payout,
		Multiplier:    session.Multiplier,
		MinePositions: session.Mines.MinePositions,
		ServerSeed:    session.ServerSeed,
	}, nil
}

func (e *MinesEngine) ListRecentBigWins(ctx context.Context) ([]models.BigWinView, error) {
	wins, err := e.ledger.RecentBigWins(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]models.BigWinView, 0, len(wins))
	for _, w := range wins {
		views = append(views, w.View())
	}
	return views, nil
}

func (e *MinesEngine) GetSession(ctx context.Context, player models.Player, sessionID string) (*models.SessionView, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != player.ID {
		return nil, fmt.Errorf("%w: %s", errs.ErrSessionNotFound, sessionID)
	}
	view := session.View()
	return &view, nil
}

// GetActiveSession returns nil when the player has no round in progress.
func (e *MinesEngine) GetActiveSession(ctx context.Context, player models.Player) (*models.SessionView, error) {
	session, err := e.store.GetActiveSession(ctx, player.ID, models.GameTypeMines)
	if err != nil || session == nil {
		return nil, err
	}
	view := session.View()
	return &view, nil
}

func (e *MinesEngine) ListTransactions(ctx context.Context, player models.Player, limit int) ([]*models.Transaction, error) {
	return e.store.ListTransactions(ctx, player.ID, limit)
}

// ListHistory returns the player's settled rounds with their layouts revealed.
func (e *MinesEngine) ListHistory(ctx context.Context, player models.Player, limit int) ([]models.SessionView, error) {
	sessions, err := e.store.ListCompletedSessions(ctx, player.ID, limit)
	if err != nil {
		return nil, err
	}
	views := make([]models.SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, s.View())
	}
	return views, nil
}

func (e *MinesEngine) GetBalance(ctx context.Context, player models.Player) (*models.BalanceResponse, error) {
	wallet, err := e.store.GetWallet(ctx, player.ID)
	if errors.Is(err, errs.ErrAccountNotFound) {
		return &models.BalanceResponse{
			Balance:      decimal.Zero,
			Currency:     e.rules.Currency,
			TotalWagered: decimal.Zero,
			TotalWon:     decimal.Zero,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &models.BalanceResponse{
		Balance:      wallet.Balance,
		Currency:     wallet.Currency,
		TotalWagered: wallet.TotalWagered,
		TotalWon:     wallet.TotalWon,
	}, nil
}

// Deposit credits funds pushed by the account service.
func (e *MinesEngine) Deposit(ctx context.Context, userID string, req *models.DepositRequest) (*models.Transaction, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", errs.ErrInvalidParameters)
	}
	if !req.Amount.IsPositive() || !req.Amount.Round(ledger.AmountPlaces).Equal(req.Amount) {
		return nil, fmt.Errorf("%w: deposit amount must be positive with at most %d decimal places", errs.ErrInvalidParameters, ledger.AmountPlaces)
	}

	var record *models.Transaction
	err := e.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		record, err = e.ledger.Deposit(ctx, tx, req.DisplayName, ledger.Entry{
			UserID:      userID,
			Amount:      req.Amount,
			Description: "Deposit",
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id": userID,
		"amount":  req.Amount.String(),
	}).Info("deposit credited")
	return record, nil
}

// Verify recomputes a finished round's layout from its revealed seeds.
func (e *MinesEngine) Verify(req *models.VerifyRequest) (*models.VerifyResponse, error) {
	if err := e.validateMineCount(req.MineCount); err != nil {
		return nil, err
	}
	positions, err := fairness.Verify(req.ServerSeed, req.ServerSeedHash, req.ClientSeed, e.rules.BoardSize, req.MineCount)
	if err != nil {
		return &models.VerifyResponse{Valid: false}, nil
	}
	return &models.VerifyResponse{Valid: true, MinePositions: positions}, nil
}

// Multipliers lists the payout ladder for a mine count.
func (e *MinesEngine) Multipliers(mineCount int) ([]decimal.Decimal, error) {
	if err := e.validateMineCount(mineCount); err != nil {
		return nil, err
	}
	return fairness.MultiplierTable(mineCount, e.rules.BoardSize)
}
