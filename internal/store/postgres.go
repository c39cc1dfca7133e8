package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"mines-backend/internal/errs"
	"mines-backend/internal/models"
)

const (
	pgUniqueViolation      = "23505"
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"

	activeSessionIndex = "game_sessions_one_active"
)

type PostgresOptions struct {
	URL         string
	Retries     int
	LockTimeout time.Duration
}

// PostgresStore serialises units of work with row locks: every Tx read takes
// FOR UPDATE, and lock waits are bounded by lock_timeout.
type PostgresStore struct {
	db          *pgxpool.Pool
	retries     int
	lockTimeout time.Duration
}

func NewPostgresStore(ctx context.Context, opts PostgresOptions) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if opts.Retries < 1 {
		opts.Retries = 8
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 2 * time.Second
	}
	return &PostgresStore{db: pool, retries: opts.Retries, lockTimeout: opts.LockTimeout}, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

func (s *PostgresStore) Atomic(ctx context.Context, fn func(Tx) error) error {
	for attempt := 1; attempt <= s.retries; attempt++ {
		err := s.attempt(ctx, fn)
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				if pgErr.ConstraintName == activeSessionIndex {
					return errs.ErrSessionAlreadyActive
				}
			case pgLockNotAvailable, pgSerializationFailure, pgDeadlockDetected:
				log.WithFields(log.Fields{"attempt": attempt, "code": pgErr.Code}).Debug("postgres unit of work contended, retrying")
				if err := sleepJitter(ctx, attempt); err != nil {
					return fmt.Errorf("%w: %v", errs.ErrContention, err)
				}
				continue
			}
		}
		return errs.Persistence("postgres unit of work", err)
	}
	return fmt.Errorf("%w: gave up after %d attempts", errs.ErrContention, s.retries)
}

func (s *PostgresStore) attempt(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return err
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

const walletColumns = `user_id, display_name, balance, currency, total_wagered, total_won, created_at, updated_at`

const sessionColumns = `id, user_id, user_name, game_type, bet_amount, multiplier, payout, status,
	game_data, server_seed, server_seed_hash, client_seed, created_at, completed_at`

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.UserID, &w.DisplayName, &w.Balance, &w.Currency, &w.TotalWagered, &w.TotalWon, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func scanSession(row pgx.Row) (*models.GameSession, error) {
	var (
		s    models.GameSession
		data []byte
	)
	err := row.Scan(&s.ID, &s.UserID, &s.UserName, &s.GameType, &s.BetAmount, &s.Multiplier, &s.Payout, &s.Status,
		&data, &s.ServerSeed, &s.ServerSeedHash, &s.ClientSeed, &s.CreatedAt, &s.CompletedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &s.Mines); err != nil {
		return nil, errs.Persistence("decode game data", err)
	}
	if err := s.Validate(); err != nil {
		return nil, errs.Persistence("corrupt game session", err)
	}
	return &s, nil
}

func (t *pgTx) Wallet(ctx context.Context, userID string) (*models.Wallet, error) {
	w, err := scanWallet(t.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 FOR UPDATE`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", errs.ErrAccountNotFound, userID)
	}
	return w, err
}

func (t *pgTx) PutWallet(ctx context.Context, w *models.Wallet) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO wallets (`+walletColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			balance = EXCLUDED.balance,
			total_wagered = EXCLUDED.total_wagered,
			total_won = EXCLUDED.total_won,
			updated_at = EXCLUDED.updated_at
	`, w.UserID, w.DisplayName, w.Balance, w.Currency, w.TotalWagered, w.TotalWon, w.CreatedAt, w.UpdatedAt)
	return err
}

func (t *pgTx) Session(ctx context.Context, id string) (*models.GameSession, error) {
	s, err := scanSession(t.tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM game_sessions WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", errs.ErrSessionNotFound, id)
	}
	return s, err
}

func (t *pgTx) ActiveSession(ctx context.Context, userID string, gameType models.GameType) (*models.GameSession, error) {
	s, err := scanSession(t.tx.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM game_sessions
		WHERE user_id = $1 AND game_type = $2 AND status = 'active'
		FOR UPDATE
	`, userID, string(gameType)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (t *pgTx) PutSession(ctx context.Context, s *models.GameSession) error {
	data, err := json.Marshal(s.Mines)
	if err != nil {
		return fmt.Errorf("failed to marshal game data: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO game_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			multiplier = EXCLUDED.multiplier,
			payout = EXCLUDED.payout,
			status = EXCLUDED.status,
			game_data = EXCLUDED.game_data,
			completed_at = EXCLUDED.completed_at
	`, s.ID, s.UserID, s.UserName, string(s.GameType), s.BetAmount, s.Multiplier, s.Payout, string(s.Status),
		data, s.ServerSeed, s.ServerSeedHash, s.ClientSeed, s.CreatedAt, s.CompletedAt)
	return err
}

func (t *pgTx) AppendTransaction(ctx context.Context, tx *models.Transaction) error {
	var sessionID *string
	if tx.GameSessionID != "" {
		sessionID = &tx.GameSessionID
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO transactions (id, user_id, type, amount, currency, status, balance_before, balance_after, game_session_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, tx.ID, tx.UserID, string(tx.Type), tx.Amount, tx.Currency, string(tx.Status),
		tx.BalanceBefore, tx.BalanceAfter, sessionID, tx.Description, tx.CreatedAt)
	return err
}

func (s *PostgresStore) GetWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	w, err := scanWallet(s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", errs.ErrAccountNotFound, userID)
	}
	if err != nil {
		return nil, errs.Persistence("get wallet", err)
	}
	return w, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*models.GameSession, error) {
	session, err := scanSession(s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM game_sessions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", errs.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, errs.Persistence("get game session", err)
	}
	return session, nil
}

func (s *PostgresStore) GetActiveSession(ctx context.Context, userID string, gameType models.GameType) (*models.GameSession, error) {
	session, err := scanSession(s.db.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM game_sessions
		WHERE user_id = $1 AND game_type = $2 AND status = 'active'
	`, userID, string(gameType)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Persistence("get active game", err)
	}
	return session, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, limit int) ([]*models.Transaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, type, amount, currency, status, balance_before, balance_after,
			COALESCE(game_session_id, ''), description, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`, userID, clampLimit(limit))
	if err != nil {
		return nil, errs.Persistence("list transactions", err)
	}
	defer rows.Close()

	transactions := []*models.Transaction{}
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Type, &tx.Amount, &tx.Currency, &tx.Status,
			&tx.BalanceBefore, &tx.BalanceAfter, &tx.GameSessionID, &tx.Description, &tx.CreatedAt); err != nil {
			return nil, errs.Persistence("scan transaction", err)
		}
		transactions = append(transactions, &tx)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Persistence("list transactions", err)
	}
	return transactions, nil
}

func (s *PostgresStore) ListCompletedSessions(ctx context.Context, userID string, limit int) ([]*models.GameSession, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+sessionColumns+` FROM game_sessions
		WHERE user_id = $1 AND status <> 'active'
		ORDER BY completed_at DESC, created_at DESC
		LIMIT $2
	`, userID, clampLimit(limit))
	if err != nil {
		return nil, errs.Persistence("list completed games", err)
	}
	defer rows.Close()

	sessions := []*models.GameSession{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, errs.Persistence("scan game session", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Persistence("list completed games", err)
	}
	return sessions, nil
}

func (s *PostgresStore) AddBigWin(ctx context.Context, win *models.BigWin) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO big_wins (id, user_id, user_name, session_id, game_type, bet_amount, win_amount, multiplier, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, win.ID, win.UserID, win.UserName, win.SessionID, string(win.GameType), win.BetAmount, win.WinAmount, win.Multiplier, win.CreatedAt)
	if err != nil {
		return errs.Persistence("add big win", err)
	}
	return nil
}

func (s *PostgresStore) RecentBigWins(ctx context.Context, limit int) ([]*models.BigWin, error) {
	if limit <= 0 {
		return []*models.BigWin{}, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, user_name, session_id, game_type, bet_amount, win_amount, multiplier, created_at
		FROM big_wins
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, errs.Persistence("get big wins", err)
	}
	defer rows.Close()

	wins := []*models.BigWin{}
	for rows.Next() {
		var w models.BigWin
		if err := rows.Scan(&w.ID, &w.UserID, &w.UserName, &w.SessionID, &w.GameType,
			&w.BetAmount, &w.WinAmount, &w.Multiplier, &w.CreatedAt); err != nil {
			return nil, errs.Persistence("scan big win", err)
		}
		wins = append(wins, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Persistence("get big wins", err)
	}
	return wins, nil
}
