package store

// schema is applied statement by statement by PostgresStore.Migrate.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS wallets (
		user_id       TEXT PRIMARY KEY,
		display_name  TEXT NOT NULL DEFAULT '',
		balance       NUMERIC(20, 8) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		currency      TEXT NOT NULL,
		total_wagered NUMERIC(20, 8) NOT NULL DEFAULT 0,
		total_won     NUMERIC(20, 8) NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS game_sessions (
		id               TEXT PRIMARY KEY,
		user_id          TEXT NOT NULL,
		user_name        TEXT NOT NULL DEFAULT '',
		game_type        TEXT NOT NULL,
		bet_amount       NUMERIC(20, 8) NOT NULL CHECK (bet_amount > 0),
		multiplier       NUMERIC(20, 8) NOT NULL,
		payout           NUMERIC(20, 8) NOT NULL DEFAULT 0,
		status           TEXT NOT NULL,
		game_data        JSONB NOT NULL,
		server_seed      TEXT NOT NULL,
		server_seed_hash TEXT NOT NULL,
		client_seed      TEXT NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL,
		completed_at     TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS game_sessions_one_active
		ON game_sessions (user_id, game_type) WHERE status = 'active'`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		type            TEXT NOT NULL,
		amount          NUMERIC(20, 8) NOT NULL CHECK (amount > 0),
		currency        TEXT NOT NULL,
		status          TEXT NOT NULL,
		balance_before  NUMERIC(20, 8) NOT NULL,
		balance_after   NUMERIC(20, 8) NOT NULL,
		game_session_id TEXT,
		description     TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL
	)`,
	`ALTER TABLE transactions ADD COLUMN IF NOT EXISTS seq BIGINT GENERATED ALWAYS AS IDENTITY`,
	`CREATE INDEX IF NOT EXISTS transactions_user_seq
		ON transactions (user_id, seq DESC)`,
	`CREATE TABLE IF NOT EXISTS big_wins (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		user_name   TEXT NOT NULL,
		session_id  TEXT NOT NULL,
		game_type   TEXT NOT NULL,
		bet_amount  NUMERIC(20, 8) NOT NULL,
		win_amount  NUMERIC(20, 8) NOT NULL,
		multiplier  NUMERIC(20, 8) NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS big_wins_created ON big_wins (created_at DESC)`,
}
