package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

type Config struct {
	Env  string
	Port string

	StoreDriver string
	RedisURL    string
	RedisPass   string
	RedisDB     int
	PostgresURL string

	JWTSecret     string
	InternalToken string

	NatsURL         string
	NatsToken       string
	BotToken        string
	TelegramChatIDs []int64

	Game Game

	ContentionRetries int
	LockTimeout       time.Duration

	RateLimitStart   int
	RateLimitReveal  int
	RateLimitCashout int

	LogLevel string
	LogDir   string
}

// Game holds the table rules. They are constants of a deployment, not
// something a client negotiates.
type Game struct {
	BoardSize       int
	MinMines        int
	MaxMines        int
	MinBet          decimal.Decimal
	MaxBet          decimal.Decimal
	BigWinThreshold decimal.Decimal
	BigWinLimit     int
	Currency        string
}

func DefaultGame() Game {
	return Game{
		BoardSize:       25,
		MinMines:        1,
		MaxMines:        24,
		MinBet:          decimal.RequireFromString("0.01"),
		MaxBet:          decimal.NewFromInt(10000),
		BigWinThreshold: decimal.NewFromInt(100),
		BigWinLimit:     10,
		Currency:        "USDT",
	}
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:               getEnv("ENV", "development"),
		Port:              getEnv("PORT", "8080"),
		StoreDriver:       strings.ToLower(getEnv("STORE_DRIVER", DriverRedis)),
		RedisURL:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:         os.Getenv("REDIS_PASSWORD"),
		PostgresURL:       os.Getenv("POSTGRES_URL"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		InternalToken:     os.Getenv("INTERNAL_TOKEN"),
		NatsURL:           os.Getenv("NATS_URL"),
		NatsToken:         os.Getenv("NATS_TOKEN"),
		BotToken:          os.Getenv("TELEGRAM_BOT_TOKEN"),
		Game:              DefaultGame(),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogDir:            os.Getenv("LOG_DIR"),
		ContentionRetries: 8,
		LockTimeout:       2 * time.Second,
		RateLimitStart:    30,
		RateLimitReveal:   120,
		RateLimitCashout:  60,
	}

	var err error
	ints := []struct {
		key string
		dst *int
	}{
		{"REDIS_DB", &cfg.RedisDB},
		{"BOARD_SIZE", &cfg.Game.BoardSize},
		{"MIN_MINES", &cfg.Game.MinMines},
		{"MAX_MINES", &cfg.Game.MaxMines},
		{"BIG_WIN_LIMIT", &cfg.Game.BigWinLimit},
		{"CONTENTION_RETRIES", &cfg.ContentionRetries},
		{"RATE_LIMIT_START", &cfg.RateLimitStart},
		{"RATE_LIMIT_REVEAL", &cfg.RateLimitReveal},
		{"RATE_LIMIT_CASHOUT", &cfg.RateLimitCashout},
	}
	for _, i := range ints {
		if err = intEnv(i.key, i.dst); err != nil {
			return nil, err
		}
	}

	decimals := []struct {
		key string
		dst *decimal.Decimal
	}{
		{"MIN_BET", &cfg.Game.MinBet},
		{"MAX_BET", &cfg.Game.MaxBet},
		{"BIG_WIN_THRESHOLD", &cfg.Game.BigWinThreshold},
	}
	for _, d := range decimals {
		if err = decimalEnv(d.key, d.dst); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("LOCK_TIMEOUT"); v != "" {
		if cfg.LockTimeout, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("invalid LOCK_TIMEOUT %q: %w", v, err)
		}
	}
	if v := os.Getenv("CURRENCY"); v != "" {
		cfg.Game.Currency = strings.ToUpper(v)
	}

	if cfg.TelegramChatIDs, err = parseChatIDs(os.Getenv("TELEGRAM_CHAT_IDS")); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	g := c.Game
	if g.BoardSize < 2 {
		return fmt.Errorf("BOARD_SIZE must be at least 2, got %d", g.BoardSize)
	}
	if g.MinMines < 1 || g.MinMines > g.MaxMines || g.MaxMines > g.BoardSize-1 {
		return fmt.Errorf("mine range [%d, %d] invalid for board of %d cells", g.MinMines, g.MaxMines, g.BoardSize)
	}
	if !g.MinBet.IsPositive() || g.MaxBet.LessThan(g.MinBet) {
		return fmt.Errorf("bet range [%s, %s] invalid", g.MinBet, g.MaxBet)
	}
	if g.BigWinLimit < 1 {
		return fmt.Errorf("BIG_WIN_LIMIT must be positive")
	}

	switch c.StoreDriver {
	case DriverRedis:
	case DriverPostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("POSTGRES_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.ContentionRetries < 1 {
		return fmt.Errorf("CONTENTION_RETRIES must be positive")
	}
	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func decimalEnv(key string, dst *decimal.Decimal) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d
	return nil
}

func parseChatIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_IDS entry %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
