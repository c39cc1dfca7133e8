package config_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mines-backend/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("STORE_DRIVER", "")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.DriverRedis, cfg.StoreDriver)
	assert.Equal(t, 25, cfg.Game.BoardSize)
	assert.Equal(t, 1, cfg.Game.MinMines)
	assert.Equal(t, 24, cfg.Game.MaxMines)
	assert.True(t, cfg.Game.BigWinThreshold.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 10, cfg.Game.BigWinLimit)
	assert.Equal(t, "USDT", cfg.Game.Currency)
	assert.Equal(t, 2*time.Second, cfg.LockTimeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BOARD_SIZE", "16")
	t.Setenv("MAX_MINES", "15")
	t.Setenv("BIG_WIN_THRESHOLD", "250.5")
	t.Setenv("LOCK_TIMEOUT", "500ms")
	t.Setenv("TELEGRAM_CHAT_IDS", "1, 2,3")
	t.Setenv("CURRENCY", "btc")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Game.BoardSize)
	assert.Equal(t, 15, cfg.Game.MaxMines)
	assert.Equal(t, "250.5", cfg.Game.BigWinThreshold.String())
	assert.Equal(t, 500*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, []int64{1, 2, 3}, cfg.TelegramChatIDs)
	assert.Equal(t, "BTC", cfg.Game.Currency)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]map[string]string{
		"mines exceed board": {"MAX_MINES": "25"},
		"bad driver":         {"STORE_DRIVER": "mongo"},
		"postgres no url":    {"STORE_DRIVER": "postgres", "POSTGRES_URL": ""},
		"non numeric":        {"BOARD_SIZE": "five"},
		"production secret":  {"ENV": "production", "JWT_SECRET": ""},
	}

	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}
