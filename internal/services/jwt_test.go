package services_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mines-backend/internal/errs"
	"mines-backend/internal/models"
	"mines-backend/internal/services"
)

func TestJWTService(t *testing.T) {
	svc := services.NewJWTService("test-secret", "accounts")
	player := models.Player{ID: "u1", Name: "alice"}

	token, err := svc.GenerateToken(player, time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, player, claims.Player())

	t.Run("wrong secret", func(t *testing.T) {
		_, err := services.NewJWTService("other", "accounts").ValidateToken(token)
		assert.ErrorIs(t, err, errs.ErrUnauthorized)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		_, err := services.NewJWTService("test-secret", "elsewhere").ValidateToken(token)
		assert.ErrorIs(t, err, errs.ErrUnauthorized)
	})

	t.Run("expired", func(t *testing.T) {
		expired, err := svc.GenerateToken(player, -time.Minute)
		require.NoError(t, err)
		_, err = svc.ValidateToken(expired)
		assert.ErrorIs(t, err, errs.ErrUnauthorized)
	})

	t.Run("missing user", func(t *testing.T) {
		raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"iss": "accounts",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		signed, err := raw.SignedString([]byte("test-secret"))
		require.NoError(t, err)
		_, err = svc.ValidateToken(signed)
		assert.ErrorIs(t, err, errs.ErrUnauthorized)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.ValidateToken("not-a-token")
		assert.ErrorIs(t, err, errs.ErrUnauthorized)
	})
}
