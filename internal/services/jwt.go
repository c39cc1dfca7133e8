package services

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mines-backend/internal/errs"
	"mines-backend/internal/models"
)

// Claims are issued by the account service. UserID and Name identify the
// player; nothing about balances is trusted from the token.
type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) Player() models.Player {
	return models.Player{ID: c.UserID, Name: c.Name}
}

type JWTService struct {
	secret []byte
	issuer string
}

func NewJWTService(secret, issuer string) *JWTService {
	return &JWTService{secret: []byte(secret), issuer: issuer}
}

func (s *JWTService) GenerateToken(player models.Player, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: player.ID,
		Name:   player.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   player.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("%w: token carries no user", errs.ErrUnauthorized)
	}
	return claims, nil
}
