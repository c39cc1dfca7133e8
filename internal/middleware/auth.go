package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"mines-backend/internal/errs"
	"mines-backend/internal/models"
	"mines-backend/internal/services"
	"mines-backend/internal/store"
)

const (
	UserIDKey = "user_id"
	PlayerKey = "player"
)

func abort(c *gin.Context, err error, message string) {
	c.AbortWithStatusJSON(errs.HTTPStatus(err), gin.H{
		"error": message,
		"code":  errs.Code(err),
	})
}

func AuthMiddleware(jwtService *services.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		var tokenString string

		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				abort(c, errs.ErrUnauthorized, "Invalid authorization format")
				return
			}
			tokenString = parts[1]
		} else {
			// browsers cannot set headers on websocket upgrades
			tokenString = c.Query("token")
			if tokenString == "" {
				abort(c, errs.ErrUnauthorized, "Authorization header required")
				return
			}
		}

		claims, err := jwtService.ValidateToken(tokenString)
		if err != nil {
			abort(c, errs.ErrUnauthorized, "Invalid or expired token")
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(PlayerKey, claims.Player())

		c.Next()
	}
}

func CurrentPlayer(c *gin.Context) (models.Player, bool) {
	v, ok := c.Get(PlayerKey)
	if !ok {
		return models.Player{}, false
	}
	player, ok := v.(models.Player)
	return player, ok && player.ID != ""
}

// RateLimit allows each user limit requests per window for action.
func RateLimit(limiter store.RateLimiter, action string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(UserIDKey)
		if userID == "" || limit <= 0 {
			c.Next()
			return
		}

		allowed, err := limiter.CheckRateLimit(c.Request.Context(), userID, action, limit, window)
		if err != nil {
			// fail open
			log.WithField("action", action).Warnf("rate limit check failed: %v", err)
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"code":        errs.Code(errs.ErrRateLimited),
				"retry_after": window.Seconds(),
			})
			return
		}

		c.Next()
	}
}

// InternalToken guards service-to-service routes. An empty token disables
// them entirely.
func InternalToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			abort(c, errs.ErrUnauthorized, "Internal API disabled")
			return
		}
		got := c.GetHeader("X-Internal-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			abort(c, errs.ErrUnauthorized, "Invalid internal token")
			return
		}
		c.Next()
	}
}

// RequestLogger replaces gin's default logger with logrus.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"latency":  time.Since(start).String(),
			"client":   c.ClientIP(),
			"user_id":  c.GetString(UserIDKey),
			"response": c.Writer.Size(),
		})

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("request")
		case status >= http.StatusBadRequest:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}
