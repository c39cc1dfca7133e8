package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"mines-backend/internal/errs"
	"mines-backend/internal/middleware"
	"mines-backend/internal/models"
)

// respondError writes the error envelope for err. Server-side failures are
// logged with their cause and reported to the client without it.
func respondError(c *gin.Context, err error) {
	status := errs.HTTPStatus(err)
	body := gin.H{
		"error": http.StatusText(status),
		"code":  errs.Code(err),
	}

	if status >= http.StatusInternalServerError && !errors.Is(err, errs.ErrContention) {
		log.WithFields(log.Fields{
			"path":    c.FullPath(),
			"user_id": c.GetString(middleware.UserIDKey),
		}).WithError(err).Error("request failed")
	} else {
		body["details"] = err.Error()
	}

	if errs.Retryable(err) {
		c.Header("Retry-After", "1")
	}
	c.AbortWithStatusJSON(status, body)
}

func bindError(c *gin.Context, err error) {
	respondError(c, fmt.Errorf("%w: %v", errs.ErrInvalidParameters, err))
}

func currentPlayer(c *gin.Context) (models.Player, bool) {
	return middleware.CurrentPlayer(c)
}
