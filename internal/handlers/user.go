package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mines-backend/internal/errs"
	"mines-backend/internal/models"
	"mines-backend/internal/services"
	"mines-backend/internal/store"
)

type UserHandler struct {
	engine *services.MinesEngine
}

func NewUserHandler(engine *services.MinesEngine) *UserHandler {
	return &UserHandler{engine: engine}
}

func (h *UserHandler) GetBalance(c *gin.Context) {
	player, ok := currentPlayer(c)
	if !ok {
		respondError(c, errs.ErrUnauthorized)
		return
	}

	balance, err := h.engine.GetBalance(c.Request.Context(), player)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"balance": balance,
	})
}

func (h *UserHandler) GetTransactions(c *gin.Context) {
	player, ok := currentPlayer(c)
	if !ok {
		respondError(c, errs.ErrUnauthorized)
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(store.DefaultTransactionLimit)))
	if err != nil || limit <= 0 || limit > store.MaxTransactionLimit {
		limit = store.DefaultTransactionLimit
	}

	transactions, err := h.engine.ListTransactions(c.Request.Context(), player, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// InternalHandler serves calls from the account service, never players.
type InternalHandler struct {
	engine *services.MinesEngine
}

func NewInternalHandler(engine *services.MinesEngine) *InternalHandler {
	return &InternalHandler{engine: engine}
}

func (h *InternalHandler) Deposit(c *gin.Context) {
	var req models.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	record, err := h.engine.Deposit(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"transaction": record,
	})
}
