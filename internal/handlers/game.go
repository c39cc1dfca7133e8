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

type GameHandler struct {
	engine *services.MinesEngine
}

func NewGameHandler(engine *services.MinesEngine) *GameHandler {
	return &GameHandler{engine: engine}
}

func (h *GameHandler) StartGame(c *gin.Context) {
	player, ok := currentPlayer(c)
	if !ok {
		respondError(c, errs.ErrUnauthorized)
		return
	}

	var req models.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	game, err := h.engine.StartGame(c.Request.Context(), player, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"game":    game,
	})
}

func (h *GameHandler) RevealCell(c *gin.Context) {
	player, ok := currentPlayer(c)
	if !ok {
		respondError(c, errs.ErrUnauthorized)
		return
	}

	var req models.RevealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	result, err := h.engine.RevealCell(c.Request.Context(), player, req.SessionID, *req.CellIndex)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"result":  result,
	})
}

func (h *GameHandler) CashOut(c *gin.Context) {
	player, ok := currentPlayer(c)
	if !ok {
		respondError(c, errs.ErrUnauthorized)
		return
	}

	var req models.CashoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	result, err := h.engine.CashOut(c.Request.Context(), player, req.SessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"result":  result,
	})
}

func (h *GameHandler) GetActiveSession(c *gin.Context) {
	player, ok := currentPlayer(c)
	if !ok {
		respondError(c, errs.ErrUnauthorized)
		return
	}

	session, err := h.engine.GetActiveSession(c.Request.Context(), player)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": session,
	})
}

func (h *GameHandler) GetHistory(c *gin.Context) {
	player, ok := currentPlayer(c)
	if !ok {
		respondError(c, errs.ErrUnauthorized)
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(store.DefaultTransactionLimit)))
	if err != nil || limit <= 0 || limit > store.MaxTransactionLimit {
		limit = store.DefaultTransactionLimit
	}

	sessions, err := h.engine.ListHistory(c.Request.Context(), player, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (h *GameHandler) GetSession(c *gin.Context) {
	player, ok := currentPlayer(c)
	if !ok {
		respondError(c, errs.ErrUnauthorized)
		return
	}

	session, err := h.engine.GetSession(c.Request.Context(), player, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": session,
	})
}

func (h *GameHandler) Verify(c *gin.Context) {
	var req models.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	verification, err := h.engine.Verify(&req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"verification": verification,
	})
}

func (h *GameHandler) GetMultipliers(c *gin.Context) {
	mineCount, err := strconv.Atoi(c.Query("mine_count"))
	if err != nil {
		bindError(c, err)
		return
	}

	table, err := h.engine.Multipliers(mineCount)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"mine_count":  mineCount,
		"multipliers": table,
	})
}

func (h *GameHandler) GetBigWins(c *gin.Context) {
	wins, err := h.engine.ListRecentBigWins(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"big_wins": wins,
		"count":    len(wins),
	})
}

func (h *GameHandler) GetConfig(c *gin.Context) {
	rules := h.engine.Rules()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"config": gin.H{
			"board_size": rules.BoardSize,
			"min_mines":  rules.MinMines,
			"max_mines":  rules.MaxMines,
			"min_bet":    rules.MinBet,
			"max_bet":    rules.MaxBet,
			"currency":   rules.Currency,
		},
	})
}
