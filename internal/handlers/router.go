package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mines-backend/internal/middleware"
	"mines-backend/internal/services"
	"mines-backend/internal/store"
)

type RateLimits struct {
	Start   int
	Reveal  int
	Cashout int
}

type RouterDeps struct {
	Engine        *services.MinesEngine
	JWT           *services.JWTService
	Hub           *WebSocketHub
	Store         store.Store
	Limiter       store.RateLimiter
	Limits        RateLimits
	InternalToken string
}

func NewRouter(deps RouterDeps) *gin.Engine {
	gameHandler := NewGameHandler(deps.Engine)
	userHandler := NewUserHandler(deps.Engine)
	internalHandler := NewInternalHandler(deps.Engine)
	wsHandler := NewWebSocketHandler(deps.Engine, deps.Hub)

	limit := func(action string, n int) gin.HandlerFunc {
		if deps.Limiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimit(deps.Limiter, action, n, time.Minute)
	}

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger())

	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := deps.Store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	public := router.Group("/api")
	{
		public.GET("/big-wins", gameHandler.GetBigWins)
		public.GET("/games/mines/config", gameHandler.GetConfig)
		public.GET("/games/mines/multipliers", gameHandler.GetMultipliers)
		public.POST("/games/mines/verify", gameHandler.Verify)
	}

	protected := router.Group("/api")
	protected.Use(middleware.AuthMiddleware(deps.JWT))
	{
		protected.GET("/ws", wsHandler.HandleWebSocket)
		protected.GET("/balance", userHandler.GetBalance)
		protected.GET("/transactions", userHandler.GetTransactions)

		mines := protected.Group("/games/mines")
		{
			mines.POST("/start", limit("start", deps.Limits.Start), gameHandler.StartGame)
			mines.POST("/reveal", limit("reveal", deps.Limits.Reveal), gameHandler.RevealCell)
			mines.POST("/cashout", limit("cashout", deps.Limits.Cashout), gameHandler.CashOut)
			mines.GET("/active", gameHandler.GetActiveSession)
			mines.GET("/sessions/:id", gameHandler.GetSession)
			mines.GET("/history", gameHandler.GetHistory)
		}
	}

	internal := router.Group("/internal")
	internal.Use(middleware.InternalToken(deps.InternalToken))
	{
		internal.POST("/accounts/:id/deposit", internalHandler.Deposit)
	}

	return router
}
