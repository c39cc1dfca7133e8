package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"mines-backend/internal/config"
	"mines-backend/internal/handlers"
	"mines-backend/internal/ledger"
	"mines-backend/internal/notify"
	"mines-backend/internal/services"
	"mines-backend/internal/store"
)

const serviceName = "mines_api"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	config.SetupLogging(cfg, serviceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, redisStore := openStore(ctx, cfg)
	defer st.Close()

	var limiter store.RateLimiter
	if redisStore != nil {
		limiter = redisStore
		if st != store.Store(redisStore) {
			defer redisStore.Close()
		}
	}

	coordinator := ledger.NewCoordinator(st, ledger.Options{
		Currency:        cfg.Game.Currency,
		BigWinThreshold: cfg.Game.BigWinThreshold,
		BigWinLimit:     cfg.Game.BigWinLimit,
	})

	hub := handlers.NewWebSocketHub()
	go hub.Run(ctx)

	notifiers := services.Notifiers{hub}

	if cfg.NatsURL != "" {
		nc, err := notify.Connect(cfg.NatsURL, cfg.NatsToken)
		if err != nil {
			log.Errorf("Unable to connect to NATS, events disabled: %v", err)
		} else {
			defer nc.Drain()
			notifiers = append(notifiers, notify.NewNatsNotifier(nc))
			log.Infof("NATS connection established %s", nc.ConnectedUrl())
		}
	}

	if cfg.BotToken != "" && len(cfg.TelegramChatIDs) > 0 {
		tn, err := notify.NewTelegramNotifier(cfg.BotToken, cfg.TelegramChatIDs, cfg.Game.Currency)
		if err != nil {
			log.Errorf("Failed to initialize Telegram notifier: %v", err)
		} else {
			notifiers = append(notifiers, tn)
			log.Infof("Telegram notifier initialized with %d chat IDs", len(cfg.TelegramChatIDs))
		}
	} else {
		log.Warn("Telegram notifications disabled")
	}

	engine := services.NewMinesEngine(st, coordinator, cfg.Game, services.WithNotifier(notifiers))

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := handlers.NewRouter(handlers.RouterDeps{
		Engine:  engine,
		JWT:     services.NewJWTService(cfg.JWTSecret, ""),
		Hub:     hub,
		Store:   st,
		Limiter: limiter,
		Limits: handlers.RateLimits{
			Start:   cfg.RateLimitStart,
			Reveal:  cfg.RateLimitReveal,
			Cashout: cfg.RateLimitCashout,
		},
		InternalToken: cfg.InternalToken,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("Server starting on port %s (store: %s)", cfg.Port, cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server shutdown failed: %v", err)
	}
}

// openStore connects the configured backend. Rate limiting always uses Redis;
// with the postgres backend it is skipped when Redis is unreachable.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, *store.RedisStore) {
	redisOpts := store.RedisOptions{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
		Retries:  cfg.ContentionRetries,
		Timeout:  cfg.LockTimeout,
	}

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pg, err := store.NewPostgresStore(ctx, store.PostgresOptions{
			URL:         cfg.PostgresURL,
			Retries:     cfg.ContentionRetries,
			LockTimeout: cfg.LockTimeout,
		})
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			log.Fatalf("Failed to migrate schema: %v", err)
		}
		log.Info("pg connection established successfully")

		rs, err := store.NewRedisStore(ctx, redisOpts)
		if err != nil {
			log.Warnf("Redis unavailable, rate limiting disabled: %v", err)
			return pg, nil
		}
		return pg, rs

	default:
		rs, err := store.NewRedisStore(ctx, redisOpts)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		return rs, rs
	}
}
