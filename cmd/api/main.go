package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lumenfi/loanvoice/backend/internal/analysis/underwrite"
	"github.com/lumenfi/loanvoice/backend/internal/config"
	"github.com/lumenfi/loanvoice/backend/internal/handler"
	"github.com/lumenfi/loanvoice/backend/internal/logger"
	"github.com/lumenfi/loanvoice/backend/internal/service/ai"
	"github.com/lumenfi/loanvoice/backend/internal/service/conversation"
	"github.com/lumenfi/loanvoice/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	defer log.Sync()

	if envErr != nil {
		log.Info("no .env file loaded, using system environment variables only")
	}

	st := selectStore(ctx, cfg.Redis, log)
	if closer, ok := st.(*store.Redis); ok {
		defer closer.Close()
	}

	engine := underwrite.NewEngine(underwritingPolicy(cfg.Underwriting))

	var aiSvc *ai.Service
	if cfg.AI.Enabled() {
		aiSvc, err = ai.NewService(ctx, cfg.AI, log)
		if err != nil {
			log.Warn("failed to initialize AI service, conversations will run degraded", zap.Error(err))
			aiSvc = nil
		} else {
			log.Info("AI service initialized", zap.String("model", cfg.AI.Model))
		}
	} else {
		log.Info("Ark credentials not configured, skipping AI initialization")
	}

	var completer conversation.Completer
	if aiSvc != nil {
		completer = aiSvc
	}
	convo := conversation.NewService(st, engine, completer, log)
	defer convo.Flush()

	router := handler.NewRouter(convo, aiSvc, nil, cfg.Voice, log)

	startServer(ctx, cfg.Server, router, log)
}

// selectStore prefers Redis when configured and reachable, otherwise the
// service runs memory-only with a warning.
func selectStore(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) store.Store {
	if !cfg.Enabled() {
		log.Info("REDIS_ADDR not set, using in-memory store")
		return store.NewMemory()
	}

	redisStore := store.NewRedis(store.RedisOptions{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := redisStore.Ping(ctx); err != nil {
		log.Warn("redis unreachable, falling back to in-memory store",
			zap.String("addr", cfg.Addr), zap.Error(err))
		redisStore.Close()
		return store.NewMemory()
	}

	log.Info("redis store connected", zap.String("addr", cfg.Addr))
	return redisStore
}

// underwritingPolicy applies environment overrides to the shipped
// policy.
func underwritingPolicy(cfg config.UnderwritingConfig) underwrite.Policy {
	policy := underwrite.DefaultPolicy()
	if cfg.ApprovalThreshold != nil {
		policy.ApprovalThreshold = *cfg.ApprovalThreshold
	}
	if cfg.RateFloor != nil {
		policy.RateFloor = decimal.NewFromFloat(*cfg.RateFloor)
	}
	if cfg.RateCeiling != nil {
		policy.RateCeiling = decimal.NewFromFloat(*cfg.RateCeiling)
	}
	return policy
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, log *zap.Logger) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info("loanvoice backend listening", zap.String("addr", serverCfg.Addr))
	if err := runServer(ctx, srv); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
