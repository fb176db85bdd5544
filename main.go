package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/chatrelay/internal/adapter/llm"
	"github.com/xiaot623/gogo/chatrelay/internal/adapter/mailer"
	"github.com/xiaot623/gogo/chatrelay/internal/auth"
	"github.com/xiaot623/gogo/chatrelay/internal/config"
	"github.com/xiaot623/gogo/chatrelay/internal/hub"
	"github.com/xiaot623/gogo/chatrelay/internal/logging"
	"github.com/xiaot623/gogo/chatrelay/internal/policy"
	store "github.com/xiaot623/gogo/chatrelay/internal/repository"
	"github.com/xiaot623/gogo/chatrelay/internal/service"
	transport "github.com/xiaot623/gogo/chatrelay/internal/transport/http"
	"github.com/xiaot623/gogo/chatrelay/internal/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("chatrelay stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting chatrelay",
		"http_port", cfg.HTTPPort,
		"internal_port", cfg.InternalPort,
		"database_driver", cfg.DatabaseDriver,
		"history_mode", cfg.HistoryMode,
		"mock_llm", cfg.MockLLM(),
	)

	// Initialize store
	db, err := store.NewStore(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer db.Close()

	// Initialize model gateway
	llmClient := llm.NewLLMClient(cfg, logger)
	gateway := service.NewModelGateway(llmClient, cfg.LLMModel, cfg.LLMTimeout, logger)

	// Initialize policy engine
	policyEngine, err := policy.NewDefaultEngine(ctx)
	if err != nil {
		return fmt.Errorf("initialize policy engine: %w", err)
	}

	// Initialize room broker
	var broker hub.Broker
	if cfg.RedisURL != "" {
		rb, err := hub.NewRedisBroker(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("initialize redis broker: %w", err)
		}
		defer rb.Close()
		broker = rb
		logger.Info("room fan-out via redis enabled")
	}
	connectionHub := hub.New(broker, logger)

	// Initialize service
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	svc := service.New(db, gateway, tokens, mailer.New(cfg, logger), policyEngine, cfg, logger)
	authn := auth.NewAuthenticator(tokens, svc.ResolveIdentity)

	checkCtx, cancelCheck := context.WithTimeout(ctx, 5*time.Second)
	if err := svc.CheckModel(checkCtx); err != nil {
		logger.Warn("model endpoint check failed", "model", cfg.LLMModel, "error", err)
	}
	cancelCheck()

	// Initialize servers
	wsServer := ws.NewServer(cfg, connectionHub, svc, authn, logger)
	externalServer := transport.NewExternalServer(svc, authn, wsServer)
	internalServer := transport.NewInternalServer(svc, connectionHub)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return connectionHub.Run(gctx)
	})
	g.Go(func() error {
		return serve(externalServer, cfg.HTTPPort)
	})
	g.Go(func() error {
		return serve(internalServer, cfg.InternalPort)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down chatrelay")

		// Graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := externalServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("external server shutdown", "error", err)
		}
		if err := internalServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("internal server shutdown", "error", err)
		}
		if err := wsServer.Wait(shutdownCtx); err != nil {
			logger.Warn("in-flight turns did not finish", "error", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("chatrelay stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func serve(e *echo.Echo, port int) error {
	if err := e.Start(fmt.Sprintf(":%d", port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen on port %d: %w", port, err)
	}
	return nil
}
