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

	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/teamdesk/internal/auth"
	"github.com/xiaot623/teamdesk/internal/config"
	internalhttp "github.com/xiaot623/teamdesk/internal/http"
	"github.com/xiaot623/teamdesk/internal/hub"
	"github.com/xiaot623/teamdesk/internal/logging"
	"github.com/xiaot623/teamdesk/internal/metrics"
	"github.com/xiaot623/teamdesk/internal/policy"
	"github.com/xiaot623/teamdesk/internal/repository"
	"github.com/xiaot623/teamdesk/internal/seed"
	"github.com/xiaot623/teamdesk/internal/service"
	"github.com/xiaot623/teamdesk/internal/transport/rpc"
	"github.com/xiaot623/teamdesk/internal/ws"
)

func main() {
	if err := run(); err != nil {
		slog.Error("teamdesk exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting teamdesk",
		"http_port", cfg.HTTPPort,
		"rpc_port", cfg.RPCPort,
		"store", cfg.StoreDriver,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer store.Close()

	if cfg.SeedFile != "" {
		fx, err := seed.LoadFile(cfg.SeedFile)
		if err != nil {
			return err
		}
		res, err := seed.Apply(ctx, store, fx)
		if err != nil {
			return err
		}
		logger.Info("seed applied", "users", res.Users, "tasks_created", res.TasksCreated, "tasks_skipped", res.TasksSkipped)
	}

	// Initialize policy engine
	policyEngine, err := policy.LoadEngine(ctx, cfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	m := metrics.New()

	connectionHub := hub.NewHub(
		hub.WithSendBuffer(cfg.SendBuffer),
		hub.WithLogger(logger.With("component", "hub")),
		hub.WithMetrics(m),
	)

	directory := service.NewUserDirectory(store, cfg.UserCacheTTL)
	deps := service.Deps{
		Store:     store,
		Realtime:  connectionHub,
		Directory: directory,
		Policy:    policyEngine,
		Metrics:   m,
		Logger:    logger,
	}
	notifier := service.NewTaskNotifier(connectionHub, m, logger.With("component", "notifier"))
	chats := service.NewChatService(deps)
	tasks := service.NewTaskService(deps, notifier)
	// Authentication reads the store directly so a disabled user is rejected
	// on the next handshake or request, not when the profile cache expires.
	authenticator := auth.NewAuthenticator(cfg.JWTSecret, store)

	wsServer := ws.NewServer(cfg, connectionHub, authenticator, chats, m, logger.With("component", "ws"))
	httpServer := internalhttp.NewServer(internalhttp.Deps{
		Hub:       connectionHub,
		Chats:     chats,
		Tasks:     tasks,
		Auth:      authenticator,
		WebSocket: wsServer.HandleWebSocket,
		Metrics:   m,
		Logger:    logger,
	})
	rpcServer, err := rpc.NewServer(notifier, connectionHub, logger.With("component", "rpc"))
	if err != nil {
		return fmt.Errorf("failed to initialize rpc server: %w", err)
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		connectionHub.Run(hubCtx)
		close(hubDone)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		logger.Info("http server started", "addr", addr)
		if err := httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.RPCPort)
		logger.Info("rpc server started", "addr", addr)
		if err := rpcServer.Start(addr); err != nil {
			return fmt.Errorf("rpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down teamdesk")

		// Graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shutdown http server gracefully", "error", err)
		}
		if err := rpcServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shutdown rpc server gracefully", "error", err)
		}
		stopHub()
		<-hubDone
		return nil
	})

	err = g.Wait()
	logger.Info("teamdesk stopped")
	return err
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return repository.NewMongoStore(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return repository.NewSQLiteStore(cfg.DatabaseURL)
	}
}
