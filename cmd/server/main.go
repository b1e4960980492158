// Command wschat-server starts the chat HTTP/WebSocket server and its gRPC health endpoint.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nadeko0/wschat/internal/auth"
	"github.com/nadeko0/wschat/internal/config"
	"github.com/nadeko0/wschat/internal/delivery"
	"github.com/nadeko0/wschat/internal/limiter"
	"github.com/nadeko0/wschat/internal/migrate"
	"github.com/nadeko0/wschat/internal/presence"
	"github.com/nadeko0/wschat/internal/repository/postgres"
	grpcserver "github.com/nadeko0/wschat/internal/server/grpc"
	httpserver "github.com/nadeko0/wschat/internal/server/http"
	"github.com/nadeko0/wschat/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func newLogger(cfg config.Config) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Production() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// main loads configuration, runs migrations, and serves until SIGINT/SIGTERM.
func main() {
	cfg, err := config.Load(os.Args[1:], os.LookupEnv)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}

	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("http", cfg.HTTPAddr),
		zap.String("grpc", cfg.GRPCAddr),
		zap.String("env", cfg.Environment),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DatabaseURL, logger); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	db, err := postgres.New(ctx, cfg.DatabaseURL, cfg.MaxConns)
	if err != nil {
		logger.Fatal("postgres pool", zap.Error(err))
	}
	defer db.Close()

	// Repositories
	userRepo := postgres.NewUserRepo(db)
	msgRepo := postgres.NewMessageRepo(db)
	lim := limiter.NewPG(db.Pool, limiter.Policy{
		Window:   cfg.Login.Window,
		MaxFails: cfg.Login.MaxFails,
		BlockFor: cfg.Login.BlockFor,
	})

	// Delivery core
	key := []byte(cfg.SecretKey)
	verifier := auth.NewVerifier(key, auth.WithLeeway(cfg.TokenLeeway))
	coord := delivery.NewCoordinator(verifier, presence.NewRegistry(), msgRepo, userRepo, logger.Named("delivery"), delivery.Options{
		WriteTimeout:      cfg.WriteTimeout,
		StoreTimeout:      cfg.StoreTimeout,
		InboundRate:       cfg.InboundRate,
		InboundBurst:      cfg.InboundBurst,
		ValidateReceivers: cfg.ValidateReceivers,
	})

	// Services
	authSvc := service.NewAuthService(userRepo, auth.NewIssuer(key, cfg.TokenTTL), verifier, lim, coord)
	userSvc := service.NewUserService(userRepo, cfg.OnlineWindow)
	chatSvc := service.NewChatService(msgRepo)

	var throttle *limiter.Throttle
	if cfg.HTTPRPS > 0 {
		throttle = limiter.NewThrottle(cfg.HTTPRPS, cfg.HTTPBurst, 10*time.Minute)
		go sweep(ctx, throttle, time.Minute)
	}

	api := httpserver.New(authSvc, userSvc, chatSvc, verifier, coord, db, logger.Named("http"), httpserver.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		Production:     cfg.Production(),
		SessionTTL:     cfg.TokenTTL,
		ReadLimit:      cfg.ReadLimit,
		Throttle:       throttle,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("listening (http)", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Health
	health := grpcserver.NewHealth(db, coord.Active, logger.Named("health"), 10*time.Second)
	go health.Watch(ctx)
	var grpcSrv interface {
		GracefulStop()
		Stop()
	}
	if cfg.GRPCAddr != "" {
		s := grpcserver.NewServer(health, logger.Named("grpc"), !cfg.Production())
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Fatal("listen", zap.Error(err))
		}
		grpcSrv = s
		go func() {
			logger.Info("listening (grpc health)", zap.String("addr", cfg.GRPCAddr))
			errCh <- s.Serve(lis)
		}()
	}

	// Wait for stop
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		stop()
	}

	// graceful shutdown: stop accepting, close live channels, let their cleanup finish
	shCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	coord.Shutdown()
	if err := coord.Wait(shCtx); err != nil {
		logger.Warn("live channels still open at shutdown", zap.Int("count", coord.Active()))
	}
	if grpcSrv != nil {
		done := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			grpcSrv.Stop()
		}
	}

	logger.Info("shutdown complete")
}

// sweep evicts idle throttle buckets until ctx is done.
func sweep(ctx context.Context, t *limiter.Throttle, every time.Duration) {
	tk := time.NewTicker(every)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tk.C:
			t.Sweep(now)
		}
	}
}
