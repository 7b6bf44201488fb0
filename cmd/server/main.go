// Command dt-server starts the discount token gRPC server.
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/doutorizze/discount-tokens/internal/config"
	"github.com/doutorizze/discount-tokens/internal/limiter"
	"github.com/doutorizze/discount-tokens/internal/metrics"
	"github.com/doutorizze/discount-tokens/internal/migrate"
	"github.com/doutorizze/discount-tokens/internal/repository"
	"github.com/doutorizze/discount-tokens/internal/repository/filestore"
	"github.com/doutorizze/discount-tokens/internal/repository/memory"
	"github.com/doutorizze/discount-tokens/internal/repository/postgres"
	"github.com/doutorizze/discount-tokens/internal/repository/redisstore"
	grpcserver "github.com/doutorizze/discount-tokens/internal/server/grpc"
	"github.com/doutorizze/discount-tokens/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, builds the selected store and serves gRPC plus metrics.
func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(os.Args[1:], ".env")
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("store", cfg.Store),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, lim, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer closeStore()

	m := metrics.New()

	// Services
	authSvc := service.NewAuthService([]byte(cfg.JWTKey), cfg.AccessTTL)
	tokenSvc := service.NewTokenService(repo, logger.Named("tokens"),
		service.WithObserver(m),
		service.WithLimiter(lim),
	)

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.MetricsUnary(m),
			grpcserver.LoggingUnary(logger),
		),
	}
	if cfg.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			logger.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("TLS disabled; serving plaintext gRPC")
	}
	s := grpc.NewServer(opts...)

	grpcserver.RegisterDiscountTokensServer(s, grpcserver.New(authSvc, tokenSvc))

	// Health & reflection (dev). DiscountTokens has no proto descriptor, so
	// reflection lists it but can only describe the health service.
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if cfg.Dev {
		reflection.Register(s)
	}

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		errCh <- s.Serve(lis)
	}()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	// Wait for stop
	select {
	case <-ctx.Done():
		hs.Shutdown()
		if metricsSrv != nil {
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = metricsSrv.Shutdown(shCtx)
			cancel()
		}
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.Stop()
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		closeStore()
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// openStore builds the token repository and probe limiter for cfg.Store.
func openStore(
	ctx context.Context, cfg *config.Config, logger *zap.Logger,
) (repository.TokenRepository, limiter.Limiter, func(), error) {
	memLim := limiter.NewMemory(cfg.ProbeWindow, cfg.ProbeMaxFails, cfg.ProbeBlockFor)
	switch cfg.Store {
	case config.StoreFile:
		r, err := filestore.NewTokenRepo(cfg.DataDir)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("file store", zap.String("path", r.Path()))
		return r, memLim, func() {}, nil

	case config.StorePostgres:
		if err := migrate.Up(ctx, cfg.DSN, logger.Named("migrate")); err != nil {
			return nil, nil, nil, err
		}
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		db := &postgres.DB{Pool: pool}
		lim := limiter.NewPG(pool, cfg.ProbeWindow, cfg.ProbeMaxFails, cfg.ProbeBlockFor)
		return postgres.NewTokenRepo(db), lim, db.Close, nil

	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, nil, err
		}
		return redisstore.NewTokenRepo(client, cfg.RedisPrefix), memLim, func() { _ = client.Close() }, nil

	default:
		return memory.NewTokenRepo(), memLim, func() {}, nil
	}
}
