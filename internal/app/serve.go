package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/libman/internal/auth"
	"github.com/hitoshi/libman/internal/catalog"
	"github.com/hitoshi/libman/internal/config"
	"github.com/hitoshi/libman/internal/database"
	"github.com/hitoshi/libman/internal/handler"
	"github.com/hitoshi/libman/internal/idempotency"
	"github.com/hitoshi/libman/internal/loan"
	"github.com/hitoshi/libman/internal/member"
	"github.com/hitoshi/libman/internal/metrics"
	"github.com/hitoshi/libman/internal/middleware"
	"github.com/hitoshi/libman/internal/repository"
	"github.com/hitoshi/libman/internal/security"
)

const shutdownTimeout = 30 * time.Second

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	pool := database.DefaultPoolConfig()
	pool.MaxOpenConns = cfg.DBMaxOpenConns
	if pool.MaxIdleConns > pool.MaxOpenConns {
		pool.MaxIdleConns = pool.MaxOpenConns
	}

	db, err := database.Open(cfg.DatabaseURL, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Int("max_open_conns", pool.MaxOpenConns),
	)
	return db, nil
}

// services はHTTP層から利用するドメインサービス群。
type services struct {
	auth    *auth.Service
	catalog *catalog.Service
	member  *member.Service
	loan    *loan.Service
}

// newServices はリポジトリとドメインサービスを組み立てる。
func newServices(db *sql.DB, cfg *config.Config, collector *metrics.Collector) (*services, *repository.PostgresSessionRepo) {
	bookRepo := repository.NewPostgresBookRepo(db)
	memberRepo := repository.NewPostgresMemberRepo(db)
	loanRepo := repository.NewPostgresLoanRepo(db)
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	txm := repository.NewPostgresTxManager(db, cfg.LoanLockTimeout)

	sanitizer := security.NewTextSanitizer()

	retry := loan.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.LoanTxMaxAttempts
	retry.BaseDelay = cfg.LoanTxBaseDelay

	return &services{
		auth:    auth.NewService(userRepo, sessionRepo, auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge}),
		catalog: catalog.NewService(bookRepo, txm, sanitizer),
		member:  member.NewService(memberRepo, sanitizer),
		loan: loan.NewService(txm, loanRepo, loan.FeePolicy{RatePerDay: cfg.LateFeePerDay},
			loan.WithRetryPolicy(retry),
			loan.WithMetrics(collector),
		),
	}, sessionRepo
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	svc, sessionRepo := newServices(db, cfg, collector)

	// REDIS_URL未設定時は重複リクエスト検出を無効にする
	var idemStore middleware.IdempotencyStore
	if cfg.RedisURL != "" {
		client, err := idempotency.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		idemStore = idempotency.NewRedisStore(client, cfg.IdempotencyTTL)
		slog.Info("idempotency guard enabled", slog.Duration("ttl", cfg.IdempotencyTTL))
	} else {
		slog.Warn("REDIS_URL is not set; idempotency guard disabled")
	}

	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitCheckout),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		IdempotencyStore:  idemStore,
		HTTPMetrics:       collector,
		Logger:            slog.Default(),
		HealthChecker:     db,
		MetricsHandler:    metrics.Handler(registry),
		AuthService:       svc.auth,
		CatalogService:    svc.catalog,
		MemberService:     svc.member,
		LoanService:       svc.loan,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return serveUntilDone(ctx, server)
}

// serveUntilDone はserverを起動し、ctxのキャンセルで停止する。
func serveUntilDone(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}
