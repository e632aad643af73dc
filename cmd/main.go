// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
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

	"github.com/Shivanand-hulikatti/lecture-admission/internal/cache"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/config"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/database"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/handler"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/ledger"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/lock"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/repository"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Connect to PostgreSQL and Redis ────────────────────────────────
	pool, err := database.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		return err
	}
	log.Info("connected to postgres", "host", cfg.Database.Host, "db", cfg.Database.DBName)

	rdb, err := cache.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer rdb.Close()
	log.Info("connected to redis")

	// ── 2. Wire up layers ────────────────────────────────────────────────
	lectureSvc := service.NewLectureService(
		repository.NewLectureRepository(),
		repository.NewAttendanceRepository(),
		lock.NewRedis(rdb, lock.WithLogger(log)),
		ledger.New(rdb),
		service.Config{
			Secret: []byte(cfg.HMACSecret),
			Lock:   cfg.LockOptions(),
			Logger: log,
		},
	)
	lectureHandler := handler.NewLectureHandler(lectureSvc, database.NewTxRunner(pool, log), log)

	limiter := handler.NewRateLimiter(cfg.AttendRateRPS, cfg.AttendRateBurst)

	// ── 3. Build the router ───────────────────────────────────────────────
	router := handler.NewRouter(lectureHandler, handler.RouterConfig{
		PassportIssue: cfg.PassportIssueEnabled,
		AttendLimiter: limiter,
		Health: map[string]handler.Check{
			"postgres": pool.Ping,
			"redis":    func(ctx context.Context) error { return cache.HealthCheck(ctx, rdb) },
		},
		Logger: log,
	})

	// ── 4. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		limiter.Run(gctx, 2*time.Minute)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}
