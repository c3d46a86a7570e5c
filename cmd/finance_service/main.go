package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"finance_service/internal/auth"
	"finance_service/internal/config"
	"finance_service/internal/handler"
	"finance_service/internal/service"
	"finance_service/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/rs/cors"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"

	connectTimeout = 10 * time.Second
)

func main() {
	//PARSE ARGS
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to the YAML config file")

	flag.Parse()
	if configPath == "" {
		log.Fatal("failed get config path from flags")
	}

	cfg := config.MustLoadConfig(configPath)

	//INIT LOGGER
	lgr := setupLogger(cfg.Env)
	lgr.Info("starting finance service", slog.String("env", cfg.Env))

	if cfg.Env == envProd {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lgr); err != nil {
		lgr.Error("finance service stopped", slog.Any("error", err))
		stop()
		os.Exit(1)
	}
}

// run wires the service and blocks until ctx is done or the server fails.
// Deferred cleanup always runs before it returns.
func run(ctx context.Context, cfg *config.Config, lgr *slog.Logger) error {
	const op = "main.run"

	codec, err := auth.NewTokenCodec(cfg.JWT.Secret, cfg.JWT.Expiration())
	if err != nil {
		return fmt.Errorf("%s: invalid jwt configuration: %w", op, err)
	}
	lgr.Info("token codec ready", slog.Duration("token_ttl", codec.TTL()))

	//INIT DB
	st, err := setupStorage(cfg, lgr)
	if err != nil {
		return fmt.Errorf("%s: init storage: %w", op, err)
	}
	defer st.Close()

	revocations := auth.NewRevocationStore(st, codec)
	resolver := auth.NewResolver(codec, revocations, st, lgr)
	srvc := service.NewService(st, codec, revocations, lgr)

	//INIT SWEEP
	scheduler := cron.New()
	if _, err := service.ScheduleRevocationSweep(scheduler, cfg.Auth.PurgeSchedule, revocations, lgr); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	//INIT SERVER
	var gateOpts []handler.GateOption
	if cfg.Auth.LegacyGate {
		gateOpts = append(gateOpts, handler.WithLegacyRejection())
	}
	if cfg.Auth.DebugRoutes {
		lgr.Warn("debug routes enabled")
		gateOpts = append(gateOpts, handler.WithDebugExemption())
	}
	gate := handler.NewGate(resolver, lgr, gateOpts...)

	h := handler.NewHandler(srvc, gate, codec, cfg.Auth.DebugRoutes, lgr)

	co := cors.New(cors.Options{
		AllowedOrigins: cfg.HTTPServer.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	})

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      co.Handler(h.InitRoutes()),
		ReadTimeout:  cfg.HTTPServer.ReadTimeout,
		WriteTimeout: cfg.HTTPServer.WriteTimeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	return serve(ctx, srv, cfg.HTTPServer.ShutdownTimeout, lgr)
}

// serve runs srv until ctx is done, then shuts it down within timeout.
// A listener failure is returned instead of exiting so callers can clean up.
func serve(ctx context.Context, srv *http.Server, timeout time.Duration, lgr *slog.Logger) error {
	const op = "main.serve"

	serveErr := make(chan error, 1)
	go func() {
		lgr.Info("http server listening", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	case <-ctx.Done():
	}

	lgr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s: shutdown: %w", op, err)
	}

	return nil
}

func setupStorage(cfg *config.Config, lgr *slog.Logger) (storage.Storage, error) {
	if cfg.DB.Driver == config.DriverMemory {
		lgr.Warn("using in-memory storage, data is lost on restart")
		return storage.NewMemoryStorage(), nil
	}

	if !cfg.DB.SkipMigrations {
		if err := storage.Migrate(cfg.DB.DbURL); err != nil {
			return nil, err
		}
		lgr.Info("migrations applied")
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	st, err := storage.NewPostgresStorage(ctx, cfg.DB.DbURL)
	if err != nil {
		return nil, err
	}

	return st, nil
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}
	return log
}
