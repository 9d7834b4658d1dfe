package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/keilerkonzept/visitor-counter/internal/httpapi"
	"github.com/keilerkonzept/visitor-counter/internal/hub"
	"github.com/keilerkonzept/visitor-counter/internal/stats"
	"github.com/keilerkonzept/visitor-counter/internal/store"
)

type Config struct {
	Addr            string
	DB              string
	Window          time.Duration
	Bucket          time.Duration
	ShutdownTimeout time.Duration
	Debug           bool
}

var config = Config{
	Addr:            ":8000",
	DB:              "visitors.db",
	Window:          10 * time.Minute,
	Bucket:          30 * time.Second,
	ShutdownTimeout: 10 * time.Second,
	Debug:           false,
}

func main() {
	// A missing .env is fine; the environment and flags still apply.
	_ = godotenv.Load()
	if err := applyEnv(); err != nil {
		log.Fatal(err)
	}

	flag.StringVar(&config.Addr, "addr", config.Addr, "Listen address (env VISITOR_ADDR)")
	flag.StringVar(&config.DB, "db", config.DB, "SQLite file path or postgres:// URL (env VISITOR_DB)")
	flag.DurationVar(&config.Window, "window", config.Window, "Time span covered by the intensity series (env VISITOR_WINDOW)")
	flag.DurationVar(&config.Bucket, "bucket", config.Bucket, "Width of one intensity point (env VISITOR_BUCKET)")
	flag.DurationVar(&config.ShutdownTimeout, "shutdown-timeout", config.ShutdownTimeout, "Grace period for open requests on shutdown")
	flag.BoolVar(&config.Debug, "debug", config.Debug, "Human-readable debug logging")
	flag.Parse()

	if err := validateAndNormalizeConfig(); err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(config.Debug)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func applyEnv() error {
	if v := os.Getenv("VISITOR_ADDR"); v != "" {
		config.Addr = v
	}
	if v := os.Getenv("VISITOR_DB"); v != "" {
		config.DB = v
	}
	for name, dst := range map[string]*time.Duration{
		"VISITOR_WINDOW": &config.Window,
		"VISITOR_BUCKET": &config.Bucket,
	} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = d
	}
	return nil
}

func validateAndNormalizeConfig() error {
	if config.Addr == "" {
		return fmt.Errorf("-addr must be set")
	}
	if config.DB == "" {
		return fmt.Errorf("-db must be set")
	}
	if config.Bucket <= 0 {
		return fmt.Errorf("-bucket must be > 0")
	}
	if config.Window < config.Bucket {
		return fmt.Errorf("-window must be >= -bucket (got window=%s bucket=%s)", config.Window, config.Bucket)
	}
	if config.ShutdownTimeout < 0 {
		return fmt.Errorf("-shutdown-timeout must be >= 0")
	}
	return nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(logger *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(config.DB)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, st.Close()) }()

	h := hub.NewHub(ctx, logger)
	builder := stats.NewBuilder(st, config.Window, config.Bucket)
	srv := &http.Server{
		Addr:              config.Addr,
		Handler:           httpapi.SetupRoutes(httpapi.NewAPI(h, st, builder, logger)),
		ReadHeaderTimeout: 5 * time.Second,
		// Open WebSockets end with the signal context.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", config.Addr), zap.String("db", config.DB))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()
		h.Shutdown()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
