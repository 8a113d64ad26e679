package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"cassette-tracker-backend/config"
	"cassette-tracker-backend/internal/api"
	"cassette-tracker-backend/internal/core"
	"cassette-tracker-backend/internal/db"
	"cassette-tracker-backend/internal/lifecycle"
	"cassette-tracker-backend/internal/notification"
	"cassette-tracker-backend/internal/store"
	"cassette-tracker-backend/internal/sweep"
)

const shutdownTimeout = 5 * time.Second

var logger = log.New(os.Stdout, "cassetted ", log.LstdFlags)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("load config %s: %v", configPath, err)
	}

	if err := run(cfg); err != nil {
		logger.Fatal(err)
	}
	logger.Println("stopped")
}

func run(cfg *config.Config) error {
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			sqlDB.Close()
		}
	}()
	logger.Printf("database ready (%s)", cfg.Database.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appStore := store.NewGormStore(gormDB)
	svc := core.NewService(appStore, core.WithAffectedCacheTTL(cfg.Cache.AffectedTTL()))
	webpushOptions, publisher := startNotifier(ctx, cfg, gormDB)
	responses := api.NewCache(cfg.Server.CacheTTL())

	// Sweep writes bypass the HTTP cache middleware, so cached reads are dropped here.
	sweeper := sweep.New(cfg.Sweep, svc, api.PublisherFunc(func(events ...lifecycle.Event) {
		responses.Flush()
		if publisher != nil {
			publisher.Publish(events...)
		}
	}))
	go sweeper.Run(ctx)

	handler := api.NewHandler(svc, appStore, webpushOptions, publisher)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(handler, cfg.Server, responses),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		logger.Println("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// startNotifier runs the web-push pool when VAPID keys are configured. Without
// them the service still works; events only go back to the callers.
func startNotifier(ctx context.Context, cfg *config.Config, gormDB *gorm.DB) (*webpush.Options, api.Publisher) {
	if !cfg.Push.Enabled() {
		logger.Println("VAPID keys not configured, push notifications disabled")
		return nil, nil
	}
	opts := &webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}
	pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, opts)
	pool.Start(ctx)
	logger.Printf("push notifications enabled with %d workers", cfg.WorkerPool.Size)
	return opts, pool
}
