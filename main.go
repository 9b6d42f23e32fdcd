package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sha-Dox/coral/internal/api"
	"github.com/Sha-Dox/coral/internal/config"
	"github.com/Sha-Dox/coral/internal/db"
	"github.com/Sha-Dox/coral/internal/logging"
	"github.com/Sha-Dox/coral/internal/media"
	"github.com/Sha-Dox/coral/internal/monitor"
	"github.com/Sha-Dox/coral/internal/notify"
	"github.com/Sha-Dox/coral/internal/redis"
	"github.com/Sha-Dox/coral/internal/scheduler"
	"github.com/Sha-Dox/coral/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting_service", "service", "coral", "http_addr", cfg.HTTPAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbConn, err := db.New(ctx, cfg.DBDSN)
	if err != nil {
		logger.Error("db_connect_failed", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	if err := dbConn.InitSchema(ctx); err != nil {
		logger.Error("schema_init_failed", "error", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(cfg.RedisDSN)
	if err != nil {
		logger.Error("redis_connect_failed", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	st := store.New(dbConn, logger)
	notifier := notify.NewDispatcher(logger, st, redisClient)

	var archiver monitor.MediaArchiver
	if cfg.MediaConfigured() {
		a, err := media.NewArchiver(logger, media.Config{
			Endpoint:        cfg.MediaEndpoint,
			AccessKeyID:     cfg.MediaAccessKey,
			SecretAccessKey: cfg.MediaSecretKey,
			Bucket:          cfg.MediaBucket,
			PublicURL:       cfg.MediaPublicURL,
			Region:          cfg.MediaRegion,
		})
		if err != nil {
			logger.Warn("media_archiver_init_failed", "error", err)
		} else {
			archiver = a
			logger.Info("media_archiver_enabled", "bucket", cfg.MediaBucket)
		}
	}

	httpClient := monitor.NewHTTPClient()
	monitors := []monitor.Monitor{
		monitor.NewInstagramMonitor(logger,
			monitor.NewInstagramAPIFetcher(httpClient), nil, notifier, cfg.InstagramSession),
		monitor.NewPinterestMonitor(logger,
			monitor.NewPinterestScraper(logger, httpClient), notifier),
		monitor.NewSpotifyMonitor(logger,
			monitor.NewSpotifyAPIFetcher(logger, httpClient), notifier, archiver, cfg.SpotifyCookie),
	}

	sched := scheduler.New(logger, st, monitors, cfg.CheckInterval)
	go sched.Start(ctx)

	srv := api.NewServer(logger, st, redisClient, sched, notifier, cfg)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_listen_failed", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("api_server_ready", "addr", cfg.HTTPAddr)

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting_down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	sched.Stop()
	logger.Info("scheduler_stopped")

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_shutdown_failed", "error", err)
	} else {
		logger.Info("http_server_stopped")
	}

	if err := redisClient.Close(); err != nil {
		logger.Warn("redis_close_error", "error", err)
	} else {
		logger.Info("redis_closed")
	}

	dbConn.Close()
	logger.Info("db_closed")

	logger.Info("service_stopped")
}
