package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/filedrop/filedrop/internal/api"
	"github.com/filedrop/filedrop/internal/config"
	"github.com/filedrop/filedrop/internal/journal"
	"github.com/filedrop/filedrop/internal/logging"
	"github.com/filedrop/filedrop/internal/metrics"
	"github.com/filedrop/filedrop/internal/publish"
	"github.com/filedrop/filedrop/internal/storage"
	"github.com/filedrop/filedrop/internal/watcher"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.Open(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if err := run(cfg, logger); err != nil {
		level.Error(logger).Log("msg", "filedrop stopped", "err", err)
		logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger log.Logger) error {
	ctx := context.Background()
	var sinks []watcher.Sink

	// Event journal (optional)
	store, err := journal.Open(ctx, cfg.JournalPath, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	if store != nil {
		defer store.Close()
		sinks = append(sinks, journal.NewSink(store))
		level.Info(logger).Log("msg", "event journal enabled", "sqlite", cfg.JournalPath, "postgres", cfg.DatabaseURL != "")
	}

	// NATS drains the journal, so it needs one.
	if cfg.NATSURL != "" {
		if store == nil {
			level.Warn(logger).Log("msg", "NATS configured without a journal, not publishing", "nats", cfg.NATSURL)
		} else {
			pub, err := publish.NewJournalPublisher(cfg.NATSURL, cfg.NATSSubject, store, logger)
			if err != nil {
				level.Warn(logger).Log("msg", "NATS publisher not available, continuing without", "err", err)
			} else {
				pub.Start()
				defer pub.Stop()
				level.Info(logger).Log("msg", "publishing events to NATS", "subject", cfg.NATSSubject)
			}
		}
	}

	if cfg.RedisURL != "" {
		rs, err := publish.NewRedisSink(cfg.RedisURL, cfg.RedisChannel)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer rs.Close()
		sinks = append(sinks, rs)
		level.Info(logger).Log("msg", "publishing events to Redis", "channel", cfg.RedisChannel)
	}

	if cfg.S3Bucket != "" {
		objects, err := storage.NewObjectStore(storage.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Prefix:          cfg.S3Prefix,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			ForcePathStyle:  cfg.S3ForcePathStyle,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize S3 mirror: %w", err)
		}
		mirror := storage.NewMirror(objects, cfg.DataDir, logger)
		mirror.Start()
		defer mirror.Stop()
		sinks = append(sinks, mirror)
		level.Info(logger).Log("msg", "mirroring to S3", "bucket", cfg.S3Bucket, "region", cfg.S3Region)
	}

	var trigger watcher.Trigger
	if cfg.WatchMode == "fsnotify" {
		t, err := watcher.NewFSTrigger(cfg.DataDir, logger)
		if err != nil {
			level.Warn(logger).Log("msg", "fsnotify unavailable, polling only", "err", err)
		} else {
			trigger = t
		}
	}

	w := watcher.New(watcher.Options{
		Dir:      cfg.DataDir,
		Interval: cfg.PollInterval,
		Logger:   logger,
		Sinks:    sinks,
		Trigger:  trigger,
	})
	w.Start()
	defer w.Stop()

	if cfg.MetricsAddr != "" {
		msrv := metrics.StartMetricsServer(cfg.MetricsAddr, logger)
		defer msrv.Close()
		level.Info(logger).Log("msg", "metrics listener started", "addr", cfg.MetricsAddr)
	}

	server := api.NewServer(api.Options{
		DataDir:      cfg.DataDir,
		PollInterval: cfg.PollInterval,
		SSEHeartbeat: cfg.SSEHeartbeat,
		StaticDir:    cfg.StaticDir,
		Journal:      store,
		Logger:       logger,
	})

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	addr := fmt.Sprintf(":%d", cfg.Port)
	level.Info(logger).Log("msg", "starting server", "addr", addr, "dir", cfg.DataDir,
		"interval", cfg.PollInterval, "watch_mode", cfg.WatchMode)

	errc := make(chan error, 1)
	go func() {
		errc <- server.Start(addr)
	}()

	select {
	case sig := <-quit:
		level.Info(logger).Log("msg", "shutting down", "signal", sig)
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		level.Warn(logger).Log("msg", "error closing server", "err", err)
		server.Close()
	}
	return nil
}
