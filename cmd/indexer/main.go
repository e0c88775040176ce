package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/passwordkeyorg/mail-file-transport/internal/config"
	"github.com/passwordkeyorg/mail-file-transport/internal/index"
	"github.com/passwordkeyorg/mail-file-transport/internal/indexer"
	"github.com/passwordkeyorg/mail-file-transport/internal/logging"
	"github.com/passwordkeyorg/mail-file-transport/internal/metrics"
)

func main() {
	configPath := flag.String("config", "./mailfile.toml", "Path to configuration file")
	once := flag.Bool("once", false, "Index the outbox once and exit")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		slog.Error("config load failed", "path", *configPath, "err", err)
		os.Exit(2)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Index.DB == "" {
		logger.Error("index db not configured (INDEX_DB)")
		os.Exit(2)
	}
	db, err := index.Open(cfg.Index.DB)
	if err != nil {
		logger.Error("index open failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	mreg := metrics.New()
	ix := &indexer.Indexer{DB: db, Conf: indexer.Config{OutboxDir: cfg.Outbox.Dir}, Metrics: metrics.IndexerAdapter{M: mreg.Indexer}}

	if *once {
		scanned, indexed, err := ix.RunOnce(ctx)
		if err != nil {
			logger.Error("indexer run failed", "err", err)
			os.Exit(1)
		}
		logger.Info("indexer run", "scanned", scanned, "indexed", indexed)
		return
	}

	go func() {
		if err := mreg.Serve(ctx, cfg.Metrics.Listen, logger); err != nil {
			logger.Error("metrics server error", "err", err)
		}
	}()

	interval := config.Duration(cfg.Index.Interval, 10*time.Second)
	t := time.NewTicker(interval)
	defer t.Stop()

	logger.Info("indexer started", "index_db", cfg.Index.DB, "outbox_dir", cfg.Outbox.Dir, "interval", interval.String())

	for {
		select {
		case <-ctx.Done():
			logger.Info("indexer shutdown")
			return
		case <-t.C:
			scanned, indexed, err := ix.RunOnce(ctx)
			if err != nil {
				logger.Error("indexer run failed", "err", err)
				continue
			}
			logger.Debug("indexer run", "scanned", scanned, "indexed", indexed)
		}
	}
}
