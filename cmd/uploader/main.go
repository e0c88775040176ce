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
	"github.com/passwordkeyorg/mail-file-transport/internal/logging"
	"github.com/passwordkeyorg/mail-file-transport/internal/metrics"
	"github.com/passwordkeyorg/mail-file-transport/internal/objectstore"
	"github.com/passwordkeyorg/mail-file-transport/internal/uploader"
)

func main() {
	configPath := flag.String("config", "./mailfile.toml", "Path to configuration file")
	once := flag.Bool("once", false, "Archive pending messages once and exit")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		slog.Error("config load failed", "path", *configPath, "err", err)
		os.Exit(2)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mc := cfg.MinIO
	if mc.Endpoint == "" || mc.AccessKey == "" || mc.SecretKey == "" {
		logger.Error("minio config missing", "MINIO_ENDPOINT", mc.Endpoint != "", "MINIO_ACCESS_KEY", mc.AccessKey != "", "MINIO_SECRET_KEY", mc.SecretKey != "")
		os.Exit(2)
	}

	obj, err := objectstore.NewMinIO(objectstore.MinIOConfig{Endpoint: mc.Endpoint, AccessKey: mc.AccessKey, SecretKey: mc.SecretKey, Bucket: mc.Bucket, Secure: mc.Secure})
	if err != nil {
		logger.Error("minio init failed", "err", err)
		os.Exit(1)
	}
	if err := obj.EnsureBucket(ctx); err != nil {
		logger.Error("minio ensure bucket failed", "err", err)
		os.Exit(1)
	}

	mreg := metrics.New()
	u := &uploader.Uploader{Obj: obj, Conf: uploader.Config{OutboxDir: cfg.Outbox.Dir}, Metrics: metrics.UploaderAdapter{M: mreg.Uploader}}

	if *once {
		scanned, uploaded, err := u.RunOnce(ctx)
		if err != nil {
			logger.Error("uploader run failed", "err", err)
			os.Exit(1)
		}
		logger.Info("uploader run", "scanned", scanned, "uploaded", uploaded)
		return
	}

	go func() {
		if err := mreg.Serve(ctx, cfg.Metrics.Listen, logger); err != nil {
			logger.Error("metrics server error", "err", err)
		}
	}()

	interval := config.Duration(mc.Interval, 30*time.Second)
	logger.Info("uploader started", "outbox_dir", cfg.Outbox.Dir, "bucket", mc.Bucket, "interval", interval.String())

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("uploader shutdown")
			return
		case <-t.C:
			scanned, uploaded, err := u.RunOnce(ctx)
			if err != nil {
				logger.Error("uploader run failed", "err", err)
				continue
			}
			if uploaded > 0 {
				logger.Info("uploader run", "scanned", scanned, "uploaded", uploaded)
			}
		}
	}
}
