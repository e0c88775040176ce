package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/passwordkeyorg/mail-file-transport/internal/api"
	"github.com/passwordkeyorg/mail-file-transport/internal/config"
	"github.com/passwordkeyorg/mail-file-transport/internal/index"
	"github.com/passwordkeyorg/mail-file-transport/internal/indexer"
	"github.com/passwordkeyorg/mail-file-transport/internal/kafka"
	"github.com/passwordkeyorg/mail-file-transport/internal/logging"
	"github.com/passwordkeyorg/mail-file-transport/internal/metrics"
	"github.com/passwordkeyorg/mail-file-transport/internal/objectstore"
	"github.com/passwordkeyorg/mail-file-transport/internal/outbox"
	"github.com/passwordkeyorg/mail-file-transport/internal/pubsub"
	"github.com/passwordkeyorg/mail-file-transport/internal/registry"
	"github.com/passwordkeyorg/mail-file-transport/internal/smtp"
	"github.com/passwordkeyorg/mail-file-transport/internal/stats"
	"github.com/passwordkeyorg/mail-file-transport/internal/transport"
	"github.com/passwordkeyorg/mail-file-transport/internal/uploader"
)

func main() {
	configPath := flag.String("config", "./mailfile.toml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		slog.Error("config load failed", "path", *configPath, "err", err)
		os.Exit(2)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("mailfiled stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("mailfiled shutdown")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if err := metrics.RequireLoopback(cfg.API.Listen); err != nil && cfg.API.AdminKey == "" {
		// Off-host management needs a key.
		return errors.New("api listen is not loopback and no admin key is set")
	}

	format, err := outbox.ParseFormat(cfg.Outbox.Format)
	if err != nil {
		return err
	}
	mreg := metrics.New()

	mon := stats.New(stats.Options{Name: cfg.MonitorName, Logger: logger})
	if err := mreg.WatchMonitor(mon); err != nil {
		return err
	}
	reg := registry.New()
	registration, err := reg.Register(cfg.MonitorName, mon)
	if err != nil {
		return err
	}

	sender, err := transport.New(transport.Deps{
		Outbox:   &outbox.FS{BaseDir: cfg.Outbox.Dir, Format: format},
		Monitor:  mon,
		Logger:   logger,
		Metrics:  &mreg.Transport,
		MaxBytes: cfg.Outbox.MaxMessageBytes,
	})
	if err != nil {
		return err
	}
	// Closing the sender withdraws the monitor from management.
	sender.OnClose(registration)
	defer func() { _ = sender.Close() }()

	if len(cfg.Kafka.Brokers) > 0 {
		sink := mreg.Notify.Sink("kafka")
		w := kafka.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic, func(n int, err error) {
			if err != nil {
				sink.IncError(n)
				return
			}
			sink.IncPublished(n)
		})
		p := kafka.NewPublisher(w)
		sub := mon.Subscribe(p)
		defer func() {
			sub.Cancel()
			_ = p.Close()
		}()
		logger.Info("kafka notifications enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	if cfg.Redis.Addr != "" {
		client := pubsub.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		p := pubsub.NewPublisher(client, pubsub.Config{
			Channel: cfg.Redis.Channel,
			Metrics: mreg.Notify.Sink("redis"),
			Logger:  logger,
		})
		sub := mon.Subscribe(p)
		defer func() {
			sub.Cancel()
			_ = p.Close()
			_ = client.Close()
		}()
		logger.Info("redis notifications enabled", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
	}

	var db *index.DB
	if cfg.Index.DB != "" {
		db, err = index.Open(cfg.Index.DB)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		j := index.NewJournal(db, logger, 0)
		sub := mon.Subscribe(j)
		// Deferred calls run in reverse: unsubscribe, drain, then close the db.
		defer func() {
			sub.Cancel()
			_ = j.Close()
		}()
		ix := &indexer.Indexer{DB: db, Conf: indexer.Config{OutboxDir: cfg.Outbox.Dir}, Metrics: metrics.IndexerAdapter{M: mreg.Indexer}}
		go every(ctx, config.Duration(cfg.Index.Interval, 10*time.Second), func() {
			if _, _, err := ix.RunOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Error("indexer run failed", "err", err)
			}
		})
	}

	if cfg.MinIO.Endpoint != "" {
		obj, err := objectstore.NewMinIO(objectstore.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			Secure:    cfg.MinIO.Secure,
		})
		if err != nil {
			return err
		}
		if err := obj.EnsureBucket(ctx); err != nil {
			return err
		}
		u := &uploader.Uploader{Obj: obj, Conf: uploader.Config{OutboxDir: cfg.Outbox.Dir}, Metrics: metrics.UploaderAdapter{M: mreg.Uploader}}
		go every(ctx, config.Duration(cfg.MinIO.Interval, 30*time.Second), func() {
			if scanned, uploaded, err := u.RunOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Error("uploader run failed", "err", err)
			} else if uploaded > 0 {
				logger.Info("uploader run", "scanned", scanned, "uploaded", uploaded)
			}
		})
	}

	go func() {
		if err := mreg.Serve(ctx, cfg.Metrics.Listen, logger); err != nil {
			logger.Error("metrics server error", "err", err)
		}
	}()

	handler := api.New(api.Deps{
		Logger:   logger,
		Registry: reg,
		DB:       db,
		AdminKey: cfg.API.AdminKey,
		Metrics:  &mreg.API,
		Drops:    mreg.Notify.Sink("sse"),
	})
	apiSrv := &http.Server{Addr: cfg.API.Listen, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = apiSrv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info("api listening", "addr", cfg.API.Listen)
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server error", "err", err)
		}
	}()

	logger.Info("mailfiled started",
		"monitor", cfg.MonitorName,
		"outbox_dir", cfg.Outbox.Dir,
		"format", string(format),
	)

	if cfg.SMTP.Listen == "" {
		<-ctx.Done()
		return nil
	}
	err = smtp.Run(ctx, smtp.Config{
		ListenAddr:        cfg.SMTP.Listen,
		Domain:            cfg.SMTP.Domain,
		MaxMsgBytes:       cfg.Outbox.MaxMessageBytes,
		MaxRcptCount:      cfg.SMTP.MaxRecipients,
		ReadTimeout:       config.Duration(cfg.SMTP.ReadTimeout, 30*time.Second),
		WriteTimeout:      config.Duration(cfg.SMTP.WriteTimeout, 30*time.Second),
		MaxConns:          cfg.SMTP.MaxConns,
		SessionsPerSecond: cfg.SMTP.SessionsPerSecond,
		SessionBurst:      cfg.SMTP.SessionBurst,
		TLSCertFile:       cfg.SMTP.TLSCertFile,
		TLSKeyFile:        cfg.SMTP.TLSKeyFile,
	}, smtp.Deps{Logger: logger, Sender: sender, Metrics: &mreg.SMTP})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func every(ctx context.Context, d time.Duration, fn func()) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}
