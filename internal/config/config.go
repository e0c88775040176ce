// Package config loads the mailfiled configuration: a TOML file under the
// [mailfile] table, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/passwordkeyorg/mail-file-transport/internal/outbox"
	"github.com/passwordkeyorg/mail-file-transport/internal/registry"
)

// FileConfig is the top-level TOML document.
type FileConfig struct {
	MailFile Config `toml:"mailfile"`
}

type Config struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	// MonitorName is the management name the delivery monitor registers under.
	MonitorName string `toml:"monitor_name"`

	Outbox  OutboxConfig  `toml:"outbox"`
	SMTP    SMTPConfig    `toml:"smtp"`
	API     APIConfig     `toml:"api"`
	Metrics MetricsConfig `toml:"metrics"`
	Kafka   KafkaConfig   `toml:"kafka"`
	Redis   RedisConfig   `toml:"redis"`
	Index   IndexConfig   `toml:"index"`
	MinIO   MinIOConfig   `toml:"minio"`
}

type OutboxConfig struct {
	Dir             string `toml:"dir"`
	Format          string `toml:"format"`
	MaxMessageBytes int64  `toml:"max_message_bytes"`
}

// SMTPConfig configures the optional local sink; an empty Listen disables it.
type SMTPConfig struct {
	Listen            string  `toml:"listen"`
	Domain            string  `toml:"domain"`
	MaxRecipients     int     `toml:"max_recipients"`
	MaxConns          int     `toml:"max_conns"`
	SessionsPerSecond float64 `toml:"sessions_per_second"`
	SessionBurst      int     `toml:"session_burst"`
	ReadTimeout       string  `toml:"read_timeout"`
	WriteTimeout      string  `toml:"write_timeout"`
	TLSCertFile       string  `toml:"tls_cert_file"`
	TLSKeyFile        string  `toml:"tls_key_file"`
}

type APIConfig struct {
	Listen   string `toml:"listen"`
	AdminKey string `toml:"admin_key"`
}

type MetricsConfig struct {
	Listen string `toml:"listen"`
}

type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Channel  string `toml:"channel"`
}

type IndexConfig struct {
	DB       string `toml:"db"`
	Interval string `toml:"interval"`
}

type MinIOConfig struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Secure    bool   `toml:"secure"`
	Interval  string `toml:"interval"`
}

func Default() Config {
	return Config{
		LogLevel:    "info",
		LogFormat:   "json",
		MonitorName: registry.DefaultName,
		Outbox: OutboxConfig{
			Dir:             "./data",
			Format:          string(outbox.FormatEML),
			MaxMessageBytes: 25 << 20,
		},
		SMTP: SMTPConfig{
			Domain:            "localhost",
			MaxRecipients:     100,
			MaxConns:          200,
			SessionsPerSecond: 20,
			SessionBurst:      40,
			ReadTimeout:       "30s",
			WriteTimeout:      "30s",
		},
		API:     APIConfig{Listen: "127.0.0.1:8080"},
		Metrics: MetricsConfig{Listen: "127.0.0.1:9090"},
		Kafka:   KafkaConfig{Topic: "mail.delivery.v1"},
		Redis:   RedisConfig{Channel: "mail.delivery"},
		Index:   IndexConfig{Interval: "10s"},
		MinIO:   MinIOConfig{Bucket: "mail-outbox", Interval: "30s"},
	}
}

func (c *Config) Validate() error {
	if c.MonitorName == "" {
		return errors.New("monitor_name is required")
	}
	if c.Outbox.Dir == "" {
		return errors.New("outbox dir is required")
	}
	if _, err := outbox.ParseFormat(c.Outbox.Format); err != nil {
		return err
	}
	if c.Outbox.MaxMessageBytes <= 0 {
		return errors.New("max_message_bytes must be positive")
	}
	if c.SMTP.Listen != "" {
		if c.SMTP.MaxRecipients <= 0 {
			return errors.New("smtp max_recipients must be positive")
		}
		if c.SMTP.SessionsPerSecond < 0 || c.SMTP.SessionBurst < 0 {
			return errors.New("smtp session rate must not be negative")
		}
		if (c.SMTP.TLSCertFile == "") != (c.SMTP.TLSKeyFile == "") {
			return errors.New("smtp tls_cert_file and tls_key_file must be set together")
		}
	}
	for name, d := range map[string]string{
		"smtp read_timeout":  c.SMTP.ReadTimeout,
		"smtp write_timeout": c.SMTP.WriteTimeout,
		"index interval":     c.Index.Interval,
		"minio interval":     c.MinIO.Interval,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("kafka topic is required when brokers are set")
	}
	if c.Redis.Addr != "" && c.Redis.Channel == "" {
		return errors.New("redis channel is required when addr is set")
	}
	if c.MinIO.Endpoint != "" && c.MinIO.Bucket == "" {
		return errors.New("minio bucket is required when endpoint is set")
	}
	return nil
}

// Duration parses s, falling back to def when s is empty or invalid.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// ApplyEnv overrides file values with the process environment.
func ApplyEnv(cfg Config) Config {
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenv("LOG_FORMAT", cfg.LogFormat)
	cfg.Outbox.Dir = getenv("OUTBOX_DIR", cfg.Outbox.Dir)
	cfg.Outbox.Format = getenv("OUTBOX_FORMAT", cfg.Outbox.Format)
	if v := os.Getenv("MAX_MESSAGE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Outbox.MaxMessageBytes = n
		}
	}
	cfg.SMTP.Listen = getenv("SMTP_LISTEN", cfg.SMTP.Listen)
	cfg.API.Listen = getenv("API_LISTEN", cfg.API.Listen)
	cfg.API.AdminKey = getenv("ADMIN_API_KEY", cfg.API.AdminKey)
	cfg.Metrics.Listen = getenv("METRICS_LISTEN", cfg.Metrics.Listen)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	cfg.Kafka.Topic = getenv("KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Redis.Addr = getenv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getenv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.Channel = getenv("REDIS_CHANNEL", cfg.Redis.Channel)
	cfg.Index.DB = getenv("INDEX_DB", cfg.Index.DB)
	cfg.MinIO.Endpoint = getenv("MINIO_ENDPOINT", cfg.MinIO.Endpoint)
	cfg.MinIO.AccessKey = getenv("MINIO_ACCESS_KEY", cfg.MinIO.AccessKey)
	cfg.MinIO.SecretKey = getenv("MINIO_SECRET_KEY", cfg.MinIO.SecretKey)
	cfg.MinIO.Bucket = getenv("MINIO_BUCKET", cfg.MinIO.Bucket)
	if v := os.Getenv("MINIO_SECURE"); v != "" {
		cfg.MinIO.Secure = v == "1" || strings.EqualFold(v, "true")
	}
	return cfg
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
