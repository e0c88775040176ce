// Package smtp runs a local SMTP sink that hands every accepted message to
// the file transport. It lets applications that only speak SMTP use the
// outbox without code changes.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"golang.org/x/time/rate"
)

type Config struct {
	ListenAddr   string
	Domain       string
	MaxMsgBytes  int64
	MaxRcptCount int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxConns     int
	// SessionsPerSecond limits new sessions across all clients; 0 disables.
	SessionsPerSecond float64
	SessionBurst      int

	TLSCertFile string
	TLSKeyFile  string
}

// Sender is implemented by transport.FileSender.
type Sender interface {
	SendContext(ctx context.Context, source, from string, to []string, msg io.WriterTo) error
}

type Deps struct {
	Logger  *slog.Logger
	Sender  Sender
	Metrics Metrics
	Limiter *rate.Limiter
}

func Run(ctx context.Context, cfg Config, deps Deps) error {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Sender == nil {
		return fmt.Errorf("sender is required")
	}
	if deps.Limiter == nil && cfg.SessionsPerSecond > 0 {
		burst := cfg.SessionBurst
		if burst <= 0 {
			burst = 20
		}
		deps.Limiter = rate.NewLimiter(rate.Limit(cfg.SessionsPerSecond), burst)
	}
	if cfg.Domain == "" {
		cfg.Domain = "mailfile"
	}

	be := &backend{cfg: cfg, deps: deps}
	s := gosmtp.NewServer(be)
	s.Addr = cfg.ListenAddr
	s.Domain = cfg.Domain
	s.ReadTimeout = cfg.ReadTimeout
	s.WriteTimeout = cfg.WriteTimeout
	s.MaxMessageBytes = cfg.MaxMsgBytes
	s.MaxRecipients = cfg.MaxRcptCount
	s.AllowInsecureAuth = false

	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("load tls cert: %w", err)
		}
		// go-smtp advertises STARTTLS when TLSConfig is set.
		s.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}
	defer func() { _ = ln.Close() }()

	if cfg.MaxConns > 0 {
		var onReject func()
		if deps.Metrics != nil {
			onReject = func() { deps.Metrics.IncRejected("too_many_conns") }
		}
		ln = newLimitListener(ln, cfg.MaxConns, cfg.Domain, onReject)
	}

	errCh := make(chan error, 1)
	go func() {
		deps.Logger.Info("smtp sink starting",
			"addr", cfg.ListenAddr,
			"max_msg_bytes", cfg.MaxMsgBytes,
			"max_conns", cfg.MaxConns,
		)
		errCh <- s.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		_ = s.Close()
		return ctx.Err()
	case err := <-errCh:
		if err == nil {
			return nil
		}
		if strings.Contains(err.Error(), "use of closed network connection") {
			return nil
		}
		return err
	}
}

func remoteIPFromConn(c *gosmtp.Conn) string {
	if c == nil {
		return ""
	}
	nc := c.Conn()
	if nc == nil {
		return ""
	}
	addr := nc.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
