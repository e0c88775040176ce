// Package transport is the file-backed mail sender. It plugs into gomail as a
// SendCloser and reports every attempt to the delivery monitor.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/passwordkeyorg/mail-file-transport/internal/message"
	"github.com/passwordkeyorg/mail-file-transport/internal/outbox"
	"github.com/passwordkeyorg/mail-file-transport/internal/stats"
	"gopkg.in/gomail.v2"
)

var ErrClosed = errors.New("file sender closed")

// Metrics is optional transport telemetry.
type Metrics interface {
	IncWritten(bytes int64)
	IncWriteError()
}

type Deps struct {
	Outbox   *outbox.FS
	Monitor  *stats.Monitor
	Logger   *slog.Logger
	Metrics  Metrics
	MaxBytes int64
}

type FileSender struct {
	deps   Deps
	closed atomic.Bool

	mu      sync.Mutex
	closers []io.Closer
}

var _ gomail.SendCloser = (*FileSender)(nil)

func New(deps Deps) (*FileSender, error) {
	if deps.Outbox == nil {
		return nil, fmt.Errorf("outbox is required")
	}
	if deps.Monitor == nil {
		return nil, fmt.Errorf("monitor is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &FileSender{deps: deps}, nil
}

// Dial mirrors gomail.Dialer so the sender can replace an SMTP dialer.
func (s *FileSender) Dial() (gomail.SendCloser, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s, nil
}

// DialAndSend writes every message, stopping at the first failure.
func (s *FileSender) DialAndSend(msgs ...*gomail.Message) error {
	return gomail.Send(s, msgs...)
}

// Send implements gomail.Sender.
func (s *FileSender) Send(from string, to []string, msg io.WriterTo) error {
	return s.SendContext(context.Background(), "gomail", from, to, msg)
}

// SendContext serializes msg to the outbox and records the outcome. The
// returned error is the write error, if any; recording itself never fails.
func (s *FileSender) SendContext(ctx context.Context, source, from string, to []string, msg io.WriterTo) error {
	var buf bytes.Buffer
	if msg != nil {
		if _, err := msg.WriteTo(&buf); err != nil {
			err = fmt.Errorf("serialize message: %w", err)
			s.fail(message.FromBytes(buf.Bytes()), to, err)
			return err
		}
	}
	raw := buf.Bytes()
	parsed := message.FromBytes(raw)

	if s.closed.Load() {
		s.fail(parsed, to, ErrClosed)
		return ErrClosed
	}

	res, err := s.deps.Outbox.Write(ctx, outbox.WriteRequest{
		MaxBytes: s.deps.MaxBytes,
		From:     from,
		To:       to,
		Source:   source,
	}, raw)
	if err != nil {
		s.fail(parsed, to, err)
		return err
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.IncWritten(res.Bytes)
	}
	s.deps.Monitor.RecordSuccess(parsed, to)
	s.deps.Logger.Info("message written",
		"id", res.ID,
		"source", source,
		"path", res.Path,
		"recipients", len(to),
		"bytes", res.Bytes,
	)
	return nil
}

func (s *FileSender) fail(msg message.Message, to []string, err error) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.IncWriteError()
	}
	s.deps.Monitor.RecordFailure(msg, to, err)
	s.deps.Logger.Warn("message write failed", "recipients", len(to), "err", err)
}

// OnClose arranges for c to be closed when the sender is closed, typically
// the monitor's registry entry.
func (s *FileSender) OnClose(c io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, c)
}

// Close stops accepting messages and releases attached resources.
func (s *FileSender) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()
	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
