package smtp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/mail"
	"strings"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/passwordkeyorg/mail-file-transport/internal/outbox"
)

type backend struct {
	cfg  Config
	deps Deps
}

func (b *backend) NewSession(conn *gosmtp.Conn) (gosmtp.Session, error) {
	ip := remoteIPFromConn(conn)
	if b.deps.Limiter != nil && !b.deps.Limiter.Allow() {
		if b.deps.Metrics != nil {
			b.deps.Metrics.IncRejected("rate_limited")
		}
		return nil, &gosmtp.SMTPError{Code: 421, Message: "rate limited"}
	}
	sess := &session{backend: b, log: b.deps.Logger.With("remote_ip", ip)}
	if b.deps.Metrics != nil {
		b.deps.Metrics.ConnOpen()
		sess.onClose = b.deps.Metrics.ConnClose
	}
	return sess, nil
}

type session struct {
	backend *backend
	log     *slog.Logger

	from string
	rcpt []string

	onClose func()
}

func (s *session) Reset() {
	s.from = ""
	s.rcpt = nil
}

func (s *session) Logout() error {
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

func (s *session) Mail(from string, opts *gosmtp.MailOptions) error {
	// Null reverse-path is allowed.
	if from != "" {
		if _, err := mail.ParseAddress(from); err != nil {
			s.reject("invalid_mail_from")
			return &gosmtp.SMTPError{Code: 501, Message: "invalid MAIL FROM"}
		}
	}
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, opts *gosmtp.RcptOptions) error {
	if n := s.backend.cfg.MaxRcptCount; n > 0 && len(s.rcpt) >= n {
		s.reject("too_many_recipients")
		return &gosmtp.SMTPError{Code: 452, Message: "too many recipients"}
	}
	addr, err := mail.ParseAddress(to)
	if err != nil || !strings.Contains(addr.Address, "@") {
		s.reject("invalid_rcpt")
		return &gosmtp.SMTPError{Code: 501, Message: "invalid RCPT TO"}
	}
	s.rcpt = append(s.rcpt, addr.Address)
	return nil
}

func (s *session) Data(r io.Reader) error {
	if len(s.rcpt) == 0 {
		return &gosmtp.SMTPError{Code: 503, Message: "need RCPT TO first"}
	}
	limit := s.backend.cfg.MaxMsgBytes
	var raw []byte
	var err error
	if limit > 0 {
		raw, err = io.ReadAll(io.LimitReader(r, limit+1))
	} else {
		raw, err = io.ReadAll(r)
	}
	if err != nil {
		// go-smtp reports its own size cap as an SMTPError (552).
		var se *gosmtp.SMTPError
		if errors.As(err, &se) {
			s.reject("too_large")
			return se
		}
		return &gosmtp.SMTPError{Code: 451, Message: "read failure"}
	}

	err = s.backend.deps.Sender.SendContext(context.Background(), "smtp", s.from, append([]string(nil), s.rcpt...), bytes.NewReader(raw))
	if errors.Is(err, outbox.ErrTooLarge) {
		s.reject("too_large")
		return &gosmtp.SMTPError{Code: 552, Message: "message too large"}
	}
	if err != nil {
		s.log.Error("outbox write failed", "err", err)
		return &gosmtp.SMTPError{Code: 451, Message: "temporary failure"}
	}
	return nil
}

func (s *session) reject(reason string) {
	if s.backend.deps.Metrics != nil {
		s.backend.deps.Metrics.IncRejected(reason)
	}
}
