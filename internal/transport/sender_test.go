package transport

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/passwordkeyorg/mail-file-transport/internal/outbox"
	"github.com/passwordkeyorg/mail-file-transport/internal/registry"
	"github.com/passwordkeyorg/mail-file-transport/internal/stats"
	"gopkg.in/gomail.v2"
)

type fakeMetrics struct {
	written int64
	errs    int
}

func (f *fakeMetrics) IncWritten(n int64) { f.written += n }
func (f *fakeMetrics) IncWriteError()     { f.errs++ }

func newSender(t *testing.T, maxBytes int64) (*FileSender, *stats.Monitor, *fakeMetrics, string) {
	t.Helper()
	dir := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mon := stats.New(stats.Options{Name: "test", Logger: log})
	fm := &fakeMetrics{}
	s, err := New(Deps{
		Outbox:   &outbox.FS{BaseDir: dir},
		Monitor:  mon,
		Logger:   log,
		Metrics:  fm,
		MaxBytes: maxBytes,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, mon, fm, dir
}

func newMessage(subject string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", "app@example.com")
	m.SetHeader("To", "a@example.com", "b@example.com")
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", "hello")
	return m
}

func TestDialAndSend_WritesAndCounts(t *testing.T) {
	s, mon, fm, dir := newSender(t, 1<<20)

	if err := s.DialAndSend(newMessage("one"), newMessage("two")); err != nil {
		t.Fatalf("DialAndSend: %v", err)
	}
	c := mon.Counters()
	if c.SuccessCount != 2 || c.FailureCount != 0 {
		t.Fatalf("counters = %+v", c)
	}
	if fm.written == 0 || fm.errs != 0 {
		t.Fatalf("metrics = %+v", fm)
	}
	metas, _ := filepath.Glob(filepath.Join(outbox.OutgoingDir(dir), "*", "*", "*", "*.json"))
	if len(metas) != 2 {
		entries, _ := os.ReadDir(outbox.OutgoingDir(dir))
		t.Fatalf("meta files = %v (outgoing: %v)", metas, entries)
	}
	m, _, err := outbox.ReadMeta(metas[0])
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if m.Source != "gomail" || len(m.To) != 2 {
		t.Fatalf("meta = %+v", m)
	}
}

func TestSend_TooLargeRecordsFailure(t *testing.T) {
	s, mon, fm, _ := newSender(t, 16)

	err := s.DialAndSend(newMessage("big"))
	if err == nil {
		t.Fatalf("expected error")
	}
	c := mon.Counters()
	if c.SuccessCount != 0 || c.FailureCount != 1 {
		t.Fatalf("counters = %+v", c)
	}
	if fm.errs != 1 {
		t.Fatalf("write errors = %d", fm.errs)
	}
	info := mon.LastFailure()
	if info == nil {
		t.Fatalf("no last failure")
	}
	if info.Subject != "big" {
		t.Fatalf("subject = %q", info.Subject)
	}
	if len(info.ToAddresses) != 2 {
		t.Fatalf("to = %v", info.ToAddresses)
	}
	if !strings.Contains(info.ErrorDescription, outbox.ErrTooLarge.Error()) {
		t.Fatalf("description = %q", info.ErrorDescription)
	}
}

func TestClose_RejectsAndUnregisters(t *testing.T) {
	s, mon, _, _ := newSender(t, 1<<20)
	reg := registry.New()
	r, err := reg.Register("test", mon)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	s.OnClose(r)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, ok := reg.Lookup("test"); ok {
		t.Fatalf("monitor still registered")
	}
	if _, err := s.Dial(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Dial err = %v", err)
	}
	if err := s.Send("app@example.com", []string{"a@example.com"}, newMessage("late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send err = %v", err)
	}
	if c := mon.Counters(); c.FailureCount != 1 {
		t.Fatalf("counters = %+v", c)
	}
}
