package stats

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/passwordkeyorg/mail-file-transport/internal/message"
)

type fakeMessage struct {
	headers []message.Header
	id      string
	subject string
	fail    bool
}

func (f *fakeMessage) Headers() ([]message.Header, error) {
	if f.fail {
		return nil, errors.New("headers unavailable")
	}
	return f.headers, nil
}

func (f *fakeMessage) Subject() (string, error) {
	if f.fail {
		panic("subject exploded")
	}
	return f.subject, nil
}

func (f *fakeMessage) MessageID() (string, error) {
	if f.fail {
		return "", errors.New("no id")
	}
	return f.id, nil
}

func (f *fakeMessage) Content() (io.Reader, error) { return strings.NewReader(""), nil }

type IllegalStateException struct{}

func (IllegalStateException) Error() string { return "" }

var rcpts = []string{"nobody@nowhere.com"}

func newFake() *fakeMessage {
	return &fakeMessage{
		headers: []message.Header{{Name: "h1", Value: "v1"}, {Name: "h2", Value: "v2"}},
		id:      "MessageId",
		subject: "MessageSubject",
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMonitor() *Monitor {
	return New(Options{Name: "test", Logger: quietLogger()})
}

func TestRecordSuccess(t *testing.T) {
	m := newMonitor()
	m.RecordSuccess(newFake(), rcpts)

	if v, _ := m.Attribute(AttrCountSuccessful); v != uint64(1) {
		t.Fatalf("countSuccessful = %v", v)
	}
	if v, _ := m.Attribute(AttrCountFailure); v != uint64(0) {
		t.Fatalf("countFailure = %v", v)
	}
	if m.LastFailure() != nil {
		t.Fatalf("expected no failure record")
	}
}

func TestRecordFailure_MailInfo(t *testing.T) {
	m := newMonitor()
	m.RecordFailure(newFake(), rcpts, IllegalStateException{})

	if v, _ := m.Attribute(AttrCountFailure); v != uint64(1) {
		t.Fatalf("countFailure = %v", v)
	}
	v, err := m.Attribute(AttrLastFailureMailInfo)
	if err != nil {
		t.Fatalf("Attribute: %v", err)
	}
	info, ok := v.(*MailInfo)
	if !ok || info == nil {
		t.Fatalf("lastFailureMailInfo = %#v", v)
	}
	if info.Date.IsZero() {
		t.Fatalf("expected date")
	}
	if len(info.Headers) != 2 || info.Headers[0].Name != "h1" || info.Headers[1].Value != "v2" {
		t.Fatalf("headers = %v", info.Headers)
	}
	if len(info.ToAddresses) != 1 {
		t.Fatalf("toAddresses = %v", info.ToAddresses)
	}
	if info.MessageID != "MessageId" || info.Subject != "MessageSubject" {
		t.Fatalf("id/subject = %q/%q", info.MessageID, info.Subject)
	}
	if info.ErrorDescription != "IllegalStateException" {
		t.Fatalf("errorDescription = %q", info.ErrorDescription)
	}
}

func TestRecordFailure_SecondReplacesFirst(t *testing.T) {
	m := newMonitor()
	m.RecordFailure(newFake(), []string{"a@example.com", "b@example.com"}, errors.New("first"))
	second := &fakeMessage{id: "other", headers: []message.Header{{Name: "x", Value: "y"}}}
	m.RecordFailure(second, []string{"c@example.com"}, IllegalStateException{})

	info := m.LastFailure()
	if info.MessageID != "other" || info.Subject != "" {
		t.Fatalf("id/subject = %q/%q", info.MessageID, info.Subject)
	}
	if len(info.ToAddresses) != 1 || info.ToAddresses[0] != "c@example.com" {
		t.Fatalf("toAddresses = %v", info.ToAddresses)
	}
	if len(info.Headers) != 1 || info.Headers[0].Name != "x" {
		t.Fatalf("headers = %v", info.Headers)
	}
	if strings.Contains(info.ErrorDescription, "first") {
		t.Fatalf("stale error description %q", info.ErrorDescription)
	}
}

func TestRecordFailure_FieldErrorsBecomeEmpty(t *testing.T) {
	m := newMonitor()
	m.RecordFailure(&fakeMessage{fail: true}, nil, errors.New("disk full"))

	info := m.LastFailure()
	if info == nil {
		t.Fatalf("expected record")
	}
	if info.MessageID != "" || info.Subject != "" || len(info.Headers) != 0 {
		t.Fatalf("expected sentinels, got %+v", info)
	}
	if info.ToAddresses == nil || len(info.ToAddresses) != 0 {
		t.Fatalf("toAddresses = %#v", info.ToAddresses)
	}
	if info.ErrorDescription != "errorString: disk full" {
		t.Fatalf("errorDescription = %q", info.ErrorDescription)
	}
	if c := m.Counters(); c.FailureCount != 1 {
		t.Fatalf("failure count = %d", c.FailureCount)
	}
}

func TestRecordFailure_NilMessage(t *testing.T) {
	m := newMonitor()
	m.RecordFailure(nil, rcpts, errors.New("boom"))
	if info := m.LastFailure(); info == nil || len(info.ToAddresses) != 1 {
		t.Fatalf("info = %+v", info)
	}
}

func TestReset(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	m := New(Options{Name: "test", Logger: quietLogger(), Now: now})
	before := m.Counters().CollectionStartDate

	m.RecordSuccess(newFake(), rcpts)
	m.RecordFailure(newFake(), rcpts, errors.New("x"))

	mu.Lock()
	clock = clock.Add(2 * time.Second)
	mu.Unlock()

	var notified int
	m.Subscribe(ListenerFunc(func(Notification) error { notified++; return nil }))
	m.Reset()

	c := m.Counters()
	if c.SuccessCount != 0 || c.FailureCount != 0 {
		t.Fatalf("counters after reset = %+v", c)
	}
	if !c.CollectionStartDate.After(before) {
		t.Fatalf("start %v not after %v", c.CollectionStartDate, before)
	}
	if notified != 0 {
		t.Fatalf("reset emitted %d notifications", notified)
	}
	if m.LastFailure() == nil {
		t.Fatalf("reset must keep the last failure")
	}

	// Clock going backwards never moves the start date back.
	mu.Lock()
	clock = clock.Add(-time.Hour)
	mu.Unlock()
	m.Reset()
	if got := m.Counters().CollectionStartDate; got.Before(c.CollectionStartDate) {
		t.Fatalf("start moved back to %v", got)
	}
}

func TestAttributes(t *testing.T) {
	m := newMonitor()

	got, err := m.Attributes(nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("empty read = %v, %v", got, err)
	}

	got, err = m.Attributes([]string{AttrCountSuccessful, AttrCountFailure})
	if err != nil {
		t.Fatalf("Attributes: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %v", got)
	}

	_, err = m.Attributes([]string{AttrCountSuccessful, "NotExistingProperty"})
	var nf *AttributeNotFoundError
	if !errors.As(err, &nf) || nf.Name != "NotExistingProperty" {
		t.Fatalf("err = %v", err)
	}

	if _, err := m.Attribute(AttrCollectionStart); err != nil {
		t.Fatalf("start date: %v", err)
	}
	if len(m.AttributeNames()) != 4 {
		t.Fatalf("names = %v", m.AttributeNames())
	}
}

func TestSetAttribute_ReadOnly(t *testing.T) {
	m := newMonitor()
	for _, name := range append(m.AttributeNames(), "unknown") {
		err := m.SetAttribute(name, uint64(10))
		var ro *ReadOnlyAttributeError
		if !errors.As(err, &ro) {
			t.Fatalf("SetAttribute(%s) err = %v", name, err)
		}
	}
	if c := m.Counters(); c.SuccessCount != 0 {
		t.Fatalf("counter changed: %+v", c)
	}
}

func TestConcurrentRecording(t *testing.T) {
	m := newMonitor()
	var seen sync.Map
	var dup bool
	var dupMu sync.Mutex
	m.Subscribe(ListenerFunc(func(n Notification) error {
		if _, loaded := seen.LoadOrStore(n.Sequence, true); loaded {
			dupMu.Lock()
			dup = true
			dupMu.Unlock()
		}
		return nil
	}))

	const workers, per = 16, 250
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				if (w+i)%3 == 0 {
					m.RecordFailure(newFake(), rcpts, errors.New("x"))
				} else {
					m.RecordSuccess(newFake(), rcpts)
				}
				if i%50 == 0 {
					_ = m.LastFailure()
				}
			}
		}(w)
	}
	wg.Wait()

	var wantFail uint64
	for w := 0; w < workers; w++ {
		for i := 0; i < per; i++ {
			if (w+i)%3 == 0 {
				wantFail++
			}
		}
	}
	c := m.Counters()
	if c.FailureCount != wantFail || c.SuccessCount != workers*per-wantFail {
		t.Fatalf("counters = %+v, want failures=%d", c, wantFail)
	}
	if dup {
		t.Fatalf("duplicate sequence number")
	}
	var n int
	seen.Range(func(_, _ any) bool { n++; return true })
	if n != workers*per {
		t.Fatalf("notifications = %d, want %d", n, workers*per)
	}
}

type nilDerefError struct{ msg *string }

func (e *nilDerefError) Error() string { return *e.msg }

func TestRecordFailure_PanickingErrorStillCounted(t *testing.T) {
	m := newMonitor()
	var got []Notification
	m.Subscribe(ListenerFunc(func(n Notification) error { got = append(got, n); return nil }))

	m.RecordFailure(newFake(), rcpts, &nilDerefError{})

	if c := m.Counters(); c.FailureCount != 1 {
		t.Fatalf("countFailure = %d", c.FailureCount)
	}
	if len(got) != 1 || got[0].Kind != KindFailure {
		t.Fatalf("notifications = %+v", got)
	}
	info := m.LastFailure()
	if info == nil || info.ErrorDescription != "nilDerefError" {
		t.Fatalf("lastFailure = %+v", info)
	}
	if info.Subject != "MessageSubject" {
		t.Fatalf("subject = %q", info.Subject)
	}
}

func TestLastFailure_ReturnsCopy(t *testing.T) {
	m := newMonitor()
	m.RecordFailure(newFake(), rcpts, errors.New("boom"))

	info := m.LastFailure()
	info.ToAddresses[0] = "changed@example.com"
	info.Headers[0].Value = "changed"

	again := m.LastFailure()
	if again.ToAddresses[0] != rcpts[0] || again.Headers[0].Value != "v1" {
		t.Fatalf("stored record modified: %+v", again)
	}
}

func TestRecordFailure_NotificationCarriesOwnRecord(t *testing.T) {
	m := newMonitor()
	nested := false
	// Record a second failure between storing and delivering the first.
	m.Subscribe(ListenerFunc(func(n Notification) error {
		if !nested && n.Kind == KindFailure {
			nested = true
			m.RecordFailure(nil, []string{"second@example.com"}, errors.New("second"))
		}
		return nil
	}))
	failures := map[uint64]*MailInfo{}
	m.Subscribe(ListenerFunc(func(n Notification) error {
		failures[n.Sequence] = n.Failure
		return nil
	}))

	m.RecordFailure(nil, []string{"first@example.com"}, errors.New("first"))

	if len(failures) != 2 {
		t.Fatalf("failures = %v", failures)
	}
	if f := failures[0]; f == nil || f.ToAddresses[0] != "first@example.com" || !strings.Contains(f.ErrorDescription, "first") {
		t.Fatalf("sequence 0 carried %+v", f)
	}
	if f := failures[1]; f == nil || f.ToAddresses[0] != "second@example.com" {
		t.Fatalf("sequence 1 carried %+v", f)
	}
	if last := m.LastFailure(); last.ToAddresses[0] != "second@example.com" {
		t.Fatalf("lastFailure = %+v", last)
	}
}
