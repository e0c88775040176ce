package stats

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestEmitter_OrderAndSequence(t *testing.T) {
	e := NewEmitter("src", quietLogger(), func() time.Time { return time.Unix(100, 0) })
	var got []string
	e.Subscribe(ListenerFunc(func(n Notification) error { got = append(got, "a:"+n.Type); return nil }))
	e.Subscribe(ListenerFunc(func(n Notification) error { got = append(got, "b:"+n.Type); return nil }))

	n0 := e.Emit(KindSuccess, nil)
	n1 := e.Emit(KindFailure, nil)

	if n0.Sequence != 0 || n1.Sequence != 1 {
		t.Fatalf("sequences = %d, %d", n0.Sequence, n1.Sequence)
	}
	if n0.Source != "src" || !n0.EmittedAt.Equal(time.Unix(100, 0)) {
		t.Fatalf("notification = %+v", n0)
	}
	want := []string{
		"a:" + NotificationTypeSuccess, "b:" + NotificationTypeSuccess,
		"a:" + NotificationTypeFailure, "b:" + NotificationTypeFailure,
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("delivery = %v", got)
	}
}

func TestEmitter_FailingListenerIsIsolated(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	e := NewEmitter("src", log, nil)

	var last int
	e.Subscribe(ListenerFunc(func(Notification) error { panic("listener bug") }))
	e.Subscribe(ListenerFunc(func(Notification) error { return errors.New("sink down") }))
	e.Subscribe(ListenerFunc(func(Notification) error { last++; return nil }))

	e.Emit(KindSuccess, nil)
	e.Emit(KindSuccess, nil)

	if last != 2 {
		t.Fatalf("last listener called %d times", last)
	}
	out := buf.String()
	if !strings.Contains(out, "listener bug") || !strings.Contains(out, "sink down") {
		t.Fatalf("expected both failures logged, got %q", out)
	}
}

func TestEmitter_Cancel(t *testing.T) {
	e := NewEmitter("src", quietLogger(), nil)
	var a, b int
	subA := e.Subscribe(ListenerFunc(func(Notification) error { a++; return nil }))
	e.Subscribe(ListenerFunc(func(Notification) error { b++; return nil }))

	e.Emit(KindSuccess, nil)
	subA.Cancel()
	subA.Cancel()
	e.Emit(KindSuccess, nil)

	if a != 1 || b != 2 {
		t.Fatalf("a=%d b=%d", a, b)
	}
	if e.Len() != 1 {
		t.Fatalf("listeners = %d", e.Len())
	}
}

func TestEmitter_SequenceSurvivesReset(t *testing.T) {
	m := newMonitor()
	var seqs []uint64
	m.Subscribe(ListenerFunc(func(n Notification) error { seqs = append(seqs, n.Sequence); return nil }))

	m.RecordSuccess(newFake(), rcpts)
	m.Reset()
	m.RecordFailure(newFake(), rcpts, errors.New("x"))

	if len(seqs) != 2 || seqs[1] <= seqs[0] {
		t.Fatalf("sequences = %v", seqs)
	}
}

func TestListenerInvocationError_Unwrap(t *testing.T) {
	cause := errors.New("cause")
	err := error(&ListenerInvocationError{Listener: 1, Sequence: 7, Err: cause})
	if !errors.Is(err, cause) {
		t.Fatalf("expected unwrap to cause")
	}
}

func TestDescribeError(t *testing.T) {
	if got := DescribeError(IllegalStateException{}); got != "IllegalStateException" {
		t.Fatalf("got %q", got)
	}
	if got := DescribeError(&AttributeNotFoundError{Name: "x"}); got != `AttributeNotFoundError: attribute "x" not found` {
		t.Fatalf("got %q", got)
	}
	wrapped := fmt.Errorf("write: %w", &AttributeNotFoundError{Name: "x"})
	if got := DescribeError(wrapped); got != `AttributeNotFoundError: write: attribute "x" not found` {
		t.Fatalf("got %q", got)
	}
	if got := DescribeError(&nilDerefError{}); got != "nilDerefError" {
		t.Fatalf("got %q", got)
	}
	if got := DescribeError(nil); got != "" {
		t.Fatalf("got %q", got)
	}
}
