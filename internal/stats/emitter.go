package stats

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Kind distinguishes delivery outcomes.
type Kind int

const (
	KindSuccess Kind = iota
	KindFailure
)

// Notification types carried on every emitted event.
const (
	NotificationTypeSuccess = "mail.send.success"
	NotificationTypeFailure = "mail.send.failure"
)

func (k Kind) String() string {
	if k == KindFailure {
		return "failure"
	}
	return "success"
}

// Type returns the notification type tag for k.
func (k Kind) Type() string {
	if k == KindFailure {
		return NotificationTypeFailure
	}
	return NotificationTypeSuccess
}

// Notification is delivered to listeners once per recorded outcome.
type Notification struct {
	Type      string    `json:"type"`
	Kind      Kind      `json:"-"`
	Source    string    `json:"source"`
	Sequence  uint64    `json:"sequence"`
	EmittedAt time.Time `json:"emittedAt"`
	// Failure is the record stored by the failure that produced this
	// notification; nil for successes. Listeners must not modify it.
	Failure *MailInfo `json:"failure,omitempty"`
}

// Listener receives notifications on the recording goroutine. It must return
// quickly; a returned error is logged and otherwise ignored.
type Listener interface {
	HandleNotification(Notification) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Notification) error

func (f ListenerFunc) HandleNotification(n Notification) error { return f(n) }

// Subscription is returned by Subscribe. Cancel is idempotent.
type Subscription struct {
	once   sync.Once
	cancel func()
}

func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

type listenerEntry struct {
	id uint64
	l  Listener
}

// Emitter fans notifications out to registered listeners in registration
// order. Readers iterate an immutable slice; writers copy it.
type Emitter struct {
	source string
	log    *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	listeners atomic.Pointer[[]listenerEntry]
	nextID    uint64

	seq atomic.Uint64
}

func NewEmitter(source string, log *slog.Logger, now func() time.Time) *Emitter {
	if log == nil {
		log = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	e := &Emitter{source: source, log: log, now: now}
	e.listeners.Store(&[]listenerEntry{})
	return e
}

func (e *Emitter) Subscribe(l Listener) *Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	cur := *e.listeners.Load()
	next := make([]listenerEntry, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, listenerEntry{id: id, l: l})
	e.listeners.Store(&next)
	return &Subscription{cancel: func() { e.remove(id) }}
}

func (e *Emitter) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur := *e.listeners.Load()
	next := make([]listenerEntry, 0, len(cur))
	for _, le := range cur {
		if le.id != id {
			next = append(next, le)
		}
	}
	e.listeners.Store(&next)
}

// Len reports the number of registered listeners.
func (e *Emitter) Len() int { return len(*e.listeners.Load()) }

// Emit assigns the next sequence number and delivers the notification.
// failure is attached as is and should be nil for successes.
func (e *Emitter) Emit(k Kind, failure *MailInfo) Notification {
	n := Notification{
		Type:      k.Type(),
		Kind:      k,
		Source:    e.source,
		Sequence:  e.seq.Add(1) - 1,
		EmittedAt: e.now(),
		Failure:   failure,
	}
	for _, le := range *e.listeners.Load() {
		if err := invoke(le.l, n); err != nil {
			lerr := &ListenerInvocationError{Listener: int(le.id), Sequence: n.Sequence, Err: err}
			e.log.Warn("notification listener failed", "source", e.source, "err", lerr)
		}
	}
	return n
}

func invoke(l Listener, n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.HandleNotification(n)
}
