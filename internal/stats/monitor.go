// Package stats tracks the outcome of every message handed to the file
// transport: success and failure totals, the last failure in detail, and a
// notification per outcome.
//
// A Monitor is safe for concurrent use. Record calls never fail and never
// block on anything but short internal synchronization.
package stats

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/passwordkeyorg/mail-file-transport/internal/logging"
	"github.com/passwordkeyorg/mail-file-transport/internal/message"
)

// Attribute names exposed through the management interface.
const (
	AttrCountSuccessful     = "countSuccessful"
	AttrCountFailure        = "countFailure"
	AttrCollectionStart     = "statisticsCollectionStartDate"
	AttrLastFailureMailInfo = "lastFailureMailInfo"
)

// Options configures a Monitor.
type Options struct {
	// Name identifies the monitor in notifications.
	Name   string
	Logger *slog.Logger
	Now    func() time.Time
}

type Monitor struct {
	name     string
	log      *slog.Logger
	now      func() time.Time
	counters *Counters
	last     atomic.Pointer[MailInfo]
	emitter  *Emitter

	attrs map[string]func() any
	names []string
}

func New(opts Options) *Monitor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Monitor{
		name:     opts.Name,
		log:      logging.WithMonitor(opts.Logger, opts.Name),
		now:      opts.Now,
		counters: NewCounters(opts.Now()),
	}
	m.emitter = NewEmitter(opts.Name, m.log, opts.Now)
	m.names = []string{AttrCountSuccessful, AttrCountFailure, AttrCollectionStart, AttrLastFailureMailInfo}
	m.attrs = map[string]func() any{
		AttrCountSuccessful:     func() any { return m.counters.Snapshot().SuccessCount },
		AttrCountFailure:        func() any { return m.counters.Snapshot().FailureCount },
		AttrCollectionStart:     func() any { return m.counters.Snapshot().CollectionStartDate },
		AttrLastFailureMailInfo: func() any { return m.LastFailure() },
	}
	return m
}

func (m *Monitor) Name() string { return m.name }

// RecordSuccess counts a delivered message and notifies listeners.
func (m *Monitor) RecordSuccess(msg message.Message, rcpts []string) {
	defer m.recoverBookkeeping("success")
	m.counters.IncSuccess()
	m.emitter.Emit(KindSuccess, nil)
}

// RecordFailure stores a new last-failure record, counts the failure and
// notifies listeners. The notification carries its own copy of the record,
// so concurrent failures never see each other's details.
func (m *Monitor) RecordFailure(msg message.Message, rcpts []string, cause error) {
	now := m.now()
	info := m.buildFailure(msg, rcpts, cause, now)
	defer m.recoverBookkeeping("failure")
	m.last.Store(info)
	m.counters.IncFailure()
	m.emitter.Emit(KindFailure, info.Clone())
}

// buildFailure never panics; if the record cannot be built the failure is
// still counted with a bare record.
func (m *Monitor) buildFailure(msg message.Message, rcpts []string, cause error, now time.Time) (info *MailInfo) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("failure record incomplete", "panic", r)
			info = &MailInfo{Date: now, ToAddresses: []string{}, Headers: []message.Header{}}
		}
	}()
	return BuildMailInfo(msg, rcpts, cause, now)
}

func (m *Monitor) recoverBookkeeping(kind string) {
	if r := recover(); r != nil {
		m.log.Error("delivery statistics bookkeeping failed", "kind", kind, "panic", r)
	}
}

// Reset clears the counters and restarts the collection period. The last
// failure record is kept and no notification is sent.
func (m *Monitor) Reset() {
	m.counters.Reset(m.now())
	m.log.Info("delivery statistics reset")
}

// Counters returns the current totals.
func (m *Monitor) Counters() CounterSnapshot { return m.counters.Snapshot() }

// LastFailure returns a copy of the latest failure record, or nil if none
// was recorded.
func (m *Monitor) LastFailure() *MailInfo { return m.last.Load().Clone() }

// Subscribe registers l for every future notification.
func (m *Monitor) Subscribe(l Listener) *Subscription { return m.emitter.Subscribe(l) }

// AttributeNames lists the readable attributes in a stable order.
func (m *Monitor) AttributeNames() []string {
	return append([]string(nil), m.names...)
}

func (m *Monitor) Attribute(name string) (any, error) {
	get, ok := m.attrs[name]
	if !ok {
		return nil, &AttributeNotFoundError{Name: name}
	}
	return get(), nil
}

// Attributes reads several attributes. An empty names list yields an empty
// map; the first unknown name aborts the read.
func (m *Monitor) Attributes(names []string) (map[string]any, error) {
	out := make(map[string]any, len(names))
	for _, n := range names {
		v, err := m.Attribute(n)
		if err != nil {
			return nil, err
		}
		out[n] = v
	}
	return out, nil
}

// SetAttribute always fails: every attribute is derived.
func (m *Monitor) SetAttribute(name string, _ any) error {
	return &ReadOnlyAttributeError{Name: name}
}
