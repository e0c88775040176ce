// Package registry publishes delivery monitors under stable names so the
// management API can find them. Owners hold the returned Registration and
// close it on shutdown.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/passwordkeyorg/mail-file-transport/internal/stats"
)

// DefaultName is the well-known name of the file transport's monitor.
const DefaultName = "org.passwordkeyorg.mail:type=FileTransportStatistics"

var ErrAlreadyRegistered = errors.New("name already registered")

type Registry struct {
	mu       sync.RWMutex
	monitors map[string]*stats.Monitor
}

func New() *Registry {
	return &Registry{monitors: make(map[string]*stats.Monitor)}
}

// Registration keeps a monitor published until Close.
type Registration struct {
	reg  *Registry
	name string
	once sync.Once
}

func (r *Registry) Register(name string, m *stats.Monitor) (*Registration, error) {
	if name == "" {
		return nil, errors.New("name is required")
	}
	if m == nil {
		return nil, errors.New("monitor is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.monitors[name]; ok {
		return nil, fmt.Errorf("%s: %w", name, ErrAlreadyRegistered)
	}
	r.monitors[name] = m
	return &Registration{reg: r, name: name}, nil
}

func (r *Registry) Lookup(name string) (*stats.Monitor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.monitors[name]
	return m, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.monitors))
	for n := range r.monitors {
		out = append(out, n)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (g *Registration) Name() string { return g.name }

// Close unpublishes the monitor. Calling it more than once is harmless.
func (g *Registration) Close() error {
	if g == nil {
		return nil
	}
	g.once.Do(func() {
		g.reg.mu.Lock()
		delete(g.reg.monitors, g.name)
		g.reg.mu.Unlock()
	})
	return nil
}
