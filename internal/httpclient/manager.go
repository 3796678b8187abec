package httpclient

import (
	"sync"
	"time"
)

// Manager hands out one shared CircuitBreaker per origin name, so that
// every request against a given playlist/segment host trips and recovers
// the same breaker regardless of which Client instance issues it.
//
// This is a pared-down version of the reference CircuitBreakerManager:
// it keeps the "shared breaker by name" behavior but drops the runtime
// per-service config-override machinery, which this single-tenant
// download engine has no use for.
type Manager struct {
	mu        sync.Mutex
	breakers  map[string]*CircuitBreaker
	threshold int
	timeout   time.Duration
}

// NewManager creates a circuit breaker manager using the given failure
// threshold and reset timeout for every breaker it creates.
func NewManager(threshold int, timeout time.Duration) *Manager {
	return &Manager{
		breakers:  make(map[string]*CircuitBreaker),
		threshold: threshold,
		timeout:   timeout,
	}
}

// GetOrCreate returns the existing breaker for name, or creates one.
func (m *Manager) GetOrCreate(name string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[name]; ok {
		return b
	}

	b := NewCircuitBreaker(m.threshold, m.timeout, DefaultCircuitHalfOpenMax)
	m.breakers[name] = b
	return b
}

// Reset resets a named breaker to closed state, if it exists.
func (m *Manager) Reset(name string) bool {
	m.mu.Lock()
	b, ok := m.breakers[name]
	m.mu.Unlock()
	if !ok {
		return false
	}
	b.Reset()
	return true
}

// Names returns the origin names currently tracked.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.breakers))
	for name := range m.breakers {
		names = append(names, name)
	}
	return names
}

// DefaultManager is the process-wide breaker manager used by
// NewResourceFetcher and NewDefaultResourceFetcher, which share one breaker
// named "resource-fetcher".
var DefaultManager = NewManager(DefaultCircuitThreshold, DefaultCircuitTimeout)
