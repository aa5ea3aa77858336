// Package health aggregates liveness checks from engine components
package health

import (
	"sync"

	"risk_engine/internal/core"
)

// Manager implements core.IHealthMonitor. Components register a check
// function at wiring time; the readiness surface polls them on demand, so a
// check must be cheap and must not block on the component's own locks.
type Manager struct {
	logger core.ILogger

	mu     sync.RWMutex
	checks map[string]func() error
}

// NewManager creates an empty health manager. logger may be nil in tests.
func NewManager(logger core.ILogger) *Manager {
	m := &Manager{checks: make(map[string]func() error)}
	if logger != nil {
		m.logger = logger.WithField("component", "health")
	}
	return m
}

// Register installs the check for a component, replacing any prior one
func (m *Manager) Register(component string, check func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[component] = check
}

// GetStatus runs every check and reports "ok" or the failure text per component
func (m *Manager) GetStatus() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]string, len(m.checks))
	for component, check := range m.checks {
		if err := check(); err != nil {
			status[component] = err.Error()
			if m.logger != nil {
				m.logger.Warn("Component check failed",
					"check", component, "error", err.Error())
			}
			continue
		}
		status[component] = "ok"
	}
	return status
}

// IsHealthy reports whether every registered check passes
func (m *Manager) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, check := range m.checks {
		if err := check(); err != nil {
			return false
		}
	}
	return true
}
