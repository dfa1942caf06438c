// Package health keeps the latest outcome of every backend read and sink
// publish so the agent can report an overall status.
package health

import (
	"slices"
	"sync"
	"time"

	"github.com/breeze-rmm/netmetrics/internal/logging"
)

var log = logging.L("health")

type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
	Unknown   Status = "unknown"
)

func (s Status) IsValid() bool {
	switch s {
	case Healthy, Degraded, Unhealthy, Unknown:
		return true
	}
	return false
}

// rank orders statuses from best to worst. Unknown ranks worst: a component
// that never reported is not trusted.
func (s Status) rank() int {
	switch s {
	case Healthy:
		return 0
	case Degraded:
		return 1
	case Unhealthy:
		return 2
	default:
		return 3
	}
}

// Check is the latest result for one component.
type Check struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Failures  int       `json:"consecutiveFailures,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Monitor tracks checks for named components such as "backend" or
// "sink:http".
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]Check

	// FailureThreshold is the number of consecutive failures after which
	// Record reports Unhealthy instead of Degraded.
	FailureThreshold int
}

func NewMonitor() *Monitor {
	return &Monitor{checks: make(map[string]Check), FailureThreshold: 3}
}

// Update stores status for name. Invalid statuses are stored as Unhealthy.
func (m *Monitor) Update(name string, status Status, message string) {
	if !status.IsValid() {
		status = Unhealthy
	}
	m.mu.Lock()
	prev := m.checks[name]
	failures := 0
	if status != Healthy {
		failures = prev.Failures + 1
	}
	m.checks[name] = Check{
		Name:      name,
		Status:    status,
		Message:   message,
		Failures:  failures,
		UpdatedAt: time.Now(),
	}
	m.mu.Unlock()

	if status != Healthy && prev.Status != status {
		log.Warn("component status changed", "component", name, "status", string(status), "message", message)
	} else if status == Healthy && prev.Status != "" && prev.Status != Healthy {
		log.Info("component recovered", "component", name)
	}
}

// Record maps an operation result to a status: nil is Healthy, an error is
// Degraded until FailureThreshold consecutive failures, then Unhealthy.
func (m *Monitor) Record(name string, err error) {
	if err == nil {
		m.Update(name, Healthy, "")
		return
	}
	m.mu.RLock()
	failures := m.checks[name].Failures + 1
	m.mu.RUnlock()

	status := Degraded
	if m.FailureThreshold > 0 && failures >= m.FailureThreshold {
		status = Unhealthy
	}
	m.Update(name, status, err.Error())
}

func (m *Monitor) Get(name string) (Check, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[name]
	return c, ok
}

// Overall returns the worst status across all checks, or Unknown when
// nothing has reported yet.
func (m *Monitor) Overall() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overallLocked()
}

func (m *Monitor) overallLocked() Status {
	if len(m.checks) == 0 {
		return Unknown
	}
	worst := Healthy
	for _, c := range m.checks {
		if c.Status.rank() > worst.rank() {
			worst = c.Status
		}
	}
	return worst
}

// All returns the checks sorted by name.
func (m *Monitor) All() []Check {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Check, 0, len(m.checks))
	for _, c := range m.checks {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Check) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}

// Summary returns the overall status and per-component statuses from one
// consistent read.
func (m *Monitor) Summary() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	components := make(map[string]string, len(m.checks))
	for _, c := range m.checks {
		components[c.Name] = string(c.Status)
	}
	return map[string]any{
		"status":     string(m.overallLocked()),
		"components": components,
	}
}
