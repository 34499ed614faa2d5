package observability

import (
	"context"
	"sync"
	"time"
)

type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusDegraded  ComponentStatus = "degraded"
	StatusUnhealthy ComponentStatus = "unhealthy"
)

// checkTimeout bounds a single health probe. Checks hit the RPC node and the
// stream socket, neither of which is allowed to wedge the monitor loop.
const checkTimeout = 5 * time.Second

// HealthCheck probes one component and reports its state.
type HealthCheck func(ctx context.Context) ComponentHealth

type ComponentHealth struct {
	Name      string          `json:"name"`
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	CheckedAt time.Time       `json:"checked_at"`
	LatencyMS int64           `json:"latency_ms"`
	Details   map[string]any  `json:"details,omitempty"`
}

// Healthy, Degraded, and Unhealthy build check results; the monitor fills in
// name, timestamp, and latency.
func Healthy(msg string) ComponentHealth {
	return ComponentHealth{Status: StatusHealthy, Message: msg}
}

func Degraded(msg string) ComponentHealth {
	return ComponentHealth{Status: StatusDegraded, Message: msg}
}

func Unhealthy(msg string) ComponentHealth {
	return ComponentHealth{Status: StatusUnhealthy, Message: msg}
}

// SystemHealth aggregates every component; Status carries the worst of them.
type SystemHealth struct {
	Status     ComponentStatus            `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	CheckedAt  time.Time                  `json:"checked_at"`
	UptimeS    int64                      `json:"uptime_s"`
}

// Alert is emitted when a component changes status.
type Alert struct {
	Level     string    `json:"level"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"ts"`
}

// HealthMonitor runs registered checks on an interval and reports
// transitions on its alert channel.
type HealthMonitor struct {
	mu        sync.RWMutex
	checks    map[string]HealthCheck
	results   map[string]ComponentHealth
	startTime time.Time
	interval  time.Duration
	alertCh   chan Alert
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func NewHealthMonitor(interval time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &HealthMonitor{
		checks:    make(map[string]HealthCheck),
		results:   make(map[string]ComponentHealth),
		startTime: time.Now(),
		interval:  interval,
		alertCh:   make(chan Alert, 256),
		stopCh:    make(chan struct{}),
	}
}

// Register adds a named check. Call before Start.
func (m *HealthMonitor) Register(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Start blocks, running all checks immediately and then on every interval,
// until the context is cancelled or Stop is called.
func (m *HealthMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.runChecks(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.runChecks(ctx)
		}
	}
}

func (m *HealthMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Check runs every check synchronously and returns the aggregate. The HTTP
// health handler calls this directly so probes see current state.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.runChecks(ctx)
	return m.snapshot()
}

// Alerts carries one entry per component status transition. Reads must keep
// up; the monitor drops alerts rather than block.
func (m *HealthMonitor) Alerts() <-chan Alert {
	return m.alertCh
}

// ComponentStatus returns the latest result for one component.
func (m *HealthMonitor) ComponentStatus(name string) (ComponentHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.results[name]
	return h, ok
}

func (m *HealthMonitor) runChecks(ctx context.Context) {
	m.mu.RLock()
	checks := make(map[string]HealthCheck, len(m.checks))
	for name, fn := range m.checks {
		checks[name] = fn
	}
	m.mu.RUnlock()

	results := make(map[string]ComponentHealth, len(checks))
	for name, fn := range checks {
		probeCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		start := time.Now()
		r := fn(probeCtx)
		cancel()
		r.Name = name
		r.CheckedAt = time.Now()
		r.LatencyMS = time.Since(start).Milliseconds()
		results[name] = r
	}

	m.mu.Lock()
	prev := m.results
	m.results = results
	m.mu.Unlock()

	for name, cur := range results {
		if old, ok := prev[name]; !ok || old.Status != cur.Status {
			m.emitAlert(name, cur)
		}
	}
}

func (m *HealthMonitor) emitAlert(name string, h ComponentHealth) {
	level := "info"
	switch h.Status {
	case StatusDegraded:
		level = "warn"
	case StatusUnhealthy:
		level = "critical"
	}

	msg := h.Message
	if msg == "" {
		msg = "status changed to " + string(h.Status)
	}

	select {
	case m.alertCh <- Alert{Level: level, Component: name, Message: msg, Timestamp: time.Now()}:
	default:
	}
}

func (m *HealthMonitor) snapshot() SystemHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	components := make(map[string]ComponentHealth, len(m.results))
	worst := StatusHealthy
	for name, h := range m.results {
		components[name] = h
		if severity(h.Status) > severity(worst) {
			worst = h.Status
		}
	}

	return SystemHealth{
		Status:     worst,
		Components: components,
		CheckedAt:  time.Now(),
		UptimeS:    int64(time.Since(m.startTime).Seconds()),
	}
}

func severity(s ComponentStatus) int {
	switch s {
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return 0
	}
}
