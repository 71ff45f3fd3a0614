// Package core provides store health tracking.
package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/takezou621/sedori-platform-sub003/internal/quota/observability"
)

// OperatingMode represents the limiter's view of the store.
type OperatingMode int32

const (
	// ModeNormal means checks are enforced against the store.
	ModeNormal OperatingMode = iota
	// ModeDegraded means the store has been unreachable long enough that
	// checks are failing open.
	ModeDegraded
)

// String returns the mode label.
func (m OperatingMode) String() string {
	if m == ModeDegraded {
		return "degraded"
	}
	return "normal"
}

// HealthProber probes limiter health.
type HealthProber interface {
	HealthCheck(ctx context.Context) HealthStatus
}

// StoreMonitor turns periodic probes into an operating mode.
type StoreMonitor struct {
	prober       HealthProber
	unhealthyFor time.Duration
	now          func() time.Time
	mode         atomic.Int32
	lastHealthy  atomic.Int64
	reachable    atomic.Bool
	logger       observability.Logger
	mu           sync.Mutex
	listeners    []func(OperatingMode)
}

// NewStoreMonitor constructs a StoreMonitor.
func NewStoreMonitor(prober HealthProber, unhealthyFor time.Duration, logger observability.Logger) *StoreMonitor {
	if unhealthyFor <= 0 {
		unhealthyFor = 500 * time.Millisecond
	}
	if logger == nil {
		logger = observability.NopLogger{}
	}
	monitor := &StoreMonitor{
		prober:       prober,
		unhealthyFor: unhealthyFor,
		now:          time.Now,
		logger:       logger,
	}
	monitor.mode.Store(int32(ModeNormal))
	monitor.lastHealthy.Store(monitor.now().UnixNano())
	monitor.reachable.Store(true)
	return monitor
}

// OnChange registers a callback invoked with each new mode.
func (m *StoreMonitor) OnChange(fn func(OperatingMode)) {
	if m == nil || fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Mode returns the current operating mode.
func (m *StoreMonitor) Mode() OperatingMode {
	if m == nil {
		return ModeNormal
	}
	return OperatingMode(m.mode.Load())
}

// Reachable reports the last probe result.
func (m *StoreMonitor) Reachable() bool {
	if m == nil {
		return false
	}
	return m.reachable.Load()
}

// Update probes the store and refreshes the mode.
func (m *StoreMonitor) Update(ctx context.Context) {
	if m == nil || m.prober == nil {
		return
	}
	status := m.prober.HealthCheck(ctx)
	now := m.now()
	m.reachable.Store(status.StoreReachable)
	if status.StoreReachable {
		m.lastHealthy.Store(now.UnixNano())
	}
	mode := ModeNormal
	if now.Sub(time.Unix(0, m.lastHealthy.Load())) >= m.unhealthyFor {
		mode = ModeDegraded
	}
	prev := OperatingMode(m.mode.Swap(int32(mode)))
	if prev == mode {
		return
	}
	m.logger.Info("mode changed", map[string]any{
		"old": prev.String(),
		"new": mode.String(),
	})
	m.mu.Lock()
	listeners := append([]func(OperatingMode){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(mode)
	}
}

// HealthLoop periodically updates the store monitor.
type HealthLoop struct {
	monitor  *StoreMonitor
	interval time.Duration
}

// NewHealthLoop constructs a HealthLoop.
func NewHealthLoop(monitor *StoreMonitor, interval time.Duration) *HealthLoop {
	return &HealthLoop{monitor: monitor, interval: interval}
}

// Start runs the loop until ctx is done.
func (h *HealthLoop) Start(ctx context.Context) error {
	if h == nil || h.monitor == nil {
		return errors.New("health loop is not configured")
	}
	interval := h.interval
	if interval <= 0 {
		interval = time.Second
	}
	h.monitor.Update(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.monitor.Update(ctx)
		}
	}
}
