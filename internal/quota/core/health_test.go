package core

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type stubProber struct {
	reachable atomic.Bool
}

func (s *stubProber) HealthCheck(context.Context) HealthStatus {
	up := s.reachable.Load()
	return HealthStatus{StoreReachable: up, LimiterActive: up}
}

func TestStoreMonitor_ModeTransitions(t *testing.T) {
	t.Parallel()

	prober := &stubProber{}
	prober.reachable.Store(true)
	monitor := NewStoreMonitor(prober, 20*time.Millisecond, nil)
	var changes []OperatingMode
	monitor.OnChange(func(mode OperatingMode) {
		changes = append(changes, mode)
	})

	monitor.Update(context.Background())
	if monitor.Mode() != ModeNormal || !monitor.Reachable() {
		t.Fatalf("expected normal mode")
	}

	prober.reachable.Store(false)
	monitor.Update(context.Background())
	if monitor.Mode() != ModeNormal {
		t.Fatalf("expected normal mode inside the grace period")
	}
	if monitor.Reachable() {
		t.Fatalf("expected unreachable after failed probe")
	}
	time.Sleep(25 * time.Millisecond)
	monitor.Update(context.Background())
	if monitor.Mode() != ModeDegraded {
		t.Fatalf("expected degraded mode")
	}

	prober.reachable.Store(true)
	monitor.Update(context.Background())
	if monitor.Mode() != ModeNormal {
		t.Fatalf("expected normal mode after recovery")
	}
	if len(changes) != 2 || changes[0] != ModeDegraded || changes[1] != ModeNormal {
		t.Fatalf("unexpected mode changes %v", changes)
	}
}

func TestHealthLoop_UpdatesUntilCanceled(t *testing.T) {
	t.Parallel()

	prober := &stubProber{}
	monitor := NewStoreMonitor(prober, time.Millisecond, nil)
	loop := NewHealthLoop(monitor, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- loop.Start(ctx)
	}()

	deadline := time.Now().Add(time.Second)
	for monitor.Mode() != ModeDegraded {
		if time.Now().After(deadline) {
			t.Fatalf("expected loop to degrade the monitor")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := NewHealthLoop(nil, 0).Start(context.Background()); err == nil {
		t.Fatalf("expected error for unconfigured loop")
	}
}

func TestOperatingMode_String(t *testing.T) {
	t.Parallel()

	if ModeNormal.String() != "normal" || ModeDegraded.String() != "degraded" {
		t.Fatalf("unexpected mode labels")
	}
}
