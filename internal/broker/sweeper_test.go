package broker

import (
	"testing"
	"time"
)

func TestSweeperSweep(t *testing.T) {
	t.Run("evicts sessions past the heartbeat threshold", func(t *testing.T) {
		correlator := NewCorrelator()
		registry := NewRegistry(10, StrategyRoundRobin, correlator)

		transport := &fakeTransport{}
		session, _ := registry.Register("key-a", transport, Metadata{})

		evicted := make([]string, 0)
		sweeper := NewSweeper(registry, time.Hour, 5*time.Millisecond, func(s *Session) {
			evicted = append(evicted, s.ID)
			s.Transport.Close("heartbeat timeout")
		})

		time.Sleep(20 * time.Millisecond)
		sweeper.Sweep()

		if len(evicted) != 1 || evicted[0] != session.ID {
			t.Fatalf("Expected eviction of %s, got %v", session.ID, evicted)
		}
		if transport.IsOpen() {
			t.Error("Expected transport closed on eviction")
		}
		if registry.TotalCount() != 0 {
			t.Errorf("Expected empty registry, got %d sessions", registry.TotalCount())
		}
	})

	t.Run("spares sessions with a fresh heartbeat", func(t *testing.T) {
		correlator := NewCorrelator()
		registry := NewRegistry(10, StrategyRoundRobin, correlator)

		session, _ := registry.Register("key-a", &fakeTransport{}, Metadata{})

		sweeper := NewSweeper(registry, time.Hour, 5*time.Millisecond, nil)

		time.Sleep(20 * time.Millisecond)
		registry.TouchHeartbeat(session.ID)
		sweeper.Sweep()

		if registry.TotalCount() != 1 {
			t.Errorf("Expected session to survive, got %d sessions", registry.TotalCount())
		}
	})

	t.Run("eviction fails pending requests with connection lost", func(t *testing.T) {
		correlator := NewCorrelator()
		registry := NewRegistry(10, StrategyRoundRobin, correlator)

		session, _ := registry.Register("key-a", &fakeTransport{}, Metadata{})
		done := correlator.Register(session.ID, "req-1", "send-message", time.Minute)

		sweeper := NewSweeper(registry, time.Hour, 5*time.Millisecond, nil)
		time.Sleep(20 * time.Millisecond)
		sweeper.Sweep()

		select {
		case outcome := <-done:
			if outcome.Err == nil || outcome.Err.Code != CodeConnectionLost {
				t.Errorf("Expected CONNECTION_LOST, got %+v", outcome)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for the eviction outcome")
		}
	})
}

func TestSweeperLifecycle(t *testing.T) {
	registry := NewRegistry(10, StrategyRoundRobin, NewCorrelator())
	sweeper := NewSweeper(registry, time.Hour, time.Hour, nil)

	if sweeper.IsRunning() {
		t.Error("Expected sweeper to start stopped")
	}

	sweeper.Start()
	sweeper.Start() // idempotent
	if !sweeper.IsRunning() {
		t.Error("Expected sweeper running after Start")
	}

	sweeper.Stop()
	sweeper.Stop() // idempotent
	if sweeper.IsRunning() {
		t.Error("Expected sweeper stopped after Stop")
	}
}
