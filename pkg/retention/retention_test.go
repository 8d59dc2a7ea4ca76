package retention

import (
	"context"
	"testing"
	"time"
)

// A zero-value Config disables both sweeps (SessionRetentionDays and
// EventTTL both <= 0), so runAll never touches the nil *ent.Client here —
// this exercises the Start/Stop lifecycle the way pkg/hooks and
// pkg/lifecycle test pure control flow, without a real database.
func TestService_StartStop_Idempotent(t *testing.T) {
	s := New(Config{}, nil)

	s.Start(context.Background())
	s.Start(context.Background()) // second call must be a no-op, not a second goroutine

	s.Stop()
	s.Stop() // second call must be a no-op, not a hang on an already-closed channel
}

func TestService_RunAll_NoopWhenRetentionDisabled(t *testing.T) {
	s := New(Config{}, nil)
	// Neither sweep should dereference the nil client when its threshold
	// is <= 0.
	s.runAll(context.Background())
}

func TestService_Stop_ReturnsAfterLoopExits(t *testing.T) {
	s := New(Config{CleanupInterval: time.Hour}, nil)
	s.Start(context.Background())

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the sweep loop was signaled to exit")
	}
}
