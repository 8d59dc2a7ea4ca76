package hooks

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEffectiveLockTimeout_DefaultsWhenUnset(t *testing.T) {
	in := &Ingestor{}
	if got := in.effectiveLockTimeout(); got != defaultLockTimeout {
		t.Errorf("expected default %s, got %s", defaultLockTimeout, got)
	}

	in.SetLockTimeout(30 * time.Second)
	if got := in.effectiveLockTimeout(); got != 30*time.Second {
		t.Errorf("expected override 30s, got %s", got)
	}
}

func TestStaleAwaitingWindow_DefaultsWhenUnset(t *testing.T) {
	in := &Ingestor{}
	if got := in.staleAwaitingWindow(); got != defaultStaleAwaitingRecoveryWindow {
		t.Errorf("expected default %s, got %s", defaultStaleAwaitingRecoveryWindow, got)
	}

	in.SetStaleAwaitingRecoveryWindow(2 * time.Minute)
	if got := in.staleAwaitingWindow(); got != 2*time.Minute {
		t.Errorf("expected override 2m, got %s", got)
	}
}

// A nil lockMgr only ever arises from a test Ingestor built directly
// rather than through New; locked/lockedErr/withLock must still run fn
// so those tests aren't forced to stand up a database connection.
func TestLockHelpers_RunUnlockedWithNilManager(t *testing.T) {
	in := &Ingestor{}

	called := false
	res := in.locked(context.Background(), "agent-1", func(ctx context.Context) Result {
		called = true
		return ok("agent-1", "", false)
	})
	if !called || !res.Success {
		t.Error("expected locked to invoke fn and return its result with a nil lockMgr")
	}

	called = false
	res, err := in.lockedErr(context.Background(), "agent-1", func(ctx context.Context) (Result, error) {
		called = true
		return ok("agent-1", "", false), nil
	})
	if !called || err != nil || !res.Success {
		t.Error("expected lockedErr to invoke fn and return its result with a nil lockMgr")
	}

	called = false
	wantErr := errors.New("boom")
	err = in.withLock(context.Background(), "agent-1", func(ctx context.Context) error {
		called = true
		return wantErr
	})
	if !called || !errors.Is(err, wantErr) {
		t.Error("expected withLock to invoke fn and propagate its error with a nil lockMgr")
	}
}
