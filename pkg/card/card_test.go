package card

import (
	"testing"
	"time"

	"github.com/agentwatch/headspace/ent"
	"github.com/agentwatch/headspace/ent/task"
)

func TestFormatLastSeen(t *testing.T) {
	now := time.Now()
	cases := []struct {
		ago  time.Duration
		want string
	}{
		{30 * time.Second, "<1m ago"},
		{5 * time.Minute, "5m ago"},
		{125 * time.Minute, "2h 5m ago"},
	}
	for _, c := range cases {
		got := FormatLastSeen(now.Add(-c.ago), now)
		if got != c.want {
			t.Errorf("FormatLastSeen(-%v) = %q, want %q", c.ago, got, c.want)
		}
	}
}

func TestFormatUptime(t *testing.T) {
	now := time.Now()
	got := FormatUptime(now.Add(-90*time.Minute), now)
	if got != "up 1h 30m" {
		t.Errorf("FormatUptime = %q, want 'up 1h 30m'", got)
	}
}

func TestEffectiveState_StaleProcessingBecomesTimedOut(t *testing.T) {
	now := time.Now()
	agent := &ent.Agent{LastSeenAt: now.Add(-10 * time.Minute)}
	tk := &ent.Task{State: task.StateProcessing}
	cfg := Config{StaleProcessingThreshold: 5 * time.Minute}

	got := EffectiveState(tk, agent, cfg, now)
	if got != TimedOut {
		t.Errorf("EffectiveState = %q, want TIMED_OUT", got)
	}
}

func TestEffectiveState_FreshProcessingStaysProcessing(t *testing.T) {
	now := time.Now()
	agent := &ent.Agent{LastSeenAt: now.Add(-1 * time.Minute)}
	tk := &ent.Task{State: task.StateProcessing}
	cfg := Config{StaleProcessingThreshold: 5 * time.Minute}

	got := EffectiveState(tk, agent, cfg, now)
	if got != string(task.StateProcessing) {
		t.Errorf("EffectiveState = %q, want processing", got)
	}
}

func TestEffectiveState_NilTaskIsIdle(t *testing.T) {
	now := time.Now()
	agent := &ent.Agent{LastSeenAt: now}
	if got := EffectiveState(nil, agent, Config{}, now); got != string(task.StateIdle) {
		t.Errorf("EffectiveState(nil) = %q, want idle", got)
	}
}

func TestIsActive_EndedAgentNeverActive(t *testing.T) {
	now := time.Now()
	ended := now.Add(-1 * time.Second)
	agent := &ent.Agent{LastSeenAt: now, EndedAt: &ended}
	if IsActive(agent, Config{}, now) {
		t.Error("expected ended agent to be inactive")
	}
}

func TestStateInfoFor_UnknownFallsBackToGray(t *testing.T) {
	info := stateInfoFor("bogus")
	if info.Color != "gray" {
		t.Errorf("stateInfoFor(bogus).Color = %q, want gray", info.Color)
	}
}
