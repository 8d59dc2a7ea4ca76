package lifecycle

import (
	"testing"

	"github.com/agentwatch/headspace/pkg/statemachine"
)

func TestTurnContentHash_Deterministic(t *testing.T) {
	a := turnContentHash("user", "Hello There")
	b := turnContentHash("user", "  hello there  ")
	if a != b {
		t.Errorf("expected normalized match, got %q != %q", a, b)
	}
	if len(a) != 16 {
		t.Errorf("expected 16 hex chars, got %d", len(a))
	}
}

func TestTriggerActorIntent_KnownTriggersMapToExpectedPairs(t *testing.T) {
	cases := map[string]struct {
		Actor  statemachine.Actor
		Intent statemachine.Intent
	}{
		"hook:user_prompt_submit":     {statemachine.ActorUser, statemachine.IntentCommand},
		"user:answer":                 {statemachine.ActorUser, statemachine.IntentAnswer},
		"agent:completion":            {statemachine.ActorAgent, statemachine.IntentCompletion},
		"hook:stop:deferred_question": {statemachine.ActorAgent, statemachine.IntentQuestion},
	}
	for trigger, want := range cases {
		got, ok := triggerActorIntent[trigger]
		if !ok {
			t.Fatalf("trigger %q not found in map", trigger)
		}
		if got != want {
			t.Errorf("trigger %q = %+v, want %+v", trigger, got, want)
		}
	}
}

func TestTriggerActorIntent_UnknownTriggerDefaultsInCaller(t *testing.T) {
	if _, ok := triggerActorIntent["totally-unknown-trigger"]; ok {
		t.Fatal("expected unknown trigger to be absent, relying on caller default")
	}
}
