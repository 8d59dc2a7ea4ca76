package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_TableTransitions(t *testing.T) {
	cases := []struct {
		name   string
		from   State
		actor  Actor
		intent Intent
		want   State
	}{
		{"user commands idle agent", Idle, ActorUser, IntentCommand, Commanded},
		{"agent starts working", Commanded, ActorAgent, IntentProgress, Processing},
		{"agent asks a question immediately", Commanded, ActorAgent, IntentQuestion, AwaitingInput},
		{"agent finishes without ever progressing", Commanded, ActorAgent, IntentCompletion, Complete},
		{"user answers mid-processing", Processing, ActorUser, IntentAnswer, Processing},
		{"user answers while awaiting input", AwaitingInput, ActorUser, IntentAnswer, Processing},
		{"agent keeps asking", AwaitingInput, ActorAgent, IntentQuestion, AwaitingInput},
		{"agent completes via end of task", Processing, ActorAgent, IntentEndOfTask, Complete},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := Validate(tc.from, tc.actor, tc.intent)
			assert.True(t, result.Valid)
			assert.Equal(t, tc.want, result.To)
		})
	}
}

func TestValidate_AwaitingInputCommandRejected(t *testing.T) {
	result := Validate(AwaitingInput, ActorUser, IntentCommand)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Reason, "new task")
}

func TestValidate_CompleteIsTerminal(t *testing.T) {
	for _, actor := range []Actor{ActorUser, ActorAgent} {
		for _, intent := range []Intent{IntentCommand, IntentAnswer, IntentProgress, IntentQuestion, IntentCompletion, IntentEndOfTask} {
			result := Validate(Complete, actor, intent)
			assert.False(t, result.Valid, "expected no transitions out of Complete for (%s,%s)", actor, intent)
		}
	}
	assert.True(t, IsTerminal(Complete))
	assert.False(t, IsTerminal(Processing))
}

func TestValidate_UnknownTripleRejected(t *testing.T) {
	result := Validate(Idle, ActorAgent, IntentProgress)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Reason)
}
