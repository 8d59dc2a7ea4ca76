package intent

import (
	"testing"

	"github.com/agentwatch/headspace/pkg/statemachine"
	"github.com/stretchr/testify/assert"
)

func TestDetectUser_DependsOnlyOnState(t *testing.T) {
	d := Detect("anything at all", statemachine.ActorUser, statemachine.AwaitingInput)
	assert.Equal(t, statemachine.IntentAnswer, d.Intent)
	assert.Equal(t, 1.0, d.Confidence)

	d = Detect("anything at all", statemachine.ActorUser, statemachine.Processing)
	assert.Equal(t, statemachine.IntentCommand, d.Intent)
}

func TestDetectAgent_Empty(t *testing.T) {
	d := Detect("   ", statemachine.ActorAgent, statemachine.Processing)
	assert.Equal(t, statemachine.IntentProgress, d.Intent)
	assert.Equal(t, 0.5, d.Confidence)
}

func TestDetectAgent_Question(t *testing.T) {
	d := Detect("Should I delete the old config file?", statemachine.ActorAgent, statemachine.Processing)
	assert.Equal(t, statemachine.IntentQuestion, d.Intent)
	assert.Equal(t, 1.0, d.Confidence)
}

func TestDetectAgent_Blocked(t *testing.T) {
	d := Detect("I don't have permission to read that secret.", statemachine.ActorAgent, statemachine.Processing)
	assert.Equal(t, statemachine.IntentQuestion, d.Intent)
}

func TestDetectAgent_Completion(t *testing.T) {
	d := Detect("All tests are passing.", statemachine.ActorAgent, statemachine.Processing)
	assert.Equal(t, statemachine.IntentCompletion, d.Intent)
}

func TestDetectAgent_DefaultProgress(t *testing.T) {
	d := Detect("Reading file foo.go to understand the layout.", statemachine.ActorAgent, statemachine.Processing)
	assert.Equal(t, statemachine.IntentProgress, d.Intent)
	assert.Equal(t, 0.5, d.Confidence)
}

func TestDetectAgent_IgnoresCodeBlockQuestionMarks(t *testing.T) {
	text := "```go\nfunc f() bool { return x == nil }\n```\nStill working on this."
	d := Detect(text, statemachine.ActorAgent, statemachine.Processing)
	assert.Equal(t, statemachine.IntentProgress, d.Intent)
}
