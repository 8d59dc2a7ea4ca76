// Package statemachine is the single source of truth for which task-state
// transitions are permitted. It holds no state of its own; callers (chiefly
// pkg/lifecycle) persist the result.
package statemachine

import "fmt"

// State is a Task's lifecycle state.
type State string

const (
	Idle          State = "idle"
	Commanded     State = "commanded"
	Processing    State = "processing"
	AwaitingInput State = "awaiting_input"
	Complete      State = "complete"
)

// Actor is who produced the turn driving a transition.
type Actor string

const (
	ActorUser  Actor = "user"
	ActorAgent Actor = "agent"
)

// Intent is the classified purpose of a turn (see pkg/intent).
type Intent string

const (
	IntentCommand    Intent = "command"
	IntentAnswer     Intent = "answer"
	IntentProgress   Intent = "progress"
	IntentQuestion   Intent = "question"
	IntentCompletion Intent = "completion"
	IntentEndOfTask  Intent = "end_of_task"
)

type transitionKey struct {
	From   State
	Actor  Actor
	Intent Intent
}

// validTransitions is the literal transition table. Anything not present
// here is invalid by omission.
var validTransitions = map[transitionKey]State{
	{Idle, ActorUser, IntentCommand}: Commanded,

	{Commanded, ActorAgent, IntentProgress}:   Processing,
	{Commanded, ActorAgent, IntentQuestion}:   AwaitingInput,
	{Commanded, ActorAgent, IntentCompletion}: Complete,
	{Commanded, ActorAgent, IntentEndOfTask}:  Complete,

	{Processing, ActorAgent, IntentProgress}:   Processing,
	{Processing, ActorAgent, IntentQuestion}:   AwaitingInput,
	{Processing, ActorAgent, IntentCompletion}: Complete,
	{Processing, ActorAgent, IntentEndOfTask}:  Complete,
	{Processing, ActorUser, IntentAnswer}:      Processing,

	{AwaitingInput, ActorUser, IntentAnswer}:      Processing,
	{AwaitingInput, ActorAgent, IntentQuestion}:   AwaitingInput,
	{AwaitingInput, ActorAgent, IntentProgress}:   AwaitingInput,
	{AwaitingInput, ActorAgent, IntentCompletion}: Complete,
	{AwaitingInput, ActorAgent, IntentEndOfTask}:  Complete,
}

// Result is the outcome of validating a proposed transition.
type Result struct {
	Valid   bool
	From    State
	To      State
	Actor   Actor
	Intent  Intent
	Reason  string
}

// Validate looks up whether (from, actor, intent) is a permitted move.
//
// (AwaitingInput, ActorUser, IntentCommand) is explicitly rejected rather
// than merely absent from the table: a user command while the agent is
// mid-question does not belong on the current task at all — the caller
// should open a new task instead of forcing this one forward.
func Validate(from State, actor Actor, intent Intent) Result {
	if from == AwaitingInput && actor == ActorUser && intent == IntentCommand {
		return Result{
			Valid:  false,
			From:   from,
			Actor:  actor,
			Intent: intent,
			Reason: "user command while awaiting_input - should open a new task",
		}
	}

	to, ok := validTransitions[transitionKey{from, actor, intent}]
	if !ok {
		return Result{
			Valid:  false,
			From:   from,
			Actor:  actor,
			Intent: intent,
			Reason: fmt.Sprintf("no transition defined for (%s, %s, %s)", from, actor, intent),
		}
	}

	return Result{Valid: true, From: from, To: to, Actor: actor, Intent: intent}
}

// ValidTransitionsFrom lists every (actor, intent) pair permitted from a
// given state. Used by the debug CLI and by tests asserting table coverage.
func ValidTransitionsFrom(from State) []struct {
	Actor  Actor
	Intent Intent
	To     State
} {
	var out []struct {
		Actor  Actor
		Intent Intent
		To     State
	}
	for key, to := range validTransitions {
		if key.From == from {
			out = append(out, struct {
				Actor  Actor
				Intent Intent
				To     State
			}{key.Actor, key.Intent, to})
		}
	}
	return out
}

// IsTerminal reports whether state is a dead end (Complete).
func IsTerminal(s State) bool { return s == Complete }
