// Package lifecycle is the Task Lifecycle Manager: the single place that
// creates tasks, validates and applies state transitions, and writes the
// resulting audit Events. Grounded on the original service's
// task_lifecycle module, adapted to ent transactions and this module's
// statemachine/intent packages.
//
// Every exported method expects to run inside the caller's per-agent
// advisory lock (see pkg/lock): this package performs no locking of its
// own, matching the original's single-threaded-per-agent assumption.
package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/agentwatch/headspace/ent"
	"github.com/agentwatch/headspace/ent/task"
	"github.com/agentwatch/headspace/ent/turn"
	"github.com/agentwatch/headspace/pkg/intent"
	"github.com/agentwatch/headspace/pkg/statemachine"
)

// turnContentHash mirrors pkg/transcript's dedup hash (actor + normalized
// text, 16 hex chars) so turns created here and turns recovered from the
// transcript reconciler collide on the same key for the same content.
func turnContentHash(actor, text string) string {
	normalized := fmt.Sprintf("%s:%s", actor, strings.ToLower(strings.TrimSpace(text)))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}

// Notifier delivers an awaiting-input notification to whatever external
// channel the deployment wires up (Slack, voice, push...). It is an
// abstract collaborator: this package only calls it, and a no-op
// implementation is always a valid choice.
type Notifier interface {
	NotifyAwaitingInput(ctx context.Context, agentID, projectName, instruction, questionText string) error
}

// Redactor both classifies turn text as internal sub-agent chatter and
// strips secret-shaped content before it's persisted or broadcast. The
// two concerns are unrelated (team-protocol detection vs. credential
// redaction) but share one small interface since every call site needs
// both checks on the same piece of text.
type Redactor interface {
	IsInternal(text string) bool
	Redact(text string) string
}

func (m *Manager) redact(text string) string {
	if m.redactor == nil {
		return text
	}
	return m.redactor.Redact(text)
}

// SummarizationKind tags what a SummarizationRequest is asking for.
type SummarizationKind string

const (
	SummarizeTurn           SummarizationKind = "turn"
	SummarizeInstruction    SummarizationKind = "instruction"
	SummarizeTaskCompletion SummarizationKind = "task_completion"
)

// SummarizationRequest is a deferred request for the (out-of-scope)
// inference layer to backfill a summary field after the triggering
// transaction commits. Unlike the original, which accumulates these on
// the manager and drains them post-commit, each method returns its own
// requests directly — there is no shared mutable queue to get out of
// sync with what actually committed.
type SummarizationRequest struct {
	Kind        SummarizationKind
	TurnID      int
	TaskID      int
	CommandText string
}

// TurnProcessingResult is the outcome of ProcessTurn.
type TurnProcessingResult struct {
	Success          bool
	Task             *ent.Task
	Transition       statemachine.Result
	Intent           intent.Detection
	NewTaskCreated   bool
	Error            string
	Summarizations   []SummarizationRequest
}

// Manager is the Task Lifecycle Manager.
type Manager struct {
	client   *ent.Client
	notifier Notifier
	redactor Redactor
}

// New constructs a Manager. notifier and redactor may be nil.
func New(client *ent.Client, notifier Notifier, redactor Redactor) *Manager {
	return &Manager{client: client, notifier: notifier, redactor: redactor}
}

// CurrentTask returns the agent's most recent non-complete task, or nil.
func (m *Manager) CurrentTask(ctx context.Context, tx *ent.Tx, agentID string) (*ent.Task, error) {
	client := txOrClient(tx, m.client)
	t, err := client.Task.Query().
		Where(task.AgentID(agentID), task.StateNEQ(task.StateComplete)).
		Order(ent.Desc(task.FieldID)).
		First(ctx)
	if ent.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lifecycle: current task: %w", err)
	}
	return t, nil
}

// CreateTask opens a new task for an agent in the given initial state
// (normally Commanded) and records the opening transition event.
func (m *Manager) CreateTask(ctx context.Context, tx *ent.Tx, agent *ent.Agent, initial statemachine.State) (*ent.Task, error) {
	client := txOrClient(tx, m.client)
	t, err := client.Task.Create().
		SetAgentID(agent.ID).
		SetState(task.State(initial)).
		Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: create task: %w", err)
	}
	slog.Info("lifecycle: task created", "task_id", t.ID, "agent_id", agent.ID, "state", initial)

	if err := m.writeTransitionEvent(ctx, tx, agent, t, statemachine.Idle, initial, "user:command", 1.0); err != nil {
		slog.Error("lifecycle: failed to write task-creation event", "task_id", t.ID, "error", err)
	}
	return t, nil
}

// triggerActorIntent mirrors the original's synthetic actor/intent map
// used to validate update_task_state calls that arrive from hooks rather
// than from ProcessTurn's own intent detection.
var triggerActorIntent = map[string]struct {
	Actor  statemachine.Actor
	Intent statemachine.Intent
}{
	"hook:user_prompt_submit":                  {statemachine.ActorUser, statemachine.IntentCommand},
	"hook:stop:question_detected":              {statemachine.ActorAgent, statemachine.IntentQuestion},
	"hook:stop:deferred_question":              {statemachine.ActorAgent, statemachine.IntentQuestion},
	"hook:pre_tool_use:stale_awaiting_recovery": {statemachine.ActorAgent, statemachine.IntentProgress},
	"hook:post_tool_use:inferred":               {statemachine.ActorAgent, statemachine.IntentProgress},
	"notification":                             {statemachine.ActorAgent, statemachine.IntentQuestion},
	"pre_tool_use":                              {statemachine.ActorAgent, statemachine.IntentQuestion},
	"permission_request":                        {statemachine.ActorAgent, statemachine.IntentQuestion},
	"user:answer":                              {statemachine.ActorUser, statemachine.IntentAnswer},
	"user:command":                             {statemachine.ActorUser, statemachine.IntentCommand},
	"agent:question":                           {statemachine.ActorAgent, statemachine.IntentQuestion},
	"agent:progress":                           {statemachine.ActorAgent, statemachine.IntentProgress},
	"agent:completion":                         {statemachine.ActorAgent, statemachine.IntentCompletion},
	"agent:end_of_task":                        {statemachine.ActorAgent, statemachine.IntentEndOfTask},
	"reconciler:recovered_turn":                {statemachine.ActorAgent, statemachine.IntentQuestion},
}

// UpdateTaskState validates and applies a transition strictly: an
// invalid transition is rejected and nothing is changed. Use
// CompleteTask, not this method, to force a task to Complete from
// external events (session end, reap) that must override the state
// machine.
func (m *Manager) UpdateTaskState(ctx context.Context, taskID int, to statemachine.State, trigger string, confidence float64) error {
	return m.updateTaskState(ctx, nil, taskID, to, trigger, confidence)
}

func (m *Manager) updateTaskState(ctx context.Context, tx *ent.Tx, taskID int, to statemachine.State, trigger string, confidence float64) error {
	client := txOrClient(tx, m.client)
	t, err := client.Task.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("lifecycle: load task %d: %w", taskID, err)
	}
	from := statemachine.State(t.State)

	ai, ok := triggerActorIntent[trigger]
	if !ok {
		ai = struct {
			Actor  statemachine.Actor
			Intent statemachine.Intent
		}{statemachine.ActorAgent, statemachine.IntentProgress}
	}
	switch to {
	case statemachine.AwaitingInput:
		ai.Intent = statemachine.IntentQuestion
	case statemachine.Complete:
		ai.Intent = statemachine.IntentCompletion
	}

	result := statemachine.Validate(from, ai.Actor, ai.Intent)
	if !result.Valid {
		return fmt.Errorf("lifecycle: invalid transition %s -> %s trigger=%s: %s", from, to, trigger, result.Reason)
	}

	updated, err := client.Task.UpdateOne(t).SetState(task.State(to)).Save(ctx)
	if err != nil {
		return fmt.Errorf("lifecycle: persist state: %w", err)
	}
	slog.Debug("lifecycle: task state updated", "task_id", taskID, "from", from, "to", to, "trigger", trigger)

	if to == statemachine.AwaitingInput && m.notifier != nil {
		m.sendAwaitingInputNotification(ctx, client, updated)
	}

	agent, err := client.Agent.Get(ctx, updated.AgentID)
	if err == nil {
		if err := m.writeTransitionEvent(ctx, tx, agent, updated, from, to, trigger, confidence); err != nil {
			slog.Error("lifecycle: failed to write transition event", "task_id", taskID, "error", err)
		}
	}
	return nil
}

func (m *Manager) sendAwaitingInputNotification(ctx context.Context, client *ent.Client, t *ent.Task) {
	agent, err := client.Agent.Get(ctx, t.AgentID)
	if err != nil {
		return
	}
	var projectName string
	if proj, err := client.Project.Get(ctx, agent.ProjectID); err == nil {
		projectName = proj.Name
	}
	instruction := m.instructionForNotification(ctx, client, t, 120)

	var questionText string
	turns, err := client.Turn.Query().Where(turn.TaskID(t.ID)).Order(ent.Asc(turn.FieldTimestamp), ent.Asc(turn.FieldID)).All(ctx)
	if err == nil {
		for i := len(turns) - 1; i >= 0; i-- {
			if turns[i].Actor == turn.ActorAgent && turns[i].Intent == turn.IntentQuestion {
				if turns[i].Summary != nil && *turns[i].Summary != "" {
					questionText = *turns[i].Summary
				} else {
					questionText = turns[i].Text
				}
				break
			}
		}
	}

	if err := m.notifier.NotifyAwaitingInput(ctx, agent.ID, projectName, instruction, questionText); err != nil {
		slog.Warn("lifecycle: awaiting-input notification failed (non-fatal)", "agent_id", agent.ID, "error", err)
	}
}

func (m *Manager) instructionForNotification(ctx context.Context, client *ent.Client, t *ent.Task, maxLen int) string {
	if t.InstructionSummary != nil && *t.InstructionSummary != "" {
		return *t.InstructionSummary
	}
	turns, err := client.Turn.Query().Where(turn.TaskID(t.ID)).Order(ent.Asc(turn.FieldTimestamp), ent.Asc(turn.FieldID)).All(ctx)
	if err != nil {
		return ""
	}
	for _, tn := range turns {
		if tn.Actor == turn.ActorUser && tn.Intent == turn.IntentCommand {
			text := strings.TrimSpace(tn.Text)
			if text == "" {
				continue
			}
			if len(text) > maxLen {
				return text[:maxLen-3] + "..."
			}
			return text
		}
	}
	return ""
}

// CompleteTask force-completes a task. Unlike UpdateTaskState,
// validation here is advisory (logged, not enforced): session-end and
// reaper cleanup must be able to force a task to Complete regardless of
// its current state, since those are external lifecycle events that
// override the state machine rather than participate in it.
func (m *Manager) CompleteTask(ctx context.Context, taskID int, trigger, agentText string, it statemachine.Intent) error {
	return m.completeTask(ctx, nil, taskID, trigger, agentText, it)
}

func (m *Manager) completeTask(ctx context.Context, tx *ent.Tx, taskID int, trigger, agentText string, it statemachine.Intent) error {
	client := txOrClient(tx, m.client)
	t, err := client.Task.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("lifecycle: load task %d: %w", taskID, err)
	}
	from := statemachine.State(t.State)

	if result := statemachine.Validate(from, statemachine.ActorAgent, it); !result.Valid {
		slog.Warn("lifecycle: forcing completion despite transition not in table",
			"task_id", taskID, "from", from, "trigger", trigger, "reason", result.Reason)
	}

	now := time.Now()
	update := client.Task.UpdateOne(t).SetState(task.StateComplete).SetCompletedAt(now)
	if agentText != "" {
		update = update.SetFullOutput(agentText)
	}
	updated, err := update.Save(ctx)
	if err != nil {
		return fmt.Errorf("lifecycle: persist completion: %w", err)
	}

	// A completion turn is only worth creating when there's actual content;
	// empty/whitespace agent text would just add a noisy, empty Turn row.
	if strings.TrimSpace(agentText) != "" {
		internal := false
		if m.redactor != nil {
			internal = m.redactor.IsInternal(agentText)
		}
		if _, err := client.Turn.Create().
			SetTaskID(updated.ID).
			SetActor(turn.ActorAgent).
			SetIntent(turn.Intent(it)).
			SetText(m.redact(agentText)).
			SetContentHash(turnContentHash("agent", agentText)).
			SetIsInternal(internal).
			Save(ctx); err != nil {
			return fmt.Errorf("lifecycle: create completion turn: %w", err)
		}
	}

	slog.Info("lifecycle: task completed", "task_id", updated.ID, "completed_at", now)

	if agent, err := client.Agent.Get(ctx, updated.AgentID); err == nil {
		if err := m.writeTransitionEvent(ctx, tx, agent, updated, from, statemachine.Complete, trigger, 1.0); err != nil {
			slog.Error("lifecycle: failed to write completion event", "task_id", taskID, "error", err)
		}
	}

	return nil
}

// ProcessTurn is the main entry point: detect the turn's intent, decide
// whether it opens/continues/completes a task, validate the transition,
// and persist a Turn row. Must run under the caller's per-agent lock.
func (m *Manager) ProcessTurn(ctx context.Context, agent *ent.Agent, actor statemachine.Actor, text string, fileMetadata map[string]interface{}, isInternal bool) (TurnProcessingResult, error) {
	var out TurnProcessingResult

	err := m.withTx(ctx, func(tx *ent.Tx) error {
		client := tx.Client()

		currentTask, err := m.CurrentTask(ctx, tx, agent.ID)
		if err != nil {
			return err
		}
		currentState := statemachine.Idle
		if currentTask != nil {
			currentState = statemachine.State(currentTask.State)
		}

		detected := intent.Detect(text, actor, currentState)

		if actor == statemachine.ActorUser && detected.Intent == statemachine.IntentCommand {
			handled, err := m.handleUserCommand(ctx, tx, agent, currentTask, currentState, text, fileMetadata, isInternal, detected, &out)
			if err != nil {
				return err
			}
			if handled {
				return nil
			}
		}

		if currentTask == nil {
			out = TurnProcessingResult{Success: false, Intent: detected, Error: "no active task and turn is not a user command"}
			return nil
		}

		transition := statemachine.Validate(currentState, actor, detected.Intent)
		if !transition.Valid {
			out = TurnProcessingResult{Success: false, Task: currentTask, Transition: transition, Intent: detected, Error: transition.Reason}
			return nil
		}

		if transition.To == statemachine.Complete {
			if err := m.completeTask(ctx, tx, currentTask.ID, string(actor)+":"+string(detected.Intent), text, detected.Intent); err != nil {
				return err
			}
			completedTask, err := client.Task.Get(ctx, currentTask.ID)
			if err != nil {
				return err
			}
			out = TurnProcessingResult{Success: true, Task: completedTask, Transition: transition, Intent: detected}
			return nil
		}

		if err := m.updateTaskState(ctx, tx, currentTask.ID, transition.To, string(actor)+":"+string(detected.Intent), detected.Confidence); err != nil {
			return err
		}

		internal := isInternal
		if m.redactor != nil && !internal {
			internal = m.redactor.IsInternal(text)
		}
		turnCreate := client.Turn.Create().
			SetTaskID(currentTask.ID).
			SetActor(turn.Actor(actor)).
			SetIntent(turn.Intent(detected.Intent)).
			SetText(m.redact(text)).
			SetContentHash(turnContentHash(string(actor), text)).
			SetIsInternal(internal)
		if len(fileMetadata) > 0 {
			turnCreate = turnCreate.SetFileMetadata(fileMetadata)
		}
		turnRow, err := turnCreate.Save(ctx)
		if err != nil {
			return fmt.Errorf("lifecycle: create turn: %w", err)
		}

		updatedTask, err := client.Task.Get(ctx, currentTask.ID)
		if err != nil {
			return err
		}
		out = TurnProcessingResult{
			Success:    true,
			Task:       updatedTask,
			Transition: transition,
			Intent:     detected,
			Summarizations: []SummarizationRequest{{Kind: SummarizeTurn, TurnID: turnRow.ID, TaskID: currentTask.ID}},
		}
		return nil
	})

	return out, err
}

// handleUserCommand implements the special-cased USER COMMAND routing:
// a user command opens a new task except when it should instead be
// appended to an already-open one (COMMANDED follow-up, or a PROCESSING
// task with no user turn yet — the race where post_tool_use inferred a
// task before this prompt arrived). Returns handled=true if it fully
// produced `out` and the caller should not fall through to the generic
// transition path.
func (m *Manager) handleUserCommand(ctx context.Context, tx *ent.Tx, agent *ent.Agent, currentTask *ent.Task, currentState statemachine.State, text string, fileMetadata map[string]interface{}, isInternal bool, detected intent.Detection, out *TurnProcessingResult) (bool, error) {
	client := tx.Client()

	switch currentState {
	case statemachine.Idle, statemachine.AwaitingInput, statemachine.Processing, statemachine.Commanded:
	default:
		return false, nil
	}

	if currentState == statemachine.Commanded && currentTask != nil {
		commandText := text
		if currentTask.CommandText != nil && *currentTask.CommandText != "" {
			commandText = *currentTask.CommandText + "\n" + text
		}
		if _, err := client.Task.UpdateOne(currentTask).SetCommandText(commandText).Save(ctx); err != nil {
			return true, fmt.Errorf("lifecycle: append follow-up command: %w", err)
		}
		turnRow, err := m.createTurn(ctx, client, currentTask.ID, statemachine.ActorUser, statemachine.IntentCommand, text, fileMetadata, isInternal)
		if err != nil {
			return true, err
		}
		*out = TurnProcessingResult{
			Success: true, Task: currentTask, Intent: detected, NewTaskCreated: false,
			Summarizations: []SummarizationRequest{
				{Kind: SummarizeTurn, TurnID: turnRow.ID, TaskID: currentTask.ID},
				{Kind: SummarizeInstruction, TaskID: currentTask.ID, CommandText: commandText},
			},
		}
		return true, nil
	}

	if currentTask != nil && currentState == statemachine.Processing {
		n, err := client.Turn.Query().Where(turn.TaskID(currentTask.ID), turn.Actor(turn.ActorUser)).Count(ctx)
		if err != nil {
			return true, fmt.Errorf("lifecycle: count user turns: %w", err)
		}
		if n == 0 {
			if _, err := client.Task.UpdateOne(currentTask).SetCommandText(text).Save(ctx); err != nil {
				return true, fmt.Errorf("lifecycle: attach command to inferred task: %w", err)
			}
			turnRow, err := m.createTurn(ctx, client, currentTask.ID, statemachine.ActorUser, detected.Intent, text, fileMetadata, isInternal)
			if err != nil {
				return true, err
			}
			*out = TurnProcessingResult{
				Success: true, Task: currentTask, Intent: detected, NewTaskCreated: false,
				Summarizations: []SummarizationRequest{
					{Kind: SummarizeTurn, TurnID: turnRow.ID, TaskID: currentTask.ID},
					{Kind: SummarizeInstruction, TaskID: currentTask.ID, CommandText: text},
				},
			}
			return true, nil
		}
	}

	if currentTask != nil && currentTask.State != task.StateComplete {
		if err := m.completeTask(ctx, tx, currentTask.ID, "user:new_command", "", statemachine.IntentCompletion); err != nil {
			return true, err
		}
	}

	newTask, err := m.CreateTask(ctx, tx, agent, statemachine.Commanded)
	if err != nil {
		return true, err
	}
	if text != "" {
		if _, err := client.Task.UpdateOne(newTask).SetCommandText(text).Save(ctx); err != nil {
			return true, fmt.Errorf("lifecycle: set command text: %w", err)
		}
	}
	turnRow, err := m.createTurn(ctx, client, newTask.ID, statemachine.ActorUser, statemachine.IntentCommand, text, fileMetadata, isInternal)
	if err != nil {
		return true, err
	}

	summarizations := []SummarizationRequest{{Kind: SummarizeTurn, TurnID: turnRow.ID, TaskID: newTask.ID}}
	if text != "" {
		summarizations = append(summarizations, SummarizationRequest{Kind: SummarizeInstruction, TaskID: newTask.ID, CommandText: text})
	}

	*out = TurnProcessingResult{Success: true, Task: newTask, Intent: detected, NewTaskCreated: true, Summarizations: summarizations}
	return true, nil
}

func (m *Manager) createTurn(ctx context.Context, client *ent.Client, taskID int, actor statemachine.Actor, it statemachine.Intent, text string, fileMetadata map[string]interface{}, isInternal bool) (*ent.Turn, error) {
	internal := isInternal
	if m.redactor != nil && !internal {
		internal = m.redactor.IsInternal(text)
	}
	turnCreate := client.Turn.Create().
		SetTaskID(taskID).
		SetActor(turn.Actor(actor)).
		SetIntent(turn.Intent(it)).
		SetText(m.redact(text)).
		SetContentHash(turnContentHash(string(actor), text)).
		SetIsInternal(internal)
	if len(fileMetadata) > 0 {
		turnCreate = turnCreate.SetFileMetadata(fileMetadata)
	}
	turnRow, err := turnCreate.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: create turn: %w", err)
	}
	return turnRow, nil
}

func (m *Manager) writeTransitionEvent(ctx context.Context, tx *ent.Tx, agent *ent.Agent, t *ent.Task, from, to statemachine.State, trigger string, confidence float64) error {
	client := txOrClient(tx, m.client)
	fromStr := string(from)
	toStr := string(to)
	_, err := client.Event.Create().
		SetProjectID(agent.ProjectID).
		SetAgentID(agent.ID).
		SetTaskID(t.ID).
		SetTrigger(trigger).
		SetFromState(fromStr).
		SetToState(toStr).
		SetConfidence(confidence).
		SetPayload(map[string]interface{}{
			"from_state": fromStr,
			"to_state":   toStr,
			"trigger":    trigger,
			"confidence": confidence,
		}).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("lifecycle: write event: %w", err)
	}
	return nil
}

func (m *Manager) withTx(ctx context.Context, fn func(tx *ent.Tx) error) error {
	tx, err := m.client.Tx(ctx)
	if err != nil {
		return fmt.Errorf("lifecycle: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

func txOrClient(tx *ent.Tx, client *ent.Client) *ent.Client {
	if tx != nil {
		return tx.Client()
	}
	return client
}
