// Package hooks translates Claude Code hook events (session_start,
// user_prompt_submit, pre_tool_use, post_tool_use, notification, stop,
// session_end) into lifecycle operations, grounded on the original
// service's hook_receiver.py / hook_lifecycle_bridge.py / hook_helpers.py.
//
// Each handler follows the same shape as the Python bridge: update the
// agent's last-seen timestamp, delegate state-relevant work to
// pkg/lifecycle under the state machine's validation, broadcast the
// outcome, and never let a broadcast or notification failure fail the
// hook request itself.
package hooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/agentwatch/headspace/ent"
	"github.com/agentwatch/headspace/ent/task"
	"github.com/agentwatch/headspace/ent/turn"
	"github.com/agentwatch/headspace/pkg/broadcaster"
	"github.com/agentwatch/headspace/pkg/hookstate"
	"github.com/agentwatch/headspace/pkg/lifecycle"
	"github.com/agentwatch/headspace/pkg/lock"
	"github.com/agentwatch/headspace/pkg/statemachine"
	"github.com/agentwatch/headspace/pkg/transcript"
)

// defaultLockTimeout is used when the host never calls SetLockTimeout,
// matching config.Config's own default so a bare Ingestor built outside
// of cmd/headspace still behaves sanely (e.g. in tests).
const defaultLockTimeout = 15 * time.Second

// defaultStaleAwaitingRecoveryWindow mirrors config.Config's own default.
const defaultStaleAwaitingRecoveryWindow = 60 * time.Second

// ErrLockTimeout is returned (wrapped) when a hook handler could not
// acquire the target agent's per-agent advisory lock before its timeout
// elapsed. The API layer maps this to 503: the caller may retry.
var ErrLockTimeout = errors.New("hooks: timed out acquiring per-agent lock")

// progressHash mirrors pkg/transcript's contentHash so a PROGRESS turn
// created here and the same content later re-read from the transcript by
// the reconciler collide on the same dedup key instead of double-creating.
func progressHash(text string) string {
	normalized := fmt.Sprintf("agent:%s", strings.ToLower(strings.TrimSpace(text)))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}

// MinProgressLen is the shortest assistant transcript fragment worth
// promoting to a PROGRESS turn; shorter fragments are usually partial
// tool-call scaffolding rather than narration worth surfacing.
const MinProgressLen = 10

// QuestionTools are tool names whose use means the agent is blocked on
// the user even though no AskUserQuestion-shaped turn text exists yet.
var QuestionTools = map[string]bool{
	"AskUserQuestion": true,
}

// Result mirrors the original HookEventResult: a hook endpoint's response
// body, independent of any transport.
type Result struct {
	Success      bool
	AgentID      string
	StateChanged bool
	NewState     string
	Error        string

	// LockTimeout is set when Error is non-empty because the per-agent
	// advisory lock could not be acquired in time, so the API layer can
	// distinguish "retry me" (503) from an ordinary failure (500).
	LockTimeout bool
}

func ok(agentID, newState string, changed bool) Result {
	return Result{Success: true, AgentID: agentID, StateChanged: changed, NewState: newState}
}

func fail(err error) Result {
	return Result{Error: err.Error()}
}

func lockFail(err error) Result {
	return Result{Error: fmt.Errorf("hooks: %w", err).Error(), LockTimeout: true}
}

// Ingestor wires together the collaborators every hook handler needs.
type Ingestor struct {
	client      *ent.Client
	lifecycle   *lifecycle.Manager
	state       *hookstate.Store
	broadcaster *broadcaster.Broadcaster
	reconciler  *transcript.Reconciler
	redactor    lifecycle.Redactor
	lockMgr     *lock.Manager

	// questionTools and stopDelays default to the package-level
	// QuestionTools / deferredStopDelays values when nil, but can be
	// overridden from config.Config by the host at startup.
	questionTools map[string]bool
	stopDelays    []time.Duration

	// lockTimeout and staleAwaitingRecoveryWindow fall back to their
	// package defaults when zero, overridden from config.Config by the
	// host at startup via SetLockTimeout / SetStaleAwaitingRecoveryWindow.
	lockTimeout                 time.Duration
	staleAwaitingRecoveryWindow time.Duration

	// terminal delivers IngestUserAnswer's text into the agent's pane.
	// Nil until SetTerminal is called by the host.
	terminal Terminal
}

// New constructs an Ingestor. lockMgr is the per-agent advisory lock
// every handler serializes through — see locked/lockedErr below — and is
// expected to be non-nil in production; a nil lockMgr only makes sense
// in tests that don't care about cross-connection serialization.
func New(client *ent.Client, lc *lifecycle.Manager, state *hookstate.Store, b *broadcaster.Broadcaster, rec *transcript.Reconciler, redactor lifecycle.Redactor, lockMgr *lock.Manager) *Ingestor {
	return &Ingestor{client: client, lifecycle: lc, state: state, broadcaster: b, reconciler: rec, redactor: redactor, lockMgr: lockMgr}
}

// SetQuestionTools overrides the question-asking tool registry, sourced
// from config.Config.QuestionTools at startup instead of the hardcoded
// default.
func (in *Ingestor) SetQuestionTools(tools map[string]bool) {
	in.questionTools = tools
}

// SetDeferredStopDelays overrides the deferred-stop poll schedule,
// sourced from config.Config.DeferredStopDelays at startup.
func (in *Ingestor) SetDeferredStopDelays(delays []time.Duration) {
	in.stopDelays = delays
}

// SetLockTimeout overrides how long a handler waits to acquire the
// per-agent lock before failing with ErrLockTimeout, sourced from
// config.Config.LockTimeout at startup.
func (in *Ingestor) SetLockTimeout(d time.Duration) {
	in.lockTimeout = d
}

// SetStaleAwaitingRecoveryWindow overrides how long a task can sit in
// AWAITING_INPUT with no newer turn before pre_tool_use emits a
// synthetic recovery turn, sourced from
// config.Config.StaleAwaitingRecoveryWindow at startup.
func (in *Ingestor) SetStaleAwaitingRecoveryWindow(d time.Duration) {
	in.staleAwaitingRecoveryWindow = d
}

func (in *Ingestor) effectiveLockTimeout() time.Duration {
	if in.lockTimeout > 0 {
		return in.lockTimeout
	}
	return defaultLockTimeout
}

func (in *Ingestor) staleAwaitingWindow() time.Duration {
	if in.staleAwaitingRecoveryWindow > 0 {
		return in.staleAwaitingRecoveryWindow
	}
	return defaultStaleAwaitingRecoveryWindow
}

// locked runs fn with the agent's per-agent advisory lock held, the
// total ordering point every state-machine mutation in this package
// goes through. A nil lockMgr runs fn unlocked, which only a test
// Ingestor built by hand (bypassing New's production wiring) would have.
func (in *Ingestor) locked(ctx context.Context, agentID string, fn func(ctx context.Context) Result) Result {
	if in.lockMgr == nil {
		return fn(ctx)
	}
	lctx, handle, err := in.lockMgr.Lock(ctx, agentID, in.effectiveLockTimeout())
	if err != nil {
		slog.Warn("hooks: lock acquisition failed", "agent_id", agentID, "error", err)
		return lockFail(err)
	}
	defer handle.Release(ctx)
	return fn(lctx)
}

// lockedErr is locked's sibling for handlers that report failure via a
// returned error rather than Result.Error (IngestUserAnswer).
func (in *Ingestor) lockedErr(ctx context.Context, agentID string, fn func(ctx context.Context) (Result, error)) (Result, error) {
	if in.lockMgr == nil {
		return fn(ctx)
	}
	lctx, handle, err := in.lockMgr.Lock(ctx, agentID, in.effectiveLockTimeout())
	if err != nil {
		slog.Warn("hooks: lock acquisition failed", "agent_id", agentID, "error", err)
		return Result{}, fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}
	defer handle.Release(ctx)
	return fn(lctx)
}

// withLock is locked/lockedErr's sibling for background work (the
// deferred-stop worker) that has no Result to report failure through and
// just wants fn's own error, if any, propagated.
func (in *Ingestor) withLock(ctx context.Context, agentID string, fn func(ctx context.Context) error) error {
	if in.lockMgr == nil {
		return fn(ctx)
	}
	lctx, handle, err := in.lockMgr.Lock(ctx, agentID, in.effectiveLockTimeout())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}
	defer handle.Release(ctx)
	return fn(lctx)
}

func (in *Ingestor) isQuestionTool(name string) bool {
	if in.questionTools != nil {
		return in.questionTools[name]
	}
	return QuestionTools[name]
}

func (in *Ingestor) deferredStopSchedule() []time.Duration {
	if in.stopDelays != nil {
		return in.stopDelays
	}
	return deferredStopDelays
}

// redact strips secret-shaped content before Turn text this package
// creates directly (bypassing pkg/lifecycle's own redaction) is persisted.
func (in *Ingestor) redact(text string) string {
	if in.redactor == nil {
		return text
	}
	return in.redactor.Redact(text)
}

func (in *Ingestor) touchAgent(ctx context.Context, agent *ent.Agent) error {
	_, err := in.client.Agent.UpdateOne(agent).SetLastSeenAt(time.Now()).Save(ctx)
	return err
}

func (in *Ingestor) broadcastStateChanged(ctx context.Context, agent *ent.Agent, eventType, newState, message string) {
	projectName := ""
	if proj, err := agent.Edges.ProjectOrErr(); err == nil && proj != nil {
		projectName = proj.Name
	}
	payload := map[string]any{
		"event_type":   eventType,
		"new_state":    strings.ToUpper(newState),
		"project_name": projectName,
	}
	if message != "" {
		payload["message"] = message
	}
	in.broadcaster.Broadcast(ctx, broadcaster.EventStateChanged, agent.ProjectID, agent.ID, payload)
}

// SessionStart records a freshly-seen agent process. No state change.
func (in *Ingestor) SessionStart(ctx context.Context, agent *ent.Agent, sessionID string) Result {
	return in.locked(ctx, agent.ID, func(ctx context.Context) Result {
		in.state.OnSessionStart(agent.ID)
		if err := in.touchAgent(ctx, agent); err != nil {
			return fail(fmt.Errorf("hooks: session_start: %w", err))
		}
		slog.Info("hooks: session_start", "agent_id", agent.ID, "session_id", sessionID)
		return ok(agent.ID, "", false)
	})
}

// SessionEnd force-completes any active task and discards ephemeral
// per-agent hook state. Mirrors process_session_end's forced completion:
// a session ending is an external lifecycle event that overrides whatever
// state the task machine thinks it's in.
func (in *Ingestor) SessionEnd(ctx context.Context, agent *ent.Agent, sessionID string) Result {
	return in.locked(ctx, agent.ID, func(ctx context.Context) Result {
		now := time.Now()
		if _, err := in.client.Agent.UpdateOne(agent).SetLastSeenAt(now).SetEndedAt(now).Save(ctx); err != nil {
			return fail(fmt.Errorf("hooks: session_end: %w", err))
		}

		current, err := in.lifecycle.CurrentTask(ctx, nil, agent.ID)
		if err != nil {
			return fail(fmt.Errorf("hooks: session_end: %w", err))
		}
		if current != nil {
			if err := in.lifecycle.CompleteTask(ctx, current.ID, "hook:session_end", "", statemachine.IntentEndOfTask); err != nil {
				slog.Warn("hooks: session_end force-complete failed", "agent_id", agent.ID, "error", err)
			}
		}

		in.state.OnSessionEnd(agent.ID)
		in.broadcastStateChanged(ctx, agent, "session_end", string(statemachine.Complete), "")
		in.broadcaster.Broadcast(ctx, broadcaster.EventSessionEnded, agent.ProjectID, agent.ID, map[string]any{
			"session_id": sessionID,
		})
		slog.Info("hooks: session_end", "agent_id", agent.ID, "session_id", sessionID)
		return ok(agent.ID, string(statemachine.Complete), true)
	})
}

// UserPromptSubmit processes a submitted prompt as a USER COMMAND, then
// immediately advances COMMANDED -> PROCESSING since Claude is about to
// start working and no further hook tells us that directly. text is the
// prompt's raw text_from_payload, carried into the new task's
// command_text buffer and the opening USER/COMMAND turn.
func (in *Ingestor) UserPromptSubmit(ctx context.Context, agent *ent.Agent, sessionID, text string) Result {
	return in.locked(ctx, agent.ID, func(ctx context.Context) Result {
		if in.state.ConsumeRespondPending(agent.ID) {
			// This prompt is an echo of an answer we just delivered via the
			// respond endpoint; the turn already exists, skip re-processing.
			if err := in.touchAgent(ctx, agent); err != nil {
				return fail(err)
			}
			return ok(agent.ID, "", false)
		}

		if err := in.touchAgent(ctx, agent); err != nil {
			return fail(fmt.Errorf("hooks: user_prompt_submit: %w", err))
		}

		fileMeta := map[string]interface{}{}
		if meta := in.state.ConsumeFileUploadPending(agent.ID); meta != nil {
			fileMeta["name"] = meta.Name
			fileMeta["path"] = meta.Path
			fileMeta["size"] = meta.Size
		}

		result, err := in.lifecycle.ProcessTurn(ctx, agent, statemachine.ActorUser, text, fileMeta, false)
		if err != nil {
			return fail(fmt.Errorf("hooks: user_prompt_submit: %w", err))
		}
		if !result.Success || result.Task == nil {
			return Result{Success: result.Success, AgentID: agent.ID, Error: result.Error}
		}

		newState := string(result.Task.State)
		if result.Task.State == "commanded" {
			if err := in.lifecycle.UpdateTaskState(ctx, result.Task.ID, statemachine.Processing, "hook:user_prompt_submit", 1.0); err != nil {
				slog.Warn("hooks: user_prompt_submit auto-advance to processing failed", "task_id", result.Task.ID, "error", err)
			} else {
				newState = string(statemachine.Processing)
			}
		}

		in.state.OnNewResponseCycle(agent.ID)
		in.broadcastStateChanged(ctx, agent, "user_prompt_submit", newState, "")
		slog.Info("hooks: user_prompt_submit", "agent_id", agent.ID, "session_id", sessionID, "new_state", newState)
		return ok(agent.ID, newState, true)
	})
}

// PreToolUse records which tool the agent is blocked on when that tool is
// one of the configured question tools (AskUserQuestion and friends); the
// card projector and notification path both read this back. It also
// checks for a task stuck in AWAITING_INPUT with no newer turn for longer
// than staleAwaitingWindow, emitting a synthetic recovery turn before the
// question-tool bookkeeping runs.
func (in *Ingestor) PreToolUse(ctx context.Context, agent *ent.Agent, toolName string) Result {
	return in.locked(ctx, agent.ID, func(ctx context.Context) Result {
		if err := in.touchAgent(ctx, agent); err != nil {
			return fail(err)
		}

		if current, err := in.lifecycle.CurrentTask(ctx, nil, agent.ID); err == nil && current != nil && current.State == task.StateAwaitingInput {
			in.maybeEmitStaleAwaitingRecovery(ctx, agent, current)
		}

		if in.isQuestionTool(toolName) {
			in.state.SetAwaitingTool(agent.ID, toolName)
		}
		return ok(agent.ID, "", false)
	})
}

// maybeEmitStaleAwaitingRecovery fires when t has sat in AWAITING_INPUT
// with no turn newer than staleAwaitingWindow: the user's answer (or the
// agent's own question) may never have landed, so a synthetic PROGRESS
// turn surfaces the stall on the dashboard and re-affirms the state
// transition in the audit trail via the
// hook:pre_tool_use:stale_awaiting_recovery trigger.
func (in *Ingestor) maybeEmitStaleAwaitingRecovery(ctx context.Context, agent *ent.Agent, t *ent.Task) {
	last, err := in.client.Turn.Query().
		Where(turn.TaskID(t.ID)).
		Order(ent.Desc(turn.FieldTimestamp), ent.Desc(turn.FieldID)).
		First(ctx)
	if err != nil || time.Since(last.Timestamp) < in.staleAwaitingWindow() {
		return
	}

	const text = "Stale AWAITING_INPUT state detected; recovering."
	isInternal := false
	if in.redactor != nil {
		isInternal = in.redactor.IsInternal(text)
	}
	created, err := in.client.Turn.Create().
		SetTaskID(t.ID).
		SetActor(turn.ActorAgent).
		SetIntent(turn.IntentProgress).
		SetText(text).
		SetContentHash(progressHash(fmt.Sprintf("%s:%d", text, last.ID))).
		SetIsInternal(isInternal).
		Save(ctx)
	if err != nil {
		slog.Warn("hooks: stale_awaiting_recovery turn create failed", "agent_id", agent.ID, "task_id", t.ID, "error", err)
		return
	}

	if err := in.lifecycle.UpdateTaskState(ctx, t.ID, statemachine.AwaitingInput, "hook:pre_tool_use:stale_awaiting_recovery", 1.0); err != nil {
		slog.Warn("hooks: stale_awaiting_recovery audit event failed", "agent_id", agent.ID, "task_id", t.ID, "error", err)
	}

	in.broadcaster.Broadcast(ctx, broadcaster.EventTurnCreated, agent.ProjectID, agent.ID, map[string]any{
		"text":    text,
		"actor":   "agent",
		"intent":  "progress",
		"task_id": t.ID,
		"turn_id": created.ID,
	})
	slog.Info("hooks: stale_awaiting_recovery", "agent_id", agent.ID, "task_id", t.ID, "idle_for", time.Since(last.Timestamp))
}

// PostToolUse captures any new assistant transcript text written since
// the last call as PROGRESS turns, giving the dashboard live visibility
// into what the agent is doing between tool calls. Grounded on
// capture_progress_text: the first call for a freshly-seen offset just
// records a baseline rather than flooding turns with transcript history.
func (in *Ingestor) PostToolUse(ctx context.Context, agent *ent.Agent) Result {
	return in.locked(ctx, agent.ID, func(ctx context.Context) Result {
		if err := in.touchAgent(ctx, agent); err != nil {
			return fail(err)
		}
		if agent.TranscriptPath == nil || *agent.TranscriptPath == "" {
			return ok(agent.ID, "", false)
		}

		current, err := in.lifecycle.CurrentTask(ctx, nil, agent.ID)
		if err != nil || current == nil || current.State != "processing" {
			return ok(agent.ID, "", false)
		}

		pos := in.state.TranscriptOffset(agent.ID)
		if pos == 0 {
			if fi, statErr := os.Stat(*agent.TranscriptPath); statErr == nil {
				in.state.SetTranscriptOffset(agent.ID, fi.Size())
			}
			return ok(agent.ID, "", false)
		}

		entries, newPos, err := transcript.ReadFromPosition(*agent.TranscriptPath, pos)
		if err != nil {
			slog.Debug("hooks: progress capture read failed", "agent_id", agent.ID, "error", err)
			return ok(agent.ID, "", false)
		}
		if newPos == pos {
			return ok(agent.ID, "", false)
		}
		in.state.SetTranscriptOffset(agent.ID, newPos)

		created := 0
		for _, e := range entries {
			text := strings.TrimSpace(e.Content)
			if e.Role != "assistant" || len(text) < MinProgressLen {
				continue
			}
			in.state.AppendProgressText(agent.ID, text)

			isInternal := false
			if in.redactor != nil {
				isInternal = in.redactor.IsInternal(text)
			}
			t, err := in.client.Turn.Create().
				SetTaskID(current.ID).
				SetActor(turn.ActorAgent).
				SetIntent(turn.IntentProgress).
				SetText(in.redact(text)).
				SetContentHash(progressHash(text)).
				SetIsInternal(isInternal).
				Save(ctx)
			if err != nil {
				slog.Warn("hooks: progress turn create failed", "agent_id", agent.ID, "error", err)
				continue
			}
			created++
			in.broadcaster.Broadcast(ctx, broadcaster.EventTurnCreated, agent.ProjectID, agent.ID, map[string]any{
				"text":    text,
				"actor":   "agent",
				"intent":  "progress",
				"task_id": current.ID,
				"turn_id": t.ID,
			})
		}
		if created > 0 {
			slog.Info("hooks: progress_capture", "agent_id", agent.ID, "task_id", current.ID, "new_turns", created)
		}
		return ok(agent.ID, "", false)
	})
}

// Notification updates the agent's timestamp only; no state change. The
// original service uses this hook purely as a liveness signal.
func (in *Ingestor) Notification(ctx context.Context, agent *ent.Agent, sessionID string) Result {
	return in.locked(ctx, agent.ID, func(ctx context.Context) Result {
		if err := in.touchAgent(ctx, agent); err != nil {
			return fail(fmt.Errorf("hooks: notification: %w", err))
		}
		return ok(agent.ID, "", false)
	})
}

// PermissionRequest fires when a tool call is blocked pending the user's
// approval; this is state-relevant on its own (it means the agent is
// blocked) even though no transcript text has necessarily been written
// yet, so it carries a placeholder QUESTION turn the deferred-stop worker
// or a later notification hook can upgrade in place.
func (in *Ingestor) PermissionRequest(ctx context.Context, agent *ent.Agent, toolName string) Result {
	return in.locked(ctx, agent.ID, func(ctx context.Context) Result {
		if err := in.touchAgent(ctx, agent); err != nil {
			return fail(err)
		}

		current, err := in.lifecycle.CurrentTask(ctx, nil, agent.ID)
		if err != nil {
			return fail(err)
		}
		if current == nil {
			return ok(agent.ID, "", false)
		}

		in.upsertQuestionTurn(ctx, current, PlaceholderAwaitingInput)
		if err := in.lifecycle.UpdateTaskState(ctx, current.ID, statemachine.AwaitingInput, "permission_request", 1.0); err != nil {
			slog.Warn("hooks: permission_request transition failed", "agent_id", agent.ID, "tool", toolName, "error", err)
			return ok(agent.ID, string(current.State), false)
		}

		in.broadcastStateChanged(ctx, agent, "permission_request", string(statemachine.AwaitingInput), "")
		return ok(agent.ID, string(statemachine.AwaitingInput), true)
	})
}
