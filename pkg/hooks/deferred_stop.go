package hooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentwatch/headspace/ent"
	"github.com/agentwatch/headspace/ent/task"
	"github.com/agentwatch/headspace/ent/turn"
	"github.com/agentwatch/headspace/pkg/broadcaster"
	"github.com/agentwatch/headspace/pkg/intent"
	"github.com/agentwatch/headspace/pkg/statemachine"
	"github.com/agentwatch/headspace/pkg/transcript"
)

// PlaceholderAwaitingInput is the text a notification-driven QUESTION turn
// carries before the deferred-stop worker has a chance to replace it with
// the agent's actual question text.
const PlaceholderAwaitingInput = "Claude is waiting for your input"

// deferredStopDelays is the poll schedule for a transcript write that
// hasn't landed on disk yet when the stop hook fires; total budget 5s.
var deferredStopDelays = []time.Duration{
	500 * time.Millisecond,
	1000 * time.Millisecond,
	1500 * time.Millisecond,
	2000 * time.Millisecond,
}

// Stop handles the stop hook (one Claude turn finished). Claude Code can
// fire this before its own transcript write has landed on disk, so the
// actual completion/question decision is deferred to a background
// goroutine that polls for content rather than blocking the hook request.
func (in *Ingestor) Stop(ctx context.Context, agent *ent.Agent, sessionID string) Result {
	return in.locked(ctx, agent.ID, func(ctx context.Context) Result {
		if err := in.touchAgent(ctx, agent); err != nil {
			return fail(err)
		}

		current, err := in.lifecycle.CurrentTask(ctx, nil, agent.ID)
		if err != nil {
			return fail(err)
		}
		if current == nil {
			slog.Debug("hooks: stop with no active task", "agent_id", agent.ID)
			return ok(agent.ID, "", false)
		}

		in.scheduleDeferredStop(agent, current.ID)
		return ok(agent.ID, string(current.State), false)
	})
}

// scheduleDeferredStop spawns the background worker, guarded by the
// per-agent single-flight claim so a rapid run of stop hooks (unlikely
// but possible under hook retries) never stacks more than one worker.
func (in *Ingestor) scheduleDeferredStop(agent *ent.Agent, taskID int) {
	if !in.state.TryClaimDeferredStop(agent.ID) {
		slog.Info("hooks: deferred_stop skipped, already pending", "agent_id", agent.ID)
		return
	}
	go func() {
		defer in.state.ReleaseDeferredStop(agent.ID)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("hooks: deferred_stop panicked", "agent_id", agent.ID, "recover", r)
			}
		}()
		in.runDeferredStop(context.Background(), agent, taskID)
	}()
}

// runDeferredStop polls the transcript on a bounded schedule, re-checking
// under the agent's lock on each attempt so it aborts the instant another
// commit (a fresh stop, a user answer) has already settled the task,
// rather than racing that commit at the end of its own poll window.
func (in *Ingestor) runDeferredStop(ctx context.Context, agent *ent.Agent, taskID int) {
	transcriptPath := ""
	if agent.TranscriptPath != nil {
		transcriptPath = *agent.TranscriptPath
	}

	var agentText string
	polls := 0
	for _, delay := range in.deferredStopSchedule() {
		time.Sleep(delay)
		polls++

		var complete bool
		if err := in.withLock(ctx, agent.ID, func(ctx context.Context) error {
			t, err := in.client.Task.Get(ctx, taskID)
			if err != nil {
				return err
			}
			complete = t.State == task.StateComplete
			return nil
		}); err != nil {
			slog.Warn("hooks: deferred_stop poll check failed", "agent_id", agent.ID, "error", err)
			return
		}
		if complete {
			return // already completed by another hook
		}
		if transcriptPath == "" {
			continue
		}
		res := transcript.ReadLastAgentResponse(transcriptPath, 0)
		if res.Success && res.Text != "" {
			agentText = res.Text
			break
		}
	}
	slog.Info("hooks: deferred_stop transcript retry", "agent_id", agent.ID, "polls", polls, "found", agentText != "")

	if err := in.withLock(ctx, agent.ID, func(ctx context.Context) error {
		return in.finishDeferredStop(ctx, agent, taskID, agentText, transcriptPath)
	}); err != nil {
		slog.Warn("hooks: deferred_stop final mutation failed", "agent_id", agent.ID, "error", err)
	}
}

// finishDeferredStop applies the poll's outcome to the task under the
// caller's lock: force-complete on an empty transcript, or classify the
// recovered text as a question/completion/end-of-task and apply the
// matching transition.
func (in *Ingestor) finishDeferredStop(ctx context.Context, agent *ent.Agent, taskID int, agentText, transcriptPath string) error {
	t, err := in.client.Task.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if t.State == task.StateComplete {
		return nil
	}

	if agentText == "" {
		if err := in.lifecycle.CompleteTask(ctx, taskID, "hook:stop:deferred_empty", "", statemachine.IntentCompletion); err != nil {
			slog.Warn("hooks: deferred_stop empty-completion failed", "agent_id", agent.ID, "error", err)
		}
		in.broadcaster.Broadcast(ctx, broadcaster.EventCardRefresh, agent.ProjectID, agent.ID, map[string]any{"reason": "stop_deferred"})
		slog.Info("hooks: deferred_stop completed with empty transcript", "agent_id", agent.ID)
		return nil
	}

	completionText := in.deferredCompletionText(agent.ID, transcriptPath, agentText)

	detected := intent.Detect(agentText, statemachine.ActorAgent, statemachine.State(t.State))

	switch detected.Intent {
	case statemachine.IntentQuestion:
		in.upsertQuestionTurn(ctx, t, agentText)
		if err := in.lifecycle.UpdateTaskState(ctx, t.ID, statemachine.AwaitingInput, "hook:stop:deferred_question", detected.Confidence); err != nil {
			slog.Warn("hooks: deferred_stop question transition failed", "agent_id", agent.ID, "error", err)
		}
	case statemachine.IntentEndOfTask:
		if err := in.lifecycle.CompleteTask(ctx, t.ID, "hook:stop:deferred_end_of_task", completionText, statemachine.IntentEndOfTask); err != nil {
			slog.Warn("hooks: deferred_stop end-of-task completion failed", "agent_id", agent.ID, "error", err)
		}
	default:
		if err := in.lifecycle.CompleteTask(ctx, t.ID, "hook:stop:deferred", completionText, statemachine.IntentCompletion); err != nil {
			slog.Warn("hooks: deferred_stop completion failed", "agent_id", agent.ID, "error", err)
		}
	}

	in.broadcaster.Broadcast(ctx, broadcaster.EventCardRefresh, agent.ProjectID, agent.ID, map[string]any{"reason": "stop_deferred"})
	in.broadcastFinalTurn(ctx, agent, t.ID)
	slog.Info("hooks: deferred_stop resolved", "agent_id", agent.ID, "task_id", t.ID, "intent", detected.Intent)
	return nil
}

// deferredCompletionText narrows the transcript's full last-response text
// down to just the portion not already captured as PROGRESS turns during
// post_tool_use, so the completion turn doesn't repeat what the dashboard
// already showed. Falls back to the full text when nothing new can be
// isolated (e.g. no transcript offset was ever recorded).
func (in *Ingestor) deferredCompletionText(agentID, transcriptPath, fullText string) string {
	captured := in.state.ConsumeProgressTexts(agentID)
	pos := in.state.TranscriptOffset(agentID)
	in.state.SetTranscriptOffset(agentID, 0)
	if len(captured) == 0 || pos == 0 || transcriptPath == "" {
		return fullText
	}

	entries, _, err := transcript.ReadFromPosition(transcriptPath, pos)
	if err != nil {
		return fullText
	}
	var newTexts []string
	for _, e := range entries {
		if e.Role == "assistant" && e.Content != "" {
			newTexts = append(newTexts, e.Content)
		}
	}
	if len(newTexts) == 0 {
		return fullText
	}
	joined := newTexts[0]
	for _, s := range newTexts[1:] {
		joined += "\n\n" + s
	}
	return joined
}

// upsertQuestionTurn mirrors the original's stale-notification-turn
// upgrade: if an earlier hook already created a placeholder QUESTION turn
// (because a tool or notification told us the agent was blocked before
// its actual text reached disk), overwrite that turn's text in place
// rather than creating a second, duplicate QUESTION turn for the task.
func (in *Ingestor) upsertQuestionTurn(ctx context.Context, t *ent.Task, text string) {
	turns, err := in.client.Turn.Query().
		Where(turn.TaskID(t.ID), turn.Actor(turn.ActorAgent), turn.Intent(turn.IntentQuestion), turn.Text(PlaceholderAwaitingInput)).
		Order(ent.Desc(turn.FieldID)).
		All(ctx)
	if err == nil && len(turns) > 0 {
		if _, err := in.client.Turn.UpdateOne(turns[0]).
			SetText(in.redact(text)).
			SetQuestionPayload(map[string]interface{}{"text": text, "source": "free_text"}).
			Save(ctx); err != nil {
			slog.Warn("hooks: stale question turn upgrade failed", "turn_id", turns[0].ID, "error", err)
		}
		return
	}

	isInternal := false
	if in.redactor != nil {
		isInternal = in.redactor.IsInternal(text)
	}
	if _, err := in.client.Turn.Create().
		SetTaskID(t.ID).
		SetActor(turn.ActorAgent).
		SetIntent(turn.IntentQuestion).
		SetText(in.redact(text)).
		SetContentHash(progressHash(text)).
		SetQuestionPayload(map[string]interface{}{"text": text, "source": "free_text"}).
		SetIsInternal(isInternal).
		Save(ctx); err != nil {
		slog.Warn("hooks: question turn create failed", "task_id", t.ID, "error", err)
	}
}

// broadcastFinalTurn picks the single most relevant agent turn for
// real-time subscribers (the dashboard, a voice bridge): prefer a
// QUESTION/COMPLETION/END_OF_TASK turn, and only fall back to the last
// non-empty PROGRESS turn if none of those exist.
func (in *Ingestor) broadcastFinalTurn(ctx context.Context, agent *ent.Agent, taskID int) {
	turns, err := in.client.Turn.Query().
		Where(turn.TaskID(taskID)).
		Order(ent.Asc(turn.FieldID)).
		All(ctx)
	if err != nil || len(turns) == 0 {
		return
	}

	var chosen *ent.Turn
	for i := len(turns) - 1; i >= 0; i-- {
		tn := turns[i]
		if tn.Actor != turn.ActorAgent {
			continue
		}
		if tn.Intent == turn.IntentQuestion || tn.Intent == turn.IntentCompletion || tn.Intent == turn.IntentEndOfTask {
			chosen = tn
			break
		}
	}
	if chosen == nil {
		for i := len(turns) - 1; i >= 0; i-- {
			tn := turns[i]
			if tn.Actor == turn.ActorAgent && tn.Intent == turn.IntentProgress && tn.Text != "" {
				chosen = tn
				break
			}
		}
	}
	if chosen == nil {
		return
	}

	in.broadcaster.Broadcast(ctx, broadcaster.EventTurnCreated, agent.ProjectID, agent.ID, map[string]any{
		"text":    chosen.Text,
		"actor":   "agent",
		"intent":  string(chosen.Intent),
		"task_id": taskID,
		"turn_id": chosen.ID,
	})
}
