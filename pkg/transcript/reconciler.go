package transcript

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/agentwatch/headspace/ent"
	"github.com/agentwatch/headspace/ent/task"
	"github.com/agentwatch/headspace/ent/turn"
	"github.com/agentwatch/headspace/pkg/intent"
	"github.com/agentwatch/headspace/pkg/statemachine"
)

// MatchWindow bounds how far back reconciliation searches for a
// hook-created turn to match a JSONL entry against; generous enough to
// catch delayed JSONL flushes without matching stale turns.
const MatchWindow = 120 * time.Second

// LifecycleUpdater is the subset of the Task Lifecycle Manager that the
// reconciler needs to feed a recovered turn's state-relevant intent back
// into the task state machine. Defined here (not imported from
// pkg/lifecycle) to keep this package free of a dependency on it.
type LifecycleUpdater interface {
	UpdateTaskState(ctx context.Context, taskID int, to statemachine.State, trigger string, confidence float64) error
	CompleteTask(ctx context.Context, taskID int, trigger, agentText string, intent statemachine.Intent) error
}

// Redactor classifies whether turn text is internal sub-agent chatter
// that should be hidden from transcripts by default, and strips
// secret-shaped content before a recovered turn's text is persisted.
type Redactor interface {
	IsInternal(text string) bool
	Redact(text string) string
}

// Result reports what reconciliation changed.
type Result struct {
	Updated []UpdatedTurn
	Created []*ent.Turn
}

// UpdatedTurn records a timestamp correction applied to an existing turn.
type UpdatedTurn struct {
	TurnID       int
	OldTimestamp time.Time
	NewTimestamp time.Time
}

// Reconciler serializes reconciliation per agent (a manual trigger and
// the watchdog's periodic sweep can otherwise race on the same agent).
type Reconciler struct {
	client    *ent.Client
	lifecycle LifecycleUpdater
	redactor  Redactor

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs a Reconciler. lifecycle and redactor may be nil, in
// which case recovered-turn lifecycle feedback and internal-content
// flagging are both skipped.
func New(client *ent.Client, lifecycle LifecycleUpdater, redactor Redactor) *Reconciler {
	return &Reconciler{client: client, lifecycle: lifecycle, redactor: redactor, locks: make(map[string]*sync.Mutex)}
}

func (r *Reconciler) agentLock(agentID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[agentID] = l
	}
	return l
}

// ReconcileEntries reconciles JSONL entries against a task's recent
// turns: matching entries correct their turn's timestamp, unmatched
// entries become newly created turns with detected intent.
func (r *Reconciler) ReconcileEntries(ctx context.Context, agent *ent.Agent, tk *ent.Task, entries []Entry) (Result, error) {
	lock := r.agentLock(agent.ID)
	lock.Lock()
	defer lock.Unlock()

	var result Result
	if len(entries) == 0 {
		return result, nil
	}

	cutoff := time.Now().Add(-MatchWindow)
	recentTurns, err := r.client.Turn.Query().
		Where(turn.TaskID(tk.ID), turn.TimestampGTE(cutoff)).
		Order(ent.Asc(turn.FieldTimestamp)).
		All(ctx)
	if err != nil {
		return result, fmt.Errorf("transcript: query recent turns: %w", err)
	}

	index := make(map[string]*ent.Turn, len(recentTurns)*2)
	for _, t := range recentTurns {
		newKey := contentHash(string(t.Actor), t.Text)
		oldKey := legacyContentHash(string(t.Actor), t.Text)
		if _, ok := index[newKey]; !ok {
			index[newKey] = t
		}
		if _, ok := index[oldKey]; !ok {
			index[oldKey] = t
		}
	}

	for _, e := range entries {
		content := strings.TrimSpace(e.Content)
		if content == "" {
			continue
		}
		actor := "agent"
		if e.Role == "user" {
			actor = "user"
		}
		newKey := contentHash(actor, content)
		legacyKey := legacyContentHash(actor, content)

		matched := index[newKey]
		if matched == nil {
			matched = index[legacyKey]
		}

		switch {
		case matched != nil && !e.Timestamp.IsZero():
			delete(index, newKey)
			delete(index, legacyKey)
			if !matched.Timestamp.Equal(e.Timestamp) {
				old := matched.Timestamp
				updated, err := r.client.Turn.UpdateOne(matched).
					SetTimestamp(e.Timestamp).
					SetTimestampSource(turn.TimestampSourceJsonl).
					Save(ctx)
				if err != nil {
					return result, fmt.Errorf("transcript: update turn %d timestamp: %w", matched.ID, err)
				}
				result.Updated = append(result.Updated, UpdatedTurn{TurnID: updated.ID, OldTimestamp: old, NewTimestamp: e.Timestamp})
			}
		case matched != nil:
			delete(index, newKey)
			delete(index, legacyKey)
		default:
			created, detected, err := r.createRecoveredTurn(ctx, tk, actor, content, e.Timestamp)
			if err != nil {
				return result, err
			}
			result.Created = append(result.Created, created)
			r.applyRecoveredLifecycle(ctx, agent, tk, created, detected)
		}
	}

	return result, nil
}

// ReconcileFullSession reads the agent's entire transcript from the
// start and creates turns for any entries no existing turn's content
// hash (new or legacy) already accounts for. Intended to run once at
// agent end, as a last-resort net for entries hooks never captured.
func (r *Reconciler) ReconcileFullSession(ctx context.Context, agent *ent.Agent) (Result, error) {
	lock := r.agentLock(agent.ID)
	lock.Lock()
	defer lock.Unlock()

	var result Result
	if agent.TranscriptPath == nil || *agent.TranscriptPath == "" {
		return result, nil
	}

	entries, err := ReadAll(*agent.TranscriptPath)
	if err != nil || len(entries) == 0 {
		return result, err
	}

	tasks, err := r.client.Task.Query().Where(task.AgentID(agent.ID)).All(ctx)
	if err != nil {
		return result, fmt.Errorf("transcript: query tasks: %w", err)
	}
	if len(tasks) == 0 {
		return result, nil
	}

	taskIDs := make([]int, len(tasks))
	for i, t := range tasks {
		taskIDs[i] = t.ID
	}
	existingTurns, err := r.client.Turn.Query().Where(turn.TaskIDIn(taskIDs...)).All(ctx)
	if err != nil {
		return result, fmt.Errorf("transcript: query existing turns: %w", err)
	}

	seen := make(map[string]struct{}, len(existingTurns)*2)
	for _, t := range existingTurns {
		seen[contentHash(string(t.Actor), t.Text)] = struct{}{}
		seen[legacyContentHash(string(t.Actor), t.Text)] = struct{}{}
	}

	latest := tasks[0]
	for _, t := range tasks {
		if t.ID > latest.ID {
			latest = t
		}
	}

	for _, e := range entries {
		content := strings.TrimSpace(e.Content)
		if content == "" {
			continue
		}
		actor := "agent"
		if e.Role == "user" {
			actor = "user"
		}
		newKey := contentHash(actor, content)
		legacyKey := legacyContentHash(actor, content)
		if _, ok := seen[newKey]; ok {
			continue
		}
		if _, ok := seen[legacyKey]; ok {
			continue
		}
		seen[newKey] = struct{}{}
		seen[legacyKey] = struct{}{}

		created, detected, err := r.createRecoveredTurn(ctx, latest, actor, content, e.Timestamp)
		if err != nil {
			return result, err
		}
		result.Created = append(result.Created, created)
		r.applyRecoveredLifecycle(ctx, agent, latest, created, detected)
	}

	return result, nil
}

func (r *Reconciler) createRecoveredTurn(ctx context.Context, tk *ent.Task, actor, text string, ts time.Time) (*ent.Turn, intent.Detection, error) {
	var detected intent.Detection
	if actor == "user" {
		detected = intent.Detect(text, statemachine.ActorUser, statemachine.State(tk.State))
	} else {
		detected = intent.Detect(text, statemachine.ActorAgent, statemachine.State(tk.State))
	}

	turnActor := turn.ActorAgent
	if actor == "user" {
		turnActor = turn.ActorUser
	}

	timestamp := ts
	source := turn.TimestampSourceJsonl
	if timestamp.IsZero() {
		timestamp = time.Now()
		source = turn.TimestampSourceServer
	}

	internal := false
	redacted := text
	if r.redactor != nil {
		internal = r.redactor.IsInternal(text)
		redacted = r.redactor.Redact(text)
	}

	created, err := r.client.Turn.Create().
		SetTaskID(tk.ID).
		SetActor(turnActor).
		SetIntent(turn.Intent(detected.Intent)).
		SetText(redacted).
		SetTimestamp(timestamp).
		SetTimestampSource(source).
		SetContentHash(contentHash(actor, text)).
		SetIsInternal(internal).
		Save(ctx)
	if err != nil {
		return nil, detected, fmt.Errorf("transcript: create recovered turn: %w", err)
	}
	slog.Info("transcript: recovered turn from jsonl with no matching hook turn",
		"turn_id", created.ID, "task_id", tk.ID, "intent", detected.Intent)
	return created, detected, nil
}

// applyRecoveredLifecycle feeds a recovered turn's state-relevant intent
// into the lifecycle manager. Only QUESTION, COMPLETION and END_OF_TASK
// change state; PROGRESS is informational. The turn is already
// committed, so a failed transition here never loses it.
func (r *Reconciler) applyRecoveredLifecycle(ctx context.Context, agent *ent.Agent, tk *ent.Task, t *ent.Turn, detected intent.Detection) {
	if r.lifecycle == nil {
		return
	}
	switch detected.Intent {
	case statemachine.IntentQuestion:
		if err := r.lifecycle.UpdateTaskState(ctx, tk.ID, statemachine.AwaitingInput, "reconciler:recovered_turn", detected.Confidence); err != nil {
			slog.Warn("transcript: recovered turn state transition failed, turn preserved", "turn_id", t.ID, "error", err)
		}
	case statemachine.IntentCompletion, statemachine.IntentEndOfTask:
		if err := r.lifecycle.CompleteTask(ctx, tk.ID, "reconciler:recovered_turn", t.Text, detected.Intent); err != nil {
			slog.Warn("transcript: recovered turn completion failed, turn preserved", "turn_id", t.ID, "error", err)
		}
	}
}

// contentHash hashes actor+normalized full text to 16 hex chars.
func contentHash(actor, text string) string {
	normalized := fmt.Sprintf("%s:%s", actor, strings.ToLower(strings.TrimSpace(text)))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}

// legacyContentHash reproduces the pre-migration hash, computed over
// text truncated to 200 chars, kept indefinitely so old rows still
// dedup correctly.
func legacyContentHash(actor, text string) string {
	truncated := text
	if len(truncated) > 200 {
		truncated = truncated[:200]
	}
	normalized := fmt.Sprintf("%s:%s", actor, strings.ToLower(strings.TrimSpace(truncated)))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}
