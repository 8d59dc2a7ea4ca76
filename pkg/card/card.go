// Package card computes the dashboard-facing projection of an Agent's
// current state, grounded on the original service's card_state module.
// It is pure and side-effect free; callers decide when to broadcast the
// resulting State.
package card

import (
	"fmt"
	"strings"
	"time"

	"github.com/agentwatch/headspace/ent"
	"github.com/agentwatch/headspace/ent/task"
	"github.com/agentwatch/headspace/ent/turn"
)

// TimedOut is a display-only state for a stale PROCESSING agent. It is
// never persisted as a task state; it exists only to distinguish "the
// stop hook's transition was probably lost" from a genuine AWAITING_INPUT.
const TimedOut = "TIMED_OUT"

// Config tunes the thresholds used when projecting card state.
type Config struct {
	// StaleProcessingThreshold: how long a task may sit in Processing
	// with no last_seen_at update before the card reports TimedOut.
	StaleProcessingThreshold time.Duration
	// ActiveTimeout: how recently an agent must have been seen to count
	// as "active" on the dashboard.
	ActiveTimeout time.Duration
}

// StateInfo carries the color/label pair the dashboard renders for a
// given effective state.
type StateInfo struct {
	Color   string
	BgClass string
	Label   string
}

// State is the full per-agent projection sent to the dashboard, both for
// the initial render and for card_refresh broadcast payloads.
type State struct {
	AgentID                string
	ProjectID               string
	ProjectName             string
	IsActive                bool
	Uptime                  string
	LastSeen                string
	EffectiveState          string
	StateInfo               StateInfo
	TaskSummary             string
	TaskInstruction         string
	TaskCompletionSummary   string
	PriorityScore           float64
	PriorityReason          string
}

var stateDisplay = map[task.State]StateInfo{
	task.StateIdle:          {Color: "green", BgClass: "bg-green", Label: "Idle - ready for task"},
	task.StateCommanded:     {Color: "yellow", BgClass: "bg-amber", Label: "Command received"},
	task.StateProcessing:    {Color: "blue", BgClass: "bg-blue", Label: "Processing..."},
	task.StateAwaitingInput: {Color: "orange", BgClass: "bg-amber", Label: "Input needed"},
	task.StateComplete:      {Color: "green", BgClass: "bg-green", Label: "Task complete"},
}

func stateInfoFor(effective string) StateInfo {
	if effective == TimedOut {
		return StateInfo{Color: "red", BgClass: "bg-red", Label: "Timed out"}
	}
	if info, ok := stateDisplay[task.State(effective)]; ok {
		return info
	}
	return StateInfo{Color: "gray", BgClass: "bg-muted", Label: "Unknown"}
}

// EffectiveState returns the state to display for the agent's current
// task: the raw task state, unless it's Processing and stale, in which
// case TimedOut is substituted as a safety net against a lost stop-hook
// commit (e.g. a server restart mid-request).
func EffectiveState(currentTask *ent.Task, agent *ent.Agent, cfg Config, now time.Time) string {
	if currentTask == nil {
		return string(task.StateIdle)
	}
	if currentTask.State == task.StateProcessing && agent.EndedAt == nil {
		threshold := cfg.StaleProcessingThreshold
		if threshold <= 0 {
			threshold = 5 * time.Minute
		}
		if now.Sub(agent.LastSeenAt) > threshold {
			return TimedOut
		}
	}
	return string(currentTask.State)
}

// IsActive reports whether the agent should count as "active" for
// dashboard filtering purposes: not ended, and seen within the timeout.
func IsActive(agent *ent.Agent, cfg Config, now time.Time) bool {
	if agent.EndedAt != nil {
		return false
	}
	timeout := cfg.ActiveTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return !agent.LastSeenAt.Before(now.Add(-timeout))
}

// FormatLastSeen renders last_seen_at as a short relative-time string.
func FormatLastSeen(lastSeenAt, now time.Time) string {
	d := now.Sub(lastSeenAt)
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm ago", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm ago", minutes)
	default:
		return "<1m ago"
	}
}

// FormatUptime renders started_at as an "up Xh Ym" string.
func FormatUptime(startedAt, now time.Time) string {
	d := now.Sub(startedAt)
	total := int(d.Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	switch {
	case hours > 0:
		return fmt.Sprintf("up %dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("up %dm", minutes)
	default:
		return "up <1m"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// TaskSummary picks the best available summary text for the agent's
// current (or most recent) task. When AWAITING_INPUT, the agent's last
// QUESTION turn takes priority over anything else so the dashboard shows
// what's being asked, not the user's prior command.
func TaskSummary(currentTask *ent.Task, mostRecentTask *ent.Task, turns []*ent.Turn) string {
	if currentTask == nil {
		if mostRecentTask != nil && mostRecentTask.State == task.StateComplete {
			return completedTaskSummary(mostRecentTask, turns)
		}
		return "No active task"
	}

	if currentTask.State == task.StateAwaitingInput {
		for i := len(turns) - 1; i >= 0; i-- {
			t := turns[i]
			if t.Actor == turn.ActorAgent && t.Intent == turn.IntentQuestion {
				if t.Summary != nil && *t.Summary != "" {
					return *t.Summary
				}
				if t.Text != "" {
					return truncate(t.Text, 100)
				}
				break
			}
		}
	}

	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		if t.Actor == turn.ActorAgent && t.Intent == turn.IntentQuestion {
			continue
		}
		if t.Summary != nil && *t.Summary != "" {
			return *t.Summary
		}
		if t.Text != "" {
			return truncate(t.Text, 100)
		}
	}
	if len(turns) > 0 {
		return ""
	}
	return "No active task"
}

func completedTaskSummary(t *ent.Task, turns []*ent.Turn) string {
	if t.CompletionSummary != nil && *t.CompletionSummary != "" {
		return *t.CompletionSummary
	}
	if len(turns) > 0 {
		last := turns[len(turns)-1]
		if last.Summary != nil && *last.Summary != "" {
			return *last.Summary
		}
		if last.Text != "" {
			return truncate(last.Text, 100)
		}
	}
	return "Summarising..."
}

// TaskInstruction returns the instruction for a task: its AI-generated
// summary if present, else the first USER COMMAND turn's raw text.
func TaskInstruction(t *ent.Task, turns []*ent.Turn) string {
	if t == nil {
		return ""
	}
	if t.InstructionSummary != nil && *t.InstructionSummary != "" {
		return *t.InstructionSummary
	}
	for _, tn := range turns {
		if tn.Actor == turn.ActorUser && tn.Intent == turn.IntentCommand {
			text := strings.TrimSpace(tn.Text)
			if text != "" {
				return truncate(text, 80)
			}
		}
	}
	return ""
}

// TaskCompletionSummary returns the completion summary for the most
// recent COMPLETE task among tasks, or "" if none is complete.
func TaskCompletionSummary(tasks []*ent.Task, turnsByTask map[int]*ent.Turn) string {
	for _, t := range tasks {
		if t.State != task.StateComplete {
			continue
		}
		if t.CompletionSummary != nil && *t.CompletionSummary != "" {
			return *t.CompletionSummary
		}
		if last, ok := turnsByTask[t.ID]; ok && last != nil && last.Summary != nil {
			return *last.Summary
		}
		return ""
	}
	return ""
}

// Build assembles the full State projection from the pieces a caller has
// already fetched from the store (kept free of store/ent-query
// dependencies here so Build itself stays trivially testable).
type Build struct {
	Agent          *ent.Agent
	Project        *ent.Project
	CurrentTask    *ent.Task
	MostRecentTask *ent.Task
	CurrentTurns   []*ent.Turn
	AllTasks       []*ent.Task
	LastTurnByTask map[int]*ent.Turn
	Now            time.Time
	Config         Config
}

func BuildState(b Build) State {
	now := b.Now
	if now.IsZero() {
		now = time.Now()
	}
	effective := EffectiveState(b.CurrentTask, b.Agent, b.Config, now)

	priority := 50.0
	if b.Agent.PriorityScore != nil {
		priority = *b.Agent.PriorityScore
	}
	var priorityReason string
	if b.Agent.PriorityReason != nil {
		priorityReason = *b.Agent.PriorityReason
	}

	var projectName string
	if b.Project != nil {
		projectName = b.Project.Name
	}

	return State{
		AgentID:               b.Agent.ID,
		ProjectID:             b.Agent.ProjectID,
		ProjectName:           projectName,
		IsActive:              IsActive(b.Agent, b.Config, now),
		Uptime:                FormatUptime(b.Agent.StartedAt, now),
		LastSeen:              FormatLastSeen(b.Agent.LastSeenAt, now),
		EffectiveState:        effective,
		StateInfo:             stateInfoFor(effective),
		TaskSummary:           TaskSummary(b.CurrentTask, b.MostRecentTask, b.CurrentTurns),
		TaskInstruction:       TaskInstruction(firstNonNilTask(b.CurrentTask, b.MostRecentTask), b.CurrentTurns),
		TaskCompletionSummary: TaskCompletionSummary(b.AllTasks, b.LastTurnByTask),
		PriorityScore:         priority,
		PriorityReason:        priorityReason,
	}
}

func firstNonNilTask(tasks ...*ent.Task) *ent.Task {
	for _, t := range tasks {
		if t != nil {
			return t
		}
	}
	return nil
}
