// Package reaper periodically detects and retires agents whose terminal
// process has exited or gone silent, grounded on the original service's
// agent_reaper.py and on the teacher's worker-pool orphan-sweep idiom
// (pkg/queue/orphan.go's ticker-driven scan + transactional mark +
// post-commit broadcast).
//
// Unlike the original's iTerm-AppleScript fallback (no Go-ecosystem
// analog, and this module already covers the definitive tmux-process-tree
// signal), liveness here is tmux-process-tree-or-inactivity only; see
// DESIGN.md for the full rationale.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/agentwatch/headspace/ent"
	"github.com/agentwatch/headspace/ent/agent"
	"github.com/agentwatch/headspace/ent/task"
	"github.com/agentwatch/headspace/pkg/broadcaster"
	"github.com/agentwatch/headspace/pkg/intent"
	"github.com/agentwatch/headspace/pkg/lifecycle"
	"github.com/agentwatch/headspace/pkg/lock"
	"github.com/agentwatch/headspace/pkg/statemachine"
	"github.com/agentwatch/headspace/pkg/transcript"
)

// Config holds the reaper's tunables.
type Config struct {
	Interval           time.Duration
	InactivityTimeout  time.Duration
	GracePeriod        time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:          60 * time.Second,
		InactivityTimeout: 5 * time.Minute,
		GracePeriod:       5 * time.Minute,
	}
}

// Liveness reports whether a pane's process tree still contains a running
// `claude` process. found=false means the check was inconclusive (no pane
// registered, or the probe itself failed) and the reaper should fall back
// to the inactivity timeout.
type Liveness interface {
	IsClaudeRunning(ctx context.Context, paneID string) (alive bool, found bool)
}

// TmuxLiveness walks tmux's pane→pid mapping and the OS process tree, the
// same two-subprocess approach as the original's _is_claude_running_in_pane.
type TmuxLiveness struct{}

func (TmuxLiveness) IsClaudeRunning(ctx context.Context, paneID string) (bool, bool) {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	listOut, err := exec.CommandContext(cctx, "tmux", "list-panes", "-a", "-F", "#{pane_id} #{pane_pid}").Output()
	if err != nil {
		return false, false
	}
	var panePID string
	for _, line := range strings.Split(strings.TrimSpace(string(listOut)), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == paneID {
			panePID = fields[1]
			break
		}
	}
	if panePID == "" {
		return false, false
	}

	psOut, err := exec.CommandContext(cctx, "ps", "-axo", "pid,ppid,comm").Output()
	if err != nil {
		return false, false
	}

	children := make(map[string][][2]string)
	lines := strings.Split(strings.TrimSpace(string(psOut)), "\n")
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		pid, ppid, comm := fields[0], fields[1], strings.Join(fields[2:], " ")
		children[ppid] = append(children[ppid], [2]string{pid, comm})
	}

	for _, child := range children[panePID] {
		if strings.Contains(strings.ToLower(child[1]), "claude") {
			return true, true
		}
		for _, grandchild := range children[child[0]] {
			if strings.Contains(strings.ToLower(grandchild[1]), "claude") {
				return true, true
			}
		}
	}
	return false, true
}

// Detail records one reaped agent.
type Detail struct {
	AgentID string
	Reason  string
}

// Result summarizes one reaper pass.
type Result struct {
	Checked       int
	Reaped        int
	SkippedGrace  int
	SkippedAlive  int
	SkippedLocked int
	Details       []Detail
}

// Reaper sweeps non-ended agents on a ticker, retiring any that are no
// longer alive by tmux-process-tree liveness or by inactivity timeout.
type Reaper struct {
	cfg         Config
	client      *ent.Client
	lifecycle   *lifecycle.Manager
	liveness    Liveness
	broadcaster *broadcaster.Broadcaster
	lockMgr     *lock.Manager
}

// New constructs a Reaper. lockMgr is used non-blockingly (TryLock) per
// agent during a sweep: a bulk pass that found another hook already
// holding an agent's lock skips that agent this round rather than
// blocking the whole sweep on it.
func New(cfg Config, client *ent.Client, lc *lifecycle.Manager, liveness Liveness, b *broadcaster.Broadcaster, lockMgr *lock.Manager) *Reaper {
	if liveness == nil {
		liveness = TmuxLiveness{}
	}
	return &Reaper{cfg: cfg, client: client, lifecycle: lc, liveness: liveness, broadcaster: b, lockMgr: lockMgr}
}

// Run blocks, sweeping on cfg.Interval until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) {
	interval := r.cfg.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("reaper: started", "interval", interval, "inactivity_timeout", r.cfg.InactivityTimeout)
	for {
		select {
		case <-ctx.Done():
			slog.Info("reaper: stopped")
			return
		case <-ticker.C:
			result, err := r.ReapOnce(ctx)
			if err != nil {
				slog.Error("reaper: pass failed", "error", err)
				continue
			}
			if result.Reaped > 0 {
				reasons := make([]string, len(result.Details))
				for i, d := range result.Details {
					reasons[i] = d.Reason
				}
				slog.Info("reaper: pass complete", "checked", result.Checked, "reaped", result.Reaped, "reasons", reasons)
			} else {
				slog.Debug("reaper: pass complete", "checked", result.Checked, "reaped", 0)
			}
		}
	}
}

// ReapOnce runs a single pass. Exported so it can be invoked on demand
// (an admin endpoint, or a test) without waiting for the ticker.
func (r *Reaper) ReapOnce(ctx context.Context) (Result, error) {
	var result Result
	now := time.Now()
	graceCutoff := now.Add(-r.cfg.GracePeriod)
	inactivityCutoff := now.Add(-r.cfg.InactivityTimeout)

	agents, err := r.client.Agent.Query().Where(agent.EndedAtIsNil()).All(ctx)
	if err != nil {
		return result, fmt.Errorf("reaper: query agents: %w", err)
	}

	// Newest agent per pane wins; an older agent still pointing at a pane
	// a newer agent has since claimed is stale, not merely inactive.
	paneOwner := make(map[string]string)
	for _, a := range agents {
		if a.PaneID == nil || *a.PaneID == "" {
			continue
		}
		if owner, ok := paneOwner[*a.PaneID]; !ok || a.ID > owner {
			paneOwner[*a.PaneID] = a.ID
		}
	}

	for _, a := range agents {
		result.Checked++

		if a.StartedAt.After(graceCutoff) {
			result.SkippedGrace++
			continue
		}

		reason := ""
		if a.PaneID != nil && *a.PaneID != "" {
			alive, found := r.liveness.IsClaudeRunning(ctx, *a.PaneID)
			switch {
			case found && alive:
				result.SkippedAlive++
				continue
			case found && !alive:
				reason = "claude_exited"
			case !found:
				if owner, ok := paneOwner[*a.PaneID]; ok && owner != a.ID {
					reason = "stale_pane"
				} else {
					reason = "pane_not_found"
				}
			}
		}

		if reason == "" {
			if a.LastSeenAt.Before(inactivityCutoff) {
				reason = "inactivity_timeout"
			} else {
				result.SkippedAlive++
				continue
			}
		}

		reaped, err := r.tryReapAgent(ctx, a, reason, now)
		if err != nil {
			slog.Warn("reaper: failed to reap agent", "agent_id", a.ID, "reason", reason, "error", err)
			continue
		}
		if !reaped {
			result.SkippedLocked++
			slog.Debug("reaper: agent locked by another hook, deferring to next sweep", "agent_id", a.ID, "reason", reason)
			continue
		}
		result.Reaped++
		result.Details = append(result.Details, Detail{AgentID: a.ID, Reason: reason})
	}

	for _, d := range result.Details {
		r.broadcaster.Broadcast(ctx, broadcaster.EventSessionEnded, "", d.AgentID, map[string]any{
			"reason": "reaper:" + d.Reason,
		})
		r.broadcaster.Broadcast(ctx, broadcaster.EventCardRefresh, "", d.AgentID, map[string]any{
			"reason": "reaper_" + d.Reason,
		})
	}

	return result, nil
}

// tryReapAgent attempts reapAgent under a non-blocking per-agent lock, so
// a busy agent (a hook currently mutating it) is simply deferred to the
// next sweep rather than stalling the whole pass. reaped=false with a
// nil error means the lock was busy, not that reaping failed.
func (r *Reaper) tryReapAgent(ctx context.Context, a *ent.Agent, reason string, now time.Time) (bool, error) {
	if r.lockMgr == nil {
		return true, r.reapAgent(ctx, a, reason, now)
	}

	handle, acquired, err := r.lockMgr.TryLock(ctx, a.ID)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}
	defer handle.Release(ctx)

	if err := r.reapAgent(ctx, a, reason, now); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Reaper) reapAgent(ctx context.Context, a *ent.Agent, reason string, now time.Time) error {
	if _, err := r.client.Agent.UpdateOne(a).SetEndedAt(now).SetLastSeenAt(now).SetEndedReason(reason).Save(ctx); err != nil {
		return fmt.Errorf("mark ended: %w", err)
	}
	slog.Info("reaper: reaped agent", "agent_id", a.ID, "reason", reason)
	r.completeOrphanedTasks(ctx, a)
	return nil
}

// completeOrphanedTasks force-completes every non-terminal task for a
// reaped agent. The most recently created task gets whatever transcript
// text is available (so its completion summary isn't empty); older
// orphaned tasks complete with no text, mirroring the original's
// "only the newest task's completion is worth the transcript read" choice.
func (r *Reaper) completeOrphanedTasks(ctx context.Context, a *ent.Agent) {
	tasks, err := r.client.Task.Query().
		Where(task.AgentID(a.ID), task.StateNotIn(task.StateComplete, task.StateIdle)).
		Order(ent.Desc(task.FieldID)).
		All(ctx)
	if err != nil || len(tasks) == 0 {
		return
	}

	transcriptText := ""
	if a.TranscriptPath != nil && *a.TranscriptPath != "" {
		res := transcript.ReadLastAgentResponse(*a.TranscriptPath, 0)
		if res.Success {
			transcriptText = res.Text
		}
	}

	detectedIntent := statemachine.IntentCompletion
	if transcriptText != "" {
		d := intent.Detect(transcriptText, statemachine.ActorAgent, statemachine.State(tasks[0].State))
		if d.Intent == statemachine.IntentCompletion || d.Intent == statemachine.IntentEndOfTask {
			detectedIntent = d.Intent
		}
	}

	for i, t := range tasks {
		text := ""
		if i == 0 {
			text = transcriptText
		}
		if err := r.lifecycle.CompleteTask(ctx, t.ID, "reaper:orphaned_task", text, detectedIntent); err != nil {
			slog.Warn("reaper: failed to complete orphaned task", "task_id", t.ID, "error", err)
			continue
		}
		slog.Info("reaper: completed orphaned task", "task_id", t.ID, "agent_id", a.ID)
	}
}
