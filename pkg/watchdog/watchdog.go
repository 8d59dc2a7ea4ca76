// Package watchdog is the "we saw output but no one told us" safety net:
// Tier 3 of the three-tier reliability model (hooks, JSONL reconciliation,
// terminal polling), grounded on the original service's tmux_watchdog.py.
//
// It periodically captures each registered agent's terminal pane, detects
// new output via a content hash, and — if that output persists for a
// configurable gap without a matching recent Turn in the database —
// triggers a reconciliation pass under the same per-agent lock the
// reconciler itself uses, so a manual trigger and the watchdog sweep can
// never race on the same agent.
package watchdog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/agentwatch/headspace/ent"
	"github.com/agentwatch/headspace/ent/task"
	"github.com/agentwatch/headspace/ent/turn"
	"github.com/agentwatch/headspace/pkg/broadcaster"
	"github.com/agentwatch/headspace/pkg/lock"
	"github.com/agentwatch/headspace/pkg/transcript"
)

// PaneCapturer abstracts terminal pane capture so the watchdog's polling
// loop can be tested without a real multiplexer.
type PaneCapturer interface {
	CapturePane(ctx context.Context, paneID string, lines int) (string, error)
}

// TmuxCapturer shells out to `tmux capture-pane`, the original service's
// tmux_bridge.capture_pane equivalent.
type TmuxCapturer struct {
	Timeout time.Duration
}

func (c TmuxCapturer) CapturePane(ctx context.Context, paneID string, lines int) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, "tmux", "capture-pane", "-p", "-t", paneID, "-S", "-"+strconv.Itoa(lines))
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Config holds the watchdog's tunables.
type Config struct {
	PollInterval    time.Duration
	GapThreshold    time.Duration
	CaptureLines    int
	TurnMatchWindow time.Duration
}

// DefaultConfig mirrors the original service's defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:    3 * time.Second,
		GapThreshold:    5 * time.Second,
		CaptureLines:    20,
		TurnMatchWindow: 30 * time.Second,
	}
}

type agentState struct {
	paneID        string
	lastHash      string
	gapDetectedAt time.Time
}

// Watchdog polls registered agents' terminal panes on a ticker and
// triggers reconciliation when output appears with no matching turn.
type Watchdog struct {
	cfg         Config
	capturer    PaneCapturer
	client      *ent.Client
	reconciler  *transcript.Reconciler
	lockMgr     *lock.Manager
	broadcaster *broadcaster.Broadcaster

	mu     sync.Mutex
	agents map[string]*agentState

	sf singleflight.Group
}

func New(cfg Config, capturer PaneCapturer, client *ent.Client, reconciler *transcript.Reconciler, lockMgr *lock.Manager, b *broadcaster.Broadcaster) *Watchdog {
	if capturer == nil {
		capturer = TmuxCapturer{}
	}
	return &Watchdog{
		cfg:         cfg,
		capturer:    capturer,
		client:      client,
		reconciler:  reconciler,
		lockMgr:     lockMgr,
		broadcaster: b,
		agents:      make(map[string]*agentState),
	}
}

// RegisterAgent begins monitoring an agent's terminal pane. Passing an
// empty paneID unregisters it, mirroring the original's "no pane means
// nothing to watch" handling.
func (w *Watchdog) RegisterAgent(agentID, paneID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if paneID == "" {
		delete(w.agents, agentID)
		return
	}
	w.agents[agentID] = &agentState{paneID: paneID}
}

// UnregisterAgent stops monitoring an agent and discards its state, so a
// reaped or ended agent doesn't leak an entry forever.
func (w *Watchdog) UnregisterAgent(agentID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.agents, agentID)
}

// Run blocks, polling on cfg.PollInterval until ctx is canceled.
func (w *Watchdog) Run(ctx context.Context) {
	interval := w.cfg.PollInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("watchdog: started", "poll_interval", interval, "gap_threshold", w.cfg.GapThreshold)
	for {
		select {
		case <-ctx.Done():
			slog.Info("watchdog: stopped")
			return
		case <-ticker.C:
			w.checkAll(ctx)
		}
	}
}

func (w *Watchdog) checkAll(ctx context.Context) {
	w.mu.Lock()
	snapshot := make(map[string]string, len(w.agents))
	for id, st := range w.agents {
		snapshot[id] = st.paneID
	}
	w.mu.Unlock()

	for agentID, paneID := range snapshot {
		if err := w.checkAgent(ctx, agentID, paneID); err != nil {
			slog.Debug("watchdog: agent check failed", "agent_id", agentID, "error", err)
		}
	}
}

func (w *Watchdog) checkAgent(ctx context.Context, agentID, paneID string) error {
	content, err := w.capturer.CapturePane(ctx, paneID, w.cfg.CaptureLines)
	if err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		return nil
	}

	sum := sha256.Sum256([]byte(content))
	hash := hex.EncodeToString(sum[:])

	w.mu.Lock()
	st, ok := w.agents[agentID]
	if !ok {
		w.mu.Unlock()
		return nil
	}
	unchanged := st.lastHash == hash
	st.lastHash = hash
	w.mu.Unlock()
	if unchanged {
		return nil
	}

	matched := w.hasRecentMatchingTurn(ctx, agentID, content)

	w.mu.Lock()
	st, ok = w.agents[agentID]
	if !ok {
		w.mu.Unlock()
		return nil
	}
	if matched {
		st.gapDetectedAt = time.Time{}
		w.mu.Unlock()
		return nil
	}

	now := time.Now()
	if st.gapDetectedAt.IsZero() {
		st.gapDetectedAt = now
		w.mu.Unlock()
		return nil // wait for the threshold before triggering
	}
	gap := now.Sub(st.gapDetectedAt)
	w.mu.Unlock()
	if gap < w.cfg.GapThreshold {
		return nil
	}

	w.mu.Lock()
	if st3, ok := w.agents[agentID]; ok {
		st3.gapDetectedAt = time.Time{}
	}
	w.mu.Unlock()

	slog.Info("watchdog: gap detected, triggering reconciliation", "agent_id", agentID, "pane_id", paneID, "gap", gap)
	w.triggerReconciliation(agentID)
	return nil
}

// hasRecentMatchingTurn checks the pane's last few non-empty lines for
// overlap with any agent turn written within TurnMatchWindow. A crude but
// effective overlap heuristic: a long enough line that already appears
// verbatim in a recent turn means hooks/reconciliation already account
// for this output.
func (w *Watchdog) hasRecentMatchingTurn(ctx context.Context, agentID, paneContent string) bool {
	cutoff := time.Now().Add(-w.cfg.TurnMatchWindow)
	turns, err := w.client.Turn.Query().
		Where(turn.HasTaskWith(task.AgentID(agentID)), turn.Actor(turn.ActorAgent), turn.TimestampGTE(cutoff)).
		All(ctx)
	if err != nil || len(turns) == 0 {
		return false
	}

	texts := make([]string, 0, len(turns))
	for _, t := range turns {
		texts = append(texts, t.Text)
	}
	return linesOverlap(paneContent, texts)
}

// linesOverlap checks the pane's last 3 non-empty lines against a set of
// turn texts; a line longer than 20 chars appearing verbatim in a turn
// counts as overlap. Pulled out of hasRecentMatchingTurn as a pure
// function so the matching heuristic is testable without a database.
func linesOverlap(paneContent string, turnTexts []string) bool {
	var lines []string
	for _, l := range strings.Split(strings.TrimSpace(paneContent), "\n") {
		if s := strings.TrimSpace(l); s != "" {
			lines = append(lines, s)
		}
	}
	if len(lines) == 0 {
		return false
	}
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}

	for _, text := range turnTexts {
		if text == "" {
			continue
		}
		for _, line := range lines {
			if len(line) > 20 && strings.Contains(text, line) {
				return true
			}
		}
	}
	return false
}

// triggerReconciliation coalesces concurrent triggers for the same agent
// (a burst of pane changes shouldn't spawn a pile of reconcile attempts)
// via singleflight, then serializes against any other reconciler caller
// (a manual trigger) with the shared advisory lock — non-blocking, so a
// reconciliation already in flight is simply skipped rather than queued.
func (w *Watchdog) triggerReconciliation(agentID string) {
	go func() {
		_, _, _ = w.sf.Do(agentID, func() (interface{}, error) {
			w.reconcile(context.Background(), agentID)
			return nil, nil
		})
	}()
}

func (w *Watchdog) reconcile(ctx context.Context, agentID string) {
	handle, acquired, err := w.lockMgr.TryLock(ctx, agentID)
	if err != nil {
		slog.Debug("watchdog: lock attempt failed", "agent_id", agentID, "error", err)
		return
	}
	if !acquired {
		slog.Debug("watchdog: reconciliation already in progress, skipping", "agent_id", agentID)
		return
	}
	defer handle.Release(ctx)

	agent, err := w.client.Agent.Get(ctx, agentID)
	if err != nil {
		return
	}

	result, err := w.reconciler.ReconcileFullSession(ctx, agent)
	if err != nil {
		slog.Warn("watchdog: reconciliation failed", "agent_id", agentID, "error", err)
		return
	}
	if len(result.Created) == 0 {
		return
	}

	for _, t := range result.Created {
		w.broadcaster.Broadcast(ctx, broadcaster.EventTurnCreated, agent.ProjectID, agent.ID, map[string]any{
			"text":    t.Text,
			"actor":   string(t.Actor),
			"intent":  string(t.Intent),
			"task_id": t.TaskID,
			"turn_id": t.ID,
		})
	}
	slog.Info("watchdog: reconciliation created turns", "agent_id", agentID, "count", len(result.Created))
}
