package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentwatch/headspace/ent"
	"github.com/agentwatch/headspace/pkg/hookstate"
	"github.com/agentwatch/headspace/pkg/statemachine"
)

// ErrNotAwaitingInput is returned when a respond request targets an agent
// whose current task is not blocked on the user, mirroring the original
// service's rejection of a voice/dashboard answer that arrived too late
// or too early.
var ErrNotAwaitingInput = errors.New("hooks: agent is not awaiting input")

// ErrNoPane is returned when the agent has no terminal pane recorded to
// deliver the answer into.
var ErrNoPane = errors.New("hooks: agent has no terminal pane")

// Terminal abstracts the pane the answer text is delivered into,
// satisfied by pkg/terminal.Tmux in production and a fake in tests.
type Terminal interface {
	SendText(ctx context.Context, paneID, text string, timeout time.Duration) (bool, error)
}

// SendTimeout bounds how long a respond request waits for the terminal
// to accept the keystrokes before giving up.
const SendTimeout = 5 * time.Second

// SetTerminal wires the concrete pane-delivery collaborator; nil (the
// zero value) makes IngestUserAnswer always fail with ErrNoPane, so a
// host that never calls this gets a clear error instead of a silent
// no-op.
func (in *Ingestor) SetTerminal(t Terminal) {
	in.terminal = t
}

// IngestUserAnswer delivers a user's answer to an agent parked in
// AWAITING_INPUT, grounded on the original service's respond endpoint
// (hook_agent_state's respond_inflight/respond_pending two-phase flag
// dance): the flag is set before the terminal send so a crash mid-send
// is still visible as "in flight" rather than silently lost, and the
// pending flag is set only after the task-machine transition actually
// commits, so user_prompt_submit's echo-of-this-answer can be recognized
// and skipped rather than double-processed.
func (in *Ingestor) IngestUserAnswer(ctx context.Context, agent *ent.Agent, text string, fileMeta *hookstate.FileMetadata) (Result, error) {
	return in.lockedErr(ctx, agent.ID, func(ctx context.Context) (Result, error) {
		current, err := in.lifecycle.CurrentTask(ctx, nil, agent.ID)
		if err != nil {
			return Result{}, fmt.Errorf("hooks: respond: %w", err)
		}
		if current == nil || current.State != "awaiting_input" {
			return Result{}, ErrNotAwaitingInput
		}
		if agent.PaneID == nil || *agent.PaneID == "" {
			return Result{}, ErrNoPane
		}
		if in.terminal == nil {
			return Result{}, ErrNoPane
		}

		in.state.MarkRespondInflight(agent.ID)

		sent, err := in.terminal.SendText(ctx, *agent.PaneID, text, SendTimeout)
		if err != nil || !sent {
			slog.Warn("hooks: respond: send failed", "agent_id", agent.ID, "pane_id", *agent.PaneID, "error", err)
			if err == nil {
				err = errors.New("hooks: respond: terminal did not accept the answer")
			}
			return Result{}, fmt.Errorf("hooks: respond: %w", err)
		}

		var meta map[string]interface{}
		if fileMeta != nil {
			meta = map[string]interface{}{"name": fileMeta.Name, "path": fileMeta.Path, "size": fileMeta.Size}
		}

		result, err := in.lifecycle.ProcessTurn(ctx, agent, statemachine.ActorUser, text, meta, false)
		if err != nil {
			return Result{}, fmt.Errorf("hooks: respond: %w", err)
		}
		if !result.Success || result.Task == nil {
			return Result{Success: result.Success, AgentID: agent.ID, Error: result.Error}, nil
		}

		in.state.MarkRespondPending(agent.ID)
		in.state.OnNewResponseCycle(agent.ID)

		newState := string(result.Task.State)
		in.broadcastStateChanged(ctx, agent, "respond", newState, "")
		slog.Info("hooks: respond", "agent_id", agent.ID, "new_state", newState)
		return ok(agent.ID, newState, true), nil
	})
}
