// Package store is the Timeline Store: the thin layer over the generated
// ent client that the rest of the core depends on for ordered reads and
// transactional writes. It owns no business logic — pkg/lifecycle, pkg/
// reconciler and friends decide what to write; this package decides how.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentwatch/headspace/ent"
	"github.com/agentwatch/headspace/ent/task"
	"github.com/agentwatch/headspace/ent/turn"
)

// Sentinel errors surfaced to callers per the error taxonomy.
var (
	ErrNotFound         = errors.New("store: entity not found")
	ErrConstraintViolated = errors.New("store: constraint violated")
)

// Store wraps the generated ent client.
type Store struct {
	client *ent.Client
}

// New wraps an already-connected ent client (see pkg/database.Client).
func New(client *ent.Client) *Store {
	return &Store{client: client}
}

// WithTx runs fn inside one transaction, committing on success and rolling
// back (and propagating the original error, not the rollback error) on
// failure. Every hook handler's mutation sequence goes through this.
func (s *Store) WithTx(ctx context.Context, fn func(tx *ent.Tx) error) error {
	tx, err := s.client.Tx(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return fmt.Errorf("store: rollback failed: %v (original error: %w)", rerr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// CurrentTask returns the most recent non-complete Task for an agent, or
// nil if the agent is effectively idle.
func (s *Store) CurrentTask(ctx context.Context, client *ent.Client, agentID string) (*ent.Task, error) {
	t, err := client.Task.Query().
		Where(
			task.AgentID(agentID),
			task.StateNEQ(task.StateComplete),
		).
		Order(ent.Desc(task.FieldID)).
		First(ctx)
	if ent.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: current task: %w", err)
	}
	return t, nil
}

// TasksForAgent returns every Task for an agent ordered started-at ascending.
func (s *Store) TasksForAgent(ctx context.Context, client *ent.Client, agentID string) ([]*ent.Task, error) {
	tasks, err := client.Task.Query().
		Where(task.AgentID(agentID)).
		Order(ent.Asc(task.FieldStartedAt)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: tasks for agent: %w", err)
	}
	return tasks, nil
}

// TurnsForTask returns a Task's turns in canonical (timestamp, id) order.
func (s *Store) TurnsForTask(ctx context.Context, client *ent.Client, taskID int) ([]*ent.Turn, error) {
	turns, err := client.Turn.Query().
		Where(turn.TaskID(taskID)).
		Order(ent.Asc(turn.FieldTimestamp), ent.Asc(turn.FieldID)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: turns for task: %w", err)
	}
	return turns, nil
}

// RecentTurnsForTask returns a task's turns with timestamp >= sinceUnixSec,
// used by the reconciler's match window.
func (s *Store) RecentTurnsForTask(ctx context.Context, client *ent.Client, taskID int, since int64) ([]*ent.Turn, error) {
	turns, err := client.Turn.Query().
		Where(
			turn.TaskID(taskID),
			turn.TimestampGTE(unixToTime(since)),
		).
		Order(ent.Asc(turn.FieldTimestamp), ent.Asc(turn.FieldID)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: recent turns for task: %w", err)
	}
	return turns, nil
}

// AllTurnsForAgent is used by full-session reconciliation, which ignores
// the recent-turn time window entirely and dedups against the agent's
// whole history.
func (s *Store) AllTurnsForAgent(ctx context.Context, client *ent.Client, agentID string) ([]*ent.Turn, error) {
	tasks, err := s.TasksForAgent(ctx, client, agentID)
	if err != nil {
		return nil, err
	}
	var all []*ent.Turn
	for _, t := range tasks {
		turns, err := s.TurnsForTask(ctx, client, t.ID)
		if err != nil {
			return nil, err
		}
		all = append(all, turns...)
	}
	return all, nil
}

// Client exposes the underlying ent client for callers (chiefly pkg/
// lifecycle) that need to issue entity-specific mutations ent's fluent API
// doesn't warrant wrapping here.
func (s *Store) Client() *ent.Client { return s.client }
