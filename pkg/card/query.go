package card

import (
	"context"
	"fmt"
	"time"

	"github.com/agentwatch/headspace/ent"
	"github.com/agentwatch/headspace/ent/agent"
	"github.com/agentwatch/headspace/ent/task"
	"github.com/agentwatch/headspace/ent/turn"
	"github.com/agentwatch/headspace/pkg/store"
)

// MaxTranscriptPage bounds GetTranscript's limit parameter, matching the
// dashboard's own page-size ceiling.
const MaxTranscriptPage = 200

// GetCard assembles the dashboard card projection for one agent,
// fetching exactly the rows card.Build needs.
func GetCard(ctx context.Context, client *ent.Client, agentID string, cfg Config) (State, error) {
	a, err := client.Agent.Get(ctx, agentID)
	if err != nil {
		return State{}, fmt.Errorf("card: get agent: %w", err)
	}

	var project *ent.Project
	if proj, err := a.QueryProject().Only(ctx); err == nil {
		project = proj
	} else if !ent.IsNotFound(err) {
		return State{}, fmt.Errorf("card: get project: %w", err)
	}

	tasks, err := client.Task.Query().
		Where(task.AgentID(agentID)).
		Order(ent.Desc(task.FieldID)).
		All(ctx)
	if err != nil {
		return State{}, fmt.Errorf("card: list tasks: %w", err)
	}

	var current, mostRecent *ent.Task
	if len(tasks) > 0 {
		mostRecent = tasks[0]
	}
	for _, t := range tasks {
		if t.State != task.StateComplete {
			current = t
			break
		}
	}

	ts := store.New(client)

	var currentTurns []*ent.Turn
	if current != nil {
		currentTurns, err = ts.TurnsForTask(ctx, client, current.ID)
		if err != nil {
			return State{}, fmt.Errorf("card: list current turns: %w", err)
		}
	}

	lastTurnByTask := make(map[int]*ent.Turn, len(tasks))
	for _, t := range tasks {
		if t.State != task.StateComplete {
			continue
		}
		turns, err := ts.TurnsForTask(ctx, client, t.ID)
		if err != nil {
			return State{}, fmt.Errorf("card: last turn for task %d: %w", t.ID, err)
		}
		if len(turns) > 0 {
			lastTurnByTask[t.ID] = turns[len(turns)-1]
		}
	}

	return BuildState(Build{
		Agent:          a,
		Project:        project,
		CurrentTask:    current,
		MostRecentTask: mostRecent,
		CurrentTurns:   currentTurns,
		AllTasks:       tasks,
		LastTurnByTask: lastTurnByTask,
		Now:            time.Now(),
		Config:         cfg,
	}), nil
}

// ListActiveAgents returns every agent seen within stalenessWindow that
// has not ended, for the dashboard's active-agents roster.
func ListActiveAgents(ctx context.Context, client *ent.Client, stalenessWindow time.Duration) ([]*ent.Agent, error) {
	cutoff := time.Now().Add(-stalenessWindow)
	return client.Agent.Query().
		Where(agent.EndedAtIsNil(), agent.LastSeenAtGTE(cutoff)).
		Order(ent.Desc(agent.FieldLastSeenAt)).
		All(ctx)
}

// GetTranscript returns up to limit turns for agentID, newest first,
// optionally starting strictly before beforeTurnID for cursor pagination.
// limit is clamped to (0, MaxTranscriptPage].
func GetTranscript(ctx context.Context, client *ent.Client, agentID string, beforeTurnID *int, limit int) ([]*ent.Turn, error) {
	if limit <= 0 || limit > MaxTranscriptPage {
		limit = MaxTranscriptPage
	}

	q := client.Turn.Query().Where(turn.HasTaskWith(task.AgentID(agentID)))
	if beforeTurnID != nil {
		q = q.Where(turn.IDLT(*beforeTurnID))
	}
	turns, err := q.Order(ent.Desc(turn.FieldID)).Limit(limit).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("card: get transcript: %w", err)
	}
	return turns, nil
}
