// Package correlator maps externally-issued session identifiers and
// working directories onto Agent rows, grounded on the original service's
// session correlator and on pkg/session's mutex-guarded in-memory map
// idiom.
package correlator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agentwatch/headspace/ent"
	"github.com/agentwatch/headspace/ent/agent"
	"github.com/agentwatch/headspace/ent/project"
	"github.com/google/uuid"
)

const defaultCacheTTL = time.Hour

// Method describes how an Agent was resolved.
type Method string

const (
	MethodCached       Method = "cached"
	MethodByWorkingDir Method = "by-working-directory"
	MethodCreated      Method = "created"
)

// Result is the outcome of Correlate.
type Result struct {
	Agent  *ent.Agent
	IsNew  bool
	Method Method
}

type cacheEntry struct {
	agentID  string
	cachedAt time.Time
}

// Correlator is process-local; a multi-process deployment must either
// share this cache (e.g. via Redis) or tolerate duplicate-creation races,
// which the store's unique-path constraint on Project resolves.
type Correlator struct {
	mu    sync.Mutex
	cache map[string]cacheEntry
	ttl   time.Duration
}

// New constructs a Correlator with the given cache TTL (defaults to 1h).
func New(ttl time.Duration) *Correlator {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Correlator{cache: make(map[string]cacheEntry), ttl: ttl}
}

func (c *Correlator) cleanupLocked() {
	now := time.Now()
	for k, e := range c.cache {
		if now.Sub(e.cachedAt) > c.ttl {
			delete(c.cache, k)
		}
	}
}

// CacheSessionMapping records a session-id -> agent-id mapping directly,
// used when the caller has already resolved the agent by another path.
func (c *Correlator) CacheSessionMapping(sessionID, agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[sessionID] = cacheEntry{agentID: agentID, cachedAt: time.Now()}
}

// ClearSessionCache drops all cached mappings. Tests only.
func (c *Correlator) ClearSessionCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]cacheEntry)
}

func (c *Correlator) cachedAgentID(sessionID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	e, ok := c.cache[sessionID]
	if !ok {
		return "", false
	}
	return e.agentID, true
}

// Correlate resolves (or creates) the Agent for a session id, trying the
// cache, then the most-recently-seen agent for the working directory's
// Project, then finally creating a brand-new Agent (and Project, if the
// directory is novel).
func (c *Correlator) Correlate(ctx context.Context, client *ent.Client, sessionID, workingDirectory string) (Result, error) {
	if sessionID != "" {
		if agentID, ok := c.cachedAgentID(sessionID); ok {
			a, err := client.Agent.Get(ctx, agentID)
			if err == nil {
				return Result{Agent: a, IsNew: false, Method: MethodCached}, nil
			}
			// Cache pointed at a now-missing agent; fall through to re-resolve.
		}
	}

	if workingDirectory != "" {
		proj, err := client.Project.Query().Where(project.Path(workingDirectory)).Only(ctx)
		if err == nil {
			a, err := client.Agent.Query().
				Where(agent.ProjectID(proj.ID)).
				Order(ent.Desc(agent.FieldLastSeenAt)).
				First(ctx)
			if err == nil {
				c.CacheSessionMapping(sessionID, a.ID)
				return Result{Agent: a, IsNew: false, Method: MethodByWorkingDir}, nil
			}
		}
	}

	a, err := c.createAgentForSession(ctx, client, sessionID, workingDirectory)
	if err != nil {
		return Result{}, err
	}
	c.CacheSessionMapping(sessionID, a.ID)
	return Result{Agent: a, IsNew: true, Method: MethodCreated}, nil
}

func (c *Correlator) createAgentForSession(ctx context.Context, client *ent.Client, sessionID, workingDirectory string) (*ent.Agent, error) {
	var proj *ent.Project
	var err error

	if workingDirectory != "" {
		proj, err = client.Project.Query().Where(project.Path(workingDirectory)).Only(ctx)
		if ent.IsNotFound(err) {
			name := filepath.Base(workingDirectory)
			proj, err = client.Project.Create().
				SetID(uuid.NewString()).
				SetPath(workingDirectory).
				SetSlug(slugify(name)).
				SetName(name).
				Save(ctx)
		}
		if err != nil {
			return nil, fmt.Errorf("correlator: resolve project: %w", err)
		}
	} else {
		placeholderName := fmt.Sprintf("unknown-%s", shortID(sessionID))
		proj, err = client.Project.Create().
			SetID(uuid.NewString()).
			SetPath(fmt.Sprintf("unknown:%s", sessionID)).
			SetSlug(slugify(placeholderName)).
			SetName(placeholderName).
			Save(ctx)
		if err != nil {
			return nil, fmt.Errorf("correlator: create placeholder project: %w", err)
		}
	}

	create := client.Agent.Create().
		SetID(uuid.NewString()).
		SetProjectID(proj.ID)
	if sessionID != "" {
		create = create.SetClaudeSessionID(sessionID)
	}
	a, err := create.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("correlator: create agent: %w", err)
	}
	return a, nil
}

func shortID(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

func slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, s)
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return strings.Trim(s, "-")
}
