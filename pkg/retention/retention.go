// Package retention enforces the two data-retention policies named in
// config.RetentionConfig, grounded on the teacher's pkg/cleanup service:
// the same Start/Stop/ticker shape, adapted from soft-deleting LLM
// sessions to hard-deleting ended Agents (which cascades to their Tasks
// and Turns) and pruning the Event audit trail past its TTL.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentwatch/headspace/ent"
	"github.com/agentwatch/headspace/ent/agent"
	"github.com/agentwatch/headspace/ent/event"
)

// Config mirrors config.RetentionConfig's fields so this package has no
// import-time dependency on pkg/config.
type Config struct {
	SessionRetentionDays int
	EventTTL             time.Duration
	CleanupInterval      time.Duration
}

// Service periodically sweeps rows past their retention window. All
// operations are idempotent and safe to run from multiple processes: a
// delete-where-older-than query has no effect once nothing matches.
type Service struct {
	cfg    Config
	client *ent.Client

	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, client *ent.Client) *Service {
	return &Service{cfg: cfg, client: client}
}

// Start launches the background sweep loop. A second call is a no-op.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
	slog.Info("retention: started",
		"session_retention_days", s.cfg.SessionRetentionDays,
		"event_ttl", s.cfg.EventTTL,
		"interval", s.cfg.CleanupInterval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("retention: stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	interval := s.cfg.CleanupInterval
	if interval <= 0 {
		interval = 12 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.deleteOldEndedAgents(ctx)
	s.deleteExpiredEvents(ctx)
}

func (s *Service) deleteOldEndedAgents(ctx context.Context) {
	if s.cfg.SessionRetentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -s.cfg.SessionRetentionDays)
	n, err := s.client.Agent.Delete().
		Where(agent.EndedAtNotNil(), agent.EndedAtLT(cutoff)).
		Exec(ctx)
	if err != nil {
		slog.Error("retention: delete old ended agents failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("retention: deleted old ended agents", "count", n)
	}
}

func (s *Service) deleteExpiredEvents(ctx context.Context) {
	if s.cfg.EventTTL <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.cfg.EventTTL)
	n, err := s.client.Event.Delete().
		Where(event.CreatedAtLT(cutoff)).
		Exec(ctx)
	if err != nil {
		slog.Error("retention: delete expired events failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("retention: deleted expired events", "count", n)
	}
}
