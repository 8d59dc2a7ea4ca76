// Package slack is a concrete, optional implementation of
// pkg/lifecycle.Notifier — notification delivery is explicitly an
// out-of-scope external collaborator (only its contract is specified),
// but the teacher's existing Slack integration is retained and adapted
// here to demonstrate one working backend for it.
package slack

import (
	"context"
	"log/slog"
	"time"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// Service posts agent-awaiting-input notifications to a Slack channel.
// Nil-safe: all methods are no-ops when service is nil, so wiring it up
// is always optional — a nil *Service still satisfies lifecycle.Notifier.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger
}

// NewService creates a new Slack notification service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:       NewClient(cfg.Token, cfg.Channel),
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NotifyAwaitingInput implements pkg/lifecycle.Notifier: posts a message
// when an agent's task transitions into AwaitingInput. Fail-open —
// errors are logged, never returned, since a failed notification must
// never roll back the state transition that already committed.
func (s *Service) NotifyAwaitingInput(ctx context.Context, agentID, projectName, instruction, questionText string) error {
	if s == nil {
		return nil
	}

	blocks := BuildAwaitingInputMessage(agentID, projectName, instruction, questionText, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, "", 5*time.Second); err != nil {
		s.logger.Error("slack: failed to send awaiting-input notification",
			"agent_id", agentID, "error", err)
	}
	return nil
}
