// Package config loads the single startup configuration object every
// component in headspace is handed by cmd/headspace/main.go. There is
// no YAML registry layer here (no agents/chains/MCP servers to
// register) — every tunable is a scalar read once from the
// environment, mirroring the teacher's LoadConfigFromEnv + Validate
// idiom but flattened to the much smaller surface this system needs.
package config

import (
	"time"

	"github.com/agentwatch/headspace/pkg/broadcaster"
	"github.com/agentwatch/headspace/pkg/database"
	"github.com/agentwatch/headspace/pkg/reaper"
	"github.com/agentwatch/headspace/pkg/watchdog"
)

// Config is the umbrella configuration object returned by LoadFromEnv
// and threaded through every constructor in cmd/headspace/main.go.
type Config struct {
	// Database holds the connection/pool settings for both the ent
	// client and the dedicated advisory-lock connections, loaded via
	// pkg/database's own LoadConfigFromEnv (DB_HOST/DB_PORT/... — kept
	// as its own env-var set rather than folded into a single DSN
	// string, since that's how the teacher's database layer already
	// validates and pools its connections).
	Database database.Config

	// HTTPAddr is the address the gin host listens on.
	HTTPAddr string

	// DashboardURL is the base URL of the dashboard frontend, used to
	// build deep links (Slack notifications, card responses).
	DashboardURL string

	// LockTimeout bounds advisory lock acquisition; handlers that
	// cannot acquire the per-agent lock within this window fail with
	// a 503 rather than blocking indefinitely.
	LockTimeout time.Duration

	// StaleAwaitingRecoveryWindow is how long a pre-existing
	// AWAITING_INPUT turn is still considered "the same question" by
	// pre-tool-use recovery, rather than superseded by a new one.
	StaleAwaitingRecoveryWindow time.Duration

	// StalenessThreshold is how long since an agent's last-seen-at
	// before the card projector reports a display-only TIMED_OUT
	// overlay for a PROCESSING task.
	StalenessThreshold time.Duration

	// DeferredStopDelays is the poll schedule (in order) the deferred
	// stop worker sleeps between notification-text recovery attempts.
	DeferredStopDelays []time.Duration

	// QuestionTools are tool names whose use means the agent is
	// blocked on a question, seeded with the defaults pkg/hooks used
	// to hardcode but operator-extensible here.
	QuestionTools map[string]bool

	Reaper      reaper.Config
	Watchdog    watchdog.Config
	Broadcaster broadcaster.Config

	CorrelatorCacheTTL time.Duration

	Retention RetentionConfig

	Slack SlackConfig
}

// SlackConfig holds the optional Slack notifier's settings. Either
// field being empty disables the notifier (pkg/slack.NewService
// returns nil), matching its nil-safe Notifier contract.
type SlackConfig struct {
	Token   string
	Channel string
}

// RetentionConfig controls the background cleanup sweep's behavior.
type RetentionConfig struct {
	SessionRetentionDays int
	EventTTL             time.Duration
	CleanupInterval      time.Duration
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		SessionRetentionDays: 365,
		EventTTL:             1 * time.Hour,
		CleanupInterval:      12 * time.Hour,
	}
}

// defaultQuestionTools seeds the question-asking tool registry with
// the names the original hook handlers special-cased.
func defaultQuestionTools() map[string]bool {
	return map[string]bool{
		"AskUserQuestion": true,
	}
}
