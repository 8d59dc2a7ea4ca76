package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentwatch/headspace/pkg/broadcaster"
	"github.com/agentwatch/headspace/pkg/database"
	"github.com/agentwatch/headspace/pkg/reaper"
	"github.com/agentwatch/headspace/pkg/watchdog"
)

// LoadFromEnv loads, validates, and returns ready-to-use configuration.
// This is the primary entry point, mirroring the teacher's
// LoadConfigFromEnv + Validate idiom.
//
// envFile, if non-empty, is loaded via godotenv before env vars are
// read, so a local .env can seed values without exporting them into
// the shell. A missing envFile is not an error — the zero value is
// "no .env present", and real deployments rely on the process
// environment directly.
func LoadFromEnv(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, NewLoadError(envFile, err)
		}
	}

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return nil, NewLoadError("database", err)
	}

	cfg := &Config{
		Database:                    dbCfg,
		HTTPAddr:                    getenv("HEADSPACE_HTTP_ADDR", ":8080"),
		DashboardURL:                getenv("HEADSPACE_DASHBOARD_URL", "http://localhost:5173"),
		LockTimeout:                 getenvDuration("HEADSPACE_LOCK_TIMEOUT", 15*time.Second),
		StaleAwaitingRecoveryWindow: getenvDuration("HEADSPACE_STALE_AWAITING_RECOVERY_WINDOW", 60*time.Second),
		StalenessThreshold:          getenvDuration("HEADSPACE_STALENESS_THRESHOLD", 2*time.Minute),
		DeferredStopDelays:          getenvDurationList("HEADSPACE_DEFERRED_STOP_DELAYS", defaultDeferredStopDelays),
		QuestionTools:               getenvStringSet("HEADSPACE_QUESTION_TOOLS", defaultQuestionTools()),
		CorrelatorCacheTTL:          getenvDuration("HEADSPACE_CORRELATOR_CACHE_TTL", time.Hour),
		Reaper: reaper.Config{
			Interval:          getenvDuration("HEADSPACE_REAPER_INTERVAL", reaper.DefaultConfig().Interval),
			InactivityTimeout: getenvDuration("HEADSPACE_REAPER_INACTIVITY_TIMEOUT", reaper.DefaultConfig().InactivityTimeout),
			GracePeriod:       getenvDuration("HEADSPACE_REAPER_GRACE_PERIOD", reaper.DefaultConfig().GracePeriod),
		},
		Watchdog: watchdog.Config{
			PollInterval:    getenvDuration("HEADSPACE_WATCHDOG_POLL_INTERVAL", watchdog.DefaultConfig().PollInterval),
			GapThreshold:    getenvDuration("HEADSPACE_WATCHDOG_GAP_THRESHOLD", watchdog.DefaultConfig().GapThreshold),
			CaptureLines:    getenvInt("HEADSPACE_WATCHDOG_CAPTURE_LINES", watchdog.DefaultConfig().CaptureLines),
			TurnMatchWindow: getenvDuration("HEADSPACE_WATCHDOG_TURN_MATCH_WINDOW", watchdog.DefaultConfig().TurnMatchWindow),
		},
		Broadcaster: broadcaster.Config{
			MaxSubscribers: getenvInt("HEADSPACE_BROADCASTER_MAX_SUBSCRIBERS", 256),
			IdleTimeout:    getenvDuration("HEADSPACE_BROADCASTER_IDLE_TIMEOUT", 10*time.Minute),
		},
		Retention: RetentionConfig{
			SessionRetentionDays: getenvInt("HEADSPACE_RETENTION_SESSION_DAYS", DefaultRetentionConfig().SessionRetentionDays),
			EventTTL:             getenvDuration("HEADSPACE_RETENTION_EVENT_TTL", DefaultRetentionConfig().EventTTL),
			CleanupInterval:      getenvDuration("HEADSPACE_RETENTION_CLEANUP_INTERVAL", DefaultRetentionConfig().CleanupInterval),
		},
		Slack: SlackConfig{
			Token:   getenv("HEADSPACE_SLACK_TOKEN", ""),
			Channel: getenv("HEADSPACE_SLACK_CHANNEL", ""),
		},
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

var defaultDeferredStopDelays = []time.Duration{
	500 * time.Millisecond,
	1000 * time.Millisecond,
	1500 * time.Millisecond,
	2000 * time.Millisecond,
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// getenvDurationList parses a comma-separated list of durations
// ("500ms,1s,1.5s,2s"); an unset or unparsable value falls back.
func getenvDurationList(key string, fallback []time.Duration) []time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(p))
		if err != nil {
			return fallback
		}
		out = append(out, d)
	}
	return out
}

// getenvStringSet parses a comma-separated list into a membership set
// ("AskUserQuestion,ConfirmAction"); an unset value falls back.
func getenvStringSet(key string, fallback map[string]bool) map[string]bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	out := make(map[string]bool)
	for _, p := range strings.Split(v, ",") {
		name := strings.TrimSpace(p)
		if name != "" {
			out[name] = true
		}
	}
	return out
}
