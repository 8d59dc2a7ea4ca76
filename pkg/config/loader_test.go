package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearHeadspaceEnv(t *testing.T) {
	t.Helper()
	for _, e := range os.Environ() {
		for i := 0; i < len(e); i++ {
			if e[i] == '=' {
				key := e[:i]
				if (len(key) > 10 && key[:10] == "HEADSPACE_") || (len(key) > 3 && key[:3] == "DB_") {
					os.Unsetenv(key)
				}
				break
			}
		}
	}
}

func TestLoadFromEnv_FailsWithoutDatabasePassword(t *testing.T) {
	clearHeadspaceEnv(t)
	_, err := LoadFromEnv("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PASSWORD")
}

func TestLoadFromEnv_AppliesDefaults(t *testing.T) {
	clearHeadspaceEnv(t)
	t.Setenv("DB_PASSWORD", "secret")

	cfg, err := LoadFromEnv("")
	require.NoError(t, err)

	assert.Equal(t, 15*time.Second, cfg.LockTimeout)
	assert.Equal(t, 60*time.Second, cfg.Reaper.Interval)
	assert.Equal(t, 3*time.Second, cfg.Watchdog.PollInterval)
	assert.Equal(t, 256, cfg.Broadcaster.MaxSubscribers)
	assert.True(t, cfg.QuestionTools["AskUserQuestion"])
	assert.Len(t, cfg.DeferredStopDelays, 4)
	assert.Equal(t, "headspace", cfg.Database.Database)
	assert.Nil(t, Validate(cfg))
}

func TestLoadFromEnv_OverridesFromEnvironment(t *testing.T) {
	clearHeadspaceEnv(t)
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("HEADSPACE_REAPER_INTERVAL", "30s")
	t.Setenv("HEADSPACE_QUESTION_TOOLS", "AskUserQuestion,ConfirmAction")
	t.Setenv("HEADSPACE_DEFERRED_STOP_DELAYS", "1s,2s")

	cfg, err := LoadFromEnv("")
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Reaper.Interval)
	assert.True(t, cfg.QuestionTools["ConfirmAction"])
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, cfg.DeferredStopDelays)
}

func TestLoadFromEnv_SlackRequiresBothTokenAndChannel(t *testing.T) {
	clearHeadspaceEnv(t)
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("HEADSPACE_SLACK_TOKEN", "xoxb-test")

	_, err := LoadFromEnv("")
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestLoadFromEnv_UnparsableDurationFallsBack(t *testing.T) {
	clearHeadspaceEnv(t)
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("HEADSPACE_LOCK_TIMEOUT", "not-a-duration")

	cfg, err := LoadFromEnv("")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.LockTimeout)
}
