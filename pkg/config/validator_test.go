package config

import (
	"testing"
	"time"

	"github.com/agentwatch/headspace/pkg/broadcaster"
	"github.com/agentwatch/headspace/pkg/database"
	"github.com/agentwatch/headspace/pkg/reaper"
	"github.com/agentwatch/headspace/pkg/watchdog"
	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Database: database.Config{
			Host:         "localhost",
			Port:         5432,
			User:         "headspace",
			Password:     "secret",
			Database:     "headspace",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 10,
		},
		LockTimeout:                 15 * time.Second,
		StaleAwaitingRecoveryWindow: 60 * time.Second,
		StalenessThreshold:          2 * time.Minute,
		DeferredStopDelays:          []time.Duration{time.Second},
		QuestionTools:               map[string]bool{"AskUserQuestion": true},
		CorrelatorCacheTTL:          time.Hour,
		Reaper:                      reaper.DefaultConfig(),
		Watchdog:                    watchdog.DefaultConfig(),
		Broadcaster:                 broadcaster.Config{MaxSubscribers: 256, IdleTimeout: 10 * time.Minute},
		Retention:                   DefaultRetentionConfig(),
	}
}

func TestValidate_AcceptsWellFormedConfig(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
}

func TestValidate_RejectsMissingDatabasePassword(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Password = ""
	assert.Error(t, Validate(cfg))
}

func TestValidate_RejectsZeroLockTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.LockTimeout = 0
	assert.Error(t, Validate(cfg))
}

func TestValidate_RejectsEmptyQuestionTools(t *testing.T) {
	cfg := validConfig()
	cfg.QuestionTools = nil
	assert.Error(t, Validate(cfg))
}

func TestValidate_RejectsPartialSlackConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Slack.Token = "xoxb-test"
	assert.Error(t, Validate(cfg))
}

func TestValidate_AcceptsFullOrAbsentSlackConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, Validate(cfg))

	cfg.Slack.Token = "xoxb-test"
	cfg.Slack.Channel = "C123"
	assert.NoError(t, Validate(cfg))
}
