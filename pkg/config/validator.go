package config

import "errors"

// Validate fails fast on missing/invalid values, matching the
// teacher's eager-validation idiom: configuration is rejected at
// startup rather than surfacing as a runtime error deep in a handler.
func Validate(cfg *Config) error {
	if err := cfg.Database.Validate(); err != nil {
		return NewValidationError("DB_*", err)
	}
	if cfg.LockTimeout <= 0 {
		return NewValidationError("HEADSPACE_LOCK_TIMEOUT", ErrInvalidValue)
	}
	if cfg.Reaper.Interval <= 0 || cfg.Reaper.InactivityTimeout <= 0 || cfg.Reaper.GracePeriod <= 0 {
		return NewValidationError("HEADSPACE_REAPER_*", ErrInvalidValue)
	}
	if cfg.Watchdog.PollInterval <= 0 || cfg.Watchdog.GapThreshold <= 0 || cfg.Watchdog.CaptureLines <= 0 {
		return NewValidationError("HEADSPACE_WATCHDOG_*", ErrInvalidValue)
	}
	if len(cfg.DeferredStopDelays) == 0 {
		return NewValidationError("HEADSPACE_DEFERRED_STOP_DELAYS", ErrInvalidValue)
	}
	if cfg.Broadcaster.MaxSubscribers <= 0 || cfg.Broadcaster.IdleTimeout <= 0 {
		return NewValidationError("HEADSPACE_BROADCASTER_*", ErrInvalidValue)
	}
	if cfg.CorrelatorCacheTTL <= 0 {
		return NewValidationError("HEADSPACE_CORRELATOR_CACHE_TTL", ErrInvalidValue)
	}
	if cfg.StalenessThreshold <= 0 {
		return NewValidationError("HEADSPACE_STALENESS_THRESHOLD", ErrInvalidValue)
	}
	if len(cfg.QuestionTools) == 0 {
		return NewValidationError("HEADSPACE_QUESTION_TOOLS", ErrInvalidValue)
	}
	if (cfg.Slack.Token == "") != (cfg.Slack.Channel == "") {
		return NewValidationError("HEADSPACE_SLACK_TOKEN/HEADSPACE_SLACK_CHANNEL", errors.New("both or neither must be set"))
	}
	return nil
}
