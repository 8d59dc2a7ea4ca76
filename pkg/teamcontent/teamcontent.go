// Package teamcontent detects team-internal sub-agent communication that
// leaks into a parent agent's transcript so it can be marked is_internal
// on the Turn rather than shown in the timeline.
//
// Grounded on the original service's team_content_detector.py: when a
// Claude Code agent spawns sub-agents (Task tool / team creation), their
// SendMessage JSON, task-notification XML, shutdown requests, and idle
// notifications show up verbatim in the parent's transcript.
package teamcontent

import (
	"encoding/json"
	"regexp"
	"strings"
)

// xmlTagPattern is anchored to the start of the text: real protocol tags
// are always injected at position zero. An agent discussing these tags
// mid-prose (in backticks, in an explanation) must not be flagged.
var xmlTagPattern = regexp.MustCompile(`^\s*<(task-notification|system-reminder)\b`)

var jsonTypeHint = regexp.MustCompile(`"type"\s*:\s*"(message|broadcast|shutdown_request|shutdown_response|plan_approval_request|plan_approval_response|idle)"`)

var internalJSONTypes = map[string]bool{
	"message":                  true,
	"broadcast":                true,
	"shutdown_request":         true,
	"shutdown_response":        true,
	"plan_approval_request":    true,
	"plan_approval_response":   true,
	"idle":                     true,
}

// Detector implements pkg/lifecycle.Redactor's IsInternal half (see
// pkg/masking.Service for the Redact half — the two compose into the
// concrete Redactor the lifecycle manager and transcript reconciler use).
type Detector struct{}

// IsInternal detects whether text is team-internal sub-agent
// communication that should be hidden from the visible timeline. Uses a
// cheap regex pre-screen before attempting a JSON parse, to avoid false
// positives on ordinary text that happens to mention these keywords.
func (Detector) IsInternal(text string) bool {
	return IsInternal(text)
}

func IsInternal(text string) bool {
	stripped := strings.TrimSpace(text)
	if stripped == "" {
		return false
	}

	if xmlTagPattern.MatchString(stripped) {
		return true
	}

	if !jsonTypeHint.MatchString(stripped) {
		return false
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(stripped), &parsed); err != nil {
		return false
	}

	msgType, _ := parsed["type"].(string)
	if !internalJSONTypes[msgType] {
		return false
	}

	switch msgType {
	case "message":
		_, ok := parsed["recipient"]
		return ok
	case "broadcast":
		_, ok := parsed["content"]
		return ok
	default:
		return true
	}
}
