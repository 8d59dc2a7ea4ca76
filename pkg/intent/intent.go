// Package intent classifies a turn's text into the state-machine vocabulary
// defined by pkg/statemachine. Detection is a heuristic layer: the state
// machine, not this package, is the source of correctness.
package intent

import (
	"regexp"
	"strings"

	"github.com/agentwatch/headspace/pkg/statemachine"
)

// questionPatterns mirrors the original service's QUESTION_PATTERNS list.
var questionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)[^\x60'"/]\?\s*$`),
	regexp.MustCompile(`(?i)^(?:would you like|should i|do you want|can i|shall i|may i)\b`),
	regexp.MustCompile(`(?i)\?\s*$`),
	regexp.MustCompile(`(?i)is that correct|does that work|does that look|does that sound|sound okay|sound good|look right|look good`),
	regexp.MustCompile(`(?i)let me know|please confirm|could you clarify|could you tell me`),
	regexp.MustCompile(`(?i)waiting for (?:your|the user'?s) (?:response|input|answer|reply|decision|choice|feedback)`),
	regexp.MustCompile(`(?i)please (?:respond|reply|answer|select|choose|provide|specify)`),
	regexp.MustCompile(`(?i)want me to|how would you like me to|what'?s your preference`),
	regexp.MustCompile(`(?i)which (?:approach|option|method) would you prefer`),
	regexp.MustCompile(`(?i)before i (?:proceed|continue|start)`),
	regexp.MustCompile(`(?i)i need to know|your (?:input|decision|confirmation)`),
	regexp.MustCompile(`(?i)do you have a preference`),
	regexp.MustCompile(`(?i)here are (?:a few|some|the) options:|there are (?:two|three|several) approaches:`),
	regexp.MustCompile(`(?i)i have (?:a few|some|several) questions:`),
}

// blockedPatterns mirrors BLOCKED_PATTERNS; matches here are mapped to QUESTION.
var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)i don'?t have permission|access to|i can'?t access|this requires authentication|authorization`),
	regexp.MustCompile(`(?i)^Error:|Failed to|Permission denied`),
	regexp.MustCompile(`(?i)i'?m unable to|i couldn'?t|i was unable to`),
}

// completionPatterns mirrors COMPLETION_PATTERNS.
var completionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(?:done|complete|finished|all (?:done|set|finished))[.!\s]*$`),
	regexp.MustCompile(`(?i)i'?ve|i'?m finished|completed|done,? task complete|finished|done`),
	regexp.MustCompile(`(?i)successfully completed|finished,? changes have been made|applied|committed`),
	regexp.MustCompile(`(?i)(?:that'?s all the changes|i need|have),? all changes have been|are made|applied|committed|complete|everything is set|done|ready|in place|complete$`),
	regexp.MustCompile(`(?i)implementation is complete|feature is ready|done|complete`),
	regexp.MustCompile(`(?i)i'?ve made the following changes:`),
	regexp.MustCompile(`(?i)all tests are passing`),
	regexp.MustCompile(`(?i)the pr is ready for review`),
	regexp.MustCompile(`(?i)committed to branch|changes have been pushed`),
	regexp.MustCompile(`(?i)here'?s a summary of what was done`),
}

var codeBlockPattern = regexp.MustCompile("(?s)```.*?```")

// Detection is the outcome of classifying a piece of text.
type Detection struct {
	Intent     statemachine.Intent
	Confidence float64
}

// Detect dispatches to the user or agent classifier based on actor.
func Detect(text string, actor statemachine.Actor, currentState statemachine.State) Detection {
	if actor == statemachine.ActorUser {
		return detectUser(currentState)
	}
	return detectAgent(text)
}

// detectUser never inspects text content: a user turn's intent is purely a
// function of what the task was waiting for.
func detectUser(currentState statemachine.State) Detection {
	if currentState == statemachine.AwaitingInput {
		return Detection{statemachine.IntentAnswer, 1.0}
	}
	return Detection{statemachine.IntentCommand, 1.0}
}

func detectAgent(text string) Detection {
	if strings.TrimSpace(text) == "" {
		return Detection{statemachine.IntentProgress, 0.5}
	}

	cleaned := stripCodeBlocks(text)
	tail := extractTail(cleaned, 15)

	if d, ok := matchFamilies(tail); ok {
		return Detection{d, 1.0}
	}
	if d, ok := matchFamilies(cleaned); ok {
		return Detection{d, 0.8}
	}
	return Detection{statemachine.IntentProgress, 0.5}
}

func matchFamilies(text string) (statemachine.Intent, bool) {
	for _, re := range questionPatterns {
		if re.MatchString(text) {
			return statemachine.IntentQuestion, true
		}
	}
	for _, re := range blockedPatterns {
		if re.MatchString(text) {
			return statemachine.IntentQuestion, true
		}
	}
	for _, re := range completionPatterns {
		if re.MatchString(text) {
			return statemachine.IntentCompletion, true
		}
	}
	return "", false
}

func stripCodeBlocks(text string) string {
	return codeBlockPattern.ReplaceAllString(text, "")
}

// extractTail returns the last maxLines non-empty lines, joined by newlines.
func extractTail(text string, maxLines int) string {
	lines := strings.Split(text, "\n")
	var nonEmpty []string
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			nonEmpty = append(nonEmpty, l)
		}
	}
	if len(nonEmpty) > maxLines {
		nonEmpty = nonEmpty[len(nonEmpty)-maxLines:]
	}
	return strings.Join(nonEmpty, "\n")
}
