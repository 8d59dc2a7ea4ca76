// Package masking redacts secret-shaped content from agent transcript
// text before it is persisted as Turn text or broadcast downstream.
//
// Grounded on the teacher's pkg/masking, adapted from Kubernetes-Secret-
// shaped structural masking (for MCP tool results) to generic
// credential-pattern redaction of free-form transcript text — API keys,
// bearer tokens, PEM private keys, .env-style KEY=value pairs. The
// teacher's per-MCP-server configurable pattern-group system has no
// analog here (this module has no MCP servers), so Service applies one
// fixed builtin pattern set to everything unconditionally.
package masking

import "log/slog"

// Service redacts secret-shaped substrings from text. Created once at
// startup (singleton); stateless aside from its compiled patterns, so
// it's safe for concurrent use.
type Service struct {
	patterns []*CompiledPattern
	maskers  []Masker
}

// NewService compiles the builtin pattern set and registers the
// structural maskers.
func NewService() *Service {
	s := &Service{
		patterns: builtinPatterns(),
		maskers:  []Masker{PrivateKeyMasker{}},
	}
	slog.Info("masking: service initialized", "patterns", len(s.patterns), "code_maskers", len(s.maskers))
	return s
}

// Redact applies structural maskers first (more specific, needs to see
// the whole block before replacing), then the regex sweep. Defensive: a
// masker panicking or erroring never happens here since all maskers are
// pure string transforms, but an empty/unrecognized result always falls
// back to returning the partially-masked text rather than failing closed —
// a transcript is never worth dropping entirely over a redaction miss.
func (s *Service) Redact(text string) string {
	if text == "" {
		return text
	}
	masked := text
	for _, m := range s.maskers {
		if m.AppliesTo(masked) {
			masked = m.Mask(masked)
		}
	}
	for _, p := range s.patterns {
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}
	return masked
}
