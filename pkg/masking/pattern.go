package masking

import "regexp"

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// builtinPatterns is the fixed set of generic credential shapes transcript
// text gets swept for. Unlike the teacher's per-MCP-server configurable
// pattern groups (no MCP servers exist in this module), this is a single
// hardcoded safety net applied to every Turn's text unconditionally.
func builtinPatterns() []*CompiledPattern {
	return []*CompiledPattern{
		{
			Name:        "aws_access_key",
			Regex:       regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
			Replacement: "[MASKED_AWS_ACCESS_KEY]",
		},
		{
			Name:        "bearer_token",
			Regex:       regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9\-._~+/]+=*`),
			Replacement: "Bearer [MASKED_TOKEN]",
		},
		{
			Name:        "github_token",
			Regex:       regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{20,}\b`),
			Replacement: "[MASKED_GITHUB_TOKEN]",
		},
		{
			Name:        "generic_api_key_assignment",
			Regex:       regexp.MustCompile(`(?i)\b([a-z_]*(?:api[_-]?key|secret|token|password)[a-z_]*)\s*[:=]\s*["']?[A-Za-z0-9\-_.]{8,}["']?`),
			Replacement: "$1=[MASKED]",
		},
		{
			Name:        "dotenv_pair",
			Regex:       regexp.MustCompile(`(?m)^([A-Z][A-Z0-9_]*(?:KEY|SECRET|TOKEN|PASSWORD))=.+$`),
			Replacement: "$1=[MASKED]",
		},
	}
}
