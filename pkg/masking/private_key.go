package masking

import (
	"regexp"
)

// MaskedPrivateKey is the replacement for a masked PEM private-key block.
const MaskedPrivateKey = "[MASKED_PRIVATE_KEY]"

var pemBlockPattern = regexp.MustCompile(`(?s)-----BEGIN [A-Z0-9 ]*PRIVATE KEY-----.*?-----END [A-Z0-9 ]*PRIVATE KEY-----`)

// PrivateKeyMasker redacts PEM-encoded private key blocks. A regex
// replacement alone would work here too, but a dedicated structural
// masker keeps the two-phase design (code maskers, then regex sweep)
// for content that's worth a clearer AppliesTo pre-check.
type PrivateKeyMasker struct{}

func (m PrivateKeyMasker) Name() string { return "private_key" }

func (m PrivateKeyMasker) AppliesTo(data string) bool {
	return pemBlockPattern.MatchString(data)
}

func (m PrivateKeyMasker) Mask(data string) string {
	return pemBlockPattern.ReplaceAllString(data, MaskedPrivateKey)
}
