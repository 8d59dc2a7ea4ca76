// Package redact composes the two independent text-safety checks every
// Turn goes through — team-internal classification and secret
// redaction — into the single Redactor interface pkg/lifecycle,
// pkg/transcript, and pkg/hooks each depend on.
package redact

import (
	"github.com/agentwatch/headspace/pkg/masking"
	"github.com/agentwatch/headspace/pkg/teamcontent"
)

// Combined implements IsInternal via pkg/teamcontent and Redact via
// pkg/masking. Constructed once at startup and shared across every
// collaborator that needs a Redactor.
type Combined struct {
	masking *masking.Service
}

func New() *Combined {
	return &Combined{masking: masking.NewService()}
}

func (c *Combined) IsInternal(text string) bool {
	return teamcontent.IsInternal(text)
}

func (c *Combined) Redact(text string) string {
	return c.masking.Redact(text)
}
