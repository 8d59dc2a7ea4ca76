package hookstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRespondPending_ConsumeIsOneShot(t *testing.T) {
	s := New()
	s.MarkRespondPending("agent-1")
	assert.True(t, s.ConsumeRespondPending("agent-1"))
	assert.False(t, s.ConsumeRespondPending("agent-1"))
}

func TestDeferredStop_SingleFlight(t *testing.T) {
	s := New()
	assert.True(t, s.TryClaimDeferredStop("agent-1"))
	assert.False(t, s.TryClaimDeferredStop("agent-1"))
	s.ReleaseDeferredStop("agent-1")
	assert.True(t, s.TryClaimDeferredStop("agent-1"))
}

func TestProgressTexts_ConsumeClears(t *testing.T) {
	s := New()
	s.AppendProgressText("agent-1", "step one")
	s.AppendProgressText("agent-1", "step two")
	texts := s.ConsumeProgressTexts("agent-1")
	assert.Equal(t, []string{"step one", "step two"}, texts)
	assert.Empty(t, s.ConsumeProgressTexts("agent-1"))
}

func TestOnSessionEnd_ClearsEverything(t *testing.T) {
	s := New()
	s.SetAwaitingTool("agent-1", "AskUserQuestion")
	s.MarkRespondPending("agent-1")
	s.OnSessionEnd("agent-1")
	assert.Empty(t, s.AwaitingTool("agent-1"))
	assert.False(t, s.ConsumeRespondPending("agent-1"))
}

func TestFileUploadPending_OneShot(t *testing.T) {
	s := New()
	s.SetFileUploadPending("agent-1", FileMetadata{Name: "a.txt", Size: 10})
	meta := s.ConsumeFileUploadPending("agent-1")
	if assert.NotNil(t, meta) {
		assert.Equal(t, "a.txt", meta.Name)
	}
	assert.Nil(t, s.ConsumeFileUploadPending("agent-1"))
}
