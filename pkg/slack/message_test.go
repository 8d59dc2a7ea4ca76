package slack

import (
	"strings"
	"testing"
	"unicode/utf8"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAwaitingInputMessage_WithQuestionAndInstruction(t *testing.T) {
	blocks := BuildAwaitingInputMessage("agent-1", "my-project", "fix the failing test", "Should I also update the fixture?", "https://dash.example.com")

	require.GreaterOrEqual(t, len(blocks), 3)

	header := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, header.Text.Text, "my-project")
	assert.Contains(t, header.Text.Text, "waiting for your input")

	instruction := blocks[1].(*goslack.SectionBlock)
	assert.Contains(t, instruction.Text.Text, "fix the failing test")

	question := blocks[2].(*goslack.SectionBlock)
	assert.Contains(t, question.Text.Text, "Should I also update the fixture?")

	action := blocks[3].(*goslack.ActionBlock)
	btn := action.Elements.ElementSet[0].(*goslack.ButtonBlockElement)
	assert.Contains(t, btn.URL, "https://dash.example.com/agents/agent-1")
}

func TestBuildAwaitingInputMessage_FallsBackToPlaceholderQuestion(t *testing.T) {
	blocks := BuildAwaitingInputMessage("agent-2", "my-project", "", "", "https://dash.example.com")

	var found bool
	for _, b := range blocks {
		if section, ok := b.(*goslack.SectionBlock); ok && strings.Contains(section.Text.Text, "Claude is waiting for your input") {
			found = true
		}
	}
	assert.True(t, found, "expected the generic placeholder question when none is provided")
}

func TestBuildAwaitingInputMessage_NoProjectNameUsesGenericHeader(t *testing.T) {
	blocks := BuildAwaitingInputMessage("agent-3", "", "", "", "")
	header := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, header.Text.Text, "An agent is waiting for your input")
}

func TestBuildAwaitingInputMessage_NoDashboardURLOmitsButton(t *testing.T) {
	blocks := BuildAwaitingInputMessage("agent-4", "proj", "", "question text", "")
	for _, b := range blocks {
		_, isAction := b.(*goslack.ActionBlock)
		assert.False(t, isAction, "expected no action block when dashboard URL is empty")
	}
}

func TestTruncateForSlack(t *testing.T) {
	t.Run("short text unchanged", func(t *testing.T) {
		assert.Equal(t, "hello", truncateForSlack("hello"))
	})

	t.Run("exact limit unchanged", func(t *testing.T) {
		text := strings.Repeat("a", maxBlockTextLength)
		assert.Equal(t, text, truncateForSlack(text))
	})

	t.Run("over limit truncated", func(t *testing.T) {
		text := strings.Repeat("a", maxBlockTextLength+100)
		result := truncateForSlack(text)
		assert.True(t, len(result) < len(text))
		assert.Contains(t, result, "truncated")
	})

	t.Run("multi-byte runes not split", func(t *testing.T) {
		text := strings.Repeat("🔥", maxBlockTextLength+10)
		result := truncateForSlack(text)
		assert.Contains(t, result, "truncated")
		assert.True(t, utf8.ValidString(result), "result should be valid UTF-8")
		prefix := strings.Split(result, "\n\n_...")[0]
		assert.Equal(t, maxBlockTextLength, utf8.RuneCountInString(prefix))
	})
}
