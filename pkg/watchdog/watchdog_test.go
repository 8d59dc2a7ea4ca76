package watchdog

import (
	"context"
	"errors"
	"testing"
)

func TestLinesOverlap_MatchesLongLineInRecentTurn(t *testing.T) {
	pane := "some header\nrunning the test suite now please wait\n"
	turns := []string{"I'm running the test suite now please wait for results"}
	if !linesOverlap(pane, turns) {
		t.Error("expected overlap to be detected")
	}
}

func TestLinesOverlap_IgnoresShortLines(t *testing.T) {
	pane := "ok\ndone\n"
	turns := []string{"ok done finished everything"}
	if linesOverlap(pane, turns) {
		t.Error("short lines should never count as overlap")
	}
}

func TestLinesOverlap_NoMatchWhenTextsDiffer(t *testing.T) {
	pane := "this is a completely unrelated pane output line\n"
	turns := []string{"totally different agent turn text that does not match"}
	if linesOverlap(pane, turns) {
		t.Error("expected no overlap")
	}
}

func TestRegisterAgent_EmptyPaneIDUnregisters(t *testing.T) {
	w := New(DefaultConfig(), nil, nil, nil, nil, nil)
	w.RegisterAgent("agent-1", "pane-1")
	if _, ok := w.agents["agent-1"]; !ok {
		t.Fatal("expected agent to be registered")
	}
	w.RegisterAgent("agent-1", "")
	if _, ok := w.agents["agent-1"]; ok {
		t.Error("expected empty pane id to unregister the agent")
	}
}

func TestUnregisterAgent_RemovesState(t *testing.T) {
	w := New(DefaultConfig(), nil, nil, nil, nil, nil)
	w.RegisterAgent("agent-1", "pane-1")
	w.UnregisterAgent("agent-1")
	if _, ok := w.agents["agent-1"]; ok {
		t.Error("expected agent state to be removed")
	}
}

type stubCapturer struct {
	content string
	err     error
}

func (s stubCapturer) CapturePane(ctx context.Context, paneID string, lines int) (string, error) {
	return s.content, s.err
}

func TestCheckAgent_CaptureErrorPropagates(t *testing.T) {
	w := New(DefaultConfig(), stubCapturer{err: errors.New("tmux not found")}, nil, nil, nil, nil)
	w.RegisterAgent("agent-1", "pane-1")
	if err := w.checkAgent(context.Background(), "agent-1", "pane-1"); err == nil {
		t.Error("expected capture error to propagate")
	}
}

func TestCheckAgent_EmptyContentIsNoop(t *testing.T) {
	w := New(DefaultConfig(), stubCapturer{content: "   \n  "}, nil, nil, nil, nil)
	w.RegisterAgent("agent-1", "pane-1")
	if err := w.checkAgent(context.Background(), "agent-1", "pane-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.agents["agent-1"].lastHash != "" {
		t.Error("expected no hash to be recorded for empty content")
	}
}
