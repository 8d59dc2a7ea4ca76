package hooks

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agentwatch/headspace/pkg/hookstate"
)

func TestProgressHash_Deterministic(t *testing.T) {
	a := progressHash("Working on it")
	b := progressHash("  working on it  ")
	if a != b {
		t.Errorf("expected normalized match, got %q != %q", a, b)
	}
	if len(a) != 16 {
		t.Errorf("expected 16 hex chars, got %d", len(a))
	}
}

func TestQuestionTools_RecognizesAskUserQuestion(t *testing.T) {
	if !QuestionTools["AskUserQuestion"] {
		t.Error("expected AskUserQuestion to be a recognized question tool")
	}
	if QuestionTools["Bash"] {
		t.Error("did not expect Bash to be a question tool")
	}
}

func TestDeferredCompletionText_FallsBackWithoutOffset(t *testing.T) {
	in := &Ingestor{state: hookstate.New()}
	got := in.deferredCompletionText("agent-1", "", "full transcript text")
	if got != "full transcript text" {
		t.Errorf("expected fallback to full text, got %q", got)
	}
}

func TestDeferredCompletionText_NarrowsToNewEntriesSinceOffset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	first := `{"role":"assistant","content":"progress one"}` + "\n"
	if err := os.WriteFile(path, []byte(first), 0o644); err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}

	st := hookstate.New()
	st.AppendProgressText("agent-1", "progress one")
	st.SetTranscriptOffset("agent-1", fi.Size())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"role":"assistant","content":"final answer"}` + "\n")
	f.Close()

	in := &Ingestor{state: st}
	got := in.deferredCompletionText("agent-1", path, "progress one\n\nfinal answer")
	if got != "final answer" {
		t.Errorf("expected narrowed text 'final answer', got %q", got)
	}

	if st.TranscriptOffset("agent-1") != 0 {
		t.Error("expected transcript offset to be reset after consumption")
	}
}
