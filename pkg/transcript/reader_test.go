package transcript

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTranscript(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadLastAgentResponse_FindsLastAssistantMessage(t *testing.T) {
	path := writeTranscript(t,
		`{"type":"message","role":"user","content":"hello"}`,
		`{"type":"message","role":"assistant","content":"first reply"}`,
		`{"type":"message","role":"assistant","content":"second reply"}`,
	)
	res := ReadLastAgentResponse(path, 0)
	if !res.Success {
		t.Fatalf("expected success, got err=%v", res.Err)
	}
	if res.Text != "second reply" {
		t.Errorf("got %q, want 'second reply'", res.Text)
	}
	if res.EntriesRead != 3 {
		t.Errorf("EntriesRead = %d, want 3", res.EntriesRead)
	}
}

func TestReadLastAgentResponse_MissingFile(t *testing.T) {
	res := ReadLastAgentResponse("/nonexistent/path.jsonl", 0)
	if res.Success {
		t.Fatal("expected failure for missing file")
	}
}

func TestReadLastAgentResponse_Truncates(t *testing.T) {
	long := ""
	for i := 0; i < 50; i++ {
		long += "0123456789"
	}
	path := writeTranscript(t, `{"role":"assistant","content":"`+long+`"}`)
	res := ReadLastAgentResponse(path, 20)
	if len(res.Text) != len("... [truncated]")+20 {
		t.Errorf("unexpected truncated length: %d", len(res.Text))
	}
}

func TestReadFromPosition_IncrementalTail(t *testing.T) {
	path := writeTranscript(t, `{"role":"user","content":"first"}`)
	_, pos, err := ReadFromPosition(path, 0)
	if err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"role":"assistant","content":"second"}` + "\n")
	f.Close()

	entries, _, err := ReadFromPosition(path, pos)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Content != "second" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestParseLine_ContentBlocks(t *testing.T) {
	e, ok := parseLine(`{"role":"assistant","content":[{"type":"text","text":"hello"},{"type":"text","text":"world"}]}`)
	if !ok {
		t.Fatal("expected parse success")
	}
	if e.Content != "hello\nworld" {
		t.Errorf("Content = %q", e.Content)
	}
}

func TestParseLine_InvalidJSON(t *testing.T) {
	if _, ok := parseLine("not json"); ok {
		t.Fatal("expected parse failure")
	}
}
