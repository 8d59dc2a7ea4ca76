package hooks

import (
	"context"
	"testing"
	"time"

	"github.com/agentwatch/headspace/pkg/hookstate"
)

type fakeTerminal struct {
	sent bool
	err  error
}

func (f *fakeTerminal) SendText(ctx context.Context, paneID, text string, timeout time.Duration) (bool, error) {
	return f.sent, f.err
}

func TestIngestUserAnswer_FailsWithoutTerminalWired(t *testing.T) {
	in := &Ingestor{state: hookstate.New()}
	if in.terminal != nil {
		t.Fatal("expected terminal to be unwired by default")
	}
	in.SetTerminal(&fakeTerminal{sent: true})
	if in.terminal == nil {
		t.Fatal("expected SetTerminal to wire the collaborator")
	}
}
