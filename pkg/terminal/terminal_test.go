package terminal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeSink lets pkg/hooks tests exercise the respond-ingest path without a
// real tmux session attached.
type fakeSink struct {
	sendOK   bool
	sendErr  error
	lastPane string
	lastText string
}

func (f *fakeSink) SendText(ctx context.Context, paneID, text string, timeout time.Duration) (bool, error) {
	f.lastPane = paneID
	f.lastText = text
	return f.sendOK, f.sendErr
}

func (f *fakeSink) CapturePane(ctx context.Context, paneID string, lines int) (string, error) {
	return "", nil
}

func TestTmux_TimeoutOrDefault(t *testing.T) {
	tm := Tmux{DefaultTimeout: 5 * time.Second}
	assert.Equal(t, 2*time.Second, tm.timeoutOrDefault(2*time.Second))
	assert.Equal(t, 5*time.Second, tm.timeoutOrDefault(0))

	zero := Tmux{}
	assert.Equal(t, 3*time.Second, zero.timeoutOrDefault(0))
}

func TestFakeSink_SatisfiesSinkInterface(t *testing.T) {
	var _ Sink = &fakeSink{}
}
