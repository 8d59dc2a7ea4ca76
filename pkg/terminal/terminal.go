// Package terminal is the write-side counterpart to pkg/watchdog's pane
// capture: delivering a user's answer text into the agent's terminal
// pane. Grounded on the same tmux_bridge shell-out idiom pkg/watchdog and
// pkg/reaper already use for capture and liveness, since the original
// service's own send-text implementation is not part of this retrieval.
package terminal

import (
	"context"
	"os/exec"
	"strconv"
	"time"
)

// Sink abstracts terminal pane interaction so the respond-ingest path
// can be tested without a real multiplexer attached.
type Sink interface {
	// SendText types text into paneID and submits it (Enter), returning
	// false if the pane could not be reached within timeout.
	SendText(ctx context.Context, paneID, text string, timeout time.Duration) (bool, error)

	// CapturePane returns the last `lines` lines of paneID's scrollback.
	CapturePane(ctx context.Context, paneID string, lines int) (string, error)
}

// Tmux shells out to the tmux CLI for both directions of pane I/O.
type Tmux struct {
	// DefaultTimeout bounds SendText/CapturePane calls that are not
	// given an explicit timeout (zero or negative).
	DefaultTimeout time.Duration
}

func (t Tmux) timeoutOrDefault(timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	if t.DefaultTimeout > 0 {
		return t.DefaultTimeout
	}
	return 3 * time.Second
}

// SendText mirrors the original service's tmux_bridge.send_text: the
// literal keystrokes are sent first, then Enter as a second send-keys
// call, so a paste containing characters tmux would otherwise interpret
// (e.g. a leading "-") is never misread as a flag.
func (t Tmux) SendText(ctx context.Context, paneID, text string, timeout time.Duration) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, t.timeoutOrDefault(timeout))
	defer cancel()

	if err := exec.CommandContext(cctx, "tmux", "send-keys", "-t", paneID, "-l", text).Run(); err != nil {
		return false, err
	}
	if err := exec.CommandContext(cctx, "tmux", "send-keys", "-t", paneID, "Enter").Run(); err != nil {
		return false, err
	}
	return true, nil
}

// CapturePane shells out to `tmux capture-pane`, identical to
// pkg/watchdog.TmuxCapturer's implementation — kept as a separate copy
// rather than a shared dependency since the two packages evolve for
// different callers (polling loop vs. on-demand read) and a shared
// helper would just be indirection over a three-line exec.Command call.
func (t Tmux) CapturePane(ctx context.Context, paneID string, lines int) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, t.timeoutOrDefault(0))
	defer cancel()
	if lines <= 0 {
		lines = 1
	}
	out, err := exec.CommandContext(cctx, "tmux", "capture-pane", "-p", "-t", paneID, "-S", "-"+strconv.Itoa(lines)).Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
