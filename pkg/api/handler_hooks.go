package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentwatch/headspace/ent"
	"github.com/agentwatch/headspace/pkg/hooks"
	"github.com/agentwatch/headspace/pkg/hookstate"
)

// hookRequest is the common envelope every /hook/* endpoint accepts,
// mirroring the original service's _validate_hook_payload helper: every
// hook carries at least a session id, and most carry the working
// directory needed to correlate a brand-new session to its Project.
type hookRequest struct {
	SessionID        string `json:"session_id" binding:"required"`
	WorkingDirectory string `json:"working_directory"`
	PaneID           string `json:"pane_id"`
	TranscriptPath   string `json:"transcript_path"`
	ToolName         string `json:"tool_name"`
	Text             string `json:"text_from_payload"`
}

// respondRequest is the body for POST /hook/respond.
type respondRequest struct {
	AgentID  string `json:"agent_id" binding:"required"`
	Text     string `json:"text" binding:"required"`
	FileName string `json:"file_name"`
	FilePath string `json:"file_path"`
	FileSize int64  `json:"file_size"`
}

func hookResult(c *gin.Context, r hooks.Result) {
	if r.Error != "" {
		status := http.StatusInternalServerError
		if r.LockTimeout {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "error", "message": r.Error})
		return
	}
	body := gin.H{"status": "ok", "agent_id": r.AgentID}
	if r.NewState != "" {
		body["state"] = r.NewState
	}
	body["state_changed"] = r.StateChanged
	c.JSON(http.StatusOK, body)
}

// correlate parses the common hook envelope and resolves the Agent it
// refers to, creating one on first contact. Returns false (response
// already written) on validation or correlation failure.
func (h *handlers) correlate(c *gin.Context) (*ent.Agent, hookRequest, bool) {
	var req hookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return nil, req, false
	}

	result, err := h.d.Correlator.Correlate(c.Request.Context(), h.d.DB.Client, req.SessionID, req.WorkingDirectory)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return nil, req, false
	}

	a := result.Agent
	if req.PaneID != "" && (a.PaneID == nil || *a.PaneID != req.PaneID) {
		updated, err := h.d.DB.Client.Agent.UpdateOne(a).SetPaneID(req.PaneID).Save(c.Request.Context())
		if err == nil {
			a = updated
		}
		if h.d.Watchdog != nil {
			h.d.Watchdog.RegisterAgent(a.ID, req.PaneID)
		}
	}
	if req.TranscriptPath != "" && (a.TranscriptPath == nil || *a.TranscriptPath != req.TranscriptPath) {
		updated, err := h.d.DB.Client.Agent.UpdateOne(a).SetTranscriptPath(req.TranscriptPath).Save(c.Request.Context())
		if err == nil {
			a = updated
		}
	}
	return a, req, true
}

func (h *handlers) sessionStart(c *gin.Context) {
	a, req, ok := h.correlate(c)
	if !ok {
		return
	}
	hookResult(c, h.d.Ingestor.SessionStart(c.Request.Context(), a, req.SessionID))
}

func (h *handlers) sessionEnd(c *gin.Context) {
	a, req, ok := h.correlate(c)
	if !ok {
		return
	}
	if h.d.Watchdog != nil {
		h.d.Watchdog.UnregisterAgent(a.ID)
	}
	hookResult(c, h.d.Ingestor.SessionEnd(c.Request.Context(), a, req.SessionID))
}

func (h *handlers) userPromptSubmit(c *gin.Context) {
	a, req, ok := h.correlate(c)
	if !ok {
		return
	}
	hookResult(c, h.d.Ingestor.UserPromptSubmit(c.Request.Context(), a, req.SessionID, req.Text))
}

func (h *handlers) preToolUse(c *gin.Context) {
	a, req, ok := h.correlate(c)
	if !ok {
		return
	}
	hookResult(c, h.d.Ingestor.PreToolUse(c.Request.Context(), a, req.ToolName))
}

func (h *handlers) postToolUse(c *gin.Context) {
	a, _, ok := h.correlate(c)
	if !ok {
		return
	}
	hookResult(c, h.d.Ingestor.PostToolUse(c.Request.Context(), a))
}

func (h *handlers) permissionRequest(c *gin.Context) {
	a, req, ok := h.correlate(c)
	if !ok {
		return
	}
	hookResult(c, h.d.Ingestor.PermissionRequest(c.Request.Context(), a, req.ToolName))
}

func (h *handlers) stop(c *gin.Context) {
	a, req, ok := h.correlate(c)
	if !ok {
		return
	}
	hookResult(c, h.d.Ingestor.Stop(c.Request.Context(), a, req.SessionID))
}

func (h *handlers) notification(c *gin.Context) {
	a, req, ok := h.correlate(c)
	if !ok {
		return
	}
	hookResult(c, h.d.Ingestor.Notification(c.Request.Context(), a, req.SessionID))
}

// respond delivers a user's answer to an agent parked in AWAITING_INPUT.
// Unlike the other hook endpoints it addresses the agent by id directly
// rather than correlating by session, since the caller here is the
// dashboard (or a voice bridge), not the observed process itself.
func (h *handlers) respond(c *gin.Context) {
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	a, err := h.d.DB.Client.Agent.Get(c.Request.Context(), req.AgentID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "agent not found"})
		return
	}

	var fileMeta *hookstate.FileMetadata
	if req.FileName != "" {
		fileMeta = &hookstate.FileMetadata{Name: req.FileName, Path: req.FilePath, Size: req.FileSize}
	}

	result, err := h.d.Ingestor.IngestUserAnswer(c.Request.Context(), a, req.Text, fileMeta)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, hooks.ErrNotAwaitingInput):
			status = http.StatusConflict
		case errors.Is(err, hooks.ErrLockTimeout):
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "error", "message": err.Error()})
		return
	}
	hookResult(c, result)
}

// hookStatus reports the hook receiver's liveness for an operator
// dashboard, grounded on the original service's GET /hook/status.
func (h *handlers) hookStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"enabled":          true,
		"polling_interval": h.d.Config.Watchdog.PollInterval.String(),
		"config": gin.H{
			"reaper_interval":       h.d.Config.Reaper.Interval.String(),
			"watchdog_gap_threshold": h.d.Config.Watchdog.GapThreshold.String(),
			"lock_timeout":          h.d.Config.LockTimeout.String(),
		},
		"checked_at": time.Now().UTC().Format(time.RFC3339),
	})
}
