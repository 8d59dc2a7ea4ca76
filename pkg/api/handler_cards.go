package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agentwatch/headspace/ent"
	"github.com/agentwatch/headspace/pkg/card"
)

func (h *handlers) getCard(c *gin.Context) {
	agentID := c.Param("agent_id")
	state, err := card.GetCard(c.Request.Context(), h.d.DB.Client, agentID, card.Config{})
	if err != nil {
		if ent.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "agent not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *handlers) listActiveAgents(c *gin.Context) {
	window := h.d.Config.StalenessThreshold
	agents, err := card.ListActiveAgents(c.Request.Context(), h.d.DB.Client, window)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}

	states := make([]card.State, 0, len(agents))
	for _, a := range agents {
		state, err := card.GetCard(c.Request.Context(), h.d.DB.Client, a.ID, card.Config{})
		if err != nil {
			continue
		}
		states = append(states, state)
	}
	c.JSON(http.StatusOK, gin.H{"agents": states})
}

func (h *handlers) getTranscript(c *gin.Context) {
	agentID := c.Param("agent_id")

	limit := card.MaxTranscriptPage
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	var before *int
	if v := c.Query("before_turn_id"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			before = &n
		}
	}

	turns, err := card.GetTranscript(c.Request.Context(), h.d.DB.Client, agentID, before, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"turns": turns})
}
