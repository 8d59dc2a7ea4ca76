package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentwatch/headspace/pkg/broadcaster"
)

func mustMarshal(e *broadcaster.Event) string {
	b, err := json.Marshal(e)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// eventStream serves the dashboard's live feed as Server-Sent Events over
// pkg/broadcaster.Subscribe, matching the "Event subscribe" collaborator
// contract: Next blocks for a matching event or ctx cancellation, and a
// client-side timeout is just a heartbeat, never an error.
func (h *handlers) eventStream(c *gin.Context) {
	filter := broadcaster.Filter{
		ProjectID: c.Query("project_id"),
		AgentID:   c.Query("agent_id"),
	}

	sub, err := h.d.Broadcaster.Subscribe(filter)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "message": err.Error()})
		return
	}
	defer sub.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		event, err := sub.Next(ctx)
		if err != nil {
			return
		}
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event.Type, mustMarshal(event))
		c.Writer.Flush()
	}
}
