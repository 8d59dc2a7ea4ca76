// Package api is the thin HTTP host-wiring layer around the core's hook
// ingest, read projections, and event stream. It consumes the core as a
// library — no business logic lives here, only request parsing,
// correlation, dispatch, and response shaping — grounded on the original
// service's routes/hooks.py and the teacher's gin-based cmd/tarsy wiring.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentwatch/headspace/pkg/broadcaster"
	"github.com/agentwatch/headspace/pkg/config"
	"github.com/agentwatch/headspace/pkg/correlator"
	"github.com/agentwatch/headspace/pkg/database"
	"github.com/agentwatch/headspace/pkg/hooks"
	"github.com/agentwatch/headspace/pkg/hookstate"
	"github.com/agentwatch/headspace/pkg/lifecycle"
	"github.com/agentwatch/headspace/pkg/lock"
	"github.com/agentwatch/headspace/pkg/version"
	"github.com/agentwatch/headspace/pkg/watchdog"
)

// Deps are the collaborators the host process hands to Mount. None of
// them are optional except where noted.
type Deps struct {
	DB          *database.Client
	Lifecycle   *lifecycle.Manager
	Ingestor    *hooks.Ingestor
	Correlator  *correlator.Correlator
	HookState   *hookstate.Store
	Broadcaster *broadcaster.Broadcaster
	LockMgr     *lock.Manager
	Config      *config.Config
	Watchdog    *watchdog.Watchdog
}

// Mount registers every route on router. Split into the three route
// groups SPEC_FULL's DOMAIN STACK table names: hook ingest, read
// projections, and the SSE event stream, plus a health and debug group.
func Mount(router *gin.Engine, d Deps) {
	h := &handlers{d: d}

	router.GET("/health", h.health)

	hook := router.Group("/hook")
	hook.POST("/session-start", h.sessionStart)
	hook.POST("/session-end", h.sessionEnd)
	hook.POST("/user-prompt-submit", h.userPromptSubmit)
	hook.POST("/pre-tool-use", h.preToolUse)
	hook.POST("/post-tool-use", h.postToolUse)
	hook.POST("/permission-request", h.permissionRequest)
	hook.POST("/stop", h.stop)
	hook.POST("/notification", h.notification)
	hook.POST("/respond", h.respond)
	hook.GET("/status", h.hookStatus)

	agents := router.Group("/agents")
	agents.GET("", h.listActiveAgents)
	agents.GET("/:agent_id/card", h.getCard)
	agents.GET("/:agent_id/transcript", h.getTranscript)

	router.GET("/events/stream", h.eventStream)

	debug := router.Group("/debug")
	debug.GET("/advisory-locks", h.advisoryLocks)
}

type handlers struct {
	d Deps
}

func (h *handlers) health(c *gin.Context) {
	status, err := database.Health(c.Request.Context(), h.d.DB.DB())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": version.Full(), "database": status})
}
