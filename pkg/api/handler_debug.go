package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// advisoryLocks is the read-only pg_locks/pg_stat_activity probe named in
// SPEC_FULL's observability section, grounded on the original service's
// advisory_lock.get_held_advisory_locks debug endpoint.
func (h *handlers) advisoryLocks(c *gin.Context) {
	locks, err := h.d.LockMgr.HeldLocks(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"locks": locks})
}
