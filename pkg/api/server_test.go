package api

import (
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMount_RegistersExpectedRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	Mount(router, Deps{})

	want := map[string]bool{
		"GET /health":                    false,
		"POST /hook/session-start":       false,
		"POST /hook/respond":             false,
		"GET /hook/status":               false,
		"GET /agents":                    false,
		"GET /agents/:agent_id/card":     false,
		"GET /agents/:agent_id/transcript": false,
		"GET /events/stream":             false,
		"GET /debug/advisory-locks":      false,
	}
	for _, r := range router.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		if !found {
			t.Errorf("expected route %q to be registered", route)
		}
	}
}
