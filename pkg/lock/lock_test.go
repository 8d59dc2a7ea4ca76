package lock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockKeyFromString_Deterministic(t *testing.T) {
	a := lockKeyFromString("agent-123")
	b := lockKeyFromString("agent-123")
	c := lockKeyFromString("agent-456")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestHeldContext_TracksReentrancy(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, held(ctx))

	ctx2 := withHeld(ctx, "1:agent-a")
	assert.Contains(t, held(ctx2), "1:agent-a")
	assert.NotContains(t, held(ctx), "1:agent-a")

	ctx3 := withHeld(ctx2, "1:agent-b")
	assert.Contains(t, held(ctx3), "1:agent-a")
	assert.Contains(t, held(ctx3), "1:agent-b")
}
