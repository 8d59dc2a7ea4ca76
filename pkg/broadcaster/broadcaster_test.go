package broadcaster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcast_FilterByType(t *testing.T) {
	b := New(Config{}, nil)
	sub, err := b.Subscribe(Filter{Types: []EventType{EventTurnCreated}})
	require.NoError(t, err)
	defer sub.Close()

	b.Broadcast(context.Background(), EventCardRefresh, "proj-1", "agent-1", nil)
	b.Broadcast(context.Background(), EventTurnCreated, "proj-1", "agent-1", map[string]any{"turn_id": 1})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	e, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventTurnCreated, e.Type)
}

func TestBroadcast_FilterByAgent(t *testing.T) {
	b := New(Config{}, nil)
	sub, err := b.Subscribe(Filter{AgentID: "agent-1"})
	require.NoError(t, err)
	defer sub.Close()

	b.Broadcast(context.Background(), EventCardRefresh, "proj-1", "agent-2", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubscribe_SaturatedRejects(t *testing.T) {
	b := New(Config{MaxSubscribers: 1}, nil)
	sub1, err := b.Subscribe(Filter{})
	require.NoError(t, err)
	defer sub1.Close()

	_, err = b.Subscribe(Filter{})
	assert.ErrorIs(t, err, ErrSaturated)
}

func TestSweepStale_EvictsOnFailedWrites(t *testing.T) {
	b := New(Config{}, nil)
	sub, err := b.Subscribe(Filter{})
	require.NoError(t, err)

	// Fill and overflow the bounded queue beyond maxFailedWrites.
	for i := 0; i < defaultQueueDepth+maxFailedWrites+1; i++ {
		b.Broadcast(context.Background(), EventCardRefresh, "", "", nil)
	}

	evicted := b.SweepStale()
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 0, b.SubscriberCount())
	_ = sub
}
