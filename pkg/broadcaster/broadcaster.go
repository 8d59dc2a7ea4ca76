// Package broadcaster is the in-process publish/subscribe fan-out for
// timeline events, grounded on the original service's broadcaster plus
// tarsy's pkg/events publisher for the pg_notify mirror.
package broadcaster

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names the fixed catalogue of events the core emits.
type EventType string

const (
	EventSessionCreated EventType = "session_created"
	EventSessionEnded   EventType = "session_ended"
	EventStateChanged   EventType = "state_changed"
	EventTurnCreated    EventType = "turn_created"
	EventTurnUpdated    EventType = "turn_updated"
	EventCardRefresh    EventType = "card_refresh"
)

// ErrSaturated is returned by Subscribe when the broadcaster is already at
// its configured subscriber capacity.
var ErrSaturated = errors.New("broadcaster: at subscriber capacity")

// Event is one fan-out message. ID is a monotonic per-broadcaster counter,
// not a database id.
type Event struct {
	ID        uint64
	Type      EventType
	ProjectID string
	AgentID   string
	Payload   map[string]any
	CreatedAt time.Time
}

// Filter restricts which events a subscriber receives. A zero-value Filter
// (all fields empty) matches everything.
type Filter struct {
	Types     []EventType
	ProjectID string
	AgentID   string
}

func (f Filter) matches(e Event) bool {
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if t == e.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.ProjectID != "" && f.ProjectID != e.ProjectID {
		return false
	}
	if f.AgentID != "" && f.AgentID != e.AgentID {
		return false
	}
	return true
}

const (
	defaultQueueDepth    = 64
	maxFailedWrites       = 3
	defaultIdleTimeout    = 10 * time.Minute
)

type subscriber struct {
	id          string
	filter      Filter
	queue       chan Event
	failedWrite int
	lastActive  time.Time
	closed      bool
}

// Config tunes broadcaster limits.
type Config struct {
	MaxSubscribers int
	IdleTimeout    time.Duration
}

// Broadcaster fans events out to registered subscribers.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[string]*subscriber
	nextEventID uint64
	cfg         Config

	notify func(ctx context.Context, e Event) // optional pg_notify mirror
}

// New constructs a Broadcaster. notify, if non-nil, is invoked (best
// effort, errors logged and swallowed) for every broadcast event so a
// second process can tail the same stream via pg_notify.
func New(cfg Config, notify func(ctx context.Context, e Event)) *Broadcaster {
	if cfg.MaxSubscribers <= 0 {
		cfg.MaxSubscribers = 256
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	return &Broadcaster{
		subscribers: make(map[string]*subscriber),
		cfg:         cfg,
		notify:      notify,
	}
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id string
	b  *Broadcaster
	ch chan Event
}

// Subscribe registers a new subscriber with the given filter.
func (b *Broadcaster) Subscribe(filter Filter) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subscribers) >= b.cfg.MaxSubscribers {
		return nil, ErrSaturated
	}

	id := uuid.NewString()
	sub := &subscriber{
		id:         id,
		filter:     filter,
		queue:      make(chan Event, defaultQueueDepth),
		lastActive: time.Now(),
	}
	b.subscribers[id] = sub
	return &Subscription{id: id, b: b, ch: sub.queue}, nil
}

// Next blocks for the next matching event or ctx cancellation/timeout.
// Timeouts are not errors: callers treat them as heartbeats.
func (sub *Subscription) Next(ctx context.Context) (*Event, error) {
	select {
	case e, ok := <-sub.ch:
		if !ok {
			return nil, errors.New("broadcaster: subscription closed")
		}
		return &e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close unregisters the subscription.
func (sub *Subscription) Close() {
	sub.b.mu.Lock()
	defer sub.b.mu.Unlock()
	if s, ok := sub.b.subscribers[sub.id]; ok && !s.closed {
		s.closed = true
		close(s.queue)
		delete(sub.b.subscribers, sub.id)
	}
}

// Broadcast fans an event out to every matching, active subscriber and
// mirrors it through the configured pg_notify sink, if any.
func (b *Broadcaster) Broadcast(ctx context.Context, eventType EventType, projectID, agentID string, payload map[string]any) {
	b.mu.Lock()
	b.nextEventID++
	e := Event{
		ID:        b.nextEventID,
		Type:      eventType,
		ProjectID: projectID,
		AgentID:   agentID,
		Payload:   payload,
		CreatedAt: time.Now(),
	}

	for _, sub := range b.subscribers {
		if sub.closed || !sub.filter.matches(e) {
			continue
		}
		select {
		case sub.queue <- e:
			sub.failedWrite = 0
			sub.lastActive = time.Now()
		default:
			sub.failedWrite++
			slog.Warn("broadcaster: dropped event for slow subscriber", "subscriber_id", sub.id, "failed_writes", sub.failedWrite)
		}
	}
	b.mu.Unlock()

	if b.notify != nil {
		b.notify(ctx, e)
	}
}

// SweepStale evicts subscribers with too many consecutive failed writes or
// that have been idle past the configured timeout. Intended to run
// periodically from a background goroutine.
func (b *Broadcaster) SweepStale() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	evicted := 0
	for id, sub := range b.subscribers {
		if sub.failedWrite >= maxFailedWrites || time.Since(sub.lastActive) > b.cfg.IdleTimeout {
			sub.closed = true
			close(sub.queue)
			delete(b.subscribers, id)
			evicted++
		}
	}
	return evicted
}

// SubscriberCount reports current registration count, for health checks.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
