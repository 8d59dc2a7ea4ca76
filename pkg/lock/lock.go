// Package lock provides cross-connection, session-scoped advisory locks
// keyed by agent identity, grounded on the original service's PostgreSQL
// advisory-lock wrapper. Each lock lives on a dedicated *sql.Conn distinct
// from whatever transaction the caller is running, so that intermediate
// commits inside the critical section do not release it.
package lock

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Namespace partitions the advisory-lock keyspace. Only one namespace is
// used today, but the type exists so a second lock domain never collides
// with agent locks by accident.
type Namespace int32

const (
	NamespaceAgent Namespace = 1
)

var (
	// ErrTimeout is returned when a blocking Lock could not be acquired
	// within the configured timeout.
	ErrTimeout = errors.New("lock: timed out waiting for advisory lock")

	// ErrReentrant is returned when the calling context already holds the
	// lock being requested. This is a programmer error: retrying or
	// waiting would deadlock, so it is surfaced immediately instead.
	ErrReentrant = errors.New("lock: reentrant acquisition of an already-held lock")
)

type heldKey struct{}

type heldSet map[string]struct{}

func held(ctx context.Context) heldSet {
	if s, ok := ctx.Value(heldKey{}).(heldSet); ok {
		return s
	}
	return nil
}

func withHeld(ctx context.Context, key string) context.Context {
	prev := held(ctx)
	next := make(heldSet, len(prev)+1)
	for k := range prev {
		next[k] = struct{}{}
	}
	next[key] = struct{}{}
	return context.WithValue(ctx, heldKey{}, next)
}

// Manager acquires and releases advisory locks against a database.
type Manager struct {
	db *sql.DB
}

// NewManager wraps the store's connection pool. Lock/TryLock each check
// out their own *sql.Conn from it for the duration of the hold.
func NewManager(db *sql.DB) *Manager {
	return &Manager{db: db}
}

// Handle represents one held advisory lock. Release is idempotent-safe to
// call from a defer even after an earlier explicit Release.
type Handle struct {
	conn *sql.Conn
	ns   Namespace
	key  int32
	done bool
}

// lockKeyFromString hashes an arbitrary string identity down to a signed
// 32-bit advisory-lock key via the low 4 bytes of a BLAKE2b digest.
func lockKeyFromString(s string) int32 {
	sum := blake2b.Sum256([]byte(s))
	return int32(binary.BigEndian.Uint32(sum[:4]))
}

// Lock blocks until the agent's lock is acquired or timeout elapses.
// Returns a context carrying the held-lock marker so that a reentrant
// call from deeper in the same call chain is detected rather than
// deadlocking against itself.
func (m *Manager) Lock(ctx context.Context, agentID string, timeout time.Duration) (context.Context, *Handle, error) {
	key := fmt.Sprintf("%d:%s", NamespaceAgent, agentID)
	if _, ok := held(ctx)[key]; ok {
		return ctx, nil, ErrReentrant
	}

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("lock: acquire connection: %w", err)
	}

	lockKey := lockKeyFromString(agentID)
	timeoutMS := timeout.Milliseconds()
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET lock_timeout = '%dms'", timeoutMS)); err != nil {
		_ = conn.Close()
		return ctx, nil, fmt.Errorf("lock: set lock_timeout: %w", err)
	}

	_, err = conn.ExecContext(ctx, "SELECT pg_advisory_lock($1, $2)", int32(NamespaceAgent), lockKey)
	if err != nil {
		// PostgreSQL bug #17686: lock_timeout can fire after the lock was
		// actually granted but before this client observed the result.
		// Unconditionally attempt to release before giving up the
		// connection, regardless of which error we hit.
		if unlockErr := unlock(ctx, conn, lockKey); unlockErr != nil {
			slog.Warn("lock: unlock-after-failed-acquire also failed", "agent_id", agentID, "error", unlockErr)
		}
		_ = conn.Close()
		return ctx, nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	h := &Handle{conn: conn, ns: NamespaceAgent, key: lockKey}
	return withHeld(ctx, key), h, nil
}

// TryLock is the non-blocking variant: returns (nil, false, nil) rather
// than an error when the lock is busy or already held by this context.
func (m *Manager) TryLock(ctx context.Context, agentID string) (*Handle, bool, error) {
	key := fmt.Sprintf("%d:%s", NamespaceAgent, agentID)
	if _, ok := held(ctx)[key]; ok {
		return nil, false, nil
	}

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("lock: acquire connection: %w", err)
	}

	lockKey := lockKeyFromString(agentID)
	var acquired bool
	row := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1, $2)", int32(NamespaceAgent), lockKey)
	if err := row.Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("lock: try-acquire: %w", err)
	}
	if !acquired {
		_ = conn.Close()
		return nil, false, nil
	}

	return &Handle{conn: conn, ns: NamespaceAgent, key: lockKey}, true, nil
}

// Release unlocks and returns the dedicated connection to the pool.
func (h *Handle) Release(ctx context.Context) error {
	if h == nil || h.done {
		return nil
	}
	h.done = true
	defer h.conn.Close()
	return unlock(ctx, h.conn, h.key)
}

func unlock(ctx context.Context, conn *sql.Conn, key int32) error {
	_, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1, $2)", int32(NamespaceAgent), key)
	return err
}

// HeldLock describes one row of the debug introspection probe.
type HeldLock struct {
	PID          int
	Application  string
	State        string
	QueryStart   time.Time
	EntityID     int32
	Mode         string
	Granted      bool
	DurationSecs float64
}

// HeldLocks enumerates currently-held advisory locks, grounded on the
// pg_locks/pg_stat_activity join the original debug probe used. Exposed as
// the `advisory-locks` CLI subcommand.
func (m *Manager) HeldLocks(ctx context.Context) ([]HeldLock, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT l.pid,
		       COALESCE(a.application_name, ''),
		       COALESCE(a.state, ''),
		       COALESCE(a.query_start, now()),
		       l.objid,
		       l.mode,
		       l.granted,
		       EXTRACT(EPOCH FROM (now() - a.query_start))
		FROM pg_locks l
		JOIN pg_stat_activity a ON a.pid = l.pid
		WHERE l.locktype = 'advisory'
		ORDER BY a.query_start DESC`)
	if err != nil {
		return nil, fmt.Errorf("lock: held-locks query: %w", err)
	}
	defer rows.Close()

	var out []HeldLock
	for rows.Next() {
		var h HeldLock
		if err := rows.Scan(&h.PID, &h.Application, &h.State, &h.QueryStart, &h.EntityID, &h.Mode, &h.Granted, &h.DurationSecs); err != nil {
			return nil, fmt.Errorf("lock: scan held lock: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
