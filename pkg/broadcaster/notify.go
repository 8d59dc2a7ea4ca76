package broadcaster

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
)

// pgNotifyPayloadLimit mirrors PostgreSQL's 8000-byte NOTIFY payload limit,
// with headroom for the truncation marker itself.
const pgNotifyPayloadLimit = 7900

// PgNotifier mirrors broadcast events through PostgreSQL NOTIFY on a fixed
// channel, grounded on the teacher's pkg/events publisher, so a second
// process can tail the same stream without sharing this broadcaster's
// in-memory state.
type PgNotifier struct {
	db      *sql.DB
	channel string
}

// NewPgNotifier wraps the store's connection pool.
func NewPgNotifier(db *sql.DB, channel string) *PgNotifier {
	return &PgNotifier{db: db, channel: channel}
}

// Notify is suitable as the Broadcaster's notify callback: it never
// returns an error to the caller, since a failed mirror must not affect
// the in-process fan-out that already succeeded.
func (n *PgNotifier) Notify(ctx context.Context, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		slog.Error("broadcaster: failed to marshal event for pg_notify", "error", err)
		return
	}

	payload = n.truncateIfNeeded(e, payload)

	if _, err := n.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, n.channel, string(payload)); err != nil {
		slog.Error("broadcaster: pg_notify failed", "channel", n.channel, "error", err)
	}
}

func (n *PgNotifier) truncateIfNeeded(e Event, payload []byte) []byte {
	if len(payload) <= pgNotifyPayloadLimit {
		return payload
	}

	truncated := map[string]any{
		"type":       e.Type,
		"event_id":   e.ID,
		"project_id": e.ProjectID,
		"agent_id":   e.AgentID,
		"truncated":  true,
	}
	out, err := json.Marshal(truncated)
	if err != nil {
		return []byte(fmt.Sprintf(`{"type":%q,"truncated":true}`, e.Type))
	}
	return out
}
