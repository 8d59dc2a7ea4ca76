package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Event holds the schema definition for the Event entity.
// Events are the append-only audit trail of every state transition; they
// reference other entities by id but are not owned by them, so that the
// trail survives deletion of the rows it describes.
type Event struct {
	ent.Schema
}

// Fields of the Event.
func (Event) Fields() []ent.Field {
	return []ent.Field{
		field.String("project_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("agent_id").
			Optional().
			Nillable().
			Immutable(),
		field.Int("task_id").
			Optional().
			Nillable().
			Immutable(),
		field.Int("turn_id").
			Optional().
			Nillable().
			Immutable(),

		field.String("trigger").
			Immutable().
			Comment("Short tagged string, e.g. hook:stop:deferred_question, reaper:claude_exited"),
		field.String("from_state").
			Optional().
			Nillable().
			Immutable(),
		field.String("to_state").
			Optional().
			Nillable().
			Immutable(),
		field.Float("confidence").
			Optional().
			Nillable().
			Immutable(),
		field.JSON("payload", map[string]interface{}{}).
			Optional().
			Immutable(),

		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the Event.
// Deliberately none: Event references other entities by plain id fields
// rather than ent edges, so deleting a Project/Agent/Task/Turn never
// cascades into the audit trail.
func (Event) Edges() []ent.Edge { return nil }

// Indexes of the Event.
func (Event) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("agent_id", "created_at"),
		index.Fields("task_id"),
		index.Fields("trigger"),
	}
}
