package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Agent holds the schema definition for the Agent entity.
// An Agent is one live (or historical) coding-agent process under observation.
type Agent struct {
	ent.Schema
}

// Fields of the Agent.
func (Agent) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("agent_id").
			Unique().
			Immutable().
			Comment("Server-assigned UUID"),
		field.String("project_id").
			Immutable(),
		field.String("claude_session_id").
			Optional().
			Nillable().
			Comment("Externally-issued session identifier, if any"),
		field.String("pane_id").
			Optional().
			Nillable().
			Comment("Terminal-multiplexer pane address for liveness probing and sends"),
		field.String("transcript_path").
			Optional().
			Nillable(),
		field.Time("started_at").
			Default(time.Now).
			Immutable(),
		field.Time("last_seen_at").
			Default(time.Now),
		field.Time("ended_at").
			Optional().
			Nillable().
			Comment("Monotone once set; reaper writes this"),
		field.String("ended_reason").
			Optional().
			Nillable().
			Comment("claude_exited | pane_not_found | stale_pane | inactivity_timeout | session_end"),
		field.Float("priority_score").
			Optional().
			Nillable().
			Comment("Projected field, written by the (out-of-scope) priority-scoring collaborator"),
		field.String("priority_reason").
			Optional().
			Nillable(),
	}
}

// Edges of the Agent.
func (Agent) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("project", Project.Type).
			Ref("agents").
			Field("project_id").
			Unique().
			Required().
			Immutable(),
		edge.To("tasks", Task.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the Agent.
func (Agent) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("project_id", "last_seen_at"),
		index.Fields("claude_session_id"),
		index.Fields("pane_id"),
		index.Fields("ended_at").
			Annotations(entsql.IndexWhere("ended_at IS NULL")),
	}
}
