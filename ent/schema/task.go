package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Task holds the schema definition for the Task entity.
// A Task is one unit of user-requested work performed by an Agent.
type Task struct {
	ent.Schema
}

// Fields of the Task.
func (Task) Fields() []ent.Field {
	return []ent.Field{
		field.String("agent_id").
			Immutable(),

		// State machine (see pkg/statemachine for the transition table this
		// column is constrained by at the application layer).
		field.Enum("state").
			Values("idle", "commanded", "processing", "awaiting_input", "complete").
			Default("commanded"),

		field.Time("started_at").
			Default(time.Now).
			Immutable(),
		field.Time("completed_at").
			Optional().
			Nillable().
			Comment("Set iff state=complete"),

		field.Text("command_text").
			Optional().
			Nillable().
			Comment("Full user command text, may be appended to while commanded"),
		field.Text("full_output").
			Optional().
			Nillable().
			Comment("Stashed raw agent output when it differs from the completion turn text"),
		field.Text("instruction_summary").
			Optional().
			Nillable().
			Comment("AI-generated short instruction, written post-commit"),
		field.Text("completion_summary").
			Optional().
			Nillable().
			Comment("AI-generated completion summary, written post-commit"),
	}
}

// Edges of the Task.
func (Task) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("agent", Agent.Type).
			Ref("tasks").
			Field("agent_id").
			Unique().
			Required().
			Immutable(),
		edge.To("turns", Turn.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the Task.
func (Task) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("agent_id", "id"),
		index.Fields("agent_id", "state").
			Annotations(entsql.IndexWhere("state <> 'complete'")),
	}
}
