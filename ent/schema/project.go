package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Project holds the schema definition for the Project entity.
// A Project is a codebase being observed; it owns the Agents working in it.
type Project struct {
	ent.Schema
}

// Fields of the Project.
func (Project) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("project_id").
			Unique().
			Immutable(),
		field.String("path").
			Unique().
			Immutable().
			Comment("Absolute filesystem path; identity of the project"),
		field.String("slug").
			Unique().
			Comment("URL-safe display identifier, numeric-suffixed on collision"),
		field.String("name"),
		field.String("description").
			Optional().
			Nillable(),
		field.String("upstream_repo").
			Optional().
			Nillable().
			Comment("e.g. origin remote URL, best-effort"),
		field.Bool("paused").
			Default(false),
		field.Time("paused_at").
			Optional().
			Nillable(),
		field.String("paused_reason").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Edges of the Project.
func (Project) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("agents", Agent.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the Project.
func (Project) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("slug"),
		index.Fields("paused"),
	}
}
