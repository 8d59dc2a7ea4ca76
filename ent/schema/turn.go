package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Turn holds the schema definition for the Turn entity.
// A Turn is one atomic message within a Task.
type Turn struct {
	ent.Schema
}

// Fields of the Turn.
func (Turn) Fields() []ent.Field {
	return []ent.Field{
		field.Int("task_id").
			Immutable(),

		field.Enum("actor").
			Values("user", "agent").
			Immutable(),

		// Intent semantics:
		//   command      — a user instruction that opens or continues a task
		//   answer       — a user reply to an outstanding agent question
		//   progress     — agent narration with no state-relevant meaning
		//   question     — agent is blocked on the user (moves task to awaiting_input)
		//   completion   — agent signals the task is done via closing language
		//   end_of_task  — agent signals completion via an explicit control message
		field.Enum("intent").
			Values("command", "answer", "progress", "question", "completion", "end_of_task"),

		field.Text("text"),

		field.Time("timestamp").
			Default(time.Now),
		field.Enum("timestamp_source").
			Values("server", "jsonl", "user").
			Default("server"),

		field.String("content_hash").
			Comment("16-hex-char hash of actor+normalized text, used for reconciliation dedup"),
		field.String("legacy_content_hash").
			Optional().
			Nillable().
			Comment("Hash computed over text truncated to 200 chars, for pre-migration rows"),

		field.Int("answers_turn_id").
			Optional().
			Nillable().
			Comment("Set when actor=user intent=answer: the question turn being answered"),

		field.JSON("question_payload", map[string]interface{}{}).
			Optional().
			Comment("Structured question: text, options, source tool"),

		field.JSON("file_metadata", map[string]interface{}{}).
			Optional().
			Comment("Attached-file metadata carried over from a file-upload-pending hook flag"),

		field.Bool("is_internal").
			Default(false).
			Comment("Sub-agent-protocol chatter, hidden from transcripts by default"),

		field.Text("summary").
			Optional().
			Nillable(),
		field.Time("summary_generated_at").
			Optional().
			Nillable(),
	}
}

// Edges of the Turn.
func (Turn) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("task", Task.Type).
			Ref("turns").
			Field("task_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the Turn.
func (Turn) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("task_id", "timestamp", "id"),
		index.Fields("task_id", "content_hash"),
		index.Fields("task_id", "legacy_content_hash"),
	}
}
