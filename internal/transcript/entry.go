// Package transcript persists interview conversations as JSON Lines files and
// reads them back for analysis.
//
// Every conversation is one file named after its conversation id. The first
// line is a "metadata" entry, followed by "message" entries (user and
// assistant turns), "event" entries (for example "vision" engagement events)
// and finally a "conversation_end" entry when the session finished cleanly.
package transcript

// Entry types written by [Writer].
const (
	TypeMetadata        = "metadata"
	TypeMessage         = "message"
	TypeEvent           = "event"
	TypeConversationEnd = "conversation_end"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Entry is one decoded transcript line. Transcripts are heterogeneous, so an
// entry is kept as a generic JSON object; the accessors return zero values
// for missing or mistyped fields.
type Entry map[string]any

// Type returns the "type" field.
func (e Entry) Type() string { return e.str("type") }

// Event returns the "event" field of event entries.
func (e Entry) Event() string { return e.str("event") }

// Role returns the "role" field of message entries.
func (e Entry) Role() string { return e.str("role") }

// Text returns the "text" field.
func (e Entry) Text() string { return e.str("text") }

// ConversationID returns the "conversation_id" field.
func (e Entry) ConversationID() string { return e.str("conversation_id") }

// Metadata returns the "metadata" object, or nil.
func (e Entry) Metadata() map[string]any {
	md, _ := e["metadata"].(map[string]any)
	return md
}

func (e Entry) str(key string) string {
	s, _ := e[key].(string)
	return s
}
