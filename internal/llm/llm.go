// Package llm defines the chat-model collaborator boundary for the generation
// agent. Provider response shapes are normalized once, here, into Response;
// the pipeline never inspects provider-specific metadata.
package llm

import "context"

// Role labels a chat message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is one chat turn sent to a model.
type Message struct {
	Role    Role
	Content string
}

// TokenUsage accumulates token counts across calls. Counts only grow.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Add folds another usage sample into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Prompt += other.Prompt
	u.Completion += other.Completion
	u.Total += other.Total
}

// Response is the normalized model output: raw text plus usage.
type Response struct {
	Content string
	Usage   TokenUsage
}

// ChatModel is the minimal surface the pipeline invokes.
type ChatModel interface {
	Name() string
	Invoke(ctx context.Context, msgs []Message) (Response, error)
}

// Schema is a provider-neutral response schema (JSON-schema-shaped maps:
// "type", "properties", "items", "required", "description").
type Schema = map[string]any

// StructuredInvoker is implemented by models that support schema-constrained
// output. Callers fall back to free-text JSON extraction when the model does
// not implement it or the structured call fails.
type StructuredInvoker interface {
	InvokeStructured(ctx context.Context, msgs []Message, schema Schema) (Response, error)
}

// TemperatureBinder is implemented by models that can be rebound to a
// different sampling temperature (used by the relationship retry path).
type TemperatureBinder interface {
	WithTemperature(t float32) ChatModel
}

// UserMessage is shorthand for a single user turn.
func UserMessage(content string) []Message {
	return []Message{{Role: RoleUser, Content: content}}
}
