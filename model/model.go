// Package model defines the normalized boundary types between the
// coordination core and remote backends: a closed tagged stream event set,
// the flat tool definition shape, usage accounting and the minimal
// create/get backend interface. Vendor adapters convert SDK shapes into
// these types immediately at the boundary so the rest of the core never
// performs speculative attribute access.
package model

import (
	"context"

	"github.com/parleyhq/parley/conversation"
)

// EventKind discriminates the closed set of stream event tags.
type EventKind string

const (
	// EventContent is a delta of assistant answer text.
	EventContent EventKind = "content"
	// EventThought is a delta of reasoning text.
	EventThought EventKind = "thought"
	// EventToolCalls carries the complete tool calls of a turn. Emitted only
	// once the stream has ended, never interleaved with content.
	EventToolCalls EventKind = "tool_calls"
	// EventError reports a stream-level failure.
	EventError EventKind = "error"
	// EventDone terminates the sequence, carrying the terminal interaction.
	EventDone EventKind = "done"
)

// StreamEvent is one element of the uniform event sequence both execution
// modes normalize into.
type StreamEvent struct {
	Kind         EventKind
	Text         string       // content / thought delta
	ToolCalls    []ToolCall   // tool_calls
	ErrorMessage string       // error
	Response     *Interaction // done: terminal snapshot
}

// ToolCall is a function call request surfaced by a backend, unified across
// vendors.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // serialized JSON
}

// ToolDefinition exposes a callable function to the backend in the flat
// {type, name, description, parameters} shape.
type ToolDefinition struct {
	Type        string         `json:"type"` // "function"
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON schema
}

// Usage captures token accounting exposed by a terminal response or job.
type Usage struct {
	PromptTokens  int `json:"prompt_token_count"`
	OutputTokens  int `json:"candidates_token_count"`
	ThoughtTokens int `json:"thoughts_token_count"`
	CachedTokens  int `json:"cached_content_token_count"`
}

// Add accumulates another usage report into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.OutputTokens += other.OutputTokens
	u.ThoughtTokens += other.ThoughtTokens
	u.CachedTokens += other.CachedTokens
}

// Total returns the sum of all token categories.
func (u Usage) Total() int {
	return u.PromptTokens + u.OutputTokens + u.ThoughtTokens + u.CachedTokens
}

// Status is the lifecycle state of a remote interaction.
type Status string

const (
	// StatusWorking means the job is still running; keep polling.
	StatusWorking Status = "working"
	// StatusCompleted means the job finished with a final response.
	StatusCompleted Status = "completed"
	// StatusRequiresAction means the job stopped awaiting tool results.
	StatusRequiresAction Status = "requires_action"
	// StatusFailed means the job failed remotely.
	StatusFailed Status = "failed"
)

// Request is the normalized input for one remote interaction.
type Request struct {
	Target     string                 `json:"target"` // model name or long-running job type
	Messages   []conversation.Message `json:"messages"`
	Tools      []ToolDefinition       `json:"tools,omitempty"`
	Stream     bool                   `json:"stream,omitempty"`
	Background bool                   `json:"background,omitempty"`
	PreviousID string                 `json:"previous_id,omitempty"` // stateful continuation
}

// Interaction is a remote job or response snapshot. A streaming interaction
// carries a live Events channel; a polled one carries terminal fields once
// its Status leaves working.
type Interaction struct {
	ID           string
	Status       Status
	Events       <-chan StreamEvent // non-nil only in streaming mode
	Content      string
	Thought      string
	ToolCalls    []ToolCall
	Usage        *Usage
	ErrorMessage string
	// SessionID is the continuation identifier for stateful backends,
	// persisted on completion when session persistence is enabled by policy.
	SessionID string
}

// Backend is the abstract "create/get a remote interaction" capability the
// core consumes. Errors returned by implementations should be normalized
// into *backoff.UpstreamError where status information is available; the
// retry layer degrades gracefully to message-pattern matching when not.
type Backend interface {
	Create(ctx context.Context, req Request) (*Interaction, error)
	Get(ctx context.Context, id string) (*Interaction, error)
}
