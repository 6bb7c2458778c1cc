package conversation

// EntryType discriminates the closed set of record kinds a buffer can hold.
// It serializes as its string tag.
type EntryType string

const (
	// EntryUser is a user-authored message.
	EntryUser EntryType = "user"
	// EntryAssistant is committed assistant output for one turn.
	EntryAssistant EntryType = "assistant"
	// EntrySystem is a system prompt entry.
	EntrySystem EntryType = "system"
	// EntryToolCall records a tool invocation requested by the agent.
	EntryToolCall EntryType = "tool_call"
	// EntryToolResult records the outcome of a tool invocation.
	EntryToolResult EntryType = "tool_result"
	// EntryInjection is a cross-agent update broadcast by the coordinator.
	EntryInjection EntryType = "injection"
	// EntryReasoning is internal chain-of-thought captured during a turn.
	EntryReasoning EntryType = "reasoning"
	// EntryMemoryContext is recalled long-term context supplied to the agent.
	EntryMemoryContext EntryType = "memory_context"
	// EntryCompressionRequest asks the agent to compress its own history.
	EntryCompressionRequest EntryType = "compression_request"
	// EntryEnforcement is a corrective message after a protocol violation.
	EntryEnforcement EntryType = "enforcement"
)

// Entry is one immutable record in an agent's buffer. Once appended it is
// never mutated or reordered; append order is the authoritative ordering,
// timestamps are advisory.
type Entry struct {
	Timestamp float64        `json:"timestamp"`
	Type      EntryType      `json:"entry_type"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// PendingToolCall is mutable scratch state for a tool call whose result has
// not yet been committed by FlushTurn. Result stays nil until a matching
// result arrives.
type PendingToolCall struct {
	Name      string
	Arguments string
	CallID    string
	Result    *string
	Timestamp float64
}
