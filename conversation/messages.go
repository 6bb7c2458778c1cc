package conversation

// Role is a wire-protocol conversation role.
type Role string

const (
	// RoleSystem marks system prompt messages.
	RoleSystem Role = "system"
	// RoleUser marks user-side messages (including injections and enforcement).
	RoleUser Role = "user"
	// RoleAssistant marks agent output messages.
	RoleAssistant Role = "assistant"
	// RoleTool marks tool result messages correlated by call id.
	RoleTool Role = "tool"
)

// ToolCallRef is a tool call descriptor carried inside an assistant message.
type ToolCallRef struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is the generic (OpenAI-style) wire message produced by replaying a
// buffer. Assistant messages batch all consecutive tool calls of a turn into
// ToolCalls; tool results become tool-role messages keyed by ToolCallID.
type Message struct {
	Role       Role          `json:"role"`
	Content    string        `json:"content,omitempty"`
	ToolCalls  []ToolCallRef `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// Block is a polymorphic segment of an Anthropic-style message. Concrete
// block types implement the unexported isBlock marker enabling a closed set.
type Block interface{ isBlock() }

// TextBlock is a plain text content segment.
type TextBlock struct {
	Text string
}

func (TextBlock) isBlock() {}

// ToolUseBlock requests execution of a named tool.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input string // serialized JSON arguments
}

func (ToolUseBlock) isBlock() {}

// ToolResultBlock carries a tool outcome correlated to its tool use id.
type ToolResultBlock struct {
	ToolUseID string
	Content   string
}

func (ToolResultBlock) isBlock() {}

// AnthropicMessage is an Anthropic-style message of role plus ordered blocks.
type AnthropicMessage struct {
	Role   Role
	Blocks []Block
}

// Projection controls how committed entries replay into messages.
type Projection struct {
	// IncludeReasoning replays reasoning entries as assistant messages.
	// Default false: internal chain-of-thought is not leaked unless requested.
	IncludeReasoning bool
}

// WithReasoning includes reasoning entries in the projection.
func WithReasoning() func(p *Projection) {
	return func(p *Projection) { p.IncludeReasoning = true }
}

func metaString(md map[string]any, key string) string {
	if md == nil {
		return ""
	}
	if s, ok := md[key].(string); ok {
		return s
	}
	return ""
}

// Messages replays committed entries into the generic message-list shape.
// The projection is deterministic and pure: it never mutates the buffer.
func (b *Buffer) Messages(optFns ...func(p *Projection)) []Message {
	var p Projection
	for _, fn := range optFns {
		fn(&p)
	}
	return b.project(p, false)
}

// OpenAIMessages replays entries for OpenAI-style chat protocols. Tool calls
// batch into a single assistant message; results become tool-role messages.
func (b *Buffer) OpenAIMessages(optFns ...func(p *Projection)) []Message {
	return b.Messages(optFns...)
}

// SimpleMessages replays only textual conversation (no tool traffic), for
// backends without tool support.
func (b *Buffer) SimpleMessages(optFns ...func(p *Projection)) []Message {
	var p Projection
	for _, fn := range optFns {
		fn(&p)
	}
	return b.project(p, true)
}

func (b *Buffer) project(p Projection, simple bool) []Message {
	entries := b.Entries()
	var out []Message

	for i := 0; i < len(entries); i++ {
		e := entries[i]
		switch e.Type {
		case EntrySystem, EntryMemoryContext:
			out = append(out, Message{Role: RoleSystem, Content: e.Content})
		case EntryUser, EntryInjection, EntryEnforcement, EntryCompressionRequest:
			out = append(out, Message{Role: RoleUser, Content: e.Content})
		case EntryAssistant:
			out = append(out, Message{Role: RoleAssistant, Content: e.Content})
		case EntryReasoning:
			if p.IncludeReasoning {
				out = append(out, Message{Role: RoleAssistant, Content: e.Content})
			}
		case EntryToolCall:
			if simple {
				continue
			}
			// Batch the whole run of calls/results belonging to this turn:
			// some protocols reject one tool call per message.
			calls, results, next := collectToolRun(entries, i)
			out = append(out, Message{Role: RoleAssistant, ToolCalls: calls})
			out = append(out, results...)
			i = next - 1
		case EntryToolResult:
			if simple {
				continue
			}
			out = append(out, Message{
				Role:       RoleTool,
				Content:    e.Content,
				ToolCallID: metaString(e.Metadata, "call_id"),
			})
		}
	}
	return out
}

// collectToolRun gathers the consecutive tool_call/tool_result entries
// starting at index i, returning batched call refs, ordered result messages
// and the index of the first entry past the run.
func collectToolRun(entries []Entry, i int) ([]ToolCallRef, []Message, int) {
	var calls []ToolCallRef
	var results []Message
	for ; i < len(entries); i++ {
		e := entries[i]
		switch e.Type {
		case EntryToolCall:
			calls = append(calls, ToolCallRef{
				ID:        metaString(e.Metadata, "call_id"),
				Name:      metaString(e.Metadata, "tool_name"),
				Arguments: metaString(e.Metadata, "arguments"),
			})
		case EntryToolResult:
			results = append(results, Message{
				Role:       RoleTool,
				Content:    e.Content,
				ToolCallID: metaString(e.Metadata, "call_id"),
			})
		default:
			return calls, results, i
		}
	}
	return calls, results, i
}

// AnthropicMessages replays entries for the Anthropic wire shape: tool calls
// become tool_use blocks in one assistant message, tool results become
// tool_result blocks inside a user message, and memory context is delivered
// as an explicitly labelled user message.
func (b *Buffer) AnthropicMessages(optFns ...func(p *Projection)) []AnthropicMessage {
	var p Projection
	for _, fn := range optFns {
		fn(&p)
	}

	entries := b.Entries()
	var out []AnthropicMessage

	for i := 0; i < len(entries); i++ {
		e := entries[i]
		switch e.Type {
		case EntrySystem:
			out = append(out, AnthropicMessage{Role: RoleSystem, Blocks: []Block{TextBlock{Text: e.Content}}})
		case EntryMemoryContext:
			out = append(out, AnthropicMessage{
				Role:   RoleUser,
				Blocks: []Block{TextBlock{Text: "[Memory context]\n" + e.Content}},
			})
		case EntryUser, EntryInjection, EntryEnforcement, EntryCompressionRequest:
			out = append(out, AnthropicMessage{Role: RoleUser, Blocks: []Block{TextBlock{Text: e.Content}}})
		case EntryAssistant:
			out = append(out, AnthropicMessage{Role: RoleAssistant, Blocks: []Block{TextBlock{Text: e.Content}}})
		case EntryReasoning:
			if p.IncludeReasoning {
				out = append(out, AnthropicMessage{Role: RoleAssistant, Blocks: []Block{TextBlock{Text: e.Content}}})
			}
		case EntryToolCall:
			calls, results, next := collectToolRun(entries, i)
			useBlocks := make([]Block, 0, len(calls))
			for _, c := range calls {
				useBlocks = append(useBlocks, ToolUseBlock{ID: c.ID, Name: c.Name, Input: c.Arguments})
			}
			out = append(out, AnthropicMessage{Role: RoleAssistant, Blocks: useBlocks})
			if len(results) > 0 {
				resBlocks := make([]Block, 0, len(results))
				for _, r := range results {
					resBlocks = append(resBlocks, ToolResultBlock{ToolUseID: r.ToolCallID, Content: r.Content})
				}
				out = append(out, AnthropicMessage{Role: RoleUser, Blocks: resBlocks})
			}
			i = next - 1
		case EntryToolResult:
			out = append(out, AnthropicMessage{
				Role:   RoleUser,
				Blocks: []Block{ToolResultBlock{ToolUseID: metaString(e.Metadata, "call_id"), Content: e.Content}},
			})
		}
	}
	return out
}
