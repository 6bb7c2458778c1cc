// Package tool implements the function calling subsystem that lets agents
// invoke structured capabilities with schema validated arguments and
// consistent error handling, plus the coordination workflow primitives
// (vote, new_answer, ask_others) and the circuit breaker gating flaky
// MCP servers.
package tool

import (
	"context"
	"fmt"

	"github.com/parleyhq/parley/internal/util"
)

// Kind partitions tools by origin.
type Kind string

const (
	// KindCustom marks user-registered tools executed locally.
	KindCustom Kind = "custom"
	// KindMCP marks tools served by Model-Context-Protocol servers.
	KindMCP Kind = "mcp"
	// KindWorkflow marks coordination primitives. Never executed locally;
	// they are surfaced to the coordinator unexecuted.
	KindWorkflow Kind = "workflow"
)

// Tool is an executable capability exposed to agents.
//
// Implementations should provide clear names (snake_case), proper JSON
// schema for parameters, and be safe for concurrent use.
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description is provided to the model to explain when to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with already-decoded arguments.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// ValidationError re-exports the shared schema validation error type.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}

// ExecutionConfig describes how one category of tool is executed and
// reported. Stateless; constructed once per category.
type ExecutionConfig struct {
	Kind        Kind
	ChunkLabel  string // label attached to streamed execution output
	StatusLabel string // label attached to status notifications
}

// CustomExecution is the reporting configuration for user-registered tools.
func CustomExecution() ExecutionConfig {
	return ExecutionConfig{Kind: KindCustom, ChunkLabel: "tool", StatusLabel: "tool_status"}
}

// MCPExecution is the reporting configuration for MCP-served tools.
func MCPExecution() ExecutionConfig {
	return ExecutionConfig{Kind: KindMCP, ChunkLabel: "mcp_tool", StatusLabel: "mcp_status"}
}
