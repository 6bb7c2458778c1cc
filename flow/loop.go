// Package flow drives one agent turn against a remote backend: it re-issues
// the request while the model keeps requesting tool execution, executes
// custom and MCP tools, records calls and results into the agent's
// conversation buffer and surfaces coordination primitives unexecuted.
package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/parleyhq/parley/conversation"
	"github.com/parleyhq/parley/execution"
	"github.com/parleyhq/parley/logging"
	"github.com/parleyhq/parley/model"
	"github.com/parleyhq/parley/tool"
)

// State is one node of the continuation state machine.
type State string

const (
	// StateAwaitingModel waits on the remote backend.
	StateAwaitingModel State = "AWAITING_MODEL"
	// StateToolsRequested holds the model's requested tool calls.
	StateToolsRequested State = "TOOLS_REQUESTED"
	// StateExecutingTools runs custom and MCP calls locally.
	StateExecutingTools State = "EXECUTING_TOOLS"
	// StateDone terminates the turn.
	StateDone State = "DONE"
)

// TurnOutcome is the result of one completed continuation turn.
type TurnOutcome struct {
	State   State
	Content string
	Thought string
	// WorkflowCalls are coordination primitives the model emitted. They are
	// never executed here; the coordinator consumes them.
	WorkflowCalls []model.ToolCall
	// Iterations counts backend round trips performed this turn.
	Iterations int
	// CapReached reports that the continuation cap ended the turn.
	CapReached bool
}

type registration struct {
	tool   tool.Tool
	config tool.ExecutionConfig
	server string // MCP server id, empty for custom tools
}

// Options configures a Loop.
type Options struct {
	Logger logging.Logger
	// MaxContinuationTurns caps backend round trips per turn. Default 10.
	MaxContinuationTurns int
	// Breaker gates MCP servers that have failed repeatedly.
	Breaker *tool.CircuitBreaker
}

// Loop is the tool-call continuation state machine for one agent.
type Loop struct {
	executor *execution.Executor
	logger   logging.Logger
	maxTurns int
	breaker  *tool.CircuitBreaker
	registry map[string]registration
}

// New constructs a Loop around an execution executor.
func New(executor *execution.Executor, optFns ...func(o *Options)) *Loop {
	opts := Options{
		Logger:               logging.NoOpLogger{},
		MaxContinuationTurns: 10,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Breaker == nil {
		opts.Breaker = tool.NewCircuitBreaker()
	}
	return &Loop{
		executor: executor,
		logger:   opts.Logger,
		maxTurns: opts.MaxContinuationTurns,
		breaker:  opts.Breaker,
		registry: make(map[string]registration),
	}
}

// RegisterTool adds a user-registered tool executed locally.
func (l *Loop) RegisterTool(t tool.Tool) {
	l.registry[t.Name()] = registration{tool: t, config: tool.CustomExecution()}
}

// RegisterMCPTool adds a tool served by the named MCP server. Execution is
// gated by the circuit breaker keyed on that server.
func (l *Loop) RegisterMCPTool(t tool.Tool, server string) {
	l.registry[t.Name()] = registration{tool: t, config: tool.MCPExecution(), server: server}
}

// Definitions returns the registered tools in backend wire shape.
func (l *Loop) Definitions() []model.ToolDefinition {
	defs := make([]model.ToolDefinition, 0, len(l.registry))
	for _, reg := range l.registry {
		defs = append(defs, model.ToolDefinition{
			Type:        "function",
			Name:        reg.tool.Name(),
			Description: reg.tool.Description(),
			Parameters:  reg.tool.Parameters(),
		})
	}
	return defs
}

// RunTurn drives the state machine for one agent turn. The request's
// messages are rebuilt from the buffer on every iteration so accumulated
// tool results reach the next round trip. The buffer is flushed once per
// iteration; on return no pending state remains.
func (l *Loop) RunTurn(ctx context.Context, buf *conversation.Buffer, req model.Request) (*TurnOutcome, error) {
	outcome := &TurnOutcome{State: StateAwaitingModel}

	for iteration := 1; iteration <= l.maxTurns; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outcome.Iterations = iteration

		req.Messages = buf.Messages()
		result, err := l.executor.Run(ctx, req)
		if err != nil {
			return nil, err
		}

		if result.Thought != "" {
			buf.AddReasoning(result.Thought)
			outcome.Thought += result.Thought
		}
		if result.Content != "" {
			buf.AddContent(result.Content)
			outcome.Content += result.Content
		}

		workflow, executable := l.partition(result.ToolCalls)
		if len(workflow)+len(executable) > 0 {
			outcome.State = StateToolsRequested
		}

		if len(workflow) > 0 {
			// Coordination primitives terminate the turn unexecuted.
			buf.FlushTurn()
			outcome.State = StateDone
			outcome.WorkflowCalls = workflow
			return outcome, nil
		}

		if len(executable) == 0 {
			buf.FlushTurn()
			outcome.State = StateDone
			return outcome, nil
		}

		outcome.State = StateExecutingTools
		l.executeCalls(ctx, buf, executable)
		buf.FlushTurn()
		outcome.State = StateAwaitingModel
	}

	l.logger.Warn("flow.continuation.cap",
		"max_continuation_turns", l.maxTurns)
	buf.FlushTurn()
	outcome.State = StateDone
	outcome.CapReached = true
	return outcome, nil
}

// partition splits calls into workflow primitives and locally executable
// calls. Calls missing a name are dropped with a warning.
func (l *Loop) partition(calls []model.ToolCall) (workflow, executable []model.ToolCall) {
	for _, call := range calls {
		switch {
		case call.Name == "":
			l.logger.Warn("flow.call.nameless", "call_id", call.ID)
		case tool.IsWorkflowCall(call.Name):
			workflow = append(workflow, call)
		default:
			executable = append(executable, call)
		}
	}
	return workflow, executable
}

// executeCalls runs custom and MCP calls, recording each call and its
// result (or "Error: <message>") into the buffer.
func (l *Loop) executeCalls(ctx context.Context, buf *conversation.Buffer, calls []model.ToolCall) {
	for _, call := range calls {
		buf.AddToolCall(call.Name, call.Arguments, call.ID)

		reg, ok := l.registry[call.Name]
		if !ok {
			l.logger.Warn("flow.tool.unregistered", "tool", call.Name, "call_id", call.ID)
			buf.AddToolResult(call.Name, call.ID, fmt.Sprintf("Error: tool %s not found", call.Name))
			continue
		}

		if reg.config.Kind == tool.KindMCP && !l.breaker.Allow(reg.server) {
			l.logger.Warn("flow.mcp.blocked",
				"server", reg.server, "tool", call.Name)
			buf.AddToolResult(call.Name, call.ID,
				fmt.Sprintf("Error: MCP server %s is temporarily unavailable", reg.server))
			continue
		}

		start := time.Now()
		result, err := l.callTool(ctx, reg.tool, call.Arguments)
		l.logger.Debug("flow.tool.executed",
			"tool", call.Name, "kind", string(reg.config.Kind),
			"duration_ms", time.Since(start).Milliseconds(), "error", err != nil)

		if err != nil {
			if reg.config.Kind == tool.KindMCP {
				l.breaker.RecordFailure(reg.server)
			}
			buf.AddToolResult(call.Name, call.ID, fmt.Sprintf("Error: %s", err.Error()))
			continue
		}
		if reg.config.Kind == tool.KindMCP {
			l.breaker.RecordSuccess(reg.server)
		}
		buf.AddToolResult(call.Name, call.ID, formatResult(result))
	}
}

// callTool decodes arguments and invokes the tool with panic recovery, so a
// misbehaving tool never crashes the turn.
func (l *Loop) callTool(ctx context.Context, t tool.Tool, arguments string) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("flow.tool.panic",
				"tool", t.Name(), "recover", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("tool %s panicked", t.Name())
		}
	}()

	args := map[string]any{}
	if arguments != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return nil, fmt.Errorf("unparsable arguments: %w", err)
		}
	}
	return t.Call(ctx, args)
}

func formatResult(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
