// Package parley provides a high-level façade over the coordination
// orchestrator and its supporting services (conversation store, execution
// layer, logging) enabling rapid construction of multi-agent consensus
// systems. Most applications interact with this package by:
//  1. Creating a Parley via New() (optionally overriding defaults)
//  2. Registering one or more agents, each bound to a backend
//  3. Calling Run() and consuming the result or notifier events
//
// The façade delegates coordination to orchestrator.Orchestrator while
// keeping setup concise. All defaults are safe for local development and
// testing; production deployments typically supply a structured logger and
// a notifier bound to their UI.
package parley

import (
	"context"

	"github.com/parleyhq/parley/conversation"
	"github.com/parleyhq/parley/execution"
	"github.com/parleyhq/parley/flow"
	"github.com/parleyhq/parley/logging"
	"github.com/parleyhq/parley/model"
	"github.com/parleyhq/parley/orchestrator"
	"github.com/parleyhq/parley/tool"
)

// Version is the library version.
const Version = "0.1.0"

// Options configures the Parley instance.
type Options struct {
	// Logger receives structured coordination logs. Defaults to NoOp.
	Logger logging.Logger

	// Notifier receives one-way coordination events (votes, answers,
	// phases, presentation chunks). Defaults to NoOp.
	Notifier orchestrator.Notifier

	// MaxAttempts caps coordination attempts including restarts.
	MaxAttempts int

	// MaxVoteRounds caps enforcement re-prompts per attempt.
	MaxVoteRounds int

	// Anonymize relabels injected answers as agent1, agent2, ...
	Anonymize bool

	// PersistSessions keeps remote continuation identifiers across turns
	// for backends that support stateful conversations.
	PersistSessions bool
}

// AgentConfig configures one registered agent.
type AgentConfig struct {
	// Target is the model or job identifier for this agent's backend.
	Target string

	// SystemPrompt seeds the agent's conversation buffer.
	SystemPrompt string

	// Tools are user-registered tools executed locally.
	Tools []tool.Tool

	// MCPTools maps MCP server names to the tools they serve. Execution is
	// gated per server by a shared circuit breaker.
	MCPTools map[string][]tool.Tool
}

// Parley is the high-level façade aggregating the orchestrator and the
// per-agent conversation store.
type Parley struct {
	opts    Options
	orch    *orchestrator.Orchestrator
	store   *conversation.Store
	breaker *tool.CircuitBreaker
}

// New creates a Parley instance with optional overrides.
func New(optFns ...func(o *Options)) *Parley {
	opts := Options{
		Logger:        logging.NoOpLogger{},
		Notifier:      orchestrator.NoOpNotifier{},
		MaxAttempts:   3,
		MaxVoteRounds: 3,
		Anonymize:     true,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	orch := orchestrator.New(func(o *orchestrator.Options) {
		o.Logger = opts.Logger
		o.Notifier = opts.Notifier
		o.MaxAttempts = opts.MaxAttempts
		o.MaxVoteRounds = opts.MaxVoteRounds
		o.Anonymize = opts.Anonymize
	})

	return &Parley{
		opts:    opts,
		orch:    orch,
		store:   conversation.NewStore(),
		breaker: tool.NewCircuitBreaker(),
	}
}

// RegisterAgent binds an agent id to a backend and adds it to the
// coordination round. Registration order is the deterministic tie-break
// order for voting.
func (p *Parley) RegisterAgent(id string, backend model.Backend, optFns ...func(c *AgentConfig)) error {
	cfg := AgentConfig{}
	for _, fn := range optFns {
		fn(&cfg)
	}

	executor := execution.New(backend, func(o *execution.Options) {
		o.Logger = p.opts.Logger
		o.PersistSessions = p.opts.PersistSessions
	})
	loop := flow.New(executor, func(o *flow.Options) {
		o.Logger = p.opts.Logger
		o.Breaker = p.breaker
	})
	for _, t := range cfg.Tools {
		loop.RegisterTool(t)
	}
	for server, tools := range cfg.MCPTools {
		for _, t := range tools {
			loop.RegisterMCPTool(t, server)
		}
	}

	buf := p.store.GetOrCreate(id, func(o *conversation.Options) {
		o.Logger = p.opts.Logger
	})
	agent := orchestrator.NewAgent(id, loop, func(o *orchestrator.AgentOptions) {
		o.Target = cfg.Target
		o.SystemPrompt = cfg.SystemPrompt
		o.Buffer = buf
	})
	return p.orch.Register(agent)
}

// Run drives a full coordination session for the task and returns the
// terminal result.
func (p *Parley) Run(ctx context.Context, task string) (*orchestrator.Result, error) {
	return p.orch.Run(ctx, task)
}

// Present replays the winning answer chunk-by-chunk to emit.
func (p *Parley) Present(emit func(chunk string)) error {
	return p.orch.Present(emit)
}

// Buffers exposes the per-agent conversation store, for persistence or
// inspection after a session.
func (p *Parley) Buffers() *conversation.Store { return p.store }

// SaveBuffers persists every agent's buffer into dir as one JSON file per
// agent.
func (p *Parley) SaveBuffers(dir string) error {
	return p.store.SaveAll(dir)
}
