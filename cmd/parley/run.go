package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley"
	"github.com/parleyhq/parley/model"
	"github.com/parleyhq/parley/model/anthropic"
	"github.com/parleyhq/parley/model/openai"
	"github.com/parleyhq/parley/orchestrator"
	"github.com/parleyhq/parley/tool"
)

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run a consensus session for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			dryRun, _ := cmd.Flags().GetBool("dry-run")
			logger := newLogger(cmd)

			p := parley.New(func(o *parley.Options) {
				o.Logger = logger
				o.Notifier = &consoleNotifier{out: cmd.OutOrStdout()}
				o.MaxAttempts = cfg.GetInt("max-attempts")
			})

			agents := cfg.GetInt("agents")
			if agents < 2 {
				return fmt.Errorf("at least 2 agents required, got %d", agents)
			}
			for i := 1; i <= agents; i++ {
				id := fmt.Sprintf("agent_%d", i)
				backend, err := buildBackend(cfg.GetString("provider"), dryRun, i)
				if err != nil {
					return err
				}
				if err := p.RegisterAgent(id, backend, func(c *parley.AgentConfig) {
					c.Target = cfg.GetString("model")
					c.SystemPrompt = cfg.GetString("system-prompt")
				}); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := p.Run(ctx, args[0])
			if err != nil {
				return err
			}
			if result.Phase == orchestrator.PhaseCancelled {
				fmt.Fprintln(cmd.OutOrStdout(), "session cancelled")
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "\nwinner: %s (%s)\n", result.Winner, result.WinningLabel)

			if dir := cfg.GetString("save-dir"); dir != "" {
				if err := p.SaveBuffers(dir); err != nil {
					return fmt.Errorf("save buffers: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "buffers saved to %s\n", dir)
			}
			return nil
		},
	}

	runCmd.Flags().Bool("dry-run", false, "replay a scripted session instead of calling real backends")
	return runCmd
}

// buildBackend picks the vendor adapter, or a deterministic scripted backend
// for dry runs.
func buildBackend(provider string, dryRun bool, agentIndex int) (model.Backend, error) {
	if dryRun {
		return scriptedBackend(agentIndex), nil
	}
	switch provider {
	case "openai":
		return openai.New(), nil
	case "anthropic":
		return anthropic.New(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (expected openai or anthropic)", provider)
	}
}

// scriptedBackend replays a canonical consensus session: the first agent
// answers, every agent votes for that answer.
func scriptedBackend(agentIndex int) model.Backend {
	answerTurn := model.ScriptTurn{ToolCalls: []model.ToolCall{{
		ID:        "call_answer",
		Name:      tool.WorkflowNewAnswer,
		Arguments: `{"content":"This is a scripted dry-run answer."}`,
	}}}
	if agentIndex != 1 {
		answerTurn = model.ScriptTurn{ContentChunks: []string{"Agent 1 should answer this."}}
	}
	voteTurn := model.ScriptTurn{ToolCalls: []model.ToolCall{{
		ID:        "call_vote",
		Name:      tool.WorkflowVote,
		Arguments: `{"answer_label":"agent_1.1","reason":"scripted"}`,
	}}}
	return model.NewScriptedBackend(answerTurn, voteTurn)
}
