package parley

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/model"
	"github.com/parleyhq/parley/orchestrator"
	"github.com/parleyhq/parley/tool"
)

func TestParley_EndToEnd(t *testing.T) {
	backendA := model.NewScriptedBackend(
		model.ScriptTurn{ToolCalls: []model.ToolCall{{
			ID: "c1", Name: tool.WorkflowNewAnswer, Arguments: `{"content":"42"}`,
		}}},
		model.ScriptTurn{ToolCalls: []model.ToolCall{{
			ID: "c2", Name: tool.WorkflowVote, Arguments: `{"answer_label":"agent_a.1"}`,
		}}},
	)
	backendB := model.NewScriptedBackend(
		model.ScriptTurn{},
		model.ScriptTurn{ToolCalls: []model.ToolCall{{
			ID: "c3", Name: tool.WorkflowVote, Arguments: `{"answer_label":"agent_a.1"}`,
		}}},
	)

	p := New()
	require.NoError(t, p.RegisterAgent("agent_a", backendA, func(c *AgentConfig) {
		c.Target = "gpt-4.1"
	}))
	require.NoError(t, p.RegisterAgent("agent_b", backendB, func(c *AgentConfig) {
		c.Target = "gpt-4.1"
	}))

	result, err := p.Run(context.Background(), "what is the answer?")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.PhaseDone, result.Phase)
	assert.Equal(t, "agent_a", result.Winner)
	assert.Equal(t, "42", result.FinalAnswer)

	var chunks []string
	require.NoError(t, p.Present(func(c string) { chunks = append(chunks, c) }))
	assert.Equal(t, "42", strings.Join(chunks, ""))

	buf, ok := p.Buffers().Get("agent_a")
	require.True(t, ok)
	assert.NotZero(t, buf.Len())
}

func TestParley_SaveBuffers(t *testing.T) {
	backend := model.NewScriptedBackend(
		model.ScriptTurn{ToolCalls: []model.ToolCall{{
			ID: "c1", Name: tool.WorkflowNewAnswer, Arguments: `{"content":"ok"}`,
		}}},
		model.ScriptTurn{ToolCalls: []model.ToolCall{{
			ID: "c2", Name: tool.WorkflowVote, Arguments: `{"answer_label":"solo.1"}`,
		}}},
	)

	p := New()
	require.NoError(t, p.RegisterAgent("solo", backend, func(c *AgentConfig) {
		c.Target = "gpt-4.1"
	}))

	_, err := p.Run(context.Background(), "task")
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, p.SaveBuffers(dir))
	assert.FileExists(t, dir+"/solo.json")
}
