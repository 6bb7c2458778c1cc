package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsage_AddAndTotal(t *testing.T) {
	u := Usage{PromptTokens: 10, OutputTokens: 5}
	u.Add(Usage{PromptTokens: 3, ThoughtTokens: 2, CachedTokens: 1})

	assert.Equal(t, 13, u.PromptTokens)
	assert.Equal(t, 5, u.OutputTokens)
	assert.Equal(t, 2, u.ThoughtTokens)
	assert.Equal(t, 1, u.CachedTokens)
	assert.Equal(t, 21, u.Total())
}

func TestScriptedBackend_Streaming(t *testing.T) {
	sb := NewScriptedBackend(ScriptTurn{
		ThoughtChunks: []string{"hm"},
		ContentChunks: []string{"4", "2"},
		Usage:         Usage{PromptTokens: 7, OutputTokens: 2},
	})

	interaction, err := sb.Create(context.Background(), Request{Target: "test-model", Stream: true})
	require.NoError(t, err)
	require.NotNil(t, interaction.Events)

	var kinds []EventKind
	var content string
	var terminal *Interaction
	for ev := range interaction.Events {
		kinds = append(kinds, ev.Kind)
		if ev.Kind == EventContent {
			content += ev.Text
		}
		if ev.Kind == EventDone {
			terminal = ev.Response
		}
	}

	assert.Equal(t, []EventKind{EventThought, EventContent, EventContent, EventDone}, kinds)
	assert.Equal(t, "42", content)
	require.NotNil(t, terminal)
	assert.Equal(t, StatusCompleted, terminal.Status)
	assert.Equal(t, "42", terminal.Content)
	assert.Equal(t, 9, terminal.Usage.Total())
}

func TestScriptedBackend_StreamingToolCallsBeforeDone(t *testing.T) {
	sb := NewScriptedBackend(ScriptTurn{
		ToolCalls: []ToolCall{{ID: "c1", Name: "vote", Arguments: `{"answer_label":"agent_a.1"}`}},
	})

	interaction, err := sb.Create(context.Background(), Request{Stream: true})
	require.NoError(t, err)

	var kinds []EventKind
	for ev := range interaction.Events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []EventKind{EventToolCalls, EventDone}, kinds)
}

func TestScriptedBackend_BackgroundPolling(t *testing.T) {
	sb := NewScriptedBackend(ScriptTurn{
		ContentChunks: []string{"slow answer"},
		PollStatuses:  []Status{StatusWorking, StatusWorking},
	})

	job, err := sb.Create(context.Background(), Request{Background: true})
	require.NoError(t, err)
	assert.Equal(t, StatusWorking, job.Status)
	assert.Nil(t, job.Events)

	first, err := sb.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWorking, first.Status)

	second, err := sb.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWorking, second.Status)

	final, err := sb.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, "slow answer", final.Content)
}

func TestScriptedBackend_CreateErrsThenSuccess(t *testing.T) {
	boom := assert.AnError
	sb := NewScriptedBackend(ScriptTurn{
		ContentChunks: []string{"ok"},
		CreateErrs:    []error{boom},
	})

	_, err := sb.Create(context.Background(), Request{Stream: true})
	assert.Same(t, boom, err)

	interaction, err := sb.Create(context.Background(), Request{Stream: true})
	require.NoError(t, err)
	require.NotNil(t, interaction)
	assert.Equal(t, 2, sb.CreateCalls)
}

func TestScriptedBackend_Exhausted(t *testing.T) {
	sb := NewScriptedBackend()
	_, err := sb.Create(context.Background(), Request{})
	assert.Error(t, err)
}
