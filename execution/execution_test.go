package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/backoff"
	"github.com/parleyhq/parley/model"
)

func instantSleep(context.Context, time.Duration) error { return nil }

func TestSelector_Defaults(t *testing.T) {
	s := NewSelector()

	assert.Equal(t, Plan{Mode: ModeStreaming}, s.Select("gpt-4.1"))
	assert.Equal(t, Plan{Mode: ModeStreaming, Background: true}, s.Select("o3-deep-research"))
	assert.Equal(t, Plan{Mode: ModeStreaming, Background: true}, s.Select("Research-Agent-v2"))
}

func TestSelector_PollingFallback(t *testing.T) {
	s := NewSelector(func(o *SelectorOptions) { o.BackgroundStreaming = false })

	assert.Equal(t, Plan{Mode: ModePolling, Background: true}, s.Select("deep-research-pro"))
	assert.Equal(t, Plan{Mode: ModeStreaming}, s.Select("gpt-4.1"))
}

func TestSelector_OverrideWins(t *testing.T) {
	s := NewSelector(func(o *SelectorOptions) {
		o.Override = &Plan{Mode: ModePolling, Background: true}
	})

	assert.Equal(t, Plan{Mode: ModePolling, Background: true}, s.Select("gpt-4.1"))
}

func TestRun_Streaming(t *testing.T) {
	backend := model.NewScriptedBackend(model.ScriptTurn{
		ThoughtChunks: []string{"let me ", "think"},
		ContentChunks: []string{"the answer ", "is 42"},
		Usage:         model.Usage{PromptTokens: 10, OutputTokens: 5},
	})
	e := New(backend)

	result, err := e.Run(context.Background(), model.Request{Target: "gpt-4.1"})
	require.NoError(t, err)
	assert.Equal(t, "the answer is 42", result.Content)
	assert.Equal(t, "let me think", result.Thought)
	assert.Equal(t, model.StatusCompleted, result.Status)
	assert.Empty(t, result.ToolCalls)

	assert.Equal(t, 1, e.Usage().Turns())
	assert.Equal(t, 15, e.Usage().Total().Total())
}

func TestRun_StreamingToolCalls(t *testing.T) {
	backend := model.NewScriptedBackend(model.ScriptTurn{
		ToolCalls: []model.ToolCall{{ID: "call_1", Name: "calculate_sum", Arguments: `{"a":1,"b":2}`}},
	})
	e := New(backend)

	result, err := e.Run(context.Background(), model.Request{Target: "gpt-4.1"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusRequiresAction, result.Status)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "calculate_sum", result.ToolCalls[0].Name)
}

func TestRun_StreamingFailure(t *testing.T) {
	backend := model.NewScriptedBackend(model.ScriptTurn{FailMessage: "content filter"})
	e := New(backend)

	_, err := e.Run(context.Background(), model.Request{Target: "gpt-4.1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content filter")
}

func TestRun_Polling(t *testing.T) {
	backend := model.NewScriptedBackend(model.ScriptTurn{
		ContentChunks: []string{"done"},
		PollStatuses:  []model.Status{model.StatusWorking, model.StatusWorking},
		Usage:         model.Usage{OutputTokens: 3},
	})
	e := New(backend, func(o *Options) {
		o.Selector = NewSelector(func(so *SelectorOptions) {
			so.Override = &Plan{Mode: ModePolling, Background: true}
		})
		o.Sleep = instantSleep
	})

	result, err := e.Run(context.Background(), model.Request{Target: "research-agent"})
	require.NoError(t, err)
	assert.Equal(t, "done", result.Content)
	assert.Equal(t, model.StatusCompleted, result.Status)
	assert.Equal(t, 3, backend.GetCalls)
	assert.Equal(t, 1, e.Usage().Turns())
}

func TestRun_PollingJobFailure(t *testing.T) {
	backend := model.NewScriptedBackend(model.ScriptTurn{
		PollStatuses: []model.Status{model.StatusWorking},
		FailMessage:  "quota exceeded upstream",
	})
	e := New(backend, func(o *Options) {
		o.Selector = NewSelector(func(so *SelectorOptions) {
			so.Override = &Plan{Mode: ModePolling, Background: true}
		})
		o.Sleep = instantSleep
	})

	_, err := e.Run(context.Background(), model.Request{Target: "research-agent"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded upstream")
}

func TestRun_PollTimeout(t *testing.T) {
	statuses := make([]model.Status, 50)
	for i := range statuses {
		statuses[i] = model.StatusWorking
	}
	backend := model.NewScriptedBackend(model.ScriptTurn{PollStatuses: statuses})
	e := New(backend, func(o *Options) {
		o.Selector = NewSelector(func(so *SelectorOptions) {
			so.Override = &Plan{Mode: ModePolling, Background: true}
		})
		o.Sleep = instantSleep
		o.MaxPolls = 5
	})

	_, err := e.Run(context.Background(), model.Request{Target: "research-agent"})
	require.ErrorIs(t, err, ErrPollTimeout)
	assert.Equal(t, 5, backend.GetCalls)
}

func TestRun_SessionPersistence(t *testing.T) {
	backend := model.NewScriptedBackend(
		model.ScriptTurn{ContentChunks: []string{"first"}, SessionID: "sess-1"},
		model.ScriptTurn{ContentChunks: []string{"second"}, SessionID: "sess-2"},
	)
	e := New(backend, func(o *Options) { o.PersistSessions = true })

	_, err := e.Run(context.Background(), model.Request{Target: "gpt-4.1"})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", e.SessionID())

	_, err = e.Run(context.Background(), model.Request{Target: "gpt-4.1"})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", backend.LastRequest.PreviousID)
	assert.Equal(t, "sess-2", e.SessionID())
}

func TestRun_SessionPersistenceDisabled(t *testing.T) {
	backend := model.NewScriptedBackend(model.ScriptTurn{SessionID: "sess-1"})
	e := New(backend)

	_, err := e.Run(context.Background(), model.Request{Target: "gpt-4.1"})
	require.NoError(t, err)
	assert.Empty(t, e.SessionID())
}

func TestRun_RetriesTransientCreateFailures(t *testing.T) {
	backend := model.NewScriptedBackend(model.ScriptTurn{
		ContentChunks: []string{"ok"},
		CreateErrs: []error{
			&backoff.UpstreamError{StatusCode: 429, Err: assert.AnError},
			&backoff.UpstreamError{StatusCode: 503, Err: assert.AnError},
		},
	})
	retry := backoff.New(backoff.DefaultConfig(), func(o *backoff.Options) {
		o.Sleep = instantSleep
	})
	e := New(backend, func(o *Options) { o.Retry = retry })

	result, err := e.Run(context.Background(), model.Request{Target: "gpt-4.1"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Content)
	assert.Equal(t, 3, backend.CreateCalls)
	assert.Equal(t, 2, retry.Metrics().RetryCount())
}
