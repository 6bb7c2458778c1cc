package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/conversation"
	"github.com/parleyhq/parley/execution"
	"github.com/parleyhq/parley/flow"
	"github.com/parleyhq/parley/model"
	"github.com/parleyhq/parley/tool"
)

type recordingNotifier struct {
	mu       sync.Mutex
	phases   []Phase
	votes    []string // "voter->target"
	answers  []string // labels
	restarts []string
	chunks   []string
	errors   []string
}

func (r *recordingNotifier) OnPhase(phase Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, phase)
}

func (r *recordingNotifier) OnNewAnswer(_, _, label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers = append(r.answers, label)
}

func (r *recordingNotifier) OnVote(voter, target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.votes = append(r.votes, voter+"->"+target)
}

func (r *recordingNotifier) OnCompletion(string) {}

func (r *recordingNotifier) OnError(_, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, message)
}

func (r *recordingNotifier) OnRestart(reason string, _, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restarts = append(r.restarts, reason)
}

func (r *recordingNotifier) OnPresentationChunk(chunk string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, chunk)
}

func wfCall(name, arguments string) model.ToolCall {
	return model.ToolCall{ID: "call_" + name, Name: name, Arguments: arguments}
}

func newAgent(t *testing.T, id string, turns ...model.ScriptTurn) *Agent {
	t.Helper()
	backend := model.NewScriptedBackend(turns...)
	loop := flow.New(execution.New(backend))
	return NewAgent(id, loop, func(o *AgentOptions) { o.Target = "gpt-4.1" })
}

func TestRun_EndToEnd(t *testing.T) {
	agentA := newAgent(t, "agent_a",
		model.ScriptTurn{ToolCalls: []model.ToolCall{
			wfCall(tool.WorkflowNewAnswer, `{"content":"42"}`),
		}},
		model.ScriptTurn{ToolCalls: []model.ToolCall{
			wfCall(tool.WorkflowVote, `{"answer_label":"agent_a.1","reason":"correct"}`),
		}},
	)
	agentB := newAgent(t, "agent_b",
		model.ScriptTurn{},
		model.ScriptTurn{ToolCalls: []model.ToolCall{
			wfCall(tool.WorkflowVote, `{"answer_label":"agent_a.1"}`),
		}},
	)

	notifier := &recordingNotifier{}
	orch := New(func(o *Options) { o.Notifier = notifier })
	require.NoError(t, orch.Register(agentA))
	require.NoError(t, orch.Register(agentB))

	result, err := orch.Run(context.Background(), "what is the answer?")
	require.NoError(t, err)

	assert.Equal(t, PhaseDone, result.Phase)
	assert.Equal(t, "agent_a", result.Winner)
	assert.Equal(t, "agent_a.1", result.WinningLabel)
	assert.Equal(t, "42", result.FinalAnswer)
	assert.False(t, result.Votes.IsTie)
	assert.Equal(t, map[string]int{"agent_a": 2}, result.Votes.VoteCounts)
	assert.Equal(t, 2, result.Votes.TotalVotes)
	assert.Equal(t, 2, result.Votes.AgentsVoted)
	assert.Empty(t, result.Restarts)

	assert.Equal(t, "42", strings.Join(notifier.chunks, ""))
	assert.Contains(t, notifier.phases, PhaseInitialAnswer)
	assert.Contains(t, notifier.phases, PhaseEnforcement)
	assert.Contains(t, notifier.phases, PhaseWinnerSelected)
	assert.Contains(t, notifier.phases, PhasePresentation)
	assert.Equal(t, PhaseDone, notifier.phases[len(notifier.phases)-1])
	assert.ElementsMatch(t, []string{"agent_a->agent_a", "agent_b->agent_a"}, notifier.votes)
}

func TestRun_InjectsAnswersIntoOtherBuffers(t *testing.T) {
	agentA := newAgent(t, "agent_a",
		model.ScriptTurn{ToolCalls: []model.ToolCall{
			wfCall(tool.WorkflowNewAnswer, `{"content":"the answer is 42"}`),
		}},
		model.ScriptTurn{ToolCalls: []model.ToolCall{
			wfCall(tool.WorkflowVote, `{"answer_label":"agent_a.1"}`),
		}},
	)
	agentB := newAgent(t, "agent_b",
		model.ScriptTurn{},
		model.ScriptTurn{ToolCalls: []model.ToolCall{
			wfCall(tool.WorkflowVote, `{"answer_label":"agent_a.1"}`),
		}},
	)

	orch := New()
	require.NoError(t, orch.Register(agentA))
	require.NoError(t, orch.Register(agentB))

	_, err := orch.Run(context.Background(), "task")
	require.NoError(t, err)

	var injections []conversation.Entry
	for _, e := range agentB.Buffer().Entries() {
		if e.Type == conversation.EntryInjection {
			injections = append(injections, e)
		}
	}
	require.Len(t, injections, 1)
	assert.Contains(t, injections[0].Content, "the answer is 42")
	assert.Contains(t, injections[0].Content, "agent1")
	assert.NotContains(t, injections[0].Content, "agent_a")

	// Agent A produced the only answer, so its own buffer got no injection.
	for _, e := range agentA.Buffer().Entries() {
		assert.NotEqual(t, conversation.EntryInjection, e.Type)
	}
}

func TestRun_InvalidVoteTriggersEnforcement(t *testing.T) {
	agentA := newAgent(t, "agent_a",
		model.ScriptTurn{ToolCalls: []model.ToolCall{
			wfCall(tool.WorkflowNewAnswer, `{"content":"42"}`),
		}},
		model.ScriptTurn{ToolCalls: []model.ToolCall{
			wfCall(tool.WorkflowVote, `{"answer_label":"agent_a.1"}`),
		}},
	)
	agentB := newAgent(t, "agent_b",
		model.ScriptTurn{},
		model.ScriptTurn{ToolCalls: []model.ToolCall{
			wfCall(tool.WorkflowVote, `{"answer_label":"bogus.9"}`),
		}},
		model.ScriptTurn{ToolCalls: []model.ToolCall{
			wfCall(tool.WorkflowVote, `{"answer_label":"agent_a.1"}`),
		}},
	)

	orch := New()
	require.NoError(t, orch.Register(agentA))
	require.NoError(t, orch.Register(agentB))

	result, err := orch.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, "agent_a", result.Winner)
	assert.Equal(t, 2, result.Votes.TotalVotes)

	var sawRejection bool
	for _, e := range agentB.Buffer().Entries() {
		if e.Type == conversation.EntryEnforcement &&
			strings.Contains(e.Content, "Your vote was invalid") {
			sawRejection = true
		}
	}
	assert.True(t, sawRejection)
}

func TestRun_RestartAfterNoVotes(t *testing.T) {
	agentA := newAgent(t, "agent_a",
		model.ScriptTurn{ToolCalls: []model.ToolCall{
			wfCall(tool.WorkflowNewAnswer, `{"content":"draft A"}`),
		}},
		model.ScriptTurn{ContentChunks: []string{"still thinking"}},
		model.ScriptTurn{ToolCalls: []model.ToolCall{
			wfCall(tool.WorkflowNewAnswer, `{"content":"final A"}`),
		}},
		model.ScriptTurn{ToolCalls: []model.ToolCall{
			wfCall(tool.WorkflowVote, `{"answer_label":"agent_a.2"}`),
		}},
	)
	agentB := newAgent(t, "agent_b",
		model.ScriptTurn{ToolCalls: []model.ToolCall{
			wfCall(tool.WorkflowNewAnswer, `{"content":"draft B"}`),
		}},
		model.ScriptTurn{ContentChunks: []string{"still thinking"}},
		model.ScriptTurn{},
		model.ScriptTurn{ToolCalls: []model.ToolCall{
			wfCall(tool.WorkflowVote, `{"answer_label":"agent_a.2"}`),
		}},
	)

	notifier := &recordingNotifier{}
	orch := New(func(o *Options) {
		o.Notifier = notifier
		o.MaxVoteRounds = 1
		o.MaxAttempts = 2
	})
	require.NoError(t, orch.Register(agentA))
	require.NoError(t, orch.Register(agentB))

	result, err := orch.Run(context.Background(), "task")
	require.NoError(t, err)

	assert.Equal(t, "agent_a", result.Winner)
	assert.Equal(t, "agent_a.2", result.WinningLabel)
	assert.Equal(t, "final A", result.FinalAnswer)

	require.Len(t, result.Restarts, 1)
	restart := result.Restarts[0]
	assert.Equal(t, 1, restart.Attempt)
	assert.Equal(t, 2, restart.MaxAttempts)
	assert.Equal(t, "no agent cast a valid vote", restart.Reason)
	assert.ElementsMatch(t, []string{"agent_a.1", "agent_b.1"}, restart.AnswersAtRestart)
	assert.Len(t, notifier.restarts, 1)
}

func TestRun_NoVotesExhaustsAttempts(t *testing.T) {
	agentA := newAgent(t, "agent_a",
		model.ScriptTurn{ToolCalls: []model.ToolCall{
			wfCall(tool.WorkflowNewAnswer, `{"content":"42"}`),
		}},
		model.ScriptTurn{ContentChunks: []string{"no vote from me"}},
	)

	orch := New(func(o *Options) {
		o.MaxVoteRounds = 1
		o.MaxAttempts = 1
	})
	require.NoError(t, orch.Register(agentA))

	_, err := orch.Run(context.Background(), "task")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no valid votes")
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	orch := New()
	require.NoError(t, orch.Register(newAgent(t, "agent_a")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := orch.Run(ctx, "task")
	require.NoError(t, err)
	assert.Equal(t, PhaseCancelled, result.Phase)
	assert.Nil(t, result.Votes)
}

func TestRegister_DuplicateID(t *testing.T) {
	orch := New()
	require.NoError(t, orch.Register(newAgent(t, "agent_a")))
	assert.Error(t, orch.Register(newAgent(t, "agent_a")))
}

func TestTally_TieBreaksByRegistrationOrder(t *testing.T) {
	votes := []voteRecord{
		{voter: "v1", target: "B"},
		{voter: "v2", target: "B"},
		{voter: "v3", target: "A"},
		{voter: "v4", target: "A"},
		{voter: "v5", target: "C"},
	}
	order := []string{"A", "B", "C"}

	for i := 0; i < 2; i++ {
		result := tally(votes, order)
		assert.Equal(t, "A", result.Winner)
		assert.True(t, result.IsTie)
		assert.Equal(t, map[string]int{"A": 2, "B": 2, "C": 1}, result.VoteCounts)
		assert.Equal(t, 5, result.TotalVotes)
	}
}

func TestTally_NoVotes(t *testing.T) {
	result := tally(nil, []string{"A", "B"})
	assert.Empty(t, result.Winner)
	assert.False(t, result.IsTie)
	assert.Zero(t, result.TotalVotes)
}

func TestPresent_Replayable(t *testing.T) {
	agentA := newAgent(t, "agent_a",
		model.ScriptTurn{ToolCalls: []model.ToolCall{
			wfCall(tool.WorkflowNewAnswer, `{"content":"a long winning answer streamed in pieces"}`),
		}},
		model.ScriptTurn{ToolCalls: []model.ToolCall{
			wfCall(tool.WorkflowVote, `{"answer_label":"agent_a.1"}`),
		}},
	)

	orch := New(func(o *Options) { o.PresentationChunkSize = 8 })
	require.NoError(t, orch.Register(agentA))

	result, err := orch.Run(context.Background(), "task")
	require.NoError(t, err)

	var first, second []string
	require.NoError(t, orch.Present(func(c string) { first = append(first, c) }))
	require.NoError(t, orch.Present(func(c string) { second = append(second, c) }))

	assert.Equal(t, first, second)
	assert.Greater(t, len(first), 1)
	assert.Equal(t, result.FinalAnswer, strings.Join(first, ""))
}
