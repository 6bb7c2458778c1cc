package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlushTurn_NothingPendingIsNoOp(t *testing.T) {
	b := New("agent_a")
	b.AddUserMessage("hi")

	before := b.Len()
	b.FlushTurn()
	assert.Equal(t, before, b.Len())
}

func TestFlushTurn_OrderInvariant(t *testing.T) {
	// Interleave accumulator calls in a scrambled order; the committed order
	// must still be reasoning, tool call/result pairs, assistant content.
	b := New("agent_a")
	b.AddContent("final ")
	b.AddToolCall("search", `{"q":"go"}`, "call_1")
	b.AddReasoning("thinking about it")
	b.AddToolResult("search", "call_1", "found docs")
	b.AddContent("answer")
	b.FlushTurn()

	entries := b.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, EntryReasoning, entries[0].Type)
	assert.Equal(t, EntryToolCall, entries[1].Type)
	assert.Equal(t, EntryToolResult, entries[2].Type)
	assert.Equal(t, EntryAssistant, entries[3].Type)
	assert.Equal(t, "final answer", entries[3].Content)
}

func TestFlushTurn_ClearsAccumulators(t *testing.T) {
	b := New("agent_a")
	b.AddContent("x")
	b.AddToolCall("t", "{}", "c1")
	require.True(t, b.HasPending())

	b.FlushTurn()
	assert.False(t, b.HasPending())

	// A second flush commits nothing new.
	n := b.Len()
	b.FlushTurn()
	assert.Equal(t, n, b.Len())
}

func TestToolCorrelation(t *testing.T) {
	b := New("agent_a")
	b.AddToolCall("x", "{}", "call_1")
	b.AddToolResult("x", "call_1", "ok")
	b.FlushTurn()

	entries := b.Entries()
	require.Len(t, entries, 2)

	call, result := entries[0], entries[1]
	assert.Equal(t, EntryToolCall, call.Type)
	assert.Equal(t, EntryToolResult, result.Type)
	assert.Equal(t, "ok", result.Content)
	assert.Equal(t, "call_1", result.Metadata["call_id"])
	assert.GreaterOrEqual(t, result.Timestamp, call.Timestamp)
}

func TestToolResult_MatchesMostRecentUnresolved(t *testing.T) {
	b := New("agent_a")
	b.AddToolCall("x", `{"n":1}`, "call_1")
	b.AddToolCall("x", `{"n":2}`, "call_2")
	b.AddToolResult("x", "call_2", "second")
	b.AddToolResult("x", "call_1", "first")
	b.FlushTurn()

	entries := b.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, "first", entries[1].Content)
	assert.Equal(t, "call_1", entries[1].Metadata["call_id"])
	assert.Equal(t, "second", entries[3].Content)
	assert.Equal(t, "call_2", entries[3].Metadata["call_id"])
}

func TestToolResult_AfterFlushBecomesStandaloneEntry(t *testing.T) {
	b := New("agent_a")
	b.AddToolCall("slow", "{}", "call_9")
	b.FlushTurn()

	b.AddToolResult("slow", "call_9", "late result")

	entries := b.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, EntryToolResult, entries[1].Type)
	assert.Equal(t, "late result", entries[1].Content)
	assert.Equal(t, "call_9", entries[1].Metadata["call_id"])
}

func TestInjectUpdate_Anonymized(t *testing.T) {
	b := New("agent_a")
	b.InjectUpdate(map[string]string{"agent_b": "ans"}, true)

	entries := b.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, EntryInjection, entries[0].Type)
	assert.Contains(t, entries[0].Content, "[agent1]")
	assert.NotContains(t, entries[0].Content, "agent_b]")
	assert.Len(t, b.InjectionTimestamps(), 1)
}

func TestInjectUpdate_EmptyIsNoOp(t *testing.T) {
	b := New("agent_a")
	b.InjectUpdate(map[string]string{}, true)
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.InjectionTimestamps())
}

func TestInjectUpdate_RealIDsWhenNotAnonymized(t *testing.T) {
	b := New("agent_a")
	b.InjectUpdate(map[string]string{"agent_c": "c ans", "agent_b": "b ans"}, false)

	entries := b.Entries()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Content, "[agent_b]")
	assert.Contains(t, entries[0].Content, "[agent_c]")

	sources, ok := entries[0].Metadata["source_agents"].([]string)
	require.True(t, ok)
	assert.Equal(t, []string{"agent_b", "agent_c"}, sources)
}

func TestClearSystemEntries(t *testing.T) {
	b := New("agent_a")
	b.AddSystemMessage("phase one prompt")
	b.AddUserMessage("task")
	b.AddSystemMessage("another prompt")

	removed := b.ClearSystemEntries()
	assert.Equal(t, 2, removed)

	entries := b.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, EntryUser, entries[0].Type)
}

func TestContextTags(t *testing.T) {
	b := New("agent_a")
	b.SetAttempt(2)
	b.SetRound(3)
	b.AddUserMessage("tagged")

	entries := b.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Metadata["attempt"])
	assert.Equal(t, 3, entries[0].Metadata["round"])
}

func TestTokenStats_IncludesPendingState(t *testing.T) {
	calc := func(s string) int { return len(s) }

	b := New("agent_a")
	b.AddUserMessage("1234")
	b.AddContent("abcd")
	b.AddToolCall("t", "xy", "c1")

	stats := b.TokenStats(calc)
	assert.Equal(t, 4, stats.CommittedTokens)
	assert.Equal(t, 6, stats.PendingTokens)
	assert.Equal(t, 10, stats.TotalTokens)
	assert.Equal(t, stats.TotalTokens, b.EstimateTokens(calc))
}

func TestClear(t *testing.T) {
	b := New("agent_a")
	b.SetRound(1)
	b.AddUserMessage("x")
	b.AddContent("pending")
	b.InjectUpdate(map[string]string{"agent_b": "y"}, true)

	b.Clear()
	assert.Equal(t, 0, b.Len())
	assert.False(t, b.HasPending())
	assert.Empty(t, b.InjectionTimestamps())
	assert.Equal(t, "agent_a", b.AgentID())
}
