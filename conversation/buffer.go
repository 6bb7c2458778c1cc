// Package conversation implements the append-only, typed per-agent turn log
// that is the single source of truth for an agent's history. Streamed output
// accumulates in pending scratch state and becomes permanent history only at
// FlushTurn. Committed entries can be replayed into different wire formats
// for different backends.
package conversation

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parleyhq/parley/logging"
)

// resultEpsilon guarantees a tool result sorts after its call even when the
// clock is too coarse to distinguish the two appends.
const resultEpsilon = 1e-6

// Options configures a Buffer.
type Options struct {
	Logger logging.Logger
}

// Buffer is the canonical per-agent conversation record. It is owned by the
// agent's execution task; the coordination layer only calls InjectUpdate and
// read accessors. FlushTurn and InjectUpdate are serialized by an internal
// mutex so an injection can never interleave with a mid-flush commit.
type Buffer struct {
	mu sync.Mutex

	agentID        string
	entries        []Entry
	currentAttempt int
	currentRound   int

	pendingContent   strings.Builder
	pendingReasoning strings.Builder
	pendingToolCalls []PendingToolCall

	injectionTimestamps []float64

	logger logging.Logger
}

// New creates an empty buffer owned by the given agent.
func New(agentID string, optFns ...func(o *Options)) *Buffer {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Buffer{agentID: agentID, logger: opts.Logger}
}

func now() float64 { return float64(time.Now().UnixNano()) / 1e9 }

// AgentID returns the immutable owner id assigned at creation.
func (b *Buffer) AgentID() string { return b.agentID }

// SetRound updates the coordination round tag applied to new entries.
func (b *Buffer) SetRound(round int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currentRound = round
}

// SetAttempt updates the coordination attempt tag applied to new entries.
func (b *Buffer) SetAttempt(attempt int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currentAttempt = attempt
}

// Round returns the current coordination round tag.
func (b *Buffer) Round() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentRound
}

// Attempt returns the current coordination attempt tag.
func (b *Buffer) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentAttempt
}

// Entries returns a defensive copy of the committed history.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len returns the number of committed entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// InjectionTimestamps returns a copy of the recorded injection times.
func (b *Buffer) InjectionTimestamps() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]float64, len(b.injectionTimestamps))
	copy(out, b.injectionTimestamps)
	return out
}

// HasPending reports whether uncommitted scratch state exists.
func (b *Buffer) HasPending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hasPendingLocked()
}

func (b *Buffer) hasPendingLocked() bool {
	return b.pendingContent.Len() > 0 || b.pendingReasoning.Len() > 0 || len(b.pendingToolCalls) > 0
}

// contextMetadata stamps new entries with the current coordination tags.
func (b *Buffer) contextMetadata(md map[string]any) map[string]any {
	if b.currentRound == 0 && b.currentAttempt == 0 {
		return md
	}
	if md == nil {
		md = map[string]any{}
	}
	if b.currentRound > 0 {
		md["round"] = b.currentRound
	}
	if b.currentAttempt > 0 {
		md["attempt"] = b.currentAttempt
	}
	return md
}

func (b *Buffer) appendLocked(t EntryType, content string, md map[string]any) {
	b.entries = append(b.entries, Entry{
		Timestamp: now(),
		Type:      t,
		Content:   content,
		Metadata:  b.contextMetadata(md),
	})
}

// AddUserMessage commits a user message entry directly.
func (b *Buffer) AddUserMessage(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appendLocked(EntryUser, text, nil)
}

// AddSystemMessage commits a system prompt entry directly.
func (b *Buffer) AddSystemMessage(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appendLocked(EntrySystem, text, nil)
}

// AddEnforcement commits a coordinator correction with its reason.
func (b *Buffer) AddEnforcement(text, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appendLocked(EntryEnforcement, text, map[string]any{"reason": reason})
}

// AddMemoryContext commits recalled long-term context.
func (b *Buffer) AddMemoryContext(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appendLocked(EntryMemoryContext, text, nil)
}

// AddCompressionRequest commits a history compression request.
func (b *Buffer) AddCompressionRequest(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appendLocked(EntryCompressionRequest, text, nil)
}

// AddContent appends streamed assistant text to the pending accumulator.
// No entry is created until FlushTurn.
func (b *Buffer) AddContent(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pendingContent.WriteString(text)
}

// AddReasoning appends streamed reasoning text to the pending accumulator.
func (b *Buffer) AddReasoning(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pendingReasoning.WriteString(text)
}

// AddToolCall records a pending tool call with no result yet.
func (b *Buffer) AddToolCall(name, arguments, callID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pendingToolCalls = append(b.pendingToolCalls, PendingToolCall{
		Name:      name,
		Arguments: arguments,
		CallID:    callID,
		Timestamp: now(),
	})
}

// AddToolResult fills in the most recent unresolved pending call matching the
// tool name and, when both sides carry one, the call id. If no pending call
// matches (the result arrived after a flush) a standalone tool result entry
// is committed instead.
func (b *Buffer) AddToolResult(name, callID, result string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := len(b.pendingToolCalls) - 1; i >= 0; i-- {
		pc := &b.pendingToolCalls[i]
		if pc.Result != nil || pc.Name != name {
			continue
		}
		if callID != "" && pc.CallID != "" && pc.CallID != callID {
			continue
		}
		r := result
		pc.Result = &r
		return
	}

	b.appendLocked(EntryToolResult, result, map[string]any{
		"tool_name": name,
		"call_id":   callID,
	})
}

// FlushTurn commits the pending accumulators into permanent history, in
// fixed order: reasoning, then each tool call immediately followed by its
// result (when captured), then assistant content. Calling it with nothing
// pending is a no-op. This is the only point where scratch state becomes
// history; the owning agent calls it exactly once per completed turn.
func (b *Buffer) FlushTurn() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.hasPendingLocked() {
		return
	}

	if reasoning := strings.TrimSpace(b.pendingReasoning.String()); reasoning != "" {
		b.appendLocked(EntryReasoning, reasoning, nil)
	}

	for _, pc := range b.pendingToolCalls {
		b.entries = append(b.entries, Entry{
			Timestamp: pc.Timestamp,
			Type:      EntryToolCall,
			Content:   fmt.Sprintf("%s(%s)", pc.Name, pc.Arguments),
			Metadata: b.contextMetadata(map[string]any{
				"tool_name": pc.Name,
				"call_id":   pc.CallID,
				"arguments": pc.Arguments,
			}),
		})
		if pc.Result != nil {
			b.entries = append(b.entries, Entry{
				Timestamp: pc.Timestamp + resultEpsilon,
				Type:      EntryToolResult,
				Content:   *pc.Result,
				Metadata: b.contextMetadata(map[string]any{
					"tool_name": pc.Name,
					"call_id":   pc.CallID,
				}),
			})
		}
	}

	if content := strings.TrimSpace(b.pendingContent.String()); content != "" {
		b.appendLocked(EntryAssistant, content, nil)
	}

	b.pendingContent.Reset()
	b.pendingReasoning.Reset()
	b.pendingToolCalls = nil
}

// InjectUpdate commits a single injection entry wrapping all supplied
// answers, instructing the recipient it may continue, refine its answer, or
// vote. When anonymize is true, answers are labelled agent1, agent2, ... in
// insertion-sorted order of their real ids. Empty input is a no-op.
func (b *Buffer) InjectUpdate(newAnswers map[string]string, anonymize bool) {
	if len(newAnswers) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]string, 0, len(newAnswers))
	for id := range newAnswers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	sb.WriteString("=== UPDATES FROM OTHER AGENTS ===\n")
	for i, id := range ids {
		label := id
		if anonymize {
			label = fmt.Sprintf("agent%d", i+1)
		}
		fmt.Fprintf(&sb, "[%s]\n%s\n", label, newAnswers[id])
	}
	sb.WriteString("=== END UPDATES ===\n")
	sb.WriteString("You may continue working, refine your answer with new_answer, or cast a vote for the best answer with vote.")

	ts := now()
	b.entries = append(b.entries, Entry{
		Timestamp: ts,
		Type:      EntryInjection,
		Content:   sb.String(),
		Metadata: b.contextMetadata(map[string]any{
			"source_agents": ids,
		}),
	})
	b.injectionTimestamps = append(b.injectionTimestamps, ts)
}

// ClearSystemEntries removes all system entries in place and returns the
// removed count. Used when transitioning between phases with different
// system prompts.
func (b *Buffer) ClearSystemEntries() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.entries[:0]
	removed := 0
	for _, e := range b.entries {
		if e.Type == EntrySystem {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	b.entries = kept
	return removed
}

// Clear resets the buffer to its initial state, keeping only the agent id.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
	b.pendingContent.Reset()
	b.pendingReasoning.Reset()
	b.pendingToolCalls = nil
	b.injectionTimestamps = nil
	b.currentAttempt = 0
	b.currentRound = 0
}
