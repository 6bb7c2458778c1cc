package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/parleyhq/parley/internal/util"
)

// ScriptTurn is one canned backend turn consumed by a ScriptedBackend.
type ScriptTurn struct {
	ContentChunks []string
	ThoughtChunks []string
	ToolCalls     []ToolCall
	Usage         Usage
	SessionID     string
	// CreateErrs are returned by successive Create calls before this turn
	// succeeds, for exercising the retry layer.
	CreateErrs []error
	// PollStatuses are the working statuses a background job reports before
	// reaching its terminal state.
	PollStatuses []Status
	// FailMessage makes the turn end in StatusFailed.
	FailMessage string
}

type scriptedJob struct {
	turn  ScriptTurn
	polls int
}

// ScriptedBackend is a deterministic in-memory Backend for tests and dry
// runs. Each Create consumes the next scripted turn; background turns are
// completed through Get polling.
type ScriptedBackend struct {
	mu      sync.Mutex
	turns   []ScriptTurn
	turnIdx int
	jobs    map[string]*scriptedJob

	// CreateCalls and GetCalls count backend traffic for assertions.
	CreateCalls int
	GetCalls    int
	// LastRequest records the most recent Create input.
	LastRequest Request
}

var _ Backend = (*ScriptedBackend)(nil)

// NewScriptedBackend constructs a backend that replays the given turns.
func NewScriptedBackend(turns ...ScriptTurn) *ScriptedBackend {
	return &ScriptedBackend{turns: turns, jobs: make(map[string]*scriptedJob)}
}

// AddTurn appends another scripted turn.
func (s *ScriptedBackend) AddTurn(turn ScriptTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
}

// Create implements Backend.
func (s *ScriptedBackend) Create(ctx context.Context, req Request) (*Interaction, error) {
	s.mu.Lock()
	s.CreateCalls++
	s.LastRequest = req

	if s.turnIdx >= len(s.turns) {
		s.mu.Unlock()
		return nil, fmt.Errorf("scripted backend exhausted after %d turns", len(s.turns))
	}
	turn := &s.turns[s.turnIdx]

	if len(turn.CreateErrs) > 0 {
		err := turn.CreateErrs[0]
		turn.CreateErrs = turn.CreateErrs[1:]
		s.mu.Unlock()
		return nil, err
	}

	consumed := *turn
	s.turnIdx++
	id := util.NewID()
	s.mu.Unlock()

	if req.Background && !req.Stream {
		s.mu.Lock()
		s.jobs[id] = &scriptedJob{turn: consumed}
		s.mu.Unlock()
		return &Interaction{ID: id, Status: StatusWorking}, nil
	}

	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)
		for _, chunk := range consumed.ThoughtChunks {
			select {
			case <-ctx.Done():
				return
			case events <- StreamEvent{Kind: EventThought, Text: chunk}:
			}
		}
		for _, chunk := range consumed.ContentChunks {
			select {
			case <-ctx.Done():
				return
			case events <- StreamEvent{Kind: EventContent, Text: chunk}:
			}
		}
		if consumed.FailMessage != "" {
			events <- StreamEvent{Kind: EventError, ErrorMessage: consumed.FailMessage}
			return
		}
		if len(consumed.ToolCalls) > 0 {
			events <- StreamEvent{Kind: EventToolCalls, ToolCalls: consumed.ToolCalls}
		}
		events <- StreamEvent{Kind: EventDone, Response: s.terminal(id, consumed)}
	}()

	return &Interaction{ID: id, Status: StatusWorking, Events: events}, nil
}

// Get implements Backend for background jobs.
func (s *ScriptedBackend) Get(_ context.Context, id string) (*Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GetCalls++

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("unknown interaction %s", id)
	}
	if job.polls < len(job.turn.PollStatuses) {
		status := job.turn.PollStatuses[job.polls]
		job.polls++
		return &Interaction{ID: id, Status: status}, nil
	}
	return s.terminal(id, job.turn), nil
}

func (s *ScriptedBackend) terminal(id string, turn ScriptTurn) *Interaction {
	if turn.FailMessage != "" {
		return &Interaction{ID: id, Status: StatusFailed, ErrorMessage: turn.FailMessage}
	}
	status := StatusCompleted
	if len(turn.ToolCalls) > 0 {
		status = StatusRequiresAction
	}
	usage := turn.Usage
	return &Interaction{
		ID:        id,
		Status:    status,
		Content:   join(turn.ContentChunks),
		Thought:   join(turn.ThoughtChunks),
		ToolCalls: turn.ToolCalls,
		Usage:     &usage,
		SessionID: turn.SessionID,
	}
}

func join(chunks []string) string {
	out := ""
	for _, c := range chunks {
		out += c
	}
	return out
}
