// Package execution decides how a remote interaction is consumed, streaming
// or background polling, and normalizes both paths into the same ordered
// event sequence and terminal turn result.
package execution

import "strings"

// Mode is the consumption strategy for a remote interaction.
type Mode string

const (
	// ModeStreaming consumes a live event stream.
	ModeStreaming Mode = "streaming"
	// ModePolling submits a background job and polls its status.
	ModePolling Mode = "polling"
)

// Plan is the resolved execution decision for one target.
type Plan struct {
	Mode Mode
	// Background requests explicit background execution on the remote API.
	// Set for long-running targets that stream but still need the flag.
	Background bool
}

// SelectorOptions configures a Selector.
type SelectorOptions struct {
	// LongRunningPatterns are substrings identifying long-running job
	// targets. Matched targets get background execution.
	LongRunningPatterns []string
	// BackgroundStreaming keeps matched targets on the streaming path with
	// the background flag set. When false, matched targets fall back to
	// polling because the remote API cannot stream background jobs.
	BackgroundStreaming bool
	// Override forces one plan for every target, winning over detection.
	Override *Plan
}

// Selector maps a target identifier to an execution Plan.
type Selector struct {
	patterns            []string
	backgroundStreaming bool
	override            *Plan
}

// NewSelector constructs a Selector with optional overrides.
func NewSelector(optFns ...func(o *SelectorOptions)) *Selector {
	opts := SelectorOptions{
		LongRunningPatterns: []string{"agent", "deep-research"},
		BackgroundStreaming: true,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Selector{
		patterns:            opts.LongRunningPatterns,
		backgroundStreaming: opts.BackgroundStreaming,
		override:            opts.Override,
	}
}

// Select resolves the plan for a target. An explicit override always wins
// over pattern detection.
func (s *Selector) Select(target string) Plan {
	if s.override != nil {
		return *s.override
	}
	if s.isLongRunning(target) {
		if s.backgroundStreaming {
			return Plan{Mode: ModeStreaming, Background: true}
		}
		return Plan{Mode: ModePolling, Background: true}
	}
	return Plan{Mode: ModeStreaming}
}

func (s *Selector) isLongRunning(target string) bool {
	lower := strings.ToLower(target)
	for _, p := range s.patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
