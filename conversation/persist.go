package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrCorruptBuffer wraps deserialization failures of a persisted buffer
// file. The caller decides whether to start fresh or abort; no partial
// buffer is ever accepted silently.
var ErrCorruptBuffer = errors.New("corrupt buffer file")

// snapshot is the persisted wire form of a buffer. Pending accumulators are
// intentionally not part of it.
type snapshot struct {
	AgentID             string    `json:"agent_id"`
	CurrentAttempt      int       `json:"current_attempt"`
	CurrentRound        int       `json:"current_round"`
	Entries             []Entry   `json:"entries"`
	InjectionTimestamps []float64 `json:"injection_timestamps"`
}

// Save writes the buffer to path as JSON. Pending accumulators are never
// persisted; saving while pending state exists logs a warning because the
// caller most likely forgot to flush first.
func (b *Buffer) Save(path string) error {
	b.mu.Lock()
	if b.hasPendingLocked() {
		b.logger.Warn("conversation.save.pending",
			"agent_id", b.agentID, "pending_tool_calls", len(b.pendingToolCalls))
	}
	snap := snapshot{
		AgentID:             b.agentID,
		CurrentAttempt:      b.currentAttempt,
		CurrentRound:        b.currentRound,
		Entries:             append([]Entry{}, b.entries...),
		InjectionTimestamps: append([]float64{}, b.injectionTimestamps...),
	}
	b.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal buffer %s: %w", b.agentID, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write buffer %s: %w", b.agentID, err)
	}
	return nil
}

// Load reads a buffer previously written by Save. Malformed JSON yields an
// error wrapping ErrCorruptBuffer.
func Load(path string, optFns ...func(o *Options)) (*Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read buffer file: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptBuffer, path, err)
	}
	if snap.AgentID == "" {
		return nil, fmt.Errorf("%w: %s: missing agent_id", ErrCorruptBuffer, path)
	}

	b := New(snap.AgentID, optFns...)
	b.currentAttempt = snap.CurrentAttempt
	b.currentRound = snap.CurrentRound
	b.entries = snap.Entries
	b.injectionTimestamps = snap.InjectionTimestamps
	return b, nil
}
