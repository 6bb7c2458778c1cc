package main

import (
	"fmt"
	"io"

	"github.com/parleyhq/parley/orchestrator"
)

// consoleNotifier prints coordination events as they happen. Presentation
// chunks stream without trailing newlines so the winning answer renders as
// one block.
type consoleNotifier struct {
	out io.Writer
}

var _ orchestrator.Notifier = (*consoleNotifier)(nil)

func (c *consoleNotifier) OnPhase(phase orchestrator.Phase) {
	fmt.Fprintf(c.out, "--- %s ---\n", phase)
}

func (c *consoleNotifier) OnNewAnswer(agentID, _, label string) {
	fmt.Fprintf(c.out, "%s submitted answer %s\n", agentID, label)
}

func (c *consoleNotifier) OnVote(voter, target string) {
	fmt.Fprintf(c.out, "%s voted for %s\n", voter, target)
}

func (c *consoleNotifier) OnCompletion(agentID string) {
	fmt.Fprintf(c.out, "%s finished its turn\n", agentID)
}

func (c *consoleNotifier) OnError(agentID, message string) {
	fmt.Fprintf(c.out, "%s failed: %s\n", agentID, message)
}

func (c *consoleNotifier) OnRestart(reason string, attempt, maxAttempts int) {
	fmt.Fprintf(c.out, "restart (%d/%d): %s\n", attempt, maxAttempts, reason)
}

func (c *consoleNotifier) OnPresentationChunk(chunk string) {
	fmt.Fprint(c.out, chunk)
}
