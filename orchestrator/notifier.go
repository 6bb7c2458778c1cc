package orchestrator

// Notifier receives one-way coordination events. Implementations must not
// block; the orchestrator never waits on display acknowledgment.
type Notifier interface {
	// OnPhase reports a phase transition.
	OnPhase(phase Phase)
	// OnNewAnswer reports a recorded answer and its derived label.
	OnNewAnswer(agentID, content, label string)
	// OnVote reports a validated vote.
	OnVote(voter, target string)
	// OnCompletion reports that an agent finished its turn.
	OnCompletion(agentID string)
	// OnError reports a failed agent turn.
	OnError(agentID, message string)
	// OnRestart reports a coordination restart.
	OnRestart(reason string, attempt, maxAttempts int)
	// OnPresentationChunk streams one chunk of the winning answer.
	OnPresentationChunk(chunk string)
}

// NoOpNotifier discards all events.
type NoOpNotifier struct{}

var _ Notifier = NoOpNotifier{}

func (NoOpNotifier) OnPhase(Phase)              {}
func (NoOpNotifier) OnNewAnswer(_, _, _ string) {}
func (NoOpNotifier) OnVote(_, _ string)         {}
func (NoOpNotifier) OnCompletion(string)        {}
func (NoOpNotifier) OnError(_, _ string)        {}
func (NoOpNotifier) OnRestart(string, int, int) {}
func (NoOpNotifier) OnPresentationChunk(string) {}
