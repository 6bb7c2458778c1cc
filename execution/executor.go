package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/parleyhq/parley/backoff"
	"github.com/parleyhq/parley/logging"
	"github.com/parleyhq/parley/model"
)

// ErrPollTimeout reports that a background job exceeded the poll cap. Fatal
// for the turn; the coordination layer treats it as a turn error distinct
// from cancellation.
var ErrPollTimeout = errors.New("execution: poll cap exceeded")

// TurnResult is the normalized outcome of one remote turn, identical in
// shape for both execution modes.
type TurnResult struct {
	Content   string
	Thought   string
	ToolCalls []model.ToolCall
	Status    model.Status
	Usage     model.Usage
	SessionID string
}

// Options configures an Executor.
type Options struct {
	Logger   logging.Logger
	Selector *Selector
	// Retry wraps every remote create/get call. Defaults to the standard
	// policy.
	Retry *backoff.Executor
	// Usage receives exactly one update per completed turn.
	Usage *UsageAccumulator
	// PollInterval is the delay between background status fetches.
	PollInterval time.Duration
	// MaxPolls caps poll iterations; cap times interval bounds the
	// effective wall-clock timeout deterministically.
	MaxPolls int
	// LogEveryNthPoll throttles working-status log lines.
	LogEveryNthPoll int
	// PersistSessions records continuation identifiers from completed turns
	// so later requests can continue the remote conversation.
	PersistSessions bool
	// Sleep overrides the poll delay, for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Executor runs one remote turn against a backend in the mode the selector
// picks, retrying transient upstream failures and normalizing both modes
// into a TurnResult.
type Executor struct {
	backend  model.Backend
	logger   logging.Logger
	selector *Selector
	retry    *backoff.Executor
	usage    *UsageAccumulator

	pollInterval    time.Duration
	maxPolls        int
	logEveryNthPoll int
	persistSessions bool
	sleep           func(ctx context.Context, d time.Duration) error

	sessionID string
}

// New constructs an Executor around a backend.
func New(backend model.Backend, optFns ...func(o *Options)) *Executor {
	opts := Options{
		Logger:          logging.NoOpLogger{},
		PollInterval:    2 * time.Second,
		MaxPolls:        300,
		LogEveryNthPoll: 10,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Selector == nil {
		opts.Selector = NewSelector()
	}
	if opts.Retry == nil {
		opts.Retry = backoff.New(backoff.DefaultConfig(), func(o *backoff.Options) {
			o.Logger = opts.Logger
		})
	}
	if opts.Usage == nil {
		opts.Usage = &UsageAccumulator{}
	}
	if opts.Sleep == nil {
		opts.Sleep = func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		}
	}
	return &Executor{
		backend:         backend,
		logger:          opts.Logger,
		selector:        opts.Selector,
		retry:           opts.Retry,
		usage:           opts.Usage,
		pollInterval:    opts.PollInterval,
		maxPolls:        opts.MaxPolls,
		logEveryNthPoll: opts.LogEveryNthPoll,
		persistSessions: opts.PersistSessions,
		sleep:           opts.Sleep,
	}
}

// Usage exposes the executor's token accumulator.
func (e *Executor) Usage() *UsageAccumulator { return e.usage }

// SessionID returns the last persisted continuation identifier, empty when
// session persistence is disabled or no turn has completed.
func (e *Executor) SessionID() string { return e.sessionID }

// Run executes one remote turn. The request's stream/background flags are
// set from the selector's plan; callers supply target, messages and tools.
func (e *Executor) Run(ctx context.Context, req model.Request) (*TurnResult, error) {
	plan := e.selector.Select(req.Target)
	req.Background = plan.Background
	if e.persistSessions && e.sessionID != "" {
		req.PreviousID = e.sessionID
	}

	var result *TurnResult
	var err error
	switch plan.Mode {
	case ModePolling:
		req.Stream = false
		result, err = e.runPolling(ctx, req)
	default:
		req.Stream = true
		result, err = e.runStreaming(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	e.usage.AddTurn(result.Usage)
	if e.persistSessions && result.SessionID != "" {
		e.sessionID = result.SessionID
	}
	return result, nil
}

// runStreaming consumes the live event stream. Tool calls are buffered and
// surfaced only once the stream ends, never interleaved with content.
func (e *Executor) runStreaming(ctx context.Context, req model.Request) (*TurnResult, error) {
	interaction, err := backoff.Execute(ctx, e.retry, func(ctx context.Context) (*model.Interaction, error) {
		return e.backend.Create(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	if interaction.Events == nil {
		return terminalResult(interaction)
	}

	result := &TurnResult{Status: model.StatusWorking}
	for event := range interaction.Events {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch event.Kind {
		case model.EventContent:
			result.Content += event.Text
		case model.EventThought:
			result.Thought += event.Text
		case model.EventToolCalls:
			result.ToolCalls = event.ToolCalls
		case model.EventError:
			return nil, fmt.Errorf("stream failed: %s", event.ErrorMessage)
		case model.EventDone:
			if event.Response != nil {
				finishFromTerminal(result, event.Response)
			}
		}
	}
	if result.Status == model.StatusWorking {
		return nil, errors.New("stream ended without a terminal event")
	}
	return result, nil
}

// runPolling submits a background job and fetches its status until it
// leaves working or the poll cap trips.
func (e *Executor) runPolling(ctx context.Context, req model.Request) (*TurnResult, error) {
	job, err := backoff.Execute(ctx, e.retry, func(ctx context.Context) (*model.Interaction, error) {
		return e.backend.Create(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	if job.Status != model.StatusWorking {
		return terminalResult(job)
	}

	for poll := 1; poll <= e.maxPolls; poll++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := e.sleep(ctx, e.pollInterval); err != nil {
			return nil, err
		}

		status, err := backoff.Execute(ctx, e.retry, func(ctx context.Context) (*model.Interaction, error) {
			return e.backend.Get(ctx, job.ID)
		})
		if err != nil {
			return nil, err
		}

		switch status.Status {
		case model.StatusWorking:
			if poll%e.logEveryNthPoll == 0 {
				e.logger.Debug("execution.poll.working", "interaction_id", job.ID, "poll", poll)
			}
		case model.StatusFailed:
			return nil, fmt.Errorf("remote job failed: %s", status.ErrorMessage)
		default:
			return terminalResult(status)
		}
	}
	return nil, fmt.Errorf("%w after %d polls", ErrPollTimeout, e.maxPolls)
}

func terminalResult(interaction *model.Interaction) (*TurnResult, error) {
	if interaction.Status == model.StatusFailed {
		return nil, fmt.Errorf("remote job failed: %s", interaction.ErrorMessage)
	}
	result := &TurnResult{}
	finishFromTerminal(result, interaction)
	return result, nil
}

func finishFromTerminal(result *TurnResult, interaction *model.Interaction) {
	result.Status = interaction.Status
	result.SessionID = interaction.SessionID
	if interaction.Content != "" {
		result.Content = interaction.Content
	}
	if interaction.Thought != "" {
		result.Thought = interaction.Thought
	}
	if len(interaction.ToolCalls) > 0 {
		result.ToolCalls = interaction.ToolCalls
	}
	if interaction.Usage != nil {
		result.Usage = *interaction.Usage
	}
}
