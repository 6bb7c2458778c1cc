// Package orchestrator runs the coordination protocol over a set of agents:
// independent initial answers, one-way broadcast of answers into still-open
// buffers, vote collection with enforcement re-prompts, deterministic
// tie-break, restart handling and chunked presentation of the winner.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/parleyhq/parley/conversation"
	"github.com/parleyhq/parley/flow"
	"github.com/parleyhq/parley/logging"
	"github.com/parleyhq/parley/model"
	"github.com/parleyhq/parley/tool"
)

// Phase is one coordination state.
type Phase string

const (
	// PhaseInitialAnswer runs each agent independently until it answers.
	PhaseInitialAnswer Phase = "INITIAL_ANSWER"
	// PhaseEnforcement collects votes, re-prompting protocol violations.
	PhaseEnforcement Phase = "ENFORCEMENT"
	// PhaseWinnerSelected marks a successful tally.
	PhaseWinnerSelected Phase = "WINNER_SELECTED"
	// PhaseRestart marks a new coordination attempt.
	PhaseRestart Phase = "RESTART"
	// PhasePresentation streams the winning answer.
	PhasePresentation Phase = "PRESENTATION"
	// PhaseDone is the successful terminal state.
	PhaseDone Phase = "DONE"
	// PhaseCancelled is the terminal state after user cancellation. No vote
	// tally is performed.
	PhaseCancelled Phase = "CANCELLED"
)

// Answer is one recorded agent answer. Labels are unique per session:
// {agent_id}.{n} with n increasing per agent across attempts.
type Answer struct {
	AgentID   string    `json:"agent_id"`
	Number    int       `json:"number"`
	Label     string    `json:"label"`
	Content   string    `json:"content"`
	Attempt   int       `json:"attempt"`
	Timestamp time.Time `json:"timestamp"`
}

// RestartRecord is one entry of the immutable restart history.
type RestartRecord struct {
	Attempt          int       `json:"attempt"`
	MaxAttempts      int       `json:"max_attempts"`
	Reason           string    `json:"reason"`
	Instructions     string    `json:"instructions"`
	Timestamp        time.Time `json:"timestamp"`
	AnswersAtRestart []string  `json:"answers_at_restart"`
}

// AgentOptions configures an Agent.
type AgentOptions struct {
	// Target is the model or job identifier passed to the backend.
	Target string
	// SystemPrompt seeds the agent's buffer on the first attempt.
	SystemPrompt string
	// Buffer overrides the agent's conversation buffer.
	Buffer *conversation.Buffer
}

// Agent is one coordination participant: a continuation loop plus its
// conversation buffer.
type Agent struct {
	id           string
	loop         *flow.Loop
	buffer       *conversation.Buffer
	target       string
	systemPrompt string
}

// NewAgent constructs an agent around a continuation loop.
func NewAgent(id string, loop *flow.Loop, optFns ...func(o *AgentOptions)) *Agent {
	opts := AgentOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Buffer == nil {
		opts.Buffer = conversation.New(id)
	}
	return &Agent{
		id:           id,
		loop:         loop,
		buffer:       opts.Buffer,
		target:       opts.Target,
		systemPrompt: opts.SystemPrompt,
	}
}

// ID returns the agent identifier.
func (a *Agent) ID() string { return a.id }

// Buffer returns the agent's conversation buffer.
func (a *Agent) Buffer() *conversation.Buffer { return a.buffer }

// Options configures an Orchestrator.
type Options struct {
	Logger   logging.Logger
	Notifier Notifier
	// MaxAttempts caps coordination attempts (initial plus restarts).
	// Default 3.
	MaxAttempts int
	// MaxVoteRounds caps enforcement re-prompts per attempt. Default 3.
	MaxVoteRounds int
	// PresentationChunkSize is the rune length of presentation chunks.
	// Default 64.
	PresentationChunkSize int
	// Anonymize relabels injected answers as agent1, agent2, ... instead of
	// real agent ids. Default true.
	Anonymize bool
}

// Result is the terminal outcome of one coordination session.
type Result struct {
	Phase        Phase
	Winner       string
	WinningLabel string
	FinalAnswer  string
	Votes        *VoteResult
	Answers      []Answer
	Restarts     []RestartRecord
}

// Orchestrator drives the coordination state machine. Register all agents
// before calling Run; registration order is the deterministic tie-break
// order and stays fixed across restarts.
type Orchestrator struct {
	logger    logging.Logger
	notifier  Notifier
	maxTries  int
	voteRound int
	chunkSize int
	anonymize bool

	agents []*Agent
	order  []string

	mu        sync.Mutex
	answers   []Answer
	byLabel   map[string]int // label -> index into answers
	answerSeq map[string]int
	votes     map[string]voteRecord // keyed by voter
	restarts  []RestartRecord
	attempt   int

	finalAnswer string
}

// New constructs an Orchestrator.
func New(optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		Logger:                logging.NoOpLogger{},
		Notifier:              NoOpNotifier{},
		MaxAttempts:           3,
		MaxVoteRounds:         3,
		PresentationChunkSize: 64,
		Anonymize:             true,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Orchestrator{
		logger:    opts.Logger,
		notifier:  opts.Notifier,
		maxTries:  opts.MaxAttempts,
		voteRound: opts.MaxVoteRounds,
		chunkSize: opts.PresentationChunkSize,
		anonymize: opts.Anonymize,
		byLabel:   make(map[string]int),
		answerSeq: make(map[string]int),
		votes:     make(map[string]voteRecord),
	}
}

// Register adds an agent. Must be called before Run.
func (o *Orchestrator) Register(agent *Agent) error {
	for _, existing := range o.agents {
		if existing.id == agent.id {
			return fmt.Errorf("agent %s already registered", agent.id)
		}
	}
	o.agents = append(o.agents, agent)
	o.order = append(o.order, agent.id)
	return nil
}

// Run drives the session to a terminal phase. Cancellation is observed at
// phase boundaries and yields a PhaseCancelled result without a tally.
func (o *Orchestrator) Run(ctx context.Context, task string) (*Result, error) {
	if len(o.agents) == 0 {
		return nil, fmt.Errorf("no agents registered")
	}
	o.attempt = 1

	var voteResult *VoteResult
	for {
		if ctx.Err() != nil {
			return o.cancelledResult(), nil
		}

		o.setPhase(PhaseInitialAnswer)
		if err := o.runInitialAnswers(ctx, task); err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			return o.cancelledResult(), nil
		}

		o.broadcastAnswers()

		o.setPhase(PhaseEnforcement)
		if err := o.runVoting(ctx); err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			return o.cancelledResult(), nil
		}

		votes := o.collectVotes()
		if len(votes) == 0 {
			if o.attempt >= o.maxTries {
				return nil, fmt.Errorf("no valid votes after %d attempts", o.attempt)
			}
			o.restart("no agent cast a valid vote",
				"The previous attempt produced no valid votes. Produce a fresh answer with new_answer, then vote for the best answer.")
			continue
		}

		voteResult = tally(votes, o.order)
		o.setPhase(PhaseWinnerSelected)
		o.logger.Info("orchestrator.winner.selected",
			"winner", voteResult.Winner, "is_tie", voteResult.IsTie,
			"total_votes", voteResult.TotalVotes)
		break
	}

	winning := o.latestAnswerBy(voteResult.Winner)
	if winning == nil {
		return nil, fmt.Errorf("winner %s has no recorded answer", voteResult.Winner)
	}
	o.finalAnswer = winning.Content

	o.setPhase(PhasePresentation)
	_ = o.Present(func(chunk string) { o.notifier.OnPresentationChunk(chunk) })
	o.notifier.OnCompletion(voteResult.Winner)

	o.setPhase(PhaseDone)
	o.mu.Lock()
	defer o.mu.Unlock()
	return &Result{
		Phase:        PhaseDone,
		Winner:       voteResult.Winner,
		WinningLabel: winning.Label,
		FinalAnswer:  winning.Content,
		Votes:        voteResult,
		Answers:      append([]Answer(nil), o.answers...),
		Restarts:     append([]RestartRecord(nil), o.restarts...),
	}, nil
}

// Present replays the winning answer chunk-by-chunk. Callable repeatedly
// once a winner exists, so a disconnected observer can resume.
func (o *Orchestrator) Present(emit func(chunk string)) error {
	if o.finalAnswer == "" {
		return fmt.Errorf("no winning answer to present")
	}
	runes := []rune(o.finalAnswer)
	for start := 0; start < len(runes); start += o.chunkSize {
		end := start + o.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		emit(string(runes[start:end]))
	}
	return nil
}

// Restarts returns the restart history.
func (o *Orchestrator) Restarts() []RestartRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]RestartRecord(nil), o.restarts...)
}

func (o *Orchestrator) setPhase(phase Phase) {
	o.logger.Info("orchestrator.phase", "phase", string(phase), "attempt", o.attempt)
	o.notifier.OnPhase(phase)
}

// runInitialAnswers runs every agent's turn concurrently and waits for all
// of them before the phase advances.
func (o *Orchestrator) runInitialAnswers(ctx context.Context, task string) error {
	var wg sync.WaitGroup
	errs := make([]error, len(o.agents))

	for i, agent := range o.agents {
		wg.Add(1)
		go func(i int, agent *Agent) {
			defer wg.Done()
			errs[i] = o.runInitialTurn(ctx, agent, task)
		}(i, agent)
	}
	wg.Wait()

	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			o.logger.Error("orchestrator.turn.error", "agent", o.agents[i].id, "error", err.Error())
			o.notifier.OnError(o.agents[i].id, err.Error())
		}
	}
	if failed == len(o.agents) {
		return fmt.Errorf("all %d agents failed during initial answers", failed)
	}
	return nil
}

func (o *Orchestrator) runInitialTurn(ctx context.Context, agent *Agent, task string) error {
	buf := agent.buffer
	buf.SetAttempt(o.attempt)
	if o.attempt == 1 {
		if agent.systemPrompt != "" {
			buf.AddSystemMessage(agent.systemPrompt)
		}
		buf.AddUserMessage(task)
	}

	outcome, err := agent.loop.RunTurn(ctx, buf, o.requestFor(agent))
	if err != nil {
		return err
	}

	o.handleWorkflowCalls(agent, outcome.WorkflowCalls)
	if len(outcome.WorkflowCalls) == 0 && strings.TrimSpace(outcome.Content) != "" {
		o.recordAnswer(agent.id, outcome.Content)
	}
	o.notifier.OnCompletion(agent.id)
	return nil
}

// broadcastAnswers injects every agent's latest answer into the other
// agents' buffers. One-way broadcast, applied between turns only.
func (o *Orchestrator) broadcastAnswers() {
	latest := make(map[string]string)
	for _, id := range o.order {
		if answer := o.latestAnswerBy(id); answer != nil {
			latest[id] = answer.Content
		}
	}
	for _, agent := range o.agents {
		updates := make(map[string]string)
		for id, content := range latest {
			if id != agent.id {
				updates[id] = content
			}
		}
		agent.buffer.InjectUpdate(updates, o.anonymize)
	}
}

// runVoting re-prompts unvoted agents up to the vote-round cap. Agents run
// sequentially in registration order so enforcement is deterministic.
func (o *Orchestrator) runVoting(ctx context.Context) error {
	for round := 1; round <= o.voteRound; round++ {
		if ctx.Err() != nil {
			return nil
		}
		pending := o.unvotedAgents()
		if len(pending) == 0 {
			return nil
		}

		for _, agent := range pending {
			if ctx.Err() != nil {
				return nil
			}
			prompt := o.votePrompt(round)
			agent.buffer.AddEnforcement(prompt, "vote_required")

			outcome, err := agent.loop.RunTurn(ctx, agent.buffer, o.requestFor(agent))
			if err != nil {
				o.logger.Error("orchestrator.vote.turn.error", "agent", agent.id, "error", err.Error())
				o.notifier.OnError(agent.id, err.Error())
				continue
			}
			o.handleWorkflowCalls(agent, outcome.WorkflowCalls)
		}
	}
	return nil
}

// handleWorkflowCalls applies the coordination primitives an agent emitted.
func (o *Orchestrator) handleWorkflowCalls(agent *Agent, calls []model.ToolCall) {
	for _, call := range calls {
		switch call.Name {
		case tool.WorkflowNewAnswer:
			args, err := tool.ParseNewAnswer(call)
			if err != nil {
				o.logger.Warn("orchestrator.answer.malformed", "agent", agent.id, "error", err.Error())
				continue
			}
			o.recordAnswer(agent.id, args.Content)

		case tool.WorkflowVote:
			args, err := tool.ParseVote(call)
			if err != nil {
				o.rejectVote(agent, "", err.Error())
				continue
			}
			o.applyVote(agent, args)

		case tool.WorkflowAskOthers:
			o.broadcastQuestion(agent, call)
		}
	}
}

func (o *Orchestrator) applyVote(agent *Agent, args tool.VoteArgs) {
	o.mu.Lock()
	idx, ok := o.byLabel[args.AnswerLabel]
	valid := ok && o.answers[idx].Attempt == o.attempt
	var target string
	if valid {
		target = o.answers[idx].AgentID
		o.votes[agent.id] = voteRecord{voter: agent.id, target: target, reason: args.Reason}
	}
	o.mu.Unlock()

	if !valid {
		o.rejectVote(agent, args.AnswerLabel, "unknown or stale answer label")
		return
	}
	o.logger.Info("orchestrator.vote.recorded", "voter", agent.id, "label", args.AnswerLabel, "target", target)
	o.notifier.OnVote(agent.id, target)
}

// rejectVote records an enforcement re-prompt for an invalid vote. Never
// silently ignored and never fatal.
func (o *Orchestrator) rejectVote(agent *Agent, label, reason string) {
	o.logger.Warn("orchestrator.vote.invalid", "agent", agent.id, "label", label, "reason", reason)
	msg := fmt.Sprintf(
		"Your vote was invalid (%s). Valid answer labels: %s. Cast your vote again with the vote tool.",
		reason, strings.Join(o.currentLabels(), ", "))
	agent.buffer.AddEnforcement(msg, "invalid_vote")
}

func (o *Orchestrator) broadcastQuestion(from *Agent, call model.ToolCall) {
	question := call.Arguments
	for _, other := range o.agents {
		if other.id == from.id {
			continue
		}
		other.buffer.InjectUpdate(map[string]string{from.id: "Question: " + question}, o.anonymize)
	}
}

func (o *Orchestrator) recordAnswer(agentID, content string) {
	o.mu.Lock()
	o.answerSeq[agentID]++
	answer := Answer{
		AgentID:   agentID,
		Number:    o.answerSeq[agentID],
		Label:     fmt.Sprintf("%s.%d", agentID, o.answerSeq[agentID]),
		Content:   content,
		Attempt:   o.attempt,
		Timestamp: time.Now(),
	}
	o.answers = append(o.answers, answer)
	o.byLabel[answer.Label] = len(o.answers) - 1
	o.mu.Unlock()

	o.logger.Info("orchestrator.answer.recorded", "agent", agentID, "label", answer.Label)
	o.notifier.OnNewAnswer(agentID, content, answer.Label)
}

// restart opens a new attempt, preserving answer and vote history for
// audit. Previous labels become stale for voting.
func (o *Orchestrator) restart(reason, instructions string) {
	o.setPhase(PhaseRestart)

	o.mu.Lock()
	record := RestartRecord{
		Attempt:          o.attempt,
		MaxAttempts:      o.maxTries,
		Reason:           reason,
		Instructions:     instructions,
		Timestamp:        time.Now(),
		AnswersAtRestart: o.currentLabelsLocked(),
	}
	o.restarts = append(o.restarts, record)
	o.votes = make(map[string]voteRecord)
	o.attempt++
	attempt := o.attempt
	o.mu.Unlock()

	o.logger.Warn("orchestrator.restart",
		"reason", reason, "attempt", attempt, "max_attempts", o.maxTries)
	o.notifier.OnRestart(reason, attempt, o.maxTries)

	for _, agent := range o.agents {
		agent.buffer.AddEnforcement(instructions, "restart")
		agent.buffer.SetAttempt(attempt)
	}
}

func (o *Orchestrator) requestFor(agent *Agent) model.Request {
	tools := agent.loop.Definitions()
	tools = append(tools, tool.WorkflowDefinitions(o.currentLabels())...)
	return model.Request{Target: agent.target, Tools: tools}
}

func (o *Orchestrator) votePrompt(round int) string {
	labels := strings.Join(o.currentLabels(), ", ")
	if round == 1 {
		return fmt.Sprintf(
			"All agents have answered. Review the candidate answers and cast your vote for the best one with the vote tool. Valid answer labels: %s", labels)
	}
	return fmt.Sprintf(
		"You have not cast a valid vote yet. Use the vote tool with one of the valid answer labels: %s", labels)
}

func (o *Orchestrator) unvotedAgents() []*Agent {
	o.mu.Lock()
	defer o.mu.Unlock()
	var pending []*Agent
	for _, agent := range o.agents {
		if _, ok := o.votes[agent.id]; !ok {
			pending = append(pending, agent)
		}
	}
	return pending
}

func (o *Orchestrator) collectVotes() []voteRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	var votes []voteRecord
	for _, id := range o.order {
		if v, ok := o.votes[id]; ok {
			votes = append(votes, v)
		}
	}
	return votes
}

func (o *Orchestrator) currentLabels() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentLabelsLocked()
}

func (o *Orchestrator) currentLabelsLocked() []string {
	var labels []string
	for _, answer := range o.answers {
		if answer.Attempt == o.attempt {
			labels = append(labels, answer.Label)
		}
	}
	return labels
}

func (o *Orchestrator) latestAnswerBy(agentID string) *Answer {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.answers) - 1; i >= 0; i-- {
		if o.answers[i].AgentID == agentID {
			answer := o.answers[i]
			return &answer
		}
	}
	return nil
}

func (o *Orchestrator) cancelledResult() *Result {
	o.notifier.OnPhase(PhaseCancelled)
	o.mu.Lock()
	defer o.mu.Unlock()
	return &Result{
		Phase:    PhaseCancelled,
		Answers:  append([]Answer(nil), o.answers...),
		Restarts: append([]RestartRecord(nil), o.restarts...),
	}
}
