package tool

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/parleyhq/parley/model"
)

// Workflow tool names. These are coordination primitives: the continuation
// loop never executes them locally, it hands them to the coordinator.
const (
	// WorkflowVote casts a vote for an answer label.
	WorkflowVote = "vote"
	// WorkflowNewAnswer submits or refines the agent's answer.
	WorkflowNewAnswer = "new_answer"
	// WorkflowAskOthers poses a question to the other agents.
	WorkflowAskOthers = "ask_others"
)

// IsWorkflowCall reports whether name is a coordination primitive.
func IsWorkflowCall(name string) bool {
	switch name {
	case WorkflowVote, WorkflowNewAnswer, WorkflowAskOthers:
		return true
	}
	return false
}

// WorkflowDefinitions returns the coordination tool definitions advertised
// to backends, in the flat shape the backend interface requires. The known
// answer labels are embedded into the vote description so models target
// current labels.
func WorkflowDefinitions(answerLabels []string) []model.ToolDefinition {
	voteDesc := "Cast your vote for the best current answer."
	if len(answerLabels) > 0 {
		voteDesc += " Valid answer labels: " + strings.Join(answerLabels, ", ")
	}

	return []model.ToolDefinition{
		{
			Type:        "function",
			Name:        WorkflowNewAnswer,
			Description: "Submit a new answer or refine your previous one.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content": map[string]any{
						"type":        "string",
						"description": "The full text of your answer.",
					},
				},
				"required": []string{"content"},
			},
		},
		{
			Type:        "function",
			Name:        WorkflowVote,
			Description: voteDesc,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"answer_label": map[string]any{
						"type":        "string",
						"description": "Label of the answer you vote for, e.g. agent_a.1.",
					},
					"reason": map[string]any{
						"type":        "string",
						"description": "Short justification for your vote.",
					},
				},
				"required": []string{"answer_label"},
			},
		},
		{
			Type:        "function",
			Name:        WorkflowAskOthers,
			Description: "Ask the other agents a clarifying question.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"question": map[string]any{
						"type":        "string",
						"description": "The question to broadcast.",
					},
				},
				"required": []string{"question"},
			},
		},
	}
}

// VoteArgs are the decoded arguments of a vote workflow call.
type VoteArgs struct {
	AnswerLabel string `json:"answer_label"`
	Reason      string `json:"reason,omitempty"`
}

// ParseVote decodes a vote workflow call's arguments.
func ParseVote(call model.ToolCall) (VoteArgs, error) {
	var args VoteArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return VoteArgs{}, fmt.Errorf("unparsable vote arguments: %w", err)
	}
	if args.AnswerLabel == "" {
		return VoteArgs{}, fmt.Errorf("vote missing answer_label")
	}
	return args, nil
}

// NewAnswerArgs are the decoded arguments of a new_answer workflow call.
type NewAnswerArgs struct {
	Content string `json:"content"`
}

// ParseNewAnswer decodes a new_answer workflow call's arguments.
func ParseNewAnswer(call model.ToolCall) (NewAnswerArgs, error) {
	var args NewAnswerArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return NewAnswerArgs{}, fmt.Errorf("unparsable new_answer arguments: %w", err)
	}
	if args.Content == "" {
		return NewAnswerArgs{}, fmt.Errorf("new_answer missing content")
	}
	return args, nil
}
