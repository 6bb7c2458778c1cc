// Package openai adapts the OpenAI Chat Completions API (streaming and
// function/tool calling) to the model.Backend interface. SDK response shapes
// are converted into normalized stream events at this boundary.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/parleyhq/parley/backoff"
	"github.com/parleyhq/parley/conversation"
	"github.com/parleyhq/parley/internal/util"
	"github.com/parleyhq/parley/model"
)

// aggCall aggregates partial tool call streaming deltas so complete calls
// can be reconstructed when the stream finishes.
type aggCall struct{ id, name, args string }

// Options configures the OpenAI backend adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Backend wraps the OpenAI Chat Completions API behind model.Backend.
type Backend struct {
	client *openai.Client
	opts   Options
}

var _ model.Backend = (*Backend)(nil)

// New creates a backend using the default client (API key from env).
func New(optFns ...func(o *Options)) *Backend {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a backend from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Backend {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Backend{client: client, opts: opts}
}

// Create implements model.Backend. Streaming requests return an Interaction
// with a live Events channel; otherwise the terminal snapshot is returned
// directly.
func (b *Backend) Create(ctx context.Context, req model.Request) (*model.Interaction, error) {
	params := b.buildParams(req)
	id := util.NewID()

	if !req.Stream {
		resp, err := b.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, wrapErr(err)
		}
		return b.fromCompletion(id, resp)
	}

	events := make(chan model.StreamEvent, 32)
	interaction := &model.Interaction{ID: id, Status: model.StatusWorking, Events: events}

	go func() {
		defer close(events)

		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		}
		stream := b.client.Chat.Completions.NewStreaming(ctx, params)

		var content string
		var usage model.Usage
		toolAgg := map[int64]*aggCall{}
		var order []int64

		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				usage = fromUsage(chunk.Usage)
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					content += choice.Delta.Content
					events <- model.StreamEvent{Kind: model.EventContent, Text: choice.Delta.Content}
				}
				for _, tc := range choice.Delta.ToolCalls {
					ac, ok := toolAgg[tc.Index]
					if !ok {
						ac = &aggCall{}
						toolAgg[tc.Index] = ac
						order = append(order, tc.Index)
					}
					if tc.ID != "" {
						ac.id = tc.ID
					}
					if tc.Function.Name != "" {
						ac.name = tc.Function.Name
					}
					ac.args += tc.Function.Arguments
				}
			}
		}
		if err := stream.Err(); err != nil {
			events <- model.StreamEvent{Kind: model.EventError, ErrorMessage: err.Error()}
			return
		}

		var toolCalls []model.ToolCall
		for _, idx := range order {
			ac := toolAgg[idx]
			toolCalls = append(toolCalls, model.ToolCall{ID: ac.id, Name: ac.name, Arguments: ac.args})
		}
		if len(toolCalls) > 0 {
			events <- model.StreamEvent{Kind: model.EventToolCalls, ToolCalls: toolCalls}
		}

		status := model.StatusCompleted
		if len(toolCalls) > 0 {
			status = model.StatusRequiresAction
		}
		events <- model.StreamEvent{Kind: model.EventDone, Response: &model.Interaction{
			ID:        id,
			Status:    status,
			Content:   content,
			ToolCalls: toolCalls,
			Usage:     &usage,
		}}
	}()

	return interaction, nil
}

// Get implements model.Backend. Chat completions have no background job
// retrieval; long-running targets should use a backend that supports it.
func (b *Backend) Get(_ context.Context, id string) (*model.Interaction, error) {
	return nil, fmt.Errorf("openai: background retrieval not supported for interaction %s", id)
}

func (b *Backend) buildParams(req model.Request) openai.ChatCompletionNewParams {
	target := req.Target
	if target == "" {
		target = b.opts.Model
	}
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req.Messages),
		Model:               target,
		Temperature:         openai.Float(b.opts.Temperature),
		MaxCompletionTokens: openai.Int(b.opts.MaxCompletionTokens),
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
		for i, def := range req.Tools {
			tools[i] = openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        def.Name,
					Description: openai.String(def.Description),
					Parameters:  def.Parameters,
				},
			}
		}
		params.Tools = tools
	}
	return params
}

// buildMessages converts replayed buffer messages into SDK message params.
func buildMessages(messages []conversation.Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch msg.Role {
		case conversation.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case conversation.RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case conversation.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(msg.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Role:      "assistant",
					ToolCalls: toolCalls,
				},
			})
		case conversation.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			if msg.Content != "" {
				out = append(out, openai.UserMessage(msg.Content))
			}
		}
	}
	return out
}

func (b *Backend) fromCompletion(id string, resp *openai.ChatCompletion) (*model.Interaction, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices returned")
	}
	choice := resp.Choices[0]

	var toolCalls []model.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, model.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	status := model.StatusCompleted
	if len(toolCalls) > 0 {
		status = model.StatusRequiresAction
	}
	usage := fromUsage(resp.Usage)
	return &model.Interaction{
		ID:        id,
		Status:    status,
		Content:   choice.Message.Content,
		ToolCalls: toolCalls,
		Usage:     &usage,
	}, nil
}

func fromUsage(u openai.CompletionUsage) model.Usage {
	return model.Usage{
		PromptTokens:  int(u.PromptTokens),
		OutputTokens:  int(u.CompletionTokens),
		ThoughtTokens: int(u.CompletionTokensDetails.ReasoningTokens),
		CachedTokens:  int(u.PromptTokensDetails.CachedTokens),
	}
}

// wrapErr normalizes SDK errors into *backoff.UpstreamError so the retry
// layer can classify them by status code and headers.
func wrapErr(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		upstream := &backoff.UpstreamError{StatusCode: apierr.StatusCode, Err: err}
		if apierr.Response != nil {
			upstream.Headers = apierr.Response.Header
		}
		return upstream
	}
	return err
}
