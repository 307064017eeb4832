// ABOUTME: OpenAI chat-completions provider, also used for Ollama's OpenAI-compatible API
// ABOUTME: Sends the system prompt, prior turns, and the built prompt, running tool calls until the model answers

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI implements Provider over any OpenAI-compatible chat API.
type OpenAI struct {
	client openai.Client
	name   string
	cfg    Config
}

// NewOpenAI creates a provider reporting the given name.
func NewOpenAI(name string, cfg Config) *OpenAI {
	cfg = cfg.withDefaults()
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		name:   name,
		cfg:    cfg,
	}
}

func (p *OpenAI) Name() string { return p.name }

// Generate requests chat completions, answering the model's tool calls
// until it replies with text.
func (p *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(p.cfg.Model),
		Messages:  p.buildMessages(req),
		MaxTokens: openai.Int(int64(p.cfg.MaxTokens)),
		Tools:     p.buildTools(req.Tools),
	}
	if p.cfg.Temperature > 0 {
		params.Temperature = openai.Float(p.cfg.Temperature)
	}

	for round := 0; ; round++ {
		toolsAllowed := len(params.Tools) > 0 && round < MaxToolRounds
		if len(params.Tools) > 0 && !toolsAllowed {
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("none")}
		}

		resp, err := p.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", fmt.Errorf("%s chat completion: %w", p.name, err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("%s: %w", p.name, ErrEmptyResponse)
		}
		msg := resp.Choices[0].Message

		if !toolsAllowed || len(msg.ToolCalls) == 0 {
			content := strings.TrimSpace(msg.Content)
			if content == "" {
				return "", fmt.Errorf("%s: %w", p.name, ErrEmptyResponse)
			}
			return content, nil
		}

		params.Messages = append(params.Messages, msg.ToParam())
		for _, tc := range msg.ToolCalls {
			out, _ := callTool(ctx, req.Tools, tc.Function.Name, json.RawMessage(tc.Function.Arguments))
			params.Messages = append(params.Messages, openai.ToolMessage(out, tc.ID))
		}
	}
}

func (p *OpenAI) buildMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.History {
		switch m.Role {
		case RoleUser:
			msgs = append(msgs, openai.UserMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		}
	}
	return append(msgs, openai.UserMessage(req.Prompt))
}

func (p *OpenAI) buildTools(tools []Tool) []openai.ChatCompletionToolParam {
	var out []openai.ChatCompletionToolParam
	for _, t := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  openai.FunctionParameters(t.schema()),
			},
		})
	}
	return out
}
