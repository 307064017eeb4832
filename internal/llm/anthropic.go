// ABOUTME: Anthropic Messages API provider with tool use
// ABOUTME: History must open with a user turn, so leading assistant turns are dropped

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic implements Provider using the Messages API.
type Anthropic struct {
	client anthropic.Client
	cfg    Config
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(cfg Config) *Anthropic {
	cfg = cfg.withDefaults()
	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(cfg.APIKey),
		anthropicoption.WithMaxRetries(cfg.MaxRetries),
		anthropicoption.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
	}
}

func (p *Anthropic) Name() string { return ProviderAnthropic }

// Generate sends Messages requests, answering tool_use blocks until the
// model stops for another reason, and joins the text blocks of the last reply.
func (p *Anthropic) Generate(ctx context.Context, req Request) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.cfg.Model),
		MaxTokens: int64(p.cfg.MaxTokens),
		Messages:  p.buildMessages(req),
		Tools:     p.buildTools(req.Tools),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if p.cfg.Temperature > 0 {
		params.Temperature = anthropic.Float(p.cfg.Temperature)
	}

	for round := 0; ; round++ {
		toolsAllowed := len(params.Tools) > 0 && round < MaxToolRounds
		if len(params.Tools) > 0 && !toolsAllowed {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
		}

		msg, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return "", fmt.Errorf("anthropic messages: %w", err)
		}

		var (
			sb       strings.Builder
			assist   []anthropic.ContentBlockParamUnion
			toolUses []anthropic.ToolUseBlock
		)
		for _, block := range msg.Content {
			switch block.Type {
			case "text":
				sb.WriteString(block.Text)
				assist = append(assist, anthropic.NewTextBlock(block.Text))
			case "tool_use":
				tu := block.AsToolUse()
				toolUses = append(toolUses, tu)
				assist = append(assist, anthropic.NewToolUseBlock(tu.ID, toolInput(tu.Input), tu.Name))
			}
		}

		if !toolsAllowed || msg.StopReason != anthropic.StopReasonToolUse || len(toolUses) == 0 {
			content := strings.TrimSpace(sb.String())
			if content == "" {
				return "", fmt.Errorf("anthropic: %w", ErrEmptyResponse)
			}
			return content, nil
		}

		results := make([]anthropic.ContentBlockParamUnion, 0, len(toolUses))
		for _, tu := range toolUses {
			out, isError := callTool(ctx, req.Tools, tu.Name, tu.Input)
			results = append(results, anthropic.NewToolResultBlock(tu.ID, out, isError))
		}
		params.Messages = append(params.Messages,
			anthropic.NewAssistantMessage(assist...),
			anthropic.NewUserMessage(results...))
	}
}

// toolInput echoes the model's arguments back; an absent input becomes an empty object.
func toolInput(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}

func (p *Anthropic) buildMessages(req Request) []anthropic.MessageParam {
	history := req.History
	for len(history) > 0 && history[0].Role != RoleUser {
		history = history[1:]
	}

	msgs := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, m := range history {
		switch m.Role {
		case RoleUser:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)))
}

func (p *Anthropic) buildTools(tools []Tool) []anthropic.ToolUnionParam {
	var out []anthropic.ToolUnionParam
	for _, t := range tools {
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: t.schema()["properties"],
					Required:   t.Required,
				},
			},
		})
	}
	return out
}
