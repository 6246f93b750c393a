package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"atomicrag/internal/domain"
	"atomicrag/internal/observability"
)

const defaultMaxTokens int64 = 4096

// AnthropicClient backs the Chat port used by graph extraction (C7), which
// needs a capable long-context model for clause-level entity/relation
// pulls rather than the smaller chat-completion model used elsewhere.
type AnthropicClient struct {
	sdk       anthropic.Client
	model     string
	maxTokens int64
}

func NewAnthropicClient(apiKey, model string, httpClient *http.Client) *AnthropicClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	httpClient = observability.NewHTTPClient(httpClient)
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithHTTPClient(httpClient),
	}
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_5)
	}
	return &AnthropicClient{sdk: anthropic.NewClient(opts...), model: model, maxTokens: defaultMaxTokens}
}

func (c *AnthropicClient) Complete(ctx context.Context, messages []domain.ChatMessage) (domain.ChatCompletion, error) {
	sys, msgs := adaptAnthropicMessages(messages)
	resp, err := c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		Messages:  msgs,
		System:    sys,
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return domain.ChatCompletion{}, fmt.Errorf("anthropic chat completion: %w", err)
	}
	return domain.ChatCompletion{Content: textFromBlocks(resp)}, nil
}

// CompleteJSON asks Claude to emit a single JSON object matching schema and
// decodes it strictly; Anthropic has no dedicated JSON response mode, so the
// schema is folded into the system prompt the way the teacher's structured
// tool-call fallback does for providers without native JSON mode.
func (c *AnthropicClient) CompleteJSON(ctx context.Context, messages []domain.ChatMessage, schema map[string]any, out any) error {
	withSchema := append([]domain.ChatMessage{{
		Role:    "system",
		Content: "Respond with a single JSON object only, matching this schema exactly, no prose: " + schemaHint(schema),
	}}, messages...)
	resp, err := c.Complete(ctx, withSchema)
	if err != nil {
		return err
	}
	return unmarshalStrict(extractJSONObject(resp.Content), out)
}

func adaptAnthropicMessages(messages []domain.ChatMessage) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	var out []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return system, out
}

func textFromBlocks(resp *anthropic.Message) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	return sb.String()
}
