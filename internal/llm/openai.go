// Package llm adapts the Chat, Embedder and Reranker ports to concrete
// model providers, following the teacher's internal/llm/{openai,anthropic,
// google} split: one file per provider, a thin constructor taking typed
// config, and the provider SDK wrapped behind the portable interface rather
// than leaking SDK types past this package.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"atomicrag/internal/domain"
	"atomicrag/internal/observability"
)

// OpenAIClient backs both the Chat and Embedder ports with a single SDK
// client, mirroring the teacher's one-client-per-provider shape.
type OpenAIClient struct {
	sdk     sdk.Client
	model   string
	profile domain.EmbeddingProfile
}

// NewOpenAIClient constructs a client for chat completions; embedModel
// selects the profile reported by Profile() when the same client is also
// used as an Embedder.
func NewOpenAIClient(apiKey, chatModel, embedModel string, httpClient *http.Client) *OpenAIClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	httpClient = observability.NewHTTPClient(httpClient)
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithHTTPClient(httpClient),
	}
	if chatModel == "" {
		chatModel = "gpt-4o-mini"
	}
	if embedModel == "" {
		embedModel = "text-embedding-3-small"
	}
	return &OpenAIClient{
		sdk:   sdk.NewClient(opts...),
		model: chatModel,
		profile: domain.EmbeddingProfile{
			Provider: "openai",
			Model:    embedModel,
			Dims:     1536,
		},
	}
}

// Complete implements domain.Chat.
func (c *OpenAIClient) Complete(ctx context.Context, messages []domain.ChatMessage) (domain.ChatCompletion, error) {
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(c.model),
		Messages: adaptMessages(messages),
	}
	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return domain.ChatCompletion{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.ChatCompletion{}, fmt.Errorf("openai chat completion: no choices returned")
	}
	return domain.ChatCompletion{Content: resp.Choices[0].Message.Content}, nil
}

// CompleteJSON implements domain.Chat by requesting a JSON-mode completion
// and unmarshaling the single text choice into out.
func (c *OpenAIClient) CompleteJSON(ctx context.Context, messages []domain.ChatMessage, schema map[string]any, out any) error {
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(c.model),
		Messages: adaptMessages(messages),
		ResponseFormat: sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &sdk.ResponseFormatJSONObjectParam{},
		},
	}
	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return fmt.Errorf("openai json completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("openai json completion: no choices returned")
	}
	return unmarshalStrict(resp.Choices[0].Message.Content, out)
}

// Embed implements domain.Embedder using the OpenAI embeddings endpoint.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.sdk.Embeddings.New(ctx, sdk.EmbeddingNewParams{
		Model: sdk.EmbeddingModel(c.profile.Model),
		Input: sdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}

// Profile implements domain.Embedder.
func (c *OpenAIClient) Profile() domain.EmbeddingProfile { return c.profile }

func adaptMessages(messages []domain.ChatMessage) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, sdk.SystemMessage(m.Content))
		case "assistant":
			out = append(out, sdk.AssistantMessage(m.Content))
		default:
			out = append(out, sdk.UserMessage(m.Content))
		}
	}
	return out
}
