package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"atomicrag/internal/domain"
)

// GeminiClient backs the Chat port used by RAPTOR summarization (C7),
// keeping the clustering-summary model provider distinct from the graph
// extraction model so either can be swapped without touching the other.
type GeminiClient struct {
	client   *genai.Client
	model    string
	embedder *genai.Client
	embedDim int32
	profile  domain.EmbeddingProfile
}

func NewGeminiClient(ctx context.Context, apiKey, model, embedModel string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: strings.TrimSpace(apiKey)})
	if err != nil {
		return nil, fmt.Errorf("init genai client: %w", err)
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if embedModel == "" {
		embedModel = "gemini-embedding-001"
	}
	return &GeminiClient{
		client: client,
		model:  model,
		profile: domain.EmbeddingProfile{
			Provider: "gemini",
			Model:    embedModel,
			Dims:     3072,
		},
	}, nil
}

func (c *GeminiClient) Complete(ctx context.Context, messages []domain.ChatMessage) (domain.ChatCompletion, error) {
	contents, sysInstr := adaptGeminiMessages(messages)
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: sysInstr,
	})
	if err != nil {
		return domain.ChatCompletion{}, fmt.Errorf("gemini generate content: %w", err)
	}
	return domain.ChatCompletion{Content: resp.Text()}, nil
}

func (c *GeminiClient) CompleteJSON(ctx context.Context, messages []domain.ChatMessage, schema map[string]any, out any) error {
	contents, sysInstr := adaptGeminiMessages(messages)
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		SystemInstruction:  sysInstr,
		ResponseMIMEType:   "application/json",
	})
	if err != nil {
		return fmt.Errorf("gemini generate content: %w", err)
	}
	return unmarshalStrict(resp.Text(), out)
}

// Embed implements domain.Embedder for the RAPTOR summary vectors stored
// alongside RegulatoryNode rows.
func (c *GeminiClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	dims := int32(c.profile.Dims)
	result, err := c.client.Models.EmbedContent(ctx, c.profile.Model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embed content: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed content: got %d vectors for %d inputs", len(result.Embeddings), len(texts))
	}
	out := make([][]float32, len(result.Embeddings))
	for i, e := range result.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

func (c *GeminiClient) Profile() domain.EmbeddingProfile { return c.profile }

func adaptGeminiMessages(messages []domain.ChatMessage) ([]*genai.Content, *genai.Content) {
	var sysInstr *genai.Content
	var contents []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case "system":
			sysInstr = genai.NewContentFromText(m.Content, genai.RoleUser)
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents, sysInstr
}
