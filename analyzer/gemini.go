package analyzer

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/illenko/relicwatch/config"
)

const defaultGeminiModel = "gemini-2.5-flash"

const systemInstruction = `You are a monitoring assistant for a New Relic account.
Answer using only the entities, metrics and incidents given in the context.
When the answer is a list or a table of values, reply with a single JSON object and nothing else.
Otherwise reply in plain text, briefly.`

// Generator produces an answer for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type GeminiGenerator struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

func NewGeminiGenerator(ctx context.Context, cfg config.GeminiConfig) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}

	temp := cfg.Temperature
	return &GeminiGenerator{
		client: client,
		model:  model,
		config: &genai.GenerateContentConfig{
			Temperature:       &temp,
			MaxOutputTokens:   cfg.MaxOutputTokens,
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemInstruction}}},
		},
	}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: prompt}},
	}}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, g.config)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no response from model")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty response from model")
	}
	return sb.String(), nil
}
