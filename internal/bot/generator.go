package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// ErrNoAPIKey is returned by the generator used when no API key is set.
var ErrNoAPIKey = errors.New("no AI API key configured")

// Generator produces a reply for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeminiGenerator calls the Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini-backed generator.
func NewGemini(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

// NewGenerator returns a Gemini generator, or one that always fails when
// apiKey is empty so every reply falls back.
func NewGenerator(ctx context.Context, apiKey, model string) (Generator, error) {
	if apiKey == "" {
		return unavailable{}, nil
	}
	return NewGemini(ctx, apiKey, model)
}

type unavailable struct{}

func (unavailable) Generate(context.Context, string) (string, error) {
	return "", ErrNoAPIKey
}
