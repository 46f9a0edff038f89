package backend

import (
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/genai"
)

// Google generates text with the Gemini API.
type Google struct {
	client    *genai.Client
	model     string
	maxTokens int
}

// NewGoogle creates a Gemini generator. GOOGLE_API_KEY or GEMINI_API_KEY is
// used when cfg.APIKey is empty.
func NewGoogle(ctx context.Context, cfg Config) (*Google, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Google GenAI client")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultGoogleModel
	}
	return &Google{client: client, model: model, maxTokens: cfg.MaxTokens}, nil
}

// Name implements Generator.
func (g *Google) Name() string { return ProviderGoogle + "/" + g.model }

// Generate implements Generator.
func (g *Google) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		MaxOutputTokens: int32(g.maxTokens),
	})
	if err != nil {
		return "", errors.Wrap(err, "google request failed")
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyOutput
	}
	return text, nil
}
