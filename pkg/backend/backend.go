// Package backend provides the text generation capability used to enhance
// chunks, polish skills and route queries. Provider SDKs stay behind the
// Generator interface; callers only ever see a name and a Generate call.
package backend

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// Generator produces text for a prompt. The call deadline travels in ctx and
// implementations must return promptly once ctx is done.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Provider names accepted by New.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
)

// Default models per provider.
const (
	DefaultAnthropicModel = "claude-sonnet-4-5"
	DefaultOpenAIModel    = "gpt-4.1"
	DefaultGoogleModel    = "gemini-2.5-flash"
	DefaultMaxTokens      = 8192
)

// ErrEmptyOutput is returned when a provider answers with no usable text.
var ErrEmptyOutput = errors.New("backend returned empty output")

// Config selects and configures a provider.
type Config struct {
	Provider          string  `mapstructure:"provider" json:"provider" yaml:"provider"`
	Model             string  `mapstructure:"model" json:"model" yaml:"model"`
	MaxTokens         int     `mapstructure:"max_tokens" json:"max_tokens" yaml:"max_tokens"`
	APIKey            string  `mapstructure:"api_key" json:"-" yaml:"api_key"`
	BaseURL           string  `mapstructure:"base_url" json:"base_url" yaml:"base_url"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" json:"burst" yaml:"burst"`
}

// NewConfig returns the default backend configuration.
func NewConfig() Config {
	return Config{
		Provider:          ProviderAnthropic,
		MaxTokens:         DefaultMaxTokens,
		RequestsPerSecond: 1,
		Burst:             2,
	}
}

// New builds the generator described by cfg, wrapped in a rate limiter when
// RequestsPerSecond is positive.
func New(ctx context.Context, cfg Config) (Generator, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	var (
		gen Generator
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case ProviderAnthropic, "claude":
		gen = NewAnthropic(cfg)
	case ProviderOpenAI:
		gen, err = NewOpenAI(cfg)
	case ProviderGoogle, "gemini":
		gen, err = NewGoogle(ctx, cfg)
	default:
		return nil, errors.Errorf("unsupported backend provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RequestsPerSecond > 0 {
		gen = NewRateLimited(gen, cfg.RequestsPerSecond, cfg.Burst)
	}
	return gen, nil
}

// Func adapts a function to the Generator interface.
type Func func(ctx context.Context, prompt string) (string, error)

// Name implements Generator.
func (Func) Name() string { return "func" }

// Generate implements Generator.
func (f Func) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
