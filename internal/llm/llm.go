package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Provider names.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderStatic = "static"
)

// Default models per provider.
const (
	DefaultGeminiModel = "gemini-2.5-flash"
	DefaultOpenAIModel = "gpt-4o-mini"
)

// DefaultTimeout bounds a single generation request.
const DefaultTimeout = 60 * time.Second

var (
	// ErrUnknownProvider is returned for an unsupported provider name.
	ErrUnknownProvider = errors.New("llm: unknown provider")

	// ErrMissingAPIKey is returned when a hosted provider has no API key.
	ErrMissingAPIKey = errors.New("llm: api key required")

	// ErrNoContent is returned when the provider reply has no text.
	ErrNoContent = errors.New("llm: response has no content")
)

// Config selects and configures a provider.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	// BaseURL overrides the OpenAI endpoint, e.g. for a local server.
	BaseURL string
	Timeout time.Duration
	// StaticResponse is returned by the static provider.
	StaticResponse string
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	// Name identifies the provider and model for logs.
	Name() string
}

// New creates the generator named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Generator, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderGemini:
		return NewGemini(ctx, cfg)
	case ProviderOpenAI:
		return NewOpenAI(cfg)
	case ProviderStatic, "":
		return NewStatic(cfg.StaticResponse), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// withTimeout applies the per-request timeout unless ctx already has an
// earlier deadline.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < d {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
