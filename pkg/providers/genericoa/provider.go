// Package genericoa implements the generic_openai_compatible provider
// type: any upstream that speaks OpenAI's Chat-Completions wire format
// against a non-OpenAI base_url (self-hosted vLLM/TGI gateways, other
// OpenAI-compatible aggregators). It reuses pkg/providers/openai's wire
// format verbatim — the dialect is identical, only the base URL and the
// provider name for logging/telemetry differ — rather than duplicating
// pkg/providers/openai's request/response translation.
package genericoa

import (
	"fmt"

	"github.com/chatforge/backend/pkg/middleware"
	"github.com/chatforge/backend/pkg/provider"
	"github.com/chatforge/backend/pkg/providers/openai"
)

// Config contains configuration for a generic OpenAI-compatible provider.
type Config struct {
	// APIKey is the bearer token the upstream expects, if any.
	APIKey string

	// BaseURL is required: generic_openai_compatible has no default
	// endpoint, unlike the named providers.
	BaseURL string

	// ExtraHeaders are additional headers the upstream gateway requires.
	ExtraHeaders map[string]string

	// SimulateStreaming wraps every model this provider returns in
	// middleware.SimulateStreamingMiddleware, so a self-hosted gateway
	// that rejects or mishandles stream:true still satisfies the
	// orchestrator's uniform DoStream path by running one DoGenerate
	// call and replaying it as a single simulated stream chunk.
	SimulateStreaming bool
}

// Provider wraps an openai.Provider, reporting itself distinctly so
// telemetry and error messages don't mislabel a self-hosted endpoint as
// OpenAI's own.
type Provider struct {
	inner             *openai.Provider
	simulateStreaming bool
}

// New builds a generic_openai_compatible provider. BaseURL must be set.
func New(cfg Config) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("generic_openai_compatible provider requires a base_url")
	}
	inner := openai.New(openai.Config{
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		ExtraHeaders: cfg.ExtraHeaders,
	})
	return &Provider{inner: inner, simulateStreaming: cfg.SimulateStreaming}, nil
}

// Name returns the provider name for logging and telemetry.
func (p *Provider) Name() string { return "generic_openai_compatible" }

func (p *Provider) LanguageModel(modelID string) (provider.LanguageModel, error) {
	lm, err := p.inner.LanguageModel(modelID)
	if err != nil {
		return nil, err
	}
	if !p.simulateStreaming {
		return lm, nil
	}
	providerName := p.Name()
	return middleware.WrapLanguageModel(lm, []*middleware.LanguageModelMiddleware{
		middleware.SimulateStreamingMiddleware(),
	}, &modelID, &providerName), nil
}

func (p *Provider) EmbeddingModel(modelID string) (provider.EmbeddingModel, error) {
	return p.inner.EmbeddingModel(modelID)
}

func (p *Provider) ImageModel(modelID string) (provider.ImageModel, error) {
	return p.inner.ImageModel(modelID)
}

func (p *Provider) SpeechModel(modelID string) (provider.SpeechModel, error) {
	return p.inner.SpeechModel(modelID)
}

func (p *Provider) TranscriptionModel(modelID string) (provider.TranscriptionModel, error) {
	return p.inner.TranscriptionModel(modelID)
}

