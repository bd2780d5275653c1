package ai

import (
	"context"
	"fmt"

	"github.com/liushuangls/go-anthropic/v2"
)

// Provider defines the interface for LLM providers (Anthropic, OpenAI, Ollama).
type Provider interface {
	// Complete sends one system/user prompt pair and returns the model's text.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (*Completion, *Stats, error)

	// GetModelInfo returns information about the configured model
	GetModelInfo() map[string]interface{}

	// GetProviderName returns the name of the provider (e.g., "Anthropic", "Ollama")
	GetProviderName() string
}

// Completion is the free-form text answer of one model call.
type Completion struct {
	Text       string `json:"text"`
	StopReason string `json:"stop_reason,omitempty"`
}

// Stats holds statistics about the API call
type Stats struct {
	Provider            string  `json:"provider"`
	Model               string  `json:"model"`
	InputTokens         int     `json:"input_tokens"`
	OutputTokens        int     `json:"output_tokens"`
	CacheCreationTokens int     `json:"cache_creation_tokens"`
	CacheReadTokens     int     `json:"cache_read_tokens"`
	CostUSD             float64 `json:"cost_usd"`
	DurationSeconds     float64 `json:"duration_seconds"`
}

// Add accumulates another call's usage into s.
func (s *Stats) Add(other *Stats) {
	if other == nil {
		return
	}
	if s.Provider == "" {
		s.Provider = other.Provider
	}
	if s.Model == "" {
		s.Model = other.Model
	}
	s.InputTokens += other.InputTokens
	s.OutputTokens += other.OutputTokens
	s.CacheCreationTokens += other.CacheCreationTokens
	s.CacheReadTokens += other.CacheReadTokens
	s.CostUSD += other.CostUSD
	s.DurationSeconds += other.DurationSeconds
}

// ProviderType represents the type of LLM provider
type ProviderType string

const (
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOpenAI    ProviderType = "openai"
	ProviderOllama    ProviderType = "ollama"
)

// ValidProviderTypes returns a list of valid provider types
func ValidProviderTypes() []ProviderType {
	return []ProviderType{ProviderAnthropic, ProviderOpenAI, ProviderOllama}
}

// IsValidProviderType checks if the given provider type is valid
func IsValidProviderType(pt string) bool {
	for _, valid := range ValidProviderTypes() {
		if string(valid) == pt {
			return true
		}
	}
	return false
}

// ProviderConfig carries the settings NewProvider needs for any provider.
// Fields that do not apply to the selected provider are ignored.
type ProviderConfig struct {
	Type           ProviderType
	APIKey         string
	Model          string
	BaseURL        string
	ProxyURL       string
	TimeoutSeconds int
	MaxTokens      int
}

// NewProvider creates the provider selected by cfg.Type.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Type {
	case ProviderAnthropic:
		var opts []anthropic.ClientOption
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		client, err := NewClient(cfg.APIKey, cfg.Model, cfg.ProxyURL, cfg.TimeoutSeconds, cfg.MaxTokens, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	case ProviderOpenAI:
		client, err := NewOpenAIClient(OpenAIConfig{
			APIKey:         cfg.APIKey,
			Model:          cfg.Model,
			BaseURL:        cfg.BaseURL,
			ProxyURL:       cfg.ProxyURL,
			TimeoutSeconds: cfg.TimeoutSeconds,
			MaxTokens:      cfg.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case ProviderOllama:
		client, err := NewOllamaClient(OllamaConfig{
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			TimeoutSeconds: cfg.TimeoutSeconds,
			MaxTokens:      cfg.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q (valid: %v)", cfg.Type, ValidProviderTypes())
	}
}

// CheckSelfHosted verifies that a self-hosted provider (Ollama or an
// OpenAI-compatible server) is reachable and serves the configured model.
// Hosted APIs are not checked.
func CheckSelfHosted(ctx context.Context, p Provider) error {
	switch c := p.(type) {
	case *OllamaClient:
		return c.CheckConnection(ctx)
	case *OpenAIClient:
		if !c.hosted {
			return c.CheckConnection(ctx)
		}
	}
	return nil
}
