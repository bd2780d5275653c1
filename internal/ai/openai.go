package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	internalerrors "github.com/olegiv/logtriage-ai-go/internal/errors"
	"github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4.1"

// OpenAI pricing per million tokens (GPT-4.1). Self-hosted endpoints are free.
const (
	openAIInputPerMTok  = 2.0
	openAIOutputPerMTok = 8.0
)

// OpenAIClient talks to the OpenAI chat completions API or any server that
// implements it (LM Studio, vLLM, llama.cpp server). Against the hosted API it
// can also answer with file_search over project vector stores.
type OpenAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int
	baseURL   string
	hosted    bool
	timeout   time.Duration
}

// OpenAIConfig holds OpenAI-specific configuration
type OpenAIConfig struct {
	APIKey         string
	Model          string // e.g., "gpt-4.1"
	BaseURL        string // empty for api.openai.com, e.g. "http://localhost:1234/v1" for LM Studio
	ProxyURL       string
	TimeoutSeconds int
	MaxTokens      int
}

// NewOpenAIClient creates a new OpenAI-compatible client.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 300
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8000
	}

	hosted := cfg.BaseURL == ""
	if hosted && cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required when no base URL is set")
	}

	conf := openai.DefaultConfig(cfg.APIKey)
	if !hosted {
		conf.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	httpClient, err := newHTTPClient(cfg.ProxyURL, time.Duration(cfg.TimeoutSeconds)*time.Second)
	if err != nil {
		return nil, err
	}
	conf.HTTPClient = httpClient

	return &OpenAIClient{
		client:    openai.NewClientWithConfig(conf),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		baseURL:   conf.BaseURL,
		hosted:    hosted,
		timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
	}, nil
}

// Complete sends the prompts as a two-message chat and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (*Completion, *Stats, error) {
	startTime := time.Now()

	request := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		MaxTokens:   c.maxTokens,
		Temperature: 0.1,
	}

	response, err := retryWithBackoff(ctx, defaultMaxRetries, func() (openai.ChatCompletionResponse, error) {
		resp, err := c.client.CreateChatCompletion(ctx, request)
		if err != nil {
			return resp, internalerrors.Wrapf(err, "API call failed")
		}
		return resp, nil
	})
	if err != nil {
		return nil, nil, err
	}

	if len(response.Choices) == 0 || strings.TrimSpace(response.Choices[0].Message.Content) == "" {
		return nil, nil, fmt.Errorf("empty response from %s", c.GetProviderName())
	}

	completion := &Completion{
		Text:       response.Choices[0].Message.Content,
		StopReason: string(response.Choices[0].FinishReason),
	}

	return completion, c.calculateStats(response.Usage, time.Since(startTime).Seconds()), nil
}

func (c *OpenAIClient) calculateStats(usage openai.Usage, durationSeconds float64) *Stats {
	cost := 0.0
	if c.hosted {
		cost = float64(usage.PromptTokens)/1000000*openAIInputPerMTok +
			float64(usage.CompletionTokens)/1000000*openAIOutputPerMTok
	}

	return &Stats{
		Provider:        c.GetProviderName(),
		Model:           c.model,
		InputTokens:     usage.PromptTokens,
		OutputTokens:    usage.CompletionTokens,
		CostUSD:         cost,
		DurationSeconds: durationSeconds,
	}
}

// CheckConnection verifies the endpoint answers and the model is listed.
func (c *OpenAIClient) CheckConnection(ctx context.Context) error {
	models, err := c.client.ListModels(ctx)
	if err != nil {
		return internalerrors.Wrapf(err, "%s is not reachable at %s", c.GetProviderName(), c.baseURL)
	}

	if len(models.Models) == 0 {
		return fmt.Errorf("no models available at %s", c.baseURL)
	}

	available := make([]string, len(models.Models))
	for i, m := range models.Models {
		if m.ID == c.model {
			return nil
		}
		available[i] = m.ID
	}

	return fmt.Errorf("model '%s' not found. Available models: %v", c.model, available)
}

// GetModelInfo returns information about the configured model
func (c *OpenAIClient) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"model":      c.model,
		"provider":   c.GetProviderName(),
		"max_tokens": c.maxTokens,
		"base_url":   c.baseURL,
	}
}

// GetProviderName returns "OpenAI" for the hosted API and "OpenAI-compatible"
// for self-hosted endpoints.
func (c *OpenAIClient) GetProviderName() string {
	if c.hosted {
		return "OpenAI"
	}
	return "OpenAI-compatible"
}

// Ensure OpenAIClient implements Provider interface
var _ Provider = (*OpenAIClient)(nil)
