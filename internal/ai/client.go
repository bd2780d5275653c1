package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	internalerrors "github.com/olegiv/logtriage-ai-go/internal/errors"
)

// Anthropic pricing per million tokens (Claude Sonnet).
const (
	anthropicInputPerMTok      = 3.0
	anthropicOutputPerMTok     = 15.0
	anthropicCacheWritePerMTok = 3.75
	anthropicCacheReadPerMTok  = 0.30
)

// Client wraps the Anthropic API client
type Client struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// NewClient creates a new Claude AI client.
// proxyURL may be empty; timeoutSeconds and maxTokens fall back to defaults when not positive.
// Extra SDK options such as anthropic.WithBaseURL are applied after the HTTP client.
func NewClient(apiKey, model, proxyURL string, timeoutSeconds, maxTokens int, opts ...anthropic.ClientOption) (*Client, error) {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 120
	}
	if maxTokens <= 0 {
		maxTokens = 8000
	}

	httpClient, err := newHTTPClient(proxyURL, time.Duration(timeoutSeconds)*time.Second)
	if err != nil {
		return nil, err
	}

	opts = append([]anthropic.ClientOption{anthropic.WithHTTPClient(httpClient)}, opts...)
	client := anthropic.NewClient(apiKey, opts...)

	return &Client{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// Complete sends the prompts to Claude and returns the text answer.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (*Completion, *Stats, error) {
	startTime := time.Now()

	response, err := retryWithBackoff(ctx, defaultMaxRetries, func() (anthropic.MessagesResponse, error) {
		return c.callAPI(ctx, systemPrompt, userPrompt)
	})
	if err != nil {
		return nil, nil, err
	}

	var text strings.Builder
	for _, content := range response.Content {
		if content.Type == "text" && content.Text != nil {
			text.WriteString(*content.Text)
		}
	}

	if strings.TrimSpace(text.String()) == "" {
		return nil, nil, fmt.Errorf("empty response from Claude")
	}

	completion := &Completion{
		Text:       text.String(),
		StopReason: string(response.StopReason),
	}

	return completion, c.calculateStats(response, time.Since(startTime).Seconds()), nil
}

// callAPI makes the actual API call to Claude
func (c *Client) callAPI(ctx context.Context, systemPrompt, userPrompt string) (anthropic.MessagesResponse, error) {
	request := anthropic.MessagesRequest{
		Model: anthropic.Model(c.model),
		Messages: []anthropic.Message{
			{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewTextMessageContent(userPrompt),
				},
			},
		},
		System:    systemPrompt,
		MaxTokens: c.maxTokens,
	}

	response, err := c.client.CreateMessages(ctx, request)
	if err != nil {
		return anthropic.MessagesResponse{}, internalerrors.Wrapf(err, "API call failed")
	}

	return response, nil
}

// calculateStats calculates cost and token statistics
func (c *Client) calculateStats(response anthropic.MessagesResponse, durationSeconds float64) *Stats {
	inputTokens := response.Usage.InputTokens
	outputTokens := response.Usage.OutputTokens
	cacheCreationTokens := response.Usage.CacheCreationInputTokens
	cacheReadTokens := response.Usage.CacheReadInputTokens

	totalCost := float64(inputTokens)/1000000*anthropicInputPerMTok +
		float64(outputTokens)/1000000*anthropicOutputPerMTok +
		float64(cacheCreationTokens)/1000000*anthropicCacheWritePerMTok +
		float64(cacheReadTokens)/1000000*anthropicCacheReadPerMTok

	return &Stats{
		Provider:            "Anthropic",
		Model:               c.model,
		InputTokens:         inputTokens,
		OutputTokens:        outputTokens,
		CacheCreationTokens: cacheCreationTokens,
		CacheReadTokens:     cacheReadTokens,
		CostUSD:             totalCost,
		DurationSeconds:     durationSeconds,
	}
}

// GetModelInfo returns information about the configured model
func (c *Client) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"model":         c.model,
		"provider":      "Anthropic",
		"max_tokens":    c.maxTokens,
		"context_limit": 200000,
	}
}

// GetProviderName returns the name of the provider
func (c *Client) GetProviderName() string {
	return "Anthropic"
}

// Ensure Client implements Provider interface
var _ Provider = (*Client)(nil)
