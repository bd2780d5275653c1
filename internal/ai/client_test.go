package ai

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/liushuangls/go-anthropic/v2"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name        string
		apiKey      string
		model       string
		proxyURL    string
		expectError bool
	}{
		{
			name:        "Valid client without proxy",
			apiKey:      "sk-ant-test-key",
			model:       "claude-sonnet-4-5",
			proxyURL:    "",
			expectError: false,
		},
		{
			name:        "Valid client with proxy",
			apiKey:      "sk-ant-test-key",
			model:       "claude-sonnet-4-5",
			proxyURL:    "http://proxy.example.com:8080",
			expectError: false,
		},
		{
			name:        "Valid client with https proxy",
			apiKey:      "sk-ant-test-key",
			model:       "claude-sonnet-4-5",
			proxyURL:    "https://proxy.example.com:8080",
			expectError: false,
		},
		{
			name:        "Invalid proxy URL",
			apiKey:      "sk-ant-test-key",
			model:       "claude-sonnet-4-5",
			proxyURL:    "://invalid-url",
			expectError: true,
		},
		{
			name:        "Unsupported proxy scheme",
			apiKey:      "sk-ant-test-key",
			model:       "claude-sonnet-4-5",
			proxyURL:    "socks5://proxy.example.com:1080",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.apiKey, tt.model, tt.proxyURL, 30, 4000)

			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if client.model != tt.model {
				t.Errorf("Expected model %s, got %s", tt.model, client.model)
			}
			if client.maxTokens != 4000 {
				t.Errorf("Expected maxTokens 4000, got %d", client.maxTokens)
			}
			if client.client == nil {
				t.Error("Expected Anthropic client to be initialized")
			}
		})
	}
}

func TestNewClient_Defaults(t *testing.T) {
	client, err := NewClient("sk-ant-test-key", "claude-sonnet-4-5", "", 0, 0)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if client.maxTokens != 8000 {
		t.Errorf("default maxTokens = %d, want 8000", client.maxTokens)
	}
}

func TestCalculateStats(t *testing.T) {
	tests := []struct {
		name         string
		usage        anthropic.MessagesUsage
		duration     float64
		expectedCost float64
	}{
		{
			name:         "Basic calculation without cache",
			usage:        anthropic.MessagesUsage{InputTokens: 1000, OutputTokens: 500},
			duration:     5.0,
			expectedCost: 0.0105, // (1000*3 + 500*15)/1000000
		},
		{
			name:         "With cache creation",
			usage:        anthropic.MessagesUsage{InputTokens: 1000, OutputTokens: 500, CacheCreationInputTokens: 2000},
			duration:     5.0,
			expectedCost: 0.018, // + 2000*3.75/1000000
		},
		{
			name:         "With cache read",
			usage:        anthropic.MessagesUsage{InputTokens: 1000, OutputTokens: 500, CacheReadInputTokens: 5000},
			duration:     3.0,
			expectedCost: 0.012, // + 5000*0.30/1000000
		},
		{
			name:         "Zero tokens",
			usage:        anthropic.MessagesUsage{},
			duration:     1.0,
			expectedCost: 0,
		},
	}

	client := &Client{model: "claude-sonnet-4-5", maxTokens: 8000}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := client.calculateStats(anthropic.MessagesResponse{Usage: tt.usage}, tt.duration)

			if math.Abs(stats.CostUSD-tt.expectedCost) > 0.00001 {
				t.Errorf("CostUSD = %.6f, want %.6f", stats.CostUSD, tt.expectedCost)
			}
			if stats.InputTokens != tt.usage.InputTokens {
				t.Errorf("InputTokens = %d, want %d", stats.InputTokens, tt.usage.InputTokens)
			}
			if stats.OutputTokens != tt.usage.OutputTokens {
				t.Errorf("OutputTokens = %d, want %d", stats.OutputTokens, tt.usage.OutputTokens)
			}
			if stats.DurationSeconds != tt.duration {
				t.Errorf("DurationSeconds = %v, want %v", stats.DurationSeconds, tt.duration)
			}
			if stats.Provider != "Anthropic" || stats.Model != "claude-sonnet-4-5" {
				t.Errorf("Provider/Model = %q/%q", stats.Provider, stats.Model)
			}
		})
	}
}

func TestGetModelInfo(t *testing.T) {
	client := &Client{model: "claude-sonnet-4-5", maxTokens: 8000}

	info := client.GetModelInfo()

	if model, ok := info["model"].(string); !ok || model != "claude-sonnet-4-5" {
		t.Errorf("Expected model claude-sonnet-4-5, got %v", info["model"])
	}
	if provider, ok := info["provider"].(string); !ok || provider != "Anthropic" {
		t.Errorf("Expected provider 'Anthropic', got %v", info["provider"])
	}
	if maxTokens, ok := info["max_tokens"].(int); !ok || maxTokens != 8000 {
		t.Errorf("Expected max_tokens 8000, got %v", info["max_tokens"])
	}
	if contextLimit, ok := info["context_limit"].(int); !ok || contextLimit != 200000 {
		t.Errorf("Expected context_limit 200000, got %v", info["context_limit"])
	}
	if client.GetProviderName() != "Anthropic" {
		t.Errorf("GetProviderName() = %q", client.GetProviderName())
	}
}

func newAnthropicTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient("sk-ant-test-key", "claude-sonnet-4-5", "", 10, 1000, anthropic.WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestClient_Complete(t *testing.T) {
	client := newAnthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req["system"] != "system prompt" {
			t.Errorf("system = %v", req["system"])
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-5",
			"content": [{"type": "text", "text": "NullPointerException in ScanActivity.onResume"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 1000, "output_tokens": 500}
		}`))
	})

	completion, stats, err := client.Complete(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if completion.Text != "NullPointerException in ScanActivity.onResume" {
		t.Errorf("Text = %q", completion.Text)
	}
	if completion.StopReason != "end_turn" {
		t.Errorf("StopReason = %q", completion.StopReason)
	}
	if stats.InputTokens != 1000 || stats.OutputTokens != 500 {
		t.Errorf("tokens = %d/%d", stats.InputTokens, stats.OutputTokens)
	}
}

func TestClient_Complete_EmptyResponse(t *testing.T) {
	client := newAnthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_02","type":"message","role":"assistant","content":[],"usage":{}}`))
	})

	if _, _, err := client.Complete(context.Background(), "s", "u"); err == nil {
		t.Error("Complete() expected error for empty content")
	}
}

func TestClient_Complete_AuthErrorNotRetried(t *testing.T) {
	noSleep(t)

	var calls int32
	client := newAnthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	})

	_, _, err := client.Complete(context.Background(), "s", "u")
	if err == nil {
		t.Fatal("Complete() expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("server called %d times, want 1", got)
	}
}

func TestClient_Complete_CancelledContext(t *testing.T) {
	noSleep(t)

	client := newAnthropicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := client.Complete(ctx, "s", "u"); err == nil {
		t.Error("Complete() expected error for cancelled context")
	}
}
