package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	internalerrors "github.com/olegiv/logtriage-ai-go/internal/errors"
	"github.com/sashabaranov/go-openai"
)

const (
	// maxThreadMessageBytes keeps each thread message under the API's
	// per-message content limit.
	maxThreadMessageBytes = 250000

	runPollInterval = 2 * time.Second
	cleanupTimeout  = 30 * time.Second
)

// SourceSearcher is implemented by providers that can search hosted vector
// stores of project source code while answering.
type SourceSearcher interface {
	// SearchesSources reports whether the endpoint supports vector store
	// search at all.
	SearchesSources() bool

	CompleteWithSources(ctx context.Context, systemPrompt, userPrompt string, vectorStoreIDs []string) (*Completion, *Stats, error)
}

// SearchesSources is true for the hosted OpenAI API only; OpenAI-compatible
// servers do not implement assistants.
func (c *OpenAIClient) SearchesSources() bool {
	return c.hosted
}

// CompleteWithSources answers through a short-lived assistant that has the
// file_search tool over vectorStoreIDs. The assistant and its thread are
// deleted afterwards. Without vector stores it is the same as Complete.
func (c *OpenAIClient) CompleteWithSources(ctx context.Context, systemPrompt, userPrompt string, vectorStoreIDs []string) (*Completion, *Stats, error) {
	if len(vectorStoreIDs) == 0 {
		return c.Complete(ctx, systemPrompt, userPrompt)
	}

	startTime := time.Now()
	temperature := float32(0.1)

	assistant, err := retryWithBackoff(ctx, defaultMaxRetries, func() (openai.Assistant, error) {
		a, err := c.client.CreateAssistant(ctx, openai.AssistantRequest{
			Model:        c.model,
			Instructions: &systemPrompt,
			Tools:        []openai.AssistantTool{{Type: openai.AssistantToolTypeFileSearch}},
			ToolResources: &openai.AssistantToolResource{
				FileSearch: &openai.AssistantToolFileSearch{VectorStoreIDs: vectorStoreIDs},
			},
			Temperature: &temperature,
		})
		if err != nil {
			return a, internalerrors.Wrapf(err, "failed to create assistant")
		}
		return a, nil
	})
	if err != nil {
		return nil, nil, err
	}
	defer c.cleanup(ctx, func(ctx context.Context) error {
		_, err := c.client.DeleteAssistant(ctx, assistant.ID)
		return err
	})

	messages := make([]openai.ThreadMessage, 0, 1)
	for _, part := range splitMessage(userPrompt, maxThreadMessageBytes) {
		messages = append(messages, openai.ThreadMessage{Role: openai.ThreadMessageRoleUser, Content: part})
	}

	run, err := c.client.CreateThreadAndRun(ctx, openai.CreateThreadAndRunRequest{
		RunRequest: openai.RunRequest{
			AssistantID:         assistant.ID,
			MaxCompletionTokens: c.maxTokens,
		},
		Thread: openai.ThreadRequest{Messages: messages},
	})
	if err != nil {
		return nil, nil, internalerrors.Wrapf(err, "failed to start run")
	}
	defer c.cleanup(ctx, func(ctx context.Context) error {
		_, err := c.client.DeleteThread(ctx, run.ThreadID)
		return err
	})

	run, err = c.waitForRun(ctx, run)
	if err != nil {
		return nil, nil, err
	}

	limit := 20
	order := "desc"
	list, err := c.client.ListMessage(ctx, run.ThreadID, &limit, &order, nil, nil, &run.ID)
	if err != nil {
		return nil, nil, internalerrors.Wrapf(err, "failed to read run messages")
	}

	text := assistantText(list.Messages)
	if strings.TrimSpace(text) == "" {
		return nil, nil, fmt.Errorf("empty response from %s", c.GetProviderName())
	}

	completion := &Completion{Text: text, StopReason: string(run.Status)}
	return completion, c.calculateStats(run.Usage, time.Since(startTime).Seconds()), nil
}

// waitForRun polls until run reaches a final state. Completed and incomplete
// runs are returned; the rest are errors.
func (c *OpenAIClient) waitForRun(ctx context.Context, run openai.Run) (openai.Run, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	for {
		switch run.Status {
		case openai.RunStatusCompleted, openai.RunStatusIncomplete:
			return run, nil
		case openai.RunStatusFailed, openai.RunStatusCancelled, openai.RunStatusExpired, openai.RunStatusRequiresAction:
			if run.LastError != nil {
				return run, fmt.Errorf("run %s ended with status %s: %s: %s", run.ID, run.Status, run.LastError.Code, run.LastError.Message)
			}
			return run, fmt.Errorf("run %s ended with status %s", run.ID, run.Status)
		}

		if err := sleep(ctx, runPollInterval); err != nil {
			return run, fmt.Errorf("run %s still %s: %w", run.ID, run.Status, err)
		}

		next, err := c.client.RetrieveRun(ctx, run.ThreadID, run.ID)
		if err != nil {
			return run, internalerrors.Wrapf(err, "failed to poll run %s", run.ID)
		}
		run = next
	}
}

// cleanup deletes a server-side object even when ctx was cancelled.
func (c *OpenAIClient) cleanup(ctx context.Context, del func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	_ = del(ctx)
}

// assistantText joins the text parts of the assistant messages, oldest
// first. messages is newest first.
func assistantText(messages []openai.Message) string {
	var parts []string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != openai.ChatMessageRoleAssistant {
			continue
		}
		for _, content := range messages[i].Content {
			if content.Text != nil && content.Text.Value != "" {
				parts = append(parts, content.Text.Value)
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

// splitMessage cuts s into pieces of at most limit bytes, preferring line
// breaks and never splitting a UTF-8 sequence.
func splitMessage(s string, limit int) []string {
	var parts []string
	for len(s) > limit {
		cut := limit
		if nl := strings.LastIndexByte(s[:limit], '\n'); nl >= limit/2 {
			cut = nl + 1
		}
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		parts = append(parts, s[:cut])
		s = s[cut:]
	}
	return append(parts, s)
}

var _ SourceSearcher = (*OpenAIClient)(nil)
