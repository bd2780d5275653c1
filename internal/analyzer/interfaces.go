// Package analyzer provides the types shared by the log triage pipeline:
// log categories, prompt builder and preprocessor contracts, and the
// registry that maps a detected category to its analysis components.
package analyzer

import "strings"

// EstimateTokens estimates the number of tokens in the content.
// Uses the algorithm: max(chars/4, words/0.75)
func EstimateTokens(content string) int {
	chars := len(content)
	words := len(strings.Fields(content))

	charsEstimate := chars / 4
	wordsEstimate := int(float64(words) / 0.75)

	if charsEstimate > wordsEstimate {
		return charsEstimate
	}
	return wordsEstimate
}

// PromptRequest carries the optional free text that shapes a prompt.
// None of the fields are validated; they are passed through as opaque text.
type PromptRequest struct {
	IssueDescription  string
	CustomPrompt      string
	HistoricalContext string
}

// Preprocessor handles content preprocessing for large logs.
// Reduces token count while preserving critical information.
type Preprocessor interface {
	// EstimateTokens estimates the number of tokens in the content.
	EstimateTokens(content string) int

	// Process preprocesses content to reduce size while preserving critical info.
	// Returns processed content or original if no processing needed.
	Process(content string) (string, error)

	// ShouldProcess determines if preprocessing is needed based on token count.
	ShouldProcess(content string, maxTokens int) bool
}

// PromptBuilder constructs the system and user prompts for one log category.
type PromptBuilder interface {
	// GetSystemPrompt returns the system prompt for this log category.
	GetSystemPrompt() string

	// GetUserPrompt combines the log content, optional history and the
	// category-specific analysis instruction.
	GetUserPrompt(logContent string, req PromptRequest) string

	// GetLogType returns the category identifier ("mobile", "desktop", "unknown").
	GetLogType() string
}
