// Package prompts turns a detected log category and optional user text into
// the instruction sent to the language model, and provides the
// analyzer.PromptBuilder implementations for each category.
package prompts

import (
	"fmt"
	"strings"

	"github.com/olegiv/logtriage-ai-go/internal/analyzer"
)

// DesktopInstruction is used for every desktop log regardless of any issue
// description or custom prompt.
const DesktopInstruction = "Analyze these log sections with exit status failure and give me the reason for the failure in that sections , " +
	"and give a small summary of what is happening in every section with appropriate heading without any greetings"

// MobileInstruction is used for mobile logs when no issue description is given.
const MobileInstruction = "Analyze these ADB logs for the application. Identify all the errors that were caused and for these errors give me a possible fix "

// mobileIssueTemplate is interpolated with the issue description.
const mobileIssueTemplate = " for the given bug description: %s Analyze these ADB logs for the application. " +
	"Identify the error that caused this bug, for these errors go and identify what part of the source code (given in context) " +
	"which is causing the error and highlight it and try to give a possible fix for this issue."

// FallbackInstruction is used for unknown logs when no custom prompt is given.
const FallbackInstruction = "Analyse this log file and give me a error summary"

// DiagramInstruction asks the model for a single-line Mermaid sequence
// diagram of the user flow recorded in the log.
const DiagramInstruction = "now based on the log file context I want you to generate only an error-free mermaid code with semicolons (sequenceDiagram) " +
	"for the user flow events that has occurred when the user used the app for this instance and what exactly happened in the UI, " +
	"ignore generic logs, and nothing else, give me the output in a single line and add semicolons wherever required"

// Select returns the analysis instruction for a category. The issue
// description and custom prompt are opaque text: they are neither validated
// nor truncated. Unrecognised categories take the unknown branch.
func Select(category analyzer.Category, issueDescription, customPrompt string) string {
	switch category {
	case analyzer.CategoryDesktop:
		return DesktopInstruction
	case analyzer.CategoryMobile:
		if issueDescription != "" {
			return fmt.Sprintf(mobileIssueTemplate, issueDescription)
		}
		return MobileInstruction
	default:
		if customPrompt != "" {
			return customPrompt
		}
		return FallbackInstruction
	}
}

// CleanDiagram strips code fences and the "mermaid" language tag from a
// model response so the remainder can be handed to a Mermaid renderer.
func CleanDiagram(raw string) string {
	cleaned := strings.ReplaceAll(raw, "`", "")
	cleaned = strings.ReplaceAll(cleaned, "mermaid", "")
	return strings.TrimSpace(cleaned)
}
