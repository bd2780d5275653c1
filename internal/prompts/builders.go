package prompts

import (
	"strings"

	"github.com/olegiv/logtriage-ai-go/internal/ai"
	"github.com/olegiv/logtriage-ai-go/internal/analyzer"
)

const mobileSystemPrompt = `You are a senior Android engineer who triages field defects from ADB logcat captures taken on rugged enterprise devices.

**Analysis Framework:**

1. **Crash and error extraction** - Look for:
   - FATAL EXCEPTION blocks from AndroidRuntime and their stack traces
   - ANRs reported by ActivityManager or ActivityTaskManager
   - System.err output and caught exceptions logged by the application
   - Package manager, permission and intent resolution failures

2. **Correlation** - Tie every error to the process, package and thread that produced it and
   to the user action or lifecycle event that preceded it.

3. **Source code context** - When source code is supplied as context, point at the exact
   class and method involved and quote the relevant lines.

4. **Fixes** - Propose concrete, minimal code or configuration changes.

**Principles:**
- Only report what the log shows; state assumptions explicitly
- Ignore routine framework chatter unless it explains a failure
- Use headings and short paragraphs, no greetings`

const desktopSystemPrompt = `You are a Windows platform engineer who reads installer, driver setup and event logs.

**Analysis Framework:**

1. **Sections** - Installer logs are divided into sections that begin with "Section start" and
   end with an exit status. Treat each section as one unit of work.

2. **Failures** - For every section whose exit status is FAILURE, find the first error that
   explains it: missing files, registry access, driver signing, service start failures or
   rollback triggers.

3. **Event logs** - For Windows event records, use Source, Event ID and Level to group related
   entries and identify the originating component.

**Principles:**
- Only report what the log shows; state assumptions explicitly
- Give each section its own heading
- No greetings`

const genericSystemPrompt = `You are an experienced support engineer who reads arbitrary application and system logs.

Identify errors, warnings and abnormal terminations, group repeated messages, and explain the
most likely root cause in plain language. Only report what the log shows and state assumptions
explicitly. No greetings.`

// builder holds what the three category builders share.
type builder struct {
	category     analyzer.Category
	systemPrompt string
}

// GetLogType returns the category identifier.
func (b *builder) GetLogType() string {
	return string(b.category)
}

// GetSystemPrompt returns the system prompt for the category.
func (b *builder) GetSystemPrompt() string {
	return b.systemPrompt
}

// GetUserPrompt assembles the log, optional history and the selected
// instruction. Only the log and history are sanitized; the instruction is
// user-authored and passed through unchanged.
func (b *builder) GetUserPrompt(logContent string, req analyzer.PromptRequest) string {
	var prompt strings.Builder

	prompt.WriteString("LOG FILE CONTENT:\n")
	prompt.WriteString(ai.SanitizeLogContent(logContent))
	prompt.WriteString("\n\n")

	if req.HistoricalContext != "" {
		prompt.WriteString("PREVIOUS ANALYSES:\n")
		prompt.WriteString(ai.SanitizeLogContent(req.HistoricalContext))
		prompt.WriteString("\n\n")
	}

	prompt.WriteString(Select(b.category, req.IssueDescription, req.CustomPrompt))

	return prompt.String()
}

// MobileBuilder builds prompts for ADB/logcat captures.
type MobileBuilder struct{ builder }

// NewMobileBuilder creates a prompt builder for mobile logs.
func NewMobileBuilder() *MobileBuilder {
	return &MobileBuilder{builder{category: analyzer.CategoryMobile, systemPrompt: mobileSystemPrompt}}
}

// DesktopBuilder builds prompts for Windows installer and event logs.
type DesktopBuilder struct{ builder }

// NewDesktopBuilder creates a prompt builder for desktop logs.
func NewDesktopBuilder() *DesktopBuilder {
	return &DesktopBuilder{builder{category: analyzer.CategoryDesktop, systemPrompt: desktopSystemPrompt}}
}

// GenericBuilder builds prompts for logs that could not be classified.
type GenericBuilder struct{ builder }

// NewGenericBuilder creates a prompt builder for unknown logs.
func NewGenericBuilder() *GenericBuilder {
	return &GenericBuilder{builder{category: analyzer.CategoryUnknown, systemPrompt: genericSystemPrompt}}
}

// NewRegistry returns a registry with all three categories registered, each
// sharing the given preprocessor.
func NewRegistry(pre analyzer.Preprocessor) (*analyzer.Registry, error) {
	registry := analyzer.NewRegistry()

	sources := []*analyzer.LogSource{
		{Category: analyzer.CategoryMobile, Preprocessor: pre, PromptBuilder: NewMobileBuilder()},
		{Category: analyzer.CategoryDesktop, Preprocessor: pre, PromptBuilder: NewDesktopBuilder()},
		{Category: analyzer.CategoryUnknown, Preprocessor: pre, PromptBuilder: NewGenericBuilder()},
	}
	for _, source := range sources {
		if err := registry.Register(source); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// DiagramUserPrompt asks for the Mermaid user-flow diagram of a mobile log.
func DiagramUserPrompt(logContent string) string {
	var prompt strings.Builder

	prompt.WriteString("LOG FILE CONTENT:\n")
	prompt.WriteString(ai.SanitizeLogContent(logContent))
	prompt.WriteString("\n\n")
	prompt.WriteString(DiagramInstruction)

	return prompt.String()
}
