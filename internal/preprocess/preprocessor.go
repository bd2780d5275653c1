// Package preprocess reduces large log files to fit a model's token budget
// while keeping the lines most likely to explain a failure.
package preprocess

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/olegiv/logtriage-ai-go/internal/analyzer"
)

// Compile-time interface check
var _ analyzer.Preprocessor = (*Preprocessor)(nil)

// Priority levels for sections.
const (
	PriorityHigh   = 1
	PriorityMedium = 2
	PriorityLow    = 3
)

// DefaultChunkLines is the block size used for logs without section markers.
const DefaultChunkLines = 200

// Preprocessor trims log content section by section.
// Implements analyzer.Preprocessor interface.
type Preprocessor struct {
	maxTokens  int
	chunkLines int
}

// Section is one unit of compression: an installer section or a block of
// consecutive lines.
type Section struct {
	Name     string
	Content  string
	Priority int
}

var (
	sectionStartRegex = regexp.MustCompile(`(?mi)^[ \t]*section start:?[ \t]*(.*)$`)

	logcatTimeRegex = regexp.MustCompile(`\b\d{2}-\d{2}\s+\d{2}:\d{2}:\d{2}\.\d{3}\b`)
	timeRegex       = regexp.MustCompile(`\b\d{1,2}:\d{2}:\d{2}(\.\d+)?\b`)
	dateRegex       = regexp.MustCompile(`\b\d{4}[-/]\d{2}[-/]\d{2}\b|\b\d{2}/\d{2}/\d{4}\b`)
	hexRegex        = regexp.MustCompile(`\b0x[0-9a-fA-F]+\b|\b[0-9a-f]{8,}\b`)
	numberRegex     = regexp.MustCompile(`\b\d+\b`)
)

var highPriorityKeywords = []string{
	"exit status: failure", "error", "exception", "fatal", "crash",
	"anr ", "anr in", " e/", " f/", "failed", "critical",
}

var mediumPriorityKeywords = []string{
	"warn", " w/", "timeout", "retry",
}

// NewPreprocessor creates a preprocessor targeting maxTokens.
func NewPreprocessor(maxTokens int) *Preprocessor {
	return &Preprocessor{
		maxTokens:  maxTokens,
		chunkLines: DefaultChunkLines,
	}
}

// MaxTokens returns the configured token budget.
func (p *Preprocessor) MaxTokens() int {
	return p.maxTokens
}

// EstimateTokens delegates to analyzer.EstimateTokens.
func (p *Preprocessor) EstimateTokens(content string) int {
	return analyzer.EstimateTokens(content)
}

// ShouldProcess reports whether content exceeds maxTokens.
func (p *Preprocessor) ShouldProcess(content string, maxTokens int) bool {
	return p.EstimateTokens(content) > maxTokens
}

// Process returns content unchanged when it already fits the budget.
// Otherwise sections are deduplicated and, if still too large, compressed by
// priority. A hard cut is applied as a last step so the result never exceeds
// roughly four characters per budgeted token.
func (p *Preprocessor) Process(content string) (string, error) {
	if !p.ShouldProcess(content, p.maxTokens) {
		return content, nil
	}

	sections := p.parseSections(content)
	if len(sections) == 0 {
		return content, nil
	}

	p.classifySections(sections)

	totalTokens := 0
	for i := range sections {
		sections[i].Content = p.deduplicateContent(sections[i].Content)
		totalTokens += p.EstimateTokens(sections[i].Content)
	}

	var result strings.Builder
	for _, section := range sections {
		body := section.Content
		if totalTokens > p.maxTokens {
			body = p.compressByPriority(section)
		}
		fmt.Fprintf(&result, "\n=== %s ===\n", section.Name)
		result.WriteString(body)
		result.WriteString("\n")
	}

	return p.truncate(result.String()), nil
}

// parseSections splits installer logs on "Section start" lines. Logs
// without such markers are split into fixed-size line blocks.
func (p *Preprocessor) parseSections(content string) []*Section {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	matches := sectionStartRegex.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return p.chunkSections(content)
	}

	var sections []*Section

	if preamble := strings.TrimSpace(content[:matches[0][0]]); preamble != "" {
		sections = append(sections, &Section{Name: "Preamble", Content: preamble})
	}

	for i, match := range matches {
		name := strings.TrimSpace(content[match[2]:match[3]])
		if name == "" {
			name = fmt.Sprintf("Section %d", i+1)
		}

		end := len(content)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}

		sections = append(sections, &Section{
			Name:    name,
			Content: strings.TrimSpace(content[match[0]:end]),
		})
	}

	return sections
}

func (p *Preprocessor) chunkSections(content string) []*Section {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")

	var sections []*Section
	for start := 0; start < len(lines); start += p.chunkLines {
		end := min(start+p.chunkLines, len(lines))
		sections = append(sections, &Section{
			Name:    fmt.Sprintf("Lines %d-%d", start+1, end),
			Content: strings.Join(lines[start:end], "\n"),
		})
	}
	return sections
}

func (p *Preprocessor) classifySections(sections []*Section) {
	for _, section := range sections {
		section.Priority = p.determinePriority(section.Content)
	}
}

func (p *Preprocessor) determinePriority(content string) int {
	lower := strings.ToLower(content)

	for _, keyword := range highPriorityKeywords {
		if strings.Contains(lower, keyword) {
			return PriorityHigh
		}
	}
	for _, keyword := range mediumPriorityKeywords {
		if strings.Contains(lower, keyword) {
			return PriorityMedium
		}
	}
	return PriorityLow
}

// deduplicateContent collapses lines that differ only in timestamps,
// numbers and addresses into the first occurrence plus a count.
func (p *Preprocessor) deduplicateContent(content string) string {
	lines := strings.Split(content, "\n")
	if len(lines) <= 10 {
		return content
	}

	lineCounts := make(map[string]int)
	for _, line := range lines {
		if normalized := normalizeLine(line); normalized != "" {
			lineCounts[normalized]++
		}
	}

	var result strings.Builder
	seen := make(map[string]bool)

	for _, line := range lines {
		normalized := normalizeLine(line)
		if normalized == "" {
			result.WriteString(line + "\n")
			continue
		}
		if seen[normalized] {
			continue
		}
		seen[normalized] = true

		if count := lineCounts[normalized]; count > 1 {
			fmt.Fprintf(&result, "%s (occurred %d times)\n", line, count)
		} else {
			result.WriteString(line + "\n")
		}
	}

	return result.String()
}

// normalizeLine masks the variable parts of a log line.
func normalizeLine(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}

	line = logcatTimeRegex.ReplaceAllString(line, "TS")
	line = dateRegex.ReplaceAllString(line, "DATE")
	line = timeRegex.ReplaceAllString(line, "TIME")
	line = hexRegex.ReplaceAllString(line, "HEX")
	line = numberRegex.ReplaceAllString(line, "N")

	return line
}

func (p *Preprocessor) compressByPriority(section *Section) string {
	lines := strings.Split(section.Content, "\n")

	var keepRatio float64
	switch section.Priority {
	case PriorityHigh:
		keepRatio = 1.0
	case PriorityMedium:
		keepRatio = 0.5
	case PriorityLow:
		keepRatio = 0.2
	default:
		keepRatio = 0.5
	}

	if keepRatio >= 1.0 {
		return section.Content
	}

	keepCount := int(math.Ceil(float64(len(lines)) * keepRatio))
	if keepCount <= 0 {
		keepCount = 1
	}

	var result strings.Builder
	for i := 0; i < keepCount && i < len(lines); i++ {
		result.WriteString(lines[i] + "\n")
	}
	if keepCount < len(lines) {
		fmt.Fprintf(&result, "\n[... %d more lines omitted for brevity ...]\n", len(lines)-keepCount)
	}

	return result.String()
}

// truncate enforces the budget on the final text.
func (p *Preprocessor) truncate(content string) string {
	if p.maxTokens <= 0 || !p.ShouldProcess(content, p.maxTokens) {
		return content
	}

	limit := p.maxTokens * 4
	if limit >= len(content) {
		return content
	}

	cut := strings.LastIndex(content[:limit], "\n")
	if cut <= 0 {
		cut = limit
	}
	return content[:cut] + "\n[... truncated to fit token budget ...]\n"
}
