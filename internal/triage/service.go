// Package triage runs one log through detection, prompt selection, model
// analysis, history and notification.
package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/olegiv/logtriage-ai-go/internal/ai"
	"github.com/olegiv/logtriage-ai-go/internal/analyzer"
	"github.com/olegiv/logtriage-ai-go/internal/classifier"
	"github.com/olegiv/logtriage-ai-go/internal/extract"
	"github.com/olegiv/logtriage-ai-go/internal/jira"
	"github.com/olegiv/logtriage-ai-go/internal/logging"
	"github.com/olegiv/logtriage-ai-go/internal/notification"
	"github.com/olegiv/logtriage-ai-go/internal/prompts"
	"github.com/olegiv/logtriage-ai-go/internal/storage"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrProjectNotSupported is returned for projects missing from the projects file.
	ErrProjectNotSupported = errors.New("project is not supported")

	// ErrInvalidCategory is returned for an unrecognised category override.
	ErrInvalidCategory = errors.New("invalid category")
)

const (
	// DefaultHistoryDays is how far back previous analyses of an issue are read.
	DefaultHistoryDays = 30
	// DefaultMaxTokens is the preprocessing budget when none is configured.
	DefaultMaxTokens = 150000
)

// Store is the part of the history database the service uses.
type Store interface {
	SaveAnalysis(ctx context.Context, a *storage.Analysis) error
	GetHistoricalContext(ctx context.Context, days int, filter *storage.Filter) (string, error)
}

// ProjectGate decides whether a Jira project may be analyzed.
type ProjectGate interface {
	IsSupported(projectKey string) bool
}

// SourceIndex maps a project to the vector stores holding its source code.
type SourceIndex interface {
	VectorStoreIDs(projectKey string) []string
}

// Request is one file to triage plus the optional issue context.
type Request struct {
	Filename    string
	ContentType string
	Data        []byte

	IssueKey         string
	ProjectKey       string
	IssueDescription string
	CustomPrompt     string

	// Category overrides detection when set ("mobile", "desktop", "unknown").
	Category string
}

// Detection is the classifier's view of a file.
type Detection struct {
	Category analyzer.Category `json:"category"`
	Label    string            `json:"label"`
	Scores   classifier.Scores `json:"scores"`
	Chars    int               `json:"chars"`
	Warnings []string          `json:"warnings,omitempty"`
}

// Result is a finished analysis.
type Result struct {
	ID              string            `json:"id"`
	CreatedAt       time.Time         `json:"created_at"`
	SourceName      string            `json:"source_name"`
	IssueKey        string            `json:"issue_key,omitempty"`
	ProjectKey      string            `json:"project_key,omitempty"`
	Category        analyzer.Category `json:"category"`
	Detected        analyzer.Category `json:"detected"`
	Label           string            `json:"label"`
	Scores          classifier.Scores `json:"scores"`
	Instruction     string            `json:"instruction"`
	Analysis        string            `json:"analysis"`
	Diagram         string            `json:"diagram,omitempty"`
	Stats           *ai.Stats         `json:"stats,omitempty"`
	Alert           bool              `json:"alert"`
	Preprocessed    bool              `json:"preprocessed"`
	SourcesSearched bool              `json:"sources_searched"`
	Warnings        []string          `json:"warnings,omitempty"`
}

// Options wires the service. Provider and Registry are required; the rest
// may be left nil.
type Options struct {
	Classifier *classifier.Classifier
	Registry   *analyzer.Registry
	Provider   ai.Provider
	Store      Store
	Notifier   notification.Notifier
	Projects   ProjectGate
	Sources    SourceIndex
	Log        *logging.SecureLogger

	EnablePreprocessing bool
	MaxTokens           int
	EnableDiagrams      bool
	DefaultCustomPrompt string
	HistoryDays         int
}

// Service runs triage requests. It is safe for concurrent use.
type Service struct {
	opts Options
	log  *logging.SecureLogger
}

// NewService validates opts and fills defaults.
func NewService(opts Options) (*Service, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("triage: provider is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("triage: registry is required")
	}
	if !opts.Registry.Has(analyzer.CategoryUnknown) {
		return nil, fmt.Errorf("triage: registry has no %s log source", analyzer.CategoryUnknown)
	}
	if opts.Classifier == nil {
		opts.Classifier = classifier.Default()
	}
	if opts.HistoryDays <= 0 {
		opts.HistoryDays = DefaultHistoryDays
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}

	log := opts.Log
	if log == nil {
		log = logging.NewNop()
	}

	return &Service{opts: opts, log: log}, nil
}

// Detect extracts and classifies a file without calling the model.
func (s *Service) Detect(req *Request) *Detection {
	text, warnings := s.extractText(req)
	scores := s.opts.Classifier.Score(text)
	category := scores.Category()

	return &Detection{
		Category: category,
		Label:    category.DisplayName(),
		Scores:   scores,
		Chars:    len(text),
		Warnings: warnings,
	}
}

// Analyze runs the full pipeline for one request. Failures of the optional
// steps (diagram, history, notification) become warnings on the result.
func (s *Service) Analyze(ctx context.Context, req *Request) (*Result, error) {
	projectKey := req.ProjectKey
	if projectKey == "" && req.IssueKey != "" {
		projectKey = jira.ProjectOf(req.IssueKey)
	}
	if projectKey != "" && s.opts.Projects != nil && !s.opts.Projects.IsSupported(projectKey) {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotSupported, projectKey)
	}

	var override analyzer.Category
	if req.Category != "" {
		c, err := analyzer.ParseCategory(req.Category)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCategory, err)
		}
		override = c
	}

	text, warnings := s.extractText(req)
	scores := s.opts.Classifier.Score(text)
	detected := scores.Category()
	category := detected
	if override != "" {
		category = override
	}

	customPrompt := req.CustomPrompt
	if customPrompt == "" {
		customPrompt = s.opts.DefaultCustomPrompt
	}

	result := &Result{
		ID:          uuid.NewString(),
		CreatedAt:   time.Now(),
		SourceName:  req.Filename,
		IssueKey:    req.IssueKey,
		ProjectKey:  projectKey,
		Category:    category,
		Detected:    detected,
		Label:       category.DisplayName(),
		Scores:      scores,
		Instruction: prompts.Select(category, req.IssueDescription, customPrompt),
		Warnings:    warnings,
	}

	log := s.log.Info().
		Str("id", result.ID).
		Str("source", req.Filename).
		Str("category", string(category)).
		Int("mobile_score", scores.Mobile).
		Int("desktop_score", scores.Desktop)
	if req.IssueKey != "" {
		log = log.Str("issue", req.IssueKey)
	}
	log.Msg("Log classified")

	if strings.TrimSpace(text) == "" {
		result.Warnings = append(result.Warnings, "no readable text in file, analysis skipped")
		return result, nil
	}

	source, ok := s.opts.Registry.Get(category)
	if !ok {
		source = s.opts.Registry.MustGet(analyzer.CategoryUnknown)
	}

	content := text
	if s.opts.EnablePreprocessing && source.Preprocessor.ShouldProcess(text, s.opts.MaxTokens) {
		processed, err := source.Preprocessor.Process(text)
		if err != nil {
			result.Warnings = append(result.Warnings, "preprocessing failed, sending the full log")
			s.log.Warn().Err(err).Str("id", result.ID).Msg("Preprocessing failed")
		} else {
			s.log.Info().
				Int("tokens_before", source.Preprocessor.EstimateTokens(text)).
				Int("tokens_after", source.Preprocessor.EstimateTokens(processed)).
				Msg("Log preprocessed")
			content = processed
			result.Preprocessed = true
		}
	}

	promptReq := analyzer.PromptRequest{
		IssueDescription:  req.IssueDescription,
		CustomPrompt:      customPrompt,
		HistoricalContext: s.historicalContext(ctx, req.IssueKey, result),
	}
	systemPrompt := source.PromptBuilder.GetSystemPrompt()
	userPrompt := source.PromptBuilder.GetUserPrompt(content, promptReq)

	if err := s.complete(ctx, category, systemPrompt, userPrompt, content, s.sourceStores(projectKey), result); err != nil {
		return nil, err
	}

	result.Alert = needsAlert(category, text)

	s.save(ctx, result)
	s.notify(ctx, result)

	return result, nil
}

// sourceStores returns the vector stores the analysis may search, or nil when
// the project has none or the provider cannot search them.
func (s *Service) sourceStores(projectKey string) []string {
	if projectKey == "" || s.opts.Sources == nil {
		return nil
	}
	searcher, ok := s.opts.Provider.(ai.SourceSearcher)
	if !ok || !searcher.SearchesSources() {
		return nil
	}
	return s.opts.Sources.VectorStoreIDs(projectKey)
}

// complete runs the analysis call and, for mobile logs, the diagram call
// concurrently. The analysis searches vectorStores when there are any. Only
// the analysis call can fail the request.
func (s *Service) complete(ctx context.Context, category analyzer.Category, systemPrompt, userPrompt, content string, vectorStores []string, result *Result) error {
	var (
		analysis      *ai.Completion
		analysisStats *ai.Stats
		diagram       *ai.Completion
		diagramStats  *ai.Stats
		diagramErr    error
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if len(vectorStores) > 0 {
			analysis, analysisStats, err = s.opts.Provider.(ai.SourceSearcher).CompleteWithSources(gctx, systemPrompt, userPrompt, vectorStores)
		} else {
			analysis, analysisStats, err = s.opts.Provider.Complete(gctx, systemPrompt, userPrompt)
		}
		if err != nil {
			return fmt.Errorf("%s analysis failed: %w", s.opts.Provider.GetProviderName(), err)
		}
		return nil
	})

	if category == analyzer.CategoryMobile && s.opts.EnableDiagrams {
		g.Go(func() error {
			diagram, diagramStats, diagramErr = s.opts.Provider.Complete(gctx, systemPrompt, prompts.DiagramUserPrompt(content))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	result.Analysis = analysis.Text
	result.SourcesSearched = len(vectorStores) > 0
	stats := &ai.Stats{}
	stats.Add(analysisStats)

	switch {
	case diagramErr != nil:
		result.Warnings = append(result.Warnings, "user flow diagram could not be generated")
		s.log.Warn().Err(diagramErr).Str("id", result.ID).Msg("Diagram generation failed")
	case diagram != nil:
		result.Diagram = prompts.CleanDiagram(diagram.Text)
		stats.Add(diagramStats)
	}
	result.Stats = stats

	s.log.Info().
		Str("id", result.ID).
		Str("model", stats.Model).
		Int("input_tokens", stats.InputTokens).
		Int("output_tokens", stats.OutputTokens).
		Float64("cost_usd", stats.CostUSD).
		Float64("duration_s", stats.DurationSeconds).
		Int("vector_stores", len(vectorStores)).
		Msg("Analysis completed")

	return nil
}

func (s *Service) historicalContext(ctx context.Context, issueKey string, result *Result) string {
	if s.opts.Store == nil || issueKey == "" {
		return ""
	}

	history, err := s.opts.Store.GetHistoricalContext(ctx, s.opts.HistoryDays, &storage.Filter{IssueKey: issueKey})
	if err != nil {
		result.Warnings = append(result.Warnings, "previous analyses could not be loaded")
		s.log.Warn().Err(err).Str("issue", issueKey).Msg("Failed to get historical context, continuing without it")
		return ""
	}
	return history
}

func (s *Service) save(ctx context.Context, result *Result) {
	if s.opts.Store == nil {
		return
	}

	record := &storage.Analysis{
		ID:           result.ID,
		Timestamp:    result.CreatedAt,
		SourceName:   result.SourceName,
		IssueKey:     result.IssueKey,
		ProjectKey:   result.ProjectKey,
		Category:     string(result.Category),
		MobileScore:  result.Scores.Mobile,
		DesktopScore: result.Scores.Desktop,
		Instruction:  result.Instruction,
		Analysis:     result.Analysis,
		Diagram:      result.Diagram,
		Warnings:     result.Warnings,
	}
	if st := result.Stats; st != nil {
		record.Provider = st.Provider
		record.Model = st.Model
		record.InputTokens = st.InputTokens
		record.OutputTokens = st.OutputTokens
		record.CostUSD = st.CostUSD
	}

	if err := s.opts.Store.SaveAnalysis(ctx, record); err != nil {
		result.Warnings = append(result.Warnings, "analysis was not saved to history")
		s.log.Warn().Err(err).Str("id", result.ID).Msg("Failed to save analysis")
	}
}

func (s *Service) notify(ctx context.Context, result *Result) {
	if s.opts.Notifier == nil {
		return
	}

	report := &notification.Report{
		ID:           result.ID,
		SourceName:   result.SourceName,
		IssueKey:     result.IssueKey,
		Category:     string(result.Category),
		MobileScore:  result.Scores.Mobile,
		DesktopScore: result.Scores.Desktop,
		Analysis:     result.Analysis,
		Diagram:      result.Diagram,
		Stats:        result.Stats,
		Alert:        result.Alert,
	}

	if err := s.opts.Notifier.Notify(ctx, report); err != nil {
		result.Warnings = append(result.Warnings, "notification could not be delivered")
		s.log.Warn().Err(err).Str("id", result.ID).Str("notifier", s.opts.Notifier.Name()).Msg("Notification failed")
	}
}

func (s *Service) extractText(req *Request) (string, []string) {
	text, err := extract.Extract(req.Data, req.Filename, req.ContentType)
	if err != nil {
		s.log.Warn().Err(err).Str("source", req.Filename).Msg("Text extraction failed")
		return "", []string{fmt.Sprintf("could not read %s: %v", displayName(req.Filename), err)}
	}
	return text, nil
}

func displayName(filename string) string {
	if filename == "" {
		return "file"
	}
	return filename
}

var (
	mobileCrashMarkers    = []string{"fatal exception", "e/androidruntime", "e androidruntime", "anr in "}
	desktopFailureMarkers = []string{"exit status: failure", "[exit status: failure]"}
)

// needsAlert flags crashing mobile logs and desktop logs with failed sections.
func needsAlert(category analyzer.Category, text string) bool {
	var markers []string
	switch category {
	case analyzer.CategoryMobile:
		markers = mobileCrashMarkers
	case analyzer.CategoryDesktop:
		markers = desktopFailureMarkers
	default:
		return false
	}

	lower := strings.ToLower(text)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
