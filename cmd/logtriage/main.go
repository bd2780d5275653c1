package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/olegiv/go-logger"
	"github.com/olegiv/logtriage-ai-go/internal/ai"
	"github.com/olegiv/logtriage-ai-go/internal/classifier"
	"github.com/olegiv/logtriage-ai-go/internal/config"
	internalerrors "github.com/olegiv/logtriage-ai-go/internal/errors"
	"github.com/olegiv/logtriage-ai-go/internal/extract"
	"github.com/olegiv/logtriage-ai-go/internal/jira"
	"github.com/olegiv/logtriage-ai-go/internal/logging"
	"github.com/olegiv/logtriage-ai-go/internal/notification"
	"github.com/olegiv/logtriage-ai-go/internal/preprocess"
	"github.com/olegiv/logtriage-ai-go/internal/prompts"
	"github.com/olegiv/logtriage-ai-go/internal/storage"
	"github.com/olegiv/logtriage-ai-go/internal/triage"
	"github.com/olegiv/logtriage-ai-go/internal/web"
)

const (
	exitSuccess = 0
	exitFailure = 1
)

// Version information - injected at build time via ldflags
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	cli := config.ParseCLI()

	if cli.ShowHelp {
		config.PrintUsage()
		return exitSuccess
	}

	if cli.ShowVersion {
		fmt.Printf("logtriage %s\n", version)
		if gitCommit != "unknown" {
			fmt.Printf("  commit: %s\n", gitCommit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
		return exitSuccess
	}

	if !cli.Serve && cli.File == "" && !cli.ListProjects {
		config.PrintUsage()
		return exitFailure
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadWithCLI(cli)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return exitFailure
	}

	if cli.ListProjects {
		listProjects(os.Stdout, cfg)
		return exitSuccess
	}

	baseLog := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		LogDir:     "./logs",
		MaxSizeMB:  10,
		MaxBackups: 5,
		Console:    true,
	})
	log := logging.NewSecure(baseLog)
	defer func() {
		if err := log.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close logger: %v\n", err)
		}
	}()

	log.Info().Str("version", version).Str("provider", cfg.LLMProvider).Msg("Starting Log Triage AI")

	app, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Initialization failed")
		return exitFailure
	}
	defer app.close()

	if cli.Serve {
		err = app.serve(ctx, cfg)
	} else {
		err = app.analyzeFile(ctx, os.Stdout, cli, cfg)
	}
	if err != nil {
		log.Error().Err(err).Msg("Run failed")
		return exitFailure
	}

	return exitSuccess
}

// app holds the initialized components shared by all run modes.
type app struct {
	log     *logging.SecureLogger
	service *triage.Service
	store   *storage.Storage
	jira    *jira.Client
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, log *logging.SecureLogger) (*app, error) {
	a := &app{log: log}

	// 1. History database
	if cfg.EnableDatabase {
		store, err := storage.New(cfg.DatabasePath, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
		log.Info().Str("path", cfg.DatabasePath).Msg("Database initialized")

		deleted, err := store.CleanupOldAnalyses(ctx, cfg.HistoryRetentionDays)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to clean up old analyses")
		} else if deleted > 0 {
			log.Info().Int64("deleted", deleted).Int("retention_days", cfg.HistoryRetentionDays).Msg("Old analyses cleaned up")
		}
	}

	// 2. Model provider
	provider, err := ai.NewProvider(cfg.ProviderConfig())
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize %s provider: %w", cfg.LLMProvider, err)
	}
	log.Info().Str("provider", provider.GetProviderName()).Str("model", cfg.GetLLMModel()).Msg("LLM provider initialized")

	if err := ai.CheckSelfHosted(ctx, provider); err != nil {
		a.close()
		return nil, fmt.Errorf("%s provider is not ready: %w", cfg.LLMProvider, err)
	}

	// 3. Notifications
	notifier, err := a.newNotifier(cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	// 4. Jira
	if cfg.HasJira() {
		client, err := jira.NewClient(jira.Config{
			ServerURL:        cfg.JiraServerURL,
			APIToken:         cfg.JiraAPIToken,
			MaxDownloadBytes: cfg.MaxUploadBytes(),
		})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize Jira client: %w", err)
		}
		a.jira = client
		log.Info().
			Str("server", client.ServerURL()).
			Str("token", internalerrors.MaskCredential(cfg.JiraAPIToken)).
			Msg("Jira client initialized")
	}

	registry, err := prompts.NewRegistry(preprocess.NewPreprocessor(cfg.MaxPreprocessingTokens))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to build prompt registry: %w", err)
	}

	opts := triage.Options{
		Classifier:          classifier.New(classifier.WithWeights(cfg.ClassifierWeights())),
		Registry:            registry,
		Provider:            provider,
		Log:                 log,
		EnablePreprocessing: cfg.EnablePreprocessing,
		MaxTokens:           cfg.MaxPreprocessingTokens,
		EnableDiagrams:      cfg.EnableDiagrams,
		DefaultCustomPrompt: cfg.DefaultCustomPrompt,
	}
	// Interface fields stay nil unless the component exists.
	if a.store != nil {
		opts.Store = a.store
	}
	if notifier != nil {
		opts.Notifier = notifier
	}
	if cfg.Projects != nil {
		opts.Projects = cfg.Projects
		opts.Sources = cfg.Projects
		log.Info().Str("path", cfg.ProjectsConfigPath).Strs("projects", cfg.Projects.ListProjects()).Msg("Projects config loaded")
	}

	a.service, err = triage.NewService(opts)
	if err != nil {
		a.close()
		return nil, err
	}

	return a, nil
}

func (a *app) newNotifier(cfg *config.Config) (notification.Notifier, error) {
	var notifiers notification.Multi

	if cfg.HasTelegram() {
		telegramClient, err := notification.NewTelegramClient(
			cfg.TelegramBotToken,
			cfg.TelegramArchiveChannel,
			cfg.TelegramAlertsChannel,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		a.closers = append(a.closers, telegramClient.Close)

		botInfo := telegramClient.GetBotInfo()
		a.log.Info().
			Str("username", fmt.Sprint(botInfo["username"])).
			Bool("alerts_channel", cfg.HasAlertsChannel()).
			Msg("Telegram bot initialized")
		notifiers = append(notifiers, telegramClient)
	}

	if cfg.HasSlack() {
		notifiers = append(notifiers, notification.NewSlackClient(cfg.SlackBotToken, cfg.SlackChannelID))
		a.log.Info().Str("channel", cfg.SlackChannelID).Msg("Slack notifications enabled")
	}

	switch len(notifiers) {
	case 0:
		return nil, nil
	case 1:
		return notifiers[0], nil
	default:
		return notifiers, nil
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close component")
		}
	}
	a.closers = nil
}

func (a *app) serve(ctx context.Context, cfg *config.Config) error {
	opts := web.Options{
		Triage:         a.service,
		Log:            a.log,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Version:        version,
	}
	if a.jira != nil {
		opts.Jira = a.jira
	}
	if a.store != nil {
		opts.History = a.store
	}
	if cfg.Projects != nil {
		opts.Projects = cfg.Projects
	}

	server, err := web.NewServer(opts)
	if err != nil {
		return err
	}
	return server.ListenAndServe(ctx, cfg.ServerAddr)
}

func (a *app) analyzeFile(ctx context.Context, out io.Writer, cli *config.CLIOptions, cfg *config.Config) error {
	startTime := time.Now()

	reader := extract.NewReader(cfg.MaxUploadSizeMB)
	data, err := reader.Read(cli.File)
	if err != nil {
		return fmt.Errorf("failed to read log file: %w", err)
	}
	if info, err := reader.GetSourceInfo(cli.File); err == nil {
		a.log.Info().
			Str("path", cli.File).
			Float64("size_mb", info["size_mb"].(float64)).
			Float64("age_hours", info["age_hours"].(float64)).
			Msg("Log file read successfully")
	}

	req := &triage.Request{
		Filename:         filepath.Base(cli.File),
		Data:             data,
		IssueKey:         cli.Issue,
		ProjectKey:       cli.Project,
		IssueDescription: cli.Description,
		CustomPrompt:     cli.Prompt,
		Category:         cli.Category,
	}

	if cli.Detect {
		d := a.service.Detect(req)
		_, _ = fmt.Fprintf(out, "Type:    %s (%s)\n", d.Label, d.Category)
		_, _ = fmt.Fprintf(out, "Scores:  mobile %d, desktop %d\n", d.Scores.Mobile, d.Scores.Desktop)
		_, _ = fmt.Fprintf(out, "Chars:   %d\n", d.Chars)
		for _, w := range d.Warnings {
			_, _ = fmt.Fprintf(out, "Warning: %s\n", w)
		}
		return nil
	}

	if req.IssueKey != "" && req.IssueDescription == "" && a.jira != nil {
		issue, err := a.jira.Issue(ctx, req.IssueKey)
		if err != nil {
			a.log.Warn().Err(err).Str("issue", req.IssueKey).Msg("Failed to fetch issue description, continuing without it")
		} else {
			req.IssueDescription = issue.Description
		}
	}

	result, err := a.service.Analyze(ctx, req)
	if err != nil {
		return err
	}

	printResult(out, result)

	a.log.Info().
		Str("id", result.ID).
		Float64("total_duration_s", time.Since(startTime).Seconds()).
		Msg("All operations completed successfully")
	return nil
}

func printResult(out io.Writer, r *triage.Result) {
	_, _ = fmt.Fprintf(out, "Type:    %s (mobile %d, desktop %d)\n", r.Label, r.Scores.Mobile, r.Scores.Desktop)
	if r.IssueKey != "" {
		_, _ = fmt.Fprintf(out, "Issue:   %s\n", r.IssueKey)
	}
	if s := r.Stats; s != nil {
		_, _ = fmt.Fprintf(out, "Model:   %s (%d in / %d out, $%.4f)\n", s.Model, s.InputTokens, s.OutputTokens, s.CostUSD)
	}
	for _, w := range r.Warnings {
		_, _ = fmt.Fprintf(out, "Warning: %s\n", w)
	}
	if r.Analysis != "" {
		_, _ = fmt.Fprintf(out, "\n%s\n", strings.TrimSpace(r.Analysis))
	}
	if r.Diagram != "" {
		_, _ = fmt.Fprintf(out, "\nUser flow (Mermaid):\n%s\n", r.Diagram)
	}
}

func listProjects(out io.Writer, cfg *config.Config) {
	if cfg.Projects == nil {
		_, _ = fmt.Fprintln(out, "No projects.json found; every Jira project is accepted.")
		return
	}

	_, _ = fmt.Fprintf(out, "Projects from %s:\n", cfg.ProjectsConfigPath)
	for _, key := range cfg.Projects.ListProjects() {
		marker := " "
		if key == cfg.Projects.DefaultProject {
			marker = "*"
		}
		_, _ = fmt.Fprintf(out, " %s %-8s %s (%d context stores)\n",
			marker, key, cfg.Projects.DisplayName(key), len(cfg.Projects.VectorStoreIDs(key)))
	}
}
