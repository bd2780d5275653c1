package config

import (
	"crypto/subtle"
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/olegiv/logtriage-ai-go/internal/ai"
	"github.com/olegiv/logtriage-ai-go/internal/classifier"
	"github.com/spf13/viper"
)

// CLIOptions holds command-line argument overrides
type CLIOptions struct {
	Serve          bool   // -serve: run the web UI
	Addr           string // -addr: listen address for -serve
	File           string // -file: analyze one file and print the result
	Detect         bool   // -detect: classify only, no LLM call
	Issue          string // -issue: Jira issue key for context and history
	Project        string // -project: Jira project key
	Description    string // -description: bug description for mobile prompts
	Prompt         string // -prompt: custom prompt for unknown logs
	Category       string // -category: force mobile, desktop or unknown
	ProjectsConfig string // -projects-config: path to projects.json
	ListProjects   bool   // -list-projects: list configured projects and exit
	ShowHelp       bool   // -help: show usage
	ShowVersion    bool   // -version: show version
}

// ParseCLI parses command-line arguments and returns CLIOptions
func ParseCLI() *CLIOptions {
	opts, _ := parseArgs(flag.CommandLine, os.Args[1:], os.Stderr)
	return opts
}

// parseArgs registers all flags on fs and parses args.
func parseArgs(fs *flag.FlagSet, args []string, out io.Writer) (*CLIOptions, error) {
	opts := &CLIOptions{}

	fs.SetOutput(out)
	fs.BoolVar(&opts.Serve, "serve", false, "Run the web interface")
	fs.StringVar(&opts.Addr, "addr", "", "Listen address for -serve (overrides SERVER_ADDR)")
	fs.StringVar(&opts.File, "file", "", "Analyze a single log file and print the result")
	fs.BoolVar(&opts.Detect, "detect", false, "Only classify the file given with -file (no LLM call)")
	fs.StringVar(&opts.Issue, "issue", "", "Jira issue key; its description is used as bug context")
	fs.StringVar(&opts.Project, "project", "", "Jira project key (must be listed in projects.json)")
	fs.StringVar(&opts.Description, "description", "", "Bug description for mobile log analysis")
	fs.StringVar(&opts.Prompt, "prompt", "", "Custom analysis prompt for unknown log types")
	fs.StringVar(&opts.Category, "category", "", "Force the log category: mobile, desktop, unknown")
	fs.StringVar(&opts.ProjectsConfig, "projects-config", "", "Path to projects.json configuration file")
	fs.BoolVar(&opts.ListProjects, "list-projects", false, "List projects from projects.json and exit")
	fs.BoolVar(&opts.ShowHelp, "help", false, "Show usage information")
	fs.BoolVar(&opts.ShowVersion, "version", false, "Show version information")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(out, "Log Triage AI - classify device and application logs and summarize errors\n\n")
		_, _ = fmt.Fprintf(out, "Usage: %s [options]\n\n", fs.Name())
		_, _ = fmt.Fprintf(out, "Options:\n")
		fs.PrintDefaults()
		_, _ = fmt.Fprintf(out, "\nExamples:\n")
		_, _ = fmt.Fprintf(out, "  %s -serve\n", fs.Name())
		_, _ = fmt.Fprintf(out, "  %s -file logcat.txt -description \"login screen freezes\"\n", fs.Name())
		_, _ = fmt.Fprintf(out, "  %s -file setup.log -detect\n", fs.Name())
		_, _ = fmt.Fprintf(out, "  %s -file trace.log -issue ATSP-1234\n", fs.Name())
		_, _ = fmt.Fprintf(out, "  %s -list-projects\n", fs.Name())
		_, _ = fmt.Fprintf(out, "\nEnvironment variables can be set in .env file or exported directly.\n")
		_, _ = fmt.Fprintf(out, "CLI arguments override environment variables.\n")
	}

	err := fs.Parse(args)
	return opts, err
}

// PrintUsage prints the command-line usage information
func PrintUsage() {
	flag.Usage()
}

// Config holds all application configuration
type Config struct {
	// LLM Provider Selection
	LLMProvider string // "anthropic" (default), "openai" or "ollama"

	// Anthropic/Claude Settings (used when LLMProvider = "anthropic")
	AnthropicAPIKey string
	ClaudeModel     string

	// OpenAI Settings (used when LLMProvider = "openai")
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string // empty for api.openai.com, e.g. "http://localhost:1234/v1" for LM Studio

	// Ollama Settings (used when LLMProvider = "ollama")
	OllamaBaseURL string // e.g., "http://localhost:11434"
	OllamaModel   string // e.g., "llama3.3:latest"

	// Jira (optional)
	JiraServerURL string
	JiraAPIToken  string

	// Supported projects (loaded from projects.json, nil when absent)
	Projects           *ProjectsConfig
	ProjectsConfigPath string

	// Telegram (optional)
	TelegramBotToken       string
	TelegramArchiveChannel int64
	TelegramAlertsChannel  int64

	// Slack (optional)
	SlackBotToken  string
	SlackChannelID string

	// Web server
	ServerAddr      string
	MaxUploadSizeMB int

	// Application
	LogLevel             string
	EnableDatabase       bool
	DatabasePath         string
	HistoryRetentionDays int

	// Analysis
	EnablePreprocessing    bool
	MaxPreprocessingTokens int
	EnableDiagrams         bool
	DefaultCustomPrompt    string

	// Classifier weights
	ClassifierTimestampBonus int
	ClassifierTagWeight      int
	ClassifierPackageBonus   int
	ClassifierSectionBonus   int

	// Proxy
	HTTPProxy  string
	HTTPSProxy string

	// AI Settings
	AITimeoutSeconds int
	AIMaxTokens      int
}

// Load loads configuration from .env file and environment variables
// Priority: .env file > OS environment variables
// For CLI overrides, use LoadWithCLI instead
func Load() (*Config, error) {
	return LoadWithCLI(nil)
}

// LoadWithCLI loads configuration with CLI argument overrides
// Priority: CLI args > .env file > OS environment variables
func LoadWithCLI(cli *CLIOptions) (*Config, error) {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// godotenv.Load() sets OS env vars from .env, which viper will then read
	_ = godotenv.Load()

	setDefaults()

	weights := classifier.DefaultWeights()
	viper.SetDefault("CLASSIFIER_TIMESTAMP_BONUS", weights.TimestampBonus)
	viper.SetDefault("CLASSIFIER_TAG_WEIGHT", weights.TagWeight)
	viper.SetDefault("CLASSIFIER_PACKAGE_BONUS", weights.PackageBonus)
	viper.SetDefault("CLASSIFIER_SECTION_BONUS", weights.SectionBonus)

	config := &Config{
		LLMProvider:     strings.ToLower(viper.GetString("LLM_PROVIDER")),
		AnthropicAPIKey: viper.GetString("ANTHROPIC_API_KEY"),
		ClaudeModel:     viper.GetString("CLAUDE_MODEL"),
		OpenAIAPIKey:    viper.GetString("OPENAI_API_KEY"),
		OpenAIModel:     viper.GetString("OPENAI_MODEL"),
		OpenAIBaseURL:   viper.GetString("OPENAI_BASE_URL"),
		OllamaBaseURL:   viper.GetString("OLLAMA_BASE_URL"),
		OllamaModel:     viper.GetString("OLLAMA_MODEL"),

		JiraServerURL: strings.TrimSuffix(viper.GetString("JIRA_SERVER_URL"), "/"),
		JiraAPIToken:  viper.GetString("JIRA_API_TOKEN"),

		ProjectsConfigPath: viper.GetString("PROJECTS_CONFIG"),

		TelegramBotToken:       viper.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramArchiveChannel: viper.GetInt64("TELEGRAM_CHANNEL_ARCHIVE_ID"),
		TelegramAlertsChannel:  viper.GetInt64("TELEGRAM_CHANNEL_ALERTS_ID"),

		SlackBotToken:  viper.GetString("SLACK_BOT_TOKEN"),
		SlackChannelID: viper.GetString("SLACK_CHANNEL_ID"),

		ServerAddr:      viper.GetString("SERVER_ADDR"),
		MaxUploadSizeMB: viper.GetInt("MAX_UPLOAD_SIZE_MB"),

		LogLevel:             viper.GetString("LOG_LEVEL"),
		EnableDatabase:       viper.GetBool("ENABLE_DATABASE"),
		DatabasePath:         viper.GetString("DATABASE_PATH"),
		HistoryRetentionDays: viper.GetInt("HISTORY_RETENTION_DAYS"),

		EnablePreprocessing:    viper.GetBool("ENABLE_PREPROCESSING"),
		MaxPreprocessingTokens: viper.GetInt("MAX_PREPROCESSING_TOKENS"),
		EnableDiagrams:         viper.GetBool("ENABLE_DIAGRAMS"),
		DefaultCustomPrompt:    viper.GetString("DEFAULT_CUSTOM_PROMPT"),

		ClassifierTimestampBonus: viper.GetInt("CLASSIFIER_TIMESTAMP_BONUS"),
		ClassifierTagWeight:      viper.GetInt("CLASSIFIER_TAG_WEIGHT"),
		ClassifierPackageBonus:   viper.GetInt("CLASSIFIER_PACKAGE_BONUS"),
		ClassifierSectionBonus:   viper.GetInt("CLASSIFIER_SECTION_BONUS"),

		HTTPProxy:        viper.GetString("HTTP_PROXY"),
		HTTPSProxy:       viper.GetString("HTTPS_PROXY"),
		AITimeoutSeconds: viper.GetInt("AI_TIMEOUT_SECONDS"),
		AIMaxTokens:      viper.GetInt("AI_MAX_TOKENS"),
	}

	// Apply CLI overrides (highest priority)
	if cli != nil {
		if cli.Addr != "" {
			config.ServerAddr = cli.Addr
		}
		if cli.ProjectsConfig != "" {
			config.ProjectsConfigPath = cli.ProjectsConfig
		}
	}

	projects, foundPath, err := LoadProjectsConfig(config.ProjectsConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load projects config: %w", err)
	}
	config.Projects = projects
	config.ProjectsConfigPath = foundPath

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// LLM Provider defaults
	viper.SetDefault("LLM_PROVIDER", "anthropic")
	viper.SetDefault("CLAUDE_MODEL", "claude-sonnet-4-5-20250929")
	viper.SetDefault("OPENAI_MODEL", ai.DefaultOpenAIModel)
	viper.SetDefault("OLLAMA_BASE_URL", "http://localhost:11434")
	viper.SetDefault("OLLAMA_MODEL", "llama3.3:latest")

	viper.SetDefault("SERVER_ADDR", "127.0.0.1:8501")
	viper.SetDefault("MAX_UPLOAD_SIZE_MB", 50)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("ENABLE_DATABASE", true)
	viper.SetDefault("DATABASE_PATH", "./data/analyses.db")
	viper.SetDefault("HISTORY_RETENTION_DAYS", 90)
	viper.SetDefault("ENABLE_PREPROCESSING", true)
	viper.SetDefault("MAX_PREPROCESSING_TOKENS", 150000)
	viper.SetDefault("ENABLE_DIAGRAMS", true)
	viper.SetDefault("AI_TIMEOUT_SECONDS", 120)
	viper.SetDefault("AI_MAX_TOKENS", 8000)
}

var telegramTokenRegex = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.validateLLMProvider(); err != nil {
		return err
	}

	if err := c.validateNotifications(); err != nil {
		return err
	}

	if c.JiraServerURL != "" {
		if !isHTTPURL(c.JiraServerURL) {
			return fmt.Errorf("JIRA_SERVER_URL must start with 'http://' or 'https://'")
		}
		if c.JiraAPIToken == "" {
			return fmt.Errorf("JIRA_API_TOKEN is required when JIRA_SERVER_URL is set")
		}
	}

	if c.ServerAddr == "" {
		return fmt.Errorf("SERVER_ADDR is required")
	}

	if c.MaxUploadSizeMB < 1 || c.MaxUploadSizeMB > 200 {
		return fmt.Errorf("MAX_UPLOAD_SIZE_MB must be between 1 and 200")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error")
	}

	if c.EnableDatabase && c.HistoryRetentionDays < 1 {
		return fmt.Errorf("HISTORY_RETENTION_DAYS must be at least 1")
	}

	if c.EnablePreprocessing && c.MaxPreprocessingTokens < 10000 {
		return fmt.Errorf("MAX_PREPROCESSING_TOKENS must be at least 10000")
	}

	if c.ClassifierTimestampBonus < 0 || c.ClassifierTagWeight < 0 ||
		c.ClassifierPackageBonus < 0 || c.ClassifierSectionBonus < 0 {
		return fmt.Errorf("CLASSIFIER_* weights must not be negative")
	}

	if c.AITimeoutSeconds < 30 || c.AITimeoutSeconds > 600 {
		return fmt.Errorf("AI_TIMEOUT_SECONDS must be between 30 and 600")
	}
	if c.AIMaxTokens < 1000 || c.AIMaxTokens > 16000 {
		return fmt.Errorf("AI_MAX_TOKENS must be between 1000 and 16000")
	}

	return nil
}

// validateNotifications checks the optional Telegram and Slack settings.
func (c *Config) validateNotifications() error {
	if c.TelegramBotToken != "" {
		if !telegramTokenRegex.MatchString(c.TelegramBotToken) {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN has invalid format (expected: 'number:token')")
		}
		if c.TelegramArchiveChannel == 0 {
			return fmt.Errorf("TELEGRAM_CHANNEL_ARCHIVE_ID is required when TELEGRAM_BOT_TOKEN is set")
		}
		if c.TelegramArchiveChannel > -100 {
			return fmt.Errorf("TELEGRAM_CHANNEL_ARCHIVE_ID must be a supergroup/channel ID (starts with -100)")
		}
		if c.TelegramAlertsChannel != 0 && c.TelegramAlertsChannel > -100 {
			return fmt.Errorf("TELEGRAM_CHANNEL_ALERTS_ID must be a supergroup/channel ID (starts with -100)")
		}
	}

	if c.SlackBotToken != "" {
		if !constantTimePrefixMatch(c.SlackBotToken, "xoxb-") && !constantTimePrefixMatch(c.SlackBotToken, "xoxp-") {
			return fmt.Errorf("SLACK_BOT_TOKEN must start with 'xoxb-' or 'xoxp-'")
		}
		if c.SlackChannelID == "" {
			return fmt.Errorf("SLACK_CHANNEL_ID is required when SLACK_BOT_TOKEN is set")
		}
	}

	return nil
}

// HasTelegram returns true if Telegram notifications are configured
func (c *Config) HasTelegram() bool {
	return c.TelegramBotToken != ""
}

// HasAlertsChannel returns true if alerts channel is configured
func (c *Config) HasAlertsChannel() bool {
	return c.TelegramAlertsChannel != 0
}

// HasSlack returns true if Slack notifications are configured
func (c *Config) HasSlack() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}

// HasJira returns true if the Jira integration is configured
func (c *Config) HasJira() bool {
	return c.JiraServerURL != "" && c.JiraAPIToken != ""
}

// GetProxyURL returns the appropriate proxy URL for HTTP/HTTPS requests
func (c *Config) GetProxyURL(isHTTPS bool) string {
	if isHTTPS && c.HTTPSProxy != "" {
		return c.HTTPSProxy
	}
	if c.HTTPProxy != "" {
		return c.HTTPProxy
	}
	return ""
}

// constantTimePrefixMatch checks if s starts with prefix using constant-time comparison.
// Returns false if s is shorter than prefix.
func constantTimePrefixMatch(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s[:len(prefix)]), []byte(prefix)) == 1
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// validateLLMProvider validates LLM provider configuration
func (c *Config) validateLLMProvider() error {
	if !ai.IsValidProviderType(c.LLMProvider) {
		return fmt.Errorf("LLM_PROVIDER must be 'anthropic', 'openai', or 'ollama' (got: %s)", c.LLMProvider)
	}

	switch ai.ProviderType(c.LLMProvider) {
	case ai.ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when LLM_PROVIDER=anthropic")
		}
		if !constantTimePrefixMatch(c.AnthropicAPIKey, "sk-ant-") {
			return fmt.Errorf("ANTHROPIC_API_KEY must start with 'sk-ant-'")
		}
		if c.ClaudeModel == "" {
			return fmt.Errorf("CLAUDE_MODEL is required when LLM_PROVIDER=anthropic")
		}

	case ai.ProviderOpenAI:
		if c.OpenAIBaseURL == "" {
			if c.OpenAIAPIKey == "" {
				return fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER=openai and OPENAI_BASE_URL is not set")
			}
			if !constantTimePrefixMatch(c.OpenAIAPIKey, "sk-") {
				return fmt.Errorf("OPENAI_API_KEY must start with 'sk-'")
			}
		} else if !isHTTPURL(c.OpenAIBaseURL) {
			return fmt.Errorf("OPENAI_BASE_URL must start with 'http://' or 'https://'")
		}

	case ai.ProviderOllama:
		if c.OllamaModel == "" {
			return fmt.Errorf("OLLAMA_MODEL is required when LLM_PROVIDER=ollama")
		}
		if c.OllamaBaseURL == "" {
			return fmt.Errorf("OLLAMA_BASE_URL is required when LLM_PROVIDER=ollama")
		}
		if !isHTTPURL(c.OllamaBaseURL) {
			return fmt.Errorf("OLLAMA_BASE_URL must start with 'http://' or 'https://'")
		}
	}

	return nil
}

// IsOllama returns true if the LLM provider is Ollama
func (c *Config) IsOllama() bool {
	return c.LLMProvider == string(ai.ProviderOllama)
}

// IsAnthropic returns true if the LLM provider is Anthropic
func (c *Config) IsAnthropic() bool {
	return c.LLMProvider == string(ai.ProviderAnthropic)
}

// IsOpenAI returns true if the LLM provider is OpenAI or an OpenAI-compatible server
func (c *Config) IsOpenAI() bool {
	return c.LLMProvider == string(ai.ProviderOpenAI)
}

// GetLLMModel returns the model name for the current LLM provider
func (c *Config) GetLLMModel() string {
	switch ai.ProviderType(c.LLMProvider) {
	case ai.ProviderOllama:
		return c.OllamaModel
	case ai.ProviderOpenAI:
		return c.OpenAIModel
	default:
		return c.ClaudeModel
	}
}

// ProviderConfig returns the settings for ai.NewProvider.
func (c *Config) ProviderConfig() ai.ProviderConfig {
	pc := ai.ProviderConfig{
		Type:           ai.ProviderType(c.LLMProvider),
		Model:          c.GetLLMModel(),
		TimeoutSeconds: c.AITimeoutSeconds,
		MaxTokens:      c.AIMaxTokens,
	}

	switch pc.Type {
	case ai.ProviderAnthropic:
		pc.APIKey = c.AnthropicAPIKey
		pc.ProxyURL = c.GetProxyURL(true)
	case ai.ProviderOpenAI:
		pc.APIKey = c.OpenAIAPIKey
		pc.BaseURL = c.OpenAIBaseURL
		pc.ProxyURL = c.GetProxyURL(c.OpenAIBaseURL == "" || strings.HasPrefix(c.OpenAIBaseURL, "https://"))
	case ai.ProviderOllama:
		pc.BaseURL = c.OllamaBaseURL
	}

	return pc
}

// ClassifierWeights returns the configured scoring weights.
func (c *Config) ClassifierWeights() classifier.Weights {
	return classifier.Weights{
		TimestampBonus: c.ClassifierTimestampBonus,
		TagWeight:      c.ClassifierTagWeight,
		PackageBonus:   c.ClassifierPackageBonus,
		SectionBonus:   c.ClassifierSectionBonus,
	}
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadSizeMB) * 1024 * 1024
}
