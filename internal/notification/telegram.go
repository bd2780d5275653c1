package notification

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	internalerrors "github.com/olegiv/logtriage-ai-go/internal/errors"
)

const (
	maxMessageLength = 4096
	// minMessageInterval keeps consecutive messages under Telegram's rate limits.
	minMessageInterval = 1 * time.Second
	maxRetries         = 3
	// baseRetryDelay doubles with every attempt.
	baseRetryDelay = 2 * time.Second
)

// TelegramClient posts reports to an archive channel and, for failing logs,
// to an optional alerts channel.
type TelegramClient struct {
	bot             *tgbotapi.BotAPI
	archiveChannel  int64
	alertsChannel   int64
	hostname        string
	mu              sync.Mutex
	lastMessageTime time.Time
}

// NewTelegramClient creates a new Telegram client
func NewTelegramClient(botToken string, archiveChannel, alertsChannel int64) (*TelegramClient, error) {
	return newTelegramClient(botToken, tgbotapi.APIEndpoint, archiveChannel, alertsChannel)
}

func newTelegramClient(botToken, apiEndpoint string, archiveChannel, alertsChannel int64) (*TelegramClient, error) {
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(botToken, apiEndpoint)
	if err != nil {
		// The bot token is part of the request URL.
		return nil, internalerrors.Wrapf(err, "failed to create Telegram bot")
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return &TelegramClient{
		bot:            bot,
		archiveChannel: archiveChannel,
		alertsChannel:  alertsChannel,
		hostname:       hostname,
	}, nil
}

// Name implements Notifier.
func (t *TelegramClient) Name() string {
	return "telegram"
}

// Notify sends the report to the archive channel, and to the alerts channel
// when the report is flagged.
func (t *TelegramClient) Notify(ctx context.Context, report *Report) error {
	message := t.formatMessage(report)

	if err := t.sendToChannel(ctx, t.archiveChannel, message); err != nil {
		return fmt.Errorf("failed to send to archive channel: %w", err)
	}

	if t.alertsChannel != 0 && report.Alert {
		if err := t.sendToChannel(ctx, t.alertsChannel, message); err != nil {
			return fmt.Errorf("failed to send to alerts channel: %w", err)
		}
	}

	return nil
}

func (t *TelegramClient) formatMessage(report *Report) string {
	var msg strings.Builder

	header := "🔍 *Log Triage Report*\n"
	if report.Alert {
		header = "🚨 *Log Triage Alert*\n"
	}
	msg.WriteString(header)
	msg.WriteString(fmt.Sprintf("🖥 Host\\: %s\n", escapeMarkdown(t.hostname)))
	msg.WriteString(fmt.Sprintf("📅 Date\\: %s\n", escapeMarkdown(time.Now().Format("2006-01-02 15:04:05"))))
	msg.WriteString(fmt.Sprintf("%s *Type\\:* %s\n", categoryEmoji(report.Category), escapeMarkdown(report.Category)))
	if report.IssueKey != "" {
		msg.WriteString(fmt.Sprintf("🎫 Issue\\: %s\n", escapeMarkdown(report.IssueKey)))
	}
	if report.SourceName != "" {
		msg.WriteString(fmt.Sprintf("📄 Source\\: %s\n", escapeMarkdown(report.SourceName)))
	}
	msg.WriteString("\n")

	msg.WriteString("📋 *Execution Stats*\n")
	msg.WriteString(fmt.Sprintf("• Scores\\: mobile %d, desktop %d\n", report.MobileScore, report.DesktopScore))
	if s := report.Stats; s != nil {
		msg.WriteString(fmt.Sprintf("• Model\\: %s\n", escapeMarkdown(s.Model)))
		msg.WriteString(fmt.Sprintf("• Tokens\\: %d in, %d out\n", s.InputTokens, s.OutputTokens))
		msg.WriteString(fmt.Sprintf("• Cost\\: %s\n", escapeMarkdown(fmt.Sprintf("$%.4f", s.CostUSD))))
		msg.WriteString(fmt.Sprintf("• Duration\\: %s\n", escapeMarkdown(fmt.Sprintf("%.2fs", s.DurationSeconds))))
	}
	msg.WriteString("\n")

	msg.WriteString("📊 *Analysis*\n")
	msg.WriteString(escapeMarkdown(report.Analysis))
	msg.WriteString("\n")

	if report.Diagram != "" {
		msg.WriteString("\n🧭 *User Flow*\n")
		msg.WriteString(escapeMarkdown(report.Diagram))
		msg.WriteString("\n")
	}

	return msg.String()
}

func categoryEmoji(category string) string {
	switch category {
	case "mobile":
		return "📱"
	case "desktop":
		return "💻"
	default:
		return "❔"
	}
}

func (t *TelegramClient) sendToChannel(ctx context.Context, channelID int64, message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, part := range t.splitMessage(message) {
		if err := t.waitForRateLimit(ctx); err != nil {
			return err
		}

		msgConfig := tgbotapi.NewMessage(channelID, part)
		msgConfig.ParseMode = tgbotapi.ModeMarkdownV2

		if err := t.sendWithRetry(ctx, msgConfig); err != nil {
			return err
		}

		t.lastMessageTime = time.Now()
	}

	return nil
}

func (t *TelegramClient) waitForRateLimit(ctx context.Context) error {
	if t.lastMessageTime.IsZero() {
		return nil
	}

	if elapsed := time.Since(t.lastMessageTime); elapsed < minMessageInterval {
		return sleep(ctx, minMessageInterval-elapsed)
	}
	return nil
}

func (t *TelegramClient) sendWithRetry(ctx context.Context, msgConfig tgbotapi.MessageConfig) error {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		_, err := t.bot.Send(msgConfig)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == maxRetries {
			break
		}

		delay := baseRetryDelay * time.Duration(1<<(attempt-1))
		if isRateLimitError(err) {
			delay = time.Duration(extractRetryAfter(err)) * time.Second
		}
		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("telegram send aborted: %w", err)
		}
	}

	return internalerrors.Wrapf(lastErr, "failed to send message after %d retries", maxRetries)
}

// isRateLimitError checks if the error is a Telegram rate limit error (429)
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && (tgErr.Code == 429 || tgErr.RetryAfter > 0) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "429") || strings.Contains(errStr, "Too Many Requests")
}

// extractRetryAfter returns the server-provided wait in seconds, or 30.
func extractRetryAfter(err error) int {
	if err == nil {
		return 0
	}
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.RetryAfter > 0 {
		return tgErr.RetryAfter
	}

	errStr := err.Error()
	if idx := strings.Index(strings.ToLower(errStr), "retry after "); idx != -1 {
		var seconds int
		if _, err := fmt.Sscanf(errStr[idx+len("retry after "):], "%d", &seconds); err == nil {
			return seconds
		}
	}

	return 30
}

// splitMessage splits a long message on line boundaries, hard-splitting
// lines that are longer than the limit.
func (t *TelegramClient) splitMessage(message string) []string {
	if len(message) <= maxMessageLength {
		return []string{message}
	}

	var messages []string
	var current strings.Builder

	for _, line := range strings.Split(message, "\n") {
		if current.Len()+len(line)+1 > maxMessageLength {
			if current.Len() > 0 {
				messages = append(messages, current.String())
				current.Reset()
			}

			if len(line) > maxMessageLength {
				messages = append(messages, splitLine(line)...)
				continue
			}
		}

		current.WriteString(line)
		current.WriteString("\n")
	}

	if current.Len() > 0 {
		messages = append(messages, current.String())
	}

	return messages
}

// splitLine cuts a line into chunks of at most maxMessageLength bytes
// without breaking UTF-8 sequences or MarkdownV2 escapes.
func splitLine(line string) []string {
	var parts []string
	for len(line) > maxMessageLength {
		end := maxMessageLength
		for end > 0 && !isRuneStart(line[end]) {
			end--
		}
		if end > 0 && line[end-1] == '\\' {
			end--
		}
		parts = append(parts, line[:end])
		line = line[end:]
	}
	if line != "" {
		parts = append(parts, line)
	}
	return parts
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// escapeMarkdown escapes special characters for Telegram MarkdownV2
func escapeMarkdown(text string) string {
	// See: https://core.telegram.org/bots/api#markdownv2-style
	specialChars := []string{
		"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!", ":",
	}

	result := text
	for _, char := range specialChars {
		result = strings.ReplaceAll(result, char, "\\"+char)
	}

	return result
}

// GetBotInfo returns information about the bot
func (t *TelegramClient) GetBotInfo() map[string]interface{} {
	return map[string]interface{}{
		"username":        t.bot.Self.UserName,
		"archive_channel": t.archiveChannel,
		"alerts_channel":  t.alertsChannel,
		"hostname":        t.hostname,
	}
}

// Close closes the Telegram client
func (t *TelegramClient) Close() error {
	t.bot.StopReceivingUpdates()
	return nil
}
