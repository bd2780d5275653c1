package notification

import (
	"context"
	"fmt"
	"strings"

	internalerrors "github.com/olegiv/logtriage-ai-go/internal/errors"
	"github.com/slack-go/slack"
)

// slackTextLimit is Slack's maximum length for a section text object.
const slackTextLimit = 3000

// SlackClient posts reports as Block Kit messages.
type SlackClient struct {
	api       *slack.Client
	channelID string
}

// NewSlackClient creates a Slack notifier for one channel.
func NewSlackClient(botToken, channelID string, options ...slack.Option) *SlackClient {
	return &SlackClient{
		api:       slack.New(botToken, options...),
		channelID: channelID,
	}
}

// Name implements Notifier.
func (s *SlackClient) Name() string {
	return "slack"
}

// Notify posts the report to the configured channel.
func (s *SlackClient) Notify(ctx context.Context, report *Report) error {
	_, _, err := s.api.PostMessageContext(ctx, s.channelID,
		slack.MsgOptionBlocks(buildSlackBlocks(report)...),
		slack.MsgOptionText(slackFallbackText(report), false),
	)
	if err != nil {
		return internalerrors.Wrapf(err, "failed to post Slack message to %s", s.channelID)
	}
	return nil
}

func slackFallbackText(report *Report) string {
	text := fmt.Sprintf("Log triage: %s log", report.Category)
	if report.IssueKey != "" {
		text += " for " + report.IssueKey
	}
	return text
}

func buildSlackBlocks(report *Report) []slack.Block {
	title := fmt.Sprintf("%s Log Triage: %s", categoryEmoji(report.Category), strings.ToUpper(report.Category))
	if report.Alert {
		title = "🚨 " + title
	}

	var details []string
	if report.IssueKey != "" {
		details = append(details, fmt.Sprintf("*Issue:* %s", report.IssueKey))
	}
	if report.SourceName != "" {
		details = append(details, fmt.Sprintf("*Source:* %s", report.SourceName))
	}
	details = append(details, fmt.Sprintf("*Scores:* mobile %d / desktop %d", report.MobileScore, report.DesktopScore))

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, title, false, false)),
		slack.NewDividerBlock(),
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, strings.Join(details, "\n"), false, false),
			nil, nil,
		),
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType,
				truncateText("*Analysis:*\n"+report.Analysis, slackTextLimit), false, false),
			nil, nil,
		),
	}

	if report.Diagram != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType,
				truncateText("*User Flow:*\n```"+report.Diagram+"```", slackTextLimit), false, false),
			nil, nil,
		))
	}

	if s := report.Stats; s != nil {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("%s %s · %d in / %d out tokens · $%.4f · %.1fs",
					s.Provider, s.Model, s.InputTokens, s.OutputTokens, s.CostUSD, s.DurationSeconds),
				false, false),
		))
	}

	return blocks
}

func truncateText(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
