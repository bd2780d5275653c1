// Package jira reads projects, bugs and log attachments from a Jira server.
package jira

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	gojira "github.com/andygrunwald/go-jira"
	internalerrors "github.com/olegiv/logtriage-ai-go/internal/errors"
	"github.com/olegiv/logtriage-ai-go/internal/extract"
)

const (
	// searchPageSize is the number of issues requested per search call.
	searchPageSize = 100

	noDescription = "No description provided"
	noPriority    = "No priority set"
	unassigned    = "Unassigned"
)

var (
	// ErrInvalidProjectKey is returned for keys that are unsafe to put into JQL.
	ErrInvalidProjectKey = errors.New("invalid project key")

	// ErrInvalidIssueKey is returned for keys that do not look like PROJ-123.
	ErrInvalidIssueKey = errors.New("invalid issue key")

	// ErrAttachmentTooLarge is returned when a download exceeds the size limit.
	ErrAttachmentTooLarge = errors.New("attachment exceeds maximum size")

	projectKeyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]+$`)
	issueKeyPattern   = regexp.MustCompile(`^[A-Z][A-Z0-9_]+-\d+$`)
)

// Project is a Jira project key and display name.
type Project struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Bug is one search hit in a project's bug list.
type Bug struct {
	Key     string `json:"key"`
	Summary string `json:"summary"`
}

// IssueDetails holds the fields shown next to a selected bug.
type IssueDetails struct {
	Key         string `json:"key"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	Assignee    string `json:"assignee"`
}

// Attachment describes a log file attached to an issue.
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Size     int    `json:"size"`
	Created  string `json:"created"`
	Author   string `json:"author"`
	MimeType string `json:"mime_type,omitempty"`
}

// Config holds the Jira connection settings.
type Config struct {
	ServerURL        string
	APIToken         string // personal access token, sent as a bearer token
	TimeoutSeconds   int
	MaxDownloadBytes int64
}

// Client wraps go-jira with the calls the triage UI needs.
type Client struct {
	client      *gojira.Client
	serverURL   string
	maxDownload int64
}

// NewClient creates a Jira client authenticated with a bearer token.
func NewClient(cfg Config) (*Client, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("jira server URL is required")
	}
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("jira API token is required")
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 60
	}
	if cfg.MaxDownloadBytes <= 0 {
		cfg.MaxDownloadBytes = 50 * 1024 * 1024
	}

	transport := gojira.PATAuthTransport{Token: cfg.APIToken}
	httpClient := transport.Client()
	httpClient.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second

	client, err := gojira.NewClient(httpClient, strings.TrimSuffix(cfg.ServerURL, "/")+"/")
	if err != nil {
		return nil, internalerrors.Wrapf(err, "failed to create Jira client")
	}

	return &Client{
		client:      client,
		serverURL:   cfg.ServerURL,
		maxDownload: cfg.MaxDownloadBytes,
	}, nil
}

// ServerURL returns the configured Jira base URL.
func (c *Client) ServerURL() string {
	return c.serverURL
}

// Projects lists every project visible to the token.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	list, _, err := c.client.Project.GetListWithContext(ctx)
	if err != nil {
		return nil, internalerrors.Wrapf(err, "failed to fetch Jira projects")
	}

	projects := make([]Project, 0, len(*list))
	for _, p := range *list {
		projects = append(projects, Project{Key: p.Key, Name: p.Name})
	}
	return projects, nil
}

// Bugs returns all bugs of a project, newest first.
func (c *Client) Bugs(ctx context.Context, projectKey string) ([]Bug, error) {
	if !projectKeyPattern.MatchString(projectKey) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProjectKey, projectKey)
	}

	jql := fmt.Sprintf("project = %s AND issuetype = Bug ORDER BY created DESC", projectKey)

	var bugs []Bug
	startAt := 0
	for {
		issues, resp, err := c.client.Issue.SearchWithContext(ctx, jql, &gojira.SearchOptions{
			StartAt:    startAt,
			MaxResults: searchPageSize,
			Fields:     []string{"summary"},
		})
		if err != nil {
			return nil, internalerrors.Wrapf(err, "failed to fetch bugs for project %s", projectKey)
		}

		for _, issue := range issues {
			bug := Bug{Key: issue.Key}
			if issue.Fields != nil {
				bug.Summary = issue.Fields.Summary
			}
			bugs = append(bugs, bug)
		}

		startAt += len(issues)
		if len(issues) == 0 || resp == nil || startAt >= resp.Total {
			break
		}
	}

	return bugs, nil
}

// Issue fetches the details of one issue, filling defaults for empty fields.
func (c *Client) Issue(ctx context.Context, key string) (*IssueDetails, error) {
	issue, err := c.getIssue(ctx, key)
	if err != nil {
		return nil, err
	}

	details := &IssueDetails{
		Key:         issue.Key,
		Description: noDescription,
		Priority:    noPriority,
		Assignee:    unassigned,
	}

	if f := issue.Fields; f != nil {
		details.Summary = f.Summary
		if strings.TrimSpace(f.Description) != "" {
			details.Description = f.Description
		}
		if f.Status != nil {
			details.Status = f.Status.Name
		}
		if f.Priority != nil && f.Priority.Name != "" {
			details.Priority = f.Priority.Name
		}
		if f.Assignee != nil && f.Assignee.DisplayName != "" {
			details.Assignee = f.Assignee.DisplayName
		}
	}

	return details, nil
}

// Attachments lists the log-like attachments (.log, .txt, .csv) of an issue.
func (c *Client) Attachments(ctx context.Context, key string) ([]Attachment, error) {
	issue, err := c.getIssue(ctx, key)
	if err != nil {
		return nil, err
	}

	attachments := []Attachment{}
	if issue.Fields == nil {
		return attachments, nil
	}

	for _, a := range issue.Fields.Attachments {
		if a == nil || !extract.IsLogAttachment(a.Filename) {
			continue
		}
		att := Attachment{
			ID:       a.ID,
			Filename: a.Filename,
			Size:     a.Size,
			Created:  a.Created,
			MimeType: a.MimeType,
		}
		if a.Author != nil {
			att.Author = a.Author.DisplayName
		}
		attachments = append(attachments, att)
	}

	return attachments, nil
}

// Download returns the content of an attachment, bounded by the size limit.
func (c *Client) Download(ctx context.Context, attachmentID string) ([]byte, error) {
	if strings.TrimSpace(attachmentID) == "" {
		return nil, fmt.Errorf("attachment ID is required")
	}

	resp, err := c.client.Issue.DownloadAttachmentWithContext(ctx, attachmentID)
	if err != nil {
		// go-jira hands back the response of a failed request unclosed.
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, internalerrors.Wrapf(err, "failed to download attachment %s", attachmentID)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download attachment %s: status %d", attachmentID, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxDownload+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment %s: %w", attachmentID, err)
	}
	if int64(len(data)) > c.maxDownload {
		return nil, fmt.Errorf("%w: %s is larger than %d bytes", ErrAttachmentTooLarge, attachmentID, c.maxDownload)
	}

	return data, nil
}

func (c *Client) getIssue(ctx context.Context, key string) (*gojira.Issue, error) {
	if !issueKeyPattern.MatchString(key) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIssueKey, key)
	}

	issue, _, err := c.client.Issue.GetWithContext(ctx, key, nil)
	if err != nil {
		return nil, internalerrors.Wrapf(err, "failed to fetch issue %s", key)
	}
	return issue, nil
}

// ProjectOf returns the project part of an issue key ("ATSP-12" -> "ATSP").
func ProjectOf(issueKey string) string {
	if i := strings.LastIndex(issueKey, "-"); i > 0 {
		return issueKey[:i]
	}
	return ""
}
