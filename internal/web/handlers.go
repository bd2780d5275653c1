package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/olegiv/logtriage-ai-go/internal/jira"
	"github.com/olegiv/logtriage-ai-go/internal/storage"
	"github.com/olegiv/logtriage-ai-go/internal/triage"
)

// multipartOverhead leaves room for the form fields around the file part.
const multipartOverhead = 1 << 20

type indexData struct {
	Version     string
	HasJira     bool
	HasHistory  bool
	MaxUploadMB int64
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := indexData{
		Version:     s.opts.Version,
		HasJira:     s.opts.Jira != nil,
		HasHistory:  s.opts.History != nil,
		MaxUploadMB: s.opts.MaxUploadBytes / (1024 * 1024),
	}

	var buf bytes.Buffer
	if err := s.index.Execute(&buf, data); err != nil {
		s.log.Error().Err(err).Msg("Failed to render page")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": s.opts.Version,
		"jira":    s.opts.Jira != nil,
		"history": s.opts.History != nil,
	})
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	req, err := s.readRequest(w, r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, s.opts.Triage.Detect(req))
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	req, err := s.readRequest(w, r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	result, err := s.opts.Triage.Analyze(r.Context(), req)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, result)
}

// readRequest builds a triage request from a multipart form holding either a
// "file" part or an "attachment_id" to download from Jira.
func (s *Server) readRequest(w http.ResponseWriter, r *http.Request) (*triage.Request, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return nil, errUploadTooLarge
		}
		return nil, fmt.Errorf("%w: %v", errBadUpload, err)
	}

	req := &triage.Request{
		IssueKey:         strings.TrimSpace(r.FormValue("issue_key")),
		ProjectKey:       strings.TrimSpace(r.FormValue("project_key")),
		IssueDescription: strings.TrimSpace(r.FormValue("issue_description")),
		CustomPrompt:     strings.TrimSpace(r.FormValue("custom_prompt")),
		Category:         strings.TrimSpace(r.FormValue("category")),
	}

	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer func() { _ = file.Close() }()

		data, err := io.ReadAll(io.LimitReader(file, s.opts.MaxUploadBytes+1))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errBadUpload, err)
		}
		if int64(len(data)) > s.opts.MaxUploadBytes {
			return nil, errUploadTooLarge
		}
		req.Filename = header.Filename
		req.ContentType = header.Header.Get("Content-Type")
		req.Data = data

	case errors.Is(err, http.ErrMissingFile):
		id := strings.TrimSpace(r.FormValue("attachment_id"))
		if id == "" {
			return nil, errNoFile
		}
		if s.opts.Jira == nil {
			return nil, errJiraDisabled
		}
		if err := s.downloadAttachment(r.Context(), req, id); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: %v", errBadUpload, err)
	}

	return req, nil
}

// downloadAttachment fetches attachment id into req. The attachment must be a
// log attachment of req.IssueKey, and the issue's project must pass the gate.
func (s *Server) downloadAttachment(ctx context.Context, req *triage.Request, id string) error {
	if req.IssueKey == "" {
		return errAttachmentNeedsIssue
	}
	project := jira.ProjectOf(req.IssueKey)
	if project == "" {
		return fmt.Errorf("%w: %q", jira.ErrInvalidIssueKey, req.IssueKey)
	}
	if req.ProjectKey != "" && req.ProjectKey != project {
		return fmt.Errorf("%w: %s is not in %s", errProjectMismatch, req.IssueKey, req.ProjectKey)
	}
	if err := s.checkProject(project, ""); err != nil {
		return err
	}

	attachments, err := s.opts.Jira.Attachments(ctx, req.IssueKey)
	if err != nil {
		return err
	}
	var attachment *jira.Attachment
	for i := range attachments {
		if attachments[i].ID == id {
			attachment = &attachments[i]
			break
		}
	}
	if attachment == nil {
		return fmt.Errorf("%w: %s on %s", errAttachmentNotFound, id, req.IssueKey)
	}

	data, err := s.opts.Jira.Download(ctx, id)
	if err != nil {
		return err
	}
	req.Filename = attachment.Filename
	req.Data = data
	return nil
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.opts.Jira.Projects(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}

	if s.opts.Projects != nil {
		supported := make([]jira.Project, 0, len(projects))
		for _, p := range projects {
			if s.opts.Projects.IsSupported(p.Key) {
				supported = append(supported, p)
			}
		}
		projects = supported
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{"projects": projects})
}

func (s *Server) handleBugs(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := s.checkProject(key, ""); err != nil {
		s.respondError(w, err)
		return
	}

	bugs, err := s.opts.Jira.Bugs(r.Context(), key)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{"project": key, "bugs": bugs})
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := s.checkProject("", key); err != nil {
		s.respondError(w, err)
		return
	}

	issue, err := s.opts.Jira.Issue(r.Context(), key)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, issue)
}

func (s *Server) handleAttachments(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := s.checkProject("", key); err != nil {
		s.respondError(w, err)
		return
	}

	attachments, err := s.opts.Jira.Attachments(r.Context(), key)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{"issue": key, "attachments": attachments})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	days := triage.DefaultHistoryDays
	if raw := query.Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 3650 {
			s.respondError(w, errBadDays)
			return
		}
		days = n
	}

	filter := &storage.Filter{
		ProjectKey: strings.TrimSpace(query.Get("project")),
		IssueKey:   strings.TrimSpace(query.Get("issue")),
		Category:   strings.TrimSpace(query.Get("category")),
	}

	analyses, err := s.opts.History.GetRecentAnalyses(r.Context(), days, filter)
	if err != nil {
		s.respondError(w, err)
		return
	}

	stats, err := s.opts.History.GetStatistics(r.Context(), filter)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"days":       days,
		"since":      time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339),
		"analyses":   analyses,
		"statistics": stats,
	})
}

func (s *Server) handleHistoryItem(w http.ResponseWriter, r *http.Request) {
	analysis, err := s.opts.History.GetAnalysis(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, analysis)
}

// checkProject applies the projects gate to an explicit project key or the
// project of an issue key.
func (s *Server) checkProject(projectKey, issueKey string) error {
	if projectKey == "" && issueKey != "" {
		projectKey = jira.ProjectOf(issueKey)
	}
	if projectKey == "" || s.opts.Projects == nil {
		return nil
	}
	if !s.opts.Projects.IsSupported(projectKey) {
		return fmt.Errorf("%w: %s", triage.ErrProjectNotSupported, projectKey)
	}
	return nil
}
