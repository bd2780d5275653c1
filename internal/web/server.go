// Package web serves the upload page and the JSON API behind it.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/olegiv/logtriage-ai-go/internal/jira"
	"github.com/olegiv/logtriage-ai-go/internal/logging"
	"github.com/olegiv/logtriage-ai-go/internal/storage"
	"github.com/olegiv/logtriage-ai-go/internal/triage"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	defaultShutdownTimeout = 30 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// Triage is the part of the triage service the handlers call.
type Triage interface {
	Detect(req *triage.Request) *triage.Detection
	Analyze(ctx context.Context, req *triage.Request) (*triage.Result, error)
}

// Jira is the issue tracker client used by the selectors and attachment
// downloads.
type Jira interface {
	Projects(ctx context.Context) ([]jira.Project, error)
	Bugs(ctx context.Context, projectKey string) ([]jira.Bug, error)
	Issue(ctx context.Context, key string) (*jira.IssueDetails, error)
	Attachments(ctx context.Context, key string) ([]jira.Attachment, error)
	Download(ctx context.Context, attachmentID string) ([]byte, error)
}

// History reads stored analyses.
type History interface {
	GetRecentAnalyses(ctx context.Context, days int, filter *storage.Filter) ([]*storage.Analysis, error)
	GetAnalysis(ctx context.Context, id string) (*storage.Analysis, error)
	GetStatistics(ctx context.Context, filter *storage.Filter) (map[string]interface{}, error)
}

// Options wires the server. Only Triage is required; a nil Jira or History
// makes the matching endpoints answer 503.
type Options struct {
	Triage   Triage
	Jira     Jira
	History  History
	Projects triage.ProjectGate
	Log      *logging.SecureLogger

	MaxUploadBytes  int64
	Version         string
	ShutdownTimeout time.Duration
}

// Server holds the parsed page template and the collaborators of the API.
type Server struct {
	opts  Options
	log   *logging.SecureLogger
	index *template.Template
}

// NewServer validates opts and parses the embedded page template.
func NewServer(opts Options) (*Server, error) {
	if opts.Triage == nil {
		return nil, fmt.Errorf("web: triage service is required")
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 50 * 1024 * 1024
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}

	log := opts.Log
	if log == nil {
		log = logging.NewNop()
	}

	index, err := template.ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse page template: %w", err)
	}

	return &Server{opts: opts, log: log, index: index}, nil
}

// Handler returns the routed handler with request logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /api/detect", s.handleDetect)
	mux.HandleFunc("POST /api/analyze", s.handleAnalyze)

	mux.HandleFunc("GET /api/jira/projects", s.requireJira(s.handleProjects))
	mux.HandleFunc("GET /api/jira/projects/{key}/bugs", s.requireJira(s.handleBugs))
	mux.HandleFunc("GET /api/jira/issues/{key}", s.requireJira(s.handleIssue))
	mux.HandleFunc("GET /api/jira/issues/{key}/attachments", s.requireJira(s.handleAttachments))

	mux.HandleFunc("GET /api/history", s.requireHistory(s.handleHistory))
	mux.HandleFunc("GET /api/history/{id}", s.requireHistory(s.handleHistoryItem))

	return s.logRequests(mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("Web server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("web server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info().Msg("Shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web server shutdown failed: %w", err)
	}
	s.log.Info().Msg("Web server stopped")
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("uri", r.URL.RequestURI()).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request")
	})
}

func (s *Server) requireJira(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Jira == nil {
			s.respondError(w, errJiraDisabled)
			return
		}
		next(w, r)
	}
}

func (s *Server) requireHistory(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.History == nil {
			s.respondError(w, errHistoryDisabled)
			return
		}
		next(w, r)
	}
}
