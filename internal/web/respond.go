package web

import (
	"encoding/json"
	"errors"
	"net/http"

	internalerrors "github.com/olegiv/logtriage-ai-go/internal/errors"
	"github.com/olegiv/logtriage-ai-go/internal/jira"
	"github.com/olegiv/logtriage-ai-go/internal/storage"
	"github.com/olegiv/logtriage-ai-go/internal/triage"
)

var (
	errNoFile         = errors.New("upload a file or choose a Jira attachment")
	errBadUpload      = errors.New("malformed upload")
	errUploadTooLarge = errors.New("file exceeds the upload limit")
	errBadDays        = errors.New("days must be a whole number between 1 and 3650")

	errAttachmentNeedsIssue = errors.New("an attachment must be chosen from an issue")
	errProjectMismatch      = errors.New("issue does not belong to the selected project")
	errAttachmentNotFound   = errors.New("attachment is not a log attachment of the issue")

	errJiraDisabled    = errors.New("jira integration is not configured")
	errHistoryDisabled = errors.New("analysis history is disabled")
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError

	switch {
	case errors.Is(err, triage.ErrInvalidCategory),
		errors.Is(err, jira.ErrInvalidProjectKey),
		errors.Is(err, jira.ErrInvalidIssueKey),
		errors.Is(err, errNoFile),
		errors.Is(err, errBadUpload),
		errors.Is(err, errBadDays),
		errors.Is(err, errAttachmentNeedsIssue),
		errors.Is(err, errProjectMismatch):
		return http.StatusBadRequest
	case errors.Is(err, triage.ErrProjectNotSupported):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, errAttachmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, errUploadTooLarge),
		errors.Is(err, jira.ErrAttachmentTooLarge),
		errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errJiraDisabled), errors.Is(err, errHistoryDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Int("status", status).Msg("Request failed")
	} else {
		s.log.Debug().Err(err).Int("status", status).Msg("Request rejected")
	}
	msg := err.Error()
	if internalerrors.ContainsCredentials(msg) {
		s.log.Warn().Int("status", status).Msg("Credential redacted from error response")
		msg = internalerrors.SanitizeString(msg)
	}
	s.respondJSON(w, status, map[string]string{"error": msg})
}
