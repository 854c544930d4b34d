package httpadapter

import (
	"log/slog"
	"net/http"

	"github.com/kirillkom/pidsync/internal/core/domain"
	"github.com/kirillkom/pidsync/internal/infrastructure/remote"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrConflict):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrMissingIdentifier):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError relays a remote service's own status and message when the
// failure came from one; otherwise the error kind picks the status.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	message := err.Error()
	if statusErr, ok := remote.AsStatusError(err); ok {
		status = statusErr.StatusCode
		if statusErr.Body != "" {
			message = statusErr.Body
		}
	}
	if status >= http.StatusInternalServerError {
		slog.Error("http_handler_failed", "request_id", requestIDFromContext(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": message})
}
