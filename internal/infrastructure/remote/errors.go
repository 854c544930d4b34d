package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/pidsync/internal/core/domain"
	"github.com/kirillkom/pidsync/internal/infrastructure/resilience"
)

const maxErrorBody = 2048

// StatusError is a non-2xx answer from a remote service. Body carries the
// remote's own error text so interactive callers can relay it verbatim.
type StatusError struct {
	Service    string
	Operation  string
	TargetID   string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "remote status error"
	}
	target := ""
	if e.TargetID != "" {
		target = " " + e.TargetID
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("%s %s%s status: %s", e.Service, e.Operation, target, e.Status)
	}
	return fmt.Sprintf("%s %s%s status: %s: %s", e.Service, e.Operation, target, e.Status, strings.TrimSpace(e.Body))
}

// NewStatusError drains a bounded excerpt of the response body and wraps the
// result with the semantic kind matching the status code.
func NewStatusError(service, operation, targetID string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	statusErr := &StatusError{
		Service:    service,
		Operation:  operation,
		TargetID:   targetID,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
	}
	return domain.WrapError(KindForStatus(resp.StatusCode), service+" "+operation, statusErr)
}

func KindForStatus(statusCode int) error {
	switch {
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return domain.ErrNotFound
	case statusCode == http.StatusConflict:
		return domain.ErrConflict
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return domain.ErrUnauthorized
	case isTransientHTTPStatus(statusCode):
		return domain.ErrTemporary
	case statusCode >= 400 && statusCode < 500:
		return domain.ErrInvalidInput
	default:
		return domain.ErrTemporary
	}
}

// TransportError wraps a failed round trip (dial, timeout, reset) as temporary.
func TransportError(service, operation string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	return domain.WrapError(domain.ErrTemporary, service+" "+operation+" request", err)
}

// AsStatusError extracts the remote status error, if any.
func AsStatusError(err error) (*StatusError, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr, true
	}
	return nil, false
}

// Classify tells a resilience guard which failures count against the
// circuit breaker. Absence and conflicts are answers, not outages.
func Classify(err error) resilience.Verdict {
	switch {
	case err == nil:
		return resilience.Answer
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.Answer
	case resilience.IsCircuitOpen(err):
		return resilience.Fault
	}

	if statusErr, ok := AsStatusError(err); ok {
		if isTransientHTTPStatus(statusErr.StatusCode) {
			return resilience.Transient
		}
		return resilience.Answer
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.Transient
	}
	return resilience.Fault
}

// WrapBreakerError turns an open circuit into a temporary failure.
func WrapBreakerError(service, operation string, err error) error {
	if err == nil {
		return nil
	}
	if resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, service+" "+operation, err)
	}
	return err
}

func isTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
