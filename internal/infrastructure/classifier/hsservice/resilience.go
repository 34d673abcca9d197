package hsservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
	"github.com/kirillkom/customs-clearance/internal/infrastructure/resilience"
)

type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "hsservice status error"
	}
	if e.Body == "" {
		return fmt.Sprintf("hsservice %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("hsservice %s status: %s: %s", e.Operation, e.Status, e.Body)
}

// ErrMalformedResponse marks a 2xx body that does not match the expected shape.
var ErrMalformedResponse = errors.New("malformed classifier response")

func malformed(operation, detail string) error {
	return fmt.Errorf("hsservice %s: %w: %s", operation, ErrMalformedResponse, detail)
}

func classifyServiceError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// The caller owns the deadline.
		return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
	}
	if errors.Is(err, ErrMalformedResponse) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		retryable := isRetryableHTTPStatus(statusErr.StatusCode)
		return resilience.ErrorClassification{Retryable: retryable, RecordFailure: retryable}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil {
		return nil
	}
	if resilience.IsCircuitOpen(err) || classifyServiceError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}

func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
