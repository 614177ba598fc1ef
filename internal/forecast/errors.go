package forecast

import (
	"context"
	"errors"
	"fmt"

	"github.com/forecast-agent/backend/internal/domain"
)

// RequestError is a request-level failure. It carries the request id so the
// caller can correlate the response with logs and the error sink.
type RequestError struct {
	RequestID string
	Stage     Stage
	Err       error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("forecast %s failed while %s: %v", e.RequestID, e.Stage, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrConfiguration):
		return "configuration"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	if reason := domain.AcquisitionReasonOf(err); reason != "" {
		return string(reason)
	}
	return "internal"
}
