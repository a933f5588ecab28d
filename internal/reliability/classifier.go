package reliability

import (
	"context"
	"errors"
	"net"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Failure is the client-facing classification of an upstream error.
type Failure struct {
	Code      string
	Retryable bool
}

// ClassifyStatus maps a provider HTTP status to a failure code.
func ClassifyStatus(status int) Failure {
	switch {
	case status == 429:
		return Failure{Code: "rate_limited", Retryable: true}
	case status == 401 || status == 403:
		return Failure{Code: "unauthorized"}
	case status == 404:
		return Failure{Code: "model_not_found"}
	case status >= 400 && status < 500:
		return Failure{Code: "bad_request"}
	case status >= 500:
		return Failure{Code: "provider_unavailable", Retryable: IsRetryableHTTPStatus(status)}
	default:
		return Failure{Code: "provider_error"}
	}
}

// ClassifyError classifies err; status is the provider HTTP status when
// known, or 0.
func ClassifyError(err error, status int) Failure {
	if status > 0 {
		return ClassifyStatus(status)
	}
	var netErr net.Error
	switch {
	case err == nil:
		return Failure{Code: "ok"}
	case errors.Is(err, context.Canceled):
		return Failure{Code: "canceled"}
	case errors.Is(err, context.DeadlineExceeded):
		return Failure{Code: "timeout", Retryable: true}
	case errors.As(err, &netErr) && netErr.Timeout():
		return Failure{Code: "timeout", Retryable: true}
	case errors.As(err, &netErr):
		return Failure{Code: "network", Retryable: true}
	default:
		return Failure{Code: "provider_error"}
	}
}
