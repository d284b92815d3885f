package providers

import (
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorQuota     ErrorType = "quota"
	ErrorRate      ErrorType = "rate"
	ErrorTransient ErrorType = "transient"
	ErrorPermanent ErrorType = "permanent"
	ErrorContext   ErrorType = "context"
)

// ProviderError wraps a failed upstream completion or embedding call.
type ProviderError struct {
	Provider string
	Status   int
	Kind     ErrorType
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s provider error (status %d, %s): %v", e.Provider, e.Status, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s provider error (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func newProviderError(provider string, status int, err error) *ProviderError {
	return &ProviderError{Provider: provider, Status: status, Kind: classifyStatus(status, err), Err: err}
}

func classifyStatus(status int, err error) ErrorType {
	switch {
	case status == http.StatusTooManyRequests:
		if ClassifyError(err) == ErrorQuota {
			return ErrorQuota
		}
		return ErrorRate
	case status == http.StatusPaymentRequired:
		return ErrorQuota
	case status >= 500:
		return ErrorTransient
	default:
		return ClassifyError(err)
	}
}

func ClassifyError(err error) ErrorType {
	if err == nil {
		return ""
	}
	e := strings.ToLower(err.Error())
	switch {
	case strings.Contains(e, "quota"), strings.Contains(e, "credit"), strings.Contains(e, "insufficient_quota"):
		return ErrorQuota
	case strings.Contains(e, "rate limit"), strings.Contains(e, "rate_limit"), strings.Contains(e, "429"):
		return ErrorRate
	case strings.Contains(e, "timeout"), strings.Contains(e, "deadline exceeded"), strings.Contains(e, "temporarily"),
		strings.Contains(e, "unavailable"), strings.Contains(e, "overloaded"):
		return ErrorTransient
	case strings.Contains(e, "context_length"), strings.Contains(e, "context window"), strings.Contains(e, "too long"):
		return ErrorContext
	default:
		return ErrorPermanent
	}
}
