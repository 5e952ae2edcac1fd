package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SDKError is the base of every error this package returns.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// ProviderError is a failure reported by the model endpoint itself.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	ErrorCode  string
	Retryable  bool
	// RetryAfter is the server's requested wait, zero when absent.
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

func (e *ProviderError) provider() *ProviderError { return e }

// AsProviderError finds the endpoint failure in err's chain, whichever
// concrete provider error type carries it.
func AsProviderError(err error) (*ProviderError, bool) {
	var p interface{ provider() *ProviderError }
	if errors.As(err, &p) {
		return p.provider(), true
	}
	return nil, false
}

// Provider error kinds, by HTTP status.
type (
	AuthenticationError struct{ ProviderError }
	AccessDeniedError   struct{ ProviderError }
	NotFoundError       struct{ ProviderError }
	InvalidRequestError struct{ ProviderError }
	RateLimitError      struct{ ProviderError }
	ServerError         struct{ ProviderError }
	ContentFilterError  struct{ ProviderError }
	ContextLengthError  struct{ ProviderError }
)

// Local failures.
type (
	RequestTimeoutError  struct{ SDKError }
	AbortError           struct{ SDKError }
	NetworkError         struct{ SDKError }
	StreamErrorType      struct{ SDKError }
	InvalidToolCallError struct{ SDKError }
	ConfigurationError   struct{ SDKError }
)

// ErrorFromStatusCode classifies an HTTP failure from provider.
func ErrorFromStatusCode(statusCode int, message, provider, errorCode string, cause error, retryAfter time.Duration) error {
	pe := ProviderError{
		SDKError:   SDKError{Message: message, Cause: cause},
		Provider:   provider,
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		RetryAfter: retryAfter,
	}

	switch statusCode {
	case 400, 422:
		return &InvalidRequestError{pe}
	case 401:
		return &AuthenticationError{pe}
	case 403:
		return &AccessDeniedError{pe}
	case 404:
		return &NotFoundError{pe}
	case 408:
		return &RequestTimeoutError{pe.SDKError}
	case 413:
		return &ContextLengthError{pe}
	case 429:
		pe.Retryable = true
		return &RateLimitError{pe}
	case 500, 502, 503, 504:
		pe.Retryable = true
		return &ServerError{pe}
	}
	pe.Retryable = true
	return &pe
}

// IsRetryable reports whether sending the same request again may succeed.
// Cancellation never is; unclassified errors are.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if isAny(err, new(*AbortError), new(*ConfigurationError), new(*InvalidToolCallError),
		new(*AuthenticationError), new(*AccessDeniedError), new(*NotFoundError),
		new(*InvalidRequestError), new(*ContextLengthError), new(*ContentFilterError)) {
		return false
	}
	if isAny(err, new(*RateLimitError), new(*ServerError), new(*NetworkError),
		new(*StreamErrorType), new(*RequestTimeoutError)) {
		return true
	}
	if pe, ok := AsProviderError(err); ok {
		return pe.Retryable
	}
	return true
}

func isAny(err error, targets ...any) bool {
	for _, t := range targets {
		if errors.As(err, t) {
			return true
		}
	}
	return false
}
