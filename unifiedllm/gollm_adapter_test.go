package unifiedllm

import (
	"context"
	"errors"
	"testing"
)

func TestGollmAdapterName(t *testing.T) {
	// gollm only accepts openai keys shaped like "sk-" plus 18 or more characters.
	adapter, err := NewGollmAdapter("openai", "sk-test-0123456789abcdefghij")
	if err != nil {
		t.Fatalf("NewGollmAdapter: %v", err)
	}
	if adapter.Name() != "gollm:openai" {
		t.Errorf("expected name %q, got %q", "gollm:openai", adapter.Name())
	}
}

type simpleError struct{ msg string }

func (e *simpleError) Error() string { return e.msg }
func errForMsg(msg string) error     { return &simpleError{msg: msg} }

func TestGollmAdapterTranslateError(t *testing.T) {
	adapter := &GollmAdapter{provider: "openai"}

	tests := []struct {
		msg   string
		check func(error) bool
	}{
		{"401 Unauthorized", func(e error) bool { var x *AuthenticationError; return errors.As(e, &x) }},
		{"invalid api key", func(e error) bool { var x *AuthenticationError; return errors.As(e, &x) }},
		{"403 Forbidden", func(e error) bool { var x *AccessDeniedError; return errors.As(e, &x) }},
		{"404 not found", func(e error) bool { var x *NotFoundError; return errors.As(e, &x) }},
		{"429 rate limit exceeded", func(e error) bool { var x *RateLimitError; return errors.As(e, &x) }},
		{"context length exceeded", func(e error) bool { var x *ContextLengthError; return errors.As(e, &x) }},
		{"500 internal server error", func(e error) bool { var x *ServerError; return errors.As(e, &x) }},
		{"timeout waiting for response", func(e error) bool { var x *RequestTimeoutError; return errors.As(e, &x) }},
		{"content filter triggered", func(e error) bool { var x *ContentFilterError; return errors.As(e, &x) }},
		{"something unknown", func(e error) bool { var x *ProviderError; return errors.As(e, &x) }},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := adapter.translateError(context.Background(), errForMsg(tt.msg))
			if !tt.check(err) {
				t.Errorf("unexpected error type %T", err)
			}
		})
	}
}

func TestGollmAdapterTranslateErrorCancelled(t *testing.T) {
	adapter := &GollmAdapter{provider: "openai"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := adapter.translateError(ctx, errForMsg("500 internal server error"))
	var abort *AbortError
	if !errors.As(err, &abort) {
		t.Errorf("expected AbortError for cancelled context, got %T", err)
	}
}

func TestEstimateTokens(t *testing.T) {
	req := Request{Messages: []Message{UserMessage("Hello world, this is a test message.")}}
	if tokens := estimateTokens(req); tokens <= 0 {
		t.Errorf("expected positive token estimate, got %d", tokens)
	}
	if tokens := estimateTokens(Request{}); tokens != 10 {
		t.Errorf("expected default token estimate of 10, got %d", tokens)
	}
}
