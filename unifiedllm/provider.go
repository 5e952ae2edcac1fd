package unifiedllm

import "context"

// ProviderAdapter is the interface every model backend implements.
type ProviderAdapter interface {
	// Name returns the provider identifier (e.g. "openai", "gollm").
	Name() string

	// Complete sends a blocking request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream sends a request and returns a channel of stream events. An
	// error returned here means no event was produced; failures after the
	// stream is established arrive as a StreamError event. The channel is
	// closed after the final event.
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}
