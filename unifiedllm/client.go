package unifiedllm

import (
	"context"
	"log/slog"
	"time"
)

// Middleware wraps a provider call. It receives the request and a next function
// that calls the downstream handler, and returns the response.
type Middleware func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error)

// StreamMiddleware wraps a streaming provider call.
type StreamMiddleware func(ctx context.Context, req Request, next func(context.Context, Request) (<-chan StreamEvent, error)) (<-chan StreamEvent, error)

// Client sends requests to a single provider adapter, applying middleware
// and retrying failures that happen before a response begins.
type Client struct {
	adapter  ProviderAdapter
	retry    RetryPolicy
	mw       []Middleware
	streamMW []StreamMiddleware
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) {
		c.retry = p
	}
}

// WithMiddleware adds middleware to the client.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) {
		c.mw = append(c.mw, mw...)
	}
}

// WithStreamMiddleware adds stream middleware to the client.
func WithStreamMiddleware(mw ...StreamMiddleware) ClientOption {
	return func(c *Client) {
		c.streamMW = append(c.streamMW, mw...)
	}
}

// NewClient creates a Client backed by adapter.
func NewClient(adapter ProviderAdapter, opts ...ClientOption) *Client {
	c := &Client{
		adapter: adapter,
		retry:   DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Provider returns the adapter name, or "" when none is configured.
func (c *Client) Provider() string {
	if c.adapter == nil {
		return ""
	}
	return c.adapter.Name()
}

func (c *Client) noAdapter() error {
	return &ConfigurationError{SDKError: SDKError{Message: "no provider adapter configured"}}
}

// Complete sends a blocking request through middleware to the adapter.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if c.adapter == nil {
		return nil, c.noAdapter()
	}

	handler := func(ctx context.Context, r Request) (*Response, error) {
		return c.adapter.Complete(ctx, r)
	}
	// Apply middleware in reverse order so first registered runs first.
	for i := len(c.mw) - 1; i >= 0; i-- {
		mw := c.mw[i]
		next := handler
		handler = func(ctx context.Context, r Request) (*Response, error) {
			return mw(ctx, r, next)
		}
	}

	return Retry(ctx, c.retry, func(ctx context.Context) (*Response, error) {
		return handler(ctx, req)
	})
}

// Stream sends a streaming request through middleware to the adapter.
// Only establishing the stream is retried; once events flow, failures
// arrive on the channel as a StreamError event.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	if c.adapter == nil {
		return nil, c.noAdapter()
	}

	handler := func(ctx context.Context, r Request) (<-chan StreamEvent, error) {
		return c.adapter.Stream(ctx, r)
	}
	for i := len(c.streamMW) - 1; i >= 0; i-- {
		mw := c.streamMW[i]
		next := handler
		handler = func(ctx context.Context, r Request) (<-chan StreamEvent, error) {
			return mw(ctx, r, next)
		}
	}

	return Retry(ctx, c.retry, func(ctx context.Context) (<-chan StreamEvent, error) {
		return handler(ctx, req)
	})
}

// Close releases resources held by the adapter.
func (c *Client) Close() error {
	if closer, ok := c.adapter.(Closer); ok {
		return closer.Close()
	}
	return nil
}

// LoggingStreamMiddleware logs each streamed request at debug level and
// its outcome once the stream is drained. Forwarding stops when ctx is
// done, so a consumer may abandon the stream by cancelling.
func LoggingStreamMiddleware(logger *slog.Logger) StreamMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req Request, next func(context.Context, Request) (<-chan StreamEvent, error)) (<-chan StreamEvent, error) {
		start := time.Now()
		logger.Debug("stream request",
			"model", req.Model,
			"messages", len(req.Messages),
			"tools", len(req.Tools),
		)

		in, err := next(ctx, req)
		if err != nil {
			logger.Warn("stream request failed", "error", err, "elapsed", time.Since(start))
			return nil, err
		}

		out := make(chan StreamEvent, cap(in))
		go func() {
			defer close(out)
			var deltas int
			for ev := range in {
				switch ev.Type {
				case TextDelta, ToolCallDelta:
					deltas++
				case StreamFinish:
					attrs := []any{"deltas", deltas, "elapsed", time.Since(start)}
					if ev.FinishReason != nil {
						attrs = append(attrs, "finish_reason", ev.FinishReason.Reason)
					}
					if ev.Usage != nil {
						attrs = append(attrs, "total_tokens", ev.Usage.TotalTokens)
					}
					logger.Debug("stream finished", attrs...)
				case StreamError:
					logger.Warn("stream error", "error", ev.Error, "deltas", deltas)
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out, nil
	}
}
