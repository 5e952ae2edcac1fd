package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIAdapter talks to any endpoint implementing the OpenAI chat
// completions contract.
type OpenAIAdapter struct {
	client openai.Client
	model  string
}

// NewOpenAIAdapter creates an adapter for the endpoint at baseURL. Retries
// are disabled in the SDK; the Client owns retry policy.
func NewOpenAIAdapter(apiKey, baseURL, model string, opts ...option.RequestOption) (*OpenAIAdapter, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "openai adapter: api key is required"}}
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)

	return &OpenAIAdapter{
		client: openai.NewClient(reqOpts...),
		model:  model,
	}, nil
}

// Name returns the provider identifier.
func (a *OpenAIAdapter) Name() string {
	return "openai"
}

// Complete sends a non-streaming chat completion request.
func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, a.translateError(ctx, err)
	}

	out := &Response{
		ID:       resp.ID,
		Model:    resp.Model,
		Provider: a.Name(),
		Message:  Message{Role: RoleAssistant},
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		out.Message.Content = choice.Message.Content
		for _, tc := range choice.Message.ToolCalls {
			out.Message.ToolCalls = append(out.Message.ToolCalls, NewToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
		}
		out.FinishReason = mapFinishReason(choice.FinishReason)
	}
	return out, nil
}

// Stream sends a streaming chat completion request. The first chunk is
// read before returning so that connection and HTTP status failures are
// reported as the returned error, where the Client can retry them.
func (a *OpenAIAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := a.client.Chat.Completions.NewStreaming(ctx, params)
	if !stream.Next() {
		err := stream.Err()
		_ = stream.Close()
		if err == nil {
			err = &StreamErrorType{SDKError: SDKError{Message: "stream closed before any data"}}
		}
		return nil, a.translateError(ctx, err)
	}

	ch := make(chan StreamEvent, 64)
	go func() {
		defer close(ch)
		defer stream.Close()

		send := func(ev StreamEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send(StreamEvent{Type: StreamStart}) {
			return
		}

		var (
			finish *FinishReason
			usage  *Usage
		)
		for {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				usage = &Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:  int(chunk.Usage.TotalTokens),
				}
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					if !send(StreamEvent{Type: TextDelta, Delta: choice.Delta.Content}) {
						return
					}
				}
				for _, tc := range choice.Delta.ToolCalls {
					frag := &ToolCallFragment{
						Index:     int(tc.Index),
						ID:        tc.ID,
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					}
					if !send(StreamEvent{Type: ToolCallDelta, ToolCall: frag}) {
						return
					}
				}
				if choice.FinishReason != "" {
					fr := mapFinishReason(choice.FinishReason)
					finish = &fr
				}
			}

			if !stream.Next() {
				break
			}
		}

		if err := stream.Err(); err != nil {
			send(StreamEvent{Type: StreamError, Error: a.translateError(ctx, err)})
			return
		}
		if finish == nil {
			send(StreamEvent{Type: StreamError, Error: &StreamErrorType{SDKError: SDKError{
				Message: "stream ended without a finish reason",
			}}})
			return
		}
		send(StreamEvent{Type: StreamFinish, FinishReason: finish, Usage: usage})
	}()

	return ch, nil
}

func (a *OpenAIAdapter) buildParams(req Request) (openai.ChatCompletionNewParams, error) {
	model := req.Model
	if model == "" {
		model = a.model
	}

	messages, err := toOpenAIMessages(req.Messages)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(*req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, def := range req.Tools {
			fn := shared.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
			}
			if def.Parameters != nil {
				fn.Parameters = shared.FunctionParameters(def.Parameters)
			}
			tools = append(tools, openai.ChatCompletionToolParam{Function: fn})
		}
		params.Tools = tools

		if req.ToolChoice != nil && req.ToolChoice.Mode != "" {
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
				OfAuto: openai.String(req.ToolChoice.Mode),
			}
		}
	}
	return params, nil
}

func toOpenAIMessages(messages []Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(msg.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
			if msg.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(msg.Content)}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		default:
			return nil, fmt.Errorf("message %d: %w: %q", i, ErrUnknownRole, msg.Role)
		}
	}
	return out, nil
}

func mapFinishReason(raw string) FinishReason {
	switch raw {
	case "stop", "length", "tool_calls", "content_filter":
		return FinishReason{Reason: raw, Raw: raw}
	case "function_call":
		return FinishReason{Reason: "tool_calls", Raw: raw}
	default:
		return FinishReason{Reason: "other", Raw: raw}
	}
}

// translateError converts SDK and transport errors into the unified error
// hierarchy.
func (a *OpenAIAdapter) translateError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	var streamErr *StreamErrorType
	if errors.As(err, &streamErr) {
		return err
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: err}}
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := strings.TrimSpace(apiErr.Message)
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", apiErr.StatusCode)
		}
		var retryAfter time.Duration
		if apiErr.Response != nil {
			retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"), time.Now())
		}
		return ErrorFromStatusCode(apiErr.StatusCode, msg, a.Name(), apiErr.Code, err, retryAfter)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &RequestTimeoutError{SDKError: SDKError{Message: "request timed out", Cause: err}}
		}
		return &NetworkError{SDKError: SDKError{Message: "network error", Cause: err}}
	}
	return &StreamErrorType{SDKError: SDKError{Message: "malformed stream", Cause: err}}
}

// parseRetryAfter reads a Retry-After header in either delay-seconds or
// HTTP-date form. Unparseable or past values yield zero.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
