// Package unifiedllm is the chat-completion client used by the agent loop.
// It carries the OpenAI-compatible message model, streams replies as typed
// events, and classifies provider failures into retryable and fatal errors.
//
// # Architecture
//
//   - ProviderAdapter: one backend. OpenAIAdapter speaks the OpenAI chat
//     completions protocol via openai-go; GollmAdapter wraps gollm for
//     text-only backends.
//   - Retry and error classification: RetryPolicy, Retry, IsRetryable.
//   - Client: a single adapter plus middleware and retry of stream
//     establishment.
//
// # Quick Start
//
//	adapter, _ := unifiedllm.NewOpenAIAdapter(key, "https://api.minimax.io/v1", "MiniMax-M2.5")
//	client := unifiedllm.NewClient(adapter)
//
//	events, err := client.Stream(ctx, unifiedllm.Request{
//	    Messages: []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	})
//	for ev := range events {
//	    if ev.Type == unifiedllm.TextDelta {
//	        fmt.Print(ev.Delta)
//	    }
//	}
//
// # Wire format
//
// Message marshals to the OpenAI chat message shape. An assistant message
// that only carries tool calls is encoded with a null content field, and
// tool result messages carry the tool_call_id they answer. Requests are
// built by OpenAIAdapter from openai-go params; Message's own JSON form
// matches them and is what transcripts and debug output use.
package unifiedllm
