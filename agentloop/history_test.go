package agentloop

import (
	"errors"
	"strings"
	"testing"

	"github.com/martinemde/gemcode/unifiedllm"
)

func TestValidateHistory(t *testing.T) {
	sys := unifiedllm.SystemMessage("sys")
	user := unifiedllm.UserMessage("hi")
	callA := unifiedllm.NewToolCall("a", "bash", `{}`)
	callB := unifiedllm.NewToolCall("b", "read_file", `{}`)
	withCalls := unifiedllm.AssistantMessage("", callA, callB)

	tests := []struct {
		name    string
		history []unifiedllm.Message
		wantErr string
	}{
		{name: "system only", history: []unifiedllm.Message{sys}},
		{name: "plain exchange", history: []unifiedllm.Message{sys, user, unifiedllm.AssistantMessage("hello")}},
		{name: "answered calls", history: []unifiedllm.Message{
			sys, user, withCalls,
			unifiedllm.ToolResultMessage("a", "ok"),
			unifiedllm.ToolResultMessage("b", "ok"),
			unifiedllm.AssistantMessage("done"),
		}},
		{name: "results out of order", history: []unifiedllm.Message{
			sys, user, withCalls,
			unifiedllm.ToolResultMessage("b", "ok"),
			unifiedllm.ToolResultMessage("a", "ok"),
		}},
		{name: "empty", wantErr: "must start with the system message"},
		{name: "no system", history: []unifiedllm.Message{user}, wantErr: "must start with the system message"},
		{name: "second system", history: []unifiedllm.Message{sys, user, sys}, wantErr: "duplicate system message"},
		{name: "orphan result", history: []unifiedllm.Message{sys, user, unifiedllm.ToolResultMessage("x", "?")}, wantErr: "no matching unanswered call"},
		{name: "result answered twice", history: []unifiedllm.Message{
			sys, user, withCalls,
			unifiedllm.ToolResultMessage("a", "ok"),
			unifiedllm.ToolResultMessage("a", "again"),
		}, wantErr: `"a"`},
		{name: "unanswered at end", history: []unifiedllm.Message{
			sys, user, withCalls,
			unifiedllm.ToolResultMessage("a", "ok"),
		}, wantErr: "left unanswered"},
		{name: "user interrupts pending calls", history: []unifiedllm.Message{
			sys, user, withCalls, user,
		}, wantErr: "left unanswered"},
		{name: "duplicate call id", history: []unifiedllm.Message{
			sys, user, unifiedllm.AssistantMessage("", callA, callA),
		}, wantErr: "duplicate tool call id"},
		{name: "call without id", history: []unifiedllm.Message{
			sys, user, unifiedllm.AssistantMessage("", unifiedllm.NewToolCall("", "bash", `{}`)),
		}, wantErr: "without an id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHistory(tt.history)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var desync *ProtocolDesyncError
			if !errors.As(err, &desync) {
				t.Fatalf("error = %v, want *ProtocolDesyncError", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
