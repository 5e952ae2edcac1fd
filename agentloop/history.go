package agentloop

import (
	"fmt"

	"github.com/martinemde/gemcode/unifiedllm"
)

// ProtocolDesyncError reports a history that breaks tool-call correlation
// or system-message placement. It is never repaired automatically.
type ProtocolDesyncError struct {
	Index      int
	ToolCallID string
	Reason     string
}

func (e *ProtocolDesyncError) Error() string {
	if e.ToolCallID != "" {
		return fmt.Sprintf("protocol desync at message %d (tool_call_id %q): %s", e.Index, e.ToolCallID, e.Reason)
	}
	return fmt.Sprintf("protocol desync at message %d: %s", e.Index, e.Reason)
}

// ValidateHistory checks the invariants a request must satisfy:
//
//   - exactly one system message, at index 0;
//   - every tool message answers a call of the nearest preceding assistant
//     message, and each call is answered exactly once;
//   - no user or assistant message appears while calls are unanswered;
//   - no calls are left unanswered at the end.
func ValidateHistory(history []unifiedllm.Message) error {
	if len(history) == 0 || history[0].Role != unifiedllm.RoleSystem {
		return &ProtocolDesyncError{Index: 0, Reason: "history must start with the system message"}
	}

	// pending holds the unanswered call IDs of the last assistant message.
	pending := map[string]bool{}
	pendingFrom := -1

	for i := 1; i < len(history); i++ {
		msg := history[i]
		switch msg.Role {
		case unifiedllm.RoleSystem:
			return &ProtocolDesyncError{Index: i, Reason: "duplicate system message"}

		case unifiedllm.RoleUser:
			if len(pending) > 0 {
				return unansweredError(i, pending, pendingFrom)
			}

		case unifiedllm.RoleAssistant:
			if len(pending) > 0 {
				return unansweredError(i, pending, pendingFrom)
			}
			seen := map[string]bool{}
			for _, tc := range msg.ToolCalls {
				if tc.ID == "" {
					return &ProtocolDesyncError{Index: i, Reason: "tool call without an id"}
				}
				if seen[tc.ID] {
					return &ProtocolDesyncError{Index: i, ToolCallID: tc.ID, Reason: "duplicate tool call id in one assistant message"}
				}
				seen[tc.ID] = true
				pending[tc.ID] = true
			}
			pendingFrom = i

		case unifiedllm.RoleTool:
			if !pending[msg.ToolCallID] {
				return &ProtocolDesyncError{Index: i, ToolCallID: msg.ToolCallID, Reason: "tool result has no matching unanswered call"}
			}
			delete(pending, msg.ToolCallID)

		default:
			return &ProtocolDesyncError{Index: i, Reason: fmt.Sprintf("unknown role %q", msg.Role)}
		}
	}

	if len(pending) > 0 {
		return unansweredError(len(history), pending, pendingFrom)
	}
	return nil
}

func unansweredError(index int, pending map[string]bool, from int) error {
	var id string
	for k := range pending {
		if id == "" || k < id {
			id = k
		}
	}
	return &ProtocolDesyncError{
		Index:      index,
		ToolCallID: id,
		Reason:     fmt.Sprintf("%d tool call(s) from message %d left unanswered", len(pending), from),
	}
}
