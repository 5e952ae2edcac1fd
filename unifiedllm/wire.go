package unifiedllm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownRole is returned when a message carries a role outside the
// system/user/assistant/tool set. It means the conversation is out of sync
// with the endpoint and is never recoverable.
var ErrUnknownRole = errors.New("unknown message role")

// wireMessage is the chat-completions shape of a Message.
type wireMessage struct {
	Role       Role            `json:"role"`
	Content    json.RawMessage `json:"content"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// MarshalJSON encodes the message with the keys the chat endpoint expects.
// An assistant message that only requests tools sends a null content.
func (m Message) MarshalJSON() ([]byte, error) {
	if !m.Role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, m.Role)
	}

	w := wireMessage{Role: m.Role, ToolCallID: m.ToolCallID}
	if m.Role == RoleAssistant && m.Content == "" && len(m.ToolCalls) > 0 {
		w.Content = json.RawMessage("null")
	} else {
		content, err := json.Marshal(m.Content)
		if err != nil {
			return nil, err
		}
		w.Content = content
	}

	if len(m.ToolCalls) > 0 {
		w.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			if tc.Type == "" {
				tc.Type = "function"
			}
			w.ToolCalls[i] = tc
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the chat wire shape. Content may be a string, null,
// or an array of text parts; parts are concatenated.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if !w.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownRole, w.Role)
	}

	content, err := decodeContent(w.Content)
	if err != nil {
		return fmt.Errorf("decode %s message content: %w", w.Role, err)
	}

	*m = Message{
		Role:       w.Role,
		Content:    content,
		ToolCalls:  w.ToolCalls,
		ToolCallID: w.ToolCallID,
	}
	return nil
}

func decodeContent(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case '[':
		var parts []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &parts); err != nil {
			return "", err
		}
		var sb strings.Builder
		for _, p := range parts {
			if p.Type == "text" {
				sb.WriteString(p.Text)
			}
		}
		return sb.String(), nil
	default:
		return "", fmt.Errorf("unsupported content encoding %q", raw[:1])
	}
}
