package agentloop

import (
	"crypto/sha256"
	"fmt"

	"github.com/martinemde/gemcode/unifiedllm"
)

// toolCallSignature computes a deterministic signature for a tool call
// (name + hash of arguments).
func toolCallSignature(tc unifiedllm.ToolCall) string {
	h := sha256.Sum256([]byte(tc.Function.Arguments))
	return fmt.Sprintf("%s:%x", tc.Function.Name, h[:8])
}

// recentToolCallSignatures returns up to count signatures of the most
// recent tool calls, oldest first.
func recentToolCallSignatures(history []unifiedllm.Message, count int) []string {
	var sigs []string
	for i := len(history) - 1; i >= 0 && len(sigs) < count; i-- {
		msg := history[i]
		if msg.Role != unifiedllm.RoleAssistant {
			continue
		}
		for j := len(msg.ToolCalls) - 1; j >= 0 && len(sigs) < count; j-- {
			sigs = append(sigs, toolCallSignature(msg.ToolCalls[j]))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop checks if the last windowSize tool calls follow a repeating
// pattern of length 1, 2, or 3.
func DetectLoop(history []unifiedllm.Message, windowSize int) bool {
	if windowSize <= 0 {
		return false
	}
	sigs := recentToolCallSignatures(history, windowSize)
	if len(sigs) < windowSize {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 {
			continue
		}
		match := true
		for i := patternLen; i < windowSize && match; i++ {
			if sigs[i] != sigs[i%patternLen] {
				match = false
			}
		}
		if match {
			return true
		}
	}
	return false
}
