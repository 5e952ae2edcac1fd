package agentloop

import (
	"fmt"
	"strings"
)

const (
	// MaxToolOutputChars is the size above which tool output is elided.
	MaxToolOutputChars = 32000

	// ToolOutputKeepRatio is the fraction of MaxToolOutputChars kept at each
	// end of elided output.
	ToolOutputKeepRatio = 0.2
)

// FormatToolOutput trims trailing newlines and, when the result is longer
// than MaxToolOutputChars runes, keeps a head and tail around a marker
// reporting how many characters were dropped. Applying it twice is the
// same as applying it once.
func FormatToolOutput(output string) string {
	cleaned := strings.TrimRight(output, "\n")
	runes := []rune(cleaned)
	if len(runes) <= MaxToolOutputChars {
		return cleaned
	}

	keep := int(MaxToolOutputChars * ToolOutputKeepRatio)
	omitted := len(runes) - 2*keep
	return string(runes[:keep]) +
		fmt.Sprintf("\n...[%d characters omitted]...\n", omitted) +
		string(runes[len(runes)-keep:])
}
