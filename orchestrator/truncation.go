package orchestrator

import (
	"fmt"
	"strings"
)

const (
	defaultOutputChars = 4000
	defaultOutputLines = 200
)

// truncateOutput keeps the head and tail of output, which is where assistant
// transcripts carry the task echo and the final status.
func truncateOutput(output string, maxChars int) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}
	half := maxChars / 2
	removed := len(output) - 2*half
	return output[:half] +
		fmt.Sprintf("\n\n[... %d characters omitted ...]\n\n", removed) +
		output[len(output)-half:]
}

// truncateLines applies a head/tail split by line count.
func truncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if maxLines <= 0 || len(lines) <= maxLines {
		return output
	}
	head := maxLines / 2
	tail := maxLines - head
	omitted := len(lines) - head - tail
	return strings.Join(lines[:head], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tail:], "\n")
}

// recordOutput shortens output for storage in an IterationRecord: characters
// first, then lines.
func recordOutput(output string, maxChars int) string {
	if maxChars == 0 {
		maxChars = defaultOutputChars
	}
	if maxChars < 0 {
		return ""
	}
	return truncateLines(truncateOutput(output, maxChars), defaultOutputLines)
}
