package adapters

import "strings"

const (
	// CompletionHeader opens the injected completion block.
	CompletionHeader = "## Completion Promise"

	// completionMarker ends the instruction line; the promise follows on the
	// next line.
	completionMarker = "output this exact line:"

	completionInstruction = "When every part of the task is complete and verified, " + completionMarker
)

// CompletionBlock returns the block appended for promise. It always ends with
// the promise itself, verbatim.
func CompletionBlock(promise string) string {
	return CompletionHeader + "\n" + completionInstruction + "\n" + promise
}

// EnhancePrompt appends the completion block for promise to prompt, unless
// promise is empty or prompt already carries the block for this promise.
// Any non-empty promise, whitespace included, is appended verbatim.
// It depends only on its arguments.
func EnhancePrompt(prompt, promise string) string {
	if promise == "" {
		return prompt
	}
	if HasCompletionBlock(prompt, promise) {
		return prompt
	}
	return prompt + "\n\n" + CompletionBlock(promise)
}

// HasCompletionBlock reports whether prompt contains a CompletionHeader line
// followed later by the instruction marker and then promise on its own line.
// The header alone, or the promise under other wording, does not match.
func HasCompletionBlock(prompt, promise string) bool {
	if promise == "" {
		return false
	}
	header := indexLine(prompt, CompletionHeader)
	if header < 0 {
		return false
	}
	rest := prompt[header+len(CompletionHeader):]
	return hasPromiseLine(rest, completionMarker+"\n"+promise) ||
		hasPromiseLine(rest, completionMarker+"\r\n"+promise)
}

// hasPromiseLine reports whether needle occurs in s ending at a line end.
func hasPromiseLine(s, needle string) bool {
	for offset := 0; offset < len(s); {
		idx := strings.Index(s[offset:], needle)
		if idx < 0 {
			return false
		}
		end := offset + idx + len(needle)
		if atLineEnd(s, end) {
			return true
		}
		offset += idx + 1
	}
	return false
}

// indexLine returns the index of the first occurrence of line that occupies a
// whole line of s, or -1.
func indexLine(s, line string) int {
	for offset := 0; offset < len(s); {
		idx := strings.Index(s[offset:], line)
		if idx < 0 {
			return -1
		}
		start := offset + idx
		if (start == 0 || s[start-1] == '\n') && atLineEnd(s, start+len(line)) {
			return start
		}
		offset = start + 1
	}
	return -1
}

func atLineEnd(s string, pos int) bool {
	return pos == len(s) || s[pos] == '\n' || s[pos] == '\r'
}
