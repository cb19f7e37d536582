// Package artifacts extends the hand-maintained files shared by every lab
// instance: the reverse-proxy config, the compose manifest and the SQL
// bootstrap scripts.
package artifacts

import (
	"strings"
)

// Artifact is one shared file with a single well-defined insertion point.
// Render never rewrites or reorders existing content; it returns current
// with the new block appended or inserted at the anchor.
type Artifact interface {
	Name() string
	Path() string
	Render(current []byte) ([]byte, error)
}

// ensureTrailingNewline returns s terminated by exactly the newline it had,
// or one added if it had none. Empty input stays empty.
func ensureTrailingNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

// splitLines splits s into lines, each keeping its trailing newline.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
