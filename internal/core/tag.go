// Package core provides the naming primitives shared by every labforge component.
package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Tag is a two-digit zero-padded instance identifier, e.g. "07".
type Tag string

// DefaultBase is the canonical template lab directory.
const DefaultBase = "lab00"

var labDirRe = regexp.MustCompile(`^lab(\d{2})$`)

// ParseTag accepts an instance number in the range 0..99, with or without
// zero padding ("7", "07"), and returns its canonical two-digit form.
// Signs, whitespace and more than two digits are rejected.
func ParseTag(s string) (Tag, error) {
	if s == "" || len(s) > 2 {
		return "", fmt.Errorf("invalid lab number %q: want 0-99", s)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("invalid lab number %q: want 0-99", s)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return "", fmt.Errorf("invalid lab number %q: %w", s, err)
	}
	return TagFromInt(n)
}

// TagFromInt returns the tag for n, which must be in 0..99.
func TagFromInt(n int) (Tag, error) {
	if n < 0 || n > 99 {
		return "", fmt.Errorf("invalid lab number %d: want 0-99", n)
	}
	return Tag(fmt.Sprintf("%02d", n)), nil
}

// String returns the two-digit form.
func (t Tag) String() string {
	return string(t)
}

// LabDirName returns the instance directory name, e.g. "lab07".
func LabDirName(t Tag) string {
	return "lab" + string(t)
}

// ParseLabDirName extracts the tag from an instance directory name.
// Only exact "labNN" names are accepted; "lab7", "lab007" and "mylab07" are not.
func ParseLabDirName(name string) (Tag, bool) {
	m := labDirRe.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return Tag(m[1]), true
}

// IsLabDirName reports whether name is an instance directory name.
func IsLabDirName(name string) bool {
	return labDirRe.MatchString(name)
}

// TrimLabPrefix tolerates a "lab" prefix on user input: "lab07" -> "07".
func TrimLabPrefix(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "lab")
}
