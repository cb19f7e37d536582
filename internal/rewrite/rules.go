// Package rewrite renames instance-scoped identifiers inside a cloned lab tree.
package rewrite

import (
	"strings"

	"github.com/NielsdaWheelz/labforge/internal/core"
)

// Rule replaces one delimited identifier form.
type Rule struct {
	From string
	To   string
}

// Rules returns the identifier table for a base -> target rewrite:
// "<role>-<tag>" and "<role><tag>" for every role, then "lab<tag>".
func Rules(base, target core.Tag) []Rule {
	var rules []Rule
	for _, role := range core.Roles() {
		rules = append(rules,
			Rule{From: role.Hyphenated(base), To: role.Hyphenated(target)},
			Rule{From: role.Compact(base), To: role.Compact(target)},
		)
	}
	rules = append(rules, Rule{From: core.LabDirName(base), To: core.LabDirName(target)})
	return rules
}

// Apply rewrites every delimited occurrence of each rule's From form in s.
// An occurrence is delimited when the byte before it is not an ASCII letter
// or digit and the byte after it is not a digit, so "client-01" never
// matches inside "client-010" and "lab01" never matches inside "xlab01".
// The scan is single-pass: replaced text is never rescanned.
func Apply(s string, rules []Rule) (string, int) {
	var b strings.Builder
	count := 0
	last := 0
	for i := 0; i < len(s); {
		matched := false
		for _, r := range rules {
			if r.From == "" || !strings.HasPrefix(s[i:], r.From) {
				continue
			}
			if !delimited(s, i, i+len(r.From)) {
				continue
			}
			if count == 0 {
				b.Grow(len(s))
			}
			b.WriteString(s[last:i])
			b.WriteString(r.To)
			i += len(r.From)
			last = i
			count++
			matched = true
			break
		}
		if !matched {
			i++
		}
	}
	if count == 0 {
		return s, 0
	}
	b.WriteString(s[last:])
	return b.String(), count
}

// Contains reports whether s holds any delimited From form.
func Contains(s string, rules []Rule) bool {
	_, n := Apply(s, rules)
	return n > 0
}

func delimited(s string, start, end int) bool {
	if start > 0 && isAlnum(s[start-1]) {
		return false
	}
	if end < len(s) && isDigit(s[end]) {
		return false
	}
	return true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isAlnum(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
