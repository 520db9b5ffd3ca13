// Package failurereport assembles, redacts, and truncates the payload
// handed to the Diagnoser (§4.7): it is the one place in the engine that
// touches raw build-log and diff content before that content becomes
// durable (journaled) or leaves the process (emitted).
package failurereport

import (
	"fmt"
	"regexp"
)

const redactedPlaceholder = "[REDACTED]"

// Redactor strips content matching a configured set of secret patterns,
// replacing each match with a constant placeholder and counting matches
// (never their content) for audit, per §4.7: "Replace with a constant
// placeholder; record the count of redactions (not their content)."
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor compiles the configured pattern set. An invalid pattern is
// an operator configuration error and is rejected at construction time
// rather than silently skipped.
func NewRedactor(patterns []string) (*Redactor, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile secret pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return &Redactor{patterns: compiled}, nil
}

// Redact returns the redacted text and the number of substrings replaced.
func (r *Redactor) Redact(text string) (string, int) {
	count := 0
	for _, re := range r.patterns {
		text = re.ReplaceAllStringFunc(text, func(match string) string {
			count++
			return redactedPlaceholder
		})
	}
	return text, count
}
