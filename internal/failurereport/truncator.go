package failurereport

import "strings"

// estimateTokens matches §4.7's estimator: len(text)/4.
func estimateTokens(text string) int {
	return len(text) / 4
}

// fieldPriority is the truncation order of §4.7: keep failureMessage, then
// errorLogs, then testLogs, then diff, then failedTests — each field given
// an equal share of whatever budget remains after higher-priority fields
// are kept whole (when they fit).
type fields struct {
	failureMessage string
	errorLogs      string
	testLogs       string
	diff           string
	failedTests    []string
}

// truncate fits fields within budget tokens, returning the possibly
// shortened fields and whether any truncation occurred.
func truncate(f fields, budget int) (fields, bool) {
	failedTestsText := strings.Join(f.failedTests, "\n")
	total := estimateTokens(f.failureMessage) + estimateTokens(f.errorLogs) +
		estimateTokens(f.testLogs) + estimateTokens(f.diff) + estimateTokens(failedTestsText)
	if total <= budget || budget <= 0 {
		return f, false
	}

	remaining := budget
	out := f

	out.failureMessage, remaining = fitField(f.failureMessage, remaining)
	out.errorLogs, remaining = fitField(f.errorLogs, remaining)
	out.testLogs, remaining = fitField(f.testLogs, remaining)
	out.diff, remaining = fitField(f.diff, remaining)

	trimmedTests, _ := fitField(failedTestsText, remaining)
	if trimmedTests != failedTestsText {
		out.failedTests = splitNonEmpty(trimmedTests)
	}

	return out, true
}

// fitField keeps text whole if it fits in remaining tokens; otherwise it
// truncates to exactly remaining tokens' worth of characters and returns
// the tokens still left for subsequent fields (0, once a field has been
// cut, per the "equal share of the remaining budget" rule applied
// sequentially across priority order).
func fitField(text string, remaining int) (string, int) {
	need := estimateTokens(text)
	if need <= remaining {
		return text, remaining - need
	}
	if remaining <= 0 {
		return "", 0
	}
	maxChars := remaining * 4
	if maxChars > len(text) {
		maxChars = len(text)
	}
	return text[:maxChars] + "\n...[truncated]", 0
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
