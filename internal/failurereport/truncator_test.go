package failurereport

import (
	"strings"
	"testing"
)

func TestTruncate_NoOpUnderBudget(t *testing.T) {
	f := fields{
		failureMessage: "short message",
		errorLogs:      "a few log lines",
		testLogs:       "test output",
		diff:           "diff content",
		failedTests:    []string{"TestFoo"},
	}
	out, truncated := truncate(f, 10_000)
	if truncated {
		t.Fatalf("expected no truncation when well under budget")
	}
	if out.failureMessage != f.failureMessage || out.errorLogs != f.errorLogs ||
		out.testLogs != f.testLogs || out.diff != f.diff {
		t.Fatalf("expected fields unchanged when under budget")
	}
}

func TestTruncate_ZeroOrNegativeBudgetIsNoOp(t *testing.T) {
	f := fields{failureMessage: strings.Repeat("x", 1000)}
	out, truncated := truncate(f, 0)
	if truncated || out.failureMessage != f.failureMessage {
		t.Fatalf("expected budget<=0 to leave fields untouched")
	}
}

func TestTruncate_PriorityOrderKeepsHighPriorityFieldsWhole(t *testing.T) {
	f := fields{
		failureMessage: strings.Repeat("m", 40), // 10 tokens
		errorLogs:      strings.Repeat("e", 400), // 100 tokens
		testLogs:       strings.Repeat("t", 400), // 100 tokens
		diff:           strings.Repeat("d", 400), // 100 tokens
		failedTests:    []string{"TestA", "TestB"},
	}
	// Budget enough for failureMessage whole plus a partial errorLogs, nothing else.
	out, truncated := truncate(f, 30)
	if !truncated {
		t.Fatalf("expected truncation when over budget")
	}
	if out.failureMessage != f.failureMessage {
		t.Fatalf("expected highest-priority field (failureMessage) to survive whole")
	}
	if out.testLogs != "" {
		t.Fatalf("expected lower-priority testLogs to be fully dropped once budget exhausted, got %q", out.testLogs)
	}
	if out.diff != "" {
		t.Fatalf("expected lowest-priority diff to be fully dropped, got %q", out.diff)
	}
}

func TestFitField_FitsWhole(t *testing.T) {
	text := "abcd" // 1 token
	out, remaining := fitField(text, 10)
	if out != text || remaining != 9 {
		t.Fatalf("expected text to fit whole with remaining budget decremented, got %q, %d", out, remaining)
	}
}

func TestFitField_TruncatesAndExhaustsBudget(t *testing.T) {
	text := strings.Repeat("x", 100) // 25 tokens
	out, remaining := fitField(text, 10)
	if remaining != 0 {
		t.Fatalf("expected remaining budget to be exhausted after truncation, got %d", remaining)
	}
	if !strings.HasSuffix(out, "...[truncated]") {
		t.Fatalf("expected truncated marker suffix, got %q", out)
	}
	if len(out) >= len(text) {
		t.Fatalf("expected truncated text to be shorter than the original")
	}
}

func TestFitField_NoRemainingBudgetDropsField(t *testing.T) {
	out, remaining := fitField("anything", 0)
	if out != "" || remaining != 0 {
		t.Fatalf("expected a field with zero remaining budget to be dropped entirely, got %q, %d", out, remaining)
	}
}
