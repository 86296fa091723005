package validate

import (
	"strings"
	"testing"

	"github.com/ormasoftchile/fleetcheck/pkg/schema"
)

// TestExtractRaw verifies raw extraction trims surrounding whitespace.
func TestExtractRaw(t *testing.T) {
	ext, err := Extract("  hello world \n", "raw")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if ext.Value != "hello world" {
		t.Errorf("value = %q", ext.Value)
	}
}

// TestExtractFirstLine verifies first_line skips leading blank lines.
func TestExtractFirstLine(t *testing.T) {
	ext, err := Extract("\n\n  first  \nsecond\n", "first_line")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if ext.Value != "first" {
		t.Errorf("value = %q, want first", ext.Value)
	}
}

// TestExtractLinesCount verifies non-blank line counting.
func TestExtractLinesCount(t *testing.T) {
	ext, err := Extract("a\n\nb\n c \n\n", "lines_count")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if ext.Value != "3" {
		t.Errorf("value = %q, want 3", ext.Value)
	}
}

// TestExtractRegexCaptureGroup verifies the first capture group wins
// and a non-match extracts the empty string.
func TestExtractRegexCaptureGroup(t *testing.T) {
	ext, err := Extract("MemTotal: 16384 kB", `regex:MemTotal:\s+(\d+)`)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if ext.Value != "16384" {
		t.Errorf("value = %q, want 16384", ext.Value)
	}

	ext, err = Extract("no match here", `regex:total (\d+)`)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if ext.Value != "" {
		t.Errorf("non-match value = %q, want empty", ext.Value)
	}
}

// TestExtractField verifies 1-based whitespace field extraction.
func TestExtractField(t *testing.T) {
	ext, err := Extract("/dev/sda1  50G  35G  70% /", "field:4")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if ext.Value != "70%" {
		t.Errorf("value = %q, want 70%%", ext.Value)
	}
}

// TestExtractPerLine verifies per_line applies the sub-method per
// non-blank line.
func TestExtractPerLine(t *testing.T) {
	ext, err := Extract("a 1\nb 2\n\nc 3", "per_line:field:2")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !ext.PerLine {
		t.Fatal("expected per-line extraction")
	}
	want := []string{"1", "2", "3"}
	if len(ext.Lines) != len(want) {
		t.Fatalf("lines = %v", ext.Lines)
	}
	for i := range want {
		if ext.Lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, ext.Lines[i], want[i])
		}
	}
}

// TestExtractRejectsNestedPerLine verifies per_line cannot nest.
func TestExtractRejectsNestedPerLine(t *testing.T) {
	if _, err := Extract("x", "per_line:per_line:raw"); err == nil {
		t.Error("expected error for nested per_line")
	}
}

// TestCompareStringComparators exercises the string comparator family.
func TestCompareStringComparators(t *testing.T) {
	tests := []struct {
		value, comparator, reference string
		want                         bool
	}{
		{"active", "eq", "active", true},
		{"inactive", "eq", "active", false},
		{"inactive", "neq", "active", true},
		{"linux 6.1", "contains", "linux", true},
		{"linux 6.1", "not_contains", "windows", true},
		{"enforcing", "in", "enforcing,permissive", true},
		{"disabled", "in", "enforcing,permissive", false},
		{"disabled", "not_in", "enforcing,permissive", true},
		{"warn error info", "contains_any", "error,fatal", true},
		{"all clear", "contains_any", "error,fatal", false},
		{"v6.1.22", "regex", `^v\d+\.\d+`, true},
	}
	for _, tt := range tests {
		ok, _, err := Compare(tt.value, tt.comparator, tt.reference)
		if err != nil {
			t.Fatalf("Compare(%q, %q, %q): %v", tt.value, tt.comparator, tt.reference, err)
		}
		if ok != tt.want {
			t.Errorf("Compare(%q, %q, %q) = %v, want %v", tt.value, tt.comparator, tt.reference, ok, tt.want)
		}
	}
}

// TestCompareIntComparators exercises the numeric comparator family and
// its non-numeric edge case.
func TestCompareIntComparators(t *testing.T) {
	tests := []struct {
		value, comparator, reference string
		want                         bool
	}{
		{"3", "int_eq", "3", true},
		{"90", "int_ge", "85", true},
		{"80", "int_ge", "85", false},
		{"5", "int_gt", "4", true},
		{"10", "int_le", "10", true},
		{"2", "int_lt", "3", true},
		// Non-numeric extracted value fails except int_eq against 0/empty.
		{"", "int_eq", "0", true},
		{"", "int_eq", "", true},
		{"abc", "int_ge", "1", false},
		{"abc", "int_eq", "1", false},
	}
	for _, tt := range tests {
		ok, _, err := Compare(tt.value, tt.comparator, tt.reference)
		if err != nil {
			t.Fatalf("Compare(%q, %q, %q): %v", tt.value, tt.comparator, tt.reference, err)
		}
		if ok != tt.want {
			t.Errorf("Compare(%q, %q, %q) = %v, want %v", tt.value, tt.comparator, tt.reference, ok, tt.want)
		}
	}
}

// TestComparePresence exercises empty / non_empty.
func TestComparePresence(t *testing.T) {
	if ok, _, _ := Compare("", "empty", ""); !ok {
		t.Error("empty value should satisfy empty")
	}
	if ok, _, _ := Compare("x", "empty", ""); ok {
		t.Error("non-empty value should not satisfy empty")
	}
	if ok, _, _ := Compare("x", "non_empty", ""); !ok {
		t.Error("non-empty value should satisfy non_empty")
	}
}

// TestCompareUnknownComparator verifies unknown comparators error.
func TestCompareUnknownComparator(t *testing.T) {
	if _, _, err := Compare("x", "approx", "y"); err == nil {
		t.Error("expected error for unknown comparator")
	}
}

// TestRenderReferencePresence verifies presence comparators render a
// readable expectation, never a blank string.
func TestRenderReferencePresence(t *testing.T) {
	if got := RenderReference("empty", ""); got != "Empty" {
		t.Errorf(`RenderReference(empty) = %q, want "Empty"`, got)
	}
	if got := RenderReference("non_empty", ""); got != "Not empty" {
		t.Errorf(`RenderReference(non_empty) = %q, want "Not empty"`, got)
	}
	if got := RenderReference("eq", "active"); got != "active" {
		t.Errorf("RenderReference(eq, active) = %q", got)
	}
}

// TestValidateLinesCountPipeline verifies the full extract+compare path.
func TestValidateLinesCountPipeline(t *testing.T) {
	r := Validate("eth0\nlo\ndocker0\n", "lines_count", "int_eq", "3", nil)
	if r.Verdict != VerdictOK {
		t.Errorf("verdict = %s, diagnostics: %s", r.Verdict, r.Diagnostics)
	}
	if r.Score != 1 {
		t.Errorf("score = %v, want 1", r.Score)
	}
}

// TestValidatePerLineAND verifies one failing line fails the whole
// check with a proportional score.
func TestValidatePerLineAND(t *testing.T) {
	r := Validate("ok\nok\nbad\nok", "per_line:raw", "eq", "ok", nil)
	if r.Verdict != VerdictNotOK {
		t.Errorf("verdict = %s, want NotOK", r.Verdict)
	}
	if r.Score != 0.75 {
		t.Errorf("score = %v, want 0.75", r.Score)
	}
	if len(r.PerLine) != 4 {
		t.Errorf("per-line detail count = %d", len(r.PerLine))
	}
	if !strings.Contains(r.Diagnostics, "3/4") {
		t.Errorf("diagnostics = %q", r.Diagnostics)
	}
}

// TestValidateRecoversBadRegex verifies a broken pattern becomes NotOK
// with diagnostics instead of propagating an error.
func TestValidateRecoversBadRegex(t *testing.T) {
	r := Validate("anything", "raw", "regex", "([unclosed", nil)
	if r.Verdict != VerdictNotOK {
		t.Errorf("verdict = %s, want NotOK", r.Verdict)
	}
	if r.Diagnostics == "" {
		t.Error("expected diagnostics for bad regex")
	}
}

// TestValidateNoComparatorFallsBackToLegacy verifies legacy validators
// run when no comparator is configured.
func TestValidateNoComparatorFallsBackToLegacy(t *testing.T) {
	legacy := &schema.LegacyValidator{Method: "contains", Value: "active"}
	r := Validate("service is active (running)", "", "", "", legacy)
	if r.Verdict != VerdictOK {
		t.Errorf("verdict = %s, diagnostics: %s", r.Verdict, r.Diagnostics)
	}
}

// TestValidateNothingConfiguredIsOK verifies a bare command counts as
// OK once it has run.
func TestValidateNothingConfiguredIsOK(t *testing.T) {
	r := Validate("whatever", "", "", "", nil)
	if r.Verdict != VerdictOK {
		t.Errorf("verdict = %s", r.Verdict)
	}
}

// TestSkippedResult verifies skipped synthesis carries the reason.
func TestSkippedResult(t *testing.T) {
	r := Skipped("output of check \"probe\" is empty")
	if r.Verdict != VerdictSkipped || r.Score != 1 {
		t.Errorf("r = %+v", r)
	}
	if r.Diagnostics == "" {
		t.Error("expected the reason in diagnostics")
	}
}
