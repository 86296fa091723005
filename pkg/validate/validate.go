package validate

import (
	"fmt"
	"strings"

	"github.com/ormasoftchile/fleetcheck/pkg/schema"
)

// Verdict is the outcome of validating one command result.
type Verdict string

const (
	VerdictOK      Verdict = "OK"
	VerdictNotOK   Verdict = "NotOK"
	VerdictSkipped Verdict = "Skipped"
)

// LineResult is the per-line detail retained for per_line extractions.
type LineResult struct {
	Value  string `json:"value"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Result is one validation outcome: the verdict, the extracted value, a
// normalized score (binary for deterministic methods, proportional for
// fuzzy ones), and structured diagnostics.
type Result struct {
	Verdict     Verdict      `json:"verdict"`
	Extracted   string       `json:"extracted,omitempty"`
	PerLine     []LineResult `json:"per_line,omitempty"`
	Score       float64      `json:"score"`
	Diagnostics string       `json:"diagnostics,omitempty"`
}

// Validate turns raw stdout into a verdict using the extract+comparator
// pair, falling back to the legacy validator when no comparator is set.
// Validation errors (bad regex, non-numeric comparison, unknown method)
// are recovered per-command as NotOK with the error in diagnostics —
// they never propagate up.
func Validate(stdout, extractMethod, comparator, reference string, legacy *schema.LegacyValidator) *Result {
	if comparator == "" {
		if legacy != nil {
			return ValidateLegacy(legacy, stdout)
		}
		// Nothing to validate against: command ran, that is all we know.
		ext, _ := Extract(stdout, extractMethod)
		r := &Result{Verdict: VerdictOK, Score: 1}
		if ext != nil {
			r.Extracted = ext.Value
		}
		r.Diagnostics = "no comparator configured; command execution counts as OK"
		return r
	}

	ext, err := Extract(stdout, extractMethod)
	if err != nil {
		return &Result{Verdict: VerdictNotOK, Diagnostics: err.Error()}
	}

	if ext.PerLine {
		return validatePerLine(ext.Lines, comparator, reference)
	}

	ok, detail, err := Compare(ext.Value, comparator, reference)
	if err != nil {
		return &Result{Verdict: VerdictNotOK, Extracted: ext.Value, Diagnostics: err.Error()}
	}
	r := &Result{Extracted: ext.Value, Diagnostics: detail}
	if ok {
		r.Verdict = VerdictOK
		r.Score = 1
	} else {
		r.Verdict = VerdictNotOK
	}
	return r
}

// validatePerLine compares every extracted line; the overall verdict is
// the AND across lines and the score is the passing fraction.
func validatePerLine(lines []string, comparator, reference string) *Result {
	r := &Result{Extracted: strings.Join(lines, "\n")}
	if len(lines) == 0 {
		// No lines to check: vacuously OK, mirrors AND over an empty set.
		r.Verdict = VerdictOK
		r.Score = 1
		r.Diagnostics = "no non-blank lines"
		return r
	}

	passed := 0
	var failures []string
	for i, line := range lines {
		ok, detail, err := Compare(line, comparator, reference)
		if err != nil {
			return &Result{Verdict: VerdictNotOK, Extracted: r.Extracted, Diagnostics: err.Error()}
		}
		r.PerLine = append(r.PerLine, LineResult{Value: line, Passed: ok, Detail: detail})
		if ok {
			passed++
		} else if len(failures) < 5 {
			failures = append(failures, fmt.Sprintf("line %d: %s", i+1, detail))
		}
	}

	r.Score = float64(passed) / float64(len(lines))
	if passed == len(lines) {
		r.Verdict = VerdictOK
		r.Diagnostics = fmt.Sprintf("all %d lines passed", len(lines))
	} else {
		r.Verdict = VerdictNotOK
		r.Diagnostics = fmt.Sprintf("%d/%d lines passed; %s", passed, len(lines), strings.Join(failures, "; "))
	}
	return r
}

// Skipped synthesizes the result recorded for a command suppressed by a
// skip condition. Skipped commands never enter extract+compare.
func Skipped(reason string) *Result {
	return &Result{Verdict: VerdictSkipped, Score: 1, Diagnostics: reason}
}
