package validate

import (
	"strings"
	"testing"

	"github.com/ormasoftchile/fleetcheck/pkg/schema"
)

// TestLegacyExactMatchDiff verifies a mismatch reports the first
// differing line.
func TestLegacyExactMatchDiff(t *testing.T) {
	v := &schema.LegacyValidator{Method: "exact_match", Value: "line one\nline two"}
	r := ValidateLegacy(v, "line one\nline 2\n")
	if r.Verdict != VerdictNotOK {
		t.Fatalf("verdict = %s", r.Verdict)
	}
	if !strings.Contains(r.Diagnostics, "line 2") {
		t.Errorf("diagnostics = %q, should name the differing line", r.Diagnostics)
	}

	r = ValidateLegacy(v, " line one\nline two \n")
	if r.Verdict != VerdictOK {
		t.Errorf("trimmed match verdict = %s, diagnostics: %s", r.Verdict, r.Diagnostics)
	}
}

// TestLegacyComparisonThreshold verifies ">=90" against the first
// number found in the output.
func TestLegacyComparisonThreshold(t *testing.T) {
	v := &schema.LegacyValidator{Method: "comparison", Value: ">=90"}

	r := ValidateLegacy(v, "usage: 93%\n")
	if r.Verdict != VerdictOK {
		t.Errorf("93 >= 90 should pass: %s", r.Diagnostics)
	}
	r = ValidateLegacy(v, "usage: 71%\n")
	if r.Verdict != VerdictNotOK {
		t.Errorf("71 >= 90 should fail")
	}
	r = ValidateLegacy(v, "no numbers here")
	if r.Verdict != VerdictNotOK {
		t.Errorf("missing number should fail")
	}
}

// TestLegacyJSONStrictAndSubset verifies strict equality and subset
// scoring.
func TestLegacyJSONStrictAndSubset(t *testing.T) {
	strict := &schema.LegacyValidator{Method: "json", Value: `{"a":1,"b":"x"}`}
	r := ValidateLegacy(strict, `{"b":"x","a":1}`)
	if r.Verdict != VerdictOK {
		t.Errorf("strict equal verdict = %s: %s", r.Verdict, r.Diagnostics)
	}

	subset := &schema.LegacyValidator{Method: "json", Value: `{"a":1,"b":"x"}`, Subset: true}
	r = ValidateLegacy(subset, `{"a":1,"b":"y","c":true}`)
	if r.Verdict != VerdictNotOK {
		t.Errorf("partial subset verdict = %s", r.Verdict)
	}
	if r.Score != 0.5 {
		t.Errorf("subset score = %v, want 0.5", r.Score)
	}
}

// TestLegacyCustomPredicate verifies registered predicates run.
func TestLegacyCustomPredicate(t *testing.T) {
	RegisterPredicate("has_prompt", func(out string) bool {
		return strings.Contains(out, "$")
	})
	v := &schema.LegacyValidator{Method: "custom", Value: "has_prompt"}

	if r := ValidateLegacy(v, "user@host $ "); r.Verdict != VerdictOK {
		t.Errorf("predicate should pass: %s", r.Diagnostics)
	}
	if r := ValidateLegacy(v, "no prompt"); r.Verdict != VerdictNotOK {
		t.Error("predicate should fail")
	}

	unknown := &schema.LegacyValidator{Method: "custom", Value: "never_registered"}
	if r := ValidateLegacy(unknown, "x"); r.Verdict != VerdictNotOK {
		t.Error("unknown predicate should fail closed")
	}
}
