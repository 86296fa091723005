package validate

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/ormasoftchile/fleetcheck/pkg/schema"
)

// comparisonRe parses legacy comparison strings like ">=90" or "!= 3".
var comparisonRe = regexp.MustCompile(`^\s*(<=|>=|==|!=|<|>)\s*(-?\d+(?:\.\d+)?)\s*$`)

// numberRe finds the first numeric token in raw output.
var numberRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

var (
	customMu         sync.RWMutex
	customPredicates = make(map[string]func(string) bool)
)

// RegisterPredicate installs a named custom predicate for legacy
// validators with method "custom". Re-registering a name replaces it.
func RegisterPredicate(name string, fn func(string) bool) {
	customMu.Lock()
	defer customMu.Unlock()
	customPredicates[name] = fn
}

// ValidateLegacy applies a legacy single-method validator to raw output.
func ValidateLegacy(v *schema.LegacyValidator, raw string) *Result {
	trimmed := strings.TrimSpace(raw)

	switch v.Method {
	case "exact_match":
		if trimmed == strings.TrimSpace(v.Value) {
			return &Result{Verdict: VerdictOK, Extracted: trimmed, Score: 1, Diagnostics: "exact match"}
		}
		return &Result{
			Verdict:     VerdictNotOK,
			Extracted:   trimmed,
			Diagnostics: firstDifference(trimmed, strings.TrimSpace(v.Value)),
		}

	case "contains":
		ok := strings.Contains(raw, v.Value)
		r := &Result{Extracted: trimmed, Diagnostics: fmt.Sprintf("output contains %q: %v", v.Value, ok)}
		if ok {
			r.Verdict, r.Score = VerdictOK, 1
		} else {
			r.Verdict = VerdictNotOK
		}
		return r

	case "regex":
		re, err := regexp.Compile(v.Value)
		if err != nil {
			return &Result{Verdict: VerdictNotOK, Extracted: trimmed, Diagnostics: fmt.Sprintf("invalid regex %q: %v", v.Value, err)}
		}
		loc := re.FindStringIndex(raw)
		if loc == nil {
			return &Result{Verdict: VerdictNotOK, Extracted: trimmed, Diagnostics: fmt.Sprintf("output does not match /%s/", v.Value)}
		}
		return &Result{Verdict: VerdictOK, Extracted: trimmed, Score: 1, Diagnostics: fmt.Sprintf("matched /%s/ at [%d:%d]", v.Value, loc[0], loc[1])}

	case "comparison":
		return legacyComparison(v.Value, raw)

	case "json":
		return legacyJSON(v.Value, raw, v.Subset)

	case "custom":
		customMu.RLock()
		fn, ok := customPredicates[v.Value]
		customMu.RUnlock()
		if !ok {
			return &Result{Verdict: VerdictNotOK, Extracted: trimmed, Diagnostics: fmt.Sprintf("unknown custom predicate %q", v.Value)}
		}
		if fn(raw) {
			return &Result{Verdict: VerdictOK, Extracted: trimmed, Score: 1, Diagnostics: fmt.Sprintf("custom predicate %q passed", v.Value)}
		}
		return &Result{Verdict: VerdictNotOK, Extracted: trimmed, Diagnostics: fmt.Sprintf("custom predicate %q failed", v.Value)}

	default:
		return &Result{Verdict: VerdictNotOK, Extracted: trimmed, Diagnostics: fmt.Sprintf("unknown validator method %q", v.Method)}
	}
}

// legacyComparison evaluates a numeric comparison string like ">=90"
// against the first number found in the output.
func legacyComparison(spec, raw string) *Result {
	m := comparisonRe.FindStringSubmatch(spec)
	if m == nil {
		return &Result{Verdict: VerdictNotOK, Diagnostics: fmt.Sprintf("malformed comparison %q", spec)}
	}
	op := m[1]
	threshold, _ := strconv.ParseFloat(m[2], 64)

	numTok := numberRe.FindString(raw)
	if numTok == "" {
		return &Result{Verdict: VerdictNotOK, Diagnostics: "no numeric value in output"}
	}
	num, _ := strconv.ParseFloat(numTok, 64)

	var ok bool
	switch op {
	case "<":
		ok = num < threshold
	case "<=":
		ok = num <= threshold
	case ">":
		ok = num > threshold
	case ">=":
		ok = num >= threshold
	case "==":
		ok = num == threshold
	case "!=":
		ok = num != threshold
	}

	r := &Result{
		Extracted:   numTok,
		Diagnostics: fmt.Sprintf("%v %s %v", num, op, threshold),
	}
	if ok {
		r.Verdict, r.Score = VerdictOK, 1
	} else {
		r.Verdict = VerdictNotOK
	}
	return r
}

// legacyJSON compares output as JSON: strict deep equality, or — with
// subset — every expected key must appear with an equal value. Subset
// scores proportionally to the matched keys.
func legacyJSON(expectedSrc, raw string, subset bool) *Result {
	var expected, actual interface{}
	if err := json.Unmarshal([]byte(expectedSrc), &expected); err != nil {
		return &Result{Verdict: VerdictNotOK, Diagnostics: fmt.Sprintf("invalid expected JSON: %v", err)}
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &actual); err != nil {
		return &Result{Verdict: VerdictNotOK, Diagnostics: fmt.Sprintf("output is not valid JSON: %v", err)}
	}

	if !subset {
		if reflect.DeepEqual(expected, actual) {
			return &Result{Verdict: VerdictOK, Score: 1, Diagnostics: "JSON documents are equal"}
		}
		return &Result{Verdict: VerdictNotOK, Diagnostics: "JSON documents differ"}
	}

	expectedMap, ok1 := expected.(map[string]interface{})
	actualMap, ok2 := actual.(map[string]interface{})
	if !ok1 || !ok2 {
		if reflect.DeepEqual(expected, actual) {
			return &Result{Verdict: VerdictOK, Score: 1, Diagnostics: "JSON values are equal"}
		}
		return &Result{Verdict: VerdictNotOK, Diagnostics: "subset compare requires JSON objects"}
	}

	matched := 0
	var missing []string
	for key, want := range expectedMap {
		if got, present := actualMap[key]; present && reflect.DeepEqual(want, got) {
			matched++
		} else if len(missing) < 5 {
			missing = append(missing, key)
		}
	}

	r := &Result{Score: 1}
	if len(expectedMap) > 0 {
		r.Score = float64(matched) / float64(len(expectedMap))
	}
	if matched == len(expectedMap) {
		r.Verdict = VerdictOK
		r.Diagnostics = fmt.Sprintf("all %d expected keys present", len(expectedMap))
	} else {
		r.Verdict = VerdictNotOK
		r.Diagnostics = fmt.Sprintf("%d/%d expected keys matched; differing: %s", matched, len(expectedMap), strings.Join(missing, ", "))
	}
	return r
}

// firstDifference reports the first line where two outputs diverge.
func firstDifference(got, want string) string {
	gotLines := strings.Split(got, "\n")
	wantLines := strings.Split(want, "\n")
	n := len(gotLines)
	if len(wantLines) > n {
		n = len(wantLines)
	}
	for i := 0; i < n; i++ {
		var g, w string
		if i < len(gotLines) {
			g = gotLines[i]
		}
		if i < len(wantLines) {
			w = wantLines[i]
		}
		if g != w {
			return fmt.Sprintf("line %d: got %q, want %q", i+1, g, w)
		}
	}
	return "outputs differ"
}
