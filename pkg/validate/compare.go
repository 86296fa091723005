package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Compare applies a comparator to an extracted value and a reference
// value. It returns the outcome plus a human-readable detail line for
// diagnostics. A broken comparator (bad regex, non-numeric reference,
// unknown name) returns an error that the caller records as NotOK.
func Compare(value, comparator, reference string) (bool, string, error) {
	v := strings.TrimSpace(value)
	ref := strings.TrimSpace(reference)

	switch comparator {
	case "eq":
		return v == ref, fmt.Sprintf("%q == %q", v, ref), nil
	case "neq":
		return v != ref, fmt.Sprintf("%q != %q", v, ref), nil
	case "contains":
		return strings.Contains(v, ref), fmt.Sprintf("%q contains %q", v, ref), nil
	case "not_contains":
		return !strings.Contains(v, ref), fmt.Sprintf("%q does not contain %q", v, ref), nil
	case "regex":
		re, err := regexp.Compile(ref)
		if err != nil {
			return false, "", fmt.Errorf("comparator regex %q: %w", ref, err)
		}
		loc := re.FindStringIndex(v)
		if loc == nil {
			return false, fmt.Sprintf("%q does not match /%s/", v, ref), nil
		}
		return true, fmt.Sprintf("%q matches /%s/ at [%d:%d]", v, ref, loc[0], loc[1]), nil
	case "in":
		return containsValue(splitList(ref), v), fmt.Sprintf("%q in {%s}", v, ref), nil
	case "not_in":
		return !containsValue(splitList(ref), v), fmt.Sprintf("%q not in {%s}", v, ref), nil
	case "contains_any":
		for _, candidate := range splitList(ref) {
			if candidate != "" && strings.Contains(v, candidate) {
				return true, fmt.Sprintf("%q contains %q", v, candidate), nil
			}
		}
		return false, fmt.Sprintf("%q contains none of {%s}", v, ref), nil

	case "int_eq", "int_ge", "int_gt", "int_le", "int_lt":
		return compareInt(v, comparator, ref)

	case "empty":
		return v == "", fmt.Sprintf("value %q is empty", v), nil
	case "non_empty":
		return v != "", fmt.Sprintf("value %q is non-empty", v), nil

	default:
		return false, "", fmt.Errorf("unknown comparator %q", comparator)
	}
}

// compareInt handles the numeric comparator family. A non-numeric
// extracted value fails every numeric comparison except int_eq against
// reference 0 (or empty reference), where a blank output counts as zero.
func compareInt(value, comparator, reference string) (bool, string, error) {
	refNum := 0
	if reference != "" {
		var err error
		refNum, err = strconv.Atoi(reference)
		if err != nil {
			return false, "", fmt.Errorf("comparator %s: non-numeric reference %q", comparator, reference)
		}
	}

	num, err := strconv.Atoi(value)
	if err != nil {
		if comparator == "int_eq" && refNum == 0 {
			return value == "", fmt.Sprintf("%q treated as 0 == %d", value, refNum), nil
		}
		return false, fmt.Sprintf("%q is not numeric", value), nil
	}

	var ok bool
	var op string
	switch comparator {
	case "int_eq":
		ok, op = num == refNum, "=="
	case "int_ge":
		ok, op = num >= refNum, ">="
	case "int_gt":
		ok, op = num > refNum, ">"
	case "int_le":
		ok, op = num <= refNum, "<="
	case "int_lt":
		ok, op = num < refNum, "<"
	}
	return ok, fmt.Sprintf("%d %s %d", num, op, refNum), nil
}

// splitList splits a comma-separated reference into trimmed candidates.
func splitList(ref string) []string {
	parts := strings.Split(ref, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func containsValue(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// RenderReference renders the expected value for reports. Presence
// comparators render as the words "Empty" / "Not empty", never a blank
// string.
func RenderReference(comparator, reference string) string {
	switch comparator {
	case "empty":
		return "Empty"
	case "non_empty":
		return "Not empty"
	default:
		return reference
	}
}
