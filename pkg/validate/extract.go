// Package validate implements the two-stage extract+compare validation
// of raw command output, plus the legacy single-method validators kept
// for older checklists.
package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Extraction is the comparable value reduced from raw output. PerLine
// extractions carry one value per non-blank input line.
type Extraction struct {
	Value   string
	Lines   []string
	PerLine bool
}

// Extract reduces raw output to a comparable value.
//
// Methods: raw (or empty), first_line, lines_count, regex:(pattern),
// field:N, per_line:<sub-method>.
func Extract(raw, method string) (*Extraction, error) {
	switch {
	case method == "" || method == "raw":
		return &Extraction{Value: strings.TrimSpace(raw)}, nil

	case method == "first_line":
		for _, line := range strings.Split(raw, "\n") {
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				return &Extraction{Value: trimmed}, nil
			}
		}
		return &Extraction{Value: ""}, nil

	case method == "lines_count":
		return &Extraction{Value: strconv.Itoa(len(nonBlankLines(raw)))}, nil

	case strings.HasPrefix(method, "regex:"):
		pattern := strings.TrimPrefix(method, "regex:")
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("extract regex %q: %w", pattern, err)
		}
		m := re.FindStringSubmatch(raw)
		switch {
		case m == nil:
			return &Extraction{Value: ""}, nil
		case len(m) > 1:
			return &Extraction{Value: m[1]}, nil
		default:
			return &Extraction{Value: m[0]}, nil
		}

	case strings.HasPrefix(method, "field:"):
		n, err := strconv.Atoi(strings.TrimPrefix(method, "field:"))
		if err != nil || n < 1 {
			return nil, fmt.Errorf("extract field: bad index %q", strings.TrimPrefix(method, "field:"))
		}
		first, _ := Extract(raw, "first_line")
		fields := strings.Fields(first.Value)
		if n > len(fields) {
			return &Extraction{Value: ""}, nil
		}
		return &Extraction{Value: fields[n-1]}, nil

	case strings.HasPrefix(method, "per_line:"):
		sub := strings.TrimPrefix(method, "per_line:")
		if strings.HasPrefix(sub, "per_line:") {
			return nil, fmt.Errorf("extract per_line: nested per_line is not supported")
		}
		var values []string
		for _, line := range nonBlankLines(raw) {
			ext, err := Extract(line, sub)
			if err != nil {
				return nil, err
			}
			values = append(values, ext.Value)
		}
		return &Extraction{Lines: values, PerLine: true}, nil

	default:
		return nil, fmt.Errorf("unknown extract method %q", method)
	}
}

// nonBlankLines splits raw output and drops blank lines.
func nonBlankLines(raw string) []string {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
