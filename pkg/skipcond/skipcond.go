// Package skipcond parses and evaluates inline skip-conditions.
//
// A skip-condition is free text of the form "refId: predicate" where the
// predicate is one of the keywords non_empty / empty or a literal string
// (quoted or bare). It references the output of an earlier check on the
// same host and, when satisfied, suppresses the current check there.
package skipcond

import (
	"fmt"
	"strings"
)

// Predicate is the kind of comparison a condition performs.
type Predicate int

const (
	// PredNonEmpty skips when the referenced output is non-empty.
	PredNonEmpty Predicate = iota
	// PredEmpty skips when the referenced output is empty.
	PredEmpty
	// PredLiteral skips when the referenced output equals the literal
	// (both sides trimmed).
	PredLiteral
)

// Condition is a parsed skip-condition.
type Condition struct {
	RefID   string
	Kind    Predicate
	Literal string // set when Kind == PredLiteral
	Raw     string
}

// tokenKind enumerates the tokens of the skip-condition mini-language.
type tokenKind int

const (
	tokIdent tokenKind = iota
	tokColon
	tokString
	tokEnd
)

type token struct {
	kind tokenKind
	text string
}

// tokenize splits the raw condition into identifier, colon and
// string/keyword tokens. Quoted strings keep their inner text.
func tokenize(raw string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(raw) {
		ch := raw[i]
		switch {
		case ch == ' ' || ch == '\t':
			i++
		case ch == ':':
			toks = append(toks, token{kind: tokColon, text: ":"})
			i++
		case ch == '"' || ch == '\'':
			quote := ch
			j := i + 1
			for j < len(raw) && raw[j] != quote {
				j++
			}
			if j >= len(raw) {
				return nil, fmt.Errorf("unterminated quote at offset %d", i)
			}
			toks = append(toks, token{kind: tokString, text: raw[i+1 : j]})
			i = j + 1
		default:
			j := i
			for j < len(raw) && raw[j] != ':' && raw[j] != ' ' && raw[j] != '\t' {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: raw[i:j]})
			i = j
		}
	}
	toks = append(toks, token{kind: tokEnd})
	return toks, nil
}

// Parse parses a skip-condition. The grammar has exactly three forms:
//
//	refId : non_empty
//	refId : empty
//	refId : <literal>
//
// Malformed input returns an error; callers log it and run the check
// anyway rather than aborting the job.
func Parse(raw string) (*Condition, error) {
	toks, err := tokenize(raw)
	if err != nil {
		return nil, err
	}
	if toks[0].kind != tokIdent || toks[0].text == "" {
		return nil, fmt.Errorf("expected check id before %q", raw)
	}
	if toks[1].kind != tokColon {
		return nil, fmt.Errorf("expected %q after check id", ":")
	}
	pred := toks[2]
	if pred.kind == tokEnd {
		return nil, fmt.Errorf("missing predicate after %q:", toks[0].text)
	}
	if toks[3].kind != tokEnd {
		return nil, fmt.Errorf("trailing tokens after predicate in %q", raw)
	}

	cond := &Condition{RefID: toks[0].text, Raw: raw}
	switch {
	case pred.kind == tokIdent && pred.text == "non_empty":
		cond.Kind = PredNonEmpty
	case pred.kind == tokIdent && pred.text == "empty":
		cond.Kind = PredEmpty
	default:
		cond.Kind = PredLiteral
		cond.Literal = pred.text
	}
	return cond, nil
}

// ShouldSkip evaluates the condition against the referenced check's
// output (imperative mode). Outputs are trimmed before comparison.
func (c *Condition) ShouldSkip(refOutput string) bool {
	trimmed := strings.TrimSpace(refOutput)
	switch c.Kind {
	case PredNonEmpty:
		return trimmed != ""
	case PredEmpty:
		return trimmed == ""
	default:
		return trimmed == c.Literal
	}
}

// Reason renders the human-readable skip reason recorded on synthetic
// Skipped results.
func (c *Condition) Reason() string {
	switch c.Kind {
	case PredNonEmpty:
		return fmt.Sprintf("skipped: output of check %q is non-empty", c.RefID)
	case PredEmpty:
		return fmt.Sprintf("skipped: output of check %q is empty", c.RefID)
	default:
		return fmt.Sprintf("skipped: output of check %q equals %q", c.RefID, c.Literal)
	}
}

func (p Predicate) String() string {
	switch p {
	case PredNonEmpty:
		return "non_empty"
	case PredEmpty:
		return "empty"
	default:
		return "literal"
	}
}
