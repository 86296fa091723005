package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ormasoftchile/fleetcheck/pkg/skipcond"
)

// ValidationError represents a single validation finding with location context.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // JSON-path-like location (e.g., "checks[2].skip_when")
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// ValidateFile performs the full 3-phase validation pipeline on a checklist file.
// Phase 1: Structural (strict YAML decode)
// Phase 2: Semantic (JSON Schema validation)
// Phase 3: Domain (custom Go rules)
func ValidateFile(path string) (*Checklist, []*ValidationError) {
	cl, err := LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{{
			Phase:    "structural",
			Message:  err.Error(),
			Severity: "error",
		}}
	}
	return cl, Validate(cl)
}

// Validate runs the semantic and domain phases on a parsed checklist.
// Warnings are included; the checklist is usable when no finding has
// severity "error".
func Validate(cl *Checklist) []*ValidationError {
	var all []*ValidationError
	all = append(all, validateSemantic(cl)...)
	all = append(all, ValidateDomain(cl)...)
	return all
}

// HasErrors reports whether any finding has severity "error".
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == "error" {
			return true
		}
	}
	return false
}

// validateSemantic validates the checklist against the generated JSON Schema.
func validateSemantic(cl *Checklist) []*ValidationError {
	data, err := json.Marshal(cl)
	if err != nil {
		return semanticError(fmt.Sprintf("marshal for schema validation: %v", err))
	}

	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return semanticError(fmt.Sprintf("generate schema: %v", err))
	}

	var schemaDoc interface{}
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return semanticError(fmt.Sprintf("unmarshal schema: %v", err))
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("checklist-v1.json", schemaDoc); err != nil {
		return semanticError(fmt.Sprintf("add schema resource: %v", err))
	}
	sch, err := c.Compile("checklist-v1.json")
	if err != nil {
		return semanticError(fmt.Sprintf("compile schema: %v", err))
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return semanticError(fmt.Sprintf("unmarshal document: %v", err))
	}

	if err := sch.Validate(doc); err != nil {
		var errs []*ValidationError
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			for _, cause := range flattenValidationErrors(ve) {
				errs = append(errs, &ValidationError{
					Phase:    "semantic",
					Path:     strings.Join(cause.InstanceLocation, "/"),
					Message:  fmt.Sprintf("%v", cause.ErrorKind),
					Severity: "error",
				})
			}
		} else {
			errs = semanticError(err.Error())
		}
		return errs
	}
	return nil
}

func semanticError(msg string) []*ValidationError {
	return []*ValidationError{{Phase: "semantic", Message: msg, Severity: "error"}}
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// knownComparators mirrors the comparator set of the validation engine.
var knownComparators = map[string]bool{
	"eq": true, "neq": true, "contains": true, "not_contains": true,
	"regex": true, "in": true, "not_in": true, "contains_any": true,
	"int_eq": true, "int_ge": true, "int_gt": true, "int_le": true, "int_lt": true,
	"empty": true, "non_empty": true,
}

// ValidateDomain performs Phase 3 domain-level validation.
// Returns a slice of findings; empty means valid.
func ValidateDomain(cl *Checklist) []*ValidationError {
	var errs []*ValidationError

	if cl.APIVersion != "checklist/v1" {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "apiVersion",
			Message:  fmt.Sprintf("unrecognized apiVersion %q, expected %q", cl.APIVersion, "checklist/v1"),
			Severity: "error",
		})
	}

	position := make(map[string]int, len(cl.Checks))
	for i, c := range cl.Checks {
		if prev, dup := position[c.ID]; dup {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     fmt.Sprintf("checks[%d].id", i),
				Message:  fmt.Sprintf("duplicate check id %q (first declared at checks[%d])", c.ID, prev),
				Severity: "error",
			})
			continue
		}
		position[c.ID] = i
	}

	for i, c := range cl.Checks {
		path := fmt.Sprintf("checks[%d]", i)

		// Multiple simultaneous skip conditions have no defined combined
		// semantics (AND vs OR) — reject rather than guess.
		if len(c.SkipWhen) > 1 {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     path + ".skip_when",
				Message:  fmt.Sprintf("check %q declares %d skip conditions; only one is supported", c.ID, len(c.SkipWhen)),
				Severity: "error",
			})
		}

		if raw := c.SkipCondition(); raw != "" {
			cond, err := skipcond.Parse(raw)
			if err != nil {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     path + ".skip_when",
					Message:  fmt.Sprintf("malformed skip condition %q: %v (the check will always run)", raw, err),
					Severity: "warning",
				})
			} else if refPos, ok := position[cond.RefID]; !ok {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     path + ".skip_when",
					Message:  fmt.Sprintf("skip condition references unknown check %q (the check will always run)", cond.RefID),
					Severity: "warning",
				})
			} else if refPos >= i {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     path + ".skip_when",
					Message:  fmt.Sprintf("skip condition references check %q which does not run earlier (the check will always run)", cond.RefID),
					Severity: "warning",
				})
			}
		}

		if c.Comparator != "" && !knownComparators[c.Comparator] {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     path + ".comparator",
				Message:  fmt.Sprintf("unknown comparator %q (the check will validate as NotOK)", c.Comparator),
				Severity: "warning",
			})
		}
		if c.Comparator != "" && c.Validator != nil {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     path + ".validator",
				Message:  fmt.Sprintf("check %q sets both a comparator and a legacy validator; the comparator wins", c.ID),
				Severity: "warning",
			})
		}
		if c.Comparator == "" && c.Validator == nil {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     path,
				Message:  fmt.Sprintf("check %q has no comparator and no validator; its output is never validated", c.ID),
				Severity: "warning",
			})
		}

		// Dynamic references form a DAG: dependent → source. The source
		// must exist, must not be the check itself, and must not be
		// dynamic too (single-stage expansion only).
		if d := c.DynamicRef; d != nil {
			srcIdx, ok := position[d.Source]
			switch {
			case !ok:
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     path + ".dynamic_ref.source",
					Message:  fmt.Sprintf("dynamic reference to unknown check %q", d.Source),
					Severity: "error",
				})
			case d.Source == c.ID:
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     path + ".dynamic_ref.source",
					Message:  fmt.Sprintf("check %q dynamically references itself", c.ID),
					Severity: "error",
				})
			case cl.Checks[srcIdx].DynamicRef != nil:
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     path + ".dynamic_ref.source",
					Message:  fmt.Sprintf("dynamic reference source %q is itself dynamic; chained dynamic expansion is not supported", d.Source),
					Severity: "error",
				})
			}
		}
	}

	return errs
}

// ValidateInventory checks a host inventory for usable entries.
func ValidateInventory(inv *Inventory) []*ValidationError {
	var errs []*ValidationError
	seen := make(map[string]int, len(inv.Hosts))
	for i, h := range inv.Hosts {
		path := fmt.Sprintf("hosts[%d]", i)
		if h.Address == "" {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     path + ".address",
				Message:  "host has no address",
				Severity: "error",
			})
			continue
		}
		if prev, dup := seen[h.Address]; dup {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     path + ".address",
				Message:  fmt.Sprintf("duplicate host %q (first declared at hosts[%d])", h.Address, prev),
				Severity: "error",
			})
		}
		seen[h.Address] = i

		if !h.Local && h.Credential.User == "" {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     path + ".credential.user",
				Message:  fmt.Sprintf("remote host %q has no login user", h.Address),
				Severity: "error",
			})
		}
		if h.Local && h.Elevated != nil {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     path + ".elevated",
				Message:  fmt.Sprintf("local host %q runs unprivileged; elevated credential is ignored", h.Address),
				Severity: "warning",
			})
		}
	}
	return errs
}
