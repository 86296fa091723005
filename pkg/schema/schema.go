// Package schema defines the Go struct types for the checklist and
// inventory YAML documents and provides strict YAML parsing.
package schema

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Checklist is the top-level document defining an ordered list of checks
// to run against a fleet of hosts.
type Checklist struct {
	APIVersion string               `yaml:"apiVersion"     json:"apiVersion" jsonschema:"required,enum=checklist/v1"`
	Meta       Meta                 `yaml:"meta"           json:"meta"       jsonschema:"required"`
	Vars       map[string]ValueList `yaml:"vars,omitempty" json:"vars,omitempty"`
	Checks     []CheckSpec          `yaml:"checks"         json:"checks"     jsonschema:"required,minItems=1"`
}

// Meta contains checklist metadata.
type Meta struct {
	Name        string `yaml:"name"                  json:"name" jsonschema:"required"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// CheckSpec is the declarative description of one verifiable command.
//
// The command (and title/reference) may contain {{name}} placeholders
// resolved from the checklist vars. A check validates its output either
// through the extract+comparator pair or, when no comparator is set,
// through the legacy Validator block.
type CheckSpec struct {
	ID         string `yaml:"id"                   json:"id"      jsonschema:"required,pattern=^[A-Za-z0-9_.-]+$"`
	Title      string `yaml:"title"                json:"title"   jsonschema:"required"`
	Command    string `yaml:"command"              json:"command" jsonschema:"required"`
	Extract    string `yaml:"extract,omitempty"    json:"extract,omitempty"`
	Comparator string `yaml:"comparator,omitempty" json:"comparator,omitempty"`
	Reference  string `yaml:"reference,omitempty"  json:"reference,omitempty"`

	// SkipWhen holds inline skip-conditions of the form "refId: predicate".
	// More than one entry is rejected at validation time — combined
	// AND/OR semantics are deliberately undefined.
	SkipWhen ValueList `yaml:"skip_when,omitempty" json:"skip_when,omitempty"`

	Validator  *LegacyValidator `yaml:"validator,omitempty"   json:"validator,omitempty"`
	DynamicRef *DynamicRef      `yaml:"dynamic_ref,omitempty" json:"dynamic_ref,omitempty"`

	Critical       bool `yaml:"critical,omitempty"        json:"critical,omitempty"`
	TimeoutSeconds int  `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty" jsonschema:"minimum=0"`

	// Expansion bookkeeping, set by the variable expander. An exploded
	// instance keeps its parent's display index so progress and
	// aggregation stay aligned to the pre-expansion count.
	DisplayIndex  int    `yaml:"-" json:"displayIndex,omitempty"`
	ExpandedFrom  string `yaml:"-" json:"_expandedFrom,omitempty"`
	ExpandedIndex int    `yaml:"-" json:"_expandedIndex,omitempty"`
}

// SkipCondition returns the single inline skip-condition, or "" when none
// is declared. Multiple entries are a validation error; callers that see
// one anyway use only the first.
func (c *CheckSpec) SkipCondition() string {
	if len(c.SkipWhen) == 0 {
		return ""
	}
	return c.SkipWhen[0]
}

// DynamicRef declares a result-driven expansion: after the source check
// has run on all hosts, this check explodes into one instance per
// distinct value observed in the source's output field.
type DynamicRef struct {
	Source string `yaml:"source"          json:"source" jsonschema:"required"`
	Field  string `yaml:"field,omitempty" json:"field,omitempty" jsonschema:"enum=stdout,enum=stderr,enum=extracted"`
	As     string `yaml:"as,omitempty"    json:"as,omitempty"`
}

// FieldOrDefault returns the output field to collect, defaulting to stdout.
func (d *DynamicRef) FieldOrDefault() string {
	if d.Field == "" {
		return "stdout"
	}
	return d.Field
}

// AsOrDefault returns the variable name each discovered value binds to.
func (d *DynamicRef) AsOrDefault() string {
	if d.As == "" {
		return "item"
	}
	return d.As
}

// LegacyValidator is the pre-extract/comparator validation block kept for
// older checklists: a single method applied to the raw output.
type LegacyValidator struct {
	Method string `yaml:"method"           json:"method" jsonschema:"required,enum=exact_match,enum=contains,enum=regex,enum=comparison,enum=json,enum=custom"`
	Value  string `yaml:"value"            json:"value"  jsonschema:"required"`
	Subset bool   `yaml:"subset,omitempty" json:"subset,omitempty"`
}

// ValueList is a YAML scalar-or-sequence: `x: v` and `x: [a, b]` both
// decode to a []string.
type ValueList []string

// UnmarshalYAML accepts either a single scalar or a sequence of scalars.
func (v *ValueList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*v = ValueList{s}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*v = ValueList(list)
		return nil
	default:
		return fmt.Errorf("expected scalar or sequence, got %v", node.Kind)
	}
}

// VariableContext maps a variable name to its candidate values. A single
// value is a list of length one; a list of length > 1 drives explosion.
type VariableContext map[string][]string

// Variables builds the VariableContext declared by the checklist.
func (cl *Checklist) Variables() VariableContext {
	ctx := make(VariableContext, len(cl.Vars))
	for name, values := range cl.Vars {
		ctx[name] = append([]string(nil), values...)
	}
	return ctx
}

// First returns the first candidate value for a name, or "" when the
// name is unbound or bound to an empty list.
func (ctx VariableContext) First(name string) string {
	if values, ok := ctx[name]; ok && len(values) > 0 {
		return values[0]
	}
	return ""
}

// Clone returns a deep copy; expansion binds per-instance overrides
// without mutating the shared context.
func (ctx VariableContext) Clone() VariableContext {
	out := make(VariableContext, len(ctx))
	for name, values := range ctx {
		out[name] = append([]string(nil), values...)
	}
	return out
}

// Inventory is the host inventory document.
type Inventory struct {
	Hosts []Host `yaml:"hosts" json:"hosts" jsonschema:"required,minItems=1"`
}

// Host is one target machine and its credentials. Local hosts run
// unprivileged and ignore the elevated credential.
type Host struct {
	Address    string      `yaml:"address"            json:"address" jsonschema:"required"`
	Port       string      `yaml:"port,omitempty"     json:"port,omitempty"`
	Credential Credential  `yaml:"credential"         json:"credential"`
	Elevated   *Credential `yaml:"elevated,omitempty" json:"elevated,omitempty"`
	Local      bool        `yaml:"local,omitempty"    json:"local,omitempty"`
}

// PortOrDefault returns the SSH port, defaulting to 22.
func (h *Host) PortOrDefault() string {
	if h.Port == "" {
		return "22"
	}
	return h.Port
}

// Credential is a login identity for a host.
type Credential struct {
	User     string `yaml:"user"               json:"user"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty" json:"key_file,omitempty"`
}

// LoadFile reads and parses a checklist YAML file with strict
// unknown-field rejection (yaml.v3 KnownFields).
func LoadFile(path string) (*Checklist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checklist: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a checklist from an io.Reader with strict unknown-field
// rejection.
func Load(r io.Reader) (*Checklist, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cl Checklist
	if err := dec.Decode(&cl); err != nil {
		return nil, fmt.Errorf("decode checklist: %w", err)
	}
	cl.assignDisplayIndexes()
	return &cl, nil
}

// LoadInventoryFile reads and parses a host inventory YAML file.
func LoadInventoryFile(path string) (*Inventory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open inventory: %w", err)
	}
	defer f.Close()
	return LoadInventory(f)
}

// LoadInventory parses an inventory from an io.Reader. Environment
// references (${VAR}) are expanded first so credentials can stay out of
// the file itself.
func LoadInventory(r io.Reader) (*Inventory, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
	dec.KnownFields(true)

	var inv Inventory
	if err := dec.Decode(&inv); err != nil {
		return nil, fmt.Errorf("decode inventory: %w", err)
	}
	return &inv, nil
}

// assignDisplayIndexes numbers checks in document order, starting at 1.
// Display indexes survive expansion and drive progress and aggregation.
func (cl *Checklist) assignDisplayIndexes() {
	for i := range cl.Checks {
		if cl.Checks[i].DisplayIndex == 0 {
			cl.Checks[i].DisplayIndex = i + 1
		}
	}
}
