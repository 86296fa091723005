// Package expand resolves {{name}} placeholders in check specs against a
// variable context, exploding a spec into siblings when a placeholder is
// bound to a list of candidate values.
package expand

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ormasoftchile/fleetcheck/pkg/schema"
)

// placeholderRe matches {{name}} placeholders in templated fields.
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Substitute replaces every {{name}} placeholder in text with the first
// bound value for that name. Unresolved placeholders degrade to the
// empty string rather than failing.
func Substitute(text string, ctx schema.VariableContext) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		return ctx.First(name)
	})
}

// Placeholders returns the distinct placeholder names referenced by the
// spec's templated fields (title, command, reference), in first-seen order.
func Placeholders(spec *schema.CheckSpec) []string {
	var names []string
	seen := make(map[string]bool)
	for _, text := range []string{spec.Title, spec.Command, spec.Reference} {
		for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				names = append(names, m[1])
			}
		}
	}
	return names
}

// Expand applies the variable context to every spec. Specs whose
// placeholders all resolve to single values are substituted in place;
// a spec referencing a list-valued variable of length > 1 is exploded
// into one sibling per element of the longest such list, each tagged
// with the parent id and the parent's display index.
//
// When several list variables co-occur only the longest list drives
// explosion (ties broken by variable name); the others contribute their
// first element. This is a documented simplification, not a cartesian
// product.
func Expand(specs []schema.CheckSpec, ctx schema.VariableContext) []schema.CheckSpec {
	out := make([]schema.CheckSpec, 0, len(specs))
	for _, spec := range specs {
		out = append(out, expandOne(spec, ctx)...)
	}
	return out
}

// expandOne expands a single spec against the context.
func expandOne(spec schema.CheckSpec, ctx schema.VariableContext) []schema.CheckSpec {
	driver, values := drivingList(&spec, ctx)
	if driver == "" {
		substituteFields(&spec, ctx)
		return []schema.CheckSpec{spec}
	}

	siblings := make([]schema.CheckSpec, 0, len(values))
	for i, value := range values {
		inst := spec
		inst.ID = fmt.Sprintf("%s_%d", spec.ID, i+1)
		inst.ExpandedFrom = spec.ID
		inst.ExpandedIndex = i
		inst.DisplayIndex = spec.DisplayIndex

		bound := ctx.Clone()
		bound[driver] = []string{value}
		substituteFields(&inst, bound)
		siblings = append(siblings, inst)
	}
	return siblings
}

// ExpandDynamic explodes a dynamic-reference spec into one instance per
// discovered value. Values are bound to the spec's dynamic variable name
// ({{item}} by default) on top of the surrounding context.
func ExpandDynamic(spec schema.CheckSpec, values []string, ctx schema.VariableContext) []schema.CheckSpec {
	as := "item"
	if spec.DynamicRef != nil {
		as = spec.DynamicRef.AsOrDefault()
	}

	instances := make([]schema.CheckSpec, 0, len(values))
	for i, value := range values {
		inst := spec
		inst.ID = fmt.Sprintf("%s_%d", spec.ID, i+1)
		inst.ExpandedFrom = spec.ID
		inst.ExpandedIndex = i
		inst.DisplayIndex = spec.DisplayIndex
		inst.DynamicRef = nil

		bound := ctx.Clone()
		bound[as] = []string{value}
		substituteFields(&inst, bound)
		instances = append(instances, inst)
	}
	return instances
}

// DistinctValues deduplicates and sorts the outputs collected from a
// referenced check across hosts, dropping blanks. Each surviving value
// becomes one dynamic instance.
func DistinctValues(outputs []string) []string {
	seen := make(map[string]bool)
	var values []string
	for _, out := range outputs {
		for _, line := range strings.Split(out, "\n") {
			v := strings.TrimSpace(line)
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			values = append(values, v)
		}
	}
	sort.Strings(values)
	return values
}

// drivingList picks the list variable that drives explosion: the longest
// list (length > 1) among the spec's placeholders, ties broken by name.
func drivingList(spec *schema.CheckSpec, ctx schema.VariableContext) (string, []string) {
	var driver string
	var values []string
	for _, name := range Placeholders(spec) {
		bound := ctx[name]
		if len(bound) <= 1 {
			continue
		}
		if len(bound) > len(values) || (len(bound) == len(values) && name < driver) {
			driver = name
			values = bound
		}
	}
	return driver, values
}

// substituteFields applies direct substitution across every templated field.
func substituteFields(spec *schema.CheckSpec, ctx schema.VariableContext) {
	spec.Title = Substitute(spec.Title, ctx)
	spec.Command = Substitute(spec.Command, ctx)
	spec.Reference = Substitute(spec.Reference, ctx)
}
