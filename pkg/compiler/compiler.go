// Package compiler turns expanded check specs and a host inventory into
// a deterministic executable task graph for the execution backend.
package compiler

import (
	"fmt"
	"strings"

	"github.com/ormasoftchile/fleetcheck/pkg/schema"
	"github.com/ormasoftchile/fleetcheck/pkg/skipcond"
)

// Task is one compiled check: a shell command plus the metadata the
// backend and the aggregator need. The handle is the stable name under
// which the task's result is registered for skip-condition references.
type Task struct {
	SpecID         string
	Handle         string
	Title          string
	Command        string
	Extract        string
	Comparator     string
	Reference      string
	Validator      *schema.LegacyValidator
	DisplayIndex   int
	ExpandedFrom   string
	ExpandedIndex  int
	Critical       bool
	TimeoutSeconds int

	// Guard, when set, is evaluated by the backend against the host's
	// prior results; true suppresses the task on that host.
	Guard      *skipcond.Guard
	SkipReason string
}

// Edge is a dynamic-dependency edge: the dependent spec must wait for
// the referenced spec's results on every host.
type Edge struct {
	From string // dependent spec id
	To   string // referenced spec id
}

// Graph is the compiled task graph for one job phase.
type Graph struct {
	Tasks    []Task
	Handles  map[string]string // spec id → result handle
	Edges    []Edge
	Warnings []string
}

// HostSpec is one inventory entry handed to the backend. Local hosts run
// unprivileged with no elevation; remote hosts carry both credentials
// and an elevation method.
type HostSpec struct {
	Address  string
	Port     string
	User     string
	Password string
	KeyFile  string

	ElevateUser     string
	ElevatePassword string
	Elevation       string // "sudo" or "" when none

	Local bool
}

// Name returns the inventory key used for per-host result grouping.
func (h *HostSpec) Name() string {
	return h.Address
}

// HandleFor derives the sanitized result-handle name from a spec id.
// Sanitization is lossy: ids that differ only in case or punctuation
// map to the same name, so Compile disambiguates collisions with a
// numeric suffix in spec order. Use Graph.Handles for the final handle.
func HandleFor(id string) string {
	var b strings.Builder
	b.WriteString("result_")
	for _, r := range strings.ToLower(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// handleTable assigns unique handles for a compilation. Handles are
// allocated in spec order, so the same spec list always produces the
// same suffixes and phase-two compiles reproduce phase-one handles.
type handleTable struct {
	byID   map[string]string // spec id → assigned handle
	owners map[string]string // handle → owning spec id
}

func newHandleTable(n int) *handleTable {
	return &handleTable{
		byID:   make(map[string]string, n),
		owners: make(map[string]string, n),
	}
}

// assign returns the spec id's handle, derived from HandleFor and
// suffixed with _2, _3, ... when a distinct earlier id already owns
// the sanitized name.
func (t *handleTable) assign(id string) string {
	if h, ok := t.byID[id]; ok {
		return h
	}
	base := HandleFor(id)
	h := base
	for n := 2; ; n++ {
		owner, taken := t.owners[h]
		if !taken || owner == id {
			break
		}
		h = fmt.Sprintf("%s_%d", base, n)
	}
	t.byID[id] = h
	t.owners[h] = id
	return h
}

// Compile builds the task graph and host inventory from expanded specs
// and hosts. Compiling the same inputs twice yields structurally
// identical output: tasks keep spec order, handles are derived from
// ids and spec positions, and guards render to stable expression
// sources.
//
// Compile never fails on a malformed skip condition or an unresolvable
// reference — the offending guard is dropped (the command still runs)
// and a warning is recorded.
func Compile(specs []schema.CheckSpec, hosts []schema.Host) (*Graph, []HostSpec, error) {
	if len(specs) == 0 {
		return nil, nil, fmt.Errorf("nothing to compile: no checks")
	}
	if len(hosts) == 0 {
		return nil, nil, fmt.Errorf("nothing to compile: no hosts")
	}

	g := &Graph{Handles: make(map[string]string, len(specs))}

	// First pass: register every handle. Guard resolution below still
	// enforces "earlier checks only" by position, so a forward handle
	// never becomes a live reference.
	handles := newHandleTable(len(specs))
	position := make(map[string]int, len(specs))
	for i, spec := range specs {
		g.Handles[spec.ID] = handles.assign(spec.ID)
		if spec.ExpandedFrom != "" {
			// References name the parent spec; route them to the first
			// exploded sibling's handle.
			if _, ok := g.Handles[spec.ExpandedFrom]; !ok {
				g.Handles[spec.ExpandedFrom] = g.Handles[spec.ID]
				position[spec.ExpandedFrom] = i
			}
		}
		if _, ok := position[spec.ID]; !ok {
			position[spec.ID] = i
		}
	}

	for i, spec := range specs {
		task := Task{
			SpecID:         spec.ID,
			Handle:         g.Handles[spec.ID],
			Title:          spec.Title,
			Command:        spec.Command,
			Extract:        spec.Extract,
			Comparator:     spec.Comparator,
			Reference:      spec.Reference,
			Validator:      spec.Validator,
			DisplayIndex:   spec.DisplayIndex,
			ExpandedFrom:   spec.ExpandedFrom,
			ExpandedIndex:  spec.ExpandedIndex,
			Critical:       spec.Critical,
			TimeoutSeconds: spec.TimeoutSeconds,
		}

		if raw := spec.SkipCondition(); raw != "" {
			guard, warn := resolveGuard(raw, i, position, g.Handles)
			if warn != "" {
				g.Warnings = append(g.Warnings, fmt.Sprintf("check %q: %s", spec.ID, warn))
			}
			if guard != nil {
				task.Guard = guard
				task.SkipReason = guard.Reason()
			}
		}

		if spec.DynamicRef != nil {
			g.Edges = append(g.Edges, Edge{From: spec.ID, To: spec.DynamicRef.Source})
		}

		g.Tasks = append(g.Tasks, task)
	}

	inventory := make([]HostSpec, 0, len(hosts))
	for _, h := range hosts {
		inventory = append(inventory, compileHost(h))
	}

	return g, inventory, nil
}

// resolveGuard parses and compiles one skip condition. Malformed syntax
// and unknown or forward references degrade to "no guard" (the command
// still runs) with a warning; they never abort the compile.
func resolveGuard(raw string, pos int, position map[string]int, handles map[string]string) (*skipcond.Guard, string) {
	cond, err := skipcond.Parse(raw)
	if err != nil {
		return nil, fmt.Sprintf("malformed skip condition %q ignored: %v", raw, err)
	}
	refPos, known := position[cond.RefID]
	if !known {
		return nil, fmt.Sprintf("skip condition references unknown check %q; the check will run", cond.RefID)
	}
	if refPos >= pos {
		return nil, fmt.Sprintf("skip condition references check %q which has not run yet; the check will run", cond.RefID)
	}
	guard, err := skipcond.CompileGuard(cond, handles[cond.RefID])
	if err != nil {
		return nil, fmt.Sprintf("skip condition %q failed to compile: %v", raw, err)
	}
	return guard, ""
}

// compileHost maps an inventory host onto its backend form.
func compileHost(h schema.Host) HostSpec {
	hs := HostSpec{
		Address:  h.Address,
		Port:     h.PortOrDefault(),
		User:     h.Credential.User,
		Password: h.Credential.Password,
		KeyFile:  h.Credential.KeyFile,
		Local:    h.Local,
	}
	if !h.Local && h.Elevated != nil {
		hs.ElevateUser = h.Elevated.User
		hs.ElevatePassword = h.Elevated.Password
		hs.Elevation = "sudo"
	}
	return hs
}
