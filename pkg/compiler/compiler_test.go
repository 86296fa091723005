package compiler

import (
	"testing"

	"github.com/ormasoftchile/fleetcheck/pkg/schema"
)

func sampleHosts() []schema.Host {
	return []schema.Host{
		{Address: "web-01", Credential: schema.Credential{User: "ops", Password: "pw"}},
	}
}

// TestHandleForSanitizes verifies handle derivation lowercases and
// replaces non-identifier characters.
func TestHandleForSanitizes(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"disk_check", "result_disk_check"},
		{"Disk-Check", "result_disk_check"},
		{"svc.status 2", "result_svc_status_2"},
	}
	for _, tt := range tests {
		if got := HandleFor(tt.id); got != tt.want {
			t.Errorf("HandleFor(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

// TestCompileDisambiguatesSimilarIDs verifies ids that sanitize to the
// same name get distinct handles, so one check's output can never land
// under another's.
func TestCompileDisambiguatesSimilarIDs(t *testing.T) {
	specs := []schema.CheckSpec{
		{ID: "net.check", Command: "ss -tln", DisplayIndex: 1},
		{ID: "net-check", Command: "ip link", DisplayIndex: 2},
		{ID: "Net_Check", Command: "nmcli g", DisplayIndex: 3},
	}
	g, _, err := Compile(specs, sampleHosts())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	seen := make(map[string]string)
	for _, task := range g.Tasks {
		if owner, dup := seen[task.Handle]; dup {
			t.Fatalf("checks %q and %q share handle %q", owner, task.SpecID, task.Handle)
		}
		seen[task.Handle] = task.SpecID
	}
	if got := g.Handles["net.check"]; got != "result_net_check" {
		t.Errorf("first handle = %q, want result_net_check", got)
	}
	if got := g.Handles["net-check"]; got != "result_net_check_2" {
		t.Errorf("second handle = %q, want result_net_check_2", got)
	}
	if got := g.Handles["Net_Check"]; got != "result_net_check_3" {
		t.Errorf("third handle = %q, want result_net_check_3", got)
	}

	// Suffixes are positional, so a recompile reproduces them.
	g2, _, err := Compile(specs, sampleHosts())
	if err != nil {
		t.Fatalf("recompile: %v", err)
	}
	for id, h := range g.Handles {
		if g2.Handles[id] != h {
			t.Errorf("handle for %q changed across compiles: %q vs %q", id, h, g2.Handles[id])
		}
	}
}

// TestCompileDeterministic verifies compiling the same inputs twice
// yields structurally identical output.
func TestCompileDeterministic(t *testing.T) {
	specs := []schema.CheckSpec{
		{ID: "first", Command: "uname -a", DisplayIndex: 1},
		{ID: "second", Command: "uptime", DisplayIndex: 2, SkipWhen: schema.ValueList{"first : non_empty"}},
	}

	g1, _, err := Compile(specs, sampleHosts())
	if err != nil {
		t.Fatalf("compile 1: %v", err)
	}
	g2, _, err := Compile(specs, sampleHosts())
	if err != nil {
		t.Fatalf("compile 2: %v", err)
	}

	if len(g1.Tasks) != len(g2.Tasks) {
		t.Fatalf("task counts differ: %d vs %d", len(g1.Tasks), len(g2.Tasks))
	}
	for i := range g1.Tasks {
		a, b := g1.Tasks[i], g2.Tasks[i]
		if a.SpecID != b.SpecID || a.Handle != b.Handle {
			t.Errorf("task %d identity differs: (%q,%q) vs (%q,%q)", i, a.SpecID, a.Handle, b.SpecID, b.Handle)
		}
		if (a.Guard == nil) != (b.Guard == nil) {
			t.Errorf("task %d guard presence differs", i)
		}
		if a.Guard != nil && a.Guard.Source != b.Guard.Source {
			t.Errorf("task %d guard source differs: %q vs %q", i, a.Guard.Source, b.Guard.Source)
		}
	}
}

// TestCompileAttachesGuard verifies a valid backward reference compiles
// into a guard bound to the referenced handle.
func TestCompileAttachesGuard(t *testing.T) {
	specs := []schema.CheckSpec{
		{ID: "probe", Command: "ls /data"},
		{ID: "clean", Command: "rm -rf /data/tmp", SkipWhen: schema.ValueList{"probe : empty"}},
	}
	g, _, err := Compile(specs, sampleHosts())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	task := g.Tasks[1]
	if task.Guard == nil {
		t.Fatal("expected guard on second task")
	}
	if task.Guard.RefHandle != "result_probe" {
		t.Errorf("guard handle = %q, want result_probe", task.Guard.RefHandle)
	}
	if task.SkipReason == "" {
		t.Error("expected a skip reason alongside the guard")
	}
}

// TestCompileDropsForwardReference verifies a forward reference degrades
// to no guard plus a warning.
func TestCompileDropsForwardReference(t *testing.T) {
	specs := []schema.CheckSpec{
		{ID: "early", Command: "date", SkipWhen: schema.ValueList{"late : non_empty"}},
		{ID: "late", Command: "uptime"},
	}
	g, _, err := Compile(specs, sampleHosts())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if g.Tasks[0].Guard != nil {
		t.Error("forward reference must not produce a live guard")
	}
	if len(g.Warnings) == 0 {
		t.Error("expected a warning for the forward reference")
	}
}

// TestCompileDropsUnknownReference verifies an unknown reference runs
// the check and records a warning.
func TestCompileDropsUnknownReference(t *testing.T) {
	specs := []schema.CheckSpec{
		{ID: "only", Command: "date", SkipWhen: schema.ValueList{"ghost : empty"}},
	}
	g, _, err := Compile(specs, sampleHosts())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if g.Tasks[0].Guard != nil {
		t.Error("unknown reference must not produce a guard")
	}
	if len(g.Warnings) != 1 {
		t.Errorf("got %d warnings, want 1", len(g.Warnings))
	}
}

// TestCompileDropsMalformedCondition verifies malformed syntax is
// ignored with a warning rather than failing the compile.
func TestCompileDropsMalformedCondition(t *testing.T) {
	specs := []schema.CheckSpec{
		{ID: "a", Command: "date"},
		{ID: "b", Command: "uptime", SkipWhen: schema.ValueList{"no predicate here either way"}},
	}
	g, _, err := Compile(specs, sampleHosts())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if g.Tasks[1].Guard != nil {
		t.Error("malformed condition must not produce a guard")
	}
	if len(g.Warnings) == 0 {
		t.Error("expected a warning for malformed condition")
	}
}

// TestCompileRoutesParentHandle verifies references naming an exploded
// parent resolve to the first sibling's handle.
func TestCompileRoutesParentHandle(t *testing.T) {
	specs := []schema.CheckSpec{
		{ID: "mounts_1", Command: "df /", ExpandedFrom: "mounts", ExpandedIndex: 0},
		{ID: "mounts_2", Command: "df /var", ExpandedFrom: "mounts", ExpandedIndex: 1},
		{ID: "report", Command: "echo done", SkipWhen: schema.ValueList{"mounts : empty"}},
	}
	g, _, err := Compile(specs, sampleHosts())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if g.Handles["mounts"] != "result_mounts_1" {
		t.Errorf("parent handle = %q, want result_mounts_1", g.Handles["mounts"])
	}
	if g.Tasks[2].Guard == nil {
		t.Fatal("expected guard on report task")
	}
	if g.Tasks[2].Guard.RefHandle != "result_mounts_1" {
		t.Errorf("guard handle = %q, want result_mounts_1", g.Tasks[2].Guard.RefHandle)
	}
}

// TestCompileDynamicEdge verifies dynamic references become graph edges.
func TestCompileDynamicEdge(t *testing.T) {
	specs := []schema.CheckSpec{
		{ID: "list_disks", Command: "lsblk -nd -o NAME"},
		{ID: "per_disk", Command: "smartctl -H {{item}}", DynamicRef: &schema.DynamicRef{Source: "list_disks"}},
	}
	g, _, err := Compile(specs, sampleHosts())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(g.Edges) != 1 {
		t.Fatalf("got %d edges, want 1", len(g.Edges))
	}
	if g.Edges[0].From != "per_disk" || g.Edges[0].To != "list_disks" {
		t.Errorf("edge = %+v", g.Edges[0])
	}
}

// TestCompileHostElevation verifies local hosts get no elevation and
// remote hosts with elevated credentials get sudo.
func TestCompileHostElevation(t *testing.T) {
	hosts := []schema.Host{
		{Address: "localhost", Local: true},
		{Address: "db-01", Credential: schema.Credential{User: "ops", Password: "pw"},
			Elevated: &schema.Credential{User: "root", Password: "rootpw"}},
	}
	specs := []schema.CheckSpec{{ID: "x", Command: "id"}}
	_, inventory, err := Compile(specs, hosts)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if inventory[0].Elevation != "" {
		t.Errorf("local host elevation = %q, want none", inventory[0].Elevation)
	}
	if inventory[1].Elevation != "sudo" || inventory[1].ElevatePassword != "rootpw" {
		t.Errorf("remote host elevation = (%q, %q)", inventory[1].Elevation, inventory[1].ElevatePassword)
	}
}

// TestCompileRejectsEmptyInputs verifies empty task or host sets error.
func TestCompileRejectsEmptyInputs(t *testing.T) {
	if _, _, err := Compile(nil, sampleHosts()); err == nil {
		t.Error("expected error for empty specs")
	}
	if _, _, err := Compile([]schema.CheckSpec{{ID: "a", Command: "date"}}, nil); err == nil {
		t.Error("expected error for empty hosts")
	}
}
