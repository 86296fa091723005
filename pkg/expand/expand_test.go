package expand

import (
	"fmt"
	"testing"

	"github.com/ormasoftchile/fleetcheck/pkg/schema"
)

// TestSubstituteSingleValue verifies scalar substitution.
func TestSubstituteSingleValue(t *testing.T) {
	ctx := schema.VariableContext{"mount": {"/var"}}
	got := Substitute("df -h {{mount}}", ctx)
	if got != "df -h /var" {
		t.Errorf("got %q, want %q", got, "df -h /var")
	}
}

// TestSubstituteUnresolvedBecomesEmpty verifies unknown placeholders
// degrade to the empty string.
func TestSubstituteUnresolvedBecomesEmpty(t *testing.T) {
	got := Substitute("echo {{missing}}!", schema.VariableContext{})
	if got != "echo !" {
		t.Errorf("got %q, want %q", got, "echo !")
	}
}

// TestSubstituteWhitespaceInBraces verifies {{ name }} matches too.
func TestSubstituteWhitespaceInBraces(t *testing.T) {
	ctx := schema.VariableContext{"svc": {"sshd"}}
	got := Substitute("systemctl status {{ svc }}", ctx)
	if got != "systemctl status sshd" {
		t.Errorf("got %q", got)
	}
}

// TestExpandCardinality verifies one list variable of length N explodes
// into exactly N siblings tagged with the parent id and display index.
func TestExpandCardinality(t *testing.T) {
	spec := schema.CheckSpec{
		ID:           "mounts",
		Title:        "Check {{mount}}",
		Command:      "df -h {{mount}}",
		DisplayIndex: 3,
	}
	ctx := schema.VariableContext{"mount": {"/", "/var", "/tmp"}}

	out := Expand([]schema.CheckSpec{spec}, ctx)
	if len(out) != 3 {
		t.Fatalf("got %d siblings, want 3", len(out))
	}
	for i, inst := range out {
		if inst.ExpandedFrom != "mounts" {
			t.Errorf("sibling %d: _expandedFrom = %q, want mounts", i, inst.ExpandedFrom)
		}
		if inst.ExpandedIndex != i {
			t.Errorf("sibling %d: _expandedIndex = %d", i, inst.ExpandedIndex)
		}
		if inst.DisplayIndex != 3 {
			t.Errorf("sibling %d: displayIndex = %d, want 3", i, inst.DisplayIndex)
		}
		wantID := fmt.Sprintf("mounts_%d", i+1)
		if inst.ID != wantID {
			t.Errorf("sibling %d: id = %q, want %q", i, inst.ID, wantID)
		}
	}
	if out[1].Command != "df -h /var" {
		t.Errorf("sibling 1 command = %q", out[1].Command)
	}
}

// TestExpandLongestListDrives verifies only the longest list explodes;
// shorter lists contribute their first element.
func TestExpandLongestListDrives(t *testing.T) {
	spec := schema.CheckSpec{
		ID:      "combo",
		Command: "check {{a}} on {{b}}",
	}
	ctx := schema.VariableContext{
		"a": {"x", "y"},
		"b": {"p", "q", "r"},
	}

	out := Expand([]schema.CheckSpec{spec}, ctx)
	if len(out) != 3 {
		t.Fatalf("got %d siblings, want 3 (longest list)", len(out))
	}
	for i, want := range []string{"p", "q", "r"} {
		wantCmd := "check x on " + want
		if out[i].Command != wantCmd {
			t.Errorf("sibling %d command = %q, want %q", i, out[i].Command, wantCmd)
		}
	}
}

// TestExpandTieBrokenByName verifies equal-length lists pick the
// lexicographically first variable name.
func TestExpandTieBrokenByName(t *testing.T) {
	spec := schema.CheckSpec{ID: "tie", Command: "{{b}} {{a}}"}
	ctx := schema.VariableContext{
		"a": {"1", "2"},
		"b": {"x", "y"},
	}
	out := Expand([]schema.CheckSpec{spec}, ctx)
	if len(out) != 2 {
		t.Fatalf("got %d siblings, want 2", len(out))
	}
	// "a" drives; "b" contributes its first element.
	if out[0].Command != "x 1" || out[1].Command != "x 2" {
		t.Errorf("commands = %q, %q", out[0].Command, out[1].Command)
	}
}

// TestExpandScalarOnlyKeepsSpec verifies a spec with no list variables
// passes through singly substituted.
func TestExpandScalarOnlyKeepsSpec(t *testing.T) {
	spec := schema.CheckSpec{ID: "one", Command: "echo {{v}}"}
	ctx := schema.VariableContext{"v": {"hi"}}
	out := Expand([]schema.CheckSpec{spec}, ctx)
	if len(out) != 1 {
		t.Fatalf("got %d specs, want 1", len(out))
	}
	if out[0].ID != "one" || out[0].ExpandedFrom != "" {
		t.Errorf("spec should not be tagged as expanded: %+v", out[0])
	}
	if out[0].Command != "echo hi" {
		t.Errorf("command = %q", out[0].Command)
	}
}

// TestExpandDynamicBindsValues verifies dynamic expansion binds each
// discovered value and clears the dynamic reference.
func TestExpandDynamicBindsValues(t *testing.T) {
	spec := schema.CheckSpec{
		ID:           "per_disk",
		Command:      "smartctl -H {{item}}",
		DisplayIndex: 5,
		DynamicRef:   &schema.DynamicRef{Source: "list_disks"},
	}
	out := ExpandDynamic(spec, []string{"/dev/sda", "/dev/sdb"}, schema.VariableContext{})
	if len(out) != 2 {
		t.Fatalf("got %d instances, want 2", len(out))
	}
	if out[0].Command != "smartctl -H /dev/sda" {
		t.Errorf("instance 0 command = %q", out[0].Command)
	}
	if out[1].ID != "per_disk_2" || out[1].ExpandedFrom != "per_disk" {
		t.Errorf("instance 1 identity = (%q, %q)", out[1].ID, out[1].ExpandedFrom)
	}
	if out[0].DynamicRef != nil {
		t.Error("dynamic reference should be cleared on instances")
	}
	if out[0].DisplayIndex != 5 {
		t.Errorf("displayIndex = %d, want 5", out[0].DisplayIndex)
	}
}

// TestExpandDynamicCustomName verifies the as: binding name is honored.
func TestExpandDynamicCustomName(t *testing.T) {
	spec := schema.CheckSpec{
		ID:         "per_user",
		Command:    "id {{user}}",
		DynamicRef: &schema.DynamicRef{Source: "list_users", As: "user"},
	}
	out := ExpandDynamic(spec, []string{"alice"}, schema.VariableContext{})
	if len(out) != 1 {
		t.Fatalf("got %d instances, want 1", len(out))
	}
	if out[0].Command != "id alice" {
		t.Errorf("command = %q", out[0].Command)
	}
}

// TestDistinctValuesDedupesAndSorts verifies multi-line outputs across
// hosts are split, trimmed, deduplicated and sorted.
func TestDistinctValuesDedupesAndSorts(t *testing.T) {
	outputs := []string{
		"sda\nsdb\n",
		"  sdb  \nsdc",
		"",
		"sda",
	}
	got := DistinctValues(outputs)
	want := []string{"sda", "sdb", "sdc"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("value %d = %q, want %q", i, got[i], want[i])
		}
	}
}
