package runtime

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ormasoftchile/fleetcheck/pkg/backend"
	"github.com/ormasoftchile/fleetcheck/pkg/report"
	"github.com/ormasoftchile/fleetcheck/pkg/schema"
	"github.com/ormasoftchile/fleetcheck/pkg/validate"
)

func loadChecklist(t *testing.T, src string) *schema.Checklist {
	t.Helper()
	cl, err := schema.Load(strings.NewReader(src))
	if err != nil {
		t.Fatalf("load checklist: %v", err)
	}
	return cl
}

func localHosts(names ...string) []schema.Host {
	hosts := make([]schema.Host, 0, len(names))
	for _, n := range names {
		hosts = append(hosts, schema.Host{Address: n, Local: true})
	}
	return hosts
}

func replayFactory(t *testing.T, scenario string) func() backend.Backend {
	t.Helper()
	s, err := backend.ParseScenario([]byte(scenario))
	if err != nil {
		t.Fatalf("parse scenario: %v", err)
	}
	return func() backend.Backend { return backend.NewReplayBackend(s) }
}

// waitJob polls the registry until the job reaches a terminal state.
func waitJob(t *testing.T, reg *Registry, id string) *Job {
	t.Helper()
	job, ok := reg.Get(id)
	if !ok {
		t.Fatalf("job %q not registered", id)
	}
	deadline := time.Now().Add(5 * time.Second)
	for !job.Status().Terminal() {
		if time.Now().After(deadline) {
			t.Fatalf("job %q did not finish (status %s)", id, job.Status())
		}
		time.Sleep(5 * time.Millisecond)
	}
	return job
}

// TestJobCompletesWithSummary runs two checks on two hosts end to end
// and verifies status, final progress, and the verdict rollup.
func TestJobCompletesWithSummary(t *testing.T) {
	cl := loadChecklist(t, `
apiVersion: checklist/v1
meta:
  name: smoke
checks:
  - id: uptime
    title: Host is up
    command: uptime
    comparator: non_empty
  - id: kernel
    title: Kernel release
    command: uname -r
    extract: first_line
    comparator: contains
    reference: "5."
`)
	factory := replayFactory(t, `
default:
  stdout: "5.14.0-362.el9.x86_64"
`)
	coord := NewCoordinator(factory, NewRegistry())

	id, err := coord.StartJob(context.Background(), "", cl, localHosts("web-01", "web-02"))
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	job := waitJob(t, coord.Registry, id)

	if job.Status() != StatusCompleted {
		t.Fatalf("status = %s, err = %s", job.Status(), job.Err())
	}
	if p := job.Progress(); p.Percent != 100 {
		t.Errorf("final percent = %d, want 100", p.Percent)
	}
	jr := job.Result()
	if jr == nil {
		t.Fatal("completed job has no result")
	}
	if jr.Summary.Total != 4 || jr.Summary.OK != 4 {
		t.Errorf("summary = %+v, want 4 rows all OK", jr.Summary)
	}
	if len(jr.HostLogs) != 2 {
		t.Errorf("host log count = %d", len(jr.HostLogs))
	}
}

// TestJobCommandFailureIsNotJobFailure verifies a failing validation
// yields a NotOK row while the job itself still completes.
func TestJobCommandFailureIsNotJobFailure(t *testing.T) {
	cl := loadChecklist(t, `
apiVersion: checklist/v1
meta:
  name: selinux
checks:
  - id: selinux
    title: SELinux enforcing
    command: getenforce
    comparator: eq
    reference: Enforcing
`)
	factory := replayFactory(t, `
hosts:
  good-01:
    selinux: {stdout: "Enforcing"}
  bad-01:
    selinux: {stdout: "Permissive"}
`)
	coord := NewCoordinator(factory, NewRegistry())

	id, err := coord.StartJob(context.Background(), "", cl, localHosts("good-01", "bad-01"))
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	job := waitJob(t, coord.Registry, id)

	if job.Status() != StatusCompleted {
		t.Fatalf("status = %s, command failure must not fail the job", job.Status())
	}
	jr := job.Result()
	if jr.Summary.OK != 1 || jr.Summary.NotOK != 1 {
		t.Errorf("summary = %+v, want one OK and one NotOK", jr.Summary)
	}
	for _, hs := range jr.Hosts {
		if hs.Host == "bad-01" && len(hs.Rows[0].Recommendations) == 0 {
			t.Error("failed row on bad-01 should carry remediation hints")
		}
	}
}

// TestJobSkipCondition verifies a declarative guard skips the dependent
// check only on hosts where the referenced output trips the predicate.
func TestJobSkipCondition(t *testing.T) {
	cl := loadChecklist(t, `
apiVersion: checklist/v1
meta:
  name: conditional
checks:
  - id: probe
    title: Probe for marker
    command: ls /etc/marker 2>/dev/null
  - id: fix
    title: Apply fix
    command: touch /etc/marker
    skip_when: "probe : non_empty"
`)
	factory := replayFactory(t, `
hosts:
  done-01:
    probe: {stdout: "/etc/marker"}
    fix: {stdout: ""}
  todo-01:
    probe: {stdout: ""}
    fix: {stdout: ""}
`)
	coord := NewCoordinator(factory, NewRegistry())

	id, err := coord.StartJob(context.Background(), "", cl, localHosts("done-01", "todo-01"))
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	job := waitJob(t, coord.Registry, id)
	jr := job.Result()

	verdictFor := func(host string, idx int) validate.Verdict {
		for _, hs := range jr.Hosts {
			if hs.Host != host {
				continue
			}
			for _, row := range hs.Rows {
				if row.DisplayIndex == idx {
					return row.Verdict
				}
			}
		}
		t.Fatalf("no row %d for host %s", idx, host)
		return ""
	}
	if v := verdictFor("done-01", 2); v != validate.VerdictSkipped {
		t.Errorf("done-01 fix verdict = %s, want Skipped", v)
	}
	if v := verdictFor("todo-01", 2); v == validate.VerdictSkipped {
		t.Error("todo-01 fix should have run")
	}
	if jr.Summary.Skipped != 1 {
		t.Errorf("skipped count = %d", jr.Summary.Skipped)
	}
}

// TestJobDynamicExpansion verifies result-driven expansion: the second
// phase runs one instance per distinct line of the referenced output
// with the placeholder substituted.
func TestJobDynamicExpansion(t *testing.T) {
	cl := loadChecklist(t, `
apiVersion: checklist/v1
meta:
  name: per-user
checks:
  - id: users
    title: List service users
    command: "awk -F: '$3 >= 1000 {print $1}' /etc/passwd"
  - id: homedir
    title: Home exists for {{item}}
    command: test -d /home/{{item}} && echo yes
    comparator: eq
    reference: "yes"
    dynamic_ref:
      source: users
`)
	factory := replayFactory(t, `
hosts:
  h1:
    users: {stdout: "alice\nbob"}
    homedir: {stdout: "yes"}
`)
	coord := NewCoordinator(factory, NewRegistry())

	id, err := coord.StartJob(context.Background(), "", cl, localHosts("h1"))
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	job := waitJob(t, coord.Registry, id)

	if job.Status() != StatusCompleted {
		t.Fatalf("status = %s, err = %s", job.Status(), job.Err())
	}
	jr := job.Result()
	if jr.Summary.Total != 2 {
		t.Fatalf("total = %d, want users row plus one collapsed dynamic row", jr.Summary.Total)
	}

	var dynamicRow *report.Row
	for _, row := range jr.Hosts[0].Rows {
		if row.DisplayIndex == 2 {
			dynamicRow = row
		}
	}
	if dynamicRow == nil {
		t.Fatal("no dynamic row in result")
	}
	if len(dynamicRow.Sub) != 2 {
		t.Fatalf("dynamic instances = %d, want one per distinct user", len(dynamicRow.Sub))
	}
	commands := []string{dynamicRow.Sub[0].Command, dynamicRow.Sub[1].Command}
	if !strings.Contains(commands[0], "/home/alice") || !strings.Contains(commands[1], "/home/bob") {
		t.Errorf("substituted commands = %v", commands)
	}
	if dynamicRow.Verdict != validate.VerdictOK {
		t.Errorf("dynamic row verdict = %s", dynamicRow.Verdict)
	}
}

// TestJobSimilarIDsValidateIndependently verifies checks whose ids
// differ only in punctuation validate against their own output.
func TestJobSimilarIDsValidateIndependently(t *testing.T) {
	cl := loadChecklist(t, `
apiVersion: checklist/v1
meta:
  name: similar-ids
checks:
  - id: net.check
    title: Listening sockets
    command: ss -tln
    comparator: eq
    reference: A
  - id: net-check
    title: Link state
    command: ip link
    comparator: eq
    reference: B
`)
	factory := replayFactory(t, `
hosts:
  h1:
    net.check: {stdout: "A"}
    net-check: {stdout: "B"}
`)
	coord := NewCoordinator(factory, NewRegistry())

	id, err := coord.StartJob(context.Background(), "", cl, localHosts("h1"))
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	job := waitJob(t, coord.Registry, id)

	jr := job.Result()
	if jr == nil {
		t.Fatalf("no result (status %s, err %s)", job.Status(), job.Err())
	}
	if jr.Summary.OK != 2 || jr.Summary.NotOK != 0 {
		t.Fatalf("summary = %+v, want both checks OK", jr.Summary)
	}
	for _, row := range jr.Hosts[0].Rows {
		for _, r := range row.Sub {
			want := map[string]string{"net.check": "A", "net-check": "B"}[r.SpecID]
			if r.Stdout != want {
				t.Errorf("check %q saw stdout %q, want %q", r.SpecID, r.Stdout, want)
			}
		}
	}
}

// TestJobFailsOnDispatchError verifies an infrastructure-level backend
// error flips the job to Failed with the cause recorded.
func TestJobFailsOnDispatchError(t *testing.T) {
	cl := loadChecklist(t, `
apiVersion: checklist/v1
meta:
  name: broken
checks:
  - id: unrecorded
    title: Not in scenario
    command: "true"
`)
	factory := replayFactory(t, `
hosts:
  other-host:
    something: {stdout: "x"}
`)
	coord := NewCoordinator(factory, NewRegistry())

	id, err := coord.StartJob(context.Background(), "", cl, localHosts("h1"))
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	job := waitJob(t, coord.Registry, id)

	if job.Status() != StatusFailed {
		t.Fatalf("status = %s, want Failed", job.Status())
	}
	if !strings.Contains(job.Err(), "dispatch failed") {
		t.Errorf("error = %q", job.Err())
	}
}

// TestProgressMonotonicWhileRunning samples progress during a slowed
// run and verifies it starts at the floor, never decreases, and stays
// below the pre-aggregation cap until the job completes.
func TestProgressMonotonicWhileRunning(t *testing.T) {
	cl := loadChecklist(t, `
apiVersion: checklist/v1
meta:
  name: slow
checks:
  - id: a
    title: A
    command: "true"
  - id: b
    title: B
    command: "true"
  - id: c
    title: C
    command: "true"
`)
	s, err := backend.ParseScenario([]byte("default: {stdout: ok}"))
	if err != nil {
		t.Fatalf("parse scenario: %v", err)
	}
	factory := func() backend.Backend {
		b := backend.NewReplayBackend(s)
		b.TaskDelay = 15 * time.Millisecond
		return b
	}
	coord := NewCoordinator(factory, NewRegistry())

	id, err := coord.StartJob(context.Background(), "", cl, localHosts("h1", "h2"))
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	job, _ := coord.Registry.Get(id)

	last := 0
	for !job.Status().Terminal() {
		p := job.Progress()
		if job.Status() == StatusRunning {
			if p.Percent < 5 {
				t.Errorf("running percent = %d, below the initial floor", p.Percent)
			}
			if p.Percent > 95 {
				t.Errorf("running percent = %d, above the cap", p.Percent)
			}
		}
		if p.Percent < last {
			t.Fatalf("progress went backwards: %d -> %d", last, p.Percent)
		}
		last = p.Percent
		time.Sleep(2 * time.Millisecond)
	}
	if p := job.Progress(); p.Percent != 100 {
		t.Errorf("terminal percent = %d, want 100", p.Percent)
	}
}

// TestProgressTracksCurrentTask verifies the snapshot carries the
// in-flight host and command during the run, the batch scope totals,
// and clears the in-flight fields at terminal state.
func TestProgressTracksCurrentTask(t *testing.T) {
	cl := loadChecklist(t, `
apiVersion: checklist/v1
meta:
  name: tracked
checks:
  - id: a
    title: A
    command: uptime
  - id: b
    title: B
    command: uname -r
`)
	s, err := backend.ParseScenario([]byte("default: {stdout: ok}"))
	if err != nil {
		t.Fatalf("parse scenario: %v", err)
	}
	factory := func() backend.Backend {
		b := backend.NewReplayBackend(s)
		b.TaskDelay = 20 * time.Millisecond
		return b
	}
	coord := NewCoordinator(factory, NewRegistry())

	id, err := coord.StartJob(context.Background(), "", cl, localHosts("h1", "h2"))
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	job, _ := coord.Registry.Get(id)

	sawCurrent := false
	for !job.Status().Terminal() {
		p := job.Progress()
		if p.CurrentCommand != "" {
			sawCurrent = true
			if p.CurrentCommand != "uptime" && p.CurrentCommand != "uname -r" {
				t.Fatalf("current command = %q", p.CurrentCommand)
			}
			if p.CurrentHost != "h1" && p.CurrentHost != "h2" {
				t.Fatalf("current host = %q", p.CurrentHost)
			}
		}
		time.Sleep(time.Millisecond)
	}
	if !sawCurrent {
		t.Error("never observed an in-flight command while running")
	}

	p := job.Progress()
	if p.TotalCommands != 2 || p.TotalHosts != 2 {
		t.Errorf("scope = %d commands, %d hosts, want 2 and 2", p.TotalCommands, p.TotalHosts)
	}
	if p.CurrentCommand != "" || p.CurrentHost != "" {
		t.Errorf("terminal snapshot still reports %q on %q", p.CurrentCommand, p.CurrentHost)
	}
}

// TestJobLiveLogsAccumulate verifies log queries succeed mid-run and
// pick up each dispatched batch as it finishes.
func TestJobLiveLogsAccumulate(t *testing.T) {
	cl := loadChecklist(t, `
apiVersion: checklist/v1
meta:
  name: tailed
checks:
  - id: users
    title: List service users
    command: "awk -F: '$3 >= 1000 {print $1}' /etc/passwd"
  - id: homedir
    title: Home exists for {{item}}
    command: test -d /home/{{item}} && echo yes
    comparator: eq
    reference: "yes"
    dynamic_ref:
      source: users
`)
	s, err := backend.ParseScenario([]byte(`
hosts:
  h1:
    users: {stdout: "alice\nbob"}
    homedir: {stdout: "yes"}
`))
	if err != nil {
		t.Fatalf("parse scenario: %v", err)
	}
	factory := func() backend.Backend {
		b := backend.NewReplayBackend(s)
		b.TaskDelay = 25 * time.Millisecond
		return b
	}
	coord := NewCoordinator(factory, NewRegistry())

	id, err := coord.StartJob(context.Background(), "", cl, localHosts("h1"))
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	job, _ := coord.Registry.Get(id)

	// Querying before any batch has landed must succeed, empty or not.
	if agg, _, updated := job.LiveLogs(); agg != "" && updated.IsZero() {
		t.Errorf("live logs %q carry no update timestamp", agg)
	}

	sawPartial := false
	for !job.Status().Terminal() {
		agg, hosts, updated := job.LiveLogs()
		if strings.Contains(agg, "List service users") {
			sawPartial = true
			if updated.IsZero() {
				t.Error("live logs carry no update timestamp")
			}
			if !strings.Contains(hosts["h1"], "List service users") {
				t.Error("host log missing the finished batch")
			}
		}
		time.Sleep(time.Millisecond)
	}
	if !sawPartial {
		t.Error("never observed phase-one logs while running")
	}

	agg, _, updated := job.LiveLogs()
	if !strings.Contains(agg, "List service users") || updated.IsZero() {
		t.Errorf("final live logs = %q", agg)
	}
}

// TestJobUnreachableHostListsChecks verifies a host the backend cannot
// reach still reports every compiled check, without affecting the
// verdict counts of the reachable hosts.
func TestJobUnreachableHostListsChecks(t *testing.T) {
	cl := loadChecklist(t, `
apiVersion: checklist/v1
meta:
  name: partial-fleet
checks:
  - id: kernel
    title: Kernel release
    command: uname -r
    comparator: non_empty
  - id: selinux
    title: SELinux enforcing
    command: getenforce
    comparator: eq
    reference: Enforcing
`)
	factory := replayFactory(t, `
hosts:
  good-01:
    kernel: {stdout: "5.14.0"}
    selinux: {stdout: "Enforcing"}
unreachable:
  down-01: "dial tcp 10.0.0.9:22: i/o timeout"
`)
	coord := NewCoordinator(factory, NewRegistry())

	id, err := coord.StartJob(context.Background(), "", cl, localHosts("good-01", "down-01"))
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	job := waitJob(t, coord.Registry, id)

	if job.Status() != StatusCompleted {
		t.Fatalf("status = %s, unreachable host must not fail the job", job.Status())
	}
	jr := job.Result()
	if jr.Summary.Total != 2 || jr.Summary.OK != 2 {
		t.Errorf("summary = %+v, want only good-01's two rows counted", jr.Summary)
	}
	var down *report.HostSummary
	for _, hs := range jr.Hosts {
		if hs.Host == "down-01" {
			down = hs
		}
	}
	if down == nil {
		t.Fatal("down-01 missing from host list")
	}
	if down.Reachable || down.ReachError == "" {
		t.Errorf("down-01 reachability = (%v, %q)", down.Reachable, down.ReachError)
	}
	if len(down.Rows) != 2 {
		t.Fatalf("down-01 rows = %d, want one per compiled check", len(down.Rows))
	}
	if down.OK != 0 || down.NotOK != 0 || down.Skipped != 0 {
		t.Errorf("down-01 counts = %+v, unreachable checks must not count", down)
	}
	log := jr.HostLogs["down-01"]
	if !strings.Contains(log, "UNREACHABLE") || !strings.Contains(log, "Kernel release") {
		t.Errorf("down-01 log = %q", log)
	}
}

// TestStartJobRejectsDuplicateID verifies explicit job ids are unique
// per registry.
func TestStartJobRejectsDuplicateID(t *testing.T) {
	cl := loadChecklist(t, `
apiVersion: checklist/v1
meta:
  name: dup
checks:
  - id: a
    title: A
    command: "true"
`)
	factory := replayFactory(t, "default: {stdout: ok}")
	coord := NewCoordinator(factory, NewRegistry())

	if _, err := coord.StartJob(context.Background(), "job-1", cl, localHosts("h1")); err != nil {
		t.Fatalf("first StartJob: %v", err)
	}
	if _, err := coord.StartJob(context.Background(), "job-1", cl, localHosts("h1")); err == nil {
		t.Error("duplicate job id should be refused")
	}
	waitJob(t, coord.Registry, "job-1")
}

// TestRegistryConcurrentAccess verifies concurrent Add/Get/List calls
// are safe and every distinct id lands exactly once.
func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 50; j++ {
				id := fmt.Sprintf("job-%d-%d", n, j)
				if err := reg.Add(NewJob(id)); err != nil {
					t.Errorf("Add(%s): %v", id, err)
					return
				}
				if _, ok := reg.Get(id); !ok {
					t.Errorf("Get(%s) missed a just-added job", id)
					return
				}
				reg.List()
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	if got := len(reg.List()); got != 400 {
		t.Errorf("job count = %d, want 400", got)
	}
}

// captureStore records the last persisted result.
type captureStore struct {
	saved *report.JobResult
}

func (c *captureStore) SaveJobResult(jr *report.JobResult) error {
	c.saved = jr
	return nil
}

// TestFinishedJobIsPersisted verifies the store receives the aggregated
// result when the job completes.
func TestFinishedJobIsPersisted(t *testing.T) {
	cl := loadChecklist(t, `
apiVersion: checklist/v1
meta:
  name: persisted
checks:
  - id: a
    title: A
    command: "true"
`)
	store := &captureStore{}
	coord := NewCoordinator(replayFactory(t, "default: {stdout: ok}"), NewRegistry())
	coord.Store = store

	id, err := coord.StartJob(context.Background(), "persist-1", cl, localHosts("h1"))
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	waitJob(t, coord.Registry, id)

	if store.saved == nil {
		t.Fatal("store was never called")
	}
	if store.saved.JobID != "persist-1" {
		t.Errorf("persisted job id = %q", store.saved.JobID)
	}
	if store.saved.FinishedAt.IsZero() {
		t.Error("persisted result missing finish timestamp")
	}
}
