// Package backend defines the remote execution contract and its
// implementations: SSH fan-out across a fleet, local exec, and replay
// from pre-recorded scenarios.
//
// A backend runs a compiled task batch against a host inventory and
// reports per-host per-task exit code, stdout and stderr. Hosts run in
// parallel up to a bounded fan-out; tasks on a single host run strictly
// in compiled order so same-host skip-condition references resolve.
package backend

import (
	"context"
	"time"

	"github.com/ormasoftchile/fleetcheck/pkg/compiler"
)

// Event reports a per-host per-task lifecycle transition for progress
// monitoring.
type Event struct {
	Type   string    `json:"type"` // task_started, task_finished
	Host   string    `json:"host"`
	Handle string    `json:"handle"`
	At     time.Time `json:"at"`
}

const (
	EventTaskStarted  = "task_started"
	EventTaskFinished = "task_finished"
)

// TaskOutput is the raw outcome of one task on one host.
type TaskOutput struct {
	Host       string        `json:"host"`
	Handle     string        `json:"handle"`
	Stdout     string        `json:"stdout"`
	Stderr     string        `json:"stderr"`
	ExitCode   int           `json:"exit_code"`
	Skipped    bool          `json:"skipped,omitempty"`
	SkipReason string        `json:"skip_reason,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// RunResult is the raw outcome of one dispatched batch.
type RunResult struct {
	// Outputs is host → handle → output. Unreachable hosts have no
	// outputs; they appear in Unreachable instead.
	Outputs     map[string]map[string]*TaskOutput
	Unreachable map[string]string // host → connection error
}

// NewRunResult allocates an empty result.
func NewRunResult() *RunResult {
	return &RunResult{
		Outputs:     make(map[string]map[string]*TaskOutput),
		Unreachable: make(map[string]string),
	}
}

// record stores one task output under its host.
func (r *RunResult) record(out *TaskOutput) {
	byHandle, ok := r.Outputs[out.Host]
	if !ok {
		byHandle = make(map[string]*TaskOutput)
		r.Outputs[out.Host] = byHandle
	}
	byHandle[out.Handle] = out
}

// CollectField gathers one output field of a handle across all hosts,
// in unspecified order. Used for dynamic (result-driven) expansion.
func (r *RunResult) CollectField(handle, field string) []string {
	var values []string
	for _, byHandle := range r.Outputs {
		out, ok := byHandle[handle]
		if !ok || out.Skipped {
			continue
		}
		switch field {
		case "stderr":
			values = append(values, out.Stderr)
		default:
			values = append(values, out.Stdout)
		}
	}
	return values
}

// Seed pre-populates each host's result-handle environment with outputs
// from an earlier batch, so declarative guards compiled against
// first-phase handles still resolve in a later dispatch.
type Seed map[string]map[string]string // host → handle → stdout

// Backend executes a compiled task batch against an inventory. Execute
// blocks until every reachable host has finished its tasks; per-command
// failures are reported in the result, only infrastructure-level
// failure (no host could be attempted at all) is an error.
type Backend interface {
	Execute(ctx context.Context, tasks []compiler.Task, hosts []compiler.HostSpec, seed Seed) (*RunResult, error)
}

// EventSource is implemented by backends that emit structured per-task
// progress events while Execute runs. Backends without an event stream
// leave the progress monitor on its time-based heuristic.
type EventSource interface {
	Events() <-chan Event
}
