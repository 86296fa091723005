// Package runtime coordinates checklist execution jobs: expansion,
// compilation, dispatch, progress tracking, validation, and aggregation.
package runtime

import (
	"fmt"
	"sync"
	"time"

	"github.com/ormasoftchile/fleetcheck/pkg/report"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Progress is a point-in-time progress snapshot. Completed and Total
// count (host, task) pairs; CurrentHost and CurrentCommand reflect the
// most recent task_started event and clear at terminal state.
type Progress struct {
	Percent        int       `json:"percent"`
	Completed      int       `json:"completed"`
	Total          int       `json:"total"`
	CurrentCommand string    `json:"currentCommand,omitempty"`
	TotalCommands  int       `json:"totalCommands"`
	CurrentHost    string    `json:"currentHost,omitempty"`
	TotalHosts     int       `json:"totalHosts"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Job is the mutable state of one execution job. All fields behind the
// mutex; readers get copies so status and progress queries never race
// the coordinator.
type Job struct {
	ID string

	mu        sync.RWMutex
	status    Status
	progress  Progress
	result    *report.JobResult
	warnings  []string
	err       string
	startedAt time.Time
	doneAt    time.Time

	// collected and downHosts accumulate validated results batch by
	// batch so log queries can render partial output while the job
	// still runs.
	collected  []*report.CommandResult
	downHosts  map[string]string
	logUpdated time.Time

	// completedPairs and totalPairs drive the progress computation;
	// totalPairs grows when dynamic expansion adds phase-two tasks.
	completedPairs int
	totalPairs     int
}

// NewJob creates a job in Pending state.
func NewJob(id string) *Job {
	return &Job{ID: id, status: StatusPending}
}

// Status returns the current lifecycle state.
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Progress returns the latest progress snapshot.
func (j *Job) Progress() Progress {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.progress
}

// Result returns the aggregated result, or nil while the job runs.
func (j *Job) Result() *report.JobResult {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.result
}

// Warnings returns compile and guard warnings gathered so far.
func (j *Job) Warnings() []string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]string, len(j.warnings))
	copy(out, j.warnings)
	return out
}

// Err returns the failure message for a Failed job.
func (j *Job) Err() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

// start flips the job to Running with the initial non-zero progress so
// pollers never see a false "stuck at zero".
func (j *Job) start(totalPairs, totalCommands, totalHosts int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusRunning
	j.startedAt = time.Now()
	j.totalPairs = totalPairs
	j.progress = Progress{
		Percent:       5,
		Total:         totalPairs,
		TotalCommands: totalCommands,
		TotalHosts:    totalHosts,
		UpdatedAt:     time.Now(),
	}
}

// growTotal adjusts the pair and command totals once dynamic expansion
// is known.
func (j *Job) growTotal(extraPairs, extraCommands int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.totalPairs += extraPairs
	j.progress.Total = j.totalPairs
	j.progress.TotalCommands += extraCommands
}

// setCurrent records the task most recently started by the backend.
func (j *Job) setCurrent(host, command string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusRunning {
		return
	}
	j.progress.CurrentHost = host
	j.progress.CurrentCommand = command
	j.progress.UpdatedAt = time.Now()
}

// pairDone records one finished (host, task) pair and recomputes the
// percentage. Updates are monotonic and capped at 95.
func (j *Job) pairDone() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.completedPairs++
	j.setPercentLocked(percentFor(j.completedPairs, j.totalPairs))
}

// observePercent applies a heuristic percentage estimate.
func (j *Job) observePercent(pct int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.setPercentLocked(pct)
}

func (j *Job) setPercentLocked(pct int) {
	if pct > 95 {
		pct = 95
	}
	if pct <= j.progress.Percent {
		return
	}
	j.progress.Percent = pct
	j.progress.Completed = j.completedPairs
	j.progress.UpdatedAt = time.Now()
}

// observeResults appends one dispatched batch's validated results and
// unreachable hosts to the live log buffer.
func (j *Job) observeResults(results []*report.CommandResult, unreachable map[string]string) {
	if len(results) == 0 && len(unreachable) == 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.collected = append(j.collected, results...)
	for h, msg := range unreachable {
		if j.downHosts == nil {
			j.downHosts = make(map[string]string)
		}
		j.downHosts[h] = msg
	}
	j.logUpdated = time.Now()
}

// LiveLogs renders the logs for the results collected so far. Before
// any batch has finished the logs are empty but the call succeeds, so
// clients can tail a running job.
func (j *Job) LiveLogs() (aggregate string, hosts map[string]string, updatedAt time.Time) {
	j.mu.RLock()
	results := make([]*report.CommandResult, len(j.collected))
	copy(results, j.collected)
	down := make(map[string]string, len(j.downHosts))
	for h, msg := range j.downHosts {
		down[h] = msg
	}
	updatedAt = j.logUpdated
	j.mu.RUnlock()

	jr := report.Aggregate(j.ID, results, down)
	return jr.AggregateLog, jr.HostLogs, updatedAt
}

// complete finalizes the job with its aggregated result.
func (j *Job) complete(result *report.JobResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusCompleted
	j.result = result
	j.doneAt = time.Now()
	j.progress.Percent = 100
	j.progress.Completed = j.totalPairs
	j.progress.CurrentHost = ""
	j.progress.CurrentCommand = ""
	j.progress.UpdatedAt = j.doneAt
}

// fail finalizes the job after an infrastructure failure. A partial
// result, when present, stays queryable.
func (j *Job) fail(msg string, partial *report.JobResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusFailed
	j.err = msg
	j.result = partial
	j.doneAt = time.Now()
	j.progress.CurrentHost = ""
	j.progress.CurrentCommand = ""
	j.progress.UpdatedAt = j.doneAt
}

func (j *Job) warn(msgs ...string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.warnings = append(j.warnings, msgs...)
}

func percentFor(completed, total int) int {
	if total <= 0 {
		return 5
	}
	return 5 + completed*90/total
}

// Registry is the process-wide job table keyed by job id. Jobs enter at
// StartJob and stay until the process exits.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// Add registers a job; a duplicate id is an error.
func (r *Registry) Add(job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("job %q already exists", job.ID)
	}
	r.jobs[job.ID] = job
	return nil
}

// Get looks up a job by id.
func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	return job, ok
}

// List returns all registered jobs in unspecified order.
func (r *Registry) List() []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	return out
}
