package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ormasoftchile/fleetcheck/pkg/backend"
	"github.com/ormasoftchile/fleetcheck/pkg/compiler"
	"github.com/ormasoftchile/fleetcheck/pkg/expand"
	"github.com/ormasoftchile/fleetcheck/pkg/redact"
	"github.com/ormasoftchile/fleetcheck/pkg/report"
	"github.com/ormasoftchile/fleetcheck/pkg/schema"
	"github.com/ormasoftchile/fleetcheck/pkg/validate"
)

// Store persists finished job results. Persistence is best-effort: a
// store failure is logged, never fatal.
type Store interface {
	SaveJobResult(jr *report.JobResult) error
}

// Coordinator runs checklist jobs. BackendFactory must return a fresh
// one-shot backend per call since backends own their event channel.
type Coordinator struct {
	BackendFactory func() backend.Backend
	Registry       *Registry

	// Optional collaborators.
	Store    Store
	TraceDir string
	Redact   []*redact.CompiledRule

	// heuristicTaskDur feeds the time-based progress fallback when the
	// backend has no event stream.
	heuristicTaskDur time.Duration
}

// NewCoordinator wires a coordinator over a registry.
func NewCoordinator(factory func() backend.Backend, reg *Registry) *Coordinator {
	return &Coordinator{
		BackendFactory:   factory,
		Registry:         reg,
		heuristicTaskDur: 2 * time.Second,
	}
}

// StartJob registers a job for the checklist and launches it in the
// background, returning immediately with the job id. An empty id gets a
// generated UUID; a duplicate id is refused.
func (c *Coordinator) StartJob(ctx context.Context, jobID string, list *schema.Checklist, hosts []schema.Host) (string, error) {
	if jobID == "" {
		jobID = uuid.NewString()
	}
	job := NewJob(jobID)
	if err := c.Registry.Add(job); err != nil {
		return "", err
	}
	go c.run(ctx, job, list, hosts)
	return jobID, nil
}

// run executes the job end to end. Command failures become NotOK rows;
// only infrastructure failure flips the job to Failed, and any partial
// raw result already obtained is still aggregated.
func (c *Coordinator) run(ctx context.Context, job *Job, list *schema.Checklist, hosts []schema.Host) {
	varCtx := list.Variables()

	// Dynamic-reference specs bypass static substitution so their bound
	// placeholder survives until phase-two expansion.
	var staticRaw, dynamic []schema.CheckSpec
	for _, spec := range list.Checks {
		if spec.DynamicRef != nil {
			dynamic = append(dynamic, spec)
		} else {
			staticRaw = append(staticRaw, spec)
		}
	}
	static := expand.Expand(staticRaw, varCtx)
	if len(static) == 0 {
		job.start(0, 0, 0)
		job.fail("checklist has no statically runnable checks", nil)
		return
	}

	graph, inventory, err := compiler.Compile(static, hosts)
	if err != nil {
		job.start(0, 0, 0)
		job.fail(err.Error(), nil)
		return
	}
	job.warn(graph.Warnings...)

	// Reserve one estimated pair per dynamic spec so phase one does not
	// race to 95% before expansion is known.
	job.start(len(graph.Tasks)*len(inventory)+len(dynamic)*len(inventory),
		len(graph.Tasks)+len(dynamic), len(inventory))

	credRules := redact.CredentialRules(inventory)

	var results []*report.CommandResult
	unreachable := make(map[string]string)

	phase1, err := c.dispatch(ctx, job, graph.Tasks, inventory, nil)
	if phase1 != nil {
		batch := c.collect(graph.Tasks, inventory, phase1, credRules)
		batch = append(batch, downResults(graph.Tasks, phase1.Unreachable)...)
		results = append(results, batch...)
		job.observeResults(batch, phase1.Unreachable)
		for h, msg := range phase1.Unreachable {
			unreachable[h] = msg
		}
	}
	if err != nil {
		c.finishFailed(job, fmt.Sprintf("dispatch failed: %v", err), results, unreachable)
		return
	}

	if len(dynamic) > 0 {
		tasks2, seed, synthetic, err := c.preparePhaseTwo(job, static, dynamic, varCtx, hosts, graph, phase1, inventory)
		results = append(results, synthetic...)
		job.observeResults(synthetic, nil)
		if err != nil {
			c.finishFailed(job, err.Error(), results, unreachable)
			return
		}
		if len(tasks2) > 0 {
			phase2, err := c.dispatch(ctx, job, tasks2, inventory, seed)
			if phase2 != nil {
				batch := c.collect(tasks2, inventory, phase2, credRules)
				batch = append(batch, downResults(tasks2, phase2.Unreachable)...)
				results = append(results, batch...)
				job.observeResults(batch, phase2.Unreachable)
				for h, msg := range phase2.Unreachable {
					unreachable[h] = msg
				}
			}
			if err != nil {
				c.finishFailed(job, fmt.Sprintf("dispatch failed: %v", err), results, unreachable)
				return
			}
		}
	}

	c.finish(job, results, unreachable)
}

// dispatch runs one compiled batch through a fresh backend while the
// progress monitor consumes its event stream.
func (c *Coordinator) dispatch(ctx context.Context, job *Job, tasks []compiler.Task, hosts []compiler.HostSpec, seed backend.Seed) (*backend.RunResult, error) {
	be := c.BackendFactory()

	commands := make(map[string]string, len(tasks))
	for _, t := range tasks {
		commands[t.Handle] = t.Command
	}

	monitorDone := make(chan struct{})
	if src, ok := be.(backend.EventSource); ok {
		go c.monitorEvents(job, src.Events(), commands, monitorDone)
	} else {
		go c.monitorHeuristic(job, len(tasks)*len(hosts), monitorDone)
	}
	defer close(monitorDone)

	return be.Execute(ctx, tasks, hosts, seed)
}

// monitorEvents advances progress from per-task-per-host backend events
// and tracks the in-flight host and command for status queries.
func (c *Coordinator) monitorEvents(job *Job, events <-chan backend.Event, commands map[string]string, done <-chan struct{}) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case backend.EventTaskStarted:
				job.setCurrent(ev.Host, commands[ev.Handle])
			case backend.EventTaskFinished:
				job.pairDone()
			}
		case <-done:
			// Drain whatever the backend already emitted.
			for ev := range events {
				if ev.Type == backend.EventTaskFinished {
					job.pairDone()
				}
			}
			return
		}
	}
}

// monitorHeuristic interpolates progress from elapsed time against an
// assumed average duration per pair.
func (c *Coordinator) monitorHeuristic(job *Job, pairs int, done <-chan struct{}) {
	if pairs <= 0 {
		<-done
		return
	}
	expected := c.heuristicTaskDur * time.Duration(pairs)
	start := time.Now()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			frac := float64(time.Since(start)) / float64(expected)
			job.observePercent(5 + int(frac*90))
		case <-done:
			return
		}
	}
}

// preparePhaseTwo expands dynamic-reference specs against phase-one
// outputs and compiles the resulting batch. It also applies imperative
// skip evaluation: a guard true on every host removes the task from the
// batch and synthesizes per-host skipped results.
func (c *Coordinator) preparePhaseTwo(job *Job, static, dynamic []schema.CheckSpec, varCtx schema.VariableContext, hosts []schema.Host, g1 *compiler.Graph, phase1 *backend.RunResult, inventory []compiler.HostSpec) ([]compiler.Task, backend.Seed, []*report.CommandResult, error) {
	var expanded []schema.CheckSpec
	for _, spec := range dynamic {
		ref := spec.DynamicRef
		handle, ok := g1.Handles[ref.Source]
		if !ok {
			return nil, nil, nil, fmt.Errorf("check %q: dynamic reference to unknown check %q", spec.ID, ref.Source)
		}
		values := c.dynamicValues(static, ref, handle, phase1)
		job.growTotal((len(values)-1)*len(inventory), len(values)-1)
		expanded = append(expanded, expand.ExpandDynamic(spec, values, varCtx)...)
	}
	if len(expanded) == 0 {
		return nil, nil, nil, nil
	}

	// Compile against the full spec list so skip-condition references to
	// phase-one checks resolve; then keep only the new tasks.
	combined := append(append([]schema.CheckSpec{}, static...), expanded...)
	g2, _, err := compiler.Compile(combined, hosts)
	if err != nil {
		return nil, nil, nil, err
	}
	job.warn(g2.Warnings...)

	newIDs := make(map[string]bool, len(expanded))
	for _, spec := range expanded {
		newIDs[spec.ID] = true
	}

	// Guards compiled in phase two reference the graph's handles, and
	// parent ids already route to their first exploded sibling's handle
	// at compile time, so seeding the raw phase-one outputs is enough.
	seed := make(backend.Seed, len(inventory))
	for _, h := range inventory {
		perHost := make(map[string]string)
		for handle, out := range phase1.Outputs[h.Name()] {
			perHost[handle] = out.Stdout
		}
		seed[h.Name()] = perHost
	}

	var tasks []compiler.Task
	var synthetic []*report.CommandResult
	for _, task := range g2.Tasks {
		if !newIDs[task.SpecID] {
			continue
		}
		if task.Guard != nil && c.skipOnAllHosts(task, inventory, seed) {
			for _, h := range inventory {
				synthetic = append(synthetic, skippedResult(task, h.Name()))
			}
			job.growTotal(-len(inventory), -1)
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, seed, synthetic, nil
}

// dynamicValues collects the distinct trigger values for a dynamic
// reference across hosts, honoring the requested output field.
func (c *Coordinator) dynamicValues(static []schema.CheckSpec, ref *schema.DynamicRef, handle string, phase1 *backend.RunResult) []string {
	field := ref.FieldOrDefault()
	if field != "extracted" {
		return expand.DistinctValues(phase1.CollectField(handle, field))
	}

	// The extracted field re-applies the source check's extraction to
	// each host's stdout before deduplication.
	method := ""
	for _, spec := range static {
		if spec.ID == ref.Source || spec.ExpandedFrom == ref.Source {
			method = spec.Extract
			break
		}
	}
	var values []string
	for _, stdout := range phase1.CollectField(handle, "stdout") {
		ext, err := validate.Extract(stdout, method)
		if err != nil {
			continue
		}
		values = append(values, ext.Value)
	}
	return expand.DistinctValues(values)
}

// skipOnAllHosts reports whether the task's guard holds on every host.
func (c *Coordinator) skipOnAllHosts(task compiler.Task, hosts []compiler.HostSpec, seed backend.Seed) bool {
	for _, h := range hosts {
		skip, err := task.Guard.Eval(seed[h.Name()])
		if err != nil || !skip {
			return false
		}
	}
	return true
}

// collect turns raw backend outputs into validated command results.
func (c *Coordinator) collect(tasks []compiler.Task, hosts []compiler.HostSpec, raw *backend.RunResult, credRules []*redact.CompiledRule) []*report.CommandResult {
	rules := append(append([]*redact.CompiledRule{}, c.Redact...), credRules...)

	var results []*report.CommandResult
	for _, h := range hosts {
		outputs, ok := raw.Outputs[h.Name()]
		if !ok {
			continue
		}
		for _, task := range tasks {
			out, ok := outputs[task.Handle]
			if !ok {
				continue
			}
			cr := &report.CommandResult{
				Host:          h.Name(),
				SpecID:        task.SpecID,
				Title:         task.Title,
				Command:       task.Command,
				Comparator:    task.Comparator,
				Reference:     task.Reference,
				DisplayIndex:  task.DisplayIndex,
				ExpandedFrom:  task.ExpandedFrom,
				ExpandedIndex: task.ExpandedIndex,
				Stdout:        redact.Apply(out.Stdout, rules),
				Stderr:        redact.Apply(out.Stderr, rules),
				ExitCode:      out.ExitCode,
				Duration:      out.Duration,
			}
			if out.Skipped {
				cr.Validation = validate.Skipped(out.SkipReason)
			} else {
				cr.Validation = validate.Validate(cr.Stdout, task.Extract, task.Comparator, task.Reference, task.Validator)
			}
			results = append(results, cr)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Host != results[j].Host {
			return results[i].Host < results[j].Host
		}
		if results[i].DisplayIndex != results[j].DisplayIndex {
			return results[i].DisplayIndex < results[j].DisplayIndex
		}
		return results[i].ExpandedIndex < results[j].ExpandedIndex
	})
	return results
}

// downResults synthesizes per-check results for hosts the batch never
// reached, so per-check accounting stays complete. The aggregator lists
// them under the unreachable host without counting them.
func downResults(tasks []compiler.Task, unreachable map[string]string) []*report.CommandResult {
	var results []*report.CommandResult
	for host, msg := range unreachable {
		for _, task := range tasks {
			results = append(results, &report.CommandResult{
				Host:          host,
				SpecID:        task.SpecID,
				Title:         task.Title,
				Command:       task.Command,
				Comparator:    task.Comparator,
				Reference:     task.Reference,
				DisplayIndex:  task.DisplayIndex,
				ExpandedFrom:  task.ExpandedFrom,
				ExpandedIndex: task.ExpandedIndex,
				Validation:    validate.Skipped("host unreachable: " + msg),
			})
		}
	}
	return results
}

// skippedResult synthesizes a skipped command result for a host.
func skippedResult(task compiler.Task, host string) *report.CommandResult {
	return &report.CommandResult{
		Host:          host,
		SpecID:        task.SpecID,
		Title:         task.Title,
		Command:       task.Command,
		Comparator:    task.Comparator,
		Reference:     task.Reference,
		DisplayIndex:  task.DisplayIndex,
		ExpandedFrom:  task.ExpandedFrom,
		ExpandedIndex: task.ExpandedIndex,
		Validation:    validate.Skipped(task.SkipReason),
	}
}

// finish aggregates, persists, traces, and completes the job.
func (c *Coordinator) finish(job *Job, results []*report.CommandResult, unreachable map[string]string) {
	jr := c.aggregate(job, results, unreachable)
	job.complete(jr)
}

// finishFailed aggregates whatever partial results exist, then marks
// the job Failed with the infrastructure error.
func (c *Coordinator) finishFailed(job *Job, msg string, results []*report.CommandResult, unreachable map[string]string) {
	var partial *report.JobResult
	if len(results) > 0 || len(unreachable) > 0 {
		partial = c.aggregate(job, results, unreachable)
	}
	job.fail(msg, partial)
}

func (c *Coordinator) aggregate(job *Job, results []*report.CommandResult, unreachable map[string]string) *report.JobResult {
	jr := report.Aggregate(job.ID, results, unreachable)
	jr.StartedAt = job.startedAt
	jr.FinishedAt = time.Now()
	jr.Duration = jr.FinishedAt.Sub(jr.StartedAt)

	if c.TraceDir != "" {
		c.writeTrace(job.ID, results)
	}
	if c.Store != nil {
		if err := c.Store.SaveJobResult(jr); err != nil {
			fmt.Fprintf(os.Stderr, "warning: persist job %s: %v\n", job.ID, err)
		}
	}
	return jr
}

func (c *Coordinator) writeTrace(jobID string, results []*report.CommandResult) {
	path := filepath.Join(c.TraceDir, jobID+".trace.jsonl")
	tw, err := NewTraceWriter(path, jobID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: open trace for job %s: %v\n", jobID, err)
		return
	}
	defer tw.Close()
	for _, r := range results {
		if err := tw.Write(r); err != nil {
			fmt.Fprintf(os.Stderr, "warning: trace job %s: %v\n", jobID, err)
			return
		}
	}
}
