package backend

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/fleetcheck/pkg/compiler"
)

// Scenario holds pre-recorded outputs for offline checklist execution:
// host address → check id → output. Exploded instances fall back to
// their parent id, then to the scenario default. Fail-closed: a check
// with no entry and no default aborts the batch. Hosts listed under
// unreachable replay a connection failure instead of outputs.
type Scenario struct {
	Hosts       map[string]map[string]*ScenarioOutput `yaml:"hosts"`
	Default     *ScenarioOutput                       `yaml:"default,omitempty"`
	Unreachable map[string]string                     `yaml:"unreachable,omitempty"`
}

// ScenarioOutput is one pre-recorded command outcome.
type ScenarioOutput struct {
	Stdout   string `yaml:"stdout,omitempty"`
	Stderr   string `yaml:"stderr,omitempty"`
	ExitCode int    `yaml:"exit_code,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML bytes.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if len(s.Hosts) == 0 && s.Default == nil {
		return nil, fmt.Errorf("scenario must record at least one host or a default output")
	}
	return &s, nil
}

// ReplayBackend serves pre-recorded outputs instead of reaching hosts.
// Guards are still evaluated so skip semantics match a live run. It is
// also the test double for the execution coordinator.
type ReplayBackend struct {
	scenario *Scenario

	// TaskDelay, when set, sleeps between tasks so progress can be
	// observed mid-flight in tests.
	TaskDelay time.Duration

	events chan Event
}

// NewReplayBackend creates a one-shot replay backend from a scenario.
func NewReplayBackend(s *Scenario) *ReplayBackend {
	return &ReplayBackend{
		scenario: s,
		events:   make(chan Event, 256),
	}
}

// Events exposes the per-task progress stream.
func (b *ReplayBackend) Events() <-chan Event {
	return b.events
}

// Execute replays the batch host by host, tasks in compiled order.
func (b *ReplayBackend) Execute(ctx context.Context, tasks []compiler.Task, hosts []compiler.HostSpec, seed Seed) (*RunResult, error) {
	defer close(b.events)

	if len(tasks) == 0 || len(hosts) == 0 {
		return nil, fmt.Errorf("replay backend: empty batch (%d tasks, %d hosts)", len(tasks), len(hosts))
	}

	result := NewRunResult()
	for _, h := range hosts {
		if msg, down := b.scenario.Unreachable[h.Name()]; down {
			result.Unreachable[h.Name()] = msg
			continue
		}

		results := make(map[string]string, len(tasks))
		for handle, stdout := range seed[h.Name()] {
			results[handle] = stdout
		}

		for _, task := range tasks {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			b.emit(Event{Type: EventTaskStarted, Host: h.Name(), Handle: task.Handle, At: time.Now()})
			if b.TaskDelay > 0 {
				time.Sleep(b.TaskDelay)
			}

			out := &TaskOutput{Host: h.Name(), Handle: task.Handle}
			skipped := false
			if task.Guard != nil {
				if skip, err := task.Guard.Eval(results); err == nil && skip {
					out.Skipped = true
					out.SkipReason = task.SkipReason
					skipped = true
				}
			}
			if !skipped {
				rec, err := b.lookup(h.Name(), task)
				if err != nil {
					return result, err
				}
				out.Stdout = rec.Stdout
				out.Stderr = rec.Stderr
				out.ExitCode = rec.ExitCode
			}

			results[task.Handle] = out.Stdout
			result.record(out)
			b.emit(Event{Type: EventTaskFinished, Host: h.Name(), Handle: task.Handle, At: time.Now()})
		}
	}
	return result, nil
}

// lookup finds the recorded output for a task on a host.
func (b *ReplayBackend) lookup(host string, task compiler.Task) (*ScenarioOutput, error) {
	if byCheck, ok := b.scenario.Hosts[host]; ok {
		if rec, ok := byCheck[task.SpecID]; ok {
			return rec, nil
		}
		if task.ExpandedFrom != "" {
			if rec, ok := byCheck[task.ExpandedFrom]; ok {
				return rec, nil
			}
		}
	}
	if b.scenario.Default != nil {
		return b.scenario.Default, nil
	}
	return nil, fmt.Errorf("replay: no scenario entry for check %q on host %q", task.SpecID, host)
}

func (b *ReplayBackend) emit(ev Event) {
	select {
	case b.events <- ev:
	default:
	}
}
