// Package report rolls up validated command results into a job summary
// with aggregate and per-host logs.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ormasoftchile/fleetcheck/pkg/recommend"
	"github.com/ormasoftchile/fleetcheck/pkg/validate"
)

// CommandResult is one validated command outcome on one host.
type CommandResult struct {
	Host          string           `json:"host"`
	SpecID        string           `json:"specId"`
	Title         string           `json:"title"`
	Command       string           `json:"command"`
	Comparator    string           `json:"comparator,omitempty"`
	Reference     string           `json:"reference,omitempty"`
	DisplayIndex  int              `json:"displayIndex"`
	ExpandedFrom  string           `json:"_expandedFrom,omitempty"`
	ExpandedIndex int              `json:"_expandedIndex,omitempty"`
	Stdout        string           `json:"stdout,omitempty"`
	Stderr        string           `json:"stderr,omitempty"`
	ExitCode      int              `json:"exitCode"`
	Duration      time.Duration    `json:"duration,omitempty"`
	Validation    *validate.Result `json:"validation"`
}

// Row is one logical checklist line on one host. Exploded instances of
// the same parent check collapse into a single row with the overall
// verdict the AND over sub-results.
type Row struct {
	Host            string           `json:"host"`
	DisplayIndex    int              `json:"displayIndex"`
	Title           string           `json:"title"`
	Verdict         validate.Verdict `json:"verdict"`
	Sub             []*CommandResult `json:"sub"`
	Recommendations []string         `json:"recommendations,omitempty"`
}

// HostSummary reports one host's per-row verdicts and reachability.
type HostSummary struct {
	Host       string `json:"host"`
	Reachable  bool   `json:"reachable"`
	ReachError string `json:"reachError,omitempty"`
	OK         int    `json:"ok"`
	NotOK      int    `json:"notOk"`
	Skipped    int    `json:"skipped"`
	Rows       []*Row `json:"rows"`
}

// Summary holds job-level verdict counts.
type Summary struct {
	Total   int `json:"total"`
	OK      int `json:"ok"`
	NotOK   int `json:"notOk"`
	Skipped int `json:"skipped"`
}

// JobResult is the complete outcome of one execution job.
type JobResult struct {
	JobID        string            `json:"jobId"`
	Summary      Summary           `json:"summary"`
	Hosts        []*HostSummary    `json:"hosts"`
	AggregateLog string            `json:"aggregateLog"`
	HostLogs     map[string]string `json:"hostLogs"`
	Duration     time.Duration     `json:"duration"`
	StartedAt    time.Time         `json:"startedAt"`
	FinishedAt   time.Time         `json:"finishedAt"`
}

// Aggregate groups results by host then by display index and builds the
// summary, logs, and remediation hints. Unreachable hosts appear in the
// host list with their dial error; their rows list every check that
// never ran but contribute nothing to the verdict counts.
func Aggregate(jobID string, results []*CommandResult, unreachable map[string]string) *JobResult {
	byHost := make(map[string][]*CommandResult)
	for _, r := range results {
		byHost[r.Host] = append(byHost[r.Host], r)
	}

	hostNames := make([]string, 0, len(byHost)+len(unreachable))
	for h := range byHost {
		hostNames = append(hostNames, h)
	}
	for h := range unreachable {
		if _, ok := byHost[h]; !ok {
			hostNames = append(hostNames, h)
		}
	}
	sort.Strings(hostNames)

	jr := &JobResult{
		JobID:    jobID,
		HostLogs: make(map[string]string, len(hostNames)),
	}

	var aggregate strings.Builder
	for _, host := range hostNames {
		if msg, down := unreachable[host]; down {
			hs := &HostSummary{Host: host, Reachable: false, ReachError: msg}
			if rs := byHost[host]; len(rs) > 0 {
				hs.Rows = aggregateHost(host, rs).Rows
			}
			jr.Hosts = append(jr.Hosts, hs)

			var b strings.Builder
			fmt.Fprintf(&b, "[%s] UNREACHABLE: %s\n", host, msg)
			for _, row := range hs.Rows {
				fmt.Fprintf(&b, "[%d] %s: UNREACHABLE\n", row.DisplayIndex, row.Title)
			}
			log := b.String()
			aggregate.WriteString(log)
			jr.HostLogs[host] = log
			continue
		}

		hs := aggregateHost(host, byHost[host])
		jr.Hosts = append(jr.Hosts, hs)
		jr.Summary.OK += hs.OK
		jr.Summary.NotOK += hs.NotOK
		jr.Summary.Skipped += hs.Skipped

		log := renderHostLog(hs)
		jr.HostLogs[host] = log
		aggregate.WriteString(log)
	}
	jr.Summary.Total = jr.Summary.OK + jr.Summary.NotOK + jr.Summary.Skipped
	jr.AggregateLog = aggregate.String()
	return jr
}

// aggregateHost rolls one host's results into per-display-index rows.
func aggregateHost(host string, results []*CommandResult) *HostSummary {
	byIndex := make(map[int][]*CommandResult)
	var order []int
	for _, r := range results {
		if _, seen := byIndex[r.DisplayIndex]; !seen {
			order = append(order, r.DisplayIndex)
		}
		byIndex[r.DisplayIndex] = append(byIndex[r.DisplayIndex], r)
	}
	sort.Ints(order)

	hs := &HostSummary{Host: host, Reachable: true}
	for _, idx := range order {
		sub := byIndex[idx]
		sort.SliceStable(sub, func(i, j int) bool { return sub[i].ExpandedIndex < sub[j].ExpandedIndex })

		row := &Row{Host: host, DisplayIndex: idx, Sub: sub}
		row.Title = sub[0].Title
		if sub[0].ExpandedFrom != "" {
			row.Title = strings.TrimSpace(strings.SplitN(sub[0].Title, "(", 2)[0])
		}
		row.Verdict = rollup(sub)

		if row.Verdict == validate.VerdictNotOK {
			for _, r := range sub {
				if r.Validation != nil && r.Validation.Verdict == validate.VerdictNotOK {
					row.Recommendations = recommend.Recommend(r.Command, r.Stdout, r.Stderr)
					break
				}
			}
		}

		switch row.Verdict {
		case validate.VerdictOK:
			hs.OK++
		case validate.VerdictNotOK:
			hs.NotOK++
		case validate.VerdictSkipped:
			hs.Skipped++
		}
		hs.Rows = append(hs.Rows, row)
	}
	return hs
}

// rollup computes a row verdict: NotOK if any sub-result failed, OK if
// at least one passed, Skipped only when every sub-result was skipped.
func rollup(sub []*CommandResult) validate.Verdict {
	allSkipped := true
	for _, r := range sub {
		if r.Validation == nil {
			continue
		}
		switch r.Validation.Verdict {
		case validate.VerdictNotOK:
			return validate.VerdictNotOK
		case validate.VerdictOK:
			allSkipped = false
		}
	}
	if allSkipped {
		return validate.VerdictSkipped
	}
	return validate.VerdictOK
}

// renderHostLog renders one host's rows in the fixed log layout.
func renderHostLog(hs *HostSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== %s (ok:%d notOk:%d skipped:%d) ===\n", hs.Host, hs.OK, hs.NotOK, hs.Skipped)
	for _, row := range hs.Rows {
		fmt.Fprintf(&b, "[%d] %s: %s\n", row.DisplayIndex, row.Title, row.Verdict)
		for _, r := range row.Sub {
			fmt.Fprintf(&b, "    command:  %s\n", r.Command)
			if r.Validation != nil && r.Validation.Verdict == validate.VerdictSkipped {
				fmt.Fprintf(&b, "    decision: Skipped (%s)\n", r.Validation.Diagnostics)
				continue
			}
			if r.Comparator != "" {
				fmt.Fprintf(&b, "    expected: %s\n", validate.RenderReference(r.Comparator, r.Reference))
			}
			fmt.Fprintf(&b, "    result:   %s\n", firstLineOrEmpty(r.Stdout))
			if r.Validation != nil {
				fmt.Fprintf(&b, "    decision: %s\n", r.Validation.Verdict)
				if r.Validation.Diagnostics != "" && r.Validation.Verdict == validate.VerdictNotOK {
					fmt.Fprintf(&b, "    detail:   %s\n", r.Validation.Diagnostics)
				}
			}
		}
		for _, rec := range row.Recommendations {
			fmt.Fprintf(&b, "    hint:     %s\n", rec)
		}
	}
	return b.String()
}

func firstLineOrEmpty(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(empty)"
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
