package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/fleetcheck/pkg/backend"
	"github.com/ormasoftchile/fleetcheck/pkg/diagram"
	"github.com/ormasoftchile/fleetcheck/pkg/runtime"
	"github.com/ormasoftchile/fleetcheck/pkg/schema"
	"github.com/ormasoftchile/fleetcheck/pkg/serve"
	"github.com/ormasoftchile/fleetcheck/pkg/store"
	"github.com/ormasoftchile/fleetcheck/pkg/tui"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	loadDotEnv() // load .env file if present (gitignored)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv reads a .env file from the working directory and sets
// any variables that aren't already set in the environment.
// Lines are KEY=VALUE (or KEY="VALUE"). Comments (#) and blanks are skipped.
// The .env file is gitignored so credentials never end up in source control.
func loadDotEnv() {
	f, err := os.Open(".env")
	if err != nil {
		return // no .env file — that's fine
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		val = strings.Trim(val, `"'`)
		// Don't overwrite existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "fleetcheck",
	Short: "Checklist execution and validation engine",
	Long:  "fleetcheck — compile shell checklists into task graphs and run them across a host fleet with validation, skip conditions, and remediation hints.",
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [checklist.yaml]",
	Short: "Validate a checklist YAML file against the schema",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	filePath := args[0]

	cl, errs := schema.ValidateFile(filePath)
	if len(errs) > 0 {
		var errors []*schema.ValidationError
		var warnings []*schema.ValidationError
		for _, e := range errs {
			if e.Severity == "warning" {
				warnings = append(warnings, e)
			} else {
				errors = append(errors, e)
			}
		}
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "  ⚠ [%s] %s\n", w.Phase, w.Message)
			if w.Path != "" {
				fmt.Fprintf(os.Stderr, "    at: %s\n", w.Path)
			}
		}
		if len(errors) > 0 {
			fmt.Fprintf(os.Stderr, "Validation failed: %d error(s)\n\n", len(errors))
			for i, e := range errors {
				fmt.Fprintf(os.Stderr, "  %d. [%s] %s\n", i+1, e.Phase, e.Message)
				if e.Path != "" {
					fmt.Fprintf(os.Stderr, "     at: %s\n", e.Path)
				}
			}
			return fmt.Errorf("validation failed with %d error(s)", len(errors))
		}
	}
	fmt.Printf("✓ %s is valid (%d checks)\n", cl.Meta.Name, len(cl.Checks))
	return nil
}

// --- run ---

var (
	runInventory string
	runScenario  string
	runJobID     string
	runTraceDir  string
	runDB        string
	runFanOut    int
	runTUI       bool
	runNoWait    bool
)

var runCmd = &cobra.Command{
	Use:   "run [checklist.yaml]",
	Short: "Run a checklist against an inventory of hosts",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	filePath := args[0]

	cl, errs := schema.ValidateFile(filePath)
	if schema.HasErrors(errs) {
		for _, e := range errs {
			if e.Severity != "warning" {
				fmt.Fprintf(os.Stderr, "  [%s] %s\n", e.Phase, e.Message)
			}
		}
		return fmt.Errorf("checklist validation failed")
	}
	printValidationWarnings(errs)

	inv, err := schema.LoadInventoryFile(runInventory)
	if err != nil {
		return fmt.Errorf("load inventory: %w", err)
	}
	if errs := schema.ValidateInventory(inv); len(errs) > 0 {
		printValidationWarnings(errs)
		if schema.HasErrors(errs) {
			for _, e := range errs {
				if e.Severity != "warning" {
					fmt.Fprintf(os.Stderr, "  [%s] %s\n", e.Phase, e.Message)
				}
			}
			return fmt.Errorf("inventory validation failed")
		}
	}

	coord, closeStore, err := buildCoordinator()
	if err != nil {
		return err
	}
	defer closeStore()

	jobID, err := coord.StartJob(context.Background(), runJobID, cl, inv.Hosts)
	if err != nil {
		return err
	}
	fmt.Printf("Job ID: %s\n", jobID)

	if runNoWait {
		return nil
	}
	if runTUI {
		return tui.Run(coord.Registry, jobID)
	}
	return waitWithProgress(coord.Registry, jobID)
}

// buildCoordinator wires the backend factory, registry, and optional
// store and trace dir from the run flags.
func buildCoordinator() (*runtime.Coordinator, func(), error) {
	var factory func() backend.Backend
	if runScenario != "" {
		scenario, err := backend.LoadScenario(runScenario)
		if err != nil {
			return nil, nil, fmt.Errorf("load scenario: %w", err)
		}
		factory = func() backend.Backend { return backend.NewReplayBackend(scenario) }
		fmt.Printf("  [replay] Loaded scenario from %s\n", runScenario)
	} else {
		factory = func() backend.Backend {
			be := backend.NewSSHBackend()
			if runFanOut > 0 {
				be.FanOut = int64(runFanOut)
			}
			return be
		}
	}

	coord := runtime.NewCoordinator(factory, runtime.NewRegistry())
	coord.TraceDir = runTraceDir

	closeStore := func() {}
	if runDB != "" {
		st, err := store.Open(runDB)
		if err != nil {
			return nil, nil, err
		}
		coord.Store = st
		closeStore = func() { st.Close() }
	}
	return coord, closeStore, nil
}

// waitWithProgress polls the job and renders a terminal progress bar
// until the job reaches a terminal state, then prints the summary.
func waitWithProgress(registry *runtime.Registry, jobID string) error {
	job, ok := registry.Get(jobID)
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("running"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	for !job.Status().Terminal() {
		bar.Set(job.Progress().Percent)
		time.Sleep(200 * time.Millisecond)
	}
	bar.Set(100)
	bar.Finish()

	for _, w := range job.Warnings() {
		fmt.Fprintf(os.Stderr, "  ⚠ %s\n", w)
	}

	if job.Status() == runtime.StatusFailed {
		if jr := job.Result(); jr != nil {
			fmt.Print(jr.AggregateLog)
		}
		return fmt.Errorf("job failed: %s", job.Err())
	}

	jr := job.Result()
	fmt.Print(jr.AggregateLog)
	fmt.Printf("\nOK %d  NotOK %d  Skipped %d  Total %d  (%s)\n",
		jr.Summary.OK, jr.Summary.NotOK, jr.Summary.Skipped, jr.Summary.Total,
		jr.Duration.Round(time.Millisecond))
	if jr.Summary.NotOK > 0 {
		os.Exit(1)
	}
	return nil
}

func printValidationWarnings(errs []*schema.ValidationError) {
	for _, e := range errs {
		if e.Severity == "warning" {
			fmt.Fprintf(os.Stderr, "  ⚠ [%s] %s\n", e.Phase, e.Message)
		}
	}
}

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "JSON Schema utilities",
}

var schemaExportType string

var schemaExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the checklist or inventory JSON Schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		var data []byte
		var err error
		switch schemaExportType {
		case "checklist":
			data, err = schema.GenerateJSONSchema()
		case "inventory":
			data, err = schema.GenerateInventoryJSONSchema()
		default:
			return fmt.Errorf("unknown schema type %q — use 'checklist' or 'inventory'", schemaExportType)
		}
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

// --- graph ---

var graphFormat string

var graphCmd = &cobra.Command{
	Use:   "graph [checklist.yaml]",
	Short: "Render the checklist task graph as a diagram",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cl, errs := schema.ValidateFile(args[0])
		if schema.HasErrors(errs) {
			return fmt.Errorf("checklist validation failed: %v", errs[0].Message)
		}
		out, err := diagram.Generate(cl, diagram.Format(graphFormat))
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

// --- serve ---

var (
	serveTraceDir string
	serveDB       string
	serveScenario string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the JSON-RPC job server over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		runScenario = serveScenario
		runTraceDir = serveTraceDir
		runDB = serveDB
		coord, closeStore, err := buildCoordinator()
		if err != nil {
			return err
		}
		defer closeStore()
		return serve.New(coord).Run()
	},
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("fleetcheck %s (build: %s)\n", version, commit)
	},
}

func init() {
	// run flags
	runCmd.Flags().StringVarP(&runInventory, "inventory", "i", "inventory.yaml", "Path to the host inventory YAML")
	runCmd.Flags().StringVar(&runScenario, "scenario", "", "Replay scenario YAML (skips real execution)")
	runCmd.Flags().StringVar(&runJobID, "job-id", "", "Explicit job id (default: generated UUID)")
	runCmd.Flags().StringVar(&runTraceDir, "trace-dir", "", "Directory for JSONL trace files")
	runCmd.Flags().StringVar(&runDB, "db", "", "SQLite database for persisted results")
	runCmd.Flags().IntVar(&runFanOut, "fanout", 0, "Max concurrent host connections (default 50)")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Watch the run in a live terminal UI")
	runCmd.Flags().BoolVar(&runNoWait, "no-wait", false, "Start the job and exit without waiting")

	// serve flags
	serveCmd.Flags().StringVar(&serveScenario, "scenario", "", "Replay scenario YAML for all jobs")
	serveCmd.Flags().StringVar(&serveTraceDir, "trace-dir", "", "Directory for JSONL trace files")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "SQLite database for persisted results")

	// schema subcommands
	schemaExportCmd.Flags().StringVar(&schemaExportType, "type", "checklist", "Schema to export: checklist or inventory")
	schemaCmd.AddCommand(schemaExportCmd)

	// graph flags
	graphCmd.Flags().StringVar(&graphFormat, "format", "mermaid", "Diagram format: mermaid or ascii")

	// root subcommands
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
