package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ormasoftchile/fleetcheck/pkg/backend"
	"github.com/ormasoftchile/fleetcheck/pkg/runtime"
	"github.com/ormasoftchile/fleetcheck/pkg/schema"
)

// HandleValidate implements the fleetcheck/validate MCP tool.
func HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	// Detect inventory vs checklist
	if isInventoryFile(path) {
		inv, err := schema.LoadInventoryFile(path)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		errs := schema.ValidateInventory(inv)
		if schema.HasErrors(errs) {
			return errorResult(formatErrors(errs)), nil
		}
		return textResult(fmt.Sprintf("✓ inventory is valid (%d hosts)", len(inv.Hosts))), nil
	}

	cl, errs := schema.ValidateFile(path)
	if schema.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	return textResult(fmt.Sprintf("✓ %s is valid (%d checks)", cl.Meta.Name, len(cl.Checks))), nil
}

// HandleSchema implements the fleetcheck/schema MCP tool.
func HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	schemaType, _ := args["type"].(string)

	var data []byte
	var err error

	switch schemaType {
	case "checklist":
		data, err = schema.GenerateJSONSchema()
	case "inventory":
		data, err = schema.GenerateInventoryJSONSchema()
	default:
		return errorResult(fmt.Sprintf("unknown schema type %q — use 'checklist' or 'inventory'", schemaType)), nil
	}

	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// HandleRun implements the fleetcheck/run MCP tool. The run is
// synchronous from the caller's perspective: the handler waits for the
// job to reach a terminal state.
func HandleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	checklistPath, _ := args["checklist"].(string)
	inventoryPath, _ := args["inventory"].(string)
	if checklistPath == "" || inventoryPath == "" {
		return errorResult("checklist and inventory arguments are required"), nil
	}

	cl, errs := schema.ValidateFile(checklistPath)
	if schema.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	inv, err := schema.LoadInventoryFile(inventoryPath)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if errs := schema.ValidateInventory(inv); schema.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}

	var factory func() backend.Backend
	if scenarioPath, _ := args["scenario"].(string); scenarioPath != "" {
		scenario, err := backend.LoadScenario(scenarioPath)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		factory = func() backend.Backend { return backend.NewReplayBackend(scenario) }
	} else {
		factory = func() backend.Backend { return backend.NewSSHBackend() }
	}

	coord := runtime.NewCoordinator(factory, runtime.NewRegistry())
	jobID, err := coord.StartJob(ctx, "", cl, inv.Hosts)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	job, _ := coord.Registry.Get(jobID)
	for !job.Status().Terminal() {
		select {
		case <-ctx.Done():
			return errorResult("run cancelled"), nil
		case <-time.After(200 * time.Millisecond):
		}
	}

	response := map[string]any{
		"jobId":  jobID,
		"status": string(job.Status()),
	}
	if jr := job.Result(); jr != nil {
		response["summary"] = jr.Summary
		response["duration"] = jr.Duration.String()
		response["log"] = jr.AggregateLog
	}
	if errMsg := job.Err(); errMsg != "" {
		response["error"] = errMsg
	}

	data, _ := json.MarshalIndent(response, "", "  ")

	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: job.Status() == runtime.StatusFailed,
	}, nil
}

// isInventoryFile checks if a file is a host inventory.
func isInventoryFile(path string) bool {
	return strings.Contains(path, "inventory")
}

func formatErrors(errs []*schema.ValidationError) string {
	var msgs []string
	for _, e := range errs {
		if e.Severity == "error" {
			msgs = append(msgs, fmt.Sprintf("[%s] %s", e.Phase, e.Message))
		}
	}
	return strings.Join(msgs, "; ")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
