package backend

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// localRunner executes commands with the local shell. Local hosts run
// unprivileged; no elevation wrapping is applied.
type localRunner struct{}

func (localRunner) run(ctx context.Context, command string, timeout time.Duration) (string, string, int, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
			err = nil
		} else {
			code = -1
		}
	}
	return stdout.String(), stderr.String(), code, err
}

func (localRunner) close() error { return nil }
