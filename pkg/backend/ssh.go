package backend

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/semaphore"

	"github.com/ormasoftchile/fleetcheck/pkg/compiler"
)

// defaultFanOut bounds concurrent host connections.
const defaultFanOut = 50

// defaultTaskTimeout applies when a task declares none.
const defaultTaskTimeout = 60 * time.Second

// SSHBackend runs tasks over SSH, dispatching hosts in parallel up to a
// bounded fan-out while keeping per-host task order strictly sequential.
// Local inventory entries are executed with the local shell instead.
//
// An SSHBackend instance serves one Execute call; its event channel is
// closed when the batch completes.
type SSHBackend struct {
	FanOut         int64
	ConnectTimeout time.Duration

	events chan Event
}

// NewSSHBackend returns a backend with default fan-out and timeouts.
func NewSSHBackend() *SSHBackend {
	return &SSHBackend{
		FanOut:         defaultFanOut,
		ConnectTimeout: 10 * time.Second,
		events:         make(chan Event, 256),
	}
}

// Events exposes the per-task progress stream.
func (b *SSHBackend) Events() <-chan Event {
	return b.events
}

// Execute dispatches the batch. A host that cannot be reached is
// recorded in Unreachable; its tasks produce no outputs. Execute only
// errors when the batch itself is unusable.
func (b *SSHBackend) Execute(ctx context.Context, tasks []compiler.Task, hosts []compiler.HostSpec, seed Seed) (*RunResult, error) {
	defer close(b.events)

	if len(tasks) == 0 || len(hosts) == 0 {
		return nil, fmt.Errorf("ssh backend: empty batch (%d tasks, %d hosts)", len(tasks), len(hosts))
	}

	fanOut := b.FanOut
	if fanOut <= 0 {
		fanOut = defaultFanOut
	}
	sem := semaphore.NewWeighted(fanOut)

	result := NewRunResult()
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, host := range hosts {
		wg.Add(1)
		go func(h compiler.HostSpec) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				mu.Lock()
				result.Unreachable[h.Name()] = fmt.Sprintf("not dispatched: %v", err)
				mu.Unlock()
				return
			}
			defer sem.Release(1)

			runner, err := b.dial(h)
			if err != nil {
				mu.Lock()
				result.Unreachable[h.Name()] = err.Error()
				mu.Unlock()
				return
			}
			defer runner.close()

			b.runHost(ctx, h, tasks, seed[h.Name()], runner, result, &mu)
		}(host)
	}
	wg.Wait()

	return result, nil
}

// runHost executes the task list sequentially on one connected host.
// Task N+1 never starts before task N's result is recorded.
func (b *SSHBackend) runHost(ctx context.Context, h compiler.HostSpec, tasks []compiler.Task, seed map[string]string, runner hostRunner, result *RunResult, mu *sync.Mutex) {
	results := make(map[string]string, len(tasks)+len(seed))
	for handle, stdout := range seed {
		results[handle] = stdout
	}

	for _, task := range tasks {
		if ctx.Err() != nil {
			return
		}
		b.emit(Event{Type: EventTaskStarted, Host: h.Name(), Handle: task.Handle, At: time.Now()})

		out := b.runTask(ctx, h, task, results, runner)
		results[task.Handle] = out.Stdout

		mu.Lock()
		result.record(out)
		mu.Unlock()

		b.emit(Event{Type: EventTaskFinished, Host: h.Name(), Handle: task.Handle, At: time.Now()})
	}
}

// runTask evaluates the task's guard and, unless it fires, runs the
// command on the host.
func (b *SSHBackend) runTask(ctx context.Context, h compiler.HostSpec, task compiler.Task, results map[string]string, runner hostRunner) *TaskOutput {
	out := &TaskOutput{Host: h.Name(), Handle: task.Handle}

	if task.Guard != nil {
		skip, err := task.Guard.Eval(results)
		if err != nil {
			// A broken guard never suppresses the command.
			fmt.Fprintf(os.Stderr, "warning: guard on %q: %v\n", task.SpecID, err)
		} else if skip {
			out.Skipped = true
			out.SkipReason = task.SkipReason
			return out
		}
	}

	timeout := defaultTaskTimeout
	if task.TimeoutSeconds > 0 {
		timeout = time.Duration(task.TimeoutSeconds) * time.Second
	}

	start := time.Now()
	stdout, stderr, code, err := runner.run(ctx, task.Command, timeout)
	out.Duration = time.Since(start)
	out.Stdout = stdout
	out.Stderr = stderr
	out.ExitCode = code
	if err != nil && out.Stderr == "" {
		out.Stderr = err.Error()
	}
	return out
}

func (b *SSHBackend) emit(ev Event) {
	select {
	case b.events <- ev:
	default: // monitor lagging; progress is a UX hint, drop rather than block
	}
}

// hostRunner abstracts one connected host.
type hostRunner interface {
	run(ctx context.Context, command string, timeout time.Duration) (stdout, stderr string, exitCode int, err error)
	close() error
}

// dial opens the appropriate runner for a host.
func (b *SSHBackend) dial(h compiler.HostSpec) (hostRunner, error) {
	if h.Local {
		return localRunner{}, nil
	}

	cfg := &ssh.ClientConfig{
		User:            h.User,
		Auth:            authMethods(h),
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: optional known_hosts verification
		Timeout:         b.ConnectTimeout,
	}
	if len(cfg.Auth) == 0 {
		return nil, fmt.Errorf("host %s: no authentication method (password or key file required)", h.Name())
	}

	address := net.JoinHostPort(h.Address, h.Port)
	client, err := ssh.Dial("tcp", address, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", address, err)
	}
	return &sshRunner{client: client, host: h}, nil
}

// authMethods builds the SSH auth chain: password first, then key file.
func authMethods(h compiler.HostSpec) []ssh.AuthMethod {
	var methods []ssh.AuthMethod
	if h.Password != "" {
		methods = append(methods, ssh.Password(h.Password))
	}
	if h.KeyFile != "" {
		if key, err := os.ReadFile(h.KeyFile); err == nil {
			if signer, err := ssh.ParsePrivateKey(key); err == nil {
				methods = append(methods, ssh.PublicKeys(signer))
			}
		}
	}
	return methods
}

// sshRunner runs commands on one remote host, one session per command.
type sshRunner struct {
	client *ssh.Client
	host   compiler.HostSpec
}

func (r *sshRunner) run(ctx context.Context, command string, timeout time.Duration) (string, string, int, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return "", "", -1, fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	// Remote timeout enforcement rides on coreutils timeout; the shell
	// wrapping keeps pipes and redirects in the check command working.
	wrapped := fmt.Sprintf("timeout %d sh -c %s", int(timeout.Seconds()), shellQuote(command))
	if r.host.Elevation == "sudo" {
		wrapped = "sudo -S -p '' " + wrapped
		session.Stdin = strings.NewReader(r.host.ElevatePassword + "\n")
	}

	done := make(chan error, 1)
	if err := session.Start(wrapped); err != nil {
		return "", "", -1, fmt.Errorf("start command: %w", err)
	}
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return stdout.String(), stderr.String(), -1, ctx.Err()
	case err := <-done:
		code := 0
		if err != nil {
			if exitErr, ok := err.(*ssh.ExitError); ok {
				code = exitErr.ExitStatus()
				err = nil
			} else {
				code = -1
			}
		}
		return stdout.String(), stderr.String(), code, err
	}
}

func (r *sshRunner) close() error {
	return r.client.Close()
}

// shellQuote single-quotes a command for safe transport through sh -c.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
