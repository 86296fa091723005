// Package serve implements the JSON-RPC job server for editor and
// automation clients. It communicates over stdio (stdin/stdout) using
// newline-delimited JSON messages.
package serve

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ormasoftchile/fleetcheck/pkg/runtime"
	"github.com/ormasoftchile/fleetcheck/pkg/schema"
)

// Message is a JSON-RPC 2.0 message (request or notification).
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int            `json:"id,omitempty"` // nil for notifications
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JobStartParams are the parameters for job/start.
type JobStartParams struct {
	Checklist string `json:"checklist"`
	Inventory string `json:"inventory"`
	JobID     string `json:"jobId,omitempty"`
}

// JobQueryParams identify a job for status/result/logs queries.
type JobQueryParams struct {
	JobID string `json:"jobId"`
	Host  string `json:"host,omitempty"`
}

// progressInterval is how often running jobs push a job/progress
// notification.
const progressInterval = 2 * time.Second

// Server is the JSON-RPC server that wraps the job coordinator.
type Server struct {
	reader *bufio.Reader
	writer io.Writer
	mu     sync.Mutex // serializes writes to stdout

	coord  *runtime.Coordinator
	ctx    context.Context
	cancel context.CancelFunc

	watchMu sync.Mutex
	watched map[string]bool
}

// New creates a server reading from stdin and writing to stdout.
func New(coord *runtime.Coordinator) *Server {
	return NewWithIO(coord, os.Stdin, os.Stdout)
}

// NewWithIO creates a server over arbitrary reader/writer pairs, used
// by in-process clients and tests.
func NewWithIO(coord *runtime.Coordinator, r io.Reader, w io.Writer) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		reader:  bufio.NewReader(r),
		writer:  w,
		coord:   coord,
		ctx:     ctx,
		cancel:  cancel,
		watched: make(map[string]bool),
	}
}

// Run starts the server main loop: reads messages from stdin and
// dispatches them until EOF or shutdown.
func (s *Server) Run() error {
	defer s.cancel()

	scanner := bufio.NewScanner(s.reader)
	// Increase buffer for large messages
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			s.sendError(nil, -32700, fmt.Sprintf("parse error: %v", err))
			continue
		}

		s.dispatch(&msg)
	}

	return scanner.Err()
}

// dispatch routes a message to the appropriate handler.
func (s *Server) dispatch(msg *Message) {
	switch msg.Method {
	case "job/start":
		s.handleJobStart(msg)
	case "job/status":
		s.handleJobStatus(msg)
	case "job/result":
		s.handleJobResult(msg)
	case "job/logs":
		s.handleJobLogs(msg)
	case "shutdown":
		s.cancel()
		s.sendResult(msg.ID, map[string]string{"status": "shutting down"})
	default:
		s.sendError(msg.ID, -32601, fmt.Sprintf("unknown method: %s", msg.Method))
	}
}

// handleJobStart validates inputs, launches the job, and starts the
// progress push loop for it.
func (s *Server) handleJobStart(msg *Message) {
	var params JobStartParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendError(msg.ID, -32602, fmt.Sprintf("invalid params: %v", err))
		return
	}

	fmt.Fprintf(os.Stderr, "serve: job/start checklist=%q inventory=%q\n", params.Checklist, params.Inventory)

	list, errs := schema.ValidateFile(params.Checklist)
	if schema.HasErrors(errs) {
		s.sendError(msg.ID, -32603, fmt.Sprintf("validation failed: %v", errs[0].Message))
		return
	}

	inv, err := schema.LoadInventoryFile(params.Inventory)
	if err != nil {
		s.sendError(msg.ID, -32603, fmt.Sprintf("load inventory: %v", err))
		return
	}
	if errs := schema.ValidateInventory(inv); schema.HasErrors(errs) {
		s.sendError(msg.ID, -32603, fmt.Sprintf("inventory invalid: %v", errs[0].Message))
		return
	}

	jobID, err := s.coord.StartJob(s.ctx, params.JobID, list, inv.Hosts)
	if err != nil {
		s.sendError(msg.ID, -32603, err.Error())
		return
	}

	go s.pushProgress(jobID)
	s.sendResult(msg.ID, map[string]string{"jobId": jobID, "status": string(runtime.StatusRunning)})
}

// pushProgress emits a job/progress notification every two seconds
// until the job reaches a terminal state.
func (s *Server) pushProgress(jobID string) {
	s.watchMu.Lock()
	if s.watched[jobID] {
		s.watchMu.Unlock()
		return
	}
	s.watched[jobID] = true
	s.watchMu.Unlock()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			job, ok := s.coord.Registry.Get(jobID)
			if !ok {
				return
			}
			status := job.Status()
			s.sendEvent("job/progress", map[string]interface{}{
				"jobId":    jobID,
				"status":   string(status),
				"progress": job.Progress(),
			})
			if status.Terminal() {
				return
			}
		}
	}
}

func (s *Server) handleJobStatus(msg *Message) {
	job, ok := s.lookup(msg)
	if !ok {
		return
	}
	p := job.Progress()
	result := map[string]interface{}{
		"jobId":          job.ID,
		"status":         string(job.Status()),
		"progress":       p,
		"currentCommand": p.CurrentCommand,
		"totalCommands":  p.TotalCommands,
		"currentHost":    p.CurrentHost,
		"totalHosts":     p.TotalHosts,
	}
	if errMsg := job.Err(); errMsg != "" {
		result["error"] = errMsg
	}
	s.sendResult(msg.ID, result)
}

func (s *Server) handleJobResult(msg *Message) {
	job, ok := s.lookup(msg)
	if !ok {
		return
	}
	jr := job.Result()
	if jr == nil {
		s.sendError(msg.ID, -32603, fmt.Sprintf("job %q has no result yet (status %s)", job.ID, job.Status()))
		return
	}
	s.sendResult(msg.ID, jr)
}

func (s *Server) handleJobLogs(msg *Message) {
	var params JobQueryParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendError(msg.ID, -32602, fmt.Sprintf("invalid params: %v", err))
		return
	}
	job, ok := s.coord.Registry.Get(params.JobID)
	if !ok {
		s.sendError(msg.ID, -32603, fmt.Sprintf("unknown job: %s", params.JobID))
		return
	}
	// Terminal jobs serve the aggregated logs; running jobs serve the
	// live buffer so clients can tail mid-flight.
	var aggregate string
	var hostLogs map[string]string
	var updated time.Time
	running := false
	if jr := job.Result(); jr != nil {
		aggregate, hostLogs, updated = jr.AggregateLog, jr.HostLogs, jr.FinishedAt
	} else {
		aggregate, hostLogs, updated = job.LiveLogs()
		running = true
	}

	if params.Host != "" {
		log, ok := hostLogs[params.Host]
		if !ok && !running {
			s.sendError(msg.ID, -32603, fmt.Sprintf("no log for host %q", params.Host))
			return
		}
		s.sendResult(msg.ID, map[string]interface{}{
			"jobId":       job.ID,
			"host":        params.Host,
			"log":         log,
			"lastUpdated": updated,
		})
		return
	}
	s.sendResult(msg.ID, map[string]interface{}{
		"jobId":       job.ID,
		"log":         aggregate,
		"lastUpdated": updated,
	})
}

func (s *Server) lookup(msg *Message) (*runtime.Job, bool) {
	var params JobQueryParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendError(msg.ID, -32602, fmt.Sprintf("invalid params: %v", err))
		return nil, false
	}
	job, ok := s.coord.Registry.Get(params.JobID)
	if !ok {
		s.sendError(msg.ID, -32603, fmt.Sprintf("unknown job: %s", params.JobID))
		return nil, false
	}
	return job, true
}

// sendResult sends a JSON-RPC result message.
func (s *Server) sendResult(id *int, result interface{}) {
	raw, err := json.Marshal(result)
	if err != nil {
		s.sendError(id, -32603, fmt.Sprintf("marshal result: %v", err))
		return
	}
	s.send(&Message{JSONRPC: "2.0", ID: id, Result: raw})
}

// sendError sends a JSON-RPC error message.
func (s *Server) sendError(id *int, code int, message string) {
	s.send(&Message{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}})
}

// sendEvent sends a JSON-RPC notification (no id).
func (s *Server) sendEvent(method string, params interface{}) {
	raw, err := json.Marshal(params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "serve: marshal event %s: %v\n", method, err)
		return
	}
	s.send(&Message{JSONRPC: "2.0", Method: method, Params: raw})
}

func (s *Server) send(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(msg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "serve: marshal message: %v\n", err)
		return
	}
	fmt.Fprintf(s.writer, "%s\n", data)
}
