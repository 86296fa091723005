package runtime

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ormasoftchile/fleetcheck/pkg/report"
)

// TraceEvent is one JSONL record in a job trace file.
type TraceEvent struct {
	Type      string                `json:"type"`
	Timestamp time.Time             `json:"timestamp"`
	JobID     string                `json:"job_id"`
	Result    *report.CommandResult `json:"result,omitempty"`
	Message   string                `json:"message,omitempty"`
}

// TraceWriter appends command results to a JSONL trace file.
type TraceWriter struct {
	jobID  string
	file   *os.File
	writer *bufio.Writer
	enc    *json.Encoder
}

// NewTraceWriter creates a trace writer that appends to the given file.
func NewTraceWriter(path, jobID string) (*TraceWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	w := bufio.NewWriter(f)
	return &TraceWriter{
		jobID:  jobID,
		file:   f,
		writer: w,
		enc:    json.NewEncoder(w),
	}, nil
}

// Write appends a command result as a JSONL event and flushes to disk.
func (tw *TraceWriter) Write(result *report.CommandResult) error {
	event := TraceEvent{
		Type:      "command_result",
		Timestamp: time.Now(),
		JobID:     tw.jobID,
		Result:    result,
	}
	if err := tw.enc.Encode(event); err != nil {
		return fmt.Errorf("encode trace event: %w", err)
	}
	// Flush and sync at command boundaries
	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("flush trace: %w", err)
	}
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("sync trace: %w", err)
	}
	return nil
}

// WriteMessage appends a free-form trace message.
func (tw *TraceWriter) WriteMessage(msg string) error {
	event := TraceEvent{
		Type:      "message",
		Timestamp: time.Now(),
		JobID:     tw.jobID,
		Message:   msg,
	}
	if err := tw.enc.Encode(event); err != nil {
		return fmt.Errorf("encode trace event: %w", err)
	}
	return tw.writer.Flush()
}

// Close flushes and closes the trace file.
func (tw *TraceWriter) Close() error {
	if err := tw.writer.Flush(); err != nil {
		return err
	}
	return tw.file.Close()
}
