package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event is one structured run-log record. Every task start and end is
// appended as newline-delimited JSON, one physical file per pipeline run.
type Event struct {
	AgentName       string   `json:"agent_name"`
	EventType       string   `json:"event_type"` // "start" or "end"
	Timestamp       string   `json:"timestamp"`  // ISO-8601
	InputFiles      []string `json:"input_files"`
	OutputFiles     []string `json:"output_files"`
	Warnings        []string `json:"warnings"`
	Errors          []string `json:"errors"`
	Message         string   `json:"message"`
	DurationSeconds float64  `json:"duration_seconds,omitempty"`
}

// RunLog is the append-only NDJSON log for one pipeline run.
type RunLog struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewRunLog opens (creating if necessary) the run log at path.
func NewRunLog(path string) (*RunLog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create run log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}
	return &RunLog{file: f, path: path}, nil
}

// Path returns the log file location.
func (l *RunLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes one event record. Safe for concurrent use; a nil RunLog
// discards events so the orchestrator can run without a log in tests.
func (l *RunLog) Append(ev Event) error {
	if l == nil {
		return nil
	}
	if ev.InputFiles == nil {
		ev.InputFiles = []string{}
	}
	if ev.OutputFiles == nil {
		ev.OutputFiles = []string{}
	}
	if ev.Warnings == nil {
		ev.Warnings = []string{}
	}
	if ev.Errors == nil {
		ev.Errors = []string{}
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal run log event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append run log event: %w", err)
	}
	return nil
}

// LogStart records a task-start event and returns the start time used
// for duration accounting in the matching LogEnd.
func (l *RunLog) LogStart(agentName string, inputFiles []string) time.Time {
	now := time.Now()
	_ = l.Append(Event{
		AgentName:  agentName,
		EventType:  "start",
		Timestamp:  now.Format(time.RFC3339Nano),
		InputFiles: inputFiles,
		Message:    fmt.Sprintf("Agent %s starting", agentName),
	})
	return now
}

// LogEnd records a task-end event with its duration and any collected
// outputs, warnings, and errors.
func (l *RunLog) LogEnd(agentName string, start time.Time, outputFiles, warnings, errs []string) {
	now := time.Now()
	duration := now.Sub(start).Seconds()
	_ = l.Append(Event{
		AgentName:       agentName,
		EventType:       "end",
		Timestamp:       now.Format(time.RFC3339Nano),
		OutputFiles:     outputFiles,
		Warnings:        warnings,
		Errors:          errs,
		DurationSeconds: duration,
		Message:         fmt.Sprintf("Agent %s completed in %.2fs", agentName, duration),
	})
}

// Close flushes and closes the underlying file.
func (l *RunLog) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
