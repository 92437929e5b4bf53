// Package trace implements the append-only JSONL record of a run.
package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// EventType enumerates all trace event types.
type EventType string

const (
	EventRunStart      EventType = "run_start"
	EventCaseResult    EventType = "case_result"
	EventChainResult   EventType = "chain_result"
	EventBundleWritten EventType = "bundle_written"
	EventRunComplete   EventType = "run_complete"
)

// Event is a single trace event written to the JSONL stream.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// Writer writes trace events to an append-only JSONL stream. Safe for
// concurrent use by the engine's workers.
type Writer struct {
	mu    sync.Mutex
	w     io.Writer
	file  *os.File // non-nil when NewFileWriter opened it
	runID string
	enc   *json.Encoder
}

// NewWriter creates a trace writer that writes to the given io.Writer.
func NewWriter(w io.Writer, runID string) *Writer {
	return &Writer{
		w:     w,
		runID: runID,
		enc:   json.NewEncoder(w),
	}
}

// NewFileWriter creates a trace writer that appends to a JSONL file.
func NewFileWriter(path, runID string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	tw := NewWriter(f, runID)
	tw.file = f
	return tw, nil
}

// Close closes the underlying file, if this writer opened one.
func (tw *Writer) Close() error {
	if tw.file == nil {
		return nil
	}
	return tw.file.Close()
}

// Emit writes a single trace event.
func (tw *Writer) Emit(eventType EventType, data map[string]any) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	evt := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     tw.runID,
		Data:      data,
	}
	return tw.enc.Encode(evt)
}

// EmitRunStart emits a run_start event.
func (tw *Writer) EmitRunStart(specRef string, operations int, targetA, targetB string) error {
	return tw.Emit(EventRunStart, map[string]any{
		"spec":       specRef,
		"operations": operations,
		"target_a":   targetA,
		"target_b":   targetB,
	})
}

// EmitCaseResult emits a case_result event.
func (tw *Writer) EmitCaseResult(operation string, seq, mismatches int) error {
	return tw.Emit(EventCaseResult, map[string]any{
		"operation":  operation,
		"seq":        seq,
		"mismatches": mismatches,
	})
}

// EmitChainResult emits a chain_result event.
func (tw *Writer) EmitChainResult(sequence string, steps, mismatches int, degraded bool) error {
	data := map[string]any{
		"sequence":   sequence,
		"steps":      steps,
		"mismatches": mismatches,
	}
	if degraded {
		data["degraded"] = true
	}
	return tw.Emit(EventChainResult, data)
}

// EmitBundleWritten emits a bundle_written event.
func (tw *Writer) EmitBundleWritten(key, dir string) error {
	return tw.Emit(EventBundleWritten, map[string]any{
		"key": key,
		"dir": dir,
	})
}

// EmitRunComplete emits a run_complete event with the run summary.
func (tw *Writer) EmitRunComplete(summary any) error {
	return tw.Emit(EventRunComplete, map[string]any{
		"summary": summary,
	})
}
