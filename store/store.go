// Package store holds what the persistence backends share: the trace record
// format and the not-found error. Backends live in the sqlite and redis
// subpackages; each implements memory.Snapshotter and graph.TraceSink.
package store

import (
	"errors"
	"time"

	"github.com/hupe1980/taskgraph/core"
	"github.com/hupe1980/taskgraph/internal/codec"
	"github.com/hupe1980/taskgraph/memory"
)

// ErrNotFound is returned when a requested trace does not exist.
var ErrNotFound = errors.New("store: not found")

// TraceRecord is the persisted form of a run trace.
type TraceRecord struct {
	RunID   string           `json:"run_id"`
	SavedAt time.Time        `json:"saved_at"`
	Steps   []core.TraceStep `json:"steps"`
}

// NewTraceRecord captures trace.
func NewTraceRecord(trace *core.Trace, now time.Time) TraceRecord {
	return TraceRecord{RunID: trace.RunID(), SavedAt: now, Steps: trace.Steps()}
}

// Trace rebuilds a trace from the record.
func (r TraceRecord) Trace() *core.Trace {
	t := core.NewTrace(r.RunID)
	for _, s := range r.Steps {
		t.Append(s)
	}

	return t
}

// EncodeTrace serializes trace.
func EncodeTrace(trace *core.Trace, now time.Time) ([]byte, error) {
	return codec.Marshal(NewTraceRecord(trace, now))
}

// DecodeTrace deserializes a trace record.
func DecodeTrace(data []byte) (TraceRecord, error) {
	var r TraceRecord
	err := codec.Unmarshal(data, &r)

	return r, err
}

// EncodeItem serializes a memory item.
func EncodeItem(it memory.Item) ([]byte, error) {
	return codec.Marshal(it)
}

// DecodeItem deserializes a memory item.
func DecodeItem(data []byte) (memory.Item, error) {
	var it memory.Item
	err := codec.Unmarshal(data, &it)

	return it, err
}

// RunSummary describes a stored trace.
type RunSummary struct {
	RunID   string    `json:"run_id"`
	SavedAt time.Time `json:"saved_at"`
	Steps   int       `json:"steps"`
	Failed  int       `json:"failed"`
}

// Summarize counts the steps and failed steps of trace.
func Summarize(trace *core.Trace, savedAt time.Time) RunSummary {
	sum := RunSummary{RunID: trace.RunID(), SavedAt: savedAt}

	for _, st := range trace.Steps() {
		sum.Steps++

		if st.Failed() {
			sum.Failed++
		}
	}

	return sum
}
