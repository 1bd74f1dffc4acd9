// Package testlog provides a ServiceLogger that records entries so tests can
// assert on what the transport logged.
package testlog

import (
	"sync"

	"github.com/drblury/syncflow/internal/runtime/logging"
)

// Entry is one recorded log call.
type Entry struct {
	Level  string
	Msg    string
	Fields logging.LogFields
	Err    error
}

// Recorder is safe for concurrent use; children created by With share the
// parent's entry list.
type Recorder struct {
	mu      *sync.Mutex
	entries *[]Entry
	fields  logging.LogFields
}

func New() *Recorder {
	return &Recorder{mu: &sync.Mutex{}, entries: &[]Entry{}}
}

func (r *Recorder) With(fields logging.LogFields) logging.ServiceLogger {
	merged := make(logging.LogFields, len(r.fields)+len(fields))
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Recorder{mu: r.mu, entries: r.entries, fields: merged}
}

func (r *Recorder) Debug(msg string, fields logging.LogFields) { r.record("debug", msg, nil, fields) }
func (r *Recorder) Info(msg string, fields logging.LogFields)  { r.record("info", msg, nil, fields) }
func (r *Recorder) Trace(msg string, fields logging.LogFields) { r.record("trace", msg, nil, fields) }

func (r *Recorder) Error(msg string, err error, fields logging.LogFields) {
	r.record("error", msg, err, fields)
}

func (r *Recorder) record(level, msg string, err error, fields logging.LogFields) {
	merged := make(logging.LogFields, len(r.fields)+len(fields))
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	*r.entries = append(*r.entries, Entry{Level: level, Msg: msg, Fields: merged, Err: err})
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(*r.entries))
	copy(out, *r.entries)
	return out
}

// ByLevel returns the recorded entries at level.
func (r *Recorder) ByLevel(level string) []Entry {
	var out []Entry
	for _, e := range r.Entries() {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}
