// Package history is the append-only log of completed jobs.
//
// Entries are stored one per line as typed JSON envelopes, the same shape
// used for every JSONL record this tool writes:
//
//	{"type":"clipnimbus.history.v1","ts":"...","data":{...}}
//
// The file is only ever appended to. Listing re-reads it on every call so
// manual edits are visible on the next read.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TypeEntry identifies history entry records.
const TypeEntry = "clipnimbus.history.v1"

var (
	// ErrNotFound is returned by Get and Latest when no entry matches.
	ErrNotFound = errors.New("history entry not found")

	// ErrInvalidEntry indicates an entry is missing required fields.
	ErrInvalidEntry = errors.New("invalid history entry")
)

// Entry is one completed job.
type Entry struct {
	// ID is the job ID that produced this entry.
	ID string `json:"id"`

	// URL is the source media URL.
	URL string `json:"url"`

	// StartSeconds and EndSeconds are the requested range bounds, if any.
	StartSeconds *float64 `json:"start_seconds,omitempty"`
	EndSeconds   *float64 `json:"end_seconds,omitempty"`

	// Per-job overrides, recorded so the entry can refill a request.
	Name       string `json:"name,omitempty"`
	Container  string `json:"container,omitempty"`
	BlobFolder string `json:"blob_folder,omitempty"`
	Format     string `json:"format,omitempty"`
	Upload     bool   `json:"upload"`

	LocalPath     string   `json:"local_path"`
	RemoteLocator string   `json:"remote_locator,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`

	// RemoteContainer and RemoteKey address the uploaded object.
	RemoteContainer string `json:"remote_container,omitempty"`
	RemoteKey       string `json:"remote_key,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks required fields.
func (e Entry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidEntry)
	}
	if e.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidEntry)
	}
	if e.LocalPath == "" {
		return fmt.Errorf("%w: local_path is required", ErrInvalidEntry)
	}
	return nil
}

// Record is the JSONL envelope.
type Record struct {
	Type string          `json:"type"`
	TS   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

// WriteError wraps failures while appending.
type WriteError struct {
	Op  string // "marshal", "open", "write", "sync"
	Err error
}

func (e *WriteError) Error() string {
	return "history: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// DecodeError reports an unreadable line.
type DecodeError struct {
	Line int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("history: line %d: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func encode(e Entry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(Record{Type: TypeEntry, TS: e.CreatedAt, Data: data})
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func decode(line []byte) (Entry, error) {
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return Entry{}, err
	}
	if rec.Type != TypeEntry {
		return Entry{}, fmt.Errorf("unsupported record type %q", rec.Type)
	}
	var e Entry
	if err := json.Unmarshal(rec.Data, &e); err != nil {
		return Entry{}, err
	}
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	return e, nil
}
