// Package job runs one download job from request to result.
//
// A job moves through a fixed sequence of states:
//
//	pending -> validating -> downloading -> [uploading] -> recording_history -> completed
//
// and may end in failed from any non-terminal state. Every adapter error is
// normalized into an *Error carrying the failure kind and the state it
// happened in; callers never see raw adapter errors.
package job

import (
	"errors"
	"fmt"
	"time"

	"github.com/3leaps/clipnimbus/pkg/timerange"
)

// State is a job lifecycle state.
type State string

const (
	StatePending          State = "pending"
	StateValidating       State = "validating"
	StateDownloading      State = "downloading"
	StateUploading        State = "uploading"
	StateRecordingHistory State = "recording_history"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
)

// IsTerminal reports whether s is completed or failed.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Kind classifies a job failure.
type Kind string

const (
	// KindInvalidInput is a malformed URL or time range. Nothing external
	// has been called.
	KindInvalidInput Kind = "InvalidInput"

	// KindConfigCorrupt means the settings document could not be used.
	KindConfigCorrupt Kind = "ConfigCorrupt"

	// KindFetchFailed is any download tool failure.
	KindFetchFailed Kind = "FetchFailed"

	// KindUploadFailed is any upload failure. The local file is kept.
	KindUploadFailed Kind = "UploadFailed"

	// KindHistoryWriteError is reported as a warning on a completed job.
	KindHistoryWriteError Kind = "HistoryWriteError"
)

// ErrBusy is returned when a job is already running.
var ErrBusy = errors.New("a job is already running")

// Error is the normalized job failure.
type Error struct {
	Kind  Kind
	State State
	Err   error
	// Hint is an optional next step for the user.
	Hint string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message())
}

// Message returns the underlying failure text without the kind prefix.
func (e *Error) Message() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Request is one job submission. It is passed by value and never modified.
type Request struct {
	URL string

	// Start and End are optional offsets (seconds, MM:SS or HH:MM:SS).
	Start string
	End   string

	// Name replaces the media title in the output file name.
	Name string

	// Per-job settings overrides. Empty values fall through to settings.
	Format     string
	Container  string
	BlobFolder string
	OutputDir  string

	// SkipUpload disables the upload stage. The zero value uploads.
	SkipUpload bool
}

// Result is the outcome of one job.
type Result struct {
	JobID string
	State State

	// FailedAt is the state the job failed in; empty on success.
	FailedAt State

	Range         timerange.Range
	LocalPath     string
	Ext           string
	Size          int64
	RemoteLocator string

	// RemoteContainer and RemoteKey address the uploaded object.
	RemoteContainer string
	RemoteKey       string

	Err      *Error
	Warnings []string

	StartedAt time.Time
	Elapsed   time.Duration
}

// OK reports whether the job completed.
func (r Result) OK() bool {
	return r.State == StateCompleted
}

// Transition is emitted on every state change.
type Transition struct {
	JobID string
	From  State
	To    State
	At    time.Time
}
