// Package timerange parses and formats the optional start/end offsets that
// restrict a download to a segment of the source media.
//
// Offsets are accepted as bare seconds ("187", "187.5"), MM:SS ("3:07") or
// HH:MM:SS ("1:03:07"). All values are non-negative.
package timerange

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidOffset indicates an offset string could not be parsed.
	ErrInvalidOffset = errors.New("invalid time offset")

	// ErrEmptyRange indicates End is not after Start.
	ErrEmptyRange = errors.New("end must be after start")
)

// Range is an optional start/end pair. The zero value means "whole media".
type Range struct {
	Start    time.Duration
	End      time.Duration
	HasStart bool
	HasEnd   bool
}

// New returns a Range from optional offset strings. Empty strings leave the
// corresponding bound unset.
func New(start, end string) (Range, error) {
	var r Range

	if strings.TrimSpace(start) != "" {
		d, err := ParseOffset(start)
		if err != nil {
			return Range{}, fmt.Errorf("start: %w", err)
		}
		r.Start, r.HasStart = d, true
	}

	if strings.TrimSpace(end) != "" {
		d, err := ParseOffset(end)
		if err != nil {
			return Range{}, fmt.Errorf("end: %w", err)
		}
		r.End, r.HasEnd = d, true
	}

	return r, nil
}

// IsZero reports whether neither bound is set.
func (r Range) IsZero() bool {
	return !r.HasStart && !r.HasEnd
}

// Validate checks that End > Start when both are set.
func (r Range) Validate() error {
	if r.HasStart && r.Start < 0 {
		return fmt.Errorf("start: %w: negative", ErrInvalidOffset)
	}
	if r.HasEnd && r.End < 0 {
		return fmt.Errorf("end: %w: negative", ErrInvalidOffset)
	}
	if r.HasStart && r.HasEnd && r.End <= r.Start {
		return fmt.Errorf("%w: start=%s end=%s", ErrEmptyRange, FormatClock(r.Start), FormatClock(r.End))
	}
	if r.HasEnd && !r.HasStart && r.End == 0 {
		return fmt.Errorf("%w: end=0", ErrEmptyRange)
	}
	return nil
}

// StartSeconds returns the start bound in seconds, or nil when unset.
func (r Range) StartSeconds() *float64 {
	if !r.HasStart {
		return nil
	}
	s := r.Start.Seconds()
	return &s
}

// EndSeconds returns the end bound in seconds, or nil when unset.
func (r Range) EndSeconds() *float64 {
	if !r.HasEnd {
		return nil
	}
	s := r.End.Seconds()
	return &s
}

// FromSeconds rebuilds a Range from optional second values (as persisted in
// history entries).
func FromSeconds(start, end *float64) Range {
	var r Range
	if start != nil {
		r.Start, r.HasStart = secondsToDuration(*start), true
	}
	if end != nil {
		r.End, r.HasEnd = secondsToDuration(*end), true
	}
	return r
}

// String renders the range for logs, e.g. "3:07-3:21" or "3:07-end".
func (r Range) String() string {
	if r.IsZero() {
		return "full"
	}
	start, end := "0:00", "end"
	if r.HasStart {
		start = FormatClock(r.Start)
	}
	if r.HasEnd {
		end = FormatClock(r.End)
	}
	return start + "-" + end
}

// ParseOffset parses one offset into a duration.
func ParseOffset(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidOffset)
	}

	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return fromSeconds(s, secs)
	}

	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOffset, s)
	}

	var total float64
	for i, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || p == "" {
			return 0, fmt.Errorf("%w: %q", ErrInvalidOffset, s)
		}
		// Only the last component may carry a fraction; leading components
		// must be whole and minute/second fields stay below 60.
		last := i == len(parts)-1
		if !last && v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidOffset, s)
		}
		if i > 0 && v >= 60 {
			return 0, fmt.Errorf("%w: %q: field out of range", ErrInvalidOffset, s)
		}
		total = total*60 + v
	}

	return fromSeconds(s, total)
}

func fromSeconds(raw string, secs float64) (time.Duration, error) {
	if math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOffset, raw)
	}
	if secs < 0 {
		return 0, fmt.Errorf("%w: %q: negative", ErrInvalidOffset, raw)
	}
	if secs*float64(time.Second) >= float64(math.MaxInt64) {
		return 0, fmt.Errorf("%w: %q: out of range", ErrInvalidOffset, raw)
	}
	return secondsToDuration(secs), nil
}

// secondsToDuration saturates at the largest Duration.
func secondsToDuration(secs float64) time.Duration {
	ns := math.Round(secs * float64(time.Second))
	if ns >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}

// FormatSeconds renders a duration as a bare seconds value with no trailing
// zeros ("187", "187.5"). This is the unit handed to the download tool.
func FormatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// FormatClock renders a duration as M:SS or H:MM:SS for display.
func FormatClock(d time.Duration) string {
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// FormatFilename renders a duration as MM-SS or HH-MM-SS for use inside a
// file name.
func FormatFilename(d time.Duration) string {
	total := int64(d / time.Second)
	if total >= 3600 {
		return fmt.Sprintf("%02d-%02d-%02d", total/3600, (total%3600)/60, total%60)
	}
	return fmt.Sprintf("%02d-%02d", total/60, total%60)
}
