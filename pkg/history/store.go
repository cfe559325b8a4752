package history

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
)

// FileName is the history file inside the app data dir.
const FileName = "history.jsonl"

// appendFile is the subset of *os.File used by Append.
type appendFile interface {
	io.Writer
	Sync() error
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
	Close() error
}

// Store appends to and reads one history file. It keeps no file handle
// open between calls.
type Store struct {
	path string
	open func(path string) (appendFile, error)
}

// NewStore returns a store backed by path.
func NewStore(path string) *Store {
	return &Store{path: strings.TrimSpace(path), open: openAppend}
}

// DefaultPath returns <app data dir>/history.jsonl.
func DefaultPath(appName string) string {
	return filepath.Join(gfconfig.GetAppDataDir(appName), FileName)
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

func openAppend(path string) (appendFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}

// Append writes e as one line and syncs it to disk. On failure the file is
// truncated back to its previous size so earlier entries stay readable.
func (s *Store) Append(e Entry) error {
	if err := e.Validate(); err != nil {
		return &WriteError{Op: "validate", Err: err}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	line, err := encode(e)
	if err != nil {
		return &WriteError{Op: "marshal", Err: err}
	}

	if s.path == "" {
		return &WriteError{Op: "open", Err: errors.New("history path is empty")}
	}
	f, err := s.open(s.path)
	if err != nil {
		return &WriteError{Op: "open", Err: err}
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return &WriteError{Op: "stat", Err: err}
	}
	prev := info.Size()

	if err := writeAll(f, line); err != nil {
		_ = f.Truncate(prev)
		return &WriteError{Op: "write", Err: err}
	}
	if err := f.Sync(); err != nil {
		_ = f.Truncate(prev)
		return &WriteError{Op: "sync", Err: err}
	}
	return nil
}

// List yields entries most-recent-first. limit <= 0 means all entries.
// Unreadable lines are yielded as *DecodeError and iteration continues.
// Each call re-reads the file.
func (s *Store) List(limit int) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		data, err := os.ReadFile(s.path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return
			}
			yield(Entry{}, fmt.Errorf("read history: %w", err))
			return
		}

		lines := bytes.Split(data, []byte{'\n'})
		emitted := 0
		for i := len(lines) - 1; i >= 0; i-- {
			line := bytes.TrimSpace(lines[i])
			if len(line) == 0 {
				continue
			}
			e, err := decode(line)
			if err != nil {
				if !yield(Entry{}, &DecodeError{Line: i + 1, Err: err}) {
					return
				}
				continue
			}
			if !yield(e, nil) {
				return
			}
			emitted++
			if limit > 0 && emitted >= limit {
				return
			}
		}
	}
}

// Get returns the entry with the given job ID.
func (s *Store) Get(id string) (Entry, error) {
	id = strings.TrimSpace(id)
	for e, err := range s.List(0) {
		if err != nil {
			continue
		}
		if e.ID == id {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Latest returns the most recent readable entry.
func (s *Store) Latest() (Entry, error) {
	for e, err := range s.List(0) {
		if err == nil {
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}

// writeAll writes p fully, treating a zero-progress write as a short write.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
