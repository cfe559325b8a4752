// Package fetch downloads media through the yt-dlp command line tool.
//
// The adapter never decodes or re-encodes media. Range requests are handed
// to yt-dlp as --download-sections in seconds, and cutting is left to
// yt-dlp and ffmpeg.
package fetch

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/clipnimbus/pkg/timerange"
)

// DefaultBinary is the tool looked up on PATH.
const DefaultBinary = "yt-dlp"

// DefaultProgressInterval throttles progress log lines.
const DefaultProgressInterval = 2 * time.Second

// pathMarker prefixes the line yt-dlp prints with the final file path.
const pathMarker = "clipnimbus-path:"

// stagingPattern names the hidden per-job directory inside the output dir.
const stagingPattern = ".partial-*"

// Request describes one download.
type Request struct {
	URL       string
	Range     timerange.Range
	Format    string
	OutputDir string
	// Name replaces the media title in the output file name.
	Name string
}

// Result describes a completed download.
type Result struct {
	Path string
	Ext  string
	Size int64
}

// Error is returned for any tool failure. Stderr is the tool's output,
// unmodified.
type Error struct {
	Op     string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	msg := "fetch: " + e.Op + ": " + e.Err.Error()
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrEmptyOutput indicates the tool exited cleanly but produced no file.
var ErrEmptyOutput = errors.New("download produced no output")

// YtDlp runs the yt-dlp binary.
type YtDlp struct {
	binary           string
	logger           *zap.Logger
	now              func() time.Time
	progressInterval time.Duration
	onProgress       func(line string)
}

// Option configures a YtDlp.
type Option func(*YtDlp)

// WithBinary sets the executable name or path.
func WithBinary(path string) Option {
	return func(d *YtDlp) { d.binary = path }
}

// WithLogger sets the logger used for progress and diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(d *YtDlp) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithClock sets the time source used for output file names.
func WithClock(now func() time.Time) Option {
	return func(d *YtDlp) { d.now = now }
}

// WithProgress registers a callback receiving every progress line.
func WithProgress(fn func(line string)) Option {
	return func(d *YtDlp) { d.onProgress = fn }
}

// New returns a yt-dlp adapter.
func New(opts ...Option) *YtDlp {
	d := &YtDlp{
		binary:           DefaultBinary,
		logger:           zap.NewNop(),
		now:              time.Now,
		progressInterval: DefaultProgressInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Binary returns the configured executable.
func (d *YtDlp) Binary() string {
	return d.binary
}

// Fetch downloads req.URL into req.OutputDir. The tool writes into a hidden
// staging directory; only a complete, non-empty file is moved into place.
func (d *YtDlp) Fetch(ctx context.Context, req Request) (Result, error) {
	if err := ValidateSourceURL(req.URL); err != nil {
		return Result{}, err
	}
	if err := req.Range.Validate(); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(req.OutputDir) == "" {
		return Result{}, &Error{Op: "prepare", Err: errors.New("output directory is required")}
	}

	bin, err := exec.LookPath(d.binary)
	if err != nil {
		return Result{}, &Error{Op: "lookup", Err: fmt.Errorf("%s not found on PATH: %w", d.binary, err)}
	}

	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return Result{}, &Error{Op: "prepare", Err: err}
	}
	staging, err := os.MkdirTemp(req.OutputDir, stagingPattern)
	if err != nil {
		return Result{}, &Error{Op: "prepare", Err: err}
	}
	defer func() { _ = os.RemoveAll(staging) }()

	template := filepath.Join(staging, OutputTemplate(req.Name, req.Range, d.now()))
	args := BuildArgs(req, template)

	d.logger.Info("Starting download",
		zap.String("url", req.URL),
		zap.String("range", req.Range.String()),
		zap.String("format", req.Format),
		zap.String("output_dir", req.OutputDir),
	)
	d.logger.Debug("yt-dlp invocation", zap.String("binary", bin), zap.Strings("args", args))

	printed, stderr, err := d.run(ctx, bin, args)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, &Error{Op: "run", Stderr: stderr, Err: ctxErr}
		}
		return Result{}, &Error{Op: "run", Stderr: stderr, Err: err}
	}

	staged, err := stagedFile(staging, printed)
	if err != nil {
		return Result{}, &Error{Op: "collect", Stderr: stderr, Err: err}
	}

	final, err := moveIntoPlace(staged, req.OutputDir)
	if err != nil {
		return Result{}, &Error{Op: "finalize", Stderr: stderr, Err: err}
	}

	info, err := os.Stat(final)
	if err != nil {
		return Result{}, &Error{Op: "verify", Stderr: stderr, Err: err}
	}
	if info.Size() == 0 {
		_ = os.Remove(final)
		return Result{}, &Error{Op: "verify", Stderr: stderr, Err: ErrEmptyOutput}
	}

	res := Result{
		Path: final,
		Ext:  strings.TrimPrefix(filepath.Ext(final), "."),
		Size: info.Size(),
	}
	d.logger.Info("Download complete", zap.String("path", res.Path), zap.Int64("bytes", res.Size))
	return res, nil
}

// run executes the tool, streaming stdout for progress. It returns the path
// line printed after the final move, and the captured stderr.
func (d *YtDlp) run(ctx context.Context, bin string, args []string) (string, string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", "", err
	}
	if err := cmd.Start(); err != nil {
		return "", stderr.String(), err
	}

	progress := rate.Sometimes{Interval: d.progressInterval}
	var printed string

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if p, ok := strings.CutPrefix(line, pathMarker); ok {
			printed = strings.TrimSpace(p)
			continue
		}
		if d.onProgress != nil {
			d.onProgress(line)
		}
		progress.Do(func() {
			d.logger.Info("Download progress", zap.String("line", line))
		})
	}

	waitErr := cmd.Wait()
	if waitErr != nil {
		return printed, stderr.String(), waitErr
	}
	if err := scanner.Err(); err != nil {
		return printed, stderr.String(), err
	}
	return printed, stderr.String(), nil
}

// BuildArgs returns the yt-dlp arguments for req writing to template.
func BuildArgs(req Request, template string) []string {
	args := []string{
		"--no-playlist",
		"--newline",
		"--progress",
		"--no-simulate",
		"--print", "after_move:" + pathMarker + "%(filepath)s",
		"-o", template,
	}
	if f := strings.TrimSpace(req.Format); f != "" {
		args = append(args, "-f", f)
	}
	if !req.Range.IsZero() {
		args = append(args,
			"--download-sections", SectionSpec(req.Range),
			"--force-keyframes-at-cuts",
		)
	}
	return append(args, "--", req.URL)
}

// SectionSpec renders a range as a --download-sections value in seconds,
// e.g. "*187-201". Open bounds use 0 and inf.
func SectionSpec(r timerange.Range) string {
	start, end := "0", "inf"
	if r.HasStart {
		start = timerange.FormatSeconds(r.Start)
	}
	if r.HasEnd {
		end = timerange.FormatSeconds(r.End)
	}
	return "*" + start + "-" + end
}

// OutputTemplate returns the yt-dlp output template:
//
//	<name|%(title)s>[_<start>_to_<end>]_<YYYYMMDD_HHMMSS>.%(ext)s
func OutputTemplate(name string, r timerange.Range, now time.Time) string {
	base := "%(title)s"
	if n := sanitizeName(name); n != "" {
		base = n
	}

	var b strings.Builder
	b.WriteString(base)
	if !r.IsZero() {
		start, end := "00-00", "end"
		if r.HasStart {
			start = timerange.FormatFilename(r.Start)
		}
		if r.HasEnd {
			end = timerange.FormatFilename(r.End)
		}
		b.WriteString("_" + start + "_to_" + end)
	}
	b.WriteString("_" + now.Format("20060102_150405"))
	b.WriteString(".%(ext)s")
	return b.String()
}

// sanitizeName keeps a user supplied name inside the staging dir and
// escapes template markers.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.NewReplacer("/", "_", "\\", "_", "%", "%%").Replace(name)
	name = strings.TrimLeft(name, ".")
	return name
}

// stagedFile returns the downloaded file inside staging. The printed path is
// preferred; otherwise the single regular file left in staging is used.
func stagedFile(staging, printed string) (string, error) {
	if printed != "" {
		if rel, err := filepath.Rel(staging, printed); err == nil && !strings.HasPrefix(rel, "..") {
			if _, err := os.Stat(printed); err == nil {
				return printed, nil
			}
		}
	}

	entries, err := os.ReadDir(staging)
	if err != nil {
		return "", err
	}
	var found []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl") {
			continue
		}
		found = append(found, filepath.Join(staging, name))
	}
	switch len(found) {
	case 0:
		return "", ErrEmptyOutput
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("expected one output file, found %d", len(found))
	}
}

// moveIntoPlace renames src into dir without replacing an existing file.
func moveIntoPlace(src, dir string) (string, error) {
	base := filepath.Base(src)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	dst := filepath.Join(dir, base)
	for i := 1; ; i++ {
		if _, err := os.Lstat(dst); errors.Is(err, os.ErrNotExist) {
			break
		}
		if i > 100 {
			return "", fmt.Errorf("no free file name for %s", base)
		}
		dst = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
	}

	if err := os.Rename(src, dst); err != nil {
		return "", err
	}
	return dst, nil
}
