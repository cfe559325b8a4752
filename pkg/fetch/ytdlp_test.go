package fetch

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/clipnimbus/pkg/timerange"
)

const fakeYtDlp = `#!/bin/sh
printf '%s\n' "$@" > "$FAKE_ARGS_FILE"
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-o" ]; then out="$a"; fi
  prev="$a"
done
path=$(printf '%s' "$out" | sed -e 's/%(title)s/Test Video/' -e 's/%(ext)s/mp4/')
case "$FAKE_MODE" in
  ok)
    echo "[download]  10.0% of 1.00MiB"
    echo "[download] 100.0% of 1.00MiB"
    printf 'media-bytes' > "$path"
    echo "clipnimbus-path:$path"
    ;;
  noprint)
    printf 'media-bytes' > "$path"
    ;;
  empty)
    : > "$path"
    echo "clipnimbus-path:$path"
    ;;
  fail)
    printf 'partial' > "$path.part"
    echo "ERROR: [youtube] abc123: Video unavailable" >&2
    exit 1
    ;;
esac
`

type fakeTool struct {
	binary   string
	argsFile string
}

func installFake(t *testing.T, mode string) fakeTool {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake yt-dlp requires a POSIX shell")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "yt-dlp")
	require.NoError(t, os.WriteFile(bin, []byte(fakeYtDlp), 0o755))

	argsFile := filepath.Join(dir, "args.txt")
	t.Setenv("FAKE_ARGS_FILE", argsFile)
	t.Setenv("FAKE_MODE", mode)
	return fakeTool{binary: bin, argsFile: argsFile}
}

func (f fakeTool) args(t *testing.T) []string {
	t.Helper()
	b, err := os.ReadFile(f.argsFile)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(b), "\n"), "\n")
}

func (f fakeTool) invoked() bool {
	_, err := os.Stat(f.argsFile)
	return err == nil
}

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestFetch_FullMedia(t *testing.T) {
	fake := installFake(t, "ok")
	out := filepath.Join(t.TempDir(), "downloads")

	d := New(WithBinary(fake.binary), WithClock(fixedClock))
	res, err := d.Fetch(context.Background(), Request{
		URL:       "https://youtube.com/watch?v=abc123",
		Format:    "best",
		OutputDir: out,
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(out, "Test Video_20240506_070809.mp4"), res.Path)
	assert.Equal(t, "mp4", res.Ext)
	assert.Equal(t, int64(len("media-bytes")), res.Size)
	assert.Equal(t, []string{"Test Video_20240506_070809.mp4"}, listDir(t, out), "staging dir must be removed")

	args := fake.args(t)
	assert.NotContains(t, args, "--download-sections")
	assert.NotContains(t, args, "--force-keyframes-at-cuts")
	assert.Contains(t, args, "best")
	assert.Equal(t, "https://youtube.com/watch?v=abc123", args[len(args)-1])
}

func TestFetch_RangeIsPassedInSeconds(t *testing.T) {
	fake := installFake(t, "ok")
	out := t.TempDir()

	r, err := timerange.New("3:07", "3:21")
	require.NoError(t, err)

	d := New(WithBinary(fake.binary), WithClock(fixedClock))
	res, err := d.Fetch(context.Background(), Request{
		URL:       "https://youtu.be/abc123",
		Range:     r,
		OutputDir: out,
		Name:      "clip",
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "clip_03-07_to_03-21_20240506_070809.mp4"), res.Path)

	args := fake.args(t)
	idx := indexOf(args, "--download-sections")
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, "*187-201", args[idx+1])
	assert.Contains(t, args, "--force-keyframes-at-cuts")
}

func TestFetch_FallsBackToStagedFile(t *testing.T) {
	fake := installFake(t, "noprint")
	out := t.TempDir()

	res, err := New(WithBinary(fake.binary), WithClock(fixedClock)).Fetch(context.Background(), Request{
		URL:       "https://www.youtube.com/shorts/abc123",
		OutputDir: out,
	})
	require.NoError(t, err)
	assert.FileExists(t, res.Path)
}

func TestFetch_ToolFailureCleansUp(t *testing.T) {
	fake := installFake(t, "fail")
	out := t.TempDir()

	_, err := New(WithBinary(fake.binary)).Fetch(context.Background(), Request{
		URL:       "https://youtube.com/watch?v=abc123",
		OutputDir: out,
	})
	require.Error(t, err)

	var ferr *Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "run", ferr.Op)
	assert.Contains(t, ferr.Stderr, "ERROR: [youtube] abc123: Video unavailable")
	assert.Contains(t, err.Error(), "Video unavailable")
	assert.Empty(t, listDir(t, out), "no partial artifacts may remain")
}

func TestFetch_EmptyOutputIsFailure(t *testing.T) {
	fake := installFake(t, "empty")
	out := t.TempDir()

	_, err := New(WithBinary(fake.binary)).Fetch(context.Background(), Request{
		URL:       "https://youtube.com/watch?v=abc123",
		OutputDir: out,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyOutput)
	assert.Empty(t, listDir(t, out))
}

func TestFetch_MissingBinary(t *testing.T) {
	out := t.TempDir()
	_, err := New(WithBinary(filepath.Join(t.TempDir(), "no-such-yt-dlp"))).Fetch(context.Background(), Request{
		URL:       "https://youtube.com/watch?v=abc123",
		OutputDir: out,
	})

	var ferr *Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "lookup", ferr.Op)
	assert.Empty(t, listDir(t, out))
}

func TestFetch_InvalidURLNeverInvokesTool(t *testing.T) {
	fake := installFake(t, "ok")

	_, err := New(WithBinary(fake.binary)).Fetch(context.Background(), Request{
		URL:       "https://vimeo.com/12345",
		OutputDir: t.TempDir(),
	})
	assert.ErrorIs(t, err, ErrInvalidSourceURL)
	assert.False(t, fake.invoked())
}

func TestFetch_ProgressCallback(t *testing.T) {
	fake := installFake(t, "ok")

	var mu sync.Mutex
	var lines []string
	d := New(WithBinary(fake.binary), WithProgress(func(line string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, line)
	}))

	_, err := d.Fetch(context.Background(), Request{
		URL:       "https://youtube.com/watch?v=abc123",
		OutputDir: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"[download]  10.0% of 1.00MiB", "[download] 100.0% of 1.00MiB"}, lines)
}

func TestSectionSpec(t *testing.T) {
	tests := []struct {
		name  string
		start string
		end   string
		want  string
	}{
		{name: "both bounds", start: "3:07", end: "3:21", want: "*187-201"},
		{name: "fractional", start: "1.5", end: "2.25", want: "*1.5-2.25"},
		{name: "start only", start: "10", want: "*10-inf"},
		{name: "end only", end: "30", want: "*0-30"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := timerange.New(tt.start, tt.end)
			require.NoError(t, err)
			assert.Equal(t, tt.want, SectionSpec(r))
		})
	}
}

func TestOutputTemplate(t *testing.T) {
	full := OutputTemplate("", timerange.Range{}, fixedNow)
	assert.Equal(t, "%(title)s_20240506_070809.%(ext)s", full)

	r, _ := timerange.New("1:03:07", "")
	assert.Equal(t, "intro_01-03-07_to_end_20240506_070809.%(ext)s", OutputTemplate("  intro ", r, fixedNow))

	assert.Equal(t, "_a_b 100%%_20240506_070809.%(ext)s", OutputTemplate("../a/b 100%", timerange.Range{}, fixedNow))
}

func TestBuildArgs_URLIsLast(t *testing.T) {
	args := BuildArgs(Request{URL: "https://youtu.be/abc123"}, "/tmp/x.%(ext)s")
	require.GreaterOrEqual(t, len(args), 2)
	assert.Equal(t, "--", args[len(args)-2])
	assert.Equal(t, "https://youtu.be/abc123", args[len(args)-1])
	assert.NotContains(t, args, "-f")
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
