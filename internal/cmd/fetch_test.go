package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/3leaps/clipnimbus/pkg/fetch"
	"github.com/3leaps/clipnimbus/pkg/history"
	"github.com/3leaps/clipnimbus/pkg/job"
	"github.com/3leaps/clipnimbus/pkg/provider"
)

type stubFetcher struct {
	calls int
	err   error
}

func (f *stubFetcher) Fetch(_ context.Context, req fetch.Request) (fetch.Result, error) {
	f.calls++
	if f.err != nil {
		return fetch.Result{}, f.err
	}
	path := filepath.Join(req.OutputDir, "clip.mp4")
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return fetch.Result{}, err
	}
	if err := os.WriteFile(path, []byte("media"), 0o644); err != nil {
		return fetch.Result{}, err
	}
	return fetch.Result{Path: path, Ext: "mp4", Size: 5}, nil
}

type stubUploader struct {
	container string
	folder    string
}

func (u *stubUploader) Upload(_ context.Context, localPath, container, folder, _ string) (string, error) {
	u.container, u.folder = container, folder
	return "https://" + container + ".s3.amazonaws.com/" + provider.BlobKey(localPath, folder, ""), nil
}

// cmdEnv points the command globals at temp locations and swaps the
// download and upload collaborators for stubs.
type cmdEnv struct {
	configPath string
	dataDir    string
	fetcher    *stubFetcher
	uploader   *stubUploader
}

func newCmdEnv(t *testing.T) *cmdEnv {
	t.Helper()
	root := t.TempDir()
	env := &cmdEnv{
		configPath: filepath.Join(root, "config", "config.json"),
		dataDir:    filepath.Join(root, "data"),
		fetcher:    &stubFetcher{},
		uploader:   &stubUploader{},
	}

	origConfig, origData := configFile, dataDir
	origFetcher, origUploader := newFetcher, newUploader
	t.Cleanup(func() {
		configFile, dataDir = origConfig, origData
		newFetcher, newUploader = origFetcher, origUploader
	})

	configFile = env.configPath
	dataDir = env.dataDir
	newFetcher = func(*zap.Logger) job.Fetcher { return env.fetcher }
	newUploader = func(context.Context, string) (provider.Uploader, error) { return env.uploader, nil }
	return env
}

func testCommand(t *testing.T) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	c := &cobra.Command{}
	c.SetContext(context.Background())
	c.SetOut(out)
	c.SetErr(&bytes.Buffer{})
	return c, out
}

func TestRunJob_NoUploadPrintsLocalPath(t *testing.T) {
	env := newCmdEnv(t)
	c, out := testCommand(t)

	outDir := t.TempDir()
	err := runJob(c, jobFlags{url: "https://youtu.be/abc123", outputDir: outDir, noUpload: true})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)
	assert.Equal(t, filepath.Join(outDir, "clip.mp4"), lines[0])

	latest, err := history.NewStore(filepath.Join(env.dataDir, history.FileName)).Latest()
	require.NoError(t, err)
	assert.Equal(t, "https://youtu.be/abc123", latest.URL)
	assert.False(t, latest.Upload)
}

func TestRunJob_UploadPrintsLocator(t *testing.T) {
	env := newCmdEnv(t)
	c, out := testCommand(t)

	err := runJob(c, jobFlags{
		url:        "https://youtu.be/abc123",
		start:      "3:07",
		end:        "3:21",
		container:  "clips",
		blobFolder: "2026/10",
		outputDir:  t.TempDir(),
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "https://clips.s3.amazonaws.com/2026/10/clip.mp4", lines[1])
	assert.Equal(t, "clips", env.uploader.container)
	assert.Equal(t, "2026/10", env.uploader.folder)
}

func TestRunJob_InvalidRange(t *testing.T) {
	env := newCmdEnv(t)
	c, out := testCommand(t)

	err := runJob(c, jobFlags{url: "https://youtu.be/abc123", start: "30", end: "10", noUpload: true})
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
	assert.True(t, strings.HasPrefix(err.Error(), "Job failed: "+string(job.KindInvalidInput)+":"), err.Error())
	assert.Equal(t, 1, strings.Count(err.Error(), string(job.KindInvalidInput)))
	assert.Zero(t, env.fetcher.calls)
	assert.Empty(t, out.String())
}

func TestRunJob_MissingContainer(t *testing.T) {
	newCmdEnv(t)
	c, _ := testCommand(t)

	err := runJob(c, jobFlags{url: "https://youtu.be/abc123", outputDir: t.TempDir()})
	require.Error(t, err)
	assert.Equal(t, foundry.ExitExternalServiceUnavailable, ExitCode(err))
	assert.Contains(t, err.Error(), string(job.KindUploadFailed))
}

func TestRunJob_Cancelled(t *testing.T) {
	env := newCmdEnv(t)
	env.fetcher.err = context.Canceled
	c, _ := testCommand(t)

	err := runJob(c, jobFlags{url: "https://youtu.be/abc123", noUpload: true, outputDir: t.TempDir()})
	require.Error(t, err)
	assert.Equal(t, foundry.ExitSignalInt, ExitCode(err))
}

func TestRunJob_CorruptSettings(t *testing.T) {
	env := newCmdEnv(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(env.configPath), 0o700))
	require.NoError(t, os.WriteFile(env.configPath, []byte("{not json"), 0o600))
	c, _ := testCommand(t)

	err := runJob(c, jobFlags{url: "https://youtu.be/abc123", noUpload: true})
	require.Error(t, err)
	assert.Equal(t, foundry.ExitFileReadError, ExitCode(err))
	assert.Zero(t, env.fetcher.calls)
}

func TestFetchCommand_ConflictingURLs(t *testing.T) {
	newCmdEnv(t)
	orig := fetchJob
	t.Cleanup(func() { fetchJob = orig })

	fetchJob = jobFlags{url: "https://youtu.be/aaa"}
	c, _ := testCommand(t)
	err := fetchCmd.RunE(c, []string{"https://youtu.be/bbb"})
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))

	fetchJob = jobFlags{}
	err = fetchCmd.RunE(c, nil)
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))
}

func TestJobFlags_Request(t *testing.T) {
	req := jobFlags{url: "  https://youtu.be/x  ", start: "1", end: "2", noUpload: true, format: "best"}.request()
	assert.Equal(t, "https://youtu.be/x", req.URL)
	assert.Equal(t, "1", req.Start)
	assert.Equal(t, "2", req.End)
	assert.Equal(t, "best", req.Format)
	assert.True(t, req.SkipUpload)
}

func TestExitCodeForKind(t *testing.T) {
	tests := []struct {
		err  *job.Error
		want int
	}{
		{&job.Error{Kind: job.KindInvalidInput}, foundry.ExitInvalidArgument},
		{&job.Error{Kind: job.KindConfigCorrupt}, foundry.ExitFileReadError},
		{&job.Error{Kind: job.KindFetchFailed, Err: errors.New("boom")}, foundry.ExitExternalServiceUnavailable},
		{&job.Error{Kind: job.KindUploadFailed}, foundry.ExitExternalServiceUnavailable},
		{&job.Error{Kind: job.KindFetchFailed, Err: context.Canceled}, foundry.ExitSignalInt},
	}
	for _, tt := range tests {
		t.Run(string(tt.err.Kind), func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeForKind(tt.err))
		})
	}
}
