package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/3leaps/clipnimbus/internal/observability"
	"github.com/3leaps/clipnimbus/pkg/fetch"
	"github.com/3leaps/clipnimbus/pkg/job"
	"github.com/3leaps/clipnimbus/pkg/provider"
	"github.com/3leaps/clipnimbus/pkg/provider/file"
	"github.com/3leaps/clipnimbus/pkg/provider/s3"
)

// Collaborator constructors. Tests replace these to avoid spawning the
// download tool or reaching the network.
var (
	newFetcher = func(logger *zap.Logger) job.Fetcher {
		return fetch.New(
			fetch.WithLogger(logger),
			fetch.WithProgress(func(line string) {
				logger.Debug("Download progress", zap.String("line", line))
			}),
		)
	}

	newUploader job.UploaderFactory = func(ctx context.Context, connection string) (provider.Uploader, error) {
		return openProvider(ctx, connection)
	}

	newCloudClient = func(ctx context.Context, connection string) (cloudClient, error) {
		return openProvider(ctx, connection)
	}
)

// cloudClient is the provider surface used by uploads, link and doctor.
type cloudClient interface {
	provider.Uploader
	provider.Presigner
	provider.ContainerChecker
	Region() string
}

// openProvider selects the backend named by the connection string.
func openProvider(ctx context.Context, connection string) (cloudClient, error) {
	switch kind := provider.DetectType(connection); kind {
	case provider.ProviderS3:
		p, err := s3.NewFromConnectionString(ctx, connection)
		if err != nil {
			return nil, err
		}
		return p, nil
	case provider.ProviderFile:
		p, err := file.NewFromConnectionString(connection)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported provider %q (use s3 or file)", kind)
	}
}

// newOrchestrator assembles a job orchestrator from the global flags.
func newOrchestrator(store job.SettingsResolver, opts ...job.Option) *job.Orchestrator {
	logger := observability.CLILogger
	deps := job.Deps{
		Settings:  store,
		History:   openHistory(),
		Fetcher:   newFetcher(logger),
		Uploaders: newUploader,
	}
	return job.New(deps, append([]job.Option{job.WithLogger(logger)}, opts...)...)
}

// jobFlags are the per-job flags shared by the root command and fetch.
type jobFlags struct {
	url        string
	start      string
	end        string
	name       string
	container  string
	blobFolder string
	format     string
	outputDir  string
	noUpload   bool
}

func (f *jobFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.url, "url", "u", "", "Video URL to download")
	fs.StringVarP(&f.start, "start", "s", "", "Clip start (seconds, MM:SS or HH:MM:SS)")
	fs.StringVarP(&f.end, "end", "e", "", "Clip end (seconds, MM:SS or HH:MM:SS)")
	fs.StringVar(&f.name, "name", "", "Output file name (replaces the video title)")
	fs.StringVar(&f.container, "container", "", "Upload container (overrides cloud.container_name)")
	fs.StringVar(&f.blobFolder, "blob-folder", "", "Object key prefix (overrides cloud.blob_folder)")
	fs.StringVarP(&f.format, "format", "f", "", "yt-dlp format selector (overrides download.format)")
	fs.StringVar(&f.outputDir, "output-dir", "", "Download directory (overrides download.output_path)")
	fs.BoolVar(&f.noUpload, "no-upload", false, "Keep the file local and skip the upload")
}

func (f jobFlags) request() job.Request {
	return job.Request{
		URL:        strings.TrimSpace(f.url),
		Start:      f.start,
		End:        f.end,
		Name:       f.name,
		Format:     f.format,
		Container:  f.container,
		BlobFolder: f.blobFolder,
		OutputDir:  f.outputDir,
		SkipUpload: f.noUpload,
	}
}
