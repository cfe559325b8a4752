package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/clipnimbus/pkg/fetch"
	"github.com/3leaps/clipnimbus/pkg/history"
	"github.com/3leaps/clipnimbus/pkg/provider"
	"github.com/3leaps/clipnimbus/pkg/settings"
	"github.com/3leaps/clipnimbus/pkg/timerange"
)

// SettingsResolver produces the per-job settings view.
type SettingsResolver interface {
	Resolve(o settings.Overrides) (settings.Resolved, error)
}

// HistoryAppender records completed jobs.
type HistoryAppender interface {
	Append(e history.Entry) error
}

// Fetcher downloads media to a local file.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (fetch.Result, error)
}

// UploaderFactory builds an uploader from the resolved connection string.
type UploaderFactory func(ctx context.Context, connection string) (provider.Uploader, error)

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Settings  SettingsResolver
	History   HistoryAppender
	Fetcher   Fetcher
	Uploaders UploaderFactory
}

// Orchestrator runs one job at a time.
type Orchestrator struct {
	deps     Deps
	logger   *zap.Logger
	observer func(Transition)
	newID    func() string
	now      func() time.Time

	mu sync.Mutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the lifecycle logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers a callback for every state transition. It is
// called synchronously from the running job.
func WithObserver(fn func(Transition)) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// WithIDGenerator replaces the job ID source.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// WithClock replaces the time source.
func WithClock(fn func() time.Time) Option {
	return func(o *Orchestrator) { o.now = fn }
}

// New returns an orchestrator.
func New(deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		deps:   deps,
		logger: zap.NewNop(),
		newID:  uuid.NewString,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes req, waiting for any job already in flight to finish first.
func (o *Orchestrator) Run(ctx context.Context, req Request) Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run(ctx, req)
}

// TryRun executes req unless another job is in flight, in which case it
// returns ErrBusy without doing anything.
func (o *Orchestrator) TryRun(ctx context.Context, req Request) (Result, error) {
	if !o.mu.TryLock() {
		return Result{}, ErrBusy
	}
	defer o.mu.Unlock()
	return o.run(ctx, req), nil
}

// jobRun tracks one execution.
type jobRun struct {
	o      *Orchestrator
	res    Result
	logger *zap.Logger
}

func (j *jobRun) enter(s State) {
	from := j.res.State
	j.res.State = s
	j.logger.Debug("Job state", zap.String("from", string(from)), zap.String("to", string(s)))
	if j.o.observer != nil {
		j.o.observer(Transition{JobID: j.res.JobID, From: from, To: s, At: j.o.now()})
	}
}

func (j *jobRun) fail(kind Kind, err error, hint string) Result {
	failedAt := j.res.State
	j.res.FailedAt = failedAt
	j.res.Err = &Error{Kind: kind, State: failedAt, Err: err, Hint: hint}
	j.enter(StateFailed)
	j.res.Elapsed = j.o.now().Sub(j.res.StartedAt)

	fields := []zap.Field{
		zap.String("kind", string(kind)),
		zap.String("failed_at", string(failedAt)),
		zap.Error(err),
		zap.Duration("elapsed", j.res.Elapsed),
	}
	if j.res.LocalPath != "" {
		fields = append(fields, zap.String("local_path", j.res.LocalPath))
	}
	j.logger.Error("Job failed", fields...)
	return j.res
}

func (o *Orchestrator) run(ctx context.Context, req Request) Result {
	j := &jobRun{o: o}
	j.res = Result{JobID: o.newID(), State: StatePending, StartedAt: o.now()}
	j.logger = o.logger.With(zap.String("job_id", j.res.JobID))
	j.logger.Info("Job started", zap.String("url", req.URL), zap.Bool("upload", !req.SkipUpload))

	j.enter(StateValidating)

	if err := fetch.ValidateSourceURL(req.URL); err != nil {
		return j.fail(KindInvalidInput, err, "")
	}
	r, err := timerange.New(req.Start, req.End)
	if err != nil {
		return j.fail(KindInvalidInput, err, "")
	}
	if err := r.Validate(); err != nil {
		return j.fail(KindInvalidInput, err, "")
	}
	j.res.Range = r

	resolved, err := o.deps.Settings.Resolve(settings.Overrides{
		Container:  req.Container,
		BlobFolder: req.BlobFolder,
		OutputPath: req.OutputDir,
		Format:     req.Format,
	})
	if err != nil {
		return j.fail(KindConfigCorrupt, err, "fix or remove the settings file, or run `clipnimbus config edit`")
	}

	if err := ctx.Err(); err != nil {
		return j.fail(KindFetchFailed, err, "")
	}

	j.enter(StateDownloading)
	fr, err := o.deps.Fetcher.Fetch(ctx, fetch.Request{
		URL:       req.URL,
		Range:     r,
		Format:    resolved.Format,
		OutputDir: resolved.OutputPath,
		Name:      req.Name,
	})
	if err != nil {
		return j.fail(KindFetchFailed, err, "")
	}
	j.res.LocalPath = fr.Path
	j.res.Ext = fr.Ext
	j.res.Size = fr.Size

	if !req.SkipUpload {
		j.enter(StateUploading)
		locator, hint, err := o.upload(ctx, resolved, fr.Path)
		if err != nil {
			return j.fail(KindUploadFailed, err, hint)
		}
		j.res.RemoteLocator = locator
		j.res.RemoteContainer = resolved.Container
		j.res.RemoteKey = provider.BlobKey(fr.Path, resolved.BlobFolder, "")
		j.logger.Info("Upload complete", zap.String("locator", locator))
	}

	j.enter(StateRecordingHistory)
	entry := history.Entry{
		ID:            j.res.JobID,
		URL:           req.URL,
		StartSeconds:  r.StartSeconds(),
		EndSeconds:    r.EndSeconds(),
		Name:          req.Name,
		Container:     req.Container,
		BlobFolder:    req.BlobFolder,
		Format:        req.Format,
		Upload:        !req.SkipUpload,
		LocalPath:     j.res.LocalPath,
		RemoteLocator: j.res.RemoteLocator,
		CreatedAt:     o.now().UTC(),

		RemoteContainer: j.res.RemoteContainer,
		RemoteKey:       j.res.RemoteKey,
	}
	if err := o.deps.History.Append(entry); err != nil {
		werr := &Error{Kind: KindHistoryWriteError, State: StateRecordingHistory, Err: err}
		j.res.Warnings = append(j.res.Warnings, werr.Error())
		j.logger.Warn("History write failed", zap.Error(err))
	}

	j.enter(StateCompleted)
	j.res.Elapsed = o.now().Sub(j.res.StartedAt)
	j.logger.Info("Job completed",
		zap.String("local_path", j.res.LocalPath),
		zap.String("locator", j.res.RemoteLocator),
		zap.Duration("elapsed", j.res.Elapsed),
		zap.Int("warnings", len(j.res.Warnings)),
	)
	return j.res
}

func (o *Orchestrator) upload(ctx context.Context, resolved settings.Resolved, localPath string) (locator, hint string, err error) {
	const configHint = "set cloud.container_name with `clipnimbus config set`, pass --container, or use --no-upload"

	if strings.TrimSpace(resolved.Container) == "" {
		return "", configHint, &provider.ProviderError{Op: "Upload", Provider: provider.DetectType(resolved.Connection), Err: provider.ErrMissingContainer}
	}
	if o.deps.Uploaders == nil {
		return "", "", errors.New("no uploader configured")
	}

	up, err := o.deps.Uploaders(ctx, resolved.Connection)
	if err != nil {
		return "", "check cloud.connection_string with `clipnimbus config edit`", fmt.Errorf("create uploader: %w", err)
	}

	locator, err = up.Upload(ctx, localPath, resolved.Container, resolved.BlobFolder, "")
	if err != nil {
		switch {
		case provider.IsInvalidCredentials(err):
			hint = "check cloud.connection_string with `clipnimbus config edit`"
		case provider.IsBucketNotFound(err):
			hint = "the container does not exist; check cloud.container_name"
		}
		return "", hint, err
	}
	return locator, "", nil
}
