package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/clipnimbus/internal/errors"
	"github.com/3leaps/clipnimbus/pkg/history"
	"github.com/3leaps/clipnimbus/pkg/job"
	"github.com/3leaps/clipnimbus/pkg/timerange"
)

const (
	// DefaultHistoryLimit is used when ?limit is absent.
	DefaultHistoryLimit = 50
	// MaxHistoryLimit caps ?limit.
	MaxHistoryLimit = 500
)

// JobRunner executes jobs without queueing.
type JobRunner interface {
	TryRun(ctx context.Context, req job.Request) (job.Result, error)
}

// HistoryReader reads the job history.
type HistoryReader interface {
	List(limit int) iter.Seq2[history.Entry, error]
	Get(id string) (history.Entry, error)
}

// StatusSource reports the last job transition.
type StatusSource interface {
	Current() (job.Transition, bool)
}

// JobRequest is the JSON body of POST /api/jobs.
type JobRequest struct {
	URL        string `json:"url" validate:"required,url,max=2048"`
	Start      string `json:"start,omitempty" validate:"omitempty,max=32"`
	End        string `json:"end,omitempty" validate:"omitempty,max=32"`
	Name       string `json:"name,omitempty" validate:"omitempty,max=200"`
	Container  string `json:"container,omitempty" validate:"omitempty,max=255"`
	BlobFolder string `json:"blob_folder,omitempty" validate:"omitempty,max=1024"`
	Format     string `json:"format,omitempty" validate:"omitempty,max=512"`
	// Upload defaults to true when omitted.
	Upload *bool `json:"upload,omitempty"`
}

// ToJob converts the body into an orchestrator request.
func (r JobRequest) ToJob() job.Request {
	return job.Request{
		URL:        strings.TrimSpace(r.URL),
		Start:      strings.TrimSpace(r.Start),
		End:        strings.TrimSpace(r.End),
		Name:       strings.TrimSpace(r.Name),
		Format:     strings.TrimSpace(r.Format),
		Container:  strings.TrimSpace(r.Container),
		BlobFolder: strings.TrimSpace(r.BlobFolder),
		SkipUpload: r.Upload != nil && !*r.Upload,
	}
}

// JobError describes a failed job.
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// JobResponse is the JSON view of a job result.
type JobResponse struct {
	JobID         string    `json:"job_id"`
	State         string    `json:"state"`
	FailedAt      string    `json:"failed_at,omitempty"`
	Range         string    `json:"range"`
	LocalPath     string    `json:"local_path,omitempty"`
	Size          int64     `json:"size,omitempty"`
	RemoteLocator string    `json:"remote_locator,omitempty"`
	Warnings      []string  `json:"warnings,omitempty"`
	Error         *JobError `json:"error,omitempty"`
	ElapsedMS     int64     `json:"elapsed_ms"`
}

// NewJobResponse converts a result.
func NewJobResponse(res job.Result) JobResponse {
	out := JobResponse{
		JobID:         res.JobID,
		State:         string(res.State),
		FailedAt:      string(res.FailedAt),
		Range:         res.Range.String(),
		LocalPath:     res.LocalPath,
		Size:          res.Size,
		RemoteLocator: res.RemoteLocator,
		Warnings:      res.Warnings,
		ElapsedMS:     res.Elapsed.Milliseconds(),
	}
	if res.Err != nil {
		out.Error = &JobError{Kind: string(res.Err.Kind), Message: res.Err.Message(), Hint: res.Err.Hint}
	}
	return out
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	JobID string    `json:"job_id,omitempty"`
	State string    `json:"state"`
	Busy  bool      `json:"busy"`
	Since time.Time `json:"since,omitzero"`
}

// Jobs serves the JSON API.
type Jobs struct {
	runner   JobRunner
	history  HistoryReader
	status   StatusSource
	validate *validator.Validate
	logger   *zap.Logger
	base     context.Context
}

// NewJobs creates the API handlers. status may be nil.
func NewJobs(runner JobRunner, hist HistoryReader, status StatusSource, logger *zap.Logger) *Jobs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Jobs{
		runner:   runner,
		history:  hist,
		status:   status,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		base:     context.Background(),
	}
}

// WithBaseContext ties running jobs to ctx instead of the submitting request.
// A job keeps running when its client disconnects and stops when ctx is done.
func (h *Jobs) WithBaseContext(ctx context.Context) *Jobs {
	if ctx != nil {
		h.base = ctx
	}
	return h
}

// jobContext keeps the request's values but takes cancellation from the base
// context only.
func (h *Jobs) jobContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	if h.base.Err() != nil {
		cancel()
	}
	stop := context.AfterFunc(h.base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Create runs a job synchronously and returns its result.
func (h *Jobs) Create(w http.ResponseWriter, r *http.Request) {
	var body JobRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		respondWithError(w, r, apperrors.NewBadRequest("invalid request body", err))
		return
	}
	if err := h.validateRequest(body); err != nil {
		respondWithError(w, r, err)
		return
	}

	ctx, cancel := h.jobContext(r)
	defer cancel()
	res, err := h.runner.TryRun(ctx, body.ToJob())
	if errors.Is(err, job.ErrBusy) {
		respondWithError(w, r, apperrors.NewConflict("a job is already running", nil))
		return
	}
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	if !res.OK() {
		respondWithError(w, r, jobFailure(res))
		return
	}
	writeJSON(w, http.StatusOK, NewJobResponse(res))
}

func (h *Jobs) validateRequest(body JobRequest) error {
	err := h.validate.Struct(body)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.NewBadRequest("invalid request", err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[jsonFieldName(fe.Field())] = fe.Tag()
	}
	se := apperrors.NewStatusError(http.StatusBadRequest, apperrors.CodeValidation, "request validation failed", nil)
	return se.WithDetails(map[string]any{"fields": fields})
}

func jsonFieldName(field string) string {
	switch field {
	case "URL":
		return "url"
	case "BlobFolder":
		return "blob_folder"
	default:
		return strings.ToLower(field)
	}
}

// jobFailure maps a failed result to an HTTP error.
func jobFailure(res job.Result) *apperrors.StatusError {
	status := http.StatusInternalServerError
	code := apperrors.CodeInternal
	switch res.Err.Kind {
	case job.KindInvalidInput:
		status, code = http.StatusUnprocessableEntity, "INVALID_INPUT"
	case job.KindConfigCorrupt:
		status, code = http.StatusInternalServerError, "CONFIG_CORRUPT"
	case job.KindFetchFailed:
		status, code = http.StatusBadGateway, "FETCH_FAILED"
	case job.KindUploadFailed:
		status, code = http.StatusBadGateway, "UPLOAD_FAILED"
	}
	details := map[string]any{
		"job_id":    res.JobID,
		"kind":      string(res.Err.Kind),
		"failed_at": string(res.FailedAt),
	}
	if res.Err.Hint != "" {
		details["hint"] = res.Err.Hint
	}
	if res.LocalPath != "" {
		details["local_path"] = res.LocalPath
	}
	se := apperrors.NewStatusError(status, code, res.Err.Message(), nil)
	return se.WithDetails(details)
}

// History lists recent entries, newest first.
func (h *Jobs) History(w http.ResponseWriter, r *http.Request) {
	limit := DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondWithError(w, r, apperrors.NewBadRequest(fmt.Sprintf("invalid limit %q", raw), nil))
			return
		}
		limit = min(n, MaxHistoryLimit)
	}

	entries, skipped := collectHistory(h.history, limit, h.logger)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"skipped": skipped,
	})
}

// HistoryEntry returns one entry by ID.
func (h *Jobs) HistoryEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, err := h.history.Get(id)
	if errors.Is(err, history.ErrNotFound) {
		respondWithError(w, r, apperrors.NewNotFound("history entry not found: "+id))
		return
	}
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// Status reports the last job transition.
func (h *Jobs) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{State: "idle"}
	if h.status != nil {
		if tr, ok := h.status.Current(); ok {
			resp = StatusResponse{
				JobID: tr.JobID,
				State: string(tr.To),
				Busy:  !tr.To.IsTerminal(),
				Since: tr.At,
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// collectHistory reads up to limit entries. Unreadable lines are skipped and
// counted.
func collectHistory(hist HistoryReader, limit int, logger *zap.Logger) ([]history.Entry, int) {
	entries := make([]history.Entry, 0, min(limit, DefaultHistoryLimit))
	skipped := 0
	for e, err := range hist.List(limit) {
		if err != nil {
			var de *history.DecodeError
			if errors.As(err, &de) {
				skipped++
				logger.Warn("Skipping unreadable history line", zap.Int("line", de.Line), zap.Error(de.Err))
				continue
			}
			logger.Warn("History read failed", zap.Error(err))
			break
		}
		entries = append(entries, e)
	}
	return entries, skipped
}

// formatOffset renders seconds as a form value: clock notation when whole,
// bare seconds otherwise.
func formatOffset(secs *float64) string {
	if secs == nil {
		return ""
	}
	r := timerange.FromSeconds(secs, nil)
	if r.Start%time.Second != 0 {
		return timerange.FormatSeconds(r.Start)
	}
	return timerange.FormatClock(r.Start)
}
