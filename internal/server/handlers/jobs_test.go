package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/clipnimbus/internal/errors"
	"github.com/3leaps/clipnimbus/pkg/history"
	"github.com/3leaps/clipnimbus/pkg/job"
	"github.com/3leaps/clipnimbus/pkg/settings"
)

type fakeRunner struct {
	res     job.Result
	err     error
	calls   []job.Request
	ctxs    []context.Context
	ctxErrs []error // ctx.Err() at call time
}

func (f *fakeRunner) TryRun(ctx context.Context, req job.Request) (job.Result, error) {
	f.calls = append(f.calls, req)
	f.ctxs = append(f.ctxs, ctx)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return f.res, f.err
}

type fakeHistory struct {
	entries   []history.Entry // newest first
	corruptAt int             // 1-based position yielding a DecodeError; 0 disables
}

func (f *fakeHistory) List(limit int) iter.Seq2[history.Entry, error] {
	return func(yield func(history.Entry, error) bool) {
		n := 0
		for i, e := range f.entries {
			if f.corruptAt == i+1 {
				if !yield(history.Entry{}, &history.DecodeError{Line: 99, Err: errors.New("bad json")}) {
					return
				}
			}
			if limit > 0 && n >= limit {
				return
			}
			if !yield(e, nil) {
				return
			}
			n++
		}
	}
}

func (f *fakeHistory) Get(id string) (history.Entry, error) {
	for _, e := range f.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return history.Entry{}, history.ErrNotFound
}

type fakeSettingsView struct {
	doc settings.Document
	err error
}

func (f fakeSettingsView) Show() (settings.Document, error) { return f.doc, f.err }

func ptr(f float64) *float64 { return &f }

func sampleHistory() *fakeHistory {
	return &fakeHistory{entries: []history.Entry{
		{
			ID: "job-2", URL: "https://youtu.be/abc123", StartSeconds: ptr(187), EndSeconds: ptr(201.5),
			Name: "intro", Container: "videos", Upload: true,
			LocalPath: "/dl/intro.mp4", RemoteLocator: "https://s3/videos/intro.mp4",
			CreatedAt: time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		},
		{
			ID: "job-1", URL: "https://www.youtube.com/watch?v=xyz789",
			LocalPath: "/dl/full.mp4", CreatedAt: time.Date(2024, 5, 5, 7, 8, 9, 0, time.UTC),
		},
	}}
}

func newRouter(t *testing.T, runner JobRunner, hist HistoryReader, status StatusSource) (*chi.Mux, *UI) {
	t.Helper()
	jobs := NewJobs(runner, hist, status, nil)
	ui, err := NewUI(jobs, fakeSettingsView{doc: settings.Defaults()}, "test")
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Post("/api/jobs", jobs.Create)
	r.Get("/api/history", jobs.History)
	r.Get("/api/history/{id}", jobs.HistoryEntry)
	r.Get("/api/status", jobs.Status)
	r.Get("/", ui.Index)
	r.Post("/jobs", ui.Submit)
	r.Get("/history/{id}", ui.Refill)
	return r, ui
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.HTTPError {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error
}

func TestCreate_Completed(t *testing.T) {
	runner := &fakeRunner{res: job.Result{
		JobID: "job-9", State: job.StateCompleted, LocalPath: "/dl/clip.mp4", RemoteLocator: "https://s3/videos/clip.mp4",
	}}
	r, _ := newRouter(t, runner, sampleHistory(), nil)

	rec := postJSON(t, r, "/api/jobs", `{"url":"https://youtu.be/abc123","start":"3:07","end":"3:21","upload":false}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "job-9", resp.JobID)
	assert.Equal(t, "completed", resp.State)
	assert.Nil(t, resp.Error)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, job.Request{URL: "https://youtu.be/abc123", Start: "3:07", End: "3:21", SkipUpload: true}, runner.calls[0])
}

func TestCreate_UploadDefaultsOn(t *testing.T) {
	runner := &fakeRunner{res: job.Result{State: job.StateCompleted}}
	r, _ := newRouter(t, runner, sampleHistory(), nil)

	rec := postJSON(t, r, "/api/jobs", `{"url":"https://youtu.be/abc123"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, runner.calls[0].SkipUpload)
}

func TestCreate_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{name: "missing url", body: `{}`, code: apperrors.CodeValidation},
		{name: "not a url", body: `{"url":"not a url"}`, code: apperrors.CodeValidation},
		{name: "unknown field", body: `{"url":"https://youtu.be/abc123","bogus":1}`, code: apperrors.CodeBadRequest},
		{name: "malformed json", body: `{"url":`, code: apperrors.CodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			r, _ := newRouter(t, runner, sampleHistory(), nil)

			rec := postJSON(t, r, "/api/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
			assert.Empty(t, runner.calls)
		})
	}
}

func TestCreate_JobFailureMapping(t *testing.T) {
	tests := []struct {
		kind   job.Kind
		status int
		code   string
	}{
		{job.KindInvalidInput, http.StatusUnprocessableEntity, "INVALID_INPUT"},
		{job.KindConfigCorrupt, http.StatusInternalServerError, "CONFIG_CORRUPT"},
		{job.KindFetchFailed, http.StatusBadGateway, "FETCH_FAILED"},
		{job.KindUploadFailed, http.StatusBadGateway, "UPLOAD_FAILED"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			runner := &fakeRunner{res: job.Result{
				JobID: "job-3", State: job.StateFailed, FailedAt: job.StateUploading, LocalPath: "/dl/clip.mp4",
				Err: &job.Error{Kind: tt.kind, Err: errors.New("boom"), Hint: "try again"},
			}}
			r, _ := newRouter(t, runner, sampleHistory(), nil)

			rec := postJSON(t, r, "/api/jobs", `{"url":"https://youtu.be/abc123"}`)
			assert.Equal(t, tt.status, rec.Code)

			e := decodeError(t, rec)
			assert.Equal(t, tt.code, e.Code)
			assert.Equal(t, "boom", e.Message)
			assert.Equal(t, string(tt.kind), e.Details["kind"])
			assert.Equal(t, "uploading", e.Details["failed_at"])
			assert.Equal(t, "try again", e.Details["hint"])
			assert.Equal(t, "/dl/clip.mp4", e.Details["local_path"])
		})
	}
}

func TestCreate_Busy(t *testing.T) {
	r, _ := newRouter(t, &fakeRunner{err: job.ErrBusy}, sampleHistory(), nil)

	rec := postJSON(t, r, "/api/jobs", `{"url":"https://youtu.be/abc123"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperrors.CodeConflict, decodeError(t, rec).Code)
}

func TestCreate_JobOutlivesClientDisconnect(t *testing.T) {
	runner := &fakeRunner{res: job.Result{State: job.StateCompleted}}
	jobs := NewJobs(runner, sampleHistory(), nil, nil).WithBaseContext(context.Background())

	reqCtx, disconnect := context.WithCancel(apperrors.WithRequestID(context.Background(), "req-42"))
	disconnect()
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(`{"url":"https://youtu.be/abc123"}`))
	rec := httptest.NewRecorder()
	jobs.Create(rec, req.WithContext(reqCtx))

	require.Len(t, runner.calls, 1)
	assert.NoError(t, runner.ctxErrs[0], "a closed tab must not cancel the download")
	assert.Equal(t, "req-42", apperrors.RequestIDFrom(runner.ctxs[0]))
}

func TestCreate_JobStopsWithServer(t *testing.T) {
	runner := &fakeRunner{res: job.Result{State: job.StateCompleted}}
	base, shutdown := context.WithCancel(context.Background())
	shutdown()
	jobs := NewJobs(runner, sampleHistory(), nil, nil).WithBaseContext(base)

	rec := postJSON(t, http.HandlerFunc(jobs.Create), "/api/jobs", `{"url":"https://youtu.be/abc123"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, runner.ctxErrs, 1)
	assert.ErrorIs(t, runner.ctxErrs[0], context.Canceled)
}

func TestHistory_List(t *testing.T) {
	hist := sampleHistory()
	hist.corruptAt = 2
	r, _ := newRouter(t, &fakeRunner{}, hist, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Entries []history.Entry `json:"entries"`
		Skipped int             `json:"skipped"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Entries, 2)
	assert.Equal(t, "job-2", body.Entries[0].ID)
	assert.Equal(t, 1, body.Skipped)
}

func TestHistory_Limit(t *testing.T) {
	r, _ := newRouter(t, &fakeRunner{}, sampleHistory(), nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history?limit=1", nil))
	var body struct {
		Entries []history.Entry `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Len(t, body.Entries, 1)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryEntry(t *testing.T) {
	r, _ := newRouter(t, &fakeRunner{}, sampleHistory(), nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history/job-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var e history.Entry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&e))
	assert.Equal(t, "https://www.youtube.com/watch?v=xyz789", e.URL)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatus(t *testing.T) {
	var tracker job.Tracker
	r, _ := newRouter(t, &fakeRunner{}, sampleHistory(), &tracker)

	get := func() StatusResponse {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
		var s StatusResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&s))
		return s
	}

	assert.Equal(t, "idle", get().State)

	tracker.Observe(job.Transition{JobID: "job-5", From: job.StateValidating, To: job.StateDownloading, At: time.Now()})
	s := get()
	assert.Equal(t, "downloading", s.State)
	assert.True(t, s.Busy)
	assert.Equal(t, "job-5", s.JobID)
}

func TestUI_Index(t *testing.T) {
	r, _ := newRouter(t, &fakeRunner{}, sampleHistory(), nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, `action="/jobs"`)
	assert.Contains(t, body, `href="/history/job-2"`)
	assert.Contains(t, body, "intro")
	assert.Contains(t, body, "full.mp4")
	assert.Contains(t, body, "checked")
	assert.NotContains(t, body, "<iframe")
}

func TestUI_SubmitCompleted(t *testing.T) {
	runner := &fakeRunner{res: job.Result{
		JobID: "job-9", State: job.StateCompleted, LocalPath: "/dl/clip.mp4",
		Warnings: []string{"HistoryWriteError: disk full"},
	}}
	r, _ := newRouter(t, runner, sampleHistory(), nil)

	form := url.Values{"url": {"https://youtu.be/abc123"}, "start": {"1:00"}, "end": {"1:30"}}
	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `id="result"`)
	assert.Contains(t, body, "/dl/clip.mp4")
	assert.Contains(t, body, "disk full")
	assert.Contains(t, body, "https://www.youtube.com/embed/abc123?end=90&amp;start=60")

	require.Len(t, runner.calls, 1)
	assert.True(t, runner.calls[0].SkipUpload, "unchecked box disables upload")
}

func TestUI_SubmitFailureShowsPanel(t *testing.T) {
	runner := &fakeRunner{res: job.Result{
		State: job.StateFailed, FailedAt: job.StateUploading,
		Err: &job.Error{Kind: job.KindUploadFailed, Err: errors.New("no container configured"), Hint: "pass --container"},
	}}
	r, _ := newRouter(t, runner, sampleHistory(), nil)

	form := url.Values{"url": {"https://youtu.be/abc123"}, "upload": {"on"}}
	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, `id="error"`)
	assert.Contains(t, body, "UploadFailed")
	assert.Contains(t, body, "no container configured")
	assert.False(t, runner.calls[0].SkipUpload)
}

func TestUI_SubmitInvalidURL(t *testing.T) {
	runner := &fakeRunner{}
	r, _ := newRouter(t, runner, sampleHistory(), nil)

	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader("url="))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "InvalidInput")
	assert.Contains(t, rec.Body.String(), "url is required")
	assert.Empty(t, runner.calls)
}

func TestUI_SubmitNamesFailingFields(t *testing.T) {
	runner := &fakeRunner{}
	r, _ := newRouter(t, runner, sampleHistory(), nil)

	form := url.Values{"url": {"https://youtu.be/abc123"}, "name": {strings.Repeat("n", 201)}}
	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "name is too long")
	assert.NotContains(t, body, "url is required")
	assert.Empty(t, runner.calls)

	form = url.Values{"url": {"not a url"}, "format": {strings.Repeat("f", 513)}}
	req = httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Contains(t, rec.Body.String(), "format is too long; url must be a valid URL")
}

func TestUI_Refill(t *testing.T) {
	r, _ := newRouter(t, &fakeRunner{}, sampleHistory(), nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history/job-2", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `value="https://youtu.be/abc123"`)
	assert.Contains(t, body, `value="3:07"`)
	assert.Contains(t, body, `value="201.5"`)
	assert.Contains(t, body, `value="intro"`)
	assert.Contains(t, body, `value="videos"`)
	assert.Contains(t, body, "https://www.youtube.com/embed/abc123?end=202&amp;start=187")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUI_SettingsPlaceholders(t *testing.T) {
	doc := settings.Defaults()
	doc.Cloud.ContainerName = "my-bucket"
	jobs := NewJobs(&fakeRunner{}, sampleHistory(), nil, nil)
	ui, err := NewUI(jobs, fakeSettingsView{doc: doc}, "test")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	ui.Index(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rec.Body.String(), `placeholder="my-bucket"`)

	ui, err = NewUI(jobs, fakeSettingsView{err: settings.ErrCorrupt}, "test")
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	ui.Index(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rec.Body.String(), "Settings could not be read")
}

func TestPreviewURL(t *testing.T) {
	assert.Equal(t, "https://www.youtube.com/embed/abc123", PreviewURL("https://youtu.be/abc123", "", ""))
	assert.Equal(t, "https://www.youtube.com/embed/abc123?start=10", PreviewURL("https://youtu.be/abc123", "10", ""))
	assert.Equal(t, "", PreviewURL("https://vimeo.com/1", "", ""))
	assert.Equal(t, "https://www.youtube.com/embed/abc123", PreviewURL("https://youtu.be/abc123", "bad", "worse"))
}
