package handlers

import (
	"errors"
	"html/template"
	"maps"
	"math"
	"net/http"
	"net/url"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	webassets "github.com/3leaps/clipnimbus/internal/assets/web"
	apperrors "github.com/3leaps/clipnimbus/internal/errors"
	"github.com/3leaps/clipnimbus/pkg/fetch"
	"github.com/3leaps/clipnimbus/pkg/history"
	"github.com/3leaps/clipnimbus/pkg/job"
	"github.com/3leaps/clipnimbus/pkg/settings"
	"github.com/3leaps/clipnimbus/pkg/timerange"
)

// uiHistoryLimit is the number of entries shown in the history browser.
const uiHistoryLimit = 25

// SettingsViewer supplies the persisted settings for form placeholders.
type SettingsViewer interface {
	Show() (settings.Document, error)
}

type formValues struct {
	URL        string
	Start      string
	End        string
	Name       string
	Container  string
	BlobFolder string
	Format     string
	Upload     bool
}

type placeholders struct {
	Container  string
	BlobFolder string
	Format     string
}

type historyItem struct {
	ID        string
	Label     string
	Range     string
	CreatedAt string
	Uploaded  bool
}

type pageData struct {
	Version      string
	Form         formValues
	Placeholders placeholders
	PreviewURL   string
	History      []historyItem
	Skipped      int
	Result       *JobResponse
	Error        *JobError
	Notice       string
}

// UI serves the HTML front end.
type UI struct {
	jobs     *Jobs
	settings SettingsViewer
	tmpl     *template.Template
	version  string
}

// NewUI parses the embedded templates.
func NewUI(jobs *Jobs, sv SettingsViewer, version string) (*UI, error) {
	tmpl, err := template.ParseFS(webassets.Templates, "templates/index.html")
	if err != nil {
		return nil, err
	}
	return &UI{jobs: jobs, settings: sv, tmpl: tmpl, version: version}, nil
}

// Index renders an empty form.
func (u *UI) Index(w http.ResponseWriter, r *http.Request) {
	form := formValues{Upload: true}
	q := r.URL.Query()
	if v := q.Get("url"); v != "" {
		form.URL = v
		form.Start = q.Get("start")
		form.End = q.Get("end")
	}
	u.render(w, r, http.StatusOK, u.page(form))
}

// Submit runs a job from the form and renders the outcome inline.
func (u *UI) Submit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		data := u.page(formValues{Upload: true})
		data.Error = &JobError{Kind: string(job.KindInvalidInput), Message: err.Error()}
		u.render(w, r, http.StatusBadRequest, data)
		return
	}

	upload := r.PostFormValue("upload")
	form := formValues{
		URL:        strings.TrimSpace(r.PostFormValue("url")),
		Start:      strings.TrimSpace(r.PostFormValue("start")),
		End:        strings.TrimSpace(r.PostFormValue("end")),
		Name:       strings.TrimSpace(r.PostFormValue("name")),
		Container:  strings.TrimSpace(r.PostFormValue("container")),
		BlobFolder: strings.TrimSpace(r.PostFormValue("blob_folder")),
		Format:     strings.TrimSpace(r.PostFormValue("format")),
		Upload:     upload == "on" || upload == "true",
	}
	body := JobRequest{
		URL: form.URL, Start: form.Start, End: form.End, Name: form.Name,
		Container: form.Container, BlobFolder: form.BlobFolder, Format: form.Format,
		Upload: &form.Upload,
	}

	if err := u.jobs.validateRequest(body); err != nil {
		data := u.page(form)
		data.Error = &JobError{Kind: string(job.KindInvalidInput), Message: validationMessage(err)}
		u.render(w, r, http.StatusUnprocessableEntity, data)
		return
	}

	ctx, cancel := u.jobs.jobContext(r)
	defer cancel()
	res, err := u.jobs.runner.TryRun(ctx, body.ToJob())
	if err != nil {
		data := u.page(form)
		status := http.StatusInternalServerError
		if errors.Is(err, job.ErrBusy) {
			status = http.StatusConflict
		}
		data.Error = &JobError{Kind: "Busy", Message: err.Error(), Hint: "wait for the current download to finish"}
		u.render(w, r, status, data)
		return
	}

	data := u.page(form)
	resp := NewJobResponse(res)
	if res.OK() {
		data.Result = &resp
	} else {
		data.Error = resp.Error
	}
	u.render(w, r, http.StatusOK, data)
}

// validationMessage lists the form fields a submission failed on.
func validationMessage(err error) string {
	var se *apperrors.StatusError
	if !errors.As(err, &se) {
		return err.Error()
	}
	fields, _ := se.Envelope.Details["fields"].(map[string]string)
	if len(fields) == 0 {
		return se.Error()
	}
	names := slices.Sorted(maps.Keys(fields))
	problems := make([]string, 0, len(names))
	for _, name := range names {
		problems = append(problems, fieldProblem(name, fields[name]))
	}
	return strings.Join(problems, "; ")
}

func fieldProblem(field, tag string) string {
	switch tag {
	case "required":
		return field + " is required"
	case "url":
		return field + " must be a valid URL"
	case "max":
		return field + " is too long"
	default:
		return field + " is invalid (" + tag + ")"
	}
}

// Refill renders the form populated from a history entry.
func (u *UI) Refill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, err := u.jobs.history.Get(id)
	if err != nil {
		data := u.page(formValues{Upload: true})
		status := http.StatusInternalServerError
		if errors.Is(err, history.ErrNotFound) {
			status = http.StatusNotFound
		}
		data.Error = &JobError{Kind: "NotFound", Message: err.Error()}
		u.render(w, r, status, data)
		return
	}

	form := formValues{
		URL:        e.URL,
		Start:      formatOffset(e.StartSeconds),
		End:        formatOffset(e.EndSeconds),
		Name:       e.Name,
		Container:  e.Container,
		BlobFolder: e.BlobFolder,
		Format:     e.Format,
		Upload:     e.Upload,
	}
	u.render(w, r, http.StatusOK, u.page(form))
}

func (u *UI) page(form formValues) pageData {
	data := pageData{
		Version:    u.version,
		Form:       form,
		PreviewURL: PreviewURL(form.URL, form.Start, form.End),
		Placeholders: placeholders{
			Container:  "container name",
			BlobFolder: "folder (optional)",
			Format:     settings.DefaultFormat,
		},
	}

	if u.settings != nil {
		doc, err := u.settings.Show()
		if err != nil {
			data.Notice = "Settings could not be read: " + err.Error()
		} else {
			if doc.Cloud.ContainerName != "" {
				data.Placeholders.Container = doc.Cloud.ContainerName
			}
			if doc.Cloud.BlobFolder != "" {
				data.Placeholders.BlobFolder = doc.Cloud.BlobFolder
			}
			if doc.Download.Format != "" {
				data.Placeholders.Format = doc.Download.Format
			}
		}
	}

	entries, skipped := collectHistory(u.jobs.history, uiHistoryLimit, u.jobs.logger)
	data.Skipped = skipped
	for _, e := range entries {
		label := e.Name
		if label == "" {
			label = filepath.Base(e.LocalPath)
		}
		data.History = append(data.History, historyItem{
			ID:        e.ID,
			Label:     label,
			Range:     timerange.FromSeconds(e.StartSeconds, e.EndSeconds).String(),
			CreatedAt: e.CreatedAt.Local().Format("2006-01-02 15:04"),
			Uploaded:  e.RemoteLocator != "",
		})
	}
	return data
}

func (u *UI) render(w http.ResponseWriter, r *http.Request, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := u.tmpl.ExecuteTemplate(w, "index.html", data); err != nil {
		u.jobs.logger.Error("Template render failed", zap.Error(err), zap.String("path", r.URL.Path))
	}
}

// PreviewURL returns an embeddable player URL for a supported source URL,
// limited to the given range. It returns "" when no preview is possible.
func PreviewURL(rawURL, start, end string) string {
	id, ok := fetch.ExtractVideoID(rawURL)
	if !ok {
		return ""
	}
	q := url.Values{}
	if r, err := timerange.New(start, end); err == nil {
		if r.HasStart {
			q.Set("start", strconv.FormatInt(int64(r.Start.Seconds()), 10))
		}
		if r.HasEnd {
			q.Set("end", strconv.FormatInt(int64(math.Ceil(r.End.Seconds())), 10))
		}
	}
	u := "https://www.youtube.com/embed/" + url.PathEscape(id)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}
