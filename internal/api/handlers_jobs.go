package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/docoutline/internal/parser"
	"github.com/dgallion1/docoutline/internal/pipeline"
	"github.com/dgallion1/docoutline/internal/rank"
)

const (
	// formOverhead is allowed on top of the file bytes for multipart framing.
	formOverhead = 1 << 20
	// syncGrace covers queueing on top of the per-job budget in sync mode.
	syncGrace = 30 * time.Second
)

// Links points at a job's follow-up endpoints.
type Links struct {
	PollURL     string `json:"poll_url"`
	ResultURL   string `json:"result_url"`
	DownloadURL string `json:"download_url"`
	EventsURL   string `json:"events_url"`
}

type acceptedResponse struct {
	JobID  string             `json:"job_id"`
	Kind   pipeline.JobKind   `json:"kind"`
	Status pipeline.JobStatus `json:"status"`
	Links
}

type statusResponse struct {
	pipeline.JobSnapshot
	Links
}

func (s *Server) handleOutline(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+formOverhead)
	if !s.parseForm(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		jsonError(w, "file is required", http.StatusBadRequest)
		return
	}
	file, err := s.readUpload(headers[0])
	if err == nil {
		err = s.policy.CheckOutline(file)
	}
	if err != nil {
		jsonError(w, err.Error(), statusForError(err))
		return
	}

	s.submit(w, r, pipeline.NewOutlineJob(file))
}

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes*int64(s.cfg.MaxRankDocs)+formOverhead)
	if !s.parseForm(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	q := rank.Query{
		Persona: strings.TrimSpace(r.FormValue("persona")),
		Task:    strings.TrimSpace(r.FormValue("job")),
	}
	headers := r.MultipartForm.File["files"]
	files := make([]pipeline.InputFile, 0, len(headers))
	for _, fh := range headers {
		f, err := s.readUpload(fh)
		if err != nil {
			jsonError(w, err.Error(), statusForError(err))
			return
		}
		files = append(files, f)
	}
	if err := s.policy.CheckRank(files, q); err != nil {
		jsonError(w, err.Error(), statusForError(err))
		return
	}

	s.submit(w, r, pipeline.NewRankJob(files, q))
}

// submit queues job and answers 202, or waits for it when ?sync=true.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, job *pipeline.Job) {
	if err := s.orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), statusForError(err))
		return
	}

	if r.URL.Query().Get("sync") != "true" {
		writeJSON(w, http.StatusAccepted, acceptedResponse{
			JobID:  job.ID,
			Kind:   job.Kind,
			Status: pipeline.StatusQueued,
			Links:  jobLinks(job.ID),
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.JobTimeout+syncGrace)
	defer cancel()
	if err := s.orchestrator.Wait(ctx, job); err != nil {
		jsonError(w, "timed out waiting for job "+job.ID, http.StatusGatewayTimeout)
		return
	}
	s.writeResult(w, job)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job := s.jobFromPath(w, r)
	if job == nil {
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		JobSnapshot: job.Snapshot(),
		Links:       jobLinks(job.ID),
	})
}

func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	job := s.jobFromPath(w, r)
	if job == nil {
		return
	}
	s.writeResult(w, job)
}

func (s *Server) handleJobDownload(w http.ResponseWriter, r *http.Request) {
	job := s.jobFromPath(w, r)
	if job == nil {
		return
	}
	payload, title, ok := job.Result()
	if !ok {
		s.writeNotReady(w, job)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, downloadName(job.Kind, title)))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	switch err := s.orchestrator.Cancel(jobID); {
	case errors.Is(err, pipeline.ErrJobNotFound):
		jsonError(w, "job not found", http.StatusNotFound)
	case errors.Is(err, pipeline.ErrJobFinished):
		jsonError(w, "job already finished", http.StatusConflict)
	default:
		snap := s.orchestrator.GetJob(jobID).Snapshot()
		writeJSON(w, http.StatusOK, map[string]any{
			"job_id": snap.ID,
			"status": snap.Status,
		})
	}
}

func (s *Server) jobFromPath(w http.ResponseWriter, r *http.Request) *pipeline.Job {
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
	}
	return job
}

func (s *Server) writeResult(w http.ResponseWriter, job *pipeline.Job) {
	payload, _, ok := job.Result()
	if !ok {
		s.writeNotReady(w, job)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

func (s *Server) writeNotReady(w http.ResponseWriter, job *pipeline.Job) {
	snap := job.Snapshot()
	switch snap.Status {
	case pipeline.StatusFailed:
		msg := "job failed"
		if len(snap.Errors) > 0 {
			msg = snap.Errors[len(snap.Errors)-1]
		}
		writeJSON(w, statusForError(job.Err()), map[string]any{
			"error":  msg,
			"job_id": snap.ID,
			"status": snap.Status,
		})
	case pipeline.StatusCanceled:
		writeJSON(w, http.StatusGone, map[string]any{
			"error":  "job was canceled",
			"job_id": snap.ID,
			"status": snap.Status,
		})
	default:
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":    "job not finished",
			"job_id":   snap.ID,
			"status":   snap.Status,
			"progress": snap.Progress,
		})
	}
}

// parseForm reads the multipart body, answering 413 when it is too large.
func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			jsonError(w, fmt.Sprintf("request exceeds %d bytes", mbe.Limit), http.StatusRequestEntityTooLarge)
			return false
		}
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) readUpload(fh *multipart.FileHeader) (pipeline.InputFile, error) {
	name := sanitizeFilename(fh.Filename)
	if !parser.IsSupportedExtension(name) {
		return pipeline.InputFile{}, fmt.Errorf("%w: %q", parser.ErrUnsupportedFormat, filepath.Ext(name))
	}
	if err := s.policy.CheckFileSize(name, fh.Size); err != nil {
		return pipeline.InputFile{}, err
	}

	f, err := fh.Open()
	if err != nil {
		return pipeline.InputFile{}, fmt.Errorf("open upload %s: %w", name, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return pipeline.InputFile{}, fmt.Errorf("read upload %s: %w", name, err)
	}
	return pipeline.InputFile{Name: name, Data: data}, nil
}

// statusForError maps pipeline and parser errors onto HTTP status codes.
func statusForError(err error) int {
	var pe *pipeline.PreconditionError
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case errors.As(err, &pe) && pe.Field == pipeline.FieldFileSize:
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, pipeline.ErrPrecondition), errors.Is(err, parser.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, parser.ErrInvalidPDF), errors.Is(err, pipeline.ErrUnreadable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrQueueFull), errors.Is(err, pipeline.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func jobLinks(id string) Links {
	base := "/api/jobs/" + id
	return Links{
		PollURL:     base,
		ResultURL:   base + "/result",
		DownloadURL: base + "/download",
		EventsURL:   base + "/events",
	}
}

// downloadName builds "<safe_title>_outline.json" or "<safe_title>_ranking.json".
func downloadName(kind pipeline.JobKind, title string) string {
	suffix := "_outline.json"
	if kind == pipeline.KindRank {
		suffix = "_ranking.json"
	}
	return safeTitle(title) + suffix
}

// safeTitle lower-cases title and replaces every non-alphanumeric rune with
// an underscore.
func safeTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return "document"
	}
	var sb strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" {
		name = "unnamed"
	}
	return name
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
