package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docoutline/internal/config"
	"github.com/dgallion1/docoutline/internal/outline"
	"github.com/dgallion1/docoutline/internal/parser"
	"github.com/dgallion1/docoutline/internal/pipeline"
	"github.com/dgallion1/docoutline/internal/rank"
	"github.com/dgallion1/docoutline/internal/store"
)

const testKey = "test-key"

const guideMarkdown = `# Introduction to Systems

Body paragraph text here.

## Methods overview

More body text.
`

type upload struct {
	name string
	data []byte
}

type fixture struct {
	srv  *Server
	orch *pipeline.Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Config{
		APIKey:         testKey,
		WorkerCount:    2,
		MaxQueueSize:   8,
		MaxUploadBytes: 4096,
		MaxPages:       50,
		MinRankDocs:    3,
		MaxRankDocs:    10,
		JobTTL:         time.Hour,
		JobTimeout:     5 * time.Second,
	}
	log := slog.New(slog.DiscardHandler)

	cache, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	worker := pipeline.NewWorker(log, pipeline.PolicyFromConfig(cfg), parser.Options{}, outline.DefaultOptions(), rank.DefaultOptions(), cache)
	orch := pipeline.NewOrchestrator(cfg, worker, cache, log)
	orch.Start(context.Background())
	t.Cleanup(orch.Stop)

	return &fixture{srv: NewServer(orch, cache, log, cfg), orch: orch}
}

func multipartRequest(t *testing.T, target, fileField string, files []upload, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		part, err := mw.CreateFormFile(fileField, f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testKey)
	return req
}

func authed(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Authorization", "Bearer "+testKey)
	return req
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) waitJob(t *testing.T, id string) {
	t.Helper()
	job := f.orch.GetJob(id)
	require.NotNil(t, job)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.orch.Wait(ctx, job))
}

func climateUploads() []upload {
	return []upload{
		{"a.txt", []byte("Climate emissions data shows growth.")},
		{"b.txt", []byte("Recipes for cooking pasta.")},
		{"c.txt", []byte("Researcher notes on climate.")},
	}
}

func TestHealth_NoAuth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestAuth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, f.do(req).Code)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/stats?access_token="+testKey, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOutline_Sync(t *testing.T) {
	f := newFixture(t)
	req := multipartRequest(t, "/api/outline?sync=true", "file", []upload{{"guide.md", []byte(guideMarkdown)}}, nil)
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res outline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "Introduction to Systems", res.Title)
	require.Len(t, res.Outline, 2)
	assert.Equal(t, outline.H2, res.Outline[1].Level)
}

func TestOutline_AsyncLifecycle(t *testing.T) {
	f := newFixture(t)
	rec := f.do(multipartRequest(t, "/api/outline", "file", []upload{{"guide.md", []byte(guideMarkdown)}}, nil))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var accepted acceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, pipeline.KindOutline, accepted.Kind)
	assert.Equal(t, "/api/jobs/"+accepted.JobID+"/result", accepted.ResultURL)

	f.waitJob(t, accepted.JobID)

	rec = f.do(authed(http.MethodGet, accepted.PollURL))
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "completed", status["status"])
	assert.EqualValues(t, 100, status["progress"])
	assert.Equal(t, []any{"guide.md"}, status["files"])
	assert.Equal(t, accepted.EventsURL, status["events_url"])

	rec = f.do(authed(http.MethodGet, accepted.ResultURL))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"title":"Introduction to Systems"`)

	rec = f.do(authed(http.MethodGet, accepted.DownloadURL))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="introduction_to_systems_outline.json"`, rec.Header().Get("Content-Disposition"))

	rec = f.do(authed(http.MethodDelete, accepted.PollURL))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOutline_Rejections(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name  string
		field string
		file  upload
		code  int
	}{
		{"unsupported", "file", upload{"tool.exe", []byte("MZ")}, http.StatusBadRequest},
		{"too large", "file", upload{"big.txt", bytes.Repeat([]byte("a"), 5000)}, http.StatusRequestEntityTooLarge},
		{"missing file", "other", upload{"guide.md", []byte(guideMarkdown)}, http.StatusBadRequest},
		{"invalid pdf", "file", upload{"bad.pdf", []byte("definitely not a pdf")}, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(multipartRequest(t, "/api/outline?sync=true", tc.field, []upload{tc.file}, nil))
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestOutline_NotMultipart(t *testing.T) {
	f := newFixture(t)
	req := authed(http.MethodPost, "/api/outline")
	req.Body = http.NoBody
	assert.Equal(t, http.StatusBadRequest, f.do(req).Code)
}

func TestRank_Sync(t *testing.T) {
	f := newFixture(t)
	req := multipartRequest(t, "/api/rank?sync=true", "files", climateUploads(), map[string]string{
		"persona": "climate researcher",
		"job":     "analyze emissions",
	})
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res rank.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "analyze emissions", res.Metadata.JobToBeDone)
	require.Len(t, res.ExtractedSections, 2)
	assert.Equal(t, "a.txt", res.ExtractedSections[0].Document)
	assert.Equal(t, "(Page 1)", res.ExtractedSections[0].SectionTitle)
}

func TestRank_Rejections(t *testing.T) {
	f := newFixture(t)
	fields := map[string]string{"persona": "analyst", "job": "compare"}

	rec := f.do(multipartRequest(t, "/api/rank", "files", climateUploads()[:2], fields))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "at least 3")

	rec = f.do(multipartRequest(t, "/api/rank", "files", climateUploads(), map[string]string{"job": "compare"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "persona")
}

func TestJobs_NotFound(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/api/jobs/nope", "/api/jobs/nope/result", "/api/jobs/nope/download", "/api/jobs/nope/events"} {
		assert.Equal(t, http.StatusNotFound, f.do(authed(http.MethodGet, path)).Code, path)
	}
	assert.Equal(t, http.StatusNotFound, f.do(authed(http.MethodDelete, "/api/jobs/nope")).Code)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	rec := f.do(multipartRequest(t, "/api/outline?sync=true", "file", []upload{{"guide.md", []byte(guideMarkdown)}}, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		return f.orch.Stats()[pipeline.KindOutline].Count == 1
	}, time.Second, 5*time.Millisecond)

	rec = f.do(authed(http.MethodGet, "/api/stats"))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Latency[pipeline.KindOutline].Count)
	require.NotNil(t, resp.CacheEntries)
	assert.Equal(t, 1, *resp.CacheEntries)
}

func TestEvents_WebSocket(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	rec := f.do(multipartRequest(t, "/api/outline", "file", []upload{{"guide.md", []byte(guideMarkdown)}}, nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var accepted acceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + accepted.EventsURL
	header := http.Header{"Authorization": {"Bearer " + testKey}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	var last pipeline.Event
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var ev pipeline.Event
		if err := conn.ReadJSON(&ev); err != nil {
			var ce *websocket.CloseError
			require.True(t, errors.As(err, &ce), "unexpected error %v", err)
			assert.Equal(t, websocket.CloseNormalClosure, ce.Code)
			break
		}
		assert.Equal(t, accepted.JobID, ev.JobID)
		last = ev
	}
	assert.Equal(t, pipeline.StatusCompleted, last.Status)
	assert.Equal(t, 100, last.Progress)
}

func TestSafeTitle(t *testing.T) {
	cases := map[string]string{
		"Introduction to Systems": "introduction_to_systems",
		"Q3 Report: Final!":       "q3_report__final_",
		"Überblick":               "überblick",
		"   ":                     "document",
	}
	for in, want := range cases {
		assert.Equal(t, want, safeTitle(in), in)
	}
	assert.Equal(t, "analyst_ranking.json", downloadName(pipeline.KindRank, "Analyst"))
	assert.Equal(t, "a_b_outline.json", downloadName(pipeline.KindOutline, "a.b"))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "report.pdf", sanitizeFilename("../../etc/report.pdf"))
	assert.Equal(t, "report.pdf", sanitizeFilename(`C:\Users\me\report.pdf`))
	assert.Equal(t, "unnamed", sanitizeFilename(""))
	assert.Equal(t, "a_b.txt", sanitizeFilename("a..b.txt"))
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&pipeline.PreconditionError{Field: pipeline.FieldFileSize}, http.StatusRequestEntityTooLarge},
		{&pipeline.PreconditionError{Field: pipeline.FieldDocuments}, http.StatusBadRequest},
		{fmt.Errorf("x: %w", parser.ErrUnsupportedFormat), http.StatusBadRequest},
		{fmt.Errorf("x: %w", parser.ErrInvalidPDF), http.StatusUnprocessableEntity},
		{fmt.Errorf("x: %w", pipeline.ErrUnreadable), http.StatusUnprocessableEntity},
		{pipeline.ErrQueueFull, http.StatusServiceUnavailable},
		{pipeline.ErrStopped, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
		{nil, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusForError(tc.err), "%v", tc.err)
	}
}
