package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/docoutline/internal/doctree"
	"github.com/dgallion1/docoutline/internal/outline"
	"github.com/dgallion1/docoutline/internal/parser"
	"github.com/dgallion1/docoutline/internal/rank"
)

// Cache stores encoded results by job kind and input hash.
type Cache interface {
	Get(ctx context.Context, kind, hash string) ([]byte, bool, error)
	Put(ctx context.Context, kind, hash string, payload []byte) error
}

// ErrUnreadable marks a supported file whose content could not be parsed.
var ErrUnreadable = errors.New("document could not be read")

// StageFunc is told about each stage a run enters.
type StageFunc func(JobStatus)

func noStage(JobStatus) {}

// Worker runs outline and ranking analyses.
type Worker struct {
	log         *slog.Logger
	policy      Policy
	parseOpts   parser.Options
	outlineOpts outline.Options
	rankOpts    rank.Options
	cache       Cache
}

func NewWorker(log *slog.Logger, policy Policy, parseOpts parser.Options, outlineOpts outline.Options, rankOpts rank.Options, cache Cache) *Worker {
	return &Worker{
		log:         log,
		policy:      policy,
		parseOpts:   parseOpts,
		outlineOpts: outlineOpts,
		rankOpts:    rankOpts,
		cache:       cache,
	}
}

// Outline validates and parses one file and extracts its outline.
func (w *Worker) Outline(ctx context.Context, file InputFile, stage StageFunc) (*outline.Result, error) {
	if stage == nil {
		stage = noStage
	}
	start := time.Now()

	stage(StatusValidating)
	if err := w.policy.CheckOutline(file); err != nil {
		return nil, err
	}
	pages, err := w.inspect(file)
	if err != nil {
		return nil, err
	}
	if err := w.policy.CheckPages(file.Name, pages); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stage(StatusExtracting)
	doc, err := w.parse(file)
	if err != nil {
		return nil, err
	}
	doc.PageCount = max(doc.PageCount, pages)
	if err := w.policy.CheckPages(file.Name, doc.PageCount); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stage(StatusAnalyzing)
	opts := w.outlineOpts
	opts.StartedAt = start
	return outline.Extract(doc, opts), nil
}

// Rank parses every file and ranks their pages against q.
func (w *Worker) Rank(ctx context.Context, files []InputFile, q rank.Query, stage StageFunc) (*rank.Result, error) {
	if stage == nil {
		stage = noStage
	}

	stage(StatusValidating)
	if err := w.policy.CheckRank(files, q); err != nil {
		return nil, err
	}
	for _, f := range files {
		if _, err := w.inspect(f); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stage(StatusExtracting)
	sources := make([]rank.Source, 0, len(files))
	for _, f := range files {
		doc, err := w.parse(f)
		if err != nil {
			return nil, err
		}
		sources = append(sources, rank.SourceFromDocument(doc))
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	stage(StatusAnalyzing)
	return rank.Rank(sources, q, w.rankOpts), nil
}

// inspect validates PDFs and returns their page count; other formats report 0.
func (w *Worker) inspect(file InputFile) (int, error) {
	if !parser.IsPDF(file.Name) {
		return 0, nil
	}
	info, err := parser.InspectPDF(file.Data)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", file.Name, err)
	}
	return info.PageCount, nil
}

func (w *Worker) parse(file InputFile) (*doctree.Document, error) {
	p, err := parser.ForFile(file.Name, w.parseOpts)
	if err != nil {
		return nil, err
	}
	doc, err := p.Parse(bytes.NewReader(file.Data), file.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadable, file.Name, err)
	}
	return doc, nil
}

// Process runs job to completion, updating its status at every stage.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "kind", job.Kind)
	files := job.Files()

	hash := InputHash(job.Kind, w.settings(job.Kind), files, job.Query)
	job.setContentHash(hash)

	job.SetStatus(StatusValidating, "checking cache")
	if payload, ok := w.lookup(ctx, log, job.Kind, hash); ok {
		log.Info("cache hit", "content_hash", hash)
		job.Complete(payload, resultTitle(payload), true)
		return
	}

	stage := func(s JobStatus) { job.SetStatus(s, string(s)) }

	var (
		result any
		title  string
		err    error
	)
	switch job.Kind {
	case KindOutline:
		if len(files) != 1 {
			err = fmt.Errorf("outline job needs exactly one file, got %d", len(files))
			break
		}
		var res *outline.Result
		res, err = w.Outline(ctx, files[0], stage)
		if res != nil {
			result, title = res, res.Title
			log.Info("outline extracted", "title", res.Title, "entries", len(res.Outline), "pages", res.Pages)
		}
	case KindRank:
		var res *rank.Result
		res, err = w.Rank(ctx, files, job.Query, stage)
		if res != nil {
			result, title = res, res.Metadata.Persona
			log.Info("ranking complete", "documents", len(files), "sections", len(res.ExtractedSections))
		}
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
	}
	if err != nil {
		w.fail(log, job, err)
		return
	}
	if ctx.Err() != nil {
		w.fail(log, job, ctx.Err())
		return
	}

	job.SetStatus(StatusGenerating, "encoding result")
	payload, err := json.Marshal(result)
	if err != nil {
		w.fail(log, job, fmt.Errorf("encode result: %w", err))
		return
	}
	if w.cache != nil {
		if err := w.cache.Put(ctx, string(job.Kind), hash, payload); err != nil {
			log.Warn("cache write failed", "error", err)
		}
	}
	job.Complete(payload, title, false)
}

func (w *Worker) fail(log *slog.Logger, job *Job, err error) {
	switch {
	case job.cancelRequested():
		log.Info("job canceled")
		job.SetStatus(StatusCanceled, "canceled")
	case errors.Is(err, context.Canceled):
		log.Info("job interrupted by shutdown")
		job.SetStatus(StatusCanceled, "shutdown")
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("job timed out")
		job.Fail("timeout", fmt.Errorf("job timed out: %w", err))
	case errors.Is(err, ErrPrecondition):
		log.Info("job rejected", "error", err)
		job.Fail(string(job.snapshotStatus()), err)
	default:
		log.Error("job failed", "error", err)
		job.Fail(string(job.snapshotStatus()), err)
	}
}

// settings fingerprints the options a job kind runs under, so cached results
// from differently tuned workers are never reused.
func (w *Worker) settings(kind JobKind) string {
	switch kind {
	case KindOutline:
		return w.outlineOpts.Fingerprint()
	case KindRank:
		return w.rankOpts.Fingerprint()
	}
	return ""
}

func (w *Worker) lookup(ctx context.Context, log *slog.Logger, kind JobKind, hash string) ([]byte, bool) {
	if w.cache == nil {
		return nil, false
	}
	payload, ok, err := w.cache.Get(ctx, string(kind), hash)
	if err != nil {
		log.Warn("cache read failed", "error", err)
		return nil, false
	}
	return payload, ok
}

// resultTitle recovers the download title from an encoded outline or ranking.
func resultTitle(payload []byte) string {
	var v struct {
		Title    string `json:"title"`
		Metadata struct {
			Persona string `json:"persona"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return ""
	}
	if v.Title != "" {
		return v.Title
	}
	return v.Metadata.Persona
}
