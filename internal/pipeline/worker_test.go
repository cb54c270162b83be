package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docoutline/internal/config"
	"github.com/dgallion1/docoutline/internal/outline"
	"github.com/dgallion1/docoutline/internal/parser"
	"github.com/dgallion1/docoutline/internal/rank"
)

type memCache struct {
	mu   sync.Mutex
	m    map[string][]byte
	hits int
}

func newMemCache() *memCache { return &memCache{m: map[string][]byte{}} }

func (c *memCache) Get(_ context.Context, kind, hash string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[kind+"/"+hash]
	if ok {
		c.hits++
	}
	return v, ok, nil
}

func (c *memCache) Put(_ context.Context, kind, hash string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[kind+"/"+hash] = payload
	return nil
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string, string) ([]byte, bool, error) {
	return nil, false, errors.New("disk on fire")
}

func (brokenCache) Put(context.Context, string, string, []byte) error {
	return errors.New("disk on fire")
}

const guideMarkdown = `# Introduction to Systems

Body paragraph text here.

## Methods overview

More body text.
`

var climateQuery = rank.Query{Persona: "climate researcher", Task: "analyze emissions"}

func climateFiles() []InputFile {
	return []InputFile{
		{Name: "a.txt", Data: []byte("Climate emissions data shows growth.")},
		{Name: "b.txt", Data: []byte("Recipes for cooking pasta.")},
		{Name: "c.txt", Data: []byte("Researcher notes on climate.")},
	}
}

func testWorker(policy Policy, cache Cache) *Worker {
	return NewWorker(slog.New(slog.DiscardHandler), policy, parser.Options{}, outline.DefaultOptions(), rank.DefaultOptions(), cache)
}

func defaultPolicy() Policy {
	return PolicyFromConfig(config.Config{MaxUploadBytes: 10 << 20, MaxPages: 50, MinRankDocs: 3, MaxRankDocs: 10})
}

func TestWorker_OutlineMarkdown(t *testing.T) {
	w := testWorker(defaultPolicy(), nil)

	var stages []JobStatus
	res, err := w.Outline(context.Background(), InputFile{Name: "guide.md", Data: []byte(guideMarkdown)}, func(s JobStatus) {
		stages = append(stages, s)
	})
	require.NoError(t, err)

	assert.Equal(t, "Introduction to Systems", res.Title)
	assert.Equal(t, []outline.Entry{
		{Level: outline.H1, Text: "Introduction to Systems", Page: 1},
		{Level: outline.H2, Text: "Methods overview", Page: 1},
	}, res.Outline)
	assert.NotEmpty(t, res.ProcessingTime)
	assert.Equal(t, []JobStatus{StatusValidating, StatusExtracting, StatusAnalyzing}, stages)
}

func TestWorker_OutlinePageLimit(t *testing.T) {
	p := defaultPolicy()
	p.MaxPages = 1
	w := testWorker(p, nil)

	md := "# First page heading\n\ntext\n\n***\n\nsecond page\n"
	_, err := w.Outline(context.Background(), InputFile{Name: "two.md", Data: []byte(md)}, nil)
	require.Error(t, err)
	var pe *PreconditionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, FieldPageCount, pe.Field)
}

func TestWorker_OutlineRejectsBadPDF(t *testing.T) {
	w := testWorker(defaultPolicy(), nil)
	_, err := w.Outline(context.Background(), InputFile{Name: "bad.pdf", Data: []byte("not a pdf at all")}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, parser.ErrInvalidPDF)
}

func TestWorker_OutlineUnsupportedFormat(t *testing.T) {
	w := testWorker(defaultPolicy(), nil)
	_, err := w.Outline(context.Background(), InputFile{Name: "tool.exe", Data: []byte("MZ")}, nil)
	assert.ErrorIs(t, err, parser.ErrUnsupportedFormat)
}

func TestWorker_Rank(t *testing.T) {
	w := testWorker(defaultPolicy(), nil)
	res, err := w.Rank(context.Background(), climateFiles(), climateQuery, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, res.Metadata.Documents)
	require.Len(t, res.ExtractedSections, 2)
	assert.Equal(t, "a.txt", res.ExtractedSections[0].Document)
	assert.Equal(t, "c.txt", res.ExtractedSections[1].Document)
	assert.Equal(t, 2, res.ExtractedSections[1].ImportanceRank)
	assert.Equal(t, "Researcher notes on climate.", res.SubsectionAnalysis[1].RefinedText)
}

func TestWorker_RankNeedsEnoughDocuments(t *testing.T) {
	w := testWorker(defaultPolicy(), nil)
	_, err := w.Rank(context.Background(), climateFiles()[:2], climateQuery, nil)
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestWorker_ProcessCompletesAndCaches(t *testing.T) {
	cache := newMemCache()
	w := testWorker(defaultPolicy(), cache)

	first := NewOutlineJob(InputFile{Name: "guide.md", Data: []byte(guideMarkdown)})
	w.Process(context.Background(), first)

	snap := first.Snapshot()
	require.Equal(t, StatusCompleted, snap.Status, "errors: %v", snap.Errors)
	assert.False(t, snap.Cached)
	assert.Equal(t, 100, snap.Progress)
	assert.NotEmpty(t, snap.ContentHash)

	payload, title, ok := first.Result()
	require.True(t, ok)
	assert.Equal(t, "Introduction to Systems", title)
	var res outline.Result
	require.NoError(t, json.Unmarshal(payload, &res))
	assert.Len(t, res.Outline, 2)

	second := NewOutlineJob(InputFile{Name: "guide.md", Data: []byte(guideMarkdown)})
	w.Process(context.Background(), second)
	assert.Equal(t, StatusCompleted, second.Snapshot().Status)
	assert.True(t, second.Snapshot().Cached)
	assert.Equal(t, 1, cache.hits)

	cached, cachedTitle, _ := second.Result()
	assert.JSONEq(t, string(payload), string(cached))
	assert.Equal(t, title, cachedTitle)
}

func TestWorker_ProcessRankTitleFromPersona(t *testing.T) {
	cache := newMemCache()
	w := testWorker(defaultPolicy(), cache)

	job := NewRankJob(climateFiles(), climateQuery)
	w.Process(context.Background(), job)
	_, title, ok := job.Result()
	require.True(t, ok)
	assert.Equal(t, "climate researcher", title)

	again := NewRankJob(climateFiles(), climateQuery)
	w.Process(context.Background(), again)
	_, title, _ = again.Result()
	assert.Equal(t, "climate researcher", title)
}

func TestWorker_ProcessCacheKeyedBySettings(t *testing.T) {
	cache := newMemCache()
	w := testWorker(defaultPolicy(), cache)
	first := NewRankJob(climateFiles(), climateQuery)
	w.Process(context.Background(), first)
	require.Equal(t, StatusCompleted, first.Snapshot().Status)

	opts := rank.DefaultOptions()
	opts.MaxResults = 1
	narrow := NewWorker(slog.New(slog.DiscardHandler), defaultPolicy(), parser.Options{}, outline.DefaultOptions(), opts, cache)
	second := NewRankJob(climateFiles(), climateQuery)
	narrow.Process(context.Background(), second)

	snap := second.Snapshot()
	require.Equal(t, StatusCompleted, snap.Status)
	assert.False(t, snap.Cached)
	assert.NotEqual(t, first.Snapshot().ContentHash, snap.ContentHash)
	assert.Equal(t, 0, cache.hits)

	payload, _, _ := second.Result()
	var res rank.Result
	require.NoError(t, json.Unmarshal(payload, &res))
	assert.Len(t, res.ExtractedSections, 1)

	// Same settings with a different clock still share the entry.
	same := rank.DefaultOptions()
	same.Now = func() time.Time { return time.Unix(0, 0) }
	again := NewWorker(slog.New(slog.DiscardHandler), defaultPolicy(), parser.Options{}, outline.DefaultOptions(), same, cache)
	third := NewRankJob(climateFiles(), climateQuery)
	again.Process(context.Background(), third)
	assert.True(t, third.Snapshot().Cached)
}

func TestWorker_ProcessIgnoresCacheFailures(t *testing.T) {
	w := testWorker(defaultPolicy(), brokenCache{})
	job := NewOutlineJob(InputFile{Name: "guide.md", Data: []byte(guideMarkdown)})
	w.Process(context.Background(), job)
	assert.Equal(t, StatusCompleted, job.Snapshot().Status)
}

func TestWorker_ProcessPreconditionFails(t *testing.T) {
	w := testWorker(defaultPolicy(), nil)
	job := NewRankJob(climateFiles()[:1], climateQuery)
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, string(StatusValidating), snap.Phase)
	assert.ErrorIs(t, job.Err(), ErrPrecondition)
}

func TestWorker_ProcessTimeout(t *testing.T) {
	w := testWorker(defaultPolicy(), nil)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	job := NewOutlineJob(InputFile{Name: "guide.md", Data: []byte(guideMarkdown)})
	w.Process(ctx, job)

	snap := job.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "timeout", snap.Phase)
	assert.ErrorIs(t, job.Err(), context.DeadlineExceeded)
}

func TestWorker_ProcessCanceled(t *testing.T) {
	w := testWorker(defaultPolicy(), nil)
	job := NewOutlineJob(InputFile{Name: "guide.md", Data: []byte(guideMarkdown)})
	job.SetStatus(StatusValidating, "starting")

	ctx, cancel := context.WithCancel(context.Background())
	job.bindCancel(cancel)
	require.True(t, job.requestCancel())

	w.Process(ctx, job)
	assert.Equal(t, StatusCanceled, job.Snapshot().Status)
	_, _, ok := job.Result()
	assert.False(t, ok)
}

func TestResultTitle(t *testing.T) {
	assert.Equal(t, "Guide", resultTitle([]byte(`{"title":"Guide","outline":[]}`)))
	assert.Equal(t, "analyst", resultTitle([]byte(`{"metadata":{"persona":"analyst"}}`)))
	assert.Equal(t, "", resultTitle([]byte(`not json`)))
}
