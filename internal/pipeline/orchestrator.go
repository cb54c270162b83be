package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/docoutline/internal/config"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobFinished = errors.New("job already finished")
	ErrQueueFull   = errors.New("job queue is full")
	ErrStopped     = errors.New("pipeline is shutting down")
)

// Purger is implemented by caches that can drop old entries.
type Purger interface {
	Purge(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Orchestrator owns the job queue and the worker pool.
type Orchestrator struct {
	jobs   *JobStore
	queue  chan *Job
	worker *Worker
	cache  Cache
	stats  map[JobKind]*LatencyStats
	log    *slog.Logger
	cfg    config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards stopped and the queue close against concurrent sends.
	mu      sync.RWMutex
	stopped bool
}

// NewOrchestrator creates the pipeline. Workers start with Start.
func NewOrchestrator(cfg config.Config, worker *Worker, cache Cache, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:   NewJobStore(cfg.JobTTL),
		queue:  make(chan *Job, cfg.MaxQueueSize),
		worker: worker,
		cache:  cache,
		stats: map[JobKind]*LatencyStats{
			KindOutline: NewLatencyStats(time.Hour),
			KindRank:    NewLatencyStats(time.Hour),
		},
		log: log,
		cfg: cfg,
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.cfg.WorkerCount {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					o.run(workerCtx, job)
				}
			}
		}()
	}

	// Job store and cache cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.cleanup(workerCtx)
			}
		}
	}()
}

func (o *Orchestrator) run(ctx context.Context, job *Job) {
	if job.snapshotStatus().Terminal() {
		return // canceled while queued
	}
	if ctx.Err() != nil {
		job.SetStatus(StatusCanceled, "shutdown")
		return
	}
	jobCtx, cancel := context.WithTimeout(ctx, o.cfg.JobTimeout)
	defer cancel()
	job.bindCancel(cancel)

	start := time.Now()
	o.worker.Process(jobCtx, job)
	if job.snapshotStatus() == StatusCompleted {
		o.stats[job.Kind].Record(time.Since(start))
	}
}

func (o *Orchestrator) cleanup(ctx context.Context) {
	if n := o.jobs.Cleanup(); n > 0 {
		o.log.Debug("evicted finished jobs", "count", n)
	}
	p, ok := o.cache.(Purger)
	if !ok || o.cfg.CacheTTL <= 0 {
		return
	}
	n, err := p.Purge(ctx, o.cfg.CacheTTL)
	if err != nil {
		o.log.Warn("cache purge failed", "error", err)
	} else if n > 0 {
		o.log.Debug("purged cached results", "count", n)
	}
}

// Stop shuts down the pipeline. Running jobs are interrupted, and jobs still
// queued are canceled so their waiters and subscribers are released. Submit
// fails with ErrStopped afterwards.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	close(o.queue)
	o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()

	n := 0
	for job := range o.queue {
		job.SetStatus(StatusCanceled, "shutdown")
		n++
	}
	if n > 0 {
		o.log.Info("canceled queued jobs on shutdown", "count", n)
	}
}

// Submit queues a new job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	o.jobs.Put(job)

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.stopped {
		job.Fail("shutdown", ErrStopped)
		return ErrStopped
	}
	select {
	case o.queue <- job:
		o.log.Info("job queued", "job_id", job.ID, "kind", job.Kind, "queue_depth", len(o.queue))
		return nil
	default:
		job.Fail("queue_full", ErrQueueFull)
		return fmt.Errorf("%w (%d)", ErrQueueFull, o.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// Cancel stops a queued or running job.
func (o *Orchestrator) Cancel(id string) error {
	job := o.jobs.Get(id)
	if job == nil {
		return ErrJobNotFound
	}
	if !job.requestCancel() {
		return ErrJobFinished
	}
	o.log.Info("job cancel requested", "job_id", id)
	return nil
}

// Subscribe streams progress events for a job until it finishes.
func (o *Orchestrator) Subscribe(id string) (<-chan Event, func(), error) {
	job := o.jobs.Get(id)
	if job == nil {
		return nil, nil, ErrJobNotFound
	}
	ch, stop := job.Subscribe()
	return ch, stop, nil
}

// Wait blocks until the job finishes or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context, job *Job) error {
	select {
	case <-job.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// Stats returns latency snapshots per job kind.
func (o *Orchestrator) Stats() map[JobKind]StatsSnapshot {
	out := make(map[JobKind]StatsSnapshot, len(o.stats))
	for kind, s := range o.stats {
		out[kind] = s.Snapshot()
	}
	return out
}
