package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/docoutline/internal/rank"
)

// JobKind selects the analysis a job runs.
type JobKind string

const (
	KindOutline JobKind = "outline"
	KindRank    JobKind = "rank"
)

// JobStatus represents the stage of a job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusValidating JobStatus = "validating"
	StatusExtracting JobStatus = "extracting"
	StatusAnalyzing  JobStatus = "analyzing"
	StatusGenerating JobStatus = "generating"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCanceled   JobStatus = "canceled"
)

// Terminal reports whether no further transitions follow s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Progress is the completion percentage reported on entering s.
func (s JobStatus) Progress() int {
	switch s {
	case StatusValidating:
		return 10
	case StatusExtracting:
		return 30
	case StatusAnalyzing:
		return 60
	case StatusGenerating:
		return 85
	case StatusCompleted:
		return 100
	}
	return 0
}

// Event states.
const (
	StateActive    = "active"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Event is one progress notification.
type Event struct {
	JobID    string    `json:"job_id"`
	Stage    JobStatus `json:"stage"`
	State    string    `json:"state"`
	Progress int       `json:"progress"`
	Status   JobStatus `json:"status"`
	Message  string    `json:"message,omitempty"`
}

// InputFile is one uploaded document.
type InputFile struct {
	Name string
	Data []byte
}

// Job is the session object for one outline or ranking request.
type Job struct {
	mu sync.Mutex

	ID    string
	Kind  JobKind
	Query rank.Query

	Status   JobStatus
	Phase    string
	Progress int

	ContentHash string
	Cached      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Internal: not serialized.
	files       []InputFile
	names       []string
	errors      []string
	err         error
	result      json.RawMessage
	title       string
	cancel      context.CancelFunc
	cancelAsked bool
	subs        []chan Event
	done        chan struct{}
}

func newJob(kind JobKind, files []InputFile, q rank.Query) *Job {
	now := time.Now()
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	return &Job{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Kind:      kind,
		Query:     q,
		Status:    StatusQueued,
		Phase:     "queued",
		CreatedAt: now,
		UpdatedAt: now,
		files:     files,
		names:     names,
		done:      make(chan struct{}),
	}
}

// NewOutlineJob creates a queued outline job for one file.
func NewOutlineJob(file InputFile) *Job {
	return newJob(KindOutline, []InputFile{file}, rank.Query{})
}

// NewRankJob creates a queued ranking job.
func NewRankJob(files []InputFile, q rank.Query) *Job {
	return newJob(KindRank, files, q)
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Cleanup removes finished jobs that have been idle longer than the TTL.
// Running jobs are kept regardless of age.
func (s *JobStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, job := range s.jobs {
		job.mu.Lock()
		expired := job.Status.Terminal() && now.Sub(job.UpdatedAt) > s.ttl
		job.mu.Unlock()
		if expired {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// SetStatus moves the job to status and notifies subscribers. Transitions out
// of a terminal status are ignored.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.setStatusLocked(status, phase)
}

func (j *Job) setStatusLocked(status JobStatus, phase string) {
	if j.Status.Terminal() {
		return
	}
	prev := j.Status
	j.Phase = phase
	j.UpdatedAt = time.Now()
	if prev == status {
		return
	}
	j.Status = status
	if p := status.Progress(); p > j.Progress {
		j.Progress = p
	}

	if prev != StatusQueued {
		j.publishLocked(Event{Stage: prev, State: StateCompleted})
	}
	switch status {
	case StatusCompleted:
		j.publishLocked(Event{Stage: status, State: StateCompleted})
	case StatusFailed, StatusCanceled:
		j.publishLocked(Event{Stage: status, State: StateFailed, Message: phase})
	default:
		j.publishLocked(Event{Stage: status, State: StateActive})
	}

	if status.Terminal() {
		for _, ch := range j.subs {
			close(ch)
		}
		j.subs = nil
		j.files = nil
		j.cancel = nil
		if j.done != nil {
			close(j.done)
		}
	}
}

func (j *Job) publishLocked(ev Event) {
	ev.JobID = j.ID
	ev.Progress = j.Progress
	ev.Status = j.Status
	for _, ch := range j.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; drop rather than block the worker.
		}
	}
}

// Subscribe returns a channel of progress events that is closed once the job
// is terminal, and a function that detaches it early. Subscribing to a
// finished job yields its final event.
func (j *Job) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status.Terminal() {
		state := StateCompleted
		if j.Status != StatusCompleted {
			state = StateFailed
		}
		ch <- Event{JobID: j.ID, Stage: j.Status, State: state, Progress: j.Progress, Status: j.Status}
		close(ch)
		return ch, func() {}
	}
	ch <- Event{JobID: j.ID, Stage: j.Status, State: StateActive, Progress: j.Progress, Status: j.Status}
	j.subs = append(j.subs, ch)

	return ch, func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		for i, s := range j.subs {
			if s == ch {
				j.subs = append(j.subs[:i], j.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
}

// Done is closed when the job reaches a terminal status.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.UpdatedAt = time.Now()
}

// Fail records err and moves the job to failed.
func (j *Job) Fail(phase string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status.Terminal() {
		return
	}
	j.err = err
	j.errors = append(j.errors, err.Error())
	j.setStatusLocked(StatusFailed, phase)
}

// Err returns the error that failed the job, or nil.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Complete stores the encoded result and marks the job completed.
func (j *Job) Complete(result json.RawMessage, title string, cached bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = result
	j.title = title
	j.Cached = cached
	j.setStatusLocked(StatusCompleted, "done")
}

// Result returns the encoded result and the title used for downloads. ok is
// false until the job has completed.
func (j *Job) Result() (result json.RawMessage, title string, ok bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status != StatusCompleted {
		return nil, "", false
	}
	return j.result, j.title, true
}

func (j *Job) setContentHash(hash string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ContentHash = hash
}

// Files returns the input files. They are released once the job finishes.
func (j *Job) Files() []InputFile {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.files
}

// bindCancel attaches the running context's cancel function. If a cancel was
// already requested it fires immediately.
func (j *Job) bindCancel(cancel context.CancelFunc) {
	j.mu.Lock()
	asked := j.cancelAsked
	if !asked {
		j.cancel = cancel
	}
	j.mu.Unlock()
	if asked {
		cancel()
	}
}

// requestCancel asks a job to stop. A queued job is canceled at once; a
// running one stops at its next stage boundary. It reports false when the job
// had already finished.
func (j *Job) requestCancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status.Terminal() {
		return false
	}
	j.cancelAsked = true
	if j.cancel != nil {
		j.cancel()
	}
	if j.Status == StatusQueued {
		j.setStatusLocked(StatusCanceled, "canceled")
	}
	return true
}

func (j *Job) cancelRequested() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelAsked
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID          string    `json:"job_id"`
	Kind        JobKind   `json:"kind"`
	Status      JobStatus `json:"status"`
	Phase       string    `json:"phase"`
	Progress    int       `json:"progress"`
	Files       []string  `json:"files"`
	Persona     string    `json:"persona,omitempty"`
	Task        string    `json:"job_to_be_done,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	Cached      bool      `json:"cached"`
	Errors      []string  `json:"errors"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := make([]string, len(j.errors))
	copy(errs, j.errors)
	names := make([]string, len(j.names))
	copy(names, j.names)
	return JobSnapshot{
		ID:          j.ID,
		Kind:        j.Kind,
		Status:      j.Status,
		Phase:       j.Phase,
		Progress:    j.Progress,
		Files:       names,
		Persona:     j.Query.Persona,
		Task:        j.Query.Task,
		ContentHash: j.ContentHash,
		Cached:      j.Cached,
		Errors:      errs,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}

// InputHash identifies a request by its file contents, in order, its query
// and the analysis settings it runs under. Filenames are included because
// they feed the output.
func InputHash(kind JobKind, settings string, files []InputFile, q rank.Query) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00", kind, settings)
	for _, f := range files {
		fmt.Fprintf(h, "%s\x00%s\x00", f.Name, ContentHashHex(f.Data))
	}
	fmt.Fprintf(h, "%s\x00%s", q.Persona, q.Task)
	return fmt.Sprintf("%x", h.Sum(nil))
}

func (j *Job) snapshotStatus() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status
}
