package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nalpari/jppc/internal/crawler"
)

// jobEntry guards one job record. Only the job's own goroutine writes
// outcomes; readers take snapshots.
type jobEntry struct {
	id string

	mu  sync.RWMutex
	job crawler.CrawlJob

	cancelRequested atomic.Bool
	done            chan struct{}
}

func newJobEntry(job crawler.CrawlJob) *jobEntry {
	return &jobEntry{id: job.ID, job: job, done: make(chan struct{})}
}

func (e *jobEntry) snapshot() crawler.CrawlJob {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.job.Clone()
}

func (e *jobEntry) terminal() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.job.Status.Terminal()
}

// markRunning moves a pending job to running. It reports false when the job
// was cancelled before it started.
func (e *jobEntry) markRunning(at time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Status != crawler.JobStatusPending || e.cancelRequested.Load() {
		return false
	}
	e.job.Status = crawler.JobStatusRunning
	e.job.StartedAt = &at
	return true
}

// requestCancel flags the job for cancellation and returns a snapshot
// showing the status the job will end with. The job goroutine applies it at
// the next source boundary. It reports false when the job is already
// terminal.
func (e *jobEntry) requestCancel() (crawler.CrawlJob, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Status.Terminal() {
		return e.job.Clone(), false
	}
	e.cancelRequested.Store(true)
	view := e.job.Clone()
	view.Status = crawler.JobStatusCancelled
	return view, true
}

// recordOutcome is ignored once the job is terminal.
func (e *jobEntry) recordOutcome(out crawler.SourceOutcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Status.Terminal() {
		return
	}
	e.job.Results[out.SourceCode] = out
}

// finish moves the job to its terminal status; an accepted cancel request
// always wins. A terminal job is never changed again; the call then only
// returns its snapshot.
func (e *jobEntry) finish(status crawler.JobStatus, errText string, at time.Time) crawler.CrawlJob {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Status.Terminal() {
		return e.job.Clone()
	}
	if e.cancelRequested.Load() {
		status = crawler.JobStatusCancelled
	}
	e.job.Status = status
	e.job.FinishedAt = &at
	e.job.Error = errText
	return e.job.Clone()
}

// aggregate folds per-source outcomes into a job status.
func aggregate(results map[string]crawler.SourceOutcome) crawler.JobStatus {
	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	switch {
	case len(results) > 0 && succeeded == len(results):
		return crawler.JobStatusSuccess
	case succeeded > 0:
		return crawler.JobStatusPartial
	default:
		return crawler.JobStatusFailed
	}
}
