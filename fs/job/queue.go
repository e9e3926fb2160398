package job

import (
	"sync"
	"sync/atomic"

	vfs "github.com/govfsd/vfsd/fs"
	"github.com/govfsd/vfsd/internal/flog"
)

// Queue is the dispatch engine: it hands every submitted
// Job its fast-path attempt on the caller's goroutine, and — if that
// doesn't terminate the job — runs it on a bounded worker pool so a
// misbehaving backend can't starve the daemon.
type Queue struct {
	replyWriter ReplyWriter
	sem         chan struct{}

	mu   sync.Mutex
	jobs map[int64]Job

	nextID atomic.Int64
}

// NewQueue creates a dispatch queue with the given fixed worker pool
// size. Replies are
// handed to rw as each job reaches its terminal outcome.
func NewQueue(workers int, rw ReplyWriter) *Queue {
	if workers < 1 {
		workers = 1
	}
	return &Queue{
		replyWriter: rw,
		sem:         make(chan struct{}, workers),
		jobs:        make(map[int64]Job),
	}
}

// Submit assigns j an id, registers it, and runs its lifecycle:
// try() on the calling goroutine; if that doesn't finish the job, run()
// is dispatched onto the worker pool. Submit itself never blocks on
// run() — it returns once the fast-path attempt (or its absence) is
// resolved.
func (q *Queue) Submit(j Job) int64 {
	base := j.JobBase()
	id := q.nextID.Add(1)
	base.ID = id

	q.mu.Lock()
	q.jobs[id] = j
	q.mu.Unlock()

	if q.attemptTry(j) {
		q.finish(j)
		return id
	}

	go q.runWorker(j)
	return id
}

// attemptTry calls j.Try(), converting a panic into a FAILED outcome
// so a broken backend can't take the dispatch thread down with it.
func (q *Queue) attemptTry(j Job) (handled bool) {
	defer func() {
		if r := recover(); r != nil {
			flog.Errorf(nil, "job %d: recovered panic in try: %v", j.JobBase().ID, r)
			j.JobBase().FailedWith(vfs.Errorf(vfs.KindFailed, "panic in try: %v", r))
			handled = true
		}
	}()
	return j.Try()
}

func (q *Queue) runWorker(j Job) {
	q.sem <- struct{}{}
	defer func() { <-q.sem }()

	defer func() {
		if r := recover(); r != nil {
			flog.Errorf(nil, "job %d: recovered panic in run: %v", j.JobBase().ID, r)
			j.JobBase().FailedWith(vfs.Errorf(vfs.KindFailed, "panic in run: %v", r))
		}
		q.finish(j)
	}()
	j.Run()
}

// finish sends the reply exactly once, after the job's outcome has
// become terminal.
func (q *Queue) finish(j Job) {
	base := j.JobBase()
	if !base.markReplySent() {
		return
	}
	j.SendReply(q.replyWriter)
}

// Get returns the job registered under id, or nil if none is found
// (e.g. because it was never submitted or has been forgotten).
func (q *Queue) Get(id int64) Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs[id]
}

// Cancel trips the cancellation token of the job registered under id.
// Returns false if no such job is known.
func (q *Queue) Cancel(id int64) bool {
	j := q.Get(id)
	if j == nil {
		return false
	}
	j.JobBase().Cancel()
	return true
}

// Forget drops the bookkeeping entry for id. Call once its reply has
// been sent and the caller no longer needs Get/Cancel to find it.
func (q *Queue) Forget(id int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.jobs, id)
}

// IDs returns the ids of every job currently registered, for
// diagnostics.
func (q *Queue) IDs() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]int64, 0, len(q.jobs))
	for id := range q.jobs {
		out = append(out, id)
	}
	return out
}
