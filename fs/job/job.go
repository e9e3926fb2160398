// Package job implements the broker's Job subsystem: a
// polymorphic, asynchronously-completable unit of work with a single
// terminal outcome, plus the dispatch queue that drives jobs through
// their try/run lifecycle on behalf of the (external) bus
// adapter.
package job

import (
	"sync"
	"sync/atomic"
	"time"
)

// Outcome is the terminal state of a Job.
type Outcome int

// Recognised outcomes.
const (
	Pending Outcome = iota
	Succeeded
	Failed
)

// Backend is the subset of the broker's backend contract the job
// subsystem depends on directly; the capability table that makes a
// Backend dispatchable lives on CapableBackend.
type Backend interface {
	Name() string
}

// ReplyWriter is the bus adapter's reply sink. SendReply hands the
// finished Job to it exactly once.
type ReplyWriter interface {
	WriteReply(request any, outcome Outcome, output any, err error)
}

// Base holds the fields every Job variant shares: identity,
// the opaque originating request envelope, a strong reference to the
// owning Backend (keeping it alive for the job's duration), the
// mutable outcome, and the cooperative cancellation token.
type Base struct {
	ID      int64
	Request any // opaque; replied-to verbatim, never inspected by the job subsystem
	Backend CapableBackend

	mu        sync.Mutex
	outcome   Outcome
	output    any
	err       error
	startTime time.Time
	endTime   time.Time

	cancelOnce sync.Once
	cancelCh   chan struct{}
	cancelled  atomic.Bool

	doneCh chan struct{}

	replyOnce sync.Once
	replySent atomic.Bool
}

// NewBase constructs a Base with a strong reference to backend. The
// caller is expected to embed Base in a concrete Job variant.
func NewBase(backend CapableBackend, request any) *Base {
	return &Base{
		Backend:   backend,
		Request:   request,
		startTime: time.Now(),
		cancelCh:  make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Cancel trips the cancellation token. Safe to call more than once or
// concurrently; only the first call has effect. Tripping the token
// does not by itself finalize the job — a handler polling CancelChan
// or Cancelled must observe it and call FailedWith(fs.Cancelled).
func (b *Base) Cancel() {
	b.cancelOnce.Do(func() {
		b.cancelled.Store(true)
		close(b.cancelCh)
	})
}

// Cancelled reports whether Cancel has been called.
func (b *Base) Cancelled() bool {
	return b.cancelled.Load()
}

// CancelChan returns a channel that is closed when Cancel is called,
// for use in select statements at suspension points.
func (b *Base) CancelChan() <-chan struct{} {
	return b.cancelCh
}

// Succeeded records a successful terminal outcome with the given
// output. Idempotent: only the first terminal transition takes
// effect, matching the single-terminal-outcome invariant.
func (b *Base) Succeeded(output any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.outcome != Pending {
		return
	}
	b.outcome = Succeeded
	b.output = output
	b.endTime = time.Now()
	close(b.doneCh)
}

// FailedWith records a failed terminal outcome with err. Idempotent
// like Succeeded.
func (b *Base) FailedWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.outcome != Pending {
		return
	}
	b.outcome = Failed
	b.err = err
	b.endTime = time.Now()
	close(b.doneCh)
}

// Result returns the terminal outcome, output and error. Before the
// job reaches a terminal state Outcome is Pending and both output and
// err are nil.
func (b *Base) Result() (Outcome, any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outcome, b.output, b.err
}

// DoneChan returns a channel that is closed when the job reaches a
// terminal outcome, for callers that follow up on a job's result
// without polling.
func (b *Base) DoneChan() <-chan struct{} {
	return b.doneCh
}

// Done reports whether the job has reached a terminal outcome.
func (b *Base) Done() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outcome != Pending
}

// Duration returns how long the job ran. Before completion it reports
// elapsed time so far.
func (b *Base) Duration() time.Duration {
	b.mu.Lock()
	end := b.endTime
	start := b.startTime
	b.mu.Unlock()
	if end.IsZero() {
		return time.Since(start)
	}
	return end.Sub(start)
}

// markReplySent reports true the first time it is called, false on
// every subsequent call — the guard behind "send_reply is invoked
// exactly once".
func (b *Base) markReplySent() (first bool) {
	b.replyOnce.Do(func() {
		first = true
		b.replySent.Store(true)
	})
	return first
}

// ReplySent reports whether SendReply has already been dispatched for
// this job.
func (b *Base) ReplySent() bool {
	return b.replySent.Load()
}

// Job is the interface the dispatch queue drives. Every job variant
// embeds *Base and implements Try, Run and SendReply over its own
// typed inputs/outputs.
type Job interface {
	// JobBase exposes the shared lifecycle fields.
	JobBase() *Base

	// Try attempts the fast path on the calling (bus/dispatch) thread
	// without blocking. Returns true if the backend fully handled the
	// job (outcome is now terminal).
	Try() bool

	// Run performs the slow path on a worker thread. May block. Must
	// leave the job in a terminal outcome before returning.
	Run()

	// SendReply serializes the terminal outcome onto w. Called by the
	// queue exactly once, after the outcome becomes terminal.
	SendReply(w ReplyWriter)
}

