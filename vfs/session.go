// Package vfs implements the broker's enumerator channel: the
// server-side pusher and client-side puller that stream directory
// listings as batches of FileInfo through an unbounded FIFO, so batches
// not yet pulled stay queued in memory.
package vfs

import (
	"strconv"
	"sync"
	"sync/atomic"

	vfsmodel "github.com/govfsd/vfsd/fs"
)

// nextSessionID is the process-wide monotonic counter behind
// object-path naming.
var nextSessionID atomic.Int64

// ObjectPathPrefix is prepended to every enumerator session's decimal
// id to form its object-path.
const ObjectPathPrefix = "/vfs/enumerator/"

// NewObjectPath returns a fresh, process-wide unique enumerator
// object-path.
func NewObjectPath() string {
	id := nextSessionID.Add(1)
	return ObjectPathPrefix + strconv.FormatInt(id, 10)
}

// Session is an EnumeratorSession: a producer (the backend
// serving an EnumerateJob) posts batches of FileInfo to it; a consumer
// pulls them one at a time. Once Done is called, no further batch may
// be posted, and a consumer observes every previously posted entry
// before observing end-of-stream.
type Session struct {
	ObjectPath string

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*vfsmodel.FileInfo
	done    bool
	doneErr error
}

// NewSession creates a Session with a fresh object-path.
func NewSession() *Session {
	s := &Session{ObjectPath: NewObjectPath()}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// PostBatch appends a batch of FileInfo to the session's FIFO,
// preserving the batch's internal order, and wakes any blocked
// consumer. Returns vfs.Failed if the session is already Done — a
// producer that calls PostBatch after Done is a logic error.
func (s *Session) PostBatch(batch []*vfsmodel.FileInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return vfsmodel.Errorf(vfsmodel.KindFailed, "enumerator %s: PostBatch called after Done", s.ObjectPath)
	}
	s.pending = append(s.pending, batch...)
	s.cond.Broadcast()
	return nil
}

// Done marks the session exhausted, optionally carrying the error
// that caused early termination (nil on a clean finish). Idempotent:
// only the first call has effect, preserving the "DONE posted exactly
// once" invariant.
func (s *Session) Done(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.doneErr = err
	s.cond.Broadcast()
}

// Pull blocks until either a FileInfo is available (returns it with
// ok=true), or the session is Done and drained (returns ok=false).
func (s *Session) Pull() (*vfsmodel.FileInfo, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if len(s.pending) > 0 {
			fi := s.pending[0]
			s.pending = s.pending[1:]
			return fi, true, nil
		}
		if s.done {
			return nil, false, s.doneErr
		}
		s.cond.Wait()
	}
}

// Cancel unblocks any goroutine currently in Pull by marking the
// session Done with vfs.Cancelled, discarding any undelivered pending
// batch — used when a client detaches before enumeration finishes.
func (s *Session) Cancel() {
	s.mu.Lock()
	if !s.done {
		s.done = true
		s.doneErr = vfsmodel.Cancelled
		s.pending = nil
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

// IsDone reports whether Done has been called, regardless of whether
// every batch has been drained yet.
func (s *Session) IsDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}
