package fs

import "sync"

// MountRef is the resolved locator for a mounted target: the bus peer
// that owns it, its object-path, the MountSpec that produced it, and
// an optional preferred filename encoding (empty means UTF-8). It is
// shared by every client that has the mount open; ReleaseRef drops the
// caller's hold and the last release runs onRelease.
type MountRef struct {
	BusPeerID  string
	ObjectPath string
	Spec       *MountSpec
	Encoding   string // empty = UTF-8

	mu        sync.Mutex
	refCount  int
	onRelease func()
	released  bool
}

// NewMountRef creates a MountRef with one outstanding reference. Call
// AddRef for each additional holder and ReleaseRef for each release;
// onRelease runs exactly once, when the last reference is dropped.
func NewMountRef(busPeerID, objectPath string, spec *MountSpec, encoding string, onRelease func()) *MountRef {
	return &MountRef{
		BusPeerID:  busPeerID,
		ObjectPath: objectPath,
		Spec:       spec,
		Encoding:   encoding,
		refCount:   1,
		onRelease:  onRelease,
	}
}

// AddRef registers an additional holder of this mount.
func (r *MountRef) AddRef() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refCount++
}

// ReleaseRef drops one holder's reference. When the count reaches
// zero it invokes onRelease exactly once.
func (r *MountRef) ReleaseRef() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refCount--
	if r.refCount <= 0 && !r.released {
		r.released = true
		if r.onRelease != nil {
			r.onRelease()
		}
	}
}

// RefCount returns the current number of live holders, for tests and
// diagnostics.
func (r *MountRef) RefCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refCount
}
