// Package mount implements mount registration: publishing a
// live backend's object-path and MountSpec to the bus, and the
// registry of resolved MountRefs that lets later clients addressing
// the same target share it instead of mounting twice.
package mount

import (
	"sync"

	vfs "github.com/govfsd/vfsd/fs"
	lru "github.com/hashicorp/golang-lru/v2"
)

// PublishFunc publishes (bus-peer-id, object-path, mount-spec) to the
// bus's mount-registry peer and reports whether the peer accepted the
// mount.
type PublishFunc func(ref *vfs.MountRef) error

// TeardownFunc tears a backend down after a failed mount
// registration.
type TeardownFunc func()

// Registry is the broker-side cache of resolved MountRefs, keyed by
// their MountSpec's fingerprint so a second mount request for an
// already-open target resolves to the same MountRef instead of
// re-mounting.
type Registry struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *vfs.MountRef]
}

// NewRegistry creates a Registry bounded to size resolved mounts; the
// least-recently-used entry is evicted once the registry is full and a
// new mount is registered.
func NewRegistry(size int) (*Registry, error) {
	if size < 1 {
		size = 1
	}
	cache, err := lru.New[string, *vfs.MountRef](size)
	if err != nil {
		return nil, vfs.New(vfs.KindFailed, "mount: failed to create registry cache", err)
	}
	return &Registry{cache: cache}, nil
}

// Lookup returns the MountRef previously registered for spec, if any,
// adding a reference on the caller's behalf.
func (r *Registry) Lookup(spec *vfs.MountSpec) (*vfs.MountRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, ok := r.cache.Get(spec.Fingerprint())
	if ok {
		ref.AddRef()
	}
	return ref, ok
}

// Register publishes ref via publish. On success ref is cached under
// its spec's fingerprint and Register returns nil. On failure,
// teardown is invoked (tearing down the backend that just mounted)
// and the publish error is returned, matching the MountJob completion
// contract.
func (r *Registry) Register(ref *vfs.MountRef, publish PublishFunc, teardown TeardownFunc) error {
	if err := publish(ref); err != nil {
		if teardown != nil {
			teardown()
		}
		return err
	}
	r.mu.Lock()
	r.cache.Add(ref.Spec.Fingerprint(), ref)
	r.mu.Unlock()
	return nil
}

// Remove drops ref's cache entry, e.g. once its last reference is
// released.
func (r *Registry) Remove(spec *vfs.MountSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Remove(spec.Fingerprint())
}

// Len reports how many mounts are currently cached, for diagnostics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Len()
}
