// Package backend holds the broker's backend factory registry: each
// backend package registers a constructor for its MountSpec "type"
// value in init() (see backend/all, which blank-imports every backend
// so its init() runs).
package backend

import (
	"sort"
	"sync"

	vfs "github.com/govfsd/vfsd/fs"
	"github.com/govfsd/vfsd/fs/job"
)

// Factory constructs a backend instance for a mount spec whose "type"
// key selects it.
type Factory func(spec *vfs.MountSpec) (job.CapableBackend, error)

var (
	mu       sync.Mutex
	registry = map[string]Factory{}
)

// Register associates typ (a MountSpec "type" value, e.g. "local" or
// "sftp") with f. Called from each backend package's init(); panics on
// a duplicate type, a programming error caught at process start.
func Register(typ string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[typ]; exists {
		panic("backend: duplicate registration for type " + typ)
	}
	registry[typ] = f
}

// New constructs the backend for spec's "type", or fails with
// NOT_SUPPORTED if no backend has registered that type.
func New(spec *vfs.MountSpec) (job.CapableBackend, error) {
	typ, err := spec.Require("type")
	if err != nil {
		return nil, err
	}
	mu.Lock()
	f, ok := registry[typ]
	mu.Unlock()
	if !ok {
		return nil, vfs.Errorf(vfs.KindNotSupported, "backend: no backend registered for mount spec type %q", typ)
	}
	return f(spec)
}

// Types returns the registered backend type names, sorted, for
// diagnostics (e.g. a daemon --help listing).
func Types() []string {
	mu.Lock()
	defer mu.Unlock()
	out := make([]string, 0, len(registry))
	for typ := range registry {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}
