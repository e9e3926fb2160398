package job

import (
	"fmt"
	"sync"

	vfs "github.com/govfsd/vfsd/fs"
)

// OpKind identifies one operation in a backend's capability table.
// Job variants look themselves up by OpKind rather than relying on a
// per-operation Go interface, so a backend declares support per
// operation instead of per type.
type OpKind int

// Operations every backend may advertise support for.
const (
	OpMount OpKind = iota
	OpOpenForRead
	OpRead
	OpSeek
	OpClose
	OpOpenForWrite
	OpWrite
	OpEnumerate
	OpGetInfo
	OpMove
	OpDelete
	OpRename
	OpMkdir
)

var opNames = map[OpKind]string{
	OpMount:        "mount",
	OpOpenForRead:  "open_for_read",
	OpRead:         "read",
	OpSeek:         "seek",
	OpClose:        "close",
	OpOpenForWrite: "open_for_write",
	OpWrite:        "write",
	OpEnumerate:    "enumerate",
	OpGetInfo:      "get_info",
	OpMove:         "move",
	OpDelete:       "delete",
	OpRename:       "rename",
	OpMkdir:        "mkdir",
}

// String implements fmt.Stringer.
func (o OpKind) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("OpKind(%d)", int(o))
}

// TryFunc is a backend's optional non-blocking fast path for an
// operation. It reports whether it fully handled the job
// (outcome is now terminal); if it returns false the job falls
// through to the slow path.
type TryFunc func(j Job) bool

// DoFunc is a backend's blocking slow-path handler. It
// must leave the job in a terminal outcome before returning.
type DoFunc func(j Job)

type capEntry struct {
	try TryFunc
	do  DoFunc
}

// Capabilities is a backend's capability table: for each
// OpKind, an optional try and an optional do handler. Safe for
// concurrent Lookup while Register is typically only called during
// backend construction.
type Capabilities struct {
	mu      sync.RWMutex
	entries map[OpKind]capEntry
}

// NewCapabilities returns an empty capability table.
func NewCapabilities() *Capabilities {
	return &Capabilities{entries: make(map[OpKind]capEntry)}
}

// Register adds an entry for op. At least one of try/do must be
// non-nil, per the invariant that a backend never advertises an
// operation it can't perform either way. Register panics
// otherwise — a backend construction-time programming error, not a
// runtime condition.
func (c *Capabilities) Register(op OpKind, try TryFunc, do DoFunc) {
	if try == nil && do == nil {
		panic("job: capability " + op.String() + " registered with neither try nor do")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[op] = capEntry{try: try, do: do}
}

// Lookup returns the registered try/do handlers for op, and whether
// op is supported at all.
func (c *Capabilities) Lookup(op OpKind) (TryFunc, DoFunc, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[op]
	return e.try, e.do, ok
}

// Supports reports whether op has any registered handler.
func (c *Capabilities) Supports(op OpKind) bool {
	_, _, ok := c.Lookup(op)
	return ok
}

// CapableBackend is the subset of Backend that exposes a capability
// table; concrete backends (local, sftp) implement it alongside
// Backend's identity methods.
type CapableBackend interface {
	Backend
	Capabilities() *Capabilities
}

// TryOp resolves op against backend's capability table and, if a try
// handler is registered, invokes it. Returns false (not handled) if
// no try handler is registered, deferring to the slow path in RunOp.
// If the operation is unsupported altogether, the job fails
// immediately with NOT_SUPPORTED and TryOp reports true
// (handled).
func TryOp(j Job, op OpKind, backend CapableBackend) bool {
	try, do, ok := backend.Capabilities().Lookup(op)
	if !ok {
		j.JobBase().FailedWith(vfs.Errorf(vfs.KindNotSupported, "%s: %s not supported", backend.Name(), op))
		return true
	}
	if try != nil {
		return try(j)
	}
	_ = do // present, but only usable from the slow path
	return false
}

// RunOp resolves op's do handler and invokes it on the calling
// (worker) goroutine. Called only when TryOp returned false for the
// same operation, per the try/run contract. If somehow no do
// handler is registered either, the job fails with NOT_SUPPORTED
// rather than hanging.
func RunOp(j Job, op OpKind, backend CapableBackend) {
	_, do, ok := backend.Capabilities().Lookup(op)
	if !ok || do == nil {
		j.JobBase().FailedWith(vfs.Errorf(vfs.KindNotSupported, "%s: %s has no blocking handler", backend.Name(), op))
		return
	}
	do(j)
}
