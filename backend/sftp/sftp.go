// Package sftp implements the broker's SFTP backend: it drives a
// local `ssh` subprocess through an interactive login dialog and then
// speaks SFTP v3 framed request/response over the child's
// stdin/stdout.
package sftp

import (
	"sync"
	"sync/atomic"

	vfs "github.com/govfsd/vfsd/fs"
	"github.com/govfsd/vfsd/backend"
	"github.com/govfsd/vfsd/fs/job"
	"github.com/govfsd/vfsd/internal/flog"
	enumerator "github.com/govfsd/vfsd/vfs"
)

func init() {
	backend.Register("sftp", New)
}

// connState is the transport's lifecycle: Disconnected →
// Spawned → Authenticating → Handshaking → Ready → (Closing → Closed),
// with Failed reachable from any non-terminal state.
type connState int32

// Recognised transport states.
const (
	stateDisconnected connState = iota
	stateSpawned
	stateAuthenticating
	stateHandshaking
	stateReady
	stateClosing
	stateClosed
	stateFailed
)

// Backend is the SFTP backend. One Backend instance corresponds
// to one mounted SFTP target; it owns the ssh subprocess and, through
// its transport, the request-id map and the write lock that serializes
// requests onto the child's stdin.
type Backend struct {
	Host string
	User string

	Sessions *enumerator.SessionRegistry
	cred     CredentialSource

	caps *job.Capabilities

	state atomic.Int32

	transport *transport
	mkdirLock *stringLock

	mu      sync.Mutex
	handles map[string]*remoteHandle

	closeOnce sync.Once
}

type remoteHandle struct {
	sftpHandle string
	path       string
	canSeek    bool

	mu     sync.Mutex
	offset int64
}

// New constructs an SFTP backend from a MountSpec. It does not spawn the subprocess or log in — that happens
// when the MountJob runs. This backend registers no try handlers, so
// every job, MountJob included, runs on the worker pool.
func New(spec *vfs.MountSpec) (job.CapableBackend, error) {
	if typ := spec.Type(); typ != "sftp" {
		return nil, vfs.Errorf(vfs.KindInvalidArgument, "sftp: unexpected mount spec type %q", typ)
	}
	host, err := spec.Require("host")
	if err != nil {
		return nil, err
	}
	user, _ := spec.Get("user")
	if user == "" {
		user = currentOSUser()
	}

	b := &Backend{
		Host:      host,
		User:      user,
		Sessions:  enumerator.NewSessionRegistry(),
		cred:      defaultCredentialSource{},
		mkdirLock: newStringLock(),
		handles:   make(map[string]*remoteHandle),
	}
	b.caps = job.NewCapabilities()
	b.registerCapabilities()
	return b, nil
}

// SetCredentialSource overrides the credential source consulted during
// login; used by tests and by a daemon wiring a UI-backed
// prompter in place of the default (which always cancels).
func (b *Backend) SetCredentialSource(cred CredentialSource) {
	b.cred = cred
}

// Name implements job.Backend.
func (b *Backend) Name() string { return "sftp://" + b.User + "@" + b.Host }

// LogString implements flog.Describable.
func (b *Backend) LogString() string { return b.Name() }

// Capabilities implements job.CapableBackend.
func (b *Backend) Capabilities() *job.Capabilities { return b.caps }

// EnumeratorSessions exposes the backend's live enumerator sessions
// to the bus adapter that streams them to clients.
func (b *Backend) EnumeratorSessions() *enumerator.SessionRegistry { return b.Sessions }

func (b *Backend) registerCapabilities() {
	b.caps.Register(job.OpMount, nil, b.doMount)
	b.caps.Register(job.OpGetInfo, nil, b.doGetInfo)
	b.caps.Register(job.OpEnumerate, nil, b.doEnumerate)
	b.caps.Register(job.OpOpenForRead, nil, b.doOpenForRead)
	b.caps.Register(job.OpRead, nil, b.doRead)
	b.caps.Register(job.OpSeek, nil, b.doSeek)
	b.caps.Register(job.OpClose, nil, b.doClose)
	b.caps.Register(job.OpOpenForWrite, nil, b.doOpenForWrite)
	b.caps.Register(job.OpWrite, nil, b.doWrite)
	b.caps.Register(job.OpMove, nil, b.doMove)
	b.caps.Register(job.OpDelete, nil, b.doDelete)
	b.caps.Register(job.OpRename, nil, b.doRename)
	b.caps.Register(job.OpMkdir, nil, b.doMkdir)
}

// doMount drives DISCONNECTED through READY: vendor probe,
// subprocess spawn, login dialog, INIT/VERSION handshake. On success
// the transport is READY and every subsequent job is served over it.
func (b *Backend) doMount(j job.Job) {
	mj := j.(*job.MountJob)

	t, err := newTransport(b.Host, b.User, b.cred, mj.Cancelled)
	if err != nil {
		b.state.Store(int32(stateFailed))
		mj.FailedWith(err)
		return
	}
	b.transport = t
	b.state.Store(int32(stateReady))

	ref := vfs.NewMountRef(b.Name(), "/vfs/sftp/"+b.Host, mj.Spec, "", func() {
		b.teardown()
	})
	flog.Infof(b, "mounted %s", ref.ObjectPath)
	mj.Succeeded(ref)
}

// teardown drives READY (or FAILED) through CLOSED: drains pending
// replies up to a short deadline, closes the transport, reaps the
// child.
func (b *Backend) teardown() {
	b.closeOnce.Do(func() {
		b.state.Store(int32(stateClosing))
		if b.transport != nil {
			b.transport.close()
		}
		b.state.Store(int32(stateClosed))
	})
}

// JobSourceClosed implements the mount.TeardownFunc contract invoked
// when mount registration fails after a successful backend mount
//.
func (b *Backend) JobSourceClosed() {
	b.teardown()
}

func currentOSUser() string {
	if u := osCurrentUsername(); u != "" {
		return u
	}
	return "root"
}
