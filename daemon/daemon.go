// Package daemon is the broker's bus adapter: it accepts client
// connections on a unix socket, decodes each request frame into the
// matching job variant, submits it to the dispatch queue, and writes
// reply frames back in completion order. Enumerator sessions stream
// their batches to the requesting connection out-of-band.
package daemon

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/govfsd/vfsd/backend"
	vfs "github.com/govfsd/vfsd/fs"
	"github.com/govfsd/vfsd/fs/job"
	"github.com/govfsd/vfsd/internal/flog"
	"github.com/govfsd/vfsd/mount"
	enumerator "github.com/govfsd/vfsd/vfs"
	"github.com/govfsd/vfsd/wire"
)

// Request opcodes on the daemon's client protocol.
const (
	ReqMount           = 1
	ReqGetInfo         = 2
	ReqEnumerate       = 3
	ReqOpenForRead     = 4
	ReqRead            = 5
	ReqSeek            = 6
	ReqClose           = 7
	ReqOpenForWrite    = 8
	ReqWrite           = 9
	ReqMove            = 10
	ReqDelete          = 11
	ReqRename          = 12
	ReqMkdir           = 13
	ReqQueryAttributes = 14
	ReqCancel          = 15
)

// Reply status bytes.
const (
	ReplyOK  = 0
	ReplyErr = 1
)

// Out-of-band message types pushed to a connection that requested an
// enumeration.
const (
	MsgGotInfo = 0x40
	MsgDone    = 0x41
)

// errorDomain tags every error triple written onto the wire.
const errorDomain = "vfsd"

// Daemon ties the listener, the dispatch queue, the mount registry and
// the set of live backends together.
type Daemon struct {
	cfg      Config
	queue    *job.Queue
	registry *mount.Registry

	mu       sync.Mutex
	backends map[string]job.CapableBackend
	listener net.Listener
	closed   bool
}

// New builds a Daemon from cfg. The dispatch queue's replies go to
// whichever connection originated each request.
func New(cfg Config) (*Daemon, error) {
	registry, err := mount.NewRegistry(cfg.MountCacheSize)
	if err != nil {
		return nil, err
	}
	d := &Daemon{
		cfg:      cfg,
		registry: registry,
		backends: make(map[string]job.CapableBackend),
	}
	d.queue = job.NewQueue(cfg.Workers, replyRouter{})
	return d, nil
}

// replyRouter hands each finished job's reply to the connection stored
// in its request envelope.
type replyRouter struct{}

func (replyRouter) WriteReply(request any, outcome job.Outcome, output any, err error) {
	env, ok := request.(*Envelope)
	if !ok {
		flog.Errorf(nil, "daemon: reply for request without envelope: %T", request)
		return
	}
	env.conn.writeReply(env, outcome, output, err)
}

// Envelope is the opaque request context threaded through a job: the
// originating connection and the client's correlation id, echoed back
// verbatim in the reply.
type Envelope struct {
	conn *serverConn
	Corr uuid.UUID
}

// serverConn is one client connection. Replies and out-of-band
// messages are serialized by writeMu, keeping per-connection FIFO
// delivery.
type serverConn struct {
	d  *Daemon
	c  net.Conn
	br io.Reader

	writeMu sync.Mutex

	jobMu sync.Mutex
	jobs  map[uuid.UUID]int64
}

// ListenAndServe binds the configured unix socket and serves until
// Close. A stale socket file from a previous run is removed first.
func (d *Daemon) ListenAndServe() error {
	if err := os.MkdirAll(filepath.Dir(d.cfg.Listen), 0o755); err != nil {
		return vfs.New(vfs.KindIO, "daemon: cannot create socket directory", err)
	}
	_ = os.Remove(d.cfg.Listen)
	l, err := net.Listen("unix", d.cfg.Listen)
	if err != nil {
		return vfs.New(vfs.KindIO, "daemon: cannot listen on "+d.cfg.Listen, err)
	}
	return d.Serve(l)
}

// Serve accepts connections from l until Close.
func (d *Daemon) Serve(l net.Listener) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		l.Close()
		return vfs.Errorf(vfs.KindFailed, "daemon: already closed")
	}
	d.listener = l
	d.mu.Unlock()

	flog.Infof(nil, "daemon: serving on %s", l.Addr())
	for {
		c, err := l.Accept()
		if err != nil {
			d.mu.Lock()
			closed := d.closed
			d.mu.Unlock()
			if closed {
				return nil
			}
			return vfs.New(vfs.KindIO, "daemon: accept failed", err)
		}
		sc := &serverConn{d: d, c: c, br: c, jobs: make(map[uuid.UUID]int64)}
		go sc.serve()
	}
}

// Close stops the listener and tears down every live backend.
func (d *Daemon) Close() {
	d.mu.Lock()
	d.closed = true
	l := d.listener
	backends := make([]job.CapableBackend, 0, len(d.backends))
	for _, b := range d.backends {
		backends = append(backends, b)
	}
	d.backends = make(map[string]job.CapableBackend)
	d.mu.Unlock()

	if l != nil {
		l.Close()
	}
	for _, b := range backends {
		if closer, ok := b.(interface{ JobSourceClosed() }); ok {
			closer.JobSourceClosed()
		}
	}
}

func (d *Daemon) storeBackend(fingerprint string, b job.CapableBackend) {
	d.mu.Lock()
	d.backends[fingerprint] = b
	d.mu.Unlock()
}

func (d *Daemon) lookupBackend(fingerprint string) (job.CapableBackend, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.backends[fingerprint]
	if !ok {
		return nil, vfs.Errorf(vfs.KindNotFound, "daemon: no mounted backend for %q", fingerprint)
	}
	return b, nil
}

// dropBackend unregisters a backend after a fatal failure or
// registration error.
func (d *Daemon) dropBackend(fingerprint string) {
	d.mu.Lock()
	delete(d.backends, fingerprint)
	d.mu.Unlock()
}

func (sc *serverConn) serve() {
	defer sc.c.Close()
	for {
		r, err := wire.ReadFrame(sc.br)
		if err != nil {
			if err != io.EOF {
				flog.Debugf(nil, "daemon: connection read failed: %v", err)
			}
			return
		}
		sc.dispatch(r)
	}
}

// dispatch decodes one request frame and submits the matching job. A
// malformed frame gets an immediate error reply, except one without a
// valid correlation id, which cannot be addressed and is dropped; the
// connection keeps serving, since framing (not content) is what
// delimits requests.
func (sc *serverConn) dispatch(r *wire.Reader) {
	corrBytes, err := r.Bytes()
	if err != nil {
		flog.Debugf(nil, "daemon: request without correlation id: %v", err)
		return
	}
	corr, err := uuid.FromBytes(corrBytes)
	if err != nil {
		flog.Debugf(nil, "daemon: bad correlation id: %v", err)
		return
	}
	env := &Envelope{conn: sc, Corr: corr}

	op, err := r.Uint8()
	if err != nil {
		sc.writeReply(env, job.Failed, nil, vfs.New(vfs.KindMalformed, "request without opcode", err))
		return
	}

	j, err := sc.buildJob(env, op, r)
	if err != nil {
		sc.writeReply(env, job.Failed, nil, err)
		return
	}
	if j == nil { // ReqCancel replies inline
		return
	}

	id := sc.d.queue.Submit(j)
	sc.trackJob(corr, id)
}

// buildJob constructs the job variant for op. A nil, nil return means
// the request was handled inline.
func (sc *serverConn) buildJob(env *Envelope, op uint8, r *wire.Reader) (job.Job, error) {
	if op == ReqMount {
		return sc.buildMountJob(env, r)
	}
	if op == ReqCancel {
		targetBytes, err := r.Bytes()
		if err != nil {
			return nil, vfs.New(vfs.KindMalformed, "cancel without target id", err)
		}
		target, err := uuid.FromBytes(targetBytes)
		if err != nil {
			return nil, vfs.New(vfs.KindMalformed, "cancel with bad target id", err)
		}
		sc.cancelJob(env, target)
		return nil, nil
	}

	fingerprint, err := r.String()
	if err != nil {
		return nil, vfs.New(vfs.KindMalformed, "request without mount fingerprint", err)
	}
	b, err := sc.d.lookupBackend(fingerprint)
	if err != nil {
		return nil, err
	}

	switch op {
	case ReqGetInfo:
		path, err := r.String()
		if err != nil {
			return nil, malformed("get_info", err)
		}
		return job.NewGetInfoJob(b, env, path, nil), nil
	case ReqEnumerate:
		path, err := r.String()
		if err != nil {
			return nil, malformed("enumerate", err)
		}
		ej := job.NewEnumerateJob(b, env, path, nil, 0)
		go sc.streamEnumeration(ej, b)
		return ej, nil
	case ReqOpenForRead:
		path, err := r.String()
		if err != nil {
			return nil, malformed("open_for_read", err)
		}
		return job.NewOpenForReadJob(b, env, path), nil
	case ReqRead:
		handle, err := r.String()
		if err != nil {
			return nil, malformed("read", err)
		}
		count, err := r.Uint32()
		if err != nil {
			return nil, malformed("read", err)
		}
		return job.NewReadJob(b, env, handle, int(count)), nil
	case ReqSeek:
		handle, err := r.String()
		if err != nil {
			return nil, malformed("seek", err)
		}
		offset, err := r.Uint64()
		if err != nil {
			return nil, malformed("seek", err)
		}
		whence, err := r.Uint8()
		if err != nil {
			return nil, malformed("seek", err)
		}
		return job.NewSeekJob(b, env, handle, int64(offset), job.Whence(whence)), nil
	case ReqClose:
		handle, err := r.String()
		if err != nil {
			return nil, malformed("close", err)
		}
		return job.NewCloseJob(b, env, handle), nil
	case ReqOpenForWrite:
		path, err := r.String()
		if err != nil {
			return nil, malformed("open_for_write", err)
		}
		create, err := r.Uint8()
		if err != nil {
			return nil, malformed("open_for_write", err)
		}
		appendTo, err := r.Uint8()
		if err != nil {
			return nil, malformed("open_for_write", err)
		}
		return job.NewOpenForWriteJob(b, env, path, create != 0, appendTo != 0), nil
	case ReqWrite:
		handle, err := r.String()
		if err != nil {
			return nil, malformed("write", err)
		}
		data, err := r.Bytes()
		if err != nil {
			return nil, malformed("write", err)
		}
		return job.NewWriteJob(b, env, handle, append([]byte(nil), data...)), nil
	case ReqMove:
		src, err := r.String()
		if err != nil {
			return nil, malformed("move", err)
		}
		dst, err := r.String()
		if err != nil {
			return nil, malformed("move", err)
		}
		overwrite, err := r.Uint8()
		if err != nil {
			return nil, malformed("move", err)
		}
		return job.NewMoveJob(b, env, src, dst, overwrite != 0), nil
	case ReqDelete:
		path, err := r.String()
		if err != nil {
			return nil, malformed("delete", err)
		}
		return job.NewDeleteJob(b, env, path), nil
	case ReqRename:
		path, err := r.String()
		if err != nil {
			return nil, malformed("rename", err)
		}
		newName, err := r.String()
		if err != nil {
			return nil, malformed("rename", err)
		}
		return job.NewRenameJob(b, env, path, newName), nil
	case ReqMkdir:
		path, err := r.String()
		if err != nil {
			return nil, malformed("mkdir", err)
		}
		return job.NewMkdirJob(b, env, path), nil
	case ReqQueryAttributes:
		return job.NewQueryAttributesJob(b, env), nil
	default:
		return nil, vfs.Errorf(vfs.KindNotSupported, "unknown request opcode %d", op)
	}
}

func malformed(op string, err error) error {
	return vfs.New(vfs.KindMalformed, "truncated "+op+" request", err)
}

// buildMountJob decodes a mount request, constructs the backend for
// its spec and wires the registry publish/teardown pair.
func (sc *serverConn) buildMountJob(env *Envelope, r *wire.Reader) (job.Job, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, malformed("mount", err)
	}
	entries := make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		k, err := r.String()
		if err != nil {
			return nil, malformed("mount", err)
		}
		v, err := r.String()
		if err != nil {
			return nil, malformed("mount", err)
		}
		entries[k] = v
	}
	spec := vfs.NewMountSpec(entries)

	b, err := backend.New(spec)
	if err != nil {
		return nil, err
	}

	fingerprint := spec.Fingerprint()
	publish := func(ref *vfs.MountRef) error {
		sc.d.storeBackend(fingerprint, b)
		return nil
	}
	teardown := func() {
		sc.d.dropBackend(fingerprint)
		if closer, ok := b.(interface{ JobSourceClosed() }); ok {
			closer.JobSourceClosed()
		}
	}
	return job.NewMountJob(b, env, spec, "", false, sc.d.registry, publish, teardown), nil
}

func (sc *serverConn) trackJob(corr uuid.UUID, id int64) {
	sc.jobMu.Lock()
	sc.jobs[corr] = id
	sc.jobMu.Unlock()

	// The reply may have raced ahead of tracking (fast-path jobs reply
	// inside Submit); drop the entry it could not see.
	if j := sc.d.queue.Get(id); j == nil || j.JobBase().ReplySent() {
		sc.jobMu.Lock()
		delete(sc.jobs, corr)
		sc.jobMu.Unlock()
		sc.d.queue.Forget(id)
	}
}

// cancelJob trips the token of the in-flight job the client submitted
// under target, then acknowledges the cancel request itself.
func (sc *serverConn) cancelJob(env *Envelope, target uuid.UUID) {
	sc.jobMu.Lock()
	id, ok := sc.jobs[target]
	sc.jobMu.Unlock()
	if !ok || !sc.d.queue.Cancel(id) {
		sc.writeReply(env, job.Failed, nil, vfs.Errorf(vfs.KindNotFound, "no in-flight job for given id"))
		return
	}
	sc.writeReply(env, job.Succeeded, nil, nil)
}

// writeReply frames (correlation id, status, payload-or-error) and
// writes it. Replies share writeMu with out-of-band messages so each
// connection sees frames whole and in send order.
func (sc *serverConn) writeReply(env *Envelope, outcome job.Outcome, output any, err error) {
	w := wire.NewWriter().PutBytes(env.Corr[:])
	if outcome == job.Succeeded {
		w.PutUint8(ReplyOK)
		if payload, ok := output.([]byte); ok && len(payload) > 0 {
			w.PutBytes(payload)
		} else {
			w.PutBytes(nil)
		}
	} else {
		if err == nil {
			err = vfs.Errorf(vfs.KindFailed, "job failed without error detail")
		}
		w.PutUint8(ReplyErr)
		w.PutString(errorDomain)
		w.PutUint32(uint32(vfs.KindOf(err)))
		w.PutString(err.Error())
	}

	sc.jobMu.Lock()
	if id, ok := sc.jobs[env.Corr]; ok {
		sc.d.queue.Forget(id)
		delete(sc.jobs, env.Corr)
	}
	sc.jobMu.Unlock()

	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	if _, werr := sc.c.Write(w.Bytes()); werr != nil {
		flog.Debugf(nil, "daemon: reply write failed: %v", werr)
	}
}

// streamEnumeration waits for ej to resolve and, on success, pumps the
// session's entries to the client as MsgGotInfo frames followed by one
// MsgDone.
func (sc *serverConn) streamEnumeration(ej *job.EnumerateJob, b job.CapableBackend) {
	<-ej.DoneChan()
	outcome, output, _ := ej.Result()
	if outcome != job.Succeeded {
		return
	}
	objectPath := output.(job.EnumerateResult).ObjectPath

	holder, ok := b.(interface {
		EnumeratorSessions() *enumerator.SessionRegistry
	})
	if !ok {
		flog.Errorf(nil, "daemon: backend %s has no enumerator sessions", b.Name())
		return
	}
	session, ok := holder.EnumeratorSessions().Lookup(objectPath)
	if !ok {
		flog.Errorf(nil, "daemon: enumerator session %s not found", objectPath)
		return
	}

	for {
		fi, more, err := session.Pull()
		if !more {
			w := wire.NewWriter().PutBytes(nil).PutUint8(MsgDone).PutString(objectPath)
			if err != nil {
				w.PutUint8(1).PutString(err.Error())
			} else {
				w.PutUint8(0)
			}
			sc.writeMsg(w)
			holder.EnumeratorSessions().Remove(objectPath)
			return
		}
		if fi == nil {
			continue
		}
		w := wire.NewWriter().PutBytes(nil).PutUint8(MsgGotInfo).PutString(objectPath)
		w.PutUint32(1)
		w.PutFileInfo(fi)
		sc.writeMsg(w)
	}
}

func (sc *serverConn) writeMsg(w *wire.Writer) {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	if _, err := sc.c.Write(w.Bytes()); err != nil {
		flog.Debugf(nil, "daemon: message write failed: %v", err)
	}
}
