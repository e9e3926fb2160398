package sftp

import (
	"bufio"
	"io"
	"sync"
	"sync/atomic"
	"time"

	vfs "github.com/govfsd/vfsd/fs"
	"github.com/govfsd/vfsd/internal/flog"
	"github.com/govfsd/vfsd/wire"
)

const sftpProtocolVersion = 3

// closeDrainDeadline bounds how long close waits for in-flight replies
// before killing the child.
const closeDrainDeadline = time.Second

// transport owns the framed request/response stream to the ssh child:
// a single writer serializing frames onto stdin, and a single reader
// goroutine demultiplexing replies by request id onto per-request
// completion slots. Replies may arrive in any order; callers see
// causal completion.
type transport struct {
	stdin  io.Writer
	stdout *bufio.Reader
	closer func()

	writeMu sync.Mutex
	nextID  atomic.Uint32

	pendingMu sync.Mutex
	pending   map[uint32]chan *sftpReply
	dead      error

	readerDone chan struct{}
	closeOnce  sync.Once
}

// newTransport drives the full connection sequence: vendor probe,
// subprocess spawn, interactive login, INIT/VERSION handshake. On any
// failure the child (if spawned) is reaped and all fds closed.
func newTransport(host, user string, cred CredentialSource, cancelled func() bool) (*transport, error) {
	vendor, err := probeVendor(runSSHVersion)
	if err != nil {
		return nil, err
	}

	sp, err := spawnProcess(vendor, user, host)
	if err != nil {
		return nil, err
	}

	stdout := bufio.NewReader(sp.stdout)

	// INIT goes out before the login dialog: ssh buffers it until the
	// channel to the remote sftp subsystem opens, and its VERSION reply
	// becoming readable on stdout is what signals login completed.
	initFrame := wire.NewWriter().PutUint8(sshFxpInit).PutUint32(sftpProtocolVersion)
	if _, err := sp.stdin.Write(initFrame.Bytes()); err != nil {
		sp.kill()
		return nil, vfs.New(vfs.KindIO, "sftp: failed to send INIT", err)
	}

	promptReader, promptWriter := sp.loginIO()
	if err := runLogin(stdout, promptReader, promptWriter, cred, cancelled); err != nil {
		sp.kill()
		return nil, err
	}

	if err := readVersion(stdout); err != nil {
		sp.kill()
		return nil, err
	}

	t := &transport{
		stdin:      sp.stdin,
		stdout:     stdout,
		closer:     sp.kill,
		pending:    make(map[uint32]chan *sftpReply),
		readerDone: make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

// newTestTransport wires a transport over arbitrary streams, skipping
// spawn, login and handshake. Used by tests standing in a fake server.
func newTestTransport(stdin io.Writer, stdout io.Reader, closer func()) *transport {
	t := &transport{
		stdin:      stdin,
		stdout:     bufio.NewReader(stdout),
		closer:     closer,
		pending:    make(map[uint32]chan *sftpReply),
		readerDone: make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// readVersion consumes the VERSION reply to INIT.
func readVersion(stdout *bufio.Reader) error {
	r, err := wire.ReadFrame(stdout)
	if err != nil {
		return vfs.New(vfs.KindIO, "sftp: unexpected EOF before VERSION reply", err)
	}
	typ, err := r.Uint8()
	if err != nil {
		return vfs.New(vfs.KindMalformed, "sftp: empty packet where VERSION expected", err)
	}
	if typ != sshFxpVersion {
		return vfs.Errorf(vfs.KindMalformed, "sftp: expected VERSION packet, got type %d", typ)
	}
	version, err := r.Uint32()
	if err != nil {
		return vfs.New(vfs.KindMalformed, "sftp: truncated VERSION packet", err)
	}
	if version < sftpProtocolVersion {
		return vfs.Errorf(vfs.KindNotSupported, "sftp: server speaks protocol version %d, need %d", version, sftpProtocolVersion)
	}
	return nil
}

// readLoop is the reader goroutine: it reads framed replies off stdout
// and hands each to the completion slot registered under its request
// id. Replies whose slot has been dropped (request cancelled) are read
// through and discarded. On any transport error every pending request
// fails with IO and the transport goes dead.
func (t *transport) readLoop() {
	defer close(t.readerDone)
	for {
		r, err := wire.ReadFrame(t.stdout)
		if err != nil {
			t.fail(vfs.New(vfs.KindIO, "sftp: transport read failed", err))
			return
		}
		typ, err := r.Uint8()
		if err != nil {
			t.fail(vfs.New(vfs.KindIO, "sftp: empty reply packet", err))
			return
		}
		id, err := r.Uint32()
		if err != nil {
			t.fail(vfs.New(vfs.KindIO, "sftp: reply packet without request id", err))
			return
		}

		t.pendingMu.Lock()
		slot, ok := t.pending[id]
		delete(t.pending, id)
		t.pendingMu.Unlock()
		if !ok {
			flog.Debugf(nil, "sftp: discarding reply for cancelled request %d", id)
			continue
		}
		slot <- &sftpReply{typ: typ, r: r}
	}
}

// fail marks the transport dead and completes every pending slot with
// err.
func (t *transport) fail(err error) {
	t.pendingMu.Lock()
	if t.dead == nil {
		t.dead = err
	}
	pending := t.pending
	t.pending = make(map[uint32]chan *sftpReply)
	t.pendingMu.Unlock()
	for _, slot := range pending {
		close(slot)
	}
}

// deadErr returns the error that killed the transport, if any.
func (t *transport) deadErr() error {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	return t.dead
}

// roundTrip allocates a fresh request id, frames op plus the fields
// build appends, writes the frame, and blocks until the matching reply
// arrives, the transport dies, or cancel trips. A cancelled request's
// slot is dropped so its eventual reply is read through and discarded.
func (t *transport) roundTrip(op uint8, build func(*wire.Writer), cancel <-chan struct{}) (*sftpReply, error) {
	if err := t.deadErr(); err != nil {
		return nil, err
	}

	id := t.nextID.Add(1)
	slot := make(chan *sftpReply, 1)

	t.pendingMu.Lock()
	if t.dead != nil {
		err := t.dead
		t.pendingMu.Unlock()
		return nil, err
	}
	t.pending[id] = slot
	t.pendingMu.Unlock()

	w := wire.NewWriter().PutUint8(op).PutUint32(id)
	if build != nil {
		build(w)
	}

	t.writeMu.Lock()
	_, werr := t.stdin.Write(w.Bytes())
	t.writeMu.Unlock()
	if werr != nil {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
		return nil, vfs.New(vfs.KindIO, "sftp: transport write failed", werr)
	}

	select {
	case reply, ok := <-slot:
		if !ok {
			return nil, t.deadErr()
		}
		return reply, nil
	case <-cancel:
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
		return nil, vfs.Cancelled
	}
}

// close drains in-flight replies up to a short deadline, then reaps the
// child and fails anything still pending.
func (t *transport) close() {
	t.closeOnce.Do(func() {
		deadline := time.Now().Add(closeDrainDeadline)
		for time.Now().Before(deadline) {
			t.pendingMu.Lock()
			n := len(t.pending)
			t.pendingMu.Unlock()
			if n == 0 {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		if t.closer != nil {
			t.closer()
		}
		t.fail(vfs.New(vfs.KindIO, "sftp: transport closed", nil))
		select {
		case <-t.readerDone:
		case <-time.After(closeDrainDeadline):
		}
	})
}

// stringLock hands out one mutex per key, serializing operations that
// must not race on the same remote path (concurrent MKDIRs of the same
// directory would otherwise turn one caller's EXISTS into FAILURE on
// some servers).
type stringLock struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newStringLock() *stringLock {
	return &stringLock{locks: make(map[string]*lockEntry)}
}

func (s *stringLock) lock(key string) {
	s.mu.Lock()
	e, ok := s.locks[key]
	if !ok {
		e = &lockEntry{}
		s.locks[key] = e
	}
	e.refs++
	s.mu.Unlock()
	e.mu.Lock()
}

func (s *stringLock) unlock(key string) {
	s.mu.Lock()
	e := s.locks[key]
	e.refs--
	if e.refs == 0 {
		delete(s.locks, key)
	}
	s.mu.Unlock()
	e.mu.Unlock()
}
