package sftp

import (
	"path"
	"strconv"
	"sync/atomic"

	vfs "github.com/govfsd/vfsd/fs"
	"github.com/govfsd/vfsd/fs/job"
	"github.com/govfsd/vfsd/internal/flog"
	enumerator "github.com/govfsd/vfsd/vfs"
	"github.com/govfsd/vfsd/wire"
)

// readChunk is how many bytes a single SSH_FXP_READ asks for at most;
// servers are free to return less.
const readChunk = 32 * 1024

// ready returns the live transport, or an IO error when the backend is
// not in its READY state (never mounted, or already torn down).
func (b *Backend) ready() (*transport, error) {
	if connState(b.state.Load()) != stateReady || b.transport == nil {
		return nil, vfs.Errorf(vfs.KindIO, "sftp: backend %s is not connected", b.Name())
	}
	return b.transport, nil
}

// expectStatus interprets reply as an SSH_FXP_STATUS and returns its
// mapped error (nil on SSH_FX_OK).
func expectStatus(reply *sftpReply) error {
	if reply.typ != sshFxpStatus {
		return vfs.Errorf(vfs.KindMalformed, "sftp: expected STATUS packet, got type %d", reply.typ)
	}
	return statusError(reply.r)
}

// expectHandle interprets reply as an SSH_FXP_HANDLE, or decodes the
// STATUS error a server sends instead on failure.
func expectHandle(reply *sftpReply) (string, error) {
	switch reply.typ {
	case sshFxpHandle:
		h, err := reply.r.String()
		if err != nil {
			return "", vfs.New(vfs.KindMalformed, "sftp: truncated HANDLE packet", err)
		}
		return h, nil
	case sshFxpStatus:
		if err := statusError(reply.r); err != nil {
			return "", err
		}
		return "", vfs.Errorf(vfs.KindMalformed, "sftp: STATUS OK where HANDLE expected")
	default:
		return "", vfs.Errorf(vfs.KindMalformed, "sftp: expected HANDLE packet, got type %d", reply.typ)
	}
}

// expectAttrs interprets reply as an SSH_FXP_ATTRS for name.
func expectAttrs(name string, reply *sftpReply) (*vfs.FileInfo, error) {
	switch reply.typ {
	case sshFxpAttrs:
		return decodeAttrs(name, reply.r)
	case sshFxpStatus:
		if err := statusError(reply.r); err != nil {
			return nil, err
		}
		return nil, vfs.Errorf(vfs.KindMalformed, "sftp: STATUS OK where ATTRS expected")
	default:
		return nil, vfs.Errorf(vfs.KindMalformed, "sftp: expected ATTRS packet, got type %d", reply.typ)
	}
}

func (b *Backend) putHandle(h *remoteHandle) string {
	key := "sftp-h" + strconv.FormatInt(int64(nextHandleID.Add(1)), 10)
	b.mu.Lock()
	b.handles[key] = h
	b.mu.Unlock()
	return key
}

var nextHandleID atomic.Int64

func (b *Backend) getHandle(key string) (*remoteHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.handles[key]
	if !ok {
		return nil, vfs.Errorf(vfs.KindInvalidArgument, "sftp: unknown handle %q", key)
	}
	return h, nil
}

func (b *Backend) dropHandle(key string) {
	b.mu.Lock()
	delete(b.handles, key)
	b.mu.Unlock()
}

func (b *Backend) doGetInfo(j job.Job) {
	gj := j.(*job.GetInfoJob)
	t, err := b.ready()
	if err != nil {
		gj.FailedWith(err)
		return
	}
	reply, err := t.roundTrip(sshFxpLstat, func(w *wire.Writer) {
		w.PutString(gj.Path)
	}, gj.CancelChan())
	if err != nil {
		gj.FailedWith(err)
		return
	}
	fi, err := expectAttrs(path.Base(gj.Path), reply)
	if err != nil {
		gj.FailedWith(err)
		return
	}
	gj.Succeeded(job.GetInfoResult{Info: fi})
}

func (b *Backend) doEnumerate(j job.Job) {
	ej := j.(*job.EnumerateJob)
	t, err := b.ready()
	if err != nil {
		ej.FailedWith(err)
		return
	}
	reply, err := t.roundTrip(sshFxpOpendir, func(w *wire.Writer) {
		w.PutString(ej.Path)
	}, ej.CancelChan())
	if err != nil {
		ej.FailedWith(err)
		return
	}
	dirHandle, err := expectHandle(reply)
	if err != nil {
		ej.FailedWith(err)
		return
	}

	session := enumerator.NewSession()
	b.Sessions.Register(session)
	ej.Succeeded(job.EnumerateResult{ObjectPath: session.ObjectPath})

	go b.pumpDir(ej, t, dirHandle, session)
}

// pumpDir issues READDIRs until EOF, posting each NAME packet's
// entries as one batch. The directory handle is closed on every exit
// path.
func (b *Backend) pumpDir(ej *job.EnumerateJob, t *transport, dirHandle string, session *enumerator.Session) {
	defer func() {
		if reply, err := t.roundTrip(sshFxpClose, func(w *wire.Writer) {
			w.PutString(dirHandle)
		}, nil); err == nil {
			_ = expectStatus(reply)
		}
	}()

	for {
		if ej.Cancelled() {
			session.Cancel()
			return
		}
		reply, err := t.roundTrip(sshFxpReaddir, func(w *wire.Writer) {
			w.PutString(dirHandle)
		}, ej.CancelChan())
		if err != nil {
			session.Done(err)
			return
		}
		switch reply.typ {
		case sshFxpName:
			batch, err := decodeNameBatch(reply.r)
			if err != nil {
				session.Done(err)
				return
			}
			if len(batch) > 0 {
				if err := session.PostBatch(batch); err != nil {
					return
				}
			}
		case sshFxpStatus:
			err := statusError(reply.r)
			if err == errEOF {
				session.Done(nil)
			} else {
				session.Done(err)
			}
			return
		default:
			session.Done(vfs.Errorf(vfs.KindMalformed, "sftp: expected NAME packet, got type %d", reply.typ))
			return
		}
	}
}

// decodeNameBatch parses one SSH_FXP_NAME payload: a count, then
// (filename, longname, attrs) per entry. "." and ".." are dropped.
func decodeNameBatch(r *wire.Reader) ([]*vfs.FileInfo, error) {
	count, err := r.Uint32()
	if err != nil {
		return nil, vfs.New(vfs.KindMalformed, "sftp: truncated NAME packet", err)
	}
	batch := make([]*vfs.FileInfo, 0, count)
	for i := uint32(0); i < count; i++ {
		name, err := r.String()
		if err != nil {
			return nil, err
		}
		if _, err := r.String(); err != nil { // longname, display only
			return nil, err
		}
		fi, err := decodeAttrs(name, r)
		if err != nil {
			return nil, err
		}
		if name == "." || name == ".." {
			continue
		}
		batch = append(batch, fi)
	}
	return batch, nil
}

func (b *Backend) doOpenForRead(j job.Job) {
	oj := j.(*job.OpenForReadJob)
	t, err := b.ready()
	if err != nil {
		oj.FailedWith(err)
		return
	}
	reply, err := t.roundTrip(sshFxpOpen, func(w *wire.Writer) {
		w.PutString(oj.Path).PutUint32(sshFxfRead).PutUint32(0)
	}, oj.CancelChan())
	if err != nil {
		oj.FailedWith(err)
		return
	}
	sftpHandle, err := expectHandle(reply)
	if err != nil {
		oj.FailedWith(err)
		return
	}
	key := b.putHandle(&remoteHandle{sftpHandle: sftpHandle, path: oj.Path, canSeek: true})
	oj.Succeeded(job.OpenResult{Handle: key, CanSeek: true})
}

func (b *Backend) doRead(j job.Job) {
	rj := j.(*job.ReadJob)
	t, err := b.ready()
	if err != nil {
		rj.FailedWith(err)
		return
	}
	h, err := b.getHandle(rj.Handle)
	if err != nil {
		rj.FailedWith(err)
		return
	}

	count := rj.Count
	if count > readChunk {
		count = readChunk
	}

	h.mu.Lock()
	offset := h.offset
	h.mu.Unlock()

	reply, err := t.roundTrip(sshFxpRead, func(w *wire.Writer) {
		w.PutString(h.sftpHandle).PutUint64(uint64(offset)).PutUint32(uint32(count))
	}, rj.CancelChan())
	if err != nil {
		rj.FailedWith(err)
		return
	}
	switch reply.typ {
	case sshFxpData:
		data, derr := reply.r.Bytes()
		if derr != nil {
			rj.FailedWith(vfs.New(vfs.KindMalformed, "sftp: truncated DATA packet", derr))
			return
		}
		h.mu.Lock()
		h.offset = offset + int64(len(data))
		h.mu.Unlock()
		rj.Succeeded(job.ReadResult{Data: append([]byte(nil), data...)})
	case sshFxpStatus:
		serr := statusError(reply.r)
		if serr == errEOF {
			rj.Succeeded(job.ReadResult{})
			return
		}
		if serr == nil {
			serr = vfs.Errorf(vfs.KindMalformed, "sftp: STATUS OK where DATA expected")
		}
		rj.FailedWith(serr)
	default:
		rj.FailedWith(vfs.Errorf(vfs.KindMalformed, "sftp: expected DATA packet, got type %d", reply.typ))
	}
}

func (b *Backend) doSeek(j job.Job) {
	sj := j.(*job.SeekJob)
	t, err := b.ready()
	if err != nil {
		sj.FailedWith(err)
		return
	}
	h, err := b.getHandle(sj.Handle)
	if err != nil {
		sj.FailedWith(err)
		return
	}
	if !h.canSeek {
		sj.FailedWith(vfs.Errorf(vfs.KindNotSupported, "sftp: handle %q is not seekable", sj.Handle))
		return
	}

	var target int64
	switch sj.Whence {
	case job.WhenceSet:
		target = sj.Offset
	case job.WhenceCur:
		h.mu.Lock()
		target = h.offset + sj.Offset
		h.mu.Unlock()
	case job.WhenceEnd:
		reply, rerr := t.roundTrip(sshFxpFstat, func(w *wire.Writer) {
			w.PutString(h.sftpHandle)
		}, sj.CancelChan())
		if rerr != nil {
			sj.FailedWith(rerr)
			return
		}
		fi, aerr := expectAttrs(path.Base(h.path), reply)
		if aerr != nil {
			sj.FailedWith(aerr)
			return
		}
		target = fi.Size() + sj.Offset
	}
	if target < 0 {
		sj.FailedWith(vfs.Errorf(vfs.KindInvalidArgument, "sftp: seek to negative offset %d", target))
		return
	}
	h.mu.Lock()
	h.offset = target
	h.mu.Unlock()
	sj.Succeeded(nil)
}

func (b *Backend) doClose(j job.Job) {
	cj := j.(*job.CloseJob)
	t, err := b.ready()
	if err != nil {
		cj.FailedWith(err)
		return
	}
	h, err := b.getHandle(cj.Handle)
	if err != nil {
		cj.FailedWith(err)
		return
	}
	b.dropHandle(cj.Handle)
	reply, err := t.roundTrip(sshFxpClose, func(w *wire.Writer) {
		w.PutString(h.sftpHandle)
	}, cj.CancelChan())
	if err != nil {
		cj.FailedWith(err)
		return
	}
	if serr := expectStatus(reply); serr != nil {
		cj.FailedWith(serr)
		return
	}
	cj.Succeeded(nil)
}

func (b *Backend) doOpenForWrite(j job.Job) {
	oj := j.(*job.OpenForWriteJob)
	t, err := b.ready()
	if err != nil {
		oj.FailedWith(err)
		return
	}

	pflags := uint32(sshFxfWrite)
	if oj.Create {
		pflags |= sshFxfCreat
	}
	var startOffset int64
	if oj.Append {
		pflags |= sshFxfAppend
		// Offset-addressed writes still need a position; start at the
		// current size so servers that ignore the append flag behave.
		if reply, serr := t.roundTrip(sshFxpLstat, func(w *wire.Writer) {
			w.PutString(oj.Path)
		}, oj.CancelChan()); serr == nil {
			if fi, aerr := expectAttrs(path.Base(oj.Path), reply); aerr == nil {
				startOffset = fi.Size()
			}
		}
	} else {
		pflags |= sshFxfTrunc
	}

	reply, err := t.roundTrip(sshFxpOpen, func(w *wire.Writer) {
		w.PutString(oj.Path).PutUint32(pflags).PutUint32(0)
	}, oj.CancelChan())
	if err != nil {
		oj.FailedWith(err)
		return
	}
	sftpHandle, err := expectHandle(reply)
	if err != nil {
		oj.FailedWith(err)
		return
	}
	key := b.putHandle(&remoteHandle{sftpHandle: sftpHandle, path: oj.Path, canSeek: !oj.Append, offset: startOffset})
	oj.Succeeded(job.OpenResult{Handle: key, CanSeek: !oj.Append})
}

func (b *Backend) doWrite(j job.Job) {
	wj := j.(*job.WriteJob)
	t, err := b.ready()
	if err != nil {
		wj.FailedWith(err)
		return
	}
	h, err := b.getHandle(wj.Handle)
	if err != nil {
		wj.FailedWith(err)
		return
	}

	h.mu.Lock()
	offset := h.offset
	h.mu.Unlock()

	reply, err := t.roundTrip(sshFxpWrite, func(w *wire.Writer) {
		w.PutString(h.sftpHandle).PutUint64(uint64(offset)).PutBytes(wj.Data)
	}, wj.CancelChan())
	if err != nil {
		wj.FailedWith(err)
		return
	}
	if serr := expectStatus(reply); serr != nil {
		wj.FailedWith(serr)
		return
	}
	h.mu.Lock()
	h.offset = offset + int64(len(wj.Data))
	h.mu.Unlock()
	wj.Succeeded(job.WriteResult{Written: int64(len(wj.Data))})
}

func (b *Backend) doMove(j job.Job) {
	mj := j.(*job.MoveJob)
	t, err := b.ready()
	if err != nil {
		mj.FailedWith(err)
		return
	}

	if !mj.Overwrite {
		if reply, serr := t.roundTrip(sshFxpLstat, func(w *wire.Writer) {
			w.PutString(mj.Dest)
		}, mj.CancelChan()); serr == nil {
			if _, aerr := expectAttrs(path.Base(mj.Dest), reply); aerr == nil {
				mj.FailedWith(vfs.Errorf(vfs.KindExists, "sftp: %q already exists", mj.Dest))
				return
			}
		}
	}

	reply, err := t.roundTrip(sshFxpRename, func(w *wire.Writer) {
		w.PutString(mj.Source).PutString(mj.Dest)
	}, mj.CancelChan())
	if err != nil {
		mj.FailedWith(err)
		return
	}
	if serr := expectStatus(reply); serr != nil {
		mj.FailedWith(serr)
		return
	}
	mj.Succeeded(nil)
}

func (b *Backend) doDelete(j job.Job) {
	dj := j.(*job.DeleteJob)
	t, err := b.ready()
	if err != nil {
		dj.FailedWith(err)
		return
	}

	// REMOVE only deletes files; directories take RMDIR. One LSTAT
	// decides which.
	reply, err := t.roundTrip(sshFxpLstat, func(w *wire.Writer) {
		w.PutString(dj.Path)
	}, dj.CancelChan())
	if err != nil {
		dj.FailedWith(err)
		return
	}
	fi, err := expectAttrs(path.Base(dj.Path), reply)
	if err != nil {
		dj.FailedWith(err)
		return
	}
	op := uint8(sshFxpRemove)
	if typ, ok := fi.Get(vfs.AttrStandardType); ok && vfs.FileType(typ.Int) == vfs.FileTypeDirectory {
		op = sshFxpRmdir
	}

	reply, err = t.roundTrip(op, func(w *wire.Writer) {
		w.PutString(dj.Path)
	}, dj.CancelChan())
	if err != nil {
		dj.FailedWith(err)
		return
	}
	if serr := expectStatus(reply); serr != nil {
		dj.FailedWith(serr)
		return
	}
	dj.Succeeded(nil)
}

func (b *Backend) doRename(j job.Job) {
	rj := j.(*job.RenameJob)
	t, err := b.ready()
	if err != nil {
		rj.FailedWith(err)
		return
	}
	newPath := path.Join(path.Dir(rj.Path), rj.NewName)
	reply, err := t.roundTrip(sshFxpRename, func(w *wire.Writer) {
		w.PutString(rj.Path).PutString(newPath)
	}, rj.CancelChan())
	if err != nil {
		rj.FailedWith(err)
		return
	}
	if serr := expectStatus(reply); serr != nil {
		rj.FailedWith(serr)
		return
	}
	flog.Debugf(b, "renamed %s to %s", rj.Path, newPath)
	rj.Succeeded(job.RenameResult{NewPath: newPath})
}

func (b *Backend) doMkdir(j job.Job) {
	mj := j.(*job.MkdirJob)
	t, err := b.ready()
	if err != nil {
		mj.FailedWith(err)
		return
	}
	b.mkdirLock.lock(mj.Path)
	defer b.mkdirLock.unlock(mj.Path)

	reply, err := t.roundTrip(sshFxpMkdir, func(w *wire.Writer) {
		w.PutString(mj.Path).PutUint32(0)
	}, mj.CancelChan())
	if err != nil {
		mj.FailedWith(err)
		return
	}
	if serr := expectStatus(reply); serr != nil {
		mj.FailedWith(serr)
		return
	}
	mj.Succeeded(nil)
}
