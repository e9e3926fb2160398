// Package local implements the broker's reference backend: it maps
// every job operation directly onto OS file primitives, retrying
// EINTR and mapping errno into the unified error taxonomy.
package local

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/govfsd/vfsd/backend"
	vfs "github.com/govfsd/vfsd/fs"
	"github.com/govfsd/vfsd/fs/job"
	"github.com/govfsd/vfsd/internal/flog"
	enumerator "github.com/govfsd/vfsd/vfs"
)

func init() {
	backend.Register("local", New)
}

// Backend is the local filesystem backend. Root confines every
// operation to a directory subtree, the way a mount spec's "path" key
// is interpreted for type=local.
type Backend struct {
	Root     string
	Sessions *enumerator.SessionRegistry

	caps *job.Capabilities

	mu      sync.Mutex
	handles map[string]*handle
	nextID  atomic.Int64
}

type handle struct {
	f    *os.File
	path string
}

// New constructs the local backend from a MountSpec. Only "path" is
// required; it must already exist and be a directory.
func New(spec *vfs.MountSpec) (job.CapableBackend, error) {
	root, err := spec.Require("path")
	if err != nil {
		return nil, err
	}
	root = filepath.Clean(root)
	info, statErr := os.Stat(root)
	if statErr != nil {
		return nil, mapErrno(statErr)
	}
	if !info.IsDir() {
		return nil, vfs.Errorf(vfs.KindNotDirectory, "local: mount root %q is not a directory", root)
	}

	b := &Backend{Root: root, Sessions: enumerator.NewSessionRegistry(), handles: make(map[string]*handle)}
	b.caps = job.NewCapabilities()
	b.registerCapabilities()
	return b, nil
}

// Name implements job.Backend.
func (b *Backend) Name() string { return "local:" + b.Root }

// LogString implements flog.Describable.
func (b *Backend) LogString() string { return b.Name() }

// Capabilities implements job.CapableBackend.
func (b *Backend) Capabilities() *job.Capabilities { return b.caps }

// EnumeratorSessions exposes the backend's live enumerator sessions
// to the bus adapter that streams them to clients.
func (b *Backend) EnumeratorSessions() *enumerator.SessionRegistry { return b.Sessions }

func (b *Backend) registerCapabilities() {
	// Mount is a no-op for local: the directory was already validated
	// in New. It's a fast path because nothing blocks.
	b.caps.Register(job.OpMount, func(j job.Job) bool {
		mj := j.(*job.MountJob)
		ref := vfs.NewMountRef("local", "/vfs/local/"+b.Root, mj.Spec, "", func() {})
		mj.Succeeded(ref)
		return true
	}, nil)

	// Attribute queries and handle release are single cheap syscalls,
	// so they resolve on the dispatch thread; bulk transfer stays on
	// the worker pool.
	b.caps.Register(job.OpGetInfo, b.tryGetInfo, b.doGetInfo)
	b.caps.Register(job.OpEnumerate, nil, b.doEnumerate)
	b.caps.Register(job.OpOpenForRead, nil, b.doOpenForRead)
	b.caps.Register(job.OpRead, nil, b.doRead)
	b.caps.Register(job.OpSeek, nil, b.doSeek)
	b.caps.Register(job.OpClose, b.tryClose, b.doClose)
	b.caps.Register(job.OpOpenForWrite, nil, b.doOpenForWrite)
	b.caps.Register(job.OpWrite, nil, b.doWrite)
	b.caps.Register(job.OpMove, nil, b.doMove)
	b.caps.Register(job.OpDelete, nil, b.doDelete)
	b.caps.Register(job.OpRename, nil, b.doRename)
	b.caps.Register(job.OpMkdir, nil, b.doMkdir)
}

// resolve joins a client-supplied path onto Root. The path is cleaned
// as if absolute first, so ".." components cannot climb above Root and
// an escape attempt resolves to a path inside the mount root.
func (b *Backend) resolve(p string) (string, error) {
	full := filepath.Join(b.Root, filepath.Clean("/"+p))
	if full != b.Root && !pathHasPrefix(full, b.Root) {
		return "", vfs.Errorf(vfs.KindInvalidArgument, "local: path %q escapes mount root", p)
	}
	return full, nil
}

func pathHasPrefix(full, root string) bool {
	return len(full) > len(root) && full[len(root)] == filepath.Separator && full[:len(root)] == root
}

func (b *Backend) putHandle(h *handle) string {
	id := b.nextID.Add(1)
	key := "h" + strconv.FormatInt(id, 10)
	b.mu.Lock()
	b.handles[key] = h
	b.mu.Unlock()
	return key
}

func (b *Backend) getHandle(key string) (*handle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.handles[key]
	return h, ok
}

func (b *Backend) dropHandle(key string) {
	b.mu.Lock()
	delete(b.handles, key)
	b.mu.Unlock()
}

// mapErrno maps an os/syscall error onto the unified taxonomy,
// the way glocalfileinputstream.c's g_io_error_from_errno does.
func mapErrno(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case os.IsNotExist(err):
		return vfs.New(vfs.KindNotFound, "local: not found", err)
	case os.IsExist(err):
		return vfs.New(vfs.KindExists, "local: already exists", err)
	case os.IsPermission(err):
		return vfs.New(vfs.KindPermissionDenied, "local: permission denied", err)
	}
	switch {
	case errors.Is(err, unix.ESPIPE):
		return vfs.New(vfs.KindInvalidArgument, "local: illegal seek", err)
	case errors.Is(err, unix.EISDIR):
		return vfs.New(vfs.KindIsDirectory, "local: is a directory", err)
	case errors.Is(err, unix.ENOTDIR):
		return vfs.New(vfs.KindNotDirectory, "local: not a directory", err)
	case errors.Is(err, unix.ENOSPC):
		return vfs.New(vfs.KindNoSpace, "local: no space left on device", err)
	}
	return vfs.New(vfs.KindIO, "local: I/O error", err)
}

// retryEINTR runs fn, retrying as long as it reports EINTR, mirroring
// glocalfileinputstream.c's read loop.
func retryEINTR(fn func() (int, error)) (int, error) {
	for {
		n, err := fn()
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return n, err
	}
}

func (b *Backend) tryGetInfo(j job.Job) bool {
	b.doGetInfo(j)
	return true
}

func (b *Backend) tryClose(j job.Job) bool {
	b.doClose(j)
	return true
}

func (b *Backend) doGetInfo(j job.Job) {
	gj := j.(*job.GetInfoJob)
	full, err := b.resolve(gj.Path)
	if err != nil {
		gj.FailedWith(err)
		return
	}
	info, statErr := os.Lstat(full)
	if statErr != nil {
		gj.FailedWith(mapErrno(statErr))
		return
	}
	gj.Succeeded(job.GetInfoResult{Info: fileInfoFrom(filepath.Base(full), info)})
}

func fileInfoFrom(name string, info os.FileInfo) *vfs.FileInfo {
	fi := vfs.NewFileInfo().
		SetString(vfs.AttrStandardName, name).
		SetInt64(vfs.AttrStandardSize, info.Size()).
		SetTime(vfs.AttrTimeModified, info.ModTime()).
		SetInt64(vfs.AttrUnixMode, int64(info.Mode().Perm()))

	typ := vfs.FileTypeRegular
	switch {
	case info.IsDir():
		typ = vfs.FileTypeDirectory
	case info.Mode()&os.ModeSymlink != 0:
		typ = vfs.FileTypeSymlink
	case info.Mode()&(os.ModeDevice|os.ModeNamedPipe|os.ModeSocket) != 0:
		typ = vfs.FileTypeSpecial
	}
	fi.SetInt64(vfs.AttrStandardType, int64(typ))
	fi.SetBool(vfs.AttrStandardIsSymlink, info.Mode()&os.ModeSymlink != 0)
	return fi
}

func (b *Backend) doEnumerate(j job.Job) {
	ej := j.(*job.EnumerateJob)
	full, err := b.resolve(ej.Path)
	if err != nil {
		ej.FailedWith(err)
		return
	}
	entries, readErr := os.ReadDir(full)
	if readErr != nil {
		ej.FailedWith(mapErrno(readErr))
		return
	}

	session := enumerator.NewSession()
	b.Sessions.Register(session)
	ej.Succeeded(job.EnumerateResult{ObjectPath: session.ObjectPath})

	go func() {
		const batchSize = 100
		batch := make([]*vfs.FileInfo, 0, batchSize)
		for _, entry := range entries {
			if ej.Cancelled() {
				session.Cancel()
				return
			}
			info, infoErr := entry.Info()
			if infoErr != nil {
				flog.Errorf(b, "enumerate %s: skipping %s: %v", ej.Path, entry.Name(), infoErr)
				continue
			}
			batch = append(batch, fileInfoFrom(entry.Name(), info))
			if len(batch) == batchSize {
				_ = session.PostBatch(batch)
				batch = make([]*vfs.FileInfo, 0, batchSize)
			}
		}
		if len(batch) > 0 {
			_ = session.PostBatch(batch)
		}
		session.Done(nil)
	}()
}

func (b *Backend) doOpenForRead(j job.Job) {
	oj := j.(*job.OpenForReadJob)
	full, err := b.resolve(oj.Path)
	if err != nil {
		oj.FailedWith(err)
		return
	}
	f, openErr := os.Open(full)
	if openErr != nil {
		oj.FailedWith(mapErrno(openErr))
		return
	}
	key := b.putHandle(&handle{f: f, path: full})
	oj.Succeeded(job.OpenResult{Handle: key, CanSeek: true})
}

func (b *Backend) doOpenForWrite(j job.Job) {
	oj := j.(*job.OpenForWriteJob)
	full, err := b.resolve(oj.Path)
	if err != nil {
		oj.FailedWith(err)
		return
	}
	flags := os.O_WRONLY
	if oj.Create {
		flags |= os.O_CREATE
	}
	if oj.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, openErr := os.OpenFile(full, flags, 0o644)
	if openErr != nil {
		oj.FailedWith(mapErrno(openErr))
		return
	}
	key := b.putHandle(&handle{f: f, path: full})
	oj.Succeeded(job.OpenResult{Handle: key, CanSeek: !oj.Append})
}

func (b *Backend) doRead(j job.Job) {
	rj := j.(*job.ReadJob)
	h, ok := b.getHandle(rj.Handle)
	if !ok {
		rj.FailedWith(vfs.Errorf(vfs.KindInvalidArgument, "local: unknown handle %q", rj.Handle))
		return
	}
	buf := make([]byte, rj.Count)
	n, err := retryEINTR(func() (int, error) { return h.f.Read(buf) })
	if err != nil && err != io.EOF {
		rj.FailedWith(mapErrno(err))
		return
	}
	rj.Succeeded(job.ReadResult{Data: buf[:n]})
}

func (b *Backend) doSeek(j job.Job) {
	sj := j.(*job.SeekJob)
	h, ok := b.getHandle(sj.Handle)
	if !ok {
		sj.FailedWith(vfs.Errorf(vfs.KindInvalidArgument, "local: unknown handle %q", sj.Handle))
		return
	}
	var whence int
	switch sj.Whence {
	case job.WhenceSet:
		whence = io.SeekStart
	case job.WhenceCur:
		whence = io.SeekCurrent
	case job.WhenceEnd:
		whence = io.SeekEnd
	}
	if _, err := h.f.Seek(sj.Offset, whence); err != nil {
		sj.FailedWith(mapErrno(err))
		return
	}
	sj.Succeeded(nil)
}

func (b *Backend) doWrite(j job.Job) {
	wj := j.(*job.WriteJob)
	h, ok := b.getHandle(wj.Handle)
	if !ok {
		wj.FailedWith(vfs.Errorf(vfs.KindInvalidArgument, "local: unknown handle %q", wj.Handle))
		return
	}
	n, err := retryEINTR(func() (int, error) { return h.f.Write(wj.Data) })
	if err != nil {
		wj.FailedWith(mapErrno(err))
		return
	}
	wj.Succeeded(job.WriteResult{Written: int64(n)})
}

func (b *Backend) doClose(j job.Job) {
	cj := j.(*job.CloseJob)
	h, ok := b.getHandle(cj.Handle)
	if !ok {
		cj.FailedWith(vfs.Errorf(vfs.KindInvalidArgument, "local: unknown handle %q", cj.Handle))
		return
	}
	b.dropHandle(cj.Handle)
	if err := h.f.Close(); err != nil {
		cj.FailedWith(mapErrno(err))
		return
	}
	cj.Succeeded(nil)
}

func (b *Backend) doMove(j job.Job) {
	mj := j.(*job.MoveJob)
	src, err := b.resolve(mj.Source)
	if err != nil {
		mj.FailedWith(err)
		return
	}
	dst, err := b.resolve(mj.Dest)
	if err != nil {
		mj.FailedWith(err)
		return
	}
	if !mj.Overwrite {
		if _, statErr := os.Lstat(dst); statErr == nil {
			mj.FailedWith(vfs.Errorf(vfs.KindExists, "local: %q already exists", mj.Dest))
			return
		}
	}
	if err := os.Rename(src, dst); err != nil {
		mj.FailedWith(mapErrno(err))
		return
	}
	mj.Succeeded(nil)
}

func (b *Backend) doDelete(j job.Job) {
	dj := j.(*job.DeleteJob)
	full, err := b.resolve(dj.Path)
	if err != nil {
		dj.FailedWith(err)
		return
	}
	if err := os.Remove(full); err != nil {
		dj.FailedWith(mapErrno(err))
		return
	}
	dj.Succeeded(nil)
}

func (b *Backend) doRename(j job.Job) {
	rj := j.(*job.RenameJob)
	full, err := b.resolve(rj.Path)
	if err != nil {
		rj.FailedWith(err)
		return
	}
	newFull := filepath.Join(filepath.Dir(full), rj.NewName)
	if err := os.Rename(full, newFull); err != nil {
		rj.FailedWith(mapErrno(err))
		return
	}
	rj.Succeeded(job.RenameResult{NewPath: newFull[len(b.Root):]})
}

func (b *Backend) doMkdir(j job.Job) {
	mj := j.(*job.MkdirJob)
	full, err := b.resolve(mj.Path)
	if err != nil {
		mj.FailedWith(err)
		return
	}
	if err := os.Mkdir(full, 0o755); err != nil {
		mj.FailedWith(mapErrno(err))
		return
	}
	mj.Succeeded(nil)
}
