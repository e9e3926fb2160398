package sftp

import (
	"testing"
	"time"

	vfs "github.com/govfsd/vfsd/fs"
	"github.com/govfsd/vfsd/fs/job"
	"github.com/govfsd/vfsd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) (*Backend, *fakeServer) {
	spec := vfs.NewMountSpec(map[string]string{"type": "sftp", "host": "h", "user": "u"})
	cb, err := New(spec)
	require.NoError(t, err)
	b := cb.(*Backend)

	srv, tr := newFakeServer(t)
	b.transport = tr
	b.state.Store(int32(stateReady))
	return b, srv
}

// runOne drives j through its slow path the way the dispatch queue
// would, after Try declines.
func runOne(t *testing.T, j job.Job) (job.Outcome, any, error) {
	require.False(t, j.Try())
	j.Run()
	return j.JobBase().Result()
}

func TestNewRequiresHost(t *testing.T) {
	_, err := New(vfs.NewMountSpec(map[string]string{"type": "sftp"}))
	require.Error(t, err)
	assert.Equal(t, vfs.KindInvalidArgument, vfs.KindOf(err))
}

func TestNewRejectsWrongType(t *testing.T) {
	_, err := New(vfs.NewMountSpec(map[string]string{"type": "ftp", "host": "h"}))
	require.Error(t, err)
	assert.Equal(t, vfs.KindInvalidArgument, vfs.KindOf(err))
}

func TestNewDefaultsUser(t *testing.T) {
	cb, err := New(vfs.NewMountSpec(map[string]string{"type": "sftp", "host": "h"}))
	require.NoError(t, err)
	assert.NotEmpty(t, cb.(*Backend).User)
}

func TestOpsFailWhenNotConnected(t *testing.T) {
	spec := vfs.NewMountSpec(map[string]string{"type": "sftp", "host": "h", "user": "u"})
	cb, err := New(spec)
	require.NoError(t, err)

	j := job.NewGetInfoJob(cb, "req", "/x", nil)
	outcome, _, jerr := runOne(t, j)
	assert.Equal(t, job.Failed, outcome)
	assert.Equal(t, vfs.KindIO, vfs.KindOf(jerr))
}

func TestGetInfo(t *testing.T) {
	b, srv := newTestBackend(t)

	go func() {
		op, id, r := srv.readRequest()
		assert.Equal(t, uint8(sshFxpLstat), op)
		p, _ := r.String()
		assert.Equal(t, "/home/u/report.pdf", p)
		srv.reply(sshFxpAttrs, id, func(w *wire.Writer) {
			w.PutUint32(sshFilexferAttrSize).PutUint64(1234)
		})
	}()

	j := job.NewGetInfoJob(b, "req", "/home/u/report.pdf", nil)
	outcome, output, err := runOne(t, j)
	require.NoError(t, err)
	assert.Equal(t, job.Succeeded, outcome)
	info := output.(job.GetInfoResult).Info
	assert.Equal(t, "report.pdf", info.Name())
	assert.Equal(t, int64(1234), info.Size())
}

func TestGetInfoNotFound(t *testing.T) {
	b, srv := newTestBackend(t)

	go func() {
		_, id, _ := srv.readRequest()
		srv.replyStatus(id, sshFxNoSuchFile, "no such file")
	}()

	j := job.NewGetInfoJob(b, "req", "/missing", nil)
	outcome, _, err := runOne(t, j)
	assert.Equal(t, job.Failed, outcome)
	assert.Equal(t, vfs.KindNotFound, vfs.KindOf(err))
}

func TestOpenReadSeekClose(t *testing.T) {
	b, srv := newTestBackend(t)

	go func() {
		op, id, r := srv.readRequest()
		assert.Equal(t, uint8(sshFxpOpen), op)
		p, _ := r.String()
		assert.Equal(t, "/f", p)
		pflags, _ := r.Uint32()
		assert.Equal(t, uint32(sshFxfRead), pflags)
		srv.reply(sshFxpHandle, id, func(w *wire.Writer) {
			w.PutString("H1")
		})

		op, id, r = srv.readRequest()
		assert.Equal(t, uint8(sshFxpRead), op)
		h, _ := r.String()
		assert.Equal(t, "H1", h)
		off, _ := r.Uint64()
		assert.Equal(t, uint64(0), off)
		srv.reply(sshFxpData, id, func(w *wire.Writer) {
			w.PutBytes([]byte("hello"))
		})

		// Seek END consults FSTAT for the size.
		op, id, r = srv.readRequest()
		assert.Equal(t, uint8(sshFxpFstat), op)
		srv.reply(sshFxpAttrs, id, func(w *wire.Writer) {
			w.PutUint32(sshFilexferAttrSize).PutUint64(100)
		})

		// The next read starts at the seeked offset.
		op, id, r = srv.readRequest()
		assert.Equal(t, uint8(sshFxpRead), op)
		_, _ = r.String()
		off, _ = r.Uint64()
		assert.Equal(t, uint64(90), off)
		srv.replyStatus(id, sshFxEOF, "")

		op, id, _ = srv.readRequest()
		assert.Equal(t, uint8(sshFxpClose), op)
		srv.replyStatus(id, sshFxOk, "")
	}()

	oj := job.NewOpenForReadJob(b, "req", "/f")
	outcome, output, err := runOne(t, oj)
	require.NoError(t, err)
	require.Equal(t, job.Succeeded, outcome)
	res := output.(job.OpenResult)
	assert.True(t, res.CanSeek)

	rj := job.NewReadJob(b, "req", res.Handle, 64)
	_, routput, err := runOne(t, rj)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), routput.(job.ReadResult).Data)

	sj := job.NewSeekJob(b, "req", res.Handle, -10, job.WhenceEnd)
	_, _, err = runOne(t, sj)
	require.NoError(t, err)

	rj = job.NewReadJob(b, "req", res.Handle, 64)
	_, routput, err = runOne(t, rj)
	require.NoError(t, err)
	assert.Empty(t, routput.(job.ReadResult).Data)

	cj := job.NewCloseJob(b, "req", res.Handle)
	outcome, _, err = runOne(t, cj)
	require.NoError(t, err)
	assert.Equal(t, job.Succeeded, outcome)

	// The handle is gone after close.
	rj = job.NewReadJob(b, "req", res.Handle, 64)
	_, _, err = runOne(t, rj)
	assert.Equal(t, vfs.KindInvalidArgument, vfs.KindOf(err))
}

func TestWriteAdvancesOffset(t *testing.T) {
	b, srv := newTestBackend(t)

	go func() {
		op, id, r := srv.readRequest()
		assert.Equal(t, uint8(sshFxpOpen), op)
		_, _ = r.String()
		pflags, _ := r.Uint32()
		assert.Equal(t, uint32(sshFxfWrite|sshFxfCreat|sshFxfTrunc), pflags)
		srv.reply(sshFxpHandle, id, func(w *wire.Writer) {
			w.PutString("W1")
		})

		for _, wantOff := range []uint64{0, 3} {
			op, id, r = srv.readRequest()
			assert.Equal(t, uint8(sshFxpWrite), op)
			_, _ = r.String()
			off, _ := r.Uint64()
			assert.Equal(t, wantOff, off)
			data, _ := r.Bytes()
			assert.Equal(t, []byte("abc"), data)
			srv.replyStatus(id, sshFxOk, "")
		}
	}()

	oj := job.NewOpenForWriteJob(b, "req", "/out", true, false)
	_, output, err := runOne(t, oj)
	require.NoError(t, err)
	handle := output.(job.OpenResult).Handle

	for i := 0; i < 2; i++ {
		wj := job.NewWriteJob(b, "req", handle, []byte("abc"))
		_, woutput, werr := runOne(t, wj)
		require.NoError(t, werr)
		assert.Equal(t, int64(3), woutput.(job.WriteResult).Written)
	}
}

func TestEnumerateStreamsBatches(t *testing.T) {
	b, srv := newTestBackend(t)

	go func() {
		op, id, r := srv.readRequest()
		assert.Equal(t, uint8(sshFxpOpendir), op)
		p, _ := r.String()
		assert.Equal(t, "/dir", p)
		srv.reply(sshFxpHandle, id, func(w *wire.Writer) {
			w.PutString("D1")
		})

		op, id, _ = srv.readRequest()
		assert.Equal(t, uint8(sshFxpReaddir), op)
		srv.reply(sshFxpName, id, func(w *wire.Writer) {
			w.PutUint32(2)
			for _, name := range []string{"a", "b"} {
				w.PutString(name).PutString("longname")
				w.PutUint32(sshFilexferAttrSize).PutUint64(1)
			}
		})

		op, id, _ = srv.readRequest()
		assert.Equal(t, uint8(sshFxpReaddir), op)
		srv.reply(sshFxpName, id, func(w *wire.Writer) {
			w.PutUint32(1)
			w.PutString("c").PutString("longname")
			w.PutUint32(0)
		})

		op, id, _ = srv.readRequest()
		assert.Equal(t, uint8(sshFxpReaddir), op)
		srv.replyStatus(id, sshFxEOF, "")

		op, id, _ = srv.readRequest()
		assert.Equal(t, uint8(sshFxpClose), op)
		srv.replyStatus(id, sshFxOk, "")
	}()

	ej := job.NewEnumerateJob(b, "req", "/dir", nil, 0)
	outcome, output, err := runOne(t, ej)
	require.NoError(t, err)
	require.Equal(t, job.Succeeded, outcome)
	objectPath := output.(job.EnumerateResult).ObjectPath

	session, ok := b.Sessions.Lookup(objectPath)
	require.True(t, ok)

	var names []string
	for {
		fi, more, perr := session.Pull()
		require.NoError(t, perr)
		if !more {
			break
		}
		names = append(names, fi.Name())
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestMoveWithoutOverwriteChecksDest(t *testing.T) {
	b, srv := newTestBackend(t)

	go func() {
		op, id, r := srv.readRequest()
		assert.Equal(t, uint8(sshFxpLstat), op)
		p, _ := r.String()
		assert.Equal(t, "/dst", p)
		srv.reply(sshFxpAttrs, id, func(w *wire.Writer) {
			w.PutUint32(0)
		})
	}()

	mj := job.NewMoveJob(b, "req", "/src", "/dst", false)
	outcome, _, err := runOne(t, mj)
	assert.Equal(t, job.Failed, outcome)
	assert.Equal(t, vfs.KindExists, vfs.KindOf(err))
}

func TestMoveOverwrite(t *testing.T) {
	b, srv := newTestBackend(t)

	go func() {
		op, id, r := srv.readRequest()
		assert.Equal(t, uint8(sshFxpRename), op)
		src, _ := r.String()
		dst, _ := r.String()
		assert.Equal(t, "/src", src)
		assert.Equal(t, "/dst", dst)
		srv.replyStatus(id, sshFxOk, "")
	}()

	mj := job.NewMoveJob(b, "req", "/src", "/dst", true)
	outcome, _, err := runOne(t, mj)
	require.NoError(t, err)
	assert.Equal(t, job.Succeeded, outcome)
}

func TestDeleteDirectoryUsesRmdir(t *testing.T) {
	b, srv := newTestBackend(t)

	go func() {
		op, id, _ := srv.readRequest()
		assert.Equal(t, uint8(sshFxpLstat), op)
		srv.reply(sshFxpAttrs, id, func(w *wire.Writer) {
			w.PutUint32(sshFilexferAttrPermissions).PutUint32(0o040755)
		})

		op, id, r := srv.readRequest()
		assert.Equal(t, uint8(sshFxpRmdir), op)
		p, _ := r.String()
		assert.Equal(t, "/dir", p)
		srv.replyStatus(id, sshFxOk, "")
	}()

	dj := job.NewDeleteJob(b, "req", "/dir")
	outcome, _, err := runOne(t, dj)
	require.NoError(t, err)
	assert.Equal(t, job.Succeeded, outcome)
}

func TestDeleteFileUsesRemove(t *testing.T) {
	b, srv := newTestBackend(t)

	go func() {
		_, id, _ := srv.readRequest()
		srv.reply(sshFxpAttrs, id, func(w *wire.Writer) {
			w.PutUint32(sshFilexferAttrPermissions).PutUint32(0o100644)
		})

		op, id, _ := srv.readRequest()
		assert.Equal(t, uint8(sshFxpRemove), op)
		srv.replyStatus(id, sshFxOk, "")
	}()

	dj := job.NewDeleteJob(b, "req", "/f")
	outcome, _, err := runOne(t, dj)
	require.NoError(t, err)
	assert.Equal(t, job.Succeeded, outcome)
}

func TestRenameReturnsNewPath(t *testing.T) {
	b, srv := newTestBackend(t)

	go func() {
		op, id, r := srv.readRequest()
		assert.Equal(t, uint8(sshFxpRename), op)
		src, _ := r.String()
		dst, _ := r.String()
		assert.Equal(t, "/home/u/old.txt", src)
		assert.Equal(t, "/home/u/new.txt", dst)
		srv.replyStatus(id, sshFxOk, "")
	}()

	rj := job.NewRenameJob(b, "req", "/home/u/old.txt", "new.txt")
	_, output, err := runOne(t, rj)
	require.NoError(t, err)
	assert.Equal(t, "/home/u/new.txt", output.(job.RenameResult).NewPath)
}

func TestMkdir(t *testing.T) {
	b, srv := newTestBackend(t)

	go func() {
		op, id, r := srv.readRequest()
		assert.Equal(t, uint8(sshFxpMkdir), op)
		p, _ := r.String()
		assert.Equal(t, "/newdir", p)
		srv.replyStatus(id, sshFxOk, "")
	}()

	mj := job.NewMkdirJob(b, "req", "/newdir")
	outcome, _, err := runOne(t, mj)
	require.NoError(t, err)
	assert.Equal(t, job.Succeeded, outcome)
}

func TestCancelledJobCompletesWithCancelled(t *testing.T) {
	b, srv := newTestBackend(t)

	// The server reads the request but never answers.
	go func() {
		srv.readRequest()
	}()

	j := job.NewGetInfoJob(b, "req", "/slow", nil)
	require.False(t, j.Try())

	done := make(chan struct{})
	go func() {
		j.Run()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	j.JobBase().Cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled job did not complete")
	}
	_, _, err := j.JobBase().Result()
	assert.ErrorIs(t, err, vfs.Cancelled)
}
