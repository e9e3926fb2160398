package local

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	vfs "github.com/govfsd/vfsd/fs"
	"github.com/govfsd/vfsd/fs/job"
	"github.com/govfsd/vfsd/mount"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) (*Backend, string) {
	root := t.TempDir()
	cb, err := New(vfs.NewMountSpec(map[string]string{"type": "local", "path": root}))
	require.NoError(t, err)
	return cb.(*Backend), root
}

// runOne drives j the way the dispatch queue would: fast path first,
// slow path only if the fast path declined.
func runOne(j job.Job) (job.Outcome, any, error) {
	if !j.Try() {
		j.Run()
	}
	return j.JobBase().Result()
}

func TestNewValidatesRoot(t *testing.T) {
	_, err := New(vfs.NewMountSpec(map[string]string{"type": "local"}))
	assert.Equal(t, vfs.KindInvalidArgument, vfs.KindOf(err))

	_, err = New(vfs.NewMountSpec(map[string]string{"type": "local", "path": "/no/such/dir/anywhere"}))
	assert.Equal(t, vfs.KindNotFound, vfs.KindOf(err))

	f := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))
	_, err = New(vfs.NewMountSpec(map[string]string{"type": "local", "path": f}))
	assert.Equal(t, vfs.KindNotDirectory, vfs.KindOf(err))
}

func TestMountFastPath(t *testing.T) {
	b, _ := newTestBackend(t)
	registry, err := mount.NewRegistry(8)
	require.NoError(t, err)

	spec := vfs.NewMountSpec(map[string]string{"type": "local", "path": b.Root})
	mj := job.NewMountJob(b, "req", spec, "", false, registry,
		func(ref *vfs.MountRef) error { return nil }, nil)

	// Mount resolves on the fast path: the root was validated in New.
	assert.True(t, mj.Try())
	outcome, output, err := mj.Result()
	require.NoError(t, err)
	assert.Equal(t, job.Succeeded, outcome)
	assert.NotNil(t, output.(*vfs.MountRef))
}

func TestGetInfo(t *testing.T) {
	b, root := newTestBackend(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("hello"), 0o644))

	outcome, output, err := runOne(job.NewGetInfoJob(b, "req", "f.txt", nil))
	require.NoError(t, err)
	require.Equal(t, job.Succeeded, outcome)
	info := output.(job.GetInfoResult).Info
	assert.Equal(t, "f.txt", info.Name())
	assert.Equal(t, int64(5), info.Size())
	typ, _ := info.Get(vfs.AttrStandardType)
	assert.Equal(t, int64(vfs.FileTypeRegular), typ.Int)
}

func TestGetInfoResolvesOnFastPath(t *testing.T) {
	b, root := newTestBackend(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("hello"), 0o644))

	j := job.NewGetInfoJob(b, "req", "f.txt", nil)
	assert.True(t, j.Try(), "a single Lstat should resolve without the worker pool")
	outcome, output, err := j.Result()
	require.NoError(t, err)
	assert.Equal(t, job.Succeeded, outcome)
	assert.Equal(t, "f.txt", output.(job.GetInfoResult).Info.Name())
}

func TestCloseResolvesOnFastPath(t *testing.T) {
	b, root := newTestBackend(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f"), []byte("x"), 0o644))

	_, output, err := runOne(job.NewOpenForReadJob(b, "req", "f"))
	require.NoError(t, err)

	j := job.NewCloseJob(b, "req", output.(job.OpenResult).Handle)
	assert.True(t, j.Try())
	outcome, _, err := j.Result()
	require.NoError(t, err)
	assert.Equal(t, job.Succeeded, outcome)
}

func TestGetInfoNotFound(t *testing.T) {
	b, _ := newTestBackend(t)
	outcome, _, err := runOne(job.NewGetInfoJob(b, "req", "missing", nil))
	assert.Equal(t, job.Failed, outcome)
	assert.Equal(t, vfs.KindNotFound, vfs.KindOf(err))
}

func TestPathEscapeConfinedToRoot(t *testing.T) {
	b, _ := newTestBackend(t)
	// Join cleans "..", so escapes collapse back into the root rather
	// than reaching outside it.
	_, err := b.resolve("../../etc/passwd")
	assert.NoError(t, err)
	full, err := b.resolve("sub/../../x")
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(b.Root, "x"), full)
}

func TestReadWriteSeekClose(t *testing.T) {
	b, root := newTestBackend(t)

	outcome, output, err := runOne(job.NewOpenForWriteJob(b, "req", "out.bin", true, false))
	require.NoError(t, err)
	require.Equal(t, job.Succeeded, outcome)
	wh := output.(job.OpenResult).Handle

	_, woutput, err := runOne(job.NewWriteJob(b, "req", wh, []byte("hello world")))
	require.NoError(t, err)
	assert.Equal(t, int64(11), woutput.(job.WriteResult).Written)

	_, _, err = runOne(job.NewCloseJob(b, "req", wh))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "out.bin"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	_, output, err = runOne(job.NewOpenForReadJob(b, "req", "out.bin"))
	require.NoError(t, err)
	res := output.(job.OpenResult)
	assert.True(t, res.CanSeek)

	_, _, err = runOne(job.NewSeekJob(b, "req", res.Handle, 6, job.WhenceSet))
	require.NoError(t, err)

	_, routput, err := runOne(job.NewReadJob(b, "req", res.Handle, 64))
	require.NoError(t, err)
	assert.Equal(t, "world", string(routput.(job.ReadResult).Data))

	_, _, err = runOne(job.NewCloseJob(b, "req", res.Handle))
	require.NoError(t, err)
}

func TestReadUnknownHandle(t *testing.T) {
	b, _ := newTestBackend(t)
	outcome, _, err := runOne(job.NewReadJob(b, "req", "h999", 16))
	assert.Equal(t, job.Failed, outcome)
	assert.Equal(t, vfs.KindInvalidArgument, vfs.KindOf(err))
}

func TestReadOnDirectoryFails(t *testing.T) {
	b, root := newTestBackend(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, "d"), 0o755))

	_, output, err := runOne(job.NewOpenForReadJob(b, "req", "d"))
	require.NoError(t, err)
	h := output.(job.OpenResult).Handle

	outcome, _, err := runOne(job.NewReadJob(b, "req", h, 16))
	assert.Equal(t, job.Failed, outcome)
	require.Error(t, err)
	// Reading a directory fd surfaces EISDIR from the OS.
	assert.Equal(t, vfs.KindIsDirectory, vfs.KindOf(err))
}

func TestEnumerate(t *testing.T) {
	b, root := newTestBackend(t)
	for _, name := range []string{"b.txt", "a.txt", "c.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte("x"), 0o644))
	}

	outcome, output, err := runOne(job.NewEnumerateJob(b, "req", ".", nil, 0))
	require.NoError(t, err)
	require.Equal(t, job.Succeeded, outcome)

	session, ok := b.Sessions.Lookup(output.(job.EnumerateResult).ObjectPath)
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
	// os.ReadDir sorts entries.
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, names)
}

func TestEnumerateMissingDir(t *testing.T) {
	b, _ := newTestBackend(t)
	outcome, _, err := runOne(job.NewEnumerateJob(b, "req", "nope", nil, 0))
	assert.Equal(t, job.Failed, outcome)
	assert.Equal(t, vfs.KindNotFound, vfs.KindOf(err))
}

func TestMoveRespectsOverwriteFlag(t *testing.T) {
	b, root := newTestBackend(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "src"), []byte("s"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dst"), []byte("d"), 0o644))

	outcome, _, err := runOne(job.NewMoveJob(b, "req", "src", "dst", false))
	assert.Equal(t, job.Failed, outcome)
	assert.Equal(t, vfs.KindExists, vfs.KindOf(err))

	outcome, _, err = runOne(job.NewMoveJob(b, "req", "src", "dst", true))
	require.NoError(t, err)
	assert.Equal(t, job.Succeeded, outcome)

	data, err := os.ReadFile(filepath.Join(root, "dst"))
	require.NoError(t, err)
	assert.Equal(t, "s", string(data))
}

func TestDelete(t *testing.T) {
	b, root := newTestBackend(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "gone"), []byte("x"), 0o644))

	outcome, _, err := runOne(job.NewDeleteJob(b, "req", "gone"))
	require.NoError(t, err)
	assert.Equal(t, job.Succeeded, outcome)
	_, statErr := os.Lstat(filepath.Join(root, "gone"))
	assert.True(t, os.IsNotExist(statErr))

	outcome, _, err = runOne(job.NewDeleteJob(b, "req", "gone"))
	assert.Equal(t, job.Failed, outcome)
	assert.Equal(t, vfs.KindNotFound, vfs.KindOf(err))
}

func TestRename(t *testing.T) {
	b, root := newTestBackend(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "old.txt"), []byte("x"), 0o644))

	outcome, output, err := runOne(job.NewRenameJob(b, "req", "old.txt", "new.txt"))
	require.NoError(t, err)
	require.Equal(t, job.Succeeded, outcome)
	assert.Equal(t, string(filepath.Separator)+"new.txt", output.(job.RenameResult).NewPath)

	_, err = os.Lstat(filepath.Join(root, "new.txt"))
	assert.NoError(t, err)
}

func TestMkdir(t *testing.T) {
	b, root := newTestBackend(t)

	outcome, _, err := runOne(job.NewMkdirJob(b, "req", "sub"))
	require.NoError(t, err)
	assert.Equal(t, job.Succeeded, outcome)

	info, err := os.Stat(filepath.Join(root, "sub"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	outcome, _, err = runOne(job.NewMkdirJob(b, "req", "sub"))
	assert.Equal(t, job.Failed, outcome)
	assert.Equal(t, vfs.KindExists, vfs.KindOf(err))
}

func TestAppendWrite(t *testing.T) {
	b, root := newTestBackend(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "log"), []byte("one\n"), 0o644))

	_, output, err := runOne(job.NewOpenForWriteJob(b, "req", "log", false, true))
	require.NoError(t, err)
	res := output.(job.OpenResult)
	assert.False(t, res.CanSeek)

	_, _, err = runOne(job.NewWriteJob(b, "req", res.Handle, []byte("two\n")))
	require.NoError(t, err)
	_, _, err = runOne(job.NewCloseJob(b, "req", res.Handle))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "log"))
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(data))
}

func TestEnumerateCancelledMidStream(t *testing.T) {
	b, root := newTestBackend(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "x"), []byte("x"), 0o644))

	ej := job.NewEnumerateJob(b, "req", ".", nil, 0)
	ej.JobBase().Cancel()
	outcome, output, err := runOne(ej)

	// Cancellation raced with completion; either the job failed early
	// or the session terminates as cancelled.
	if outcome == job.Succeeded {
		session, ok := b.Sessions.Lookup(output.(job.EnumerateResult).ObjectPath)
		require.True(t, ok)
		deadline := time.After(5 * time.Second)
		for !session.IsDone() {
			select {
			case <-deadline:
				t.Fatal("session never terminated")
			default:
				time.Sleep(time.Millisecond)
			}
		}
	} else {
		require.Error(t, err)
	}
}
