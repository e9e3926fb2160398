package job

import vfs "github.com/govfsd/vfsd/fs"

// Whence selects the origin of a SeekJob's offset.
type Whence int

// Recognised seek origins; any other value is rejected as
// NOT_SUPPORTED before the job reaches its backend.
const (
	WhenceSet Whence = iota
	WhenceCur
	WhenceEnd
)

func (w Whence) valid() bool {
	return w == WhenceSet || w == WhenceCur || w == WhenceEnd
}

// OpenResult is the output a backend hands to Succeeded for
// OpenForReadJob and OpenForWriteJob: an opaque handle id and,
// for reads, whether the handle supports SeekJob.
type OpenResult struct {
	Handle  string
	CanSeek bool
}

// ReadResult is ReadJob's output: at most the requested byte count.
type ReadResult struct {
	Data []byte
}

// WriteResult is WriteJob's output: the number of bytes actually
// written, which callers must not assume equals len(Data) requested.
type WriteResult struct {
	Written int64
}

// GetInfoResult is GetInfoJob's output.
type GetInfoResult struct {
	Info *vfs.FileInfo
}

// EnumerateResult is EnumerateJob's output: the object-path under
// which batches will arrive out-of-band.
type EnumerateResult struct {
	ObjectPath string
}

// RenameResult is RenameJob's output: the new path, which may differ
// from the caller's requested name (e.g. if the backend had to
// disambiguate it).
type RenameResult struct {
	NewPath string
}
