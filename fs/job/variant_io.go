package job

import (
	vfs "github.com/govfsd/vfsd/fs"
	"github.com/govfsd/vfsd/wire"
)

// OpenForReadJob opens path for reading. Its output is an
// opaque handle id plus whether the handle supports SeekJob.
type OpenForReadJob struct {
	*Base
	Path string
}

// NewOpenForReadJob constructs an OpenForReadJob.
func NewOpenForReadJob(backend CapableBackend, request any, path string) *OpenForReadJob {
	return &OpenForReadJob{Base: NewBase(backend, request), Path: path}
}

func (j *OpenForReadJob) JobBase() *Base { return j.Base }
func (j *OpenForReadJob) Try() bool      { return TryOp(j, OpOpenForRead, j.Backend) }
func (j *OpenForReadJob) Run()           { RunOp(j, OpOpenForRead, j.Backend) }

func (j *OpenForReadJob) SendReply(w ReplyWriter) {
	outcome, output, err := j.Result()
	wr := wire.NewWriter()
	if outcome == Succeeded {
		res := output.(OpenResult)
		var canSeek uint8
		if res.CanSeek {
			canSeek = 1
		}
		wr.PutString(res.Handle).PutUint8(canSeek)
	}
	w.WriteReply(j.Request, outcome, wr.Payload(), err)
}

// ReadJob reads up to Count bytes from Handle.
type ReadJob struct {
	*Base
	Handle string
	Count  int
}

// NewReadJob constructs a ReadJob.
func NewReadJob(backend CapableBackend, request any, handle string, count int) *ReadJob {
	return &ReadJob{Base: NewBase(backend, request), Handle: handle, Count: count}
}

func (j *ReadJob) JobBase() *Base { return j.Base }
func (j *ReadJob) Try() bool      { return TryOp(j, OpRead, j.Backend) }
func (j *ReadJob) Run()           { RunOp(j, OpRead, j.Backend) }

func (j *ReadJob) SendReply(w ReplyWriter) {
	outcome, output, err := j.Result()
	wr := wire.NewWriter()
	if outcome == Succeeded {
		wr.PutBytes(output.(ReadResult).Data)
	}
	w.WriteReply(j.Request, outcome, wr.Payload(), err)
}

// SeekJob repositions Handle. An out-of-range Whence is
// rejected as NOT_SUPPORTED at construction time, before the job ever
// reaches a backend.
type SeekJob struct {
	*Base
	Handle string
	Offset int64
	Whence Whence
}

// NewSeekJob constructs a SeekJob, failing it immediately if whence is
// not one of WhenceSet/WhenceCur/WhenceEnd.
func NewSeekJob(backend CapableBackend, request any, handle string, offset int64, whence Whence) *SeekJob {
	j := &SeekJob{Base: NewBase(backend, request), Handle: handle, Offset: offset, Whence: whence}
	if !whence.valid() {
		j.FailedWith(vfs.Errorf(vfs.KindNotSupported, "seek: unsupported whence %d", int(whence)))
	}
	return j
}

func (j *SeekJob) JobBase() *Base { return j.Base }

func (j *SeekJob) Try() bool {
	if j.Done() {
		return true
	}
	return TryOp(j, OpSeek, j.Backend)
}

func (j *SeekJob) Run() { RunOp(j, OpSeek, j.Backend) }

func (j *SeekJob) SendReply(w ReplyWriter) {
	outcome, _, err := j.Result()
	w.WriteReply(j.Request, outcome, nil, err)
}

// CloseJob releases Handle.
type CloseJob struct {
	*Base
	Handle string
}

// NewCloseJob constructs a CloseJob.
func NewCloseJob(backend CapableBackend, request any, handle string) *CloseJob {
	return &CloseJob{Base: NewBase(backend, request), Handle: handle}
}

func (j *CloseJob) JobBase() *Base { return j.Base }
func (j *CloseJob) Try() bool      { return TryOp(j, OpClose, j.Backend) }
func (j *CloseJob) Run()           { RunOp(j, OpClose, j.Backend) }

func (j *CloseJob) SendReply(w ReplyWriter) {
	outcome, _, err := j.Result()
	w.WriteReply(j.Request, outcome, nil, err)
}

// OpenForWriteJob opens Path for writing, creating it if Create is set
// and appending to it if Append is set.
type OpenForWriteJob struct {
	*Base
	Path   string
	Create bool
	Append bool
}

// NewOpenForWriteJob constructs an OpenForWriteJob.
func NewOpenForWriteJob(backend CapableBackend, request any, path string, create, appendTo bool) *OpenForWriteJob {
	return &OpenForWriteJob{Base: NewBase(backend, request), Path: path, Create: create, Append: appendTo}
}

func (j *OpenForWriteJob) JobBase() *Base { return j.Base }
func (j *OpenForWriteJob) Try() bool      { return TryOp(j, OpOpenForWrite, j.Backend) }
func (j *OpenForWriteJob) Run()           { RunOp(j, OpOpenForWrite, j.Backend) }

func (j *OpenForWriteJob) SendReply(w ReplyWriter) {
	outcome, output, err := j.Result()
	wr := wire.NewWriter()
	if outcome == Succeeded {
		wr.PutString(output.(OpenResult).Handle)
	}
	w.WriteReply(j.Request, outcome, wr.Payload(), err)
}

// WriteJob writes Data to Handle.
type WriteJob struct {
	*Base
	Handle string
	Data   []byte
}

// NewWriteJob constructs a WriteJob.
func NewWriteJob(backend CapableBackend, request any, handle string, data []byte) *WriteJob {
	return &WriteJob{Base: NewBase(backend, request), Handle: handle, Data: data}
}

func (j *WriteJob) JobBase() *Base { return j.Base }
func (j *WriteJob) Try() bool      { return TryOp(j, OpWrite, j.Backend) }
func (j *WriteJob) Run()           { RunOp(j, OpWrite, j.Backend) }

func (j *WriteJob) SendReply(w ReplyWriter) {
	outcome, output, err := j.Result()
	wr := wire.NewWriter()
	if outcome == Succeeded {
		wr.PutUint64(uint64(output.(WriteResult).Written))
	}
	w.WriteReply(j.Request, outcome, wr.Payload(), err)
}
