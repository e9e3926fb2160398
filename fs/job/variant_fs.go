package job

import (
	"github.com/govfsd/vfsd/wire"
)

// EnumerateJob lists Path's directory entries. On success an
// enumerator session has already been registered by the backend;
// batches flow out-of-band over it rather than in this job's
// reply.
type EnumerateJob struct {
	*Base
	Path       string
	Attributes []string
	Flags      int
}

// NewEnumerateJob constructs an EnumerateJob.
func NewEnumerateJob(backend CapableBackend, request any, path string, attributes []string, flags int) *EnumerateJob {
	return &EnumerateJob{Base: NewBase(backend, request), Path: path, Attributes: attributes, Flags: flags}
}

func (j *EnumerateJob) JobBase() *Base { return j.Base }
func (j *EnumerateJob) Try() bool      { return TryOp(j, OpEnumerate, j.Backend) }
func (j *EnumerateJob) Run()           { RunOp(j, OpEnumerate, j.Backend) }

func (j *EnumerateJob) SendReply(w ReplyWriter) {
	outcome, output, err := j.Result()
	wr := wire.NewWriter()
	if outcome == Succeeded {
		wr.PutString(output.(EnumerateResult).ObjectPath)
	}
	w.WriteReply(j.Request, outcome, wr.Payload(), err)
}

// GetInfoJob stats Path.
type GetInfoJob struct {
	*Base
	Path       string
	Attributes []string
}

// NewGetInfoJob constructs a GetInfoJob.
func NewGetInfoJob(backend CapableBackend, request any, path string, attributes []string) *GetInfoJob {
	return &GetInfoJob{Base: NewBase(backend, request), Path: path, Attributes: attributes}
}

func (j *GetInfoJob) JobBase() *Base { return j.Base }
func (j *GetInfoJob) Try() bool      { return TryOp(j, OpGetInfo, j.Backend) }
func (j *GetInfoJob) Run()           { RunOp(j, OpGetInfo, j.Backend) }

func (j *GetInfoJob) SendReply(w ReplyWriter) {
	outcome, output, err := j.Result()
	wr := wire.NewWriter()
	if outcome == Succeeded {
		wr.PutFileInfo(output.(GetInfoResult).Info)
	}
	w.WriteReply(j.Request, outcome, wr.Payload(), err)
}

// MoveJob moves Source to Dest, optionally overwriting an existing
// entry at Dest.
type MoveJob struct {
	*Base
	Source    string
	Dest      string
	Overwrite bool
}

// NewMoveJob constructs a MoveJob.
func NewMoveJob(backend CapableBackend, request any, source, dest string, overwrite bool) *MoveJob {
	return &MoveJob{Base: NewBase(backend, request), Source: source, Dest: dest, Overwrite: overwrite}
}

func (j *MoveJob) JobBase() *Base { return j.Base }
func (j *MoveJob) Try() bool      { return TryOp(j, OpMove, j.Backend) }
func (j *MoveJob) Run()           { RunOp(j, OpMove, j.Backend) }

func (j *MoveJob) SendReply(w ReplyWriter) {
	outcome, _, err := j.Result()
	w.WriteReply(j.Request, outcome, nil, err)
}

// DeleteJob removes Path.
type DeleteJob struct {
	*Base
	Path string
}

// NewDeleteJob constructs a DeleteJob.
func NewDeleteJob(backend CapableBackend, request any, path string) *DeleteJob {
	return &DeleteJob{Base: NewBase(backend, request), Path: path}
}

func (j *DeleteJob) JobBase() *Base { return j.Base }
func (j *DeleteJob) Try() bool      { return TryOp(j, OpDelete, j.Backend) }
func (j *DeleteJob) Run()           { RunOp(j, OpDelete, j.Backend) }

func (j *DeleteJob) SendReply(w ReplyWriter) {
	outcome, _, err := j.Result()
	w.WriteReply(j.Request, outcome, nil, err)
}

// RenameJob renames Path's final path component to NewName.
type RenameJob struct {
	*Base
	Path    string
	NewName string
}

// NewRenameJob constructs a RenameJob.
func NewRenameJob(backend CapableBackend, request any, path, newName string) *RenameJob {
	return &RenameJob{Base: NewBase(backend, request), Path: path, NewName: newName}
}

func (j *RenameJob) JobBase() *Base { return j.Base }
func (j *RenameJob) Try() bool      { return TryOp(j, OpRename, j.Backend) }
func (j *RenameJob) Run()           { RunOp(j, OpRename, j.Backend) }

func (j *RenameJob) SendReply(w ReplyWriter) {
	outcome, output, err := j.Result()
	wr := wire.NewWriter()
	if outcome == Succeeded {
		wr.PutString(output.(RenameResult).NewPath)
	}
	w.WriteReply(j.Request, outcome, wr.Payload(), err)
}

// MkdirJob creates a directory at Path.
type MkdirJob struct {
	*Base
	Path string
}

// NewMkdirJob constructs a MkdirJob.
func NewMkdirJob(backend CapableBackend, request any, path string) *MkdirJob {
	return &MkdirJob{Base: NewBase(backend, request), Path: path}
}

func (j *MkdirJob) JobBase() *Base { return j.Base }
func (j *MkdirJob) Try() bool      { return TryOp(j, OpMkdir, j.Backend) }
func (j *MkdirJob) Run()           { RunOp(j, OpMkdir, j.Backend) }

func (j *MkdirJob) SendReply(w ReplyWriter) {
	outcome, _, err := j.Result()
	w.WriteReply(j.Request, outcome, nil, err)
}
