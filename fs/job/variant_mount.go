package job

import (
	vfs "github.com/govfsd/vfsd/fs"
	"github.com/govfsd/vfsd/mount"
	"github.com/govfsd/vfsd/wire"
)

// MountJob mounts spec against its backend. On success it drives
// registration against the mount registry; a registration failure
// overrides the job's own outcome and tears the backend down.
type MountJob struct {
	*Base
	Spec        *vfs.MountSpec
	Source      string
	IsAutomount bool

	Registry *mount.Registry
	Publish  mount.PublishFunc
	Teardown mount.TeardownFunc
}

// NewMountJob constructs a MountJob. publish and teardown are bound to
// the specific backend instance being mounted; Registry is the
// broker-wide mount registry shared across backends.
func NewMountJob(backend CapableBackend, request any, spec *vfs.MountSpec, source string, isAutomount bool, registry *mount.Registry, publish mount.PublishFunc, teardown mount.TeardownFunc) *MountJob {
	return &MountJob{
		Base:        NewBase(backend, request),
		Spec:        spec,
		Source:      source,
		IsAutomount: isAutomount,
		Registry:    registry,
		Publish:     publish,
		Teardown:    teardown,
	}
}

func (j *MountJob) JobBase() *Base { return j.Base }

func (j *MountJob) Try() bool { return TryOp(j, OpMount, j.Backend) }
func (j *MountJob) Run()      { RunOp(j, OpMount, j.Backend) }

// SendReply implements the registration completion logic: a backend
// success is only a real success once the registry has accepted the
// mount; a registration failure is reported in its place and the
// backend is torn down, while the job still finishes normally.
func (j *MountJob) SendReply(w ReplyWriter) {
	outcome, output, err := j.Result()
	if outcome == Succeeded {
		ref, _ := output.(*vfs.MountRef)
		if regErr := j.Registry.Register(ref, j.Publish, j.Teardown); regErr != nil {
			w.WriteReply(j.Request, Failed, nil, regErr)
			return
		}
	}
	w.WriteReply(j.Request, outcome, nil, err)
}

// AttributeAdvertiser is implemented by backends that support a
// narrower attribute namespace set than the default; QueryAttributesJob
// consults it when present.
type AttributeAdvertiser interface {
	AttributeNamespaces() string
}

// defaultAttributeNamespaces is advertised by backends that don't
// implement AttributeAdvertiser.
const defaultAttributeNamespaces = "standard:*,unix:*,time:*,access:*"

// QueryAttributesJob returns the set of attribute namespaces a backend
// supports without touching the backend's transport at all — a job
// handled entirely in Try, never falling through to Run.
type QueryAttributesJob struct {
	*Base
}

// NewQueryAttributesJob constructs a QueryAttributesJob.
func NewQueryAttributesJob(backend CapableBackend, request any) *QueryAttributesJob {
	return &QueryAttributesJob{Base: NewBase(backend, request)}
}

func (j *QueryAttributesJob) JobBase() *Base { return j.Base }

func (j *QueryAttributesJob) Try() bool {
	namespaces := defaultAttributeNamespaces
	if adv, ok := j.Backend.(AttributeAdvertiser); ok {
		namespaces = adv.AttributeNamespaces()
	}
	j.Succeeded(namespaces)
	return true
}

// Run is never invoked: Try always resolves the job.
func (j *QueryAttributesJob) Run() {}

func (j *QueryAttributesJob) SendReply(w ReplyWriter) {
	outcome, output, err := j.Result()
	wr := wire.NewWriter()
	if outcome == Succeeded {
		wr.PutString(output.(string))
	}
	w.WriteReply(j.Request, outcome, wr.Payload(), err)
}
