package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMountRefReleaseRunsOnLastRelease(t *testing.T) {
	released := 0
	ref := NewMountRef("peer1", "/vfs/sftp/1", NewMountSpec(map[string]string{"type": "sftp"}), "", func() {
		released++
	})
	ref.AddRef()
	assert.Equal(t, 2, ref.RefCount())

	ref.ReleaseRef()
	assert.Equal(t, 0, released)
	assert.Equal(t, 1, ref.RefCount())

	ref.ReleaseRef()
	assert.Equal(t, 1, released)
	assert.Equal(t, 0, ref.RefCount())
}

func TestMountRefReleaseIsIdempotent(t *testing.T) {
	released := 0
	ref := NewMountRef("peer1", "/vfs/local/1", NewMountSpec(nil), "", func() {
		released++
	})
	ref.ReleaseRef()
	ref.ReleaseRef()
	ref.ReleaseRef()
	assert.Equal(t, 1, released, "onRelease must fire exactly once")
}
