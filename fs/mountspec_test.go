package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMountSpecGetAndType(t *testing.T) {
	spec := NewMountSpec(map[string]string{"type": "sftp", "host": "h"})
	v, ok := spec.Get("host")
	assert.True(t, ok)
	assert.Equal(t, "h", v)
	assert.Equal(t, "sftp", spec.Type())

	_, ok = spec.Get("missing")
	assert.False(t, ok)
}

func TestMountSpecIsImmutableCopy(t *testing.T) {
	entries := map[string]string{"type": "sftp"}
	spec := NewMountSpec(entries)
	entries["type"] = "local"
	assert.Equal(t, "sftp", spec.Type())
}

func TestMountSpecRequire(t *testing.T) {
	spec := NewMountSpec(map[string]string{"type": "sftp", "host": "h"})
	v, err := spec.Require("host")
	require.NoError(t, err)
	assert.Equal(t, "h", v)

	_, err = spec.Require("user")
	require.Error(t, err)
	assert.Equal(t, KindInvalidArgument, KindOf(err))
}

func TestMountSpecEqual(t *testing.T) {
	a := NewMountSpec(map[string]string{"type": "sftp", "host": "h"})
	b := NewMountSpec(map[string]string{"host": "h", "type": "sftp"})
	c := NewMountSpec(map[string]string{"type": "sftp", "host": "other"})
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))
}

func TestMountSpecFingerprint(t *testing.T) {
	a := NewMountSpec(map[string]string{"type": "sftp", "host": "h"})
	b := NewMountSpec(map[string]string{"host": "h", "type": "sftp"})
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	c := NewMountSpec(map[string]string{"type": "sftp", "host": "other"})
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}
