package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRegistryRegisterLookupRemove(t *testing.T) {
	r := NewSessionRegistry()
	s := NewSession()
	r.Register(s)

	got, ok := r.Lookup(s.ObjectPath)
	assert.True(t, ok)
	assert.Same(t, s, got)

	r.Remove(s.ObjectPath)
	_, ok = r.Lookup(s.ObjectPath)
	assert.False(t, ok)
}

func TestSessionRegistryLookupMissing(t *testing.T) {
	r := NewSessionRegistry()
	_, ok := r.Lookup("/vfs/enumerator/999")
	assert.False(t, ok)
}
