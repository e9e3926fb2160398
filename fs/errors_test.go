package fs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "CANCELLED", KindCancelled.String())
	assert.Equal(t, "IO", KindIO.String())
	assert.Equal(t, "Kind(99)", Kind(99).String())
}

func TestErrorError(t *testing.T) {
	err := New(KindNotFound, "no such file", nil)
	assert.Equal(t, "NOT_FOUND: no such file", err.Error())

	wrapped := New(KindIO, "read failed", errors.New("broken pipe"))
	assert.Contains(t, wrapped.Error(), "IO: read failed:")
	assert.Contains(t, wrapped.Error(), "broken pipe")
}

func TestErrorIsSentinel(t *testing.T) {
	err := New(KindCancelled, "job 3 cancelled", nil)
	assert.True(t, errors.Is(err, Cancelled))
	assert.False(t, errors.Is(err, TimedOut))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNone, KindOf(nil))
	assert.Equal(t, KindNotSupported, KindOf(New(KindNotSupported, "nope", nil)))
	assert.Equal(t, KindFailed, KindOf(errors.New("some other error")))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("ENOENT")
	err := New(KindNotFound, "stat failed", cause)
	assert.ErrorIs(t, err, cause)
}
