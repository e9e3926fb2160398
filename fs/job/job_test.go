package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBaseSucceededIsIdempotent(t *testing.T) {
	b := NewBase(nil, "req")
	b.Succeeded("first")
	b.Succeeded("second")

	outcome, output, err := b.Result()
	assert.Equal(t, Succeeded, outcome)
	assert.Equal(t, "first", output)
	assert.NoError(t, err)
}

func TestBaseFailedWithIsIdempotent(t *testing.T) {
	b := NewBase(nil, "req")
	errA := assertError("a")
	errB := assertError("b")
	b.FailedWith(errA)
	b.FailedWith(errB)

	outcome, _, err := b.Result()
	assert.Equal(t, Failed, outcome)
	assert.Equal(t, errA, err)
}

func TestBaseSucceededThenFailedWithDoesNothing(t *testing.T) {
	b := NewBase(nil, "req")
	b.Succeeded("ok")
	b.FailedWith(assertError("too late"))

	outcome, output, err := b.Result()
	assert.Equal(t, Succeeded, outcome)
	assert.Equal(t, "ok", output)
	assert.NoError(t, err)
}

func TestBaseCancel(t *testing.T) {
	b := NewBase(nil, "req")
	assert.False(t, b.Cancelled())
	b.Cancel()
	b.Cancel() // second call must not panic (close of closed channel)
	assert.True(t, b.Cancelled())
	select {
	case <-b.CancelChan():
	default:
		t.Fatal("CancelChan should be closed after Cancel")
	}
}

func TestBaseDoneChan(t *testing.T) {
	b := NewBase(nil, "req")
	select {
	case <-b.DoneChan():
		t.Fatal("DoneChan must stay open before a terminal outcome")
	default:
	}
	b.Succeeded(nil)
	select {
	case <-b.DoneChan():
	default:
		t.Fatal("DoneChan should be closed after Succeeded")
	}
}

func TestBaseDuration(t *testing.T) {
	b := NewBase(nil, "req")
	time.Sleep(2 * time.Millisecond)
	b.Succeeded(nil)
	assert.True(t, b.Duration() >= 2*time.Millisecond)
}

func TestBaseMarkReplySentOnce(t *testing.T) {
	b := NewBase(nil, "req")
	assert.True(t, b.markReplySent())
	assert.False(t, b.markReplySent())
	assert.True(t, b.ReplySent())
}

type stubError struct{ msg string }

func (e *stubError) Error() string { return e.msg }

func assertError(msg string) error { return &stubError{msg: msg} }
