package fs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFileInfoSettersAndGetters(t *testing.T) {
	now := time.Now()
	fi := NewFileInfo().
		SetString(AttrStandardName, "report.pdf").
		SetInt64(AttrStandardSize, 1024).
		SetBool(AttrStandardIsSymlink, false).
		SetTime(AttrTimeModified, now)

	assert.Equal(t, "report.pdf", fi.Name())
	assert.Equal(t, int64(1024), fi.Size())

	a, ok := fi.Get(AttrTimeModified)
	assert.True(t, ok)
	assert.Equal(t, now, a.Time)

	_, ok = fi.Get("nonexistent:attr")
	assert.False(t, ok)
}

func TestFileInfoAttrsPreservesOrder(t *testing.T) {
	fi := NewFileInfo().
		SetString(AttrStandardName, "a").
		SetInt64(AttrStandardSize, 1).
		SetString(AttrStandardName, "a-renamed") // overwrite, order unchanged

	attrs := fi.Attrs()
	assert.Len(t, attrs, 2)
	assert.Equal(t, AttrStandardName, attrs[0].Name)
	assert.Equal(t, "a-renamed", attrs[0].Str)
	assert.Equal(t, AttrStandardSize, attrs[1].Name)
}

func TestFileInfoNilSafe(t *testing.T) {
	var fi *FileInfo
	_, ok := fi.Get(AttrStandardName)
	assert.False(t, ok)
}
