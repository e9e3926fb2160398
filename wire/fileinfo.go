package wire

import (
	"time"

	vfs "github.com/govfsd/vfsd/fs"
)

// PutAttr appends one FileInfo attribute as a typed field: its
// qualified name, a type tag byte, then the value in the encoding for
// that tag.
func (w *Writer) PutAttr(a vfs.Attr) *Writer {
	w.PutString(a.Name)
	w.PutUint8(uint8(a.Type))
	switch a.Type {
	case vfs.AttrString, vfs.AttrObjectPath:
		w.PutString(a.Str)
	case vfs.AttrBytes:
		w.PutBytes(a.Bytes)
	case vfs.AttrInt64:
		w.PutUint64(uint64(a.Int))
	case vfs.AttrBool:
		var b uint8
		if a.Bool {
			b = 1
		}
		w.PutUint8(b)
	case vfs.AttrTime:
		w.PutUint64(uint64(a.Time.UnixNano()))
	}
	return w
}

// PutFileInfo appends a FileInfo as a length-prefixed sequence of
// attributes, preserving insertion order.
func (w *Writer) PutFileInfo(fi *vfs.FileInfo) *Writer {
	attrs := fi.Attrs()
	w.PutUint32(uint32(len(attrs)))
	for _, a := range attrs {
		w.PutAttr(a)
	}
	return w
}

// Attr decodes one attribute field written by PutAttr.
func (r *Reader) Attr() (vfs.Attr, error) {
	name, err := r.String()
	if err != nil {
		return vfs.Attr{}, err
	}
	tag, err := r.Uint8()
	if err != nil {
		return vfs.Attr{}, err
	}
	a := vfs.Attr{Name: name, Type: vfs.AttrType(tag)}
	switch a.Type {
	case vfs.AttrString, vfs.AttrObjectPath:
		a.Str, err = r.String()
	case vfs.AttrBytes:
		a.Bytes, err = r.Bytes()
	case vfs.AttrInt64:
		var v uint64
		v, err = r.Uint64()
		a.Int = int64(v)
	case vfs.AttrBool:
		var v uint8
		v, err = r.Uint8()
		a.Bool = v != 0
	case vfs.AttrTime:
		var v uint64
		v, err = r.Uint64()
		a.Time = time.Unix(0, int64(v)).UTC()
	default:
		return vfs.Attr{}, vfs.Errorf(vfs.KindMalformed, "unknown attribute type tag %d for %q", tag, name)
	}
	if err != nil {
		return vfs.Attr{}, err
	}
	return a, nil
}

// FileInfo decodes a FileInfo field written by PutFileInfo.
func (r *Reader) FileInfo() (*vfs.FileInfo, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	fi := vfs.NewFileInfo()
	for i := uint32(0); i < n; i++ {
		a, err := r.Attr()
		if err != nil {
			return nil, err
		}
		fi.SetAttr(a)
	}
	return fi, nil
}
