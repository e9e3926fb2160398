// Package wire implements the broker's framed wire codec: a
// length-prefixed packet format carrying a sequence of typed fields,
// shared by every transport that speaks the broker's own protocol.
package wire

import (
	"encoding/binary"
	"io"

	vfs "github.com/govfsd/vfsd/fs"
)

// lengthSize is the width of the frame's length prefix in bytes.
const lengthSize = 4

// Writer accumulates typed fields into a single length-prefixed frame.
// The zero value is not usable; use NewWriter.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with its 4-byte length prefix reserved.
func NewWriter() *Writer {
	w := &Writer{buf: make([]byte, lengthSize, 64)}
	return w
}

// PutUint8 appends a single byte field.
func (w *Writer) PutUint8(v uint8) *Writer {
	w.buf = append(w.buf, v)
	return w
}

// PutUint32 appends a 4-byte big-endian field.
func (w *Writer) PutUint32(v uint32) *Writer {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
	return w
}

// PutUint64 appends an 8-byte big-endian field.
func (w *Writer) PutUint64(v uint64) *Writer {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
	return w
}

// PutBytes appends a 4-byte big-endian length followed by raw bytes,
// the SFTP v3 "string" encoding used for paths, handles and data.
func (w *Writer) PutBytes(b []byte) *Writer {
	w.PutUint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
	return w
}

// PutString is PutBytes over a Go string.
func (w *Writer) PutString(s string) *Writer {
	return w.PutBytes([]byte(s))
}

// Bytes back-patches the length prefix (current length minus the
// 4-byte prefix itself) and returns the complete frame, ready to
// write to a transport.
func (w *Writer) Bytes() []byte {
	binary.BigEndian.PutUint32(w.buf[:lengthSize], uint32(len(w.buf)-lengthSize))
	return w.buf
}

// Payload returns the accumulated fields without the length prefix,
// for callers embedding them in an outer frame rather than emitting
// them standalone.
func (w *Writer) Payload() []byte {
	return w.buf[lengthSize:]
}

// WriteFrame encodes w's accumulated fields and writes the complete
// frame to out in a single call.
func WriteFrame(out io.Writer, w *Writer) error {
	_, err := out.Write(w.Bytes())
	return err
}

// Reader walks the typed fields of a single decoded frame. Reads past
// the frame's declared end fail with vfs.Malformed.
type Reader struct {
	buf []byte
	pos int
}

// ReadFrame reads one length-prefixed frame from in and returns a
// Reader positioned at field 0.
func ReadFrame(in io.Reader) (*Reader, error) {
	var hdr [lengthSize]byte
	if _, err := io.ReadFull(in, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(in, payload); err != nil {
			return nil, err
		}
	}
	return &Reader{buf: payload}, nil
}

// NewReader wraps an already-sliced frame payload (e.g. one read off
// a non-blocking transport elsewhere) for field-by-field decoding.
func NewReader(payload []byte) *Reader {
	return &Reader{buf: payload}
}

// need reports whether n more bytes are available, failing with
// vfs.Malformed if not.
func (r *Reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return vfs.Errorf(vfs.KindMalformed, "frame truncated: need %d bytes at offset %d, have %d", n, r.pos, len(r.buf))
	}
	return nil
}

// Uint8 reads a single byte field.
func (r *Reader) Uint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

// Uint32 reads a 4-byte big-endian field.
func (r *Reader) Uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

// Uint64 reads an 8-byte big-endian field.
func (r *Reader) Uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

// Bytes reads a 4-byte length-prefixed byte field.
func (r *Reader) Bytes() ([]byte, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	v := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return v, nil
}

// String is Bytes decoded as a Go string.
func (r *Reader) String() (string, error) {
	b, err := r.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Remaining reports how many undecoded bytes are left in the frame.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

// Done reports whether every byte of the frame has been consumed.
func (r *Reader) Done() bool {
	return r.Remaining() == 0
}
