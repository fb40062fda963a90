package page

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

type writeBuffer struct {
	buf []byte
	err error
}

func (w *writeBuffer) uint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *writeBuffer) uint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *writeBuffer) uint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *writeBuffer) bytes(b []byte) {
	if w.err != nil {
		return
	}
	if uint64(len(b)) > math.MaxUint32 {
		w.err = fmt.Errorf("page: field too long: %d bytes", len(b))
		return
	}
	w.uint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

type readBuffer struct {
	buf []byte
	pos int
	err error
}

func (r *readBuffer) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.buf) {
		r.err = io.ErrUnexpectedEOF
		return false
	}
	return true
}

func (r *readBuffer) uint64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}

func (r *readBuffer) uint32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *readBuffer) uint16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v
}

// bytes returns a sub-slice of the buffer, not a copy.
func (r *readBuffer) bytes() []byte {
	n := int(r.uint32())
	if !r.need(n) {
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

// count reads a length that must fit in the rest of the buffer at per bytes
// per element.
func (r *readBuffer) count(per int) int {
	n := int(r.uint32())
	if r.err == nil && n*per > len(r.buf)-r.pos {
		r.err = io.ErrUnexpectedEOF
		return 0
	}
	return n
}

func (r *readBuffer) done() error {
	if r.err != nil {
		return r.err
	}
	if r.pos != len(r.buf) {
		return fmt.Errorf("%d trailing bytes", len(r.buf)-r.pos)
	}
	return nil
}
