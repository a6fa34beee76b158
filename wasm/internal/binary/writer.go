package binary

import "encoding/binary"

// Writer accumulates WASM binary primitives.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the written bytes.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Byte appends one byte.
func (w *Writer) Byte(b byte) {
	w.buf = append(w.buf, b)
}

// WriteBytes appends raw bytes.
func (w *Writer) WriteBytes(data []byte) {
	w.buf = append(w.buf, data...)
}

// WriteU32 appends an unsigned LEB128 uint32.
func (w *Writer) WriteU32(v uint32) {
	w.buf = AppendU64(w.buf, uint64(v))
}

// WriteU64 appends an unsigned LEB128 uint64.
func (w *Writer) WriteU64(v uint64) {
	w.buf = AppendU64(w.buf, v)
}

// WriteS32 appends a signed LEB128 int32.
func (w *Writer) WriteS32(v int32) {
	w.buf = AppendS64(w.buf, int64(v))
}

// WriteS64 appends a signed LEB128 int64.
func (w *Writer) WriteS64(v int64) {
	w.buf = AppendS64(w.buf, v)
}

// WriteName appends a length-prefixed name.
func (w *Writer) WriteName(s string) {
	w.WriteU32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteU32LE appends a fixed four byte little-endian uint32.
func (w *Writer) WriteU32LE(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// WriteVec appends a count followed by the concatenated items.
func (w *Writer) WriteVec(count int, items []byte) {
	w.WriteU32(uint32(count))
	w.buf = append(w.buf, items...)
}

// AppendU64 appends v as unsigned LEB128.
func AppendU64(dst []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			dst = append(dst, b|0x80)
			continue
		}
		return append(dst, b)
	}
}

// AppendS64 appends v as signed LEB128.
func AppendS64(dst []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if done {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}
