// Package wire provides the byte buffer every replication component writes
// into or reads from.
//
// All multi-byte values are big-endian. Floats travel as their IEEE-754 bit
// patterns so the receiver sees exactly the value the sender held.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// MaxStringLen bounds a single length-prefixed string or byte run.
const MaxStringLen = 1 << 20

var (
	ErrShortBuffer    = errors.New("wire: short buffer")
	ErrInvalidBool    = errors.New("wire: invalid bool value")
	ErrStringTooLong  = errors.New("wire: string too long")
	ErrInvalidSeekPos = errors.New("wire: invalid seek position")
)

// Buffer is a growable byte buffer with a read cursor.
//
// Writes always append; reads advance the cursor from the start. It is not
// safe for concurrent use.
type Buffer struct {
	data []byte
	off  int
}

// NewBuffer returns an empty buffer with the given initial capacity.
func NewBuffer(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{data: make([]byte, 0, capacity)}
}

// FromBytes wraps b for reading. The buffer does not copy b.
func FromBytes(b []byte) *Buffer {
	return &Buffer{data: b}
}

// Bytes returns every byte written so far, independent of the read cursor.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the number of bytes written.
func (b *Buffer) Len() int { return len(b.data) }

// Offset returns the read cursor.
func (b *Buffer) Offset() int { return b.off }

// Remaining returns the number of unread bytes.
func (b *Buffer) Remaining() int { return len(b.data) - b.off }

// Reset empties the buffer and rewinds the cursor, keeping capacity.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.off = 0
}

// Truncate discards everything written past n. The read cursor is clamped
// to the new length.
func (b *Buffer) Truncate(n int) {
	if n < 0 || n > len(b.data) {
		return
	}
	b.data = b.data[:n]
	if b.off > n {
		b.off = n
	}
}

// Rewind moves the read cursor back to the start.
func (b *Buffer) Rewind() { b.off = 0 }

// Seek moves the read cursor to an absolute offset.
func (b *Buffer) Seek(off int) error {
	if off < 0 || off > len(b.data) {
		return fmt.Errorf("%w: %d of %d", ErrInvalidSeekPos, off, len(b.data))
	}
	b.off = off
	return nil
}

// Clone returns an independent copy of the written bytes.
func (b *Buffer) Clone() []byte {
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

func (b *Buffer) WriteUint8(v uint8) { b.data = append(b.data, v) }

func (b *Buffer) WriteUint16(v uint16) { b.data = binary.BigEndian.AppendUint16(b.data, v) }

func (b *Buffer) WriteUint32(v uint32) { b.data = binary.BigEndian.AppendUint32(b.data, v) }

func (b *Buffer) WriteUint64(v uint64) { b.data = binary.BigEndian.AppendUint64(b.data, v) }

func (b *Buffer) WriteInt32(v int32) { b.WriteUint32(uint32(v)) }

func (b *Buffer) WriteFloat32(v float32) { b.WriteUint32(math.Float32bits(v)) }

func (b *Buffer) WriteFloat64(v float64) { b.WriteUint64(math.Float64bits(v)) }

func (b *Buffer) WriteBool(v bool) {
	if v {
		b.WriteUint8(1)
		return
	}
	b.WriteUint8(0)
}

// WriteString writes a u32 length prefix followed by the raw bytes of s.
func (b *Buffer) WriteString(s string) error {
	if len(s) > MaxStringLen {
		return fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(s))
	}
	b.WriteUint32(uint32(len(s)))
	b.data = append(b.data, s...)
	return nil
}

// WriteRaw appends p without a length prefix.
func (b *Buffer) WriteRaw(p []byte) { b.data = append(b.data, p...) }

func (b *Buffer) take(n int) ([]byte, error) {
	if n < 0 || b.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d have %d at offset %d", ErrShortBuffer, n, b.Remaining(), b.off)
	}
	p := b.data[b.off : b.off+n]
	b.off += n
	return p, nil
}

// PeekUint8 returns the next byte without advancing the cursor.
func (b *Buffer) PeekUint8() (uint8, error) {
	if b.Remaining() < 1 {
		return 0, fmt.Errorf("%w: peek at offset %d", ErrShortBuffer, b.off)
	}
	return b.data[b.off], nil
}

func (b *Buffer) ReadUint8() (uint8, error) {
	p, err := b.take(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (b *Buffer) ReadUint16() (uint16, error) {
	p, err := b.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(p), nil
}

func (b *Buffer) ReadUint32() (uint32, error) {
	p, err := b.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(p), nil
}

func (b *Buffer) ReadUint64() (uint64, error) {
	p, err := b.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(p), nil
}

func (b *Buffer) ReadInt32() (int32, error) {
	v, err := b.ReadUint32()
	return int32(v), err
}

func (b *Buffer) ReadFloat32() (float32, error) {
	v, err := b.ReadUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (b *Buffer) ReadFloat64() (float64, error) {
	v, err := b.ReadUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func (b *Buffer) ReadBool() (bool, error) {
	v, err := b.ReadUint8()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: %d", ErrInvalidBool, v)
	}
}

// ReadString reads a u32 length prefix and that many bytes.
func (b *Buffer) ReadString() (string, error) {
	n, err := b.ReadUint32()
	if err != nil {
		return "", err
	}
	if n > MaxStringLen {
		return "", fmt.Errorf("%w: %d bytes", ErrStringTooLong, n)
	}
	p, err := b.take(int(n))
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// ReadFloat32s reads n consecutive float32 values into dst.
func (b *Buffer) ReadFloat32s(dst ...*float32) error {
	for _, d := range dst {
		v, err := b.ReadFloat32()
		if err != nil {
			return err
		}
		*d = v
	}
	return nil
}
