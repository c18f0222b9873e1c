// Package wire implements the canonical binary encoding used for every
// on-wire and on-hash structure in the module: declared field order,
// little-endian fixed-size integers, 32-bit-LE length-prefixed byte
// strings, UTF-8 strings.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrTruncated is returned by a Decoder when the buffer ends before a
// field can be fully read.
var ErrTruncated = errors.New("wire: truncated input")

// ErrFieldTooLarge guards length-prefixed reads against hostile inputs
// claiming an absurd length.
var ErrFieldTooLarge = errors.New("wire: field length exceeds remaining input")

// Encoder builds a canonical byte string by appending fields in
// declared order.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder { return &Encoder{} }

// Bytes returns the encoded buffer so far.
func (e *Encoder) Bytes() []byte { return e.buf }

// PutUint8 appends a single byte.
func (e *Encoder) PutUint8(v uint8) { e.buf = append(e.buf, v) }

// PutUint32 appends v as 4 little-endian bytes.
func (e *Encoder) PutUint32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	e.buf = append(e.buf, tmp[:]...)
}

// PutUint64 appends v as 8 little-endian bytes.
func (e *Encoder) PutUint64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	e.buf = append(e.buf, tmp[:]...)
}

// PutFloat64 appends v's IEEE-754 bit pattern as 8 little-endian bytes.
func (e *Encoder) PutFloat64(v float64) {
	e.PutUint64(math.Float64bits(v))
}

// PutBytes appends a 32-bit-LE length prefix followed by b.
func (e *Encoder) PutBytes(b []byte) {
	e.PutUint32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

// PutString appends s as a length-prefixed UTF-8 byte string.
func (e *Encoder) PutString(s string) {
	e.PutBytes([]byte(s))
}

// PutBytesList appends a 32-bit-LE count followed by each element as a
// length-prefixed byte string, in slice order.
func (e *Encoder) PutBytesList(items [][]byte) {
	e.PutUint32(uint32(len(items)))
	for _, it := range items {
		e.PutBytes(it)
	}
}

// Decoder reads fields back out of a canonical byte string in the same
// declared order they were written.
type Decoder struct {
	buf []byte
	off int
}

// NewDecoder wraps buf for sequential field reads.
func NewDecoder(buf []byte) *Decoder { return &Decoder{buf: buf} }

// Remaining reports how many bytes are left unread.
func (d *Decoder) Remaining() int { return len(d.buf) - d.off }

// Done reports whether every byte has been consumed.
func (d *Decoder) Done() bool { return d.off >= len(d.buf) }

func (d *Decoder) take(n int) ([]byte, error) {
	if n < 0 || d.Remaining() < n {
		return nil, ErrTruncated
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

// Uint8 reads a single byte.
func (d *Decoder) Uint8() (uint8, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Uint32 reads a 4-byte little-endian integer.
func (d *Decoder) Uint32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Uint64 reads an 8-byte little-endian integer.
func (d *Decoder) Uint64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Float64 reads an 8-byte little-endian IEEE-754 double.
func (d *Decoder) Float64() (float64, error) {
	v, err := d.Uint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// Bytes reads a 32-bit-LE length prefix followed by that many bytes. The
// returned slice aliases the decoder's backing array.
func (d *Decoder) Bytes() ([]byte, error) {
	n, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	if int(n) > d.Remaining() {
		return nil, fmt.Errorf("%w: want %d have %d", ErrFieldTooLarge, n, d.Remaining())
	}
	return d.take(int(n))
}

// String reads a length-prefixed UTF-8 byte string.
func (d *Decoder) String() (string, error) {
	b, err := d.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// BytesList reads a 32-bit-LE count followed by that many length-prefixed
// byte strings.
func (d *Decoder) BytesList() ([][]byte, error) {
	n, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	if int(n) > d.Remaining() {
		return nil, fmt.Errorf("%w: want %d elements, only %d bytes remain", ErrFieldTooLarge, n, d.Remaining())
	}
	out := make([][]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		b, err := d.Bytes()
		if err != nil {
			return nil, err
		}
		cp := append([]byte(nil), b...)
		out = append(out, cp)
	}
	return out, nil
}
