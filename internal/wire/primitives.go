package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// cursor walks a byte slice, producing InsufficientData errors instead of
// panicking when a read runs past the end.
type cursor struct {
	buf []byte
	pos int
}

func newCursor(buf []byte) *cursor {
	return &cursor{buf: buf}
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.pos
}

func (c *cursor) take(n int) ([]byte, error) {
	if c.remaining() < n {
		return nil, errInsufficientData()
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

func (c *cursor) byte() (byte, error) {
	b, err := c.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) i32() (int32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (c *cursor) u32() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *cursor) u64() (uint64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (c *cursor) f64() (float64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

func (c *cursor) boolean() (bool, error) {
	b, err := c.byte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func (c *cursor) str() (string, error) {
	n, err := c.u32()
	if err != nil {
		return "", err
	}
	b, err := c.take(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errUtf8()
	}
	return string(b), nil
}

func (c *cursor) optStr() (*string, error) {
	present, err := c.boolean()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	s, err := c.str()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *cursor) optU64() (*uint64, error) {
	present, err := c.boolean()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	v, err := c.u64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *cursor) optF64() (*float64, error) {
	present, err := c.boolean()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	v, err := c.f64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *cursor) blob() ([]byte, error) {
	n, err := c.u32()
	if err != nil {
		return nil, err
	}
	b, err := c.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// encBuf is a small wrapper over bytes.Buffer with the wire primitives'
// write side.
type encBuf struct {
	bytes.Buffer
}

func newEncBuf() *encBuf {
	return &encBuf{}
}

func (e *encBuf) writeByte(b byte) {
	e.Buffer.WriteByte(b)
}

func (e *encBuf) writeI32(v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	e.Buffer.Write(b[:])
}

func (e *encBuf) writeU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.Buffer.Write(b[:])
}

func (e *encBuf) writeU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.Buffer.Write(b[:])
}

func (e *encBuf) writeF64(v float64) {
	e.writeU64(math.Float64bits(v))
}

func (e *encBuf) writeBool(v bool) {
	if v {
		e.writeByte(1)
	} else {
		e.writeByte(0)
	}
}

func (e *encBuf) writeStr(s string) {
	e.writeU32(uint32(len(s)))
	e.Buffer.WriteString(s)
}

func (e *encBuf) writeOptStr(s *string) {
	if s == nil {
		e.writeByte(0)
		return
	}
	e.writeByte(1)
	e.writeStr(*s)
}

func (e *encBuf) writeOptU64(v *uint64) {
	if v == nil {
		e.writeByte(0)
		return
	}
	e.writeByte(1)
	e.writeU64(*v)
}

func (e *encBuf) writeOptF64(v *float64) {
	if v == nil {
		e.writeByte(0)
		return
	}
	e.writeByte(1)
	e.writeF64(*v)
}

func (e *encBuf) writeBlob(b []byte) {
	e.writeU32(uint32(len(b)))
	e.Buffer.Write(b)
}
