package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"
)

// Packet is a single decoded wire unit: an opcode plus its payload bytes.
// Packets are immutable once built; readers track their own cursor.
type Packet struct {
	Opcode  uint16
	Payload []byte
	Recv    time.Time
}

// Reader returns a cursor over the packet payload.
func (p *Packet) Reader() *Reader {
	return &Reader{buf: p.Payload}
}

// Size returns the payload length in bytes.
func (p *Packet) Size() int {
	return len(p.Payload)
}

// Reader reads typed fields from a packet payload. All integers are
// little-endian; strings are null-terminated.
type Reader struct {
	buf []byte
	pos int
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

// Uint8 reads a single byte.
func (r *Reader) Uint8() (uint8, error) {
	if r.Remaining() < 1 {
		return 0, io.ErrUnexpectedEOF
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

// Uint16 reads a little-endian uint16.
func (r *Reader) Uint16() (uint16, error) {
	if r.Remaining() < 2 {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

// Uint32 reads a little-endian uint32.
func (r *Reader) Uint32() (uint32, error) {
	if r.Remaining() < 4 {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// Uint64 reads a little-endian uint64.
func (r *Reader) Uint64() (uint64, error) {
	if r.Remaining() < 8 {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// Bytes reads exactly n raw bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, io.ErrUnexpectedEOF
	}
	v := make([]byte, n)
	copy(v, r.buf[r.pos:r.pos+n])
	r.pos += n
	return v, nil
}

// String reads a null-terminated string.
func (r *Reader) String() (string, error) {
	idx := bytes.IndexByte(r.buf[r.pos:], 0)
	if idx < 0 {
		return "", io.ErrUnexpectedEOF
	}
	s := string(r.buf[r.pos : r.pos+idx])
	r.pos += idx + 1
	return s, nil
}

// Builder constructs outbound packet payloads. Methods chain so packet
// construction reads in wire order.
type Builder struct {
	opcode uint16
	buf    bytes.Buffer
}

// NewBuilder starts a payload for the given opcode.
func NewBuilder(opcode uint16) *Builder {
	return &Builder{opcode: opcode}
}

// Uint8 writes a single byte.
func (b *Builder) Uint8(v uint8) *Builder {
	b.buf.WriteByte(v)
	return b
}

// Uint16 writes a little-endian uint16.
func (b *Builder) Uint16(v uint16) *Builder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// Uint32 writes a little-endian uint32.
func (b *Builder) Uint32(v uint32) *Builder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// Uint64 writes a little-endian uint64.
func (b *Builder) Uint64(v uint64) *Builder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// String writes a null-terminated string.
func (b *Builder) String(s string) *Builder {
	b.buf.WriteString(s)
	b.buf.WriteByte(0)
	return b
}

// Bytes writes raw bytes.
func (b *Builder) Bytes(data []byte) *Builder {
	b.buf.Write(data)
	return b
}

// Packet returns the finished packet.
func (b *Builder) Packet() *Packet {
	data := make([]byte, b.buf.Len())
	copy(data, b.buf.Bytes())
	return &Packet{Opcode: b.opcode, Payload: data}
}
