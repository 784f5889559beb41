package protocol

import (
	"crypto/rc4"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// HeaderSize is the frame header: 2-byte big-endian size followed by
	// a 2-byte little-endian opcode. The size counts the opcode.
	HeaderSize = 4

	// MaxFrameSize bounds a single frame (opcode + payload).
	MaxFrameSize = 10240
)

// ProtocolError reports a malformed or illegal frame. The connection
// layer treats it as fatal unless configured otherwise.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

func protocolErrorf(format string, args ...interface{}) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// Codec frames a byte stream into packets and back. Decoding is
// resumable: bytes accumulate via Feed until a complete frame is
// buffered. After InstallCipher, payloads are RC4-transformed in both
// directions; the 4-byte header stays in the clear so framing survives
// a desynchronized cipher.
//
// A Codec is owned by exactly one connection and is not safe for
// concurrent use.
type Codec struct {
	buf     []byte
	encrypt *rc4.Cipher
	decrypt *rc4.Cipher
}

// NewCodec returns a codec with no cipher installed.
func NewCodec() *Codec {
	return &Codec{}
}

// cipher key derivation: each direction gets an independent RC4 stream
// keyed from a salted SHA-1 of the session key, so server->client and
// client->server never share keystream position.
func deriveCipherKey(sessionKey []byte, salt string) []byte {
	h := sha1.New()
	h.Write([]byte(salt))
	h.Write(sessionKey)
	return h.Sum(nil)
}

// Side selects which end of the connection a codec sits on, so the two
// peers key their send/receive streams symmetrically.
type Side int

const (
	SideServer Side = iota
	SideClient
)

// InstallCipher keys both directions from the negotiated session key.
// Must be called exactly once, after the auth digest has been verified.
func (c *Codec) InstallCipher(sessionKey []byte, side Side) error {
	if c.encrypt != nil {
		return fmt.Errorf("cipher already installed")
	}
	sendSalt, recvSalt := "server", "client"
	if side == SideClient {
		sendSalt, recvSalt = recvSalt, sendSalt
	}
	enc, err := rc4.NewCipher(deriveCipherKey(sessionKey, sendSalt))
	if err != nil {
		return fmt.Errorf("init encrypt cipher: %w", err)
	}
	dec, err := rc4.NewCipher(deriveCipherKey(sessionKey, recvSalt))
	if err != nil {
		return fmt.Errorf("init decrypt cipher: %w", err)
	}
	c.encrypt = enc
	c.decrypt = dec
	return nil
}

// Encrypted reports whether the session cipher is installed.
func (c *Codec) Encrypted() bool {
	return c.encrypt != nil
}

// Feed appends raw bytes read from the socket.
func (c *Codec) Feed(p []byte) {
	c.buf = append(c.buf, p...)
}

// Buffered returns the number of undecoded bytes held by the codec.
func (c *Codec) Buffered() int {
	return len(c.buf)
}

// Next decodes the next complete frame. It returns (nil, nil) when more
// bytes are needed, or a *ProtocolError when the stream is malformed.
func (c *Codec) Next() (*Packet, error) {
	if len(c.buf) < HeaderSize {
		return nil, nil
	}

	size := binary.BigEndian.Uint16(c.buf[0:2])
	if size < 2 {
		return nil, protocolErrorf("frame size %d below opcode width", size)
	}
	if size > MaxFrameSize {
		return nil, protocolErrorf("frame size %d exceeds limit %d", size, MaxFrameSize)
	}

	total := 2 + int(size)
	if len(c.buf) < total {
		return nil, nil
	}

	opcode := binary.LittleEndian.Uint16(c.buf[2:4])
	if opcode >= NumMsgTypes {
		return nil, protocolErrorf("nonexistent opcode 0x%03X", opcode)
	}

	payload := make([]byte, size-2)
	copy(payload, c.buf[HeaderSize:total])
	c.buf = c.buf[total:]

	if c.decrypt != nil {
		c.decrypt.XORKeyStream(payload, payload)
	}

	return &Packet{Opcode: opcode, Payload: payload, Recv: time.Now()}, nil
}

// Encode frames a packet for the wire, applying the cipher to the
// payload when installed.
func (c *Codec) Encode(p *Packet) ([]byte, error) {
	size := len(p.Payload) + 2
	if size > MaxFrameSize {
		return nil, protocolErrorf("outbound frame size %d exceeds limit %d", size, MaxFrameSize)
	}

	out := make([]byte, HeaderSize+len(p.Payload))
	binary.BigEndian.PutUint16(out[0:2], uint16(size))
	binary.LittleEndian.PutUint16(out[2:4], p.Opcode)
	copy(out[HeaderSize:], p.Payload)

	if c.encrypt != nil {
		c.encrypt.XORKeyStream(out[HeaderSize:], out[HeaderSize:])
	}

	return out, nil
}
