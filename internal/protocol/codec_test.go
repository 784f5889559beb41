package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// TestEncodeDecodeRoundTrip verifies that framing a packet and feeding it
// back through a codec yields the original opcode and payload.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opcode  uint16
		payload []byte
	}{
		{name: "ping", opcode: CMSGPing, payload: []byte{1, 0, 0, 0, 50, 0, 0, 0}},
		{name: "empty payload", opcode: SMSGChatWrongFaction, payload: nil},
		{name: "binary payload", opcode: CMSGMessageChat, payload: []byte{0x00, 0x01, 0xFF, 0xFE}},
		{name: "max opcode value", opcode: NumMsgTypes - 1, payload: []byte("x")},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sender := NewCodec()
			receiver := NewCodec()

			frame, err := sender.Encode(&Packet{Opcode: tt.opcode, Payload: tt.payload})
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}

			receiver.Feed(frame)
			pkt, err := receiver.Next()
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			if pkt == nil {
				t.Fatal("Next() = nil, want packet")
			}

			if pkt.Opcode != tt.opcode {
				t.Errorf("opcode = 0x%X, want 0x%X", pkt.Opcode, tt.opcode)
			}
			if !bytes.Equal(pkt.Payload, tt.payload) {
				t.Errorf("payload = %v, want %v", pkt.Payload, tt.payload)
			}
		})
	}
}

// TestEncryptedRoundTrip runs traffic through the cipher transform and its
// inverse on the peer codec.
func TestEncryptedRoundTrip(t *testing.T) {
	t.Parallel()

	key := []byte("0123456789abcdef0123456789abcdef01234567")

	server := NewCodec()
	client := NewCodec()
	if err := server.InstallCipher(key, SideServer); err != nil {
		t.Fatalf("InstallCipher(server) error = %v", err)
	}
	if err := client.InstallCipher(key, SideClient); err != nil {
		t.Fatalf("InstallCipher(client) error = %v", err)
	}

	// Several packets in both directions to exercise keystream position.
	for i := 0; i < 5; i++ {
		payload := []byte{byte(i), 0xAA, 0x55}

		frame, err := server.Encode(&Packet{Opcode: SMSGMessageChat, Payload: payload})
		if err != nil {
			t.Fatalf("server Encode() error = %v", err)
		}
		// Ciphered payload must differ from the plaintext on the wire.
		if bytes.Equal(frame[HeaderSize:], payload) {
			t.Error("payload not transformed by cipher")
		}

		client.Feed(frame)
		pkt, err := client.Next()
		if err != nil {
			t.Fatalf("client Next() error = %v", err)
		}
		if pkt == nil {
			t.Fatal("client Next() = nil, want packet")
		}
		if !bytes.Equal(pkt.Payload, payload) {
			t.Errorf("decrypted payload = %v, want %v", pkt.Payload, payload)
		}

		reply, err := client.Encode(&Packet{Opcode: CMSGMessageChat, Payload: payload})
		if err != nil {
			t.Fatalf("client Encode() error = %v", err)
		}
		server.Feed(reply)
		pkt, err = server.Next()
		if err != nil {
			t.Fatalf("server Next() error = %v", err)
		}
		if pkt == nil || !bytes.Equal(pkt.Payload, payload) {
			t.Errorf("server decrypted payload = %v, want %v", pkt, payload)
		}
	}
}

// TestPartialDecode verifies decode is resumable across arbitrary read
// boundaries.
func TestPartialDecode(t *testing.T) {
	t.Parallel()

	sender := NewCodec()
	payload := []byte("partial frame payload")
	frame, err := sender.Encode(&Packet{Opcode: CMSGTextEmote, Payload: payload})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	receiver := NewCodec()
	for i, b := range frame {
		receiver.Feed([]byte{b})
		pkt, err := receiver.Next()
		if err != nil {
			t.Fatalf("Next() after byte %d error = %v", i, err)
		}
		if i < len(frame)-1 {
			if pkt != nil {
				t.Fatalf("Next() returned packet after %d of %d bytes", i+1, len(frame))
			}
		} else {
			if pkt == nil {
				t.Fatal("Next() = nil after full frame")
			}
			if !bytes.Equal(pkt.Payload, payload) {
				t.Errorf("payload = %q, want %q", pkt.Payload, payload)
			}
		}
	}

	if receiver.Buffered() != 0 {
		t.Errorf("Buffered() = %d, want 0", receiver.Buffered())
	}
}

// TestDecodeErrors covers malformed frames.
func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	badOpcode := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(badOpcode[0:2], 2)
	binary.LittleEndian.PutUint16(badOpcode[2:4], NumMsgTypes)

	shortSize := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(shortSize[0:2], 1)

	hugeSize := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(hugeSize[0:2], MaxFrameSize+1)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "opcode out of range", data: badOpcode},
		{name: "size below opcode width", data: shortSize},
		{name: "size above frame limit", data: hugeSize},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := NewCodec()
			c.Feed(tt.data)
			_, err := c.Next()
			if err == nil {
				t.Fatal("Next() error = nil, want protocol error")
			}
			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Errorf("error type = %T, want *ProtocolError", err)
			}
		})
	}
}

// TestDoubleCipherInstall rejects re-keying an already ciphered codec.
func TestDoubleCipherInstall(t *testing.T) {
	t.Parallel()

	c := NewCodec()
	key := []byte("some session key bytes")
	if err := c.InstallCipher(key, SideServer); err != nil {
		t.Fatalf("first InstallCipher() error = %v", err)
	}
	if err := c.InstallCipher(key, SideServer); err == nil {
		t.Error("second InstallCipher() error = nil, want error")
	}
}
