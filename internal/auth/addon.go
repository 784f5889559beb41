package auth

import (
	"fmt"

	"github.com/worldgate-project/worldgate/internal/protocol"
)

// MaxAddons bounds the addon list a client may declare.
const MaxAddons = 256

// AddonEntry is one addon declared by the client during the handshake.
type AddonEntry struct {
	Name    string
	CRC     uint32
	Enabled bool
}

// ParseAddonInfo decodes the addon block trailing CMSG_AUTH_SESSION.
//
// The grammar is exact: a uint32 entry count followed by count records of
// (name cstring, crc uint32, enabled uint8), with no trailing bytes. Names
// must be non-empty printable ASCII. Anything else is a parse error and the
// caller kicks the connection; a block that almost parses is just as
// tampered as one that doesn't.
func ParseAddonInfo(block []byte) ([]AddonEntry, error) {
	if len(block) == 0 {
		return nil, nil
	}

	r := (&protocol.Packet{Payload: block}).Reader()

	count, err := r.Uint32()
	if err != nil {
		return nil, fmt.Errorf("addon count: %w", err)
	}
	if count > MaxAddons {
		return nil, fmt.Errorf("addon count %d exceeds limit %d", count, MaxAddons)
	}

	entries := make([]AddonEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		var e AddonEntry
		if e.Name, err = r.String(); err != nil {
			return nil, fmt.Errorf("addon %d name: %w", i, err)
		}
		if !validAddonName(e.Name) {
			return nil, fmt.Errorf("addon %d has invalid name %q", i, e.Name)
		}
		if e.CRC, err = r.Uint32(); err != nil {
			return nil, fmt.Errorf("addon %d crc: %w", i, err)
		}
		enabled, err := r.Uint8()
		if err != nil {
			return nil, fmt.Errorf("addon %d enabled flag: %w", i, err)
		}
		if enabled > 1 {
			return nil, fmt.Errorf("addon %d enabled flag %d not boolean", i, enabled)
		}
		e.Enabled = enabled == 1
		entries = append(entries, e)
	}

	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after addon list", r.Remaining())
	}

	return entries, nil
}

// validAddonName accepts non-empty printable ASCII without spaces.
func validAddonName(name string) bool {
	if name == "" || len(name) > 128 {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= 0x20 || c >= 0x7F {
			return false
		}
	}
	return true
}
