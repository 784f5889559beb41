package world

import (
	"github.com/worldgate-project/worldgate/internal/protocol"
	"github.com/worldgate-project/worldgate/internal/session"
)

// ZoneProximity fans say/emote/yell traffic out by zone. Say and emote
// reach the sender's zone; yell additionally reaches zones linked to it
// (adjacent zones sharing a yell range).
type ZoneProximity struct {
	registry *session.Registry

	// linked maps a zone to the extra zones a yell carries into.
	linked map[uint32][]uint32
}

// NewZoneProximity builds the proximity router over the live registry.
func NewZoneProximity(registry *session.Registry) *ZoneProximity {
	return &ZoneProximity{
		registry: registry,
		linked:   make(map[uint32][]uint32),
	}
}

// LinkZones declares that yells in zone a also reach zone b and vice
// versa.
func (z *ZoneProximity) LinkZones(a, b uint32) {
	z.linked[a] = append(z.linked[a], b)
	z.linked[b] = append(z.linked[b], a)
}

// BroadcastNear implements chat.Proximity. The sender receives its own
// message back, matching the client's echo expectation.
func (z *ZoneProximity) BroadcastNear(sender *session.Session, pkt *protocol.Packet, yell bool) {
	if sender.Player == nil {
		return
	}
	zones := map[uint32]bool{sender.Player.Zone: true}
	if yell {
		for _, linked := range z.linked[sender.Player.Zone] {
			zones[linked] = true
		}
	}

	for _, s := range z.registry.Snapshot() {
		if s.Player == nil || s.Closing() {
			continue
		}
		if zones[s.Player.Zone] {
			s.SendPacket(pkt)
		}
	}
}
