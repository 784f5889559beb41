package world

import (
	"sync"

	"github.com/worldgate-project/worldgate/internal/protocol"
	"github.com/worldgate-project/worldgate/internal/session"
)

// GuildRoster tracks which live sessions belong to which guild and which
// of them hold officer standing. Guild membership itself lives with the
// character data upstream; this mirror only serves chat fan-out.
type GuildRoster struct {
	mu       sync.RWMutex
	members  map[uint32]map[uint64]*session.Session
	officers map[uint32]map[uint64]bool
}

// NewGuildRoster returns an empty roster.
func NewGuildRoster() *GuildRoster {
	return &GuildRoster{
		members:  make(map[uint32]map[uint64]*session.Session),
		officers: make(map[uint32]map[uint64]bool),
	}
}

// Attach registers a session under its guild when the player enters the
// world.
func (r *GuildRoster) Attach(s *session.Session, officer bool) {
	if s.Player == nil || s.Player.GuildID == 0 {
		return
	}
	guildID := s.Player.GuildID
	guid := s.Player.GUID

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[guildID] == nil {
		r.members[guildID] = make(map[uint64]*session.Session)
		r.officers[guildID] = make(map[uint64]bool)
	}
	r.members[guildID][guid] = s
	if officer {
		r.officers[guildID][guid] = true
	}
}

// Detach removes a session from its guild mirror on logout.
func (r *GuildRoster) Detach(guildID uint32, guid uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[guildID]; ok {
		delete(m, guid)
		delete(r.officers[guildID], guid)
		if len(m) == 0 {
			delete(r.members, guildID)
			delete(r.officers, guildID)
		}
	}
}

// BroadcastToGuild implements chat.GuildProvider.
func (r *GuildRoster) BroadcastToGuild(guildID uint32, pkt *protocol.Packet) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.members[guildID] {
		s.SendPacket(pkt)
	}
}

// BroadcastToOfficers implements chat.GuildProvider.
func (r *GuildRoster) BroadcastToOfficers(guildID uint32, pkt *protocol.Packet) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for guid, s := range r.members[guildID] {
		if r.officers[guildID][guid] {
			s.SendPacket(pkt)
		}
	}
}

// OnlineCount returns how many members of the guild are connected.
func (r *GuildRoster) OnlineCount(guildID uint32) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members[guildID])
}
