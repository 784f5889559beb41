package world

import (
	"sync"

	"github.com/worldgate-project/worldgate/internal/chat"
	"github.com/worldgate-project/worldgate/internal/protocol"
	"github.com/worldgate-project/worldgate/internal/session"
)

// Group is a live party, raid, or battleground raid.
type Group struct {
	mu      sync.RWMutex
	id      uint64
	kind    session.GroupKind
	members map[uint64]*session.Session
	ranks   map[uint64]session.GroupRank
}

// ID returns the group id.
func (g *Group) ID() uint64 { return g.id }

// Kind implements chat.Group.
func (g *Group) Kind() session.GroupKind {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.kind
}

// IsMember implements chat.Group.
func (g *Group) IsMember(guid uint64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.members[guid]
	return ok
}

// Broadcast implements chat.Group: delivery to every member not in the
// exclusion set.
func (g *Group) Broadcast(pkt *protocol.Packet, exclude map[uint64]bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for guid, s := range g.members {
		if exclude[guid] {
			continue
		}
		s.SendPacket(pkt)
	}
}

// AddMember inserts a member and stamps the session's group reference.
func (g *Group) AddMember(s *session.Session, rank session.GroupRank) {
	if s.Player == nil {
		return
	}
	g.mu.Lock()
	g.members[s.Player.GUID] = s
	g.ranks[s.Player.GUID] = rank
	kind := g.kind
	id := g.id
	g.mu.Unlock()

	s.Player.Group = session.GroupRef{ID: id, Kind: kind, Rank: rank}
}

// RemoveMember drops a member and reports whether the group is empty.
func (g *Group) RemoveMember(guid uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.members, guid)
	delete(g.ranks, guid)
	return len(g.members) == 0
}

// Size returns the member count.
func (g *Group) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

// ConvertToRaid promotes a party to a raid in place; member refs are
// restamped.
func (g *Group) ConvertToRaid() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.kind != session.GroupParty {
		return
	}
	g.kind = session.GroupRaid
	for guid, s := range g.members {
		if s.Player != nil {
			s.Player.Group = session.GroupRef{ID: g.id, Kind: g.kind, Rank: g.ranks[guid]}
		}
	}
}

// GroupManager allocates and resolves groups.
type GroupManager struct {
	mu     sync.RWMutex
	nextID uint64
	groups map[uint64]*Group
}

// NewGroupManager returns an empty manager.
func NewGroupManager() *GroupManager {
	return &GroupManager{
		nextID: 1,
		groups: make(map[uint64]*Group),
	}
}

// Get implements chat.GroupProvider. Returns nil for stale ids.
func (m *GroupManager) Get(id uint64) chat.Group {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if g, ok := m.groups[id]; ok {
		return g
	}
	return nil
}

// Create allocates a group with the leader as first member.
func (m *GroupManager) Create(kind session.GroupKind, leader *session.Session) *Group {
	m.mu.Lock()
	g := &Group{
		id:      m.nextID,
		kind:    kind,
		members: make(map[uint64]*session.Session),
		ranks:   make(map[uint64]session.GroupRank),
	}
	m.nextID++
	m.groups[g.id] = g
	m.mu.Unlock()

	g.AddMember(leader, session.RankLeader)
	return g
}

// Disband removes the group and clears member refs.
func (m *GroupManager) Disband(id uint64) {
	m.mu.Lock()
	g, ok := m.groups[id]
	if ok {
		delete(m.groups, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.members {
		if s.Player != nil && s.Player.Group.ID == id {
			s.Player.Group = session.GroupRef{}
		}
	}
}
