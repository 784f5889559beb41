package world

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/worldgate-project/worldgate/internal/chat"
	"github.com/worldgate-project/worldgate/internal/protocol"
	"github.com/worldgate-project/worldgate/internal/session"
	"github.com/worldgate-project/worldgate/internal/util"
)

// Channel is one live chat channel. Public channels are created at
// startup; custom channels appear when the first player joins and vanish
// with the last.
type Channel struct {
	mu       sync.RWMutex
	name     string
	custom   bool
	general  bool
	minLevel uint32

	members map[uint64]*session.Session
	// lastMessage backs the public-channel cooldown, keyed by account so
	// relogging on an alt does not reset it.
	lastMessage map[uint32]time.Time
}

func newChannel(name string, custom bool) *Channel {
	return &Channel{
		name:        name,
		custom:      custom,
		members:     make(map[uint64]*session.Session),
		lastMessage: make(map[uint32]time.Time),
	}
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Custom reports whether the channel is player-created.
func (c *Channel) Custom() bool { return c.custom }

// General reports whether this is the designated general channel.
func (c *Channel) General() bool { return c.general }

// MinLevel returns the minimum level required to speak.
func (c *Channel) MinLevel() uint32 { return c.minLevel }

// Joined reports whether the player is a member.
func (c *Channel) Joined(guid uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.members[guid]
	return ok
}

// Join adds a session to the channel.
func (c *Channel) Join(s *session.Session) {
	if s.Player == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members[s.Player.GUID] = s
}

// Leave removes a member and reports whether the channel is now empty.
func (c *Channel) Leave(guid uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.members, guid)
	return len(c.members) == 0
}

// Broadcast delivers a packet to every member except the excluded GUID.
func (c *Channel) Broadcast(pkt *protocol.Packet, exclude uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for guid, s := range c.members {
		if guid == exclude {
			continue
		}
		s.SendPacket(pkt)
	}
}

// LastMessage returns the account's previous message time in this
// channel.
func (c *Channel) LastMessage(accountID uint32) time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastMessage[accountID]
}

// MarkMessage stamps the account's cooldown clock.
func (c *Channel) MarkMessage(accountID uint32, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastMessage[accountID] = at
}

// MemberCount returns the current membership size.
func (c *Channel) MemberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// ChannelManager owns all live channels, public and custom.
type ChannelManager struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	log      zerolog.Logger
}

// publicChannel declares a channel created at startup.
type publicChannel struct {
	name     string
	general  bool
	minLevel uint32
}

var defaultPublicChannels = []publicChannel{
	{name: "General", general: true, minLevel: 1},
	{name: "Trade", minLevel: 10},
	{name: "LookingForGroup", minLevel: 10},
	{name: "WorldDefense", minLevel: 1},
}

// NewChannelManager seeds the public channels.
func NewChannelManager() *ChannelManager {
	m := &ChannelManager{
		channels: make(map[string]*Channel),
		log:      util.ComponentLogger("channels"),
	}
	for _, pc := range defaultPublicChannels {
		ch := newChannel(pc.name, false)
		ch.general = pc.general
		ch.minLevel = pc.minLevel
		m.channels[channelKey(pc.name)] = ch
	}
	return m
}

// Get implements chat.ChannelProvider. Returns nil for unknown channels.
func (m *ChannelManager) Get(name string) chat.Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ch, ok := m.channels[channelKey(name)]; ok {
		return ch
	}
	return nil
}

// Join adds the session to the named channel, creating a custom channel
// on first join.
func (m *ChannelManager) Join(name string, s *session.Session) *Channel {
	m.mu.Lock()
	ch, ok := m.channels[channelKey(name)]
	if !ok {
		ch = newChannel(name, true)
		m.channels[channelKey(name)] = ch
		m.log.Debug().Str("channel", name).Msg("custom channel created")
	}
	m.mu.Unlock()

	ch.Join(s)
	return ch
}

// Leave removes the player from the named channel; an emptied custom
// channel is destroyed.
func (m *ChannelManager) Leave(name string, guid uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[channelKey(name)]
	if !ok {
		return
	}
	if ch.Leave(guid) && ch.Custom() {
		delete(m.channels, channelKey(name))
		m.log.Debug().Str("channel", ch.Name()).Msg("custom channel destroyed")
	}
}

// LeaveAll removes the player from every channel on logout.
func (m *ChannelManager) LeaveAll(guid uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, ch := range m.channels {
		if ch.Leave(guid) && ch.Custom() {
			delete(m.channels, key)
		}
	}
}

// Count returns the number of live channels.
func (m *ChannelManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels)
}

// channelKey canonicalizes channel names: joins are case-insensitive.
func channelKey(name string) string {
	return strings.ToLower(name)
}
