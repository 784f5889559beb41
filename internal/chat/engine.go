package chat

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/worldgate-project/worldgate/internal/account"
	"github.com/worldgate-project/worldgate/internal/config"
	"github.com/worldgate-project/worldgate/internal/protocol"
	"github.com/worldgate-project/worldgate/internal/session"
	"github.com/worldgate-project/worldgate/internal/util"
)

// Channel is one chat channel instance.
type Channel interface {
	Name() string
	// Custom channels are player-created; everything else is a public
	// (zone/world) channel with stricter policy.
	Custom() bool
	// General marks the designated general channel for the English-only
	// filter.
	General() bool
	MinLevel() uint32
	Joined(guid uint64) bool
	// Broadcast delivers to every member except the excluded sender GUID
	// when exclude is non-zero.
	Broadcast(pkt *protocol.Packet, exclude uint64)
	LastMessage(accountID uint32) time.Time
	MarkMessage(accountID uint32, at time.Time)
}

// ChannelProvider resolves channel names. Get returns nil for unknown
// channels.
type ChannelProvider interface {
	Get(name string) Channel
}

// Group is a party/raid/battleground container.
type Group interface {
	Kind() session.GroupKind
	IsMember(guid uint64) bool
	Broadcast(pkt *protocol.Packet, exclude map[uint64]bool)
}

// GroupProvider resolves group ids. Get returns nil for stale ids.
type GroupProvider interface {
	Get(id uint64) Group
}

// GuildProvider fans messages out to guild rosters.
type GuildProvider interface {
	BroadcastToGuild(guildID uint32, pkt *protocol.Packet)
	BroadcastToOfficers(guildID uint32, pkt *protocol.Packet)
}

// Proximity delivers say/yell/emote traffic to players near the sender.
type Proximity interface {
	BroadcastNear(sender *session.Session, pkt *protocol.Packet, yell bool)
}

// ChatLogger records the audit trail. *account.Store satisfies it.
type ChatLogger interface {
	LogChat(e account.ChatLogEntry)
}

// Antispam may veto delivery of channel and whisper messages. It is never
// consulted for addon traffic and never blocks logging.
type Antispam interface {
	ShouldDeliver(text string, lang protocol.Language, chatType protocol.ChatType, sender, target *session.Session) bool
}

// EmoteEntry is one text-emote template.
type EmoteEntry struct {
	ID   uint32
	Text string
}

// Emotes resolves text-emote ids.
type Emotes interface {
	Get(id uint32) (EmoteEntry, bool)
}

// Deps bundles the collaborators the engine routes through. Registry and
// ChatLog are required; the rest may be nil, disabling the matching
// delivery paths.
type Deps struct {
	Registry  *session.Registry
	Channels  ChannelProvider
	Groups    GroupProvider
	Guilds    GuildProvider
	Proximity Proximity
	ChatLog   ChatLogger
	Antispam  Antispam
	Emotes    Emotes
}

type typeHandler func(s *session.Session, m *Message)

// Engine is the chat dispatch and policy engine. One instance serves all
// sessions; handlers run on the logic tick.
type Engine struct {
	cfg  *config.Config
	deps Deps
	log  zerolog.Logger
	now  func() time.Time

	handlers map[protocol.ChatType]typeHandler
}

// NewEngine wires the policy engine to its collaborators.
func NewEngine(cfg *config.Config, deps Deps) *Engine {
	e := &Engine{
		cfg:  cfg,
		deps: deps,
		log:  util.ComponentLogger("chat"),
		now:  time.Now,
	}
	e.handlers = map[protocol.ChatType]typeHandler{
		protocol.ChatSay:                e.handleSpoken,
		protocol.ChatEmote:              e.handleSpoken,
		protocol.ChatYell:               e.handleSpoken,
		protocol.ChatWhisper:            e.handleWhisper,
		protocol.ChatChannel:            e.handleChannel,
		protocol.ChatParty:              e.handleGroup,
		protocol.ChatRaid:               e.handleGroup,
		protocol.ChatRaidLeader:         e.handleGroup,
		protocol.ChatRaidWarning:        e.handleGroup,
		protocol.ChatBattleground:       e.handleGroup,
		protocol.ChatBattlegroundLeader: e.handleGroup,
		protocol.ChatGuild:              e.handleGuild,
		protocol.ChatOfficer:            e.handleGuild,
		protocol.ChatAfk:                e.handleAFK,
		protocol.ChatDnd:                e.handleDND,
	}
	return e
}

// SessionHandlers returns the opcode handler table entries the engine
// serves, ready to merge into the session dispatch map.
func (e *Engine) SessionHandlers() map[uint16]session.Handler {
	return map[uint16]session.Handler{
		protocol.CMSGMessageChat: e.HandleMessage,
		protocol.CMSGTextEmote:   e.HandleTextEmote,
		protocol.CMSGChatIgnored: e.HandleChatIgnored,
	}
}

// HandleMessage processes one CMSG_MESSAGECHAT through
// Validate -> Authorize -> Route -> Log.
func (e *Engine) HandleMessage(s *session.Session, p *protocol.Packet) {
	m, err := ParseMessage(p)
	if err != nil {
		e.badPacket(s, err)
		return
	}
	if s.Player == nil {
		return
	}

	chatCfg := e.cfg.GetChat()
	now := e.now()

	// Validate the language.
	if m.Language == protocol.LangAddon {
		if !AddonAllowed(m.Type) {
			// No error packet: addon traffic must not leak diagnostics.
			e.log.Debug().
				Str("account", s.AccountName).
				Str("type", m.Type.String()).
				Msg("addon language on disallowed type, dropped")
			return
		}
		if m.Type == protocol.ChatChannel && !chatCfg.AddonChannelEnabled {
			return
		}
	} else {
		desc := protocol.GetLanguageDesc(m.Language)
		if desc == nil {
			s.Notify("That language is unknown.")
			return
		}
		if !s.Player.GMMode && !s.Player.HasSkill(desc.SkillID) {
			s.Notify("You do not know that language.")
			return
		}
	}

	// Mute gate. Addon traffic and status toggles pass; a whisper aimed
	// at a staff member is always allowed through.
	if m.Language != protocol.LangAddon &&
		m.Type != protocol.ChatAfk && m.Type != protocol.ChatDnd &&
		s.IsMuted(now) {
		exempt := false
		if m.Type == protocol.ChatWhisper {
			if t := e.deps.Registry.LookupByPlayerName(NormalizePlayerName(m.Target)); t != nil && t.IsStaff() {
				exempt = true
			}
		}
		if !exempt {
			s.Notify("%s", s.MuteNotice(now))
			return
		}
	}

	if m.Language != protocol.LangAddon {
		if chatCfg.FakeMessagePreventing {
			m.Text = StripInvisibleChars(m.Text)
		}
		if chatCfg.StrictLinkCheckSeverity > 0 &&
			!CheckLinks(m.Text, chatCfg.StrictLinkCheckSeverity >= 2) {
			e.log.Warn().
				Str("account", s.AccountName).
				Str("player", s.Player.Name).
				Msg("malformed chat link")
			if chatCfg.StrictLinkCheckKick {
				s.Kick("malformed chat link")
			}
			return
		}
		if strings.TrimSpace(m.Text) == "" &&
			m.Type != protocol.ChatAfk && m.Type != protocol.ChatDnd {
			return
		}
		m.Language = SubstituteLanguage(s.Player, m.Type, m.Language, chatCfg)
	}

	h, ok := e.handlers[m.Type]
	if !ok {
		e.log.Debug().Str("type", m.Type.String()).Msg("unroutable chat type")
		return
	}
	h(s, m)
}

func (e *Engine) badPacket(s *session.Session, err error) {
	e.log.Warn().Err(err).Str("account", s.AccountName).Msg("malformed chat packet")
	if e.cfg.GetRealm().KickOnBadPacket {
		s.Kick("malformed chat packet")
	}
}

// levelOK applies a per-action level gate with the account-wide
// high-level-character bypass. Staff always pass.
func (e *Engine) levelOK(s *session.Session, min uint32, chatCfg config.ChatConfig) bool {
	if min == 0 || s.IsStaff() {
		return true
	}
	if s.Player.Level >= min {
		return true
	}
	return chatCfg.AccountMaxLevelBypass > 0 && s.MaxCharacterLevel >= chatCfg.AccountMaxLevelBypass
}

// logMessage records the audit entry for a non-addon message. Called only
// after authorization passes; routing failures do not undo it.
func (e *Engine) logMessage(s *session.Session, m *Message, target *session.Session, groupID uint64, guildID uint32) {
	if m.Language == protocol.LangAddon || e.deps.ChatLog == nil {
		return
	}
	entry := account.ChatLogEntry{
		Type:       m.Type.String(),
		Language:   uint32(m.Language),
		SenderGUID: s.Player.GUID,
		SenderName: s.Player.Name,
		Channel:    m.Channel,
		Message:    m.Text,
	}
	if target != nil && target.Player != nil {
		entry.TargetGUID = target.Player.GUID
		entry.TargetName = target.Player.Name
	}
	entry.GroupID = groupID
	entry.GuildID = guildID
	e.deps.ChatLog.LogChat(entry)
}

// handleSpoken covers say, emote, and yell.
func (e *Engine) handleSpoken(s *session.Session, m *Message) {
	chatCfg := e.cfg.GetChat()

	if !s.Player.Alive {
		s.Notify("You cannot chat while dead.")
		return
	}

	var min uint32
	switch m.Type {
	case protocol.ChatSay:
		min = chatCfg.SayMinLevel
	case protocol.ChatEmote:
		min = chatCfg.EmoteMinLevel
	case protocol.ChatYell:
		min = chatCfg.YellMinLevel
	}
	if !e.levelOK(s, min, chatCfg) {
		s.Notify("You must reach level %d before you can do that.", min)
		return
	}
	if m.Type == protocol.ChatYell && chatCfg.EnforcedEnglish && !IsPlainLatin(m.Text) {
		s.Notify("Only plain text is allowed when yelling.")
		return
	}

	e.logMessage(s, m, nil, 0, 0)

	pkt := BuildMessage(m.Type, m.Language, s.Player.GUID, "",
		m.Text, senderTag(s.Player.GMMode, s.Player.AFK, s.Player.DND))
	if e.deps.Proximity != nil {
		e.deps.Proximity.BroadcastNear(s, pkt, m.Type == protocol.ChatYell)
	}
}

func (e *Engine) handleWhisper(s *session.Session, m *Message) {
	chatCfg := e.cfg.GetChat()
	now := e.now()

	name := NormalizePlayerName(m.Target)
	if name == "" {
		return
	}
	target := e.deps.Registry.LookupByPlayerName(name)
	if target == nil || target.Player == nil || target.Closing() {
		s.SendPacket(protocol.NewBuilder(protocol.SMSGChatPlayerNotFound).
			String(name).
			Packet())
		return
	}

	self := target == s
	bothPlayers := !s.IsStaff() && !target.IsStaff()

	if bothPlayers && !self {
		if s.Player.Faction != target.Player.Faction && !chatCfg.CrossFactionChat {
			s.SendPacket(protocol.NewBuilder(protocol.SMSGChatWrongFaction).Packet())
			return
		}
		if s.Player.Zone != target.Player.Zone && !e.levelOK(s, chatCfg.WhisperMinLevel, chatCfg) {
			s.Notify("You must reach level %d to whisper players in other zones.", chatCfg.WhisperMinLevel)
			return
		}
	}

	// The distinct-target limiter binds every non-staff sender, including
	// whispers to staff that bypassed the mute gate.
	if !s.IsStaff() && !self && chatCfg.WhisperRestriction {
		window := time.Duration(chatCfg.WhisperWindowSec) * time.Second
		if !s.Whispers.Allow(target.Player.GUID, now, chatCfg.WhisperTargetCap, window) {
			s.SendPacket(protocol.NewBuilder(protocol.SMSGChatRestricted).Packet())
			return
		}
	}

	if bothPlayers && !self && !target.Player.AcceptsWhispers {
		s.Notify("%s is not accepting whispers.", name)
		return
	}

	e.logMessage(s, m, target, 0, 0)

	if m.Language != protocol.LangAddon && e.deps.Antispam != nil &&
		!e.deps.Antispam.ShouldDeliver(m.Text, m.Language, m.Type, s, target) {
		return
	}

	target.SendPacket(BuildMessage(protocol.ChatWhisper, m.Language, s.Player.GUID, "",
		m.Text, senderTag(s.Player.GMMode, s.Player.AFK, s.Player.DND)))

	// Auto-responses for away and busy recipients.
	if target.Player.AFK {
		s.SendPacket(BuildMessage(protocol.ChatAfk, protocol.LangUniversal,
			target.Player.GUID, "", target.Player.AFKMessage, tagAFK))
	} else if target.Player.DND {
		s.SendPacket(BuildMessage(protocol.ChatDnd, protocol.LangUniversal,
			target.Player.GUID, "", target.Player.DNDMessage, tagDND))
	}
}

func (e *Engine) handleChannel(s *session.Session, m *Message) {
	if e.deps.Channels == nil {
		return
	}
	chatCfg := e.cfg.GetChat()
	now := e.now()

	ch := e.deps.Channels.Get(m.Channel)
	if ch == nil {
		s.Notify("Channel %s does not exist.", m.Channel)
		return
	}
	if !ch.Joined(s.Player.GUID) {
		s.Notify("You are not in channel %s.", ch.Name())
		return
	}
	minLevel := ch.MinLevel()
	if chatCfg.ChannelMinLevel > minLevel {
		minLevel = chatCfg.ChannelMinLevel
	}
	if !e.levelOK(s, minLevel, chatCfg) {
		s.Notify("You must reach level %d to speak in %s.", minLevel, ch.Name())
		return
	}

	if !ch.Custom() {
		if s.IsStaff() && !chatCfg.StaffOnPublicChannels {
			s.Notify("Staff may not speak in public channels.")
			return
		}
		if ch.General() && chatCfg.EnforcedEnglish && !IsPlainLatin(m.Text) {
			s.Notify("Only plain text is allowed in %s.", ch.Name())
			return
		}
		if m.Language != protocol.LangAddon && !s.IsStaff() {
			if cd := e.scaledCooldown(s, chatCfg); cd > 0 {
				if since := now.Sub(ch.LastMessage(s.AccountID)); since < cd {
					s.Notify("You must wait %s before speaking in %s again.",
						(cd - since).Round(time.Second), ch.Name())
					return
				}
				ch.MarkMessage(s.AccountID, now)
			}
		}
	}

	e.logMessage(s, m, nil, 0, 0)

	if m.Language != protocol.LangAddon && e.deps.Antispam != nil &&
		!e.deps.Antispam.ShouldDeliver(m.Text, m.Language, m.Type, s, nil) {
		return
	}

	ch.Broadcast(BuildMessage(protocol.ChatChannel, m.Language, s.Player.GUID, ch.Name(),
		m.Text, senderTag(s.Player.GMMode, s.Player.AFK, s.Player.DND)), 0)
}

// scaledCooldown computes the public-channel cooldown for the sender,
// optionally shrinking linearly between the configured level bounds.
func (e *Engine) scaledCooldown(s *session.Session, chatCfg config.ChatConfig) time.Duration {
	base := time.Duration(chatCfg.ChannelCooldownSec) * time.Second
	if base <= 0 {
		return 0
	}
	if !chatCfg.ChannelCooldownScaling {
		return base
	}

	level := s.Player.Level
	if chatCfg.ChannelCooldownAccountMax && s.MaxCharacterLevel > level {
		level = s.MaxCharacterLevel
	}

	minLvl, maxLvl := chatCfg.ChannelCooldownMinLevel, chatCfg.ChannelCooldownMaxLevel
	switch {
	case level >= maxLvl:
		return 0
	case level <= minLvl || maxLvl <= minLvl:
		return base
	}
	factor := float64(maxLvl-level) / float64(maxLvl-minLvl)
	return time.Duration(float64(base) * factor)
}

func (e *Engine) handleGroup(s *session.Session, m *Message) {
	bg := m.Type == protocol.ChatBattleground || m.Type == protocol.ChatBattlegroundLeader
	ref := s.Player.SpeakingGroup(bg)
	if ref.ID == 0 {
		s.Notify("You are not in a group.")
		return
	}

	switch m.Type {
	case protocol.ChatRaid, protocol.ChatRaidLeader, protocol.ChatRaidWarning:
		if ref.Kind != session.GroupRaid {
			s.Notify("You are not in a raid group.")
			return
		}
	case protocol.ChatBattleground, protocol.ChatBattlegroundLeader:
		if ref.Kind != session.GroupBattleground {
			return
		}
	}

	switch m.Type {
	case protocol.ChatRaidLeader, protocol.ChatBattlegroundLeader:
		if ref.Rank != session.RankLeader {
			return
		}
	case protocol.ChatRaidWarning:
		if ref.Rank < session.RankAssistant {
			return
		}
	}

	if e.deps.Groups == nil {
		return
	}
	grp := e.deps.Groups.Get(ref.ID)
	if grp == nil {
		return
	}

	e.logMessage(s, m, nil, ref.ID, 0)

	pkt := BuildMessage(m.Type, m.Language, s.Player.GUID, "",
		m.Text, senderTag(s.Player.GMMode, s.Player.AFK, s.Player.DND))
	grp.Broadcast(pkt, nil)

	// Battleground chatter is mirrored to observing staff outside the
	// group.
	if bg {
		for _, obs := range e.deps.Registry.Snapshot() {
			if obs.IsStaff() && obs.Player != nil && !grp.IsMember(obs.Player.GUID) {
				obs.SendPacket(pkt)
			}
		}
	}
}

func (e *Engine) handleGuild(s *session.Session, m *Message) {
	if s.Player.GuildID == 0 {
		s.Notify("You are not in a guild.")
		return
	}
	if e.deps.Guilds == nil {
		return
	}

	e.logMessage(s, m, nil, 0, s.Player.GuildID)

	pkt := BuildMessage(m.Type, m.Language, s.Player.GUID, "",
		m.Text, senderTag(s.Player.GMMode, s.Player.AFK, s.Player.DND))
	if m.Type == protocol.ChatOfficer {
		e.deps.Guilds.BroadcastToOfficers(s.Player.GuildID, pkt)
	} else {
		e.deps.Guilds.BroadcastToGuild(s.Player.GuildID, pkt)
	}
}

func (e *Engine) handleAFK(s *session.Session, m *Message) {
	// Combat suppresses the away toggle entirely.
	if s.Player.InCombat {
		return
	}
	s.Player.SetAFK(m.Text)
}

func (e *Engine) handleDND(s *session.Session, m *Message) {
	s.Player.SetDND(m.Text)
}

// HandleTextEmote processes CMSG_TEXT_EMOTE. Emotes are fanned out to
// nearby players and never logged as chat.
func (e *Engine) HandleTextEmote(s *session.Session, p *protocol.Packet) {
	if s.Player == nil {
		return
	}

	r := p.Reader()
	emoteID, err := r.Uint32()
	if err != nil {
		e.badPacket(s, err)
		return
	}
	emoteNum, err := r.Uint32()
	if err != nil {
		e.badPacket(s, err)
		return
	}
	targetGUID, err := r.Uint64()
	if err != nil {
		e.badPacket(s, err)
		return
	}

	if !s.Player.Alive {
		return
	}
	now := e.now()
	if s.IsMuted(now) {
		s.Notify("%s", s.MuteNotice(now))
		return
	}
	if e.deps.Emotes != nil {
		if _, ok := e.deps.Emotes.Get(emoteID); !ok {
			return
		}
	}

	var targetName string
	for _, other := range e.deps.Registry.Snapshot() {
		if other.Player != nil && other.Player.GUID == targetGUID {
			targetName = other.Player.Name
			break
		}
	}

	pkt := protocol.NewBuilder(protocol.SMSGTextEmote).
		Uint64(s.Player.GUID).
		Uint32(emoteID).
		Uint32(emoteNum).
		Uint32(uint32(len(targetName) + 1)).
		String(targetName).
		Packet()
	if e.deps.Proximity != nil {
		e.deps.Proximity.BroadcastNear(s, pkt, false)
	}
}

// HandleChatIgnored relays an "is ignoring you" notice to the ignored
// sender.
func (e *Engine) HandleChatIgnored(s *session.Session, p *protocol.Packet) {
	if s.Player == nil {
		return
	}
	guid, err := p.Reader().Uint64()
	if err != nil {
		e.badPacket(s, err)
		return
	}

	for _, other := range e.deps.Registry.Snapshot() {
		if other.Player != nil && other.Player.GUID == guid {
			other.SendPacket(BuildMessage(protocol.ChatIgnored, protocol.LangUniversal,
				s.Player.GUID, "", s.Player.Name, tagNone))
			return
		}
	}
}
