package session

// Faction is a player's side for cross-faction chat policy.
type Faction uint8

const (
	FactionAlliance Faction = iota
	FactionHorde
)

// GroupKind distinguishes the group containers a player can speak into.
type GroupKind uint8

const (
	GroupNone GroupKind = iota
	GroupParty
	GroupRaid
	GroupBattleground
)

// GroupRank is a member's standing within a group.
type GroupRank uint8

const (
	RankMember GroupRank = iota
	RankAssistant
	RankLeader
)

// GroupRef points a player at a group instance.
type GroupRef struct {
	ID   uint64
	Kind GroupKind
	Rank GroupRank
}

// Player holds the per-character runtime state the chat layer consults.
// It is owned by the Session and mutated only from the logic tick.
type Player struct {
	GUID    uint64
	Name    string
	Level   uint32
	Zone    uint32
	Faction Faction

	Alive    bool
	InCombat bool

	// GMMode is the active gamemaster toggle, distinct from the account
	// security tier.
	GMMode bool

	AFK        bool
	AFKMessage string
	DND        bool
	DNDMessage string

	// AcceptsWhispers is the unsolicited-whisper opt-in. Staff and
	// self-whispers bypass it.
	AcceptsWhispers bool

	GuildID uint32

	// Group and OriginalGroup track current versus pre-battleground
	// membership. Group chat prefers the original group; battleground
	// types always use the current one.
	Group         GroupRef
	OriginalGroup GroupRef

	// ModLanguage is the language id forced by an active language-
	// override effect. Only the first applied effect counts.
	ModLanguage *uint32

	skills map[uint32]bool
}

// NewPlayer returns a live player with no learned language skills.
func NewPlayer(guid uint64, name string, level uint32, faction Faction) *Player {
	return &Player{
		GUID:            guid,
		Name:            name,
		Level:           level,
		Faction:         faction,
		Alive:           true,
		AcceptsWhispers: true,
		skills:          make(map[uint32]bool),
	}
}

// LearnSkill marks a skill line as known.
func (p *Player) LearnSkill(skillID uint32) {
	p.skills[skillID] = true
}

// HasSkill reports whether the skill line is known. Skill id 0 means the
// language needs no skill and is always known.
func (p *Player) HasSkill(skillID uint32) bool {
	if skillID == 0 {
		return true
	}
	return p.skills[skillID]
}

// SpeakingGroup resolves which group a non-battleground group message
// targets: the original group when one exists, else the current group.
func (p *Player) SpeakingGroup(battleground bool) GroupRef {
	if battleground {
		return p.Group
	}
	if p.OriginalGroup.ID != 0 {
		return p.OriginalGroup
	}
	return p.Group
}

// SetAFK applies the away toggle. A non-empty message while already away
// only updates the status text; an empty message flips the toggle. Setting
// away clears busy. Returns the resulting away state.
func (p *Player) SetAFK(message string) bool {
	if message != "" || !p.AFK {
		p.AFKMessage = message
	}
	if message == "" || !p.AFK {
		p.AFK = !p.AFK
		if !p.AFK {
			p.AFKMessage = ""
		}
		if p.AFK && p.DND {
			p.DND = false
			p.DNDMessage = ""
		}
	}
	return p.AFK
}

// SetDND applies the busy toggle with the same message semantics as
// SetAFK. Setting busy clears away. Returns the resulting busy state.
func (p *Player) SetDND(message string) bool {
	if message != "" || !p.DND {
		p.DNDMessage = message
	}
	if message == "" || !p.DND {
		p.DND = !p.DND
		if !p.DND {
			p.DNDMessage = ""
		}
		if p.DND && p.AFK {
			p.AFK = false
			p.AFKMessage = ""
		}
	}
	return p.DND
}
