package chat

import (
	"github.com/worldgate-project/worldgate/internal/config"
	"github.com/worldgate-project/worldgate/internal/protocol"
	"github.com/worldgate-project/worldgate/internal/session"
)

// addonAllowedTypes is the fixed allow-list of message types that may
// carry the addon pseudo-language. Anything else with the addon language
// is dropped silently.
var addonAllowedTypes = map[protocol.ChatType]bool{
	protocol.ChatParty:              true,
	protocol.ChatGuild:              true,
	protocol.ChatOfficer:            true,
	protocol.ChatRaid:               true,
	protocol.ChatRaidLeader:         true,
	protocol.ChatRaidWarning:        true,
	protocol.ChatBattleground:       true,
	protocol.ChatBattlegroundLeader: true,
	protocol.ChatChannel:            true,
}

// AddonAllowed reports whether the message type may carry the addon
// language.
func AddonAllowed(t protocol.ChatType) bool {
	return addonAllowedTypes[t]
}

func isGroupType(t protocol.ChatType) bool {
	switch t {
	case protocol.ChatParty, protocol.ChatRaid, protocol.ChatRaidLeader,
		protocol.ChatRaidWarning, protocol.ChatBattleground,
		protocol.ChatBattlegroundLeader:
		return true
	}
	return false
}

func isGuildType(t protocol.ChatType) bool {
	return t == protocol.ChatGuild || t == protocol.ChatOfficer
}

func isFactionTongue(lang protocol.Language) bool {
	return lang == protocol.LangCommon || lang == protocol.LangOrcish
}

// SubstituteLanguage applies the language substitution chain to a
// non-addon message: gamemaster mode forces universal; global
// cross-faction chat rewrites the two faction tongues; group and guild
// cross-faction toggles force universal for their types; an active
// language-override effect wins over everything computed.
func SubstituteLanguage(p *session.Player, chatType protocol.ChatType, lang protocol.Language, cfg config.ChatConfig) protocol.Language {
	if lang == protocol.LangAddon {
		return lang
	}

	switch {
	case p.GMMode:
		lang = protocol.LangUniversal
	case cfg.CrossFactionChat && isFactionTongue(lang):
		lang = protocol.LangUniversal
	default:
		if isGroupType(chatType) && cfg.CrossFactionGroup {
			lang = protocol.LangUniversal
		}
		if isGuildType(chatType) && cfg.CrossFactionGuild {
			lang = protocol.LangUniversal
		}
	}

	if p.ModLanguage != nil {
		lang = protocol.Language(*p.ModLanguage)
	}
	return lang
}
