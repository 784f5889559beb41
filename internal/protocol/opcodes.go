// Package protocol implements the client wire protocol: opcode-tagged,
// length-prefixed binary frames with an RC4 stream cipher applied to
// payloads after the authentication handshake completes.
package protocol

import "fmt"

// Client and server opcodes. The numeric range is fixed by the client;
// anything at or above NumMsgTypes is a protocol violation at decode time.
const (
	CMSGMessageChat        uint16 = 0x095
	SMSGMessageChat        uint16 = 0x096
	CMSGTextEmote          uint16 = 0x104
	SMSGTextEmote          uint16 = 0x105
	SMSGNotification       uint16 = 0x1CB
	CMSGPing               uint16 = 0x1DC
	SMSGPong               uint16 = 0x1DD
	SMSGAuthChallenge      uint16 = 0x1EC
	CMSGAuthSession        uint16 = 0x1ED
	SMSGAuthResponse       uint16 = 0x1EE
	SMSGChatWrongFaction   uint16 = 0x219
	CMSGChatIgnored        uint16 = 0x225
	SMSGChatPlayerNotFound uint16 = 0x2A9
	SMSGChatRestricted     uint16 = 0x2FD

	// NumMsgTypes is the exclusive upper bound of the opcode range.
	NumMsgTypes uint16 = 0x300
)

// opcodeNames maps known opcodes to their wire names for logging.
var opcodeNames = map[uint16]string{
	CMSGMessageChat:        "CMSG_MESSAGECHAT",
	SMSGMessageChat:        "SMSG_MESSAGECHAT",
	CMSGTextEmote:          "CMSG_TEXT_EMOTE",
	SMSGTextEmote:          "SMSG_TEXT_EMOTE",
	SMSGNotification:       "SMSG_NOTIFICATION",
	CMSGPing:               "CMSG_PING",
	SMSGPong:               "SMSG_PONG",
	SMSGAuthChallenge:      "SMSG_AUTH_CHALLENGE",
	CMSGAuthSession:        "CMSG_AUTH_SESSION",
	SMSGAuthResponse:       "SMSG_AUTH_RESPONSE",
	SMSGChatWrongFaction:   "SMSG_CHAT_WRONG_FACTION",
	CMSGChatIgnored:        "CMSG_CHAT_IGNORED",
	SMSGChatPlayerNotFound: "SMSG_CHAT_PLAYER_NOT_FOUND",
	SMSGChatRestricted:     "SMSG_CHAT_RESTRICTED",
}

// OpcodeName returns the wire name of an opcode, or a hex form for
// opcodes without a registered handler.
func OpcodeName(op uint16) string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_0x%03X", op)
}

// AuthResult is the response code carried in SMSG_AUTH_RESPONSE.
type AuthResult uint8

const (
	AuthOK              AuthResult = 12
	AuthFailed          AuthResult = 13
	AuthUnavailable     AuthResult = 16
	AuthVersionMismatch AuthResult = 20
	AuthUnknownAccount  AuthResult = 21
	AuthBanned          AuthResult = 27
)

// String returns the response code name.
func (r AuthResult) String() string {
	switch r {
	case AuthOK:
		return "ok"
	case AuthFailed:
		return "failed"
	case AuthUnavailable:
		return "unavailable"
	case AuthVersionMismatch:
		return "version_mismatch"
	case AuthUnknownAccount:
		return "unknown_account"
	case AuthBanned:
		return "banned"
	}
	return "unknown"
}

// ChatType identifies a chat message variant inside CMSG_MESSAGECHAT.
type ChatType uint32

const (
	ChatSay ChatType = iota
	ChatParty
	ChatRaid
	ChatGuild
	ChatOfficer
	ChatYell
	ChatWhisper
	ChatEmote
	ChatChannel
	ChatRaidLeader
	ChatRaidWarning
	ChatBattleground
	ChatBattlegroundLeader
	ChatAfk
	ChatDnd
	ChatIgnored

	// MaxChatType is the exclusive upper bound of valid chat types.
	MaxChatType
)

var chatTypeNames = map[ChatType]string{
	ChatSay:                "say",
	ChatParty:              "party",
	ChatRaid:               "raid",
	ChatGuild:              "guild",
	ChatOfficer:            "officer",
	ChatYell:               "yell",
	ChatWhisper:            "whisper",
	ChatEmote:              "emote",
	ChatChannel:            "channel",
	ChatRaidLeader:         "raid_leader",
	ChatRaidWarning:        "raid_warning",
	ChatBattleground:       "battleground",
	ChatBattlegroundLeader: "battleground_leader",
	ChatAfk:                "afk",
	ChatDnd:                "dnd",
	ChatIgnored:            "ignored",
}

// String returns the lowercase chat type name.
func (t ChatType) String() string {
	if s, ok := chatTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// Language is the declared language of a chat message.
type Language uint32

const (
	LangUniversal  Language = 0
	LangOrcish     Language = 1
	LangDarnassian Language = 2
	LangDwarvish   Language = 6
	LangCommon     Language = 7
	LangDemonic    Language = 8
	LangGnomish    Language = 13
	LangTroll      Language = 14

	// LangAddon marks machine-readable addon traffic, invisible in the
	// normal chat UI.
	LangAddon Language = 0xFFFFFFFF
)

// LanguageDesc describes a recognized language. SkillID is zero for
// languages every character understands.
type LanguageDesc struct {
	ID      Language
	SkillID uint32
}

var languageTable = map[Language]LanguageDesc{
	LangUniversal:  {LangUniversal, 0},
	LangOrcish:     {LangOrcish, 109},
	LangDarnassian: {LangDarnassian, 113},
	LangDwarvish:   {LangDwarvish, 111},
	LangCommon:     {LangCommon, 98},
	LangDemonic:    {LangDemonic, 139},
	LangGnomish:    {LangGnomish, 313},
	LangTroll:      {LangTroll, 315},
	LangAddon:      {LangAddon, 0},
}

// GetLanguageDesc returns the descriptor for a language id, or nil when
// the id is not a recognized language.
func GetLanguageDesc(lang Language) *LanguageDesc {
	if d, ok := languageTable[lang]; ok {
		return &d
	}
	return nil
}
