package chat

import (
	"testing"

	"github.com/worldgate-project/worldgate/internal/config"
	"github.com/worldgate-project/worldgate/internal/protocol"
	"github.com/worldgate-project/worldgate/internal/session"
)

func TestAddonAllowed(t *testing.T) {
	t.Parallel()

	allowed := []protocol.ChatType{
		protocol.ChatParty, protocol.ChatGuild, protocol.ChatOfficer,
		protocol.ChatRaid, protocol.ChatRaidLeader, protocol.ChatRaidWarning,
		protocol.ChatBattleground, protocol.ChatBattlegroundLeader,
		protocol.ChatChannel,
	}
	for _, ct := range allowed {
		if !AddonAllowed(ct) {
			t.Errorf("AddonAllowed(%s) = false", ct)
		}
	}

	denied := []protocol.ChatType{
		protocol.ChatSay, protocol.ChatYell, protocol.ChatWhisper,
		protocol.ChatEmote, protocol.ChatAfk, protocol.ChatDnd,
		protocol.ChatIgnored,
	}
	for _, ct := range denied {
		if AddonAllowed(ct) {
			t.Errorf("AddonAllowed(%s) = true", ct)
		}
	}
}

func TestSubstituteLanguage(t *testing.T) {
	t.Parallel()

	troll := uint32(protocol.LangTroll)

	tests := []struct {
		name     string
		gm       bool
		override *uint32
		chatType protocol.ChatType
		lang     protocol.Language
		cfg      config.ChatConfig
		want     protocol.Language
	}{
		{
			name:     "plain say unchanged",
			chatType: protocol.ChatSay,
			lang:     protocol.LangCommon,
			want:     protocol.LangCommon,
		},
		{
			name:     "gamemaster forces universal",
			gm:       true,
			chatType: protocol.ChatSay,
			lang:     protocol.LangCommon,
			want:     protocol.LangUniversal,
		},
		{
			name:     "cross faction rewrites common",
			chatType: protocol.ChatSay,
			lang:     protocol.LangCommon,
			cfg:      config.ChatConfig{CrossFactionChat: true},
			want:     protocol.LangUniversal,
		},
		{
			name:     "cross faction rewrites orcish",
			chatType: protocol.ChatYell,
			lang:     protocol.LangOrcish,
			cfg:      config.ChatConfig{CrossFactionChat: true},
			want:     protocol.LangUniversal,
		},
		{
			name:     "cross faction leaves racial tongues",
			chatType: protocol.ChatSay,
			lang:     protocol.LangGnomish,
			cfg:      config.ChatConfig{CrossFactionChat: true},
			want:     protocol.LangGnomish,
		},
		{
			name:     "group toggle covers party",
			chatType: protocol.ChatParty,
			lang:     protocol.LangCommon,
			cfg:      config.ChatConfig{CrossFactionGroup: true},
			want:     protocol.LangUniversal,
		},
		{
			name:     "group toggle ignores say",
			chatType: protocol.ChatSay,
			lang:     protocol.LangCommon,
			cfg:      config.ChatConfig{CrossFactionGroup: true},
			want:     protocol.LangCommon,
		},
		{
			name:     "guild toggle covers officer",
			chatType: protocol.ChatOfficer,
			lang:     protocol.LangCommon,
			cfg:      config.ChatConfig{CrossFactionGuild: true},
			want:     protocol.LangUniversal,
		},
		{
			name:     "override wins over gamemaster",
			gm:       true,
			override: &troll,
			chatType: protocol.ChatSay,
			lang:     protocol.LangCommon,
			want:     protocol.LangTroll,
		},
		{
			name:     "addon passes through untouched",
			gm:       true,
			override: &troll,
			chatType: protocol.ChatParty,
			lang:     protocol.LangAddon,
			want:     protocol.LangAddon,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := session.NewPlayer(1, "Arthas", 60, session.FactionAlliance)
			p.GMMode = tt.gm
			p.ModLanguage = tt.override
			if got := SubstituteLanguage(p, tt.chatType, tt.lang, tt.cfg); got != tt.want {
				t.Errorf("SubstituteLanguage(%s, %d) = %d, want %d", tt.chatType, tt.lang, got, tt.want)
			}
		})
	}
}
