package session

import (
	"testing"
)

func TestAFKDNDToggles(t *testing.T) {
	t.Parallel()

	p := NewPlayer(1, "Arthas", 60, FactionAlliance)

	if !p.SetAFK("brb") {
		t.Fatal("SetAFK() = false on first toggle")
	}
	if p.AFKMessage != "brb" {
		t.Errorf("AFKMessage = %q, want brb", p.AFKMessage)
	}

	// Non-empty message while away only updates the text.
	if !p.SetAFK("coffee") {
		t.Error("SetAFK(update) flipped the toggle")
	}
	if p.AFKMessage != "coffee" {
		t.Errorf("AFKMessage = %q, want coffee", p.AFKMessage)
	}

	// Empty message toggles off.
	if p.SetAFK("") {
		t.Error("SetAFK(empty) did not toggle off")
	}
	if p.AFKMessage != "" {
		t.Errorf("AFKMessage = %q after toggle off, want empty", p.AFKMessage)
	}
}

func TestStatusesMutuallyExclusive(t *testing.T) {
	t.Parallel()

	p := NewPlayer(1, "Arthas", 60, FactionAlliance)

	p.SetAFK("away")
	p.SetDND("busy")
	if p.AFK {
		t.Error("AFK still set after SetDND")
	}
	if !p.DND {
		t.Error("DND not set")
	}

	p.SetAFK("away again")
	if p.DND {
		t.Error("DND still set after SetAFK")
	}
	if !p.AFK || p.AFKMessage != "away again" {
		t.Errorf("AFK = %t message = %q", p.AFK, p.AFKMessage)
	}
}

func TestSpeakingGroupPreference(t *testing.T) {
	t.Parallel()

	p := NewPlayer(1, "Arthas", 60, FactionAlliance)
	p.Group = GroupRef{ID: 10, Kind: GroupBattleground, Rank: RankMember}
	p.OriginalGroup = GroupRef{ID: 20, Kind: GroupRaid, Rank: RankLeader}

	if got := p.SpeakingGroup(false); got.ID != 20 {
		t.Errorf("SpeakingGroup(false).ID = %d, want original group 20", got.ID)
	}
	if got := p.SpeakingGroup(true); got.ID != 10 {
		t.Errorf("SpeakingGroup(true).ID = %d, want current group 10", got.ID)
	}

	// Without an original group the current one is used.
	p.OriginalGroup = GroupRef{}
	if got := p.SpeakingGroup(false); got.ID != 10 {
		t.Errorf("SpeakingGroup(false).ID = %d without original, want 10", got.ID)
	}
}

func TestHasSkill(t *testing.T) {
	t.Parallel()

	p := NewPlayer(1, "Arthas", 60, FactionAlliance)
	if !p.HasSkill(0) {
		t.Error("HasSkill(0) = false, want always true")
	}
	if p.HasSkill(109) {
		t.Error("HasSkill(109) = true before learning")
	}
	p.LearnSkill(109)
	if !p.HasSkill(109) {
		t.Error("HasSkill(109) = false after learning")
	}
}
