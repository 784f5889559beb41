package account

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "accounts.db"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLookupByName(t *testing.T) {
	s := newTestStore(t)

	created, err := s.CreateAccount("arthas", SecPlayer, 0)
	if err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	if created.Name != "ARTHAS" {
		t.Errorf("created name = %q, want uppercased ARTHAS", created.Name)
	}

	key := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02}
	if err := s.SetSessionKey(created.ID, key); err != nil {
		t.Fatalf("SetSessionKey() error = %v", err)
	}

	// Lookup is case-insensitive.
	for _, name := range []string{"ARTHAS", "arthas", "Arthas"} {
		got, err := s.LookupByName(name)
		if err != nil {
			t.Fatalf("LookupByName(%q) error = %v", name, err)
		}
		if got.ID != created.ID {
			t.Errorf("LookupByName(%q).ID = %d, want %d", name, got.ID, created.ID)
		}
		if !bytes.Equal(got.SessionKey, key) {
			t.Errorf("LookupByName(%q).SessionKey = %x, want %x", name, got.SessionKey, key)
		}
	}

	if _, err := s.LookupByName("UTHER"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("LookupByName(missing) error = %v, want ErrAccountNotFound", err)
	}
}

func TestSecurityLevelCappedOnRead(t *testing.T) {
	s := newTestStore(t)

	a, err := s.CreateAccount("corrupt", SecPlayer, 0)
	if err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	if _, err := s.db.Exec("UPDATE accounts SET security = 99 WHERE id = ?", a.ID); err != nil {
		t.Fatalf("raw update error = %v", err)
	}

	got, err := s.LookupByName("CORRUPT")
	if err != nil {
		t.Fatalf("LookupByName() error = %v", err)
	}
	if got.Security != MaxSecurityLevel {
		t.Errorf("Security = %v, want capped to %v", got.Security, MaxSecurityLevel)
	}
}

func TestBans(t *testing.T) {
	s := newTestStore(t)

	a, err := s.CreateAccount("banned", SecPlayer, 0)
	if err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}

	if banned, _ := s.IsBanned(a.ID); banned {
		t.Error("new account reported banned")
	}

	// Permanent ban (zero duration).
	if err := s.BanAccount(a.ID, 0, "abuse", "console"); err != nil {
		t.Fatalf("BanAccount() error = %v", err)
	}
	if banned, _ := s.IsBanned(a.ID); !banned {
		t.Error("permanent ban not active")
	}

	if err := s.UnbanAccount(a.ID); err != nil {
		t.Fatalf("UnbanAccount() error = %v", err)
	}
	if banned, _ := s.IsBanned(a.ID); banned {
		t.Error("account still banned after unban")
	}

	// Timed ban in the future stays active.
	if err := s.BanAccount(a.ID, time.Hour, "spam", "console"); err != nil {
		t.Fatalf("BanAccount() error = %v", err)
	}
	if banned, _ := s.IsBanned(a.ID); !banned {
		t.Error("timed ban not active")
	}
}

func TestIPBans(t *testing.T) {
	s := newTestStore(t)

	if banned, _ := s.IsIPBanned("10.0.0.1"); banned {
		t.Error("unknown IP reported banned")
	}
	if _, err := s.db.Exec("INSERT INTO ip_bans (ip, reason) VALUES (?, ?)", "10.0.0.1", "proxy"); err != nil {
		t.Fatalf("insert ip ban error = %v", err)
	}
	if banned, _ := s.IsIPBanned("10.0.0.1"); !banned {
		t.Error("IP ban not active")
	}
}

func TestMuteRoundTrip(t *testing.T) {
	s := newTestStore(t)

	a, err := s.CreateAccount("muted", SecPlayer, 0)
	if err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}

	if err := s.SetMute(a.ID, 10*time.Minute, "spam", true); err != nil {
		t.Fatalf("SetMute() error = %v", err)
	}

	got, err := s.LookupByName("MUTED")
	if err != nil {
		t.Fatalf("LookupByName() error = %v", err)
	}
	if got.MuteRemaining != 10*time.Minute {
		t.Errorf("MuteRemaining = %v, want 10m", got.MuteRemaining)
	}
	if !got.IsMutePausing() {
		t.Error("IsMutePausing() = false, want true")
	}
	if got.MuteReason != "spam" {
		t.Errorf("MuteReason = %q, want spam", got.MuteReason)
	}

	s.SaveMuteRemaining(a.ID, 3*time.Minute)
	s.Flush()

	got, err = s.LookupByName("MUTED")
	if err != nil {
		t.Fatalf("LookupByName() error = %v", err)
	}
	if got.MuteRemaining != 3*time.Minute {
		t.Errorf("MuteRemaining after save = %v, want 3m", got.MuteRemaining)
	}
}

func TestMaxCharacterLevelHighWaterMark(t *testing.T) {
	s := newTestStore(t)

	a, err := s.CreateAccount("leveler", SecPlayer, 0)
	if err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}

	s.UpdateMaxCharacterLevel(a.ID, 40)
	s.UpdateMaxCharacterLevel(a.ID, 25) // lower, must not regress
	s.Flush()

	got, err := s.LookupByName("LEVELER")
	if err != nil {
		t.Fatalf("LookupByName() error = %v", err)
	}
	if got.MaxCharacterLevel != 40 {
		t.Errorf("MaxCharacterLevel = %d, want 40", got.MaxCharacterLevel)
	}
}

func TestChatLog(t *testing.T) {
	s := newTestStore(t)

	s.LogChat(ChatLogEntry{
		Type:       "SAY",
		Language:   7,
		SenderGUID: 100,
		SenderName: "Arthas",
		Message:    "hello",
	})
	s.LogChat(ChatLogEntry{
		Type:       "WHISPER",
		Language:   7,
		SenderGUID: 100,
		SenderName: "Arthas",
		TargetGUID: 200,
		TargetName: "Uther",
		Message:    "psst",
	})
	s.Flush()

	entries, err := s.RecentChat(10)
	if err != nil {
		t.Fatalf("RecentChat() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	// Most recent first.
	if entries[0].Type != "WHISPER" || entries[0].TargetName != "Uther" {
		t.Errorf("entries[0] = %+v, want the whisper", entries[0])
	}
	if entries[1].Type != "SAY" || entries[1].Message != "hello" {
		t.Errorf("entries[1] = %+v, want the say", entries[1])
	}
}
