package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/worldgate-project/worldgate/internal/account"
	"github.com/worldgate-project/worldgate/internal/config"
	"github.com/worldgate-project/worldgate/internal/protocol"
)

type fakeAccounts struct {
	accounts map[string]*account.Account
	banned   map[uint32]bool
	ipBanned map[string]bool
	logins   int
}

func (f *fakeAccounts) LookupByName(name string) (*account.Account, error) {
	a, ok := f.accounts[strings.ToUpper(name)]
	if !ok {
		return nil, account.ErrAccountNotFound
	}
	return a, nil
}

func (f *fakeAccounts) IsBanned(id uint32) (bool, error)  { return f.banned[id], nil }
func (f *fakeAccounts) IsIPBanned(ip string) (bool, error) { return f.ipBanned[ip], nil }
func (f *fakeAccounts) RecordLogin(id uint32, ip string)   { f.logins++ }

var testKey = []byte{
	0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xAA,
	0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x00, 0x10, 0x20, 0x30, 0x40,
	0x50, 0x60, 0x70, 0x80, 0x90, 0xA0, 0xB0, 0xC0, 0xD0, 0xE0,
	0xF0, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09,
}

func testAccount() *account.Account {
	return &account.Account{
		ID:         7,
		Name:       "ARTHAS",
		SessionKey: append([]byte(nil), testKey...),
		Security:   account.SecPlayer,
		OS:         "Win",
		Platform:   "x86",
	}
}

func testEnv(acct *account.Account) (*Authenticator, *fakeAccounts) {
	f := &fakeAccounts{
		accounts: map[string]*account.Account{},
		banned:   map[uint32]bool{},
		ipBanned: map[string]bool{},
	}
	if acct != nil {
		f.accounts[acct.Name] = acct
	}
	return NewAuthenticator(f, config.DefaultConfig()), f
}

func validHello(acct *account.Account, serverSeed uint32) *ClientHello {
	const clientSeed = 0xCAFEBABE
	return &ClientHello{
		Build:      5875,
		Account:    acct.Name,
		ClientSeed: clientSeed,
		Digest:     ComputeDigest(acct.Name, clientSeed, serverSeed, acct.SessionKey),
	}
}

func TestVerifySuccess(t *testing.T) {
	t.Parallel()

	acct := testAccount()
	a, f := testEnv(acct)
	const serverSeed = 0x12345678

	init, rej := a.Verify(validHello(acct, serverSeed), serverSeed, "192.0.2.10")
	if rej != nil {
		t.Fatalf("Verify() rejection = %v, want success", rej)
	}
	if init.AccountID != 7 || init.AccountName != "ARTHAS" {
		t.Errorf("init identity = %d/%s, want 7/ARTHAS", init.AccountID, init.AccountName)
	}
	if f.logins != 1 {
		t.Errorf("RecordLogin calls = %d, want 1", f.logins)
	}

	init.WipeKey()
	if init.SessionKey != nil {
		t.Error("WipeKey() left session key in place")
	}
	// The account's own copy is untouched by the wipe.
	if acct.SessionKey[0] != 0x11 {
		t.Error("WipeKey() zeroed the stored account key")
	}
}

func TestVerifyRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		mutate     func(acct *account.Account, f *fakeAccounts, hello *ClientHello)
		wantCode   protocol.AuthResult
		wantSilent bool
	}{
		{
			name:     "version mismatch",
			mutate:   func(_ *account.Account, _ *fakeAccounts, h *ClientHello) { h.Build = 9999 },
			wantCode: protocol.AuthVersionMismatch,
		},
		{
			name:     "unknown account",
			mutate:   func(_ *account.Account, _ *fakeAccounts, h *ClientHello) { h.Account = "NOBODY" },
			wantCode: protocol.AuthUnknownAccount,
		},
		{
			name:     "account banned",
			mutate:   func(a *account.Account, f *fakeAccounts, _ *ClientHello) { f.banned[a.ID] = true },
			wantCode: protocol.AuthBanned,
		},
		{
			name:     "ip banned",
			mutate:   func(_ *account.Account, f *fakeAccounts, _ *ClientHello) { f.ipBanned["192.0.2.10"] = true },
			wantCode: protocol.AuthBanned,
		},
		{
			name: "tampered digest",
			mutate: func(_ *account.Account, _ *fakeAccounts, h *ClientHello) {
				h.Digest[0] ^= 0xFF
			},
			wantCode: protocol.AuthFailed,
		},
		{
			name: "tampered session key",
			mutate: func(a *account.Account, _ *fakeAccounts, h *ClientHello) {
				a.SessionKey[5] ^= 0x01
			},
			wantCode: protocol.AuthFailed,
		},
		{
			name: "unknown os token",
			mutate: func(a *account.Account, _ *fakeAccounts, _ *ClientHello) {
				a.OS = "BeOS"
			},
			wantSilent: true,
		},
		{
			name: "unknown platform token",
			mutate: func(a *account.Account, _ *fakeAccounts, _ *ClientHello) {
				a.Platform = "MIPS"
			},
			wantSilent: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			acct := testAccount()
			a, f := testEnv(acct)
			const serverSeed = 0x12345678
			hello := validHello(acct, serverSeed)
			tt.mutate(acct, f, hello)

			init, rej := a.Verify(hello, serverSeed, "192.0.2.10")
			if init != nil {
				t.Fatal("Verify() returned SessionInit, want rejection")
			}
			if rej == nil {
				t.Fatal("Verify() rejection = nil")
			}
			if rej.Silent != tt.wantSilent {
				t.Errorf("Silent = %t, want %t", rej.Silent, tt.wantSilent)
			}
			if !tt.wantSilent && rej.Code != tt.wantCode {
				t.Errorf("Code = %v, want %v", rej.Code, tt.wantCode)
			}
			if f.logins != 0 {
				t.Errorf("RecordLogin calls = %d on rejection, want 0", f.logins)
			}
		})
	}
}

func TestVerifyRestrictedRealm(t *testing.T) {
	t.Parallel()

	acct := testAccount()
	a, _ := testEnv(acct)
	realm := a.cfg.GetRealm()
	realm.MinSecurityLevel = uint32(account.SecGameMaster)
	a.cfg.Realm = realm

	const serverSeed = 0x1
	_, rej := a.Verify(validHello(acct, serverSeed), serverSeed, "192.0.2.10")
	if rej == nil || rej.Code != protocol.AuthUnavailable {
		t.Fatalf("rejection = %v, want AuthUnavailable", rej)
	}

	// Staff accounts clear the gate.
	acct.Security = account.SecAdministrator
	init, rej := a.Verify(validHello(acct, serverSeed), serverSeed, "192.0.2.10")
	if rej != nil {
		t.Fatalf("staff Verify() rejection = %v, want success", rej)
	}
	if init.Security != account.SecAdministrator {
		t.Errorf("Security = %v, want administrator", init.Security)
	}
}

func TestVerifyTraineeElevation(t *testing.T) {
	t.Parallel()

	acct := testAccount()
	acct.Flags = account.FlagTrainee
	a, _ := testEnv(acct)

	const serverSeed = 0x2
	init, rej := a.Verify(validHello(acct, serverSeed), serverSeed, "192.0.2.10")
	if rej != nil {
		t.Fatalf("Verify() rejection = %v", rej)
	}
	if init.Security != account.SecModerator {
		t.Errorf("Security = %v, want moderator via trainee elevation", init.Security)
	}
}

func TestVerifyLocaleDefaulting(t *testing.T) {
	t.Parallel()

	acct := testAccount()
	acct.Locale = 42
	acct.MuteRemaining = 5 * time.Minute
	a, _ := testEnv(acct)

	const serverSeed = 0x3
	init, rej := a.Verify(validHello(acct, serverSeed), serverSeed, "192.0.2.10")
	if rej != nil {
		t.Fatalf("Verify() rejection = %v", rej)
	}
	if init.Locale != DefaultLocale {
		t.Errorf("Locale = %d, want default %d", init.Locale, DefaultLocale)
	}
	if init.MuteRemaining != 5*time.Minute {
		t.Errorf("MuteRemaining = %v, want 5m", init.MuteRemaining)
	}
}

func TestParseClientHelloRoundTrip(t *testing.T) {
	t.Parallel()

	digest := ComputeDigest("ARTHAS", 0xCAFEBABE, 0x12345678, testKey)
	addonBlock := []byte{0, 0, 0, 0} // zero addons

	pkt := protocol.NewBuilder(protocol.CMSGAuthSession).
		Uint32(5875).
		Uint32(1).
		String("ARTHAS").
		Uint32(0xCAFEBABE).
		Bytes(digest[:]).
		Bytes(addonBlock).
		Packet()

	hello, err := ParseClientHello(pkt)
	if err != nil {
		t.Fatalf("ParseClientHello() error = %v", err)
	}
	if hello.Build != 5875 || hello.Account != "ARTHAS" || hello.ClientSeed != 0xCAFEBABE {
		t.Errorf("hello = %+v", hello)
	}
	if hello.Digest != digest {
		t.Error("digest not preserved")
	}
	if len(hello.AddonBlock) != 4 {
		t.Errorf("AddonBlock length = %d, want 4", len(hello.AddonBlock))
	}

	// Truncated payload fails to parse.
	short := &protocol.Packet{Opcode: protocol.CMSGAuthSession, Payload: pkt.Payload[:10]}
	if _, err := ParseClientHello(short); err == nil {
		t.Error("ParseClientHello(truncated) error = nil, want error")
	}
}

func TestDigestDependsOnAllInputs(t *testing.T) {
	t.Parallel()

	base := ComputeDigest("ARTHAS", 1, 2, testKey)

	if ComputeDigest("UTHER", 1, 2, testKey) == base {
		t.Error("digest ignores account name")
	}
	if ComputeDigest("ARTHAS", 9, 2, testKey) == base {
		t.Error("digest ignores client seed")
	}
	if ComputeDigest("ARTHAS", 1, 9, testKey) == base {
		t.Error("digest ignores server seed")
	}
	other := append([]byte(nil), testKey...)
	other[0] ^= 1
	if ComputeDigest("ARTHAS", 1, 2, other) == base {
		t.Error("digest ignores session key")
	}
}
