// Package auth implements the world-entry authentication handshake: the
// challenge/response exchange, session-key digest verification, and the
// client addon-info parser.
package auth

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/worldgate-project/worldgate/internal/account"
	"github.com/worldgate-project/worldgate/internal/config"
	"github.com/worldgate-project/worldgate/internal/protocol"
	"github.com/worldgate-project/worldgate/internal/util"
)

// NumLocales bounds the locale ids a client may claim. Out-of-range
// values fall back to the default locale.
const (
	NumLocales    = 9
	DefaultLocale = 0
)

// Client OS and platform tokens recorded by the realm login server. A
// session presenting anything else is a tampered or unsupported client.
var (
	acceptedOS        = map[string]bool{"Win": true, "OSX": true}
	acceptedPlatforms = map[string]bool{"x86": true, "PPC": true}
)

// AccountSource is the synchronous account lookup surface the handshake
// needs. *account.Store satisfies it.
type AccountSource interface {
	LookupByName(name string) (*account.Account, error)
	IsBanned(accountID uint32) (bool, error)
	IsIPBanned(ip string) (bool, error)
	RecordLogin(accountID uint32, ip string)
}

// Rejection is a handshake failure. Unless Silent, Code is sent to the
// client in SMSG_AUTH_RESPONSE before the connection closes.
type Rejection struct {
	Code   protocol.AuthResult
	Silent bool
	Reason string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("auth rejected (%s): %s", r.Code, r.Reason)
}

// ClientHello is the parsed CMSG_AUTH_SESSION request.
type ClientHello struct {
	Build      uint32
	ServerID   uint32
	Account    string
	ClientSeed uint32
	Digest     [20]byte

	// AddonBlock is the raw remainder of the packet, parsed only after
	// the session is established.
	AddonBlock []byte
}

// SessionInit carries everything the connection layer needs to construct
// and register a Session after a successful handshake. The session key is
// only retained long enough to key the cipher; call WipeKey afterwards.
type SessionInit struct {
	AccountID   uint32
	AccountName string
	Security    account.SecurityLevel
	Locale      uint32
	Flags       uint32
	Build       uint32
	RemoteIP    string

	// MuteRemaining and MutePausing seed the session mute timer.
	MuteRemaining time.Duration
	MuteReason    string
	MutePausing   bool

	MaxCharacterLevel uint32

	SessionKey []byte
	Addons     []AddonEntry
}

// WipeKey zeroes the session key in place. Call once the cipher is keyed.
func (si *SessionInit) WipeKey() {
	for i := range si.SessionKey {
		si.SessionKey[i] = 0
	}
	si.SessionKey = nil
}

// Authenticator verifies world-entry handshakes against the account store.
type Authenticator struct {
	accounts AccountSource
	cfg      *config.Config
	log      zerolog.Logger
}

// NewAuthenticator returns an Authenticator backed by the given account
// source.
func NewAuthenticator(accounts AccountSource, cfg *config.Config) *Authenticator {
	return &Authenticator{
		accounts: accounts,
		cfg:      cfg,
		log:      util.ComponentLogger("auth"),
	}
}

// NewServerSeed draws the random challenge seed for one connection.
func NewServerSeed() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("failed to draw server seed: %w", err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// BuildChallenge constructs the SMSG_AUTH_CHALLENGE packet sent on accept.
func BuildChallenge(serverSeed uint32) *protocol.Packet {
	return protocol.NewBuilder(protocol.SMSGAuthChallenge).
		Uint32(serverSeed).
		Packet()
}

// ParseClientHello decodes a CMSG_AUTH_SESSION payload.
func ParseClientHello(p *protocol.Packet) (*ClientHello, error) {
	r := p.Reader()
	var (
		hello ClientHello
		err   error
	)
	if hello.Build, err = r.Uint32(); err != nil {
		return nil, fmt.Errorf("auth session build: %w", err)
	}
	if hello.ServerID, err = r.Uint32(); err != nil {
		return nil, fmt.Errorf("auth session server id: %w", err)
	}
	if hello.Account, err = r.String(); err != nil {
		return nil, fmt.Errorf("auth session account: %w", err)
	}
	if hello.ClientSeed, err = r.Uint32(); err != nil {
		return nil, fmt.Errorf("auth session client seed: %w", err)
	}
	digest, err := r.Bytes(20)
	if err != nil {
		return nil, fmt.Errorf("auth session digest: %w", err)
	}
	copy(hello.Digest[:], digest)

	if n := r.Remaining(); n > 0 {
		if hello.AddonBlock, err = r.Bytes(n); err != nil {
			return nil, fmt.Errorf("auth session addon block: %w", err)
		}
	}
	return &hello, nil
}

// ComputeDigest derives the handshake digest both sides must agree on:
// sha1(account || uint32(0) || clientSeed || serverSeed || sessionKey).
func ComputeDigest(accountName string, clientSeed, serverSeed uint32, sessionKey []byte) [20]byte {
	var seed [4]byte
	h := sha1.New()
	io.WriteString(h, accountName)
	h.Write(seed[:]) // zero pad
	binary.LittleEndian.PutUint32(seed[:], clientSeed)
	h.Write(seed[:])
	binary.LittleEndian.PutUint32(seed[:], serverSeed)
	h.Write(seed[:])
	h.Write(sessionKey)

	var digest [20]byte
	copy(digest[:], h.Sum(nil))
	return digest
}

// Verify runs the handshake checks in order and returns the session
// parameters on success. The returned *Rejection is nil on success.
func (a *Authenticator) Verify(hello *ClientHello, serverSeed uint32, remoteIP string) (*SessionInit, *Rejection) {
	if !a.cfg.IsAcceptedBuild(hello.Build) {
		return nil, &Rejection{
			Code:   protocol.AuthVersionMismatch,
			Reason: fmt.Sprintf("build %d not accepted", hello.Build),
		}
	}

	acct, err := a.accounts.LookupByName(hello.Account)
	if err != nil {
		// Lookup errors other than a miss also fail closed as unknown;
		// the client never learns the storage layer hiccuped.
		return nil, &Rejection{
			Code:   protocol.AuthUnknownAccount,
			Reason: fmt.Sprintf("account %q: %v", hello.Account, err),
		}
	}

	accountBanned, err := a.accounts.IsBanned(acct.ID)
	if err != nil {
		a.log.Error().Err(err).Str("account", acct.Name).Msg("ban check failed")
		accountBanned = true // fail closed
	}
	ipBanned, err := a.accounts.IsIPBanned(remoteIP)
	if err != nil {
		a.log.Error().Err(err).Str("ip", remoteIP).Msg("ip ban check failed")
		ipBanned = true
	}
	if accountBanned || ipBanned {
		return nil, &Rejection{
			Code:   protocol.AuthBanned,
			Reason: fmt.Sprintf("account %s banned (account=%t ip=%t)", acct.Name, accountBanned, ipBanned),
		}
	}

	security := acct.Security
	if security > account.MaxSecurityLevel {
		security = account.MaxSecurityLevel
	}
	if acct.IsTrainee() && security == account.SecPlayer {
		security = account.SecModerator
	}

	realm := a.cfg.GetRealm()
	if uint32(security) < realm.MinSecurityLevel {
		return nil, &Rejection{
			Code:   protocol.AuthUnavailable,
			Reason: fmt.Sprintf("server requires security >= %d, account %s has %d", realm.MinSecurityLevel, acct.Name, security),
		}
	}

	expected := ComputeDigest(acct.Name, hello.ClientSeed, serverSeed, acct.SessionKey)
	if subtle.ConstantTimeCompare(expected[:], hello.Digest[:]) != 1 {
		return nil, &Rejection{
			Code:   protocol.AuthFailed,
			Reason: fmt.Sprintf("digest mismatch for account %s", acct.Name),
		}
	}

	// Unknown OS/platform gets no response code. A tampered client learns
	// nothing about which token tripped the check.
	if !acceptedOS[acct.OS] || !acceptedPlatforms[acct.Platform] {
		return nil, &Rejection{
			Silent: true,
			Reason: fmt.Sprintf("account %s has unsupported client tokens os=%q platform=%q", acct.Name, acct.OS, acct.Platform),
		}
	}

	locale := acct.Locale
	if locale >= NumLocales {
		locale = DefaultLocale
	}

	key := make([]byte, len(acct.SessionKey))
	copy(key, acct.SessionKey)

	a.accounts.RecordLogin(acct.ID, remoteIP)
	a.log.Info().
		Str("account", acct.Name).
		Uint32("build", hello.Build).
		Str("ip", remoteIP).
		Str("security", security.String()).
		Msg("handshake verified")

	return &SessionInit{
		AccountID:         acct.ID,
		AccountName:       acct.Name,
		Security:          security,
		Locale:            locale,
		Flags:             acct.Flags,
		Build:             hello.Build,
		RemoteIP:          remoteIP,
		MuteRemaining:     acct.MuteRemaining,
		MuteReason:        acct.MuteReason,
		MutePausing:       acct.IsMutePausing(),
		MaxCharacterLevel: acct.MaxCharacterLevel,
		SessionKey:        key,
	}, nil
}

// BuildResponse constructs SMSG_AUTH_RESPONSE for the given result. The
// success variant carries the billing fields the client expects.
func BuildResponse(code protocol.AuthResult) *protocol.Packet {
	b := protocol.NewBuilder(protocol.SMSGAuthResponse).Uint8(uint8(code))
	if code == protocol.AuthOK {
		b.Uint32(0) // billing time remaining
		b.Uint8(0)  // billing flags
		b.Uint32(0) // billing time rested
	}
	return b.Packet()
}
