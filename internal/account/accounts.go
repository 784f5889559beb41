package account

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/worldgate-project/worldgate/internal/util"
)

// SecurityLevel is the staff permission tier of an account.
type SecurityLevel uint32

const (
	SecPlayer SecurityLevel = iota
	SecModerator
	SecGameMaster
	SecAdministrator

	// MaxSecurityLevel caps values read from storage so a corrupted row
	// cannot grant an undefined tier.
	MaxSecurityLevel = SecAdministrator
)

func (s SecurityLevel) String() string {
	switch s {
	case SecPlayer:
		return "player"
	case SecModerator:
		return "moderator"
	case SecGameMaster:
		return "gamemaster"
	case SecAdministrator:
		return "administrator"
	default:
		return fmt.Sprintf("security(%d)", uint32(s))
	}
}

// IsStaff reports whether the level carries any staff permission.
func (s SecurityLevel) IsStaff() bool {
	return s > SecPlayer
}

// Account flags persisted alongside the account row.
const (
	// FlagMutePausing makes the mute timer count down only while the
	// account is online.
	FlagMutePausing uint32 = 0x0001

	// FlagTrainee marks an account eligible for trainee staff elevation
	// at login.
	FlagTrainee uint32 = 0x0002
)

// Errors returned by lookups.
var (
	ErrAccountNotFound = errors.New("account not found")
)

// Account is a registered game account.
type Account struct {
	ID         uint32
	Name       string
	SessionKey []byte
	Security   SecurityLevel
	Locale     uint32
	Flags      uint32

	// MuteRemaining is the outstanding mute duration. With FlagMutePausing
	// it only burns down while the account has an active session.
	MuteRemaining time.Duration
	MuteReason    string

	// MaxCharacterLevel is the highest character level ever reached on the
	// account. Chat level gates may consult it as a bypass.
	MaxCharacterLevel uint32

	// OS and Platform are the client tokens recorded at realm login
	// ("Win"/"OSX", "x86"/"PPC"). The world handshake validates them.
	OS       string
	Platform string

	LastIP    string
	LastLogin time.Time
}

// IsMutePausing reports whether the mute timer pauses while offline.
func (a *Account) IsMutePausing() bool {
	return a.Flags&FlagMutePausing != 0
}

// IsTrainee reports whether the account is flagged for trainee elevation.
func (a *Account) IsTrainee() bool {
	return a.Flags&FlagTrainee != 0
}

// ChatLogEntry is one audited chat message.
type ChatLogEntry struct {
	Time       time.Time
	Type       string
	Language   uint32
	SenderGUID uint64
	SenderName string
	TargetGUID uint64
	TargetName string
	Channel    string
	GroupID    uint64
	GuildID    uint32
	Message    string
}

type asyncOp struct {
	query   string
	args    []interface{}
	barrier chan struct{}
}

// Store provides account, ban, and chat-log persistence. Reads are
// synchronous; high-volume writes (chat log, mute countdown) go through a
// single background writer so session ticks never block on disk.
type Store struct {
	db    *Database
	log   zerolog.Logger
	async chan asyncOp
	done  chan struct{}
}

// NewStore opens the account database and runs schema migrations.
func NewStore(dbPath string) (*Store, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:    database,
		log:   util.ComponentLogger("account"),
		async: make(chan asyncOp, 1024),
		done:  make(chan struct{}),
	}

	if err := s.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate account database: %w", err)
	}

	go s.writer()

	return s, nil
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL COLLATE NOCASE,
			session_key TEXT NOT NULL DEFAULT '',
			security INTEGER NOT NULL DEFAULT 0,
			locale INTEGER NOT NULL DEFAULT 0,
			flags INTEGER NOT NULL DEFAULT 0,
			mute_remaining_sec INTEGER NOT NULL DEFAULT 0,
			mute_reason TEXT NOT NULL DEFAULT '',
			max_char_level INTEGER NOT NULL DEFAULT 0,
			os TEXT NOT NULL DEFAULT 'Win',
			platform TEXT NOT NULL DEFAULT 'x86',
			last_ip TEXT NOT NULL DEFAULT '',
			last_login DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS account_bans (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL,
			ban_start DATETIME DEFAULT CURRENT_TIMESTAMP,
			ban_end DATETIME,
			reason TEXT NOT NULL DEFAULT '',
			banned_by TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1,
			FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS ip_bans (
			ip TEXT PRIMARY KEY,
			ban_start DATETIME DEFAULT CURRENT_TIMESTAMP,
			ban_end DATETIME,
			reason TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS chat_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			time DATETIME DEFAULT CURRENT_TIMESTAMP,
			type TEXT NOT NULL,
			language INTEGER NOT NULL DEFAULT 0,
			sender_guid INTEGER NOT NULL,
			sender_name TEXT NOT NULL,
			target_guid INTEGER NOT NULL DEFAULT 0,
			target_name TEXT NOT NULL DEFAULT '',
			channel TEXT NOT NULL DEFAULT '',
			group_id INTEGER NOT NULL DEFAULT 0,
			guild_id INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_accounts_username ON accounts(username);
		CREATE INDEX IF NOT EXISTS idx_account_bans_account ON account_bans(account_id, active);
		CREATE INDEX IF NOT EXISTS idx_chat_log_sender ON chat_log(sender_guid);
		CREATE INDEX IF NOT EXISTS idx_chat_log_time ON chat_log(time);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	s.log.Debug().Msg("account schema migrated")
	return nil
}

// writer drains the async write queue.
func (s *Store) writer() {
	for op := range s.async {
		if op.barrier != nil {
			close(op.barrier)
			continue
		}
		if _, err := s.db.Exec(op.query, op.args...); err != nil {
			s.log.Error().Err(err).Str("query", op.query).Msg("async write failed")
		}
	}
	close(s.done)
}

// asyncExec queues a write for the background writer. When the queue is
// full the write happens inline rather than being dropped.
func (s *Store) asyncExec(query string, args ...interface{}) {
	select {
	case s.async <- asyncOp{query: query, args: args}:
	default:
		if _, err := s.db.Exec(query, args...); err != nil {
			s.log.Error().Err(err).Str("query", query).Msg("inline write failed")
		}
	}
}

// Flush blocks until every write queued before the call has been applied.
func (s *Store) Flush() {
	barrier := make(chan struct{})
	s.async <- asyncOp{barrier: barrier}
	<-barrier
}

// Close flushes pending writes and closes the database.
func (s *Store) Close() error {
	close(s.async)
	<-s.done
	return s.db.Close()
}

// LookupByName fetches an account by username (case-insensitive).
func (s *Store) LookupByName(name string) (*Account, error) {
	row := s.db.QueryRow(`
		SELECT id, username, session_key, security, locale, flags,
		       mute_remaining_sec, mute_reason, max_char_level, os, platform,
		       last_ip, COALESCE(last_login, '1970-01-01 00:00:00')
		FROM accounts WHERE username = ?
	`, strings.ToUpper(name))

	var (
		a         Account
		keyHex    string
		muteSec   int64
		lastLogin string
		security  uint32
	)
	err := row.Scan(&a.ID, &a.Name, &keyHex, &security, &a.Locale, &a.Flags,
		&muteSec, &a.MuteReason, &a.MaxCharacterLevel, &a.OS, &a.Platform,
		&a.LastIP, &lastLogin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("account lookup failed: %w", err)
	}

	if security > uint32(MaxSecurityLevel) {
		security = uint32(MaxSecurityLevel)
	}
	a.Security = SecurityLevel(security)
	a.MuteRemaining = time.Duration(muteSec) * time.Second

	if a.SessionKey, err = hex.DecodeString(keyHex); err != nil {
		return nil, fmt.Errorf("corrupt session key for account %s: %w", a.Name, err)
	}
	if t, perr := time.Parse("2006-01-02 15:04:05", lastLogin); perr == nil {
		a.LastLogin = t
	}

	return &a, nil
}

// CreateAccount registers a new account. The username is stored uppercased.
func (s *Store) CreateAccount(name string, security SecurityLevel, locale uint32) (*Account, error) {
	res, err := s.db.Exec(`
		INSERT INTO accounts (username, security, locale) VALUES (?, ?, ?)
	`, strings.ToUpper(name), uint32(security), locale)
	if err != nil {
		return nil, fmt.Errorf("failed to create account %s: %w", name, err)
	}

	id, _ := res.LastInsertId()
	s.log.Info().Str("account", strings.ToUpper(name)).Uint32("id", uint32(id)).Msg("account created")

	return &Account{
		ID:       uint32(id),
		Name:     strings.ToUpper(name),
		Security: security,
		Locale:   locale,
	}, nil
}

// SetSessionKey stores the negotiated session key for an account. The auth
// server writes this at realm login; the world handshake reads it back.
func (s *Store) SetSessionKey(accountID uint32, key []byte) error {
	_, err := s.db.Exec(
		"UPDATE accounts SET session_key = ? WHERE id = ?",
		hex.EncodeToString(key), accountID)
	return err
}

// RecordLogin stamps the last login time and source address.
func (s *Store) RecordLogin(accountID uint32, ip string) {
	s.asyncExec(
		"UPDATE accounts SET last_ip = ?, last_login = CURRENT_TIMESTAMP WHERE id = ?",
		ip, accountID)
}

// IsBanned reports whether the account has an active ban. A NULL ban_end
// is permanent.
func (s *Store) IsBanned(accountID uint32) (bool, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM account_bans
		WHERE account_id = ? AND active = 1
		AND (ban_end IS NULL OR ban_end > CURRENT_TIMESTAMP)
	`, accountID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("ban check failed: %w", err)
	}
	return count > 0, nil
}

// IsIPBanned reports whether the address has an active IP ban.
func (s *Store) IsIPBanned(ip string) (bool, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM ip_bans
		WHERE ip = ? AND (ban_end IS NULL OR ban_end > CURRENT_TIMESTAMP)
	`, ip).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("ip ban check failed: %w", err)
	}
	return count > 0, nil
}

// BanAccount records a ban. A zero duration is permanent.
func (s *Store) BanAccount(accountID uint32, duration time.Duration, reason, bannedBy string) error {
	var banEnd interface{}
	if duration > 0 {
		banEnd = time.Now().Add(duration).UTC().Format("2006-01-02 15:04:05")
	}
	_, err := s.db.Exec(`
		INSERT INTO account_bans (account_id, ban_end, reason, banned_by)
		VALUES (?, ?, ?, ?)
	`, accountID, banEnd, reason, bannedBy)
	if err != nil {
		return fmt.Errorf("failed to ban account %d: %w", accountID, err)
	}
	s.log.Info().Uint32("account_id", accountID).Str("reason", reason).Msg("account banned")
	return nil
}

// UnbanAccount deactivates all bans on the account.
func (s *Store) UnbanAccount(accountID uint32) error {
	_, err := s.db.Exec(
		"UPDATE account_bans SET active = 0 WHERE account_id = ?", accountID)
	return err
}

// SetMute replaces the account mute state.
func (s *Store) SetMute(accountID uint32, remaining time.Duration, reason string, pausing bool) error {
	flagOp := "flags & ~?"
	if pausing {
		flagOp = "flags | ?"
	}
	_, err := s.db.Exec(fmt.Sprintf(`
		UPDATE accounts SET mute_remaining_sec = ?, mute_reason = ?, flags = %s
		WHERE id = ?
	`, flagOp), int64(remaining/time.Second), reason, FlagMutePausing, accountID)
	return err
}

// SaveMuteRemaining persists the counted-down mute timer for a pausing mute.
func (s *Store) SaveMuteRemaining(accountID uint32, remaining time.Duration) {
	if remaining < 0 {
		remaining = 0
	}
	s.asyncExec(
		"UPDATE accounts SET mute_remaining_sec = ? WHERE id = ?",
		int64(remaining/time.Second), accountID)
}

// UpdateMaxCharacterLevel raises the stored account-wide level high-water
// mark. Lower values are ignored.
func (s *Store) UpdateMaxCharacterLevel(accountID uint32, level uint32) {
	s.asyncExec(
		"UPDATE accounts SET max_char_level = ? WHERE id = ? AND max_char_level < ?",
		level, accountID, level)
}

// LogChat appends one message to the chat audit log.
func (s *Store) LogChat(e ChatLogEntry) {
	s.asyncExec(`
		INSERT INTO chat_log (type, language, sender_guid, sender_name,
		                      target_guid, target_name, channel, group_id,
		                      guild_id, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Type, e.Language, e.SenderGUID, e.SenderName,
		e.TargetGUID, e.TargetName, e.Channel, e.GroupID, e.GuildID, e.Message)
}

// RecentChat returns the newest audit log entries, most recent first.
func (s *Store) RecentChat(limit int) ([]ChatLogEntry, error) {
	rows, err := s.db.Query(`
		SELECT time, type, language, sender_guid, sender_name,
		       target_guid, target_name, channel, group_id, guild_id, message
		FROM chat_log ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ChatLogEntry
	for rows.Next() {
		var (
			e  ChatLogEntry
			ts string
		)
		if err := rows.Scan(&ts, &e.Type, &e.Language, &e.SenderGUID, &e.SenderName,
			&e.TargetGUID, &e.TargetName, &e.Channel, &e.GroupID, &e.GuildID,
			&e.Message); err != nil {
			continue
		}
		if t, perr := time.Parse("2006-01-02 15:04:05", ts); perr == nil {
			e.Time = t
		}
		entries = append(entries, e)
	}

	return entries, nil
}
