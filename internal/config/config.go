// Package config handles configuration loading, validation, and persistence
// for the Worldgate session server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultGamePort   = 8085
	DefaultAPIPort    = 5000
)

// Config is the root configuration structure for Worldgate.
type Config struct {
	mu   sync.RWMutex
	path string

	Realm RealmConfig `json:"realm"`
	Chat  ChatConfig  `json:"chat"`
	App   AppConfig   `json:"application"`
}

// RealmConfig contains connection and authentication settings.
type RealmConfig struct {
	Name     string `json:"realm_name"`
	BindAddr string `json:"bind_addr"`
	GamePort int    `json:"game_port"`
	APIPort  int    `json:"api_port"`

	// AcceptedBuilds lists the client build numbers allowed to connect.
	AcceptedBuilds []uint32 `json:"accepted_builds"`

	// MinSecurityLevel gates logins while the realm is in restricted
	// mode (0 = open to players).
	MinSecurityLevel uint32 `json:"min_security_level"`

	// DatabasePath is the SQLite account database location.
	DatabasePath string `json:"database_path"`

	// MaxOverspeedPings kicks lowest-tier accounts that ping faster than
	// the minimum interval more than this many consecutive times
	// (0 disables the check).
	MaxOverspeedPings uint32 `json:"max_overspeed_pings"`

	// MinPingIntervalSec is the shortest legal gap between pings.
	MinPingIntervalSec uint32 `json:"min_ping_interval_sec"`

	// KickOnBadPacket closes the connection when a payload fails to
	// parse; when false the packet is dropped and the session survives.
	KickOnBadPacket bool `json:"kick_on_bad_packet"`

	// PacketsPerSecond bounds per-connection inbound packet rate
	// (token bucket; 0 disables).
	PacketsPerSecond int `json:"packets_per_second"`
	PacketBurst      int `json:"packet_burst"`
}

// ChatConfig contains the chat policy surface.
type ChatConfig struct {
	// Anti-abuse toggles
	FakeMessagePreventing   bool   `json:"fake_message_preventing"`
	StrictLinkCheckSeverity uint32 `json:"strict_link_check_severity"`
	StrictLinkCheckKick     bool   `json:"strict_link_check_kick"`
	AddonChannelEnabled     bool   `json:"addon_channel_enabled"`
	EnforcedEnglish         bool   `json:"enforced_english"`

	// Cross-faction toggles
	CrossFactionChat  bool `json:"cross_faction_chat"`
	CrossFactionGroup bool `json:"cross_faction_group"`
	CrossFactionGuild bool `json:"cross_faction_guild"`

	// Public channel cooldown
	ChannelCooldownSec        uint32 `json:"channel_cooldown_sec"`
	ChannelCooldownMinLevel   uint32 `json:"channel_cooldown_min_level"`
	ChannelCooldownMaxLevel   uint32 `json:"channel_cooldown_max_level"`
	ChannelCooldownScaling    bool   `json:"channel_cooldown_scaling"`
	ChannelCooldownAccountMax bool   `json:"channel_cooldown_use_account_max_level"`

	// Per-action minimum levels
	SayMinLevel     uint32 `json:"say_min_level"`
	EmoteMinLevel   uint32 `json:"emote_min_level"`
	YellMinLevel    uint32 `json:"yell_min_level"`
	ChannelMinLevel uint32 `json:"channel_min_level"`
	WhisperMinLevel uint32 `json:"whisper_min_level"`

	// AccountMaxLevelBypass lets accounts with a character at or above
	// this level skip the per-action level gates.
	AccountMaxLevelBypass uint32 `json:"account_max_level_bypass"`

	// Staff policy
	StaffOnPublicChannels bool `json:"staff_on_public_channels"`

	// Whisper distinct-target limiter
	WhisperTargetCap   int    `json:"whisper_target_cap"`
	WhisperWindowSec   uint32 `json:"whisper_window_sec"`
	WhisperRestriction bool   `json:"whisper_restriction"`
}

// AppConfig contains manager application configuration.
type AppConfig struct {
	Logging   LoggingConfig   `json:"logging"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Security  SecurityConfig  `json:"security"`

	// TickIntervalMS is the logic tick driving session queues.
	TickIntervalMS int `json:"tick_interval_ms"`

	// StaleSweepIntervalSec drives the periodic stale-socket sweep.
	StaleSweepIntervalSec int `json:"stale_sweep_interval_sec"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
}

// TelemetryConfig holds MQTT telemetry settings.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	ClientID    string `json:"client_id"`
	IntervalSec int    `json:"interval_sec"`
}

// SecurityConfig holds admin API security settings.
type SecurityConfig struct {
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
	AllowedOrigins []string `json:"allowed_origins"`
	AdminToken     string   `json:"admin_token"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Realm: RealmConfig{
			Name:               "Worldgate",
			BindAddr:           "0.0.0.0",
			GamePort:           DefaultGamePort,
			APIPort:            DefaultAPIPort,
			AcceptedBuilds:     []uint32{5875, 6005, 6141},
			DatabasePath:       "config/accounts.db",
			MaxOverspeedPings:  2,
			MinPingIntervalSec: 27,
			KickOnBadPacket:    true,
			PacketsPerSecond:   50,
			PacketBurst:        100,
		},
		Chat: ChatConfig{
			FakeMessagePreventing:     true,
			StrictLinkCheckSeverity:   1,
			AddonChannelEnabled:       true,
			ChannelCooldownSec:        30,
			ChannelCooldownMinLevel:   10,
			ChannelCooldownMaxLevel:   40,
			ChannelCooldownScaling:    true,
			ChannelCooldownAccountMax: true,
			SayMinLevel:               5,
			EmoteMinLevel:             5,
			YellMinLevel:              10,
			ChannelMinLevel:           10,
			WhisperMinLevel:           5,
			AccountMaxLevelBypass:     30,
			WhisperTargetCap:          10,
			WhisperWindowSec:          60,
			WhisperRestriction:        true,
		},
		App: AppConfig{
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxBackups: 5,
			},
			Telemetry: TelemetryConfig{
				Enabled:     false,
				Port:        8883,
				UseTLS:      true,
				IntervalSec: 60,
			},
			Security: SecurityConfig{
				AllowedOrigins: []string{"*"},
			},
			TickIntervalMS:        50,
			StaleSweepIntervalSec: 60,
		},
	}
}

// Load reads configuration from a JSON file, creating the default file
// when none exists.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save config to persist any new default fields added in code updates.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// validate rejects configurations the server cannot run with.
func (c *Config) validate() error {
	if len(c.Realm.AcceptedBuilds) == 0 {
		return fmt.Errorf("config: accepted_builds must not be empty")
	}
	if c.Realm.GamePort <= 0 || c.Realm.GamePort > 65535 {
		return fmt.Errorf("config: game_port %d out of range", c.Realm.GamePort)
	}
	if c.Chat.ChannelCooldownMaxLevel < c.Chat.ChannelCooldownMinLevel {
		return fmt.Errorf("config: channel cooldown max level below min level")
	}
	if c.App.TickIntervalMS <= 0 {
		return fmt.Errorf("config: tick_interval_ms must be positive")
	}
	return nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetRealm returns a copy of the realm configuration.
func (c *Config) GetRealm() RealmConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Realm
}

// GetChat returns a copy of the chat policy configuration.
func (c *Config) GetChat() ChatConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Chat
}

// SetChat replaces the chat policy configuration at runtime.
func (c *Config) SetChat(chat ChatConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Chat = chat
}

// IsAcceptedBuild reports whether a client build may authenticate.
func (c *Config) IsAcceptedBuild(build uint32) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, b := range c.Realm.AcceptedBuilds {
		if b == build {
			return true
		}
	}
	return false
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
