package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the remote control bot.
type Config struct {
	General   GeneralConfig   `json:"general" yaml:"general"`
	Channels  ChannelsConfig  `json:"channels" yaml:"channels"`
	Confirm   ConfirmConfig   `json:"confirm" yaml:"confirm"`
	Provider  ProviderConfig  `json:"provider" yaml:"provider"`
	RateLimit RateLimitConfig `json:"rateLimit" yaml:"rateLimit"`
	Audit     AuditConfig     `json:"audit" yaml:"audit"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel             string `json:"logLevel" yaml:"logLevel"`
	LogFile              string `json:"logFile" yaml:"logFile,omitempty"` // optional rotated log file
	LogMaxSizeMB         int    `json:"logMaxSizeMB" yaml:"logMaxSizeMB"`
	LogMaxBackups        int    `json:"logMaxBackups" yaml:"logMaxBackups"`
	LogMaxAgeDays        int    `json:"logMaxAgeDays" yaml:"logMaxAgeDays"`
	MaxConcurrentIntents int    `json:"maxConcurrentIntents" yaml:"maxConcurrentIntents"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Discord  DiscordConfig  `json:"discord" yaml:"discord"`
	Slack    SlackConfig    `json:"slack" yaml:"slack"`
	CLI      CLIConfig      `json:"cli" yaml:"cli"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Token   string `json:"token" yaml:"token"`
	// AuthorizedUser is the operator's numeric Telegram user ID. Empty means
	// open mode: every Telegram user may control the host.
	AuthorizedUser FlexString `json:"authorizedUser" yaml:"authorizedUser"`
}

type DiscordConfig struct {
	Enabled        bool       `json:"enabled" yaml:"enabled"`
	Token          string     `json:"token" yaml:"token"`
	GuildID        string     `json:"guildId" yaml:"guildId,omitempty"` // optional: restrict to specific guild
	AuthorizedUser FlexString `json:"authorizedUser" yaml:"authorizedUser"`
}

type SlackConfig struct {
	Enabled        bool       `json:"enabled" yaml:"enabled"`
	BotToken       string     `json:"botToken" yaml:"botToken"`
	AppToken       string     `json:"appToken" yaml:"appToken"` // required for Socket Mode
	AuthorizedUser FlexString `json:"authorizedUser" yaml:"authorizedUser"`
}

type CLIConfig struct {
	PhotoDir string `json:"photoDir" yaml:"photoDir,omitempty"`
}

type ConfirmConfig struct {
	TimeoutSeconds       int `json:"timeoutSeconds" yaml:"timeoutSeconds"` // 0 = pending confirmations never expire
	SweepIntervalSeconds int `json:"sweepIntervalSeconds" yaml:"sweepIntervalSeconds"`
}

type ProviderConfig struct {
	Mode                  string `json:"mode" yaml:"mode"` // "auto" | "system" | "unavailable"
	CommandTimeoutSeconds int    `json:"commandTimeoutSeconds" yaml:"commandTimeoutSeconds"`
}

type RateLimitConfig struct {
	PerMinute float64 `json:"perMinute" yaml:"perMinute"` // 0 = disabled
	Burst     int     `json:"burst" yaml:"burst"`
}

type AuditConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	DBPath        string `json:"dbPath" yaml:"dbPath"`
	RetentionDays int    `json:"retentionDays" yaml:"retentionDays"` // 0 = keep forever
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// FlexString is a string that can unmarshal from a JSON or YAML number as
// well, so `"authorizedUser": 123456789` works.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = FlexString(n.String())
	return nil
}

func (f *FlexString) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar", value.Line)
	}
	*f = FlexString(value.Value)
	return nil
}

func (f FlexString) String() string { return strings.TrimSpace(string(f)) }

// DefaultConfigDir returns the default config directory (~/.remotebot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".remotebot"
	}
	return filepath.Join(home, ".remotebot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads a JSON or YAML config (by extension), expands ${VAR} references,
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg, err := decode(path, data)
	if err != nil {
		return nil, err
	}

	ApplyEnv(cfg)
	cfg.expandPaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadRaw reads the file as written: no ${VAR} expansion, no environment
// overrides, no validation. Use it when the config will be saved back, so
// secrets from the environment never land in the file.
func LoadRaw(path string) (*Config, error) {
	path = ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	return decode(path, data)
}

func decode(path string, data []byte) (*Config, error) {
	cfg := Defaults()
	var err error
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists and otherwise starts from
// Defaults plus environment overrides, which is how the bot was deployed
// with nothing but BOT_TOKEN and AUTHORIZED_USER_ID set.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(ExpandPath(path)); os.IsNotExist(err) {
		cfg := Defaults()
		ApplyEnv(cfg)
		cfg.expandPaths()
		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("config validation: %w", err)
		}
		return cfg, nil
	}
	return Load(path)
}

// ApplyEnv applies the environment overrides BOT_TOKEN and AUTHORIZED_USER_ID.
// A token from the environment also enables the Telegram channel.
func ApplyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("BOT_TOKEN")); v != "" {
		cfg.Channels.Telegram.Token = v
		cfg.Channels.Telegram.Enabled = true
	}
	if v := strings.TrimSpace(os.Getenv("AUTHORIZED_USER_ID")); v != "" {
		cfg.Channels.Telegram.AuthorizedUser = FlexString(v)
	}
}

func (c *Config) expandPaths() {
	c.General.LogFile = ExpandPath(c.General.LogFile)
	c.Audit.DBPath = ExpandPath(c.Audit.DBPath)
	c.Channels.CLI.PhotoDir = ExpandPath(c.Channels.CLI.PhotoDir)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

// Save writes cfg as JSON or YAML depending on the file extension. The file
// holds bot tokens, so it is written owner-only.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.MaxConcurrentIntents < 1 || cfg.General.MaxConcurrentIntents > 100 {
		errs = append(errs, "general.maxConcurrentIntents must be between 1 and 100")
	}

	tg := cfg.Channels.Telegram
	if tg.Enabled && tg.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled (or set BOT_TOKEN)")
	}
	if id := tg.AuthorizedUser.String(); id != "" {
		if _, err := strconv.ParseInt(id, 10, 64); err != nil {
			errs = append(errs, "channels.telegram.authorizedUser must be a numeric Telegram user ID")
		}
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token == "" {
		errs = append(errs, "channels.discord.token is required when discord is enabled")
	}
	if sl := cfg.Channels.Slack; sl.Enabled && (sl.BotToken == "" || sl.AppToken == "") {
		errs = append(errs, "channels.slack.botToken and channels.slack.appToken are required when slack is enabled")
	}

	if cfg.Confirm.TimeoutSeconds < 0 {
		errs = append(errs, "confirm.timeoutSeconds must be >= 0")
	}
	if cfg.Confirm.SweepIntervalSeconds < 1 {
		errs = append(errs, "confirm.sweepIntervalSeconds must be >= 1")
	}

	switch cfg.Provider.Mode {
	case "auto", "system", "unavailable":
	default:
		errs = append(errs, "provider.mode must be one of: auto, system, unavailable")
	}
	if cfg.Provider.CommandTimeoutSeconds < 1 {
		errs = append(errs, "provider.commandTimeoutSeconds must be >= 1")
	}

	if cfg.RateLimit.PerMinute < 0 {
		errs = append(errs, "rateLimit.perMinute must be >= 0")
	}
	if cfg.RateLimit.Burst < 0 {
		errs = append(errs, "rateLimit.burst must be >= 0")
	}

	if cfg.Audit.Enabled && cfg.Audit.DBPath == "" {
		errs = append(errs, "audit.dbPath is required when audit is enabled")
	}
	if cfg.Audit.RetentionDays < 0 {
		errs = append(errs, "audit.retentionDays must be >= 0")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
