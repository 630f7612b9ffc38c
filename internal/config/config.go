package config

import (
	"cmp"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Config is the root configuration for MediInterpret.
type Config struct {
	General     GeneralConfig             `json:"general"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Channels    ChannelsConfig            `json:"channels"`
	Memory      MemoryConfig              `json:"memory"`
	Attachments AttachmentsConfig         `json:"attachments"`
	Catalog     CatalogConfig             `json:"catalog"`
	Export      ExportConfig              `json:"export"`
	Metrics     MetricsConfig             `json:"metrics"`
	Voice       VoiceConfig               `json:"voice"`
}

type GeneralConfig struct {
	Workspace            string   `json:"workspace"`
	LogLevel             string   `json:"logLevel"`
	LogFile              string   `json:"logFile,omitempty"`
	DefaultProvider      string   `json:"defaultProvider"`
	FailoverChain        []string `json:"failoverChain,omitempty"`
	MaxConcurrentStreams int      `json:"maxConcurrentStreams"`
	RequestTimeout       int      `json:"requestTimeoutSeconds"`
}

type ProviderConfig struct {
	Enabled         bool    `json:"enabled"`
	APIBase         string  `json:"apiBase,omitempty"`
	APIKey          string  `json:"apiKey,omitempty"`
	DefaultModel    string  `json:"defaultModel,omitempty"`
	MaxTokens       int     `json:"maxTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
	RateLimitPerMin int     `json:"rateLimitPerMinute,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Slack    SlackConfig    `json:"slack"`
	Webhook  WebhookConfig  `json:"webhook"`
	Web      WebConfig      `json:"web"`
	CLI      CLIConfig      `json:"cli"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
	// EditIntervalMs throttles edits of the streaming answer message.
	EditIntervalMs int `json:"editIntervalMs"`
}

type DiscordConfig struct {
	Enabled        bool           `json:"enabled"`
	Token          string         `json:"token"`
	GuildID        string         `json:"guildId,omitempty"` // empty registers global slash commands
	AllowFrom      FlexStringList `json:"allowFrom"`
	EditIntervalMs int            `json:"editIntervalMs"`
}

// SlackConfig connects through Socket Mode, so both the bot token (xoxb-)
// and the app-level token (xapp-) are required.
type SlackConfig struct {
	Enabled        bool           `json:"enabled"`
	BotToken       string         `json:"botToken"`
	AppToken       string         `json:"appToken"`
	AllowFrom      FlexStringList `json:"allowFrom"`
	EditIntervalMs int            `json:"editIntervalMs"`
}

// WebhookConfig exposes a signed JSON endpoint that returns whole answers.
type WebhookConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
	Secret  string `json:"secret,omitempty"` // HMAC-SHA256 key for X-Signature-256
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

type WebConfig struct {
	Enabled bool    `json:"enabled"`
	Host    string  `json:"host"`
	Port    int     `json:"port"`
	Auth    WebAuth `json:"auth"`
}

type WebAuth struct {
	Enabled      bool   `json:"enabled"`
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
	// Plain disables lipgloss styling (useful when piping output).
	Plain bool `json:"plain,omitempty"`
}

type MemoryConfig struct {
	Enabled                   bool   `json:"enabled"`
	DBPath                    string `json:"dbPath"`
	MaxHistoryPerConsultation int    `json:"maxHistoryPerConsultation"`
	RetentionDays             int    `json:"retentionDays"`
}

// AttachmentsConfig limits what users can upload alongside a question.
type AttachmentsConfig struct {
	Dir          string   `json:"dir"`
	MaxBytes     int64    `json:"maxBytes"`
	AllowedTypes []string `json:"allowedTypes"`
}

// CatalogConfig points to an optional YAML file overriding consultation categories.
type CatalogConfig struct {
	OverridesPath string `json:"overridesPath,omitempty"`
}

// ExportConfig configures transcript PDF export through headless Chrome.
type ExportConfig struct {
	Enabled        bool   `json:"enabled"`
	ProfileDir     string `json:"profileDir,omitempty"`
	Headless       bool   `json:"headless"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// VoiceConfig enables transcription of Telegram voice notes through an
// OpenAI-compatible /audio/transcriptions endpoint.
type VoiceConfig struct {
	Enabled  bool   `json:"enabled"`
	APIBase  string `json:"apiBase"`
	APIKey   string `json:"apiKey,omitempty"`
	Model    string `json:"model"`
	Language string `json:"language,omitempty"` // ISO-639-1, empty for auto-detect
	// Prompt lists vocabulary the recogniser should expect, e.g. drug names.
	Prompt string `json:"prompt,omitempty"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.mediinterpret).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mediinterpret"
	}
	return filepath.Join(home, ".mediinterpret")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads the config at path over the defaults. ${VAR} references are
// expanded before parsing and the result is validated.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	cfg := Defaults()
	if err := json.Unmarshal([]byte(ExpandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	ApplyEnv(cfg)
	for _, p := range []*string{
		&cfg.General.Workspace, &cfg.General.LogFile, &cfg.Memory.DBPath,
		&cfg.Attachments.Dir, &cfg.Catalog.OverridesPath, &cfg.Export.ProfileDir,
	} {
		*p = ExpandPath(*p)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// ApplyEnv fills the Gemini API key from GEMINI_API_KEY or API_KEY when the
// config leaves it empty or unexpanded. Unexpanded keys are cleared.
func ApplyEnv(cfg *Config) {
	if unexpanded(cfg.Voice.APIKey) {
		cfg.Voice.APIKey = ""
	}
	pc, ok := cfg.Providers["gemini"]
	if !ok || (pc.APIKey != "" && !unexpanded(pc.APIKey)) {
		return
	}
	pc.APIKey = cmp.Or(os.Getenv("GEMINI_API_KEY"), os.Getenv("API_KEY"))
	cfg.Providers["gemini"] = pc
}

func unexpanded(s string) bool { return envRef.MatchString(s) }

// envRef matches ${VAR} and ${VAR:-default}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-[^}]*)?\}`)

// ExpandEnvVars replaces ${VAR} with its value. ${VAR:-default} falls back
// to default when VAR is unset or empty; a plain ${VAR} that is unset stays
// as written.
func ExpandEnvVars(input string) string {
	var b strings.Builder
	last := 0
	for _, m := range envRef.FindAllStringSubmatchIndex(input, -1) {
		b.WriteString(input[last:m[0]])
		last = m[1]
		if v := os.Getenv(input[m[2]:m[3]]); v != "" {
			b.WriteString(v)
		} else if m[4] >= 0 {
			b.WriteString(input[m[4]+2 : m[5]])
		} else {
			b.WriteString(input[m[0]:m[1]])
		}
	}
	b.WriteString(input[last:])
	return b.String()
}

// Save writes cfg as indented JSON. The file is replaced atomically and is
// readable by the owner only since it holds API keys.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// builtinProviders have a usable default API base.
var builtinProviders = map[string]bool{"gemini": true, "openai": true, "ollama": true, "claude": true}

// ValidationError lists every problem found in a config, one per field.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "config validation errors:\n  - " + strings.Join(e.Problems, "\n  - ")
}

type checker struct{ problems []string }

// check records the formatted problem when ok is false.
func (c *checker) check(ok bool, format string, args ...any) {
	if !ok {
		c.problems = append(c.problems, fmt.Sprintf(format, args...))
	}
}

func between(v, lo, hi int) bool { return v >= lo && v <= hi }

// Validate checks that the config has valid values. It returns a
// *ValidationError naming every invalid field.
func Validate(cfg *Config) error {
	var c checker
	g := cfg.General
	c.check(slices.Contains([]string{"", "debug", "info", "warn", "error"}, strings.ToLower(g.LogLevel)),
		"general.logLevel must be one of: debug, info, warn, error")
	c.check(between(g.MaxConcurrentStreams, 1, 100), "general.maxConcurrentStreams must be between 1 and 100")
	c.check(g.RequestTimeout >= 1, "general.requestTimeoutSeconds must be >= 1")
	_, ok := cfg.Providers[g.DefaultProvider]
	c.check(ok, "general.defaultProvider references unknown provider: %s", g.DefaultProvider)
	for _, name := range g.FailoverChain {
		_, ok := cfg.Providers[name]
		c.check(ok, "general.failoverChain references unknown provider: %s", name)
	}

	ch := cfg.Channels
	c.check(between(ch.Web.Port, 0, 65535), "channels.web.port must be between 0 and 65535")
	c.check(!ch.Web.Auth.Enabled || ch.Web.Auth.Username != "", "channels.web.auth.username is required when auth is enabled")
	if ch.Webhook.Enabled {
		c.check(between(ch.Webhook.Port, 1, 65535), "channels.webhook.port must be between 1 and 65535")
		c.check(strings.HasPrefix(ch.Webhook.Path, "/"), "channels.webhook.path must start with /")
	}
	c.check(!ch.Telegram.Enabled || ch.Telegram.Token != "", "channels.telegram.token is required when telegram is enabled")
	c.check(!ch.Discord.Enabled || ch.Discord.Token != "", "channels.discord.token is required when discord is enabled")
	c.check(!ch.Slack.Enabled || (ch.Slack.BotToken != "" && ch.Slack.AppToken != ""),
		"channels.slack.botToken and channels.slack.appToken are required when slack is enabled")

	c.check(cfg.Memory.MaxHistoryPerConsultation >= 1, "memory.maxHistoryPerConsultation must be >= 1")
	c.check(cfg.Memory.RetentionDays >= 1, "memory.retentionDays must be >= 1")
	c.check(cfg.Attachments.MaxBytes >= 1, "attachments.maxBytes must be >= 1")
	c.check(len(cfg.Attachments.AllowedTypes) > 0, "attachments.allowedTypes must not be empty")
	c.check(!cfg.Voice.Enabled || (cfg.Voice.APIBase != "" && cfg.Voice.Model != ""),
		"voice.apiBase and voice.model are required when voice is enabled")
	c.check(!cfg.Export.Enabled || cfg.Export.TimeoutSeconds >= 1, "export.timeoutSeconds must be >= 1")

	for _, name := range slices.Sorted(maps.Keys(cfg.Providers)) {
		pc := cfg.Providers[name]
		c.check(!pc.Enabled || pc.APIBase != "" || builtinProviders[name], "providers.%s: apiBase is required", name)
		c.check(pc.Temperature >= 0 && pc.Temperature <= 2, "providers.%s: temperature must be between 0 and 2", name)
	}

	if len(c.problems) > 0 {
		return &ValidationError{Problems: c.problems}
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
