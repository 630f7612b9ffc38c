package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- Validate ---

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string // empty when the config stays valid
	}{
		{"defaults", func(*Config) {}, ""},
		{"no streams", func(c *Config) { c.General.MaxConcurrentStreams = 0 }, "general.maxConcurrentStreams"},
		{"too many streams", func(c *Config) { c.General.MaxConcurrentStreams = 101 }, "general.maxConcurrentStreams"},
		{"one stream", func(c *Config) { c.General.MaxConcurrentStreams = 1 }, ""},
		{"negative port", func(c *Config) { c.Channels.Web.Port = -1 }, "channels.web.port"},
		{"port too high", func(c *Config) { c.Channels.Web.Port = 70000 }, "channels.web.port"},
		{"log level", func(c *Config) { c.General.LogLevel = "verbose" }, "general.logLevel"},
		{"log level case", func(c *Config) { c.General.LogLevel = "DEBUG" }, ""},
		{"unknown default provider", func(c *Config) { c.General.DefaultProvider = "nope" }, "general.defaultProvider"},
		{"unknown failover entry", func(c *Config) { c.General.FailoverChain = []string{"gemini", "nope"} }, "general.failoverChain"},
		{"custom provider without apiBase", func(c *Config) {
			c.Providers["groq"] = ProviderConfig{Enabled: true, APIKey: "k"}
		}, "providers.groq"},
		{"builtin provider without apiBase", func(c *Config) { c.Providers["openai"] = ProviderConfig{Enabled: true} }, ""},
		{"temperature", func(c *Config) {
			c.Providers["openai"] = ProviderConfig{Enabled: true, Temperature: 2.5}
		}, "providers.openai: temperature"},
		{"no attachment size", func(c *Config) { c.Attachments.MaxBytes = 0 }, "attachments.maxBytes"},
		{"no attachment types", func(c *Config) { c.Attachments.AllowedTypes = nil }, "attachments.allowedTypes"},
		{"telegram without token", func(c *Config) { c.Channels.Telegram.Enabled = true }, "channels.telegram.token"},
		{"discord without token", func(c *Config) { c.Channels.Discord.Enabled = true }, "channels.discord.token"},
		{"slack without app token", func(c *Config) {
			c.Channels.Slack.Enabled = true
			c.Channels.Slack.BotToken = "xoxb-1"
		}, "appToken"},
		{"slack complete", func(c *Config) {
			c.Channels.Slack = SlackConfig{Enabled: true, BotToken: "xoxb-1", AppToken: "xapp-1"}
		}, ""},
		{"webhook path", func(c *Config) {
			c.Channels.Webhook.Enabled = true
			c.Channels.Webhook.Path = "hook"
		}, "channels.webhook.path"},
		{"auth without user", func(c *Config) { c.Channels.Web.Auth.Enabled = true }, "channels.web.auth.username"},
		{"history", func(c *Config) { c.Memory.MaxHistoryPerConsultation = 0 }, "memory.maxHistoryPerConsultation"},
		{"retention", func(c *Config) { c.Memory.RetentionDays = 0 }, "memory.retentionDays"},
		{"voice without model", func(c *Config) {
			c.Voice.Enabled = true
			c.Voice.Model = ""
		}, "voice.apiBase and voice.model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			switch {
			case tt.field == "" && err != nil:
				t.Fatalf("expected valid config, got: %v", err)
			case tt.field != "" && err == nil:
				t.Fatalf("expected error naming %s", tt.field)
			case tt.field != "" && !strings.Contains(err.Error(), tt.field):
				t.Fatalf("error should name %s, got: %v", tt.field, err)
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Memory.RetentionDays = 0
	cfg.Channels.Telegram.Enabled = true

	var verr *ValidationError
	if err := Validate(cfg); !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(verr.Problems) != 2 {
		t.Fatalf("expected 2 problems, got %q", verr.Problems)
	}
}

// --- Load / Save ---

// writeConfig writes content to config.json in a temp dir.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	want := Defaults()
	want.General.DefaultProvider = "ollama"
	want.Providers["ollama"] = ProviderConfig{Enabled: true, DefaultModel: "llava"}
	if err := Save(path, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.General.DefaultProvider != "ollama" || got.Providers["ollama"].DefaultModel != "llava" {
		t.Fatalf("round trip lost settings: provider %q, model %q",
			got.General.DefaultProvider, got.Providers["ollama"].DefaultModel)
	}
}

func TestSave_OwnerOnlyAndReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	if err := Save(path, Defaults()); err != nil {
		t.Fatalf("save: %v", err)
	}
	cfg := Defaults()
	cfg.Channels.Web.Port = 9191
	if err := Save(path, cfg); err != nil {
		t.Fatalf("second save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected 0600, got %o", perm)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %v", entries)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Channels.Web.Port != 9191 {
		t.Fatalf("expected the second save to win, got port %d", loaded.Channels.Web.Port)
	}
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"missing file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "absent.json") }},
		{"malformed json", func(t *testing.T) string { return writeConfig(t, "{not json}") }},
		{"invalid value", func(t *testing.T) string {
			return writeConfig(t, `{"general": {"maxConcurrentStreams": 0}}`)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(tt.path(t)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLoad_GeminiKeyFromEnvironment(t *testing.T) {
	tests := []struct {
		name, gemini, apiKey, want string
	}{
		{"API_KEY fallback", "", "from-api-key", "from-api-key"},
		{"GEMINI_API_KEY wins", "gemini-key", "other-key", "gemini-key"},
		{"neither set", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GEMINI_API_KEY", tt.gemini)
			t.Setenv("API_KEY", tt.apiKey)
			path := filepath.Join(t.TempDir(), "config.json")
			if err := Save(path, Defaults()); err != nil {
				t.Fatal(err)
			}
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if got := cfg.Providers["gemini"].APIKey; got != tt.want {
				t.Fatalf("gemini key = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestApplyEnv_KeepsExplicitKey(t *testing.T) {
	t.Setenv("API_KEY", "env-key")

	cfg := Defaults()
	pc := cfg.Providers["gemini"]
	pc.APIKey = "explicit"
	cfg.Providers["gemini"] = pc

	ApplyEnv(cfg)
	if got := cfg.Providers["gemini"].APIKey; got != "explicit" {
		t.Fatalf("expected explicit key to win, got %q", got)
	}
}

// --- Accessor ---

func TestGetByPath(t *testing.T) {
	tests := []struct {
		path    string
		want    any
		wantErr bool
	}{
		{path: "general.defaultProvider", want: "gemini"},
		{path: "providers.gemini.defaultModel", want: "gemini-2.5-flash"},
		{path: "attachments.allowedTypes.1", want: "application/pdf"},
		{path: "attachments.allowedTypes.99", wantErr: true},
		{path: "nonexistent.path", wantErr: true},
	}
	cfg := Defaults()
	for _, tt := range tests {
		got, err := GetByPath(cfg, tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("GetByPath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("GetByPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestSetByPath(t *testing.T) {
	tests := []struct {
		path, value string
		check       func(*Config) bool
	}{
		{"providers.gemini.defaultModel", "gemini-2.5-pro", func(c *Config) bool {
			return c.Providers["gemini"].DefaultModel == "gemini-2.5-pro"
		}},
		{"memory.enabled", "false", func(c *Config) bool { return !c.Memory.Enabled }},
		{"channels.web.port", "9000", func(c *Config) bool { return c.Channels.Web.Port == 9000 }},
		// digits stay a string when the field is one
		{"channels.discord.guildId", "123456789012345678", func(c *Config) bool {
			return c.Channels.Discord.GuildID == "123456789012345678"
		}},
		{"channels.telegram.allowFrom", `["111", 222]`, func(c *Config) bool {
			return strings.Join(c.Channels.Telegram.AllowFrom, ",") == "111,222"
		}},
		{"providers.groq.apiKey", "gsk-test", func(c *Config) bool { return c.Providers["groq"].APIKey == "gsk-test" }},
	}
	for _, tt := range tests {
		cfg := Defaults()
		if err := SetByPath(cfg, tt.path, tt.value); err != nil {
			t.Errorf("SetByPath(%q, %q): %v", tt.path, tt.value, err)
			continue
		}
		if !tt.check(cfg) {
			t.Errorf("SetByPath(%q, %q) did not take effect", tt.path, tt.value)
		}
	}
}

func TestSetByPath_Rejects(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"unknown setting", "channels.web.colour"},
		{"unknown section", "nonexistent.path"},
		{"whole section", "channels.web"},
		{"through a scalar", "channels.web.port.value"},
		{"empty path", ""},
	}
	for _, tt := range tests {
		cfg := Defaults()
		if err := SetByPath(cfg, tt.path, "1"); err == nil {
			t.Errorf("%s: expected error for %q", tt.name, tt.path)
		}
		if cfg.Channels.Web.Port != Defaults().Channels.Web.Port {
			t.Errorf("%s: config modified on error", tt.name)
		}
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Token = "123456789:ABCdefGHIjklMNOpqrSTUvwxyz"
	cfg.Providers["openai"] = ProviderConfig{
		Enabled: true,
		APIKey:  "sk-1234567890abcdefghijklmnop",
	}
	cfg.Channels.Web.Auth.PasswordHash = "abcdef"
	cfg.Channels.Slack.AppToken = "xapp-1-A0123456789-abcdef"

	sanitized := Sanitize(cfg)

	if sanitized.Channels.Slack.AppToken != "xapp****cdef" {
		t.Fatalf("slack app token should be masked, got %q", sanitized.Channels.Slack.AppToken)
	}

	if sanitized.Channels.Telegram.Token == cfg.Channels.Telegram.Token {
		t.Fatal("telegram token should be masked")
	}
	if sanitized.Providers["openai"].APIKey == cfg.Providers["openai"].APIKey {
		t.Fatal("API key should be masked")
	}
	if sanitized.Channels.Web.Auth.PasswordHash != "***" {
		t.Fatal("password hash should be masked")
	}
	if cfg.Channels.Telegram.Token != "123456789:ABCdefGHIjklMNOpqrSTUvwxyz" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Token = "short"
	sanitized := Sanitize(cfg)
	if sanitized.Channels.Telegram.Token != "***" {
		t.Fatalf("short secret should be '***', got %q", sanitized.Channels.Telegram.Token)
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	cfg := Defaults()
	paths := ListPaths(cfg)
	if len(paths) == 0 {
		t.Fatal("expected non-empty paths")
	}

	for _, expected := range []string{"general.workspace", "general.logLevel", "memory.enabled", "attachments.maxBytes", "export.headless"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}
}

// --- FlexStringList ---

func TestFlexStringList_MixedTypes(t *testing.T) {
	input := `["hello", 123, "world", 456.0]`
	var list FlexStringList
	if err := json.Unmarshal([]byte(input), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("expected 4 items, got %d", len(list))
	}
	if list[0] != "hello" || list[2] != "world" {
		t.Fatal("string items mismatch")
	}
	if list[1] != "123" || list[3] != "456" {
		t.Fatalf("number conversion mismatch: %v", list)
	}
}

func TestFlexStringList_InvalidJSON(t *testing.T) {
	var list FlexStringList
	err := json.Unmarshal([]byte(`not json`), &list)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-abc123")
	t.Setenv("EMPTY_VAR", "")
	os.Unsetenv("UNSET_VAR_12345")

	tests := []struct {
		in, want string
	}{
		{`{"apiKey": "${TEST_API_KEY}"}`, `{"apiKey": "sk-abc123"}`},
		{`{"port": "${UNSET_VAR_12345:-8080}"}`, `{"port": "8080"}`},
		{`"${UNSET_VAR_12345}"`, `"${UNSET_VAR_12345}"`},
		{`"${EMPTY_VAR:-fallback}"`, `"fallback"`},
		{`"$HOME is not substituted"`, `"$HOME is not substituted"`},
		{`"${TEST_API_KEY}/${UNSET_VAR_12345:-v1}"`, `"sk-abc123/v1"`},
		{`no references`, `no references`},
	}
	for _, tt := range tests {
		if got := ExpandEnvVars(tt.in); got != tt.want {
			t.Errorf("ExpandEnvVars(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_MEDI_WORKSPACE", "/tmp/test-workspace")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"general": {
			"workspace": "${TEST_MEDI_WORKSPACE}",
			"logLevel": "info",
			"defaultProvider": "gemini",
			"maxConcurrentStreams": 5,
			"requestTimeoutSeconds": 60
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.General.Workspace != "/tmp/test-workspace" {
		t.Fatalf("expected workspace '/tmp/test-workspace', got %q", cfg.General.Workspace)
	}
}

// --- Defaults ---

func TestDefaults_ReturnsValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
	if cfg.General.DefaultProvider != "gemini" {
		t.Fatalf("default provider should be 'gemini', got %q", cfg.General.DefaultProvider)
	}
	if cfg.Providers["gemini"].DefaultModel != "gemini-2.5-flash" {
		t.Fatalf("unexpected default model %q", cfg.Providers["gemini"].DefaultModel)
	}
}
