package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Settings are addressed by dot paths over the JSON field names, for
// example "channels.telegram.editIntervalMs" or "attachments.allowedTypes.0".

// Clone returns a deep copy of cfg.
func Clone(cfg *Config) (*Config, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var out Config
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func tree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	return root, nil
}

// GetByPath returns the value at path: a scalar, a list or a whole section.
func GetByPath(cfg *Config, path string) (any, error) {
	root, err := tree(cfg)
	if err != nil {
		return nil, err
	}
	var node any = root
	for _, key := range strings.Split(path, ".") {
		if node, err = child(node, key); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return node, nil
}

func child(node any, key string) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		val, ok := v[key]
		if !ok {
			return nil, fmt.Errorf("no setting %q", key)
		}
		return val, nil
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(v) {
			return nil, fmt.Errorf("index %q out of range", key)
		}
		return v[i], nil
	}
	return nil, fmt.Errorf("%q is not a section", key)
}

// SetByPath replaces one value. String values from the command line are
// read as JSON first, so "false", "9000" and ["a","b"] get their natural
// types; a string field still accepts digits. Unknown settings are
// rejected, except new entries under a map such as providers.<name>.
func SetByPath(cfg *Config, path string, value any) error {
	if path == "" {
		return errors.New("empty path")
	}
	root, err := tree(cfg)
	if err != nil {
		return err
	}

	keys := strings.Split(path, ".")
	section := root
	for _, key := range keys[:len(keys)-1] {
		next, ok := section[key]
		if !ok {
			created := make(map[string]any)
			section[key] = created
			section = created
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: %q is not a section", path, key)
		}
		section = m
	}

	leaf := keys[len(keys)-1]
	if _, isSection := section[leaf].(map[string]any); isSection {
		return fmt.Errorf("%s is a section, set one of its fields", path)
	}

	section[leaf] = coerce(value)
	err = decodeStrict(cfg, root)
	if s, isString := value.(string); err != nil && isString {
		section[leaf] = s
		err = decodeStrict(cfg, root)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func decodeStrict(cfg *Config, root map[string]any) error {
	data, err := json.Marshal(root)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var out Config
	if err := dec.Decode(&out); err != nil {
		return err
	}
	*cfg = out
	return nil
}

func coerce(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err != nil || decoded == nil {
		return s
	}
	if _, isObject := decoded.(map[string]any); isObject {
		return s
	}
	return decoded
}

// Sanitize returns a copy of cfg with secrets masked.
func Sanitize(cfg *Config) *Config {
	out, err := Clone(cfg)
	if err != nil {
		return cfg
	}
	for name, pc := range out.Providers {
		pc.APIKey = mask(pc.APIKey)
		out.Providers[name] = pc
	}
	for _, secret := range []*string{
		&out.Voice.APIKey,
		&out.Channels.Telegram.Token,
		&out.Channels.Discord.Token,
		&out.Channels.Slack.BotToken,
		&out.Channels.Slack.AppToken,
		&out.Channels.Webhook.Secret,
	} {
		*secret = mask(*secret)
	}
	if out.Channels.Web.Auth.PasswordHash != "" {
		out.Channels.Web.Auth.PasswordHash = "***"
	}
	return out
}

// mask keeps the first and last four characters of long secrets.
func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths flattens cfg into path -> value. Lists are leaves.
func ListPaths(cfg *Config) map[string]any {
	root, err := tree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	flatten("", root, out)
	return out
}

func flatten(prefix string, section map[string]any, out map[string]any) {
	for key, val := range section {
		if prefix != "" {
			key = prefix + "." + key
		}
		if sub, ok := val.(map[string]any); ok {
			flatten(key, sub, out)
			continue
		}
		out[key] = val
	}
}
