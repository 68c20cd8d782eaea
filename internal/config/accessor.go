package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// tree renders cfg as the nested map the JSON file holds, so dotted paths
// use the file's key names.
func tree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// section walks to the map holding the last key of path. Keys dropped by
// omitempty are absent from the tree, so the last key may be missing.
func section(m map[string]any, path string) (map[string]any, string, error) {
	if path == "" {
		return nil, "", fmt.Errorf("empty path")
	}
	parts := strings.Split(path, ".")
	for _, key := range parts[:len(parts)-1] {
		next, ok := m[key].(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("unknown config section %q in %s", key, path)
		}
		m = next
	}
	return m, parts[len(parts)-1], nil
}

// GetByPath retrieves a config value by dot-notation path (e.g. "routing.defaultAgent").
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := tree(cfg)
	if err != nil {
		return nil, err
	}
	parent, key, err := section(m, path)
	if err != nil {
		return nil, err
	}
	v, ok := parent[key]
	if !ok {
		return nil, fmt.Errorf("key not found: %s", path)
	}
	return v, nil
}

// SetByPath assigns value to a config key. Unknown keys and values that do
// not fit the field's type are rejected.
func SetByPath(cfg *Config, path string, value any) error {
	m, err := tree(cfg)
	if err != nil {
		return err
	}
	parent, key, err := section(m, path)
	if err != nil {
		return err
	}

	current, known := parent[key]
	parent[key] = coerce(current, known, value)
	updated, err := decodeStrict(m)
	if s, ok := value.(string); ok && err != nil && !known {
		// The guess was wrong for an unset key: try it as a plain string,
		// then as a one-item list (corsOrigins).
		for _, alt := range []any{s, []any{s}} {
			parent[key] = alt
			if retry, rerr := decodeStrict(m); rerr == nil {
				updated, err = retry, nil
				break
			}
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	*cfg = *updated
	return nil
}

func decodeStrict(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var c Config
	if err := dec.Decode(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// coerce converts a command-line string into the shape of the current
// value, or guesses the type when the key is unset.
func coerce(current any, known bool, value any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	if !known {
		current = guess(s)
		if _, isStr := current.(string); !isStr {
			return current
		}
		if !strings.Contains(s, ",") {
			return s
		}
		current = []any{}
	}
	switch current.(type) {
	case []any:
		var items []any
		for _, item := range strings.Split(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items
	case bool:
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	case float64:
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return n
		}
	}
	return s
}

func guess(s string) any {
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return b
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

// Sanitize returns a copy of the config with credentials masked.
func Sanitize(cfg *Config) *Config {
	c := *cfg
	c.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)

	for _, secret := range []*string{
		&c.Meta.AppSecret,
		&c.Meta.VerifyToken,
		&c.WhatsApp.AccessToken,
		&c.Facebook.PageAccessToken,
		&c.Notify.Telegram.Token,
	} {
		if *secret != "" {
			*secret = maskString(*secret)
		}
	}
	c.Database.DSN = maskDSN(c.Database.DSN)
	c.Routing.RedisURL = maskDSN(c.Routing.RedisURL)
	return &c
}

// maskDSN hides the password in a URL-style connection string.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// maskString keeps the first and last four characters of long secrets.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths flattens the config into path → value pairs.
func ListPaths(cfg *Config) map[string]any {
	m, err := tree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			if sub, ok := v.(map[string]any); ok {
				walk(k, sub)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}
