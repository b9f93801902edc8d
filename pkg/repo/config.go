package repo

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds repository-local settings read from .got/config.toml.
//
// Keys are addressed the way git addresses them: "section.key" or
// "section.subsection.key", where the subsection is everything between the
// first and last dot. "branch.main.stgit.protect" is stored as
//
//	[branch."main.stgit"]
//	protect = true
type Config struct {
	data map[string]any
}

// NewConfig returns an empty config.
func NewConfig() *Config {
	return &Config{data: make(map[string]any)}
}

// ParseConfig decodes TOML config text.
func ParseConfig(text string) (*Config, error) {
	cfg := NewConfig()
	if _, err := toml.Decode(text, &cfg.data); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func splitConfigKey(key string) (section, sub, name string, err error) {
	first := strings.IndexByte(key, '.')
	last := strings.LastIndexByte(key, '.')
	if first <= 0 || last == len(key)-1 {
		return "", "", "", fmt.Errorf("config: invalid key %q", key)
	}
	section = key[:first]
	name = key[last+1:]
	if last > first {
		sub = key[first+1 : last]
	}
	return section, sub, name, nil
}

// table returns the table holding key's value, optionally creating it.
func (c *Config) table(section, sub string, create bool) map[string]any {
	sec, ok := c.data[section].(map[string]any)
	if !ok {
		if !create {
			return nil
		}
		sec = make(map[string]any)
		c.data[section] = sec
	}
	if sub == "" {
		return sec
	}
	st, ok := sec[sub].(map[string]any)
	if !ok {
		if !create {
			return nil
		}
		st = make(map[string]any)
		sec[sub] = st
	}
	return st
}

func (c *Config) lookup(key string) (any, bool) {
	section, sub, name, err := splitConfigKey(key)
	if err != nil {
		return nil, false
	}
	t := c.table(section, sub, false)
	if t == nil {
		return nil, false
	}
	v, ok := t[name]
	if _, isTable := v.(map[string]any); isTable {
		return nil, false
	}
	return v, ok
}

// Get returns the value of key formatted as a string.
func (c *Config) Get(key string) (string, bool) {
	v, ok := c.lookup(key)
	if !ok {
		return "", false
	}
	return fmt.Sprint(v), true
}

// GetInt returns the integer value of key, or def when unset.
func (c *Config) GetInt(key string, def int) (int, error) {
	v, ok := c.lookup(key)
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return def, fmt.Errorf("config %s: not an integer: %q", key, n)
		}
		return i, nil
	}
	return def, fmt.Errorf("config %s: not an integer: %v", key, v)
}

// GetBool returns the boolean value of key, or def when unset. Strings
// "true", "yes", "on" and "1" count as true.
func (c *Config) GetBool(key string, def bool) (bool, error) {
	v, ok := c.lookup(key)
	if !ok {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case int64:
		return b != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes", "on", "1":
			return true, nil
		case "false", "no", "off", "0", "":
			return false, nil
		}
	}
	return def, fmt.Errorf("config %s: not a boolean: %v", key, v)
}

// Set stores value under key. Supported value types are string, bool and
// the integer types.
func (c *Config) Set(key string, value any) error {
	section, sub, name, err := splitConfigKey(key)
	if err != nil {
		return err
	}
	switch v := value.(type) {
	case string, bool, int64:
	case int:
		value = int64(v)
	default:
		return fmt.Errorf("config %s: unsupported value type %T", key, value)
	}
	c.table(section, sub, true)[name] = value
	return nil
}

// Unset removes key and reports whether it was present.
func (c *Config) Unset(key string) bool {
	section, sub, name, err := splitConfigKey(key)
	if err != nil {
		return false
	}
	t := c.table(section, sub, false)
	if t == nil {
		return false
	}
	if _, ok := t[name]; !ok {
		return false
	}
	delete(t, name)
	c.prune(section, sub)
	return true
}

// RemoveSection removes a whole section ("stgit") or subsection
// ("branch.main.stgit") and reports whether anything was removed.
func (c *Config) RemoveSection(name string) bool {
	section, sub, _ := strings.Cut(name, ".")
	if sub == "" {
		if _, ok := c.data[section]; !ok {
			return false
		}
		delete(c.data, section)
		return true
	}
	sec, ok := c.data[section].(map[string]any)
	if !ok {
		return false
	}
	if _, ok := sec[sub]; !ok {
		return false
	}
	delete(sec, sub)
	c.prune(section, "")
	return true
}

func (c *Config) prune(section, sub string) {
	sec, ok := c.data[section].(map[string]any)
	if !ok {
		return
	}
	if sub != "" {
		if st, ok := sec[sub].(map[string]any); ok && len(st) == 0 {
			delete(sec, sub)
		}
	}
	if len(sec) == 0 {
		delete(c.data, section)
	}
}

// Keys returns every key in dotted form, sorted.
func (c *Config) Keys() []string {
	var keys []string
	for section, sv := range c.data {
		sec, ok := sv.(map[string]any)
		if !ok {
			continue
		}
		for k, v := range sec {
			if st, ok := v.(map[string]any); ok {
				for name := range st {
					keys = append(keys, section+"."+k+"."+name)
				}
				continue
			}
			keys = append(keys, section+"."+k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Encode renders the config as TOML.
func (c *Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c.data); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Repo) configPath() string {
	return filepath.Join(r.GotDir, "config.toml")
}

// ReadConfig reads .got/config.toml. Missing config returns an empty config.
func (r *Repo) ReadConfig() (*Config, error) {
	data, err := os.ReadFile(r.configPath())
	if err != nil {
		if os.IsNotExist(err) {
			return NewConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := ParseConfig(string(data))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return cfg, nil
}

// WriteConfig atomically writes .got/config.toml.
func (r *Repo) WriteConfig(cfg *Config) error {
	if cfg == nil {
		cfg = NewConfig()
	}
	data, err := cfg.Encode()
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	tmp, err := os.CreateTemp(r.GotDir, ".config-tmp-*")
	if err != nil {
		return fmt.Errorf("write config: tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write config: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: close: %w", err)
	}
	if err := os.Rename(tmpName, r.configPath()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: rename: %w", err)
	}
	return nil
}

// UpdateConfig reads the config, applies fn and writes it back.
func (r *Repo) UpdateConfig(fn func(*Config) error) error {
	cfg, err := r.ReadConfig()
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	return r.WriteConfig(cfg)
}

// Identity returns "Name <email>" from user.name and user.email, falling
// back to $USER.
func (r *Repo) Identity() string {
	cfg, err := r.ReadConfig()
	if err != nil {
		cfg = NewConfig()
	}
	name, _ := cfg.Get("user.name")
	if name == "" {
		name = os.Getenv("USER")
	}
	if name == "" {
		name = "unknown"
	}
	if email, ok := cfg.Get("user.email"); ok && email != "" {
		return name + " <" + email + ">"
	}
	return name
}
