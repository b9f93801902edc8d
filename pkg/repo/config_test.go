package repo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigGetSetRoundTrip(t *testing.T) {
	r := newRepo(t)
	err := r.UpdateConfig(func(c *Config) error {
		if err := c.Set("stgit.namelength", 40); err != nil {
			return err
		}
		if err := c.Set("branch.feature/x.stgit.protect", true); err != nil {
			return err
		}
		return c.Set("user.name", "Ada")
	})
	if err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	cfg, err := r.ReadConfig()
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	if n, err := cfg.GetInt("stgit.namelength", 30); err != nil || n != 40 {
		t.Errorf("GetInt(namelength) = %d, %v; want 40", n, err)
	}
	if b, err := cfg.GetBool("branch.feature/x.stgit.protect", false); err != nil || !b {
		t.Errorf("GetBool(protect) = %v, %v; want true", b, err)
	}
	if v, ok := cfg.Get("user.name"); !ok || v != "Ada" {
		t.Errorf("Get(user.name) = %q, %v", v, ok)
	}
	if n, _ := cfg.GetInt("stgit.missing", 7); n != 7 {
		t.Errorf("GetInt default = %d, want 7", n)
	}

	raw, err := os.ReadFile(filepath.Join(r.GotDir, "config.toml"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(raw), `"feature/x.stgit"`) {
		t.Errorf("config.toml does not quote the subsection:\n%s", raw)
	}
}

func TestConfigParsesHandWrittenTOML(t *testing.T) {
	cfg, err := ParseConfig(`
[core]
hookspath = "~/hooks"

[stgit]
namelength = "12"

[branch."main.stgit"]
protect = "yes"
`)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if v, _ := cfg.Get("core.hookspath"); v != "~/hooks" {
		t.Errorf("core.hookspath = %q", v)
	}
	if n, err := cfg.GetInt("stgit.namelength", 30); err != nil || n != 12 {
		t.Errorf("namelength = %d, %v; want 12", n, err)
	}
	if b, _ := cfg.GetBool("branch.main.stgit.protect", false); !b {
		t.Error("protect = false, want true")
	}
	if _, err := cfg.GetBool("core.hookspath", false); err == nil {
		t.Error("GetBool on a path should fail")
	}
}

func TestConfigUnsetAndRemoveSection(t *testing.T) {
	cfg := NewConfig()
	_ = cfg.Set("branch.main.stgit.protect", true)
	_ = cfg.Set("branch.main.stgit.parentbranch", "origin")
	_ = cfg.Set("branch.dev.stgit.protect", false)

	if !cfg.Unset("branch.main.stgit.parentbranch") {
		t.Error("Unset returned false for existing key")
	}
	if cfg.Unset("branch.main.stgit.parentbranch") {
		t.Error("Unset returned true for missing key")
	}
	if !cfg.RemoveSection("branch.main.stgit") {
		t.Error("RemoveSection returned false")
	}
	if cfg.RemoveSection("branch.main.stgit") {
		t.Error("RemoveSection of missing section returned true")
	}
	keys := cfg.Keys()
	if len(keys) != 1 || keys[0] != "branch.dev.stgit.protect" {
		t.Errorf("Keys = %v", keys)
	}
}

func TestConfigRejectsBadKeys(t *testing.T) {
	cfg := NewConfig()
	for _, key := range []string{"", "nodot", ".x", "x."} {
		if err := cfg.Set(key, "v"); err == nil {
			t.Errorf("Set(%q) accepted invalid key", key)
		}
	}
	if err := cfg.Set("a.b", 1.5); err == nil {
		t.Error("Set accepted a float value")
	}
}

func TestIdentityFromConfig(t *testing.T) {
	r := newRepo(t)
	_ = r.UpdateConfig(func(c *Config) error {
		_ = c.Set("user.name", "Ada Lovelace")
		return c.Set("user.email", "ada@example.com")
	})
	if got := r.Identity(); got != "Ada Lovelace <ada@example.com>" {
		t.Errorf("Identity = %q", got)
	}
}
