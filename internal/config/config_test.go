package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
	if want := []string{"Global", "Engineering", "Sciences", "Arts"}; !reflect.DeepEqual(cfg.Rooms.Default, want) {
		t.Errorf("Expected default rooms %v, got %v", want, cfg.Rooms.Default)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("Expected defaults for a missing file, got %+v", cfg)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	content := `
listen = ["/ip4/127.0.0.1/tcp/4001"]
log_level = "debug"
username = "alice"

[discovery]
ttl = "30s"

[rooms]
default = ["Global", "chess"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Listen[0] != "/ip4/127.0.0.1/tcp/4001" {
		t.Errorf("Unexpected listen %v", cfg.Listen)
	}
	if cfg.Username != "alice" || cfg.LogLevel != "debug" {
		t.Errorf("Unexpected values %+v", cfg)
	}
	if cfg.Discovery.TTL.Duration != 30*time.Second {
		t.Errorf("Expected ttl 30s, got %s", cfg.Discovery.TTL)
	}
	if cfg.Discovery.MDNSService != "swapbytes" {
		t.Errorf("Unset keys should keep defaults, got %q", cfg.Discovery.MDNSService)
	}
	if !reflect.DeepEqual(cfg.Rooms.Default, []string{"Global", "chess"}) {
		t.Errorf("Unexpected rooms %v", cfg.Rooms.Default)
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("listen = ["), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("Expected parse error")
	}
}

func TestMerge(t *testing.T) {
	cfg := Default()
	cfg.Merge(Overrides{
		Listen:   []string{"/ip4/127.0.0.1/tcp/0"},
		Username: "bob",
		NoMDNS:   true,
	})

	if cfg.Listen[0] != "/ip4/127.0.0.1/tcp/0" || cfg.Username != "bob" || !cfg.Discovery.DisableMDNS {
		t.Errorf("Overrides not applied: %+v", cfg)
	}
	if cfg.LogDir != "Logs" {
		t.Errorf("Empty overrides must keep config values, got %q", cfg.LogDir)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"no listen", func(c *Config) { c.Listen = nil }, "listen"},
		{"bad multiaddr", func(c *Config) { c.Listen = []string{"tcp/4001"} }, "listen address"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
		{"zero ttl", func(c *Config) { c.Discovery.TTL = Duration{} }, "ttl"},
		{"long room", func(c *Config) { c.Rooms.Default = []string{strings.Repeat("x", 65)} }, "rooms.default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.errSub) {
				t.Errorf("Expected error containing %q, got %v", tt.errSub, err)
			}
		})
	}
}

func TestPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/tmp/sb"

	if got := cfg.IdentityPath(); got != filepath.Join("/tmp/sb", "identity.key") {
		t.Errorf("IdentityPath = %q", got)
	}
	cfg.IdentityFile = "/etc/key"
	if got := cfg.IdentityPath(); got != "/etc/key" {
		t.Errorf("IdentityPath = %q", got)
	}
	if got := cfg.DatabasePath(); got != filepath.Join("/tmp/sb", "swapbytes.sqlite3") {
		t.Errorf("DatabasePath = %q", got)
	}
}
