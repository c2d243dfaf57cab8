package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/NiklasVd/tell/pkg/common"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v; want nil", err)
	}
	if cfg.Mode != MODE_CLIENT {
		t.Errorf("Mode = %q; want %q", cfg.Mode, MODE_CLIENT)
	}
	if got := cfg.MaxConns(); got != common.DEFAULT_CLIENT_MAX {
		t.Errorf("MaxConns() = %d; want %d", got, common.DEFAULT_CLIENT_MAX)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"server mode", func(c *Config) { c.Mode = MODE_SERVER }, true},
		{"unknown mode", func(c *Config) { c.Mode = "relay" }, false},
		{"good name", func(c *Config) { c.Name = "Alice" }, true},
		{"short name", func(c *Config) { c.Name = "Al" }, false},
		{"port too large", func(c *Config) { c.Port = 70000 }, false},
		{"negative port", func(c *Config) { c.Port = -1 }, false},
		{"target without port", func(c *Config) { c.Target = "localhost" }, false},
		{"empty target", func(c *Config) { c.Target = "" }, true},
		{"negative grace", func(c *Config) { c.TimeoutGrace = -1 }, false},
		{"negative rate", func(c *Config) { c.MessageRate = -5 }, false},
		{"rate disabled", func(c *Config) { c.MessageRate = 0 }, true},
		{"loglevel too high", func(c *Config) { c.LogLevel = 8 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.valid && err != nil {
				t.Errorf("Validate() = %v; want nil", err)
			}
			if !tt.valid && err == nil {
				t.Error("Validate() = nil; want error")
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	for _, name := range []string{"config", "config.toml", "config.yaml", "config.yml"} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ConfigPath = filepath.Join(t.TempDir(), name)
			cfg.Name = "Alice"
			cfg.Mode = MODE_SERVER
			cfg.Port = 7000
			cfg.MaxConnections = 4
			cfg.HeartbeatIntervalMs = 500

			if err := SaveConfig(cfg); err != nil {
				t.Fatalf("SaveConfig() failed: %v", err)
			}
			got, err := LoadConfig(cfg.ConfigPath)
			if err != nil {
				t.Fatalf("LoadConfig() failed: %v", err)
			}
			if *got != *cfg {
				t.Errorf("LoadConfig() = %+v; want %+v", got, cfg)
			}
		})
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("name: Bob\nmode: server\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}
	if cfg.Name != "Bob" || !cfg.IsServer() {
		t.Errorf("LoadConfig() = %+v; want server Bob", cfg)
	}
	if cfg.MessageRate != DefaultMessageRate {
		t.Errorf("MessageRate = %d; want default %d", cfg.MessageRate, DefaultMessageRate)
	}
	if got := cfg.MaxConns(); got != common.DEFAULT_SERVER_MAX {
		t.Errorf("MaxConns() = %d; want %d", got, common.DEFAULT_SERVER_MAX)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad")
	if err := os.WriteFile(bad, []byte("mode = \"relay\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(bad); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("LoadConfig(bad mode) error = %v; want ErrInvalidConfig", err)
	}

	garbled := filepath.Join(dir, "garbled")
	if err := os.WriteFile(garbled, []byte("port = = 3"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(garbled); err == nil {
		t.Error("LoadConfig(garbled) = nil error; want parse error")
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing")); !os.IsNotExist(err) {
		t.Errorf("LoadConfig(missing) error = %v; want not-exist", err)
	}
}

func TestSaveConfigRequiresPath(t *testing.T) {
	if err := SaveConfig(DefaultConfig()); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("SaveConfig() error = %v; want ErrInvalidConfig", err)
	}
}

func TestInitConfigCreatesDefault(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := InitConfig()
	if err != nil {
		t.Fatalf("InitConfig() failed: %v", err)
	}
	want := filepath.Join(home, ".tell", "config")
	if cfg.ConfigPath != want {
		t.Errorf("ConfigPath = %q; want %q", cfg.ConfigPath, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("config file not created: %v", err)
	}

	cfg.Name = "Carol"
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig() failed: %v", err)
	}
	again, err := InitConfig()
	if err != nil {
		t.Fatalf("second InitConfig() failed: %v", err)
	}
	if again.Name != "Carol" {
		t.Errorf("Name = %q after reload; want Carol", again.Name)
	}
}

func TestAdapterConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = MODE_SERVER
	cfg.Port = 9000
	cfg.HeartbeatIntervalMs = 200
	cfg.TimeoutGrace = 5

	ac := cfg.AdapterConfig()
	if err := ac.Validate(); err != nil {
		t.Fatalf("AdapterConfig().Validate() = %v", err)
	}
	if ac.Port != 9000 || ac.MaxConnections != common.DEFAULT_SERVER_MAX {
		t.Errorf("AdapterConfig() = %+v; want port 9000, max %d", ac, common.DEFAULT_SERVER_MAX)
	}
	if want := common.TimeoutThreshold(200*time.Millisecond, 5); ac.Timeout() != want {
		t.Errorf("Timeout() = %v; want %v", ac.Timeout(), want)
	}
}

func TestResolve(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.Resolve("history.db"); got != "history.db" {
		t.Errorf("Resolve() without ConfigPath = %q; want unchanged", got)
	}

	cfg.ConfigPath = filepath.Join("/etc", "tell", "config")
	tests := []struct {
		in, want string
	}{
		{"history.db", filepath.Join("/etc", "tell", "history.db")},
		{"/var/lib/tell.db", "/var/lib/tell.db"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := cfg.Resolve(tt.in); got != tt.want {
			t.Errorf("Resolve(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}
