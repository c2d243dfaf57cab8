package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/NiklasVd/tell/pkg/common"
	"github.com/NiklasVd/tell/pkg/identity"
	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

const (
	MODE_CLIENT = "client"
	MODE_SERVER = "server"

	DefaultMessageRate  = 10
	DefaultMessageBurst = 10
	DefaultLogLevel     = 3

	configDirName = ".tell"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config is the on-disk application configuration. Relative paths are
// resolved against the directory of ConfigPath.
type Config struct {
	Name   string `toml:"name" yaml:"name"`
	Mode   string `toml:"mode" yaml:"mode"`
	Port   int    `toml:"port" yaml:"port"`
	Target string `toml:"target" yaml:"target"`

	// Zero selects the mode default.
	MaxConnections int `toml:"max_connections" yaml:"max_connections"`

	HeartbeatIntervalMs int `toml:"heartbeat_interval_ms" yaml:"heartbeat_interval_ms"`
	TimeoutGrace        int `toml:"timeout_grace" yaml:"timeout_grace"`

	MessageRate  int `toml:"message_rate" yaml:"message_rate"`
	MessageBurst int `toml:"message_burst" yaml:"message_burst"`

	HistoryPath  string `toml:"history_path" yaml:"history_path"`
	IdentityPath string `toml:"identity_path" yaml:"identity_path"`

	LogLevel int `toml:"loglevel" yaml:"loglevel"`

	ConfigPath string `toml:"-" yaml:"-"`
}

func DefaultConfig() *Config {
	return &Config{
		Mode:                MODE_CLIENT,
		Port:                0,
		Target:              fmt.Sprintf("127.0.0.1:%d", common.DEFAULT_PORT),
		HeartbeatIntervalMs: int(common.HEARTBEAT_INTERVAL / time.Millisecond),
		TimeoutGrace:        common.TIMEOUT_GRACE,
		MessageRate:         DefaultMessageRate,
		MessageBurst:        DefaultMessageBurst,
		HistoryPath:         "history.db",
		IdentityPath:        "storage",
		LogLevel:            DefaultLogLevel,
	}
}

func configDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, configDirName), nil
}

func GetConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config"), nil
}

func EnsureConfigDir() error {
	dir, err := configDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadConfig loads the configuration from the specified path. Files ending
// in .yaml or .yml are read as YAML, everything else as TOML.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 - user supplied config path
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = toml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.ConfigPath = path
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func marshal(cfg *Config, path string) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(cfg)
	}
	return toml.Marshal(cfg)
}

// SaveConfig saves the configuration to cfg.ConfigPath
func SaveConfig(cfg *Config) error {
	if cfg.ConfigPath == "" {
		return fmt.Errorf("config: %w: no path", ErrInvalidConfig)
	}
	data, err := marshal(cfg, cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return os.WriteFile(cfg.ConfigPath, data, 0644)
}

// CreateDefaultConfig creates a default configuration file
func CreateDefaultConfig(path string) error {
	cfg := DefaultConfig()
	data, err := marshal(cfg, path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// InitConfig loads ~/.tell/config, creating it first if missing.
func InitConfig() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := CreateDefaultConfig(configPath); err != nil {
			return nil, err
		}
	}

	return LoadConfig(configPath)
}

func (c *Config) Validate() error {
	switch c.Mode {
	case MODE_CLIENT, MODE_SERVER:
	default:
		return fmt.Errorf("config: %w: mode %q", ErrInvalidConfig, c.Mode)
	}
	if c.Name != "" {
		if err := identity.ValidateName(c.Name); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: %w: port %d", ErrInvalidConfig, c.Port)
	}
	if c.Target != "" {
		if _, _, err := net.SplitHostPort(c.Target); err != nil {
			return fmt.Errorf("config: %w: target %q: %w", ErrInvalidConfig, c.Target, err)
		}
	}
	if c.MaxConnections < 0 || c.MaxConnections > 65535 {
		return fmt.Errorf("config: %w: max_connections %d", ErrInvalidConfig, c.MaxConnections)
	}
	if c.HeartbeatIntervalMs < 0 || c.TimeoutGrace < 0 {
		return fmt.Errorf("config: %w: negative liveness setting", ErrInvalidConfig)
	}
	if c.MessageRate < 0 || c.MessageBurst < 0 {
		return fmt.Errorf("config: %w: negative rate limit", ErrInvalidConfig)
	}
	if c.LogLevel < 0 || c.LogLevel > 7 {
		return fmt.Errorf("config: %w: loglevel %d", ErrInvalidConfig, c.LogLevel)
	}
	return nil
}

func (c *Config) IsServer() bool {
	return c.Mode == MODE_SERVER
}

// MaxConns returns the configured connection cap or the mode default.
func (c *Config) MaxConns() int {
	if c.MaxConnections > 0 {
		return c.MaxConnections
	}
	if c.IsServer() {
		return common.DEFAULT_SERVER_MAX
	}
	return common.DEFAULT_CLIENT_MAX
}

func (c *Config) AdapterConfig() *common.AdapterConfig {
	cfg := common.NewAdapterConfig(uint16(c.Port), uint16(c.MaxConns())) // #nosec G115 - range checked by Validate
	cfg.HeartbeatInterval = time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
	cfg.TimeoutGrace = c.TimeoutGrace
	return cfg
}

// Resolve makes a relative path absolute against the config directory.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.ConfigPath == "" {
		return path
	}
	return filepath.Join(filepath.Dir(c.ConfigPath), path)
}
