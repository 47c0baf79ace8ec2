package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Watch  WatchConfig  `yaml:"watch"`
	Guard  GuardConfig  `yaml:"guard"`
	Auth   AuthConfig   `yaml:"auth"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxConnections int      `yaml:"max_connections"`
}

// WatchConfig controls the filesystem watcher. ChangeDebounce and
// StalenessInterval are safe to change live (SIGHUP); Home is not, since
// changing it would mean re-adding every fsnotify watch from scratch.
type WatchConfig struct {
	// Home is the directory containing teams/, tasks/, and projects/.
	Home              string        `yaml:"home"`
	ChangeDebounce    time.Duration `yaml:"change_debounce"`
	StalenessInterval time.Duration `yaml:"staleness_interval"`
}

// GuardConfig controls GuardManager's two TTLs (spec §4.2). Both are safe
// to change live.
type GuardConfig struct {
	RemovedTTL       time.Duration `yaml:"removed_ttl"`
	HookActiveWindow time.Duration `yaml:"hook_active_window"`
}

// AuthConfig controls the shared-bearer-token check the transport shell
// applies outside the core (the "authorization beyond a single shared
// bearer token checked outside the core" Non-goal).
type AuthConfig struct {
	Token string `yaml:"token"`
}

func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	if cfg.Watch.Home == "" {
		cfg.Watch.Home = defaultWatchHome()
	}
	return cfg, nil
}

// LoadOrDefault loads config from path, or returns default config if path
// doesn't exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := defaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}
	return Load(path)
}

// applyEnvOverrides lets PORT and AUTH_TOKEN override the loaded file, the
// two environment variables the transport shell's auth/listen setup reads.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("AUTH_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			Host:           "127.0.0.1",
			MaxConnections: 1000,
		},
		Watch: WatchConfig{
			Home:              defaultWatchHome(),
			ChangeDebounce:    100 * time.Millisecond,
			StalenessInterval: 15 * time.Second,
		},
		Guard: GuardConfig{
			RemovedTTL:       5 * time.Minute,
			HookActiveWindow: 5 * time.Second,
		},
	}
}

func defaultWatchHome() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".claude")
}

func defaultConfigDir() string {
	if value := os.Getenv("XDG_CONFIG_HOME"); value != "" {
		return value
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config")
}

// DefaultConfigPath returns the default XDG-compliant config file path.
func DefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "agent-racer", "config.yaml")
}

// Diff compares two configs and returns human-readable descriptions of
// what changed. Watch timings and guard TTLs are safe to apply live on
// SIGHUP; everything else requires a restart and is reported as such
// rather than silently ignored.
func Diff(old, new *Config) []string {
	var changes []string

	if old.Watch.ChangeDebounce != new.Watch.ChangeDebounce {
		changes = append(changes, fmt.Sprintf("watch.change_debounce: %s -> %s", old.Watch.ChangeDebounce, new.Watch.ChangeDebounce))
	}
	if old.Watch.StalenessInterval != new.Watch.StalenessInterval {
		changes = append(changes, fmt.Sprintf("watch.staleness_interval: %s -> %s", old.Watch.StalenessInterval, new.Watch.StalenessInterval))
	}
	if old.Guard.RemovedTTL != new.Guard.RemovedTTL {
		changes = append(changes, fmt.Sprintf("guard.removed_ttl: %s -> %s", old.Guard.RemovedTTL, new.Guard.RemovedTTL))
	}
	if old.Guard.HookActiveWindow != new.Guard.HookActiveWindow {
		changes = append(changes, fmt.Sprintf("guard.hook_active_window: %s -> %s", old.Guard.HookActiveWindow, new.Guard.HookActiveWindow))
	}

	if old.Server.Host != new.Server.Host || old.Server.Port != new.Server.Port {
		changes = append(changes, "server.host/port changed: restart required, ignoring for live reload")
	}
	if old.Server.MaxConnections != new.Server.MaxConnections {
		changes = append(changes, "server.max_connections changed: restart required, ignoring for live reload")
	}
	if !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		changes = append(changes, "server.allowed_origins changed: restart required, ignoring for live reload")
	}
	if old.Watch.Home != new.Watch.Home {
		changes = append(changes, "watch.home changed: restart required, ignoring for live reload")
	}
	if old.Auth.Token != new.Auth.Token {
		changes = append(changes, "auth.token changed: restart required, ignoring for live reload")
	}

	return changes
}
