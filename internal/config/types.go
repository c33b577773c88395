package config

import (
	"os"
	"path/filepath"
)

// Config represents the complete wayguard configuration.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Display       DisplayConfig       `yaml:"display"`
	State         StateConfig         `yaml:"state"`
	Keybindings   KeybindingsConfig   `yaml:"keybindings"`
	Authorization AuthorizationConfig `yaml:"authorization"`
	Startup       StartupConfig       `yaml:"startup"`
	Grants        []GrantConfig       `yaml:"grants,omitempty"`
	API           APIConfig           `yaml:"api,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// DisplayConfig defines the listening socket and client limits.
type DisplayConfig struct {
	// Socket is the wayland-N name. Empty picks the first free one.
	Socket string `yaml:"socket"`
	// RuntimeDir defaults to $XDG_RUNTIME_DIR.
	RuntimeDir string `yaml:"runtime_dir"`
	MaxClients int    `yaml:"max_clients"`
	// Listen disables the public socket when false; spawned clients still
	// connect through their socketpair.
	Listen *bool `yaml:"listen,omitempty"`
}

// ListenEnabled reports whether a public socket should be created.
func (d DisplayConfig) ListenEnabled() bool {
	return d.Listen == nil || *d.Listen
}

// ResolvedRuntimeDir returns RuntimeDir or $XDG_RUNTIME_DIR.
func (d DisplayConfig) ResolvedRuntimeDir() string {
	if d.RuntimeDir != "" {
		return d.RuntimeDir
	}
	return os.Getenv("XDG_RUNTIME_DIR")
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// Dir returns the directory holding the state database.
func (s StateConfig) Dir() string {
	return filepath.Dir(s.Path)
}

// KeybindingsConfig configures the global hotkey protocol.
type KeybindingsConfig struct {
	Enabled bool `yaml:"enabled"`
	// RequirePermission hides the global from connections without a
	// keybindings grant.
	RequirePermission bool     `yaml:"require_permission"`
	IgnoredMods       []string `yaml:"ignored_mods"`
	MaxRegistrations  int      `yaml:"max_registrations"`
}

// AuthorizationConfig bounds the grant registry.
type AuthorizationConfig struct {
	MaxGrants int `yaml:"max_grants"`
}

// StartupConfig defines the command run without a grant at startup.
type StartupConfig struct {
	Command string `yaml:"command"`
}

// GrantConfig is a command executed at startup under a grant.
type GrantConfig struct {
	Name        string   `yaml:"name"`
	Command     string   `yaml:"command"`
	Permissions []string `yaml:"permissions"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token with full access.
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "wayguard",
			LogLevel: "info",
		},
		Display: DisplayConfig{
			MaxClients: 256,
		},
		State: StateConfig{
			Path: "./data/wayguard.db",
		},
		Keybindings: KeybindingsConfig{
			Enabled:          true,
			IgnoredMods:      []string{"lock", "mod2"},
			MaxRegistrations: 64,
		},
		Authorization: AuthorizationConfig{
			MaxGrants: 32,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8765",
		},
	}
}
