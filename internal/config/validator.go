package config

import (
	"fmt"
	"strings"

	"github.com/mattjoyce/wayguard/internal/auth"
	"github.com/mattjoyce/wayguard/internal/authz"
	"github.com/mattjoyce/wayguard/internal/keymask"
)

// validate performs validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	if cfg.Display.MaxClients < 0 {
		return fmt.Errorf("display.max_clients must be positive")
	}
	if strings.ContainsRune(cfg.Display.Socket, '/') {
		return fmt.Errorf("display.socket must be a name, not a path (got %q)", cfg.Display.Socket)
	}

	if err := validateKeybindings(cfg.Keybindings); err != nil {
		return err
	}
	if cfg.Authorization.MaxGrants < 0 {
		return fmt.Errorf("authorization.max_grants must be positive")
	}
	if err := validateGrants(cfg); err != nil {
		return err
	}
	if cfg.API.Enabled {
		if err := validateAPI(cfg.API); err != nil {
			return err
		}
	}
	return nil
}

func validateKeybindings(kb KeybindingsConfig) error {
	if _, err := keymask.ParseMods(kb.IgnoredMods); err != nil {
		return fmt.Errorf("keybindings.ignored_mods: %w", err)
	}
	if kb.MaxRegistrations < 0 {
		return fmt.Errorf("keybindings.max_registrations must be positive")
	}
	return nil
}

// validateGrants checks startup grants and that they fit under the grant
// limit.
func validateGrants(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Grants))
	for i, g := range cfg.Grants {
		if g.Name == "" {
			return fmt.Errorf("grants[%d].name is required", i)
		}
		if seen[g.Name] {
			return fmt.Errorf("grants[%d]: duplicate name %q", i, g.Name)
		}
		seen[g.Name] = true

		if strings.TrimSpace(g.Command) == "" {
			return fmt.Errorf("grant %q: command is required", g.Name)
		}
		if err := unresolved(g.Command); err != nil {
			return fmt.Errorf("grant %q: command: %w", g.Name, err)
		}
		if _, err := authz.ParsePermissions(g.Permissions); err != nil {
			return fmt.Errorf("grant %q: %w", g.Name, err)
		}
	}
	if cfg.Authorization.MaxGrants > 0 && len(cfg.Grants) > cfg.Authorization.MaxGrants {
		return fmt.Errorf("%d grants configured but authorization.max_grants is %d", len(cfg.Grants), cfg.Authorization.MaxGrants)
	}
	return unresolvedField("startup.command", cfg.Startup.Command)
}

func validateAPI(api APIConfig) error {
	if api.Listen == "" {
		return fmt.Errorf("api.listen is required when the API is enabled")
	}
	if err := unresolvedField("api.auth.api_key", api.Auth.APIKey); err != nil {
		return err
	}
	if api.Auth.APIKey == "" && len(api.Auth.Tokens) == 0 {
		return fmt.Errorf("api.auth: api_key or tokens required when the API is enabled")
	}
	for i, tok := range api.Auth.Tokens {
		if tok.Token == "" {
			return fmt.Errorf("api.auth.tokens[%d].token is required", i)
		}
		if err := unresolvedField(fmt.Sprintf("api.auth.tokens[%d].token", i), tok.Token); err != nil {
			return err
		}
		if len(tok.Scopes) == 0 {
			return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
		}
		for _, s := range tok.Scopes {
			if !auth.KnownScope(s) {
				return fmt.Errorf("api.auth.tokens[%d]: unknown scope %q", i, s)
			}
		}
	}
	return nil
}

func unresolved(value string) error {
	if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
		return fmt.Errorf("environment variable ${%s} is not set", matches[1])
	}
	return nil
}

func unresolvedField(field, value string) error {
	if err := unresolved(value); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}
