package api

import (
	"github.com/mattjoyce/wayguard/internal/audit"
	"github.com/mattjoyce/wayguard/internal/authz"
	"github.com/mattjoyce/wayguard/internal/keybindings"
)

// CreateGrantRequest is the JSON body for POST /grants.
type CreateGrantRequest struct {
	Name        string   `json:"name,omitempty"`
	Command     string   `json:"command"`
	Permissions []string `json:"permissions"`
}

// GrantsResponse is returned by GET /grants.
type GrantsResponse struct {
	Grants []authz.Info `json:"grants"`
}

// GrantLogResponse is returned by GET /grants/{id}/log.
type GrantLogResponse struct {
	GrantID string        `json:"grant_id"`
	Entries []audit.Entry `json:"entries"`
}

// KeybindingsResponse is returned by GET /keybindings.
type KeybindingsResponse struct {
	Registrations []keybindings.Info `json:"registrations"`
}

// InjectKeyRequest is the JSON body for POST /keys. Mods are modifier
// names; Mask is OR-ed in for raw bits. A zero Time uses the server clock.
type InjectKeyRequest struct {
	Key   uint32   `json:"key"`
	Mods  []string `json:"mods,omitempty"`
	Mask  uint32   `json:"mask,omitempty"`
	State string   `json:"state,omitempty"`
	Time  uint32   `json:"time,omitempty"`
}

// InjectKeyResponse reports whether a keybinding claimed the key.
type InjectKeyResponse struct {
	Claimed bool   `json:"claimed"`
	Key     uint32 `json:"key"`
	Mods    uint32 `json:"mods"`
	State   string `json:"state"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Grants        int    `json:"grants"`
	Keybindings   int    `json:"keybindings"`
}
