package authz

import (
	"fmt"
	"sort"
	"strings"
)

// Permissions is a capability bitset.
type Permissions uint32

const (
	// Keybindings allows binding the global hotkey protocol.
	Keybindings Permissions = 1 << 0
)

var permissionNames = map[string]Permissions{
	"keybindings": Keybindings,
}

// ParsePermissions converts names to a bitset.
func ParsePermissions(names []string) (Permissions, error) {
	var p Permissions
	for _, name := range names {
		bit, ok := permissionNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return 0, fmt.Errorf("unknown permission %q", name)
		}
		p |= bit
	}
	return p, nil
}

// Has reports whether every bit of q is set.
func (p Permissions) Has(q Permissions) bool {
	return p&q == q
}

// Names lists known permission names in p, sorted.
func (p Permissions) Names() []string {
	names := make([]string, 0, len(permissionNames))
	for name, bit := range permissionNames {
		if p&bit != 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (p Permissions) String() string {
	if p == 0 {
		return "none"
	}
	parts := p.Names()
	var known Permissions
	for _, name := range parts {
		known |= permissionNames[name]
	}
	if rest := p &^ known; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}
