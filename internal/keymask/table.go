// Package keymask stores (key, modifier mask) pairs with exact-match lookup.
package keymask

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/mattjoyce/wayguard/internal/protocol"
)

// KeyDomain bounds valid key codes. Keys at or above it are never stored and
// never match.
const KeyDomain uint32 = 0xffffff

// Entry is one registered pair.
type Entry struct {
	Key  uint32 `json:"key"`
	Mods uint32 `json:"mods"`
}

// Table maps a key code to the chain of masks registered for it. Not safe for
// concurrent use.
type Table struct {
	ignored uint32
	chains  map[uint32][]uint32
	n       int
}

// Option configures a Table.
type Option func(*Table)

// WithIgnoredMods strips mask from every mask before it is stored or
// compared, so lock-style modifiers do not defeat a binding.
func WithIgnoredMods(mask uint32) Option {
	return func(t *Table) {
		t.ignored = mask
	}
}

// New returns an empty table.
func New(opts ...Option) *Table {
	t := &Table{chains: make(map[uint32][]uint32)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// IgnoredMods returns the stripped bits.
func (t *Table) IgnoredMods() uint32 { return t.ignored }

func (t *Table) normalize(mask uint32) uint32 {
	return mask &^ t.ignored
}

// Add inserts (key, mask). It reports whether a new entry was created; adding
// an existing pair or an out-of-domain key is a no-op.
func (t *Table) Add(key, mask uint32) bool {
	if key >= KeyDomain {
		return false
	}
	mask = t.normalize(mask)
	chain := t.chains[key]
	if slices.Contains(chain, mask) {
		return false
	}
	t.chains[key] = append(chain, mask)
	t.n++
	return true
}

// Has reports whether exactly (key, mask) was added. It is not a subset test.
func (t *Table) Has(key, mask uint32) bool {
	if key >= KeyDomain {
		return false
	}
	return slices.Contains(t.chains[key], t.normalize(mask))
}

// Clear removes every entry.
func (t *Table) Clear() {
	clear(t.chains)
	t.n = 0
}

// Len returns the number of stored pairs.
func (t *Table) Len() int { return t.n }

// Entries returns every pair ordered by key, then mask.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, t.n)
	for key, chain := range t.chains {
		for _, mask := range chain {
			out = append(out, Entry{Key: key, Mods: mask})
		}
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if c := cmp.Compare(a.Key, b.Key); c != 0 {
			return c
		}
		return cmp.Compare(a.Mods, b.Mods)
	})
	return out
}

// ParseMods converts modifier names (shift, lock, control, mod1..mod5, any)
// to a mask.
func ParseMods(names []string) (uint32, error) {
	var mask uint32
	for _, name := range names {
		bit, ok := protocol.ModifierNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return 0, fmt.Errorf("unknown modifier %q", name)
		}
		mask |= bit
	}
	return mask, nil
}

var modOrder = []struct {
	bit  uint32
	name string
}{
	{protocol.ModShift, "shift"},
	{protocol.ModLock, "lock"},
	{protocol.ModControl, "control"},
	{protocol.ModMod1, "mod1"},
	{protocol.ModMod2, "mod2"},
	{protocol.ModMod3, "mod3"},
	{protocol.ModMod4, "mod4"},
	{protocol.ModMod5, "mod5"},
	{protocol.ModAny, "any"},
}

// FormatMods renders mask as "+"-joined modifier names, the inverse of
// ParseMods. Unnamed bits are appended in hex; zero renders as "none".
func FormatMods(mask uint32) string {
	if mask == 0 {
		return "none"
	}
	var parts []string
	for _, m := range modOrder {
		if mask&m.bit != 0 {
			parts = append(parts, m.name)
			mask &^= m.bit
		}
	}
	if mask != 0 {
		parts = append(parts, fmt.Sprintf("%#x", mask))
	}
	return strings.Join(parts, "+")
}
