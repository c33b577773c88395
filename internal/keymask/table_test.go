package keymask

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/wayguard/internal/protocol"
)

func TestAddIsIdempotent(t *testing.T) {
	tbl := New()
	assert.True(t, tbl.Add(23, 0))
	assert.False(t, tbl.Add(23, 0))
	assert.True(t, tbl.Has(23, 0))
	assert.Equal(t, 1, tbl.Len())
}

func TestExactMatch(t *testing.T) {
	tbl := New()
	tbl.Add(38, protocol.ModControl|protocol.ModShift)

	tests := []struct {
		name string
		mask uint32
		want bool
	}{
		{"exact", protocol.ModControl | protocol.ModShift, true},
		{"subset", protocol.ModControl, false},
		{"superset", protocol.ModControl | protocol.ModShift | protocol.ModMod1, false},
		{"none", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tbl.Has(38, tt.mask))
		})
	}
	assert.False(t, tbl.Has(39, protocol.ModControl|protocol.ModShift))
}

func TestMultipleMasksPerKey(t *testing.T) {
	tbl := New()
	tbl.Add(10, 0)
	tbl.Add(10, protocol.ModMod4)
	tbl.Add(10, protocol.ModMod4|protocol.ModShift)

	assert.Equal(t, 3, tbl.Len())
	assert.True(t, tbl.Has(10, 0))
	assert.True(t, tbl.Has(10, protocol.ModMod4))
	assert.True(t, tbl.Has(10, protocol.ModMod4|protocol.ModShift))
}

func TestClear(t *testing.T) {
	tbl := New()
	tbl.Add(23, 0)
	tbl.Add(24, protocol.ModMod1)
	tbl.Clear()

	assert.False(t, tbl.Has(23, 0))
	assert.False(t, tbl.Has(24, protocol.ModMod1))
	assert.Zero(t, tbl.Len())
	assert.Empty(t, tbl.Entries())

	// Usable after clearing.
	assert.True(t, tbl.Add(23, 0))
}

func TestOutOfDomain(t *testing.T) {
	tbl := New()
	assert.False(t, tbl.Add(KeyDomain, 0))
	assert.False(t, tbl.Add(0xffffffff, 0))
	assert.False(t, tbl.Has(KeyDomain, 0))
	assert.Zero(t, tbl.Len())

	assert.True(t, tbl.Add(KeyDomain-1, 0))
}

func TestIgnoredMods(t *testing.T) {
	tbl := New(WithIgnoredMods(protocol.ModLock | protocol.ModMod2))
	assert.True(t, tbl.Add(23, protocol.ModControl|protocol.ModLock))
	assert.False(t, tbl.Add(23, protocol.ModControl), "lock bit is stripped on insert")

	assert.True(t, tbl.Has(23, protocol.ModControl))
	assert.True(t, tbl.Has(23, protocol.ModControl|protocol.ModMod2))
	assert.False(t, tbl.Has(23, protocol.ModControl|protocol.ModShift))
	assert.Equal(t, []Entry{{Key: 23, Mods: protocol.ModControl}}, tbl.Entries())
}

func TestEntriesOrdered(t *testing.T) {
	tbl := New()
	tbl.Add(30, 4)
	tbl.Add(10, 1)
	tbl.Add(30, 0)
	assert.Equal(t, []Entry{{10, 1}, {30, 0}, {30, 4}}, tbl.Entries())
}

func TestParseMods(t *testing.T) {
	mask, err := ParseMods([]string{"lock", " Mod2 ", "any"})
	require.NoError(t, err)
	assert.Equal(t, protocol.ModLock|protocol.ModMod2|protocol.ModAny, mask)

	mask, err = ParseMods(nil)
	require.NoError(t, err)
	assert.Zero(t, mask)

	_, err = ParseMods([]string{"hyper"})
	assert.Error(t, err)
}

func TestFormatMods(t *testing.T) {
	assert.Equal(t, "none", FormatMods(0))
	assert.Equal(t, "shift+mod4", FormatMods(protocol.ModMod4|protocol.ModShift))
	assert.Equal(t, "control+any+0x100", FormatMods(protocol.ModControl|protocol.ModAny|0x100))

	mask, err := ParseMods(strings.Split(FormatMods(protocol.ModLock|protocol.ModMod1), "+"))
	require.NoError(t, err)
	assert.Equal(t, protocol.ModLock|protocol.ModMod1, mask)
}
