package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/wayguard/internal/keymask"
)

const maxKeysShown = 6

func renderBindings(bindings []*BindingState, claims []KeyClaim, theme Theme, width int) string {
	innerWidth := width - 4

	var lines []string
	if len(bindings) == 0 {
		lines = append(lines, theme.Dim.Render("  No keybinding clients"))
	}
	for _, b := range bindings {
		lines = append(lines, fmt.Sprintf("  %s %s",
			theme.Header.Render(fmt.Sprintf("client #%-4d", b.ClientID)),
			formatKeys(b.Keys),
		))
	}

	lines = append(lines, "", theme.Title.Render("RECENT KEYS"))
	if len(claims) == 0 {
		lines = append(lines, theme.Dim.Render("  None claimed"))
	}
	for _, c := range claims {
		state := theme.StatusOK.Render(fmt.Sprintf("%-8s", c.State))
		if c.State != "pressed" {
			state = theme.Dim.Render(fmt.Sprintf("%-8s", c.State))
		}
		lines = append(lines, fmt.Sprintf("  %s key %-6d %-18s %s → %d client(s)",
			theme.Dim.Render(c.At.Format("15:04:05")),
			c.Key,
			keymask.FormatMods(c.Mods),
			state,
			c.Recipients,
		))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("KEYBINDINGS"),
		strings.Join(lines, "\n"),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatKeys(keys []keymask.Entry) string {
	if len(keys) == 0 {
		return "(no keys)"
	}
	parts := make([]string, 0, min(len(keys), maxKeysShown))
	for i, k := range keys {
		if i == maxKeysShown {
			parts = append(parts, fmt.Sprintf("+%d more", len(keys)-maxKeysShown))
			break
		}
		parts = append(parts, fmt.Sprintf("%d/%s", k.Key, keymask.FormatMods(k.Mods)))
	}
	return strings.Join(parts, "  ")
}
