package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func renderGrants(grants []*GrantState, selected int, theme Theme, width int) string {
	innerWidth := width - 4

	if len(grants) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("GRANTS"),
			theme.Dim.Render("  No grants"),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	header := theme.Header.Render(fmt.Sprintf("  %-2s %-10s %-16s %-12s %-7s %s", "", "ID", "NAME", "PERMISSIONS", "CLIENT", "COMMAND"))
	lines := []string{header}
	for i, g := range grants {
		lines = append(lines, formatGrant(g, i == selected, theme, innerWidth))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("GRANTS"),
		strings.Join(lines, "\n"),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatGrant(g *GrantState, selected bool, theme Theme, width int) string {
	var sym string
	switch g.Status {
	case GrantRunning:
		sym = theme.StatusOK.Render("●")
	case GrantCreated:
		sym = theme.StatusPending.Render("○")
	case GrantRevoked:
		if g.Reason == "disconnected" {
			sym = theme.StatusGone.Render("◌")
		} else {
			sym = theme.StatusFailed.Render("∅")
		}
	default:
		sym = "?"
	}

	client := "-"
	if g.Info.ClientID != 0 {
		client = fmt.Sprintf("#%d", g.Info.ClientID)
	}
	perms := strings.Join(g.Info.Permissions, ",")
	if perms == "" {
		perms = "none"
	}

	cursor := "  "
	if selected {
		cursor = theme.Highlight.Render("> ")
	}
	line := fmt.Sprintf("%s%s  %-10s %-16s %-12s %-7s %s",
		cursor, sym,
		truncate(g.Info.ID, 8),
		truncate(g.Info.Name, 16),
		truncate(perms, 12),
		client,
		truncate(g.Info.Command, width-60),
	)
	if g.Status == GrantRevoked {
		line += theme.Dim.Render(" (" + g.Reason + ")")
	}
	return line
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return string(r[:1])
	}
	return string(r[:n-1]) + "…"
}
