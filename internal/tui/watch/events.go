package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/wayguard/internal/events"
	"github.com/mattjoyce/wayguard/internal/keymask"
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch {
	case e.Type == "grant.executed":
		typeStyle = theme.StatusOK
	case e.Type == "grant.revoked":
		typeStyle = theme.StatusFailed
	case e.Type == "keybindings.key":
		typeStyle = theme.Highlight
	case strings.HasPrefix(e.Type, "grant."):
		typeStyle = theme.StatusPending
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-24s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, extractEventDesc(e))
}

func extractEventDesc(e events.Event) string {
	switch {
	case strings.HasPrefix(e.Type, "grant."):
		var data events.GrantData
		if err := json.Unmarshal(e.Data, &data); err == nil && data.Grant.ID != "" {
			parts := []string{fmt.Sprintf("[%s]", truncate(data.Grant.ID, 8))}
			if data.Grant.Name != "" {
				parts = append(parts, data.Grant.Name)
			}
			if data.Grant.ClientID != 0 {
				parts = append(parts, fmt.Sprintf("client #%d", data.Grant.ClientID))
			}
			if data.Reason != "" {
				parts = append(parts, data.Reason)
			}
			return strings.Join(parts, " ")
		}

	case strings.HasPrefix(e.Type, "keybindings."):
		var data events.KeybindingData
		if err := json.Unmarshal(e.Data, &data); err == nil {
			switch e.Type {
			case "keybindings.key":
				return fmt.Sprintf("key %d %s %s → %d", data.Key, keymask.FormatMods(data.Mods), data.State, data.Recipients)
			case "keybindings.registered":
				return fmt.Sprintf("client #%d key %d %s", data.ClientID, data.Key, keymask.FormatMods(data.Mods))
			default:
				return fmt.Sprintf("client #%d", data.ClientID)
			}
		}
	}

	raw := string(e.Data)
	if len(raw) > 60 {
		raw = raw[:60] + "..."
	}
	return raw
}
