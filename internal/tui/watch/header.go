package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks compositor health from /healthz polling.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	Grants        int
	Keybindings   int
	Connected     bool
	LastCheck     time.Time
}

// activity renders five dots that light up on events and fade out over ten
// seconds.
func activity(lastEvent, now time.Time, theme Theme) string {
	lit := 0
	if !lastEvent.IsZero() {
		lit = 5 - int(now.Sub(lastEvent)/(2*time.Second))
	}
	var b strings.Builder
	for i := range 5 {
		if i < lit {
			b.WriteString(theme.ActivityOn.Render("●"))
		} else {
			b.WriteString(theme.ActivityOff.Render("○"))
		}
	}
	return b.String()
}

func renderHeader(health HealthState, lastEvent, now time.Time, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("HEALTHY")
	if !health.Connected {
		statusText = theme.StatusFailed.Render("CONNECTING")
	} else if health.Status != "ok" && health.Status != "" {
		statusText = theme.StatusFailed.Render("DEGRADED")
	}

	lastEventStr := "never"
	if !lastEvent.IsZero() {
		lastEventStr = fmt.Sprintf("%s ago", now.Sub(lastEvent).Round(time.Second))
	}

	titleText := " WAYGUARD WATCH"
	clock := theme.Dim.Render(now.Format("15:04:05"))
	pad := max(innerWidth-lipgloss.Width(titleText)-lipgloss.Width(clock)-4, 1)
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  up %s  Grants: %d  Keybinding clients: %d",
		statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.Grants,
		health.Keybindings,
	)
	activityLine := fmt.Sprintf(" Last event: %s %s", lastEventStr, activity(lastEvent, now, theme))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
