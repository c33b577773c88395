package watch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/wayguard/internal/authz"
	"github.com/mattjoyce/wayguard/internal/events"
	"github.com/mattjoyce/wayguard/internal/keybindings"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Grants        int    `json:"grants"`
	Keybindings   int    `json:"keybindings"`
}

// snapshotMsg seeds state from the list endpoints before events arrive.
type snapshotMsg struct {
	Grants        []authz.Info
	Registrations []keybindings.Info
}

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{ lastID int64 }
type reconnectMsg struct{ lastID int64 }

// --- Commands ---

func newRequest(apiURL, apiKey, path string) (*http.Request, error) {
	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(apiURL, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	return req, nil
}

// subscribeToEvents reads the SSE stream into ch, resuming after lastID.
// It returns sseDisconnectedMsg when the stream ends.
func subscribeToEvents(apiURL, apiKey string, lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := newRequest(apiURL, apiKey, "/events")
		if err != nil {
			return errMsg(err)
		}
		if lastID > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{lastID: lastID}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("events: %s", resp.Status))
		}

		lastID = readSSE(bufio.NewScanner(resp.Body), lastID, ch)
		return sseDisconnectedMsg{lastID: lastID}
	}
}

// readSSE parses frames until the scanner ends and returns the last id seen.
func readSSE(scanner *bufio.Scanner, lastID int64, ch chan<- events.Event) int64 {
	var current events.Event
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if len(current.Data) > 0 {
				current.At = time.Now()
				ch <- current
				if current.ID > lastID {
					lastID = current.ID
				}
			}
			current = events.Event{}
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				current.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			current.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			current.Data = json.RawMessage(line[6:])
		}
	}
	return lastID
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func getJSON(apiURL, apiKey, path string, v any) error {
	req, err := newRequest(apiURL, apiKey, path)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// fetchHealth queries the /healthz endpoint.
func fetchHealth(apiURL, apiKey string) tea.Msg {
	var h healthMsg
	if err := getJSON(apiURL, apiKey, "/healthz", &h); err != nil {
		return errMsg(err)
	}
	return h
}

// fetchSnapshot lists grants and registrations. A token without the
// keybindings scope still gets grants.
func fetchSnapshot(apiURL, apiKey string) tea.Msg {
	var grants struct {
		Grants []authz.Info `json:"grants"`
	}
	if err := getJSON(apiURL, apiKey, "/grants", &grants); err != nil {
		return errMsg(err)
	}
	var regs struct {
		Registrations []keybindings.Info `json:"registrations"`
	}
	_ = getJSON(apiURL, apiKey, "/keybindings", &regs)
	return snapshotMsg{Grants: grants.Grants, Registrations: regs.Registrations}
}
