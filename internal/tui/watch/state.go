package watch

import (
	"cmp"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/mattjoyce/wayguard/internal/authz"
	"github.com/mattjoyce/wayguard/internal/events"
	"github.com/mattjoyce/wayguard/internal/keybindings"
	"github.com/mattjoyce/wayguard/internal/keymask"
)

const (
	maxEventLog  = 50
	maxKeyClaims = 10
	// Revoked grants stay visible this long before they are dropped.
	revokedLinger = 30 * time.Second
)

// Grant statuses shown in the grants panel.
const (
	GrantCreated = "created"
	GrantRunning = "running"
	GrantRevoked = "revoked"
)

// GrantState is the watch view of one grant.
type GrantState struct {
	Info      authz.Info
	Status    string
	Reason    string
	UpdatedAt time.Time
}

// BindingState is one client's keybinding registration.
type BindingState struct {
	ClientID uint32
	Keys     []keymask.Entry
}

// KeyClaim is a key event the compositor routed to keybinding clients.
type KeyClaim struct {
	Key        uint32
	Mods       uint32
	State      string
	Recipients int
	At         time.Time
}

// State is everything the watch TUI derives from the API.
type State struct {
	Grants   map[string]*GrantState
	Bindings map[uint32]*BindingState
	Claims   []KeyClaim
	EventLog []events.Event
}

func NewState() State {
	return State{
		Grants:   make(map[string]*GrantState),
		Bindings: make(map[uint32]*BindingState),
	}
}

// Seed replaces state with a list snapshot.
func (s *State) Seed(grants []authz.Info, regs []keybindings.Info, now time.Time) {
	clear(s.Grants)
	for _, g := range grants {
		status := GrantCreated
		if g.Executed {
			status = GrantRunning
		}
		s.Grants[g.ID] = &GrantState{Info: g, Status: status, UpdatedAt: now}
	}
	clear(s.Bindings)
	for _, r := range regs {
		s.Bindings[r.ClientID] = &BindingState{ClientID: r.ClientID, Keys: slices.Clone(r.Keys)}
	}
}

// Apply folds one event into the state.
func (s *State) Apply(e events.Event) {
	s.EventLog = append([]events.Event{e}, s.EventLog...)
	if len(s.EventLog) > maxEventLog {
		s.EventLog = s.EventLog[:maxEventLog]
	}

	switch e.Type {
	case string(authz.EventCreated), string(authz.EventExecuted), string(authz.EventRevoked):
		var data events.GrantData
		if err := json.Unmarshal(e.Data, &data); err != nil || data.Grant.ID == "" {
			return
		}
		g, ok := s.Grants[data.Grant.ID]
		if !ok {
			g = &GrantState{}
			s.Grants[data.Grant.ID] = g
		}
		g.Info = data.Grant
		g.UpdatedAt = e.At
		switch e.Type {
		case string(authz.EventCreated):
			g.Status = GrantCreated
		case string(authz.EventExecuted):
			g.Status = GrantRunning
		case string(authz.EventRevoked):
			g.Status = GrantRevoked
			g.Reason = data.Reason
		}

	case string(keybindings.EventBound), string(keybindings.EventRegistered),
		string(keybindings.EventCleared), string(keybindings.EventReleased):
		var data events.KeybindingData
		if err := json.Unmarshal(e.Data, &data); err != nil {
			return
		}
		s.applyBinding(e.Type, data)

	case string(keybindings.EventKey):
		var data events.KeybindingData
		if err := json.Unmarshal(e.Data, &data); err != nil {
			return
		}
		s.Claims = append([]KeyClaim{{
			Key:        data.Key,
			Mods:       data.Mods,
			State:      data.State,
			Recipients: data.Recipients,
			At:         e.At,
		}}, s.Claims...)
		if len(s.Claims) > maxKeyClaims {
			s.Claims = s.Claims[:maxKeyClaims]
		}
	}
}

func (s *State) applyBinding(typ string, data events.KeybindingData) {
	if typ == string(keybindings.EventReleased) {
		delete(s.Bindings, data.ClientID)
		return
	}
	b, ok := s.Bindings[data.ClientID]
	if !ok {
		b = &BindingState{ClientID: data.ClientID}
		s.Bindings[data.ClientID] = b
	}
	switch typ {
	case string(keybindings.EventRegistered):
		entry := keymask.Entry{Key: data.Key, Mods: data.Mods}
		if !slices.Contains(b.Keys, entry) {
			b.Keys = append(b.Keys, entry)
		}
	case string(keybindings.EventCleared):
		b.Keys = nil
	}
}

// Expire drops revoked grants older than revokedLinger.
func (s *State) Expire(now time.Time) {
	for id, g := range s.Grants {
		if g.Status == GrantRevoked && now.Sub(g.UpdatedAt) > revokedLinger {
			delete(s.Grants, id)
		}
	}
}

// SortedGrants orders grants by creation time.
func (s *State) SortedGrants() []*GrantState {
	out := make([]*GrantState, 0, len(s.Grants))
	for _, g := range s.Grants {
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b *GrantState) int {
		if c := a.Info.CreatedAt.Compare(b.Info.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Info.ID, b.Info.ID)
	})
	return out
}

// SortedBindings orders registrations by client id.
func (s *State) SortedBindings() []*BindingState {
	out := make([]*BindingState, 0, len(s.Bindings))
	for _, b := range s.Bindings {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b *BindingState) int { return cmp.Compare(a.ClientID, b.ClientID) })
	return out
}

