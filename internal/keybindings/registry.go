// Package keybindings implements the zway_cooler_keybindings global: clients
// register (key, modifiers) pairs and receive key events for them before
// input is routed anywhere else.
package keybindings

import (
	"log/slog"
	"slices"

	"github.com/mattjoyce/wayguard/internal/display"
	"github.com/mattjoyce/wayguard/internal/keymask"
	"github.com/mattjoyce/wayguard/internal/log"
	"github.com/mattjoyce/wayguard/internal/protocol"
	"github.com/mattjoyce/wayguard/internal/wire"
)

// EventType names a registry lifecycle event.
type EventType string

const (
	EventBound      EventType = "keybindings.bound"
	EventRegistered EventType = "keybindings.registered"
	EventCleared    EventType = "keybindings.cleared"
	EventReleased   EventType = "keybindings.released"
	EventKey        EventType = "keybindings.key"
)

// Event is reported to Options.Observer.
type Event struct {
	Type       EventType
	ClientID   uint32
	Key        uint32
	Mods       uint32
	State      protocol.KeyState
	Time       uint32
	Recipients int
}

// Options configures a Registry.
type Options struct {
	// IgnoredMods are stripped from masks before comparison.
	IgnoredMods uint32
	// MaxRegistrations caps live bindings; zero means unlimited. A bind
	// past the cap fails with no_memory.
	MaxRegistrations int
	// Gate hides the global from clients it rejects. Nil admits everyone.
	Gate func(*display.Client) bool
	// Observer receives lifecycle events on the loop.
	Observer func(Event)
}

// Registration is one bound keybindings object and its key table.
type Registration struct {
	client    *display.Client
	resource  *display.Resource
	table     *keymask.Table
	destroyed bool
}

// Info describes a live registration.
type Info struct {
	ClientID   uint32          `json:"client_id"`
	PID        int             `json:"pid,omitempty"`
	ResourceID uint32          `json:"resource_id"`
	Keys       []keymask.Entry `json:"keys"`
}

// Registry owns the global and every live registration. All methods run on
// the display loop.
type Registry struct {
	display *display.Display
	global  *display.Global
	opts    Options
	logger  *slog.Logger
	live    []*Registration
	closed  bool
}

// New creates the keybindings global on d. Loop only.
func New(d *display.Display, opts Options) *Registry {
	r := &Registry{
		display: d,
		opts:    opts,
		logger:  log.WithComponent("keybindings"),
	}
	r.global = d.CreateGlobal(protocol.KeybindingsInterface, protocol.KeybindingsVersion, r.bind)
	if opts.Gate != nil {
		r.global.SetFilter(opts.Gate)
	}
	return r
}

func (r *Registry) emit(ev Event) {
	if r.opts.Observer != nil {
		r.opts.Observer(ev)
	}
}

func (r *Registry) bind(c *display.Client, version, id uint32) error {
	if r.opts.MaxRegistrations > 0 && len(r.live) >= r.opts.MaxRegistrations {
		r.logger.Warn("registration limit reached", "client_id", c.ID(), "limit", r.opts.MaxRegistrations)
		c.PostNoMemory()
		return nil
	}

	res, err := c.CreateResource(id, protocol.KeybindingsInterface, version)
	if err != nil {
		return err
	}
	reg := &Registration{
		client:   c,
		resource: res,
		table:    keymask.New(keymask.WithIgnoredMods(r.opts.IgnoredMods)),
	}
	res.SetData(reg)
	res.SetHandler(r.handleRequest, r.release)
	r.live = append(r.live, reg)

	r.logger.Debug("keybindings bound", "client_id", c.ID(), "resource", id)
	r.emit(Event{Type: EventBound, ClientID: c.ID()})
	return nil
}

func (r *Registry) handleRequest(res *display.Resource, opcode uint16, args *wire.ArgReader) error {
	reg, _ := res.Data().(*Registration)
	switch opcode {
	case protocol.KeybindingsRegisterKey:
		key := args.Uint()
		mods := args.Uint()
		if err := args.Finish(); err != nil {
			return err
		}
		if reg == nil || reg.destroyed {
			return nil
		}
		if key >= keymask.KeyDomain {
			r.logger.Warn("ignoring out-of-range key", "client_id", reg.client.ID(), "key", key)
			return nil
		}
		if reg.table.Add(key, mods) {
			r.logger.Debug("key registered", "client_id", reg.client.ID(), "key", key, "mods", mods)
			r.emit(Event{Type: EventRegistered, ClientID: reg.client.ID(), Key: key, Mods: mods})
		}
		return nil
	case protocol.KeybindingsClearKeys:
		if err := args.Finish(); err != nil {
			return err
		}
		if reg == nil || reg.destroyed {
			return nil
		}
		reg.table.Clear()
		r.emit(Event{Type: EventCleared, ClientID: reg.client.ID()})
		return nil
	default:
		return display.InvalidMethod(res, opcode)
	}
}

// release unlinks the registration owned by res. It runs from the
// resource's destroy hook, so explicit destruction and client teardown share
// it.
func (r *Registry) release(res *display.Resource) {
	reg, ok := res.Data().(*Registration)
	if !ok || reg.resource != res || reg.destroyed {
		return
	}
	reg.destroyed = true
	reg.table.Clear()
	r.live = slices.DeleteFunc(r.live, func(x *Registration) bool { return x == reg })

	r.logger.Debug("keybindings released", "client_id", reg.client.ID())
	r.emit(Event{Type: EventReleased, ClientID: reg.client.ID()})
}

// NotifyKeyIfRegistered sends a key event to every registration holding
// exactly (key, mods). It reports whether any registration matched, in
// which case the caller must not route the key further.
func (r *Registry) NotifyKeyIfRegistered(key, mods uint32, pressed bool, time uint32) bool {
	state := protocol.KeyStateFor(pressed)
	recipients := 0

	// Sending can tear a client down, which unlinks its registration.
	for _, reg := range slices.Clone(r.live) {
		if reg.destroyed || !reg.table.Has(key, mods) {
			continue
		}
		recipients++
		_ = reg.resource.Send(protocol.KeybindingsKey, new(wire.Args).
			Uint(time).
			Uint(key).
			Uint(uint32(state)).
			Uint(mods))
	}

	if recipients == 0 {
		return false
	}
	r.emit(Event{Type: EventKey, Key: key, Mods: mods, State: state, Time: time, Recipients: recipients})
	return true
}

// Registrations returns a snapshot of live registrations in bind order.
func (r *Registry) Registrations() []Info {
	out := make([]Info, 0, len(r.live))
	for _, reg := range r.live {
		out = append(out, Info{
			ClientID:   reg.client.ID(),
			PID:        reg.client.PID(),
			ResourceID: reg.resource.ID(),
			Keys:       reg.table.Entries(),
		})
	}
	return out
}

// Close withdraws the global and releases every registration. Requests on
// released objects are ignored.
func (r *Registry) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.global.Destroy()
	for _, reg := range slices.Clone(r.live) {
		r.release(reg.resource)
	}
}
