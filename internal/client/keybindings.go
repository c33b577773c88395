package client

import (
	"fmt"

	"github.com/mattjoyce/wayguard/internal/protocol"
	"github.com/mattjoyce/wayguard/internal/wire"
)

// Keybindings is a bound zway_cooler_keybindings object.
type Keybindings struct {
	c       *Conn
	id      uint32
	pending []protocol.KeyEvent
	onKey   func(protocol.KeyEvent)
}

// BindKeybindings binds the keybindings global, performing a roundtrip first
// if the registry has not been populated yet.
func (c *Conn) BindKeybindings() (*Keybindings, error) {
	if !c.synced {
		if err := c.Roundtrip(); err != nil {
			return nil, err
		}
	}
	g, ok := c.Find(protocol.KeybindingsInterface)
	if !ok {
		return nil, fmt.Errorf("%s: %w", protocol.KeybindingsInterface, ErrGlobalNotFound)
	}
	k := &Keybindings{c: c}
	id, err := c.bind(g, min(g.Version, protocol.KeybindingsVersion), k.handleEvent)
	if err != nil {
		return nil, err
	}
	k.id = id
	return k, nil
}

// ID returns the object id of the binding.
func (k *Keybindings) ID() uint32 { return k.id }

// OnKey sets a callback run for every key event as it is dispatched. Events
// are still queued for NextKey.
func (k *Keybindings) OnKey(fn func(protocol.KeyEvent)) {
	k.onKey = fn
}

// RegisterKey asks for key with the exact modifier mask mods.
func (k *Keybindings) RegisterKey(key, mods uint32) error {
	return k.c.send(k.id, protocol.KeybindingsRegisterKey, new(wire.Args).Uint(key).Uint(mods))
}

// ClearKeys drops every registration in the compositor's key table.
func (k *Keybindings) ClearKeys() error {
	return k.c.send(k.id, protocol.KeybindingsClearKeys, nil)
}

// NextKey dispatches events until a key event is available and returns it.
func (k *Keybindings) NextKey() (protocol.KeyEvent, error) {
	for len(k.pending) == 0 {
		if err := k.c.Dispatch(); err != nil {
			return protocol.KeyEvent{}, err
		}
	}
	ev := k.pending[0]
	k.pending = k.pending[1:]
	return ev, nil
}

// Pending returns and clears the queued key events without reading.
func (k *Keybindings) Pending() []protocol.KeyEvent {
	out := k.pending
	k.pending = nil
	return out
}

func (k *Keybindings) handleEvent(opcode uint16, args *wire.ArgReader) error {
	if opcode != protocol.KeybindingsKey {
		return fmt.Errorf("%s: unknown event %d", protocol.KeybindingsInterface, opcode)
	}
	ev := protocol.KeyEvent{
		Time:  args.Uint(),
		Key:   args.Uint(),
		State: protocol.KeyState(args.Uint()),
		Mods:  args.Uint(),
	}
	if err := args.Finish(); err != nil {
		return err
	}
	k.pending = append(k.pending, ev)
	if k.onKey != nil {
		k.onKey(ev)
	}
	return nil
}
