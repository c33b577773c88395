package display

import (
	"fmt"
	"slices"

	"github.com/mattjoyce/wayguard/internal/protocol"
	"github.com/mattjoyce/wayguard/internal/wire"
)

// BindFunc creates the per-client resource for a global. It must call
// Client.CreateResource with id.
type BindFunc func(c *Client, version, id uint32) error

// Global is an advertised interface clients may bind.
type Global struct {
	display   *Display
	name      uint32
	iface     string
	version   uint32
	bind      BindFunc
	filter    func(*Client) bool
	destroyed bool
}

// CreateGlobal advertises iface at version to current and future registries.
// Loop only.
func (d *Display) CreateGlobal(iface string, version uint32, bind BindFunc) *Global {
	d.nextGlobal++
	g := &Global{
		display: d,
		name:    d.nextGlobal,
		iface:   iface,
		version: version,
		bind:    bind,
	}
	d.globals = append(d.globals, g)
	for _, c := range d.clients {
		for _, reg := range c.registries {
			g.advertise(reg)
		}
	}
	d.logger.Debug("global created", "interface", iface, "version", version, "name", g.name)
	return g
}

// Globals returns a snapshot of live globals.
func (d *Display) Globals() []*Global {
	return slices.Clone(d.globals)
}

func (g *Global) Name() uint32      { return g.name }
func (g *Global) Interface() string { return g.iface }
func (g *Global) Version() uint32   { return g.version }

// SetFilter restricts which clients see and may bind the global. A nil
// filter admits every client. Applies to registries created afterwards.
func (g *Global) SetFilter(f func(*Client) bool) {
	g.filter = f
}

// Visible reports whether c passes the global's filter.
func (g *Global) Visible(c *Client) bool {
	return g.filter == nil || g.filter(c)
}

func (g *Global) advertise(reg *Resource) {
	if !g.Visible(reg.client) {
		return
	}
	_ = reg.Send(protocol.RegistryGlobal, new(wire.Args).Uint(g.name).String(g.iface).Uint(g.version))
}

// Destroy withdraws the global. Existing bound resources are unaffected.
func (g *Global) Destroy() {
	if g.destroyed {
		return
	}
	g.destroyed = true
	d := g.display
	d.globals = slices.DeleteFunc(d.globals, func(x *Global) bool { return x == g })
	for _, c := range d.clients {
		for _, reg := range c.registries {
			if g.Visible(c) {
				_ = reg.Send(protocol.RegistryGlobalRemove, new(wire.Args).Uint(g.name))
			}
		}
	}
}

func (d *Display) global(name uint32) (*Global, bool) {
	for _, g := range d.globals {
		if g.name == name {
			return g, true
		}
	}
	return nil, false
}

// handleDisplayRequest implements wl_display.
func (c *Client) handleDisplayRequest(r *Resource, opcode uint16, args *wire.ArgReader) error {
	switch opcode {
	case protocol.DisplaySync: // sync(callback: new_id<wl_callback>)
		id := args.NewID()
		if err := args.Finish(); err != nil {
			return err
		}
		cb, err := c.CreateResource(id, protocol.CallbackInterface, 1)
		if err != nil {
			return err
		}
		_ = cb.Send(protocol.CallbackDone, new(wire.Args).Uint(c.display.NextSerial()))
		cb.Destroy()
		return nil
	case protocol.DisplayGetRegistry: // get_registry(registry: new_id<wl_registry>)
		id := args.NewID()
		if err := args.Finish(); err != nil {
			return err
		}
		reg, err := c.CreateResource(id, protocol.RegistryInterface, 1)
		if err != nil {
			return err
		}
		reg.SetHandler(c.handleRegistryRequest, c.removeRegistry)
		c.registries = append(c.registries, reg)
		for _, g := range c.display.globals {
			g.advertise(reg)
		}
		return nil
	default:
		return InvalidMethod(r, opcode)
	}
}

// handleRegistryRequest implements wl_registry.
func (c *Client) handleRegistryRequest(r *Resource, opcode uint16, args *wire.ArgReader) error {
	if opcode != protocol.RegistryBind {
		return InvalidMethod(r, opcode)
	}
	// bind(name: uint, id: new_id) with an untyped new_id: interface, version, id.
	name := args.Uint()
	iface := args.String()
	version := args.Uint()
	id := args.NewID()
	if err := args.Finish(); err != nil {
		return err
	}

	g, ok := c.display.global(name)
	if !ok || !g.Visible(c) || g.iface != iface {
		return &ProtocolError{Object: r.id, Code: ErrorInvalidObject, Message: fmt.Sprintf("invalid global %s (%d)", iface, name)}
	}
	if version == 0 || version > g.version {
		return &ProtocolError{Object: r.id, Code: ErrorInvalidObject, Message: fmt.Sprintf("invalid version for global %s (%d): have %d, wanted %d", iface, name, g.version, version)}
	}
	return g.bind(c, version, id)
}
