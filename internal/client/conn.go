// Package client is a minimal Wayland client runtime: enough of wl_display,
// wl_registry and wl_callback to discover globals, plus a proxy for the
// zway_cooler_keybindings extension.
package client

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mattjoyce/wayguard/internal/log"
	"github.com/mattjoyce/wayguard/internal/protocol"
	"github.com/mattjoyce/wayguard/internal/wire"
)

var (
	// ErrNoDisplay is returned by Connect when neither WAYLAND_SOCKET nor a
	// runtime directory is available.
	ErrNoDisplay = errors.New("no wayland display available")
	// ErrGlobalNotFound is returned when the compositor does not advertise a
	// requested interface.
	ErrGlobalNotFound = errors.New("global not advertised")
)

// Error is a fatal wl_display.error event sent by the compositor.
type Error struct {
	Object  uint32
	Code    uint32
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("wayland error on object %d (code %d): %s", e.Object, e.Code, e.Message)
}

// Global is a registry advertisement.
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

type eventHandler func(opcode uint16, args *wire.ArgReader) error

// Conn is a client connection. It is not safe for concurrent use: events are
// read and handled on the goroutine calling Dispatch.
type Conn struct {
	conn    net.Conn
	dec     *wire.Decoder
	logger  *slog.Logger
	nextID  uint32
	objects map[uint32]eventHandler
	globals []Global
	synced  bool
	err     error
}

// Connect follows the usual lookup order: an inherited WAYLAND_SOCKET fd
// first, then $XDG_RUNTIME_DIR/$WAYLAND_DISPLAY (default wayland-0).
// WAYLAND_SOCKET is unset once consumed so it does not leak to children.
func Connect() (*Conn, error) {
	if s, ok := os.LookupEnv("WAYLAND_SOCKET"); ok {
		_ = os.Unsetenv("WAYLAND_SOCKET")
		fd, err := strconv.Atoi(s)
		if err != nil || fd < 0 {
			return nil, fmt.Errorf("invalid WAYLAND_SOCKET %q", s)
		}
		unix.CloseOnExec(fd)
		return FromFD(fd)
	}

	name := os.Getenv("WAYLAND_DISPLAY")
	if name == "" {
		name = "wayland-0"
	}
	if !filepath.IsAbs(name) {
		dir := os.Getenv("XDG_RUNTIME_DIR")
		if dir == "" {
			return nil, ErrNoDisplay
		}
		name = filepath.Join(dir, name)
	}
	return Dial(name)
}

// Dial connects to a compositor socket path.
func Dial(path string) (*Conn, error) {
	nc, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", path, err)
	}
	return New(nc)
}

// FromFD adopts an already connected socket. fd is closed; the Conn owns a
// duplicate.
func FromFD(fd int) (*Conn, error) {
	f := os.NewFile(uintptr(fd), "wayland-socket")
	defer f.Close()
	nc, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("adopt fd %d: %w", fd, err)
	}
	return New(nc)
}

// New wraps a connected stream and requests the registry.
func New(nc net.Conn) (*Conn, error) {
	c := &Conn{
		conn:    nc,
		dec:     wire.NewDecoder(nc),
		logger:  log.WithComponent("client"),
		nextID:  2,
		objects: make(map[uint32]eventHandler),
	}
	c.objects[1] = c.handleDisplayEvent

	reg := c.alloc(c.handleRegistryEvent)
	if err := c.send(1, protocol.DisplayGetRegistry, new(wire.Args).NewID(reg)); err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the connection. The compositor tears down every object.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// SetDeadline bounds subsequent reads and writes.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// Err returns the fatal error posted by the compositor, if any.
func (c *Conn) Err() error {
	return c.err
}

func (c *Conn) alloc(h eventHandler) uint32 {
	id := c.nextID
	c.nextID++
	c.objects[id] = h
	return id
}

func (c *Conn) send(object uint32, opcode uint16, args *wire.Args) error {
	if c.err != nil {
		return c.err
	}
	return wire.Encode(c.conn, wire.NewMessage(object, opcode, args))
}

// Dispatch reads and handles one event.
func (c *Conn) Dispatch() error {
	if c.err != nil {
		return c.err
	}
	msg, err := c.dec.Decode()
	if err != nil {
		return err
	}
	h, ok := c.objects[msg.Object]
	if !ok {
		c.logger.Debug("event for unknown object", "object", msg.Object, "opcode", msg.Opcode)
		return nil
	}
	return h(msg.Opcode, msg.Reader())
}

// Roundtrip blocks until the compositor has processed every request sent so
// far, handling events in the meantime.
func (c *Conn) Roundtrip() error {
	done := false
	cb := c.alloc(func(opcode uint16, args *wire.ArgReader) error {
		if opcode == protocol.CallbackDone {
			done = true
		}
		return nil
	})
	if err := c.send(1, protocol.DisplaySync, new(wire.Args).NewID(cb)); err != nil {
		return err
	}
	for !done {
		if err := c.Dispatch(); err != nil {
			return err
		}
	}
	c.synced = true
	return nil
}

// Globals returns the advertisements received so far.
func (c *Conn) Globals() []Global {
	return slices.Clone(c.globals)
}

// Find returns the first advertised global with the given interface.
func (c *Conn) Find(iface string) (Global, bool) {
	for _, g := range c.globals {
		if g.Interface == iface {
			return g, true
		}
	}
	return Global{}, false
}

// Bind binds g at version without an event handler; events on the new
// object are discarded. It returns the new object id.
func (c *Conn) Bind(g Global, version uint32) (uint32, error) {
	return c.bind(g, version, func(uint16, *wire.ArgReader) error { return nil })
}

func (c *Conn) bind(g Global, version uint32, h eventHandler) (uint32, error) {
	id := c.alloc(h)
	args := new(wire.Args).Uint(g.Name).String(g.Interface).Uint(version).NewID(id)
	// The registry is always the first client-allocated object.
	if err := c.send(2, protocol.RegistryBind, args); err != nil {
		delete(c.objects, id)
		return 0, err
	}
	return id, nil
}

func (c *Conn) handleDisplayEvent(opcode uint16, args *wire.ArgReader) error {
	switch opcode {
	case protocol.DisplayError:
		e := &Error{Object: args.Object(), Code: args.Uint(), Message: args.String()}
		if err := args.Finish(); err != nil {
			return err
		}
		c.err = e
		return e
	case protocol.DisplayDeleteID:
		id := args.Uint()
		if err := args.Finish(); err != nil {
			return err
		}
		delete(c.objects, id)
		return nil
	default:
		return fmt.Errorf("wl_display: unknown event %d", opcode)
	}
}

func (c *Conn) handleRegistryEvent(opcode uint16, args *wire.ArgReader) error {
	switch opcode {
	case protocol.RegistryGlobal:
		g := Global{Name: args.Uint(), Interface: args.String(), Version: args.Uint()}
		if err := args.Finish(); err != nil {
			return err
		}
		c.globals = append(c.globals, g)
		return nil
	case protocol.RegistryGlobalRemove:
		name := args.Uint()
		if err := args.Finish(); err != nil {
			return err
		}
		c.globals = slices.DeleteFunc(c.globals, func(g Global) bool { return g.Name == name })
		return nil
	default:
		return fmt.Errorf("wl_registry: unknown event %d", opcode)
	}
}
