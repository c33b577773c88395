package display

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"sort"
	"time"

	"github.com/mattjoyce/wayguard/internal/log"
	"github.com/mattjoyce/wayguard/internal/protocol"
	"github.com/mattjoyce/wayguard/internal/wire"
)

const (
	// DisplayObjectID is the id of the wl_display singleton on every connection.
	DisplayObjectID = 1

	// serverIDBase is the first id of the server-allocated range.
	serverIDBase = 0xff000000

	outQueueSize = 256

	// flushTimeout bounds how long a destroyed client's pending events may
	// take to drain before the socket is closed.
	flushTimeout = 250 * time.Millisecond
)

// Client is one connected session.
type Client struct {
	display *Display
	id      uint32
	pid     int
	conn    net.Conn
	logger  *slog.Logger

	// Loop-owned state.
	objects    map[uint32]*Resource
	registries []*Resource
	listeners  []*Listener
	destroyed  bool

	out chan []byte
}

func newClient(d *Display, id uint32, conn net.Conn) *Client {
	c := &Client{
		display: d,
		id:      id,
		pid:     peerPID(conn),
		conn:    conn,
		logger:  log.WithClient(id),
		objects: make(map[uint32]*Resource),
		out:     make(chan []byte, outQueueSize),
	}
	disp := c.newResource(DisplayObjectID, protocol.DisplayInterface, 1)
	disp.SetHandler(c.handleDisplayRequest, nil)
	return c
}

// ID returns the display-unique client id.
func (c *Client) ID() uint32 { return c.id }

// PID returns the peer process id, or 0 when unknown.
func (c *Client) PID() int { return c.pid }

// Display returns the owning display.
func (c *Client) Display() *Display { return c.display }

// Destroyed reports whether the client has been torn down.
func (c *Client) Destroyed() bool { return c.destroyed }

// Resource looks up a live protocol object.
func (c *Client) Resource(id uint32) (*Resource, bool) {
	r, ok := c.objects[id]
	return r, ok
}

// Send queues an encoded message for delivery. A client whose queue is full
// is destroyed.
func (c *Client) Send(m wire.Message) error {
	if c.destroyed {
		return ErrClientDestroyed
	}
	buf, err := wire.Marshal(m)
	if err != nil {
		return err
	}
	select {
	case c.out <- buf:
		return nil
	default:
		c.logger.Warn("client event queue full, disconnecting")
		c.Destroy()
		return ErrQueueFull
	}
}

// PostError sends wl_display.error and disconnects the client.
func (c *Client) PostError(object, code uint32, msg string) {
	if c.destroyed {
		return
	}
	c.logger.Warn("protocol error", "object", object, "code", code, "message", msg)
	_ = c.Send(wire.NewMessage(DisplayObjectID, protocol.DisplayError, new(wire.Args).Object(object).Uint(code).String(msg)))
	c.Destroy()
}

// PostNoMemory reports resource exhaustion to the client.
func (c *Client) PostNoMemory() {
	c.PostError(DisplayObjectID, ErrorNoMemory, "no memory")
}

// Listener is a destroy notification registered on a client. It fires at
// most once.
type Listener struct {
	fn      func(*Client)
	removed bool
	fired   bool
}

// Remove cancels the notification. Safe to call after it fired.
func (l *Listener) Remove() {
	if l != nil {
		l.removed = true
	}
}

// AddDestroyListener registers fn to run once when the client is destroyed.
// If the client is already destroyed the listener never fires.
func (c *Client) AddDestroyListener(fn func(*Client)) *Listener {
	l := &Listener{fn: fn}
	if c.destroyed {
		l.fired = true
		return l
	}
	c.listeners = append(c.listeners, l)
	return l
}

// Destroy tears the client down: destroy listeners fire first, then every
// resource is destroyed, then the socket is closed once pending events have
// been flushed. Idempotent.
func (c *Client) Destroy() {
	if c.destroyed {
		return
	}
	c.destroyed = true
	c.logger.Debug("destroying client")

	listeners := c.listeners
	c.listeners = nil
	for _, l := range listeners {
		if l.removed || l.fired {
			continue
		}
		l.fired = true
		l.fn(c)
	}

	ids := make([]uint32, 0, len(c.objects))
	for id := range c.objects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if r, ok := c.objects[id]; ok {
			r.destroy(false)
		}
	}

	c.display.removeClient(c)
	_ = c.conn.SetWriteDeadline(time.Now().Add(flushTimeout))
	close(c.out)
}

func (c *Client) readLoop() {
	dec := wire.NewDecoder(c.conn)
	for {
		msg, err := dec.Decode()
		if err != nil {
			c.display.Post(func() {
				if c.destroyed {
					return
				}
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					c.logger.Debug("client disconnected")
				} else {
					c.logger.Warn("client read failed", "error", err)
				}
				c.Destroy()
			})
			return
		}
		if !c.display.Post(func() { c.dispatch(msg) }) {
			return
		}
	}
}

func (c *Client) writeLoop() {
	defer c.conn.Close()
	for buf := range c.out {
		if _, err := c.conn.Write(buf); err != nil {
			// Unblock the reader; it reports the disconnect to the loop.
			_ = c.conn.Close()
			for range c.out {
			}
			return
		}
	}
}

func (c *Client) dispatch(m wire.Message) {
	if c.destroyed {
		return
	}
	r, ok := c.objects[m.Object]
	if !ok {
		c.PostError(DisplayObjectID, ErrorInvalidObject, fmt.Sprintf("invalid object %d", m.Object))
		return
	}
	if r.handler == nil {
		c.PostError(m.Object, ErrorInvalidMethod, fmt.Sprintf("%s@%d has no requests", r.iface, r.id))
		return
	}

	args := m.Reader()
	err := r.handler(r, m.Opcode, args)
	if err == nil {
		return
	}
	var perr *ProtocolError
	if errors.As(err, &perr) {
		c.PostError(perr.Object, perr.Code, perr.Message)
		return
	}
	if errors.Is(err, wire.ErrShortArgs) || errors.Is(err, wire.ErrMalformed) {
		c.PostError(m.Object, ErrorInvalidMethod, fmt.Sprintf("malformed request %d on %s@%d", m.Opcode, r.iface, r.id))
		return
	}
	c.PostError(m.Object, ErrorImplementation, err.Error())
}

// CreateResource adds a client-allocated object. A protocol error is
// returned when id is out of range or already in use.
func (c *Client) CreateResource(id uint32, iface string, version uint32) (*Resource, error) {
	if id == 0 || id >= serverIDBase {
		return nil, &ProtocolError{Object: DisplayObjectID, Code: ErrorInvalidObject, Message: fmt.Sprintf("invalid new id %d", id)}
	}
	if _, exists := c.objects[id]; exists {
		return nil, &ProtocolError{Object: DisplayObjectID, Code: ErrorInvalidObject, Message: fmt.Sprintf("new id %d already in use", id)}
	}
	return c.newResource(id, iface, version), nil
}

func (c *Client) newResource(id uint32, iface string, version uint32) *Resource {
	r := &Resource{client: c, id: id, iface: iface, version: version}
	c.objects[id] = r
	return r
}

func (c *Client) removeRegistry(r *Resource) {
	c.registries = slices.DeleteFunc(c.registries, func(x *Resource) bool { return x == r })
}
