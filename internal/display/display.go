package display

import (
	"context"
	"log/slog"
	"net"
	"slices"
	"sync"

	"github.com/mattjoyce/wayguard/internal/log"
)

const (
	// DefaultMaxClients caps concurrently connected clients.
	DefaultMaxClients = 256

	taskQueueSize = 256
)

// Option configures a Display.
type Option func(*Display)

// WithMaxClients overrides DefaultMaxClients.
func WithMaxClients(n int) Option {
	return func(d *Display) {
		if n > 0 {
			d.maxClients = n
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Display) {
		d.logger = l
	}
}

// Display is the server side of the Wayland connection model.
type Display struct {
	logger *slog.Logger

	tasks    chan func()
	quit     chan struct{}
	quitOnce sync.Once

	// Loop-owned state.
	clients    []*Client
	nextClient uint32
	maxClients int
	globals    []*Global
	nextGlobal uint32
	serial     uint32
	closed     bool

	sockets []*socket
}

// New creates a Display. Nothing runs until Run is called.
func New(opts ...Option) *Display {
	d := &Display{
		logger:     log.WithComponent("display"),
		tasks:      make(chan func(), taskQueueSize),
		quit:       make(chan struct{}),
		maxClients: DefaultMaxClients,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes posted work on the calling goroutine until ctx is cancelled.
// After Run returns, Post and Do fail with ErrClosed.
func (d *Display) Run(ctx context.Context) error {
	d.logger.Info("display loop started")
	defer d.logger.Info("display loop stopped")
	defer d.stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-d.tasks:
			fn()
		}
	}
}

func (d *Display) stop() {
	d.quitOnce.Do(func() { close(d.quit) })
}

// Post queues fn to run on the loop. It reports false once the loop has
// stopped. Safe from any goroutine; blocks while the task queue is full.
func (d *Display) Post(fn func()) bool {
	select {
	case <-d.quit:
		return false
	default:
	}
	select {
	case d.tasks <- fn:
		return true
	case <-d.quit:
		return false
	}
}

// Do runs fn on the loop and waits for it to finish. Calling Do from the
// loop itself deadlocks.
func (d *Display) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !d.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.quit:
		select {
		case <-done:
			return nil
		default:
			return ErrClosed
		}
	}
}

// NextSerial returns a fresh event serial.
func (d *Display) NextSerial() uint32 {
	d.serial++
	return d.serial
}

// CreateClient adopts conn as a new client connection. Loop only.
func (d *Display) CreateClient(conn net.Conn) (*Client, error) {
	if d.closed {
		return nil, ErrClosed
	}
	if len(d.clients) >= d.maxClients {
		return nil, ErrTooManyClients
	}

	d.nextClient++
	c := newClient(d, d.nextClient, conn)
	d.clients = append(d.clients, c)
	c.logger.Debug("client created", "pid", c.pid)

	go c.readLoop()
	go c.writeLoop()
	return c, nil
}

// Clients returns a snapshot of connected clients in creation order.
func (d *Display) Clients() []*Client {
	return slices.Clone(d.clients)
}

// Client looks up a connected client by id.
func (d *Display) Client(id uint32) (*Client, bool) {
	for _, c := range d.clients {
		if c.id == id {
			return c, true
		}
	}
	return nil, false
}

func (d *Display) removeClient(c *Client) {
	d.clients = slices.DeleteFunc(d.clients, func(x *Client) bool { return x == c })
}

// Close disconnects every client, destroys every global and stops the
// listening sockets. Must run on the loop, or after Run has returned.
func (d *Display) Close() {
	if d.closed {
		return
	}
	d.closed = true

	for _, s := range d.sockets {
		s.close()
	}
	d.sockets = nil

	for _, c := range slices.Clone(d.clients) {
		c.Destroy()
	}
	for _, g := range slices.Clone(d.globals) {
		g.Destroy()
	}
	d.logger.Info("display closed")
}
