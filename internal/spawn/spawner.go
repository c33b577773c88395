// Package spawn starts helper processes with a pre-connected display
// connection. The compositor keeps the server end as a client; the process
// finds its end through WAYLAND_SOCKET.
package spawn

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/mattjoyce/wayguard/internal/display"
	"github.com/mattjoyce/wayguard/internal/log"
)

const (
	// EnvSocket carries the inherited descriptor number.
	EnvSocket = "WAYLAND_SOCKET"
	// ChildFD is the descriptor the child endpoint occupies in the spawned
	// process.
	ChildFD = 3
	// DefaultShell runs every command.
	DefaultShell = "/bin/sh"
)

var (
	// ErrSpawn wraps every setup failure: socketpair, client creation or
	// launching the intermediate process.
	ErrSpawn = errors.New("spawn failed")
	// ErrUnsupported is returned on platforms without detached spawning.
	ErrUnsupported = errors.New("detached spawn is not supported on this platform")
)

// Launcher starts command detached from the compositor. conn is the child
// endpoint and must appear as ChildFD in the new process. Launch returns once
// the command has been handed off; it never waits for the command itself.
type Launcher interface {
	Launch(command string, conn *os.File) error
}

// Spawner creates connected helper processes. Spawn runs on the display loop.
type Spawner struct {
	display  *display.Display
	launcher Launcher
	logger   *slog.Logger
}

// Option configures a Spawner.
type Option func(*Spawner)

// WithLauncher replaces the platform launcher.
func WithLauncher(l Launcher) Option {
	return func(s *Spawner) {
		s.launcher = l
	}
}

// New returns a Spawner attaching processes to d.
func New(d *display.Display, opts ...Option) *Spawner {
	s := &Spawner{
		display:  d,
		launcher: DefaultLauncher(),
		logger:   log.WithComponent("spawn"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle is a spawned connection together with its disconnect subscription.
type Handle struct {
	client   *display.Client
	listener *display.Listener
}

// Client returns the server-side connection.
func (h *Handle) Client() *display.Client { return h.client }

// ClientID returns the connection's display-unique id.
func (h *Handle) ClientID() uint32 { return h.client.ID() }

// Alive reports whether the connection is still open.
func (h *Handle) Alive() bool { return !h.client.Destroyed() }

// Close destroys the connection. The process sees its socket close.
func (h *Handle) Close() { h.client.Destroy() }

// Unsubscribe cancels the disconnect callback.
func (h *Handle) Unsubscribe() { h.listener.Remove() }

// Spawn connects a new client and runs command with the other end of the
// connection. onDisconnect, when set, runs once when the connection closes
// for any reason. Spawn returns without waiting for command, so a command
// that fails to start is only seen as a later disconnect. Loop only.
func (s *Spawner) Spawn(command string, onDisconnect func()) (*Handle, error) {
	serverFile, childFile, err := socketPair()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	// The parent never keeps the child endpoint open.
	defer childFile.Close()

	conn, err := net.FileConn(serverFile)
	serverFile.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: wrap server socket: %w", ErrSpawn, err)
	}

	c, err := s.display.CreateClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: create client: %w", ErrSpawn, err)
	}

	h := &Handle{client: c}
	if onDisconnect != nil {
		h.listener = c.AddDestroyListener(func(*display.Client) { onDisconnect() })
	}

	s.logger.Info("executing command", "command", command, "client_id", c.ID())
	if err := s.launcher.Launch(command, childFile); err != nil {
		h.Unsubscribe()
		c.Destroy()
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	return h, nil
}
