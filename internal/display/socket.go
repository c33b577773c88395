package display

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/mattjoyce/wayguard/internal/lock"
)

// maxAutoSockets mirrors libwayland's wayland-0..wayland-31 probe.
const maxAutoSockets = 32

type socket struct {
	path     string
	listener *net.UnixListener
	lock     *lock.PIDLock
}

func (s *socket) close() {
	_ = s.listener.Close()
	_ = os.Remove(s.path)
	_ = s.lock.Release()
}

// AddSocket listens on runtimeDir/name. An empty name picks the first free
// wayland-N. Accepted connections become clients. Returns the socket name.
// Loop only.
func (d *Display) AddSocket(runtimeDir, name string) (string, error) {
	if d.closed {
		return "", ErrClosed
	}
	if runtimeDir == "" {
		return "", errors.New("runtime dir is empty (is XDG_RUNTIME_DIR set?)")
	}

	if name != "" {
		s, err := d.bindSocket(runtimeDir, name)
		if err != nil {
			return "", err
		}
		d.startAccepting(s)
		return name, nil
	}

	for i := 0; i < maxAutoSockets; i++ {
		candidate := fmt.Sprintf("wayland-%d", i)
		s, err := d.bindSocket(runtimeDir, candidate)
		if errors.Is(err, lock.ErrLocked) {
			continue
		}
		if err != nil {
			return "", err
		}
		d.startAccepting(s)
		return candidate, nil
	}
	return "", fmt.Errorf("no free wayland socket name in %s", runtimeDir)
}

func (d *Display) bindSocket(runtimeDir, name string) (*socket, error) {
	path := filepath.Join(runtimeDir, name)
	l, err := lock.Acquire(path + ".lock")
	if err != nil {
		return nil, err
	}
	// Holding the lock means any socket file left behind is stale.
	_ = os.Remove(path)

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		_ = l.Release()
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	ln.SetUnlinkOnClose(false)
	return &socket{path: path, listener: ln, lock: l}, nil
}

func (d *Display) startAccepting(s *socket) {
	d.sockets = append(d.sockets, s)
	d.logger.Info("listening", "socket", s.path)

	go func() {
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					d.logger.Error("accept failed", "socket", s.path, "error", err)
				}
				return
			}
			if !d.Post(func() {
				if _, err := d.CreateClient(conn); err != nil {
					d.logger.Warn("rejecting connection", "error", err)
					_ = conn.Close()
				}
			}) {
				_ = conn.Close()
				return
			}
		}
	}()
}
