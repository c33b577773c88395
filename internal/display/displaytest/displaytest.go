// Package displaytest runs a Display for tests and connects clients to it
// over socketpairs.
package displaytest

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/mattjoyce/wayguard/internal/client"
	"github.com/mattjoyce/wayguard/internal/display"
)

// Timeout bounds every client read and write.
const Timeout = 5 * time.Second

// Start runs a display loop until the test ends.
func Start(t *testing.T, opts ...display.Option) *display.Display {
	t.Helper()
	d := display.New(opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		_ = d.Do(context.Background(), d.Close)
		cancel()
		<-done
	})
	return d
}

// Do runs fn on the loop and fails the test if the loop is gone.
func Do(t *testing.T, d *display.Display, fn func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()
	require.NoError(t, d.Do(ctx, fn))
}

// Connect creates a server-side client and the matching client connection.
func Connect(t *testing.T, d *display.Display) (*display.Client, *client.Conn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	srv := fileConn(t, fds[0])
	peer := fileConn(t, fds[1])

	var c *display.Client
	Do(t, d, func() { c, err = d.CreateClient(srv) })
	require.NoError(t, err)

	cc, err := client.New(peer)
	require.NoError(t, err)
	require.NoError(t, cc.SetDeadline(time.Now().Add(Timeout)))
	t.Cleanup(func() { cc.Close() })
	return c, cc
}

func fileConn(t *testing.T, fd int) net.Conn {
	t.Helper()
	f := os.NewFile(uintptr(fd), "socketpair")
	defer f.Close()
	c, err := net.FileConn(f)
	require.NoError(t, err)
	return c
}
