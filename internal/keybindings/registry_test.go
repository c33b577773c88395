package keybindings

import (
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/mattjoyce/wayguard/internal/client"
	"github.com/mattjoyce/wayguard/internal/display"
	"github.com/mattjoyce/wayguard/internal/display/displaytest"
	"github.com/mattjoyce/wayguard/internal/log"
	"github.com/mattjoyce/wayguard/internal/protocol"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

func setup(t *testing.T, opts Options) (*display.Display, *Registry) {
	t.Helper()
	d := displaytest.Start(t)
	var r *Registry
	displaytest.Do(t, d, func() { r = New(d, opts) })
	return d, r
}

func bind(t *testing.T, d *display.Display) (*display.Client, *client.Conn, *client.Keybindings) {
	t.Helper()
	c, cc := displaytest.Connect(t, d)
	kb, err := cc.BindKeybindings()
	require.NoError(t, err)
	require.NoError(t, cc.Roundtrip())
	return c, cc, kb
}

func notify(t *testing.T, d *display.Display, r *Registry, key, mods uint32, pressed bool, time uint32) bool {
	t.Helper()
	var matched bool
	displaytest.Do(t, d, func() { matched = r.NotifyKeyIfRegistered(key, mods, pressed, time) })
	return matched
}

func TestBroadcastToEveryRegistration(t *testing.T) {
	d, r := setup(t, Options{})
	_, cc1, kb1 := bind(t, d)
	_, cc2, kb2 := bind(t, d)
	_, cc3, kb3 := bind(t, d)

	for _, p := range []struct {
		cc *client.Conn
		kb *client.Keybindings
	}{{cc1, kb1}, {cc2, kb2}} {
		require.NoError(t, p.kb.RegisterKey(23, 0))
		require.NoError(t, p.cc.Roundtrip())
	}

	assert.True(t, notify(t, d, r, 23, 0, true, 100))

	want := protocol.KeyEvent{Time: 100, Key: 23, State: protocol.KeyStatePressed, Mods: 0}
	for _, kb := range []*client.Keybindings{kb1, kb2} {
		ev, err := kb.NextKey()
		require.NoError(t, err)
		assert.Equal(t, want, ev)
	}

	// Exactly one event each, and nothing for the bystander.
	for _, p := range []struct {
		cc *client.Conn
		kb *client.Keybindings
	}{{cc1, kb1}, {cc2, kb2}, {cc3, kb3}} {
		require.NoError(t, p.cc.Roundtrip())
		assert.Empty(t, p.kb.Pending())
	}
}

func TestReleaseState(t *testing.T) {
	d, r := setup(t, Options{})
	_, cc, kb := bind(t, d)
	require.NoError(t, kb.RegisterKey(65, protocol.ModMod4))
	require.NoError(t, cc.Roundtrip())

	assert.True(t, notify(t, d, r, 65, protocol.ModMod4, false, 7))
	ev, err := kb.NextKey()
	require.NoError(t, err)
	assert.Equal(t, protocol.KeyStateReleased, ev.State)
	assert.Equal(t, uint32(7), ev.Time)
	assert.Equal(t, protocol.ModMod4, ev.Mods)
}

func TestUnregisteredKey(t *testing.T) {
	d, r := setup(t, Options{})
	_, cc, kb := bind(t, d)
	require.NoError(t, kb.RegisterKey(23, 0))
	require.NoError(t, cc.Roundtrip())

	assert.False(t, notify(t, d, r, 9, 0, true, 1))
	require.NoError(t, cc.Roundtrip())
	assert.Empty(t, kb.Pending())
}

func TestNoRegistrations(t *testing.T) {
	d, r := setup(t, Options{})
	assert.False(t, notify(t, d, r, 9, 0, true, 1))
}

func TestClearKeys(t *testing.T) {
	d, r := setup(t, Options{})
	_, cc, kb := bind(t, d)
	require.NoError(t, kb.RegisterKey(23, 0))
	require.NoError(t, kb.RegisterKey(24, protocol.ModShift))
	require.NoError(t, cc.Roundtrip())
	assert.True(t, notify(t, d, r, 23, 0, true, 1))

	require.NoError(t, kb.ClearKeys())
	require.NoError(t, cc.Roundtrip())
	assert.False(t, notify(t, d, r, 23, 0, true, 2))
	assert.False(t, notify(t, d, r, 24, protocol.ModShift, true, 3))

	require.NoError(t, cc.Roundtrip())
	assert.Len(t, kb.Pending(), 1, "only the event before clear_keys")
}

func TestIdempotentRegistration(t *testing.T) {
	d, r := setup(t, Options{})
	_, cc, kb := bind(t, d)
	require.NoError(t, kb.RegisterKey(23, 0))
	require.NoError(t, kb.RegisterKey(23, 0))
	require.NoError(t, cc.Roundtrip())

	assert.True(t, notify(t, d, r, 23, 0, true, 5))
	require.NoError(t, cc.Roundtrip())
	assert.Len(t, kb.Pending(), 1)

	var infos []Info
	displaytest.Do(t, d, func() { infos = r.Registrations() })
	require.Len(t, infos, 1)
	assert.Len(t, infos[0].Keys, 1)
}

func TestExactMatchOnly(t *testing.T) {
	d, r := setup(t, Options{})
	_, cc, kb := bind(t, d)
	require.NoError(t, kb.RegisterKey(23, protocol.ModControl))
	require.NoError(t, cc.Roundtrip())

	assert.False(t, notify(t, d, r, 23, protocol.ModControl|protocol.ModShift, true, 1))
	assert.False(t, notify(t, d, r, 23, 0, true, 2))
	assert.True(t, notify(t, d, r, 23, protocol.ModControl, true, 3))
}

func TestIgnoredMods(t *testing.T) {
	d, r := setup(t, Options{IgnoredMods: protocol.ModLock | protocol.ModMod2})
	_, cc, kb := bind(t, d)
	require.NoError(t, kb.RegisterKey(23, protocol.ModControl))
	require.NoError(t, cc.Roundtrip())

	assert.True(t, notify(t, d, r, 23, protocol.ModControl|protocol.ModMod2, true, 1))
	ev, err := kb.NextKey()
	require.NoError(t, err)
	assert.Equal(t, protocol.ModControl|protocol.ModMod2, ev.Mods, "event carries the original mask")
}

func TestOutOfRangeKeyIgnored(t *testing.T) {
	d, r := setup(t, Options{})
	_, cc, kb := bind(t, d)
	require.NoError(t, kb.RegisterKey(0xffffff, 0))
	require.NoError(t, cc.Roundtrip(), "out-of-range keys are not a protocol error")
	assert.False(t, notify(t, d, r, 0xffffff, 0, true, 1))
}

func TestDisconnectReleasesRegistration(t *testing.T) {
	d, r := setup(t, Options{})
	_, cc, kb := bind(t, d)
	require.NoError(t, kb.RegisterKey(23, 0))
	require.NoError(t, cc.Roundtrip())
	require.NoError(t, cc.Close())

	assert.Eventually(t, func() bool {
		var n int
		displaytest.Do(t, d, func() { n = len(r.Registrations()) })
		return n == 0
	}, displaytest.Timeout, 10*time.Millisecond)
	assert.False(t, notify(t, d, r, 23, 0, true, 1))
}

func TestMaxRegistrations(t *testing.T) {
	d, _ := setup(t, Options{MaxRegistrations: 1})
	bind(t, d)

	_, cc := displaytest.Connect(t, d)
	_, err := cc.BindKeybindings()
	require.NoError(t, err)

	var werr *client.Error
	require.True(t, errors.As(cc.Roundtrip(), &werr))
	assert.Equal(t, display.ErrorNoMemory, werr.Code)
}

func TestGateHidesGlobal(t *testing.T) {
	d, _ := setup(t, Options{Gate: func(*display.Client) bool { return false }})
	_, cc := displaytest.Connect(t, d)
	_, err := cc.BindKeybindings()
	assert.ErrorIs(t, err, client.ErrGlobalNotFound)
}

func TestObserverEvents(t *testing.T) {
	var got []EventType
	d, r := setup(t, Options{Observer: func(ev Event) { got = append(got, ev.Type) }})
	_, cc, kb := bind(t, d)
	require.NoError(t, kb.RegisterKey(23, 0))
	require.NoError(t, kb.RegisterKey(23, 0))
	require.NoError(t, kb.ClearKeys())
	require.NoError(t, kb.RegisterKey(24, 0))
	require.NoError(t, cc.Roundtrip())
	notify(t, d, r, 24, 0, true, 1)
	displaytest.Do(t, d, r.Close)

	var snapshot []EventType
	displaytest.Do(t, d, func() { snapshot = append(snapshot, got...) })
	assert.Equal(t, []EventType{
		EventBound,
		EventRegistered,
		EventCleared,
		EventRegistered,
		EventKey,
		EventReleased,
	}, snapshot)
}

func TestCloseReleasesEverything(t *testing.T) {
	d, r := setup(t, Options{})
	_, cc, kb := bind(t, d)
	require.NoError(t, kb.RegisterKey(23, 0))
	require.NoError(t, cc.Roundtrip())

	displaytest.Do(t, d, r.Close)
	assert.False(t, notify(t, d, r, 23, 0, true, 1))

	// Requests on the released object are ignored and the global is gone.
	require.NoError(t, kb.RegisterKey(23, 0))
	require.NoError(t, cc.Roundtrip())
	_, ok := cc.Find(protocol.KeybindingsInterface)
	assert.False(t, ok)

	var infos []Info
	displaytest.Do(t, d, func() { infos = r.Registrations() })
	assert.Empty(t, infos)
}

// connectSmallBuffer is displaytest.Connect with a tiny server send buffer,
// so the client's event queue fills once the peer stops reading.
func connectSmallBuffer(t *testing.T, d *display.Display) (*display.Client, *client.Conn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetsockoptInt(fds[0], unix.SOL_SOCKET, unix.SO_SNDBUF, 1024))
	require.NoError(t, unix.SetsockoptInt(fds[1], unix.SOL_SOCKET, unix.SO_RCVBUF, 1024))

	toConn := func(fd int) net.Conn {
		f := os.NewFile(uintptr(fd), "socketpair")
		defer f.Close()
		c, err := net.FileConn(f)
		require.NoError(t, err)
		return c
	}
	srv, peer := toConn(fds[0]), toConn(fds[1])

	var c *display.Client
	displaytest.Do(t, d, func() { c, err = d.CreateClient(srv) })
	require.NoError(t, err)
	cc, err := client.New(peer)
	require.NoError(t, err)
	require.NoError(t, cc.SetDeadline(time.Now().Add(displaytest.Timeout)))
	t.Cleanup(func() { cc.Close() })
	return c, cc
}

func TestNotifySurvivesTeardownDuringDispatch(t *testing.T) {
	var keyEvents []Event
	d, r := setup(t, Options{Observer: func(ev Event) {
		if ev.Type == EventKey {
			keyEvents = append(keyEvents, ev)
		}
	}})

	// The slow client stops reading after registering. The victim is bound
	// later, so it sits behind the slow client in dispatch order.
	slow, slowConn := connectSmallBuffer(t, d)
	slowKB, err := slowConn.BindKeybindings()
	require.NoError(t, err)
	require.NoError(t, slowKB.RegisterKey(23, 0))
	require.NoError(t, slowConn.Roundtrip())

	victim, victimConn, victimKB := bind(t, d)
	require.NoError(t, victimKB.RegisterKey(23, 0))
	require.NoError(t, victimConn.Roundtrip())

	// Tearing down the slow client takes the victim with it.
	displaytest.Do(t, d, func() {
		slow.AddDestroyListener(func(*display.Client) { victim.Destroy() })
	})

	var calls int
	displaytest.Do(t, d, func() {
		for !slow.Destroyed() && calls < 100000 {
			r.NotifyKeyIfRegistered(23, 0, true, uint32(calls))
			calls++
		}
	})

	var (
		slowGone, victimGone bool
		infos                []Info
	)
	displaytest.Do(t, d, func() {
		slowGone, victimGone = slow.Destroyed(), victim.Destroyed()
		infos = r.Registrations()
	})
	require.True(t, slowGone, "slow client never overflowed after %d events", calls)
	assert.True(t, victimGone)
	assert.Empty(t, infos)

	require.Len(t, keyEvents, calls)
	for _, ev := range keyEvents[:calls-1] {
		assert.Equal(t, 2, ev.Recipients)
	}
	// The overflowing send counts the slow client; the victim torn down
	// mid-dispatch is skipped rather than sent to.
	assert.Equal(t, 1, keyEvents[calls-1].Recipients)

	assert.False(t, notify(t, d, r, 23, 0, true, 0))
}
