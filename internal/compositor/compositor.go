// Package compositor owns the display and the trust core built on it: the
// process spawner, the grant registry and the keybindings global. It fixes
// their construction and teardown order.
package compositor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/mattjoyce/wayguard/internal/audit"
	"github.com/mattjoyce/wayguard/internal/authz"
	"github.com/mattjoyce/wayguard/internal/config"
	"github.com/mattjoyce/wayguard/internal/display"
	"github.com/mattjoyce/wayguard/internal/events"
	"github.com/mattjoyce/wayguard/internal/keybindings"
	"github.com/mattjoyce/wayguard/internal/keymask"
	"github.com/mattjoyce/wayguard/internal/log"
	"github.com/mattjoyce/wayguard/internal/spawn"
	"github.com/mattjoyce/wayguard/internal/storage"
)

// ErrKeybindingsDisabled is returned by keybinding operations when the
// global is turned off in the configuration.
var ErrKeybindingsDisabled = errors.New("keybindings disabled")

// FatalFunc handles unrecoverable setup failures. The default logs and
// exits with status 1.
type FatalFunc func(msg string, err error)

func defaultFatal(msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}

// Option configures a Compositor.
type Option func(*Compositor)

// WithFatal replaces the exit-on-failure handler.
func WithFatal(fn FatalFunc) Option {
	return func(c *Compositor) {
		c.fatal = fn
	}
}

// WithLauncher replaces the platform process launcher.
func WithLauncher(l spawn.Launcher) Option {
	return func(c *Compositor) {
		c.launcher = l
	}
}

// WithAudit records grant lifecycle events in store.
func WithAudit(store *audit.Store) Option {
	return func(c *Compositor) {
		c.auditStore = store
	}
}

// WithHub publishes lifecycle events to hub instead of a private one.
func WithHub(hub *events.Hub) Option {
	return func(c *Compositor) {
		c.hub = hub
	}
}

// Compositor is the context object that owns every live collection.
type Compositor struct {
	cfg    *config.Config
	logger *slog.Logger
	fatal  FatalFunc

	display  *display.Display
	launcher spawn.Launcher
	spawner  *spawn.Spawner
	grants   *authz.Registry
	keys     *keybindings.Registry

	hub        *events.Hub
	auditStore *audit.Store
	auditLog   *audit.Writer

	socket    string
	cancel    context.CancelFunc
	loopDone  chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// New builds the compositor. Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) (*Compositor, error) {
	c := &Compositor{
		cfg:      cfg,
		logger:   log.WithComponent("compositor"),
		fatal:    defaultFatal,
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.hub == nil {
		c.hub = events.NewHub(0)
	}
	if c.auditStore != nil {
		c.auditLog = audit.NewWriter(c.auditStore, 0)
	}

	c.display = display.New(display.WithMaxClients(cfg.Display.MaxClients))

	var spawnOpts []spawn.Option
	if c.launcher != nil {
		spawnOpts = append(spawnOpts, spawn.WithLauncher(c.launcher))
	}
	c.spawner = spawn.New(c.display, spawnOpts...)

	c.grants = authz.NewRegistry(spawnAdapter{c.spawner},
		authz.WithMaxGrants(cfg.Authorization.MaxGrants),
		authz.WithObserver(c.onGrantEvent),
	)

	// The loop is not running yet, so creating the global here is the only
	// access to display state.
	if cfg.Keybindings.Enabled {
		ignored, err := keymask.ParseMods(cfg.Keybindings.IgnoredMods)
		if err != nil {
			return nil, fmt.Errorf("keybindings.ignored_mods: %w", err)
		}
		opts := keybindings.Options{
			IgnoredMods:      ignored,
			MaxRegistrations: cfg.Keybindings.MaxRegistrations,
			Observer:         c.hub.PublishKeybinding,
		}
		if cfg.Keybindings.RequirePermission {
			opts.Gate = func(cl *display.Client) bool {
				return c.grants.Allowed(cl.ID(), authz.Keybindings)
			}
		}
		c.keys = keybindings.New(c.display, opts)
	}
	return c, nil
}

func (c *Compositor) onGrantEvent(ev authz.Event) {
	c.hub.PublishGrant(ev)
	if c.auditLog != nil {
		c.auditLog.Submit(ev)
	}
}

// spawnAdapter narrows spawn handles to the registry's Connection.
type spawnAdapter struct {
	s *spawn.Spawner
}

func (a spawnAdapter) Spawn(command string, onDisconnect func()) (authz.Connection, error) {
	h, err := a.s.Spawn(command, onDisconnect)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Start runs the display loop, opens the listening socket and executes the
// startup command and configured grants. Spawn failures go to the fatal
// handler. The loop stops when ctx is cancelled or Close is called.
func (c *Compositor) Start(ctx context.Context) error {
	started := false
	c.startOnce.Do(func() { started = true })
	if !started {
		return errors.New("compositor already started")
	}

	if fp, err := config.Fingerprint(c.cfg); err == nil {
		c.logger.Info("starting", "service", c.cfg.Service.Name, "config_fingerprint", fp)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go func() {
		defer close(c.loopDone)
		_ = c.display.Run(loopCtx)
	}()
	if c.auditLog != nil {
		// Stopped by Close, after teardown.
		go c.auditLog.Run(context.WithoutCancel(ctx))
	}

	if c.cfg.Display.ListenEnabled() {
		if err := c.listen(ctx); err != nil {
			return err
		}
	}

	return c.display.Do(ctx, c.runStartup)
}

func (c *Compositor) listen(ctx context.Context) error {
	dir := c.cfg.Display.ResolvedRuntimeDir()
	if err := storage.CheckLocalFilesystem(dir, "display.runtime_dir"); err != nil {
		return err
	}
	var (
		name string
		err  error
	)
	if derr := c.display.Do(ctx, func() { name, err = c.display.AddSocket(dir, c.cfg.Display.Socket) }); derr != nil {
		return derr
	}
	if err != nil {
		return fmt.Errorf("open display socket: %w", err)
	}
	c.socket = name
	// Children started from here on find the display without WAYLAND_SOCKET.
	_ = os.Setenv("WAYLAND_DISPLAY", name)
	return nil
}

// runStartup executes the ungranted startup command and each configured
// grant. Loop only.
func (c *Compositor) runStartup() {
	if cmd := c.cfg.Startup.Command; cmd != "" {
		if _, err := c.spawner.Spawn(cmd, nil); err != nil {
			c.fatal("failed to run startup command", err)
			return
		}
	}

	for _, g := range c.cfg.Grants {
		perms, err := authz.ParsePermissions(g.Permissions)
		if err != nil {
			c.fatal("invalid grant "+g.Name, err)
			return
		}
		a, err := c.grants.CreateNamed(g.Name, perms)
		if err != nil {
			c.fatal("failed to create grant "+g.Name, err)
			return
		}
		if err := c.grants.ExecuteWithAuthorization(a, g.Command); err != nil {
			c.fatal("failed to execute grant "+g.Name, err)
			return
		}
	}
}

// Socket returns the listening socket name, or "" when not listening.
func (c *Compositor) Socket() string { return c.socket }

// Hub returns the lifecycle event hub.
func (c *Compositor) Hub() *events.Hub { return c.hub }

// Audit returns the grant log, or nil when auditing is off.
func (c *Compositor) Audit() *audit.Store { return c.auditStore }

// Display returns the underlying display.
func (c *Compositor) Display() *display.Display { return c.display }

// HandleKey is the input path's entry point. mods is the union of the
// depressed, latched and locked modifiers. It reports whether a keybinding
// claimed the key, in which case it must not be routed to the focused
// client. Loop only; other goroutines use InjectKey.
func (c *Compositor) HandleKey(key, mods uint32, pressed bool, time uint32) bool {
	if c.keys == nil {
		return false
	}
	return c.keys.NotifyKeyIfRegistered(key, mods, pressed, time)
}

// InjectKey runs HandleKey on the loop.
func (c *Compositor) InjectKey(ctx context.Context, key, mods uint32, pressed bool, time uint32) (bool, error) {
	var claimed bool
	err := c.display.Do(ctx, func() { claimed = c.HandleKey(key, mods, pressed, time) })
	return claimed, err
}

// Grant creates a grant and executes command under it. A grant whose
// command fails to spawn is discarded.
func (c *Compositor) Grant(ctx context.Context, name string, perms authz.Permissions, command string) (authz.Info, error) {
	var (
		info authz.Info
		err  error
	)
	derr := c.display.Do(ctx, func() {
		var a *authz.Authorization
		a, err = c.grants.CreateNamed(name, perms)
		if err != nil {
			return
		}
		if err = c.grants.ExecuteWithAuthorization(a, command); err != nil {
			c.grants.Destroy(a)
			return
		}
		info = a.Info()
	})
	if derr != nil {
		return authz.Info{}, derr
	}
	return info, err
}

// Revoke destroys the grant id, closing its connection.
func (c *Compositor) Revoke(ctx context.Context, id string) error {
	var err error
	derr := c.display.Do(ctx, func() {
		a, ok := c.grants.Lookup(id)
		if !ok {
			err = authz.ErrNotFound
			return
		}
		c.grants.Destroy(a)
	})
	if derr != nil {
		return derr
	}
	return err
}

// Grants lists live grants.
func (c *Compositor) Grants(ctx context.Context) ([]authz.Info, error) {
	var out []authz.Info
	err := c.display.Do(ctx, func() {
		for _, a := range c.grants.All() {
			out = append(out, a.Info())
		}
	})
	return out, err
}

// Keybindings lists live keybinding registrations.
func (c *Compositor) Keybindings(ctx context.Context) ([]keybindings.Info, error) {
	if c.keys == nil {
		return nil, ErrKeybindingsDisabled
	}
	var out []keybindings.Info
	err := c.display.Do(ctx, func() { out = c.keys.Registrations() })
	return out, err
}

// Close tears down keybindings, then grants, then the display, and stops
// the loop. Safe to call more than once.
func (c *Compositor) Close() {
	c.closeOnce.Do(func() {
		teardown := func() {
			if c.keys != nil {
				c.keys.Close()
			}
			c.grants.Close()
			c.display.Close()
		}

		if c.cancel == nil {
			teardown()
		} else {
			if err := c.display.Do(context.Background(), teardown); err != nil {
				// The loop already stopped; nothing else touches its state.
				<-c.loopDone
				teardown()
			}
			c.cancel()
			<-c.loopDone
			if c.auditLog != nil {
				c.auditLog.Stop()
			}
		}
		c.hub.Close()
		c.logger.Info("compositor stopped")
	})
}
