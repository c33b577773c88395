// Package authz grants capability sets to spawned connections. A grant
// lives exactly as long as the connection it was executed with.
package authz

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/wayguard/internal/log"
)

var (
	ErrResourceExhausted = errors.New("authorization limit reached")
	ErrAlreadyExecuted   = errors.New("authorization already executed")
	ErrRegistryClosed    = errors.New("authorization registry closed")
	ErrNotFound          = errors.New("authorization not found")
)

// EventType names a grant lifecycle event.
type EventType string

const (
	EventCreated  EventType = "grant.created"
	EventExecuted EventType = "grant.executed"
	EventRevoked  EventType = "grant.revoked"
)

// Reason explains why a grant was revoked.
type Reason string

const (
	ReasonDisconnected Reason = "disconnected"
	ReasonRevoked      Reason = "revoked"
	ReasonShutdown     Reason = "shutdown"
)

// Event is reported to the observer for every lifecycle change.
type Event struct {
	Type   EventType
	Grant  Info
	Reason Reason
}

// Authorization is one grant. It holds at most one connection.
type Authorization struct {
	id        string
	name      string
	perms     Permissions
	createdAt time.Time
	command   string
	conn      Connection
	executed  bool
	destroyed bool
}

func (a *Authorization) ID() string               { return a.id }
func (a *Authorization) Name() string             { return a.name }
func (a *Authorization) Permissions() Permissions { return a.perms }
func (a *Authorization) Command() string          { return a.command }
func (a *Authorization) Executed() bool           { return a.executed }
func (a *Authorization) Destroyed() bool          { return a.destroyed }
func (a *Authorization) CreatedAt() time.Time     { return a.createdAt }

// ClientID returns the connection id, or 0 before execution.
func (a *Authorization) ClientID() uint32 {
	if a.conn == nil {
		return 0
	}
	return a.conn.ClientID()
}

// Info is a serializable snapshot of an Authorization.
type Info struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Permissions []string  `json:"permissions"`
	Command     string    `json:"command,omitempty"`
	ClientID    uint32    `json:"client_id,omitempty"`
	Executed    bool      `json:"executed"`
	Alive       bool      `json:"alive"`
	CreatedAt   time.Time `json:"created_at"`
}

// Info snapshots a.
func (a *Authorization) Info() Info {
	return Info{
		ID:          a.id,
		Name:        a.name,
		Permissions: a.perms.Names(),
		Command:     a.command,
		ClientID:    a.ClientID(),
		Executed:    a.executed,
		Alive:       a.conn != nil && !a.destroyed && a.conn.Alive(),
		CreatedAt:   a.createdAt,
	}
}

// Registry owns every live authorization. Like the display it is driven from
// a single goroutine and does no locking of its own.
type Registry struct {
	spawner   Spawner
	maxGrants int
	observer  func(Event)
	now       func() time.Time
	logger    *slog.Logger

	records []*Authorization
	closed  bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxGrants caps live authorizations; Create fails with
// ErrResourceExhausted beyond it. Zero means unlimited.
func WithMaxGrants(n int) Option {
	return func(r *Registry) {
		r.maxGrants = n
	}
}

// WithObserver receives lifecycle events.
func WithObserver(fn func(Event)) Option {
	return func(r *Registry) {
		r.observer = fn
	}
}

// WithClock overrides time.Now for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry returns an empty registry using spawner for execution.
func NewRegistry(spawner Spawner, opts ...Option) *Registry {
	r := &Registry{
		spawner: spawner,
		now:     time.Now,
		logger:  log.WithComponent("authz"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) emit(typ EventType, a *Authorization, reason Reason) {
	if r.observer != nil {
		r.observer(Event{Type: typ, Grant: a.Info(), Reason: reason})
	}
}

// Create registers a grant of perms with no connection.
func (r *Registry) Create(perms Permissions) (*Authorization, error) {
	return r.CreateNamed("", perms)
}

// CreateNamed is Create with a label shown in listings and the audit log.
func (r *Registry) CreateNamed(name string, perms Permissions) (*Authorization, error) {
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if r.maxGrants > 0 && len(r.records) >= r.maxGrants {
		r.logger.Warn("authorization limit reached", "limit", r.maxGrants)
		return nil, ErrResourceExhausted
	}
	a := &Authorization{
		id:        uuid.NewString(),
		name:      name,
		perms:     perms,
		createdAt: r.now(),
	}
	r.records = append(r.records, a)
	log.WithGrant(a.id).Debug("authorization created", "name", name, "permissions", perms.String())
	r.emit(EventCreated, a, "")
	return a, nil
}

// ExecuteWithAuthorization spawns command under a. It may succeed only once
// per record. The grant is destroyed when the spawned connection closes.
func (r *Registry) ExecuteWithAuthorization(a *Authorization, command string) error {
	if r.closed {
		return ErrRegistryClosed
	}
	if a == nil || a.destroyed {
		return ErrNotFound
	}
	if a.executed {
		return ErrAlreadyExecuted
	}

	conn, err := r.spawner.Spawn(command, func() { r.destroy(a, ReasonDisconnected) })
	if err != nil {
		return fmt.Errorf("execute %q: %w", command, err)
	}
	a.conn = conn
	a.command = command
	a.executed = true

	log.WithGrant(a.id).Info("authorization executed", "command", command, "client_id", conn.ClientID())
	r.emit(EventExecuted, a, "")
	return nil
}

// Destroy revokes a, closing its connection if it is still open. Repeated
// calls are no-ops.
func (r *Registry) Destroy(a *Authorization) {
	r.destroy(a, ReasonRevoked)
}

func (r *Registry) destroy(a *Authorization, reason Reason) {
	if a == nil || a.destroyed {
		return
	}
	a.destroyed = true
	r.records = slices.DeleteFunc(r.records, func(x *Authorization) bool { return x == a })

	if a.conn != nil {
		a.conn.Unsubscribe()
		if a.conn.Alive() {
			a.conn.Close()
		}
	}

	log.WithGrant(a.id).Info("authorization destroyed", "reason", string(reason))
	r.emit(EventRevoked, a, reason)
}

// Lookup finds a live record by id.
func (r *Registry) Lookup(id string) (*Authorization, bool) {
	for _, a := range r.records {
		if a.id == id {
			return a, true
		}
	}
	return nil, false
}

// All returns live records in creation order.
func (r *Registry) All() []*Authorization {
	return slices.Clone(r.records)
}

// Len returns the number of live records.
func (r *Registry) Len() int { return len(r.records) }

// Allowed reports whether the connection clientID was spawned under a live
// grant carrying perm.
func (r *Registry) Allowed(clientID uint32, perm Permissions) bool {
	for _, a := range r.records {
		if a.conn != nil && a.conn.ClientID() == clientID && a.conn.Alive() && a.perms.Has(perm) {
			return true
		}
	}
	return false
}

// Close destroys every record and rejects further use.
func (r *Registry) Close() {
	if r.closed {
		return
	}
	r.closed = true
	for _, a := range slices.Clone(r.records) {
		r.destroy(a, ReasonShutdown)
	}
}
