package display

import (
	"github.com/mattjoyce/wayguard/internal/protocol"
	"github.com/mattjoyce/wayguard/internal/wire"
)

// RequestHandler handles one request on a resource. Returning a
// *ProtocolError disconnects the client with that error.
type RequestHandler func(r *Resource, opcode uint16, args *wire.ArgReader) error

// Resource is a per-client instance of a protocol interface.
type Resource struct {
	client    *Client
	id        uint32
	iface     string
	version   uint32
	handler   RequestHandler
	onDestroy func(*Resource)
	data      any
	destroyed bool
}

// SetHandler installs the request handler and the destroy hook. The hook
// runs exactly once, whether the resource is destroyed explicitly or by
// client teardown.
func (r *Resource) SetHandler(h RequestHandler, onDestroy func(*Resource)) {
	r.handler = h
	r.onDestroy = onDestroy
}

func (r *Resource) ID() uint32        { return r.id }
func (r *Resource) Interface() string { return r.iface }
func (r *Resource) Version() uint32   { return r.version }
func (r *Resource) Client() *Client   { return r.client }
func (r *Resource) Destroyed() bool   { return r.destroyed }

// SetData attaches implementation state.
func (r *Resource) SetData(v any) { r.data = v }

// Data returns the state attached with SetData.
func (r *Resource) Data() any { return r.data }

// Send emits an event on this resource.
func (r *Resource) Send(opcode uint16, args *wire.Args) error {
	if r.destroyed {
		return ErrClientDestroyed
	}
	return r.client.Send(wire.NewMessage(r.id, opcode, args))
}

// Destroy removes the resource and tells the client its id is free.
func (r *Resource) Destroy() {
	r.destroy(true)
}

func (r *Resource) destroy(notify bool) {
	if r.destroyed {
		return
	}
	r.destroyed = true
	if r.onDestroy != nil {
		r.onDestroy(r)
	}
	c := r.client
	if cur, ok := c.objects[r.id]; ok && cur == r {
		delete(c.objects, r.id)
	}
	if notify && r.id < serverIDBase && r.id != DisplayObjectID {
		_ = c.Send(wire.NewMessage(DisplayObjectID, protocol.DisplayDeleteID, new(wire.Args).Uint(r.id)))
	}
}
