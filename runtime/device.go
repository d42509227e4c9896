package runtime

import (
	"fmt"
	"slices"

	"github.com/wippyai/hostrt"
	"github.com/wippyai/hostrt/backend"
	"github.com/wippyai/hostrt/errors"
	"github.com/wippyai/hostrt/resource"
)

// Device is a registered backend device.
type Device struct {
	dev        backend.Device
	transfer   backend.Queue
	writeBacks []backend.Token
	queues     int
	groups     int
}

// Backend returns the underlying backend device.
func (d *Device) Backend() backend.Device { return d.dev }

// transferQueue returns the device's internal queue for host write-back,
// creating it on first use.
func (d *Device) transferQueue() (backend.Queue, error) {
	if d.transfer != nil {
		return d.transfer, nil
	}
	kind := backend.KindCompute
	if !d.dev.Supports(kind) {
		kind = kind.Other()
	}
	q, err := d.dev.NewQueue(kind, backend.OutOfOrder)
	if err != nil {
		return nil, errors.FromBackend(errors.PhaseMap, "transfer queue", err)
	}
	d.transfer = q
	return q, nil
}

// writeBack queues a host write-back on the transfer queue behind waits.
func (d *Device) writeBack(op backend.Op, waits []backend.Token) (backend.Token, error) {
	q, err := d.transferQueue()
	if err != nil {
		return nil, err
	}
	tok, err := q.Enqueue(op, waits)
	if err != nil {
		return nil, errors.FromBackend(errors.PhaseMap, "unmap", err)
	}
	d.pendingWriteBacks()
	d.writeBacks = append(d.writeBacks, tok)
	return tok, nil
}

// pendingWriteBacks drops completed write-backs and returns how many remain.
func (d *Device) pendingWriteBacks() int {
	d.writeBacks = slices.DeleteFunc(d.writeBacks, backend.Signaled)
	return len(d.writeBacks)
}

func (d *Device) closeTransfer() {
	if d.transfer != nil {
		_ = d.transfer.Close()
		d.transfer = nil
	}
	d.writeBacks = nil
}

func (d *Device) Drop() {
	d.closeTransfer()
	_ = d.dev.Close()
}

// Group is an execution group: an ordered set of devices queues can be
// created on as a unit.
type Group struct {
	devices []resource.Handle
}

// Devices returns the group's member devices.
func (g *Group) Devices() []resource.Handle { return g.devices }

// CreateDevice registers a backend device.
func (c *Context) CreateDevice(dev backend.Device) (resource.Handle, error) {
	if dev == nil {
		return resource.Invalid, c.fail(errors.InvalidArgument(errors.PhaseCreate, "create device", "nil device"))
	}
	h, err := c.devices.Add(&Device{dev: dev})
	if err != nil {
		return resource.Invalid, c.fail(err)
	}
	return h, nil
}

// DefaultDevice returns the device created with the context.
func (c *Context) DefaultDevice() resource.Handle { return c.defaultDevice }

// Devices returns the handles of all registered devices.
func (c *Context) Devices() []resource.Handle { return c.devices.Handles() }

// DeviceInfo returns the backend device behind h.
func (c *Context) DeviceInfo(h resource.Handle) (backend.Device, error) {
	d, err := c.devices.Get(h)
	if err != nil {
		return nil, err
	}
	return d.dev, nil
}

// DestroyDevice unregisters a device. It fails while queues or groups still
// reference it or a host write-back is still pending on it.
func (c *Context) DestroyDevice(h resource.Handle) error {
	d, err := c.devices.Get(h)
	if err != nil {
		return c.fail(err)
	}
	if d.queues > 0 || d.groups > 0 {
		return c.fail(errors.StateDetail(errors.PhaseCreate, "destroy device",
			fmt.Sprintf("%s still has %d queues and %d groups", h, d.queues, d.groups)))
	}
	if n := d.pendingWriteBacks(); n > 0 {
		return c.fail(errors.StateDetail(errors.PhaseCreate, "destroy device",
			fmt.Sprintf("%s has %d host write-backs pending", h, n)))
	}
	if h == c.defaultDevice {
		c.defaultDevice = resource.Invalid
	}
	_, err = c.devices.Remove(h)
	return err
}

// CreateGroup creates an execution group over one or more devices.
func (c *Context) CreateGroup(devices ...resource.Handle) (resource.Handle, error) {
	if len(devices) == 0 {
		return resource.Invalid, c.fail(errors.InvalidArgument(errors.PhaseCreate, "create group", "no devices"))
	}
	members := make([]*Device, len(devices))
	for i, dh := range devices {
		d, err := c.devices.Get(dh)
		if err != nil {
			return resource.Invalid, c.fail(err)
		}
		members[i] = d
	}
	h, err := c.groups.Add(&Group{devices: append([]resource.Handle(nil), devices...)})
	if err != nil {
		return resource.Invalid, c.fail(err)
	}
	for _, d := range members {
		d.groups++
	}
	return h, nil
}

// DestroyGroup destroys an execution group. Queues created through it stay
// bound to their device.
func (c *Context) DestroyGroup(h resource.Handle) error {
	g, err := c.groups.Remove(h)
	if err != nil {
		return c.fail(err)
	}
	for _, dh := range g.devices {
		if d, ok := c.devices.Lookup(dh); ok {
			d.groups--
		}
	}
	return nil
}

// resolveTarget picks the device a queue of type qt binds to. target is a
// device or a group; for a group the first member supporting the queue's
// backend kind is chosen.
func (c *Context) resolveTarget(target resource.Handle, qt hostrt.QueueType) (resource.Handle, resource.Handle, *Device, error) {
	kind := backendKind(qt)
	switch target.Type() {
	case resource.TypeDevice:
		d, err := c.devices.Get(target)
		if err != nil {
			return resource.Invalid, resource.Invalid, nil, err
		}
		if !d.dev.Supports(kind) {
			return resource.Invalid, resource.Invalid, nil, errors.Rejected(errors.PhaseCreate, "create queue",
				fmt.Errorf("device %s does not support %s work", d.dev.Name(), kind))
		}
		return target, resource.Invalid, d, nil
	case resource.TypeGroup:
		g, err := c.groups.Get(target)
		if err != nil {
			return resource.Invalid, resource.Invalid, nil, err
		}
		for _, dh := range g.devices {
			if d, ok := c.devices.Lookup(dh); ok && d.dev.Supports(kind) {
				return dh, target, d, nil
			}
		}
		return resource.Invalid, resource.Invalid, nil, errors.Rejected(errors.PhaseCreate, "create queue",
			fmt.Errorf("no device in %s supports %s work", target, kind))
	}
	return resource.Invalid, resource.Invalid, nil,
		wrongType(errors.PhaseCreate, "create queue", target, resource.TypeDevice, resource.TypeGroup)
}
