package soft

import (
	"fmt"
	"runtime"

	"github.com/wippyai/hostrt/backend"
)

// Device is a software device supporting both backend kinds.
type Device struct {
	name    string
	typ     backend.DeviceType
	workers int
	kinds   [backend.NumKinds]bool
}

// DeviceOption configures a Device.
type DeviceOption func(*Device)

// WithWorkers bounds concurrent ops per out-of-order queue. Zero means NumCPU.
func WithWorkers(n int) DeviceOption {
	return func(d *Device) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithKinds restricts the backend kinds the device supports.
func WithKinds(kinds ...backend.Kind) DeviceOption {
	return func(d *Device) {
		d.kinds = [backend.NumKinds]bool{}
		for _, k := range kinds {
			d.kinds[k] = true
		}
	}
}

// NewDevice creates a software device.
func NewDevice(name string, typ backend.DeviceType, opts ...DeviceOption) *Device {
	d := &Device{
		name:    name,
		typ:     typ,
		workers: runtime.NumCPU(),
		kinds:   [backend.NumKinds]bool{true, true},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Device) Name() string             { return d.name }
func (d *Device) Type() backend.DeviceType { return d.typ }
func (d *Device) Workers() int             { return d.workers }

func (d *Device) Supports(k backend.Kind) bool {
	return int(k) < len(d.kinds) && d.kinds[k]
}

func (d *Device) NewQueue(kind backend.Kind, ordering backend.Ordering) (backend.Queue, error) {
	if !d.Supports(kind) {
		return nil, fmt.Errorf("device %s does not support %s queues", d.name, kind)
	}
	if ordering == backend.InOrder {
		return NewOrdered(kind), nil
	}
	return NewUnordered(kind, d.workers), nil
}

func (d *Device) Close() error { return nil }
