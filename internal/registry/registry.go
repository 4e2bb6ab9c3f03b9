// Package registry holds the GATT characteristic table served by the
// peripheral: per-characteristic properties, permissions and the cached
// value, in registration order.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

var (
	ErrDuplicateCharacteristic = errors.New("registry: duplicate characteristic")
	ErrNotWritable             = errors.New("registry: characteristic not writable")
	ErrUnknownHandle           = errors.New("registry: unknown characteristic handle")
	ErrSealed                  = errors.New("registry: services are sealed")
	ErrInvalidValue            = errors.New("registry: invalid value")
)

// Property is the set of GATT operations a characteristic supports.
type Property uint8

const (
	PropRead Property = 1 << iota
	PropWrite
	PropNotify
	PropIndicate
)

// Has reports whether all bits of q are set.
func (p Property) Has(q Property) bool { return p&q == q }

func (p Property) String() string {
	var names []string
	for _, f := range []struct {
		bit  Property
		name string
	}{{PropRead, "read"}, {PropWrite, "write"}, {PropNotify, "notify"}, {PropIndicate, "indicate"}} {
		if p&f.bit != 0 {
			names = append(names, f.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Permission is the set of attribute access permissions.
type Permission uint8

const (
	PermReadable Permission = 1 << iota
	PermWritable
)

// Has reports whether all bits of q are set.
func (p Permission) Has(q Permission) bool { return p&q == q }

// Handle addresses a registered characteristic. Handles are allocated from 1
// in registration order.
type Handle uint16

// LiveFunc recomputes a characteristic value on every read.
type LiveFunc func(ctx context.Context) ([]byte, error)

// Characteristic describes one characteristic to register.
type Characteristic struct {
	UUID        bluetooth.UUID
	Properties  Property
	Permissions Permission
	Value       []byte   // initial (or static) value
	Live        LiveFunc // nil means the cached Value is served
	OnWrite     func(value []byte)
	// Validate rejects remote writes that do not match the encoding.
	Validate func(value []byte) error
}

// Info is a read-only view of a registered characteristic.
type Info struct {
	Handle      Handle
	Service     bluetooth.UUID
	UUID        bluetooth.UUID
	Properties  Property
	Permissions Permission
	Live        bool
}

// Service is an ordered group of registered characteristics, in the shape
// handed to the radio stack.
type Service struct {
	UUID            bluetooth.UUID
	Characteristics []Info
}

type key struct {
	service, char bluetooth.UUID
}

type entry struct {
	info    Info
	value   []byte
	live     LiveFunc
	onWrite  func([]byte)
	validate func([]byte) error
}

// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	entries  []*entry // index = handle-1
	index    map[key]Handle
	services []bluetooth.UUID
	sealed   bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{index: make(map[key]Handle)}
}

// Register adds c to the service identified by serviceID, creating the
// service on first use.
func (r *Registry) Register(serviceID bluetooth.UUID, c Characteristic) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return 0, ErrSealed
	}
	k := key{serviceID, c.UUID}
	if _, ok := r.index[k]; ok {
		return 0, fmt.Errorf("%w: %s in service %s", ErrDuplicateCharacteristic, c.UUID, serviceID)
	}
	if len(r.entries) >= 0xffff {
		return 0, fmt.Errorf("registry: handle space exhausted")
	}

	perms := c.Permissions
	if c.Properties.Has(PropRead) {
		perms |= PermReadable
	}

	h := Handle(len(r.entries) + 1)
	r.entries = append(r.entries, &entry{
		info: Info{
			Handle:      h,
			Service:     serviceID,
			UUID:        c.UUID,
			Properties:  c.Properties,
			Permissions: perms,
			Live:        c.Live != nil,
		},
		value:   clone(c.Value),
		live:     c.Live,
		onWrite:  c.OnWrite,
		validate: c.Validate,
	})
	r.index[k] = h
	if !r.hasService(serviceID) {
		r.services = append(r.services, serviceID)
	}
	return h, nil
}

func (r *Registry) hasService(id bluetooth.UUID) bool {
	for _, s := range r.services {
		if s == id {
			return true
		}
	}
	return false
}

// Seal freezes the service shape. Values stay mutable.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Read returns the value of h. Live characteristics are recomputed on every
// call and the result is not cached.
func (r *Registry) Read(ctx context.Context, h Handle) ([]byte, error) {
	r.mu.RLock()
	e, err := r.lookup(h)
	if err != nil {
		r.mu.RUnlock()
		return nil, err
	}
	live := e.live
	value := clone(e.value)
	r.mu.RUnlock()

	if live == nil {
		return value, nil
	}
	return live(ctx)
}

// Value returns the cached value of h without recomputing it.
func (r *Registry) Value(h Handle) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.lookup(h)
	if err != nil {
		return nil, err
	}
	return clone(e.value), nil
}

// Write stores a value written by a remote peer. A value rejected by the
// characteristic's validator leaves the stored value unchanged. The write
// hook runs after the value is stored; the new value is not pushed to
// connected peers.
func (r *Registry) Write(h Handle, value []byte) error {
	r.mu.Lock()
	e, err := r.lookup(h)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if !e.info.Permissions.Has(PermWritable) {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotWritable, e.info.UUID)
	}
	if e.validate != nil {
		if err := e.validate(value); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("%w: %s: %v", ErrInvalidValue, e.info.UUID, err)
		}
	}
	e.value = clone(value)
	hook := e.onWrite
	r.mu.Unlock()

	if hook != nil {
		hook(clone(value))
	}
	return nil
}

// Update stores a locally produced value, regardless of write permission.
func (r *Registry) Update(h Handle, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.lookup(h)
	if err != nil {
		return err
	}
	e.value = clone(value)
	return nil
}

// Info returns the description of h.
func (r *Registry) Info(h Handle) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.lookup(h)
	if err != nil {
		return Info{}, false
	}
	return e.info, true
}

// Lookup finds the handle of a characteristic within a service.
func (r *Registry) Lookup(serviceID, charID bluetooth.UUID) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.index[key{serviceID, charID}]
	return h, ok
}

// Live returns the handles of all live characteristics in registration order.
func (r *Registry) Live() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var hs []Handle
	for _, e := range r.entries {
		if e.info.Live {
			hs = append(hs, e.info.Handle)
		}
	}
	return hs
}

// Services returns the registered services in registration order, each
// with its characteristics in registration order.
func (r *Registry) Services() []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Service, 0, len(r.services))
	for _, id := range r.services {
		svc := Service{UUID: id}
		for _, e := range r.entries {
			if e.info.Service == id {
				svc.Characteristics = append(svc.Characteristics, e.info)
			}
		}
		out = append(out, svc)
	}
	return out
}

// lookup requires r.mu to be held.
func (r *Registry) lookup(h Handle) (*entry, error) {
	if h == 0 || int(h) > len(r.entries) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	return r.entries[h-1], nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
