// Package ble defines the radio-stack contract the peripheral core is
// written against, and the stack backends that implement it: BlueZ,
// CoreBluetooth and WinRT through tinygo.org/x/bluetooth, and a raw HCI
// socket through github.com/paypal/gatt.
package ble

import (
	"errors"
	"fmt"
	"time"

	"github.com/chaz8081/envsense/internal/registry"
	"github.com/chaz8081/envsense/internal/tracker"
	"tinygo.org/x/bluetooth"
)

var (
	// ErrUnavailable is answered to a read request whose value could not be
	// produced in time.
	ErrUnavailable = errors.New("ble: value unavailable")
	// ErrNotSupported is returned for operations a backend cannot perform.
	ErrNotSupported = errors.New("ble: operation not supported by stack")
)

// StackError wraps a failure reported by the underlying radio stack.
type StackError struct {
	Op  string
	Err error
}

func (e *StackError) Error() string { return fmt.Sprintf("ble: %s: %v", e.Op, e.Err) }
func (e *StackError) Unwrap() error { return e.Err }

func stackErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StackError{Op: op, Err: err}
}

// Advertisement describes the advertising payload.
type Advertisement struct {
	LocalName    string
	ServiceUUIDs []bluetooth.UUID
}

// Handler receives radio-stack events. Backends deliver events in the order
// the stack reports them.
type Handler interface {
	Connected(conn tracker.ConnHandle)
	Disconnected(conn tracker.ConnHandle)
	// ReadRequest returns the value to answer with. ErrUnavailable means the
	// request should be failed rather than answered.
	ReadRequest(conn tracker.ConnHandle, char registry.Handle) ([]byte, error)
	WriteRequest(conn tracker.ConnHandle, char registry.Handle, value []byte) error
	IndicateDone(conn tracker.ConnHandle, char registry.Handle, err error)
}

// Stack abstracts the radio stack for testing.
type Stack interface {
	// Enable powers on the adapter.
	Enable() error
	// SetHandler installs the event handler. It must be called before Register.
	SetHandler(h Handler)
	// Register publishes the GATT table. Characteristic handles in services
	// are the ones later passed to SetValue, Notify and Indicate.
	Register(services []registry.Service) error
	StartAdvertising(adv Advertisement) error
	StopAdvertising() error
	// SetValue updates the stack's copy of a characteristic value.
	SetValue(char registry.Handle, value []byte) error
	Notify(conn tracker.ConnHandle, char registry.Handle, value []byte) error
	Indicate(conn tracker.ConnHandle, char registry.Handle, value []byte) error
	// Disconnect terminates one connection.
	Disconnect(conn tracker.ConnHandle) error
	// Close releases the stack.
	Close() error
}

// PushingStack is implemented by stacks whose SetValue also delivers the
// value to every subscribed central.
type PushingStack interface {
	Stack
	PushesOnSetValue() bool
}

// New returns the backend named by backend ("tinygo" or "hci").
func New(backend string, opts Options) (Stack, error) {
	switch backend {
	case "tinygo", "":
		return NewTinyGoStack(), nil
	case "hci":
		st, err := NewHCIStack(opts)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("ble: unknown stack backend %q", backend)
	}
}

// Options configures stack backends that accept tuning.
type Options struct {
	DeviceID      int           // HCI device index, -1 picks the first one
	EnableTimeout time.Duration // how long to wait for the adapter to power on
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		DeviceID:      -1,
		EnableTimeout: 10 * time.Second,
	}
}
