//go:build !linux

package ble

import (
	"fmt"

	"github.com/chaz8081/envsense/internal/registry"
	"github.com/chaz8081/envsense/internal/tracker"
)

// HCIStack is only available on Linux.
type HCIStack struct{}

// NewHCIStack reports that raw HCI access is unavailable on this platform.
func NewHCIStack(opts Options) (*HCIStack, error) {
	return nil, fmt.Errorf("%w: hci backend requires linux", ErrNotSupported)
}

func (s *HCIStack) Enable() error                              { return ErrNotSupported }
func (s *HCIStack) SetHandler(h Handler)                       {}
func (s *HCIStack) Register(services []registry.Service) error { return ErrNotSupported }
func (s *HCIStack) StartAdvertising(adv Advertisement) error   { return ErrNotSupported }
func (s *HCIStack) StopAdvertising() error                     { return ErrNotSupported }
func (s *HCIStack) SetValue(registry.Handle, []byte) error     { return ErrNotSupported }
func (s *HCIStack) Disconnect(tracker.ConnHandle) error        { return ErrNotSupported }
func (s *HCIStack) Close() error                               { return nil }

func (s *HCIStack) Notify(tracker.ConnHandle, registry.Handle, []byte) error {
	return ErrNotSupported
}

func (s *HCIStack) Indicate(tracker.ConnHandle, registry.Handle, []byte) error {
	return ErrNotSupported
}

var _ Stack = (*HCIStack)(nil)
