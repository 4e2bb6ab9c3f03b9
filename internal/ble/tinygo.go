package ble

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/envsense/internal/registry"
	"github.com/chaz8081/envsense/internal/tracker"
	"tinygo.org/x/bluetooth"
)

// TinyGoStack wraps tinygo-org/bluetooth (BlueZ on Linux, CoreBluetooth on
// macOS, WinRT on Windows).
//
// The host stacks behind it keep characteristic values themselves and answer
// reads from that copy, so live characteristics are served as of the last
// SetValue. Writing a value also pushes it to every subscribed central, which
// makes Notify and Indicate bookkeeping only.
type TinyGoStack struct {
	adapter *bluetooth.Adapter

	mu      sync.Mutex
	handler Handler
	chars   map[registry.Handle]*bluetooth.Characteristic
	conns   map[string]tracker.ConnHandle // keyed by device address
	next    tracker.ConnHandle
	adv     *bluetooth.Advertisement
}

// NewTinyGoStack creates a stack on the default adapter.
func NewTinyGoStack() *TinyGoStack {
	return &TinyGoStack{
		adapter: bluetooth.DefaultAdapter,
		chars:   make(map[registry.Handle]*bluetooth.Characteristic),
		conns:   make(map[string]tracker.ConnHandle),
	}
}

func (s *TinyGoStack) Enable() error {
	if err := s.adapter.Enable(); err != nil {
		return stackErr("enable adapter", err)
	}

	s.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		addr := device.Address.String()
		conn := s.connHandle(addr, connected)

		s.mu.Lock()
		h := s.handler
		s.mu.Unlock()
		if h == nil {
			return
		}
		if connected {
			h.Connected(conn)
		} else {
			h.Disconnected(conn)
		}
	})
	return nil
}

// connHandle maps a device address to a stable handle. Handles are released
// on disconnect.
func (s *TinyGoStack) connHandle(addr string, connected bool) tracker.ConnHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[addr]
	if !ok {
		s.next++
		conn = s.next
		if connected {
			s.conns[addr] = conn
		}
	}
	if !connected {
		delete(s.conns, addr)
	}
	return conn
}

func (s *TinyGoStack) SetHandler(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *TinyGoStack) Register(services []registry.Service) error {
	for _, svc := range services {
		configs := make([]bluetooth.CharacteristicConfig, 0, len(svc.Characteristics))
		for _, info := range svc.Characteristics {
			char := new(bluetooth.Characteristic)
			cfg := bluetooth.CharacteristicConfig{
				Handle: char,
				UUID:   info.UUID,
				Flags:  tinygoFlags(info),
			}
			if info.Properties.Has(registry.PropWrite) {
				cfg.WriteEvent = s.writeEvent(info.Handle)
			}
			configs = append(configs, cfg)

			s.mu.Lock()
			s.chars[info.Handle] = char
			s.mu.Unlock()
		}

		err := s.adapter.AddService(&bluetooth.Service{
			UUID:            svc.UUID,
			Characteristics: configs,
		})
		if err != nil {
			return stackErr(fmt.Sprintf("add service %s", svc.UUID), err)
		}
	}
	return nil
}

// writeEvent forwards remote writes. The host stacks do not say which central
// wrote, so writes are attributed to connection 0.
func (s *TinyGoStack) writeEvent(char registry.Handle) func(bluetooth.Connection, int, []byte) {
	return func(_ bluetooth.Connection, offset int, value []byte) {
		if offset != 0 {
			slog.Warn("[BLE] ignoring offset write", "char", char, "offset", offset)
			return
		}
		s.mu.Lock()
		h := s.handler
		s.mu.Unlock()
		if h == nil {
			return
		}
		if err := h.WriteRequest(0, char, value); err != nil {
			slog.Warn("[BLE] write rejected", "char", char, "error", err)
			// The host stack already took the value; put the stored one back.
			if prev, rerr := h.ReadRequest(0, char); rerr == nil {
				if serr := s.SetValue(char, prev); serr != nil {
					slog.Warn("[BLE] failed to restore value", "char", char, "error", serr)
				}
			}
		}
	}
}

// tinygoFlags maps registry properties and permissions to tinygo flags.
func tinygoFlags(info registry.Info) bluetooth.CharacteristicPermissions {
	var flags bluetooth.CharacteristicPermissions
	if info.Properties.Has(registry.PropRead) && info.Permissions.Has(registry.PermReadable) {
		flags |= bluetooth.CharacteristicReadPermission
	}
	if info.Properties.Has(registry.PropWrite) && info.Permissions.Has(registry.PermWritable) {
		flags |= bluetooth.CharacteristicWritePermission
	}
	if info.Properties.Has(registry.PropNotify) {
		flags |= bluetooth.CharacteristicNotifyPermission
	}
	if info.Properties.Has(registry.PropIndicate) {
		flags |= bluetooth.CharacteristicIndicatePermission
	}
	return flags
}

func (s *TinyGoStack) StartAdvertising(adv Advertisement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.adv != nil {
		// Restarting an active advertisement fails on BlueZ.
		_ = s.adv.Stop()
	}
	a := s.adapter.DefaultAdvertisement()
	err := a.Configure(bluetooth.AdvertisementOptions{
		LocalName:    adv.LocalName,
		ServiceUUIDs: adv.ServiceUUIDs,
	})
	if err != nil {
		return stackErr("configure advertisement", err)
	}
	if err := a.Start(); err != nil {
		return stackErr("start advertisement", err)
	}
	s.adv = a
	return nil
}

func (s *TinyGoStack) StopAdvertising() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adv == nil {
		return nil
	}
	err := s.adv.Stop()
	s.adv = nil
	return stackErr("stop advertisement", err)
}

func (s *TinyGoStack) SetValue(char registry.Handle, value []byte) error {
	s.mu.Lock()
	c, ok := s.chars[char]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("ble: unknown characteristic %d", char)
	}
	_, err := c.Write(value)
	return stackErr("write characteristic", err)
}

// PushesOnSetValue is always true: Characteristic.Write notifies subscribers.
func (s *TinyGoStack) PushesOnSetValue() bool { return true }

func (s *TinyGoStack) Notify(conn tracker.ConnHandle, char registry.Handle, value []byte) error {
	return s.pushed(char)
}

func (s *TinyGoStack) Indicate(conn tracker.ConnHandle, char registry.Handle, value []byte) error {
	if err := s.pushed(char); err != nil {
		return err
	}
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		// Confirmations are handled inside the host stack.
		h.IndicateDone(conn, char, nil)
	}
	return nil
}

// pushed checks that char exists; SetValue already delivered the value.
func (s *TinyGoStack) pushed(char registry.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chars[char]; !ok {
		return fmt.Errorf("ble: unknown characteristic %d", char)
	}
	return nil
}

func (s *TinyGoStack) Disconnect(conn tracker.ConnHandle) error {
	// Peripheral-side disconnects are not exposed by tinygo-org/bluetooth.
	return ErrNotSupported
}

func (s *TinyGoStack) Close() error {
	return s.StopAdvertising()
}

// Compile-time check that TinyGoStack implements PushingStack.
var _ PushingStack = (*TinyGoStack)(nil)
