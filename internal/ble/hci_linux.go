package ble

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/envsense/internal/ble/protocol"
	"github.com/chaz8081/envsense/internal/registry"
	"github.com/chaz8081/envsense/internal/tracker"
	"github.com/paypal/gatt"
	"tinygo.org/x/bluetooth"
)

// HCIStack drives a Linux HCI socket directly through paypal/gatt. BlueZ
// must not be holding the adapter.
//
// Unlike TinyGoStack, every read request reaches the Handler, so live
// characteristics are recomputed per read, and notifications are addressed
// to a single central.
type HCIStack struct {
	opts Options
	dev  gatt.Device

	mu        sync.Mutex
	handler   Handler
	conns     map[string]tracker.ConnHandle // keyed by central ID
	centrals  map[tracker.ConnHandle]gatt.Central
	notifiers map[subscription]gatt.Notifier
	next      tracker.ConnHandle

	powered   chan struct{}
	powerOnce sync.Once
}

type subscription struct {
	conn tracker.ConnHandle
	char registry.Handle
}

// NewHCIStack creates an HCI stack. The device is opened by Enable.
func NewHCIStack(opts Options) (*HCIStack, error) {
	if opts.EnableTimeout <= 0 {
		opts.EnableTimeout = 10 * time.Second
	}
	return &HCIStack{
		opts:      opts,
		conns:     make(map[string]tracker.ConnHandle),
		centrals:  make(map[tracker.ConnHandle]gatt.Central),
		notifiers: make(map[subscription]gatt.Notifier),
		powered:   make(chan struct{}),
	}, nil
}

func (s *HCIStack) Enable() error {
	dev, err := gatt.NewDevice(
		gatt.LnxDeviceID(s.opts.DeviceID, true),
		gatt.LnxMaxConnections(4),
	)
	if err != nil {
		return stackErr("open hci device", err)
	}
	s.dev = dev

	dev.Handle(
		gatt.CentralConnected(s.onConnect),
		gatt.CentralDisconnected(s.onDisconnect),
	)
	err = dev.Init(func(_ gatt.Device, st gatt.State) {
		slog.Debug("[BLE] hci state changed", "state", st)
		if st == gatt.StatePoweredOn {
			s.powerOnce.Do(func() { close(s.powered) })
		}
	})
	if err != nil {
		return stackErr("init hci device", err)
	}

	select {
	case <-s.powered:
		return nil
	case <-time.After(s.opts.EnableTimeout):
		return stackErr("enable adapter", fmt.Errorf("not powered on after %s", s.opts.EnableTimeout))
	}
}

func (s *HCIStack) onConnect(c gatt.Central) {
	s.mu.Lock()
	conn, ok := s.conns[c.ID()]
	if !ok {
		s.next++
		conn = s.next
		s.conns[c.ID()] = conn
		s.centrals[conn] = c
	}
	h := s.handler
	s.mu.Unlock()

	if h != nil {
		h.Connected(conn)
	}
}

func (s *HCIStack) onDisconnect(c gatt.Central) {
	s.mu.Lock()
	conn, ok := s.conns[c.ID()]
	if ok {
		delete(s.conns, c.ID())
		delete(s.centrals, conn)
		for sub := range s.notifiers {
			if sub.conn == conn {
				delete(s.notifiers, sub)
			}
		}
	}
	h := s.handler
	s.mu.Unlock()

	if ok && h != nil {
		h.Disconnected(conn)
	}
}

func (s *HCIStack) connOf(c gatt.Central) tracker.ConnHandle {
	if c == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[c.ID()]
}

func (s *HCIStack) currentHandler() Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

func (s *HCIStack) SetHandler(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *HCIStack) Register(services []registry.Service) error {
	if s.dev == nil {
		return stackErr("register services", fmt.Errorf("device not enabled"))
	}
	for _, svc := range services {
		gs := gatt.NewService(gattUUID(svc.UUID))
		for _, info := range svc.Characteristics {
			c := gs.AddCharacteristic(gattUUID(info.UUID))
			if info.Properties.Has(registry.PropRead) {
				c.HandleReadFunc(s.serveRead(info.Handle))
			}
			if info.Properties.Has(registry.PropWrite) && info.Permissions.Has(registry.PermWritable) {
				c.HandleWriteFunc(s.serveWrite(info.Handle))
			}
			if info.Properties.Has(registry.PropNotify) {
				c.HandleNotifyFunc(s.serveNotify(info.Handle))
			}
		}
		if err := s.dev.AddService(gs); err != nil {
			return stackErr(fmt.Sprintf("add service %s", svc.UUID), err)
		}
	}
	return nil
}

func (s *HCIStack) serveRead(char registry.Handle) func(gatt.ResponseWriter, *gatt.ReadRequest) {
	return func(rsp gatt.ResponseWriter, req *gatt.ReadRequest) {
		h := s.currentHandler()
		if h == nil {
			rsp.SetStatus(gatt.StatusUnexpectedError)
			return
		}
		value, err := h.ReadRequest(s.connOf(req.Central), char)
		if err != nil {
			rsp.SetStatus(gatt.StatusUnexpectedError)
			return
		}
		out, err := protocol.ReadWindow(value, req.Offset, req.Cap)
		if err != nil {
			rsp.SetStatus(gatt.StatusInvalidOffset)
			return
		}
		if _, err := rsp.Write(out); err != nil {
			slog.Warn("[BLE] read response failed", "char", char, "error", err)
		}
	}
}

func (s *HCIStack) serveWrite(char registry.Handle) func(gatt.Request, []byte) byte {
	return func(r gatt.Request, data []byte) byte {
		h := s.currentHandler()
		if h == nil {
			return gatt.StatusUnexpectedError
		}
		return writeStatus(h.WriteRequest(s.connOf(r.Central), char, data))
	}
}

// ATT error codes paypal/gatt does not export.
const (
	attEcodeWriteNotPermitted = 0x03
	attEcodeInvalAttrValueLen = 0x0d
)

// writeStatus maps a write result to its ATT status.
func writeStatus(err error) byte {
	switch {
	case err == nil:
		return gatt.StatusSuccess
	case errors.Is(err, registry.ErrInvalidValue):
		return attEcodeInvalAttrValueLen
	case errors.Is(err, registry.ErrNotWritable):
		return attEcodeWriteNotPermitted
	default:
		return gatt.StatusUnexpectedError
	}
}

// serveNotify keeps the notifier a central hands us when it subscribes.
func (s *HCIStack) serveNotify(char registry.Handle) func(gatt.Request, gatt.Notifier) {
	return func(r gatt.Request, n gatt.Notifier) {
		conn := s.connOf(r.Central)
		s.mu.Lock()
		s.notifiers[subscription{conn, char}] = n
		s.mu.Unlock()
		slog.Debug("[BLE] central subscribed", "conn", conn, "char", char)
	}
}

func (s *HCIStack) StartAdvertising(adv Advertisement) error {
	if s.dev == nil {
		return stackErr("start advertising", fmt.Errorf("device not enabled"))
	}
	uuids := make([]gatt.UUID, 0, len(adv.ServiceUUIDs))
	for _, u := range adv.ServiceUUIDs {
		uuids = append(uuids, gattUUID(u))
	}
	return stackErr("start advertising", s.dev.AdvertiseNameAndServices(adv.LocalName, uuids))
}

func (s *HCIStack) StopAdvertising() error {
	if s.dev == nil {
		return nil
	}
	return stackErr("stop advertising", s.dev.StopAdvertising())
}

// SetValue is a no-op: reads are answered by the Handler.
func (s *HCIStack) SetValue(char registry.Handle, value []byte) error {
	return nil
}

// Notify sends value to conn if it subscribed to char. Centrals that never
// subscribed are skipped without error.
func (s *HCIStack) Notify(conn tracker.ConnHandle, char registry.Handle, value []byte) error {
	sub := subscription{conn, char}
	s.mu.Lock()
	n, ok := s.notifiers[sub]
	if ok && n.Done() {
		delete(s.notifiers, sub)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	if c := n.Cap(); c > 0 && len(value) > c {
		value = value[:c]
	}
	_, err := n.Write(value)
	return stackErr(fmt.Sprintf("notify conn %d", conn), err)
}

// Indicate is not offered by paypal/gatt.
func (s *HCIStack) Indicate(conn tracker.ConnHandle, char registry.Handle, value []byte) error {
	return ErrNotSupported
}

func (s *HCIStack) Disconnect(conn tracker.ConnHandle) error {
	s.mu.Lock()
	c, ok := s.centrals[conn]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return stackErr(fmt.Sprintf("disconnect conn %d", conn), c.Close())
}

func (s *HCIStack) Close() error {
	if s.dev == nil {
		return nil
	}
	err := s.dev.StopAdvertising()
	if rerr := s.dev.RemoveAllServices(); err == nil {
		err = rerr
	}
	return stackErr("close hci device", err)
}

// gattUUID converts a tinygo UUID to its paypal/gatt form, keeping
// SIG-assigned UUIDs in their 16-bit form.
func gattUUID(u bluetooth.UUID) gatt.UUID {
	if u.Is16Bit() {
		return gatt.UUID16(uint16(u[3]))
	}
	return gatt.MustParseUUID(u.String())
}

// Compile-time check that HCIStack implements Stack.
var _ Stack = (*HCIStack)(nil)
