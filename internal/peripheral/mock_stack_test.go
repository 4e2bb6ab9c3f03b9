package peripheral

import (
	"errors"
	"sync"

	"github.com/chaz8081/envsense/internal/ble"
	"github.com/chaz8081/envsense/internal/registry"
	"github.com/chaz8081/envsense/internal/tracker"
)

type sent struct {
	conn  tracker.ConnHandle
	char  registry.Handle
	value []byte
}

// mockStack records every call the core makes on the radio stack.
type mockStack struct {
	mu sync.Mutex

	handler    ble.Handler
	registered []registry.Service
	values     map[registry.Handle][]byte

	enableErr   error
	registerErr error
	advErr      error
	closeErr    error
	failNotify  map[tracker.ConnHandle]error
	failDisconn map[tracker.ConnHandle]error

	advertised   int
	stoppedAdv   int
	notified     []sent
	indicated    []sent
	disconnected []tracker.ConnHandle
	closed       int
}

func newMockStack() *mockStack {
	return &mockStack{
		values:      make(map[registry.Handle][]byte),
		failNotify:  make(map[tracker.ConnHandle]error),
		failDisconn: make(map[tracker.ConnHandle]error),
	}
}

func (m *mockStack) Enable() error { return m.enableErr }

func (m *mockStack) SetHandler(h ble.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

func (m *mockStack) Register(services []registry.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registerErr != nil {
		return m.registerErr
	}
	m.registered = services
	return nil
}

func (m *mockStack) StartAdvertising(ble.Advertisement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advertised++
	return m.advErr
}

func (m *mockStack) StopAdvertising() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stoppedAdv++
	return nil
}

func (m *mockStack) SetValue(char registry.Handle, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[char] = append([]byte(nil), value...)
	return nil
}

func (m *mockStack) Notify(conn tracker.ConnHandle, char registry.Handle, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNotify[conn]; err != nil {
		return err
	}
	m.notified = append(m.notified, sent{conn, char, append([]byte(nil), value...)})
	return nil
}

func (m *mockStack) Indicate(conn tracker.ConnHandle, char registry.Handle, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indicated = append(m.indicated, sent{conn, char, append([]byte(nil), value...)})
	return nil
}

func (m *mockStack) Disconnect(conn tracker.ConnHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = append(m.disconnected, conn)
	return m.failDisconn[conn]
}

func (m *mockStack) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return m.closeErr
}

func (m *mockStack) advertiseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.advertised
}

func (m *mockStack) notifications() []sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sent(nil), m.notified...)
}

var errRadio = errors.New("radio: link lost")
