// Package peripheral implements the GATT peripheral state machine: it tracks
// connected centrals, answers read and write requests from the registry, and
// periodically pushes fresh values of live characteristics to every central.
package peripheral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/envsense/internal/ble"
	"github.com/chaz8081/envsense/internal/registry"
	"github.com/chaz8081/envsense/internal/shutdown"
	"github.com/chaz8081/envsense/internal/tracker"
)

var (
	ErrNotIdle    = errors.New("peripheral: already started")
	ErrNotRunning = errors.New("peripheral: not running")
)

// Options configures the peripheral behavior.
type Options struct {
	Advertisement  ble.Advertisement
	UpdateInterval time.Duration // period of the notify loop
	Notify         bool          // push updates as notifications
	Indicate       bool          // push updates as indications
	ReadTimeout    time.Duration // bound on a live value recomputation

	// Failed re-advertising is retried with exponential backoff.
	AdvertiseRetry    time.Duration
	AdvertiseRetryMax time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		UpdateInterval: time.Second,
		Notify:         true,
		ReadTimeout:    2 * time.Second,

		AdvertiseRetry:    time.Second,
		AdvertiseRetryMax: 30 * time.Second,
	}
}

// Peripheral is the GATT server core. It implements ble.Handler.
type Peripheral struct {
	stack ble.Stack
	reg   *registry.Registry
	conns *tracker.Tracker
	opts  Options

	// mu serializes stack events and state transitions.
	mu       sync.Mutex
	state    State
	retrying bool // an advertising retry loop is running

	stopped chan struct{}
	sig     shutdown.Signal // set by Run

	intervalMu sync.Mutex
	intervalCh chan time.Duration
}

// New creates a Peripheral serving reg over stack.
func New(stack ble.Stack, reg *registry.Registry, opts Options) *Peripheral {
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 2 * time.Second
	}
	if opts.AdvertiseRetry <= 0 {
		opts.AdvertiseRetry = time.Second
	}
	if opts.AdvertiseRetryMax < opts.AdvertiseRetry {
		opts.AdvertiseRetryMax = 30 * opts.AdvertiseRetry
	}
	return &Peripheral{
		stack:      stack,
		reg:        reg,
		conns:      tracker.New(),
		opts:       opts,
		intervalCh: make(chan time.Duration, 1),
		stopped:    make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (p *Peripheral) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Connections returns a snapshot of the connected centrals.
func (p *Peripheral) Connections() []tracker.ConnHandle {
	return p.conns.Snapshot()
}

// Start registers the GATT table with the stack and begins advertising.
func (p *Peripheral) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateIdle {
		return ErrNotIdle
	}
	if err := p.stack.Enable(); err != nil {
		return fmt.Errorf("peripheral: enable stack: %w", err)
	}
	p.stack.SetHandler(p)

	services := p.reg.Services()
	if err := p.stack.Register(services); err != nil {
		return fmt.Errorf("peripheral: register services: %w", err)
	}
	p.reg.Seal()

	// Seed the stack's value table with the registered values.
	for _, svc := range services {
		for _, c := range svc.Characteristics {
			value, err := p.reg.Value(c.Handle)
			if err != nil || value == nil {
				continue
			}
			if err := p.stack.SetValue(c.Handle, value); err != nil {
				slog.Warn("[GATT] failed to seed characteristic value", "char", c.UUID, "error", err)
			}
		}
	}

	if err := p.stack.StartAdvertising(p.opts.Advertisement); err != nil {
		return fmt.Errorf("peripheral: start advertising: %w", err)
	}
	p.state = StateAdvertising
	slog.Info("[GATT] advertising", "name", p.opts.Advertisement.LocalName, "services", len(services))
	return nil
}

// Run starts the peripheral if needed, runs the update loop, and blocks
// until sig is set. It then stops the peripheral.
func (p *Peripheral) Run(sig shutdown.Signal) error {
	if p.State() == StateIdle {
		if err := p.Start(); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.sig = sig
	p.mu.Unlock()

	ctx, cancel := shutdown.Context(context.Background(), sig)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.updateLoop(ctx, sig)
	}()

	sig.Wait()
	slog.Info("[GATT] stopping peripheral")
	wg.Wait()
	return p.Stop()
}

// SetUpdateInterval changes the period of the update loop. Non-positive
// intervals are ignored.
func (p *Peripheral) SetUpdateInterval(d time.Duration) {
	if d <= 0 {
		slog.Warn("[GATT] ignoring non-positive update interval", "interval", d)
		return
	}
	// Keep only the latest request. Only the update loop receives, so the
	// send after a drain never blocks while intervalMu is held.
	p.intervalMu.Lock()
	defer p.intervalMu.Unlock()
	select {
	case <-p.intervalCh:
	default:
	}
	p.intervalCh <- d
}

func (p *Peripheral) updateLoop(ctx context.Context, sig shutdown.Signal) {
	ticker := time.NewTicker(p.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sig.Done():
			return
		case d := <-p.intervalCh:
			slog.Info("[GATT] update interval changed", "interval", d)
			ticker.Reset(d)
		case <-ticker.C:
			if sig.Requested() {
				return
			}
			if err := p.Tick(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
				slog.Warn("[GATT] update failed", "error", err)
			}
		}
	}
}

// Tick refreshes every live characteristic and pushes the new values to all
// connected centrals when notify or indicate is enabled. A failed delivery
// to one central does not prevent delivery to the others; all failures are
// returned joined.
func (p *Peripheral) Tick(ctx context.Context) error {
	if !p.State().serving() {
		return ErrNotRunning
	}

	var errs []error
	for _, h := range p.reg.Live() {
		value, err := p.refresh(ctx, h)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := p.fanOut(ctx, h, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// halted reports whether pushes to centrals must stop. Shutdown counts as
// soon as it is requested, before Stop runs.
func (p *Peripheral) halted(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sig != nil && p.sig.Requested() {
		return true
	}
	return !p.state.serving()
}

// pushesOnSetValue reports whether SetValue also delivers to subscribers.
func (p *Peripheral) pushesOnSetValue() bool {
	ps, ok := p.stack.(ble.PushingStack)
	return ok && ps.PushesOnSetValue()
}

// refresh recomputes a live value and stores it in the registry and stack.
// On stacks that push on SetValue the stack copy is left alone when pushes
// are disabled or the peripheral is shutting down.
func (p *Peripheral) refresh(ctx context.Context, h registry.Handle) ([]byte, error) {
	readCtx, cancel := context.WithTimeout(ctx, p.opts.ReadTimeout)
	defer cancel()

	value, err := p.reg.Read(readCtx, h)
	if err != nil {
		return nil, fmt.Errorf("peripheral: refresh char %d: %w", h, err)
	}
	if err := p.reg.Update(h, value); err != nil {
		return nil, fmt.Errorf("peripheral: store char %d: %w", h, err)
	}
	if p.pushesOnSetValue() && (!p.pushEnabled(h) || p.halted(ctx)) {
		return value, nil
	}
	if err := p.stack.SetValue(h, value); err != nil {
		return nil, fmt.Errorf("peripheral: set char %d: %w", h, err)
	}
	return value, nil
}

// pushEnabled reports whether h is pushed as a notification or indication.
func (p *Peripheral) pushEnabled(h registry.Handle) bool {
	info, ok := p.reg.Info(h)
	if !ok {
		return false
	}
	return (p.opts.Notify && info.Properties.Has(registry.PropNotify)) ||
		(p.opts.Indicate && info.Properties.Has(registry.PropIndicate))
}

func (p *Peripheral) fanOut(ctx context.Context, h registry.Handle, value []byte) error {
	info, ok := p.reg.Info(h)
	if !ok {
		return fmt.Errorf("peripheral: fan-out: %w", registry.ErrUnknownHandle)
	}
	notify := p.opts.Notify && info.Properties.Has(registry.PropNotify)
	indicate := p.opts.Indicate && info.Properties.Has(registry.PropIndicate)
	if !notify && !indicate {
		return nil
	}

	var errs []error
	for _, conn := range p.conns.Snapshot() {
		if p.halted(ctx) {
			break
		}
		if notify {
			if err := p.stack.Notify(conn, h, value); err != nil {
				slog.Warn("[GATT] notify failed", "conn", conn, "char", info.UUID, "error", err)
				errs = append(errs, fmt.Errorf("notify conn %d: %w", conn, err))
			}
		}
		if indicate {
			if err := p.stack.Indicate(conn, h, value); err != nil {
				slog.Warn("[GATT] indicate failed", "conn", conn, "char", info.UUID, "error", err)
				errs = append(errs, fmt.Errorf("indicate conn %d: %w", conn, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Connected handles a central connecting.
func (p *Peripheral) Connected(conn tracker.ConnHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.state.serving() {
		return
	}
	if !p.conns.Connect(conn) {
		slog.Debug("[GATT] duplicate connect event", "conn", conn)
		return
	}
	p.state = StateConnected
	slog.Info("[GATT] central connected", "conn", conn, "connections", p.conns.Len())
}

// Disconnected handles a central disconnecting. Advertising restarts when
// no central is left connected.
func (p *Peripheral) Disconnected(conn tracker.ConnHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.state.serving() {
		return
	}
	removed, empty := p.conns.Disconnect(conn)
	if removed {
		slog.Info("[GATT] central disconnected", "conn", conn, "connections", p.conns.Len())
	}
	if !empty {
		return
	}

	p.state = StateAdvertising
	if p.retrying {
		return
	}
	if err := p.stack.StartAdvertising(p.opts.Advertisement); err != nil {
		slog.Error("[GATT] failed to restart advertising", "error", err)
		p.retrying = true
		go p.retryAdvertising()
		return
	}
	slog.Debug("[GATT] advertising restarted")
}

// ReadRequest answers a read of char.
func (p *Peripheral) ReadRequest(conn tracker.ConnHandle, char registry.Handle) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.ReadTimeout)
	defer cancel()

	value, err := p.reg.Read(ctx, char)
	if errors.Is(err, registry.ErrUnknownHandle) {
		return nil, err
	}
	if err != nil {
		slog.Warn("[GATT] read failed", "conn", conn, "char", char, "error", err)
		return nil, fmt.Errorf("%w: %v", ble.ErrUnavailable, err)
	}
	return value, nil
}

// WriteRequest stores a value written by a central.
func (p *Peripheral) WriteRequest(conn tracker.ConnHandle, char registry.Handle, value []byte) error {
	if len(value) > 0 && value[0] == magicByte {
		slog.Info("[GATT] magic byte received", "conn", conn, "char", char, "byte", fmt.Sprintf("0x%02x", magicByte))
	}
	if err := p.reg.Write(char, value); err != nil {
		slog.Warn("[GATT] write rejected", "conn", conn, "char", char, "error", err)
		return err
	}
	slog.Debug("[GATT] characteristic written", "conn", conn, "char", char, "value", fmt.Sprintf("%x", value))
	return nil
}

// IndicateDone records a central's confirmation of an indication.
func (p *Peripheral) IndicateDone(conn tracker.ConnHandle, char registry.Handle, err error) {
	if err != nil {
		slog.Warn("[GATT] indication not confirmed", "conn", conn, "char", char, "error", err)
		return
	}
	slog.Debug("[GATT] indication confirmed", "conn", conn, "char", char)
}

// Stop stops advertising, disconnects every central and releases the stack.
// Failures are logged and do not interrupt the shutdown; the first one is
// returned.
func (p *Peripheral) Stop() error {
	p.mu.Lock()
	if p.state == StateStopping || p.state == StateStopped {
		p.mu.Unlock()
		return nil
	}
	p.state = StateStopping
	close(p.stopped)
	p.mu.Unlock()

	var errs []error
	if err := p.stack.StopAdvertising(); err != nil {
		slog.Warn("[GATT] stop advertising failed", "error", err)
		errs = append(errs, err)
	}
	for _, conn := range p.conns.Clear() {
		err := p.stack.Disconnect(conn)
		switch {
		case err == nil:
		case errors.Is(err, ble.ErrNotSupported):
			// The host stack drops the link when the adapter is released.
			slog.Debug("[GATT] stack cannot disconnect centrals", "conn", conn)
		default:
			slog.Warn("[GATT] disconnect failed", "conn", conn, "error", err)
			errs = append(errs, err)
		}
	}
	if err := p.stack.Close(); err != nil {
		slog.Warn("[GATT] closing stack failed", "error", err)
		errs = append(errs, err)
	}

	p.mu.Lock()
	p.state = StateStopped
	p.mu.Unlock()
	slog.Info("[GATT] peripheral stopped")

	if len(errs) > 0 {
		return fmt.Errorf("peripheral: stop: %w", errs[0])
	}
	return nil
}

// Compile-time check that Peripheral handles stack events.
var _ ble.Handler = (*Peripheral)(nil)
