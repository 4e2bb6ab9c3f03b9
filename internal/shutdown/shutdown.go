// Package shutdown provides the one-way signal that stops the peripheral.
//
// Two implementations are provided: Channel, a close-once channel suited to
// goroutines that select on several events, and Latch, a condition-variable
// latch for callers that block in place. New returns the one chosen for the
// host platform at build time.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
)

// Signal is set once and never cleared.
type Signal interface {
	// Request sets the signal. Calling it again has no effect.
	Request()
	// Done returns a channel closed once the signal is set.
	Done() <-chan struct{}
	// Wait blocks until the signal is set.
	Wait()
	// Requested reports whether the signal is set.
	Requested() bool
}

// Channel is a Signal backed by a channel closed exactly once.
type Channel struct {
	once sync.Once
	done chan struct{}
}

// NewChannel creates an unset Channel.
func NewChannel() *Channel {
	return &Channel{done: make(chan struct{})}
}

func (c *Channel) Request()              { c.once.Do(func() { close(c.done) }) }
func (c *Channel) Done() <-chan struct{} { return c.done }
func (c *Channel) Wait()                 { <-c.done }

func (c *Channel) Requested() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Latch is a Signal whose Wait parks on a condition variable.
type Latch struct {
	mu   sync.Mutex
	cond *sync.Cond
	set  bool
	done chan struct{}
}

// NewLatch creates an unset Latch.
func NewLatch() *Latch {
	l := &Latch{done: make(chan struct{})}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *Latch) Request() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.set {
		return
	}
	l.set = true
	close(l.done)
	l.cond.Broadcast()
}

func (l *Latch) Wait() {
	l.mu.Lock()
	for !l.set {
		l.cond.Wait()
	}
	l.mu.Unlock()
}

func (l *Latch) Done() <-chan struct{} { return l.done }

func (l *Latch) Requested() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.set
}

// Notify requests shutdown when any of the given OS signals arrives. The
// returned function stops the relay.
func Notify(s Signal, sigs ...os.Signal) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	quit := make(chan struct{})
	go func() {
		select {
		case sig := <-ch:
			slog.Info("[SHUTDOWN] received signal, shutting down", "signal", sig)
			s.Request()
		case <-quit:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(quit)
		})
	}
}

// Context returns a context cancelled when s is set or parent is done.
func Context(parent context.Context, s Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-s.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
