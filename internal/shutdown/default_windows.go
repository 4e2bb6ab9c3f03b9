package shutdown

// New returns the platform's Signal implementation. WinRT callbacks arrive
// on OS threads, so the serving goroutine blocks on a latch.
func New() Signal { return NewLatch() }
