package shutdown

// New returns the platform's Signal implementation. The CoreBluetooth
// backend delivers events on its own dispatch threads, so the serving
// goroutine blocks on a latch.
func New() Signal { return NewLatch() }
