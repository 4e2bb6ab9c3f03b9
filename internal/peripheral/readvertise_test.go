package peripheral

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	delays := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second, // still capped
	}

	for i, want := range delays {
		got := backoffDelay(i, time.Second, 30*time.Second)
		if got != want {
			t.Errorf("backoffDelay(%d) = %v, want %v", i, got, want)
		}
	}
	if got := backoffDelay(200, time.Second, 30*time.Second); got != 30*time.Second {
		t.Errorf("backoffDelay(200) = %v, want cap", got)
	}
}

func TestFailedReadvertiseIsRetried(t *testing.T) {
	opts := DefaultOptions()
	opts.AdvertiseRetry = time.Millisecond
	opts.AdvertiseRetryMax = 5 * time.Millisecond
	p, st, _, _ := newTestPeripheral(t, opts)
	p.Connected(1)

	st.mu.Lock()
	st.advErr = errRadio
	st.mu.Unlock()
	p.Disconnected(1)

	// Let a few retries fail, then let the stack recover.
	deadline := time.Now().Add(2 * time.Second)
	for st.advertiseCount() < 4 {
		if time.Now().After(deadline) {
			t.Fatal("advertising was not retried")
		}
		time.Sleep(time.Millisecond)
	}
	st.mu.Lock()
	st.advErr = nil
	st.mu.Unlock()

	for {
		p.mu.Lock()
		retrying := p.retrying
		p.mu.Unlock()
		if !retrying {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("retry loop did not finish after the stack recovered")
		}
		time.Sleep(time.Millisecond)
	}

	n := st.advertiseCount()
	time.Sleep(20 * time.Millisecond)
	if st.advertiseCount() != n {
		t.Error("advertising kept being restarted after success")
	}
}

func TestReadvertiseRetryStopsOnShutdown(t *testing.T) {
	opts := DefaultOptions()
	opts.AdvertiseRetry = time.Hour
	opts.AdvertiseRetryMax = time.Hour
	p, st, _, _ := newTestPeripheral(t, opts)
	p.Connected(1)

	st.mu.Lock()
	st.advErr = errRadio
	st.mu.Unlock()
	p.Disconnected(1)

	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		p.mu.Lock()
		retrying := p.retrying
		p.mu.Unlock()
		if !retrying {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("retry loop did not observe shutdown")
		}
		time.Sleep(time.Millisecond)
	}
}
