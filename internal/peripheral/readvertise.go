package peripheral

import (
	"log/slog"
	"time"
)

// backoffDelay returns the retry delay for attempt n: base doubled per
// attempt, capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt > 30 {
		return max
	}
	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}

// retryAdvertising restarts advertising with exponential backoff after a
// failed re-advertise. It gives up once a central connects or the
// peripheral stops.
func (p *Peripheral) retryAdvertising() {
	for attempt := 0; ; attempt++ {
		delay := backoffDelay(attempt, p.opts.AdvertiseRetry, p.opts.AdvertiseRetryMax)
		slog.Info("[GATT] advertising retry backoff", "attempt", attempt+1, "delay", delay)

		select {
		case <-p.stopped:
			p.endRetry()
			return
		case <-time.After(delay):
		}

		p.mu.Lock()
		if p.state != StateAdvertising || p.conns.Len() > 0 {
			p.retrying = false
			p.mu.Unlock()
			return
		}
		err := p.stack.StartAdvertising(p.opts.Advertisement)
		if err == nil {
			p.retrying = false
			p.mu.Unlock()
			slog.Info("[GATT] advertising restarted", "attempt", attempt+1)
			return
		}
		p.mu.Unlock()
		slog.Warn("[GATT] advertising retry failed", "error", err, "attempt", attempt+1)
	}
}

func (p *Peripheral) endRetry() {
	p.mu.Lock()
	p.retrying = false
	p.mu.Unlock()
}
