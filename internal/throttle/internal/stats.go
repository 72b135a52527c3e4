package internal

import "sync/atomic"

// Stats returns an operational snapshot (implements Throttle.Stats).
// Counters are read atomically; the snapshot may be slightly stale.
func (t *throttle) Stats() Stats {
	t.lastMu.Lock()
	lastAt, lastLatency := t.lastAt, t.lastLatency
	t.lastMu.Unlock()

	return Stats{
		Published:         atomic.LoadUint64(&t.published),
		IdleDrops:         atomic.LoadUint64(&t.idleDrops),
		RateDrops:         atomic.LoadUint64(&t.rateDrops),
		InboxDrops:        atomic.LoadUint64(&t.inboxDrops),
		Decodes:           atomic.LoadUint64(&t.decodes),
		Hits:              atomic.LoadUint64(&t.hits),
		Duplicates:        atomic.LoadUint64(&t.duplicates),
		Misses:            atomic.LoadUint64(&t.misses),
		Failures:          atomic.LoadUint64(&t.failures),
		Stale:             atomic.LoadUint64(&t.stale),
		InFlight:          atomic.LoadInt64(&t.inFlight),
		MaxInFlight:       atomic.LoadInt64(&t.maxInFlight),
		MaxFPS:            float64(t.limiter.Limit()),
		LastDecodeAt:      lastAt,
		LastDecodeLatency: lastLatency,
	}
}
