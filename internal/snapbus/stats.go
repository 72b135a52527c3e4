package snapbus

import "sort"

// Stats contains global and per-subscriber metrics.
type Stats struct {
	// TotalPublished is the number of Publish calls on an open bus
	TotalPublished uint64 `json:"total_published"`
	// TotalSent is the sum of values delivered to all subscribers
	TotalSent uint64 `json:"total_sent"`
	// TotalDropped is the sum of values dropped by DropNew subscribers
	TotalDropped uint64 `json:"total_dropped"`
	// Subscribers contains the per-subscriber breakdown
	Subscribers map[string]SubscriberStats `json:"subscribers"`
}

// SubscriberStats tracks metrics for a single subscriber.
type SubscriberStats struct {
	Policy string `json:"policy"`
	// Sent counts values handed to the subscriber
	Sent uint64 `json:"sent"`
	// Dropped counts values lost to a full channel (DropNew only)
	Dropped uint64 `json:"dropped"`
	// Overwritten counts values replaced before they were read (DropOld only)
	Overwritten uint64 `json:"overwritten"`
}

// Stats returns a snapshot. It keeps working after Close.
func (b *Bus[T]) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := Stats{
		TotalPublished: b.totalPublished.Load(),
		Subscribers:    make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, sub := range b.subscribers {
		s := SubscriberStats{
			Policy:      sub.policy.String(),
			Sent:        sub.sent.Load(),
			Dropped:     sub.dropped.Load(),
			Overwritten: sub.overwritten.Load(),
		}
		out.TotalSent += s.Sent
		out.TotalDropped += s.Dropped
		out.Subscribers[id] = s
	}
	return out
}

// DropRate returns Dropped / (Sent + Dropped), or 0 with no activity.
func (s SubscriberStats) DropRate() float64 {
	total := s.Sent + s.Dropped
	if total == 0 {
		return 0
	}
	return float64(s.Dropped) / float64(total)
}

// Health classifies a subscriber by its drop rate.
type Health string

const (
	HealthUnknown   Health = "unknown"   // not found or no activity
	HealthHealthy   Health = "healthy"   // < 50% dropped
	HealthDegraded  Health = "degraded"  // 50-90% dropped
	HealthSaturated Health = "saturated" // >= 90% dropped
)

// Health reports the health of one subscriber.
func (b *Bus[T]) Health(id string) Health {
	s, ok := b.Stats().Subscribers[id]
	if !ok {
		return HealthUnknown
	}
	return classify(s)
}

// Unhealthy lists degraded or saturated subscribers, sorted by id.
func (b *Bus[T]) Unhealthy() []string {
	var out []string
	for id, s := range b.Stats().Subscribers {
		if h := classify(s); h == HealthDegraded || h == HealthSaturated {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func classify(s SubscriberStats) Health {
	if s.Sent+s.Dropped == 0 {
		return HealthUnknown
	}
	switch rate := s.DropRate(); {
	case rate >= 0.9:
		return HealthSaturated
	case rate >= 0.5:
		return HealthDegraded
	default:
		return HealthHealthy
	}
}
