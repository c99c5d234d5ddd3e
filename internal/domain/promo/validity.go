package promo

import "time"

// Exhausted reports whether the global usage cap has been reached.
func (p *Policy) Exhausted() bool {
	return p.UsageLimit != nil && p.UsedCount >= *p.UsageLimit
}

// Expired reports whether now is past the end of the window.
func (p *Policy) Expired(now time.Time) bool {
	return now.After(p.ValidUntil)
}

// InWindow reports whether now lies in [ValidFrom, ValidUntil].
func (p *Policy) InWindow(now time.Time) bool {
	return !now.Before(p.ValidFrom) && !now.After(p.ValidUntil)
}

// IsUsable reports whether p can discount an order at now. The stored status
// is only a hint: expiry and exhaustion are always recomputed.
func IsUsable(p *Policy, now time.Time) bool {
	return p.Status == StatusActive && p.InWindow(now) && !p.Exhausted()
}

// EffectiveStatus returns the status p has at now, regardless of how stale
// the stored value is.
func EffectiveStatus(p *Policy, now time.Time) Status {
	switch {
	case p.Expired(now):
		return StatusExpired
	case p.Exhausted():
		return StatusExhausted
	case p.Status.Derived():
		// The triggering condition was lifted after the last write.
		return StatusActive
	default:
		return p.Status
	}
}
