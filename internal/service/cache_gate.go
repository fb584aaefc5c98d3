package service

import "time"

// IsDue reports whether a source should be polled. A source that never produced
// a quote is always due; otherwise it is due once now reaches
// last + cacheLifetime - margin.
func IsDue(last *time.Time, cacheLifetime, margin time.Duration, now time.Time) bool {
	if last == nil {
		return true
	}
	return !now.Before(last.Add(cacheLifetime - margin))
}
