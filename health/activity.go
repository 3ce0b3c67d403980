package health

import (
	"fmt"
	"time"
)

// FromActivity derives a stage status from the time of its last activity.
// A stage that has never been active is degraded, a stage whose last activity is older
// than staleAfter is degraded, and a recently active stage is healthy.
func FromActivity(component string, lastActivity time.Time, staleAfter time.Duration, now time.Time) Status {
	if lastActivity.IsZero() {
		return NewDegraded(component, "no activity yet")
	}

	idle := now.Sub(lastActivity)
	if staleAfter > 0 && idle > staleAfter {
		status := NewDegraded(component, fmt.Sprintf("no activity for %s", idle.Truncate(time.Millisecond)))
		status.Metrics = &Metrics{LastActivity: lastActivity}
		return status
	}

	status := NewHealthy(component, "active")
	status.Metrics = &Metrics{LastActivity: lastActivity}
	return status
}
