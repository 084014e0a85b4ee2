package scheduler

import "time"

// MaintenancePayload is the EventBridge invocation payload shared by the
// cron-triggered jobs. All fields are optional; an empty payload means
// "run now with defaults".
type MaintenancePayload struct {
	// ReferenceTime overrides the wall clock for the run. Used for
	// deterministic testing and for backfilling a missed trigger.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// At returns the effective reference time for a run.
func (p MaintenancePayload) At(fallback time.Time) time.Time {
	if p.ReferenceTime != nil && !p.ReferenceTime.IsZero() {
		return p.ReferenceTime.UTC()
	}
	return fallback
}
