// Package alerting evaluates tenant alert rules against device telemetry,
// drives the alert instance lifecycle and dispatches notifications.
package alerting

// equalityEpsilon is the tolerance for equal and not_equal comparisons.
const equalityEpsilon = 1e-4

// Resolution reasons recorded on resolved instances.
const (
	ReasonAutoResolved   = "Automatically resolved - conditions no longer met"
	ReasonManualResolved = "Manually resolved"
)

// Notification outcome labels.
const (
	statusSent    = "sent"
	statusFailed  = "failed"
	statusSkipped = "skipped"
)
