// Package alerting provides notification capabilities for the execution
// engine.
package alerting

import (
	"context"
	"fmt"
)

// Severity represents the alert severity level.
type Severity int

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is for warning messages.
	SeverityWarning
	// SeverityHigh is for high priority alerts.
	SeverityHigh
	// SeverityCritical is reserved for data-integrity events requiring
	// immediate manual attention.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Alerter defines the interface for sending alerts.
type Alerter interface {
	// Alert sends an alert with the given severity and message.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	// Name returns the name of the alerter.
	Name() string
}

// FormatFields converts variadic key/value fields to a formatted string.
func FormatFields(fields ...any) string {
	if len(fields) == 0 {
		return ""
	}

	result := ""
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		value := fields[i+1]
		if result != "" {
			result += "\n"
		}
		result += fmt.Sprintf("• %s: %v", key, value)
	}
	return result
}

// AlertEvent represents a pre-defined alert event type.
type AlertEvent string

const (
	// EventOrderRejected is sent when the broker terminally rejects an order.
	EventOrderRejected AlertEvent = "order_rejected"
	// EventLedgerInconsistent is sent when a ledger write fails after the
	// broker has already accepted the order.
	EventLedgerInconsistent AlertEvent = "ledger_inconsistent"
	// EventUnprotectedEntry is sent when an accepted entry could not be
	// cancelled after its bracket legs failed.
	EventUnprotectedEntry AlertEvent = "unprotected_entry"
	// EventBatchCompleted is sent with the batch summary.
	EventBatchCompleted AlertEvent = "batch_completed"
	// EventReconcileCompleted is sent with the reconciliation summary.
	EventReconcileCompleted AlertEvent = "reconcile_completed"
	// EventPhaseTimeout is sent when a phase fill-wait timed out with
	// orders still open.
	EventPhaseTimeout AlertEvent = "phase_timeout"
)

// EventSeverity returns the default severity for an event.
func EventSeverity(event AlertEvent) Severity {
	switch event {
	case EventLedgerInconsistent, EventUnprotectedEntry:
		return SeverityCritical
	case EventOrderRejected, EventPhaseTimeout:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
