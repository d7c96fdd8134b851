package realtime

import (
	"time"
)

// Kind classifies a canonical queue event.
type Kind string

const (
	KindPatientOnHold    Kind = "patient_on_hold"
	KindPatientAvailable Kind = "patient_available"
	KindPatientAssigned  Kind = "patient_assigned"
	KindPatientResumed   Kind = "patient_resumed"
	KindPatientReady     Kind = "patient_ready"
	KindQueueUpdated     Kind = "queue_updated"
	KindQueueReordered   Kind = "queue_reordered"
	KindPatientCalled    Kind = "patient_called"
	KindPatientCheckedIn Kind = "patient_checked_in"
)

// Kinds lists every recognized canonical kind.
var Kinds = []Kind{
	KindPatientOnHold,
	KindPatientAvailable,
	KindPatientAssigned,
	KindPatientResumed,
	KindPatientReady,
	KindQueueUpdated,
	KindQueueReordered,
	KindPatientCalled,
	KindPatientCheckedIn,
}

// Wire-level event type names pushed by the queue server. The names are an
// internal contract with internal/hub; clients never expose them.
const (
	WireHoldAdded      = "patient_hold_added"
	WireHoldRemoved    = "patient_hold_removed"
	WireResumed        = "patient_resumed"
	WireMarkedReady    = "patient_marked_ready"
	WireAssigned       = "patient_assigned"
	WireAvailable      = "patient_available"
	WireCheckedIn      = "patient_checked_in"
	WireQueueUpdated   = "queue_updated"
	WireQueueReordered = "queue_reordered"
	WirePatientCalled  = "patient_called"
)

// RawEvent is an inbound transport message before normalization. It is
// transient and never retained past the normalization step.
type RawEvent struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// Event is the canonical, enriched representation of a server-pushed
// occurrence. DisplayName and Reason are never empty once constructed.
type Event struct {
	Kind         Kind
	QueueEntryID string
	DisplayName  string
	Reason       string
	Timestamp    time.Time
}

// kindForWireType maps a transport event type onto its canonical kind.
// Returns false for an unrecognized type; such events are dropped with a log
// entry by the normalizer.
func kindForWireType(wireType string) (Kind, bool) {
	switch wireType {
	case WireHoldAdded:
		return KindPatientOnHold, true
	case WireHoldRemoved:
		// Removal from the hold queue has no dedicated canonical kind; the
		// listings it affects are covered by the generic update.
		return KindQueueUpdated, true
	case WireResumed:
		return KindPatientResumed, true
	case WireMarkedReady:
		return KindPatientReady, true
	case WireAssigned:
		return KindPatientAssigned, true
	case WireAvailable:
		return KindPatientAvailable, true
	case WireCheckedIn:
		return KindPatientCheckedIn, true
	case WireQueueUpdated:
		return KindQueueUpdated, true
	case WireQueueReordered:
		return KindQueueReordered, true
	case WirePatientCalled:
		return KindPatientCalled, true
	default:
		return "", false
	}
}
