package realtime

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	placeholderDisplayName = "A patient"
	placeholderReason      = "Not specified"
	defaultLookupTimeout   = 5 * time.Second
)

// ErrPatientNotFound is returned by a PatientDirectory when the identifier
// does not resolve to a patient.
var ErrPatientNotFound = errors.New("realtime: patient not found")

// PatientName carries the fields the patient-lookup collaborator returns.
type PatientName struct {
	First string
	Last  string
	Full  string
}

// Display renders the best available human-readable name, or empty when the
// record carries none.
func (n PatientName) Display() string {
	if full := strings.TrimSpace(n.Full); full != "" {
		return full
	}
	joined := strings.TrimSpace(strings.TrimSpace(n.First) + " " + strings.TrimSpace(n.Last))
	return joined
}

// PatientDirectory resolves a patient identifier to a name. Implementations
// live outside this package; internal/lookup provides the HTTP one.
type PatientDirectory interface {
	LookupPatient(ctx context.Context, patientID string) (PatientName, error)
}

// nameSource is the tagged variant describing where a patient display name
// can be derived from in an inconsistent event payload. Exactly one variant
// matches any given payload.
type nameSource interface {
	isNameSource()
}

// nameFromPatientObject: payload carries a nested patient object.
type nameFromPatientObject struct{ name PatientName }

// nameFromFlatFields: payload carries flattened patient_* name fields.
type nameFromFlatFields struct{ name PatientName }

// nameFromFallbackID: only a patient identifier is present; an asynchronous
// lookup can enrich the event later.
type nameFromFallbackID struct{ patientID string }

// nameUnknown: the payload carries nothing usable.
type nameUnknown struct{}

func (nameFromPatientObject) isNameSource() {}
func (nameFromFlatFields) isNameSource()    {}
func (nameFromFallbackID) isNameSource()    {}
func (nameUnknown) isNameSource()           {}

// parseNameSource classifies the payload shape. Nested object fields win over
// flat fields, which win over a bare identifier.
func parseNameSource(payload map[string]any) nameSource {
	if patient, ok := payload["patient"].(map[string]any); ok {
		name := PatientName{
			First: stringField(patient, "first_name"),
			Last:  stringField(patient, "last_name"),
			Full:  stringField(patient, "full_name"),
		}
		if name.Display() != "" {
			return nameFromPatientObject{name: name}
		}
	}

	flat := PatientName{
		First: stringField(payload, "patient_first_name"),
		Last:  stringField(payload, "patient_last_name"),
		Full:  stringField(payload, "patient_name"),
	}
	if flat.Display() != "" {
		return nameFromFlatFields{name: flat}
	}

	if patientID := stringField(payload, "patient_id"); patientID != "" {
		return nameFromFallbackID{patientID: patientID}
	}

	return nameUnknown{}
}

func stringField(payload map[string]any, key string) string {
	value, ok := payload[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

// NormalizerConfig configures the event normalizer.
type NormalizerConfig struct {
	Directory     PatientDirectory
	LookupTimeout time.Duration
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Normalizer turns raw transport events into canonical events, enriching
// missing display fields from the patient directory. Enrichment is per-event
// and concurrent; a lookup in flight never blocks delivery of other events.
type Normalizer struct {
	directory     PatientDirectory
	lookupTimeout time.Duration
	clock         func() time.Time
	logger        *zap.Logger
}

// NewNormalizer constructs a Normalizer.
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		directory:     cfg.Directory,
		lookupTimeout: timeout,
		clock:         clock,
		logger:        logger,
	}
}

// Normalize classifies and enriches a raw event, handing each resulting
// canonical event to deliver. An event whose name can only come from a
// patient identifier is delivered immediately with a placeholder and then
// re-delivered once the asynchronous lookup resolves. Returns false when the
// wire type is unrecognized; such events are dropped with a log entry and
// never crash the pipeline.
func (n *Normalizer) Normalize(raw RawEvent, deliver func(Event)) bool {
	kind, ok := kindForWireType(raw.Type)
	if !ok {
		n.logger.Warn("dropping unrecognized event type", zap.String("type", raw.Type))
		return false
	}

	event := Event{
		Kind:         kind,
		QueueEntryID: stringField(raw.Payload, "queue_entry_id"),
		Reason:       placeholderReason,
		Timestamp:    n.eventTime(raw.Payload),
	}
	if reason := stringField(raw.Payload, "reason"); reason != "" {
		event.Reason = reason
	}

	switch source := parseNameSource(raw.Payload).(type) {
	case nameFromPatientObject:
		event.DisplayName = source.name.Display()
		deliver(event)
	case nameFromFlatFields:
		event.DisplayName = source.name.Display()
		deliver(event)
	case nameFromFallbackID:
		event.DisplayName = placeholderDisplayName
		deliver(event)
		if n.directory != nil {
			go n.enrich(source.patientID, event, deliver)
		}
	case nameUnknown:
		event.DisplayName = placeholderDisplayName
		deliver(event)
	}
	return true
}

// enrich resolves the patient name and re-delivers the event. Lookup failures
// mean no enrichment is available; they are logged, never surfaced.
func (n *Normalizer) enrich(patientID string, event Event, deliver func(Event)) {
	ctx, cancel := context.WithTimeout(context.Background(), n.lookupTimeout)
	defer cancel()

	name, err := n.directory.LookupPatient(ctx, patientID)
	if err != nil {
		n.logger.Info("patient lookup failed, keeping placeholder name",
			zap.String("patient_id", patientID), zap.Error(err))
		return
	}
	display := name.Display()
	if display == "" {
		return
	}
	event.DisplayName = display
	deliver(event)
}

func (n *Normalizer) eventTime(payload map[string]any) time.Time {
	if stamp := stringField(payload, "timestamp"); stamp != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, stamp); err == nil {
			return parsed.UTC()
		}
	}
	return n.clock().UTC()
}
