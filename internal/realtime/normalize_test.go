package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type stubDirectory struct {
	mu      sync.Mutex
	names   map[string]PatientName
	err     error
	lookups int
}

func (d *stubDirectory) LookupPatient(_ context.Context, patientID string) (PatientName, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups++
	if d.err != nil {
		return PatientName{}, d.err
	}
	name, ok := d.names[patientID]
	if !ok {
		return PatientName{}, ErrPatientNotFound
	}
	return name, nil
}

func collectEvents() (func(Event), chan Event) {
	events := make(chan Event, 8)
	return func(event Event) { events <- event }, events
}

func TestParseNameSourceVariants(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		expect  string
	}{
		{
			name: "nested-patient-object",
			payload: map[string]any{
				"patient": map[string]any{"first_name": "Ana", "last_name": "Silva"},
			},
			expect: "object",
		},
		{
			name: "full-name-wins-inside-object",
			payload: map[string]any{
				"patient": map[string]any{"full_name": "Ana Maria Silva"},
			},
			expect: "object",
		},
		{
			name:    "flat-fields",
			payload: map[string]any{"patient_first_name": "Luis", "patient_last_name": "Gomez"},
			expect:  "flat",
		},
		{
			name:    "fallback-identifier",
			payload: map[string]any{"patient_id": "p-77"},
			expect:  "fallback",
		},
		{
			name:    "nothing-usable",
			payload: map[string]any{"queue_entry_id": "Q1"},
			expect:  "unknown",
		},
		{
			name: "empty-object-falls-through-to-id",
			payload: map[string]any{
				"patient":    map[string]any{"first_name": "  "},
				"patient_id": "p-12",
			},
			expect: "fallback",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			switch parseNameSource(tt.payload).(type) {
			case nameFromPatientObject:
				got = "object"
			case nameFromFlatFields:
				got = "flat"
			case nameFromFallbackID:
				got = "fallback"
			case nameUnknown:
				got = "unknown"
			}
			if got != tt.expect {
				t.Fatalf("expected %s variant, got %s", tt.expect, got)
			}
		})
	}
}

func TestNormalizeBuildsCanonicalEvent(t *testing.T) {
	normalizer := NewNormalizer(NormalizerConfig{
		Clock: newFakeClock(time.Unix(1760000000, 0)).Now,
	})
	deliver, events := collectEvents()

	ok := normalizer.Normalize(RawEvent{
		Type: WireHoldAdded,
		Payload: map[string]any{
			"queue_entry_id": "Q123",
			"reason":         "Post-op review",
			"patient":        map[string]any{"first_name": "Ana", "last_name": "Silva"},
		},
	}, deliver)
	if !ok {
		t.Fatalf("expected recognized event to normalize")
	}

	select {
	case event := <-events:
		if event.Kind != KindPatientOnHold {
			t.Fatalf("expected patient_on_hold kind, got %s", event.Kind)
		}
		if event.QueueEntryID != "Q123" {
			t.Fatalf("unexpected queue entry id %s", event.QueueEntryID)
		}
		if event.DisplayName != "Ana Silva" {
			t.Fatalf("unexpected display name %q", event.DisplayName)
		}
		if event.Reason != "Post-op review" {
			t.Fatalf("unexpected reason %q", event.Reason)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected canonical event delivery")
	}
}

func TestNormalizeDropsUnrecognizedTypeWithoutHaltingPipeline(t *testing.T) {
	normalizer := NewNormalizer(NormalizerConfig{})
	deliver, events := collectEvents()

	if ok := normalizer.Normalize(RawEvent{Type: "unknown_garbage"}, deliver); ok {
		t.Fatalf("expected unrecognized type to be dropped")
	}

	ok := normalizer.Normalize(RawEvent{
		Type: WireHoldAdded,
		Payload: map[string]any{
			"queue_entry_id": "Q1",
			"patient_name":   "Ana Silva",
		},
	}, deliver)
	if !ok {
		t.Fatalf("expected valid event after malformed one to normalize")
	}

	select {
	case event := <-events:
		if event.Kind != KindPatientOnHold {
			t.Fatalf("expected the valid event, got %s", event.Kind)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected exactly one canonical event")
	}
	select {
	case event := <-events:
		t.Fatalf("unexpected extra event %v", event)
	default:
	}
}

func TestNormalizeEnrichesFromDirectory(t *testing.T) {
	directory := &stubDirectory{names: map[string]PatientName{
		"p-77": {First: "Marta", Last: "Reyes"},
	}}
	normalizer := NewNormalizer(NormalizerConfig{Directory: directory})
	deliver, events := collectEvents()

	normalizer.Normalize(RawEvent{
		Type: WireMarkedReady,
		Payload: map[string]any{
			"queue_entry_id": "Q5",
			"patient_id":     "p-77",
		},
	}, deliver)

	select {
	case event := <-events:
		if event.DisplayName != placeholderDisplayName {
			t.Fatalf("expected placeholder first, got %q", event.DisplayName)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected immediate placeholder delivery")
	}

	select {
	case event := <-events:
		if event.DisplayName != "Marta Reyes" {
			t.Fatalf("expected enriched name, got %q", event.DisplayName)
		}
		if event.Kind != KindPatientReady || event.QueueEntryID != "Q5" {
			t.Fatalf("enrichment must preserve the event, got %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected enriched re-delivery")
	}
}

func TestNormalizeLookupFailureKeepsPlaceholder(t *testing.T) {
	directory := &stubDirectory{err: errors.New("directory down")}
	normalizer := NewNormalizer(NormalizerConfig{Directory: directory})
	deliver, events := collectEvents()

	normalizer.Normalize(RawEvent{
		Type:    WireHoldAdded,
		Payload: map[string]any{"queue_entry_id": "Q5", "patient_id": "p-1"},
	}, deliver)

	select {
	case event := <-events:
		if event.DisplayName != placeholderDisplayName {
			t.Fatalf("expected placeholder, got %q", event.DisplayName)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected placeholder delivery despite lookup failure")
	}

	select {
	case event := <-events:
		t.Fatalf("failed lookup must not re-deliver, got %+v", event)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNormalizeNoIdentifierUsesGenericName(t *testing.T) {
	normalizer := NewNormalizer(NormalizerConfig{})
	deliver, events := collectEvents()

	normalizer.Normalize(RawEvent{
		Type:    WireQueueUpdated,
		Payload: map[string]any{"queue_entry_id": "Q2"},
	}, deliver)

	select {
	case event := <-events:
		if event.DisplayName != "A patient" {
			t.Fatalf("expected generic placeholder name, got %q", event.DisplayName)
		}
		if event.Reason == "" {
			t.Fatalf("reason must never be empty")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("event must never be dropped silently")
	}
}
