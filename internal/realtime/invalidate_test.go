package realtime

import (
	"testing"
	"time"
)

func TestEveryKindInvalidatesAtLeastOneQuery(t *testing.T) {
	sink := NewStaleSet()
	bridge := NewInvalidationBridge(sink, nil)

	for _, kind := range Kinds {
		keys := bridge.Invalidate(Event{
			Kind:         kind,
			QueueEntryID: "Q1",
			DisplayName:  "Ana Silva",
			Reason:       "Check",
			Timestamp:    time.Unix(1760000000, 0),
		})
		if len(keys) == 0 {
			t.Fatalf("kind %s invalidated zero query keys", kind)
		}
		for _, key := range keys {
			if !sink.IsStale(key) {
				t.Fatalf("expected %s stale after %s", key, kind)
			}
		}
	}
}

func TestInvalidationMappingIsTargeted(t *testing.T) {
	assigned := QueryKeysFor(KindPatientAssigned)
	if len(assigned) != 1 || assigned[0] != QueryDoctorQueue {
		t.Fatalf("patient_assigned must invalidate only the doctor queue, got %v", assigned)
	}

	updated := QueryKeysFor(KindQueueUpdated)
	foundOptometrist, foundDoctor := false, false
	for _, key := range updated {
		if key == QueryOptometristQueue {
			foundOptometrist = true
		}
		if key == QueryDoctorQueue {
			foundDoctor = true
		}
	}
	if !foundOptometrist || !foundDoctor {
		t.Fatalf("queue_updated must invalidate optometrist and doctor queues, got %v", updated)
	}
}

func TestStaleSetClearAfterRefetch(t *testing.T) {
	sink := NewStaleSet()
	sink.MarkStale(QueryEyeDropQueue)
	if !sink.IsStale(QueryEyeDropQueue) {
		t.Fatalf("expected key to be stale after mark")
	}
	sink.Clear(QueryEyeDropQueue)
	if sink.IsStale(QueryEyeDropQueue) {
		t.Fatalf("expected key to be fresh after clear")
	}
}
