package realtime

import (
	"sync"

	"go.uber.org/zap"
)

// QueryKey identifies a cached listing that consumers refetch when stale.
type QueryKey string

const (
	QueryEyeDropQueue     QueryKey = "eye-drop-queue"
	QueryDoctorQueue      QueryKey = "doctor-queue"
	QueryOptometristQueue QueryKey = "optometrist-queue"
)

// queryKeysByKind maps each canonical kind to the listings it makes stale.
// The mapping is many-to-many and every kind invalidates at least one key.
var queryKeysByKind = map[Kind][]QueryKey{
	KindPatientOnHold:    {QueryEyeDropQueue},
	KindPatientAvailable: {QueryEyeDropQueue, QueryDoctorQueue},
	KindPatientAssigned:  {QueryDoctorQueue},
	KindPatientResumed:   {QueryEyeDropQueue},
	KindPatientReady:     {QueryEyeDropQueue, QueryDoctorQueue},
	KindQueueUpdated:     {QueryOptometristQueue, QueryDoctorQueue},
	KindQueueReordered:   {QueryOptometristQueue, QueryDoctorQueue},
	KindPatientCalled:    {QueryOptometristQueue},
	KindPatientCheckedIn: {QueryDoctorQueue},
}

// QueryKeysFor returns the query keys a canonical kind invalidates.
func QueryKeysFor(kind Kind) []QueryKey {
	return queryKeysByKind[kind]
}

// Invalidator marks a cached query as stale so the next read refetches.
type Invalidator interface {
	MarkStale(key QueryKey)
}

// InvalidationBridge maps canonical events onto stale query keys.
type InvalidationBridge struct {
	sink   Invalidator
	logger *zap.Logger
}

// NewInvalidationBridge constructs the bridge around a cache sink.
func NewInvalidationBridge(sink Invalidator, logger *zap.Logger) *InvalidationBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvalidationBridge{sink: sink, logger: logger}
}

// Invalidate marks every query affected by the event as stale and returns the
// keys touched.
func (b *InvalidationBridge) Invalidate(event Event) []QueryKey {
	keys := QueryKeysFor(event.Kind)
	if len(keys) == 0 {
		b.logger.Warn("event kind has no query mapping", zap.String("kind", string(event.Kind)))
		return nil
	}
	for _, key := range keys {
		if b.sink != nil {
			b.sink.MarkStale(key)
		}
	}
	return keys
}

// StaleSet is an in-memory Invalidator recording which queries need a
// refetch. Consumers call Clear after refetching.
type StaleSet struct {
	mu    sync.Mutex
	stale map[QueryKey]bool
}

// NewStaleSet constructs an empty StaleSet.
func NewStaleSet() *StaleSet {
	return &StaleSet{stale: make(map[QueryKey]bool)}
}

// MarkStale flags the query for refetch.
func (s *StaleSet) MarkStale(key QueryKey) {
	s.mu.Lock()
	s.stale[key] = true
	s.mu.Unlock()
}

// IsStale reports whether the query needs a refetch.
func (s *StaleSet) IsStale(key QueryKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale[key]
}

// Clear resets the flag after a successful refetch.
func (s *StaleSet) Clear(key QueryKey) {
	s.mu.Lock()
	delete(s.stale, key)
	s.mu.Unlock()
}
