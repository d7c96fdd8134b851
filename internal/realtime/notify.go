package realtime

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Urgency grades a user-facing alert.
type Urgency string

const (
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

const defaultDedupeWindow = 5 * time.Second

// Notification is the user-facing alert derived from a canonical event.
type Notification struct {
	DedupeKey   string
	Title       string
	Body        string
	Urgency     Urgency
	DeliveredAt time.Time
}

// AlertSink delivers a local alert. Delivery is asynchronous on the platform
// side; a missing notification permission is a silent no-op there, not an
// error surfaced here.
type AlertSink interface {
	ScheduleAlert(title, body string, data map[string]string) error
}

// PushRegistrar registers the device for remote push delivery. Registered
// once per authenticated session, unregistered on logout.
type PushRegistrar interface {
	Register(token, staffID, staffType string) error
	Unregister(token string) error
}

// Haptics triggers the success feedback side effect.
type Haptics interface {
	Vibrate() error
}

type alertTemplate struct {
	title      string
	body       string // fmt pattern over (displayName, reason) or (displayName)
	withReason bool
	urgency    Urgency
	success    bool
}

// One template per canonical kind. The copy is a product detail; the contract
// is that every kind has exactly one entry.
var alertTemplates = map[Kind]alertTemplate{
	KindPatientOnHold: {
		title:      "New Patient in Queue",
		body:       "%s is waiting in the eye-drop queue: %s",
		withReason: true,
		urgency:    UrgencyHigh,
	},
	KindPatientAvailable: {
		title:   "Patient Available",
		body:    "%s has finished treatment and is available",
		urgency: UrgencyNormal,
		success: true,
	},
	KindPatientAssigned: {
		title:      "Patient Assigned",
		body:       "%s has been assigned to you: %s",
		withReason: true,
		urgency:    UrgencyHigh,
	},
	KindPatientResumed: {
		title:   "Patient Resumed",
		body:    "%s has resumed from observation",
		urgency: UrgencyNormal,
	},
	KindPatientReady: {
		title:   "Patient Ready",
		body:    "%s is ready for examination",
		urgency: UrgencyHigh,
		success: true,
	},
	KindQueueUpdated: {
		title:   "Queue Updated",
		body:    "The queue has changed (%s)",
		urgency: UrgencyNormal,
	},
	KindQueueReordered: {
		title:   "Queue Reordered",
		body:    "Queue positions have changed (%s)",
		urgency: UrgencyNormal,
	},
	KindPatientCalled: {
		title:   "Patient Called",
		body:    "%s has been called in",
		urgency: UrgencyHigh,
	},
	KindPatientCheckedIn: {
		title:   "Consultation Completed",
		body:    "%s has completed the consultation",
		urgency: UrgencyNormal,
		success: true,
	},
}

// DispatcherConfig configures the notification dispatcher.
type DispatcherConfig struct {
	Alerts       AlertSink
	Push         PushRegistrar
	Haptics      Haptics
	DedupeWindow time.Duration
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Dispatcher maps canonical events to user-facing alerts with per-type
// deduplication. The same server occurrence may reach the client both as a
// specific event and through an overlapping generic one; the dedupe window
// collapses those to a single delivery.
type Dispatcher struct {
	alerts  AlertSink
	push    PushRegistrar
	haptics Haptics
	window  time.Duration
	clock   func() time.Time
	logger  *zap.Logger

	mu         sync.Mutex
	delivered  map[string]time.Time
	pushActive bool
	pushToken  string
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	window := cfg.DedupeWindow
	if window <= 0 {
		window = defaultDedupeWindow
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		alerts:    cfg.Alerts,
		push:      cfg.Push,
		haptics:   cfg.Haptics,
		window:    window,
		clock:     clock,
		logger:    logger,
		delivered: make(map[string]time.Time),
	}
}

// Dispatch delivers at most one notification per (kind, queue entry) within
// the dedupe window. Alert-delivery failures are logged and swallowed; they
// never affect sibling consumers of the same event.
func (d *Dispatcher) Dispatch(event Event) {
	template, ok := alertTemplates[event.Kind]
	if !ok {
		d.logger.Warn("no alert template for kind", zap.String("kind", string(event.Kind)))
		return
	}

	now := d.clock()
	if !d.claim(string(event.Kind)+"|"+event.QueueEntryID, now) {
		d.logger.Debug("notification suppressed by dedupe window",
			zap.String("dedupe_key", dedupeKey(event.Kind, event.QueueEntryID, now, d.window)))
		return
	}

	var body string
	if template.withReason {
		body = fmt.Sprintf(template.body, event.DisplayName, event.Reason)
	} else {
		body = fmt.Sprintf(template.body, event.DisplayName)
	}

	if d.alerts != nil {
		data := map[string]string{
			"queue_entry_id": event.QueueEntryID,
			"kind":           string(event.Kind),
			"urgency":        string(template.urgency),
		}
		if err := d.alerts.ScheduleAlert(template.title, body, data); err != nil {
			d.logger.Warn("local alert delivery failed",
				zap.String("kind", string(event.Kind)), zap.Error(err))
		}
	}

	if template.success && d.haptics != nil {
		if err := d.haptics.Vibrate(); err != nil {
			d.logger.Debug("haptic feedback failed", zap.Error(err))
		}
	}
}

// RegisterPush registers the device token for remote delivery. Repeat calls
// within the same session are no-ops. Remote registration failure never
// affects local alert delivery.
func (d *Dispatcher) RegisterPush(token, staffID, staffType string) {
	if d.push == nil {
		return
	}
	d.mu.Lock()
	if d.pushActive {
		d.mu.Unlock()
		return
	}
	d.pushActive = true
	d.pushToken = token
	d.mu.Unlock()

	if err := d.push.Register(token, staffID, staffType); err != nil {
		d.logger.Warn("remote push registration failed", zap.Error(err))
		d.mu.Lock()
		d.pushActive = false
		d.pushToken = ""
		d.mu.Unlock()
	}
}

// UnregisterPush removes the remote push registration on logout.
func (d *Dispatcher) UnregisterPush() {
	if d.push == nil {
		return
	}
	d.mu.Lock()
	if !d.pushActive {
		d.mu.Unlock()
		return
	}
	token := d.pushToken
	d.pushActive = false
	d.pushToken = ""
	d.mu.Unlock()

	if err := d.push.Unregister(token); err != nil {
		d.logger.Warn("remote push unregistration failed", zap.Error(err))
	}
}

// claim records the dedupe key, returning false when a notification for the
// same key was already delivered inside the window.
func (d *Dispatcher) claim(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if deliveredAt, seen := d.delivered[key]; seen && now.Sub(deliveredAt) < d.window {
		return false
	}
	d.delivered[key] = now

	// Prune entries older than the window so the map stays bounded.
	for staleKey, deliveredAt := range d.delivered {
		if now.Sub(deliveredAt) >= 2*d.window {
			delete(d.delivered, staleKey)
		}
	}
	return true
}

// dedupeKey rounds the delivery instant to a coalescing bucket so that two
// observations of the same occurrence share a key.
func dedupeKey(kind Kind, queueEntryID string, at time.Time, window time.Duration) string {
	bucket := at.UnixNano() / int64(window)
	return fmt.Sprintf("%s|%s|%d", kind, queueEntryID, bucket)
}
