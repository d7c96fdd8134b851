package realtime

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultTickInterval = time.Second

// TimerEngineConfig configures the countdown engine.
type TimerEngineConfig struct {
	// Tick controls the display-update cadence; correctness is anchored to
	// the wall-clock expiry instant, not to tick counting.
	Tick     time.Duration
	Clock    func() time.Time
	OnExpire func(queueEntryID string)
	Logger   *zap.Logger
}

// TimerEngine maintains one independent countdown per queue entry. Timers are
// a property of queue-entry state, not connection state: a disconnect or a UI
// remount never cancels them. At most one timer is active per entry; starting
// a new one implicitly cancels the old, whose expiry then never fires.
type TimerEngine struct {
	tick     time.Duration
	clock    func() time.Time
	onExpire func(string)
	logger   *zap.Logger

	mu     sync.Mutex
	timers map[string]*countdown
}

type countdown struct {
	queueEntryID string
	expiresAt    time.Time
	stop         chan struct{}
}

// NewTimerEngine constructs a TimerEngine.
func NewTimerEngine(cfg TimerEngineConfig) *TimerEngine {
	tick := cfg.Tick
	if tick <= 0 {
		tick = defaultTickInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimerEngine{
		tick:     tick,
		clock:    clock,
		onExpire: cfg.OnExpire,
		logger:   logger,
		timers:   make(map[string]*countdown),
	}
}

// Start begins a countdown for the queue entry, cancelling any existing one.
// A zero or negative duration completes on the next tick, never synchronously,
// so expiry is not delivered re-entrantly during Start.
func (e *TimerEngine) Start(queueEntryID string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	e.startAt(queueEntryID, e.clock().Add(duration))
}

// Resume anchors a countdown to a known wall-clock expiry instant, so a
// process restart or a view remount neither resets nor extends the countdown.
func (e *TimerEngine) Resume(queueEntryID string, expiresAt time.Time) {
	e.startAt(queueEntryID, expiresAt)
}

func (e *TimerEngine) startAt(queueEntryID string, expiresAt time.Time) {
	timer := &countdown{
		queueEntryID: queueEntryID,
		expiresAt:    expiresAt,
		stop:         make(chan struct{}),
	}

	e.mu.Lock()
	if existing, ok := e.timers[queueEntryID]; ok {
		close(existing.stop)
	}
	e.timers[queueEntryID] = timer
	e.mu.Unlock()

	e.logger.Debug("countdown started",
		zap.String("queue_entry_id", queueEntryID),
		zap.Time("expires_at", expiresAt))
	go e.run(timer)
}

// Cancel stops the countdown for the queue entry. Cancelling an unknown,
// already-expired, or already-cancelled timer is a no-op.
func (e *TimerEngine) Cancel(queueEntryID string) {
	e.mu.Lock()
	timer, ok := e.timers[queueEntryID]
	if ok {
		delete(e.timers, queueEntryID)
		close(timer.stop)
	}
	e.mu.Unlock()
}

// Remaining reports the whole seconds left on the entry's countdown, false
// when no timer is active. The value is computed from the wall-clock expiry,
// so observers may remount freely without disturbing the countdown.
func (e *TimerEngine) Remaining(queueEntryID string) (int, bool) {
	e.mu.Lock()
	timer, ok := e.timers[queueEntryID]
	e.mu.Unlock()
	if !ok {
		return 0, false
	}
	left := timer.expiresAt.Sub(e.clock())
	if left < 0 {
		return 0, true
	}
	return int((left + time.Second - 1) / time.Second), true
}

// ActiveCount reports how many countdowns are currently running.
func (e *TimerEngine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

func (e *TimerEngine) run(timer *countdown) {
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		select {
		case <-timer.stop:
			return
		case <-ticker.C:
			if e.clock().Before(timer.expiresAt) {
				continue
			}
			if e.claimExpiry(timer) {
				e.logger.Debug("countdown expired",
					zap.String("queue_entry_id", timer.queueEntryID))
				if e.onExpire != nil {
					e.onExpire(timer.queueEntryID)
				}
			}
			return
		}
	}
}

// claimExpiry removes the timer if it is still the active one for its entry.
// A timer replaced by a later Start loses the claim and must not fire.
func (e *TimerEngine) claimExpiry(timer *countdown) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	current, ok := e.timers[timer.queueEntryID]
	if !ok || current != timer {
		return false
	}
	delete(e.timers, timer.queueEntryID)
	return true
}
