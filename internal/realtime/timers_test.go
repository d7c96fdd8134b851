package realtime

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock {
	return &fakeClock{now: at}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTimerExpiresExactlyOnceAcrossRemounts(t *testing.T) {
	expiries := make(chan string, 8)
	engine := NewTimerEngine(TimerEngineConfig{
		Tick:     10 * time.Millisecond,
		OnExpire: func(id string) { expiries <- id },
	})

	started := time.Now()
	engine.Start("Q123", 150*time.Millisecond)

	// Simulated remounts: observers attach and detach by reading remaining
	// time; none of this may disturb the countdown.
	for remount := 0; remount < 3; remount++ {
		if _, ok := engine.Remaining("Q123"); !ok {
			t.Fatalf("expected active timer during remount %d", remount)
		}
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case id := <-expiries:
		if id != "Q123" {
			t.Fatalf("expected expiry for Q123, got %s", id)
		}
		if elapsed := time.Since(started); elapsed < 150*time.Millisecond {
			t.Fatalf("expiry fired early after %v", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected expiry within deadline")
	}

	select {
	case id := <-expiries:
		t.Fatalf("unexpected second expiry for %s", id)
	case <-time.After(100 * time.Millisecond):
	}

	if _, ok := engine.Remaining("Q123"); ok {
		t.Fatalf("expected timer to be removed after expiry")
	}
}

func TestTimerRestartCancelsPrevious(t *testing.T) {
	expiries := make(chan string, 8)
	engine := NewTimerEngine(TimerEngineConfig{
		Tick:     10 * time.Millisecond,
		OnExpire: func(id string) { expiries <- id },
	})

	engine.Start("Q123", 10*time.Minute)
	engine.Start("Q123", 80*time.Millisecond)

	if engine.ActiveCount() != 1 {
		t.Fatalf("expected exactly one active timer, got %d", engine.ActiveCount())
	}
	if remaining, ok := engine.Remaining("Q123"); !ok || remaining > 1 {
		t.Fatalf("expected second duration in effect, got %d (active=%v)", remaining, ok)
	}

	select {
	case <-expiries:
	case <-time.After(2 * time.Second):
		t.Fatal("expected replacement timer to expire")
	}

	select {
	case id := <-expiries:
		t.Fatalf("first timer must never fire, got expiry for %s", id)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTimerCancelStopsExpiry(t *testing.T) {
	expiries := make(chan string, 1)
	engine := NewTimerEngine(TimerEngineConfig{
		Tick:     10 * time.Millisecond,
		OnExpire: func(id string) { expiries <- id },
	})

	engine.Start("Q55", 60*time.Millisecond)
	engine.Cancel("Q55")

	select {
	case id := <-expiries:
		t.Fatalf("cancelled timer must not expire, got %s", id)
	case <-time.After(200 * time.Millisecond):
	}

	// Cancelling an unknown entry is a no-op, not an error.
	engine.Cancel("Q55")
	engine.Cancel("never-started")
}

func TestTimerRemainingAnchoredToWallClock(t *testing.T) {
	clock := newFakeClock(time.Unix(1760000000, 0))
	engine := NewTimerEngine(TimerEngineConfig{
		Tick:  time.Hour, // ticks irrelevant; remaining derives from the clock
		Clock: clock.Now,
	})

	engine.Resume("Q9", clock.Now().Add(10*time.Second))
	if remaining, ok := engine.Remaining("Q9"); !ok || remaining != 10 {
		t.Fatalf("expected 10 seconds remaining, got %d (active=%v)", remaining, ok)
	}

	// Backgrounding equivalent: no ticks observed, wall clock moves on.
	clock.Advance(4 * time.Second)
	if remaining, ok := engine.Remaining("Q9"); !ok || remaining != 6 {
		t.Fatalf("expected 6 seconds remaining after clock advance, got %d", remaining)
	}

	clock.Advance(7 * time.Second)
	if remaining, ok := engine.Remaining("Q9"); !ok || remaining != 0 {
		t.Fatalf("expected clamped zero remaining, got %d", remaining)
	}
}

func TestTimerSurvivesDisconnect(t *testing.T) {
	clock := newFakeClock(time.Unix(1760000000, 0))
	engine := NewTimerEngine(TimerEngineConfig{
		Tick:  time.Hour,
		Clock: clock.Now,
	})
	client, err := NewClient(ClientConfig{ServerURL: "http://127.0.0.1:0"})
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}

	engine.Resume("Q7", clock.Now().Add(5*time.Minute))
	before, ok := engine.Remaining("Q7")
	if !ok {
		t.Fatalf("expected active timer before disconnect")
	}

	client.Disconnect()

	after, ok := engine.Remaining("Q7")
	if !ok {
		t.Fatalf("timer must keep counting through a disconnect")
	}
	if after != before {
		t.Fatalf("remaining changed across disconnect: %d -> %d", before, after)
	}
}

func TestTimerZeroDurationFiresAsynchronously(t *testing.T) {
	expiries := make(chan string, 1)
	engine := NewTimerEngine(TimerEngineConfig{
		Tick:     10 * time.Millisecond,
		OnExpire: func(id string) { expiries <- id },
	})

	engine.Start("Q0", 0)
	select {
	case <-expiries:
		t.Fatalf("zero-duration timer must not fire synchronously inside Start")
	default:
	}

	select {
	case id := <-expiries:
		if id != "Q0" {
			t.Fatalf("expected expiry for Q0, got %s", id)
		}
	case <-time.After(time.Second):
		t.Fatal("expected zero-duration timer to expire on next tick")
	}
}
