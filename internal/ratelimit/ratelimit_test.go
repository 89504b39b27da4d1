package ratelimit

import (
	"sync"
	"testing"
)

// fakeClock lets tests drive the limiter's monotonic clock.
type fakeClock struct {
	t float64
}

func (c *fakeClock) set(t float64) { c.t = t }

func newTestLimiter() (*Limiter, *fakeClock) {
	l := New()
	c := &fakeClock{}
	l.now = func() float64 { return c.t }
	return l, c
}

var standard = Limits{PerMinute: 30, PerHour: 300}
var free = Limits{PerMinute: 10, PerHour: 100}

func TestMinuteLimitTrip(t *testing.T) {
	l, clock := newTestLimiter()

	// 30 requests at t=0..29s all admit.
	for i := 0; i < 30; i++ {
		clock.set(float64(i))
		if d := l.Check("alice", standard); !d.Allowed {
			t.Fatalf("request %d at t=%d denied: %+v", i+1, i, d)
		}
	}

	// Request 31 at t=30s trips the minute window.
	clock.set(30)
	d := l.Check("alice", standard)
	if d.Allowed {
		t.Fatal("request 31 admitted, want 429")
	}
	if d.Scope != ScopeMinute {
		t.Errorf("scope = %q, want minute", d.Scope)
	}
	if d.RetryAfter < 30 || d.RetryAfter > 31 {
		t.Errorf("RetryAfter = %d, want between 30 and 31", d.RetryAfter)
	}

	// Once the oldest entry ages past the minute window, admission resumes.
	clock.set(60.1)
	if d := l.Check("alice", standard); !d.Allowed {
		t.Fatalf("request at t=60.1 denied: %+v", d)
	}

	// Post-admit status: entries at t=1..29 are still inside the minute
	// window, so the fresh admit fills it back up; all 31 admitted requests
	// remain inside the hour window.
	st := l.Status("alice", standard)
	if st.MinuteRemaining != 0 {
		t.Errorf("MinuteRemaining = %d, want 0", st.MinuteRemaining)
	}
	if st.HourRemaining != 269 {
		t.Errorf("HourRemaining = %d, want 269", st.HourRemaining)
	}
}

func TestRejectionDoesNotCount(t *testing.T) {
	l, clock := newTestLimiter()
	limits := Limits{PerMinute: 2, PerHour: 100}

	clock.set(0)
	l.Check("bob", limits)
	l.Check("bob", limits)

	// Hammer rejected requests; none may extend the window.
	for i := 0; i < 50; i++ {
		if d := l.Check("bob", limits); d.Allowed {
			t.Fatal("over-limit request admitted")
		}
	}

	st := l.Status("bob", limits)
	if st.MinuteRemaining != 0 {
		t.Errorf("MinuteRemaining = %d, want 0", st.MinuteRemaining)
	}
	if st.HourRemaining != 98 {
		t.Errorf("HourRemaining = %d, want 98 (rejections must not count)", st.HourRemaining)
	}
}

func TestHourLimitTrip(t *testing.T) {
	l, clock := newTestLimiter()

	// 100 free-tier requests spaced 35s apart never trip the minute window.
	for i := 0; i < 100; i++ {
		clock.set(float64(i) * 35)
		if d := l.Check("carol", free); !d.Allowed {
			t.Fatalf("request %d denied: %+v", i+1, d)
		}
	}

	// Request 101 trips the hour cap. The front entry is at t=0 but the
	// window is referenced from now, so Retry-After counts down to its exit.
	now := 99*35.0 + 35
	clock.set(now)
	d := l.Check("carol", free)
	if d.Allowed {
		t.Fatal("request 101 admitted, want 429")
	}
	if d.Scope != ScopeHour {
		t.Errorf("scope = %q, want hour", d.Scope)
	}
	want := 3600 - int(now)
	if d.RetryAfter != want {
		t.Errorf("RetryAfter = %d, want %d", d.RetryAfter, want)
	}
}

func TestHourEvictionFreesMinuteWindow(t *testing.T) {
	l, clock := newTestLimiter()
	limits := Limits{PerMinute: 5, PerHour: 10}

	clock.set(0)
	for i := 0; i < 5; i++ {
		l.Check("dave", limits)
	}

	// One hour later every entry has aged out of both windows.
	clock.set(3601)
	st := l.Status("dave", limits)
	if st.HourRemaining != 10 || st.MinuteRemaining != 5 {
		t.Errorf("status after aging = %+v, want fully free", st)
	}
	if d := l.Check("dave", limits); !d.Allowed {
		t.Fatalf("request after aging denied: %+v", d)
	}
}

func TestStatusMatchesCounts(t *testing.T) {
	l, clock := newTestLimiter()

	clock.set(0)
	l.Check("erin", standard)
	st := l.Status("erin", standard)
	if st.MinuteLimit != 30 || st.MinuteRemaining != 29 {
		t.Errorf("minute status = %d/%d, want 29/30 remaining", st.MinuteRemaining, st.MinuteLimit)
	}
	if st.HourLimit != 300 || st.HourRemaining != 299 {
		t.Errorf("hour status = %d/%d, want 299/300 remaining", st.HourRemaining, st.HourLimit)
	}

	// Status is read-only: repeated calls never change the counts.
	for i := 0; i < 10; i++ {
		l.Status("erin", standard)
	}
	if st2 := l.Status("erin", standard); st2 != st {
		t.Errorf("status mutated state: %+v != %+v", st2, st)
	}
}

func TestHourBoundNeverExceeded(t *testing.T) {
	l, clock := newTestLimiter()
	limits := Limits{PerMinute: 1000, PerHour: 50}

	admitted := 0
	for i := 0; i < 200; i++ {
		clock.set(float64(i) / 10)
		if l.Check("frank", limits).Allowed {
			admitted++
		}
	}
	if admitted != 50 {
		t.Errorf("admitted %d requests, hour cap is 50", admitted)
	}
	if n := len(l.history["frank"]); n > 50 {
		t.Errorf("history holds %d entries, must stay <= hour limit", n)
	}
}

func TestSweepDropsEmptyHistories(t *testing.T) {
	l, clock := newTestLimiter()

	clock.set(0)
	l.Check("gone", free)
	l.Check("kept", free)

	clock.set(3700)
	l.Check("kept", free) // refresh one user past the eviction horizon

	if removed := l.Sweep(); removed != 1 {
		t.Errorf("Sweep removed %d histories, want 1", removed)
	}
	if _, ok := l.history["gone"]; ok {
		t.Error("aged-out history survived Sweep")
	}
	if _, ok := l.history["kept"]; !ok {
		t.Error("live history dropped by Sweep")
	}
}

func TestConcurrentChecksSerialize(t *testing.T) {
	l := New()
	limits := Limits{PerMinute: 100, PerHour: 100}

	var wg sync.WaitGroup
	admitted := make(chan bool, 500)
	for i := 0; i < 500; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admitted <- l.Check("heidi", limits).Allowed
		}()
	}
	wg.Wait()
	close(admitted)

	n := 0
	for ok := range admitted {
		if ok {
			n++
		}
	}
	if n != 100 {
		t.Errorf("admitted %d of 500 concurrent requests, want exactly 100", n)
	}
}
