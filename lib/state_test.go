package lib

import (
	"testing"
	"time"
)

func TestConnectionStateString(t *testing.T) {
	testCases := []struct {
		state    ConnectionState
		expected string
	}{
		{StateDisconnected, "disconnected"},
		{StateDiscovering, "discovering"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateReconnecting, "reconnecting"},
		{ConnectionState(99), "unknown"},
	}

	for _, tc := range testCases {
		if got := tc.state.String(); got != tc.expected {
			t.Errorf("ConnectionState(%d).String() = %q, want %q", int(tc.state), got, tc.expected)
		}
	}
}

func TestRetryStateStrategyOrder(t *testing.T) {
	testCases := []struct {
		attempts      int
		fallbackTried bool
		fallbackFirst bool
		mayAssociate  bool
	}{
		{attempts: 0, fallbackTried: false, fallbackFirst: false, mayAssociate: true},
		{attempts: 1, fallbackTried: false, fallbackFirst: false, mayAssociate: true},
		{attempts: 2, fallbackTried: true, fallbackFirst: false, mayAssociate: false},
		{attempts: 3, fallbackTried: false, fallbackFirst: true, mayAssociate: true},
		{attempts: 3, fallbackTried: true, fallbackFirst: true, mayAssociate: true},
		{attempts: 10, fallbackTried: true, fallbackFirst: true, mayAssociate: true},
	}

	for _, tc := range testCases {
		r := retryState{attempts: tc.attempts, fallbackTried: tc.fallbackTried}
		if got := r.fallbackFirst(); got != tc.fallbackFirst {
			t.Errorf("retryState{%d,%t}.fallbackFirst() = %t, want %t", tc.attempts, tc.fallbackTried, got, tc.fallbackFirst)
		}
		if got := r.mayAssociate(); got != tc.mayAssociate {
			t.Errorf("retryState{%d,%t}.mayAssociate() = %t, want %t", tc.attempts, tc.fallbackTried, got, tc.mayAssociate)
		}
	}
}

func TestRetryStateNextWalksSchedule(t *testing.T) {
	schedule := []time.Duration{
		1 * time.Second, 2 * time.Second, 3 * time.Second,
		5 * time.Second, 5 * time.Second, 5 * time.Second,
		5 * time.Second, 5 * time.Second, 5 * time.Second, 5 * time.Second,
	}

	r := retryState{}
	for i := 0; i < 10; i++ {
		var (
			delay time.Duration
			ok    bool
		)
		r, delay, ok = r.next(schedule, 10)
		if !ok {
			t.Fatalf("attempt %d: unexpectedly exhausted", i+1)
		}
		if r.attempts != i+1 {
			t.Errorf("attempt %d: counter = %d, want %d", i+1, r.attempts, i+1)
		}
		if delay != schedule[i] {
			t.Errorf("attempt %d: delay = %v, want %v", i+1, delay, schedule[i])
		}
	}

	// the 11th request finds the budget spent and resets everything
	r = r.markFallbackTried()
	next, _, ok := r.next(schedule, 10)
	if ok {
		t.Fatal("expected exhaustion after 10 attempts")
	}
	if next.attempts != 0 || next.fallbackTried {
		t.Errorf("exhausted state = %+v, want zero value", next)
	}
}

func TestRetryStateNextClampsPastSchedule(t *testing.T) {
	schedule := []time.Duration{1 * time.Second, 2 * time.Second}

	r := retryState{attempts: 4}
	r, delay, ok := r.next(schedule, 10)
	if !ok {
		t.Fatal("unexpected exhaustion")
	}
	if r.attempts != 5 {
		t.Errorf("counter = %d, want 5", r.attempts)
	}
	if delay != 2*time.Second {
		t.Errorf("delay = %v, want clamp to last entry 2s", delay)
	}
}

func TestRetryStateReset(t *testing.T) {
	r := retryState{attempts: 7, fallbackTried: true}
	r = r.reset()
	if r.attempts != 0 || r.fallbackTried {
		t.Errorf("reset() = %+v, want zero value", r)
	}
}
