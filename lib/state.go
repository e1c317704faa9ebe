package lib

import "time"

// ConnectionState is the orchestrator's link state. It is owned by the
// ConnectionService event loop; observers only ever see it through the
// state-change callback or the State() snapshot.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateDiscovering
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateDiscovering:
		return "discovering"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// retryState tracks the reconnect attempt counter and whether the fallback
// access point has been tried in the current cycle. It is a value type:
// every transition returns a new value, so the scheduling rules can be
// tested without a running service.
type retryState struct {
	attempts      int
	fallbackTried bool
}

// reset clears the counter and the fallback flag. Runs on every successful
// connection, on forced reconnect, and on terminal exhaustion.
func (r retryState) reset() retryState {
	return retryState{}
}

func (r retryState) markFallbackTried() retryState {
	r.fallbackTried = true
	return r
}

// fallbackFirst reports whether a discovery cycle should attempt fallback
// association before broadcast discovery. Early attempts assume the normal
// network is healthy; once the counter passes 2 the fallback AP is the
// better bet.
func (r retryState) fallbackFirst() bool {
	return r.attempts > 2
}

// mayAssociate reports whether fallback association may still run after
// broadcast discovery failed in this cycle. Once the fallback AP has been
// tried and the counter is still low, the cycle skips straight to backoff
// instead of hammering an unreachable access point.
func (r retryState) mayAssociate() bool {
	return !r.fallbackTried || r.attempts > 2
}

// next consumes one reconnect attempt and returns the backoff delay before
// the next discovery cycle. ok is false when the attempt budget is spent;
// the returned state is then fully reset so a manual retry starts fresh.
func (r retryState) next(schedule []time.Duration, maxAttempts int) (next retryState, delay time.Duration, ok bool) {
	if r.attempts >= maxAttempts {
		return retryState{}, 0, false
	}
	r.attempts++
	idx := r.attempts - 1
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return r, schedule[idx], true
}
