package warmer

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// rateState tracks one account's burst-then-pause throttle.
type rateState struct {
	sentInBurst int
	cooldown    bool
	timer       clockwork.Timer
}

// rateLimiter owns per-account rate state for one warming session. State is
// created lazily on first send and discarded wholesale when the session stops.
type rateLimiter struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	states map[string]*rateState
}

func newRateLimiter(clock clockwork.Clock) *rateLimiter {
	return &rateLimiter{clock: clock, states: map[string]*rateState{}}
}

// coolingDown reports whether the account is inside a forced pause.
func (r *rateLimiter) coolingDown(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.states[id]
	return st != nil && st.cooldown
}

// tryConsume records one send attempt. It returns false without side effects
// while the account is cooling down. Otherwise the send is permitted; if it
// reaches the burst limit, a cooldown of pause is armed that blocks only
// subsequent sends. limit <= 0 means unlimited.
func (r *rateLimiter) tryConsume(id string, limit int, pause time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.states[id]
	if st == nil {
		st = &rateState{}
		r.states[id] = st
	}
	if st.cooldown {
		return false
	}
	st.sentInBurst++
	if limit > 0 && st.sentInBurst >= limit {
		st.cooldown = true
		st.timer = r.clock.AfterFunc(pause, func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			// The session may have been reset while the timer was in flight;
			// only clear state that still belongs to this arm.
			if cur, ok := r.states[id]; ok && cur == st {
				st.sentInBurst = 0
				st.cooldown = false
				st.timer = nil
			}
		})
	}
	return true
}

// sent returns the current burst count for the account.
func (r *rateLimiter) sent(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st := r.states[id]; st != nil {
		return st.sentInBurst
	}
	return 0
}

// reset cancels all outstanding cooldown timers and discards every state.
func (r *rateLimiter) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, st := range r.states {
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(r.states, id)
	}
}
