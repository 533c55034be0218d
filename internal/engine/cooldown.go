package engine

import (
	"sync"
	"time"
)

type State string

const (
	StateNormal   State = "normal"
	StateAlerted  State = "alerted"
	StateCooldown State = "cooldown"
)

// regionState is the debounce state of one region. Only the region's own
// worker evaluates it; the mutex guards it against Reset and Sync.
type regionState struct {
	mu        sync.Mutex
	state     State
	lastAlert time.Time
	alerts    int
}

// step applies one classification and reports whether an alert is due.
func (r *regionState) step(empty bool, now time.Time, cooldown time.Duration) bool {
	switch r.state {
	case StateCooldown, StateAlerted:
		if now.Sub(r.lastAlert) < cooldown {
			return false
		}
		if !empty {
			r.state = StateNormal
			return false
		}
	default:
		if !empty {
			return false
		}
	}
	// Alerted is left as soon as the alert is emitted.
	r.lastAlert = now
	r.alerts++
	r.state = StateCooldown
	return true
}

func (r *regionState) reset() {
	r.state = StateNormal
	r.lastAlert = time.Time{}
	r.alerts = 0
}
