package guidance

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/tiiuae/survey-guidance/internal/types"
)

// FailsafeMonitor turns battery readings into a one-way failsafe latch.
type FailsafeMonitor struct {
	threshold float64

	mu       sync.Mutex
	critical bool
	engaged  bool
}

func NewFailsafeMonitor(threshold float64) *FailsafeMonitor {
	return &FailsafeMonitor{threshold: threshold}
}

// Update records a battery fraction and reports whether this reading engaged
// the failsafe. Only the first false to true transition of critical does.
func (f *FailsafeMonitor) Update(percentage float64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	critical := percentage < f.threshold
	edge := critical && !f.critical
	f.critical = critical
	if !edge || f.engaged {
		return false
	}
	f.engaged = true
	return true
}

// Engage latches the failsafe without a battery reading. It reports whether
// the failsafe was not engaged before.
func (f *FailsafeMonitor) Engage() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.engaged {
		return false
	}
	f.engaged = true
	return true
}

func (f *FailsafeMonitor) Engaged() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engaged
}

// runFailsafe takes over from whatever the loop was doing and lands at the
// landing location. It is bound to ctx, not to the revoked authority.
func (g *Guidance) runFailsafe(ctx context.Context) {
	s := g.state
	if s.failsafe || s.terminal {
		return
	}
	s.failsafe = true
	s.diverting = false
	s.crumbs = nil
	g.suspended.Store(true)
	g.drainInbox()
	g.setState(StateFailsafeLanding)

	if err := g.dispatcher.Cancel(); err != nil {
		log.Printf("GUIDANCE: Cancel failed: %v", err)
	}
	g.emit(types.MessageSuspendTelemetry, types.SuspendTelemetry{})

	g.syncLanding()
	target := g.landingTarget()
	log.Printf("GUIDANCE: Failsafe landing at %v", target)
	if !g.flyLeg(ctx, target, "failsafe approach") {
		return
	}
	if !g.land(ctx) {
		return
	}
	g.finish(StateFailsafeLanding, fmt.Sprintf("failsafe landing at %v", target))
}

func (g *Guidance) drainInbox() {
	for {
		select {
		case <-g.inbox:
		default:
			return
		}
	}
}
