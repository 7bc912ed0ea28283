package guidance

import (
	"log"
	"time"

	"github.com/tiiuae/survey-guidance/internal/types"
)

// latchLanding fixes the landing location the first time the configured
// marker is seen. It runs on the telemetry path so the pose and offset of that
// moment are kept even while the loop is busy.
func (g *Guidance) latchLanding(id int) {
	if id != g.cfg.MarkerID || g.failsafe.Engaged() {
		return
	}
	if _, ok := g.landing.Load(); ok {
		return
	}
	p, ok := g.pose.Load()
	if !ok {
		log.Printf("GUIDANCE: Marker %d seen before any pose, ignoring", id)
		return
	}
	offset, _ := g.offset.Load()

	loc := types.WaypointAt(p.Corrected(offset))
	if g.landing.Offer(loc) {
		log.Printf("GUIDANCE: Landing marker %d found, landing location %v", id, loc)
	}
}

// syncLanding records a latched landing location in the mission state.
func (g *Guidance) syncLanding() {
	s := g.state
	if s.markerFound {
		return
	}
	loc, ok := g.landing.Load()
	if !ok {
		return
	}
	s.markerFound = true
	g.emit(types.MessageLandingLatched, types.LandingLocationLatched{MarkerID: g.cfg.MarkerID, Location: loc})
}

// divert leaves the route to service a detection and comes back to the goal
// that was active before it.
func (g *Guidance) divert(ev detection) {
	s := g.state
	if s.failsafe || s.terminal || s.diverting || s.index < 1 || g.revoked() {
		return
	}
	if ev.at.Before(s.diversionEnded) {
		log.Printf("GUIDANCE: Ignoring %q seen during the previous diversion", ev.label)
		return
	}
	if !ev.posed {
		log.Printf("GUIDANCE: Ignoring %q, no vehicle pose yet", ev.label)
		return
	}

	task, matched := s.pendingTask(ev.label)
	if !matched && g.cfg.IgnoreUnmatched {
		log.Printf("GUIDANCE: Ignoring %q, no pending task", ev.label)
		return
	}

	resume := s.state
	s.diverting = true
	g.setState(StateDiverting)

	ok := g.detour(ev, task, matched)

	s.diverting = false
	s.diversionEnded = time.Now()
	if ok {
		g.setState(resume)
	}
}

// detour cancels the current goal, services a matched task and flies back to
// where the vehicle left the route before re-issuing the interrupted goal.
func (g *Guidance) detour(ev detection, task Task, matched bool) bool {
	if err := g.dispatcher.Cancel(); err != nil {
		log.Printf("GUIDANCE: Cancel failed: %v", err)
	}
	returnPoint := ev.position
	if p, ok := g.pose.Load(); ok {
		returnPoint = p
	}
	log.Printf("GUIDANCE: Diverting for %q, return point %v", ev.label, returnPoint)

	if matched && !g.deliver(task, ev) {
		return false
	}
	if !g.flyLeg(g.authority, types.WaypointAt(returnPoint), "return leg") {
		return false
	}
	if s := g.state; s.activeGoal != nil {
		return g.send(*s.activeGoal)
	}
	return true
}

// deliver flies to the corrected detection position at deploy altitude and
// drops the payload for task. A failed deploy leaves the task pending.
func (g *Guidance) deliver(task Task, ev detection) bool {
	target := ev.position
	target.Z = g.cfg.DeployAltitude
	target = target.Corrected(ev.offset)
	log.Printf("GUIDANCE: Deploying %q at %v", task.Label, target)

	if !g.flyLeg(g.authority, types.WaypointAt(target), "deploy leg") {
		return false
	}
	if !g.wait(g.cfg.SettleTime) {
		return false
	}
	if err := g.deployer.Deploy(g.authority, task.Slot); err != nil {
		if g.revoked() {
			return false
		}
		log.Printf("GUIDANCE: Deploy to slot %d failed: %v", task.Slot, err)
		return true
	}
	if !g.wait(g.cfg.PostDeployTime) {
		return false
	}

	g.state.tasksDone[task.Label] = true
	g.emit(types.MessagePayloadDeployed, types.PayloadDeployed{Label: task.Label, Slot: task.Slot, At: types.WaypointAt(target)})
	return true
}
