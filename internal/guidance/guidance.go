// Package guidance runs the survey mission. All mission state is owned by a
// single loop goroutine; telemetry only lands in latest-value cells, the
// write-once landing location and the detection inbox.
package guidance

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/tiiuae/survey-guidance/internal/pathplanner"
	"github.com/tiiuae/survey-guidance/internal/types"
)

type Dispatcher interface {
	Send(ctx context.Context, goal types.FlightGoal) (string, error)
	SendAndAwait(ctx context.Context, goal types.FlightGoal) (types.GoalOutcome, error)
	Cancel() error
	Poll() types.GoalOutcome
}

type Refiner interface {
	Refine(ctx context.Context, start, end types.Waypoint) ([]types.Waypoint, error)
}

type Deployer interface {
	Deploy(ctx context.Context, slot int) error
}

// PathObserver displays planned routes. It has no influence on control.
type PathObserver interface {
	DisplayPath(name string, path []types.Waypoint)
}

const (
	PathMission     = "mission_plan/path"
	PathBreadcrumbs = "guidance/breadcrumb_path"
)

type Result struct {
	State  State
	Reason string
}

// Success reports whether every objective was met before landing.
func (r Result) Success() bool {
	return r.State == StateComplete
}

type detection struct {
	label    string
	position types.Point
	posed    bool
	offset   types.Offset
	at       time.Time
}

type Guidance struct {
	deviceID   string
	cfg        Config
	mission    types.Mission
	scanLength int
	dispatcher Dispatcher
	refiner    Refiner
	deployer   Deployer
	observer   PathObserver
	failsafe   *FailsafeMonitor

	pose    cell[types.Point]
	offset  cell[types.Offset]
	battery cell[types.BatteryState]
	landing once[types.Waypoint]

	inbox      chan detection
	failsafeCh chan struct{}
	abortCh    chan string
	suspended  atomic.Bool
	sequencing atomic.Bool

	// authority is revoked when the failsafe engages, the mission is aborted
	// or the loop stops. Every non-failsafe goal is bound to it.
	authority context.Context
	revoke    context.CancelFunc

	post   types.PostFn
	state  *missionState
	result Result
	done   chan struct{}
}

// New creates the guidance handler. refiner may be nil, in which case every
// leg is flown direct.
func New(deviceID string, cfg Config, mission types.Mission, dispatcher Dispatcher, refiner Refiner, deployer Deployer, observer PathObserver) *Guidance {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultConfig().StatusInterval
	}
	scanLength := cfg.ScanLength
	if scanLength <= 0 || scanLength > len(mission) {
		scanLength = len(mission)
	}
	if observer == nil {
		observer = noopObserver{}
	}

	authority, revoke := context.WithCancel(context.Background())
	return &Guidance{
		deviceID:   deviceID,
		cfg:        cfg,
		mission:    mission,
		scanLength: scanLength,
		dispatcher: dispatcher,
		refiner:    refiner,
		deployer:   deployer,
		observer:   observer,
		failsafe:   NewFailsafeMonitor(cfg.BatteryCritical),
		inbox:      make(chan detection, 16),
		failsafeCh: make(chan struct{}, 1),
		abortCh:    make(chan string, 1),
		authority:  authority,
		revoke:     revoke,
		state:      newMissionState(cfg.Tasks),
		done:       make(chan struct{}),
	}
}

func (g *Guidance) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	g.post = post
	wg.Add(1)
	go g.runLoop(ctx, wg)
}

// Receive is called from the bus goroutine and never blocks.
func (g *Guidance) Receive(message types.Message) {
	switch m := message.Message.(type) {
	case types.VehiclePose:
		g.pose.Store(m.Position)
	case types.Offset:
		g.offset.Store(m)
	case types.BatteryState:
		g.battery.Store(m)
		if g.failsafe.Update(m.Percentage) {
			log.Printf("GUIDANCE: Battery critical at %.0f%%, engaging failsafe", m.Percentage*100)
			g.engageFailsafe()
		}
	case types.LandNow:
		if g.failsafe.Engage() {
			log.Printf("GUIDANCE: Land requested by operator, engaging failsafe")
			g.engageFailsafe()
		}
	case types.AbortMission:
		g.revoke()
		select {
		case g.abortCh <- m.Reason:
		default:
		}
	case types.ObjectDetected:
		if !g.sequencing.Load() {
			return
		}
		g.enqueue(detection{label: m.Label})
	case types.MarkerDetected:
		g.latchLanding(m.ID)
	}
}

// Done is closed when the mission has ended.
func (g *Guidance) Done() <-chan struct{} {
	return g.done
}

// Result is valid once Done is closed.
func (g *Guidance) Result() Result {
	return g.result
}

func (g *Guidance) GoalSent(id string, goal types.FlightGoal) {
	g.emit(types.MessageGoalSent, types.GoalSent{GoalID: id, Goal: goal})
}

func (g *Guidance) GoalResolved(id string, outcome types.GoalOutcome) {
	if outcome != types.OutcomeSucceeded {
		log.Printf("GUIDANCE: Goal %s: %s", id, explain(outcome))
	}
	g.emit(types.MessageGoalResolved, types.GoalResolved{GoalID: id, Outcome: outcome})
}

func (g *Guidance) enqueue(ev detection) {
	if g.suspended.Load() {
		return
	}
	ev.position, ev.posed = g.pose.Load()
	ev.offset, _ = g.offset.Load()
	ev.at = time.Now()

	select {
	case g.inbox <- ev:
	default:
		log.Printf("GUIDANCE: Inbox full, dropping detection %q", ev.label)
	}
}

func (g *Guidance) engageFailsafe() {
	g.revoke()
	select {
	case g.failsafeCh <- struct{}{}:
	default:
	}
}

func (g *Guidance) revoked() bool {
	return g.authority.Err() != nil
}

func (g *Guidance) runLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(g.done)
	stop := context.AfterFunc(ctx, g.revoke)
	defer stop()

	log.Printf("GUIDANCE: Starting mission of %d waypoints (scan %d), tasks %v", len(g.mission), g.scanLength, sortedLabels(g.cfg.Tasks))
	g.display(PathMission, g.mission[:len(g.mission)/2])

	g.takeoff()

	ticker := time.NewTicker(g.cfg.TickInterval)
	defer ticker.Stop()
	status := time.NewTicker(g.cfg.StatusInterval)
	defer status.Stop()

	for !g.state.terminal {
		g.syncLanding()

		// failsafe goes first whatever else is pending
		select {
		case <-g.failsafeCh:
			g.runFailsafe(ctx)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			g.finish(StateCancelled, "shutdown requested")
		case <-g.failsafeCh:
			g.runFailsafe(ctx)
		case reason := <-g.abortCh:
			g.abort(reason)
		case ev := <-g.inbox:
			g.divert(ev)
		case <-ticker.C:
			g.tick()
		case <-status.C:
			g.publishStatus()
		}
	}
}

func (g *Guidance) takeoff() {
	g.setState(StateTakingOff)
	outcome, err := g.dispatcher.SendAndAwait(g.authority, g.takeoffGoal())
	if g.revoked() {
		return
	}
	if err != nil || outcome != types.OutcomeSucceeded {
		g.finish(StateCancelled, describe("takeoff", outcome, err))
		return
	}
	log.Printf("GUIDANCE: Take-off complete")

	g.setState(StateCruising)
	g.sendWaypoint(g.mission[0])
	g.state.index = 1
	g.sequencing.Store(true)
}

// tick is the periodic sequencing step.
func (g *Guidance) tick() {
	s := g.state
	if s.diverting || s.failsafe || s.terminal || g.revoked() {
		return
	}

	half := len(g.mission) / 2
	if !s.midpointShown && half > 0 && s.index >= half {
		s.midpointShown = true
		g.display(PathMission, g.mission[half:])
	}

	switch outcome := g.dispatcher.Poll(); {
	case outcome == types.OutcomeSucceeded:
	case outcome.Fatal():
		g.finish(StateCancelled, describe("waypoint goal", outcome, nil))
		return
	case outcome == types.OutcomeRecalled:
		log.Printf("GUIDANCE: Waypoint goal recalled, re-issuing")
		if s.activeGoal != nil {
			g.send(*s.activeGoal)
		}
		return
	default:
		return
	}

	if !s.scanComplete && s.index >= g.scanLength {
		s.scanComplete = true
		log.Printf("GUIDANCE: Search area complete after %d waypoints", s.index)
	}
	g.syncLanding()
	if s.missionComplete(g.cfg.RequireMarker) {
		g.landMission(StateComplete, "mission complete")
		return
	}
	if s.index >= len(g.mission) {
		g.landMission(StateIncomplete, fmt.Sprintf("route exhausted, outstanding %v", s.outstanding(g.cfg.RequireMarker)))
		return
	}

	g.advance()
}

// advance moves along the current leg: through its breadcrumbs when the
// planner found any, otherwise straight to the next mission waypoint.
func (g *Guidance) advance() {
	s := g.state

	if s.crumbs == nil {
		from, to := g.mission[s.index-1], g.mission[s.index]
		crumbs, err := g.refine(from, to)
		if g.revoked() {
			return
		}
		if err == nil {
			s.crumbs = pathplanner.NewBreadcrumbs(crumbs)
			g.setState(StatePathRefinement)
			g.display(PathBreadcrumbs, crumbs)
			wp, _ := s.crumbs.Next()
			g.sendWaypoint(wp)
			return
		}
		if !errors.Is(err, pathplanner.ErrNoSolution) {
			log.Printf("GUIDANCE: Planner failed, flying leg %d direct: %v", s.index, err)
		}
		g.sendWaypoint(to)
		s.index++
		return
	}

	if wp, ok := s.crumbs.Next(); ok {
		g.sendWaypoint(wp)
		return
	}
	s.crumbs = nil
	s.index++
	g.setState(StateCruising)
}

func (g *Guidance) refine(from, to types.Waypoint) ([]types.Waypoint, error) {
	if g.refiner == nil {
		return nil, pathplanner.ErrNoSolution
	}
	return g.refiner.Refine(g.authority, from, to)
}

// landMission lands at the landing location and ends the mission in state.
func (g *Guidance) landMission(state State, reason string) {
	s := g.state
	s.crumbs = nil
	log.Printf("GUIDANCE: %s, landing", reason)
	g.setState(StateLanding)

	if !g.flyLeg(g.authority, g.landingTarget(), "landing approach") {
		return
	}
	if !g.land(g.authority) {
		return
	}
	g.finish(state, reason)
}

func (g *Guidance) abort(reason string) {
	if g.state.terminal {
		return
	}
	if err := g.dispatcher.Cancel(); err != nil {
		log.Printf("GUIDANCE: Cancel failed: %v", err)
	}
	g.finish(StateCancelled, "aborted by operator: "+reason)
}

func (g *Guidance) sendWaypoint(wp types.Waypoint) {
	goal := g.gotoGoal(wp)
	g.state.activeGoal = &goal
	g.send(goal)
}

func (g *Guidance) send(goal types.FlightGoal) bool {
	if _, err := g.dispatcher.Send(g.authority, goal); err != nil {
		if g.revoked() {
			return false
		}
		g.finish(StateCancelled, describe("dispatch", types.OutcomeRejected, err))
		return false
	}
	return true
}

// flyLeg flies to target and waits for the outcome. It reports false when the
// leg did not succeed; a revoked authority returns quietly, anything else ends
// the mission.
func (g *Guidance) flyLeg(ctx context.Context, target types.Waypoint, leg string) bool {
	outcome, err := g.dispatcher.SendAndAwait(ctx, g.gotoGoal(target))
	return g.settle(outcome, err, leg)
}

func (g *Guidance) land(ctx context.Context) bool {
	outcome, err := g.dispatcher.SendAndAwait(ctx, g.landGoal())
	if !g.settle(outcome, err, "landing") {
		return false
	}
	log.Printf("GUIDANCE: Landing complete")
	return true
}

func (g *Guidance) settle(outcome types.GoalOutcome, err error, leg string) bool {
	if !g.state.failsafe && g.revoked() {
		return false
	}
	if err != nil || outcome != types.OutcomeSucceeded {
		g.finish(StateCancelled, describe(leg, outcome, err))
		return false
	}
	return true
}

// landingTarget is the latched landing location, else the last known pose,
// else the target of the last waypoint goal.
func (g *Guidance) landingTarget() types.Waypoint {
	s := g.state
	if loc, ok := g.landing.Load(); ok {
		return loc
	}
	if p, ok := g.pose.Load(); ok {
		log.Printf("GUIDANCE: No landing marker found, landing at current position")
		return types.WaypointAt(p)
	}
	if s.activeGoal != nil {
		return s.activeGoal.Target()
	}
	return g.mission[0]
}

func (g *Guidance) wait(d time.Duration) bool {
	if d <= 0 {
		return !g.revoked()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-g.authority.Done():
		return false
	}
}

func (g *Guidance) setState(next State) {
	s := g.state
	if s.state == next {
		return
	}
	prev := s.state
	s.state = next
	log.Printf("GUIDANCE: %v -> %v", prev, next)
	g.emit(types.MessageStateChanged, types.StateChanged{From: prev.String(), To: next.String()})
}

func (g *Guidance) finish(state State, reason string) {
	s := g.state
	if s.terminal {
		return
	}
	s.terminal = true
	g.setState(state)
	g.result = Result{State: state, Reason: reason}
	g.revoke()

	log.Printf("GUIDANCE: Mission ended %v: %s", state, reason)
	g.emit(types.MessageMissionEnded, types.MissionEnded{Reason: reason, Success: g.result.Success()})
	g.publishStatus()
}

func (g *Guidance) publishStatus() {
	s := g.state
	battery, _ := g.battery.Load()
	g.emit(types.MessageMissionStatus, types.MissionStatus{
		State:         s.state.String(),
		WaypointIndex: s.index,
		WaypointTotal: len(g.mission),
		Tasks:         s.taskFlags(),
		ScanComplete:  s.scanComplete,
		Failsafe:      s.failsafe,
		Battery:       battery.Percentage,
		Updated:       time.Now().UTC(),
	})
}

func (g *Guidance) emit(messageType string, payload interface{}) {
	if g.post == nil {
		return
	}
	g.post(types.CreateMessage(messageType, g.deviceID, g.deviceID, payload))
}

func (g *Guidance) display(name string, path []types.Waypoint) {
	if len(path) == 0 {
		return
	}
	g.observer.DisplayPath(name, path)
}

func (g *Guidance) gotoGoal(wp types.Waypoint) types.FlightGoal {
	return types.FlightGoal{
		Motion:             types.MotionGoTo,
		Position:           wp.Position(),
		Yaw:                wp.Yaw,
		VelocityHorizontal: g.cfg.LinearVelocity,
		VelocityVertical:   g.cfg.LinearVelocity,
		YawRate:            g.cfg.YawVelocity,
		PositionRadius:     g.cfg.PositionAccuracy,
		YawRange:           g.cfg.YawAccuracy,
		WaitForConvergence: true,
	}
}

func (g *Guidance) takeoffGoal() types.FlightGoal {
	return types.FlightGoal{
		Motion:             types.MotionTakeoff,
		Position:           types.Point{Z: g.cfg.TakeoffHeight},
		VelocityVertical:   g.cfg.TakeoffSpeed,
		PositionRadius:     g.cfg.TakeoffRadius,
		YawRange:           g.cfg.TakeoffYawRange,
		WaitForConvergence: true,
	}
}

func (g *Guidance) landGoal() types.FlightGoal {
	return types.FlightGoal{
		Motion:           types.MotionLand,
		VelocityVertical: g.cfg.LandingSpeed,
	}
}

func describe(phase string, outcome types.GoalOutcome, err error) string {
	if err != nil {
		return fmt.Sprintf("%s failed: %v", phase, err)
	}
	return fmt.Sprintf("%s ended %v: %s", phase, outcome, explain(outcome))
}

func explain(outcome types.GoalOutcome) string {
	switch outcome {
	case types.OutcomePending, types.OutcomeActive:
		return "goal still in progress"
	case types.OutcomePreempted:
		return "goal was cancelled"
	case types.OutcomeAborted:
		return "executor aborted the goal"
	case types.OutcomeRecalled:
		return "goal was recalled before it started"
	case types.OutcomeRejected:
		return "executor rejected the goal"
	case types.OutcomeSucceeded:
		return "goal reached"
	default:
		return "unknown goal status"
	}
}

type noopObserver struct{}

func (noopObserver) DisplayPath(string, []types.Waypoint) {}
