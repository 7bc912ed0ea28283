package guidance

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiiuae/survey-guidance/internal/flight"
	"github.com/tiiuae/survey-guidance/internal/pathplanner"
	"github.com/tiiuae/survey-guidance/internal/types"
)

// scriptedExecutor resolves goals as soon as they are submitted unless hold
// keeps them active.
type scriptedExecutor struct {
	mu      sync.Mutex
	d       *flight.Dispatcher
	goals   []types.FlightGoal
	ids     []string
	hold    func(types.FlightGoal) bool
	outcome func(types.FlightGoal) types.GoalOutcome
}

func (e *scriptedExecutor) Submit(ctx context.Context, id string, goal types.FlightGoal) error {
	e.mu.Lock()
	e.goals = append(e.goals, goal)
	e.ids = append(e.ids, id)
	held := e.hold != nil && e.hold(goal)
	outcome := types.OutcomeSucceeded
	if e.outcome != nil {
		outcome = e.outcome(goal)
	}
	e.mu.Unlock()

	if held {
		e.d.HandleStatus(id, types.OutcomeActive)
		return nil
	}
	e.d.HandleStatus(id, outcome)
	return nil
}

func (e *scriptedExecutor) Cancel(id string) error {
	e.d.HandleStatus(id, types.OutcomePreempted)
	return nil
}

// release resolves the most recent goal as Succeeded.
func (e *scriptedExecutor) release() {
	e.mu.Lock()
	id := e.ids[len(e.ids)-1]
	e.mu.Unlock()
	e.d.HandleStatus(id, types.OutcomeSucceeded)
}

func (e *scriptedExecutor) flown() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]string, len(e.goals))
	for i, g := range e.goals {
		if g.Motion == types.MotionGoTo {
			out[i] = fmt.Sprintf("goto %v", g.Position)
		} else {
			out[i] = g.Motion.String()
		}
	}
	return out
}

type legKey struct{ fromX, fromY, toX, toY float64 }

type fakeRefiner struct {
	mu    sync.Mutex
	legs  map[legKey][]types.Waypoint
	calls []legKey
}

func (r *fakeRefiner) Refine(ctx context.Context, start, end types.Waypoint) ([]types.Waypoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := legKey{start.X, start.Y, end.X, end.Y}
	r.calls = append(r.calls, key)
	if crumbs, ok := r.legs[key]; ok {
		return crumbs, nil
	}
	return nil, pathplanner.ErrNoSolution
}

type fakeDeployer struct {
	mu    sync.Mutex
	slots []int
}

func (d *fakeDeployer) Deploy(ctx context.Context, slot int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slots = append(d.slots, slot)
	return nil
}

func (d *fakeDeployer) deployed() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.slots...)
}

type fakeObserver struct {
	mu    sync.Mutex
	paths map[string][][]types.Waypoint
}

func (o *fakeObserver) DisplayPath(name string, path []types.Waypoint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.paths == nil {
		o.paths = make(map[string][][]types.Waypoint)
	}
	o.paths[name] = append(o.paths[name], path)
}

type recorder struct {
	mu   sync.Mutex
	msgs []types.Message
}

func (r *recorder) post(msg types.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) ofType(messageType string) []types.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []types.Message
	for _, m := range r.msgs {
		if m.MessageType == messageType {
			out = append(out, m)
		}
	}
	return out
}

// leftDiversions counts transitions out of the diverting state.
func (r *recorder) leftDiversions() int {
	n := 0
	for _, m := range r.ofType(types.MessageStateChanged) {
		if m.Message.(types.StateChanged).From == StateDiverting.String() {
			n++
		}
	}
	return n
}

type harness struct {
	g        *Guidance
	exec     *scriptedExecutor
	refiner  *fakeRefiner
	deployer *fakeDeployer
	observer *fakeObserver
	posts    *recorder
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Tasks = nil
	cfg.RequireMarker = false
	cfg.SettleTime = 0
	cfg.PostDeployTime = 0
	cfg.TickInterval = time.Millisecond
	cfg.StatusInterval = time.Hour
	return cfg
}

// start wires a guidance loop to scripted collaborators. setup runs before
// the loop starts.
func start(t *testing.T, cfg Config, mission types.Mission, setup func(h *harness)) *harness {
	t.Helper()

	h := &harness{
		exec:     &scriptedExecutor{},
		refiner:  &fakeRefiner{legs: make(map[legKey][]types.Waypoint)},
		deployer: &fakeDeployer{},
		observer: &fakeObserver{},
		posts:    &recorder{},
	}
	d := flight.NewDispatcher(h.exec)
	h.exec.d = d
	h.g = New("drone-1", cfg, mission, d, h.refiner, h.deployer, h.observer)
	d.Observe(h.g)

	if setup != nil {
		setup(h)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	h.g.Run(ctx, &wg, h.posts.post)
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return h
}

func (h *harness) wait(t *testing.T) Result {
	t.Helper()
	select {
	case <-h.g.Done():
		return h.g.Result()
	case <-time.After(5 * time.Second):
		t.Fatal("mission did not end")
		return Result{}
	}
}

func (h *harness) waitFor(t *testing.T, goal string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, g := range h.exec.flown() {
			if g == goal {
				return true
			}
		}
		return false
	}, 5*time.Second, time.Millisecond, "goal %s never issued", goal)
}

func pose(x, y, z float64) types.Message {
	return types.CreateMessage(types.MessageVehiclePose, "test", "test", types.VehiclePose{Position: types.Point{X: x, Y: y, Z: z}})
}

func msg(messageType string, payload interface{}) types.Message {
	return types.CreateMessage(messageType, "test", "test", payload)
}

func holdAt(x float64) func(types.FlightGoal) bool {
	return func(g types.FlightGoal) bool {
		return g.Motion == types.MotionGoTo && g.Position.X == x
	}
}

// holdDeployLeg keeps the waypoint at x and every deploy leg active.
func holdDeployLeg(x, deployAltitude float64) func(types.FlightGoal) bool {
	return func(g types.FlightGoal) bool {
		return g.Motion == types.MotionGoTo && (g.Position.X == x || g.Position.Z == deployAltitude)
	}
}

func assertGoals(t *testing.T, want, got []string) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("goal sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestGuidance_TwoWaypointMissionWithoutPlanner(t *testing.T) {
	mission := types.Mission{{X: 0, Y: 0, Z: 3}, {X: 5, Y: 0, Z: 3}}
	h := start(t, testConfig(), mission, func(h *harness) {
		h.g.Receive(pose(5, 0, 3))
	})

	res := h.wait(t)
	assert.Equal(t, StateComplete, res.State)
	assert.Equal(t, "mission complete", res.Reason)

	assertGoals(t, []string{
		"takeoff",
		"goto [0.00;0.00;3.00]",
		"goto [5.00;0.00;3.00]",
		"goto [5.00;0.00;3.00]",
		"land",
	}, h.exec.flown())

	assert.Equal(t, []legKey{{0, 0, 5, 0}}, h.refiner.calls)

	ended := h.posts.ofType(types.MessageMissionEnded)
	require.Len(t, ended, 1)
	assert.True(t, ended[0].Message.(types.MissionEnded).Success)

	h.observer.mu.Lock()
	defer h.observer.mu.Unlock()
	assert.Equal(t, [][]types.Waypoint{mission[:1], mission[1:]}, h.observer.paths[PathMission])
}

func TestGuidance_BreadcrumbsFlownBeforeAdvancing(t *testing.T) {
	mission := types.Mission{{X: 0, Y: 0, Z: 3}, {X: 6, Y: 0, Z: 3}, {X: 6, Y: 6, Z: 3}}
	crumbs := []types.Waypoint{{X: 2, Y: 1, Z: 3}, {X: 4, Y: 1, Z: 3}, {X: 6, Y: 0.5, Z: 3}}

	h := start(t, testConfig(), mission, func(h *harness) {
		h.refiner.legs[legKey{0, 0, 6, 0}] = crumbs
		h.g.Receive(pose(6, 6, 3))
	})

	res := h.wait(t)
	assert.Equal(t, StateComplete, res.State)

	// the planner's crumbs replace the leg's end waypoint
	assertGoals(t, []string{
		"takeoff",
		"goto [0.00;0.00;3.00]",
		"goto [2.00;1.00;3.00]",
		"goto [4.00;1.00;3.00]",
		"goto [6.00;0.50;3.00]",
		"goto [6.00;6.00;3.00]",
		"goto [6.00;6.00;3.00]",
		"land",
	}, h.exec.flown())
	assert.Equal(t, []legKey{{0, 0, 6, 0}, {6, 0, 6, 6}}, h.refiner.calls)

	h.observer.mu.Lock()
	defer h.observer.mu.Unlock()
	assert.Equal(t, [][]types.Waypoint{crumbs}, h.observer.paths[PathBreadcrumbs])
}

func TestGuidance_FailsafeLandsAtMarker(t *testing.T) {
	mission := types.Mission{{X: 0, Y: 0, Z: 3}, {X: 5, Y: 0, Z: 3}, {X: 10, Y: 0, Z: 3}}
	h := start(t, testConfig(), mission, func(h *harness) {
		h.exec.hold = holdAt(10)
	})
	h.waitFor(t, "goto [10.00;0.00;3.00]")

	h.g.Receive(pose(7, 1, 3))
	h.g.Receive(msg(types.MessageTargetOffset, types.Offset{Horizontal: 0.5, Vertical: 0.5}))
	h.g.Receive(msg(types.MessageMarkerDetected, types.MarkerDetected{ID: 1}))
	require.Eventually(t, func() bool {
		return len(h.posts.ofType(types.MessageLandingLatched)) == 1
	}, 5*time.Second, time.Millisecond)

	h.g.Receive(msg(types.MessageBatteryState, types.BatteryState{Percentage: 0.5}))
	h.g.Receive(msg(types.MessageBatteryState, types.BatteryState{Percentage: 0.05}))

	res := h.wait(t)
	assert.Equal(t, StateFailsafeLanding, res.State)

	// detections after the failsafe must not produce goals
	h.g.Receive(pose(7, 1, 3))
	h.g.Receive(msg(types.MessageObjectDetected, types.ObjectDetected{Label: "Person"}))

	assertGoals(t, []string{
		"takeoff",
		"goto [0.00;0.00;3.00]",
		"goto [5.00;0.00;3.00]",
		"goto [10.00;0.00;3.00]",
		"goto [7.50;1.50;3.00]",
		"land",
	}, h.exec.flown())
	assert.Len(t, h.posts.ofType(types.MessageSuspendTelemetry), 1)
}

func TestGuidance_MarkerSeenDuringDiversionLatches(t *testing.T) {
	cfg := testConfig()
	cfg.Tasks = []Task{{Label: "Person", Slot: 0}}
	mission := types.Mission{{X: 0, Y: 0, Z: 3}, {X: 10, Y: 0, Z: 3}}

	h := start(t, cfg, mission, func(h *harness) {
		h.exec.hold = holdDeployLeg(10, cfg.DeployAltitude)
	})
	h.waitFor(t, "goto [10.00;0.00;3.00]")

	h.g.Receive(pose(5, 0, 3))
	h.g.Receive(msg(types.MessageObjectDetected, types.ObjectDetected{Label: "Person"}))
	h.waitFor(t, "goto [5.00;0.00;1.00]")

	// the loop is blocked on the deploy leg while the marker passes by
	h.g.Receive(pose(2, 2, 3))
	h.g.Receive(msg(types.MessageMarkerDetected, types.MarkerDetected{ID: cfg.MarkerID}))
	h.g.Receive(pose(6, 6, 3))
	h.g.Receive(msg(types.MessageMarkerDetected, types.MarkerDetected{ID: cfg.MarkerID}))
	h.g.Receive(msg(types.MessageBatteryState, types.BatteryState{Percentage: 0.01}))

	res := h.wait(t)
	assert.Equal(t, StateFailsafeLanding, res.State)
	assert.False(t, res.Success())

	// no return leg, no re-issued waypoint and no deploy after the failsafe
	assertGoals(t, []string{
		"takeoff",
		"goto [0.00;0.00;3.00]",
		"goto [10.00;0.00;3.00]",
		"goto [5.00;0.00;1.00]",
		"goto [2.00;2.00;3.00]",
		"land",
	}, h.exec.flown())
	assert.Empty(t, h.deployer.deployed())

	latched := h.posts.ofType(types.MessageLandingLatched)
	require.Len(t, latched, 1)
	assert.Equal(t, types.Waypoint{X: 2, Y: 2, Z: 3}, latched[0].Message.(types.LandingLocationLatched).Location)
}

func TestGuidance_MarkerAfterFailsafeIgnored(t *testing.T) {
	mission := types.Mission{{X: 0, Y: 0, Z: 3}, {X: 10, Y: 0, Z: 3}}
	h := start(t, testConfig(), mission, func(h *harness) {
		h.exec.hold = func(g types.FlightGoal) bool {
			return g.Motion == types.MotionGoTo && g.Position.X != 0
		}
	})
	h.waitFor(t, "goto [10.00;0.00;3.00]")

	h.g.Receive(pose(3, 3, 3))
	h.g.Receive(msg(types.MessageLandNow, types.LandNow{}))
	h.waitFor(t, "goto [3.00;3.00;3.00]")

	h.g.Receive(pose(8, 8, 3))
	h.g.Receive(msg(types.MessageMarkerDetected, types.MarkerDetected{ID: 1}))
	h.exec.release()

	res := h.wait(t)
	assert.Equal(t, StateFailsafeLanding, res.State)
	assert.Empty(t, h.posts.ofType(types.MessageLandingLatched))
}

func TestGuidance_FailsafeFallsBackToPose(t *testing.T) {
	mission := types.Mission{{X: 0, Y: 0, Z: 3}, {X: 10, Y: 0, Z: 3}}
	h := start(t, testConfig(), mission, func(h *harness) {
		h.exec.hold = holdAt(10)
	})
	h.waitFor(t, "goto [10.00;0.00;3.00]")

	h.g.Receive(pose(3, 2, 3))
	h.g.Receive(msg(types.MessageBatteryState, types.BatteryState{Percentage: 0.01}))

	res := h.wait(t)
	assert.Equal(t, StateFailsafeLanding, res.State)
	flown := h.exec.flown()
	assert.Equal(t, []string{"goto [3.00;2.00;3.00]", "land"}, flown[len(flown)-2:])
}

func TestGuidance_LandNowEngagesFailsafe(t *testing.T) {
	mission := types.Mission{{X: 0, Y: 0, Z: 3}, {X: 10, Y: 0, Z: 3}}
	h := start(t, testConfig(), mission, func(h *harness) {
		h.exec.hold = holdAt(10)
		h.g.Receive(pose(1, 1, 3))
	})
	h.waitFor(t, "goto [10.00;0.00;3.00]")

	h.g.Receive(msg(types.MessageLandNow, types.LandNow{}))
	h.g.Receive(msg(types.MessageLandNow, types.LandNow{}))

	res := h.wait(t)
	assert.Equal(t, StateFailsafeLanding, res.State)

	lands := 0
	for _, g := range h.exec.flown() {
		if g == "land" {
			lands++
		}
	}
	assert.Equal(t, 1, lands)
}

func TestGuidance_DiversionDeploysOnceAndResumes(t *testing.T) {
	cfg := testConfig()
	cfg.Tasks = []Task{{Label: "Person", Slot: 0}, {Label: "Backpack", Slot: 1}}
	mission := types.Mission{{X: 0, Y: 0, Z: 3}, {X: 5, Y: 0, Z: 3}, {X: 10, Y: 0, Z: 3}}

	h := start(t, cfg, mission, func(h *harness) {
		h.exec.hold = holdAt(10)
	})
	h.waitFor(t, "goto [10.00;0.00;3.00]")

	h.g.Receive(pose(5, 0, 3))
	h.g.Receive(msg(types.MessageTargetOffset, types.Offset{Horizontal: 0.5, Vertical: -0.25}))
	h.g.Receive(msg(types.MessageObjectDetected, types.ObjectDetected{Label: "Person"}))
	require.Eventually(t, func() bool { return h.posts.leftDiversions() == 1 }, 5*time.Second, time.Millisecond)

	// the same label again finds no pending task: detour without a deploy
	h.g.Receive(msg(types.MessageObjectDetected, types.ObjectDetected{Label: "Person"}))
	require.Eventually(t, func() bool { return h.posts.leftDiversions() == 2 }, 5*time.Second, time.Millisecond)

	assert.Equal(t, []int{0}, h.deployer.deployed())
	assertGoals(t, []string{
		"takeoff",
		"goto [0.00;0.00;3.00]",
		"goto [5.00;0.00;3.00]",
		"goto [10.00;0.00;3.00]",
		"goto [5.50;-0.25;1.00]",
		"goto [5.00;0.00;3.00]",
		"goto [10.00;0.00;3.00]",
		"goto [5.00;0.00;3.00]",
		"goto [10.00;0.00;3.00]",
	}, h.exec.flown())

	deployed := h.posts.ofType(types.MessagePayloadDeployed)
	require.Len(t, deployed, 1)
	assert.Equal(t, "Person", deployed[0].Message.(types.PayloadDeployed).Label)
}

func TestGuidance_DetectionDuringDiversionIgnored(t *testing.T) {
	cfg := testConfig()
	cfg.Tasks = []Task{{Label: "Person", Slot: 0}}
	mission := types.Mission{{X: 0, Y: 0, Z: 3}, {X: 10, Y: 0, Z: 3}}

	h := start(t, cfg, mission, func(h *harness) {
		h.exec.hold = holdDeployLeg(10, cfg.DeployAltitude)
	})
	h.waitFor(t, "goto [10.00;0.00;3.00]")

	h.g.Receive(pose(5, 0, 3))
	h.g.Receive(msg(types.MessageObjectDetected, types.ObjectDetected{Label: "Person"}))
	h.waitFor(t, "goto [5.00;0.00;1.00]")

	h.g.Receive(msg(types.MessageObjectDetected, types.ObjectDetected{Label: "Backpack"}))
	h.exec.release()

	require.Eventually(t, func() bool { return h.posts.leftDiversions() == 1 }, 5*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, h.posts.leftDiversions())
	assert.Equal(t, []int{0}, h.deployer.deployed())
	assertGoals(t, []string{
		"takeoff",
		"goto [0.00;0.00;3.00]",
		"goto [10.00;0.00;3.00]",
		"goto [5.00;0.00;1.00]",
		"goto [5.00;0.00;3.00]",
		"goto [10.00;0.00;3.00]",
	}, h.exec.flown())
}

func TestGuidance_RecalledGoalReissued(t *testing.T) {
	mission := types.Mission{{X: 0, Y: 0, Z: 3}, {X: 5, Y: 0, Z: 3}}
	recalled := false
	h := start(t, testConfig(), mission, func(h *harness) {
		h.g.Receive(pose(5, 0, 3))
		h.exec.outcome = func(g types.FlightGoal) types.GoalOutcome {
			if g.Position.X == 5 && !recalled {
				recalled = true
				return types.OutcomeRecalled
			}
			return types.OutcomeSucceeded
		}
	})

	res := h.wait(t)
	assert.Equal(t, StateComplete, res.State)
	assertGoals(t, []string{
		"takeoff",
		"goto [0.00;0.00;3.00]",
		"goto [5.00;0.00;3.00]",
		"goto [5.00;0.00;3.00]",
		"goto [5.00;0.00;3.00]",
		"land",
	}, h.exec.flown())
}

func TestGuidance_IgnoreUnmatchedDetections(t *testing.T) {
	cfg := testConfig()
	cfg.IgnoreUnmatched = true
	cfg.Tasks = []Task{{Label: "Person", Slot: 0}}
	mission := types.Mission{{X: 0, Y: 0, Z: 3}, {X: 10, Y: 0, Z: 3}}

	h := start(t, cfg, mission, func(h *harness) {
		h.exec.hold = holdAt(10)
		h.g.Receive(pose(1, 0, 3))
	})
	h.waitFor(t, "goto [10.00;0.00;3.00]")
	before := len(h.exec.flown())

	h.g.Receive(msg(types.MessageObjectDetected, types.ObjectDetected{Label: "Dog"}))
	time.Sleep(50 * time.Millisecond)

	assert.Len(t, h.exec.flown(), before)
	assert.Empty(t, h.deployer.deployed())
	assert.Zero(t, h.posts.leftDiversions())
}

func TestGuidance_ReturnLegFailureCancels(t *testing.T) {
	cfg := testConfig()
	mission := types.Mission{{X: 0, Y: 0, Z: 3}, {X: 10, Y: 0, Z: 3}}

	h := start(t, cfg, mission, func(h *harness) {
		h.exec.hold = holdAt(10)
		h.exec.outcome = func(g types.FlightGoal) types.GoalOutcome {
			if g.Position.X == 4 {
				return types.OutcomeAborted
			}
			return types.OutcomeSucceeded
		}
	})
	h.waitFor(t, "goto [10.00;0.00;3.00]")

	h.g.Receive(pose(4, 0, 3))
	h.g.Receive(msg(types.MessageObjectDetected, types.ObjectDetected{Label: "Anything"}))

	res := h.wait(t)
	assert.Equal(t, StateCancelled, res.State)
	assert.Contains(t, res.Reason, "return leg")
}

func TestGuidance_TakeoffRejectedCancels(t *testing.T) {
	h := start(t, testConfig(), types.Mission{{X: 0, Y: 0, Z: 3}}, func(h *harness) {
		h.exec.outcome = func(g types.FlightGoal) types.GoalOutcome {
			if g.Motion == types.MotionTakeoff {
				return types.OutcomeRejected
			}
			return types.OutcomeSucceeded
		}
	})

	res := h.wait(t)
	assert.Equal(t, StateCancelled, res.State)
	assert.Contains(t, res.Reason, "takeoff")
	assert.Equal(t, []string{"takeoff"}, h.exec.flown())
}

func TestGuidance_WaypointAbortedCancels(t *testing.T) {
	mission := types.Mission{{X: 0, Y: 0, Z: 3}, {X: 5, Y: 0, Z: 3}, {X: 10, Y: 0, Z: 3}}
	h := start(t, testConfig(), mission, func(h *harness) {
		h.exec.outcome = func(g types.FlightGoal) types.GoalOutcome {
			if g.Position.X == 5 {
				return types.OutcomeAborted
			}
			return types.OutcomeSucceeded
		}
	})

	res := h.wait(t)
	assert.Equal(t, StateCancelled, res.State)
	assert.Equal(t, "goto [5.00;0.00;3.00]", h.exec.flown()[len(h.exec.flown())-1])

	ended := h.posts.ofType(types.MessageMissionEnded)
	require.Len(t, ended, 1)
	assert.False(t, ended[0].Message.(types.MissionEnded).Success)
}

func TestGuidance_AbortMission(t *testing.T) {
	mission := types.Mission{{X: 0, Y: 0, Z: 3}, {X: 10, Y: 0, Z: 3}}
	h := start(t, testConfig(), mission, func(h *harness) {
		h.exec.hold = holdAt(10)
	})
	h.waitFor(t, "goto [10.00;0.00;3.00]")

	h.g.Receive(msg(types.MessageAbortMission, types.AbortMission{Reason: "weather"}))

	res := h.wait(t)
	assert.Equal(t, StateCancelled, res.State)
	assert.Equal(t, "aborted by operator: weather", res.Reason)
}

func TestGuidance_RouteExhaustedWithTasksOutstanding(t *testing.T) {
	cfg := testConfig()
	cfg.Tasks = []Task{{Label: "Person", Slot: 0}}
	cfg.RequireMarker = true
	mission := types.Mission{{X: 0, Y: 0, Z: 3}, {X: 5, Y: 0, Z: 3}}

	h := start(t, cfg, mission, func(h *harness) {
		h.g.Receive(pose(5, 0, 3))
	})

	res := h.wait(t)
	assert.Equal(t, StateIncomplete, res.State)
	assert.False(t, res.Success())
	assert.Equal(t, "route exhausted, outstanding [Person landing-marker]", res.Reason)
	assertGoals(t, []string{
		"takeoff",
		"goto [0.00;0.00;3.00]",
		"goto [5.00;0.00;3.00]",
		"goto [5.00;0.00;3.00]",
		"land",
	}, h.exec.flown())

	ended := h.posts.ofType(types.MessageMissionEnded)
	require.Len(t, ended, 1)
	assert.False(t, ended[0].Message.(types.MissionEnded).Success)
}

func TestGuidance_ScanLengthEndsMissionEarly(t *testing.T) {
	cfg := testConfig()
	cfg.ScanLength = 2
	mission := types.Mission{{X: 0, Y: 0, Z: 3}, {X: 5, Y: 0, Z: 3}, {X: 5, Y: 5, Z: 3}, {X: 0, Y: 5, Z: 3}}

	h := start(t, cfg, mission, func(h *harness) {
		h.g.Receive(pose(5, 0, 3))
	})

	res := h.wait(t)
	assert.Equal(t, StateComplete, res.State)
	assert.NotContains(t, h.exec.flown(), "goto [5.00;5.00;3.00]")
}

func TestFailsafeMonitor(t *testing.T) {
	t.Parallel()

	f := NewFailsafeMonitor(0.1)
	assert.False(t, f.Update(0.5))
	assert.False(t, f.Update(0.2))
	assert.True(t, f.Update(0.09))
	assert.False(t, f.Update(0.08))
	assert.False(t, f.Update(0.5))
	assert.False(t, f.Update(0.05))
	assert.True(t, f.Engaged())
	assert.False(t, f.Engage())
}

func TestFailsafeMonitor_Engage(t *testing.T) {
	t.Parallel()

	f := NewFailsafeMonitor(0.1)
	assert.True(t, f.Engage())
	assert.True(t, f.Engaged())
	assert.False(t, f.Update(0.01))
}

func TestMissionState_Tasks(t *testing.T) {
	t.Parallel()

	s := newMissionState([]Task{{Label: "Person", Slot: 0}, {Label: "Backpack", Slot: 1}})

	task, ok := s.pendingTask("Backpack")
	require.True(t, ok)
	assert.Equal(t, 1, task.Slot)

	_, ok = s.pendingTask("Dog")
	assert.False(t, ok)

	s.tasksDone["Backpack"] = true
	_, ok = s.pendingTask("Backpack")
	assert.False(t, ok)

	s.scanComplete = true
	assert.False(t, s.missionComplete(false))
	s.tasksDone["Person"] = true
	assert.True(t, s.missionComplete(false))
	assert.False(t, s.missionComplete(true))
	s.markerFound = true
	assert.True(t, s.missionComplete(true))
	assert.Empty(t, s.outstanding(true))
}

func TestOnce_KeepsFirstValue(t *testing.T) {
	t.Parallel()

	var o once[types.Waypoint]
	_, ok := o.Load()
	assert.False(t, ok)

	assert.True(t, o.Offer(types.Waypoint{X: 1}))
	assert.False(t, o.Offer(types.Waypoint{X: 2}))

	wp, ok := o.Load()
	require.True(t, ok)
	assert.Equal(t, 1.0, wp.X)
}
