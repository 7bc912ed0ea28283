package types

import (
	"fmt"
	"strings"
	"time"
)

// Message types carried on the bus.
const (
	MessageVehiclePose      = "vehicle-pose"
	MessageBatteryState     = "battery-state"
	MessageTargetOffset     = "target-offset"
	MessageObjectDetected   = "object-detected"
	MessageMarkerDetected   = "marker-detected"
	MessageSuspendTelemetry = "suspend-telemetry"
	MessageGoalSent         = "goal-sent"
	MessageGoalResolved     = "goal-resolved"
	MessageStateChanged     = "state-changed"
	MessagePayloadDeployed  = "payload-deployed"
	MessageLandingLatched   = "landing-location"
	MessageMissionEnded     = "mission-ended"
	MessageMissionStatus    = "mission-status"
	MessageLandNow          = "land-now"
	MessageAbortMission     = "abort-mission"
)

type Motion uint8

const (
	MotionTakeoff Motion = iota
	MotionGoTo
	MotionLand
)

func (m Motion) String() string {
	switch m {
	case MotionTakeoff:
		return "takeoff"
	case MotionGoTo:
		return "goto"
	case MotionLand:
		return "land"
	default:
		return fmt.Sprintf("Motion(%d)", uint8(m))
	}
}

func (m Motion) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Motion) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "takeoff":
		*m = MotionTakeoff
	case "goto":
		*m = MotionGoTo
	case "land":
		*m = MotionLand
	default:
		return fmt.Errorf("unknown motion %q", string(b))
	}
	return nil
}

// FlightGoal is one motion command for the flight executor.
type FlightGoal struct {
	Motion             Motion  `json:"motion"`
	Position           Point   `json:"position"`
	Yaw                float64 `json:"yaw"`
	VelocityHorizontal float64 `json:"velocity_horizontal"`
	VelocityVertical   float64 `json:"velocity_vertical"`
	YawRate            float64 `json:"yawrate"`
	PositionRadius     float64 `json:"position_radius"`
	YawRange           float64 `json:"yaw_range"`
	WaitForConvergence bool    `json:"wait_for_convergence"`
}

// Target returns the goal position and yaw as a waypoint.
func (g FlightGoal) Target() Waypoint {
	return Waypoint{X: g.Position.X, Y: g.Position.Y, Z: g.Position.Z, Yaw: g.Yaw}
}

// GoalOutcome values share their numbering with actionlib's GoalStatus.
type GoalOutcome uint8

const (
	OutcomePending    GoalOutcome = 0
	OutcomeActive     GoalOutcome = 1
	OutcomePreempted  GoalOutcome = 2
	OutcomeSucceeded  GoalOutcome = 3
	OutcomeAborted    GoalOutcome = 4
	OutcomeRejected   GoalOutcome = 5
	outcomePreempting GoalOutcome = 6
	outcomeRecalling  GoalOutcome = 7
	OutcomeRecalled   GoalOutcome = 8
	OutcomeLost       GoalOutcome = 9
)

// ParseGoalOutcome maps a raw status code. Transitional codes collapse to Active.
func ParseGoalOutcome(code int) (GoalOutcome, error) {
	switch o := GoalOutcome(code); o {
	case OutcomePending, OutcomeActive, OutcomePreempted, OutcomeSucceeded,
		OutcomeAborted, OutcomeRejected, OutcomeRecalled, OutcomeLost:
		return o, nil
	case outcomePreempting, outcomeRecalling:
		return OutcomeActive, nil
	}
	return OutcomeLost, fmt.Errorf("unknown goal status %d", code)
}

func (o GoalOutcome) String() string {
	switch o {
	case OutcomePending:
		return "PENDING"
	case OutcomeActive:
		return "ACTIVE"
	case OutcomePreempted:
		return "PREEMPTED"
	case OutcomeSucceeded:
		return "SUCCEEDED"
	case OutcomeAborted:
		return "ABORTED"
	case OutcomeRejected:
		return "REJECTED"
	case OutcomeRecalled:
		return "RECALLED"
	case OutcomeLost:
		return "LOST"
	default:
		return fmt.Sprintf("GoalOutcome(%d)", uint8(o))
	}
}

// Terminal reports whether the executor is finished with the goal.
func (o GoalOutcome) Terminal() bool {
	switch o {
	case OutcomePreempted, OutcomeSucceeded, OutcomeAborted, OutcomeRejected, OutcomeRecalled:
		return true
	}
	return false
}

// Fatal reports whether the outcome ends the mission when it was not asked for.
func (o GoalOutcome) Fatal() bool {
	return o == OutcomePreempted || o == OutcomeAborted || o == OutcomeRejected
}

type Offset struct {
	Horizontal float64 `json:"horizontal"`
	Vertical   float64 `json:"vertical"`
}

type BatteryState struct {
	Percentage float64 `json:"percentage"`
	Charge     float64 `json:"charge"`
	Voltage    float64 `json:"voltage"`
}

type VehiclePose struct {
	Position Point `json:"position"`
}

// MarkerPixels is the image-space centre of a marker or object.
type MarkerPixels struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type ObjectDetected struct {
	Label string `json:"label"`
}

type MarkerDetected struct {
	ID int `json:"id"`
}

type SuspendTelemetry struct{}

type LandNow struct{}

type AbortMission struct {
	Reason string `json:"reason"`
}

type GoalSent struct {
	GoalID string     `json:"goal_id"`
	Goal   FlightGoal `json:"goal"`
}

type GoalResolved struct {
	GoalID  string      `json:"goal_id"`
	Outcome GoalOutcome `json:"outcome"`
}

type StateChanged struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type PayloadDeployed struct {
	Label string   `json:"label"`
	Slot  int      `json:"slot"`
	At    Waypoint `json:"at"`
}

type LandingLocationLatched struct {
	MarkerID int      `json:"marker_id"`
	Location Waypoint `json:"location"`
}

type MissionEnded struct {
	Reason  string `json:"reason"`
	Success bool   `json:"success"`
}

// MissionStatus is the periodic progress summary sent to the ground station.
type MissionStatus struct {
	State         string          `json:"state"`
	WaypointIndex int             `json:"waypoint_index"`
	WaypointTotal int             `json:"waypoint_total"`
	Tasks         map[string]bool `json:"tasks"`
	ScanComplete  bool            `json:"scan_complete"`
	Failsafe      bool            `json:"failsafe"`
	Battery       float64         `json:"battery"`
	Updated       time.Time       `json:"updated"`
}
