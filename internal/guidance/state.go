package guidance

import (
	"fmt"
	"sort"
	"time"

	"github.com/tiiuae/survey-guidance/internal/pathplanner"
	"github.com/tiiuae/survey-guidance/internal/types"
)

type State int

const (
	StateIdle State = iota
	StateTakingOff
	StateCruising
	StatePathRefinement
	StateDiverting
	StateLanding
	StateFailsafeLanding
	StateComplete
	// StateIncomplete is a landing after the route ran out with objectives
	// outstanding.
	StateIncomplete
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTakingOff:
		return "taking-off"
	case StateCruising:
		return "cruising"
	case StatePathRefinement:
		return "path-refinement"
	case StateDiverting:
		return "diverting"
	case StateLanding:
		return "landing"
	case StateFailsafeLanding:
		return "failsafe-landing"
	case StateComplete:
		return "complete"
	case StateIncomplete:
		return "incomplete"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Task is a payload delivery the mission has to perform once.
type Task struct {
	Label string
	Slot  int
}

// missionState is owned by the guidance loop. Progress only moves forward.
type missionState struct {
	state State
	index int

	tasks        []Task
	tasksDone    map[string]bool
	markerFound  bool
	scanComplete bool

	crumbs     *pathplanner.Breadcrumbs
	activeGoal *types.FlightGoal

	diverting      bool
	failsafe       bool
	terminal       bool
	midpointShown  bool
	diversionEnded time.Time
}

func newMissionState(tasks []Task) *missionState {
	return &missionState{
		state:     StateIdle,
		tasks:     tasks,
		tasksDone: make(map[string]bool, len(tasks)),
	}
}

// pendingTask returns the first task for label that has not been done.
func (s *missionState) pendingTask(label string) (Task, bool) {
	for _, t := range s.tasks {
		if t.Label == label && !s.tasksDone[t.Label] {
			return t, true
		}
	}
	return Task{}, false
}

func (s *missionState) tasksComplete() bool {
	for _, t := range s.tasks {
		if !s.tasksDone[t.Label] {
			return false
		}
	}
	return true
}

func (s *missionState) missionComplete(requireMarker bool) bool {
	if requireMarker && !s.markerFound {
		return false
	}
	return s.scanComplete && s.tasksComplete()
}

// outstanding lists what keeps the mission from completing.
func (s *missionState) outstanding(requireMarker bool) []string {
	var out []string
	for _, t := range s.tasks {
		if !s.tasksDone[t.Label] {
			out = append(out, t.Label)
		}
	}
	if requireMarker && !s.markerFound {
		out = append(out, "landing-marker")
	}
	if !s.scanComplete {
		out = append(out, "scan")
	}
	return out
}

func (s *missionState) taskFlags() map[string]bool {
	flags := make(map[string]bool, len(s.tasks)+2)
	for _, t := range s.tasks {
		flags[t.Label] = s.tasksDone[t.Label]
	}
	flags["landing-marker"] = s.markerFound
	return flags
}

func sortedLabels(tasks []Task) []string {
	labels := make([]string, 0, len(tasks))
	for _, t := range tasks {
		labels = append(labels, t.Label)
	}
	sort.Strings(labels)
	return labels
}
