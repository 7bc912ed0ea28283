package waypoints

import (
	"math"

	"github.com/tiiuae/survey-guidance/internal/types"
)

// FieldHalfWidth is half the side of the square survey field in metres.
const FieldHalfWidth = 4.0

// Lane centre lines for the 3 to 7 lane patterns. The spacing keeps adjacent
// camera footprints overlapping at the altitudes that select each pattern.
var laneOffsets = [][]float64{
	{-2.07, 0, 2.07},
	{-2.325, -0.775, 0.775, 2.325},
	{-2.48, -1.24, 0, 1.24, 2.48},
	{-2.58, -1.55, -0.51, 0.51, 1.55, 2.58},
	{-2.5, -1.66, -0.833, 0, 0.833, 1.66, 2.5},
}

// Altitude upper bounds for the 7, 6, 5 and 4 lane patterns.
var laneBoundaries = []struct {
	below   float64
	pattern int
	second  int
}{
	{1.785, 4, 3},
	{2.079, 3, 4},
	{2.527, 2, 3},
	{3.274, 1, 2},
}

// SurveyLanes builds the boustrophedon route over the field for the given
// altitude. The route is the pattern chosen by altitude followed by a
// neighbouring pattern flown in reverse. scanLength is the length of the
// first pass.
func SurveyLanes(altitude, halfFOV float64) (mission types.Mission, scanLength int) {
	first, second := 0, 1
	for _, b := range laneBoundaries {
		if altitude < b.below {
			first, second = b.pattern, b.second
			break
		}
	}

	footprint := altitude * math.Tan(halfFOV)
	firstPass := lanes(laneOffsets[first], footprint, altitude)
	secondPass := lanes(laneOffsets[second], footprint, altitude)

	mission = make(types.Mission, 0, len(firstPass)+len(secondPass))
	mission = append(mission, firstPass...)
	for i := len(secondPass) - 1; i >= 0; i-- {
		mission = append(mission, secondPass[i])
	}
	return mission, len(firstPass)
}

func lanes(offsets []float64, footprint, altitude float64) types.Mission {
	near := -FieldHalfWidth + footprint
	far := FieldHalfWidth - footprint

	out := make(types.Mission, 0, 2*len(offsets))
	for i, y := range offsets {
		from, to := near, far
		if i%2 == 1 {
			from, to = far, near
		}
		out = append(out,
			types.Waypoint{X: from, Y: y, Z: altitude},
			types.Waypoint{X: to, Y: y, Z: altitude},
		)
	}
	return out
}
