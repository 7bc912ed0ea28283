package pathplanner

import (
	"context"
	"log"

	"github.com/pkg/errors"

	"github.com/tiiuae/survey-guidance/internal/types"
)

var (
	ErrNoSolution         = errors.New("planner found no solution")
	ErrServiceUnavailable = errors.New("path planner unavailable")
)

// Planner returns the intermediate positions between start and end. An empty
// result means no solution.
type Planner interface {
	RequestPath(ctx context.Context, start, end types.Point) ([]types.Point, error)
}

type Refiner struct {
	planner Planner
}

func NewRefiner(planner Planner) *Refiner {
	return &Refiner{planner}
}

// Refine asks the planner for a sub-path from start to end. Intermediate
// waypoints fly at the altitude of end with zero yaw.
func (r *Refiner) Refine(ctx context.Context, start, end types.Waypoint) ([]types.Waypoint, error) {
	poses, err := r.planner.RequestPath(ctx, start.Position(), end.Position())
	if err != nil {
		return nil, errors.WithMessagef(err, "refine %v -> %v", start, end)
	}
	if len(poses) == 0 {
		return nil, ErrNoSolution
	}

	crumbs := make([]types.Waypoint, len(poses))
	for i, p := range poses {
		crumbs[i] = types.Waypoint{X: p.X, Y: p.Y, Z: end.Z}
	}

	log.Printf("PLANNER: %d breadcrumbs, %.2fm refined vs %.2fm direct", len(crumbs), pathLength(start, crumbs), start.Position().Distance(end.Position()))
	return crumbs, nil
}

func pathLength(start types.Waypoint, crumbs []types.Waypoint) float64 {
	total := 0.0
	prev := start.Position()
	for _, c := range crumbs {
		total += prev.Distance(c.Position())
		prev = c.Position()
	}
	return total
}
