package types

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (p Point) Vec() r3.Vec {
	return r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
}

func PointFromVec(v r3.Vec) Point {
	return Point{X: v.X, Y: v.Y, Z: v.Z}
}

// Distance is the euclidean distance between two points.
func (p Point) Distance(q Point) float64 {
	return r3.Norm(r3.Sub(p.Vec(), q.Vec()))
}

// Corrected shifts the point horizontally by a camera offset.
func (p Point) Corrected(o Offset) Point {
	return PointFromVec(r3.Add(p.Vec(), r3.Vec{X: o.Horizontal, Y: o.Vertical}))
}

func (p Point) String() string {
	return fmt.Sprintf("[%0.2f;%0.2f;%0.2f]", p.X, p.Y, p.Z)
}

// Waypoint is a target position plus heading.
type Waypoint struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Z   float64 `json:"z"`
	Yaw float64 `json:"yaw"`
}

func (w Waypoint) Position() Point {
	return Point{X: w.X, Y: w.Y, Z: w.Z}
}

func (w Waypoint) String() string {
	return fmt.Sprintf("[%0.2f;%0.2f;%0.2f;%0.2f]", w.X, w.Y, w.Z, w.Yaw)
}

// WaypointAt builds a zero-yaw waypoint at p.
func WaypointAt(p Point) Waypoint {
	return Waypoint{X: p.X, Y: p.Y, Z: p.Z}
}

// Mission is the validated, fixed list of survey waypoints.
type Mission []Waypoint
