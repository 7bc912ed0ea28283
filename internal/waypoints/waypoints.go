package waypoints

import (
	"fmt"
	"math"

	"github.com/tiiuae/survey-guidance/internal/types"
)

// ValidationError names the first offending element of a raw waypoint list.
// Index is -1 when the list as a whole is invalid.
type ValidationError struct {
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid waypoint list: %s", e.Reason)
	}
	return fmt.Sprintf("invalid waypoint %d: %s", e.Index, e.Reason)
}

// Validate checks that raw is a non-empty list of [x, y, z, yaw] tuples.
func Validate(raw []interface{}) error {
	_, err := Parse(raw)
	return err
}

// Parse validates raw and converts it into a mission. No partial mission is
// returned on error.
func Parse(raw []interface{}) (types.Mission, error) {
	if len(raw) == 0 {
		return nil, &ValidationError{Index: -1, Reason: "list is empty"}
	}

	mission := make(types.Mission, 0, len(raw))
	for i, item := range raw {
		elems, ok := sequence(item)
		if !ok {
			return nil, &ValidationError{Index: i, Reason: fmt.Sprintf("expected a sequence, got %T", item)}
		}
		if len(elems) != 4 {
			return nil, &ValidationError{Index: i, Reason: fmt.Sprintf("expected 4 components, got %d", len(elems))}
		}

		var c [4]float64
		for j, e := range elems {
			v, ok := number(e)
			if !ok {
				return nil, &ValidationError{Index: i, Reason: fmt.Sprintf("component %d is not a number: %v", j, e)}
			}
			c[j] = v
		}
		mission = append(mission, types.Waypoint{X: c[0], Y: c[1], Z: c[2], Yaw: c[3]})
	}

	return mission, nil
}

func sequence(v interface{}) ([]interface{}, bool) {
	switch s := v.(type) {
	case []interface{}:
		return s, true
	case []float64:
		out := make([]interface{}, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	case []int:
		out := make([]interface{}, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	}
	return nil, false
}

func number(v interface{}) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint64:
		f = float64(n)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
