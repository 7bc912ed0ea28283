package telemetry

import (
	"math"

	"github.com/tiiuae/survey-guidance/internal/types"
)

// Camera is the downward camera model used to turn a detection's pixel
// centre into a ground offset from the vehicle.
type Camera struct {
	ImageSize    float64 // square image side in pixels
	HalfFOV      float64 // radians
	VerticalBias float64 // metres, added to the vertical offset
	Altitude     float64 // survey altitude the offset is computed for
}

func DefaultCamera(altitude float64) Camera {
	return Camera{
		ImageSize:    416,
		HalfFOV:      19.09,
		VerticalBias: -0.1,
		Altitude:     altitude,
	}
}

// Offset maps pixels to metres. The image axes are swapped relative to the
// vehicle frame: the pixel row gives the horizontal offset and the pixel
// column the vertical one.
func (c Camera) Offset(px types.MarkerPixels) types.Offset {
	half := c.Altitude * math.Tan(c.HalfFOV)
	scale := func(p float64) float64 {
		return p/c.ImageSize*2*half - half
	}
	return types.Offset{
		Horizontal: scale(px.Y),
		Vertical:   scale(px.X) + c.VerticalBias,
	}
}
