package guidance

import "time"

type Config struct {
	LinearVelocity   float64
	YawVelocity      float64
	PositionAccuracy float64
	YawAccuracy      float64

	TakeoffHeight   float64
	TakeoffSpeed    float64
	TakeoffRadius   float64
	TakeoffYawRange float64
	LandingSpeed    float64

	BatteryCritical float64
	MarkerID        int
	RequireMarker   bool
	Tasks           []Task
	IgnoreUnmatched bool

	DeployAltitude float64
	SettleTime     time.Duration
	PostDeployTime time.Duration

	// ScanLength is the number of waypoints that cover the survey area once.
	// Zero means the whole mission.
	ScanLength     int
	TickInterval   time.Duration
	StatusInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		LinearVelocity:   1.0,
		YawVelocity:      0.2,
		PositionAccuracy: 0.3,
		YawAccuracy:      0.3,

		TakeoffHeight:   1.0,
		TakeoffSpeed:    1.0,
		TakeoffRadius:   0.3,
		TakeoffYawRange: 0.1,
		LandingSpeed:    0.2,

		BatteryCritical: 0.10,
		MarkerID:        1,
		RequireMarker:   true,
		Tasks: []Task{
			{Label: "Person", Slot: 0},
			{Label: "Backpack", Slot: 1},
		},

		DeployAltitude: 1.0,
		SettleTime:     4 * time.Second,
		PostDeployTime: 1 * time.Second,

		TickInterval:   50 * time.Millisecond,
		StatusInterval: time.Second,
	}
}
