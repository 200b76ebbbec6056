package fix

import "time"

// MotionState classifies a device's movement at the time of a fix.
type MotionState string

const (
	MotionMoving  MotionState = "moving"
	MotionIdle    MotionState = "idle"
	MotionUnknown MotionState = "unknown"
)

// Fix is the canonical, normalized form of one GPS report. All alias
// resolution happens in the Validator; downstream stages only ever see
// this type.
type Fix struct {
	Lat           float64
	Lng           float64
	AccuracyM     *float64
	SpeedMPS      *float64
	BearingDeg    *float64
	AltitudeM     *float64
	BatteryLevel  *int
	RecordedAt    time.Time
	DeviceID      string
	Platform      string
	ClientEventID string
}

// HasSpeed reports whether the device supplied a speed signal.
func (f *Fix) HasSpeed() bool {
	return f.SpeedMPS != nil
}
