package fix

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FieldError describes why a single payload field was rejected.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Client payloads arrive with inconsistent field names across app
// versions and platforms. Each canonical field lists the aliases we
// accept, in priority order.
var (
	latAliases      = []string{"lat", "latitude"}
	lngAliases      = []string{"lng", "lon", "longitude"}
	accuracyAliases = []string{"accuracy_m", "accuracy", "acc"}
	speedAliases    = []string{"speed_mps", "speed"}
	bearingAliases  = []string{"bearing_deg", "bearing", "heading"}
	altitudeAliases = []string{"altitude_m", "altitude", "alt"}
	batteryAliases  = []string{"battery_level", "battery"}
	recordedAliases = []string{"recorded_at", "timestamp", "time"}
	deviceAliases   = []string{"device_id", "device_uuid"}
)

// Validator normalizes raw fix payloads into the canonical Fix type.
// It is a pure function of the payload and the clock.
type Validator struct {
	now func() time.Time
}

// NewValidator creates a validator using the wall clock.
func NewValidator() *Validator {
	return &Validator{now: time.Now}
}

// NewValidatorWithClock creates a validator with an injected clock.
func NewValidatorWithClock(now func() time.Time) *Validator {
	return &Validator{now: now}
}

// Parse normalizes a raw key/value payload into a Fix. A non-empty
// error list means the fix must be rejected; it never reaches storage.
func (v *Validator) Parse(payload map[string]interface{}) (Fix, []FieldError) {
	var errs []FieldError
	var f Fix

	lat, ok, err := floatField(payload, latAliases)
	if err != nil {
		errs = append(errs, FieldError{Field: "lat", Reason: err.Error()})
	} else if !ok {
		errs = append(errs, FieldError{Field: "lat", Reason: "missing"})
	} else if lat < -90 || lat > 90 {
		errs = append(errs, FieldError{Field: "lat", Reason: "out of range [-90, 90]"})
	} else {
		f.Lat = lat
	}

	lng, ok, err := floatField(payload, lngAliases)
	if err != nil {
		errs = append(errs, FieldError{Field: "lng", Reason: err.Error()})
	} else if !ok {
		errs = append(errs, FieldError{Field: "lng", Reason: "missing"})
	} else if lng < -180 || lng > 180 {
		errs = append(errs, FieldError{Field: "lng", Reason: "out of range [-180, 180]"})
	} else {
		f.Lng = lng
	}

	f.AccuracyM = optionalNonNegative(payload, accuracyAliases)
	f.SpeedMPS = optionalNonNegative(payload, speedAliases)
	f.AltitudeM = optionalFloat(payload, altitudeAliases)

	if bearing := optionalFloat(payload, bearingAliases); bearing != nil {
		deg := math.Mod(*bearing, 360)
		if deg < 0 {
			deg += 360
		}
		f.BearingDeg = &deg
	}

	// Battery outside [0, 100] is a sensor glitch, not a reason to drop
	// the whole fix. Clamp near-misses, null anything absurd.
	if battery := optionalFloat(payload, batteryAliases); battery != nil {
		switch {
		case *battery >= 0 && *battery <= 100:
			level := int(math.Round(*battery))
			f.BatteryLevel = &level
		case *battery > 100 && *battery <= 101:
			level := 100
			f.BatteryLevel = &level
		case *battery < 0 && *battery >= -1:
			level := 0
			f.BatteryLevel = &level
		}
	}

	recordedAt, err := v.parseRecordedAt(payload)
	if err != nil {
		errs = append(errs, FieldError{Field: "recorded_at", Reason: err.Error()})
	}
	f.RecordedAt = recordedAt

	f.DeviceID = stringField(payload, deviceAliases)
	f.Platform = stringField(payload, []string{"platform"})
	f.ClientEventID = stringField(payload, []string{"client_event_id"})

	if len(errs) > 0 {
		return Fix{}, errs
	}

	return f, nil
}

// parseRecordedAt accepts millisecond epoch numbers, second epoch
// numbers, and ISO/RFC3339 strings. Absent or zero timestamps default
// to the ingestion time.
func (v *Validator) parseRecordedAt(payload map[string]interface{}) (time.Time, error) {
	raw, ok := firstPresent(payload, recordedAliases)
	if !ok || raw == nil {
		return v.now().UTC(), nil
	}

	switch value := raw.(type) {
	case float64:
		return epochToTime(value), nil
	case int64:
		return epochToTime(float64(value)), nil
	case int:
		return epochToTime(float64(value)), nil
	case string:
		s := strings.TrimSpace(value)
		if s == "" {
			return v.now().UTC(), nil
		}
		if epoch, err := strconv.ParseFloat(s, 64); err == nil {
			return epochToTime(epoch), nil
		}
		return parseTimestampString(s)
	default:
		return time.Time{}, fmt.Errorf("unsupported type %T", raw)
	}
}

// epochToTime treats values past the year-2100 second-epoch boundary as
// millisecond epochs, which is where every mobile client keeps them.
func epochToTime(epoch float64) time.Time {
	if epoch <= 0 {
		return time.Unix(0, 0).UTC()
	}
	if epoch > 4102444800 { // 2100-01-01 in seconds
		return time.UnixMilli(int64(epoch)).UTC()
	}
	return time.Unix(int64(epoch), 0).UTC()
}

func parseTimestampString(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", s, lastErr)
}

func firstPresent(payload map[string]interface{}, aliases []string) (interface{}, bool) {
	for _, key := range aliases {
		if value, ok := payload[key]; ok {
			return value, true
		}
	}
	return nil, false
}

func floatField(payload map[string]interface{}, aliases []string) (float64, bool, error) {
	raw, ok := firstPresent(payload, aliases)
	if !ok || raw == nil {
		return 0, false, nil
	}

	switch value := raw.(type) {
	case float64:
		return value, true, nil
	case int:
		return float64(value), true, nil
	case int64:
		return float64(value), true, nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0, false, fmt.Errorf("not a number: %q", value)
		}
		return parsed, true, nil
	default:
		return 0, false, fmt.Errorf("unsupported type %T", raw)
	}
}

func optionalFloat(payload map[string]interface{}, aliases []string) *float64 {
	value, ok, err := floatField(payload, aliases)
	if err != nil || !ok {
		return nil
	}
	return &value
}

func optionalNonNegative(payload map[string]interface{}, aliases []string) *float64 {
	value := optionalFloat(payload, aliases)
	if value == nil || *value < 0 {
		return nil
	}
	return value
}

func stringField(payload map[string]interface{}, aliases []string) string {
	raw, ok := firstPresent(payload, aliases)
	if !ok {
		return ""
	}
	if s, ok := raw.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
