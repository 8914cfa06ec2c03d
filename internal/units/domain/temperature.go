package units

import (
	"fmt"
	"math"
)

// Temperature is a fixed-point temperature with one decimal digit of
// precision, stored as tenths of a degree (32.0 degrees == 320).
// Threshold comparisons stay in integer space to avoid float drift.
type Temperature int64

// TemperatureFromCelsius converts a float boundary value to fixed point.
// Conversions round, never truncate.
func TemperatureFromCelsius(value float64) Temperature {
	return Temperature(math.Round(value * 10))
}

// Celsius returns the float representation for boundaries and display.
func (t Temperature) Celsius() float64 {
	return float64(t) / 10
}

// String formats the temperature with one decimal digit.
func (t Temperature) String() string {
	return fmt.Sprintf("%.1f", t.Celsius())
}
