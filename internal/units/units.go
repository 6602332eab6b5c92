// Package units holds the pure, stateless display conversions used at the
// CLI boundary. The API always speaks Celsius; Fahrenheit only exists for
// rendering and for parsing user input.
package units

import (
	"fmt"
	"math"
	"time"
)

// CToF converts Celsius to Fahrenheit, rounded to the nearest whole
// degree, matching the API's Fahrenheit precision.
func CToF(c float64) float64 {
	return math.Round(c*1.8 + 32)
}

// FToC converts Fahrenheit to Celsius, rounded to the nearest half degree,
// matching the API's Celsius precision.
func FToC(f float64) float64 {
	return math.Round((f-32)/1.8*2) / 2
}

// FormatTemp renders a Celsius value in the requested scale.
func FormatTemp(celsius float64, scale string) string {
	if scale == "F" {
		return fmt.Sprintf("%.0f°F", CToF(celsius))
	}
	return fmt.Sprintf("%.1f°C", celsius)
}

// RenderTime formats a timestamp in local time or UTC.
func RenderTime(t time.Time, local bool) string {
	if local {
		return t.Local().Format(time.RFC3339)
	}
	return t.UTC().Format(time.RFC3339)
}
