package exporter

import (
	"fmt"
	"math"
	"strconv"
)

// formatFloat formats a float64 for CSV output with six significant digits.
// NaN and infinities are written as empty cells.
func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ""
	}
	return strconv.FormatFloat(f, 'g', 6, 64)
}

// formatInt formats an int value for CSV output
func formatInt(i int) string {
	return fmt.Sprintf("%d", i)
}

// formatBool formats a boolean value for CSV output
func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func parseNumber(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
