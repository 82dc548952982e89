package exchange

import (
	"math"
	"strconv"
	"strings"
)

// RoundToStep rounds value to the nearest integer multiple of step, half to
// even. Exchanges reject prices/quantities that are not aligned to the tick
// or lot size, so every outgoing order goes through this.
func RoundToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	rounded := math.RoundToEven(value/step) * step
	// Trim float noise (0.30000000000000004 style) to 8 decimals.
	return math.Round(rounded*1e8) / 1e8
}

// StepDecimals returns the number of decimals of a tick/lot step, used to
// format order prices without scientific notation.
func StepDecimals(step float64) int {
	s := strconv.FormatFloat(step, 'f', -1, 64)
	if idx := strings.Index(s, "."); idx != -1 {
		return len(s) - idx - 1
	}
	return 0
}

// FormatPrice renders a price with a fixed number of decimals.
func FormatPrice(price float64, decimals int) string {
	return strconv.FormatFloat(price, 'f', decimals, 64)
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// capitalize renders BitMEX-style order fields ("market" -> "Market").
func capitalize(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToLower(s)
	return strings.ToUpper(s[:1]) + s[1:]
}
