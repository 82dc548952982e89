package domain

import "errors"

// ErrNoBalance is returned by GetTradeSize when the contract's margin asset
// is absent from the account balances.
var ErrNoBalance = errors.New("margin asset not found in balances")

// timeframes maps a timeframe label to its duration in milliseconds.
var timeframes = map[string]int64{
	"1m":  60_000,
	"5m":  300_000,
	"15m": 900_000,
	"30m": 1_800_000,
	"1h":  3_600_000,
	"4h":  14_400_000,
	"1d":  86_400_000,
}

// TimeframeMs returns the duration of a timeframe in milliseconds.
func TimeframeMs(tf string) (int64, bool) {
	ms, ok := timeframes[tf]
	return ms, ok
}

// Timeframes lists the supported timeframe labels, shortest first.
func Timeframes() []string {
	return []string{"1m", "5m", "15m", "30m", "1h", "4h", "1d"}
}
