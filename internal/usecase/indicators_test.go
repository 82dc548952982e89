package usecase

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	out := EMA(values, 3)
	require.Len(t, out, 5)

	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 2.0, out[2], 1e-12, "seeded with the SMA of the first period")

	// k = 2/(3+1) = 0.5
	assert.InDelta(t, 3.0, out[3], 1e-12)
	assert.InDelta(t, 4.0, out[4], 1e-12)
}

func TestEMANotEnoughHistory(t *testing.T) {
	out := EMA([]float64{1, 2}, 3)
	require.Len(t, out, 2)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
}

func TestRSIMonotonicSeries(t *testing.T) {
	up := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	rsi, ok := RSI(up, 14)
	require.True(t, ok)
	assert.Equal(t, 100.0, rsi, "no losses means RSI pegs at 100")

	down := make([]float64, 15)
	for i := range down {
		down[i] = float64(100 - i)
	}
	rsi, ok = RSI(down, 14)
	require.True(t, ok)
	assert.InDelta(t, 0.0, rsi, 1e-9)
}

func TestRSIFlatSeries(t *testing.T) {
	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 50
	}
	rsi, ok := RSI(flat, 14)
	require.True(t, ok)
	assert.Equal(t, 50.0, rsi)
}

func TestRSIWilderSmoothing(t *testing.T) {
	// Two-period RSI worked by hand: deltas +1, -1, +1 over closes.
	closes := []float64{10, 11, 10, 11}
	rsi, ok := RSI(closes, 2)
	require.True(t, ok)

	// Initial averages over the first 2 deltas: gain 0.5, loss 0.5.
	// Wilder step with the third delta (+1): gain (0.5+1)/2 = 0.75, loss 0.5/2 = 0.25.
	// RS = 3, RSI = 100 - 100/4 = 75.
	assert.InDelta(t, 75.0, rsi, 1e-9)
}

func TestRSINotEnoughHistory(t *testing.T) {
	_, ok := RSI([]float64{1, 2, 3}, 14)
	assert.False(t, ok)

	_, ok = RSI(make([]float64, 14), 14)
	assert.False(t, ok, "needs period+1 closes for period deltas")
}

func TestMACDFlatSeriesIsZero(t *testing.T) {
	flat := make([]float64, 50)
	for i := range flat {
		flat[i] = 100
	}
	macd, signal, ok := MACD(flat, 12, 26, 9)
	require.True(t, ok)
	assert.InDelta(t, 0.0, macd, 1e-9)
	assert.InDelta(t, 0.0, signal, 1e-9)
}

func TestMACDUptrendPositive(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	macd, signal, ok := MACD(closes, 12, 26, 9)
	require.True(t, ok)
	assert.Greater(t, macd, 0.0, "fast EMA leads the slow one in an uptrend")
	assert.Greater(t, signal, 0.0)
}

func TestMACDNotEnoughHistory(t *testing.T) {
	_, _, ok := MACD(make([]float64, 34), 12, 26, 9)
	assert.False(t, ok)

	_, _, ok = MACD(make([]float64, 35), 12, 26, 9)
	assert.True(t, ok)
}

func TestMACDRejectsBadPeriods(t *testing.T) {
	_, _, ok := MACD(make([]float64, 100), 26, 12, 9)
	assert.False(t, ok, "fast period must be shorter than slow")
}
