package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/futures_trading_bot/internal/domain"
	"go.uber.org/zap"
)

const testPeriodMs = int64(60_000)

func newTestSeries() *CandleSeries {
	s := NewCandleSeries(testPeriodMs, zap.NewNop())
	s.now = func() time.Time { return time.UnixMilli(0) }
	return s
}

func TestCandleSeriesFirstTickSeedsAlignedBar(t *testing.T) {
	s := newTestSeries()

	outcome := s.ApplyTick(100, 1, 90_500)
	assert.Equal(t, TickNewCandle, outcome)

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, int64(60_000), last.Timestamp, "bar opens on the timeframe boundary")
	assert.Equal(t, domain.Candle{Timestamp: 60_000, Open: 100, High: 100, Low: 100, Close: 100, Volume: 1}, last)
}

func TestCandleSeriesAggregation(t *testing.T) {
	s := newTestSeries()
	t0 := int64(600_000)

	assert.Equal(t, TickNewCandle, s.ApplyTick(100, 1, t0))
	assert.Equal(t, TickSameCandle, s.ApplyTick(101, 1, t0+testPeriodMs/2))
	assert.Equal(t, TickNewCandle, s.ApplyTick(99, 1, t0+testPeriodMs+1))

	candles := s.Candles()
	require.Len(t, candles, 2)

	first := candles[0]
	assert.Equal(t, t0, first.Timestamp)
	assert.Equal(t, 100.0, first.Open)
	assert.Equal(t, 101.0, first.High)
	assert.Equal(t, 100.0, first.Low)
	assert.Equal(t, 101.0, first.Close)
	assert.Equal(t, 2.0, first.Volume, "volume accumulates across ticks")

	second := candles[1]
	assert.Equal(t, t0+testPeriodMs, second.Timestamp)
	assert.Equal(t, domain.Candle{Timestamp: t0 + testPeriodMs, Open: 99, High: 99, Low: 99, Close: 99, Volume: 1}, second)
}

func TestCandleSeriesIntraBarExtremes(t *testing.T) {
	s := newTestSeries()
	t0 := int64(600_000)

	s.ApplyTick(100, 1, t0)
	s.ApplyTick(95, 2, t0+1_000)
	s.ApplyTick(105, 3, t0+2_000)
	s.ApplyTick(102, 1, t0+3_000)

	last, _ := s.Last()
	assert.Equal(t, 105.0, last.High)
	assert.Equal(t, 95.0, last.Low)
	assert.Equal(t, 102.0, last.Close)
	assert.Equal(t, 7.0, last.Volume)
	assert.Equal(t, 1, s.Len())
}

func TestCandleSeriesGapFilling(t *testing.T) {
	s := newTestSeries()
	t0 := int64(600_000)

	s.ApplyTick(100, 5, t0)
	// Three whole periods with no trades before the next tick.
	outcome := s.ApplyTick(110, 2, t0+4*testPeriodMs)
	assert.Equal(t, TickNewCandle, outcome)

	candles := s.Candles()
	require.Len(t, candles, 5)

	for i, c := range candles[1:4] {
		assert.Equal(t, t0+int64(i+1)*testPeriodMs, c.Timestamp)
		assert.Equal(t, domain.Candle{Timestamp: c.Timestamp, Open: 100, High: 100, Low: 100, Close: 100, Volume: 0}, c,
			"filler bars are flat at the prior close with zero volume")
	}
	assert.Equal(t, 110.0, candles[4].Open)
	assert.Equal(t, 2.0, candles[4].Volume)
}

func TestCandleSeriesTimestampsContiguous(t *testing.T) {
	s := newTestSeries()
	t0 := int64(600_000)

	ticks := []int64{t0, t0 + 30_000, t0 + 70_000, t0 + 150_000, t0 + 400_000, t0 + 401_000}
	for _, ts := range ticks {
		s.ApplyTick(100, 1, ts)
	}

	candles := s.Candles()
	for i := 1; i < len(candles); i++ {
		assert.Equal(t, candles[i-1].Timestamp+testPeriodMs, candles[i].Timestamp,
			"series must stay gap-free and strictly increasing")
	}
}

func TestCandleSeriesSeed(t *testing.T) {
	s := newTestSeries()
	t0 := int64(600_000)

	history := []domain.Candle{
		{Timestamp: t0, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10},
		{Timestamp: t0 + testPeriodMs, Open: 100.5, High: 102, Low: 100, Close: 101, Volume: 8},
	}
	s.Seed(history)
	require.Equal(t, 2, s.Len())

	// A tick in the period right after the seeded tail opens a third bar.
	outcome := s.ApplyTick(101.5, 1, t0+2*testPeriodMs+5_000)
	assert.Equal(t, TickNewCandle, outcome)
	assert.Equal(t, 3, s.Len())

	last, _ := s.Last()
	assert.Equal(t, t0+2*testPeriodMs, last.Timestamp)
	assert.Equal(t, 101.5, last.Open)
}
