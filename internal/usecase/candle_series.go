package usecase

import (
	"time"

	"github.com/vitos/futures_trading_bot/internal/domain"
	"go.uber.org/zap"
)

// TickOutcome classifies what a tick did to the series tail.
type TickOutcome string

const (
	TickSameCandle TickOutcome = "same_candle"
	TickNewCandle  TickOutcome = "new_candle"
)

// lagWarnThreshold flags ticks arriving well after their event time.
const lagWarnThreshold = 2 * time.Second

// CandleSeries folds raw trade ticks into an append-only OHLCV series for one
// (contract, timeframe) pair. Bars are timestamped at their open, strictly
// increasing and gap-free: silent periods are filled with flat zero-volume
// bars. Only the last bar is mutable. Not safe for concurrent use; the owning
// strategy serializes access.
type CandleSeries struct {
	periodMs int64
	candles  []domain.Candle
	log      *zap.Logger
	now      func() time.Time
}

func NewCandleSeries(periodMs int64, log *zap.Logger) *CandleSeries {
	return &CandleSeries{
		periodMs: periodMs,
		log:      log,
		now:      time.Now,
	}
}

// Seed replaces the series with historical bars, oldest first.
func (s *CandleSeries) Seed(candles []domain.Candle) {
	s.candles = append(s.candles[:0], candles...)
}

// Candles returns the underlying series. Callers must not mutate it.
func (s *CandleSeries) Candles() []domain.Candle {
	return s.candles
}

func (s *CandleSeries) Len() int {
	return len(s.candles)
}

// Last returns the open (most recent) bar.
func (s *CandleSeries) Last() (domain.Candle, bool) {
	if len(s.candles) == 0 {
		return domain.Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// ApplyTick folds one (price, size, timestamp) tick into the tail of the
// series. Three cases: the tick belongs to the open bar, to the immediately
// next bar, or beyond that, in which case flat filler bars are synthesized
// for every fully skipped period first.
func (s *CandleSeries) ApplyTick(price, size float64, timestamp int64) TickOutcome {
	if lag := s.now().UnixMilli() - timestamp; lag > lagWarnThreshold.Milliseconds() {
		s.log.Warn("tick older than receipt time, processing lag suspected",
			zap.Int64("lag_ms", lag))
	}

	if len(s.candles) == 0 {
		s.candles = append(s.candles, domain.Candle{
			Timestamp: timestamp - timestamp%s.periodMs,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    size,
		})
		return TickNewCandle
	}

	last := &s.candles[len(s.candles)-1]

	switch {
	case timestamp < last.Timestamp+s.periodMs:
		last.Close = price
		last.Volume += size
		if price > last.High {
			last.High = price
		}
		if price < last.Low {
			last.Low = price
		}
		return TickSameCandle

	case timestamp >= last.Timestamp+2*s.periodMs:
		// Contracts with no volume during some periods leave holes; fill
		// them with flat bars at the prior close so timestamps stay
		// contiguous.
		missing := (timestamp-last.Timestamp)/s.periodMs - 1
		s.log.Info("filling missing candles",
			zap.Int64("missing", missing),
			zap.Int64("timestamp", timestamp),
			zap.Int64("last_timestamp", last.Timestamp))

		for i := int64(0); i < missing; i++ {
			prior := s.candles[len(s.candles)-1]
			s.candles = append(s.candles, domain.Candle{
				Timestamp: prior.Timestamp + s.periodMs,
				Open:      prior.Close,
				High:      prior.Close,
				Low:       prior.Close,
				Close:     prior.Close,
			})
		}
		fallthrough

	default:
		// Next bar, seeded from the tick.
		prior := s.candles[len(s.candles)-1]
		s.candles = append(s.candles, domain.Candle{
			Timestamp: prior.Timestamp + s.periodMs,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    size,
		})
		return TickNewCandle
	}
}
