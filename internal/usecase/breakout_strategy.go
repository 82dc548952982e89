package usecase

import (
	"encoding/json"

	"github.com/vitos/futures_trading_bot/internal/domain"
	"go.uber.org/zap"
)

// BreakoutParams configures the breakout-with-volume rule.
type BreakoutParams struct {
	MinVolume float64 `json:"min_volume"`
}

// BreakoutStrategy goes long when the current bar closes above the previous
// bar's high with enough volume behind it, short below the previous low.
// Evaluated on every tick, not only on bar close.
type BreakoutStrategy struct {
	*Strategy
	params BreakoutParams
}

func NewBreakoutStrategy(connector domain.Connector, contract *domain.Contract, timeframe string, balancePct, takeProfit, stopLoss float64, params BreakoutParams, log *zap.Logger) (*BreakoutStrategy, error) {
	base, err := newStrategy("Breakout", connector, contract, timeframe, balancePct, takeProfit, stopLoss, log)
	if err != nil {
		return nil, err
	}
	blob, _ := json.Marshal(params)
	base.extraJSON = string(blob)

	b := &BreakoutStrategy{Strategy: base, params: params}
	base.evaluator = b
	return b, nil
}

func (b *BreakoutStrategy) EvaluateOnTick() bool { return true }

func (b *BreakoutStrategy) CheckSignal() Signal {
	candles := b.series.Candles()
	if len(candles) < 2 {
		return SignalNone
	}
	last := candles[len(candles)-1]
	prev := candles[len(candles)-2]

	if last.Volume <= b.params.MinVolume {
		return SignalNone
	}
	if last.Close > prev.High {
		return SignalLong
	}
	if last.Close < prev.Low {
		return SignalShort
	}
	return SignalNone
}
