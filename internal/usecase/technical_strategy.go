package usecase

import (
	"encoding/json"

	"github.com/vitos/futures_trading_bot/internal/domain"
	"go.uber.org/zap"
)

// TechnicalParams configures the momentum/oscillator combination.
type TechnicalParams struct {
	RsiLength int `json:"rsi_length"`
	EmaFast   int `json:"ema_fast"`
	EmaSlow   int `json:"ema_slow"`
	EmaSignal int `json:"ema_signal"`
}

// TechnicalStrategy goes long when the RSI is oversold while the MACD line
// sits above its signal line, short on the mirrored condition. Signals are
// evaluated on bar close only.
type TechnicalStrategy struct {
	*Strategy
	params TechnicalParams
}

func NewTechnicalStrategy(connector domain.Connector, contract *domain.Contract, timeframe string, balancePct, takeProfit, stopLoss float64, params TechnicalParams, log *zap.Logger) (*TechnicalStrategy, error) {
	base, err := newStrategy("Technical", connector, contract, timeframe, balancePct, takeProfit, stopLoss, log)
	if err != nil {
		return nil, err
	}
	blob, _ := json.Marshal(params)
	base.extraJSON = string(blob)

	t := &TechnicalStrategy{Strategy: base, params: params}
	base.evaluator = t
	return t, nil
}

func (t *TechnicalStrategy) EvaluateOnTick() bool { return false }

func (t *TechnicalStrategy) CheckSignal() Signal {
	candles := t.series.Candles()
	if len(candles) < 2 {
		return SignalNone
	}

	// Indicators only look at closed bars; the last bar is still forming.
	closes := make([]float64, 0, len(candles)-1)
	for _, c := range candles[:len(candles)-1] {
		closes = append(closes, c.Close)
	}

	rsi, ok := RSI(closes, t.params.RsiLength)
	if !ok {
		return SignalNone
	}
	macdLine, signalLine, ok := MACD(closes, t.params.EmaFast, t.params.EmaSlow, t.params.EmaSignal)
	if !ok {
		return SignalNone
	}

	if rsi < 30 && macdLine > signalLine {
		return SignalLong
	}
	if rsi > 70 && macdLine < signalLine {
		return SignalShort
	}
	return SignalNone
}
