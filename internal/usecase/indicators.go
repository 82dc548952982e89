package usecase

import "math"

// EMA computes an exponential moving average over values. Entries before the
// first full period are NaN.
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 || len(values) < period {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		out[i] = math.NaN()
		sum += values[i]
	}
	// Seed with the SMA of the first period.
	out[period-1] = sum / float64(period)

	k := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// RSI returns the latest Relative Strength Index over closes using Wilder
// smoothing. ok is false when there is not enough history.
func RSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) <= period {
		return 0, false
	}

	sumGain, sumLoss := 0.0, 0.0
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			sumGain += delta
		} else {
			sumLoss += -delta
		}
	}
	avgGain, avgLoss := sumGain/float64(period), sumLoss/float64(period)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	switch {
	case avgGain == 0 && avgLoss == 0:
		return 50, true
	case avgLoss == 0:
		return 100, true
	default:
		rs := avgGain / avgLoss
		return 100 - 100/(1+rs), true
	}
}

// MACD returns the latest MACD line and signal line values
// (EMA(fast) - EMA(slow), smoothed by EMA(signalPeriod)). ok is false when
// there is not enough history.
func MACD(closes []float64, fast, slow, signalPeriod int) (macdLine, signalLine float64, ok bool) {
	if fast <= 0 || slow <= fast || signalPeriod <= 0 {
		return 0, 0, false
	}
	if len(closes) < slow+signalPeriod {
		return 0, 0, false
	}

	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)

	// MACD line is only defined once the slow EMA is.
	macd := make([]float64, 0, len(closes)-slow+1)
	for i := slow - 1; i < len(closes); i++ {
		macd = append(macd, emaFast[i]-emaSlow[i])
	}

	signal := EMA(macd, signalPeriod)
	return macd[len(macd)-1], signal[len(signal)-1], true
}
