package knowledge

import "math"

// rolling statistics over ordered price series. Inputs are oldest
// first; callers guarantee minimum lengths.

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

// tail returns the last n values, or nil when the series is shorter.
func tail(xs []float64, n int) []float64 {
	if len(xs) < n {
		return nil
	}
	return xs[len(xs)-n:]
}

// ema computes the exponential moving average series with the standard
// smoothing factor 2/(period+1), seeded by the simple average of the
// first period values.
func ema(xs []float64, period int) []float64 {
	if period <= 0 || len(xs) < period {
		return nil
	}
	out := make([]float64, 0, len(xs)-period+1)
	seed := mean(xs[:period])
	out = append(out, seed)
	k := 2.0 / float64(period+1)
	prev := seed
	for _, x := range xs[period:] {
		prev = x*k + prev*(1-k)
		out = append(out, prev)
	}
	return out
}

// rsi computes the Wilder relative strength index over the last
// period+1 values. Returns (0, false) when the series is too short.
func rsi(xs []float64, period int) (float64, bool) {
	if period <= 0 || len(xs) < period+1 {
		return 0, false
	}
	window := xs[len(xs)-period-1:]
	gains, losses := 0.0, 0.0
	for i := 1; i < len(window); i++ {
		delta := window[i] - window[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	if losses == 0 {
		return 100, true
	}
	rs := gains / losses
	return 100 - 100/(1+rs), true
}

// macd computes the 12/26/9 moving average convergence divergence:
// the MACD line, its signal line, and the histogram at the latest
// point. Returns ok=false when the series cannot fill the slow EMA
// plus the signal period.
func macd(xs []float64) (line, signal, hist float64, ok bool) {
	const (
		fast       = 12
		slow       = 26
		signalSpan = 9
	)
	if len(xs) < slow+signalSpan-1 {
		return 0, 0, 0, false
	}
	fastEMA := ema(xs, fast)
	slowEMA := ema(xs, slow)

	// align the two series on their common suffix
	macdSeries := make([]float64, len(slowEMA))
	offset := len(fastEMA) - len(slowEMA)
	for i := range slowEMA {
		macdSeries[i] = fastEMA[i+offset] - slowEMA[i]
	}
	signalEMA := ema(macdSeries, signalSpan)
	if len(signalEMA) == 0 {
		return 0, 0, 0, false
	}
	line = macdSeries[len(macdSeries)-1]
	signal = signalEMA[len(signalEMA)-1]
	return line, signal, line - signal, true
}

// maCross reports whether the short moving average crossed the long one
// at the latest point: "golden_cross" when it crossed above,
// "death_cross" when it crossed below, "none" otherwise.
func maCross(xs []float64, short, long int) (string, bool) {
	if len(xs) < long+1 {
		return "", false
	}
	shortNow := mean(tail(xs, short))
	longNow := mean(tail(xs, long))
	prev := xs[:len(xs)-1]
	shortPrev := mean(tail(prev, short))
	longPrev := mean(tail(prev, long))

	switch {
	case shortPrev <= longPrev && shortNow > longNow:
		return "golden_cross", true
	case shortPrev >= longPrev && shortNow < longNow:
		return "death_cross", true
	default:
		return "none", true
	}
}

// pctChange returns the percent change from first to last.
func pctChange(first, last float64) float64 {
	if first == 0 {
		return 0
	}
	return (last - first) / first * 100
}
