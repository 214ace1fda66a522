package enum

// CandleInterval is the candlestick aggregation window, in upstream notation.
type CandleInterval string

const (
	Candle1m  CandleInterval = "1m"
	Candle30m CandleInterval = "30m"
	Candle1h  CandleInterval = "1h"
	Candle4h  CandleInterval = "4h"
	Candle1d  CandleInterval = "1d"
)

func (i CandleInterval) IsAvailable() bool {
	switch i {
	case Candle1m, Candle30m, Candle1h, Candle4h, Candle1d:
		return true
	default:
		return false
	}
}

// CandleIntervals lists the intervals collected by default.
func CandleIntervals() []CandleInterval {
	return []CandleInterval{Candle1m, Candle30m, Candle1h, Candle4h, Candle1d}
}
