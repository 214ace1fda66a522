package enum

// Source identifies the upstream system a record was collected from.
type Source uint8

const (
	_source_beg Source = iota
	SourceBinance
	SourceBinanceStream
	SourceCryptoPanic
	_source_end
)

func (s Source) IsAvailable() bool {
	return s > _source_beg && s < _source_end
}

func (s Source) String() string {
	switch s {
	case SourceBinance:
		return "binance"
	case SourceBinanceStream:
		return "binance_stream"
	case SourceCryptoPanic:
		return "cryptopanic"
	default:
		return "unknown"
	}
}
