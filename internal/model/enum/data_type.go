package enum

// DataType classifies a knowledge item by the raw data it was derived from.
type DataType uint8

const (
	DataTypeUnknown DataType = iota
	DataTypePrice
	DataTypeTechnical
	DataTypeNews
)

func (d DataType) String() string {
	switch d {
	case DataTypePrice:
		return "price"
	case DataTypeTechnical:
		return "technical"
	case DataTypeNews:
		return "news"
	default:
		return "unknown"
	}
}
