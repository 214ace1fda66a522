package enum

// CollectorStatus describes the connection state of a collector.
type CollectorStatus uint8

const (
	CollectorDisconnected CollectorStatus = iota
	CollectorConnecting
	CollectorStreaming
	CollectorBackoff
)

func (s CollectorStatus) String() string {
	switch s {
	case CollectorDisconnected:
		return "disconnected"
	case CollectorConnecting:
		return "connecting"
	case CollectorStreaming:
		return "streaming"
	case CollectorBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}
