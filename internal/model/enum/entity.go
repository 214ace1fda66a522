package enum

// Entity names a persisted record family. Primary writes are serialized
// per entity, so the set here also defines the write lanes.
type Entity uint8

const (
	_entity_beg Entity = iota
	EntityTicker
	EntityCandle
	EntityNews
	EntityKnowledge
	_entity_end
)

func (e Entity) IsAvailable() bool {
	return e > _entity_beg && e < _entity_end
}

func (e Entity) String() string {
	switch e {
	case EntityTicker:
		return "tickers"
	case EntityCandle:
		return "candles"
	case EntityNews:
		return "news"
	case EntityKnowledge:
		return "knowledge_items"
	default:
		return "unknown"
	}
}

// Entities lists every available entity in write-lane order.
func Entities() []Entity {
	return []Entity{EntityTicker, EntityCandle, EntityNews, EntityKnowledge}
}
