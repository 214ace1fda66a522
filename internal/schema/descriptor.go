package schema

import (
	"main/internal/model"
	"main/internal/model/enum"
)

// FieldType is the storage class of a descriptor field.
type FieldType uint8

const (
	FieldUnknown FieldType = iota
	FieldInteger
	FieldNumeric
	FieldText
	FieldTimestamp
	FieldJSON
)

// Field describes one column of a persisted entity.
type Field struct {
	Name     string
	Type     FieldType
	Nullable bool
}

// Descriptor binds an entity to its model type and expected field set.
// Descriptors are append-only across versions: a released field is never
// removed or renamed, new fields go to the end of the list.
type Descriptor struct {
	Entity enum.Entity
	Model  any
	Fields []Field
}

// Descriptors returns the expected schema for every persisted entity at
// this code version. The migrator reconciles the live store against this
// set on every startup.
func Descriptors() []Descriptor {
	return []Descriptor{
		{
			Entity: enum.EntityTicker,
			Model:  &model.Ticker{},
			Fields: []Field{
				{Name: "ID", Type: FieldInteger},
				{Name: "Source", Type: FieldInteger},
				{Name: "Symbol", Type: FieldText},
				{Name: "Timestamp", Type: FieldTimestamp},
				{Name: "Seq", Type: FieldInteger},
				{Name: "Price", Type: FieldNumeric},
				{Name: "PriceChange", Type: FieldNumeric, Nullable: true},
				{Name: "PriceChangePercent", Type: FieldNumeric, Nullable: true},
				{Name: "Volume", Type: FieldNumeric, Nullable: true},
				{Name: "QuoteVolume", Type: FieldNumeric, Nullable: true},
				{Name: "HighPrice", Type: FieldNumeric, Nullable: true},
				{Name: "LowPrice", Type: FieldNumeric, Nullable: true},
				{Name: "TradeCount", Type: FieldInteger, Nullable: true},
				{Name: "CreatedAt", Type: FieldTimestamp, Nullable: true},
			},
		},
		{
			Entity: enum.EntityCandle,
			Model:  &model.Candle{},
			Fields: []Field{
				{Name: "ID", Type: FieldInteger},
				{Name: "Source", Type: FieldInteger},
				{Name: "Symbol", Type: FieldText},
				{Name: "Interval", Type: FieldText},
				{Name: "OpenTime", Type: FieldTimestamp},
				{Name: "Open", Type: FieldNumeric},
				{Name: "High", Type: FieldNumeric},
				{Name: "Low", Type: FieldNumeric},
				{Name: "Close", Type: FieldNumeric},
				{Name: "Volume", Type: FieldNumeric},
				{Name: "CloseTime", Type: FieldTimestamp},
				{Name: "QuoteVolume", Type: FieldNumeric, Nullable: true},
				{Name: "Trades", Type: FieldInteger, Nullable: true},
				{Name: "TakerBuyBaseVolume", Type: FieldNumeric, Nullable: true},
				{Name: "TakerBuyQuoteVolume", Type: FieldNumeric, Nullable: true},
				{Name: "CreatedAt", Type: FieldTimestamp, Nullable: true},
			},
		},
		{
			Entity: enum.EntityNews,
			Model:  &model.News{},
			Fields: []Field{
				{Name: "ID", Type: FieldInteger},
				{Name: "Source", Type: FieldInteger},
				{Name: "ExternalID", Type: FieldText},
				{Name: "Title", Type: FieldText},
				{Name: "URL", Type: FieldText, Nullable: true},
				{Name: "SourceDomain", Type: FieldText, Nullable: true},
				{Name: "Currency", Type: FieldText},
				{Name: "PublishedAt", Type: FieldTimestamp},
				{Name: "Sentiment", Type: FieldText, Nullable: true},
				{Name: "Importance", Type: FieldNumeric, Nullable: true},
				{Name: "CollectedAt", Type: FieldTimestamp, Nullable: true},
				// added in a later schema version
				{Name: "Content", Type: FieldText, Nullable: true},
				{Name: "Summary", Type: FieldText, Nullable: true},
			},
		},
		{
			Entity: enum.EntityKnowledge,
			Model:  &model.KnowledgeItem{},
			Fields: []Field{
				{Name: "ID", Type: FieldInteger},
				{Name: "Symbol", Type: FieldText},
				{Name: "Timestamp", Type: FieldTimestamp},
				{Name: "DataType", Type: FieldInteger},
				{Name: "FeatureName", Type: FieldText},
				{Name: "FeatureValue", Type: FieldNumeric, Nullable: true},
				{Name: "FeatureText", Type: FieldText, Nullable: true},
				{Name: "Metadata", Type: FieldJSON, Nullable: true},
				{Name: "CreatedAt", Type: FieldTimestamp, Nullable: true},
				{Name: "UpdatedAt", Type: FieldTimestamp, Nullable: true},
			},
		},
	}
}
