package model

import (
	"time"

	"main/internal/model/enum"
)

// Ticker is a point-in-time market snapshot for one symbol. Rows are
// immutable once persisted.
type Ticker struct {
	ID                 int64       `gorm:"primaryKey;autoIncrement"`
	Source             enum.Source `gorm:"not null;index:idx_tickers_symbol_ts,priority:3"`
	Symbol             string      `gorm:"size:20;not null;index:idx_tickers_symbol_ts,priority:1"`
	Timestamp          time.Time   `gorm:"not null;index:idx_tickers_symbol_ts,priority:2"`
	Seq                int64       `gorm:"not null;default:0"`
	Price              float64     `gorm:"not null"`
	PriceChange        float64
	PriceChangePercent float64
	Volume             float64
	QuoteVolume        float64
	HighPrice          float64
	LowPrice           float64
	TradeCount         int64
	CreatedAt          time.Time
}

func (Ticker) TableName() string { return enum.EntityTicker.String() }
