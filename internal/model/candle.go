package model

import (
	"time"

	"main/internal/model/enum"
)

// Candle is one OHLCV bar for a symbol and interval.
type Candle struct {
	ID                  int64               `gorm:"primaryKey;autoIncrement"`
	Source              enum.Source         `gorm:"not null"`
	Symbol              string              `gorm:"size:20;not null;index:idx_candles_symbol_open,priority:1"`
	Interval            enum.CandleInterval `gorm:"size:10;not null;index:idx_candles_symbol_open,priority:2"`
	OpenTime            time.Time           `gorm:"not null;index:idx_candles_symbol_open,priority:3"`
	Open                float64             `gorm:"not null"`
	High                float64             `gorm:"not null"`
	Low                 float64             `gorm:"not null"`
	Close               float64             `gorm:"not null"`
	Volume              float64             `gorm:"not null"`
	CloseTime           time.Time           `gorm:"not null"`
	QuoteVolume         float64
	Trades              int64
	TakerBuyBaseVolume  float64
	TakerBuyQuoteVolume float64
	CreatedAt           time.Time
}

func (Candle) TableName() string { return enum.EntityCandle.String() }
