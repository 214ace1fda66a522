package model

import (
	"time"

	"main/internal/model/enum"
)

// KnowledgeItem is one derived feature value. Items are regenerable from
// raw records, so extraction upserts on the natural key instead of
// appending.
type KnowledgeItem struct {
	ID           int64         `gorm:"primaryKey;autoIncrement"`
	Symbol       string        `gorm:"size:20;not null;uniqueIndex:idx_knowledge_key,priority:1"`
	Timestamp    time.Time     `gorm:"not null;uniqueIndex:idx_knowledge_key,priority:2"`
	DataType     enum.DataType `gorm:"not null;uniqueIndex:idx_knowledge_key,priority:3"`
	FeatureName  string        `gorm:"size:100;not null;uniqueIndex:idx_knowledge_key,priority:4"`
	FeatureValue *float64
	FeatureText  string  `gorm:"type:text"`
	Metadata     JSONMap `gorm:"type:jsonb"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (KnowledgeItem) TableName() string { return enum.EntityKnowledge.String() }

// Float64 returns a pointer suitable for FeatureValue.
func Float64(v float64) *float64 { return &v }
