package model

import (
	"time"

	"main/internal/model/enum"
)

// News is one collected news article. Content and Summary arrived in a
// later schema version, so existing deployments pick them up through the
// additive migration path.
type News struct {
	ID           int64       `gorm:"primaryKey;autoIncrement"`
	Source       enum.Source `gorm:"not null"`
	ExternalID   string      `gorm:"size:100;not null;uniqueIndex"`
	Title        string      `gorm:"size:500;not null"`
	Content      string      `gorm:"type:text"`
	Summary      string      `gorm:"type:text"`
	URL          string      `gorm:"size:1000"`
	SourceDomain string      `gorm:"size:200"`
	Currency     string      `gorm:"size:20;not null;index"`
	PublishedAt  time.Time   `gorm:"not null;index"`
	Sentiment    string      `gorm:"size:20"`
	Importance   float64
	CollectedAt  time.Time
}

func (News) TableName() string { return enum.EntityNews.String() }

// NewsAssessment carries an enrichment verdict back onto the stored
// article it was derived from. Articles are matched by external id.
type NewsAssessment struct {
	ExternalID string
	Sentiment  string
	Importance float64
}
