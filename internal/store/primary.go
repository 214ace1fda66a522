package store

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"main/internal/model"
	"main/internal/model/enum"
)

var ErrUnknownEntity = errors.New("store: unknown entity")

// Primary is the durable relational store and the single source of
// truth. Writes are serialized per entity to preserve insertion order
// inside each table; different entities may write concurrently.
type Primary struct {
	db    *gorm.DB
	lanes map[enum.Entity]*sync.Mutex
}

func NewPrimary(db *gorm.DB) *Primary {
	lanes := make(map[enum.Entity]*sync.Mutex, len(enum.Entities()))
	for _, entity := range enum.Entities() {
		lanes[entity] = &sync.Mutex{}
	}
	return &Primary{db: db, lanes: lanes}
}

// Write persists a batch of records for one entity. The records value
// must be a slice of the entity's model type; gorm inserts it in a
// single batched statement, so source order is preserved.
func (p *Primary) Write(ctx context.Context, entity enum.Entity, records any) error {
	lane, ok := p.lanes[entity]
	if !ok {
		return errors.Wrap(ErrUnknownEntity, entity.String())
	}
	lane.Lock()
	defer lane.Unlock()

	tx := p.db.WithContext(ctx)
	switch entity {
	case enum.EntityNews:
		// external_id is globally unique; re-collected articles are skipped.
		tx = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoNothing: true,
		})
	case enum.EntityKnowledge:
		// knowledge items are regenerable, reconcile by overwrite.
		tx = tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "symbol"}, {Name: "timestamp"}, {Name: "data_type"}, {Name: "feature_name"},
			},
			UpdateAll: true,
		})
	}
	if err := tx.Create(records).Error; err != nil {
		return errors.Wrap(err, "primary write").With("entity", entity.String())
	}
	return nil
}

// ApplyNewsAssessments writes enrichment verdicts back onto stored
// articles. Unknown external ids are ignored; re-applying the same
// verdict is a no-op.
func (p *Primary) ApplyNewsAssessments(ctx context.Context, assessments []model.NewsAssessment) error {
	if len(assessments) == 0 {
		return nil
	}
	lane := p.lanes[enum.EntityNews]
	lane.Lock()
	defer lane.Unlock()

	for _, a := range assessments {
		err := p.db.WithContext(ctx).
			Model(&model.News{}).
			Where("external_id = ?", a.ExternalID).
			Updates(map[string]any{"sentiment": a.Sentiment, "importance": a.Importance}).
			Error
		if err != nil {
			return errors.Wrap(err, "apply news assessment").With("external_id", a.ExternalID)
		}
	}
	return nil
}

// Tickers returns records for one symbol inside the window, oldest
// first. Timestamp ties are broken by the source-assigned sequence.
func (p *Primary) Tickers(ctx context.Context, symbol string, since time.Time, limit int) ([]model.Ticker, error) {
	var out []model.Ticker
	q := p.db.WithContext(ctx).
		Where("symbol = ? AND timestamp >= ?", symbol, since).
		Order("timestamp ASC, seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, errors.Wrap(err, "read tickers")
	}
	return out, nil
}

// Candles returns bars for one symbol and interval, oldest first.
func (p *Primary) Candles(ctx context.Context, symbol string, interval enum.CandleInterval, since time.Time, limit int) ([]model.Candle, error) {
	var out []model.Candle
	q := p.db.WithContext(ctx).
		Where("symbol = ? AND interval = ? AND open_time >= ?", symbol, interval, since).
		Order("open_time ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, errors.Wrap(err, "read candles")
	}
	return out, nil
}

// News returns articles for a currency inside the window, oldest first.
func (p *Primary) News(ctx context.Context, currency string, since time.Time, limit int) ([]model.News, error) {
	var out []model.News
	q := p.db.WithContext(ctx).
		Where("currency = ? AND published_at >= ?", currency, since).
		Order("published_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, errors.Wrap(err, "read news")
	}
	return out, nil
}

// Knowledge returns derived items for a symbol, newest first. This is
// the read-only query surface used by status and dashboard callers.
func (p *Primary) Knowledge(ctx context.Context, symbol string, since time.Time, limit int) ([]model.KnowledgeItem, error) {
	var out []model.KnowledgeItem
	q := p.db.WithContext(ctx).
		Where("symbol = ? AND timestamp >= ?", symbol, since).
		Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, errors.Wrap(err, "read knowledge items")
	}
	return out, nil
}
