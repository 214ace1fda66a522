// Package mirror is the optional secondary search index. It receives
// each batch after the primary write succeeds and is allowed to fall
// behind: failures are logged and counted, never surfaced to ingestion.
package mirror

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/yanun0323/errors"
	_ "modernc.org/sqlite"

	"main/internal/model"
	"main/internal/model/enum"
)

// Index is a SQLite search/analytics index mirroring the primary store.
// Text entities are indexed with FTS5; numeric entities land in plain
// tables for ad hoc analytics queries.
type Index struct {
	db *sql.DB
}

// Open creates or opens the index file and bootstraps its schema.
func Open(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create mirror dir")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open mirror index")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "apply pragma")
		}
	}
	ix := &Index{db: db}
	if err := ix.bootstrap(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ix, nil
}

func (ix *Index) bootstrap() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tickers (
			symbol       TEXT NOT NULL,
			source       INTEGER NOT NULL,
			ts           INTEGER NOT NULL,
			seq          INTEGER NOT NULL,
			price        REAL NOT NULL,
			volume       REAL,
			quote_volume REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tickers_symbol_ts ON tickers(symbol, ts)`,

		`CREATE TABLE IF NOT EXISTS candles (
			symbol    TEXT NOT NULL,
			interval  TEXT NOT NULL,
			open_time INTEGER NOT NULL,
			open      REAL NOT NULL,
			high      REAL NOT NULL,
			low       REAL NOT NULL,
			close     REAL NOT NULL,
			volume    REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_candles_symbol_open ON candles(symbol, interval, open_time)`,

		`CREATE TABLE IF NOT EXISTS news (
			external_id  TEXT PRIMARY KEY,
			currency     TEXT NOT NULL,
			title        TEXT NOT NULL,
			content      TEXT,
			summary      TEXT,
			sentiment    TEXT,
			importance   REAL,
			published_at INTEGER NOT NULL
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS news_fts USING fts5(
			title,
			content,
			summary,
			content=news,
			tokenize='porter unicode61'
		)`,
		`CREATE TRIGGER IF NOT EXISTS news_ai AFTER INSERT ON news BEGIN
			INSERT INTO news_fts(rowid, title, content, summary)
			VALUES (new.rowid, new.title, COALESCE(new.content, ''), COALESCE(new.summary, ''));
		END`,

		`CREATE TABLE IF NOT EXISTS knowledge_items (
			symbol        TEXT NOT NULL,
			ts            INTEGER NOT NULL,
			data_type     INTEGER NOT NULL,
			feature_name  TEXT NOT NULL,
			feature_value REAL,
			feature_text  TEXT,
			PRIMARY KEY (symbol, ts, data_type, feature_name)
		)`,
	}
	for _, stmt := range statements {
		if _, err := ix.db.Exec(stmt); err != nil {
			return errors.Wrap(err, "bootstrap mirror schema")
		}
	}
	return nil
}

// Write indexes one batch. Record order inside the index is not
// guaranteed to match the primary store; convergence is eventual.
func (ix *Index) Write(ctx context.Context, entity enum.Entity, records any) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin mirror tx")
	}
	defer func() { _ = tx.Rollback() }()

	switch entity {
	case enum.EntityTicker:
		err = writeTickers(ctx, tx, records)
	case enum.EntityCandle:
		err = writeCandles(ctx, tx, records)
	case enum.EntityNews:
		err = writeNews(ctx, tx, records)
	case enum.EntityKnowledge:
		err = writeKnowledge(ctx, tx, records)
	default:
		err = errors.Errorf("mirror: unknown entity %s", entity)
	}
	if err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit mirror tx")
}

func writeTickers(ctx context.Context, tx *sql.Tx, records any) error {
	rows, ok := records.([]model.Ticker)
	if !ok {
		return errors.Errorf("mirror: ticker batch has type %T", records)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tickers (symbol, source, ts, seq, price, volume, quote_volume) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare ticker insert")
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Symbol, r.Source, r.Timestamp.UnixMilli(), r.Seq, r.Price, r.Volume, r.QuoteVolume); err != nil {
			return errors.Wrap(err, "insert ticker")
		}
	}
	return nil
}

func writeCandles(ctx context.Context, tx *sql.Tx, records any) error {
	rows, ok := records.([]model.Candle)
	if !ok {
		return errors.Errorf("mirror: candle batch has type %T", records)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO candles (symbol, interval, open_time, open, high, low, close, volume) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare candle insert")
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Symbol, string(r.Interval), r.OpenTime.UnixMilli(), r.Open, r.High, r.Low, r.Close, r.Volume); err != nil {
			return errors.Wrap(err, "insert candle")
		}
	}
	return nil
}

func writeNews(ctx context.Context, tx *sql.Tx, records any) error {
	rows, ok := records.([]model.News)
	if !ok {
		return errors.Errorf("mirror: news batch has type %T", records)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO news (external_id, currency, title, content, summary, sentiment, importance, published_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(external_id) DO NOTHING`)
	if err != nil {
		return errors.Wrap(err, "prepare news insert")
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.ExternalID, r.Currency, r.Title, r.Content, r.Summary, r.Sentiment, r.Importance, r.PublishedAt.UnixMilli()); err != nil {
			return errors.Wrap(err, "insert news")
		}
	}
	return nil
}

func writeKnowledge(ctx context.Context, tx *sql.Tx, records any) error {
	rows, ok := records.([]model.KnowledgeItem)
	if !ok {
		return errors.Errorf("mirror: knowledge batch has type %T", records)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO knowledge_items (symbol, ts, data_type, feature_name, feature_value, feature_text)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(symbol, ts, data_type, feature_name) DO UPDATE SET
			feature_value = excluded.feature_value,
			feature_text  = excluded.feature_text`)
	if err != nil {
		return errors.Wrap(err, "prepare knowledge insert")
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Symbol, r.Timestamp.UnixMilli(), r.DataType, r.FeatureName, r.FeatureValue, r.FeatureText); err != nil {
			return errors.Wrap(err, "insert knowledge item")
		}
	}
	return nil
}

// ApplyNewsAssessments updates sentiment columns on mirrored articles.
// Articles the index has not seen yet are skipped.
func (ix *Index) ApplyNewsAssessments(ctx context.Context, assessments []model.NewsAssessment) error {
	if len(assessments) == 0 {
		return nil
	}
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin mirror tx")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE news SET sentiment = ?, importance = ? WHERE external_id = ?`)
	if err != nil {
		return errors.Wrap(err, "prepare assessment update")
	}
	defer stmt.Close()
	for _, a := range assessments {
		if _, err := stmt.ExecContext(ctx, a.Sentiment, a.Importance, a.ExternalID); err != nil {
			return errors.Wrap(err, "update news assessment")
		}
	}
	return errors.Wrap(tx.Commit(), "commit mirror tx")
}

// NewsHit is one full-text match from the news index.
type NewsHit struct {
	ExternalID  string
	Currency    string
	Title       string
	Sentiment   string
	Importance  float64
	PublishedAt time.Time
}

// SearchNews runs a full-text query over mirrored articles, newest first.
func (ix *Index) SearchNews(ctx context.Context, query string, limit int) ([]NewsHit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := ix.db.QueryContext(ctx,
		`SELECT n.external_id, n.currency, n.title, COALESCE(n.sentiment, ''), COALESCE(n.importance, 0), n.published_at
		 FROM news_fts f
		 JOIN news n ON n.rowid = f.rowid
		 WHERE news_fts MATCH ?
		 ORDER BY n.published_at DESC
		 LIMIT ?`, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "search news")
	}
	defer rows.Close()

	var hits []NewsHit
	for rows.Next() {
		var hit NewsHit
		var publishedMs int64
		if err := rows.Scan(&hit.ExternalID, &hit.Currency, &hit.Title, &hit.Sentiment, &hit.Importance, &publishedMs); err != nil {
			return nil, errors.Wrap(err, "scan news hit")
		}
		hit.PublishedAt = time.UnixMilli(publishedMs).UTC()
		hits = append(hits, hit)
	}
	return hits, errors.Wrap(rows.Err(), "iterate news hits")
}

func (ix *Index) Close() error {
	if ix == nil || ix.db == nil {
		return nil
	}
	return ix.db.Close()
}
