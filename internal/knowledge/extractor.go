// Package knowledge derives features from collected raw records:
// rolling price statistics, technical indicators and news sentiment.
// Extraction is regenerable, running it twice over the same window
// converges to the same items.
package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/model"
	"main/internal/model/enum"
)

const (
	defaultWindow     = 24 * time.Hour
	defaultMaxTickers = 500
	defaultMaxNews    = 50
)

// Reader is the raw-record query surface the extractor consumes.
type Reader interface {
	Tickers(ctx context.Context, symbol string, since time.Time, limit int) ([]model.Ticker, error)
	News(ctx context.Context, currency string, since time.Time, limit int) ([]model.News, error)
}

// Config configures the feature extractor.
type Config struct {
	Symbols    []string
	Window     time.Duration
	MaxTickers int
	MaxNews    int
	Enricher   Enricher // nil disables sentiment scoring
}

func (cfg Config) withDefaults() Config {
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.MaxTickers <= 0 {
		cfg.MaxTickers = defaultMaxTickers
	}
	if cfg.MaxNews <= 0 {
		cfg.MaxNews = defaultMaxNews
	}
	return cfg
}

// Extractor turns windows of raw records into knowledge items.
type Extractor struct {
	cfg    Config
	reader Reader
}

func NewExtractor(reader Reader, cfg Config) *Extractor {
	return &Extractor{cfg: cfg.withDefaults(), reader: reader}
}

// Extract computes one round of features for every configured symbol as
// of the given instant. It also returns the enrichment verdicts so the
// caller can write them back onto the source articles. A failing symbol
// or article is logged and skipped; extraction never aborts the round
// unless the context ends.
func (e *Extractor) Extract(ctx context.Context, now time.Time) ([]model.KnowledgeItem, []model.NewsAssessment, error) {
	now = now.UTC()
	since := now.Add(-e.cfg.Window)

	var (
		items       []model.KnowledgeItem
		assessments []model.NewsAssessment
	)
	for _, symbol := range e.cfg.Symbols {
		if ctx.Err() != nil {
			return items, assessments, ctx.Err()
		}
		symbolItems, symbolAssessments, err := e.extractSymbol(ctx, symbol, since, now)
		if err != nil {
			if ctx.Err() != nil {
				return items, assessments, ctx.Err()
			}
			logs.Warnf("extract %s failed, err: %+v", symbol, err)
			continue
		}
		items = append(items, symbolItems...)
		assessments = append(assessments, symbolAssessments...)
	}
	return items, assessments, nil
}

func (e *Extractor) extractSymbol(ctx context.Context, symbol string, since, now time.Time) ([]model.KnowledgeItem, []model.NewsAssessment, error) {
	tickers, err := e.reader.Tickers(ctx, symbol, since, e.cfg.MaxTickers)
	if err != nil {
		return nil, nil, err
	}

	var items []model.KnowledgeItem
	if len(tickers) >= 2 {
		items = append(items, priceFeatures(symbol, tickers)...)
	} else {
		logs.Infof("extract %s: %d tickers in window, skipping price features", symbol, len(tickers))
	}

	newsItems, assessments, err := e.newsFeatures(ctx, symbol, since, now)
	if err != nil {
		return nil, nil, err
	}
	return append(items, newsItems...), assessments, nil
}

// priceFeatures derives rolling statistics and technical indicators
// from the ordered ticker window. Indicators that cannot fill their
// lookback are omitted rather than padded.
func priceFeatures(symbol string, tickers []model.Ticker) []model.KnowledgeItem {
	prices := make([]float64, len(tickers))
	volumes := make([]float64, len(tickers))
	for i, t := range tickers {
		prices[i] = t.Price
		volumes[i] = t.Volume
	}
	ts := tickers[len(tickers)-1].Timestamp.UTC()
	meta := model.JSONMap{"window_points": len(tickers)}

	item := func(dataType enum.DataType, name string, value float64) model.KnowledgeItem {
		return model.KnowledgeItem{
			Symbol:       symbol,
			Timestamp:    ts,
			DataType:     dataType,
			FeatureName:  name,
			FeatureValue: model.Float64(value),
			Metadata:     meta,
		}
	}

	items := []model.KnowledgeItem{
		item(enum.DataTypePrice, "price_change_pct", pctChange(prices[0], prices[len(prices)-1])),
		item(enum.DataTypePrice, "volume_change_pct", pctChange(volumes[0], volumes[len(volumes)-1])),
	}

	for _, period := range []int{5, 20, 50} {
		if window := tail(prices, period); window != nil {
			items = append(items, item(enum.DataTypeTechnical, fmt.Sprintf("ma_%d", period), mean(window)))
		}
	}
	if window := tail(prices, 20); window != nil {
		ma, sd := mean(window), stddev(window)
		items = append(items,
			item(enum.DataTypeTechnical, "bollinger_upper", ma+2*sd),
			item(enum.DataTypeTechnical, "bollinger_lower", ma-2*sd),
		)
	}
	if v, ok := rsi(prices, 14); ok {
		items = append(items, item(enum.DataTypeTechnical, "rsi_14", v))
	}
	if line, signal, hist, ok := macd(prices); ok {
		items = append(items,
			item(enum.DataTypeTechnical, "macd", line),
			item(enum.DataTypeTechnical, "macd_signal", signal),
			item(enum.DataTypeTechnical, "macd_histogram", hist),
		)
	}
	if cross, ok := maCross(prices, 5, 20); ok {
		items = append(items, model.KnowledgeItem{
			Symbol:      symbol,
			Timestamp:   ts,
			DataType:    enum.DataTypeTechnical,
			FeatureName: "ma_cross",
			FeatureText: cross,
			Metadata:    meta,
		})
	}
	return items
}

// newsFeatures emits one item per article plus an aggregate sentiment
// score over the scored subset. When the enricher is absent or fails on
// an article, the item keeps its text but carries no value. Each scored
// article also yields an assessment for the write-back pass.
func (e *Extractor) newsFeatures(ctx context.Context, symbol string, since, now time.Time) ([]model.KnowledgeItem, []model.NewsAssessment, error) {
	currency := baseCurrency(symbol)
	articles, err := e.reader.News(ctx, currency, since, e.cfg.MaxNews)
	if err != nil {
		return nil, nil, err
	}
	if len(articles) == 0 {
		return nil, nil, nil
	}

	var (
		items       []model.KnowledgeItem
		assessments []model.NewsAssessment
		scores      []float64
	)
	for _, article := range articles {
		item := model.KnowledgeItem{
			Symbol:      symbol,
			Timestamp:   article.PublishedAt.UTC(),
			DataType:    enum.DataTypeNews,
			FeatureName: "news_sentiment_" + article.ExternalID,
			FeatureText: article.Title,
			Metadata: model.JSONMap{
				"external_id": article.ExternalID,
				"currency":    currency,
			},
		}
		if e.cfg.Enricher != nil {
			assessment, err := e.cfg.Enricher.Assess(ctx, article.Title, article.Summary)
			if err != nil {
				if ctx.Err() != nil {
					return items, assessments, ctx.Err()
				}
				logs.Warnf("enrich %s failed, item kept unscored, err: %+v", article.ExternalID, err)
			} else {
				score := assessment.Score()
				item.FeatureValue = model.Float64(score)
				item.Metadata["sentiment"] = assessment.Sentiment
				item.Metadata["importance"] = assessment.Importance
				scores = append(scores, score)
				assessments = append(assessments, model.NewsAssessment{
					ExternalID: article.ExternalID,
					Sentiment:  assessment.Sentiment,
					Importance: assessment.Importance,
				})
			}
		}
		items = append(items, item)
	}

	if len(scores) > 0 {
		items = append(items, model.KnowledgeItem{
			Symbol:       symbol,
			Timestamp:    now,
			DataType:     enum.DataTypeNews,
			FeatureName:  "sentiment_score",
			FeatureValue: model.Float64(mean(scores)),
			Metadata: model.JSONMap{
				"scored":   len(scores),
				"articles": len(items),
			},
		})
	}
	return items, assessments, nil
}

// baseCurrency maps a trading pair symbol to its news feed currency,
// e.g. BTCUSDT to BTC.
func baseCurrency(symbol string) string {
	for _, quote := range []string{"USDT", "BUSD", "USDC", "USD"} {
		if trimmed := strings.TrimSuffix(symbol, quote); trimmed != symbol && trimmed != "" {
			return trimmed
		}
	}
	return symbol
}
