package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"golang.org/x/time/rate"

	"main/internal/model"
	"main/internal/model/enum"
)

const (
	binanceBaseURL   = "https://api.binance.com"
	binanceStreamURL = "wss://stream.binance.com:9443/ws"

	// binance allows 1200 request weight per minute; stay well under it
	binanceRequestsPerSecond = 5
	binanceKlineLimit        = 100
	binanceDailyKlineLimit   = 30

	// binance pings the stream roughly every three minutes; a connection
	// silent past this window is treated as dead
	binanceReadIdleTimeout = 4 * time.Minute
	binanceControlTimeout  = 10 * time.Second
)

// BinanceRest polls ticker and candlestick data over the REST API.
type BinanceRest struct {
	baseURL   string
	symbols   []string
	intervals []enum.CandleInterval
	client    *http.Client
	limiter   *rate.Limiter
}

func NewBinanceRest(symbols []string) *BinanceRest {
	return &BinanceRest{
		baseURL:   binanceBaseURL,
		symbols:   symbols,
		intervals: enum.CandleIntervals(),
		client:    &http.Client{Timeout: 15 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(binanceRequestsPerSecond), binanceRequestsPerSecond),
	}
}

// FetchOnce collects a ticker snapshot and candles for every configured
// symbol. An error on any request fails the whole round so the polling
// retry policy can take over.
func (r *BinanceRest) FetchOnce(ctx context.Context) ([]Batch, error) {
	now := time.Now().UTC()
	tickers := make([]model.Ticker, 0, len(r.symbols))
	var candles []model.Candle

	for _, symbol := range r.symbols {
		ticker, err := r.fetchTicker(ctx, symbol, now)
		if err != nil {
			return nil, errors.Wrap(err, "fetch ticker").With("symbol", symbol)
		}
		tickers = append(tickers, ticker)

		for _, interval := range r.intervals {
			limit := binanceKlineLimit
			if interval == enum.Candle1d {
				limit = binanceDailyKlineLimit
			}
			bars, err := r.fetchCandles(ctx, symbol, interval, limit)
			if err != nil {
				return nil, errors.Wrapf(err, "fetch candles %s %s", symbol, interval)
			}
			candles = append(candles, bars...)
		}
	}

	batches := []Batch{
		{Source: enum.SourceBinance, Entity: enum.EntityTicker, Records: tickers, Count: len(tickers)},
	}
	if len(candles) > 0 {
		batches = append(batches, Batch{
			Source: enum.SourceBinance, Entity: enum.EntityCandle, Records: candles, Count: len(candles),
		})
	}
	return batches, nil
}

type binanceTickerPayload struct {
	Symbol             string          `json:"symbol"`
	LastPrice          decimal.Decimal `json:"lastPrice"`
	PriceChange        decimal.Decimal `json:"priceChange"`
	PriceChangePercent decimal.Decimal `json:"priceChangePercent"`
	Volume             decimal.Decimal `json:"volume"`
	QuoteVolume        decimal.Decimal `json:"quoteVolume"`
	HighPrice          decimal.Decimal `json:"highPrice"`
	LowPrice           decimal.Decimal `json:"lowPrice"`
	Count              int64           `json:"count"`
	CloseTime          int64           `json:"closeTime"`
}

func (r *BinanceRest) fetchTicker(ctx context.Context, symbol string, now time.Time) (model.Ticker, error) {
	var payload binanceTickerPayload
	url := fmt.Sprintf("%s/api/v3/ticker/24hr?symbol=%s", r.baseURL, symbol)
	if err := r.getJSON(ctx, url, &payload); err != nil {
		return model.Ticker{}, err
	}
	return model.Ticker{
		Source:             enum.SourceBinance,
		Symbol:             symbol,
		Timestamp:          now,
		Seq:                payload.CloseTime,
		Price:              decimalFloat(payload.LastPrice),
		PriceChange:        decimalFloat(payload.PriceChange),
		PriceChangePercent: decimalFloat(payload.PriceChangePercent),
		Volume:             decimalFloat(payload.Volume),
		QuoteVolume:        decimalFloat(payload.QuoteVolume),
		HighPrice:          decimalFloat(payload.HighPrice),
		LowPrice:           decimalFloat(payload.LowPrice),
		TradeCount:         payload.Count,
	}, nil
}

func (r *BinanceRest) fetchCandles(ctx context.Context, symbol string, interval enum.CandleInterval, limit int) ([]model.Candle, error) {
	var raw [][]json.RawMessage
	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=%d", r.baseURL, symbol, interval, limit)
	if err := r.getJSON(ctx, url, &raw); err != nil {
		return nil, err
	}

	candles := make([]model.Candle, 0, len(raw))
	for _, row := range raw {
		candle, err := parseBinanceKline(symbol, interval, row)
		if err != nil {
			// one bad row does not poison the round
			continue
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func (r *BinanceRest) getJSON(ctx context.Context, url string, out any) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limit wait")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}

// parseBinanceKline maps one kline row:
// [openTime, open, high, low, close, volume, closeTime, quoteVolume, trades, takerBase, takerQuote, _]
func parseBinanceKline(symbol string, interval enum.CandleInterval, row []json.RawMessage) (model.Candle, error) {
	if len(row) < 11 {
		return model.Candle{}, errors.Wrap(ErrMalformedRecord, "kline row too short")
	}
	openTime, err := klineInt(row[0])
	if err != nil {
		return model.Candle{}, err
	}
	closeTime, err := klineInt(row[6])
	if err != nil {
		return model.Candle{}, err
	}
	trades, err := klineInt(row[8])
	if err != nil {
		return model.Candle{}, err
	}
	values := make([]float64, 0, 7)
	for _, idx := range []int{1, 2, 3, 4, 5, 7, 9} {
		v, err := klineFloat(row[idx])
		if err != nil {
			return model.Candle{}, err
		}
		values = append(values, v)
	}
	takerQuote, err := klineFloat(row[10])
	if err != nil {
		return model.Candle{}, err
	}
	return model.Candle{
		Source:              enum.SourceBinance,
		Symbol:              symbol,
		Interval:            interval,
		OpenTime:            time.UnixMilli(openTime).UTC(),
		Open:                values[0],
		High:                values[1],
		Low:                 values[2],
		Close:               values[3],
		Volume:              values[4],
		CloseTime:           time.UnixMilli(closeTime).UTC(),
		QuoteVolume:         values[5],
		Trades:              trades,
		TakerBuyBaseVolume:  values[6],
		TakerBuyQuoteVolume: takerQuote,
	}, nil
}

func klineInt(raw json.RawMessage) (int64, error) {
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, errors.Wrap(ErrMalformedRecord, "kline integer field")
	}
	return v, nil
}

func klineFloat(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, errors.Wrap(ErrMalformedRecord, "kline decimal field")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrap(ErrMalformedRecord, "kline decimal value")
	}
	return v, nil
}

func decimalFloat(d decimal.Decimal) float64 {
	v, err := strconv.ParseFloat(d.String(), 64)
	if err != nil {
		return 0
	}
	return v
}

// BinanceStream subscribes to live mini-ticker events over the market
// data websocket.
type BinanceStream struct {
	url         string
	idleTimeout time.Duration
}

func NewBinanceStream() *BinanceStream {
	return &BinanceStream{url: binanceStreamURL, idleTimeout: binanceReadIdleTimeout}
}

func (s *BinanceStream) Dial(ctx context.Context) (StreamConn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "dial binance stream")
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	// server pings count as liveness; answer them and push the idle
	// deadline out
	conn.SetPingHandler(func(message string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(message), time.Now().Add(binanceControlTimeout))
	})
	return &binanceStreamConn{conn: conn, idleTimeout: s.idleTimeout}, nil
}

type binanceSubscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type binanceMiniTicker struct {
	EventType   string          `json:"e"`
	EventTime   int64           `json:"E"`
	Symbol      string          `json:"s"`
	Close       decimal.Decimal `json:"c"`
	Open        decimal.Decimal `json:"o"`
	High        decimal.Decimal `json:"h"`
	Low         decimal.Decimal `json:"l"`
	Volume      decimal.Decimal `json:"v"`
	QuoteVolume decimal.Decimal `json:"q"`
}

type binanceStreamConn struct {
	conn        *websocket.Conn
	idleTimeout time.Duration
}

func (c *binanceStreamConn) Subscribe(ctx context.Context, symbols []string) error {
	params := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		params = append(params, strings.ToLower(symbol)+"@miniTicker")
	}
	payload := binanceSubscribeRequest{Method: "SUBSCRIBE", Params: params, ID: 1}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	}
	if err := c.conn.WriteJSON(payload); err != nil {
		return errors.Wrap(err, "write subscribe payload").With("payload", payload)
	}
	_ = c.conn.SetWriteDeadline(time.Time{})
	return nil
}

func (c *binanceStreamConn) Read(ctx context.Context) (Batch, error) {
	for {
		if ctx.Err() != nil {
			return Batch{}, ctx.Err()
		}
		deadline := time.Now().Add(c.idleTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		_ = c.conn.SetReadDeadline(deadline)
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return Batch{}, errors.Wrap(err, "read stream message")
		}
		batch, err := parseBinanceMiniTicker(data)
		if err != nil {
			return Batch{}, err
		}
		if batch.Count == 0 {
			// subscription ack or unrelated event
			continue
		}
		return batch, nil
	}
}

func (c *binanceStreamConn) Close() error {
	return c.conn.Close()
}

func parseBinanceMiniTicker(data []byte) (Batch, error) {
	var event binanceMiniTicker
	if err := json.Unmarshal(data, &event); err != nil {
		return Batch{}, errors.Wrap(ErrMalformedRecord, "mini ticker payload")
	}
	if event.EventType != "24hrMiniTicker" {
		return Batch{}, nil
	}
	if event.Symbol == "" || event.EventTime == 0 {
		return Batch{}, errors.Wrap(ErrMalformedRecord, "mini ticker missing fields")
	}
	price := decimalFloat(event.Close)
	open := decimalFloat(event.Open)
	ticker := model.Ticker{
		Source:      enum.SourceBinanceStream,
		Symbol:      event.Symbol,
		Timestamp:   time.UnixMilli(event.EventTime).UTC(),
		Seq:         event.EventTime,
		Price:       price,
		PriceChange: price - open,
		Volume:      decimalFloat(event.Volume),
		QuoteVolume: decimalFloat(event.QuoteVolume),
		HighPrice:   decimalFloat(event.High),
		LowPrice:    decimalFloat(event.Low),
	}
	if open != 0 {
		ticker.PriceChangePercent = (price - open) / open * 100
	}
	return Batch{
		Source:  enum.SourceBinanceStream,
		Entity:  enum.EntityTicker,
		Records: []model.Ticker{ticker},
		Count:   1,
	}, nil
}
