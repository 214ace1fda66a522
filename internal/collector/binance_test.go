package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"main/internal/model"
	"main/internal/model/enum"
)

const binanceTickerJSON = `{
	"symbol": "BTCUSDT",
	"priceChange": "-94.99999800",
	"priceChangePercent": "-0.217",
	"lastPrice": "43657.57000000",
	"volume": "18942.04404700",
	"quoteVolume": "828400258.24",
	"highPrice": "44300.00000000",
	"lowPrice": "43200.12000000",
	"count": 761292,
	"closeTime": 1703239499999
}`

const binanceKlinesJSON = `[
	[1703235600000,"43500.00","43700.00","43450.00","43657.57","120.5",1703239199999,"5261000.12",4521,"60.2","2630000.44","0"],
	[1703239200000,"43657.57","43800.00","43600.00","43750.00","98.1",1703242799999,"4290000.55",3810,"49.0","2140000.01","0"]
]`

func TestBinanceRestFetchOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/v3/ticker/24hr"):
			require.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
			_, _ = w.Write([]byte(binanceTickerJSON))
		case strings.HasPrefix(r.URL.Path, "/api/v3/klines"):
			_, _ = w.Write([]byte(binanceKlinesJSON))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src := NewBinanceRest([]string{"BTCUSDT"})
	src.baseURL = srv.URL

	batches, err := src.FetchOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, batches, 2)

	require.Equal(t, enum.EntityTicker, batches[0].Entity)
	tickers, ok := batches[0].Records.([]model.Ticker)
	require.True(t, ok)
	require.Len(t, tickers, 1)
	assert.Equal(t, enum.SourceBinance, tickers[0].Source)
	assert.Equal(t, "BTCUSDT", tickers[0].Symbol)
	assert.InDelta(t, 43657.57, tickers[0].Price, 1e-9)
	assert.InDelta(t, -0.217, tickers[0].PriceChangePercent, 1e-9)
	assert.Equal(t, int64(761292), tickers[0].TradeCount)
	assert.Equal(t, int64(1703239499999), tickers[0].Seq)

	require.Equal(t, enum.EntityCandle, batches[1].Entity)
	candles, ok := batches[1].Records.([]model.Candle)
	require.True(t, ok)
	// two bars per configured interval
	require.Len(t, candles, 2*len(enum.CandleIntervals()))
	assert.InDelta(t, 43500.0, candles[0].Open, 1e-9)
	assert.InDelta(t, 43657.57, candles[0].Close, 1e-9)
	assert.Equal(t, int64(4521), candles[0].Trades)
	assert.Equal(t, int64(1703235600000), candles[0].OpenTime.UnixMilli())
}

func TestBinanceRestUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	src := NewBinanceRest([]string{"NOPEUSDT"})
	src.baseURL = srv.URL

	_, err := src.FetchOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
}

func TestParseBinanceKlineMalformed(t *testing.T) {
	_, err := parseBinanceKline("BTCUSDT", enum.Candle1h, nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMalformedRecord))
}

func wsTestServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestBinanceStreamIdleTimeout(t *testing.T) {
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		// consume the subscribe request, then go silent
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	stream := &BinanceStream{url: wsURL(srv), idleTimeout: 50 * time.Millisecond}
	conn, err := stream.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Subscribe(context.Background(), []string{"BTCUSDT"}))

	// a silently dead connection must surface as a read error so the
	// reconnect loop can take over, not block forever
	start := time.Now()
	_, err = conn.Read(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestBinanceStreamPingExtendsIdleDeadline(t *testing.T) {
	payload := `{"e":"24hrMiniTicker","E":1703239500123,"s":"BTCUSDT",
		"c":"43700.00","o":"43500.00","h":"43800.00","l":"43400.00",
		"v":"1200.5","q":"52400000.10"}`
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		for i := 0; i < 12; i++ {
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(payload))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	stream := &BinanceStream{url: wsURL(srv), idleTimeout: 100 * time.Millisecond}
	conn, err := stream.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Subscribe(context.Background(), []string{"BTCUSDT"}))

	// pings arrive faster than the idle window; the event delivered well
	// past the timeout must still come through
	batch, err := conn.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Count)
}

func TestParseBinanceMiniTicker(t *testing.T) {
	t.Run("event", func(t *testing.T) {
		payload := `{"e":"24hrMiniTicker","E":1703239500123,"s":"BTCUSDT",
			"c":"43700.00","o":"43500.00","h":"43800.00","l":"43400.00",
			"v":"1200.5","q":"52400000.10"}`

		batch, err := parseBinanceMiniTicker([]byte(payload))
		require.NoError(t, err)
		require.Equal(t, 1, batch.Count)
		require.Equal(t, enum.SourceBinanceStream, batch.Source)

		tickers := batch.Records.([]model.Ticker)
		require.Len(t, tickers, 1)
		assert.InDelta(t, 43700.0, tickers[0].Price, 1e-9)
		assert.InDelta(t, 200.0, tickers[0].PriceChange, 1e-9)
		assert.InDelta(t, 200.0/43500.0*100, tickers[0].PriceChangePercent, 1e-9)
		assert.Equal(t, int64(1703239500123), tickers[0].Seq)
	})

	t.Run("subscription ack skipped", func(t *testing.T) {
		batch, err := parseBinanceMiniTicker([]byte(`{"result":null,"id":1}`))
		require.NoError(t, err)
		assert.Equal(t, 0, batch.Count)
	})

	t.Run("malformed payload", func(t *testing.T) {
		_, err := parseBinanceMiniTicker([]byte(`{"e":"24hrMiniTicker",`))
		require.Error(t, err)
		require.True(t, errors.Is(err, ErrMalformedRecord))
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := parseBinanceMiniTicker([]byte(`{"e":"24hrMiniTicker","c":"1.0"}`))
		require.Error(t, err)
		require.True(t, errors.Is(err, ErrMalformedRecord))
	})
}
