package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/model"
	"main/internal/model/enum"
)

const cryptoPanicJSON = `{
	"results": [
		{
			"id": 19812345,
			"title": "Bitcoin ETF inflows hit a record high",
			"url": "https://cryptopanic.com/news/19812345/",
			"published_at": "2024-12-22T09:15:00Z",
			"source": {"domain": "coindesk.com"},
			"currencies": [{"code": "BTC"}],
			"metadata": {"description": "Spot ETF products saw their largest single-day inflow."}
		},
		{
			"id": 0,
			"title": "broken row without an id"
		},
		{
			"id": 19812346,
			"title": "Ethereum fees drop after upgrade",
			"published_at": "2024-12-22T08:40:00Z",
			"source": {"domain": "theblock.co"},
			"currencies": []
		}
	]
}`

func TestCryptoPanicFetchOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/posts/", r.URL.Path)
		require.Equal(t, "test-token", r.URL.Query().Get("auth_token"))
		require.Equal(t, "BTC,ETH", r.URL.Query().Get("currencies"))
		_, _ = w.Write([]byte(cryptoPanicJSON))
	}))
	defer srv.Close()

	src := NewCryptoPanic("test-token", []string{"BTC", "ETH"})
	src.baseURL = srv.URL

	batches, err := src.FetchOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, enum.EntityNews, batches[0].Entity)

	items, ok := batches[0].Records.([]model.News)
	require.True(t, ok)
	// the row without an id is dropped, the rest survive
	require.Len(t, items, 2)

	assert.Equal(t, "cryptopanic-19812345", items[0].ExternalID)
	assert.Equal(t, "Bitcoin ETF inflows hit a record high", items[0].Title)
	assert.Equal(t, "Spot ETF products saw their largest single-day inflow.", items[0].Content)
	assert.Equal(t, "BTC", items[0].Currency)
	assert.Equal(t, "coindesk.com", items[0].SourceDomain)
	assert.Equal(t, enum.SourceCryptoPanic, items[0].Source)
	assert.False(t, items[0].PublishedAt.IsZero())

	assert.Equal(t, "cryptopanic-19812346", items[1].ExternalID)
	assert.Empty(t, items[1].Currency)
}

func TestCryptoPanicUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	src := NewCryptoPanic("test-token", nil)
	src.baseURL = srv.URL

	_, err := src.FetchOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 429")
}

func TestCryptoPanicEmptyFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results": []}`))
	}))
	defer srv.Close()

	src := NewCryptoPanic("test-token", nil)
	src.baseURL = srv.URL

	batches, err := src.FetchOnce(context.Background())
	require.NoError(t, err)
	require.Empty(t, batches)
}
