package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yanun0323/errors"
	"golang.org/x/time/rate"

	"main/internal/model"
	"main/internal/model/enum"
)

const (
	cryptoPanicBaseURL = "https://cryptopanic.com/api/v1"

	// the free tier allows a handful of requests per minute
	cryptoPanicRequestsPerSecond = 0.5
)

// CryptoPanic polls the aggregated crypto news feed.
type CryptoPanic struct {
	baseURL    string
	authToken  string
	currencies []string
	client     *http.Client
	limiter    *rate.Limiter
}

func NewCryptoPanic(authToken string, currencies []string) *CryptoPanic {
	return &CryptoPanic{
		baseURL:    cryptoPanicBaseURL,
		authToken:  authToken,
		currencies: currencies,
		client:     &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(cryptoPanicRequestsPerSecond), 1),
	}
}

type cryptoPanicResponse struct {
	Results []cryptoPanicPost `json:"results"`
}

type cryptoPanicPost struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
	Source      struct {
		Domain string `json:"domain"`
	} `json:"source"`
	Currencies []struct {
		Code string `json:"code"`
	} `json:"currencies"`
	Metadata struct {
		Description string `json:"description"`
	} `json:"metadata"`
}

// FetchOnce pulls the latest feed page. Posts missing an id or title are
// dropped, the rest of the page still goes through.
func (c *CryptoPanic) FetchOnce(ctx context.Context) ([]Batch, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limit wait")
	}

	query := url.Values{}
	query.Set("auth_token", c.authToken)
	query.Set("public", "true")
	if len(c.currencies) > 0 {
		query.Set("currencies", strings.Join(c.currencies, ","))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/posts/?%s", c.baseURL, query.Encode()), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	var payload cryptoPanicResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}

	items := make([]model.News, 0, len(payload.Results))
	for _, post := range payload.Results {
		if post.ID == 0 || post.Title == "" {
			continue
		}
		item := model.News{
			Source:       enum.SourceCryptoPanic,
			ExternalID:   fmt.Sprintf("cryptopanic-%d", post.ID),
			Title:        post.Title,
			Content:      post.Metadata.Description,
			URL:          post.URL,
			SourceDomain: post.Source.Domain,
			PublishedAt:  post.PublishedAt.UTC(),
			CollectedAt:  time.Now().UTC(),
		}
		if len(post.Currencies) > 0 {
			item.Currency = post.Currencies[0].Code
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return []Batch{{
		Source:  enum.SourceCryptoPanic,
		Entity:  enum.EntityNews,
		Records: items,
		Count:   len(items),
	}}, nil
}
