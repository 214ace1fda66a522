package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yanun0323/errors"
)

// Assessment is the enrichment verdict for one article.
type Assessment struct {
	Sentiment  string  // "positive", "negative" or "neutral"
	Importance float64 // 0.0 to 1.0
}

// Score maps the sentiment label onto [-1, 1] weighted by importance.
func (a Assessment) Score() float64 {
	switch a.Sentiment {
	case "positive":
		return a.Importance
	case "negative":
		return -a.Importance
	default:
		return 0
	}
}

// Enricher scores news articles. Implementations may call external
// models; a failure on one article must not abort the batch, callers
// degrade to unscored items.
type Enricher interface {
	Assess(ctx context.Context, title, content string) (Assessment, error)
}

// EnrichConfig configures the OpenAI-compatible enrichment client.
type EnrichConfig struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

func (cfg EnrichConfig) withDefaults() EnrichConfig {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return cfg
}

func (cfg EnrichConfig) validate() error {
	if cfg.Endpoint == "" {
		return errors.New("enrich: endpoint is required")
	}
	if cfg.Model == "" {
		return errors.New("enrich: model is required")
	}
	return nil
}

// EnrichClient assesses articles through an OpenAI-compatible chat
// completions endpoint.
type EnrichClient struct {
	cfg    EnrichConfig
	client *http.Client
}

func NewEnrichClient(cfg EnrichConfig) (*EnrichClient, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &EnrichClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

const enrichSystemPrompt = `You assess cryptocurrency news. Reply with a single JSON object:
{"sentiment": "positive"|"negative"|"neutral", "importance": 0.0-1.0}`

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type assessmentPayload struct {
	Sentiment  string  `json:"sentiment"`
	Importance float64 `json:"importance"`
}

func (c *EnrichClient) Assess(ctx context.Context, title, content string) (Assessment, error) {
	prompt := title
	if content != "" {
		prompt += "\n\n" + content
	}
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: enrichSystemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return Assessment{}, errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Assessment{}, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Assessment{}, errors.Wrap(err, "request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Assessment{}, errors.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}

	var payload chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Assessment{}, errors.Wrap(err, "decode response")
	}
	if len(payload.Choices) == 0 {
		return Assessment{}, errors.New("enrich: empty response")
	}
	return parseAssessment(payload.Choices[0].Message.Content)
}

// parseAssessment extracts the JSON verdict from the model reply, which
// may wrap it in markdown fences or surrounding prose.
func parseAssessment(reply string) (Assessment, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return Assessment{}, errors.Errorf("no JSON object in reply: %q", reply)
	}

	var payload assessmentPayload
	if err := json.Unmarshal([]byte(reply[start:end+1]), &payload); err != nil {
		return Assessment{}, errors.Wrap(err, "parse assessment")
	}
	switch payload.Sentiment {
	case "positive", "negative", "neutral":
	default:
		return Assessment{}, errors.Errorf("invalid sentiment %q", payload.Sentiment)
	}
	if payload.Importance < 0 {
		payload.Importance = 0
	}
	if payload.Importance > 1 {
		payload.Importance = 1
	}
	return Assessment{Sentiment: payload.Sentiment, Importance: payload.Importance}, nil
}
