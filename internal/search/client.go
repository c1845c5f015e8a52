package search

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL    = "https://api.tavily.com"
	DefaultMaxResults = 5
	DefaultCacheTTL   = 6 * time.Hour
)

var ErrNotConfigured = errors.New("search api key is not configured")

// Result is one web page suggested for a topic.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Config controls the Tavily search client.
type Config struct {
	APIKey     string
	BaseURL    string
	MaxResults int
	CacheTTL   time.Duration
	Timeout    time.Duration
}

// Client queries the Tavily search API and caches results by topic.
type Client struct {
	cfg        Config
	httpClient *http.Client
	cache      Cache
	logger     zerolog.Logger
}

// NewClient builds a search client. A nil cache selects an in-process cache.
func NewClient(cfg Config, cache Cache, logger zerolog.Logger) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache,
		logger:     logger,
	}
}

type searchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type searchResponse struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
}

// Search returns web results for topic, serving repeats from the cache.
func (c *Client) Search(ctx context.Context, topic string) ([]Result, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("search topic is empty")
	}
	if c.cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}

	key := cacheKey(topic)
	if raw, ok := c.cache.Get(ctx, key); ok {
		var cached []Result
		if err := json.Unmarshal(raw, &cached); err == nil {
			c.logger.Debug().Str("topic", topic).Msg("search cache hit")
			return cached, nil
		}
	}

	body, err := json.Marshal(searchRequest{Query: topic, MaxResults: c.cfg.MaxResults})
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if decoded.Results == nil {
		decoded.Results = []Result{}
	}

	if raw, err := json.Marshal(decoded.Results); err == nil {
		c.cache.Set(ctx, key, raw, c.cfg.CacheTTL)
	}
	return decoded.Results, nil
}

func cacheKey(topic string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(topic)))
	return "search:" + hex.EncodeToString(sum[:])
}
