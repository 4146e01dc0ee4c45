package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client queries an HTTP card catalog at GET {base}/v1/cards/search.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ Resolver = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithAPIKey sends key in the X-Api-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

// WithName sets the source name reported on quotes.
func WithName(name string) Option {
	return func(c *Client) {
		if name = strings.TrimSpace(name); name != "" {
			c.name = name
		}
	}
}

// New creates a catalog client.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("pricing base url required")
	}
	client := &Client{
		name:       "catalog",
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	ProductID productID   `json:"productId"`
	Name      string      `json:"name"`
	Set       string      `json:"set"`
	Number    string      `json:"number"`
	ImageURL  string      `json:"imageUrl"`
	Prices    searchPrice `json:"prices"`
}

type searchPrice struct {
	Low    *float64 `json:"low"`
	Market *float64 `json:"market"`
	High   *float64 `json:"high"`
}

// Resolve returns the catalog's best match for q.
func (c *Client) Resolve(ctx context.Context, q Query) (*Quote, error) {
	if strings.TrimSpace(q.CardName) == "" {
		return nil, fmt.Errorf("%w: card name required", ErrNotFound)
	}

	params := url.Values{}
	params.Set("name", q.CardName)
	if q.Game != "" {
		params.Set("game", q.Game)
	}
	if q.SetName != "" {
		params.Set("set", q.SetName)
	}
	if q.CardNumber != "" {
		params.Set("number", q.CardNumber)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/cards/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLookupFailed, c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyStatus(c.name, resp.StatusCode, string(body))
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %s: decoding response: %w", ErrLookupFailed, c.name, err)
	}
	if len(payload.Results) == 0 {
		return nil, ErrNotFound
	}

	best := payload.Results[0]
	return &Quote{
		Low:       best.Prices.Low,
		Market:    best.Prices.Market,
		High:      best.Prices.High,
		ImageURL:  best.ImageURL,
		ProductID: string(best.ProductID),
		Source:    c.name,
	}, nil
}

// productID accepts catalog ids encoded as either JSON numbers or strings.
type productID string

func (p *productID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = productID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*p = productID(n.String())
	return nil
}

func classifyStatus(provider string, status int, body string) error {
	switch status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s returned %d", ErrProviderRateLimited, provider, status)
	case http.StatusPaymentRequired:
		return fmt.Errorf("%w: %s returned %d", ErrProviderExhausted, provider, status)
	}
	return fmt.Errorf("%w: %s returned %d: %s", ErrLookupFailed, provider, status, strings.TrimSpace(body))
}
