// Package gif searches Tenor for GIFs to attach to messages.
package gif

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultLimit is the number of results requested per call.
const DefaultLimit = 20

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("gif search not configured")

// Result is a single GIF.
type Result struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	PreviewURL string `json:"preview_url"`
}

// Searcher finds GIFs.
type Searcher interface {
	Featured(ctx context.Context) ([]Result, error)
	Search(ctx context.Context, query string) ([]Result, error)
}

// Client talks to the Tenor v2 API.
type Client struct {
	baseURL   string
	apiKey    string
	clientKey string
	limit     int
	http      *http.Client
}

// NewClient creates a Tenor client. A nil httpClient gets a 10s timeout.
func NewClient(baseURL, apiKey, clientKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		clientKey: clientKey,
		limit:     DefaultLimit,
		http:      httpClient,
	}
}

// Featured returns trending GIFs.
func (c *Client) Featured(ctx context.Context) ([]Result, error) {
	return c.fetch(ctx, "featured", nil)
}

// Search returns GIFs matching query. A blank query returns featured GIFs.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return c.Featured(ctx)
	}
	return c.fetch(ctx, "search", url.Values{"q": {query}})
}

type tenorResponse struct {
	Results []struct {
		ID           string `json:"id"`
		MediaFormats map[string]struct {
			URL string `json:"url"`
		} `json:"media_formats"`
	} `json:"results"`
}

func (c *Client) fetch(ctx context.Context, endpoint string, params url.Values) ([]Result, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("key", c.apiKey)
	params.Set("client_key", c.clientKey)
	params.Set("limit", strconv.Itoa(c.limit))
	params.Set("media_filter", "gif,nanogif")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build tenor request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tenor %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tenor %s: status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload tenorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode tenor response: %w", err)
	}

	out := make([]Result, 0, len(payload.Results))
	for _, r := range payload.Results {
		full := r.MediaFormats["gif"].URL
		if full == "" {
			continue
		}
		preview := r.MediaFormats["nanogif"].URL
		if preview == "" {
			preview = full
		}
		out = append(out, Result{ID: r.ID, URL: full, PreviewURL: preview})
	}
	return out, nil
}
