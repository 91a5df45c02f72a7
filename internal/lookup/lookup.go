// Package lookup talks to the external business-lookup service.
package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hiro/poi_service/internal/config"
)

// Business mirrors one record of the lookup service's search response.
// Presence of the required fields is part of the contract, so the fields a
// record may legitimately omit decode through pointers.
type Business struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Alias       string             `json:"alias"`
	ImageURL    string             `json:"image_url"`
	URL         string             `json:"url"`
	IsClosed    bool               `json:"is_closed"`
	Coordinates *Coordinates       `json:"coordinates"`
	Rating      *float64           `json:"rating"`
	ReviewCount *int64             `json:"review_count"`
	Price       string             `json:"price"`
	Phone       string             `json:"phone"`
	Categories  []BusinessCategory `json:"categories"`
	Location    *BusinessLocation  `json:"location"`
}

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type BusinessCategory struct {
	Title string `json:"title"`
	Alias string `json:"alias"`
}

type BusinessLocation struct {
	Address1 string `json:"address1"`
	Address2 string `json:"address2"`
	Address3 string `json:"address3"`
	City     string `json:"city"`
	ZipCode  string `json:"zip_code"`
}

type searchResponse struct {
	Businesses []Business `json:"businesses"`
}

// Client issues authenticated search calls with the deployment-wide search
// parameters baked in. Every call is bounded by the configured timeout.
type Client struct {
	baseURL string
	token   string
	anchor  string
	limit   int
	sortBy  string
	locale  string
	hc      *http.Client
	logger  *zap.Logger
}

func NewClient(cfg config.LookupConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		anchor:  cfg.Anchor,
		limit:   cfg.Limit,
		sortBy:  cfg.SortBy,
		locale:  cfg.Locale,
		hc:      &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

// Search queries the lookup service for term. A non-2xx status, transport
// error, or timeout is returned as an error; the caller treats them all as a
// lookup failure.
func (c *Client) Search(ctx context.Context, term string) ([]Business, error) {
	q := url.Values{}
	q.Set("location", c.anchor)
	q.Set("limit", strconv.Itoa(c.limit))
	q.Set("term", term)
	q.Set("sort_by", c.sortBy)
	q.Set("locale", c.locale)

	endpoint := c.baseURL + "/v3/businesses/search?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("lookup request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup for %q: %w", term, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("lookup response",
		zap.String("term", term),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("lookup for %q: status %d: %s", term, resp.StatusCode, body)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("lookup for %q: decode: %w", term, err)
	}
	return parsed.Businesses, nil
}
