// Package geo turns free-text place names into coordinates.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrNoResult means the provider knows no place by that name.
var ErrNoResult = errors.New("geo: no result")

// Point is one geocoding answer.
type Point struct {
	Name string // the provider's canonical name, informational only
	Lat  float64
	Long float64
}

// Geocoder resolves a name to a Point.
type Geocoder interface {
	Geocode(ctx context.Context, name string) (*Point, error)
}

// Config configures the Geonames client.
type Config struct {
	BaseURL   string
	Username  string
	UserAgent string
	Timeout   time.Duration
	Rate      float64 // requests per second
	Burst     int
}

// Geonames calls the geonames.org search API.
//
// RATE LIMITING:
// Free Geonames accounts are throttled per hour and per day. The limiter
// spreads lookups out. The timeout covers the wait for a token as well as
// the request, so a lookup never takes longer than it; a wait that cannot
// finish in time fails at once, like any other transport failure.
type Geonames struct {
	baseURL   string
	username  string
	userAgent string
	timeout   time.Duration
	client    *http.Client
	limiter   *rate.Limiter
}

var _ Geocoder = (*Geonames)(nil)

func NewGeonames(cfg Config) *Geonames {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Geonames{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		username:  cfg.Username,
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
	}
}

type searchResponse struct {
	TotalResultsCount int `json:"totalResultsCount"`
	Geonames          []struct {
		Name string `json:"name"`
		Lat  string `json:"lat"`
		Lng  string `json:"lng"`
	} `json:"geonames"`
	Status *struct {
		Message string `json:"message"`
		Value   int    `json:"value"`
	} `json:"status"`
}

// Geocode runs GET /searchJSON?q=<name>&maxRows=1&username=<user>.
func (g *Geonames) Geocode(ctx context.Context, name string) (*Point, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrNoResult
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("geo: waiting for rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("q", name)
	q.Set("maxRows", "1")
	q.Set("username", g.username)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/searchJSON?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("geo: building request: %w", err)
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geo: searching %q: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geo: searching %q: status %d", name, resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("geo: decoding response for %q: %w", name, err)
	}
	// Geonames reports account problems with HTTP 200 and a status object.
	if body.Status != nil {
		return nil, fmt.Errorf("geo: searching %q: %s (code %d)", name, body.Status.Message, body.Status.Value)
	}
	if body.TotalResultsCount == 0 || len(body.Geonames) == 0 {
		return nil, ErrNoResult
	}

	first := body.Geonames[0]
	lat, err := strconv.ParseFloat(first.Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("geo: bad latitude %q for %q: %w", first.Lat, name, err)
	}
	lng, err := strconv.ParseFloat(first.Lng, 64)
	if err != nil {
		return nil, fmt.Errorf("geo: bad longitude %q for %q: %w", first.Lng, name, err)
	}
	return &Point{Name: first.Name, Lat: lat, Long: lng}, nil
}
