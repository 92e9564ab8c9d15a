// Package geocode turns listing addresses into coordinates for the map view.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const DefaultBaseURL = "https://maps.googleapis.com/maps/api"

var (
	ErrNotConfigured = errors.New("geocoding api key is required")
	ErrNoResults     = errors.New("address not found")
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Cache remembers resolved addresses between runs.
type Cache interface {
	Get(ctx context.Context, address string) (Point, bool, error)
	Set(ctx context.Context, address string, p Point) error
}

type apiResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location Point `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Client resolves addresses with the Google Geocoding API.
type Client struct {
	http   *resty.Client
	key    string
	cache  Cache
	logger *zap.Logger
}

// New returns ErrNotConfigured when apiKey is empty. cache may be nil.
func New(apiKey, baseURL string, cache Cache, logger *zap.Logger) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	h := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(10 * time.Second)

	return &Client{http: h, key: apiKey, cache: cache, logger: logger.Named("geocode")}, nil
}

// Lookup returns the first match for address, consulting the cache first.
func (c *Client) Lookup(ctx context.Context, address string) (Point, error) {
	address = normalize(address)
	if address == "" {
		return Point{}, ErrNoResults
	}

	if c.cache != nil {
		p, ok, err := c.cache.Get(ctx, address)
		if err != nil {
			c.logger.Warn("geocode cache read failed", zap.Error(err))
		} else if ok {
			return p, nil
		}
	}

	var out apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"address": address, "key": c.key}).
		SetResult(&out).
		Get("/geocode/json")
	if err != nil {
		return Point{}, fmt.Errorf("geocode %q: %w", address, err)
	}
	if resp.IsError() {
		return Point{}, fmt.Errorf("geocode %q: http %d", address, resp.StatusCode())
	}

	switch out.Status {
	case "OK":
	case "ZERO_RESULTS":
		return Point{}, ErrNoResults
	default:
		return Point{}, fmt.Errorf("geocode %q: %s %s", address, out.Status, out.ErrorMessage)
	}
	if len(out.Results) == 0 {
		return Point{}, ErrNoResults
	}

	p := out.Results[0].Geometry.Location
	if c.cache != nil {
		if err := c.cache.Set(ctx, address, p); err != nil {
			c.logger.Warn("geocode cache write failed", zap.Error(err))
		}
	}
	return p, nil
}

func normalize(address string) string {
	return strings.Join(strings.Fields(address), " ")
}

// RedisCache stores points as JSON under "geocode:<address>".
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func cacheKey(address string) string {
	return "geocode:" + strings.ToLower(address)
}

func (r *RedisCache) Get(ctx context.Context, address string) (Point, bool, error) {
	raw, err := r.rdb.Get(ctx, cacheKey(address)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Point{}, false, nil
	}
	if err != nil {
		return Point{}, false, err
	}
	var p Point
	if err := json.Unmarshal(raw, &p); err != nil {
		return Point{}, false, err
	}
	return p, true, nil
}

func (r *RedisCache) Set(ctx context.Context, address string, p Point) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, cacheKey(address), raw, r.ttl).Err()
}
