// Package currency resolves the USD exchange rate used to convert
// supplier invoice prices into local sale prices. The fetched rate is
// cached in redis with a TTL; an operator-set manual rate always takes
// precedence and persists until explicitly cleared.
package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/bloomstock/backoffice/internal/pkg/httpretry"
	"github.com/redis/go-redis/v9"
)

const (
	cacheKey  = "currency:rate:usd"
	manualKey = "currency:rate:manual"
)

// Rate source tags, in precedence order.
const (
	SourceManual   = "manual"
	SourceLive     = "live"
	SourceCached   = "cached"
	SourceFallback = "fallback"
)

// Rate is the resolved exchange rate plus where it came from.
type Rate struct {
	Value  float64 `json:"rate"`
	Source string  `json:"source"`
}

// Config holds provider settings.
type Config struct {
	RateURL        string
	CacheTTL       time.Duration
	FallbackRate   float64
	TimeoutSeconds int
}

// Provider resolves the current rate.
type Provider struct {
	cfg        Config
	redis      *redis.Client
	httpClient httpretry.HTTPDoer
}

// NewProvider creates a rate provider backed by the given redis client.
func NewProvider(cfg Config, rdb *redis.Client) *Provider {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &Provider{
		cfg:   cfg,
		redis: rdb,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: timeout,
		}, 2),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (p *Provider) SetHTTPClient(client httpretry.HTTPDoer) {
	p.httpClient = client
}

// Rate resolves the current exchange rate. Precedence: manual override,
// cached value, live fetch, configured fallback. Never returns an
// error for a missing rate; the import flow must not fail because the
// rate feed is down.
func (p *Provider) Rate(ctx context.Context) Rate {
	if v, ok := p.getFloat(ctx, manualKey); ok {
		return Rate{Value: v, Source: SourceManual}
	}
	if v, ok := p.getFloat(ctx, cacheKey); ok {
		return Rate{Value: v, Source: SourceCached}
	}

	if v, err := p.fetch(ctx); err == nil {
		if err := p.redis.Set(ctx, cacheKey, strconv.FormatFloat(v, 'f', -1, 64), p.cfg.CacheTTL).Err(); err != nil {
			log.Printf("[currency] cache rate: %v", err)
		}
		return Rate{Value: v, Source: SourceLive}
	} else {
		log.Printf("[currency] live fetch failed, using fallback: %v", err)
	}

	return Rate{Value: p.cfg.FallbackRate, Source: SourceFallback}
}

// SetManual stores the operator override. Last write wins.
func (p *Provider) SetManual(ctx context.Context, value float64) error {
	if value <= 0 {
		return fmt.Errorf("manual rate must be positive, got %v", value)
	}
	return p.redis.Set(ctx, manualKey, strconv.FormatFloat(value, 'f', -1, 64), 0).Err()
}

// ClearManual removes the operator override.
func (p *Provider) ClearManual(ctx context.Context) error {
	return p.redis.Del(ctx, manualKey).Err()
}

func (p *Provider) getFloat(ctx context.Context, key string) (float64, bool) {
	s, err := p.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, false
	}
	if err != nil {
		log.Printf("[currency] redis get %s: %v", key, err)
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// fetch pulls the current rate from the configured feed, which returns
// a JSON object with a "rate" field.
func (p *Provider) fetch(ctx context.Context) (float64, error) {
	if p.cfg.RateURL == "" {
		return 0, fmt.Errorf("no rate URL configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.RateURL, nil)
	if err != nil {
		return 0, fmt.Errorf("create rate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch rate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("rate feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("read rate response: %w", err)
	}

	var payload struct {
		Rate float64 `json:"rate"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("parse rate response: %w", err)
	}
	if payload.Rate <= 0 {
		return 0, fmt.Errorf("rate feed returned non-positive rate %v", payload.Rate)
	}
	return payload.Rate, nil
}
