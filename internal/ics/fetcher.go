package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/slotserve/slotserve/internal/schedule"
)

const cacheKeyPrefix = "icsfeed:"

// FetcherConfig tunes the outbound HTTP client and feed cache.
type FetcherConfig struct {
	ConnectTimeout time.Duration // default 5s
	RequestTimeout time.Duration // default 10s
	CacheTTL       time.Duration // default 2m
	MaxBytes       int64         // default 1 MiB
}

func (c FetcherConfig) withDefaults() FetcherConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 2 * time.Minute
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 1 << 20
	}
	return c
}

// Fetcher retrieves calendar feeds over HTTPS with a short-lived Redis cache
// in front. Booking re-validation calls FetchFresh so a stale cached feed can
// never confirm a slot that was just taken.
type Fetcher struct {
	client   *http.Client
	rdb      *redis.Client
	ttl      time.Duration
	maxBytes int64
	logger   *slog.Logger
}

// NewFetcher builds a Fetcher. rdb may be nil, which disables caching.
func NewFetcher(cfg FetcherConfig, rdb *redis.Client, logger *slog.Logger) *Fetcher {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		MaxIdleConns:        10,
	}
	return &Fetcher{
		client: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: otelhttp.NewTransport(transport),
		},
		rdb:      rdb,
		ttl:      cfg.CacheTTL,
		maxBytes: cfg.MaxBytes,
		logger:   logger,
	}
}

// Fetch returns the feed text for url, serving from cache when possible.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	if f.rdb != nil {
		cached, err := f.rdb.Get(ctx, cacheKeyPrefix+url).Result()
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, redis.Nil) {
			f.logger.Warn("feed cache read failed", "url", url, "err", err)
		}
	}
	return f.FetchFresh(ctx, url)
}

// FetchFresh bypasses the cache, fetches the feed, and repopulates the cache
// on success.
func (f *Fetcher) FetchFresh(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "text/calendar")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch feed: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read feed body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return "", fmt.Errorf("feed exceeds %d byte limit", f.maxBytes)
	}

	text := string(body)
	if f.rdb != nil {
		if err := f.rdb.Set(ctx, cacheKeyPrefix+url, text, f.ttl).Err(); err != nil {
			f.logger.Warn("feed cache write failed", "url", url, "err", err)
		}
	}
	return text, nil
}

// Invalidate drops the cached copy of a feed, typically in response to a
// feed-updated event.
func (f *Fetcher) Invalidate(ctx context.Context, url string) error {
	if f.rdb == nil {
		return nil
	}
	return f.rdb.Del(ctx, cacheKeyPrefix+url).Err()
}

// BusyIndex fetches and parses the feed at url into a busy index for the
// viewer zone. Any failure degrades to an empty index: availability falls
// back to "everything in the template is free" rather than erroring the
// whole computation.
func (f *Fetcher) BusyIndex(ctx context.Context, url string, viewer *time.Location, opts Options) schedule.BusyIndex {
	if url == "" {
		return schedule.BusyIndex{}
	}
	text, err := f.Fetch(ctx, url)
	if err != nil {
		f.logger.Warn("calendar feed unavailable, treating as free", "url", url, "err", err)
		return schedule.BusyIndex{}
	}
	return Parse(text, viewer, opts, f.logger)
}

// FreshBusyIndex is BusyIndex with the cache bypassed, for booking
// re-validation. Unlike the read path it surfaces fetch errors: confirming a
// booking against a feed we could not read would risk double-booking.
func (f *Fetcher) FreshBusyIndex(ctx context.Context, url string, viewer *time.Location, opts Options) (schedule.BusyIndex, error) {
	if url == "" {
		return schedule.BusyIndex{}, nil
	}
	text, err := f.FetchFresh(ctx, url)
	if err != nil {
		return nil, err
	}
	return Parse(text, viewer, opts, f.logger), nil
}
