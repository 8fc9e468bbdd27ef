package keycrm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"crm-sla/internal/urgency"

	"github.com/rs/zerolog/log"
)

// ErrMissingCredentials is returned when neither the project nor the
// environment provides a base URL and a token.
var ErrMissingCredentials = errors.New("missing CRM credentials")

// Credentials address one CRM account.
type Credentials struct {
	BaseURL string
	Token   string
}

// ResolveCredentials takes each value from the project first and the
// environment second. The base URL loses its trailing slashes.
func ResolveCredentials(project, env Credentials) (Credentials, error) {
	c := Credentials{
		BaseURL: firstNonEmpty(project.BaseURL, env.BaseURL),
		Token:   firstNonEmpty(project.Token, env.Token),
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.BaseURL == "" || c.Token == "" {
		return Credentials{}, ErrMissingCredentials
	}
	return c, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// StatusError is a non-200 answer from the CRM.
type StatusError struct {
	StatusCode int
	RetryAfter string
}

func (e *StatusError) Error() string {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Sprintf("CRM authentication failed (%d): check the API token", e.StatusCode)
	case http.StatusNotFound:
		return "order not found in the CRM (404)"
	case http.StatusTooManyRequests:
		if e.RetryAfter != "" {
			return fmt.Sprintf("CRM rate limit exceeded (429): retry after %s seconds", e.RetryAfter)
		}
		return "CRM rate limit exceeded (429)"
	default:
		return fmt.Sprintf("CRM API returned status %d", e.StatusCode)
	}
}

// Config tunes the HTTP client.
type Config struct {
	RequestDelay time.Duration
	Timeout      time.Duration
	CacheTTL     time.Duration
}

// Client fetches order data from the CRM API.
type Client struct {
	cfg        Config
	httpClient *http.Client

	throttleMu  sync.Mutex
	lastRequest time.Time

	cacheMu sync.Mutex
	cache   map[string]cacheEntry

	// OnFetch observes every HTTP round trip. Status is 0 when no response arrived.
	OnFetch func(status int, d time.Duration)
}

type cacheEntry struct {
	items      []urgency.Item
	expiration time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestDelay < 0 {
		cfg.RequestDelay = 0
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      make(map[string]cacheEntry),
	}
}

func (c *Client) getFromCache(key string) ([]urgency.Item, bool) {
	if c.cfg.CacheTTL <= 0 {
		return nil, false
	}
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	entry, ok := c.cache[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiration) {
		delete(c.cache, key)
		return nil, false
	}
	log.Debug().Str("key", key).Msg("Cache hit")
	return entry.items, true
}

func (c *Client) addToCache(key string, items []urgency.Item) {
	if c.cfg.CacheTTL <= 0 {
		return
	}
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cache[key] = cacheEntry{items: items, expiration: time.Now().Add(c.cfg.CacheTTL)}
}

// throttle spaces requests by at least RequestDelay.
func (c *Client) throttle(ctx context.Context) error {
	c.throttleMu.Lock()
	defer c.throttleMu.Unlock()

	if wait := c.cfg.RequestDelay - time.Since(c.lastRequest); wait > 0 {
		log.Debug().Dur("wait", wait).Msg("Throttling CRM request")
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	c.lastRequest = time.Now()
	return nil
}

// FetchOrderItems loads the product lines of an order.
func (c *Client) FetchOrderItems(ctx context.Context, creds Credentials, orderID int64) ([]urgency.Item, error) {
	if creds.BaseURL == "" || creds.Token == "" {
		return nil, ErrMissingCredentials
	}
	cacheKey := fmt.Sprintf("%s:%d", creds.BaseURL, orderID)
	if items, ok := c.getFromCache(cacheKey); ok {
		return items, nil
	}

	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("include", "products.offer")
	orderURL := fmt.Sprintf("%s/order/%d?%s", strings.TrimRight(creds.BaseURL, "/"), orderID, params.Encode())
	log.Debug().Int64("order", orderID).Str("url", orderURL).Msg("Requesting order items")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, orderURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(0, started)
		return nil, fmt.Errorf("fetch order %d: %w", orderID, err)
	}
	defer resp.Body.Close()
	c.observe(resp.StatusCode, started)

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, RetryAfter: resp.Header.Get("Retry-After")}
	}

	var body OrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode CRM response: %w", err)
	}
	items := MapItems(body.order().Products)
	c.addToCache(cacheKey, items)

	log.Debug().Int64("order", orderID).Int("count", len(items)).Msg("Fetched order items")
	return items, nil
}

func (c *Client) observe(status int, started time.Time) {
	if c.OnFetch != nil {
		c.OnFetch(status, time.Since(started))
	}
}
