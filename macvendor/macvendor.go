// Package macvendor resolves MAC addresses to manufacturers via macvendors.com
package macvendor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"netops/cache"
	"netops/metrics"
	"netops/utils"
)

// Lookup results that are not vendor names
const (
	TokenMissing = "Token missing"
	NotFound     = "Not Found"
	LookupError  = "Error"
)

const (
	cacheNamespace = "macvendor"
	cacheTTL       = 24 * time.Hour
	requestTimeout = 5 * time.Second
)

// Client queries the macvendors v1 API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	store      cache.Store
}

// NewClient creates a lookup client. rps bounds outbound calls; a value <= 0
// disables throttling.
func NewClient(baseURL, token string, rps float64, store cache.Store) *Client {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	if store == nil {
		store = cache.NopStore{}
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    rate.NewLimiter(limit, burst),
		store:      store,
	}
}

func normalizeMAC(mac string) string {
	return strings.ToLower(strings.TrimSpace(mac))
}

// Lookup returns the organization name for mac, or one of TokenMissing,
// NotFound and LookupError. It never fails.
func (c *Client) Lookup(ctx context.Context, mac string) string {
	if c.token == "" {
		metrics.IncrementMacVendorLookup("token_missing")
		return TokenMissing
	}
	key := normalizeMAC(mac)
	if key == "" {
		return NotFound
	}
	if vendor, ok := c.store.Get(ctx, cacheNamespace, key); ok {
		metrics.IncrementMacVendorLookup("cached")
		return vendor
	}

	vendor, err := c.fetch(ctx, key)
	if err != nil {
		metrics.IncrementMacVendorLookup("error")
		utils.LogWarn("mac vendor lookup", err, "mac", key)
		return LookupError
	}
	if vendor == NotFound {
		metrics.IncrementMacVendorLookup("not_found")
	} else {
		metrics.IncrementMacVendorLookup("found")
	}
	c.store.Set(ctx, cacheNamespace, key, vendor, cacheTTL)
	return vendor
}

func (c *Client) fetch(ctx context.Context, mac string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+mac, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return NotFound, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("macvendors returned HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", err
	}
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("macvendors returned invalid JSON")
	}
	name := gjson.GetBytes(body, "data.organization_name")
	if !name.Exists() || name.String() == "" {
		return NotFound, nil
	}
	return name.String(), nil
}
