// Package netbox is a read-only client for the NetBox REST API.
package netbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"netops/metrics"
)

var (
	// ErrNotFound is returned when a lookup by name matches nothing
	ErrNotFound = errors.New("not found in NetBox")
	// ErrUnavailable wraps transport failures talking to NetBox
	ErrUnavailable = errors.New("NetBox unavailable")
)

// APIError is a non-2xx response from NetBox
type APIError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("NetBox %s returned %d: %s", e.Path, e.StatusCode, body)
}

// IsUpstream reports whether err came from talking to NetBox (HTTP error or transport)
func IsUpstream(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) || errors.Is(err, ErrUnavailable)
}

// Client talks to one NetBox instance
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for baseURL (without trailing slash)
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the configured NetBox URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// pageSize is the one page every list call asks for. NetBox "next" links
// are not followed.
const pageSize = "100"

// get fetches path with params and returns the "results" array
func (c *Client) get(ctx context.Context, path string, params url.Values) ([]gjson.Result, error) {
	body, err := c.getRaw(ctx, path, params)
	if err != nil {
		return nil, err
	}
	return gjson.GetBytes(body, "results").Array(), nil
}

func (c *Client) getRaw(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.IncrementNetBoxRequest("transport_error")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		metrics.IncrementNetBoxRequest("transport_error")
		return nil, fmt.Errorf("%w: reading %s: %v", ErrUnavailable, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.IncrementNetBoxRequest("http_error")
		return nil, &APIError{StatusCode: resp.StatusCode, Path: path, Body: string(body)}
	}
	if !gjson.ValidBytes(body) {
		metrics.IncrementNetBoxRequest("http_error")
		return nil, &APIError{StatusCode: resp.StatusCode, Path: path, Body: "invalid JSON"}
	}
	metrics.IncrementNetBoxRequest("ok")
	return body, nil
}

// GetDeviceByName returns the first device with the exact name, or nil
func (c *Client) GetDeviceByName(ctx context.Context, name string) (*gjson.Result, error) {
	results, err := c.get(ctx, "/api/dcim/devices/", url.Values{"name": {name}})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

// RequireDevice is GetDeviceByName that fails with ErrNotFound
func (c *Client) RequireDevice(ctx context.Context, name string) (gjson.Result, error) {
	dev, err := c.GetDeviceByName(ctx, name)
	if err != nil {
		return gjson.Result{}, err
	}
	if dev == nil {
		return gjson.Result{}, fmt.Errorf("device %q: %w", name, ErrNotFound)
	}
	return *dev, nil
}

// ListDevices returns the first page of devices
func (c *Client) ListDevices(ctx context.Context) ([]gjson.Result, error) {
	return c.get(ctx, "/api/dcim/devices/", url.Values{"limit": {pageSize}})
}

// ListInterfacesForDevice returns the interfaces of a device by NetBox ID
func (c *Client) ListInterfacesForDevice(ctx context.Context, deviceID int64) ([]gjson.Result, error) {
	return c.get(ctx, "/api/dcim/interfaces/", url.Values{
		"device_id": {strconv.FormatInt(deviceID, 10)},
		"limit":     {pageSize},
	})
}

// ListUsers returns NetBox users
func (c *Client) ListUsers(ctx context.Context) ([]gjson.Result, error) {
	return c.get(ctx, "/api/users/users/", url.Values{"limit": {pageSize}})
}

// ListRegions returns top-level regions only
func (c *Client) ListRegions(ctx context.Context) ([]gjson.Result, error) {
	all, err := c.get(ctx, "/api/dcim/regions/", url.Values{"limit": {pageSize}})
	if err != nil {
		return nil, err
	}
	top := make([]gjson.Result, 0, len(all))
	for _, r := range all {
		if parent := r.Get("parent"); parent.Type == gjson.Null {
			top = append(top, r)
		}
	}
	return top, nil
}

// ListSubregions returns the children of a region
func (c *Client) ListSubregions(ctx context.Context, parentID int64) ([]gjson.Result, error) {
	return c.get(ctx, "/api/dcim/regions/", url.Values{
		"parent_id": {strconv.FormatInt(parentID, 10)},
		"limit":     {pageSize},
	})
}

// ListSites returns sites, filtered by region when regionID > 0
func (c *Client) ListSites(ctx context.Context, regionID int64) ([]gjson.Result, error) {
	params := url.Values{"limit": {pageSize}}
	if regionID > 0 {
		params.Set("region_id", strconv.FormatInt(regionID, 10))
	}
	return c.get(ctx, "/api/dcim/sites/", params)
}

// ListDevicesFiltered returns devices, filtered by site when siteID > 0
func (c *Client) ListDevicesFiltered(ctx context.Context, siteID int64) ([]gjson.Result, error) {
	params := url.Values{"limit": {pageSize}}
	if siteID > 0 {
		params.Set("site_id", strconv.FormatInt(siteID, 10))
	}
	return c.get(ctx, "/api/dcim/devices/", params)
}

// ListDevicesByRegion returns devices at any site of the region
func (c *Client) ListDevicesByRegion(ctx context.Context, regionID int64) ([]gjson.Result, error) {
	sites, err := c.ListSites(ctx, regionID)
	if err != nil {
		return nil, err
	}
	if len(sites) == 0 {
		return []gjson.Result{}, nil
	}
	ids := make([]string, 0, len(sites))
	for _, s := range sites {
		ids = append(ids, strconv.FormatInt(s.Get("id").Int(), 10))
	}
	return c.get(ctx, "/api/dcim/devices/", url.Values{
		"site_id__in": {strings.Join(ids, ",")},
		"limit":       {pageSize},
	})
}

// GetInterface returns one interface by device and interface name
func (c *Client) GetInterface(ctx context.Context, deviceName, ifaceName string) (gjson.Result, error) {
	results, err := c.get(ctx, "/api/dcim/interfaces/", url.Values{
		"device": {deviceName},
		"name":   {ifaceName},
	})
	if err != nil {
		return gjson.Result{}, err
	}
	if len(results) == 0 {
		return gjson.Result{}, fmt.Errorf("interface %s on %s: %w", ifaceName, deviceName, ErrNotFound)
	}
	return results[0], nil
}

// GetInterfaceIPs returns IP address objects assigned to an interface
func (c *Client) GetInterfaceIPs(ctx context.Context, interfaceID int64) ([]gjson.Result, error) {
	return c.get(ctx, "/api/ipam/ip-addresses/", url.Values{
		"interface_id": {strconv.FormatInt(interfaceID, 10)},
		"limit":        {"50"},
	})
}

// Ping checks that the API root answers
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.getRaw(ctx, "/api/status/", nil)
	return err
}
