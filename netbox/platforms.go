package netbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"netops/cache"
	"netops/config"
)

var (
	// ErrNoPlatform is returned for devices without a platform in NetBox
	ErrNoPlatform = errors.New("device has no platform set in NetBox")
	// ErrUnsupportedPlatform is returned for platform slugs with no driver mapping
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// DefaultPlatforms maps NetBox platform slugs to CLI and NETCONF drivers
var DefaultPlatforms = map[string]config.PlatformDrivers{
	"ios-xe": {Netmiko: "cisco_ios", Netconf: "iosxe"},
	"ios":    {Netmiko: "cisco_ios", Netconf: "ios"},
	"nxos":   {Netmiko: "cisco_nxos", Netconf: "nxos"},
	"junos":  {Netmiko: "juniper_junos", Netconf: "junos"},
	"eos":    {Netmiko: "arista_eos", Netconf: "eos"},
}

// DeviceDrivers is the resolved driver set for one device
type DeviceDrivers struct {
	Platform          string `json:"platform"`
	NetmikoDeviceType string `json:"netmiko_device_type"`
	NetconfDeviceName string `json:"netconf_device_name"`
}

// Resolver resolves device names to drivers via NetBox
type Resolver struct {
	client    *Client
	platforms map[string]config.PlatformDrivers
	cache     cache.Store
	ttl       time.Duration
}

// NewResolver merges overrides over DefaultPlatforms
func NewResolver(client *Client, overrides map[string]config.PlatformDrivers, store cache.Store, ttl time.Duration) *Resolver {
	platforms := make(map[string]config.PlatformDrivers, len(DefaultPlatforms)+len(overrides))
	for k, v := range DefaultPlatforms {
		platforms[k] = v
	}
	for k, v := range overrides {
		platforms[strings.ToLower(k)] = v
	}
	if store == nil {
		store = cache.NopStore{}
	}
	return &Resolver{client: client, platforms: platforms, cache: store, ttl: ttl}
}

// Client returns the underlying NetBox client
func (r *Resolver) Client() *Client {
	return r.client
}

// Supported lists the known platform slugs, sorted
func (r *Resolver) Supported() []string {
	out := make([]string, 0, len(r.platforms))
	for k := range r.platforms {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DriversForPlatform maps a slug without touching NetBox
func (r *Resolver) DriversForPlatform(slug string) (DeviceDrivers, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	drivers, ok := r.platforms[slug]
	if !ok {
		return DeviceDrivers{}, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, slug)
	}
	return DeviceDrivers{
		Platform:          slug,
		NetmikoDeviceType: drivers.Netmiko,
		NetconfDeviceName: drivers.Netconf,
	}, nil
}

// DriversForDevice looks up the device's platform in NetBox and maps it
func (r *Resolver) DriversForDevice(ctx context.Context, deviceName string) (DeviceDrivers, error) {
	if cached, ok := r.cache.Get(ctx, "drivers", deviceName); ok {
		var d DeviceDrivers
		if err := json.Unmarshal([]byte(cached), &d); err == nil {
			return d, nil
		}
	}

	dev, err := r.client.RequireDevice(ctx, deviceName)
	if err != nil {
		return DeviceDrivers{}, err
	}
	slug := PlatformSlug(dev)
	if slug == "" {
		return DeviceDrivers{}, fmt.Errorf("device %q: %w", deviceName, ErrNoPlatform)
	}
	drivers, err := r.DriversForPlatform(slug)
	if err != nil {
		return DeviceDrivers{}, err
	}

	if raw, err := json.Marshal(drivers); err == nil && r.ttl > 0 {
		r.cache.Set(ctx, "drivers", deviceName, string(raw), r.ttl)
	}
	return drivers, nil
}
