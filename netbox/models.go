package netbox

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// DeviceSummary is the inventory view of a device
type DeviceSummary struct {
	Name         string  `json:"name"`
	IP           string  `json:"ip"`
	Manufacturer *string `json:"manufacturer"`
	Platform     *string `json:"platform"`
	Model        *string `json:"model"`
}

// DeviceSiteSummary is the filtered inventory view of a device
type DeviceSiteSummary struct {
	Name string  `json:"name"`
	IP   string  `json:"ip"`
	Site *string `json:"site"`
}

// InterfaceSummary is the inventory view of an interface
type InterfaceSummary struct {
	Name        string  `json:"name"`
	Type        *string `json:"type"`
	Description string  `json:"description"`
	MacAddress  string  `json:"mac_address"`
	Enabled     bool    `json:"enabled"`
}

// UserSummary is a NetBox user
type UserSummary struct {
	Username string `json:"username"`
}

// Interface holds the fields of a NetBox interface that drive intended config
type Interface struct {
	ID          int64
	Name        string
	Description string
	Mode        string
	Enabled     bool
	UntaggedVID int64
	TaggedVIDs  []int64
}

func optString(r gjson.Result) *string {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	s := r.String()
	return &s
}

// PlatformSlug returns platform.slug, falling back to platform.name
func PlatformSlug(dev gjson.Result) string {
	if slug := strings.TrimSpace(dev.Get("platform.slug").String()); slug != "" {
		return slug
	}
	return strings.TrimSpace(dev.Get("platform.name").String())
}

// PrimaryIP returns primary_ip4.address without its prefix length
func PrimaryIP(dev gjson.Result) string {
	addr := dev.Get("primary_ip4.address").String()
	if addr == "" {
		return ""
	}
	return strings.SplitN(addr, "/", 2)[0]
}

// SummarizeDevice maps a NetBox device to DeviceSummary
func SummarizeDevice(dev gjson.Result) DeviceSummary {
	out := DeviceSummary{
		Name:         dev.Get("name").String(),
		IP:           PrimaryIP(dev),
		Manufacturer: optString(dev.Get("device_type.manufacturer.name")),
		Model:        optString(dev.Get("device_type.model")),
	}
	if slug := PlatformSlug(dev); slug != "" {
		out.Platform = &slug
	}
	return out
}

// SummarizeDeviceSite maps a NetBox device to DeviceSiteSummary
func SummarizeDeviceSite(dev gjson.Result) DeviceSiteSummary {
	return DeviceSiteSummary{
		Name: dev.Get("name").String(),
		IP:   PrimaryIP(dev),
		Site: optString(dev.Get("site.name")),
	}
}

// SummarizeInterface maps a NetBox interface to InterfaceSummary
func SummarizeInterface(iface gjson.Result) InterfaceSummary {
	enabled := true
	if e := iface.Get("enabled"); e.Exists() && e.Type != gjson.Null {
		enabled = e.Bool()
	}
	return InterfaceSummary{
		Name:        iface.Get("name").String(),
		Type:        optString(iface.Get("type.label")),
		Description: iface.Get("description").String(),
		MacAddress:  iface.Get("mac_address").String(),
		Enabled:     enabled,
	}
}

// ParseInterface extracts intent fields. mode may be an object with a value
// key or a plain string.
func ParseInterface(iface gjson.Result) Interface {
	out := Interface{
		ID:          iface.Get("id").Int(),
		Name:        iface.Get("name").String(),
		Description: strings.TrimSpace(iface.Get("description").String()),
		Enabled:     true,
		UntaggedVID: iface.Get("untagged_vlan.vid").Int(),
	}
	if e := iface.Get("enabled"); e.Exists() && e.Type != gjson.Null {
		out.Enabled = e.Bool()
	}
	mode := iface.Get("mode")
	if mode.IsObject() {
		out.Mode = mode.Get("value").String()
	} else if mode.Type == gjson.String {
		out.Mode = mode.String()
	}
	out.Mode = strings.ToLower(strings.TrimSpace(out.Mode))
	for _, v := range iface.Get("tagged_vlans").Array() {
		if vid := v.Get("vid"); vid.Exists() {
			out.TaggedVIDs = append(out.TaggedVIDs, vid.Int())
		}
	}
	return out
}

// IPAddresses returns the address field of each ip-address object
func IPAddresses(results []gjson.Result) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		if addr := strings.TrimSpace(r.Get("address").String()); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// Raw returns objects unchanged for pass-through responses
func Raw(results []gjson.Result) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(results))
	for _, r := range results {
		out = append(out, json.RawMessage(r.Raw))
	}
	return out
}
