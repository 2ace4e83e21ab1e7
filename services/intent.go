package services

import (
	"fmt"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"netops/netbox"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// CIDRToIPMask splits "10.0.0.1/24" into "10.0.0.1" and "255.255.255.0"
func CIDRToIPMask(cidr string) (string, string, error) {
	ip, network, err := net.ParseCIDR(strings.TrimSpace(cidr))
	if err != nil {
		return "", "", err
	}
	v4 := ip.To4()
	if v4 == nil {
		return "", "", fmt.Errorf("%s is not an IPv4 prefix", cidr)
	}
	return v4.String(), net.IP(network.Mask).String(), nil
}

// IntendedLines renders the interface configuration NetBox says should be
// on the device. Only IOS and IOS-XE have a mapping; other platforms get no
// lines.
func IntendedLines(platform string, iface netbox.Interface, ips []string, includeAdmin bool) []string {
	switch strings.ToLower(strings.TrimSpace(platform)) {
	case "ios", "ios-xe":
		return intendedLinesCisco(iface, ips, includeAdmin)
	}
	return []string{}
}

func intendedLinesCisco(iface netbox.Interface, ips []string, includeAdmin bool) []string {
	lines := []string{}

	var ip4 string
	for _, ip := range ips {
		if strings.Contains(ip, ".") {
			ip4 = ip
			break
		}
	}

	if iface.Description != "" {
		lines = append(lines, "description "+iface.Description)
	}
	if includeAdmin {
		if iface.Enabled {
			lines = append(lines, "no shutdown")
		} else {
			lines = append(lines, "shutdown")
		}
	}

	if ip4 != "" {
		lines = append([]string{"no switchport"}, lines...)
		if addr, mask, err := CIDRToIPMask(ip4); err == nil {
			lines = append(lines, fmt.Sprintf("ip address %s %s", addr, mask))
		}
		return lines
	}

	switch iface.Mode {
	case "access":
		lines = append(lines, "switchport", "switchport mode access")
		if iface.UntaggedVID > 0 {
			lines = append(lines, fmt.Sprintf("switchport access vlan %d", iface.UntaggedVID))
		}
	case "tagged", "tagged-all":
		lines = append(lines, "switchport", "switchport mode trunk")
		if iface.Mode == "tagged" && len(iface.TaggedVIDs) > 0 {
			lines = append(lines, "switchport trunk allowed vlan "+joinVIDs(iface.TaggedVIDs))
		}
		if iface.UntaggedVID > 0 {
			lines = append(lines, fmt.Sprintf("switchport trunk native vlan %d", iface.UntaggedVID))
		}
	}
	return lines
}

func joinVIDs(vids []int64) string {
	parts := make([]string, len(vids))
	for i, v := range vids {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, ",")
}

// NormalizeLines collapses whitespace, drops banners and separators, keeps
// only the lines this service manages and returns them sorted and unique
func NormalizeLines(lines []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, ln := range lines {
		ln = whitespaceRe.ReplaceAllString(strings.TrimSpace(ln), " ")
		if ln == "" {
			continue
		}
		low := strings.ToLower(ln)
		if strings.HasPrefix(low, "current configuration") || strings.HasPrefix(low, "building configuration") {
			continue
		}
		if low == "end" || low == "!" {
			continue
		}
		managed := strings.HasPrefix(low, "description ") ||
			low == "no switchport" ||
			strings.HasPrefix(low, "switchport ") ||
			strings.HasPrefix(low, "ip address ")
		if !managed || seen[ln] {
			continue
		}
		seen[ln] = true
		out = append(out, ln)
	}
	sort.Strings(out)
	return out
}

// UnifiedDiff returns a unified diff from running to intended, one line per
// element without terminators
func UnifiedDiff(running, intended []string) []string {
	diff := difflib.UnifiedDiff{
		A:        withNewlines(running),
		B:        withNewlines(intended),
		FromFile: "device_running",
		ToFile:   "sot_intended",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil || text == "" {
		return []string{}
	}
	out := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	return out
}

func withNewlines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l + "\n"
	}
	return out
}
