package device

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"netops/utils"
)

var (
	// ErrInvalidInterface is returned for interface names that cannot be used
	ErrInvalidInterface = errors.New("invalid interface name")
	// ErrInvalidScope is returned when a MAC clear names both an interface and a VLAN
	ErrInvalidScope = errors.New("interface and vlan are mutually exclusive")
	// ErrUnsupportedPlatform is returned when no command set exists for a platform
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	// ErrInvalidArgument is returned for malformed operation arguments
	ErrInvalidArgument = errors.New("invalid argument")
)

var ifaceNameRe = regexp.MustCompile(`^([a-zA-Z]+)([\d/.]+)`)

// YANG list names under Cisco-IOS-XE-native:interface
var ifaceTypeMap = map[string]string{
	"gigabitethernet":    "GigabitEthernet",
	"fastethernet":       "FastEthernet",
	"tengigabitethernet": "TenGigabitEthernet",
	"vlan":               "Vlan",
}

// ParseInterfaceName splits "GigabitEthernet1/0/1" or "vlan 10" into the
// native YANG type and its number
func ParseInterfaceName(name string) (ifaceType, ifaceNumber string, err error) {
	compact := strings.ReplaceAll(strings.TrimSpace(name), " ", "")
	m := ifaceNameRe.FindStringSubmatch(compact)
	if m == nil {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidInterface, name)
	}
	yangType, ok := ifaceTypeMap[strings.ToLower(m[1])]
	if !ok {
		return "", "", fmt.Errorf("%w: unsupported interface type %q", ErrInvalidInterface, m[1])
	}
	return yangType, m[2], nil
}

// ValidateInterface rejects names that would break out of a CLI command
func ValidateInterface(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidInterface)
	}
	if utils.HasControlChars(name) {
		return fmt.Errorf("%w: control characters", ErrInvalidInterface)
	}
	return nil
}

// ValidateIP requires a literal IPv4 or IPv6 address
func ValidateIP(ip string) error {
	if utils.HasControlChars(ip) {
		return fmt.Errorf("%w: control characters in address", ErrInvalidArgument)
	}
	if net.ParseIP(strings.TrimSpace(ip)) == nil {
		return fmt.Errorf("%w: %q is not an IP address", ErrInvalidArgument, ip)
	}
	return nil
}

var ciscoLikePlatforms = map[string]bool{
	"ios":    true,
	"ios-xe": true,
	"nxos":   true,
	"eos":    true,
}

// ClearMacTableCommand builds the platform command that flushes MAC entries,
// optionally scoped to one interface or one VLAN
func ClearMacTableCommand(platform, iface string, vlan *int, dynamicOnly bool) (string, error) {
	iface = strings.TrimSpace(iface)
	if iface != "" && vlan != nil {
		return "", ErrInvalidScope
	}
	if iface != "" {
		if err := ValidateInterface(iface); err != nil {
			return "", err
		}
	}
	if vlan != nil && (*vlan < 1 || *vlan > 4094) {
		return "", fmt.Errorf("%w: vlan %d out of range", ErrInvalidArgument, *vlan)
	}

	platform = strings.ToLower(strings.TrimSpace(platform))
	var parts []string
	switch {
	case ciscoLikePlatforms[platform]:
		parts = []string{"clear mac address-table"}
		if dynamicOnly {
			parts = append(parts, "dynamic")
		}
	case platform == "junos":
		parts = []string{"clear ethernet-switching table"}
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedPlatform, platform)
	}

	switch {
	case iface != "":
		parts = append(parts, "interface", iface)
	case vlan != nil:
		parts = append(parts, "vlan", strconv.Itoa(*vlan))
	}
	return strings.Join(parts, " "), nil
}
