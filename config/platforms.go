package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PlatformDrivers names the CLI and NETCONF drivers for one NetBox platform slug
type PlatformDrivers struct {
	Netmiko string `yaml:"netmiko" json:"netmiko"`
	Netconf string `yaml:"netconf" json:"netconf"`
}

type platformFile struct {
	Platforms map[string]PlatformDrivers `yaml:"platforms"`
}

// LoadPlatformMap reads a YAML file of the form
//
//	platforms:
//	  ios-xe: {netmiko: cisco_ios, netconf: iosxe}
//
// Slugs are lower-cased. Entries without a netmiko driver are rejected.
func LoadPlatformMap(path string) (map[string]PlatformDrivers, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePlatformMap(raw)
}

// ParsePlatformMap decodes the YAML platform map document
func ParsePlatformMap(raw []byte) (map[string]PlatformDrivers, error) {
	var doc platformFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse platform map: %w", err)
	}
	out := make(map[string]PlatformDrivers, len(doc.Platforms))
	for slug, drivers := range doc.Platforms {
		key := strings.ToLower(strings.TrimSpace(slug))
		if key == "" {
			continue
		}
		if strings.TrimSpace(drivers.Netmiko) == "" {
			return nil, fmt.Errorf("platform %q: netmiko driver is required", slug)
		}
		out[key] = drivers
	}
	return out, nil
}
