package textfsm

import (
	"embed"
	"fmt"
	"path"
	"strings"
	"sync"
)

// Template names shipped with the binary
const (
	ShowInterfaces      = "cisco_ios_show_interfaces"
	ShowMacAddressTable = "cisco_ios_show_mac-address-table"
	ShowIPDHCPBinding   = "cisco_ios_show_ip_dhcp_binding"
)

//go:embed templates/*.textfsm
var templateFS embed.FS

var (
	registryOnce sync.Once
	registry     map[string]*Template
	registryErr  error
)

func loadRegistry() {
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		registryErr = err
		return
	}
	registry = make(map[string]*Template, len(entries))
	for _, e := range entries {
		raw, err := templateFS.ReadFile(path.Join("templates", e.Name()))
		if err != nil {
			registryErr = err
			return
		}
		tmpl, err := Parse(string(raw))
		if err != nil {
			registryErr = fmt.Errorf("%s: %w", e.Name(), err)
			return
		}
		registry[strings.TrimSuffix(e.Name(), ".textfsm")] = tmpl
	}
}

// Lookup returns a private copy of an embedded template
func Lookup(name string) (*Template, error) {
	registryOnce.Do(loadRegistry)
	if registryErr != nil {
		return nil, registryErr
	}
	tmpl, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("textfsm: no template named %q", name)
	}
	return tmpl.Clone(), nil
}

// ParseWith parses text with the named embedded template
func ParseWith(name, text string) ([]Record, error) {
	tmpl, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return tmpl.ParseTextToDicts(text)
}

// Names lists the embedded templates
func Names() []string {
	registryOnce.Do(loadRegistry)
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}
