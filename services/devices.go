package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"netops/device"
	"netops/netbox"
	"netops/utils"
)

// ErrMissingField is returned when a required request field is blank
var ErrMissingField = errors.New("missing required field")

// DefaultDrivers are used for streams, which carry no NetBox device name
var DefaultDrivers = netbox.DeviceDrivers{
	Platform:          "ios-xe",
	NetmikoDeviceType: "cisco_ios",
	NetconfDeviceName: "iosxe",
}

// DeviceService resolves drivers and credentials and opens device clients
type DeviceService struct {
	resolver        *netbox.Resolver
	connector       *device.Connector
	defaultUsername string
	defaultPassword string
}

// NewDeviceService wires NetBox driver resolution to the device connector
func NewDeviceService(resolver *netbox.Resolver, connector *device.Connector, username, password string) *DeviceService {
	return &DeviceService{
		resolver:        resolver,
		connector:       connector,
		defaultUsername: username,
		defaultPassword: password,
	}
}

// Credentials returns the trimmed request values, falling back to the
// process-wide defaults
func (s *DeviceService) Credentials(username, password string) (string, string) {
	user := utils.FirstNonEmpty(username, s.defaultUsername)
	pass := strings.TrimSpace(password)
	if pass == "" {
		pass = s.defaultPassword
	}
	return user, pass
}

// Target names a device and how to reach it
type Target struct {
	DeviceName string
	Host       string
	Username   string
	Password   string
}

func (t Target) validate() error {
	if strings.TrimSpace(t.DeviceName) == "" {
		return fmt.Errorf("%w: device_name", ErrMissingField)
	}
	if strings.TrimSpace(t.Host) == "" {
		return fmt.Errorf("%w: host", ErrMissingField)
	}
	if utils.HasControlChars(t.Host) {
		return fmt.Errorf("%w: host contains control characters", device.ErrInvalidArgument)
	}
	return nil
}

// Open resolves the device's drivers from NetBox and returns an unconnected
// client. Callers must Close it.
func (s *DeviceService) Open(ctx context.Context, t Target) (*device.Client, netbox.DeviceDrivers, error) {
	if err := t.validate(); err != nil {
		return nil, netbox.DeviceDrivers{}, err
	}
	drivers, err := s.resolver.DriversForDevice(ctx, strings.TrimSpace(t.DeviceName))
	if err != nil {
		return nil, netbox.DeviceDrivers{}, err
	}
	return s.OpenWithDrivers(t.Host, t.Username, t.Password, drivers), drivers, nil
}

// OpenWithDrivers skips NetBox and uses drivers as given
func (s *DeviceService) OpenWithDrivers(host, username, password string, drivers netbox.DeviceDrivers) *device.Client {
	user, pass := s.Credentials(username, password)
	return s.connector.Open(device.Session{
		Host:          strings.TrimSpace(host),
		Username:      user,
		Password:      pass,
		DeviceType:    drivers.NetmikoDeviceType,
		NetconfDevice: drivers.NetconfDeviceName,
	})
}

// NetBox returns the NetBox client behind the resolver
func (s *DeviceService) NetBox() *netbox.Client {
	return s.resolver.Client()
}

// InterfaceIntent is a NetBox interface with its addresses
type InterfaceIntent struct {
	Interface netbox.Interface
	IPs       []string
}

// LoadInterfaceIntent reads an interface and its IP addresses from NetBox
func (s *DeviceService) LoadInterfaceIntent(ctx context.Context, deviceName, ifaceName string) (*InterfaceIntent, error) {
	raw, err := s.NetBox().GetInterface(ctx, deviceName, ifaceName)
	if err != nil {
		return nil, err
	}
	iface := netbox.ParseInterface(raw)
	ips, err := s.NetBox().GetInterfaceIPs(ctx, iface.ID)
	if err != nil {
		return nil, err
	}
	return &InterfaceIntent{Interface: iface, IPs: netbox.IPAddresses(ips)}, nil
}

// ConfigFromNetBox derives the interface template input from a NetBox
// interface: access ports carry their untagged VLAN, anything else the
// comma-joined tagged VLANs
func ConfigFromNetBox(ifaceName string, raw gjson.Result) device.InterfaceConfig {
	iface := netbox.ParseInterface(raw)
	mode := iface.Mode
	if mode == "" {
		mode = "access"
	}
	cfg := device.InterfaceConfig{
		Interface:   ifaceName,
		Description: iface.Description,
		Mode:        mode,
	}
	if mode == "access" {
		if iface.UntaggedVID > 0 {
			cfg.VLAN = strconv.FormatInt(iface.UntaggedVID, 10)
		}
	} else {
		cfg.VLAN = joinVIDs(iface.TaggedVIDs)
	}
	return cfg
}
