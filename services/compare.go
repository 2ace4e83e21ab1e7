package services

import (
	"context"
	"fmt"
	"strings"

	"netops/device"
	"netops/utils"
)

// StateComparison compares NetBox's enabled flag with the device's admin state
type StateComparison struct {
	SoTEnabled    bool  `json:"sot_enabled"`
	DeviceAdminUp *bool `json:"device_admin_up"`
	DeviceOperUp  *bool `json:"device_oper_up"`
	Raw           any   `json:"raw"`
	InSync        bool  `json:"in_sync"`
}

// ConfigComparison compares normalized intended and running lines
type ConfigComparison struct {
	InSync        bool     `json:"in_sync"`
	IntendedLines []string `json:"intended_lines"`
	RunningLines  []string `json:"running_lines"`
	Diff          []string `json:"diff"`
}

// Comparison is the result of comparing one interface against NetBox
type Comparison struct {
	Device    string           `json:"device"`
	Platform  string           `json:"platform"`
	Interface string           `json:"interface"`
	State     StateComparison  `json:"state"`
	Config    ConfigComparison `json:"config"`
	InSync    bool             `json:"in_sync"`
}

// MergeResult reports what ApplyMerge pushed
type MergeResult struct {
	Status    string   `json:"status"`
	Device    string   `json:"device"`
	Platform  string   `json:"platform"`
	Interface string   `json:"interface"`
	Commands  []string `json:"commands"`
	Output    string   `json:"output"`
}

func validateInterfaceField(iface string) error {
	if strings.TrimSpace(iface) == "" {
		return fmt.Errorf("%w: interface", ErrMissingField)
	}
	return device.ValidateInterface(iface)
}

// CompareInterface diffs an interface's running config and admin state
// against NetBox. A failed status read is reported in the state's raw field
// and leaves the admin state unknown.
func (s *DeviceService) CompareInterface(ctx context.Context, t Target, iface string) (*Comparison, error) {
	if err := validateInterfaceField(iface); err != nil {
		return nil, err
	}
	client, drivers, err := s.Open(ctx, t)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := client.Close(); err != nil {
			utils.LogWarn("device close", err, "host", client.Host())
		}
	}()

	intent, err := s.LoadInterfaceIntent(ctx, t.DeviceName, iface)
	if err != nil {
		return nil, err
	}
	intended := IntendedLines(drivers.Platform, intent.Interface, intent.IPs, false)

	running, err := client.RunningInterfaceBlock(ctx, iface)
	if err != nil {
		return nil, err
	}

	state := StateComparison{SoTEnabled: intent.Interface.Enabled}
	status, err := client.InterfaceStatus(ctx, iface)
	if err != nil {
		state.Raw = map[string]string{"error": err.Error()}
	} else {
		state.Raw = status
		state.DeviceAdminUp = status.AdminUp
		state.DeviceOperUp = status.OperUp
	}
	state.InSync = state.DeviceAdminUp == nil || *state.DeviceAdminUp == state.SoTEnabled

	intendedN := NormalizeLines(intended)
	runningN := NormalizeLines(running)
	configInSync := equalLines(intendedN, runningN)

	return &Comparison{
		Device:    t.DeviceName,
		Platform:  drivers.Platform,
		Interface: iface,
		State:     state,
		Config: ConfigComparison{
			InSync:        configInSync,
			IntendedLines: intendedN,
			RunningLines:  runningN,
			Diff:          UnifiedDiff(runningN, intendedN),
		},
		InSync: configInSync && state.InSync,
	}, nil
}

// MergeCommands builds the config-mode commands that apply intended lines to
// iface. Addresses are replaced, not added.
func MergeCommands(iface string, intended []string) []string {
	cmds := []string{"interface " + iface}
	for _, line := range intended {
		if strings.HasPrefix(strings.ToLower(line), "ip address ") {
			cmds = append(cmds, "no ip address")
		}
		cmds = append(cmds, line)
	}
	return cmds
}

// ApplyMerge pushes NetBox's intended lines, admin state included, onto the
// interface without removing anything else
func (s *DeviceService) ApplyMerge(ctx context.Context, t Target, iface string) (*MergeResult, error) {
	if err := validateInterfaceField(iface); err != nil {
		return nil, err
	}
	client, drivers, err := s.Open(ctx, t)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := client.Close(); err != nil {
			utils.LogWarn("device close", err, "host", client.Host())
		}
	}()

	intent, err := s.LoadInterfaceIntent(ctx, t.DeviceName, iface)
	if err != nil {
		return nil, err
	}
	cmds := MergeCommands(iface, IntendedLines(drivers.Platform, intent.Interface, intent.IPs, true))
	out, err := client.SendConfigLines(ctx, cmds)
	if err != nil {
		return nil, err
	}
	return &MergeResult{
		Status:    "APPLIED_MERGE",
		Device:    t.DeviceName,
		Platform:  drivers.Platform,
		Interface: iface,
		Commands:  cmds,
		Output:    out,
	}, nil
}

// ConfigureInterface pushes access/trunk configuration derived from the
// NetBox interface
func (s *DeviceService) ConfigureInterface(ctx context.Context, t Target, iface string) (string, error) {
	if err := validateInterfaceField(iface); err != nil {
		return "", err
	}
	if err := t.validate(); err != nil {
		return "", err
	}
	raw, err := s.NetBox().GetInterface(ctx, t.DeviceName, iface)
	if err != nil {
		return "", err
	}
	client, _, err := s.Open(ctx, t)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := client.Close(); err != nil {
			utils.LogWarn("device close", err, "host", client.Host())
		}
	}()
	return client.ConfigureInterface(ctx, ConfigFromNetBox(iface, raw))
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
