package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"netops/config"
	"netops/textfsm"
	"netops/utils"
)

// CLI is an interactive command-line session
type CLI interface {
	SendCommand(ctx context.Context, cmd string) (string, error)
	SendCommandTiming(ctx context.Context, cmd string) (string, error)
	SendConfigSet(ctx context.Context, lines []string) (string, error)
	Close() error
}

// Netconf is an RPC session
type Netconf interface {
	Dispatch(ctx context.Context, body string) (*Reply, error)
	EditConfig(ctx context.Context, target, config string) (*Reply, error)
	Close() error
}

// VendorLookup resolves a MAC address to its manufacturer
type VendorLookup interface {
	Lookup(ctx context.Context, mac string) string
}

// CLIDialer opens a CLI session for a netmiko device type
type CLIDialer func(ctx context.Context, target Target, deviceType string) (CLI, error)

// NetconfDialer opens a NETCONF session
type NetconfDialer func(ctx context.Context, target Target) (Netconf, error)

// Connector holds process-wide settings and builds per-request clients
type Connector struct {
	SSHPort        int
	SSHTimeout     time.Duration
	NetconfPort    int
	NetconfTimeout time.Duration
	RestartDelay   time.Duration
	Vendors        VendorLookup

	DialCLI     CLIDialer
	DialNetconf NetconfDialer
}

// NewConnector returns a Connector that dials real devices over SSH
func NewConnector(cfg *config.Config, vendors VendorLookup) *Connector {
	return &Connector{
		SSHPort:        cfg.SSHPort,
		SSHTimeout:     cfg.SSHTimeout,
		NetconfPort:    cfg.NetconfPort,
		NetconfTimeout: cfg.NetconfTimeout,
		RestartDelay:   cfg.RestartDelay,
		Vendors:        vendors,
		DialCLI: func(ctx context.Context, t Target, deviceType string) (CLI, error) {
			return DialCLI(ctx, t, deviceType)
		},
		DialNetconf: func(ctx context.Context, t Target) (Netconf, error) {
			return DialNetconf(ctx, t)
		},
	}
}

// Session identifies the device and drivers a client talks to
type Session struct {
	Host          string
	Username      string
	Password      string
	DeviceType    string
	NetconfDevice string
}

// Open returns a client for one device. Nothing is dialed until an operation
// needs it.
func (c *Connector) Open(s Session) *Client {
	return &Client{conn: c, session: s}
}

// Client runs operations against a single switch
type Client struct {
	conn    *Connector
	session Session

	mu        sync.Mutex
	cli       CLI
	nc        Netconf
	ncAttempt bool
	ncErr     error
}

// Host returns the management address the client dials
func (c *Client) Host() string { return c.session.Host }

func (c *Client) ensureCLI(ctx context.Context) (CLI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cli != nil {
		return c.cli, nil
	}
	cli, err := c.conn.DialCLI(ctx, Target{
		Host:     c.session.Host,
		Port:     c.conn.SSHPort,
		Username: c.session.Username,
		Password: c.session.Password,
		Timeout:  c.conn.SSHTimeout,
	}, c.session.DeviceType)
	if err != nil {
		return nil, err
	}
	c.cli = cli
	return cli, nil
}

// ensureNetconf dials once; a failure is logged and remembered
func (c *Client) ensureNetconf(ctx context.Context) (Netconf, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc != nil {
		return c.nc, nil
	}
	if c.ncAttempt {
		return nil, fmt.Errorf("%w: %v", ErrNetconfUnavailable, c.ncErr)
	}
	c.ncAttempt = true
	nc, err := c.conn.DialNetconf(ctx, Target{
		Host:     c.session.Host,
		Port:     c.conn.NetconfPort,
		Username: c.session.Username,
		Password: c.session.Password,
		Timeout:  c.conn.NetconfTimeout,
	})
	if err != nil {
		c.ncErr = err
		utils.LogWarn("netconf connect", err, "host", c.session.Host, "device", c.session.NetconfDevice)
		return nil, fmt.Errorf("%w: %v", ErrNetconfUnavailable, err)
	}
	c.nc = nc
	return nc, nil
}

// forgetNetconf drops nc after an RPC that was cut short by ctx or lost its
// transport, so the next call dials a fresh session.
func (c *Client) forgetNetconf(ctx context.Context, nc Netconf, err error) {
	if err == nil || (ctx.Err() == nil && !errors.Is(err, ErrNetconfTransport)) {
		return
	}
	c.mu.Lock()
	if c.nc != nc {
		c.mu.Unlock()
		return
	}
	c.nc = nil
	c.ncAttempt = false
	c.ncErr = nil
	c.mu.Unlock()

	if cerr := nc.Close(); cerr != nil {
		utils.LogWarn("netconf close", cerr, "host", c.session.Host)
	}
}

// Close ends any sessions that were opened
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result *multierror.Error
	if c.nc != nil {
		if err := c.nc.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("netconf: %w", err))
		}
		c.nc = nil
	}
	if c.cli != nil {
		if err := c.cli.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("ssh: %w", err))
		}
		c.cli = nil
	}
	return result.ErrorOrNil()
}

func (c *Client) command(ctx context.Context, cmd string) (string, error) {
	cli, err := c.ensureCLI(ctx)
	if err != nil {
		return "", err
	}
	return cli.SendCommand(ctx, cmd)
}

func (c *Client) timing(ctx context.Context, cmd string) (string, error) {
	cli, err := c.ensureCLI(ctx)
	if err != nil {
		return "", err
	}
	return cli.SendCommandTiming(ctx, cmd)
}

func (c *Client) vendor(ctx context.Context, mac string) string {
	if c.conn.Vendors == nil {
		return "Not Found"
	}
	return c.conn.Vendors.Lookup(ctx, mac)
}

// MacEntry is one learned address on a port
type MacEntry struct {
	MAC    string `json:"mac"`
	Vendor string `json:"vendor"`
}

// MacTable lists MAC addresses learned on iface. NETCONF exec is tried first
// and the CLI is used when it fails or returns nothing.
func (c *Client) MacTable(ctx context.Context, iface string) ([]MacEntry, error) {
	if err := ValidateInterface(iface); err != nil {
		return nil, err
	}
	cmd := "show mac address-table interface " + iface

	rows := c.macTableNetconf(ctx, cmd)
	if len(rows) == 0 {
		raw, err := c.command(ctx, cmd)
		if err != nil {
			return nil, err
		}
		rows, err = textfsm.ParseWith(textfsm.ShowMacAddressTable, raw)
		if err != nil {
			return nil, err
		}
	}

	entries := make([]MacEntry, 0, len(rows))
	for _, row := range rows {
		mac := utils.FirstNonEmpty(row.String("DESTINATION_ADDRESS"), row.String("MAC_ADDRESS"))
		entries = append(entries, MacEntry{MAC: mac, Vendor: c.vendor(ctx, mac)})
	}
	return entries, nil
}

func (c *Client) macTableNetconf(ctx context.Context, cmd string) []textfsm.Record {
	nc, err := c.ensureNetconf(ctx)
	if err != nil {
		return nil
	}
	rpc, err := renderExec(cmd)
	if err != nil {
		return nil
	}
	reply, err := nc.Dispatch(ctx, rpc)
	c.forgetNetconf(ctx, nc, err)
	if err != nil {
		utils.LogWarn("netconf exec", err, "host", c.session.Host, "command", cmd)
		return nil
	}
	rows, err := textfsm.ParseWith(textfsm.ShowMacAddressTable, reply.Result())
	if err != nil {
		return nil
	}
	return rows
}

// ClearDHCPNetconf clears one DHCP binding with the IOS-XE RPC and returns
// the reply XML
func (c *Client) ClearDHCPNetconf(ctx context.Context, ip string) (string, error) {
	if err := ValidateIP(ip); err != nil {
		return "", err
	}
	nc, err := c.ensureNetconf(ctx)
	if err != nil {
		return "", err
	}
	rpc, err := renderClearDHCP(strings.TrimSpace(ip))
	if err != nil {
		return "", err
	}
	reply, err := nc.Dispatch(ctx, rpc)
	c.forgetNetconf(ctx, nc, err)
	if err != nil {
		return "", err
	}
	return reply.Raw, nil
}

// InterfaceCounters returns the parsed "show interfaces" rows for iface
func (c *Client) InterfaceCounters(ctx context.Context, iface string) ([]textfsm.Record, error) {
	if err := ValidateInterface(iface); err != nil {
		return nil, err
	}
	raw, err := c.command(ctx, "show interfaces "+iface)
	if err != nil {
		return nil, err
	}
	return textfsm.ParseWith(textfsm.ShowInterfaces, raw)
}

// InterfaceState is the summarized link state of one interface
type InterfaceState struct {
	Interface string `json:"interface"`
	Found     bool   `json:"found"`
	Link      string `json:"link,omitempty"`
	Protocol  string `json:"protocol,omitempty"`
	Duplex    string `json:"duplex,omitempty"`
	Speed     string `json:"speed,omitempty"`
	Raw       string `json:"raw,omitempty"`
}

func pick(row textfsm.Record, keys ...string) string {
	for _, k := range keys {
		if v := row.String(k); v != "" {
			return v
		}
	}
	return ""
}

// InterfaceState reads link, protocol, duplex and speed from "show interface"
func (c *Client) InterfaceState(ctx context.Context, iface string) (*InterfaceState, error) {
	if err := ValidateInterface(iface); err != nil {
		return nil, err
	}
	raw, err := c.command(ctx, "show interface "+iface)
	if err != nil {
		return nil, err
	}
	rows, err := textfsm.ParseWith(textfsm.ShowInterfaces, raw)
	if err != nil {
		return nil, err
	}
	return stateFromRows(iface, raw, rows), nil
}

func stateFromRows(iface, raw string, rows []textfsm.Record) *InterfaceState {
	if len(rows) == 0 {
		return &InterfaceState{Interface: iface, Found: false, Raw: raw}
	}
	r := rows[0]
	return &InterfaceState{
		Interface: iface,
		Found:     true,
		Link:      strings.ToLower(pick(r, "LINK_STATUS", "LINK", "STATUS")),
		Protocol:  strings.ToLower(pick(r, "PROTOCOL_STATUS", "PROTOCOL")),
		Duplex:    pick(r, "DUPLEX", "DUPLEX_MODE"),
		Speed:     pick(r, "SPEED", "BW", "BANDWIDTH"),
	}
}

// AdminOper is the administrative and operational state of an interface.
// Nil pointers mean the device did not report the interface.
type AdminOper struct {
	AdminUp *bool           `json:"admin_up"`
	OperUp  *bool           `json:"oper_up"`
	Raw     *InterfaceState `json:"raw"`
}

// InterfaceStatus derives admin/oper state from InterfaceState
func (c *Client) InterfaceStatus(ctx context.Context, iface string) (*AdminOper, error) {
	state, err := c.InterfaceState(ctx, iface)
	if err != nil {
		return nil, err
	}
	return adminOper(state), nil
}

func adminOper(state *InterfaceState) *AdminOper {
	out := &AdminOper{Raw: state}
	if !state.Found {
		return out
	}
	admin := !strings.Contains(state.Link, "administratively down")
	oper := admin && state.Protocol == "up"
	out.AdminUp = &admin
	out.OperUp = &oper
	return out
}

// DHCPBindings parses "show ip dhcp binding"
func (c *Client) DHCPBindings(ctx context.Context) ([]textfsm.Record, error) {
	raw, err := c.command(ctx, "show ip dhcp binding")
	if err != nil {
		return nil, err
	}
	return textfsm.ParseWith(textfsm.ShowIPDHCPBinding, raw)
}

// ClearDHCPBinding clears one binding over the CLI, confirming when asked
func (c *Client) ClearDHCPBinding(ctx context.Context, ip string) (string, error) {
	if err := ValidateIP(ip); err != nil {
		return "", err
	}
	out, err := c.timing(ctx, "clear ip dhcp binding "+strings.TrimSpace(ip))
	if err != nil {
		return out, err
	}
	if strings.Contains(out, "[confirm]") || strings.Contains(strings.ToLower(out), "clear all") {
		confirm, err := c.timing(ctx, "\n")
		out += confirm
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// ClearCounters resets interface counters and answers the confirmation prompt
func (c *Client) ClearCounters(ctx context.Context, iface string) (string, error) {
	if err := ValidateInterface(iface); err != nil {
		return "", err
	}
	out, err := c.timing(ctx, "clear counters "+iface)
	if err != nil {
		return out, err
	}
	select {
	case <-ctx.Done():
		return out, ctx.Err()
	case <-time.After(500 * time.Millisecond):
	}
	confirm, err := c.timing(ctx, "\n")
	return out + confirm, err
}

func (c *Client) editShutdown(ctx context.Context, iface, operation string) (string, error) {
	ifaceType, ifaceNumber, err := ParseInterfaceName(iface)
	if err != nil {
		return "", err
	}
	nc, err := c.ensureNetconf(ctx)
	if err != nil {
		return "", err
	}
	cfg, err := renderShutdown(ifaceType, ifaceNumber, operation)
	if err != nil {
		return "", err
	}
	reply, err := nc.EditConfig(ctx, "running", cfg)
	c.forgetNetconf(ctx, nc, err)
	if err != nil {
		return "", err
	}
	return reply.Raw, nil
}

// Shutdown administratively disables iface via NETCONF edit-config
func (c *Client) Shutdown(ctx context.Context, iface string) (string, error) {
	return c.editShutdown(ctx, iface, "")
}

// NoShutdown removes the shutdown leaf from iface
func (c *Client) NoShutdown(ctx context.Context, iface string) (string, error) {
	return c.editShutdown(ctx, iface, "remove")
}

// RestartInterface bounces iface with the configured delay between steps
func (c *Client) RestartInterface(ctx context.Context, iface string) (string, string, error) {
	down, err := c.Shutdown(ctx, iface)
	if err != nil {
		return "", "", err
	}
	select {
	case <-ctx.Done():
		return down, "", ctx.Err()
	case <-time.After(c.conn.RestartDelay):
	}
	up, err := c.NoShutdown(ctx, iface)
	return down, up, err
}

// ConfigureInterface pushes access or trunk configuration rendered from cfg
func (c *Client) ConfigureInterface(ctx context.Context, cfg InterfaceConfig) (string, error) {
	if err := ValidateInterface(cfg.Interface); err != nil {
		return "", err
	}
	for _, v := range []string{cfg.Description, cfg.Mode, cfg.VLAN} {
		if utils.HasControlChars(v) {
			return "", fmt.Errorf("%w: control characters in interface parameters", ErrInvalidArgument)
		}
	}
	lines, err := RenderInterfaceConfig(cfg)
	if err != nil {
		return "", err
	}
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return c.SendConfigLines(ctx, lines)
}

// RunningInterfaceBlock returns the body of "show running-config interface"
// without the interface header, separators and banner lines
func (c *Client) RunningInterfaceBlock(ctx context.Context, iface string) ([]string, error) {
	if err := ValidateInterface(iface); err != nil {
		return nil, err
	}
	raw, err := c.command(ctx, "show running-config interface "+iface)
	if err != nil {
		return nil, err
	}
	return runningBlockLines(raw), nil
}

func runningBlockLines(raw string) []string {
	lines := []string{}
	for _, ln := range strings.Split(raw, "\n") {
		ln = strings.TrimSpace(ln)
		lower := strings.ToLower(ln)
		if ln == "" || ln == "!" {
			continue
		}
		if strings.HasPrefix(lower, "interface ") || strings.Contains(lower, "building configuration") {
			continue
		}
		lines = append(lines, ln)
	}
	return lines
}

// SendConfigLines runs lines in configuration mode
func (c *Client) SendConfigLines(ctx context.Context, lines []string) (string, error) {
	for _, ln := range lines {
		if utils.HasControlChars(ln) {
			return "", fmt.Errorf("%w: control characters in config line", ErrInvalidArgument)
		}
	}
	cli, err := c.ensureCLI(ctx)
	if err != nil {
		return "", err
	}
	return cli.SendConfigSet(ctx, lines)
}

// MacClearResult is what ClearMacTable ran and what the device answered
type MacClearResult struct {
	Command string `json:"command"`
	Output  string `json:"output"`
}

// ClearMacTable flushes MAC entries with the platform's CLI command
func (c *Client) ClearMacTable(ctx context.Context, platform, iface string, vlan *int, dynamicOnly bool) (*MacClearResult, error) {
	cmd, err := ClearMacTableCommand(platform, iface, vlan, dynamicOnly)
	if err != nil {
		return nil, err
	}
	out, err := c.timing(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if strings.Contains(strings.ToLower(out), "confirm") {
		confirm, err := c.timing(ctx, "\n")
		out += confirm
		if err != nil {
			return nil, err
		}
	}
	return &MacClearResult{Command: cmd, Output: out}, nil
}
