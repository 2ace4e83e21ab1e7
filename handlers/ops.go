package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"netops/device"
	"netops/netbox"
	"netops/services"
	"netops/utils"
)

const (
	deviceOpTimeout  = 2 * time.Minute
	defaultInterface = "vlan 1"
)

// DeviceInfo is the body every device operation accepts
type DeviceInfo struct {
	DeviceName string `json:"device_name"`
	Host       string `json:"host"`
	Interface  string `json:"interface"`
	IPAddress  string `json:"ip_address"`
	Vendor     string `json:"vendor"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

func (d DeviceInfo) target() services.Target {
	return services.Target{
		DeviceName: d.DeviceName,
		Host:       d.Host,
		Username:   d.Username,
		Password:   d.Password,
	}
}

func (d DeviceInfo) iface() string {
	return utils.FirstNonEmpty(d.Interface, defaultInterface)
}

func (d DeviceInfo) requireIP() error {
	if strings.TrimSpace(d.IPAddress) == "" {
		return fmt.Errorf("%w: ip_address is required", device.ErrInvalidArgument)
	}
	return nil
}

// deviceOp runs against an open client and returns the response body
type deviceOp func(ctx context.Context, client *device.Client, drivers netbox.DeviceDrivers) (fiber.Map, error)

// OpsHandler runs operational commands against devices.
type OpsHandler struct {
	svc *services.DeviceService
	rec recorder
}

// NewOpsHandler builds an OpsHandler instance.
func NewOpsHandler(svc *services.DeviceService, audit services.AuditRecorder) *OpsHandler {
	return &OpsHandler{svc: svc, rec: newRecorder(audit)}
}

func (h *OpsHandler) parse(c *fiber.Ctx) (DeviceInfo, error) {
	var req DeviceInfo
	if err := parseBody(c, &req); err != nil {
		return req, err
	}
	return req, nil
}

// run opens a client for req, runs op and records the outcome
func (h *OpsHandler) run(c *fiber.Ctx, operation string, req DeviceInfo, iface string, op deviceOp) error {
	start := time.Now()
	t := req.target()

	ctx, cancel := context.WithTimeout(c.UserContext(), deviceOpTimeout)
	defer cancel()

	result, err := h.exec(ctx, t, op)
	h.rec.finish(c, operation, t, iface, start, err)
	if err != nil {
		return respondError(c, operation, err)
	}
	return c.JSON(result)
}

func (h *OpsHandler) exec(ctx context.Context, t services.Target, op deviceOp) (fiber.Map, error) {
	client, drivers, err := h.svc.Open(ctx, t)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := client.Close(); err != nil {
			utils.LogWarn("device close", err, "host", client.Host())
		}
	}()
	return op(ctx, client, drivers)
}

func (h *OpsHandler) CheckMacAddress(c *fiber.Ctx) error {
	req, err := h.parse(c)
	if err != nil {
		return respondError(c, "check_macaddress", err)
	}
	iface := req.iface()
	return h.run(c, "check_macaddress", req, iface, func(ctx context.Context, client *device.Client, _ netbox.DeviceDrivers) (fiber.Map, error) {
		macs, err := client.MacTable(ctx, iface)
		if err != nil {
			return nil, err
		}
		return fiber.Map{
			"status":        "MAC addresses on port " + iface,
			"mac_addresses": macs,
		}, nil
	})
}

func (h *OpsHandler) ClearDHCP(c *fiber.Ctx) error {
	req, err := h.parse(c)
	if err == nil {
		err = req.requireIP()
	}
	if err != nil {
		return respondError(c, "clear_dhcp", err)
	}
	ip := strings.TrimSpace(req.IPAddress)
	return h.run(c, "clear_dhcp", req, "", func(ctx context.Context, client *device.Client, _ netbox.DeviceDrivers) (fiber.Map, error) {
		resp, err := client.ClearDHCPNetconf(ctx, ip)
		if err != nil {
			return nil, err
		}
		return fiber.Map{
			"status":   "DHCP lease for " + ip + " released",
			"response": resp,
		}, nil
	})
}

func (h *OpsHandler) ShowCounters(c *fiber.Ctx) error {
	req, err := h.parse(c)
	if err != nil {
		return respondError(c, "show_counters", err)
	}
	iface := req.iface()
	return h.run(c, "show_counters", req, iface, func(ctx context.Context, client *device.Client, _ netbox.DeviceDrivers) (fiber.Map, error) {
		counters, err := client.InterfaceCounters(ctx, iface)
		if err != nil {
			return nil, err
		}
		return fiber.Map{
			"status":   "Packet counters for " + iface,
			"counters": counters,
		}, nil
	})
}

func (h *OpsHandler) ShowStatusInt(c *fiber.Ctx) error {
	req, err := h.parse(c)
	if err != nil {
		return respondError(c, "show_status_int", err)
	}
	iface := req.iface()
	return h.run(c, "show_status_int", req, iface, func(ctx context.Context, client *device.Client, _ netbox.DeviceDrivers) (fiber.Map, error) {
		state, err := client.InterfaceState(ctx, iface)
		if err != nil {
			return nil, err
		}
		return fiber.Map{
			"status": "State of interface " + iface,
			"state":  state,
		}, nil
	})
}

func (h *OpsHandler) ShowDHCPBindings(c *fiber.Ctx) error {
	req, err := h.parse(c)
	if err != nil {
		return respondError(c, "show_dhcp_bindings", err)
	}
	return h.run(c, "show_dhcp_bindings", req, "", func(ctx context.Context, client *device.Client, _ netbox.DeviceDrivers) (fiber.Map, error) {
		bindings, err := client.DHCPBindings(ctx)
		if err != nil {
			return nil, err
		}
		return fiber.Map{
			"status":   "DHCP bindings",
			"bindings": bindings,
		}, nil
	})
}

func (h *OpsHandler) ClearDHCPBinding(c *fiber.Ctx) error {
	req, err := h.parse(c)
	if err == nil {
		err = req.requireIP()
	}
	if err != nil {
		return respondError(c, "clear_dhcp_binding", err)
	}
	ip := strings.TrimSpace(req.IPAddress)
	return h.run(c, "clear_dhcp_binding", req, "", func(ctx context.Context, client *device.Client, _ netbox.DeviceDrivers) (fiber.Map, error) {
		out, err := client.ClearDHCPBinding(ctx, ip)
		if err != nil {
			return nil, err
		}
		return fiber.Map{
			"status": "DHCP binding for " + ip + " cleared",
			"output": out,
		}, nil
	})
}

func (h *OpsHandler) ClearCounters(c *fiber.Ctx) error {
	req, err := h.parse(c)
	if err != nil {
		return respondError(c, "clear_counters", err)
	}
	iface := req.iface()
	return h.run(c, "clear_counters", req, iface, func(ctx context.Context, client *device.Client, _ netbox.DeviceDrivers) (fiber.Map, error) {
		out, err := client.ClearCounters(ctx, iface)
		if err != nil {
			return nil, err
		}
		return fiber.Map{
			"status": "Counters on port " + iface + " were reset",
			"output": out,
		}, nil
	})
}

func (h *OpsHandler) Shutdown(c *fiber.Ctx) error {
	req, err := h.parse(c)
	if err != nil {
		return respondError(c, "shutdown", err)
	}
	iface := req.iface()
	return h.run(c, "shutdown", req, iface, func(ctx context.Context, client *device.Client, _ netbox.DeviceDrivers) (fiber.Map, error) {
		resp, err := client.Shutdown(ctx, iface)
		if err != nil {
			return nil, err
		}
		return fiber.Map{"status": "interface disabled", "response": resp}, nil
	})
}

func (h *OpsHandler) NoShutdown(c *fiber.Ctx) error {
	req, err := h.parse(c)
	if err != nil {
		return respondError(c, "no_shutdown", err)
	}
	iface := req.iface()
	return h.run(c, "no_shutdown", req, iface, func(ctx context.Context, client *device.Client, _ netbox.DeviceDrivers) (fiber.Map, error) {
		resp, err := client.NoShutdown(ctx, iface)
		if err != nil {
			return nil, err
		}
		return fiber.Map{"status": "interface enabled", "response": resp}, nil
	})
}

func (h *OpsHandler) RestartInterface(c *fiber.Ctx) error {
	req, err := h.parse(c)
	if err != nil {
		return respondError(c, "restart_interface", err)
	}
	iface := req.iface()
	return h.run(c, "restart_interface", req, iface, func(ctx context.Context, client *device.Client, _ netbox.DeviceDrivers) (fiber.Map, error) {
		down, up, err := client.RestartInterface(ctx, iface)
		if err != nil {
			return nil, err
		}
		return fiber.Map{
			"status":      "Interface " + iface + " was restarted",
			"shutdown":    down,
			"no_shutdown": up,
		}, nil
	})
}

// ClearMacRequest is the body of /mac-table/clear
type ClearMacRequest struct {
	DeviceName  string `json:"device_name"`
	Host        string `json:"host"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Interface   string `json:"interface"`
	Vlan        *int   `json:"vlan"`
	DynamicOnly *bool  `json:"dynamic_only"`
}

func (h *OpsHandler) ClearMacTable(c *fiber.Ctx) error {
	var req ClearMacRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, "clear_mac_table", err)
	}
	dynamicOnly := true
	if req.DynamicOnly != nil {
		dynamicOnly = *req.DynamicOnly
	}
	iface := strings.TrimSpace(req.Interface)
	info := DeviceInfo{DeviceName: req.DeviceName, Host: req.Host, Username: req.Username, Password: req.Password}

	return h.run(c, "clear_mac_table", info, iface, func(ctx context.Context, client *device.Client, drivers netbox.DeviceDrivers) (fiber.Map, error) {
		res, err := client.ClearMacTable(ctx, drivers.Platform, iface, req.Vlan, dynamicOnly)
		if err != nil {
			return nil, err
		}
		return fiber.Map{
			"device":   req.DeviceName,
			"platform": drivers.Platform,
			"strategy": "ssh",
			"command":  res.Command,
			"output":   res.Output,
		}, nil
	})
}
