package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/tidwall/gjson"

	"netops/netbox"
	"netops/services"
)

const inventoryTimeout = 30 * time.Second

// InventoryHandler serves read-only NetBox inventory.
type InventoryHandler struct {
	nb *netbox.Client
}

// NewInventoryHandler builds an InventoryHandler instance.
func NewInventoryHandler(nb *netbox.Client) *InventoryHandler {
	return &InventoryHandler{nb: nb}
}

func (h *InventoryHandler) ctx(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), inventoryTimeout)
}

// optionalID parses an optional positive integer query parameter
func optionalID(c *fiber.Ctx, name string) (int64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: %s must be an integer", errMalformedBody, name)
	}
	return id, nil
}

func (h *InventoryHandler) GetDevices(c *fiber.Ctx) error {
	ctx, cancel := h.ctx(c)
	defer cancel()

	devices, err := h.nb.ListDevices(ctx)
	if err != nil {
		return respondError(c, "list devices", err)
	}
	out := make([]netbox.DeviceSummary, 0, len(devices))
	for _, d := range devices {
		out = append(out, netbox.SummarizeDevice(d))
	}
	return c.JSON(out)
}

func (h *InventoryHandler) GetInterfaces(c *fiber.Ctx) error {
	name := strings.TrimSpace(c.Query("device_name"))
	if name == "" {
		return respondError(c, "list interfaces", fmt.Errorf("%w: device_name", services.ErrMissingField))
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	dev, err := h.nb.RequireDevice(ctx, name)
	if err != nil {
		return respondError(c, "list interfaces", err)
	}
	ifaces, err := h.nb.ListInterfacesForDevice(ctx, dev.Get("id").Int())
	if err != nil {
		return respondError(c, "list interfaces", err)
	}
	out := make([]netbox.InterfaceSummary, 0, len(ifaces))
	for _, i := range ifaces {
		out = append(out, netbox.SummarizeInterface(i))
	}
	return c.JSON(out)
}

func (h *InventoryHandler) GetUsers(c *fiber.Ctx) error {
	ctx, cancel := h.ctx(c)
	defer cancel()

	users, err := h.nb.ListUsers(ctx)
	if err != nil {
		return respondError(c, "list users", err)
	}
	out := make([]netbox.UserSummary, 0, len(users))
	for _, u := range users {
		out = append(out, netbox.UserSummary{Username: u.Get("username").String()})
	}
	return c.JSON(out)
}

func (h *InventoryHandler) GetRegions(c *fiber.Ctx) error {
	ctx, cancel := h.ctx(c)
	defer cancel()

	regions, err := h.nb.ListRegions(ctx)
	if err != nil {
		return respondError(c, "list regions", err)
	}
	return c.JSON(netbox.Raw(regions))
}

func (h *InventoryHandler) GetSubregions(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return respondError(c, "list subregions", fmt.Errorf("%w: region id must be an integer", errMalformedBody))
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	regions, err := h.nb.ListSubregions(ctx, int64(id))
	if err != nil {
		return respondError(c, "list subregions", err)
	}
	return c.JSON(netbox.Raw(regions))
}

func (h *InventoryHandler) GetSites(c *fiber.Ctx) error {
	regionID, err := optionalID(c, "region_id")
	if err != nil {
		return respondError(c, "list sites", err)
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	sites, err := h.nb.ListSites(ctx, regionID)
	if err != nil {
		return respondError(c, "list sites", err)
	}
	return c.JSON(netbox.Raw(sites))
}

func (h *InventoryHandler) GetDevicesFiltered(c *fiber.Ctx) error {
	siteID, err := optionalID(c, "site_id")
	if err != nil {
		return respondError(c, "filter devices", err)
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	devices, err := h.nb.ListDevicesFiltered(ctx, siteID)
	if err != nil {
		return respondError(c, "filter devices", err)
	}
	return c.JSON(siteSummaries(devices))
}

func (h *InventoryHandler) GetDevicesByRegion(c *fiber.Ctx) error {
	regionID, err := optionalID(c, "region_id")
	if err != nil {
		return respondError(c, "devices by region", err)
	}
	if regionID == 0 {
		return respondError(c, "devices by region", fmt.Errorf("%w: region_id", services.ErrMissingField))
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	devices, err := h.nb.ListDevicesByRegion(ctx, regionID)
	if err != nil {
		return respondError(c, "devices by region", err)
	}
	return c.JSON(siteSummaries(devices))
}

func siteSummaries(devices []gjson.Result) []netbox.DeviceSiteSummary {
	out := make([]netbox.DeviceSiteSummary, 0, len(devices))
	for _, d := range devices {
		out = append(out, netbox.SummarizeDeviceSite(d))
	}
	return out
}
