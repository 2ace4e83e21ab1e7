package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"netops/services"
)

// InterfaceRequest is the body of the compare and merge routes
type InterfaceRequest struct {
	DeviceName string `json:"device_name"`
	Host       string `json:"host"`
	Interface  string `json:"interface"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

func (r InterfaceRequest) target() services.Target {
	return services.Target{
		DeviceName: r.DeviceName,
		Host:       r.Host,
		Username:   r.Username,
		Password:   r.Password,
	}
}

// InterfaceHandler reconciles device interfaces with NetBox.
type InterfaceHandler struct {
	svc *services.DeviceService
	rec recorder
}

// NewInterfaceHandler builds an InterfaceHandler instance.
func NewInterfaceHandler(svc *services.DeviceService, audit services.AuditRecorder) *InterfaceHandler {
	return &InterfaceHandler{svc: svc, rec: newRecorder(audit)}
}

// ConfigureInterface pushes access/trunk settings read from NetBox
func (h *InterfaceHandler) ConfigureInterface(c *fiber.Ctx) error {
	var req DeviceInfo
	if err := parseBody(c, &req); err != nil {
		return respondError(c, "configure_interface", err)
	}
	iface := req.iface()
	t := req.target()

	start := time.Now()
	ctx, cancel := context.WithTimeout(c.UserContext(), deviceOpTimeout)
	defer cancel()

	out, err := h.svc.ConfigureInterface(ctx, t, iface)
	h.rec.finish(c, "configure_interface", t, iface, start, err)
	if err != nil {
		return respondError(c, "configure_interface", err)
	}
	return c.JSON(fiber.Map{
		"status": "Interface " + iface + " configured",
		"output": out,
	})
}

func (h *InterfaceHandler) CompareConfig(c *fiber.Ctx) error {
	var req InterfaceRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, "compare_config", err)
	}
	t := req.target()

	start := time.Now()
	ctx, cancel := context.WithTimeout(c.UserContext(), deviceOpTimeout)
	defer cancel()

	cmp, err := h.svc.CompareInterface(ctx, t, req.Interface)
	h.rec.finish(c, "compare_config", t, req.Interface, start, err)
	if err != nil {
		return respondError(c, "compare_config", err)
	}
	return c.JSON(cmp)
}

func (h *InterfaceHandler) ApplyMerge(c *fiber.Ctx) error {
	var req InterfaceRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, "apply_merge", err)
	}
	t := req.target()

	start := time.Now()
	ctx, cancel := context.WithTimeout(c.UserContext(), deviceOpTimeout)
	defer cancel()

	res, err := h.svc.ApplyMerge(ctx, t, req.Interface)
	h.rec.finish(c, "apply_merge", t, req.Interface, start, err)
	if err != nil {
		return respondError(c, "apply_merge", err)
	}
	return c.JSON(res)
}
