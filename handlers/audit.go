package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"netops/metrics"
	"netops/services"
	"netops/utils"
)

const (
	defaultOperationsLimit = 50
	maxOperationsLimit     = 500
)

// recorder reports device operations to metrics and the audit log
type recorder struct {
	audit services.AuditRecorder
}

func newRecorder(audit services.AuditRecorder) recorder {
	if audit == nil {
		audit = services.NopAuditRecorder{}
	}
	return recorder{audit: audit}
}

func (r recorder) finish(c *fiber.Ctx, operation string, t services.Target, iface string, start time.Time, err error) {
	elapsed := time.Since(start)
	metrics.ObserveDeviceOperation(operation, elapsed, err)

	op := services.Operation{
		RequestID:  utils.RequestID(c),
		Actor:      utils.Subject(c),
		Device:     t.DeviceName,
		Host:       t.Host,
		Interface:  iface,
		Operation:  operation,
		Success:    err == nil,
		DurationMS: elapsed.Milliseconds(),
	}
	if err != nil {
		op.Error = err.Error()
	}
	services.RecordAsync(r.audit, op)
}

// AuditHandler lists recorded device operations.
type AuditHandler struct {
	audit services.AuditRecorder
}

// NewAuditHandler builds an AuditHandler instance.
func NewAuditHandler(audit services.AuditRecorder) *AuditHandler {
	if audit == nil {
		audit = services.NopAuditRecorder{}
	}
	return &AuditHandler{audit: audit}
}

func (h *AuditHandler) GetOperations(c *fiber.Ctx) error {
	if !h.audit.Enabled() {
		return c.JSON(fiber.Map{"enabled": false, "operations": []services.Operation{}})
	}

	limit := utils.ClampInt(c.QueryInt("limit", defaultOperationsLimit), 1, maxOperationsLimit)

	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	ops, err := h.audit.Recent(ctx, limit)
	if err != nil {
		utils.LogRequestError(c, "list operations", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch operations"})
	}
	return c.JSON(fiber.Map{"enabled": true, "operations": ops})
}
