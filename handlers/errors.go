package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"netops/device"
	"netops/netbox"
	"netops/services"
	"netops/utils"
)

// errMalformedBody is reported when the JSON body cannot be decoded
var errMalformedBody = errors.New("malformed request body")

// statusForError maps domain errors to HTTP status codes
func statusForError(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, netbox.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrMissingField), errors.Is(err, errMalformedBody):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, netbox.ErrNoPlatform),
		errors.Is(err, netbox.ErrUnsupportedPlatform),
		errors.Is(err, device.ErrUnsupportedPlatform),
		errors.Is(err, device.ErrInvalidInterface),
		errors.Is(err, device.ErrInvalidScope),
		errors.Is(err, device.ErrInvalidArgument):
		return fiber.StatusBadRequest
	case netbox.IsUpstream(err):
		return fiber.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	}
	return fiber.StatusInternalServerError
}

// respondError writes {"error": msg} with the mapped status
func respondError(c *fiber.Ctx, where string, err error) error {
	code := statusForError(err)
	if code >= fiber.StatusInternalServerError {
		utils.LogRequestError(c, where, err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

// parseBody decodes the JSON body into out
func parseBody(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return errMalformedBody
	}
	return nil
}
