package websocket

import (
	"context"
	"log"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"netops/device"
	"netops/services"
	"netops/textfsm"
	"netops/utils"
)

// Handler serves the counter stream endpoints
type Handler struct {
	hub         *Hub
	credentials func(username, password string) (string, string)
}

// NewHandler serves streams from hub, filling blank credentials from svc
func NewHandler(hub *Hub, svc *services.DeviceService) *Handler {
	return &Handler{hub: hub, credentials: svc.Credentials}
}

// RequireUpgrade rejects plain HTTP requests to WebSocket routes
func RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

type devicePoller struct {
	client *device.Client
	iface  string
}

func (p devicePoller) Poll(ctx context.Context) ([]textfsm.Record, error) {
	return p.client.InterfaceCounters(ctx, p.iface)
}

func (p devicePoller) Close() error {
	return p.client.Close()
}

// DevicePollers opens one device session per stream. Streams carry no NetBox
// device name, so the default IOS-XE drivers are used.
func DevicePollers(svc *services.DeviceService) PollerFactory {
	return func(key StreamKey, password string) Poller {
		return devicePoller{
			client: svc.OpenWithDrivers(key.Host, key.Username, password, services.DefaultDrivers),
			iface:  key.Interface,
		}
	}
}

// Counters returns the connection handler for one kind of counter stream.
// Samples are written until the client leaves or the device fails.
func (h *Handler) Counters(kind CounterKind) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		host := strings.TrimSpace(c.Query("host"))
		iface := strings.TrimSpace(c.Query("interface"))
		if host == "" || iface == "" {
			_ = c.WriteJSON(ErrorMessage{Error: msgMissingParams})
			return
		}
		if err := device.ValidateInterface(iface); err != nil {
			_ = c.WriteJSON(ErrorMessage{Error: err.Error()})
			return
		}
		if utils.HasControlChars(host) {
			_ = c.WriteJSON(ErrorMessage{Error: "host contains control characters"})
			return
		}

		user, pass := h.credentials(c.Query("username"), c.Query("password"))
		sub := &Subscriber{
			ID:       uuid.New().String(),
			Key:      NewStreamKey(host, user, iface, pass),
			Password: pass,
			Kind:     kind,
			Send:     make(chan Update, 4),
		}

		h.hub.RegisterConnection(sub)
		defer h.hub.UnregisterConnection(sub)

		// Clients never send anything; reading detects the close
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						log.Printf("WebSocket error: %v", err)
					}
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				return
			case u, ok := <-sub.Send:
				if !ok {
					return
				}
				if u.Err != nil {
					_ = c.WriteJSON(ErrorMessage{Error: u.Err.Error()})
					return
				}
				if err := c.WriteJSON(kind.Message(u.Rows)); err != nil {
					log.Printf("WebSocket write error: %v", err)
					return
				}
			}
		}
	}
}
