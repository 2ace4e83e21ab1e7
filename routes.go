package main

import (
	"strings"

	fiberws "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/redis/go-redis/v9"

	appconfig "netops/config"
	"netops/handlers"
	"netops/metrics"
	"netops/middleware"
	"netops/netbox"
	"netops/services"
	websocketpkg "netops/websocket"
)

// routeDeps carries everything the API routes are built from
type routeDeps struct {
	config  *appconfig.Config
	rdb     *redis.Client
	netbox  *netbox.Client
	devices *services.DeviceService
	audit   services.AuditRecorder
	hub     *websocketpkg.Hub
}

// setupRoutes configures all API routes and middleware for the application.
// Health and metrics endpoints are registered by server.CreateFiberApp and
// are not behind authentication or rate limits.
func setupRoutes(app *fiber.App, deps routeDeps) {
	config := deps.config

	// Security middleware
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge: func() int {
			if config.Environment == "production" {
				return 31536000
			}
			return 0
		}(),
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "no-referrer",
	}))

	// CORS configuration
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Join(config.AllowedOrigins, ","),
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		AllowMethods:  "GET, POST, OPTIONS",
		ExposeHeaders: "X-Request-ID",
	}))

	app.Use(metrics.PrometheusMiddleware())

	app.Use(middleware.OptionalJWT(config.JWTSecret))

	rateLimits := middleware.NewRateLimitConfig(deps.rdb, config)

	// Initialize handlers
	inventoryHandler := handlers.NewInventoryHandler(deps.netbox)
	opsHandler := handlers.NewOpsHandler(deps.devices, deps.audit)
	interfaceHandler := handlers.NewInterfaceHandler(deps.devices, deps.audit)
	auditHandler := handlers.NewAuditHandler(deps.audit)
	streamHandler := websocketpkg.NewHandler(deps.hub, deps.devices)

	// Limiters are attached per route. A prefix-less app.Group would run
	// them for every route registered after it.

	// Inventory (NetBox reads)
	inventory := rateLimits.InventoryLimiter
	app.Get("/devices", inventory, inventoryHandler.GetDevices)
	app.Get("/devices/filter", inventory, inventoryHandler.GetDevicesFiltered)
	app.Get("/devices/by-region", inventory, inventoryHandler.GetDevicesByRegion)
	app.Get("/interfaces", inventory, inventoryHandler.GetInterfaces)
	app.Get("/users", inventory, inventoryHandler.GetUsers)
	app.Get("/regions", inventory, inventoryHandler.GetRegions)
	app.Get("/regions/:id/subregions", inventory, inventoryHandler.GetSubregions)
	app.Get("/sites", inventory, inventoryHandler.GetSites)
	app.Get("/operations", inventory, auditHandler.GetOperations)

	// Device operations
	ops := rateLimits.DeviceOpsLimiter
	app.Post("/check_macaddress", ops, opsHandler.CheckMacAddress)
	app.Post("/clear-dhcp", ops, opsHandler.ClearDHCP)
	app.Post("/show-counters", ops, opsHandler.ShowCounters)
	app.Post("/show-status-int", ops, opsHandler.ShowStatusInt)
	app.Post("/show-dhcp-bindings", ops, opsHandler.ShowDHCPBindings)
	app.Post("/clear-dhcp-binding", ops, opsHandler.ClearDHCPBinding)
	app.Post("/clear-counters", ops, opsHandler.ClearCounters)
	app.Post("/shutdown", ops, opsHandler.Shutdown)
	app.Post("/no-shutdown", ops, opsHandler.NoShutdown)
	app.Post("/restart-interface", ops, opsHandler.RestartInterface)
	app.Post("/mac-table/clear", ops, opsHandler.ClearMacTable)
	app.Post("/configure-interface", ops, interfaceHandler.ConfigureInterface)
	app.Post("/interface/compare-config", ops, interfaceHandler.CompareConfig)
	app.Post("/interface/apply-merge", ops, interfaceHandler.ApplyMerge)

	// Counter streams
	app.Use("/ws", websocketpkg.RequireUpgrade, rateLimits.StreamLimiter)
	app.Get("/ws/counters", fiberws.New(streamHandler.Counters(websocketpkg.ErrorCounters)))
	app.Get("/ws/live-counters", fiberws.New(streamHandler.Counters(websocketpkg.PacketCounters)))
}
