package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"netops/cache"
	appconfig "netops/config"
	"netops/database"
	"netops/device"
	"netops/macvendor"
	"netops/netbox"
	appserver "netops/server"
	"netops/services"
	"netops/utils"
	websocketpkg "netops/websocket"
)

const shutdownTimeout = 10 * time.Second

func main() {
	utils.InitLogging()

	config := appconfig.LoadConfig()
	utils.TrustProxyHeaders.Store(config.TrustProxyHeaders)

	startTime := time.Now()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis is optional: it backs the lookup cache and shared rate limits
	var rdb *redis.Client
	if config.RedisURL != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     config.RedisURL,
			Password: config.RedisPassword,
			DB:       0,
		})
		defer rdb.Close()
	}

	// The audit log is enabled by DATABASE_URL
	var pool *pgxpool.Pool
	var dbPinger appserver.Pinger
	var auditDB services.Database
	if config.DatabaseURL != "" {
		var err error
		pool, err = database.SetupDatabase(config.DatabaseURL)
		if err != nil {
			log.Fatal("Database setup failed:", err)
		}
		defer pool.Close()
		dbPinger = pool
		auditDB = pool
	}

	readyState := appserver.NewReadyState(config, rdb, dbPinger)
	if pool != nil {
		readyState.MarkDatabaseReady()
	}
	if rdb != nil {
		go waitForRedis(ctx, rdb, readyState)
	}

	store := cache.New(rdb)
	nb := netbox.NewClient(config.NetBoxURL, config.NetBoxToken, config.NetBoxTimeout)
	resolver := netbox.NewResolver(nb, config.PlatformOverrides, store, config.CacheTTL)
	vendors := macvendor.NewClient(config.MacVendorsURL, config.MacVendorsToken, config.MacVendorsRPS, store)
	connector := device.NewConnector(config, vendors)
	devices := services.NewDeviceService(resolver, connector, config.SSHUsername, config.SSHPassword)
	audit := services.NewAuditRecorder(auditDB)

	hub := websocketpkg.NewHub(websocketpkg.DevicePollers(devices), config.CountersInterval)
	go hub.Run()
	defer hub.Close()

	if auditDB != nil {
		services.StartCleanupService(ctx, auditDB, config.AuditRetentionDays)
	}

	app := appserver.CreateFiberApp(startTime, readyState)
	setupRoutes(app, routeDeps{
		config:  config,
		rdb:     rdb,
		netbox:  nb,
		devices: devices,
		audit:   audit,
		hub:     hub,
	})

	go shutdownOnSignal(ctx, app, hub)

	utils.LogInfo("starting netops backend",
		"port", config.Port,
		"netbox", config.NetBoxURL,
		"redis", rdb != nil,
		"audit", audit.Enabled(),
		"auth", config.AuthEnabled(),
	)
	if err := appserver.ListenWithIPv6Fallback(app, config.Port, startTime); err != nil {
		log.Fatalf("💥 [FATAL] Server failed to start: %v", err)
	}
	log.Println("Server stopped")
}

// waitForRedis pings Redis with exponential backoff until it answers or ctx
// ends. The cache treats an unreachable Redis as a miss in the meantime.
func waitForRedis(ctx context.Context, rdb *redis.Client, readyState *appserver.ReadyState) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0
	policy.MaxInterval = 30 * time.Second

	err := backoff.RetryNotify(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return rdb.Ping(pingCtx).Err()
	}, backoff.WithContext(policy, ctx), func(err error, next time.Duration) {
		utils.LogWarn("redis ping", err, "retry_in", next.String())
	})
	if err != nil {
		return
	}
	readyState.MarkRedisReady()
	utils.LogInfo("redis connected", "addr", rdb.Options().Addr)
}

func shutdownOnSignal(ctx context.Context, app *fiber.App, hub *websocketpkg.Hub) {
	<-ctx.Done()
	log.Println("Shutting down...")

	// Open streams end when the hub closes their send channels
	hub.Close()
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		utils.LogError("SHUTDOWN", err)
	}
}
