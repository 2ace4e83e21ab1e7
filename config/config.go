package config

import (
	"log"
	"net"
	neturl "net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port           string
	AllowedOrigins []string
	Environment    string

	NetBoxURL     string
	NetBoxToken   string
	NetBoxTimeout time.Duration

	SSHUsername    string
	SSHPassword    string
	SSHPort        int
	SSHTimeout     time.Duration
	NetconfPort    int
	NetconfTimeout time.Duration

	MacVendorsToken string
	MacVendorsURL   string
	MacVendorsRPS   float64

	RedisURL      string
	RedisPassword string
	DatabaseURL   string
	JWTSecret     []byte

	CacheTTL          time.Duration
	CountersInterval  time.Duration
	RestartDelay      time.Duration
	TrustProxyHeaders bool

	RateLimitDeviceOps int
	RateLimitInventory int
	RateLimitStreams   int

	AuditRetentionDays int

	PlatformMapFile   string
	PlatformOverrides map[string]PlatformDrivers
}

// LoadEnvFile loads a dotenv file into the process environment. Variables that
// are already set are left untouched. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	if err := LoadEnvFile(os.Getenv("ENV_FILE")); err != nil {
		log.Printf("⚠️  [WARNING] Could not load env file: %v", err)
	}

	netboxURL := strings.TrimRight(strings.TrimSpace(GetEnvOrDefault("NETBOX_URL", "http://localhost:8000")), "/")
	if _, err := neturl.ParseRequestURI(netboxURL); err != nil {
		log.Fatalf("💥 [FATAL] NETBOX_URL is not a valid URL: %v", err)
	}

	jwtSecret := os.Getenv("API_JWT_SECRET")
	if jwtSecret != "" && len(jwtSecret) < 32 {
		log.Fatalf("💥 [FATAL] API_JWT_SECRET must be at least 32 characters long for security")
	}

	rps, err := strconv.ParseFloat(GetEnvOrDefault("MACVENDORS_RPS", "2"), 64)
	if err != nil || rps <= 0 {
		rps = 2
	}

	cfg := &Config{
		Port:               GetEnvOrDefault("PORT", "8001"),
		AllowedOrigins:     GetEnvAsStringSlice("CORS_ORIGINS", []string{"*"}),
		Environment:        GetEnvOrDefault("APP_ENV", "development"),
		NetBoxURL:          netboxURL,
		NetBoxToken:        os.Getenv("NETBOX_TOKEN"),
		NetBoxTimeout:      GetEnvAsDuration("NETBOX_TIMEOUT", 10*time.Second),
		SSHUsername:        os.Getenv("SSH_USERNAME"),
		SSHPassword:        os.Getenv("SSH_PASSWORD"),
		SSHPort:            GetEnvAsInt("SSH_PORT", 22),
		SSHTimeout:         GetEnvAsDuration("SSH_TIMEOUT", 20*time.Second),
		NetconfPort:        GetEnvAsInt("NETCONF_PORT", 830),
		NetconfTimeout:     GetEnvAsDuration("NETCONF_TIMEOUT", 10*time.Second),
		MacVendorsToken:    os.Getenv("MACVENDORS_TOKEN"),
		MacVendorsURL:      GetEnvOrDefault("MACVENDORS_URL", "https://api.macvendors.com/v1/lookup/"),
		MacVendorsRPS:      rps,
		RedisURL:           normalizeRedisAddress(os.Getenv("REDIS_URL")),
		RedisPassword:      resolveRedisPassword(os.Getenv("REDIS_URL"), os.Getenv("REDIS_PASSWORD")),
		DatabaseURL:        databaseURL(),
		JWTSecret:          []byte(jwtSecret),
		CacheTTL:           GetEnvAsDuration("CACHE_TTL", 60*time.Second),
		CountersInterval:   GetEnvAsDuration("COUNTERS_INTERVAL", 5*time.Second),
		RestartDelay:       GetEnvAsDuration("RESTART_DELAY", 5*time.Second),
		TrustProxyHeaders:  GetEnvAsBool("TRUST_PROXY_HEADERS", false),
		RateLimitDeviceOps: GetEnvAsInt("RATE_LIMIT_DEVICE_OPS", 30),
		RateLimitInventory: GetEnvAsInt("RATE_LIMIT_INVENTORY", 300),
		RateLimitStreams:   GetEnvAsInt("RATE_LIMIT_STREAMS", 20),
		AuditRetentionDays: GetEnvAsInt("AUDIT_RETENTION_DAYS", 90),
		PlatformMapFile:    strings.TrimSpace(os.Getenv("PLATFORM_MAP_FILE")),
	}

	if cfg.PlatformMapFile != "" {
		overrides, err := LoadPlatformMap(cfg.PlatformMapFile)
		if err != nil {
			log.Fatalf("💥 [FATAL] Could not load PLATFORM_MAP_FILE %s: %v", cfg.PlatformMapFile, err)
		}
		cfg.PlatformOverrides = overrides
	}

	if cfg.NetBoxToken == "" {
		log.Printf("⚠️  [WARNING] NETBOX_TOKEN is not set - NetBox requests will be anonymous")
	}
	if cfg.SSHUsername == "" || cfg.SSHPassword == "" {
		log.Printf("⚠️  [WARNING] SSH_USERNAME/SSH_PASSWORD not set - requests must carry device credentials")
	}

	return cfg
}

// AuthEnabled reports whether API bearer tokens are required
func (c *Config) AuthEnabled() bool {
	return len(c.JWTSecret) > 0
}

// GetEnvOrDefault returns environment variable value or default
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvAsBool parses environment variable as boolean
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		value = strings.ToLower(value)
		if value == "true" || value == "1" || value == "yes" {
			return true
		}
		if value == "false" || value == "0" || value == "no" {
			return false
		}
	}
	return defaultValue
}

// GetEnvAsStringSlice parses environment variable as comma-separated list
func GetEnvAsStringSlice(key string, defaultValue []string) []string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultValue
}

// GetEnvAsInt parses environment variable as integer
func GetEnvAsInt(key string, defaultValue int) int {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration parses a Go duration ("5s", "250ms"). Bare integers are
// read as seconds.
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// normalizeRedisAddress converts redis:// URLs into host[:port] that go-redis expects.
func normalizeRedisAddress(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return trimmed
	}
	if !strings.Contains(trimmed, "://") {
		return trimmed
	}
	u, err := neturl.Parse(trimmed)
	if err != nil {
		log.Printf("Warning: could not parse REDIS_URL '%s': %v", trimmed, err)
		return trimmed
	}
	if u.Host != "" {
		return u.Host
	}
	return trimmed
}

// resolveRedisPassword returns an explicit password if provided, otherwise pulls
// the password component from a redis:// URL when available.
func resolveRedisPassword(redisURL, explicit string) string {
	if explicit != "" {
		return explicit
	}
	trimmed := strings.TrimSpace(redisURL)
	if trimmed == "" || !strings.Contains(trimmed, "://") {
		return explicit
	}
	u, err := neturl.Parse(trimmed)
	if err != nil {
		return explicit
	}
	if u.User != nil {
		if pw, ok := u.User.Password(); ok && pw != "" {
			return pw
		}
	}
	return explicit
}

// databaseURL returns DATABASE_URL, or one assembled from PG* variables. An
// empty result disables the audit log.
func databaseURL() string {
	if dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL")); dbURL != "" {
		return dbURL
	}
	return buildDatabaseURLFromEnv()
}

// buildDatabaseURLFromEnv builds a postgres URL from common env vars (POSTGRESQL_* or libpq PG* style)
func buildDatabaseURLFromEnv() string {
	host := strings.TrimSpace(os.Getenv("POSTGRESQL_HOST"))
	if host == "" {
		host = strings.TrimSpace(os.Getenv("PGHOST"))
	}
	user := strings.TrimSpace(os.Getenv("POSTGRESQL_USER"))
	if user == "" {
		user = strings.TrimSpace(os.Getenv("PGUSER"))
	}
	pass := os.Getenv("POSTGRESQL_PASSWORD") // may contain spaces/specials
	if pass == "" {
		pass = os.Getenv("PGPASSWORD")
	}
	db := strings.TrimSpace(os.Getenv("POSTGRESQL_DATABASE"))
	if db == "" {
		db = strings.TrimSpace(os.Getenv("PGDATABASE"))
	}
	if host == "" || user == "" || db == "" {
		return ""
	}
	port := strings.TrimSpace(os.Getenv("POSTGRESQL_PORT"))
	if port == "" {
		port = strings.TrimSpace(os.Getenv("PGPORT"))
	}
	if port == "" {
		port = "5432"
	}
	sslmode := strings.TrimSpace(os.Getenv("PGSSLMODE"))
	if sslmode == "" {
		sslmode = "prefer"
	}
	u := &neturl.URL{
		Scheme: "postgres",
		User:   neturl.UserPassword(user, pass),
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + db,
	}
	q := neturl.Values{}
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()
	return u.String()
}
