package utils

import (
	"net"
	"strings"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"
)

// TrustProxyHeaders mirrors TRUST_PROXY_HEADERS. It must be set before
// ApplyProxyConfig runs; ClientIP reads it per request.
var TrustProxyHeaders atomic.Bool

// proxyRanges are the networks a fronting proxy may connect from. They also
// decide which X-Forwarded-For hops count as internal.
var proxyRanges = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

var internalNets = mustParseNets(proxyRanges)

func mustParseNets(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, block, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		nets = append(nets, block)
	}
	return nets
}

// ApplyProxyConfig sets Fiber's proxy handling to agree with ClientIP. With
// trust off ProxyHeader stays empty, so c.IP() is the socket peer and
// forwarded headers are ignored everywhere.
func ApplyProxyConfig(cfg *fiber.Config) {
	if !TrustProxyHeaders.Load() {
		cfg.ProxyHeader = ""
		cfg.EnableTrustedProxyCheck = false
		cfg.TrustedProxies = nil
		return
	}
	cfg.ProxyHeader = fiber.HeaderXForwardedFor
	cfg.EnableTrustedProxyCheck = true
	cfg.TrustedProxies = append([]string(nil), proxyRanges...)
}

// ClientIP is the address used for rate-limit keys and audit rows.
// X-Forwarded-For and X-Real-IP count only when TrustProxyHeaders is set.
func ClientIP(c *fiber.Ctx) string {
	if !TrustProxyHeaders.Load() {
		return c.Context().RemoteIP().String()
	}
	if ip := forwardedFor(c.Get(fiber.HeaderXForwardedFor)); ip != "" {
		return ip
	}
	if realIP := strings.TrimSpace(c.Get("X-Real-IP")); net.ParseIP(realIP) != nil {
		return realIP
	}
	return c.Context().RemoteIP().String()
}

// forwardedFor picks the first public hop, falling back to the first
// parseable one.
func forwardedFor(header string) string {
	var fallback string
	for _, part := range strings.Split(header, ",") {
		hop := strings.TrimSpace(part)
		parsed := net.ParseIP(hop)
		if parsed == nil {
			continue
		}
		if IsPublicIP(parsed) {
			return hop
		}
		if fallback == "" {
			fallback = hop
		}
	}
	return fallback
}

// IsPublicIP reports whether ip is routable outside the proxy ranges
func IsPublicIP(ip net.IP) bool {
	if ip == nil || ip.IsLoopback() || ip.IsUnspecified() {
		return false
	}
	for _, block := range internalNets {
		if block.Contains(ip) {
			return false
		}
	}
	return true
}
