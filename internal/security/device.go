package security

import (
	"strings"

	"github.com/mssola/useragent"

	"github.com/sandeepkv93/tenant-session-engine/internal/domain"
)

const maxUserAgentLength = 512

// ParseDevice derives a coarse device descriptor from a User-Agent header.
func ParseDevice(userAgent string) domain.Device {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return domain.Device{Type: "unknown", Browser: "unknown", OS: "unknown"}
	}
	ua := useragent.New(userAgent)
	device := domain.Device{Type: "desktop"}
	switch {
	case ua.Bot():
		device.Type = "bot"
	case isTablet(userAgent):
		device.Type = "tablet"
	case ua.Mobile():
		device.Type = "mobile"
	}
	name, _ := ua.Browser()
	device.Browser = fallback(name)
	device.OS = fallback(ua.OS())
	return device
}

// TruncateUserAgent bounds the raw header stored alongside a session.
func TruncateUserAgent(userAgent string) string {
	if len(userAgent) <= maxUserAgentLength {
		return userAgent
	}
	return userAgent[:maxUserAgentLength]
}

func isTablet(userAgent string) bool {
	lower := strings.ToLower(userAgent)
	return strings.Contains(lower, "ipad") || (strings.Contains(lower, "android") && !strings.Contains(lower, "mobile"))
}

func fallback(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	if len(v) > 64 {
		return v[:64]
	}
	return v
}
