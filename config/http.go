package config

import (
	"net/url"
	"strings"
)

// HTTPConfig contains configuration for the local control surface.
type HTTPConfig struct {
	// Enabled starts the control surface. OAuth mode needs it to receive the login redirect.
	Enabled bool `env:"HTTP_ENABLED" envDefault:"true"`

	// Addr is the address to bind to. The surface only answers loopback clients.
	Addr string `env:"HTTP_ADDR" envDefault:"127.0.0.1:8085"`
}

// Sanitize normalises HTTP values.
func (h *HTTPConfig) Sanitize() {
	h.Addr = strings.TrimSpace(h.Addr)
	if h.Addr == "" {
		h.Addr = "127.0.0.1:8085"
	}
}

// CallbackPath returns the path component of the OAuth redirect URL, or /auth/callback
// when it cannot be determined.
func (o OAuthConfig) CallbackPath() string {
	u, err := url.Parse(o.RedirectURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "/auth/callback"
	}
	return u.Path
}
