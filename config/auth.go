package config

import (
	"fmt"
	"strings"
)

// AuthMode represents the identity provider the agent talks to.
type AuthMode string

const (
	// AuthModeOAuth uses OAuth/OIDC for authentication.
	AuthModeOAuth AuthMode = "oauth"
	// AuthModeMock uses the in-memory dev provider (for development only).
	AuthModeMock AuthMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(string(text))
	switch v {
	case "oauth", "mock":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: oauth, mock)", v)
	}
}

// OAuthConfig contains OAuth/OIDC configuration.
type OAuthConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL"  envDefault:"http://localhost:8085/auth/callback"`
	Scope        string `env:"SCOPE"         envDefault:"openid profile email"`
	DiscoveryURL string `env:"DISCOVERY_URL"`
	LogoutURL    string `env:"LOGOUT_URL"`
}

// Configured reports whether the fields NewProvider requires are present.
func (o OAuthConfig) Configured() bool {
	return o.ClientID != "" && o.ClientSecret != "" && o.DiscoveryURL != "" && o.RedirectURL != ""
}

// DevAuthConfig controls the mock/dev identity.
// Used when AUTH_MODE=mock for development and testing.
type DevAuthConfig struct {
	UserID string `env:"USER_ID" envDefault:"dev-user"`
	Email  string `env:"EMAIL"   envDefault:"dev@example.com"`
	// Role is added to the static role table for UserID when profiles are disabled.
	Role string `env:"ROLE" envDefault:"admin"`
	// AutoSignIn signs the dev identity in when the agent starts.
	AutoSignIn bool `env:"AUTO_SIGN_IN" envDefault:"true"`
}

// AuthConfig groups identity provider and role source configuration.
type AuthConfig struct {
	// Mode determines which identity provider to use.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"mock"`

	// OAuth configuration (used when Mode=oauth).
	OAuth OAuthConfig `envPrefix:"OAUTH_"`

	// DevAuth configuration (used when Mode=mock).
	DevAuth DevAuthConfig `envPrefix:"DEV_AUTH_"`

	// StaticRoles is an "id=role,id=role" table used when PROFILES_ENABLED is false.
	StaticRoles string `env:"AUTH_STATIC_ROLES"`

	// DefaultRole is returned by the static table for unlisted identities. Empty means
	// unlisted identities have no profile.
	DefaultRole string `env:"AUTH_DEFAULT_ROLE"`
}

// Sanitize normalises auth values.
func (a *AuthConfig) Sanitize() {
	a.StaticRoles = strings.TrimSpace(a.StaticRoles)
	a.DefaultRole = strings.ToLower(strings.TrimSpace(a.DefaultRole))
	a.DevAuth.Role = strings.ToLower(strings.TrimSpace(a.DevAuth.Role))
	a.OAuth.DiscoveryURL = strings.TrimSpace(a.OAuth.DiscoveryURL)
}
