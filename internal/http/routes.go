package httpx

import (
	"log/slog"
	"net"
	"net/http"
)

// RouterServices holds the collaborators of the control surface.
type RouterServices struct {
	Sessions SessionController // Required
	Login    LoginFlow         // Optional: set for OAuth
	Activity ActivityTracker   // Optional
	Health   HealthChecker     // Optional
	// CallbackPath is where the identity provider redirects after login. Defaults to /auth/callback.
	CallbackPath string
	Logger       *slog.Logger
}

// NewRouter creates the loopback-only control surface. Callers add Logging and Recover.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	mux := http.NewServeMux()

	health := &HealthHandlers{Cache: services.Health}
	sessions := &SessionHandlers{Sessions: services.Sessions, Activity: services.Activity}
	auth := &AuthHandlers{Flow: services.Login, Sessions: services.Sessions, Logger: logger}

	mux.HandleFunc("GET /healthz", health.Health)
	mux.HandleFunc("HEAD /healthz", health.Health)

	mux.HandleFunc("GET /session", sessions.Get)
	mux.HandleFunc("POST /session/recheck", sessions.Recheck)
	mux.HandleFunc("POST /session/visible", sessions.Visible)
	mux.HandleFunc("POST /session/focus", sessions.Focused)
	mux.HandleFunc("GET /activities", sessions.ListActivities)
	mux.HandleFunc("POST /activities", sessions.StartActivity)
	mux.HandleFunc("DELETE /activities/{id}", sessions.FinishActivity)

	callback := services.CallbackPath
	if callback == "" {
		callback = "/auth/callback"
	}
	mux.HandleFunc("GET /auth/login", auth.Login)
	mux.HandleFunc("GET "+callback, auth.Callback)
	mux.HandleFunc("POST /auth/logout", auth.Logout)

	return LoopbackOnly(mux)
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
