package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/target/sessionsync/internal/domain/session"
)

// LoginFlow is the interactive half of an OAuth identity provider.
type LoginFlow interface {
	Begin(ctx context.Context) (authURL, state string, err error)
	Complete(ctx context.Context, code, state string) (*session.Session, error)
}

// AuthHandlers provides HTTP handlers for the browser sign-in round trip.
type AuthHandlers struct {
	Flow     LoginFlow         // Optional: login and callback answer 404 without it
	Sessions SessionController // Required
	Logger   *slog.Logger
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Login starts the authorization code flow.
// GET /auth/login.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	if h.Flow == nil {
		http.NotFound(w, r)
		return
	}
	authURL, _, err := h.Flow.Begin(r.Context())
	if err != nil {
		h.logger().ErrorContext(r.Context(), "begin login failed", "error", err)
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "login_failed",
			Err:     err,
		})
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback completes the authorization code flow. The identity provider announces the new
// session to the synchronizer, so the response only echoes who signed in.
// GET /auth/callback?code=<code>&state=<state>.
func (h *AuthHandlers) Callback(w http.ResponseWriter, r *http.Request) {
	if h.Flow == nil {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "authorization_denied",
			Err:     errors.New(e + ": " + q.Get("error_description")),
		})
		return
	}
	code, state := q.Get("code"), q.Get("state")
	if code == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "missing_code",
			Err:     errors.New("authorization code is required"),
		})
		return
	}
	if state == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "missing_state",
			Err:     errors.New("state parameter is required"),
		})
		return
	}

	sess, err := h.Flow.Complete(r.Context(), code, state)
	if err != nil {
		h.logger().WarnContext(r.Context(), "complete login failed", "error", err)
		writeAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":      "signed_in",
		"identity_id": sess.Identity.ID,
		"email":       sess.Identity.Email,
	})
}

// Logout signs out locally. A failure to end the provider session is reported but the
// local sign-out always happens.
// POST /auth/logout.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "signed_out"}
	if err := h.Sessions.SignOut(r.Context()); err != nil {
		h.logger().WarnContext(r.Context(), "provider sign-out failed", "error", err)
		resp["provider_error"] = err.Error()
	}
	WriteJSON(w, http.StatusOK, resp)
}
