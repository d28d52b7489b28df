package httpx

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/target/sessionsync/internal/domain/session"
)

// SessionController is the part of the synchronizer the control surface drives.
type SessionController interface {
	Snapshot() session.Snapshot
	Recheck(ctx context.Context) (bool, error)
	SignOut(ctx context.Context) error
	NotifyVisible(ctx context.Context)
	NotifyFocused(ctx context.Context)
}

// ActivityTracker marks multi-step user actions that must not be disrupted.
type ActivityTracker interface {
	Acquire(ctx context.Context, name string) (release func())
	Active() []string
}

// SnapshotResponse is the JSON form of a published snapshot.
type SnapshotResponse struct {
	State      session.State `json:"state"`
	Ready      bool          `json:"ready"`
	IdentityID string        `json:"identity_id,omitempty"`
	Email      string        `json:"email,omitempty"`
	Role       session.Role  `json:"role,omitempty"`
	Degraded   bool          `json:"degraded,omitempty"`
}

// NewSnapshotResponse converts a snapshot for the wire.
func NewSnapshotResponse(s session.Snapshot) SnapshotResponse {
	out := SnapshotResponse{
		State:    session.StateOf(s),
		Ready:    s.Ready,
		Role:     s.Role,
		Degraded: s.Degraded,
	}
	if s.Identity != nil {
		out.IdentityID = s.Identity.ID
		out.Email = s.Identity.Email
	}
	return out
}

// SessionHandlers exposes the synchronizer to a local host process.
type SessionHandlers struct {
	Sessions SessionController // Required
	Activity ActivityTracker   // Optional

	mu       sync.Mutex
	nextID   uint64
	releases map[string]func()
}

// Get returns the published snapshot.
// GET /session.
func (h *SessionHandlers) Get(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, NewSnapshotResponse(h.Sessions.Snapshot()))
}

// Recheck asks for a re-validation. ran is false when the request was rate limited or
// another validation was running.
// POST /session/recheck.
func (h *SessionHandlers) Recheck(w http.ResponseWriter, r *http.Request) {
	ran, err := h.Sessions.Recheck(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"ran":     ran,
		"session": NewSnapshotResponse(h.Sessions.Snapshot()),
	})
}

// Visible records that the host became visible.
// POST /session/visible.
func (h *SessionHandlers) Visible(w http.ResponseWriter, r *http.Request) {
	h.Sessions.NotifyVisible(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// Focused records that the host gained focus.
// POST /session/focus.
func (h *SessionHandlers) Focused(w http.ResponseWriter, r *http.Request) {
	h.Sessions.NotifyFocused(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

type startActivityRequest struct {
	Name string `json:"name"`
}

// StartActivity protects the session from sign-in notifications until the activity is
// finished or its protection expires.
// POST /activities {"name": "..."}.
func (h *SessionHandlers) StartActivity(w http.ResponseWriter, r *http.Request) {
	if h.Activity == nil {
		http.NotFound(w, r)
		return
	}
	var req startActivityRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "missing_name",
			Err:     errors.New("activity name is required"),
		})
		return
	}

	// The request context ends with this handler; the protection must outlive it.
	release := h.Activity.Acquire(context.WithoutCancel(r.Context()), name)

	h.mu.Lock()
	if h.releases == nil {
		h.releases = make(map[string]func())
	}
	h.nextID++
	id := strconv.FormatUint(h.nextID, 10)
	h.releases[id] = release
	h.mu.Unlock()

	WriteJSON(w, http.StatusCreated, map[string]string{"id": id, "name": name})
}

// FinishActivity releases an activity started by StartActivity.
// DELETE /activities/{id}.
func (h *SessionHandlers) FinishActivity(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.mu.Lock()
	release, ok := h.releases[id]
	delete(h.releases, id)
	h.mu.Unlock()

	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusNotFound,
			ErrCode: "activity_not_found",
			Err:     errors.New("no activity with id " + id),
		})
		return
	}
	release()
	w.WriteHeader(http.StatusNoContent)
}

// ListActivities returns the names of activities still protecting the session.
// GET /activities.
func (h *SessionHandlers) ListActivities(w http.ResponseWriter, _ *http.Request) {
	names := []string{}
	if h.Activity != nil {
		names = append(names, h.Activity.Active()...)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"active": names})
}
