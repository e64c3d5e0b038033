// ABOUTME: Operator endpoints for inspecting and logging out sessions
// ABOUTME: GET /sessions lists live sessions; DELETE /sessions/{userId} purges one for good

package gateway

import (
	"net/http"
	"time"

	"github.com/2389/wa-broker/internal/auth"
	"github.com/2389/wa-broker/internal/session"
)

// SessionResponse is one entry of the GET /sessions response.
type SessionResponse struct {
	UserID       string  `json:"userId"`
	State        string  `json:"state"`
	Generation   string  `json:"generation"`
	CreatedAt    string  `json:"createdAt"`
	IdleDeadline *string `json:"idleDeadline"`
	ReadyAt      *string `json:"readyAt,omitempty"`
	HasQR        bool    `json:"hasQr"`
}

// ListSessionsResponse is the JSON response for GET /sessions.
type ListSessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

func formatTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func toSessionResponse(snap session.Snapshot) SessionResponse {
	return SessionResponse{
		UserID:       snap.UserID,
		State:        snap.State.String(),
		Generation:   snap.Generation,
		CreatedAt:    snap.CreatedAt.UTC().Format(time.RFC3339),
		IdleDeadline: formatTime(snap.IdleDeadline),
		ReadyAt:      formatTime(snap.ReadyAt),
		HasQR:        snap.QR != "",
	}
}

// handleListSessions handles GET /sessions.
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	snaps := g.registry.List()
	resp := ListSessionsResponse{Sessions: make([]SessionResponse, 0, len(snaps))}
	for _, snap := range snaps {
		resp.Sessions = append(resp.Sessions, toSessionResponse(snap))
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// handleLogout handles DELETE /sessions/{userId}.
// The session is closed and its credentials purged; it is not recreated.
func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if err := g.registry.Logout(userID); err != nil {
		g.sendError(w, r, userID, err)
		return
	}

	g.logger.Info("session logged out", "user_id", userID, "caller", auth.SubjectFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}
