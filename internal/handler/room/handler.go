package room

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	roomService "github.com/yichenzhou/coderoom/backend/internal/service/room"
	"github.com/yichenzhou/coderoom/backend/pkg/utils"
)

// Handler exposes the REST surface for sessions.
type Handler struct {
	rooms *roomService.Service
}

// New creates the session handler.
func New(rooms *roomService.Service) *Handler {
	return &Handler{rooms: rooms}
}

// RegisterRoutes registers session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Get("/session/{sessionID}", h.handleGetSession)
}

// handleCreateSession provisions an empty session and returns its token.
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := h.rooms.CreateSession()
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusCreated, map[string]string{"sessionId": sessionID})
}

// handleGetSession is the existence probe the editor page uses before
// opening a websocket.
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	snap, err := h.rooms.Snapshot(sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"sessionId":    snap.ID,
		"participants": snap.Participants,
		"running":      snap.Running,
	})
}
