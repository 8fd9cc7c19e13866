package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	id "heirloom/pkg/domain"
	"heirloom/pkg/requestcontext"
)

type createFamilyRequest struct {
	Name string `json:"name"`
}

type familyResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *handler) createFamily(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createFamilyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	f, err := h.services.Family.CreateFamily(ctx, requestcontext.ActorID(ctx), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, familyResponse{
		ID:        f.ID.String(),
		Name:      f.Name,
		CreatedAt: f.CreatedAt,
	})
}

type addMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (h *handler) addMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	familyID, err := id.ParseFamilyID(chi.URLParam(r, "familyID"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req addMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	userID, err := id.ParseUserID(req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	role, err := id.ParseRole(req.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.services.Family.AddMember(ctx, requestcontext.ActorID(ctx), userID, familyID, role); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) removeMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.services.Family.RemoveMember(ctx, requestcontext.ActorID(ctx), userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

func (h *handler) changeRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req changeRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	role, err := id.ParseRole(req.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.services.Family.ChangeRole(ctx, requestcontext.ActorID(ctx), userID, role); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
