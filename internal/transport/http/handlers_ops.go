package httptransport

import (
	"net/http"
	"time"

	id "heirloom/pkg/domain"
	"heirloom/pkg/requestcontext"
)

type recordLifeEventRequest struct {
	OwnerID string `json:"owner_id"`
	Kind    string `json:"kind"`
}

func (h *handler) recordLifeEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req recordLifeEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ownerID, err := id.ParseUserID(req.OwnerID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.services.Delivery.RecordLifeEvent(ctx, ownerID, req.Kind); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type auditEventResponse struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	EntityRef      string    `json:"entity_ref"`
	ActorID        string    `json:"actor_id,omitempty"`
	ResultingState string    `json:"resulting_state"`
	Detail         string    `json:"detail,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// auditTrail returns the caller's own trail: every consequential decision
// touching entities they own.
func (h *handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := requestcontext.ActorID(ctx)
	events, err := h.services.Audit.List(ctx, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]auditEventResponse, 0, len(events))
	for _, e := range events {
		resp := auditEventResponse{
			ID:             e.ID,
			Kind:           string(e.Kind),
			EntityRef:      e.EntityRef,
			ResultingState: e.ResultingState,
			Detail:         e.Detail,
			OccurredAt:     e.OccurredAt,
		}
		if !e.ActorID.IsNil() {
			resp.ActorID = e.ActorID.String()
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}
