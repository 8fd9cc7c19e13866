package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"heirloom/internal/vault"
	id "heirloom/pkg/domain"
	"heirloom/pkg/requestcontext"
)

type triggerPayload struct {
	Kind  string     `json:"kind"`
	At    *time.Time `json:"at,omitempty"`
	Event string     `json:"event,omitempty"`
}

type createItemRequest struct {
	Kind       string              `json:"kind"`
	ContentRef string              `json:"content_ref"`
	Trigger    *triggerPayload     `json:"trigger,omitempty"`
	Sharing    map[string][]string `json:"sharing,omitempty"`
}

type itemResponse struct {
	ID         string              `json:"id"`
	OwnerID    string              `json:"owner_id"`
	Kind       string              `json:"kind"`
	ContentRef string              `json:"content_ref"`
	State      string              `json:"state"`
	Sharing    map[string][]string `json:"sharing,omitempty"`
	Trigger    *triggerPayload     `json:"trigger,omitempty"`
	FiredAt    *time.Time          `json:"fired_at,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

func toItemResponse(item vault.Item) itemResponse {
	resp := itemResponse{
		ID:         item.ID.String(),
		OwnerID:    item.OwnerID.String(),
		Kind:       string(item.Kind),
		ContentRef: item.ContentRef,
		State:      string(item.State),
		FiredAt:    item.FiredAt,
		CreatedAt:  item.CreatedAt,
		UpdatedAt:  item.UpdatedAt,
	}
	if len(item.Sharing) > 0 {
		resp.Sharing = make(map[string][]string, len(item.Sharing))
		for member, caps := range item.Sharing {
			values := make([]string, 0, len(caps))
			for _, c := range caps.Slice() {
				values = append(values, c.String())
			}
			resp.Sharing[member.String()] = values
		}
	}
	if item.Trigger != nil {
		resp.Trigger = &triggerPayload{Kind: string(item.Trigger.Kind), Event: item.Trigger.Event}
		if !item.Trigger.At.IsZero() {
			at := item.Trigger.At
			resp.Trigger.At = &at
		}
	}
	return resp
}

func parseSharing(raw map[string][]string) (vault.SharingSettings, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	sharing := make(vault.SharingSettings, len(raw))
	for user, caps := range raw {
		userID, err := id.ParseUserID(user)
		if err != nil {
			return nil, err
		}
		set := id.CapabilitySet{}
		for _, c := range caps {
			parsed, err := id.ParseCapability(c)
			if err != nil {
				return nil, err
			}
			set = set.Union(id.NewCapabilitySet(parsed))
		}
		sharing[userID] = set
	}
	return sharing, nil
}

func parseTrigger(raw *triggerPayload) *vault.DeliveryTrigger {
	if raw == nil {
		return nil
	}
	trigger := &vault.DeliveryTrigger{Kind: vault.TriggerKind(raw.Kind), Event: raw.Event}
	if raw.At != nil {
		trigger.At = *raw.At
	}
	return trigger
}

func (h *handler) createItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sharing, err := parseSharing(req.Sharing)
	if err != nil {
		writeError(w, err)
		return
	}
	item, err := h.services.Vault.CreateItem(ctx, requestcontext.ActorID(ctx),
		vault.Kind(req.Kind), req.ContentRef, parseTrigger(req.Trigger), sharing)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemResponse(item))
}

func (h *handler) getItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	itemID, err := id.ParseItemID(chi.URLParam(r, "itemID"))
	if err != nil {
		writeError(w, err)
		return
	}
	actor := requestcontext.ActorID(ctx)
	if err := h.services.Access.Require(ctx, actor, itemID, id.CapabilityView); err != nil {
		writeError(w, err)
		return
	}
	item, err := h.services.Vault.GetItem(ctx, itemID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

type updateSharingRequest struct {
	Sharing map[string][]string `json:"sharing"`
}

func (h *handler) updateSharing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	itemID, err := id.ParseItemID(chi.URLParam(r, "itemID"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req updateSharingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sharing, err := parseSharing(req.Sharing)
	if err != nil {
		writeError(w, err)
		return
	}
	if sharing == nil {
		sharing = vault.SharingSettings{}
	}
	if err := h.services.Vault.UpdateSharingSettings(ctx, requestcontext.ActorID(ctx), itemID, sharing); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateContentRequest struct {
	ContentRef string `json:"content_ref"`
}

func (h *handler) updateContent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	itemID, err := id.ParseItemID(chi.URLParam(r, "itemID"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req updateContentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.services.Vault.UpdateContent(ctx, requestcontext.ActorID(ctx), itemID, req.ContentRef); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	itemID, err := id.ParseItemID(chi.URLParam(r, "itemID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.services.Vault.DeleteItem(ctx, requestcontext.ActorID(ctx), itemID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type capabilitiesResponse struct {
	Capabilities []string `json:"capabilities"`
}

func (h *handler) capabilities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	itemID, err := id.ParseItemID(chi.URLParam(r, "itemID"))
	if err != nil {
		writeError(w, err)
		return
	}
	caps, err := h.services.Access.Resolve(ctx, requestcontext.ActorID(ctx), itemID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := capabilitiesResponse{Capabilities: []string{}}
	for _, c := range caps.Slice() {
		resp.Capabilities = append(resp.Capabilities, c.String())
	}
	writeJSON(w, http.StatusOK, resp)
}
