package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"heirloom/internal/emergency"
	id "heirloom/pkg/domain"
	dErrors "heirloom/pkg/domain-errors"
	"heirloom/pkg/requestcontext"
)

type submitRequestRequest struct {
	TargetOwnerID     string `json:"target_owner_id"`
	RelationshipClaim string `json:"relationship_claim"`
	EvidenceRef       string `json:"evidence_ref,omitempty"`
}

type scopePayload struct {
	All       bool     `json:"all"`
	Items     []string `json:"items,omitempty"`
	AllowEdit bool     `json:"allow_edit"`
}

type requestResponse struct {
	ID                string       `json:"id"`
	RequesterID       string       `json:"requester_id"`
	TargetOwnerID     string       `json:"target_owner_id"`
	RelationshipClaim string       `json:"relationship_claim"`
	State             string       `json:"state"`
	Scope             scopePayload `json:"scope"`
	SubmittedAt       time.Time    `json:"submitted_at"`
	ApprovedAt        *time.Time   `json:"approved_at,omitempty"`
	ResolvedAt        *time.Time   `json:"resolved_at,omitempty"`
}

func toRequestResponse(req emergency.Request) requestResponse {
	scope := scopePayload{All: req.Scope.All, AllowEdit: req.Scope.AllowEdit}
	for _, item := range req.Scope.Items {
		scope.Items = append(scope.Items, item.String())
	}
	return requestResponse{
		ID:                req.ID.String(),
		RequesterID:       req.RequesterID.String(),
		TargetOwnerID:     req.TargetOwnerID.String(),
		RelationshipClaim: req.RelationshipClaim,
		State:             string(req.State),
		Scope:             scope,
		SubmittedAt:       req.SubmittedAt,
		ApprovedAt:        req.ApprovedAt,
		ResolvedAt:        req.ResolvedAt,
	}
}

func (h *handler) submitRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req submitRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	targetOwner, err := id.ParseUserID(req.TargetOwnerID)
	if err != nil {
		writeError(w, err)
		return
	}
	created, err := h.services.Emergency.SubmitRequest(ctx, requestcontext.ActorID(ctx),
		targetOwner, req.RelationshipClaim, req.EvidenceRef)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestResponse(created))
}

func (h *handler) getRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := h.services.Emergency.GetRequest(ctx, requestID)
	if err != nil {
		writeError(w, err)
		return
	}
	// Requests hold relationship claims about real people; only the parties
	// and admins may read them.
	actor := requestcontext.ActorID(ctx)
	if actor != req.RequesterID && actor != req.TargetOwnerID && !requestcontext.IsAdmin(ctx) {
		writeError(w, dErrors.New(dErrors.CodeNotFound, "request not found"))
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(req))
}

type recordVerificationRequest struct {
	Outcome string        `json:"outcome"`
	Scope   *scopePayload `json:"scope,omitempty"`
}

// recordVerification is the callback surface for the verification
// collaborator. Admin claim only.
func (h *handler) recordVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !requestcontext.IsAdmin(ctx) {
		writeError(w, dErrors.New(dErrors.CodeForbidden, "verification outcomes require the administrative claim"))
		return
	}
	requestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req recordVerificationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var scope *emergency.GrantScope
	if req.Scope != nil {
		parsed := emergency.GrantScope{All: req.Scope.All, AllowEdit: req.Scope.AllowEdit}
		for _, raw := range req.Scope.Items {
			itemID, err := id.ParseItemID(raw)
			if err != nil {
				writeError(w, err)
				return
			}
			parsed.Items = append(parsed.Items, itemID)
		}
		scope = &parsed
	}
	if err := h.services.Emergency.RecordVerification(ctx, requestID, emergency.VerificationOutcome(req.Outcome), scope); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) cancelRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.services.Emergency.Cancel(ctx, requestcontext.ActorID(ctx), requestID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) withdrawRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.services.Emergency.Withdraw(ctx, requestcontext.ActorID(ctx), requestID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type grantResponse struct {
	ID            string       `json:"id"`
	RequestID     string       `json:"request_id"`
	GranteeID     string       `json:"grantee_id"`
	TargetOwnerID string       `json:"target_owner_id"`
	Scope         scopePayload `json:"scope"`
	IssuedAt      time.Time    `json:"issued_at"`
	ExpiresAt     *time.Time   `json:"expires_at,omitempty"`
	Revoked       bool         `json:"revoked"`
	RevokedAt     *time.Time   `json:"revoked_at,omitempty"`
}

func (h *handler) listGrants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	grants, err := h.services.Emergency.GrantsFor(ctx, requestcontext.ActorID(ctx))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]grantResponse, 0, len(grants))
	for _, g := range grants {
		scope := scopePayload{All: g.Scope.All, AllowEdit: g.Scope.AllowEdit}
		for _, item := range g.Scope.Items {
			scope.Items = append(scope.Items, item.String())
		}
		out = append(out, grantResponse{
			ID:            g.ID.String(),
			RequestID:     g.RequestID.String(),
			GranteeID:     g.GranteeID.String(),
			TargetOwnerID: g.TargetOwnerID.String(),
			Scope:         scope,
			IssuedAt:      g.IssuedAt,
			ExpiresAt:     g.ExpiresAt,
			Revoked:       g.Revoked,
			RevokedAt:     g.RevokedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) revokeGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	grantID, err := id.ParseGrantID(chi.URLParam(r, "grantID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.services.Emergency.Revoke(ctx, requestcontext.ActorID(ctx), grantID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
