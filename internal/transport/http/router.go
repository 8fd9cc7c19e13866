package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"heirloom/internal/access"
	"heirloom/internal/audit"
	"heirloom/internal/delivery"
	"heirloom/internal/emergency"
	"heirloom/internal/family"
	"heirloom/internal/platform/middleware"
	"heirloom/internal/vault"
)

// Services bundles everything the HTTP layer delegates to. Handlers hold no
// business logic; they decode, call, and encode.
type Services struct {
	Access    *access.Service
	Family    *family.Service
	Vault     *vault.Service
	Emergency *emergency.Service
	Delivery  *delivery.Scheduler
	Audit     *audit.Publisher
}

// NewRouter wires the public surface. Everything under the authenticated
// group requires a valid bearer token; health and metrics stay open.
func NewRouter(services Services, validator middleware.Validator, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	h := &handler{services: services, logger: logger}
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(validator, logger))

		r.Post("/families", h.createFamily)
		r.Post("/families/{familyID}/members", h.addMember)
		r.Delete("/families/members/{userID}", h.removeMember)
		r.Put("/families/members/{userID}/role", h.changeRole)

		r.Post("/items", h.createItem)
		r.Get("/items/{itemID}", h.getItem)
		r.Put("/items/{itemID}/sharing", h.updateSharing)
		r.Put("/items/{itemID}/content", h.updateContent)
		r.Delete("/items/{itemID}", h.deleteItem)
		r.Get("/items/{itemID}/capabilities", h.capabilities)

		r.Post("/emergency/requests", h.submitRequest)
		r.Get("/emergency/requests/{requestID}", h.getRequest)
		r.Post("/emergency/requests/{requestID}/verification", h.recordVerification)
		r.Post("/emergency/requests/{requestID}/cancel", h.cancelRequest)
		r.Post("/emergency/requests/{requestID}/withdraw", h.withdrawRequest)
		r.Get("/emergency/grants", h.listGrants)
		r.Post("/emergency/grants/{grantID}/revoke", h.revokeGrant)

		r.Post("/life-events", h.recordLifeEvent)
		r.Get("/audit", h.auditTrail)
	})
	return r
}

type handler struct {
	services Services
	logger   *slog.Logger
}
