package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/provenance_layer/internal/capability"
	apperrors "github.com/R3E-Network/provenance_layer/internal/errors"
	"github.com/R3E-Network/provenance_layer/internal/httputil"
)

func (h *handler) adminRoutes(r *mux.Router) {
	r.HandleFunc("/admin/capabilities", h.issueCapability).Methods(http.MethodPost)
	r.HandleFunc("/admin/capabilities", h.listCapabilities).Methods(http.MethodGet)
	r.HandleFunc("/admin/capabilities/{id}", h.revokeCapability).Methods(http.MethodDelete)
	r.HandleFunc("/admin/sweep", h.sweep).Methods(http.MethodPost)
}

func (h *handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	id := caller(r)
	if id == "" {
		httputil.WriteError(w, apperrors.ErrUnauthenticated)
		return false
	}
	if !h.app.Admin.IsAdmin(id) {
		httputil.WriteError(w, apperrors.ErrNotAuthorized)
		return false
	}
	return true
}

func (h *handler) issueCapability(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Action   string `json:"action"`
		EntityID string `json:"entity_id"`
		Holder   string `json:"holder"`
		TTL      string `json:"ttl"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	ttl, err := parseDuration("ttl", payload.TTL)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	token, rec, err := h.app.Admin.IssueCapability(r.Context(), caller(r), capability.Action(payload.Action), payload.EntityID, payload.Holder, ttl)
	respond(w, http.StatusCreated, struct {
		Token      string            `json:"token"`
		Capability capability.Record `json:"capability"`
	}{token, rec}, err)
}

func (h *handler) listCapabilities(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	list, err := h.app.Admin.ListCapabilities(r.Context())
	respond(w, http.StatusOK, list, err)
}

func (h *handler) revokeCapability(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Admin.RevokeCapability(r.Context(), caller(r), pathVar(r, "id")); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sweep runs the deadline sweeper once, outside its schedule.
func (h *handler) sweep(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.app.Sweeper.Sweep(r.Context()))
}
