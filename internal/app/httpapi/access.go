package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/provenance_layer/internal/app/domain/access"
	accesssvc "github.com/R3E-Network/provenance_layer/internal/app/services/access"
	apperrors "github.com/R3E-Network/provenance_layer/internal/errors"
	"github.com/R3E-Network/provenance_layer/internal/httputil"
)

func (h *handler) accessRoutes(r *mux.Router) {
	r.HandleFunc("/policies", h.createPolicy).Methods(http.MethodPost)
	r.HandleFunc("/policies/{id}", h.getPolicy).Methods(http.MethodGet)
	r.HandleFunc("/policies/{id}/grants", h.grantAccess).Methods(http.MethodPost)
	r.HandleFunc("/policies/{id}/grants", h.listGrants).Methods(http.MethodGet)
	r.HandleFunc("/policies/{id}/conditions", h.addCondition).Methods(http.MethodPost)
	r.HandleFunc("/policies/{id}/conditions/{type}", h.removeCondition).Methods(http.MethodDelete)
	r.HandleFunc("/policies/{id}/privacy", h.updatePrivacy).Methods(http.MethodPut)
	r.HandleFunc("/policies/{id}/window", h.setAccessWindow).Methods(http.MethodPut)
	r.HandleFunc("/policies/{id}/requests", h.requestAccess).Methods(http.MethodPost)
	r.HandleFunc("/policies/{id}/requests", h.listRequests).Methods(http.MethodGet)
	r.HandleFunc("/policies/{id}/lockdown", h.lockdown).Methods(http.MethodPost)
	r.HandleFunc("/policies/{id}/authorize", h.authorize).Methods(http.MethodPost)

	r.HandleFunc("/grants/{id}", h.getGrant).Methods(http.MethodGet)
	r.HandleFunc("/grants/{id}", h.revokeAccess).Methods(http.MethodDelete)
	r.HandleFunc("/requests/{id}", h.getRequest).Methods(http.MethodGet)
	r.HandleFunc("/requests/{id}/resolve", h.resolveRequest).Methods(http.MethodPost)
}

func (h *handler) createPolicy(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ContentID string `json:"content_id"`
		KeyRef    string `json:"key_ref"`
		Algorithm string `json:"algorithm"`
		IsPublic  bool   `json:"is_public"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	p, err := h.app.Access.CreatePolicy(r.Context(), caller(r), payload.ContentID, payload.KeyRef, payload.Algorithm, payload.IsPublic)
	respond(w, http.StatusCreated, p, err)
}

func (h *handler) getPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Access.ViewPolicy(r.Context(), caller(r), pathVar(r, "id"))
	respond(w, http.StatusOK, p, err)
}

func (h *handler) grantAccess(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Grantee     string    `json:"grantee"`
		Role        string    `json:"role"`
		ExpiresAt   time.Time `json:"expires_at"`
		KeyFragment string    `json:"key_fragment"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	g, err := h.app.Access.GrantAccess(r.Context(), caller(r), pathVar(r, "id"), accesssvc.GrantRequest{
		Grantee:     payload.Grantee,
		Role:        payload.Role,
		ExpiresAt:   payload.ExpiresAt,
		KeyFragment: payload.KeyFragment,
	})
	respond(w, http.StatusCreated, g.Redacted(), err)
}

func (h *handler) listGrants(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Access.ViewGrants(r.Context(), caller(r), pathVar(r, "id"))
	respond(w, http.StatusOK, list, err)
}

// grantView never carries the key fragment; Authorize releases it.
type grantView struct {
	access.Grant
	Valid bool `json:"valid"`
}

func (h *handler) getGrant(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")
	g, err := h.app.Access.ViewGrant(r.Context(), caller(r), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	valid, err := h.app.Access.IsGrantValid(r.Context(), id, time.Time{})
	respond(w, http.StatusOK, grantView{Grant: g, Valid: valid}, err)
}

func (h *handler) revokeAccess(w http.ResponseWriter, r *http.Request) {
	g, err := h.app.Access.RevokeAccess(r.Context(), caller(r), pathVar(r, "id"))
	respond(w, http.StatusOK, g.Redacted(), err)
}

func (h *handler) addCondition(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Type      string `json:"type"`
		Parameter string `json:"parameter"`
		Value     string `json:"value"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	p, err := h.app.Access.AddCondition(r.Context(), caller(r), pathVar(r, "id"), access.Condition{
		Type:      payload.Type,
		Parameter: payload.Parameter,
		Value:     payload.Value,
	})
	respond(w, http.StatusOK, p, err)
}

func (h *handler) removeCondition(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Access.RemoveCondition(r.Context(), caller(r), pathVar(r, "id"), pathVar(r, "type"))
	respond(w, http.StatusOK, p, err)
}

func (h *handler) updatePrivacy(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		IsPublic             bool `json:"is_public"`
		RequiresVerification bool `json:"requires_verification"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	p, err := h.app.Access.UpdatePrivacySettings(r.Context(), caller(r), pathVar(r, "id"), payload.IsPublic, payload.RequiresVerification)
	respond(w, http.StatusOK, p, err)
}

func (h *handler) setAccessWindow(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Start time.Time `json:"start"`
		End   time.Time `json:"end"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	p, err := h.app.Access.SetAccessWindow(r.Context(), caller(r), pathVar(r, "id"), payload.Start, payload.End)
	respond(w, http.StatusOK, p, err)
}

func (h *handler) requestAccess(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Role          string `json:"role"`
		Justification string `json:"justification"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := h.app.Access.RequestAccess(r.Context(), caller(r), pathVar(r, "id"), payload.Role, payload.Justification)
	respond(w, http.StatusCreated, req, err)
}

func (h *handler) listRequests(w http.ResponseWriter, r *http.Request) {
	status := access.RequestStatus(r.URL.Query().Get("status"))
	switch status {
	case "", access.RequestPending, access.RequestApproved, access.RequestDenied:
	default:
		httputil.WriteError(w, apperrors.InvalidArgument("status", "must be pending, approved or denied"))
		return
	}
	list, err := h.app.Access.ViewRequests(r.Context(), caller(r), pathVar(r, "id"), status)
	respond(w, http.StatusOK, list, err)
}

func (h *handler) getRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.app.Access.ViewRequest(r.Context(), caller(r), pathVar(r, "id"))
	respond(w, http.StatusOK, req, err)
}

func (h *handler) resolveRequest(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Approve     bool      `json:"approve"`
		ExpiresAt   time.Time `json:"expires_at"`
		KeyFragment string    `json:"key_fragment"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := h.app.Access.ResolveRequest(r.Context(), caller(r), pathVar(r, "id"), accesssvc.Resolution{
		Approve:     payload.Approve,
		ExpiresAt:   payload.ExpiresAt,
		KeyFragment: payload.KeyFragment,
	})
	respond(w, http.StatusOK, req, err)
}

func (h *handler) lockdown(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Capability string `json:"capability"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	p, err := h.app.Access.Lockdown(r.Context(), caller(r), payload.Capability, pathVar(r, "id"))
	respond(w, http.StatusOK, p, err)
}

// authorize evaluates the policy for the caller. The body's evidence field
// is passed verbatim to condition evaluation.
func (h *handler) authorize(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Evidence json.RawMessage `json:"evidence"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	evidence := []byte(payload.Evidence)
	if len(evidence) == 0 {
		evidence = []byte("{}")
	}
	d, err := h.app.Access.Authorize(r.Context(), caller(r), pathVar(r, "id"), evidence)
	respond(w, http.StatusOK, d, err)
}
