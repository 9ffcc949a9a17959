package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	provenancesvc "github.com/R3E-Network/provenance_layer/internal/app/services/provenance"
	"github.com/R3E-Network/provenance_layer/internal/httputil"
)

const defaultTransferTTL = 24 * time.Hour

func (h *handler) contentRoutes(r *mux.Router) {
	r.HandleFunc("/content", h.registerContent).Methods(http.MethodPost)
	r.HandleFunc("/content/by-fingerprint/{fingerprint}", h.contentByFingerprint).Methods(http.MethodGet)
	r.HandleFunc("/content/by-owner/{owner}", h.contentByOwner).Methods(http.MethodGet)
	r.HandleFunc("/content/{id}", h.getContent).Methods(http.MethodGet)
	r.HandleFunc("/content/{id}/metadata", h.updateMetadata).Methods(http.MethodPut)
	r.HandleFunc("/content/{id}/verifications", h.recordVerification).Methods(http.MethodPost)
	r.HandleFunc("/content/{id}/transferable", h.setTransferable).Methods(http.MethodPut)
	r.HandleFunc("/content/{id}/transfers", h.issueTransfer).Methods(http.MethodPost)
	r.HandleFunc("/content/{id}/disable-transfers", h.forceDisableTransfers).Methods(http.MethodPost)
	r.HandleFunc("/content/{id}/trust", h.forceTrustScore).Methods(http.MethodPost)
	r.HandleFunc("/content/{id}/tasks", h.contentTasks).Methods(http.MethodGet)
	r.HandleFunc("/content/{id}/detections", h.contentDetections).Methods(http.MethodGet)
	r.HandleFunc("/content/{id}/policy", h.contentPolicy).Methods(http.MethodGet)
	r.HandleFunc("/fingerprints/{fingerprint}", h.fingerprintRegistered).Methods(http.MethodGet)
	r.HandleFunc("/transfers/redeem", h.redeemTransfer).Methods(http.MethodPost)
}

func (h *handler) registerContent(w http.ResponseWriter, r *http.Request) {
	var reg provenancesvc.Registration
	if err := httputil.DecodeJSON(r, &reg); err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.app.Content.Register(r.Context(), caller(r), reg)
	respond(w, http.StatusCreated, rec, err)
}

func (h *handler) getContent(w http.ResponseWriter, r *http.Request) {
	rec, err := h.app.Content.Get(r.Context(), pathVar(r, "id"))
	respond(w, http.StatusOK, rec, err)
}

func (h *handler) contentByFingerprint(w http.ResponseWriter, r *http.Request) {
	rec, err := h.app.Content.GetByFingerprint(r.Context(), pathVar(r, "fingerprint"))
	respond(w, http.StatusOK, rec, err)
}

func (h *handler) contentByOwner(w http.ResponseWriter, r *http.Request) {
	recs, err := h.app.Content.ListByOwner(r.Context(), pathVar(r, "owner"))
	respond(w, http.StatusOK, recs, err)
}

func (h *handler) fingerprintRegistered(w http.ResponseWriter, r *http.Request) {
	fp := pathVar(r, "fingerprint")
	ok, err := h.app.Content.IsRegistered(r.Context(), fp)
	respond(w, http.StatusOK, map[string]any{"fingerprint": fp, "registered": ok}, err)
}

func (h *handler) updateMetadata(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.app.Content.UpdateMetadata(r.Context(), caller(r), pathVar(r, "id"), payload.Key, payload.Value)
	respond(w, http.StatusOK, rec, err)
}

func (h *handler) recordVerification(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Score int `json:"score"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.app.Content.RecordVerification(r.Context(), caller(r), pathVar(r, "id"), payload.Score)
	respond(w, http.StatusOK, rec, err)
}

func (h *handler) setTransferable(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Transferable bool `json:"transferable"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.app.Content.SetTransferable(r.Context(), caller(r), pathVar(r, "id"), payload.Transferable)
	respond(w, http.StatusOK, rec, err)
}

func (h *handler) issueTransfer(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		To  string `json:"to"`
		TTL string `json:"ttl"`
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
	if ttl == 0 {
		ttl = defaultTransferTTL
	}
	pending, err := h.app.Content.IssueTransfer(r.Context(), caller(r), pathVar(r, "id"), payload.To, ttl)
	respond(w, http.StatusCreated, pending, err)
}

func (h *handler) redeemTransfer(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Token string `json:"token"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.app.Content.RedeemTransfer(r.Context(), caller(r), payload.Token)
	respond(w, http.StatusOK, rec, err)
}

func (h *handler) forceDisableTransfers(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Capability string `json:"capability"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.app.Content.ForceDisableTransfers(r.Context(), caller(r), payload.Capability, pathVar(r, "id"))
	respond(w, http.StatusOK, rec, err)
}

func (h *handler) forceTrustScore(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Capability string `json:"capability"`
		Score      int    `json:"score"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.app.Content.ForceTrustScore(r.Context(), caller(r), payload.Capability, pathVar(r, "id"), payload.Score)
	respond(w, http.StatusOK, rec, err)
}

func (h *handler) contentTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.app.Verifiers.ListTasks(r.Context(), pathVar(r, "id"))
	respond(w, http.StatusOK, tasks, err)
}

func (h *handler) contentDetections(w http.ResponseWriter, r *http.Request) {
	dets, err := h.app.Oracles.ListDetections(r.Context(), pathVar(r, "id"))
	respond(w, http.StatusOK, dets, err)
}

func (h *handler) contentPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.app.Access.ViewPolicyForContent(r.Context(), caller(r), pathVar(r, "id"))
	respond(w, http.StatusOK, policy, err)
}
