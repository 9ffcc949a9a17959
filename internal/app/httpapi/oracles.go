package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/provenance_layer/internal/httputil"
)

func (h *handler) oracleRoutes(r *mux.Router) {
	r.HandleFunc("/oracles", h.registerOracle).Methods(http.MethodPost)
	r.HandleFunc("/oracles", h.listOracles).Methods(http.MethodGet)
	r.HandleFunc("/oracles/settlements", h.pendingSettlements).Methods(http.MethodGet)
	r.HandleFunc("/oracles/deactivate", h.deactivateOracle).Methods(http.MethodPost)
	r.HandleFunc("/oracles/{addr}", h.getOracle).Methods(http.MethodGet)

	r.HandleFunc("/detections", h.openDetection).Methods(http.MethodPost)
	r.HandleFunc("/detections/open", h.openDetections).Methods(http.MethodGet)
	r.HandleFunc("/detections/{id}", h.getDetection).Methods(http.MethodGet)
	r.HandleFunc("/detections/{id}/submissions", h.submitDetection).Methods(http.MethodPost)
	r.HandleFunc("/detections/{id}/consensus", h.computeConsensus).Methods(http.MethodPost)
	r.HandleFunc("/detections/{id}/reputation/{oracle}", h.updateOracleReputation).Methods(http.MethodPost)
	r.HandleFunc("/detections/{id}/override", h.overrideVerdict).Methods(http.MethodPost)
}

func (h *handler) registerOracle(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name      string `json:"name"`
		ModelType string `json:"model_type"`
		Version   string `json:"version"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	o, err := h.app.Oracles.RegisterOracle(r.Context(), caller(r), payload.Name, payload.ModelType, payload.Version)
	respond(w, http.StatusCreated, o, err)
}

func (h *handler) listOracles(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Oracles.ListOracles(r.Context())
	respond(w, http.StatusOK, list, err)
}

func (h *handler) getOracle(w http.ResponseWriter, r *http.Request) {
	o, err := h.app.Oracles.GetOracle(r.Context(), pathVar(r, "addr"))
	respond(w, http.StatusOK, o, err)
}

func (h *handler) deactivateOracle(w http.ResponseWriter, r *http.Request) {
	o, err := h.app.Oracles.DeactivateOracle(r.Context(), caller(r))
	respond(w, http.StatusOK, o, err)
}

func (h *handler) pendingSettlements(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Oracles.PendingSettlements(r.Context())
	respond(w, http.StatusOK, list, err)
}

func (h *handler) openDetection(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ContentID string `json:"content_id"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	det, err := h.app.Oracles.OpenDetection(r.Context(), caller(r), payload.ContentID)
	respond(w, http.StatusCreated, det, err)
}

func (h *handler) openDetections(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Oracles.OpenDetections(r.Context())
	respond(w, http.StatusOK, list, err)
}

func (h *handler) getDetection(w http.ResponseWriter, r *http.Request) {
	det, err := h.app.Oracles.GetDetection(r.Context(), pathVar(r, "id"))
	respond(w, http.StatusOK, det, err)
}

func (h *handler) submitDetection(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		IsAI       bool    `json:"is_ai"`
		Confidence float64 `json:"confidence"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	det, err := h.app.Oracles.SubmitDetection(r.Context(), caller(r), pathVar(r, "id"), payload.IsAI, payload.Confidence)
	respond(w, http.StatusOK, det, err)
}

func (h *handler) computeConsensus(w http.ResponseWriter, r *http.Request) {
	reached, det, err := h.app.Oracles.ComputeConsensus(r.Context(), caller(r), pathVar(r, "id"))
	respond(w, http.StatusOK, map[string]any{"consensus_reached": reached, "detection": det}, err)
}

func (h *handler) updateOracleReputation(w http.ResponseWriter, r *http.Request) {
	o, err := h.app.Oracles.UpdateOracleReputation(r.Context(), caller(r), pathVar(r, "id"), pathVar(r, "oracle"))
	respond(w, http.StatusOK, o, err)
}

func (h *handler) overrideVerdict(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Capability    string  `json:"capability"`
		IsAI          bool    `json:"is_ai"`
		Confidence    float64 `json:"confidence"`
		Justification string  `json:"justification"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	det, err := h.app.Oracles.OverrideVerdict(r.Context(), caller(r), payload.Capability, pathVar(r, "id"),
		payload.IsAI, payload.Confidence, payload.Justification)
	respond(w, http.StatusOK, det, err)
}
