package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/provenance_layer/internal/httputil"
)

func (h *handler) verifierRoutes(r *mux.Router) {
	r.HandleFunc("/verifiers", h.registerVerifier).Methods(http.MethodPost)
	r.HandleFunc("/verifiers/withdraw", h.withdrawStake).Methods(http.MethodPost)
	r.HandleFunc("/verifiers/{addr}", h.getVerifier).Methods(http.MethodGet)
	r.HandleFunc("/verifiers/{addr}/power", h.votingPower).Methods(http.MethodGet)
	r.HandleFunc("/verifiers/{addr}/stake", h.addStake).Methods(http.MethodPost)
	r.HandleFunc("/verifiers/{addr}/slash", h.slashVerifier).Methods(http.MethodPost)
	r.HandleFunc("/balances/{addr}", h.balance).Methods(http.MethodGet)
	r.HandleFunc("/treasury", h.treasury).Methods(http.MethodGet)

	r.HandleFunc("/tasks", h.createTask).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id}", h.getTask).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{id}/votes", h.castVote).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id}/finalize", h.finalizeTask).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id}/claim", h.claimReward).Methods(http.MethodPost)
}

type amountPayload struct {
	Amount int64 `json:"amount"`
}

func (h *handler) registerVerifier(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Stake int64 `json:"stake"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	v, err := h.app.Verifiers.RegisterVerifier(r.Context(), caller(r), payload.Stake)
	respond(w, http.StatusCreated, v, err)
}

func (h *handler) getVerifier(w http.ResponseWriter, r *http.Request) {
	v, err := h.app.Verifiers.GetVerifier(r.Context(), pathVar(r, "addr"))
	respond(w, http.StatusOK, v, err)
}

func (h *handler) votingPower(w http.ResponseWriter, r *http.Request) {
	addr := pathVar(r, "addr")
	power, err := h.app.Verifiers.VotingPower(r.Context(), addr)
	respond(w, http.StatusOK, map[string]any{"verifier": addr, "voting_power": power}, err)
}

func (h *handler) addStake(w http.ResponseWriter, r *http.Request) {
	var payload amountPayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	v, err := h.app.Verifiers.AddStake(r.Context(), caller(r), pathVar(r, "addr"), payload.Amount)
	respond(w, http.StatusOK, v, err)
}

func (h *handler) withdrawStake(w http.ResponseWriter, r *http.Request) {
	var payload amountPayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	v, err := h.app.Verifiers.WithdrawStake(r.Context(), caller(r), payload.Amount)
	respond(w, http.StatusOK, v, err)
}

func (h *handler) slashVerifier(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Capability string `json:"capability"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	v, err := h.app.Verifiers.Slash(r.Context(), caller(r), payload.Capability, pathVar(r, "addr"))
	respond(w, http.StatusOK, v, err)
}

func (h *handler) balance(w http.ResponseWriter, r *http.Request) {
	b, err := h.app.Verifiers.Balance(r.Context(), pathVar(r, "addr"))
	respond(w, http.StatusOK, b, err)
}

func (h *handler) treasury(w http.ResponseWriter, r *http.Request) {
	t, err := h.app.Verifiers.Treasury(r.Context())
	respond(w, http.StatusOK, t, err)
}

func (h *handler) createTask(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ContentID string `json:"content_id"`
		Payment   int64  `json:"payment"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	task, err := h.app.Verifiers.CreateTask(r.Context(), caller(r), payload.ContentID, payload.Payment)
	respond(w, http.StatusCreated, task, err)
}

func (h *handler) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.app.Verifiers.GetTask(r.Context(), pathVar(r, "id"))
	respond(w, http.StatusOK, task, err)
}

// castVote votes as the caller unless a verifier address is named, in which
// case the service rejects a mismatch.
func (h *handler) castVote(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Verifier string `json:"verifier"`
		Approve  bool   `json:"approve"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	sender := caller(r)
	addr := payload.Verifier
	if addr == "" {
		addr = sender
	}
	task, err := h.app.Verifiers.CastVote(r.Context(), sender, pathVar(r, "id"), addr, payload.Approve)
	respond(w, http.StatusOK, task, err)
}

func (h *handler) finalizeTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.app.Verifiers.FinalizeTask(r.Context(), caller(r), pathVar(r, "id"))
	respond(w, http.StatusOK, task, err)
}

func (h *handler) claimReward(w http.ResponseWriter, r *http.Request) {
	res, err := h.app.Verifiers.ClaimReward(r.Context(), caller(r), pathVar(r, "id"))
	respond(w, http.StatusOK, res, err)
}
