// Package httpapi exposes the provenance layer over REST and a websocket
// event stream.
package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/provenance_layer/internal/app"
	"github.com/R3E-Network/provenance_layer/internal/app/metrics"
	apperrors "github.com/R3E-Network/provenance_layer/internal/errors"
	"github.com/R3E-Network/provenance_layer/internal/httputil"
	"github.com/R3E-Network/provenance_layer/internal/middleware"
	"github.com/R3E-Network/provenance_layer/pkg/logger"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app     *app.Application
	log     *logger.Logger
	started time.Time
}

// NewHandler returns the fully wrapped API handler: request logging,
// metrics, CORS, bearer authentication and per-caller rate limiting around
// the routes.
func NewHandler(application *app.Application, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log, started: time.Now()}
	cfg := application.Config.Server

	var routes http.Handler = h.routes()
	if cfg.RateLimit > 0 {
		routes = middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, log).Handler(routes)
	}
	routes = middleware.NewAuthMiddleware(application.Auth, log).Handler(routes)
	routes = middleware.NewCORSMiddleware(cfg.CORSOrigins).Handler(routes)
	routes = metrics.InstrumentHandler(routes)
	return middleware.LoggingMiddleware(log)(routes)
}

func (h *handler) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteError(w, apperrors.ErrNotFound.WithMessage("route not found"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, httputil.ErrorResponse{
			Code:    apperrors.CodeInvalidArgument,
			Class:   apperrors.ClassValidation,
			Message: "method not allowed",
		})
	})

	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/system/status", h.systemStatus).Methods(http.MethodGet)

	r.HandleFunc("/auth/challenge", h.authChallenge).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", h.authLogin).Methods(http.MethodPost)

	h.contentRoutes(r)
	h.verifierRoutes(r)
	h.oracleRoutes(r)
	h.accessRoutes(r)
	h.adminRoutes(r)
	h.eventRoutes(r)
	return r
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) authChallenge(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Address string `json:"address"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	ch, err := h.app.Auth.NewChallenge(payload.Address)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ch)
}

func (h *handler) authLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Address   string `json:"address"`
		Nonce     string `json:"nonce"`
		PublicKey string `json:"public_key"`
		Signature string `json:"signature"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	session, err := h.app.Auth.Login(payload.Address, payload.Nonce, payload.PublicKey, payload.Signature)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session)
}

// respond writes v, or the error when err is set.
func respond(w http.ResponseWriter, status int, v any, err error) {
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, status, v)
}

func caller(r *http.Request) string {
	return middleware.Identity(r.Context())
}

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

func parseDuration(field, raw string) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, apperrors.InvalidArgument(field, "must be a duration such as 15m")
	}
	return d, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperrors.InvalidArgument(name, "must be a non-negative integer")
	}
	return n, nil
}
