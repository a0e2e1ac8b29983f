// Package api is the HTTP boundary: request decoding, error-kind
// translation and the uniform {ok:...} response shape.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tesseranet/tessera/internal/domain"
	"github.com/tesseranet/tessera/internal/ledger"
	"github.com/tesseranet/tessera/internal/token"
	"github.com/tesseranet/tessera/internal/ws"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tessera_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tessera_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tessera_transfers_total",
		Help: "Transfer attempts by outcome",
	}, []string{"outcome"})
)

type Handler struct {
	engine    *ledger.Engine
	tokens    *token.Store
	hub       *ws.Hub
	work      ledger.WorkSource
	auth      ws.Authenticator
	publicURL string
	logger    *slog.Logger
}

func NewHandler(engine *ledger.Engine, tokens *token.Store, hub *ws.Hub, work ledger.WorkSource, auth ws.Authenticator, publicURL string, logger *slog.Logger) *Handler {
	return &Handler{
		engine:    engine,
		tokens:    tokens,
		hub:       hub,
		work:      work,
		auth:      auth,
		publicURL: publicURL,
		logger:    logger,
	}
}

// Register wires the handler's routes onto r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/work", h.GetWork).Methods("GET")
	r.HandleFunc("/ws/start", h.StartSession).Methods("POST")
	r.HandleFunc("/ws/gateway/{token}", h.Gateway).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/accounts/{address}", h.GetAccount).Methods("GET")
	apiV1.HandleFunc("/transfers", h.CreateTransfer).Methods("POST")
	apiV1.HandleFunc("/names", h.RegisterName).Methods("POST")
	apiV1.HandleFunc("/names/{name}", h.GetName).Methods("GET")
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

func (h *Handler) GetWork(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"work": h.work.Work(r.Context()),
	}, "GET", "/work")
}

type startSessionRequest struct {
	PrivateKey string `json:"privatekey"`
}

// StartSession issues a single-use gateway token. With a privatekey the
// session is bound to the derived address; without one it is a guest.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/ws/start")
			return
		}
	}

	address, secret := "", ""
	if req.PrivateKey != "" {
		address = domain.AddressFromSecret(req.PrivateKey)
		if !h.auth.Authenticate(address, req.PrivateKey) {
			h.respondKind(w, domain.Err(domain.KindAuthFailed), "POST", "/ws/start")
			return
		}
		secret = req.PrivateKey
	}

	tok := h.tokens.Issue(address, secret)
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"url":     fmt.Sprintf("%s/ws/gateway/%s", h.publicURL, tok),
		"expires": int(h.tokens.TTL().Seconds()),
	}, "POST", "/ws/start")
}

func (h *Handler) Gateway(w http.ResponseWriter, r *http.Request) {
	h.hub.HandleGateway(w, r, mux.Vars(r)["token"])
}

type transferRequest struct {
	PrivateKey string `json:"privatekey"`
	To         string `json:"to"`
	Amount     int64  `json:"amount"`
	Metadata   string `json:"metadata"`
}

func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/transfers"))
	defer timer.ObserveDuration()

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/transfers")
		return
	}
	if req.PrivateKey == "" {
		h.respondKind(w, domain.Err(domain.KindAuthFailed), "POST", "/transfers")
		return
	}
	if req.Amount <= 0 {
		respondError(w, http.StatusUnprocessableEntity, "Positive amount required", "POST", "/transfers")
		return
	}
	if req.To == "" {
		respondError(w, http.StatusUnprocessableEntity, "Recipient required", "POST", "/transfers")
		return
	}
	from := domain.AddressFromSecret(req.PrivateKey)
	if from == req.To {
		respondError(w, http.StatusUnprocessableEntity, "Self-transfer not allowed", "POST", "/transfers")
		return
	}

	tx, err := h.engine.Transfer(r.Context(), from, req.To, req.Amount, req.Metadata)
	if err != nil {
		transfersTotal.WithLabelValues(string(domain.KindOf(err))).Inc()
		h.respondKind(w, err, "POST", "/transfers")
		return
	}

	transfersTotal.WithLabelValues("ok").Inc()
	w.Header().Set("Location", fmt.Sprintf("/api/v1/transfers/%d", tx.ID))
	respondJSON(w, http.StatusCreated, map[string]any{"ok": true, "transaction": tx}, "POST", "/transfers")
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	acc, err := h.engine.GetAccount(r.Context(), address)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Account not found", "GET", "/accounts/{address}")
			return
		}
		h.respondKind(w, err, "GET", "/accounts/{address}")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "account": acc}, "GET", "/accounts/{address}")
}

type registerNameRequest struct {
	PrivateKey string `json:"privatekey"`
	Name       string `json:"name"`
}

func (h *Handler) RegisterName(w http.ResponseWriter, r *http.Request) {
	var req registerNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/names")
		return
	}
	if req.PrivateKey == "" {
		h.respondKind(w, domain.Err(domain.KindAuthFailed), "POST", "/names")
		return
	}
	if !ledger.ValidName(req.Name) {
		respondError(w, http.StatusUnprocessableEntity, "Invalid name", "POST", "/names")
		return
	}

	owner := domain.AddressFromSecret(req.PrivateKey)
	rec, err := h.engine.PurchaseName(r.Context(), req.Name, owner)
	if err != nil {
		h.respondKind(w, err, "POST", "/names")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"ok": true, "name": rec}, "POST", "/names")
}

func (h *Handler) GetName(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.GetName(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Name not found", "GET", "/names/{name}")
			return
		}
		h.respondKind(w, err, "GET", "/names/{name}")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "name": rec}, "GET", "/names/{name}")
}

// respondKind translates a domain error into the uniform error body. An
// unrecognized failure is logged in full and surfaced only as server_error.
func (h *Handler) respondKind(w http.ResponseWriter, err error, method, endpoint string) {
	kind := domain.KindOf(err)
	if kind == domain.KindServerError {
		h.logger.Error("request failed", "method", method, "endpoint", endpoint, "err", err)
	}
	respondJSON(w, statusFor(kind), map[string]any{"ok": false, "error": string(kind)}, method, endpoint)
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindAuthFailed:
		return http.StatusUnauthorized
	case domain.KindTokenNotFound:
		return http.StatusNotFound
	case domain.KindTokenExpired:
		return http.StatusGone
	case domain.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case domain.KindNameTaken:
		return http.StatusConflict
	case domain.KindUnknownCategory, domain.KindNotAuthenticated, domain.KindAlreadyAuthenticated:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondError(w http.ResponseWriter, code int, message, method, endpoint string) {
	respondJSON(w, code, map[string]any{"ok": false, "error": message}, method, endpoint)
}

func respondJSON(w http.ResponseWriter, code int, payload any, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
