package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"pi_guard/internal/compliance"
	"pi_guard/internal/config"
	"pi_guard/internal/contract"
	"pi_guard/internal/domain"
	"pi_guard/internal/repository"
	"pi_guard/pkg/crypto"
	"pi_guard/pkg/validator"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

const maxGenesisBytes = 1 << 20

type APIHandler struct {
	contract       *contract.Contract
	signer         *crypto.Signer
	auth           *GovernanceAuth
	broadcaster    *Broadcaster
	logger         *slog.Logger
	requestTimeout time.Duration
}

func NewAPIHandler(
	c *contract.Contract,
	signer *crypto.Signer,
	auth *GovernanceAuth,
	broadcaster *Broadcaster,
	logger *slog.Logger,
) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &APIHandler{
		contract:       c,
		signer:         signer,
		auth:           auth,
		broadcaster:    broadcaster,
		logger:         logger,
		requestTimeout: 30 * time.Second,
	}
}

type FilterTransactionRequest struct {
	ID          string          `json:"id,omitempty"`
	Sender      string          `json:"sender"`
	Receiver    string          `json:"receiver"`
	Amount      decimal.Decimal `json:"amount"`
	Quantity    int64           `json:"quantity,omitempty"`
	Source      string          `json:"source"`
	SourceProof string          `json:"source_proof,omitempty"`
	Metadata    string          `json:"metadata,omitempty"`
	Signature   string          `json:"signature,omitempty"`
}

func (req FilterTransactionRequest) transaction() *domain.Transaction {
	tx := domain.NewTransaction(req.Sender, req.Receiver, req.Amount).
		WithSource(req.Source).
		WithMetadata(req.Metadata).
		WithQuantity(req.Quantity).
		WithProof(req.SourceProof)
	if req.ID != "" {
		tx.ID = req.ID
	}
	return tx
}

type UnfreezeRequest struct {
	Note string `json:"note"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (h *APIHandler) FilterTransactionHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	var req FilterTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	tx := req.transaction()
	if req.Signature != "" && h.signer != nil {
		if valid, err := h.signer.VerifyTransaction(tx, req.Signature); !valid || err != nil {
			h.sendError(w, "Invalid signature", http.StatusUnauthorized, "INVALID_SIGNATURE")
			return
		}
	}

	decision, err := h.contract.FilterTransaction(ctx, tx)
	if err != nil {
		if decision.TransactionID != "" {
			h.logger.Error("Transaction rejected without commit",
				slog.String("transaction_id", tx.ID),
				slog.String("error", err.Error()))
			h.sendJSON(w, decision, http.StatusInternalServerError)
			return
		}
		h.sendContractError(w, err)
		return
	}

	h.sendJSON(w, decision, http.StatusOK)
}

func (h *APIHandler) RunEcosystemHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	var reqs []FilterTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	txs := make([]*domain.Transaction, 0, len(reqs))
	for _, req := range reqs {
		txs = append(txs, req.transaction())
	}

	report, err := h.contract.RunFullEcosystem(ctx, txs)
	if err != nil {
		h.sendContractError(w, err)
		return
	}
	h.sendJSON(w, report, http.StatusOK)
}

func (h *APIHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	status, err := h.contract.GetEcosystemStatus(ctx)
	if err != nil {
		h.sendContractError(w, err)
		return
	}
	h.sendJSON(w, status, http.StatusOK)
}

func (h *APIHandler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	account, err := h.contract.GetAccount(ctx, mux.Vars(r)["id"])
	if err != nil {
		h.sendContractError(w, err)
		return
	}
	h.sendJSON(w, account, http.StatusOK)
}

func (h *APIHandler) ListReturnsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	returns, err := h.contract.ListFundReturns(ctx)
	if err != nil {
		h.sendContractError(w, err)
		return
	}
	h.sendJSON(w, returns, http.StatusOK)
}

func (h *APIHandler) GetGenesisHandler(w http.ResponseWriter, r *http.Request) {
	genesis, err := h.contract.Genesis()
	if err != nil {
		h.sendContractError(w, err)
		return
	}
	h.sendJSON(w, genesis, http.StatusOK)
}

// InitGenesisHandler installs the genesis. Fields missing from the body keep their defaults,
// fields present replace them.
func (h *APIHandler) InitGenesisHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxGenesisBytes))
	if err != nil {
		h.sendError(w, "Failed to read genesis document", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}
	genesis, err := config.ParseGenesis(body)
	if err != nil {
		h.sendError(w, "Invalid genesis document", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	if err := h.contract.Init(ctx, genesis); err != nil {
		h.sendContractError(w, err)
		return
	}

	h.logger.Info("Genesis installed", slog.String("operator", operatorFrom(r.Context())))
	installed, _ := h.contract.Genesis()
	h.sendJSON(w, installed, http.StatusCreated)
}

func (h *APIHandler) UnfreezeHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	var req UnfreezeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.sendError(w, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
			return
		}
	}

	account, err := h.contract.Unfreeze(ctx, mux.Vars(r)["id"], operatorFrom(r.Context()), req.Note)
	if err != nil {
		h.sendContractError(w, err)
		return
	}
	h.sendJSON(w, account, http.StatusOK)
}

func (h *APIHandler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":      "healthy",
		"initialized": h.contract.Initialized(),
		"timestamp":   time.Now().UTC(),
		"version":     "1.0.0",
	}
	h.sendJSON(w, response, http.StatusOK)
}

func (h *APIHandler) sendContractError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, contract.ErrUninitializedContract):
		h.sendError(w, err.Error(), http.StatusServiceUnavailable, "UNINITIALIZED")
	case errors.Is(err, contract.ErrAlreadyInitialized):
		h.sendError(w, err.Error(), http.StatusConflict, "ALREADY_INITIALIZED")
	case errors.Is(err, contract.ErrDuplicateTransaction):
		h.sendError(w, err.Error(), http.StatusConflict, "DUPLICATE")
	case errors.Is(err, validator.ErrInvalidTransaction), errors.Is(err, compliance.ErrInvalidGenesis):
		h.sendError(w, err.Error(), http.StatusBadRequest, "VALIDATION_ERROR")
	case errors.Is(err, repository.ErrNotFound):
		h.sendError(w, "Not found", http.StatusNotFound, "NOT_FOUND")
	case errors.Is(err, contract.ErrAccountNotRestricted):
		h.sendError(w, err.Error(), http.StatusConflict, "NOT_RESTRICTED")
	case errors.Is(err, contract.ErrUnauthorized):
		h.sendError(w, err.Error(), http.StatusForbidden, "FORBIDDEN")
	default:
		h.logger.Error("Request failed", slog.String("error", err.Error()))
		h.sendError(w, "Internal error", http.StatusInternalServerError, "SERVER_ERROR")
	}
}

func (h *APIHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", slog.String("error", err.Error()))
	}
}

func (h *APIHandler) sendError(w http.ResponseWriter, message string, statusCode int, code string) {
	writeError(w, message, statusCode, code)

	h.logger.Warn("API error response",
		slog.String("message", message),
		slog.String("code", code),
		slog.Int("status", statusCode))
}

func writeError(w http.ResponseWriter, message string, statusCode int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: code})
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (h *APIHandler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestID)

	r.HandleFunc("/api/health", h.HealthCheckHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/transactions/filter", h.FilterTransactionHandler).Methods(http.MethodPost)
	v1.HandleFunc("/ecosystem/run", h.RunEcosystemHandler).Methods(http.MethodPost)
	v1.HandleFunc("/status", h.StatusHandler).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id}", h.GetAccountHandler).Methods(http.MethodGet)
	v1.HandleFunc("/returns", h.ListReturnsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/genesis", h.GetGenesisHandler).Methods(http.MethodGet)

	if h.auth != nil {
		gov := v1.NewRoute().Subrouter()
		gov.Use(h.auth.Middleware)
		gov.HandleFunc("/genesis", h.InitGenesisHandler).Methods(http.MethodPost)
		gov.HandleFunc("/governance/accounts/{id}/unfreeze", h.UnfreezeHandler).Methods(http.MethodPost)
	}

	if h.broadcaster != nil {
		r.HandleFunc("/ws/events", h.broadcaster.Handler())
	}

	return r
}
