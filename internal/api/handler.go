package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/shrike/internal/cases"
	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/repository"
	"github.com/opensource-finance/shrike/internal/rules"
	"github.com/opensource-finance/shrike/internal/screening"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	store     *rules.Store
	screening *screening.Service
	cases     *cases.Manager
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, store *rules.Store, svc *screening.Service, caseManager *cases.Manager, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		store:     store,
		screening: svc,
		cases:     caseManager,
		version:   version,
	}
}

// TransactionRequest is the request body for POST /transactions.
type TransactionRequest struct {
	ID                 string  `json:"id,omitempty"`
	Type               string  `json:"type"`
	Amount             float64 `json:"amount"`
	Currency           string  `json:"currency"`
	FinalCurrency      string  `json:"finalCurrency,omitempty"`
	UserID             string  `json:"userId"`
	CounterpartyUserID string  `json:"counterpartyUserId,omitempty"`
	PaymentMethod      string  `json:"paymentMethod,omitempty"`
	IP                 string  `json:"ip,omitempty"`
	Status             string  `json:"status,omitempty"`
}

// IngestTransaction handles POST /transactions. It stores the transaction
// and publishes an ingestion event; screening happens synchronously via
// POST /transactions/{id}/screen or asynchronously via the worker.
func (h *Handler) IngestTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Type == "" || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "type and userId are required",
		})
		return
	}
	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must be positive",
		})
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Status == "" {
		req.Status = domain.TxStatusCompleted
	}

	tx := &domain.Transaction{
		ID:                 req.ID,
		Type:               req.Type,
		Amount:             req.Amount,
		Currency:           req.Currency,
		FinalCurrency:      req.FinalCurrency,
		UserID:             req.UserID,
		CounterpartyUserID: req.CounterpartyUserID,
		PaymentMethod:      req.PaymentMethod,
		IP:                 req.IP,
		Status:             req.Status,
		CreatedAt:          time.Now().UTC(),
	}

	if err := h.repo.SaveTransaction(ctx, tx); err != nil {
		slog.Error("failed to save transaction", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save transaction",
		})
		return
	}

	if h.bus != nil {
		payload, _ := json.Marshal(map[string]string{"transactionId": tx.ID})
		if err := h.bus.Publish(ctx, domain.TopicTransactionIngested, payload); err != nil {
			slog.Warn("failed to publish ingestion event", "transaction_id", tx.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, tx)
}

// ScreenTransaction handles POST /transactions/{id}/screen.
func (h *Handler) ScreenTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	result, err := h.screening.OnTransaction(ctx, txID)
	if err != nil {
		switch {
		case errors.Is(err, screening.ErrAlreadyScreened):
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": "transaction already screened",
			})
		case errors.Is(err, repository.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "transaction not found",
			})
		default:
			slog.Error("screening failed", "transaction_id", txID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "screening failed",
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")

	tx, err := h.repo.GetTransaction(r.Context(), txID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// UserRequest is the request body for PUT /users.
type UserRequest struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Country  string `json:"country,omitempty"`
	Business bool   `json:"business"`
	KYCName  string `json:"kycName,omitempty"`
}

// UpsertUser handles PUT /users, the identity collaborator stand-in.
func (h *Handler) UpsertUser(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.ID == "" || req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id and email are required",
		})
		return
	}

	u := &domain.User{
		ID:        req.ID,
		Email:     req.Email,
		Country:   req.Country,
		Business:  req.Business,
		KYCName:   req.KYCName,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.repo.SaveUser(r.Context(), u); err != nil {
		slog.Error("failed to save user", "user_id", req.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save user",
		})
		return
	}

	writeJSON(w, http.StatusOK, u)
}

// ListRules returns rules, optionally filtered to enabled ones.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "true"

	list, err := h.store.List(r.Context(), enabledOnly)
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": list,
		"count": len(list),
	})
}

// CreateRule handles POST /rules.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var in rules.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	rule, err := h.store.Create(r.Context(), in)
	if err != nil {
		if errors.Is(err, rules.ErrInvalidDefinition) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("failed to create rule", "code", in.Code, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to create rule",
		})
		return
	}

	writeJSON(w, http.StatusCreated, rule)
}

// GetRule retrieves a rule by id or code.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	idOrCode := chi.URLParam(r, "id")

	rule, err := h.store.Get(r.Context(), idOrCode)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// UpdateRule handles PUT /rules/{id}.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	idOrCode := chi.URLParam(r, "id")

	var in rules.UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	rule, err := h.store.Update(r.Context(), idOrCode, in)
	if err != nil {
		switch {
		case errors.Is(err, rules.ErrInvalidDefinition):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, repository.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "rule not found"})
		default:
			slog.Error("failed to update rule", "rule", idOrCode, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to update rule",
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// ToggleRule handles POST /rules/{id}/enable and /disable.
func (h *Handler) ToggleRule(enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idOrCode := chi.URLParam(r, "id")

		var (
			rule *domain.Rule
			err  error
		)
		if enable {
			rule, err = h.store.Enable(r.Context(), idOrCode)
		} else {
			rule, err = h.store.Disable(r.Context(), idOrCode)
		}
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "rule not found"})
				return
			}
			slog.Error("failed to toggle rule", "rule", idOrCode, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to toggle rule",
			})
			return
		}

		writeJSON(w, http.StatusOK, rule)
	}
}

// ArchiveRule handles POST /rules/{id}/archive.
func (h *Handler) ArchiveRule(w http.ResponseWriter, r *http.Request) {
	idOrCode := chi.URLParam(r, "id")

	rule, err := h.store.Archive(r.Context(), idOrCode)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "rule not found"})
			return
		}
		slog.Error("failed to archive rule", "rule", idOrCode, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to archive rule",
		})
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// ListRuleVersions handles GET /rules/{id}/versions.
func (h *Handler) ListRuleVersions(w http.ResponseWriter, r *http.Request) {
	idOrCode := chi.URLParam(r, "id")

	versions, err := h.store.Versions(r.Context(), idOrCode)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "rule not found"})
			return
		}
		slog.Error("failed to list rule versions", "rule", idOrCode, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rule versions",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"versions": versions,
		"count":    len(versions),
	})
}

// GetCase retrieves a case with its timeline and hit rules.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "id")

	detail, err := h.cases.Get(r.Context(), caseID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "case not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

// CaseLogRequest is the request body for POST /cases/{id}/logs.
type CaseLogRequest struct {
	Action string `json:"action"`
	Note   string `json:"note,omitempty"`
	Actor  string `json:"actor,omitempty"`
}

// AddCaseLog appends an entry to a case timeline.
func (h *Handler) AddCaseLog(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "id")

	var req CaseLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Action == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "action is required",
		})
		return
	}

	entry, err := h.cases.AddActionLog(r.Context(), caseID, req.Action, req.Note, req.Actor)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "case not found"})
			return
		}
		slog.Error("failed to add case log", "case_id", caseID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to add case log",
		})
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

// CaseStatusRequest is the request body for PUT /cases/{id}/status.
type CaseStatusRequest struct {
	Status domain.CaseStatus `json:"status"`
}

// SetCaseStatus moves a case between OPEN and UNDER_REVIEW.
func (h *Handler) SetCaseStatus(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "id")

	var req CaseStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	c, err := h.cases.SetStatus(r.Context(), caseID, req.Status)
	if err != nil {
		writeCaseError(w, caseID, err)
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// CaseResolveRequest is the request body for POST /cases/{id}/resolve.
type CaseResolveRequest struct {
	Action domain.Action `json:"action"`
	Reason string        `json:"reason,omitempty"`
	Actor  string        `json:"actor,omitempty"`
}

// ResolveCase closes a case with a resolution action.
func (h *Handler) ResolveCase(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "id")

	var req CaseResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	c, err := h.cases.Resolve(r.Context(), caseID, req.Action, req.Reason, req.Actor)
	if err != nil {
		writeCaseError(w, caseID, err)
		return
	}

	writeJSON(w, http.StatusOK, c)
}

func writeCaseError(w http.ResponseWriter, caseID string, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "case not found"})
	case errors.Is(err, cases.ErrCaseResolved):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "case is resolved"})
	case errors.Is(err, cases.ErrInvalidStatus):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		slog.Error("case operation failed", "case_id", caseID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "case operation failed",
		})
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
