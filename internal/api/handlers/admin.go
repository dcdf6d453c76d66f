package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/validrx/validrx/internal/api/middleware"
	"github.com/validrx/validrx/internal/domain/catalog"
	"github.com/validrx/validrx/internal/domain/clinical"
	"github.com/validrx/validrx/internal/observability/metrics"
	"github.com/validrx/validrx/pkg/idempotency"
)

// CatalogStore is the catalog persistence used by the admin API
type CatalogStore interface {
	ListDrugs(ctx context.Context) ([]clinical.Drug, error)
	GetDrug(ctx context.Context, id string) (clinical.Drug, error)
	UpsertDrug(ctx context.Context, d clinical.Drug) (bool, error)
	DeleteDrug(ctx context.Context, id string) error
	ListInteractions(ctx context.Context) ([]clinical.InteractionRule, error)
	AddInteraction(ctx context.Context, rule clinical.InteractionRule) (clinical.InteractionRule, error)
	DeleteInteraction(ctx context.Context, id int64) error
}

// Idempotency replays the stored response of a repeated Idempotency-Key
type Idempotency interface {
	Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error)
}

// AdminHandler handles catalog administration endpoints
type AdminHandler struct {
	store   CatalogStore
	inbox   Idempotency
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewAdminHandler creates a new handler. inbox and m may be nil.
func NewAdminHandler(store CatalogStore, inbox Idempotency, m *metrics.Metrics, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{store: store, inbox: inbox, metrics: m, logger: logger}
}

// Routes returns the handler routes
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/drugs", h.ListDrugs)
	r.Post("/drugs", h.CreateDrug)
	r.Get("/drugs/{id}", h.GetDrug)
	r.Put("/drugs/{id}", h.ReplaceDrug)
	r.Delete("/drugs/{id}", h.DeleteDrug)
	r.Get("/interactions", h.ListInteractions)
	r.Post("/interactions", h.CreateInteraction)
	r.Delete("/interactions/{id}", h.DeleteInteraction)
	return r
}

// storedResponse is what the inbox keeps for a completed write
type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// writeOp performs one catalog write and returns the status and body to send
type writeOp func(ctx context.Context, body []byte) (int, interface{}, error)

// ListDrugs handles GET /admin/drugs
func (h *AdminHandler) ListDrugs(w http.ResponseWriter, r *http.Request) {
	drugs, err := h.store.ListDrugs(r.Context())
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, drugs)
}

// GetDrug handles GET /admin/drugs/{id}
func (h *AdminHandler) GetDrug(w http.ResponseWriter, r *http.Request) {
	d, err := h.store.GetDrug(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// CreateDrug handles POST /admin/drugs. An existing drug with the same id is replaced.
func (h *AdminHandler) CreateDrug(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, "upsert_drug", func(ctx context.Context, body []byte) (int, interface{}, error) {
		var d clinical.Drug
		if err := json.Unmarshal(body, &d); err != nil {
			return 0, nil, badBody(err)
		}
		return h.upsertDrug(ctx, d)
	})
}

// ReplaceDrug handles PUT /admin/drugs/{id}
func (h *AdminHandler) ReplaceDrug(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.write(w, r, "upsert_drug", func(ctx context.Context, body []byte) (int, interface{}, error) {
		var d clinical.Drug
		if err := json.Unmarshal(body, &d); err != nil {
			return 0, nil, badBody(err)
		}
		if d.ID == "" {
			d.ID = id
		}
		if d.ID != id {
			return 0, nil, badBody(errors.New("drug id does not match the path"))
		}
		return h.upsertDrug(ctx, d)
	})
}

// upsertDrug answers 201 for a new drug and 200 for a replaced one
func (h *AdminHandler) upsertDrug(ctx context.Context, d clinical.Drug) (int, interface{}, error) {
	replaced, err := h.store.UpsertDrug(ctx, d)
	if err != nil {
		return 0, nil, err
	}
	if catalog.MissingCardiacArrestGuard(d) {
		h.logger.Warn("adrenaline drug permits IV without a cardiac arrest condition",
			zap.String("drug_id", d.ID),
			zap.String("route", catalog.RouteIntravenous))
	}
	if replaced {
		return http.StatusOK, d, nil
	}
	return http.StatusCreated, d, nil
}

// DeleteDrug handles DELETE /admin/drugs/{id}
func (h *AdminHandler) DeleteDrug(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.write(w, r, "delete_drug", func(ctx context.Context, _ []byte) (int, interface{}, error) {
		if err := h.store.DeleteDrug(ctx, id); err != nil {
			return 0, nil, err
		}
		return http.StatusNoContent, nil, nil
	})
}

// ListInteractions handles GET /admin/interactions
func (h *AdminHandler) ListInteractions(w http.ResponseWriter, r *http.Request) {
	rules, err := h.store.ListInteractions(r.Context())
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

// CreateInteraction handles POST /admin/interactions
func (h *AdminHandler) CreateInteraction(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, "add_interaction", func(ctx context.Context, body []byte) (int, interface{}, error) {
		var rule clinical.InteractionRule
		if err := json.Unmarshal(body, &rule); err != nil {
			return 0, nil, badBody(err)
		}
		rule.ID = 0
		saved, err := h.store.AddInteraction(ctx, rule)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, saved, nil
	})
}

// DeleteInteraction handles DELETE /admin/interactions/{id}
func (h *AdminHandler) DeleteInteraction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		jsonError(w, "interaction id must be a positive integer", http.StatusBadRequest)
		return
	}
	h.write(w, r, "delete_interaction", func(ctx context.Context, _ []byte) (int, interface{}, error) {
		if err := h.store.DeleteInteraction(ctx, id); err != nil {
			return 0, nil, err
		}
		return http.StatusNoContent, nil, nil
	})
}

// write runs op, through the inbox when the client sent an Idempotency-Key
func (h *AdminHandler) write(w http.ResponseWriter, r *http.Request, operation string, op writeOp) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	requestKey := r.Header.Get("Idempotency-Key")
	if requestKey == "" || h.inbox == nil {
		status, out, err := op(r.Context(), body)
		if err != nil {
			h.storeError(w, r, err)
			return
		}
		h.countWrite(operation)
		h.respond(w, status, out)
		return
	}

	key := idempotency.GenerateKey(middleware.GetClientID(r.Context()), r.Method, r.URL.Path, requestKey)
	payload := body
	if !json.Valid(payload) {
		payload = nil
	}

	res, err := h.inbox.Process(r.Context(), key, operation, payload, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		status, out, err := op(ctx, body)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(out)
		if err != nil {
			return nil, err
		}
		return json.Marshal(storedResponse{Status: status, Body: encoded})
	})
	if err != nil {
		switch {
		case errors.Is(err, idempotency.ErrMessageInProgress), errors.Is(err, idempotency.ErrDuplicateMessage):
			jsonError(w, "a request with this Idempotency-Key is in progress", http.StatusConflict)
		case errors.Is(err, idempotency.ErrPreviouslyFailed):
			jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			h.storeError(w, r, err)
		}
		return
	}

	var stored storedResponse
	if err := json.Unmarshal(res.Result, &stored); err != nil {
		h.logger.Error("corrupt idempotent response", zap.String("operation", operation), zap.Error(err))
		jsonError(w, "stored response unreadable", http.StatusInternalServerError)
		return
	}
	if res.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	} else {
		h.countWrite(operation)
	}
	h.respondRaw(w, stored.Status, stored.Body)
}

func (h *AdminHandler) respond(w http.ResponseWriter, status int, out interface{}) {
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, out)
}

func (h *AdminHandler) respondRaw(w http.ResponseWriter, status int, body json.RawMessage) {
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func (h *AdminHandler) countWrite(operation string) {
	if h.metrics != nil {
		h.metrics.CatalogWrites.WithLabelValues(operation).Inc()
	}
}

func (h *AdminHandler) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, clinical.ErrInvalidInput):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, catalog.ErrNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	default:
		h.logger.Error("catalog operation failed",
			zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(r.Context())))
		jsonError(w, "catalog operation failed", http.StatusInternalServerError)
	}
}

// badBody wraps a decode error as invalid input
func badBody(err error) error {
	return fmt.Errorf("%w: %v", clinical.ErrInvalidInput, err)
}
