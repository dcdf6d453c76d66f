// Package handlers provides HTTP handlers for the validation API.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/validrx/validrx/internal/api/middleware"
	"github.com/validrx/validrx/internal/clinicalcheck"
	"github.com/validrx/validrx/internal/domain/clinical"
	"github.com/validrx/validrx/internal/engine"
	"github.com/validrx/validrx/internal/fhir/mapper"
	fhir "github.com/validrx/validrx/internal/fhir/r5"
)

const maxBodyBytes = 1 << 20

// Checker runs clinical checks
type Checker interface {
	Check(ctx context.Context, req clinicalcheck.Request, transport string) (*clinicalcheck.Response, error)
	CheckItems(ctx context.Context, patient clinical.Patient, items []clinical.PrescriptionItem, transport string) ([]engine.ItemResult, error)
}

// ClinicalCheckHandler handles clinical check endpoints
type ClinicalCheckHandler struct {
	checker Checker
	logger  *zap.Logger
}

// NewClinicalCheckHandler creates a new handler
func NewClinicalCheckHandler(checker Checker, logger *zap.Logger) *ClinicalCheckHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClinicalCheckHandler{checker: checker, logger: logger}
}

// Routes returns the handler routes
func (h *ClinicalCheckHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Check)
	r.Post("/fhir", h.CheckFHIR)
	return r
}

// Check handles POST /clinical-check
func (h *ClinicalCheckHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := otel.Tracer("clinical-check-handler").Start(ctx, "clinical_check_request")
	defer span.End()

	var req clinicalcheck.Request
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.RequestID == "" {
		req.RequestID = requestIDFrom(ctx)
	}
	span.SetAttributes(attribute.String("request_id", req.RequestID))

	resp, err := h.checker.Check(ctx, req, clinicalcheck.TransportHTTP)
	if err != nil {
		h.checkError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// FHIRCheckRequest carries FHIR MedicationRequests instead of plain items
type FHIRCheckRequest struct {
	RequestID          string                     `json:"request_id,omitempty"`
	Patient            clinicalcheck.PatientInput `json:"patient"`
	MedicationRequests []fhir.MedicationRequest   `json:"medication_requests"`
}

// CheckFHIR handles POST /clinical-check/fhir.
// Mapping errors are answered with a FHIR OperationOutcome.
func (h *ClinicalCheckHandler) CheckFHIR(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := otel.Tracer("clinical-check-handler").Start(ctx, "clinical_check_fhir_request")
	defer span.End()

	var req FHIRCheckRequest
	if err := decodeFHIR(w, r, &req); err != nil {
		writeOutcome(w, http.StatusBadRequest, fhir.NewErrorOutcome(fhir.IssueInvalid, "invalid request body: "+err.Error()))
		return
	}
	if req.RequestID == "" {
		req.RequestID = requestIDFrom(ctx)
	}
	span.SetAttributes(
		attribute.String("request_id", req.RequestID),
		attribute.Int("medication_requests", len(req.MedicationRequests)),
	)

	patient, err := req.Patient.Build()
	if err != nil {
		writeOutcome(w, http.StatusBadRequest, fhir.NewErrorOutcome(fhir.IssueInvalid, err.Error(), "patient"))
		return
	}

	items := make([]clinical.PrescriptionItem, 0, len(req.MedicationRequests))
	for i := range req.MedicationRequests {
		item, err := mapper.ToPrescriptionItem(&req.MedicationRequests[i])
		if err != nil {
			writeOutcome(w, http.StatusBadRequest, mapper.OutcomeFor(err, i))
			return
		}
		items = append(items, item)
	}

	results, err := h.checker.CheckItems(ctx, patient, items, clinicalcheck.TransportFHIR)
	if err != nil {
		switch {
		case errors.Is(err, clinical.ErrInvalidInput):
			writeOutcome(w, http.StatusBadRequest, fhir.NewErrorOutcome(fhir.IssueInvalid, err.Error()))
		case errors.Is(err, clinicalcheck.ErrUnavailable):
			writeOutcome(w, http.StatusServiceUnavailable, fhir.NewErrorOutcome(fhir.IssueTransient, "catalog unavailable"))
		default:
			h.logger.Error("fhir clinical check failed", zap.Error(err), zap.String("request_id", req.RequestID))
			writeOutcome(w, http.StatusInternalServerError, fhir.NewErrorOutcome(fhir.IssueException, "clinical check failed"))
		}
		return
	}

	writeJSON(w, http.StatusOK, clinicalcheck.Response{RequestID: req.RequestID, Results: results})
}

func (h *ClinicalCheckHandler) checkError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, clinical.ErrInvalidInput):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, clinicalcheck.ErrUnavailable):
		w.Header().Set("Retry-After", "5")
		jsonError(w, "catalog unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		jsonError(w, "clinical check timed out", http.StatusGatewayTimeout)
	default:
		h.logger.Error("clinical check failed",
			zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(r.Context())))
		jsonError(w, "clinical check failed", http.StatusInternalServerError)
	}
}

func requestIDFrom(ctx context.Context) string {
	if id := middleware.GetRequestID(ctx); id != "" {
		return id
	}
	return uuid.New().String()
}
