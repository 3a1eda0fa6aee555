package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"erp-pricing-api/internal/model"
	"erp-pricing-api/internal/service"
	"erp-pricing-api/pkg/apierror"
	"erp-pricing-api/pkg/response"
)

// OperationHandler serves the bulk operation monitor.
type OperationHandler struct {
	monitor *service.MonitorService
	commits *service.CommitService
}

// NewOperationHandler creates a new operation handler.
func NewOperationHandler(monitor *service.MonitorService, commits *service.CommitService) *OperationHandler {
	return &OperationHandler{monitor: monitor, commits: commits}
}

// List handles GET /api/v1/operations?session_id=&status=
func (h *OperationHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := model.OperationStatus(strings.ToUpper(strings.TrimSpace(q.Get("status"))))
	if status != "" && !isOperationStatus(status) {
		response.Error(w, apierror.ValidationError("unknown operation status",
			apierror.FieldError{Field: "status", Message: "must be one of PENDING, IN_PROGRESS, COMPLETED, FAILED, CANCELLED"}))
		return
	}

	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 50)
	views, total, err := h.monitor.ListOperations(r.Context(), q.Get("session_id"), status, page, limit)
	if err != nil {
		response.Error(w, apiError(r, err))
		return
	}
	response.JSONWithMeta(w, http.StatusOK, views, page, limit, total)
}

// Summary handles GET /api/v1/operations/summary
func (h *OperationHandler) Summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.monitor.Summary(r.Context())
	if err != nil {
		response.Error(w, apiError(r, err))
		return
	}
	response.OK(w, sum)
}

// Get handles GET /api/v1/operations/{operation_id}
func (h *OperationHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.monitor.GetOperation(r.Context(), chi.URLParam(r, "operation_id"))
	if err != nil {
		response.Error(w, apiError(r, err))
		return
	}
	response.OK(w, v)
}

// Cancel handles POST /api/v1/operations/{operation_id}/cancel
func (h *OperationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	op, err := h.commits.CancelOperation(r.Context(), chi.URLParam(r, "operation_id"))
	if err != nil {
		response.Error(w, apiError(r, err))
		return
	}
	response.OK(w, service.View(*op))
}

// Retry handles POST /api/v1/operations/{operation_id}/retry
func (h *OperationHandler) Retry(w http.ResponseWriter, r *http.Request) {
	op, err := h.commits.RetryOperation(r.Context(), chi.URLParam(r, "operation_id"), actor(r))
	if err != nil {
		response.Error(w, apiError(r, err))
		return
	}
	w.Header().Set("Location", "/api/v1/operations/"+op.ID)
	response.Accepted(w, service.View(*op))
}

func isOperationStatus(s model.OperationStatus) bool {
	for _, st := range model.AllOperationStatuses {
		if st == s {
			return true
		}
	}
	return false
}
